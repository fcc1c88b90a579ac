package runner_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridci/internal/runner"
	"gridci/internal/secrets"
	"gridci/internal/workflow"
)

func TestCheckoutCopiesSourceTree(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "pkg", "main.py"), []byte("print()"), 0o644))

	workdir := t.TempDir()
	action := &runner.CheckoutAction{SourceDir: src}
	var out bytes.Buffer
	err := action.Run(context.Background(), &runner.ActionContext{
		Workdir: workdir,
		Output:  &out,
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(workdir, "pkg", "main.py"))
}

func TestSetupRuntimeProbesVersion(t *testing.T) {
	bin := t.TempDir()
	script := filepath.Join(bin, "fakepython")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho 'Fake Python 3.8.10'\n"), 0o755))
	t.Setenv("PATH", bin+":"+os.Getenv("PATH"))

	action := &runner.SetupRuntimeAction{}

	var out bytes.Buffer
	err := action.Run(context.Background(), &runner.ActionContext{
		With:   map[string]string{"runtime": "fakepython", "version": "3.8"},
		Output: &out,
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "3.8.10")

	err = action.Run(context.Background(), &runner.ActionContext{
		With:   map[string]string{"runtime": "fakepython", "version": "3.12"},
		Output: &out,
	})
	require.Error(t, err)

	err = action.Run(context.Background(), &runner.ActionContext{
		With:   map[string]string{"runtime": "definitely-not-installed"},
		Output: &out,
	})
	require.Error(t, err)
}

func codecovWorkdir(t *testing.T) string {
	t.Helper()
	workdir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workdir, "coverage.xml"), []byte("<coverage/>"), 0o644))
	return workdir
}

func TestCodecovUpload(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.NotEmpty(t, r.FormValue("digest"))
		assert.Equal(t, "unittests", r.FormValue("flags"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	action := &runner.CodecovAction{Endpoint: srv.URL, Client: srv.Client()}
	var out bytes.Buffer
	err := action.Run(context.Background(), &runner.ActionContext{
		Workdir: codecovWorkdir(t),
		With:    map[string]string{"flags": "unittests"},
		Secrets: secrets.Static{"CODECOV_TOKEN": "tok-123"},
		Output:  &out,
	})
	require.NoError(t, err)
	assert.Equal(t, "token tok-123", gotAuth)
	assert.Contains(t, out.String(), "coverage uploaded")
}

func TestCodecovMissingTokenFailsWhenFlagged(t *testing.T) {
	action := &runner.CodecovAction{Endpoint: "http://127.0.0.1:0", Client: http.DefaultClient}
	var out bytes.Buffer
	err := action.Run(context.Background(), &runner.ActionContext{
		Workdir: codecovWorkdir(t),
		With:    map[string]string{"fail_ci_if_error": "true"},
		Secrets: secrets.Static{},
		Output:  &out,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CODECOV_TOKEN")
}

func TestCodecovFailureSwallowedByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	action := &runner.CodecovAction{Endpoint: srv.URL, Client: srv.Client()}
	var out bytes.Buffer
	ac := &runner.ActionContext{
		Workdir: codecovWorkdir(t),
		With:    map[string]string{},
		Secrets: secrets.Static{"CODECOV_TOKEN": "tok"},
		Output:  &out,
	}

	// Default: upload errors are reported in the output but do not fail
	// the step.
	require.NoError(t, action.Run(context.Background(), ac))
	assert.Contains(t, out.String(), "coverage upload failed")

	// fail_ci_if_error flips that.
	ac.With["fail_ci_if_error"] = "true"
	require.Error(t, action.Run(context.Background(), ac))
}

func TestExecutorRunStep(t *testing.T) {
	exec := runner.NewExecutor(runner.NewRegistry())

	out, err := exec.RunStep(context.Background(), workflow.Step{Run: "echo hello"}, runner.StepInput{
		Workdir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Contains(t, out, "hello")

	out, err = exec.RunStep(context.Background(), workflow.Step{Run: "echo \"$GREETING\""}, runner.StepInput{
		Workdir: t.TempDir(),
		Env:     map[string]string{"GREETING": "bonjour"},
	})
	require.NoError(t, err)
	assert.Contains(t, out, "bonjour")

	_, err = exec.RunStep(context.Background(), workflow.Step{Run: "exit 3"}, runner.StepInput{
		Workdir: t.TempDir(),
	})
	require.Error(t, err)
}
