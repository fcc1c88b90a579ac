package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"gridci/internal/secrets"
	"gridci/internal/workflow"
	"gridci/pkg/hashutil"
)

// ActionContext is what a built-in action gets to work with: the instance
// workspace, its resolved parameters, the secret store scoped to this one
// step, and a writer for its output.
type ActionContext struct {
	Workdir string
	With    map[string]string
	Env     map[string]string
	Secrets secrets.Store
	Event   workflow.Event
	Output  io.Writer
}

// Action is a built-in execution target referenced by a step's "uses".
type Action interface {
	Name() string
	Run(ctx context.Context, ac *ActionContext) error
}

// Registry maps action names to implementations.
type Registry struct {
	actions map[string]Action
}

// NewRegistry builds a registry over the given actions.
func NewRegistry(actions ...Action) *Registry {
	r := &Registry{actions: make(map[string]Action)}
	for _, a := range actions {
		r.Register(a)
	}
	return r
}

// Register adds or replaces an action.
func (r *Registry) Register(a Action) {
	r.actions[a.Name()] = a
}

// Get looks up an action by name.
func (r *Registry) Get(name string) (Action, bool) {
	a, ok := r.actions[name]
	return a, ok
}

// DefaultRegistry returns the built-in action set.
func DefaultRegistry(sourceDir string) *Registry {
	return NewRegistry(
		&CheckoutAction{SourceDir: sourceDir},
		&SetupRuntimeAction{},
		&CodecovAction{Client: http.DefaultClient},
	)
}

// CheckoutAction materializes the source tree into the instance workspace.
// With "repository" set it clones via git at the event's ref; otherwise it
// copies SourceDir.
type CheckoutAction struct {
	SourceDir string
}

func (a *CheckoutAction) Name() string { return "checkout" }

func (a *CheckoutAction) Run(ctx context.Context, ac *ActionContext) error {
	if repo := ac.With["repository"]; repo != "" {
		return a.clone(ctx, ac, repo)
	}
	src := a.SourceDir
	if src == "" {
		src = "."
	}
	if err := copyFS(ac.Workdir, os.DirFS(src)); err != nil {
		return fmt.Errorf("copy source tree: %w", err)
	}
	fmt.Fprintf(ac.Output, "checked out %s into %s\n", src, ac.Workdir)
	return nil
}

func (a *CheckoutAction) clone(ctx context.Context, ac *ActionContext, repo string) error {
	args := []string{"clone", "--depth", "1"}
	ref := ac.With["ref"]
	if ref == "" {
		ref = ac.Event.Ref
	}
	if ref == "" {
		ref = ac.Event.Branch
	}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, repo, ac.Workdir)

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Stdout = ac.Output
	cmd.Stderr = ac.Output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git clone: %w", err)
	}
	return nil
}

// SetupRuntimeAction asserts a runtime binary is available, optionally at a
// requested version. It only checks availability; provisioning belongs to
// the machine image.
type SetupRuntimeAction struct{}

func (a *SetupRuntimeAction) Name() string { return "setup-runtime" }

func (a *SetupRuntimeAction) Run(ctx context.Context, ac *ActionContext) error {
	runtime := ac.With["runtime"]
	if runtime == "" {
		runtime = "python3"
	}
	path, err := exec.LookPath(runtime)
	if err != nil {
		return fmt.Errorf("runtime %q not found: %w", runtime, err)
	}

	out, err := exec.CommandContext(ctx, path, "--version").CombinedOutput()
	if err != nil {
		return fmt.Errorf("probe %q version: %w", runtime, err)
	}
	version := strings.TrimSpace(string(out))
	fmt.Fprintf(ac.Output, "using %s (%s)\n", path, version)

	if want := ac.With["version"]; want != "" && !strings.Contains(version, want) {
		return fmt.Errorf("runtime %q reports %q, want %s", runtime, version, want)
	}
	return nil
}

// CodecovAction uploads a coverage file to an external reporting service.
// The token comes from the secret store, never from the descriptor. With
// fail_ci_if_error true, an upload failure fails the step (and the run);
// otherwise the error is written to the step output and swallowed.
type CodecovAction struct {
	Endpoint string
	Client   *http.Client
}

func (a *CodecovAction) Name() string { return "codecov" }

func (a *CodecovAction) Run(ctx context.Context, ac *ActionContext) error {
	err := a.upload(ctx, ac)
	if err == nil {
		return nil
	}
	if failCI, _ := strconv.ParseBool(ac.With["fail_ci_if_error"]); failCI {
		return err
	}
	fmt.Fprintf(ac.Output, "coverage upload failed (ignored): %v\n", err)
	return nil
}

func (a *CodecovAction) upload(ctx context.Context, ac *ActionContext) error {
	token, ok := ac.Secrets.Get("CODECOV_TOKEN")
	if !ok {
		return fmt.Errorf("secret CODECOV_TOKEN not available")
	}

	file := ac.With["file"]
	if file == "" {
		file = "coverage.xml"
	}
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(ac.Workdir, file)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read coverage file: %w", err)
	}
	digest := hashutil.HashBytes(data)

	endpoint := a.Endpoint
	if endpoint == "" {
		endpoint = "https://codecov.io/upload/v4"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("coverage", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if flags := ac.With["flags"]; flags != "" {
		_ = mw.WriteField("flags", flags)
	}
	_ = mw.WriteField("digest", digest)
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "token "+token)

	resp, err := a.Client.Do(req)
	if err != nil {
		return fmt.Errorf("upload coverage: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("upload coverage: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	fmt.Fprintf(ac.Output, "coverage uploaded (digest %s)\n", digest[:16])
	return nil
}
