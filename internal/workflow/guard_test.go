package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridci/internal/workflow"
)

func TestGuardSelectsExactlyOneCombination(t *testing.T) {
	guard, err := workflow.CompileGuard(`matrix.python == "3.8" && matrix.toxenv == "django42-drflatest"`)
	require.NoError(t, err)

	ev := workflow.Event{Kind: workflow.EventPush, Branch: "master"}
	combos := []map[string]string{
		{"python": "3.8", "toxenv": "quality"},
		{"python": "3.8", "toxenv": "docs"},
		{"python": "3.8", "toxenv": "django42-drflatest"},
	}

	matched := 0
	for _, combo := range combos {
		ok, err := guard.Eval(combo, ev)
		require.NoError(t, err)
		if ok {
			matched++
			assert.Equal(t, "django42-drflatest", combo["toxenv"])
		}
	}
	assert.Equal(t, 1, matched)
}

func TestGuardSeesEventVars(t *testing.T) {
	guard, err := workflow.CompileGuard(`event.kind == "push" && event.branch == "master"`)
	require.NoError(t, err)

	ok, err := guard.Eval(nil, workflow.Event{Kind: workflow.EventPush, Branch: "master"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Eval(nil, workflow.Event{Kind: workflow.EventPullRequest, Branch: "master"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGuardCompileError(t *testing.T) {
	_, err := workflow.CompileGuard(`matrix.python ==`)
	require.Error(t, err)
}

func TestGuardNonBooleanResult(t *testing.T) {
	guard, err := workflow.CompileGuard(`matrix.python`)
	if err != nil {
		// Rejected at compile time is fine too.
		return
	}
	_, err = guard.Eval(map[string]string{"python": "3.8"}, workflow.Event{})
	require.Error(t, err)
}

func TestGuardUndefinedAxisComparesAsNil(t *testing.T) {
	guard, err := workflow.CompileGuard(`matrix.missing == "x"`)
	require.NoError(t, err)

	ok, err := guard.Eval(map[string]string{"python": "3.8"}, workflow.Event{})
	require.NoError(t, err)
	assert.False(t, ok)
}
