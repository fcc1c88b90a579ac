package workflow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridci/internal/workflow"
)

func TestExpandRefs(t *testing.T) {
	vars := map[string]string{
		"matrix.toxenv": "docs",
		"event.branch":  "master",
	}

	tests := []struct {
		in   string
		want string
	}{
		{"tox", "tox"},
		{"${{ matrix.toxenv }}", "docs"},
		{"TOXENV=${{matrix.toxenv}} on ${{ event.branch }}", "TOXENV=docs on master"},
		{"${{ matrix.unknown }}", "${{ matrix.unknown }}"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, workflow.ExpandRefs(tt.in, vars))
	}
}

func TestRefNames(t *testing.T) {
	refs := workflow.RefNames("a ${{ matrix.python }} b ${{ matrix.toxenv }} ${{ matrix.python }}")
	assert.Equal(t, []string{"matrix.python", "matrix.toxenv"}, refs)
	assert.Nil(t, workflow.RefNames("no refs here"))
}

func TestValidateRefs(t *testing.T) {
	vars := map[string]bool{"matrix.python": true}

	require.NoError(t, workflow.ValidateRefs("v=${{ matrix.python }}", vars))

	err := workflow.ValidateRefs("v=${{ matrix.toxenv }}", vars)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "matrix.toxenv")
}

func TestInstanceVars(t *testing.T) {
	inst := workflow.JobInstance{
		Job:    "tests",
		Values: map[string]string{"toxenv": "quality"},
	}
	ev := workflow.Event{Kind: workflow.EventPush, Branch: "master", Ref: "abc123"}

	vars := workflow.InstanceVars(inst, ev)
	assert.Equal(t, "quality", vars["matrix.toxenv"])
	assert.Equal(t, "push", vars["event.kind"])
	assert.Equal(t, "master", vars["event.branch"])
	assert.Equal(t, "abc123", vars["event.ref"])
}
