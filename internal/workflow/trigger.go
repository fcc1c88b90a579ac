package workflow

import (
	"fmt"

	"github.com/gobwas/glob"
)

// EventKind names the repository events a workflow can react to.
type EventKind string

const (
	EventPush        EventKind = "push"
	EventPullRequest EventKind = "pull_request"
)

// Event is a single delivery from the event source: what happened and on
// which branch.
type Event struct {
	Kind   EventKind `json:"kind"`
	Branch string    `json:"branch"`
	Ref    string    `json:"ref,omitempty"`
}

// Vars exposes the event to guard expressions and ${{ }} references.
func (e Event) Vars() map[string]string {
	return map[string]string{
		"kind":   string(e.Kind),
		"branch": e.Branch,
		"ref":    e.Ref,
	}
}

// Triggers is the "on" block: one optional branch rule per event kind.
type Triggers struct {
	Push        *BranchRule `yaml:"push,omitempty"`
	PullRequest *BranchRule `yaml:"pull_request,omitempty"`
}

// BranchRule matches branch names against a list of patterns. Patterns are
// globs where "*" stays within a path segment and "**" crosses segments.
// An empty list matches every branch.
type BranchRule struct {
	Branches []string `yaml:"branches,omitempty"`
}

// Rules returns the configured rules keyed by event kind.
func (t Triggers) Rules() map[EventKind]*BranchRule {
	rules := make(map[EventKind]*BranchRule)
	if t.Push != nil {
		rules[EventPush] = t.Push
	}
	if t.PullRequest != nil {
		rules[EventPullRequest] = t.PullRequest
	}
	return rules
}

// Matches reports whether the event kind has a rule and the event branch
// satisfies it. A non-matching event is a no-op, not an error.
func (t Triggers) Matches(ev Event) bool {
	rule, ok := t.Rules()[ev.Kind]
	if !ok {
		return false
	}
	return rule.matches(ev.Branch)
}

func (r *BranchRule) matches(branch string) bool {
	if len(r.Branches) == 0 {
		return true
	}
	for _, pattern := range r.Branches {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			continue
		}
		if g.Match(branch) {
			return true
		}
	}
	return false
}

// ValidatePatterns confirms every branch pattern compiles. Called from
// Workflow.Validate via the descriptor, and useful on its own for linting.
func (r *BranchRule) ValidatePatterns() error {
	for _, pattern := range r.Branches {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			return fmt.Errorf("branch pattern %q: %w", pattern, err)
		}
	}
	return nil
}
