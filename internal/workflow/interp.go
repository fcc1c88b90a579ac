package workflow

import (
	"fmt"
	"regexp"
	"strings"
)

// refPattern matches ${{ scope.name }} references.
var refPattern = regexp.MustCompile(`\$\{\{\s*([A-Za-z_][A-Za-z0-9_]*\.[A-Za-z_][A-Za-z0-9_-]*)\s*\}\}`)

// RefNames returns the distinct variable references in s, in order of first
// appearance.
func RefNames(s string) []string {
	matches := refPattern.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool)
	var refs []string
	for _, match := range matches {
		if !seen[match[1]] {
			seen[match[1]] = true
			refs = append(refs, match[1])
		}
	}
	return refs
}

// ValidateRefs confirms every reference in s resolves against the declared
// variable set.
func ValidateRefs(s string, vars map[string]bool) error {
	var undefined []string
	for _, ref := range RefNames(s) {
		if !vars[ref] {
			undefined = append(undefined, ref)
		}
	}
	if len(undefined) > 0 {
		return fmt.Errorf("undefined reference(s): %s", strings.Join(undefined, ", "))
	}
	return nil
}

// ExpandRefs substitutes every ${{ ref }} in s with its value. Unknown
// references are left untouched; validation catches those earlier.
func ExpandRefs(s string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(s, "${{") {
		return s
	}
	return refPattern.ReplaceAllStringFunc(s, func(m string) string {
		ref := refPattern.FindStringSubmatch(m)[1]
		if v, ok := vars[ref]; ok {
			return v
		}
		return m
	})
}

// InstanceVars builds the substitution set for one job instance: matrix
// values plus the triggering event's fields.
func InstanceVars(ji JobInstance, ev Event) map[string]string {
	vars := make(map[string]string, len(ji.Values)+3)
	for k, v := range ji.Values {
		vars["matrix."+k] = v
	}
	for k, v := range ev.Vars() {
		vars["event."+k] = v
	}
	return vars
}
