package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Axis is one named matrix dimension and its values, in declaration order.
type Axis struct {
	Name   string
	Values []string
}

// Matrix is an ordered list of axes. YAML mapping order is preserved so
// that Expand produces instances in a stable, declaration-driven order.
type Matrix struct {
	Axes []Axis
}

// UnmarshalYAML decodes the matrix mapping without losing key order.
// Scalar values are taken verbatim, so unquoted numbers like 3.8 survive
// as the strings they were written as.
func (m *Matrix) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("matrix: expected a mapping")
	}
	for i := 0; i < len(value.Content); i += 2 {
		key := value.Content[i]
		val := value.Content[i+1]
		axis := Axis{Name: key.Value}
		switch val.Kind {
		case yaml.ScalarNode:
			axis.Values = []string{val.Value}
		case yaml.SequenceNode:
			for _, item := range val.Content {
				if item.Kind != yaml.ScalarNode {
					return fmt.Errorf("matrix axis %q: values must be scalars", key.Value)
				}
				axis.Values = append(axis.Values, item.Value)
			}
		default:
			return fmt.Errorf("matrix axis %q: expected scalar or list", key.Value)
		}
		if len(axis.Values) == 0 {
			return fmt.Errorf("matrix axis %q: no values", key.Value)
		}
		m.Axes = append(m.Axes, axis)
	}
	return nil
}

// Size is the number of combinations the matrix expands to.
func (m Matrix) Size() int {
	if len(m.Axes) == 0 {
		return 1
	}
	n := 1
	for _, axis := range m.Axes {
		n *= len(axis.Values)
	}
	return n
}

// JobInstance is one concrete execution of a job's step sequence for one
// matrix combination. Instances share nothing and may run concurrently.
// Axes carries the axis names in declaration order.
type JobInstance struct {
	ID     string            `json:"id"`
	Job    string            `json:"job"`
	RunsOn string            `json:"runsOn"`
	Axes   []string          `json:"axes,omitempty"`
	Values map[string]string `json:"values"`
}

// Label renders the instance the way a status surface would show it,
// e.g. "tests (3.8, django42-drflatest)". Values appear in axis
// declaration order; hand-built instances without Axes fall back to
// sorted names.
func (ji JobInstance) Label() string {
	if len(ji.Values) == 0 {
		return ji.Job
	}
	keys := ji.Axes
	if len(keys) == 0 {
		keys = make([]string, 0, len(ji.Values))
		for k := range ji.Values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	vals := make([]string, 0, len(keys))
	for _, k := range keys {
		vals = append(vals, ji.Values[k])
	}
	return fmt.Sprintf("%s (%s)", ji.Job, strings.Join(vals, ", "))
}

// Expand materializes the cartesian product of the job's matrix axes.
// A job without a matrix yields exactly one instance.
func (j Job) Expand() []JobInstance {
	axes := make([]string, 0, len(j.Strategy.Matrix.Axes))
	for _, axis := range j.Strategy.Matrix.Axes {
		axes = append(axes, axis.Name)
	}

	combos := []map[string]string{{}}
	for _, axis := range j.Strategy.Matrix.Axes {
		next := make([]map[string]string, 0, len(combos)*len(axis.Values))
		for _, combo := range combos {
			for _, v := range axis.Values {
				c := make(map[string]string, len(combo)+1)
				for k, cv := range combo {
					c[k] = cv
				}
				c[axis.Name] = v
				next = append(next, c)
			}
		}
		combos = next
	}

	instances := make([]JobInstance, 0, len(combos))
	for _, combo := range combos {
		instances = append(instances, JobInstance{
			ID:     uuid.NewString(),
			Job:    j.ID,
			RunsOn: j.RunsOn,
			Axes:   axes,
			Values: combo,
		})
	}
	return instances
}

// Expand materializes every job's instances in declaration order.
func (w *Workflow) Expand() []JobInstance {
	var instances []JobInstance
	for _, job := range w.Jobs {
		instances = append(instances, job.Expand()...)
	}
	return instances
}
