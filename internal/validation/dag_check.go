package validation

import (
	"fmt"
	"strings"

	"github.com/heliossim/helios/pkg/schema"
)

// validateDAG performs graph analysis over element references: cycle
// detection (Kahn's algorithm) and sink cardinality. The workflow must form
// a DAG with exactly one sink, the element no other element consumes.
func validateDAG(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	if _, err := Order(wf); err != nil {
		herr, ok := err.(*schema.HeliosError)
		if !ok {
			result.AddError("/", schema.ErrCodeStructural, err.Error())
			return result
		}
		result.AddError("/", herr.Code, herr.Message)
		return result
	}

	sinks := Sinks(wf)
	switch len(sinks) {
	case 1:
		// Exactly one sink, as required.
	case 0:
		result.AddError("/", schema.ErrCodeStructural,
			"workflow has no sink element")
	default:
		result.AddError("/", schema.ErrCodeStructural,
			fmt.Sprintf("workflow has %d sink elements (%s), expected exactly one",
				len(sinks), strings.Join(sinks, ", ")))
	}

	return result
}

// Order returns the deterministic execution order of the workflow: a
// topological sort of the reference graph with ties broken by declaration
// order. A dependency cycle is a structural error naming the elements on it.
func Order(wf *schema.Workflow) ([]string, error) {
	indegree := make(map[string]int, wf.Len())
	dependents := make(map[string][]string, wf.Len())

	for _, name := range wf.Names {
		indegree[name] = 0
	}
	for _, name := range wf.Names {
		for _, ref := range wf.Elements[name].References() {
			if _, known := indegree[ref]; !known {
				return nil, schema.NewErrorf(schema.ErrCodeStructural,
					"element %q references non-existent element %q", name, ref)
			}
			indegree[name]++
			dependents[ref] = append(dependents[ref], name)
		}
	}

	// Ready elements are drained in declaration order so runs are repeatable.
	var ready []string
	for _, name := range wf.Names {
		if indegree[name] == 0 {
			ready = append(ready, name)
		}
	}

	order := make([]string, 0, wf.Len())
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		var unlocked []string
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				unlocked = append(unlocked, dep)
			}
		}
		// Newly unlocked elements join in declaration order.
		for _, candidate := range wf.Names {
			for _, u := range unlocked {
				if candidate == u {
					ready = append(ready, u)
				}
			}
		}
	}

	if len(order) != wf.Len() {
		var cyclic []string
		for _, name := range wf.Names {
			if indegree[name] > 0 {
				cyclic = append(cyclic, name)
			}
		}
		return nil, schema.NewErrorf(schema.ErrCodeStructural,
			"workflow contains a dependency cycle involving: %s", strings.Join(cyclic, ", "))
	}

	return order, nil
}

// Sinks returns the elements no other element references, in declaration order.
func Sinks(wf *schema.Workflow) []string {
	consumed := make(map[string]bool, wf.Len())
	for _, name := range wf.Names {
		for _, ref := range wf.Elements[name].References() {
			consumed[ref] = true
		}
	}

	var sinks []string
	for _, name := range wf.Names {
		if !consumed[name] {
			sinks = append(sinks, name)
		}
	}
	return sinks
}
