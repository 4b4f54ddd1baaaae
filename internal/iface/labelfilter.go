package iface

import (
	"regexp"

	"github.com/heliossim/helios/pkg/schema"
)

// ResolveLabelFilter expands a list of label patterns against the labels
// available in a collection. Each pattern is an anchored regular expression;
// a plain name therefore matches exactly itself. The result preserves the
// order of the available labels and contains no duplicates. A pattern that
// matches nothing is an error, since a silently empty selection almost
// always means a typo in the workflow.
func ResolveLabelFilter(patterns, available []string) ([]string, error) {
	var out []string
	seen := make(map[string]bool, len(available))

	for _, pattern := range patterns {
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"invalid label filter %q: %s", pattern, err.Error()).WithCause(err)
		}

		matched := false
		for _, label := range available {
			if re.MatchString(label) {
				matched = true
				if !seen[label] {
					seen[label] = true
					out = append(out, label)
				}
			}
		}
		if !matched {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound,
				"label filter %q matched no labels", pattern).
				WithDetails(map[string]any{"available": available})
		}
	}
	return out, nil
}
