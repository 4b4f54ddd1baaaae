package validation

import (
	"fmt"
	"regexp"

	"github.com/heliossim/helios/pkg/schema"
)

// validateSemantic performs semantic analysis on the workflow: reference
// existence, per-type field rules, and expression engine selection. Paths in
// issues use the element name, since the workflow is a name-keyed mapping.
func validateSemantic(wf *schema.Workflow) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	for _, name := range wf.Names {
		elem := wf.Elements[name]
		validateReferences(name, elem, wf, result)

		switch elem.Type {
		case schema.ElementData, schema.ElementParameter:
			validateIOElement(name, elem, result)
		case schema.ElementSimUnit:
			validateSimUnitElement(name, elem, result)
		case schema.ElementPlugin:
			validatePluginElement(name, elem, result)
		}
	}

	return result
}

// validateReferences checks that every declared reference names an existing
// element and that no element depends on itself.
func validateReferences(name string, elem *schema.Element, wf *schema.Workflow, result *schema.ValidationResult) {
	check := func(field string, refs []string) {
		for i, ref := range refs {
			path := fmt.Sprintf("%s.%s[%d]", name, field, i)
			if ref == name {
				result.AddError(path, schema.ErrCodeStructural,
					fmt.Sprintf("element %q references itself", name))
				continue
			}
			if wf.Get(ref) == nil {
				result.AddError(path, schema.ErrCodeStructural,
					fmt.Sprintf("references non-existent element %q", ref))
			}
		}
	}
	check("input", elem.Input)
	check("parameter", elem.Parameter)
	check("init", elem.Init)
}

// validateIOElement checks data and parameter elements. Read elements load
// from disk and take no upstream references; write elements persist the
// output of upstream elements and need at least one.
func validateIOElement(name string, elem *schema.Element, result *schema.ValidationResult) {
	refField := "input"
	refs := elem.Input
	if elem.Type == schema.ElementParameter {
		refField = "parameter"
		refs = elem.Parameter
	}

	switch elem.Mode {
	case schema.ModeRead:
		if len(elem.Path) == 0 {
			result.AddError(name+".path", schema.ErrCodeValidation,
				fmt.Sprintf("read element %q needs at least one path", name))
		}
		if len(elem.References()) > 0 {
			result.AddError(name, schema.ErrCodeValidation,
				fmt.Sprintf("read element %q cannot reference other elements", name))
		}
	case schema.ModeWrite:
		if len(refs) == 0 {
			result.AddError(name+"."+refField, schema.ErrCodeValidation,
				fmt.Sprintf("write element %q needs at least one %s reference", name, refField))
		}
		if len(elem.Path) == 0 {
			result.AddError(name+".path", schema.ErrCodeValidation,
				fmt.Sprintf("write element %q needs an output path", name))
		}
	}

	if elem.Type == schema.ElementData && len(elem.Parameter) > 0 {
		result.AddError(name+".parameter", schema.ErrCodeValidation,
			fmt.Sprintf("data element %q cannot take parameter references", name))
	}
	if elem.Type == schema.ElementParameter && len(elem.Input) > 0 {
		result.AddError(name+".input", schema.ErrCodeValidation,
			fmt.Sprintf("parameter element %q cannot take input references", name))
	}
}

// validateSimUnitElement checks simulation-unit specific fields. The data
// dictionary itself is validated separately when it is loaded.
func validateSimUnitElement(name string, elem *schema.Element, result *schema.ValidationResult) {
	if elem.CancelCondition == "" && elem.ConditionEngine != "" {
		result.AddWarning(name+".condition_engine", schema.ErrCodeValidation,
			"condition_engine set without a cancel_condition (ignored)")
	}

	if elem.VstackPattern != "" {
		re, err := regexp.Compile(elem.VstackPattern)
		if err != nil {
			result.AddError(name+".vstack_pattern", schema.ErrCodeValidation,
				fmt.Sprintf("invalid vstack pattern: %s", err.Error()))
		} else if re.NumSubexp() < 2 {
			result.AddError(name+".vstack_pattern", schema.ErrCodeValidation,
				fmt.Sprintf("vstack pattern needs at least 2 capture groups (base, column), got %d", re.NumSubexp()))
		}
	}

	if len(elem.Input) == 0 && len(elem.Init) == 0 && len(elem.Parameter) == 0 {
		result.AddWarning(name, schema.ErrCodeValidation,
			fmt.Sprintf("sim_unit %q has no references; it will run on dictionary defaults only", name))
	}
}

// validatePluginElement checks plugin-specific fields.
func validatePluginElement(name string, elem *schema.Element, result *schema.ValidationResult) {
	if len(elem.Path) > 0 {
		result.AddWarning(name+".path", schema.ErrCodeValidation,
			"plugin elements do not use path (ignored)")
	}
}

// ValidateDictionarySemantics checks a structurally valid data dictionary:
// unique names, known datatypes, role rules for defaults and alternatives.
func ValidateDictionarySemantics(d *schema.DataDictionary) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	seen := make(map[string]bool, len(d.Variables))
	hasOutput := false

	for i := range d.Variables {
		v := &d.Variables[i]
		path := fmt.Sprintf("variables[%d]", i)

		if seen[v.Name] {
			result.AddError(path+".name", schema.ErrCodeSchema,
				fmt.Sprintf("duplicate variable name %q", v.Name))
		}
		seen[v.Name] = true

		if _, ok := schema.DatatypeSize(v.Datatype); !ok {
			result.AddError(path+".datatype", schema.ErrCodeSchema,
				fmt.Sprintf("variable %q: unsupported datatype %q", v.Name, v.Datatype))
		}

		if v.Role == schema.RoleOutput {
			hasOutput = true
			if v.Default != nil {
				result.AddError(path+".default", schema.ErrCodeSchema,
					fmt.Sprintf("output variable %q cannot carry a default", v.Name))
			}
			if len(v.Alternatives) > 0 {
				result.AddError(path+".alternatives", schema.ErrCodeSchema,
					fmt.Sprintf("output variable %q cannot carry alternatives", v.Name))
			}
		}
		if v.Role == schema.RoleParameter && len(v.Alternatives) > 0 {
			result.AddError(path+".alternatives", schema.ErrCodeSchema,
				fmt.Sprintf("parameter variable %q cannot carry alternatives", v.Name))
		}

		for j := range v.Alternatives {
			alt := &v.Alternatives[j]
			if alt.IsLiteral() && j != 0 {
				result.AddError(fmt.Sprintf("%s.alternatives[%d]", path, j), schema.ErrCodeSchema,
					fmt.Sprintf("variable %q: a literal alternative must be the first entry", v.Name))
			}
			if alt.IsLiteral() && len(alt.Literal) != v.Count() {
				result.AddError(fmt.Sprintf("%s.alternatives[%d]", path, j), schema.ErrCodeSchema,
					fmt.Sprintf("variable %q: literal holds %d values, shape needs %d",
						v.Name, len(alt.Literal), v.Count()))
			}
		}
	}

	if !hasOutput {
		result.AddError("variables", schema.ErrCodeSchema,
			"dictionary declares no output variable")
	}

	return result
}
