package schema

import "fmt"

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single validation problem with location context.
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult aggregates all issues from the validation pipeline.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddWarning appends a warning-severity issue.
func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts the result to a SteplineError if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	msg := r.Errors[0].Message
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("definition invalid with %d errors", len(r.Errors))
	}

	return NewError(ErrCodeDefinition, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}

// ValidateDefinition runs the structural validation pass over a parsed
// definition. Raw JSON documents additionally go through the JSON Schema
// pass in the validation package before parsing.
func ValidateDefinition(def *WorkflowDefinition) *ValidationResult {
	result := &ValidationResult{}

	if def == nil {
		result.AddError("$", "nil_definition", "definition is nil")
		return result
	}
	if def.Name == "" {
		result.AddError("$.name", "missing_name", "definition name is required")
	}
	if len(def.Steps) == 0 {
		result.AddError("$.steps", "empty_steps", "definition has no steps")
	}

	seen := make(map[string]int, len(def.Steps))
	for i, step := range def.Steps {
		path := fmt.Sprintf("$.steps[%d]", i)
		if step.Name == "" {
			result.AddError(path+".name", "missing_step_name", "step name is required")
		} else if prev, dup := seen[step.Name]; dup {
			result.AddError(path+".name", "duplicate_step_name",
				fmt.Sprintf("step name %q already used at index %d", step.Name, prev))
		} else {
			seen[step.Name] = i
		}

		if !ValidKind(step.Kind) {
			result.AddError(path+".kind", "unknown_action_kind",
				fmt.Sprintf("unknown action kind %q", step.Kind))
			continue
		}

		validateStepParams(path, step, result)
	}

	return result
}

// validateStepParams checks kind-specific parameter requirements.
func validateStepParams(path string, step Step, result *ValidationResult) {
	switch step.Kind {
	case ActionElicit:
		p, err := DecodeParams[ElicitParams](step.Params)
		if err != nil {
			result.AddError(path+".params", "bad_params", err.Error())
			return
		}
		if p.Variable == "" {
			result.AddError(path+".params.variable", "missing_variable",
				"elicit step requires a target variable")
		}

	case ActionTemplate:
		p, err := DecodeParams[TemplateParams](step.Params)
		if err != nil {
			result.AddError(path+".params", "bad_params", err.Error())
			return
		}
		if p.Template == "" {
			result.AddError(path+".params.template", "missing_template",
				"template step requires a template reference")
		}

	case ActionWorkflow, ActionSubWorkflow:
		p, err := DecodeParams[SubWorkflowParams](step.Params)
		if err != nil {
			result.AddError(path+".params", "bad_params", err.Error())
			return
		}
		if p.Workflow == "" {
			result.AddError(path+".params.workflow", "missing_workflow",
				"sub-workflow step requires a workflow reference")
		}

	case ActionRoute:
		p, err := DecodeParams[RouteParams](step.Params)
		if err != nil {
			result.AddError(path+".params", "bad_params", err.Error())
			return
		}
		if p.Variable == "" {
			result.AddError(path+".params.variable", "missing_variable",
				"route step requires a target variable")
		}
		if len(p.Routes) == 0 {
			result.AddError(path+".params.routes", "empty_routes",
				"route step requires a non-empty routing table")
		}
		for j, rt := range p.Routes {
			if rt.Target == "" {
				result.AddError(fmt.Sprintf("%s.params.routes[%d].target", path, j),
					"missing_target", "route entry requires a target")
			}
		}

	case ActionLoadStateMachine:
		p, err := DecodeParams[LoadStateMachineParams](step.Params)
		if err != nil {
			result.AddError(path+".params", "bad_params", err.Error())
			return
		}
		if p.Machine == "" {
			result.AddError(path+".params.machine", "missing_machine",
				"load_state_machine step requires a machine reference")
		}
	}
}
