package schema

import "encoding/json"

// WorkflowDefinition is the declarative, ordered step list a workflow
// instance executes. Definitions are immutable once loaded: the engine
// only ever reads them.
type WorkflowDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Agent       string         `json:"agent,omitempty"`
	Phase       int            `json:"phase,omitempty"`
	Steps       []Step         `json:"steps"`
	Defaults    map[string]any `json:"defaults,omitempty"`
}

// Step describes a single typed action in a workflow definition.
type Step struct {
	Name   string          `json:"name"`
	Kind   ActionKind      `json:"kind"`
	Params json.RawMessage `json:"params,omitempty"`
	Guard  string          `json:"guard,omitempty"` // CEL expression, evaluated before dispatch
}

// ActionKind enumerates the closed set of step action kinds.
// An unrecognized kind is a load-time definition error, never a
// run-time surprise.
type ActionKind string

const (
	ActionDisplay          ActionKind = "display"
	ActionElicit           ActionKind = "elicit"
	ActionReflect          ActionKind = "reflect"
	ActionTemplate         ActionKind = "template"
	ActionWorkflow         ActionKind = "workflow"
	ActionSubWorkflow      ActionKind = "sub-workflow"
	ActionRoute            ActionKind = "route"
	ActionLoadStateMachine ActionKind = "load_state_machine"
)

// KnownActionKinds lists every kind the engine dispatches.
var KnownActionKinds = []ActionKind{
	ActionDisplay,
	ActionElicit,
	ActionReflect,
	ActionTemplate,
	ActionWorkflow,
	ActionSubWorkflow,
	ActionRoute,
	ActionLoadStateMachine,
}

// ValidKind reports whether k belongs to the closed action-kind set.
func ValidKind(k ActionKind) bool {
	for _, known := range KnownActionKinds {
		if k == known {
			return true
		}
	}
	return false
}

// DisplayParams configures a display step.
type DisplayParams struct {
	Prompt string `json:"prompt"`
}

// ElicitParams configures an elicit step: the variable the engine
// suspends on until an external value arrives.
type ElicitParams struct {
	Prompt   string `json:"prompt,omitempty"`
	Variable string `json:"variable"`
}

// ReflectParams configures a reflect step (delegated generative call).
type ReflectParams struct {
	Prompt   string `json:"prompt"`
	Variable string `json:"variable,omitempty"`
}

// TemplateParams configures a template step (delegated render).
type TemplateParams struct {
	Template string `json:"template"`
	Variable string `json:"variable,omitempty"`
	Output   string `json:"output,omitempty"`
}

// SubWorkflowParams configures a workflow / sub-workflow step. When
// Variable is set, the child's final variable context is bound to it in
// the parent on completion.
type SubWorkflowParams struct {
	Workflow string         `json:"workflow"`
	Inputs   map[string]any `json:"inputs,omitempty"`
	Variable string         `json:"variable,omitempty"`
}

// RouteParams configures a route step: an ordered routing table whose
// first matching entry wins.
type RouteParams struct {
	Variable string  `json:"variable"`
	Routes   []Route `json:"routes"`
}

// Route is a single routing table entry. When is an Expr expression
// over the variable context; an empty When always matches (default route).
type Route struct {
	When   string `json:"when,omitempty"`
	Target string `json:"target"`
}

// LoadStateMachineParams configures a load_state_machine step.
type LoadStateMachineParams struct {
	Machine  string `json:"machine"`
	Variable string `json:"variable,omitempty"`
}
