package engine

import (
	"context"
	"strings"

	"github.com/stepline/stepline/pkg/schema"
)

// DefinitionSource resolves a workflow definition by name. Satisfied by
// the registry and by test fakes.
type DefinitionSource interface {
	Definition(ctx context.Context, name string) (*schema.WorkflowDefinition, error)
}

// HierarchyNode is one workflow in a resolved composition tree.
type HierarchyNode struct {
	Name      string           `json:"name"`
	StepCount int              `json:"step_count"`
	Children  []*HierarchyNode `json:"children,omitempty"`
}

// DefaultMaxHierarchyDepth bounds hierarchy expansion even for acyclic
// but absurdly deep compositions.
const DefaultMaxHierarchyDepth = 16

// HierarchyResolver expands workflow and sub-workflow references into a
// tree, detecting reference cycles instead of recursing forever.
type HierarchyResolver struct {
	source   DefinitionSource
	maxDepth int
}

// NewHierarchyResolver builds a resolver over the given source.
// maxDepth <= 0 selects DefaultMaxHierarchyDepth.
func NewHierarchyResolver(source DefinitionSource, maxDepth int) *HierarchyResolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxHierarchyDepth
	}
	return &HierarchyResolver{source: source, maxDepth: maxDepth}
}

// Resolve expands the named workflow into its full composition tree.
// A workflow referencing itself through any chain of sub-workflow steps
// yields a CYCLE_DETECTED error naming the cycle path.
func (r *HierarchyResolver) Resolve(ctx context.Context, name string) (*HierarchyNode, error) {
	if name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow name is empty")
	}
	return r.resolve(ctx, name, nil, make(map[string]bool))
}

func (r *HierarchyResolver) resolve(ctx context.Context, name string, path []string, onPath map[string]bool) (*HierarchyNode, error) {
	if onPath[name] {
		cycle := append(append([]string{}, path...), name)
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
			"workflow reference cycle: %s", strings.Join(cycle, " -> ")).
			WithDetails(map[string]any{"cycle": cycle})
	}
	if len(path) >= r.maxDepth {
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
			"workflow hierarchy exceeds max depth %d at %q", r.maxDepth, name)
	}

	def, err := r.source.Definition(ctx, name)
	if err != nil {
		return nil, err
	}

	node := &HierarchyNode{
		Name:      def.Name,
		StepCount: len(def.Steps),
	}

	onPath[name] = true
	defer delete(onPath, name)
	path = append(path, name)

	for _, step := range def.Steps {
		if step.Kind != schema.ActionWorkflow && step.Kind != schema.ActionSubWorkflow {
			continue
		}
		p, err := schema.DecodeParams[schema.SubWorkflowParams](step.Params)
		if err != nil {
			return nil, err
		}
		child, err := r.resolve(ctx, p.Workflow, path, onPath)
		if err != nil {
			return nil, err
		}
		node.Children = append(node.Children, child)
	}

	return node, nil
}
