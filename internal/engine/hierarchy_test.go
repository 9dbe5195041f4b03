package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepline/stepline/pkg/schema"
)

func subStep(t *testing.T, target string) schema.Step {
	t.Helper()
	raw, err := json.Marshal(schema.SubWorkflowParams{Workflow: target})
	require.NoError(t, err)
	return schema.Step{Name: "call-" + target, Kind: schema.ActionSubWorkflow, Params: raw}
}

func leafDef(name string, stepCount int) *schema.WorkflowDefinition {
	steps := make([]schema.Step, stepCount)
	for i := range steps {
		steps[i] = schema.Step{Name: fmt.Sprintf("s%d", i), Kind: schema.ActionDisplay}
	}
	return &schema.WorkflowDefinition{Name: name, Steps: steps}
}

func TestResolveLeafWorkflow(t *testing.T) {
	source := newMapDefs(leafDef("leaf", 3))
	r := NewHierarchyResolver(source, 0)

	node, err := r.Resolve(context.Background(), "leaf")
	require.NoError(t, err)
	assert.Equal(t, "leaf", node.Name)
	assert.Equal(t, 3, node.StepCount)
	assert.Empty(t, node.Children)
}

func TestResolveNestedComposition(t *testing.T) {
	grandchild := leafDef("grandchild", 1)
	child := &schema.WorkflowDefinition{
		Name:  "child",
		Steps: []schema.Step{subStep(t, "grandchild")},
	}
	parent := &schema.WorkflowDefinition{
		Name: "parent",
		Steps: []schema.Step{
			{Name: "intro", Kind: schema.ActionDisplay},
			subStep(t, "child"),
		},
	}
	source := newMapDefs(parent, child, grandchild)
	r := NewHierarchyResolver(source, 0)

	node, err := r.Resolve(context.Background(), "parent")
	require.NoError(t, err)
	require.Len(t, node.Children, 1)
	assert.Equal(t, "child", node.Children[0].Name)
	require.Len(t, node.Children[0].Children, 1)
	assert.Equal(t, "grandchild", node.Children[0].Children[0].Name)
}

func TestResolveSelfReferenceDetected(t *testing.T) {
	self := &schema.WorkflowDefinition{
		Name:  "ouroboros",
		Steps: []schema.Step{subStep(t, "ouroboros")},
	}
	r := NewHierarchyResolver(newMapDefs(self), 0)

	_, err := r.Resolve(context.Background(), "ouroboros")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCycleDetected, schema.CodeOf(err))
}

func TestResolveMutualCycleNamesThePath(t *testing.T) {
	a := &schema.WorkflowDefinition{Name: "wf-a", Steps: []schema.Step{subStep(t, "wf-b")}}
	b := &schema.WorkflowDefinition{Name: "wf-b", Steps: []schema.Step{subStep(t, "wf-a")}}
	r := NewHierarchyResolver(newMapDefs(a, b), 0)

	_, err := r.Resolve(context.Background(), "wf-a")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCycleDetected, schema.CodeOf(err))
	assert.Contains(t, err.Error(), "wf-a -> wf-b -> wf-a")
}

func TestResolveDiamondIsNotACycle(t *testing.T) {
	// Two branches referencing the same shared leaf must resolve: only
	// a reference back onto the current path is a cycle.
	shared := leafDef("shared", 1)
	left := &schema.WorkflowDefinition{Name: "left", Steps: []schema.Step{subStep(t, "shared")}}
	right := &schema.WorkflowDefinition{Name: "right", Steps: []schema.Step{subStep(t, "shared")}}
	top := &schema.WorkflowDefinition{
		Name:  "top",
		Steps: []schema.Step{subStep(t, "left"), subStep(t, "right")},
	}
	r := NewHierarchyResolver(newMapDefs(top, left, right, shared), 0)

	node, err := r.Resolve(context.Background(), "top")
	require.NoError(t, err)
	require.Len(t, node.Children, 2)
	assert.Equal(t, "shared", node.Children[0].Children[0].Name)
	assert.Equal(t, "shared", node.Children[1].Children[0].Name)
}

func TestResolveDepthLimit(t *testing.T) {
	defs := newMapDefs()
	const depth = 5
	for i := 0; i < depth; i++ {
		name := fmt.Sprintf("level-%d", i)
		if i == depth-1 {
			defs.add(leafDef(name, 1))
			continue
		}
		defs.add(&schema.WorkflowDefinition{
			Name:  name,
			Steps: []schema.Step{subStep(t, fmt.Sprintf("level-%d", i+1))},
		})
	}

	r := NewHierarchyResolver(defs, 3)
	_, err := r.Resolve(context.Background(), "level-0")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeCycleDetected, schema.CodeOf(err))
	assert.Contains(t, err.Error(), "max depth")
}

func TestResolveMissingReference(t *testing.T) {
	top := &schema.WorkflowDefinition{Name: "top", Steps: []schema.Step{subStep(t, "ghost")}}
	r := NewHierarchyResolver(newMapDefs(top), 0)

	_, err := r.Resolve(context.Background(), "top")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestResolveEmptyNameRejected(t *testing.T) {
	r := NewHierarchyResolver(newMapDefs(), 0)
	_, err := r.Resolve(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}
