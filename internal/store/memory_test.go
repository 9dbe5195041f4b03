package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepline/stepline/pkg/schema"
)

func TestMemoryStoreLoadReturnsIsolatedCopy(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	state := NewExecutionState("inst-1", "wf", map[string]any{
		"nested": map[string]any{"k": "v"},
	})
	require.NoError(t, ms.Save(ctx, state))

	first, err := ms.Load(ctx, "inst-1")
	require.NoError(t, err)
	first.Variables["nested"].(map[string]any)["k"] = "mutated"
	first.CurrentStepIndex = 42

	second, err := ms.Load(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, 0, second.CurrentStepIndex)
	assert.Equal(t, "v", second.Variables["nested"].(map[string]any)["k"])
}

func TestMemoryStoreSaveDetachesFromCaller(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	state := NewExecutionState("inst-1", "wf", map[string]any{"k": "before"})
	require.NoError(t, ms.Save(ctx, state))

	// Mutating the caller's copy after Save must not leak in.
	state.Variables["k"] = "after"

	loaded, err := ms.Load(ctx, "inst-1")
	require.NoError(t, err)
	assert.Equal(t, "before", loaded.Variables["k"])
}

func TestMemoryStoreNotFound(t *testing.T) {
	ms := NewMemoryStore()
	_, err := ms.Load(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, ms.Save(ctx, NewExecutionState("inst-1", "wf", nil)))
	require.NoError(t, ms.Delete(ctx, "inst-1"))
	require.NoError(t, ms.Delete(ctx, "inst-1"))
}

func TestMemoryStoreList(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, ms.Save(ctx, NewExecutionState("a", "wf", nil)))
	require.NoError(t, ms.Save(ctx, NewExecutionState("b", "wf", nil)))

	ids, err := ms.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	ms := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			state := NewExecutionState("inst-1", "wf", nil)
			state.CurrentStepIndex = n
			_ = ms.Save(ctx, state)
			_, _ = ms.Load(ctx, "inst-1")
		}(i)
	}
	wg.Wait()

	loaded, err := ms.Load(ctx, "inst-1")
	require.NoError(t, err)
	assert.NotNil(t, loaded)
}

func TestExecutionStateCloneIsDeep(t *testing.T) {
	state := NewExecutionState("inst-1", "wf", map[string]any{
		"list": []any{"a"},
	})
	state.Waiting = &WaitingMarker{Variable: "x", StepIndex: 1}

	cp := state.Clone()
	cp.Variables["list"].([]any)[0] = "b"
	cp.Waiting.StepIndex = 9

	assert.Equal(t, "a", state.Variables["list"].([]any)[0])
	assert.Equal(t, 1, state.Waiting.StepIndex)
}

func TestCloneNilStateIsNil(t *testing.T) {
	var state *ExecutionState
	assert.Nil(t, state.Clone())
}

func TestMemoryStoreSaveNilState(t *testing.T) {
	ms := NewMemoryStore()

	err := ms.Save(context.Background(), nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodePersistence, schema.CodeOf(err))
}
