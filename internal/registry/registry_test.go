package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepline/stepline/pkg/schema"
)

func testDefinition(t *testing.T, name string) *schema.WorkflowDefinition {
	t.Helper()
	params, err := json.Marshal(schema.DisplayParams{Prompt: "hi"})
	require.NoError(t, err)
	return &schema.WorkflowDefinition{
		Name:  name,
		Steps: []schema.Step{{Name: "intro", Kind: schema.ActionDisplay, Params: params}},
	}
}

func TestRegisterAndLookup(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)

	require.NoError(t, reg.Register(testDefinition(t, "greet")))

	def, err := reg.Definition(context.Background(), "greet")
	require.NoError(t, err)
	assert.Equal(t, "greet", def.Name)
	assert.True(t, reg.Has("greet"))
	assert.Equal(t, 1, reg.Count())
}

func TestRegisterRejectsInvalidDefinition(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)

	err = reg.Register(&schema.WorkflowDefinition{Name: "no-steps"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDefinition, schema.CodeOf(err))
	assert.False(t, reg.Has("no-steps"))
}

func TestReregisteringReplaces(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)

	require.NoError(t, reg.Register(testDefinition(t, "greet")))

	updated := testDefinition(t, "greet")
	updated.Description = "second version"
	require.NoError(t, reg.Register(updated))

	def, err := reg.Definition(context.Background(), "greet")
	require.NoError(t, err)
	assert.Equal(t, "second version", def.Description)
	assert.Equal(t, 1, reg.Count())
}

func TestLookupMissingIsNotFound(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)

	_, err = reg.Definition(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}

func TestRegisterRawValidatesAgainstSchema(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)

	def, err := reg.RegisterRaw([]byte(`{
		"name": "raw-wf",
		"steps": [{"name": "a", "kind": "display", "params": {"prompt": "x"}}]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "raw-wf", def.Name)

	_, err = reg.RegisterRaw([]byte(`{"name": "bad", "steps": []}`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDefinition, schema.CodeOf(err))
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	writeDef := func(name, content string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
	writeDef("a.json", `{"name":"wf-a","steps":[{"name":"s","kind":"display"}]}`)
	writeDef("b.json", `{"name":"wf-b","steps":[{"name":"s","kind":"display"}]}`)
	writeDef("notes.txt", "not a definition")

	reg, err := New()
	require.NoError(t, err)

	loaded, err := reg.LoadDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, []string{"wf-a", "wf-b"}, reg.Names())
}

func TestLoadDirStopsOnInvalidDefinition(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte(`{"name":"bad"}`), 0o644))

	reg, err := New()
	require.NoError(t, err)

	_, err = reg.LoadDir(dir)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDefinition, schema.CodeOf(err))
}

func TestLoadDirMissingDirectoryFails(t *testing.T) {
	reg, err := New()
	require.NoError(t, err)

	_, err = reg.LoadDir(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodePersistence, schema.CodeOf(err))
}
