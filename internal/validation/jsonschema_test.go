package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepline/stepline/pkg/schema"
)

func newValidator(t *testing.T) *DefinitionValidator {
	t.Helper()
	v, err := NewDefinitionValidator()
	require.NoError(t, err)
	return v
}

func TestParseWellFormedDefinition(t *testing.T) {
	v := newValidator(t)
	def, err := v.Parse([]byte(`{
		"name": "create-prd",
		"description": "PRD authoring",
		"steps": [
			{"name": "intro", "kind": "display", "params": {"prompt": "hi"}},
			{"name": "ask", "kind": "elicit", "params": {"variable": "scale"}}
		],
		"defaults": {"tone": "formal"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "create-prd", def.Name)
	require.Len(t, def.Steps, 2)
	assert.Equal(t, schema.ActionElicit, def.Steps[1].Kind)
	assert.Equal(t, "formal", def.Defaults["tone"])
}

func TestParseRejectsMalformedJSON(t *testing.T) {
	v := newValidator(t)
	_, err := v.Parse([]byte(`{"name": "x"`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDefinition, schema.CodeOf(err))
}

func TestParseRejectsSchemaViolations(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name string
		raw  string
	}{
		{"missing name", `{"steps":[{"name":"a","kind":"display"}]}`},
		{"empty steps", `{"name":"x","steps":[]}`},
		{"unknown kind", `{"name":"x","steps":[{"name":"a","kind":"teleport"}]}`},
		{"unknown top-level field", `{"name":"x","surprise":1,"steps":[{"name":"a","kind":"display"}]}`},
		{"negative phase", `{"name":"x","phase":-1,"steps":[{"name":"a","kind":"display"}]}`},
		{"step without kind", `{"name":"x","steps":[{"name":"a"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Parse([]byte(tt.raw))
			require.Error(t, err)
			assert.Equal(t, schema.ErrCodeDefinition, schema.CodeOf(err))
		})
	}
}

func TestParseRunsStructuralPassAfterSchema(t *testing.T) {
	v := newValidator(t)
	// Schema-valid but structurally broken: two steps share a name.
	_, err := v.Parse([]byte(`{
		"name": "x",
		"steps": [
			{"name": "a", "kind": "display"},
			{"name": "a", "kind": "display"}
		]
	}`))
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeDefinition, schema.CodeOf(err))
}
