package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrCodeNotFound, "no such instance")
	assert.Equal(t, "[NOT_FOUND] no such instance", err.Error())

	err = NewErrorf(ErrCodeHandler, "step %q failed", "draft").WithStep(3)
	assert.Equal(t, `[HANDLER_ERROR] step 3: step "draft" failed`, err.Error())
}

func TestWithStepTracksPresence(t *testing.T) {
	err := NewError(ErrCodeHandler, "boom")
	assert.False(t, err.HasStep())

	// Step index zero is a real index, not the absence of one.
	err = err.WithStep(0)
	assert.True(t, err.HasStep())
	assert.Equal(t, 0, err.StepIndex)
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrCodePersistence, "save failed").WithCause(cause)
	assert.ErrorIs(t, err, cause)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrCodeConflict, CodeOf(NewError(ErrCodeConflict, "busy")))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}

func TestWithDetails(t *testing.T) {
	err := NewError(ErrCodeInputRejected, "wrong step").
		WithDetails(map[string]any{"expected": 2, "got": 5})
	require.NotNil(t, err.Details)
	assert.Equal(t, 2, err.Details["expected"])
	assert.Equal(t, 5, err.Details["got"])
}

func TestDecodeParamsRejectsUnknownFields(t *testing.T) {
	_, err := DecodeParams[ElicitParams]([]byte(`{"variable":"x","bogus":1}`))
	require.Error(t, err)
	assert.Equal(t, ErrCodeDefinition, CodeOf(err))
}

func TestDecodeParamsEmptyIsZeroValue(t *testing.T) {
	p, err := DecodeParams[DisplayParams](nil)
	require.NoError(t, err)
	assert.Equal(t, "", p.Prompt)
}
