package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, "", InstanceID(ctx))
	assert.Equal(t, "", Workflow(ctx))
	assert.Equal(t, -1, StepIndex(ctx))

	ctx = WithInstanceID(ctx, "inst-1")
	ctx = WithWorkflow(ctx, "create-prd")
	ctx = WithStepIndex(ctx, 0)

	assert.Equal(t, "inst-1", InstanceID(ctx))
	assert.Equal(t, "create-prd", Workflow(ctx))
	assert.Equal(t, 0, StepIndex(ctx))
}

func TestCorrelationHandlerInjectsIDs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))

	ctx := WithStepIndex(WithWorkflow(WithInstanceID(context.Background(), "inst-1"), "create-prd"), 2)
	logger.InfoContext(ctx, "step executed")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "inst-1", record["instance_id"])
	assert.Equal(t, "create-prd", record["workflow"])
	assert.Equal(t, "2", record["step_index"])
}

func TestCorrelationHandlerWithoutContextValues(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewJSONHandler(&buf, nil)))
	logger.Info("plain message")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.NotContains(t, record, "instance_id")
	assert.NotContains(t, record, "workflow")
}

func TestLogWithAddsOnlyPresentValues(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	LogWith(WithInstanceID(context.Background(), "inst-1"), base).Info("msg")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "inst-1", record["instance_id"])
	assert.NotContains(t, record, "workflow")
	assert.NotContains(t, record, "step_index")
}
