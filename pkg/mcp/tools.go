package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// handleStart creates an instance and starts driving it.
func (s *SteplineServer) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflow, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}
	inputs := mcp.ParseStringMap(req, "inputs", nil)

	instanceID, startErr := s.service.StartInstance(ctx, workflow, inputs)
	if startErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("start failed: %v", startErr)), nil
	}

	return marshalResult(map[string]any{
		"instance_id": instanceID,
		"workflow":    workflow,
	})
}

// handleStep advances an instance by exactly one step.
func (s *SteplineServer) handleStep(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}

	res, stepErr := s.service.Step(ctx, instanceID)
	if stepErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("step failed: %v", stepErr)), nil
	}
	return marshalResult(res)
}

// handleInput answers a waiting elicit step.
func (s *SteplineServer) handleInput(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	stepIndex, err := req.RequireInt("step_index")
	if err != nil {
		return mcp.NewToolResultError("step_index is required"), nil
	}

	args := req.GetArguments()
	value := args["value"]

	res, inputErr := s.service.SubmitInput(ctx, instanceID, stepIndex, value)
	if inputErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("input rejected: %v", inputErr)), nil
	}
	return marshalResult(res)
}

// handleStatus returns the instance state snapshot.
func (s *SteplineServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}

	state, stateErr := s.service.State(ctx, instanceID)
	if stateErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", stateErr)), nil
	}
	return marshalResult(state)
}

// handleReset deletes the instance's persisted state.
func (s *SteplineServer) handleReset(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}

	if resetErr := s.service.Reset(ctx, instanceID); resetErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reset failed: %v", resetErr)), nil
	}
	return marshalResult(map[string]any{"instance_id": instanceID, "reset": true})
}

// handleDefine registers a workflow definition.
func (s *SteplineServer) handleDefine(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	raw, marshalErr := json.Marshal(defRaw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", marshalErr)), nil
	}

	def, regErr := s.registry.RegisterRaw(raw)
	if regErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("definition rejected: %v", regErr)), nil
	}

	return marshalResult(map[string]any{
		"name":  def.Name,
		"steps": len(def.Steps),
	})
}

// handleHierarchy resolves a workflow's composition tree.
func (s *SteplineServer) handleHierarchy(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflow, err := req.RequireString("workflow")
	if err != nil {
		return mcp.NewToolResultError("workflow is required"), nil
	}

	node, resolveErr := s.service.Hierarchy(ctx, workflow)
	if resolveErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("hierarchy resolution failed: %v", resolveErr)), nil
	}
	return marshalResult(node)
}

// marshalResult serializes v as indented JSON into a text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
