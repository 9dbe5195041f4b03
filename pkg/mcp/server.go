// Package mcp exposes the engine to agents over the Model Context
// Protocol. Each tool is a thin adapter over the engine service; no
// workflow logic lives here.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/stepline/stepline/internal/engine"
	"github.com/stepline/stepline/internal/registry"
)

// SteplineServerDeps holds the dependencies for creating a SteplineServer.
type SteplineServerDeps struct {
	Service  *engine.Service
	Registry *registry.Registry
	Logger   *slog.Logger
}

// SteplineServer wraps an MCP server with stepline-specific tool handlers.
type SteplineServer struct {
	service   *engine.Service
	registry  *registry.Registry
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewSteplineServer creates a SteplineServer with all tools registered.
func NewSteplineServer(deps SteplineServerDeps) *SteplineServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &SteplineServer{
		service:  deps.Service,
		registry: deps.Registry,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"stepline",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Stepline executes step-list workflows that suspend on elicit steps until input arrives. Use stepline.start to create an instance, stepline.step to advance it one step, stepline.input to answer an elicit step, stepline.status to inspect state, stepline.reset to discard an instance, stepline.define to register a workflow, and stepline.hierarchy to see workflow composition."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *SteplineServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *SteplineServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *SteplineServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: stepTool(), Handler: s.handleStep},
		{Tool: inputTool(), Handler: s.handleInput},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: resetTool(), Handler: s.handleReset},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: hierarchyTool(), Handler: s.handleHierarchy},
	}
}

// --- Tool definitions ---

func startTool() mcp.Tool {
	return mcp.NewTool("stepline.start",
		mcp.WithDescription("Create an instance of a registered workflow"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the workflow definition to instantiate")),
		mcp.WithObject("inputs", mcp.Description("Initial variable bindings layered over the definition defaults")),
	)
}

func stepTool() mcp.Tool {
	return mcp.NewTool("stepline.step",
		mcp.WithDescription("Execute exactly one step of an instance"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the instance to advance")),
	)
}

func inputTool() mcp.Tool {
	return mcp.NewTool("stepline.input",
		mcp.WithDescription("Answer an elicit step the instance is waiting on"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the waiting instance")),
		mcp.WithNumber("step_index", mcp.Required(), mcp.Description("Step index from the waiting marker; must match exactly")),
		mcp.WithObject("value", mcp.Description("The value to bind to the waiting variable")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("stepline.status",
		mcp.WithDescription("Get an instance's execution state snapshot"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the instance to query")),
	)
}

func resetTool() mcp.Tool {
	return mcp.NewTool("stepline.reset",
		mcp.WithDescription("Delete an instance's persisted state entirely"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the instance to reset")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("stepline.define",
		mcp.WithDescription("Register a workflow definition"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition object with name and steps")),
	)
}

func hierarchyTool() mcp.Tool {
	return mcp.NewTool("stepline.hierarchy",
		mcp.WithDescription("Resolve a workflow's sub-workflow composition tree"),
		mcp.WithString("workflow", mcp.Required(), mcp.Description("Name of the workflow to expand")),
	)
}
