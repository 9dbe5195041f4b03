package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/stepline/stepline/internal/store"
)

// InstanceLister is the slice of the store the service needs beyond the
// executor's own access.
type InstanceLister interface {
	List(ctx context.Context) ([]string, error)
}

// Service is the facade the outer surfaces (HTTP, MCP, CLI, scheduler)
// drive the engine through. It owns instance-ID generation and the
// pairing of executor calls with the background runner.
type Service struct {
	exec   Executor
	runner *Runner
	defs   DefinitionSource
	lister InstanceLister
}

// NewService builds a Service. runner may be nil when callers only ever
// single-step instances.
func NewService(exec Executor, runner *Runner, defs DefinitionSource, lister InstanceLister) *Service {
	return &Service{exec: exec, runner: runner, defs: defs, lister: lister}
}

// StartInstance creates an instance of the named workflow and, when a
// runner is configured, starts driving it in the background. Satisfies
// scheduler.InstanceStarter.
func (s *Service) StartInstance(ctx context.Context, workflow string, inputs map[string]any) (string, error) {
	def, err := s.defs.Definition(ctx, workflow)
	if err != nil {
		return "", err
	}

	instanceID := uuid.NewString()
	if _, err := s.exec.InitializeWithInputs(ctx, def, instanceID, inputs); err != nil {
		return "", err
	}

	if s.runner != nil {
		if err := s.runner.Start(context.WithoutCancel(ctx), instanceID); err != nil {
			return "", err
		}
	}
	return instanceID, nil
}

// Step executes exactly one step of the instance.
func (s *Service) Step(ctx context.Context, instanceID string) (*ExecutionResult, error) {
	return s.exec.ExecuteNextStep(ctx, instanceID)
}

// SubmitInput delivers a value to a waiting instance and, when a runner
// is configured, resumes background driving.
func (s *Service) SubmitInput(ctx context.Context, instanceID string, stepIndex int, value any) (*ExecutionResult, error) {
	res, err := s.exec.SubmitInput(ctx, instanceID, stepIndex, value)
	if err != nil {
		return nil, err
	}
	if s.runner != nil && res.Status == StatusAdvanced {
		if err := s.runner.Resume(context.WithoutCancel(ctx), instanceID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Pause marks the instance paused and stops its background driver.
func (s *Service) Pause(ctx context.Context, instanceID string) error {
	if s.runner != nil {
		s.runner.Stop(instanceID)
	}
	return s.exec.Pause(ctx, instanceID)
}

// Resume clears the paused mark and restarts background driving.
func (s *Service) Resume(ctx context.Context, instanceID string) error {
	if err := s.exec.Resume(ctx, instanceID); err != nil {
		return err
	}
	if s.runner != nil {
		return s.runner.Resume(context.WithoutCancel(ctx), instanceID)
	}
	return nil
}

// Reset stops any background driver and deletes the instance state.
func (s *Service) Reset(ctx context.Context, instanceID string) error {
	if s.runner != nil {
		s.runner.Stop(instanceID)
	}
	return s.exec.Reset(ctx, instanceID)
}

// State returns a deep-copied snapshot of the instance.
func (s *Service) State(ctx context.Context, instanceID string) (*store.ExecutionState, error) {
	return s.exec.State(ctx, instanceID)
}

// Hierarchy resolves the named workflow's composition tree.
func (s *Service) Hierarchy(ctx context.Context, name string) (*HierarchyNode, error) {
	return s.exec.Hierarchy(ctx, name)
}

// Instances lists the known instance IDs.
func (s *Service) Instances(ctx context.Context) ([]string, error) {
	if s.lister == nil {
		return nil, nil
	}
	return s.lister.List(ctx)
}

// Shutdown stops all background drivers.
func (s *Service) Shutdown() {
	if s.runner != nil {
		s.runner.StopAll()
	}
}
