package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stepline/stepline/internal/actions"
	"github.com/stepline/stepline/internal/expressions"
	"github.com/stepline/stepline/internal/logging"
	"github.com/stepline/stepline/internal/metrics"
	"github.com/stepline/stepline/internal/store"
	"github.com/stepline/stepline/internal/streaming"
	"github.com/stepline/stepline/pkg/schema"
)

// Executor is the central instance execution coordinator. Exactly one
// step is executed per ExecuteNextStep call; every mutation is
// persisted before the call returns.
type Executor interface {
	// Initialize creates the persisted state for an instance at step 0,
	// or returns the existing state unchanged. It never advances a step.
	Initialize(ctx context.Context, def *schema.WorkflowDefinition, instanceID string) (*store.ExecutionState, error)

	// InitializeWithInputs is Initialize with extra variable bindings
	// layered over the definition's defaults. Ignored when the instance
	// already exists.
	InitializeWithInputs(ctx context.Context, def *schema.WorkflowDefinition, instanceID string, inputs map[string]any) (*store.ExecutionState, error)

	// ExecuteNextStep runs at most one step of the instance.
	ExecuteNextStep(ctx context.Context, instanceID string) (*ExecutionResult, error)

	// SubmitInput delivers a value to an instance suspended on an elicit
	// step. stepIndex must exactly match the stored waiting marker or
	// the submission is rejected and state is left untouched.
	SubmitInput(ctx context.Context, instanceID string, stepIndex int, value any) (*ExecutionResult, error)

	// Pause marks the instance paused without touching the cursor.
	Pause(ctx context.Context, instanceID string) error

	// Resume clears the paused mark.
	Resume(ctx context.Context, instanceID string) error

	// Reset deletes the persisted state entirely.
	Reset(ctx context.Context, instanceID string) error

	// State returns a deep-copied snapshot of the persisted state.
	State(ctx context.Context, instanceID string) (*store.ExecutionState, error)

	// Hierarchy resolves the named workflow's composition tree.
	Hierarchy(ctx context.Context, name string) (*HierarchyNode, error)
}

// ExecutorDeps holds the dependencies injected into the executor.
// Hub, Metrics and Logger are optional.
type ExecutorDeps struct {
	Store       store.StateStore
	Registry    *actions.Registry
	Definitions DefinitionSource
	Hub         streaming.EventHub
	Metrics     metrics.Recorder
	Logger      *slog.Logger
}

// executorImpl is the concrete Executor implementation.
type executorImpl struct {
	store     store.StateStore
	registry  *actions.Registry
	defs      DefinitionSource
	fsm       *InstanceFSM
	hierarchy *HierarchyResolver
	interp    *expressions.Interpolator
	cel       *expressions.CELEngine
	hub       streaming.EventHub
	metrics   metrics.Recorder
	logger    *slog.Logger

	// mu guards locks. Each instance gets its own mutex so calls for
	// the same instance serialize while distinct instances proceed in
	// parallel.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(deps ExecutorDeps) (Executor, error) {
	if deps.Store == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "executor requires a state store")
	}
	if deps.Registry == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "executor requires an action registry")
	}
	if deps.Definitions == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "executor requires a definition source")
	}

	celEngine, err := expressions.NewCELEngine()
	if err != nil {
		return nil, err
	}

	if deps.Metrics == nil {
		deps.Metrics = metrics.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	return &executorImpl{
		store:     deps.Store,
		registry:  deps.Registry,
		defs:      deps.Definitions,
		fsm:       NewInstanceFSM(),
		hierarchy: NewHierarchyResolver(deps.Definitions, 0),
		interp:    expressions.NewInterpolator(),
		cel:       celEngine,
		hub:       deps.Hub,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// lockInstance returns the mutex serializing calls for one instance.
func (e *executorImpl) lockInstance(instanceID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[instanceID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[instanceID] = l
	}
	return l
}

// Initialize creates or re-loads the instance state. Calling it twice
// with the same instanceID is a no-op returning the existing state.
func (e *executorImpl) Initialize(ctx context.Context, def *schema.WorkflowDefinition, instanceID string) (*store.ExecutionState, error) {
	return e.initialize(ctx, def, instanceID, nil)
}

// InitializeWithInputs layers inputs over the definition defaults at
// creation time.
func (e *executorImpl) InitializeWithInputs(ctx context.Context, def *schema.WorkflowDefinition, instanceID string, inputs map[string]any) (*store.ExecutionState, error) {
	return e.initialize(ctx, def, instanceID, inputs)
}

func (e *executorImpl) initialize(ctx context.Context, def *schema.WorkflowDefinition, instanceID string, inputs map[string]any) (*store.ExecutionState, error) {
	if def == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	if err := schema.ValidateDefinition(def).ToError(); err != nil {
		return nil, err
	}
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	l := e.lockInstance(instanceID)
	l.Lock()
	defer l.Unlock()

	existing, err := e.store.Load(ctx, instanceID)
	if err == nil {
		return existing.Clone(), nil
	}
	if schema.CodeOf(err) != schema.ErrCodeNotFound {
		return nil, err
	}

	state := store.NewExecutionState(instanceID, def.Name, def.Defaults)
	for k, v := range inputs {
		state.Variables[k] = v
	}
	if err := e.store.Save(ctx, state); err != nil {
		return nil, err
	}

	logging.LogWith(ctx, e.logger).Info("instance initialized",
		slog.String("instance_id", instanceID),
		slog.String("workflow", def.Name),
	)
	return state.Clone(), nil
}

// ExecuteNextStep runs at most one step. Completed and waiting
// instances are success no-ops returning their current snapshot.
func (e *executorImpl) ExecuteNextStep(ctx context.Context, instanceID string) (*ExecutionResult, error) {
	l := e.lockInstance(instanceID)
	l.Lock()
	defer l.Unlock()

	state, err := e.store.Load(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	switch StatusOf(state) {
	case StatusInstanceDone:
		return completed(state.Clone()), nil
	case StatusWaitingForInput:
		return waiting(state.Clone()), nil
	}
	if state.Paused {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "instance %q is paused", instanceID)
	}

	def, err := e.defs.Definition(ctx, state.Workflow)
	if err != nil {
		return nil, err
	}
	if state.CurrentStepIndex >= len(def.Steps) {
		// Cursor past the end without the completed mark: reconcile.
		return e.finish(ctx, state)
	}

	index := state.CurrentStepIndex
	step := def.Steps[index]
	ctx = logging.WithInstanceID(ctx, instanceID)
	ctx = logging.WithWorkflow(ctx, state.Workflow)
	ctx = logging.WithStepIndex(ctx, index)
	logger := logging.LogWith(ctx, e.logger)

	if step.Guard != "" {
		pass, err := e.cel.EvaluateBool(ctx, step.Guard, state.Variables)
		if err != nil {
			return failed(asSteplineError(err,
				"guard for step %q failed", step.Name).WithStep(index), state.Clone()), nil
		}
		if !pass {
			logger.Info("step skipped by guard", slog.String("step", step.Name))
			e.publish(ctx, state, step.Name, streaming.EventStepSkipped, nil)
			e.metrics.StepExecuted(state.Workflow, string(step.Kind), "skipped", 0)
			state.CurrentStepIndex++
			return e.persistAdvance(ctx, state, len(def.Steps))
		}
	}

	params := step.Params
	if expressions.HasInterpolation(params) {
		params, err = e.interp.Resolve(ctx, step.Params, state.Variables)
		if err != nil {
			return failed(asSteplineError(err,
				"params for step %q failed to resolve", step.Name).WithStep(index), state.Clone()), nil
		}
	}

	req := actions.Request{
		InstanceID: instanceID,
		Workflow:   state.Workflow,
		StepIndex:  index,
		Step:       step,
		Params:     params,
		Variables:  state.Clone().Variables,
	}

	started := time.Now()
	outcome := e.registry.Dispatch(ctx, req)
	elapsed := time.Since(started)

	switch outcome.Kind {
	case actions.OutcomeContinue:
		if outcome.HasValue {
			state.Variables[outcome.Variable] = outcome.Value
		}
		state.CurrentStepIndex++
		e.metrics.StepExecuted(state.Workflow, string(step.Kind), "advanced", elapsed)
		e.publish(ctx, state, step.Name, streaming.EventStepCompleted, nil)
		logger.Info("step executed", slog.String("step", step.Name), slog.String("kind", string(step.Kind)))
		return e.persistAdvance(ctx, state, len(def.Steps))

	case actions.OutcomeSuspend:
		if err := e.fsm.Transition(instanceID, StatusRunning, StatusWaitingForInput); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		state.Waiting = &store.WaitingMarker{
			Variable:  outcome.Variable,
			StepIndex: outcome.StepIndex,
		}
		// A persisted waiting marker always travels with the paused mark.
		state.Paused = true
		state.PausedAt = &now
		state.UpdatedAt = now
		if err := e.store.Save(ctx, state); err != nil {
			return nil, err
		}
		e.metrics.StepExecuted(state.Workflow, string(step.Kind), "waiting", elapsed)
		e.metrics.InstanceWaiting(1)
		e.publish(ctx, state, step.Name, streaming.EventInstanceWaiting, map[string]any{
			"variable": outcome.Variable,
		})
		logger.Info("instance waiting for input",
			slog.String("step", step.Name),
			slog.String("variable", outcome.Variable),
		)
		return waiting(state.Clone()), nil

	case actions.OutcomeFailed:
		e.metrics.StepExecuted(state.Workflow, string(step.Kind), "failed", elapsed)
		stepErr := asSteplineError(outcome.Err, "step %q failed", step.Name)
		if !stepErr.HasStep() {
			stepErr = stepErr.WithStep(index)
		}
		logger.Error("step failed",
			slog.String("step", step.Name),
			slog.String("error", stepErr.Error()),
		)
		// Nothing was persisted: the same call can be retried verbatim.
		return failed(stepErr, state.Clone()), nil

	default:
		return nil, schema.NewErrorf(schema.ErrCodeHandler, "unknown outcome kind %d from step %q", outcome.Kind, step.Name)
	}
}

// persistAdvance saves the advanced cursor, marking completion when it
// moved past the last step.
func (e *executorImpl) persistAdvance(ctx context.Context, state *store.ExecutionState, stepCount int) (*ExecutionResult, error) {
	if state.CurrentStepIndex >= stepCount {
		return e.finish(ctx, state)
	}
	state.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(ctx, state); err != nil {
		return nil, err
	}
	return advanced(state.Clone()), nil
}

// finish marks the instance completed and persists it.
func (e *executorImpl) finish(ctx context.Context, state *store.ExecutionState) (*ExecutionResult, error) {
	if !state.Completed {
		if err := e.fsm.Transition(state.InstanceID, StatusRunning, StatusInstanceDone); err != nil {
			return nil, err
		}
		state.Completed = true
		state.UpdatedAt = time.Now().UTC()
		if err := e.store.Save(ctx, state); err != nil {
			return nil, err
		}
		e.metrics.InstanceCompleted(state.Workflow)
		e.publish(ctx, state, "", streaming.EventInstanceCompleted, nil)
		logging.LogWith(ctx, e.logger).Info("instance completed",
			slog.String("instance_id", state.InstanceID),
			slog.String("workflow", state.Workflow),
		)
	}
	return completed(state.Clone()), nil
}

// SubmitInput resolves a waiting marker. The stepIndex must match the
// stored marker exactly; any mismatch, including a second submission
// after the marker was already resolved, is rejected without touching
// persisted state.
//
// On a match the value is bound and the cursor moves to stepIndex+1 in
// this call. The elicit step's only work was the suspension, so the
// following ExecuteNextStep runs the next step rather than revisiting
// the elicit.
func (e *executorImpl) SubmitInput(ctx context.Context, instanceID string, stepIndex int, value any) (*ExecutionResult, error) {
	l := e.lockInstance(instanceID)
	l.Lock()
	defer l.Unlock()

	state, err := e.store.Load(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if state.Completed {
		return nil, schema.NewErrorf(schema.ErrCodeInputRejected,
			"instance %q is completed and accepts no input", instanceID)
	}
	if state.Waiting == nil {
		return nil, schema.NewErrorf(schema.ErrCodeInputRejected,
			"instance %q is not waiting for input", instanceID)
	}
	if state.Waiting.StepIndex != stepIndex {
		return nil, schema.NewErrorf(schema.ErrCodeInputRejected,
			"input for step %d rejected: instance %q is waiting at step %d",
			stepIndex, instanceID, state.Waiting.StepIndex).
			WithDetails(map[string]any{"expected": state.Waiting.StepIndex, "got": stepIndex})
	}

	if err := e.fsm.Transition(instanceID, StatusWaitingForInput, StatusRunning); err != nil {
		return nil, err
	}

	variable := state.Waiting.Variable
	state.Variables[variable] = value
	state.Waiting = nil
	state.Paused = false
	state.PausedAt = nil
	state.CurrentStepIndex = stepIndex + 1
	state.UpdatedAt = time.Now().UTC()

	def, err := e.defs.Definition(ctx, state.Workflow)
	if err != nil {
		return nil, err
	}

	e.metrics.InstanceWaiting(-1)
	e.publish(ctx, state, "", streaming.EventInputReceived, map[string]any{
		"variable": variable,
	})
	logging.LogWith(ctx, e.logger).Info("input received",
		slog.String("instance_id", instanceID),
		slog.String("variable", variable),
		slog.Int("step_index", stepIndex),
	)
	return e.persistAdvance(ctx, state, len(def.Steps))
}

// Pause marks the instance paused. The cursor and waiting marker are
// left untouched so Resume restores exactly where it stopped.
func (e *executorImpl) Pause(ctx context.Context, instanceID string) error {
	l := e.lockInstance(instanceID)
	l.Lock()
	defer l.Unlock()

	state, err := e.store.Load(ctx, instanceID)
	if err != nil {
		return err
	}
	if state.Completed {
		return schema.NewErrorf(schema.ErrCodeConflict, "instance %q is completed", instanceID)
	}
	if state.Paused {
		return nil
	}

	now := time.Now().UTC()
	state.Paused = true
	state.PausedAt = &now
	state.UpdatedAt = now
	if err := e.store.Save(ctx, state); err != nil {
		return err
	}
	e.publish(ctx, state, "", streaming.EventInstancePaused, nil)
	return nil
}

// Resume clears the paused mark. A waiting instance stays paused until
// its input arrives; SubmitInput is the only way out of suspension.
func (e *executorImpl) Resume(ctx context.Context, instanceID string) error {
	l := e.lockInstance(instanceID)
	l.Lock()
	defer l.Unlock()

	state, err := e.store.Load(ctx, instanceID)
	if err != nil {
		return err
	}
	if state.Waiting != nil {
		return schema.NewErrorf(schema.ErrCodeConflict,
			"instance %q is waiting for input; submit input to resume", instanceID)
	}
	if !state.Paused {
		return nil
	}

	state.Paused = false
	state.PausedAt = nil
	state.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(ctx, state); err != nil {
		return err
	}
	e.publish(ctx, state, "", streaming.EventInstanceResumed, nil)
	return nil
}

// Reset deletes the persisted state entirely. A later Initialize starts
// the instance from scratch at step 0.
func (e *executorImpl) Reset(ctx context.Context, instanceID string) error {
	l := e.lockInstance(instanceID)
	l.Lock()
	defer l.Unlock()

	state, err := e.store.Load(ctx, instanceID)
	if err != nil {
		if schema.CodeOf(err) == schema.ErrCodeNotFound {
			e.forgetLock(instanceID)
			return nil
		}
		return err
	}
	if state.Waiting != nil {
		e.metrics.InstanceWaiting(-1)
	}
	if err := e.store.Delete(ctx, instanceID); err != nil {
		return err
	}
	e.forgetLock(instanceID)
	e.publish(ctx, state, "", streaming.EventInstanceReset, nil)
	logging.LogWith(ctx, e.logger).Info("instance reset", slog.String("instance_id", instanceID))
	return nil
}

// forgetLock drops the per-instance mutex entry so cycling many instance
// ids does not grow the map forever. A racer still holding the old mutex
// at most serializes against itself; the state is already gone, so it
// sees NOT_FOUND or starts fresh.
func (e *executorImpl) forgetLock(instanceID string) {
	e.mu.Lock()
	delete(e.locks, instanceID)
	e.mu.Unlock()
}

// State returns a deep-copied snapshot.
func (e *executorImpl) State(ctx context.Context, instanceID string) (*store.ExecutionState, error) {
	state, err := e.store.Load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

// Hierarchy resolves the named workflow's composition tree.
func (e *executorImpl) Hierarchy(ctx context.Context, name string) (*HierarchyNode, error) {
	return e.hierarchy.Resolve(ctx, name)
}

// RunSubWorkflow drives a child instance to completion synchronously.
// It satisfies actions.SubWorkflowRunner and is wired into the registry
// after construction. A child that suspends on an elicit step cannot
// complete inside its parent's step, so suspension is an error here.
func (e *executorImpl) RunSubWorkflow(ctx context.Context, workflow string, inputs map[string]any, parentID string) (map[string]any, error) {
	// Static cycle check before spinning up the child.
	if _, err := e.hierarchy.Resolve(ctx, workflow); err != nil {
		return nil, err
	}

	def, err := e.defs.Definition(ctx, workflow)
	if err != nil {
		return nil, err
	}

	childID := parentID + ":" + workflow + ":" + uuid.NewString()
	if _, err := e.initialize(ctx, def, childID, inputs); err != nil {
		return nil, err
	}

	for {
		res, err := e.ExecuteNextStep(ctx, childID)
		if err != nil {
			return nil, err
		}
		switch res.Status {
		case StatusAdvanced:
			continue
		case StatusCompleted:
			return res.State.Variables, nil
		case StatusWaiting:
			return nil, schema.NewErrorf(schema.ErrCodeHandler,
				"child workflow %q suspended at step %d; elicit steps cannot run inside a parent step",
				workflow, res.State.Waiting.StepIndex)
		case StatusFailed:
			return nil, res.Err
		default:
			return nil, schema.NewErrorf(schema.ErrCodeHandler,
				"child workflow %q returned unknown status %q", workflow, res.Status)
		}
	}
}

// SubWorkflowRunnerOf extracts the sub-workflow runner from an Executor
// built by NewExecutor, for late-binding into the action registry.
func SubWorkflowRunnerOf(exec Executor) actions.SubWorkflowRunner {
	impl, ok := exec.(*executorImpl)
	if !ok {
		return nil
	}
	return impl.RunSubWorkflow
}

// publish sends a streaming event, best effort.
func (e *executorImpl) publish(ctx context.Context, state *store.ExecutionState, stepName, eventType string, payload any) {
	if e.hub == nil {
		return
	}
	_ = e.hub.Publish(ctx, streaming.StepEvent{
		InstanceID: state.InstanceID,
		Workflow:   state.Workflow,
		StepIndex:  state.CurrentStepIndex,
		StepName:   stepName,
		EventType:  eventType,
		Payload:    payload,
	})
}

// asSteplineError coerces err into a *schema.SteplineError, wrapping
// foreign errors with the given message.
func asSteplineError(err error, format string, args ...any) *schema.SteplineError {
	var slErr *schema.SteplineError
	if errors.As(err, &slErr) {
		return slErr
	}
	return schema.NewErrorf(schema.ErrCodeHandler, format, args...).WithCause(err)
}
