package world

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// Records is the record store for runs, events, steps and hooks. It owns id
// generation, timestamp derivation and pagination; rows are persisted
// through a RowStore.
type Records struct {
	rows   RowStore
	ids    *IDGenerator
	now    func() time.Time
	config Config
	logger zerolog.Logger
}

// NewRecords creates a record store on top of rows
func NewRecords(rows RowStore, opts ...Option) *Records {
	s := newSettings(opts)
	return newRecords(rows, s)
}

func newRecords(rows RowStore, s *settings) *Records {
	return &Records{
		rows:   rows,
		ids:    s.ids,
		now:    s.now,
		config: s.config,
		logger: s.logger,
	}
}

func (r *Records) timestamp() time.Time {
	return truncateMillis(r.now())
}

// Runs

// CreateRun inserts a new pending run
func (r *Records) CreateRun(ctx context.Context, req CreateRunRequest) (*Run, error) {
	if req.WorkflowName == "" {
		return nil, InvalidArgument("workflowName is required")
	}

	runID := req.RunID
	if runID == "" {
		runID = r.ids.New(PrefixRun)
	}
	input := req.Input
	if input == nil {
		input = []json.RawMessage{}
	}

	now := r.timestamp()
	run := &Run{
		RunID:            runID,
		WorkflowName:     req.WorkflowName,
		DeploymentID:     req.DeploymentID,
		Status:           RunStatusPending,
		Input:            input,
		ExecutionContext: req.ExecutionContext,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := r.rows.InsertRun(ctx, run); err != nil {
		if IsTransient(err) {
			LogPersistenceError(r.logger, "run", runID, "insert", err)
		}
		return nil, err
	}

	LogRunCreated(r.logger, run.RunID, run.WorkflowName, run.DeploymentID)
	return run, nil
}

// GetRun loads a run by id
func (r *Records) GetRun(ctx context.Context, runID string) (*Run, error) {
	return r.rows.GetRun(ctx, runID)
}

// UpdateRun applies a field-level patch and derives startedAt/completedAt
func (r *Records) UpdateRun(ctx context.Context, runID string, update RunUpdate) (*Run, error) {
	if update.Status != nil && !update.Status.Valid() {
		return nil, InvalidArgument("invalid run status %q", *update.Status)
	}

	run, err := r.rows.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	from := run.Status

	if update.Status != nil {
		applyRunStatus(run, *update.Status, r.timestamp())
	}
	if update.Output != nil {
		run.Output = update.Output
	}
	if update.ExecutionContext != nil {
		run.ExecutionContext = update.ExecutionContext
	}
	if update.Error != nil {
		run.Error = update.Error
	}
	run.UpdatedAt = r.timestamp()

	if err := r.rows.UpdateRun(ctx, run, ""); err != nil {
		if IsTransient(err) {
			LogPersistenceError(r.logger, "run", runID, "update", err)
		}
		return nil, err
	}

	if run.Status != from {
		LogRunTransition(r.logger, run.RunID, from, run.Status)
	}
	return run, nil
}

// ListRuns pages through runs, newest first by default
func (r *Records) ListRuns(ctx context.Context, filter RunFilter, params ListParams) (Page[*Run], error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return Page[*Run]{}, InvalidArgument("invalid run status %q", filter.Status)
	}
	q, err := params.pageQuery(r.config.DefaultRunPageLimit, r.config.MaxPageLimit, SortDesc)
	if err != nil {
		return Page[*Run]{}, err
	}

	runs, err := r.rows.QueryRuns(ctx, RunQuery{RunFilter: filter, Page: q})
	if err != nil {
		return Page[*Run]{}, err
	}
	return paginate(runs, q, func(run *Run) string { return run.RunID }), nil
}

// CancelRun moves a run to cancelled
func (r *Records) CancelRun(ctx context.Context, runID string) (*Run, error) {
	return r.UpdateRun(ctx, runID, RunUpdate{Status: ToPtr(RunStatusCancelled)})
}

// PauseRun moves a run to paused regardless of its current status
func (r *Records) PauseRun(ctx context.Context, runID string) (*Run, error) {
	return r.UpdateRun(ctx, runID, RunUpdate{Status: ToPtr(RunStatusPaused)})
}

// ResumeRun moves a paused run back to running. The write is conditional on
// the stored status still being paused; any other status is reported as
// NOT_FOUND and leaves the row untouched.
func (r *Records) ResumeRun(ctx context.Context, runID string) (*Run, error) {
	run, err := r.rows.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status != RunStatusPaused {
		return nil, NotFound("paused run", runID)
	}

	now := r.timestamp()
	applyRunStatus(run, RunStatusRunning, now)
	run.UpdatedAt = now

	if err := r.rows.UpdateRun(ctx, run, RunStatusPaused); err != nil {
		if IsNotFound(err) {
			return nil, NotFound("paused run", runID)
		}
		return nil, err
	}

	LogRunTransition(r.logger, run.RunID, RunStatusPaused, RunStatusRunning)
	return run, nil
}

// applyRunStatus sets status and the single-set timestamps
func applyRunStatus(run *Run, status RunStatus, now time.Time) {
	switch status {
	case RunStatusRunning:
		if run.StartedAt == nil {
			run.StartedAt = ToPtr(now)
		}
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		if run.CompletedAt == nil {
			run.CompletedAt = ToPtr(now)
		}
	case RunStatusPending, RunStatusPaused:
	}
	run.Status = status
}

// Events

// CreateEvent appends an event to a run's log
func (r *Records) CreateEvent(ctx context.Context, req CreateEventRequest) (*Event, error) {
	if req.RunID == "" {
		return nil, InvalidArgument("runId is required")
	}
	if req.EventType == "" {
		return nil, InvalidArgument("eventType is required")
	}

	event := &Event{
		EventID:       r.ids.New(PrefixEvent),
		RunID:         req.RunID,
		CorrelationID: req.CorrelationID,
		EventType:     req.EventType,
		EventData:     req.EventData,
		CreatedAt:     r.timestamp(),
	}
	if err := r.rows.InsertEvent(ctx, event); err != nil {
		return nil, err
	}
	return event, nil
}

// GetEvent loads an event by id
func (r *Records) GetEvent(ctx context.Context, eventID string) (*Event, error) {
	return r.rows.GetEvent(ctx, eventID)
}

// ListEvents pages through events in creation order by default
func (r *Records) ListEvents(ctx context.Context, filter EventFilter, params ListParams) (Page[*Event], error) {
	if filter.RunID == "" && filter.CorrelationID == "" {
		return Page[*Event]{}, InvalidArgument("runId or correlationId is required")
	}
	q, err := params.pageQuery(r.config.DefaultPageLimit, r.config.MaxPageLimit, SortAsc)
	if err != nil {
		return Page[*Event]{}, err
	}

	events, err := r.rows.QueryEvents(ctx, EventQuery{EventFilter: filter, Page: q})
	if err != nil {
		return Page[*Event]{}, err
	}
	return paginate(events, q, func(e *Event) string { return e.EventID }), nil
}

// Steps

// CreateStep inserts a pending step at attempt 1
func (r *Records) CreateStep(ctx context.Context, req CreateStepRequest) (*Step, error) {
	if req.RunID == "" {
		return nil, InvalidArgument("runId is required")
	}
	if req.StepName == "" {
		return nil, InvalidArgument("stepName is required")
	}

	stepID := req.StepID
	if stepID == "" {
		stepID = r.ids.New(PrefixStep)
	}

	now := r.timestamp()
	step := &Step{
		StepID:    stepID,
		RunID:     req.RunID,
		StepName:  req.StepName,
		Status:    StepStatusPending,
		Attempt:   1,
		Input:     req.Input,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.rows.InsertStep(ctx, step); err != nil {
		return nil, err
	}
	return step, nil
}

// GetStep loads a step by id
func (r *Records) GetStep(ctx context.Context, stepID string) (*Step, error) {
	return r.rows.GetStep(ctx, stepID)
}

// UpdateStep applies a field-level patch and derives startedAt/completedAt
func (r *Records) UpdateStep(ctx context.Context, stepID string, update StepUpdate) (*Step, error) {
	if update.Status != nil && !update.Status.Valid() {
		return nil, InvalidArgument("invalid step status %q", *update.Status)
	}
	if update.Attempt != nil && *update.Attempt < 1 {
		return nil, InvalidArgument("attempt must be at least 1")
	}

	step, err := r.rows.GetStep(ctx, stepID)
	if err != nil {
		return nil, err
	}
	from := step.Status

	if update.Status != nil {
		applyStepStatus(step, *update.Status, r.timestamp())
	}
	if update.Output != nil {
		step.Output = update.Output
	}
	if update.Error != nil {
		step.Error = update.Error
	}
	if update.ErrorCode != nil {
		step.ErrorCode = update.ErrorCode
	}
	if update.Attempt != nil {
		step.Attempt = *update.Attempt
	}
	step.UpdatedAt = r.timestamp()

	if err := r.rows.UpdateStep(ctx, step); err != nil {
		return nil, err
	}

	if step.Status != from {
		LogStepTransition(r.logger, step.RunID, step.StepID, from, step.Status, step.Attempt)
	}
	return step, nil
}

// ListSteps pages through the steps of a run
func (r *Records) ListSteps(ctx context.Context, filter StepFilter, params ListParams) (Page[*Step], error) {
	if filter.RunID == "" {
		return Page[*Step]{}, InvalidArgument("runId is required")
	}
	q, err := params.pageQuery(r.config.DefaultPageLimit, r.config.MaxPageLimit, SortAsc)
	if err != nil {
		return Page[*Step]{}, err
	}

	steps, err := r.rows.QuerySteps(ctx, StepQuery{StepFilter: filter, Page: q})
	if err != nil {
		return Page[*Step]{}, err
	}
	return paginate(steps, q, func(s *Step) string { return s.StepID }), nil
}

// applyStepStatus sets status and the single-set timestamps
func applyStepStatus(step *Step, status StepStatus, now time.Time) {
	switch status {
	case StepStatusRunning:
		if step.StartedAt == nil {
			step.StartedAt = ToPtr(now)
		}
	case StepStatusCompleted, StepStatusFailed:
		if step.CompletedAt == nil {
			step.CompletedAt = ToPtr(now)
		}
	case StepStatusPending:
	}
	step.Status = status
}

// Hooks

// CreateHook registers a hook; the token must be unique
func (r *Records) CreateHook(ctx context.Context, req CreateHookRequest) (*Hook, error) {
	if req.RunID == "" {
		return nil, InvalidArgument("runId is required")
	}
	if req.Token == "" {
		return nil, InvalidArgument("token is required")
	}

	hookID := req.HookID
	if hookID == "" {
		hookID = r.ids.New(PrefixHook)
	}

	hook := &Hook{
		HookID:      hookID,
		RunID:       req.RunID,
		Token:       req.Token,
		OwnerID:     req.OwnerID,
		ProjectID:   req.ProjectID,
		Environment: req.Environment,
		Metadata:    req.Metadata,
		CreatedAt:   r.timestamp(),
	}
	if err := r.rows.InsertHook(ctx, hook); err != nil {
		return nil, err
	}
	return hook, nil
}

// GetHook loads a hook by id
func (r *Records) GetHook(ctx context.Context, hookID string) (*Hook, error) {
	return r.rows.GetHook(ctx, hookID)
}

// GetHookByToken loads a hook by its token
func (r *Records) GetHookByToken(ctx context.Context, token string) (*Hook, error) {
	return r.rows.GetHookByToken(ctx, token)
}

// ListHooks pages through hooks, optionally restricted to one run
func (r *Records) ListHooks(ctx context.Context, filter HookFilter, params ListParams) (Page[*Hook], error) {
	q, err := params.pageQuery(r.config.DefaultPageLimit, r.config.MaxPageLimit, SortAsc)
	if err != nil {
		return Page[*Hook]{}, err
	}

	hooks, err := r.rows.QueryHooks(ctx, HookQuery{HookFilter: filter, Page: q})
	if err != nil {
		return Page[*Hook]{}, err
	}
	return paginate(hooks, q, func(h *Hook) string { return h.HookID }), nil
}
