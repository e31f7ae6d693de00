package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sicko7947/world"
)

// MemoryStore implements world.RowStore using in-memory storage (for testing)
type MemoryStore struct {
	runs   map[string]*world.Run
	events map[string]*world.Event
	steps  map[string]*world.Step
	hooks  map[string]*world.Hook
	tokens map[string]string // token -> hookID
	mu     sync.RWMutex
}

var _ world.RowStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory row store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		runs:   make(map[string]*world.Run),
		events: make(map[string]*world.Event),
		steps:  make(map[string]*world.Step),
		hooks:  make(map[string]*world.Hook),
		tokens: make(map[string]string),
	}
}

// Run operations

func (s *MemoryStore) InsertRun(ctx context.Context, run *world.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.RunID]; exists {
		return world.Conflict("run", run.RunID)
	}

	// Deep copy
	runCopy := copyRun(run)
	s.runs[run.RunID] = runCopy
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, runID string) (*world.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, world.NotFound("run", runID)
	}
	return copyRun(run), nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, run *world.Run, expect world.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.runs[run.RunID]
	if !exists {
		return world.NotFound("run", run.RunID)
	}
	if expect != "" && current.Status != expect {
		return world.NotFound("run with status "+expect.String(), run.RunID)
	}

	s.runs[run.RunID] = copyRun(run)
	return nil
}

func (s *MemoryStore) QueryRuns(ctx context.Context, q world.RunQuery) ([]*world.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runs []*world.Run
	for _, run := range s.runs {
		// Apply filters
		if q.WorkflowName != "" && run.WorkflowName != q.WorkflowName {
			continue
		}
		if q.Status != "" && run.Status != q.Status {
			continue
		}
		runs = append(runs, run)
	}

	runs = pageWindow(runs, q.Page, func(r *world.Run) string { return r.RunID })
	for i, run := range runs {
		runs[i] = copyRun(run)
	}
	return runs, nil
}

// Event operations

func (s *MemoryStore) InsertEvent(ctx context.Context, event *world.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.EventID]; exists {
		return world.Conflict("event", event.EventID)
	}
	s.events[event.EventID] = copyEvent(event)
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, eventID string) (*world.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, exists := s.events[eventID]
	if !exists {
		return nil, world.NotFound("event", eventID)
	}
	return copyEvent(event), nil
}

func (s *MemoryStore) QueryEvents(ctx context.Context, q world.EventQuery) ([]*world.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*world.Event
	for _, event := range s.events {
		if q.RunID != "" && event.RunID != q.RunID {
			continue
		}
		if q.CorrelationID != "" && event.CorrelationID != q.CorrelationID {
			continue
		}
		events = append(events, copyEvent(event))
	}
	return pageWindow(events, q.Page, func(e *world.Event) string { return e.EventID }), nil
}

// Step operations

func (s *MemoryStore) InsertStep(ctx context.Context, step *world.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.steps[step.StepID]; exists {
		return world.Conflict("step", step.StepID)
	}
	s.steps[step.StepID] = copyStep(step)
	return nil
}

func (s *MemoryStore) GetStep(ctx context.Context, stepID string) (*world.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	step, exists := s.steps[stepID]
	if !exists {
		return nil, world.NotFound("step", stepID)
	}
	return copyStep(step), nil
}

func (s *MemoryStore) UpdateStep(ctx context.Context, step *world.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.steps[step.StepID]; !exists {
		return world.NotFound("step", step.StepID)
	}
	s.steps[step.StepID] = copyStep(step)
	return nil
}

func (s *MemoryStore) QuerySteps(ctx context.Context, q world.StepQuery) ([]*world.Step, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var steps []*world.Step
	for _, step := range s.steps {
		if step.RunID != q.RunID {
			continue
		}
		steps = append(steps, copyStep(step))
	}
	return pageWindow(steps, q.Page, func(st *world.Step) string { return st.StepID }), nil
}

// Hook operations

func (s *MemoryStore) InsertHook(ctx context.Context, hook *world.Hook) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.hooks[hook.HookID]; exists {
		return world.Conflict("hook", hook.HookID)
	}
	if _, exists := s.tokens[hook.Token]; exists {
		return world.Conflict("hook token", hook.Token)
	}

	s.hooks[hook.HookID] = copyHook(hook)
	s.tokens[hook.Token] = hook.HookID
	return nil
}

func (s *MemoryStore) GetHook(ctx context.Context, hookID string) (*world.Hook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hook, exists := s.hooks[hookID]
	if !exists {
		return nil, world.NotFound("hook", hookID)
	}
	return copyHook(hook), nil
}

func (s *MemoryStore) GetHookByToken(ctx context.Context, token string) (*world.Hook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hookID, exists := s.tokens[token]
	if !exists {
		return nil, world.NotFound("hook token", token)
	}
	return copyHook(s.hooks[hookID]), nil
}

func (s *MemoryStore) QueryHooks(ctx context.Context, q world.HookQuery) ([]*world.Hook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hooks []*world.Hook
	for _, hook := range s.hooks {
		if q.RunID != "" && hook.RunID != q.RunID {
			continue
		}
		hooks = append(hooks, copyHook(hook))
	}
	return pageWindow(hooks, q.Page, func(h *world.Hook) string { return h.HookID }), nil
}

// Deep copy helpers

func copyRun(run *world.Run) *world.Run {
	runCopy := *run
	if run.Input != nil {
		runCopy.Input = make([]json.RawMessage, len(run.Input))
		for i, in := range run.Input {
			runCopy.Input[i] = cloneBytes(in)
		}
	}
	runCopy.Output = cloneBytes(run.Output)
	runCopy.ExecutionContext = cloneBytes(run.ExecutionContext)
	if run.Error != nil {
		errCopy := *run.Error
		runCopy.Error = &errCopy
	}
	runCopy.StartedAt = cloneTime(run.StartedAt)
	runCopy.CompletedAt = cloneTime(run.CompletedAt)
	return &runCopy
}

func copyStep(step *world.Step) *world.Step {
	stepCopy := *step
	stepCopy.Input = cloneBytes(step.Input)
	stepCopy.Output = cloneBytes(step.Output)
	if step.Error != nil {
		stepCopy.Error = world.ToPtr(*step.Error)
	}
	if step.ErrorCode != nil {
		stepCopy.ErrorCode = world.ToPtr(*step.ErrorCode)
	}
	stepCopy.StartedAt = cloneTime(step.StartedAt)
	stepCopy.CompletedAt = cloneTime(step.CompletedAt)
	return &stepCopy
}

func copyEvent(event *world.Event) *world.Event {
	eventCopy := *event
	eventCopy.EventData = cloneBytes(event.EventData)
	return &eventCopy
}

func copyHook(hook *world.Hook) *world.Hook {
	hookCopy := *hook
	hookCopy.Metadata = cloneBytes(hook.Metadata)
	return &hookCopy
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
