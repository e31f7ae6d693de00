package world

import (
	"context"
	"time"
)

// RowStore is the persistence contract the record store runs on. Adapters
// live in the store package.
//
// Insert methods must be a single atomic conditional insert and return a
// CONFLICT error when the primary key (or a hook token) already exists.
// Get methods return NOT_FOUND for absent rows. Update methods overwrite the
// stored row and return NOT_FOUND when the row is absent or, if expect is
// non-empty, when its current status differs from expect. Query methods
// return at most q.Page.Limit rows ordered by id in q.Page.Order, bounded by
// the cursor when one is set.
type RowStore interface {
	// Runs
	InsertRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, runID string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run, expect RunStatus) error
	QueryRuns(ctx context.Context, q RunQuery) ([]*Run, error)

	// Events
	InsertEvent(ctx context.Context, event *Event) error
	GetEvent(ctx context.Context, eventID string) (*Event, error)
	QueryEvents(ctx context.Context, q EventQuery) ([]*Event, error)

	// Steps
	InsertStep(ctx context.Context, step *Step) error
	GetStep(ctx context.Context, stepID string) (*Step, error)
	UpdateStep(ctx context.Context, step *Step) error
	QuerySteps(ctx context.Context, q StepQuery) ([]*Step, error)

	// Hooks
	InsertHook(ctx context.Context, hook *Hook) error
	GetHook(ctx context.Context, hookID string) (*Hook, error)
	GetHookByToken(ctx context.Context, token string) (*Hook, error)
	QueryHooks(ctx context.Context, q HookQuery) ([]*Hook, error)
}

// PageQuery is the cursor window handed to a RowStore query
type PageQuery struct {
	Limit  int
	Cursor string
	Order  SortOrder
}

// After reports whether id lies beyond the cursor in the page direction
func (p PageQuery) After(id string) bool {
	if p.Cursor == "" {
		return true
	}
	if p.Order == SortDesc {
		return id < p.Cursor
	}
	return id > p.Cursor
}

// RunQuery selects runs
type RunQuery struct {
	RunFilter
	Page PageQuery
}

// EventQuery selects events
type EventQuery struct {
	EventFilter
	Page PageQuery
}

// StepQuery selects steps
type StepQuery struct {
	StepFilter
	Page PageQuery
}

// HookQuery selects hooks
type HookQuery struct {
	HookFilter
	Page PageQuery
}

// OutboundMessage is one envelope handed to a lane for publishing
type OutboundMessage struct {
	ID   string
	Body []byte
}

// Delivery is one message received from a lane. Receipt identifies it for
// Ack and Retry; Attempt counts deliveries starting at 1.
type Delivery struct {
	Receipt string
	Body    []byte
	Attempt int
}

// LaneTransport is a named message lane with at-least-once delivery
type LaneTransport interface {
	Publish(ctx context.Context, msg OutboundMessage) error
	Receive(ctx context.Context, max int) ([]Delivery, error)
	Ack(ctx context.Context, receipt string) error
	Retry(ctx context.Context, receipt string, delay time.Duration) error
}

// BlobStore is a key/blob object store. Get returns NOT_FOUND for missing
// keys; List returns keys with the prefix in ascending order.
type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// Processor receives decoded jobs from the dispatcher. A returned error
// requests redelivery of the message.
type Processor interface {
	Process(ctx context.Context, job Job) error
}

// ProcessorFunc adapts a function to the Processor interface
type ProcessorFunc func(ctx context.Context, job Job) error

// Process calls f(ctx, job)
func (f ProcessorFunc) Process(ctx context.Context, job Job) error {
	return f(ctx, job)
}
