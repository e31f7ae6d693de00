package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sicko7947/world"
)

// DefaultVisibilityTimeout is how long a received message stays hidden
// before it is delivered again without an Ack
const DefaultVisibilityTimeout = 30 * time.Second

type memoryMessage struct {
	id        string
	body      []byte
	attempt   int
	visibleAt time.Time
	seq       int64
}

// MemoryLane implements world.LaneTransport in process. Messages that are
// received but neither acknowledged nor retried reappear after the
// visibility timeout.
type MemoryLane struct {
	messages   map[string]*memoryMessage
	visibility time.Duration
	now        func() time.Time
	seq        int64
	mu         sync.Mutex
}

var _ world.LaneTransport = (*MemoryLane)(nil)

// MemoryLaneOption configures a MemoryLane
type MemoryLaneOption func(*MemoryLane)

// WithVisibilityTimeout sets the redelivery timeout of unacknowledged messages
func WithVisibilityTimeout(d time.Duration) MemoryLaneOption {
	return func(l *MemoryLane) {
		l.visibility = d
	}
}

// WithLaneClock sets the clock, for tests
func WithLaneClock(now func() time.Time) MemoryLaneOption {
	return func(l *MemoryLane) {
		l.now = now
	}
}

// NewMemoryLane creates an empty in-memory lane
func NewMemoryLane(opts ...MemoryLaneOption) *MemoryLane {
	l := &MemoryLane{
		messages:   make(map[string]*memoryMessage),
		visibility: DefaultVisibilityTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Publish enqueues msg. Publishing an id that is already queued is a no-op.
func (l *MemoryLane) Publish(ctx context.Context, msg world.OutboundMessage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.messages[msg.ID]; exists {
		return nil
	}
	l.seq++
	l.messages[msg.ID] = &memoryMessage{
		id:        msg.ID,
		body:      cloneBytes(msg.Body),
		visibleAt: l.now(),
		seq:       l.seq,
	}
	return nil
}

// Receive claims up to max visible messages in publish order
func (l *MemoryLane) Receive(ctx context.Context, max int) ([]world.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	var visible []*memoryMessage
	for _, m := range l.messages {
		if !m.visibleAt.After(now) {
			visible = append(visible, m)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].seq < visible[j].seq })
	if max > 0 && len(visible) > max {
		visible = visible[:max]
	}

	deliveries := make([]world.Delivery, 0, len(visible))
	for _, m := range visible {
		m.attempt++
		m.visibleAt = now.Add(l.visibility)
		deliveries = append(deliveries, world.Delivery{
			Receipt: m.id,
			Body:    cloneBytes(m.body),
			Attempt: m.attempt,
		})
	}
	return deliveries, nil
}

// Ack removes the message
func (l *MemoryLane) Ack(ctx context.Context, receipt string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.messages[receipt]; !exists {
		return world.NotFound("message", receipt)
	}
	delete(l.messages, receipt)
	return nil
}

// Retry makes the message visible again after delay
func (l *MemoryLane) Retry(ctx context.Context, receipt string, delay time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, exists := l.messages[receipt]
	if !exists {
		return world.NotFound("message", receipt)
	}
	m.visibleAt = l.now().Add(delay)
	return nil
}

// Len returns the number of queued messages, visible or not
func (l *MemoryLane) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}
