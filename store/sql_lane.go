package store

import (
	"context"
	"sort"
	"time"

	"github.com/sicko7947/world"
)

// SQLLane implements world.LaneTransport on the world_queue_messages table.
// Receive claims rows by pushing their visibility into the future, so an
// unacknowledged message is delivered again once the timeout lapses.
type SQLLane struct {
	store      *SQLStore
	lane       string
	visibility time.Duration
	now        func() time.Time
}

var _ world.LaneTransport = (*SQLLane)(nil)

// SQLLaneOption configures a SQLLane
type SQLLaneOption func(*SQLLane)

// WithSQLVisibilityTimeout sets the redelivery timeout of unacknowledged messages
func WithSQLVisibilityTimeout(d time.Duration) SQLLaneOption {
	return func(l *SQLLane) {
		l.visibility = d
	}
}

// WithSQLLaneClock sets the clock, for tests
func WithSQLLaneClock(now func() time.Time) SQLLaneOption {
	return func(l *SQLLane) {
		l.now = now
	}
}

// NewSQLLane creates the transport for one lane. Lanes share the table and
// are told apart by the lane column.
func NewSQLLane(store *SQLStore, lane world.Lane, opts ...SQLLaneOption) *SQLLane {
	l := &SQLLane{
		store:      store,
		lane:       lane.String(),
		visibility: DefaultVisibilityTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Publish inserts the message. A duplicate id is ignored.
func (l *SQLLane) Publish(ctx context.Context, msg world.OutboundMessage) error {
	now := l.now().UnixMilli()
	_, err := l.store.exec(ctx,
		`INSERT INTO world_queue_messages (id, lane, body, attempt, visible_at, created_at)
		VALUES (?, ?, ?, 0, ?, ?) ON CONFLICT DO NOTHING`,
		msg.ID, l.lane, msg.Body, now, now)
	if err != nil {
		return world.Unavailable("publish message", err)
	}
	return nil
}

// Receive atomically claims up to max visible messages
func (l *SQLLane) Receive(ctx context.Context, max int) ([]world.Delivery, error) {
	if max <= 0 {
		max = 1
	}
	now := l.now()

	lock := ""
	if l.store.dialect == DialectPostgres {
		lock = " FOR UPDATE SKIP LOCKED"
	}
	rows, err := l.store.query(ctx, `
		UPDATE world_queue_messages
		SET attempt = attempt + 1, visible_at = ?
		WHERE id IN (
			SELECT id FROM world_queue_messages
			WHERE lane = ? AND visible_at <= ?
			ORDER BY created_at ASC, id ASC
			LIMIT ?`+lock+`
		)
		RETURNING id, body, attempt`,
		now.Add(l.visibility).UnixMilli(), l.lane, now.UnixMilli(), max)
	if err != nil {
		return nil, world.Unavailable("receive messages", err)
	}
	defer rows.Close()

	deliveries := make([]world.Delivery, 0, max)
	for rows.Next() {
		var d world.Delivery
		if err := rows.Scan(&d.Receipt, &d.Body, &d.Attempt); err != nil {
			return nil, world.Unavailable("scan message", err)
		}
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, world.Unavailable("receive messages", err)
	}

	// RETURNING has no defined order; message ids sort in publish order
	sort.Slice(deliveries, func(i, j int) bool { return deliveries[i].Receipt < deliveries[j].Receipt })
	return deliveries, nil
}

// Ack deletes the message
func (l *SQLLane) Ack(ctx context.Context, receipt string) error {
	n, err := l.store.exec(ctx, `DELETE FROM world_queue_messages WHERE id = ? AND lane = ?`, receipt, l.lane)
	if err != nil {
		return world.Unavailable("ack message", err)
	}
	if n == 0 {
		return world.NotFound("message", receipt)
	}
	return nil
}

// Retry makes the message visible again after delay
func (l *SQLLane) Retry(ctx context.Context, receipt string, delay time.Duration) error {
	n, err := l.store.exec(ctx,
		`UPDATE world_queue_messages SET visible_at = ? WHERE id = ? AND lane = ?`,
		l.now().Add(delay).UnixMilli(), receipt, l.lane)
	if err != nil {
		return world.Unavailable("retry message", err)
	}
	if n == 0 {
		return world.NotFound("message", receipt)
	}
	return nil
}
