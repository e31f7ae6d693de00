package api

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/client"
	"github.com/sicko7947/world"
)

// Headers set on every forwarded job
const (
	HeaderMessageID      = "X-Message-Id"
	HeaderIdempotencyKey = "X-Idempotency-Key"
	HeaderAttempt        = "X-Attempt"
	HeaderQueueName      = "X-Queue-Name"
)

// DefaultForwardTimeout bounds one forwarded request
const DefaultForwardTimeout = 30 * time.Second

// Forwarder is a world.Processor that POSTs each job's payload to
// <baseURL>/<lane>. Any non-2xx response is returned as an error, so the
// message is redelivered.
type Forwarder struct {
	client  *client.Client
	baseURL string
}

var _ world.Processor = (*Forwarder)(nil)

// ForwarderOption configures a Forwarder
type ForwarderOption func(*Forwarder)

// WithForwardTimeout sets the per-request timeout
func WithForwardTimeout(d time.Duration) ForwarderOption {
	return func(f *Forwarder) {
		f.client.SetTimeout(d)
	}
}

// NewForwarder creates a forwarder targeting baseURL
func NewForwarder(baseURL string, opts ...ForwarderOption) *Forwarder {
	f := &Forwarder{
		client:  client.New().SetTimeout(DefaultForwardTimeout),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Process forwards job and reports a failed delivery as an error
func (f *Forwarder) Process(ctx context.Context, job world.Job) error {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader(fiber.HeaderContentType, fiber.MIMEApplicationJSON).
		SetHeader(HeaderMessageID, job.MessageID).
		SetHeader(HeaderIdempotencyKey, job.IdempotencyKey).
		SetHeader(HeaderAttempt, strconv.Itoa(job.Attempt)).
		SetHeader(HeaderQueueName, job.QueueName).
		SetRawBody(job.Payload).
		Post(f.baseURL + "/" + job.Lane.String())
	if err != nil {
		return world.Unavailable("forward message "+job.MessageID, err)
	}
	defer resp.Close()

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return fmt.Errorf("forward message %s: processor responded %d: %s", job.MessageID, status, truncate(resp.String(), 256))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
