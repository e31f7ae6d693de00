package world

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/sicko7947/world"

// Lane is one of the two logical queues
type Lane string

const (
	LaneWorkflow Lane = "workflow"
	LaneStep     Lane = "step"
)

// Queue name prefixes selecting the lane
const (
	WorkflowQueuePrefix = "__wkf_workflow_"
	StepQueuePrefix     = "__wkf_step_"
)

// String returns the string representation
func (l Lane) String() string {
	return string(l)
}

// ParseQueueName returns the lane and queue id encoded in a queue name
func ParseQueueName(queueName string) (Lane, string, error) {
	switch {
	case strings.HasPrefix(queueName, WorkflowQueuePrefix):
		return LaneWorkflow, strings.TrimPrefix(queueName, WorkflowQueuePrefix), nil
	case strings.HasPrefix(queueName, StepQueuePrefix):
		return LaneStep, strings.TrimPrefix(queueName, StepQueuePrefix), nil
	}
	return "", "", InvalidArgument("queue name %q must start with %q or %q", queueName, WorkflowQueuePrefix, StepQueuePrefix)
}

// Envelope is the lane-agnostic wire shape of a queued message
type Envelope struct {
	QueueName      string          `json:"queueName"`
	QueueID        string          `json:"queueId"`
	Message        json.RawMessage `json:"message"`
	MessageID      string          `json:"messageId"`
	IdempotencyKey string          `json:"idempotencyKey,omitempty"`
	Attempt        int             `json:"attempt"`
}

// QueueOptions are the per-call options of Queue
type QueueOptions struct {
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

// Job is a decoded message handed to the Processor
type Job struct {
	Lane           Lane
	QueueName      string
	QueueID        string
	MessageID      string
	IdempotencyKey string
	// Attempt is the transport's delivery counter, starting at 1
	Attempt int
	Payload json.RawMessage
}

// BatchResult reports per-message outcomes of HandleBatch by receipt
type BatchResult struct {
	Acked       []string
	Redelivered []string
}

// Dispatcher publishes jobs to the workflow and step lanes and forwards
// delivered batches to a Processor
type Dispatcher struct {
	lanes      map[Lane]LaneTransport
	processor  Processor
	validator  *payloadValidator
	ids        *IDGenerator
	config     Config
	logger     zerolog.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
}

// NewDispatcher creates a dispatcher over the two lane transports
func NewDispatcher(workflowLane, stepLane LaneTransport, processor Processor, opts ...Option) (*Dispatcher, error) {
	return newDispatcher(workflowLane, stepLane, processor, newSettings(opts))
}

func newDispatcher(workflowLane, stepLane LaneTransport, processor Processor, s *settings) (*Dispatcher, error) {
	if workflowLane == nil || stepLane == nil {
		return nil, errors.New("both lane transports are required")
	}

	validator, err := newPayloadValidator()
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		lanes: map[Lane]LaneTransport{
			LaneWorkflow: workflowLane,
			LaneStep:     stepLane,
		},
		processor:  processor,
		validator:  validator,
		ids:        s.ids,
		config:     s.config,
		logger:     s.logger,
		tracer:     s.tracer,
		propagator: propagation.TraceContext{},
	}, nil
}

// Queue publishes payload to the lane selected by queueName and returns the
// generated message id. It publishes exactly once and never retries.
func (d *Dispatcher) Queue(ctx context.Context, queueName string, payload any, opts QueueOptions) (string, error) {
	lane, queueID, err := ParseQueueName(queueName)
	if err != nil {
		LogMessageRejected(d.logger, queueName, err)
		return "", err
	}

	message, err := json.Marshal(payload)
	if err != nil {
		return "", InvalidArgument("payload is not serializable: %v", err)
	}
	if err := d.validator.Validate(lane, message); err != nil {
		LogMessageRejected(d.logger, queueName, err)
		return "", err
	}

	messageID := d.ids.New(PrefixMessage)

	ctx, span := d.tracer.Start(ctx, "world.queue",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", queueName),
			attribute.String("messaging.message.id", messageID),
			attribute.String("world.lane", lane.String()),
		),
	)
	defer span.End()

	body, err := json.Marshal(Envelope{
		QueueName:      queueName,
		QueueID:        queueID,
		Message:        message,
		MessageID:      messageID,
		IdempotencyKey: opts.IdempotencyKey,
		Attempt:        1,
	})
	if err != nil {
		return "", Internal("encode envelope", err)
	}

	if err := d.lanes[lane].Publish(ctx, OutboundMessage{ID: messageID, Body: body}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return "", err
	}

	LogMessageQueued(d.logger, queueName, messageID, opts.IdempotencyKey)
	return messageID, nil
}

// HandleBatch processes every delivery independently: success acknowledges
// the message, any failure requests its redelivery. Errors are logged and
// never returned, so one poisoned message cannot fail the batch.
func (d *Dispatcher) HandleBatch(ctx context.Context, lane Lane, batch []Delivery) BatchResult {
	var result BatchResult
	logger := LaneLogger(d.logger, lane)

	transport, ok := d.lanes[lane]
	if !ok {
		logger.Error().Int("batch_size", len(batch)).Msg("Batch delivered for unknown lane")
		return result
	}

	for _, delivery := range batch {
		start := time.Now()
		env, err := d.handle(ctx, lane, delivery)
		if err == nil {
			if ackErr := transport.Ack(ctx, delivery.Receipt); ackErr != nil {
				// Unacknowledged messages come back; the processor dedupes
				// on the idempotency key.
				logger.Error().Err(ackErr).Str("receipt", delivery.Receipt).Msg("Failed to acknowledge message")
				continue
			}
			result.Acked = append(result.Acked, delivery.Receipt)
			LogMessageAcked(logger, env.QueueName, env.MessageID, delivery.Attempt, time.Since(start))
			continue
		}

		delay := CalculateBackoff(d.config.RetryDelay, delivery.Attempt, d.config.RetryBackoff, d.config.MaxRetryDelay)
		LogMessageRedelivery(logger, delivery.Receipt, delivery.Attempt, delay, err)
		if retryErr := transport.Retry(ctx, delivery.Receipt, delay); retryErr != nil {
			logger.Error().Err(retryErr).Str("receipt", delivery.Receipt).Msg("Failed to request redelivery")
			continue
		}
		result.Redelivered = append(result.Redelivered, delivery.Receipt)
	}
	return result
}

// handle decodes, validates and processes one delivery
func (d *Dispatcher) handle(ctx context.Context, lane Lane, delivery Delivery) (env Envelope, err error) {
	if err := json.Unmarshal(delivery.Body, &env); err != nil {
		return env, &Error{Code: ErrCodeInvalidArgument, Message: "undecodable envelope", Err: err}
	}

	msgLane, queueID, err := ParseQueueName(env.QueueName)
	if err != nil {
		return env, err
	}
	if msgLane != lane {
		return env, InvalidArgument("queue %q delivered on %s lane", env.QueueName, lane)
	}
	if err := d.validator.Validate(lane, env.Message); err != nil {
		return env, err
	}

	// Continue the producer's trace when the payload carries one
	if carrier := traceCarrierOf(env.Message); len(carrier) > 0 {
		ctx = d.propagator.Extract(ctx, propagation.MapCarrier(carrier))
	}
	ctx, span := d.tracer.Start(ctx, "world.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", env.QueueName),
			attribute.String("messaging.message.id", env.MessageID),
			attribute.Int("world.attempt", delivery.Attempt),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "process failed")
		}
		span.End()
	}()

	if d.processor == nil {
		return env, errors.New("no processor configured")
	}

	attempt := delivery.Attempt
	if attempt < 1 {
		attempt = env.Attempt
	}
	job := Job{
		Lane:           lane,
		QueueName:      env.QueueName,
		QueueID:        queueID,
		MessageID:      env.MessageID,
		IdempotencyKey: env.IdempotencyKey,
		Attempt:        attempt,
		Payload:        env.Message,
	}
	if err := d.processor.Process(ctx, job); err != nil {
		return env, fmt.Errorf("processor failed for message %s: %w", env.MessageID, err)
	}
	return env, nil
}

// Consume polls a lane and handles batches until ctx is cancelled
func (d *Dispatcher) Consume(ctx context.Context, lane Lane) error {
	transport, ok := d.lanes[lane]
	if !ok {
		return InvalidArgument("unknown lane %q", lane)
	}
	logger := LaneLogger(d.logger, lane)
	logger.Info().Int("batch_size", d.config.BatchSize).Msg("Lane consumer started")

	for {
		if ctx.Err() != nil {
			logger.Info().Msg("Lane consumer stopped")
			return nil
		}

		batch, err := transport.Receive(ctx, d.config.BatchSize)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.Error().Err(err).Msg("Failed to receive batch")
		}
		if len(batch) == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d.config.PollInterval):
			}
			continue
		}

		// A batch with nothing acknowledged waits a poll interval even when
		// the transport re-presents it at once
		if result := d.HandleBatch(ctx, lane, batch); len(result.Acked) == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(d.config.PollInterval):
			}
		}
	}
}

// InjectTraceCarrier returns the W3C trace context of ctx, for callers
// building a payload's traceCarrier
func InjectTraceCarrier(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	return carrier
}
