package world

import (
	"time"

	"github.com/rs/zerolog"
)

// Log event names
const (
	// Record events
	EventRunCreated     = "run_created"
	EventRunTransition  = "run_transition"
	EventStepTransition = "step_transition"

	// Queue events
	EventMessageQueued     = "message_queued"
	EventMessageAcked      = "message_acked"
	EventMessageRedelivery = "message_redelivery"
	EventMessageRejected   = "message_rejected"

	// Stream events
	EventStreamClosed       = "stream_closed"
	EventStreamWriteClosed  = "stream_write_after_close"
	EventStreamChunkMissing = "stream_chunk_missing"

	// Persistence events
	EventPersistenceError = "persistence_error"
)

// LogRunCreated logs a newly created run
func LogRunCreated(logger zerolog.Logger, runID, workflowName, deploymentID string) {
	logger.Info().
		Str("event", EventRunCreated).
		Str("run_id", runID).
		Str("workflow_name", workflowName).
		Str("deployment_id", deploymentID).
		Msg("Run created")
}

// LogRunTransition logs a run status change
func LogRunTransition(logger zerolog.Logger, runID string, from, to RunStatus) {
	logger.Debug().
		Str("event", EventRunTransition).
		Str("run_id", runID).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("Run status changed")
}

// LogStepTransition logs a step status change
func LogStepTransition(logger zerolog.Logger, runID, stepID string, from, to StepStatus, attempt int) {
	logger.Debug().
		Str("event", EventStepTransition).
		Str("run_id", runID).
		Str("step_id", stepID).
		Str("from", from.String()).
		Str("to", to.String()).
		Int("attempt", attempt).
		Msg("Step status changed")
}

// LogMessageQueued logs a published envelope
func LogMessageQueued(logger zerolog.Logger, queueName, messageID, idempotencyKey string) {
	logger.Debug().
		Str("event", EventMessageQueued).
		Str("queue_name", queueName).
		Str("message_id", messageID).
		Str("idempotency_key", idempotencyKey).
		Msg("Message queued")
}

// LogMessageAcked logs a successfully processed message
func LogMessageAcked(logger zerolog.Logger, queueName, messageID string, attempt int, duration time.Duration) {
	logger.Debug().
		Str("event", EventMessageAcked).
		Str("queue_name", queueName).
		Str("message_id", messageID).
		Int("attempt", attempt).
		Dur("duration", duration).
		Msg("Message acknowledged")
}

// LogMessageRedelivery logs a message handed back to its lane
func LogMessageRedelivery(logger zerolog.Logger, receipt string, attempt int, delay time.Duration, err error) {
	logger.Warn().
		Str("event", EventMessageRedelivery).
		Str("receipt", receipt).
		Int("attempt", attempt).
		Dur("delay", delay).
		Err(err).
		Msg("Message redelivery requested")
}

// LogMessageRejected logs a queue call refused before publishing
func LogMessageRejected(logger zerolog.Logger, queueName string, err error) {
	logger.Warn().
		Str("event", EventMessageRejected).
		Str("queue_name", queueName).
		Err(err).
		Msg("Message rejected")
}

// LogStreamClosed logs a stream close
func LogStreamClosed(logger zerolog.Logger, name string, chunkCount int) {
	logger.Debug().
		Str("event", EventStreamClosed).
		Str("stream", name).
		Int("chunk_count", chunkCount).
		Msg("Stream closed")
}

// LogStreamWriteAfterClose logs a chunk appended to an already closed stream
func LogStreamWriteAfterClose(logger zerolog.Logger, name string, index int) {
	logger.Warn().
		Str("event", EventStreamWriteClosed).
		Str("stream", name).
		Int("index", index).
		Msg("Chunk written to closed stream")
}

// LogStreamChunkMissing logs a read that stopped at a missing chunk
func LogStreamChunkMissing(logger zerolog.Logger, name string, index, chunkCount int) {
	logger.Debug().
		Str("event", EventStreamChunkMissing).
		Str("stream", name).
		Int("index", index).
		Int("chunk_count", chunkCount).
		Msg("Stream chunk missing, ending read")
}

// LogPersistenceError logs errors during persistence operations
func LogPersistenceError(logger zerolog.Logger, entity, id, operation string, err error) {
	logger.Error().
		Str("event", EventPersistenceError).
		Str("entity", entity).
		Str("id", id).
		Str("operation", operation).
		Err(err).
		Msg("Persistence error")
}

// LaneLogger creates a logger enriched with lane context
func LaneLogger(baseLogger zerolog.Logger, lane Lane) zerolog.Logger {
	return baseLogger.With().
		Str("lane", lane.String()).
		Logger()
}
