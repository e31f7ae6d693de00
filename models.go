package world

import (
	"encoding/json"
	"time"
)

// RunStatus represents the current state of a workflow run
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusPaused    RunStatus = "paused"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// Valid reports whether s is one of the known run statuses
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusPaused,
		RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// IsTerminal returns true if the status is a final state
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// String returns the string representation
func (s RunStatus) String() string {
	return string(s)
}

// StepStatus represents the current state of a step
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Valid reports whether s is one of the known step statuses
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusRunning, StepStatusCompleted, StepStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true if the status is a final state
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusCompleted || s == StepStatusFailed
}

// String returns the string representation
func (s StepStatus) String() string {
	return string(s)
}

// Run represents one execution instance of a named workflow
type Run struct {
	// Identity
	RunID        string `json:"runId" dynamodbav:"run_id"`
	WorkflowName string `json:"workflowName" dynamodbav:"workflow_name"`
	DeploymentID string `json:"deploymentId" dynamodbav:"deployment_id"`

	// Status
	Status RunStatus `json:"status" dynamodbav:"status"`

	// Input/Output (opaque JSON)
	Input            []json.RawMessage `json:"input" dynamodbav:"input"`
	Output           json.RawMessage   `json:"output,omitempty" dynamodbav:"output,omitempty"`
	ExecutionContext json.RawMessage   `json:"executionContext,omitempty" dynamodbav:"execution_context,omitempty"`

	// Error recorded when the run fails
	Error *RunError `json:"error,omitempty" dynamodbav:"error,omitempty"`

	// Timing
	CreatedAt   time.Time  `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" dynamodbav:"updated_at"`
	StartedAt   *time.Time `json:"startedAt,omitempty" dynamodbav:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty" dynamodbav:"completed_at,omitempty"`
}

// RunError is the failure detail stored on a failed run
type RunError struct {
	Message string `json:"message" dynamodbav:"message"`
	Code    string `json:"code,omitempty" dynamodbav:"code,omitempty"`
	Stack   string `json:"stack,omitempty" dynamodbav:"stack,omitempty"`
}

// Event is an immutable entry in a run's event log
type Event struct {
	EventID       string          `json:"eventId" dynamodbav:"event_id"`
	RunID         string          `json:"runId" dynamodbav:"run_id"`
	CorrelationID string          `json:"correlationId,omitempty" dynamodbav:"correlation_id,omitempty"`
	EventType     string          `json:"eventType" dynamodbav:"event_type"`
	EventData     json.RawMessage `json:"eventData,omitempty" dynamodbav:"event_data,omitempty"`
	CreatedAt     time.Time       `json:"createdAt" dynamodbav:"created_at"`
}

// Step tracks one unit of work within a run
type Step struct {
	// Identity
	StepID   string `json:"stepId" dynamodbav:"step_id"`
	RunID    string `json:"runId" dynamodbav:"run_id"`
	StepName string `json:"stepName" dynamodbav:"step_name"`

	// Status
	Status  StepStatus `json:"status" dynamodbav:"status"`
	Attempt int        `json:"attempt" dynamodbav:"attempt"`

	// Input/Output (opaque JSON)
	Input  json.RawMessage `json:"input,omitempty" dynamodbav:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty" dynamodbav:"output,omitempty"`

	// Error handling
	Error     *string `json:"error,omitempty" dynamodbav:"error,omitempty"`
	ErrorCode *string `json:"errorCode,omitempty" dynamodbav:"error_code,omitempty"`

	// Timing
	StartedAt   *time.Time `json:"startedAt,omitempty" dynamodbav:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty" dynamodbav:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"createdAt" dynamodbav:"created_at"`
	UpdatedAt   time.Time  `json:"updatedAt" dynamodbav:"updated_at"`
}

// Hook is a registered external callback tied to a run
type Hook struct {
	HookID      string          `json:"hookId" dynamodbav:"hook_id"`
	RunID       string          `json:"runId" dynamodbav:"run_id"`
	Token       string          `json:"token" dynamodbav:"token"`
	OwnerID     string          `json:"ownerId" dynamodbav:"owner_id"`
	ProjectID   string          `json:"projectId" dynamodbav:"project_id"`
	Environment string          `json:"environment" dynamodbav:"environment"`
	Metadata    json.RawMessage `json:"metadata,omitempty" dynamodbav:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"createdAt" dynamodbav:"created_at"`
}

// StreamMeta is the metadata object kept next to a stream's chunks
type StreamMeta struct {
	ChunkCount int  `json:"chunkCount"`
	Closed     bool `json:"closed,omitempty"`
}

// Request types for the record store

// CreateRunRequest holds the fields a caller supplies for a new run.
// RunID is normally left empty so the store generates one.
type CreateRunRequest struct {
	RunID            string            `json:"runId,omitempty"`
	WorkflowName     string            `json:"workflowName"`
	DeploymentID     string            `json:"deploymentId"`
	Input            []json.RawMessage `json:"input"`
	ExecutionContext json.RawMessage   `json:"executionContext,omitempty"`
}

// RunUpdate is a field-level patch; nil fields are left untouched
type RunUpdate struct {
	Status           *RunStatus      `json:"status,omitempty"`
	Output           json.RawMessage `json:"output,omitempty"`
	ExecutionContext json.RawMessage `json:"executionContext,omitempty"`
	Error            *RunError       `json:"error,omitempty"`
}

// CreateEventRequest holds the fields of a new event
type CreateEventRequest struct {
	RunID         string          `json:"runId"`
	CorrelationID string          `json:"correlationId,omitempty"`
	EventType     string          `json:"eventType"`
	EventData     json.RawMessage `json:"eventData,omitempty"`
}

// CreateStepRequest holds the fields of a new step
type CreateStepRequest struct {
	StepID   string          `json:"stepId,omitempty"`
	RunID    string          `json:"runId"`
	StepName string          `json:"stepName"`
	Input    json.RawMessage `json:"input,omitempty"`
}

// StepUpdate is a field-level patch; nil fields are left untouched
type StepUpdate struct {
	Status    *StepStatus     `json:"status,omitempty"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     *string         `json:"error,omitempty"`
	ErrorCode *string         `json:"errorCode,omitempty"`
	Attempt   *int            `json:"attempt,omitempty"`
}

// CreateHookRequest holds the fields of a new hook
type CreateHookRequest struct {
	HookID      string          `json:"hookId,omitempty"`
	RunID       string          `json:"runId"`
	Token       string          `json:"token"`
	OwnerID     string          `json:"ownerId"`
	ProjectID   string          `json:"projectId"`
	Environment string          `json:"environment"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// Filters for list operations

// RunFilter defines filtering criteria for runs
type RunFilter struct {
	WorkflowName string
	Status       RunStatus
}

// EventFilter selects events by run and/or correlation id
type EventFilter struct {
	RunID         string
	CorrelationID string
}

// StepFilter selects the steps of one run
type StepFilter struct {
	RunID string
}

// HookFilter optionally restricts hooks to one run
type HookFilter struct {
	RunID string
}
