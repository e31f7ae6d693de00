package world

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// WorkflowPayload is the message body of the workflow lane
type WorkflowPayload struct {
	RunID        string            `json:"runId"`
	TraceCarrier map[string]string `json:"traceCarrier,omitempty"`
	RequestedAt  string            `json:"requestedAt,omitempty"`
}

// StepPayload is the message body of the step lane
type StepPayload struct {
	WorkflowName      string            `json:"workflowName"`
	WorkflowRunID     string            `json:"workflowRunId"`
	WorkflowStartedAt int64             `json:"workflowStartedAt"`
	StepID            string            `json:"stepId"`
	TraceCarrier      map[string]string `json:"traceCarrier,omitempty"`
	RequestedAt       string            `json:"requestedAt,omitempty"`
}

const workflowPayloadSchema = `{
	"type": "object",
	"required": ["runId"],
	"properties": {
		"runId": {"type": "string", "minLength": 1},
		"traceCarrier": {"type": "object", "additionalProperties": {"type": "string"}},
		"requestedAt": {"type": "string"}
	}
}`

const stepPayloadSchema = `{
	"type": "object",
	"required": ["workflowName", "workflowRunId", "workflowStartedAt", "stepId"],
	"properties": {
		"workflowName": {"type": "string", "minLength": 1},
		"workflowRunId": {"type": "string", "minLength": 1},
		"workflowStartedAt": {"type": "number"},
		"stepId": {"type": "string", "minLength": 1},
		"traceCarrier": {"type": "object", "additionalProperties": {"type": "string"}},
		"requestedAt": {"type": "string"}
	}
}`

// payloadValidator checks lane payloads against their JSON schemas
type payloadValidator struct {
	schemas map[Lane]*jsonschema.Schema
}

func newPayloadValidator() (*payloadValidator, error) {
	sources := map[Lane]string{
		LaneWorkflow: workflowPayloadSchema,
		LaneStep:     stepPayloadSchema,
	}

	c := jsonschema.NewCompiler()
	v := &payloadValidator{schemas: make(map[Lane]*jsonschema.Schema, len(sources))}
	for lane, src := range sources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s payload schema: %w", lane, err)
		}
		url := "mem://" + lane.String() + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("failed to add %s payload schema: %w", lane, err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile %s payload schema: %w", lane, err)
		}
		v.schemas[lane] = sch
	}
	return v, nil
}

// Validate fails closed: unparsable JSON and schema mismatches are both
// INVALID_ARGUMENT
func (v *payloadValidator) Validate(lane Lane, payload json.RawMessage) error {
	sch, ok := v.schemas[lane]
	if !ok {
		return InvalidArgument("unknown lane %q", lane)
	}
	if len(payload) == 0 {
		return InvalidArgument("%s payload is empty", lane)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return &Error{Code: ErrCodeInvalidArgument, Message: lane.String() + " payload is not valid JSON", Err: err}
	}
	if err := sch.Validate(inst); err != nil {
		return &Error{Code: ErrCodeInvalidArgument, Message: lane.String() + " payload does not match schema", Err: err}
	}
	return nil
}

// traceCarrierOf extracts the optional W3C trace carrier from a validated
// payload
func traceCarrierOf(payload json.RawMessage) map[string]string {
	var probe struct {
		TraceCarrier map[string]string `json:"traceCarrier"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return nil
	}
	return probe.TraceCarrier
}
