// Package message defines the wire envelopes exchanged between the
// coordinator, the specialist workers and the response aggregator.
package message

import (
	"encoding/json"
	"fmt"
	"time"
)

// SpecialistType identifies a specialist queue and the worker kind behind it.
type SpecialistType string

// Specialist types known to the default deployment. The core never
// interprets these; they only select topics.
const (
	MedicationAdvice SpecialistType = "medication_advice"
	SymptomCheck     SpecialistType = "symptom_check"
	InteractionCheck SpecialistType = "interaction_check"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Attribute keys mirrored into broker message headers.
const (
	AttrCorrelationID  = "correlation_id"
	AttrRequestType    = "request_type"
	AttrSpecialistType = "specialist_type"
)

// RequestEnvelope is published once per specialist invocation. All envelopes
// spawned from one logical consultation share the same CorrelationID.
type RequestEnvelope struct {
	CorrelationID string         `json:"correlation_id"`
	SubjectID     string         `json:"subject_id"`
	RequestType   SpecialistType `json:"request_type"`
	Parameters    map[string]any `json:"parameters"`
	Context       map[string]any `json:"context,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// ResponseEnvelope is published once per specialist completion, success or
// failure. A permanent specialist failure still produces one of these so the
// fan-in count is satisfied.
type ResponseEnvelope struct {
	CorrelationID      string         `json:"correlation_id"`
	SubjectID          string         `json:"subject_id"`
	SpecialistType     SpecialistType `json:"specialist_type"`
	Result             map[string]any `json:"result,omitempty"`
	Status             Status         `json:"status"`
	ErrorDetail        string         `json:"error_detail,omitempty"`
	ProcessingDuration time.Duration  `json:"processing_duration"`
	ProducedAt         time.Time      `json:"produced_at"`
}

func (r *RequestEnvelope) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal request envelope: %w", err)
	}
	return data, nil
}

// Attributes returns the header attributes carried alongside the payload.
func (r *RequestEnvelope) Attributes() map[string]string {
	return map[string]string{
		AttrCorrelationID: r.CorrelationID,
		AttrRequestType:   string(r.RequestType),
	}
}

func (r *ResponseEnvelope) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal response envelope: %w", err)
	}
	return data, nil
}

func (r *ResponseEnvelope) Attributes() map[string]string {
	return map[string]string{
		AttrCorrelationID:  r.CorrelationID,
		AttrSpecialistType: string(r.SpecialistType),
	}
}

// DecodeRequest parses a RequestEnvelope and rejects envelopes missing the
// fields correlation depends on. Malformed payloads are a terminal condition
// for the message; callers drop them without retry.
func DecodeRequest(data []byte) (*RequestEnvelope, error) {
	var env RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal request envelope: %w", err)
	}
	if env.CorrelationID == "" {
		return nil, fmt.Errorf("request envelope missing correlation_id")
	}
	if env.RequestType == "" {
		return nil, fmt.Errorf("request envelope missing request_type")
	}
	return &env, nil
}

// DecodeResponse parses a ResponseEnvelope, rejecting envelopes the
// aggregator cannot key.
func DecodeResponse(data []byte) (*ResponseEnvelope, error) {
	var env ResponseEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal response envelope: %w", err)
	}
	if env.CorrelationID == "" {
		return nil, fmt.Errorf("response envelope missing correlation_id")
	}
	if env.SpecialistType == "" {
		return nil, fmt.Errorf("response envelope missing specialist_type")
	}
	return &env, nil
}
