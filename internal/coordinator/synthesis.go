package coordinator

import (
	"sort"
	"time"

	"consilium/internal/message"
)

// Synthesis combines the specialist responses for one consultation into a
// single caller-facing summary. It reads a few well-known result fields
// (urgency, risk_level, severity) to set an overall priority; anything the
// specialists return is passed through untouched.
type Synthesis struct {
	Status          string         `json:"status"`
	Complete        bool           `json:"complete"`
	TimedOut        bool           `json:"timed_out"`
	AgentsConsulted []string       `json:"agents_consulted"`
	Recommendations map[string]any `json:"recommendations"`
	Priority        string         `json:"priority"`
	AvgProcessingMs int64          `json:"avg_processing_ms"`
	TotalResponses  int            `json:"total_responses"`
	Notice          string         `json:"notice,omitempty"`
}

const partialNotice = "Not all specialists responded within the wait period; " +
	"this summary is based on partial information."

func Synthesize(responses map[message.SpecialistType]message.ResponseEnvelope, expected int, complete, timedOut bool) *Synthesis {
	s := &Synthesis{
		Complete:        complete,
		TimedOut:        timedOut,
		Recommendations: make(map[string]any, len(responses)),
		TotalResponses:  len(responses),
	}

	switch {
	case complete:
		s.Status = "complete"
	case timedOut:
		s.Status = "timeout_partial"
		s.Notice = partialNotice
	default:
		s.Status = "partial"
		s.Notice = partialNotice
	}

	var totalProcessing time.Duration
	for st, resp := range responses {
		s.AgentsConsulted = append(s.AgentsConsulted, string(st))
		totalProcessing += resp.ProcessingDuration

		if resp.Status == message.StatusError {
			s.Recommendations[string(st)] = map[string]any{"error": resp.ErrorDetail}
			continue
		}
		s.Recommendations[string(st)] = resp.Result
	}
	sort.Strings(s.AgentsConsulted)

	if len(responses) > 0 {
		s.AvgProcessingMs = (totalProcessing / time.Duration(len(responses))).Milliseconds()
	}

	s.Priority = determinePriority(responses)
	return s
}

// determinePriority escalates on the most urgent signal any specialist
// raised. Missing or unrecognized fields never escalate.
func determinePriority(responses map[message.SpecialistType]message.ResponseEnvelope) string {
	if len(responses) == 0 {
		return "information"
	}

	if urgency := resultField(responses, message.SymptomCheck, "urgency"); urgency == "emergency" || urgency == "urgent" {
		return urgency
	}
	if risk := resultField(responses, message.MedicationAdvice, "risk_level"); risk == "critical" || risk == "high" {
		return "urgent"
	}
	if severity := resultField(responses, message.InteractionCheck, "severity"); severity == "severe" || severity == "contraindicated" {
		return "urgent"
	}
	return "routine"
}

func resultField(responses map[message.SpecialistType]message.ResponseEnvelope, st message.SpecialistType, field string) string {
	resp, ok := responses[st]
	if !ok || resp.Status != message.StatusSuccess {
		return ""
	}
	value, _ := resp.Result[field].(string)
	return value
}
