package specialist

import (
	"context"
	"fmt"
	"time"

	"consilium/internal/message"
)

// Mock serves canned specialist answers in the shape the real advisors
// produce. It backs local runs and the pipeline tests, where exercising the
// fan-out/fan-in machinery matters and the reasoning does not.
type Mock struct {
	// Delay simulates invocation latency before answering.
	Delay time.Duration
}

func (m *Mock) Invoke(ctx context.Context, requestType message.SpecialistType, parameters, reqContext map[string]any) (map[string]any, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	switch requestType {
	case message.MedicationAdvice:
		return m.medicationAdvice(parameters, reqContext), nil
	case message.SymptomCheck:
		return m.symptomCheck(parameters, reqContext), nil
	case message.InteractionCheck:
		return m.interactionCheck(parameters, reqContext), nil
	default:
		return nil, Permanent(fmt.Errorf("unsupported request type %q", requestType))
	}
}

func (m *Mock) medicationAdvice(parameters, reqContext map[string]any) map[string]any {
	medication, _ := parameters["medication_name"].(string)
	if medication == "" {
		medication = "the medication"
	}

	return map[string]any{
		"recommendation": fmt.Sprintf("Take %s now if within 4 hours of the scheduled time", medication),
		"risk_level":     "moderate",
		"confidence":     0.85,
		"next_steps": []any{
			"Take dose now",
			"Monitor for side effects",
			"Contact team if unsure",
		},
	}
}

func (m *Mock) symptomCheck(parameters, reqContext map[string]any) map[string]any {
	urgency := "routine"
	if symptoms, ok := parameters["symptoms"].([]any); ok {
		for _, s := range symptoms {
			if s == "fever" {
				urgency = "urgent"
				break
			}
		}
	}

	return map[string]any{
		"urgency":    urgency,
		"confidence": 0.80,
		"actions": []any{
			"Monitor temperature",
			"Track fluid intake",
			"Contact team if symptoms worsen",
		},
	}
}

func (m *Mock) interactionCheck(parameters, reqContext map[string]any) map[string]any {
	hasInteraction := false
	if meds, ok := parameters["current_medications"].([]any); ok {
		for _, med := range meds {
			if med == "ibuprofen" {
				hasInteraction = true
				break
			}
		}
	}
	if newMed, _ := parameters["new_medication"].(string); newMed == "ibuprofen" {
		hasInteraction = true
	}

	severity := "none"
	recommendation := "No interactions detected"
	if hasInteraction {
		severity = "severe"
		recommendation = "Avoid combination - use acetaminophen instead"
	}

	return map[string]any{
		"has_interaction": hasInteraction,
		"severity":        severity,
		"recommendation":  recommendation,
		"confidence":      0.90,
	}
}
