// Package publisher fans consultation requests out to specialist topics.
package publisher

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"consilium/internal/bus"
	"consilium/internal/message"
)

type Publisher struct {
	client *bus.Client
}

func New(client *bus.Client) *Publisher {
	return &Publisher{client: client}
}

// FanOutResult reports the outcome of a multi-specialist publish. Published
// lists the types whose envelopes the broker acknowledged; its length is the
// expected-response count to register with the aggregator. A type never
// appears in both Published and Errors.
type FanOutResult struct {
	CorrelationID string
	Published     []message.SpecialistType
	Errors        map[message.SpecialistType]error
}

// Publish sends one request envelope and returns its freshly generated
// correlation id. It returns once the broker has acknowledged the publish;
// no specialist has run yet at that point.
func (p *Publisher) Publish(subjectID string, requestType message.SpecialistType, parameters, reqContext map[string]any) (string, error) {
	correlationID := uuid.New().String()
	if err := p.publishOne(correlationID, subjectID, requestType, parameters, reqContext); err != nil {
		return "", err
	}
	return correlationID, nil
}

// PublishFanOut sends one envelope per requested type, all sharing one
// correlation id. Pass an empty correlationID to have one generated.
// Publish failures are reported per type so the caller can register the
// actual number of in-flight requests, never more.
func (p *Publisher) PublishFanOut(correlationID, subjectID string, types []message.SpecialistType, parameters map[message.SpecialistType]map[string]any, reqContext map[string]any) FanOutResult {
	if correlationID == "" {
		correlationID = uuid.New().String()
	}

	result := FanOutResult{
		CorrelationID: correlationID,
		Errors:        make(map[message.SpecialistType]error),
	}

	for _, t := range types {
		if err := p.publishOne(correlationID, subjectID, t, parameters[t], reqContext); err != nil {
			slog.Warn("request publish failed",
				"correlation_id", correlationID, "request_type", t, "error", err)
			result.Errors[t] = err
			continue
		}
		result.Published = append(result.Published, t)
	}

	return result
}

func (p *Publisher) publishOne(correlationID, subjectID string, requestType message.SpecialistType, parameters, reqContext map[string]any) error {
	env := &message.RequestEnvelope{
		CorrelationID: correlationID,
		SubjectID:     subjectID,
		RequestType:   requestType,
		Parameters:    parameters,
		Context:       reqContext,
		CreatedAt:     time.Now().UTC(),
	}

	data, err := env.Encode()
	if err != nil {
		return err
	}

	msgID, err := p.client.Publish(bus.TopicRequest(requestType), data, env.Attributes())
	if err != nil {
		return fmt.Errorf("publish %s request: %w", requestType, err)
	}

	slog.Debug("request published",
		"correlation_id", correlationID,
		"request_type", requestType,
		"subject_id", subjectID,
		"message_id", msgID)
	return nil
}
