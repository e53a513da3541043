// Package coordinator drives one consultation end to end: fan the request
// out to specialist queues, await the correlated responses, synthesize an
// overall answer, and record the outcome.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"consilium/internal/aggregator"
	"consilium/internal/bus"
	"consilium/internal/config"
	"consilium/internal/message"
	"consilium/internal/publisher"
	"consilium/internal/store"
)

type Coordinator struct {
	client *bus.Client
	pub    *publisher.Publisher
	agg    *aggregator.Aggregator
	store  *store.Store
	cfg    config.CoordinatorConfig
}

// New wires a coordinator to the bus. The store may be nil; consultations
// then run without history.
func New(client *bus.Client, st *store.Store, cfg config.CoordinatorConfig) (*Coordinator, error) {
	agg, err := aggregator.New(client, cfg)
	if err != nil {
		return nil, fmt.Errorf("create aggregator: %w", err)
	}
	return &Coordinator{
		client: client,
		pub:    publisher.New(client),
		agg:    agg,
		store:  st,
		cfg:    cfg,
	}, nil
}

func (c *Coordinator) Close() {
	c.agg.Close()
}

// Publisher exposes the underlying request publisher for callers that manage
// their own aggregation.
func (c *Coordinator) Publisher() *publisher.Publisher {
	return c.pub
}

// Await exposes raw aggregation for callers that published themselves.
func (c *Coordinator) Await(ctx context.Context, correlationID string, expected int, timeout time.Duration) (map[message.SpecialistType]message.ResponseEnvelope, bool) {
	return c.agg.Await(ctx, correlationID, expected, timeout)
}

type ConsultRequest struct {
	SubjectID  string
	Types      []message.SpecialistType
	Parameters map[message.SpecialistType]map[string]any
	Context    map[string]any
	// Timeout overrides the configured aggregation timeout when positive.
	Timeout time.Duration
}

type ConsultResult struct {
	CorrelationID string
	Responses     map[message.SpecialistType]message.ResponseEnvelope
	Complete      bool
	PublishErrors map[message.SpecialistType]error
	Synthesis     *Synthesis
	Elapsed       time.Duration
}

// Consult runs one fan-out/fan-in cycle. It returns an error only when no
// request could be published at all; otherwise the result carries whatever
// arrived, with Complete and per-type publish errors telling the caller what
// is missing.
func (c *Coordinator) Consult(ctx context.Context, req ConsultRequest) (*ConsultResult, error) {
	if len(req.Types) == 0 {
		return nil, fmt.Errorf("consult: no request types")
	}

	start := time.Now()
	fanout := c.pub.PublishFanOut("", req.SubjectID, req.Types, req.Parameters, req.Context)
	if len(fanout.Published) == 0 {
		return nil, fmt.Errorf("consult %s: all %d publishes failed", fanout.CorrelationID, len(req.Types))
	}

	c.recordPending(fanout.CorrelationID, req.SubjectID, fanout.Published)

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.cfg.AggregationTimeout
	}

	// Register for exactly the number of envelopes the broker accepted.
	responses, complete := c.agg.Await(ctx, fanout.CorrelationID, len(fanout.Published), timeout)
	elapsed := time.Since(start)

	timedOut := !complete && ctx.Err() == nil
	synth := Synthesize(responses, len(fanout.Published), complete, timedOut)

	result := &ConsultResult{
		CorrelationID: fanout.CorrelationID,
		Responses:     responses,
		Complete:      complete,
		PublishErrors: fanout.Errors,
		Synthesis:     synth,
		Elapsed:       elapsed,
	}

	c.recordOutcome(result)

	slog.Info("consultation resolved",
		"correlation_id", result.CorrelationID,
		"subject_id", req.SubjectID,
		"status", synth.Status,
		"received", len(responses),
		"expected", len(fanout.Published),
		"elapsed", elapsed)
	return result, nil
}

func (c *Coordinator) recordPending(correlationID, subjectID string, published []message.SpecialistType) {
	if c.store == nil {
		return
	}
	types := make([]string, len(published))
	for i, t := range published {
		types[i] = string(t)
	}
	err := c.store.SaveConsultation(&store.Consultation{
		CorrelationID: correlationID,
		SubjectID:     subjectID,
		RequestTypes:  types,
	})
	if err != nil {
		slog.Warn("record consultation failed", "correlation_id", correlationID, "error", err)
	}
}

func (c *Coordinator) recordOutcome(result *ConsultResult) {
	if c.store == nil {
		return
	}
	responses, err := json.Marshal(result.Responses)
	if err != nil {
		slog.Warn("marshal responses failed", "correlation_id", result.CorrelationID, "error", err)
		responses = nil
	}
	synthesis, err := json.Marshal(result.Synthesis)
	if err != nil {
		slog.Warn("marshal synthesis failed", "correlation_id", result.CorrelationID, "error", err)
		synthesis = nil
	}
	err = c.store.ResolveConsultation(result.CorrelationID, result.Synthesis.Status,
		responses, synthesis, result.Elapsed)
	if err != nil {
		slog.Warn("resolve consultation failed", "correlation_id", result.CorrelationID, "error", err)
	}
}
