// Package worker consumes one specialist request queue, invokes the
// pluggable specialist behind it, and publishes correlated responses.
package worker

import (
	"context"
	"log/slog"
	"time"

	"consilium/internal/bus"
	"consilium/internal/config"
	"consilium/internal/message"
	"consilium/internal/specialist"
)

// Worker is stateless aside from in-flight invocations, so any number of
// instances of the same type may run concurrently across processes; they
// share one durable queue group on the broker.
type Worker struct {
	client      *bus.Client
	requestType message.SpecialistType
	invoker     specialist.Invoker
	cfg         config.WorkerConfig
	sem         chan struct{}
}

func New(client *bus.Client, requestType message.SpecialistType, invoker specialist.Invoker, cfg config.WorkerConfig) *Worker {
	limit := cfg.MaxConcurrentInvocations
	if limit < 1 {
		limit = 1
	}
	return &Worker{
		client:      client,
		requestType: requestType,
		invoker:     invoker,
		cfg:         cfg,
		sem:         make(chan struct{}, limit),
	}
}

// Run consumes the worker's queue until ctx is cancelled. Slow invocations
// do not stall the queue beyond the concurrency limit: further messages stay
// with the broker, which is the backpressure mechanism.
func (w *Worker) Run(ctx context.Context) error {
	cancel, err := w.client.QueueSubscribe(bus.TopicRequest(w.requestType), bus.QueueOptions{
		Group:      bus.WorkerQueue(w.requestType),
		AckWait:    w.cfg.AckDeadline,
		MaxDeliver: w.cfg.MaxDeliver,
		MaxPending: w.cfg.MaxConcurrentInvocations,
	}, func(payload []byte, attrs map[string]string, ack, nack func()) {
		w.dispatch(ctx, payload, ack, nack)
	})
	if err != nil {
		return err
	}

	slog.Info("specialist worker started",
		"request_type", w.requestType,
		"max_concurrent", cap(w.sem))

	<-ctx.Done()
	cancel()
	slog.Info("specialist worker stopped", "request_type", w.requestType)
	return nil
}

// dispatch hands the message to a bounded invocation goroutine so the
// subscription's delivery loop stays free.
func (w *Worker) dispatch(ctx context.Context, payload []byte, ack, nack func()) {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		nack()
		return
	}

	go func() {
		defer func() { <-w.sem }()
		w.process(ctx, payload, ack, nack)
	}()
}

func (w *Worker) process(ctx context.Context, payload []byte, ack, nack func()) {
	env, err := message.DecodeRequest(payload)
	if err != nil {
		// Malformed messages are never retried; ack so the broker
		// does not redeliver garbage.
		slog.Warn("dropping malformed request", "request_type", w.requestType, "error", err)
		ack()
		return
	}

	slog.Debug("processing request",
		"correlation_id", env.CorrelationID, "request_type", env.RequestType)

	start := time.Now()
	result, invokeErr := w.invoker.Invoke(ctx, env.RequestType, env.Parameters, env.Context)
	elapsed := time.Since(start)

	switch {
	case invokeErr == nil:
		w.respond(env, &message.ResponseEnvelope{
			CorrelationID:      env.CorrelationID,
			SubjectID:          env.SubjectID,
			SpecialistType:     env.RequestType,
			Result:             result,
			Status:             message.StatusSuccess,
			ProcessingDuration: elapsed,
			ProducedAt:         time.Now().UTC(),
		}, ack, nack)

	case specialist.IsPermanent(invokeErr):
		// A permanent failure must still surface as one response so
		// the aggregator's expected count is satisfied.
		slog.Warn("specialist failed permanently",
			"correlation_id", env.CorrelationID,
			"request_type", env.RequestType,
			"error", invokeErr)
		w.respond(env, &message.ResponseEnvelope{
			CorrelationID:      env.CorrelationID,
			SubjectID:          env.SubjectID,
			SpecialistType:     env.RequestType,
			Status:             message.StatusError,
			ErrorDetail:        invokeErr.Error(),
			ProcessingDuration: elapsed,
			ProducedAt:         time.Now().UTC(),
		}, ack, nack)

	default:
		// Transient: leave the message unacknowledged and let the
		// broker redeliver within its attempt budget.
		slog.Warn("specialist failed transiently, requesting redelivery",
			"correlation_id", env.CorrelationID,
			"request_type", env.RequestType,
			"error", invokeErr)
		nack()
	}
}

// respond publishes the response envelope, then acks the inbound request.
// If the response publish fails the request is nacked instead: redelivery
// re-invokes the specialist, and the aggregator's keyed merge absorbs the
// duplicate response that can result.
func (w *Worker) respond(req *message.RequestEnvelope, resp *message.ResponseEnvelope, ack, nack func()) {
	data, err := resp.Encode()
	if err != nil {
		slog.Error("encode response failed", "correlation_id", req.CorrelationID, "error", err)
		nack()
		return
	}

	if _, err := w.client.Publish(bus.TopicResponses, data, resp.Attributes()); err != nil {
		slog.Error("publish response failed",
			"correlation_id", req.CorrelationID,
			"request_type", req.RequestType,
			"error", err)
		nack()
		return
	}

	ack()
	slog.Debug("response published",
		"correlation_id", resp.CorrelationID,
		"specialist_type", resp.SpecialistType,
		"status", resp.Status,
		"duration", resp.ProcessingDuration)
}
