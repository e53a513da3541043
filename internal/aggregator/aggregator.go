// Package aggregator collects specialist responses by correlation id and
// releases waiters once the expected count arrives or a deadline passes.
package aggregator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"consilium/internal/bus"
	"consilium/internal/config"
	"consilium/internal/message"
)

// Early-arrival buffering is bounded so unclaimed responses (for example
// those belonging to another coordinator instance) cannot grow memory.
const maxEarlyCorrelations = 1024

const sweepInterval = time.Second

// Aggregator owns the in-memory aggregation state for one process. Multiple
// instances can coexist; each runs its own consumer on the response topic
// and only retains responses it has (or soon gets) a waiter for.
type Aggregator struct {
	cfg config.CoordinatorConfig

	mu      sync.Mutex
	waiters map[string]*aggregation
	early   map[string]*earlyEntry

	cancelSub func()
	stop      chan struct{}
	stopOnce  sync.Once
}

// aggregation tracks one correlation id from registration to resolution.
// State machine: registered -> resolved(complete) or resolved(partial).
// Resolved is terminal.
type aggregation struct {
	expected  int
	received  map[message.SpecialistType]message.ResponseEnvelope
	done      chan struct{}
	resolved  bool
	complete  bool
	abandoned bool
	deadline  time.Time
	timer     *time.Timer
}

type earlyEntry struct {
	responses map[message.SpecialistType]message.ResponseEnvelope
	expiresAt time.Time
}

// New builds an aggregator and attaches its consumer to the shared response
// topic.
func New(client *bus.Client, cfg config.CoordinatorConfig) (*Aggregator, error) {
	a := newAggregator(cfg)

	cancel, err := client.Subscribe(bus.TopicResponses, func(payload []byte, attrs map[string]string, ack, nack func()) {
		env, err := message.DecodeResponse(payload)
		if err != nil {
			// Malformed responses are dropped, never retried.
			slog.Warn("dropping malformed response", "error", err)
			ack()
			return
		}
		a.handle(env)
		ack()
	})
	if err != nil {
		return nil, err
	}
	a.cancelSub = cancel

	go a.sweep()
	return a, nil
}

func newAggregator(cfg config.CoordinatorConfig) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		waiters: make(map[string]*aggregation),
		early:   make(map[string]*earlyEntry),
		stop:    make(chan struct{}),
	}
}

func (a *Aggregator) Close() {
	a.stopOnce.Do(func() {
		if a.cancelSub != nil {
			a.cancelSub()
		}
		close(a.stop)
	})
}

// Await blocks until expectedCount distinct specialist types have responded
// for correlationID, or timeout elapses, whichever is first. The returned
// map holds the responses received so far; complete reports whether the
// expected count was met. Call only after the corresponding publishes were
// acknowledged, with expectedCount set to the number that actually succeeded.
//
// Cancelling ctx releases the waiter early with whatever has arrived; the
// entry keeps merging later responses until its deadline, then is discarded.
func (a *Aggregator) Await(ctx context.Context, correlationID string, expectedCount int, timeout time.Duration) (map[message.SpecialistType]message.ResponseEnvelope, bool) {
	if expectedCount <= 0 {
		return map[message.SpecialistType]message.ResponseEnvelope{}, true
	}
	if timeout <= 0 {
		timeout = a.cfg.AggregationTimeout
	}

	a.mu.Lock()
	ag := &aggregation{
		expected: expectedCount,
		received: make(map[message.SpecialistType]message.ResponseEnvelope),
		done:     make(chan struct{}),
		deadline: time.Now().Add(timeout),
	}

	// Adopt responses that beat the registration inside the grace window.
	// An entry past its window is as good as swept, even if the sweeper
	// has not run yet.
	if entry, ok := a.early[correlationID]; ok {
		delete(a.early, correlationID)
		if time.Now().Before(entry.expiresAt) {
			for st, env := range entry.responses {
				ag.received[st] = env
			}
		}
	}

	if len(ag.received) >= ag.expected {
		ag.resolved = true
		ag.complete = true
		close(ag.done)
	} else {
		ag.timer = time.AfterFunc(timeout, func() { a.expire(correlationID) })
	}
	a.waiters[correlationID] = ag
	a.mu.Unlock()

	select {
	case <-ag.done:
	case <-ctx.Done():
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	result := snapshot(ag.received)
	if ag.resolved {
		// Waiter consumed the terminal state; drop the entry.
		if ag.timer != nil {
			ag.timer.Stop()
		}
		delete(a.waiters, correlationID)
		return result, ag.complete
	}

	// ctx cancelled before resolution. Leave the entry in place for
	// diagnostics; the deadline timer or the sweeper discards it.
	ag.abandoned = true
	slog.Debug("await cancelled",
		"correlation_id", correlationID,
		"received", len(ag.received),
		"expected", ag.expected)
	return result, false
}

// handle merges one response. Keyed overwrite by specialist type keeps the
// merge idempotent under at-least-once redelivery.
func (a *Aggregator) handle(env *message.ResponseEnvelope) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ag, ok := a.waiters[env.CorrelationID]
	if !ok {
		a.bufferEarly(env)
		return
	}

	if ag.resolved {
		slog.Debug("discarding response for resolved correlation",
			"correlation_id", env.CorrelationID,
			"specialist_type", env.SpecialistType)
		return
	}

	ag.received[env.SpecialistType] = *env
	slog.Debug("response merged",
		"correlation_id", env.CorrelationID,
		"specialist_type", env.SpecialistType,
		"received", len(ag.received),
		"expected", ag.expected)

	if len(ag.received) >= ag.expected {
		ag.resolved = true
		ag.complete = true
		if ag.timer != nil {
			ag.timer.Stop()
		}
		close(ag.done)
		if ag.abandoned {
			// No waiter is left to consume the terminal state.
			delete(a.waiters, env.CorrelationID)
		}
	}
}

// bufferEarly holds a response with no registered waiter for the grace
// window, so an Await racing the first fast specialist still sees it.
func (a *Aggregator) bufferEarly(env *message.ResponseEnvelope) {
	if a.cfg.GraceWindow <= 0 {
		return
	}

	entry, ok := a.early[env.CorrelationID]
	if !ok {
		if len(a.early) >= maxEarlyCorrelations {
			slog.Warn("early-response buffer full, dropping",
				"correlation_id", env.CorrelationID,
				"specialist_type", env.SpecialistType)
			return
		}
		entry = &earlyEntry{
			responses: make(map[message.SpecialistType]message.ResponseEnvelope),
			expiresAt: time.Now().Add(a.cfg.GraceWindow),
		}
		a.early[env.CorrelationID] = entry
	}
	entry.responses[env.SpecialistType] = *env
}

// expire resolves a correlation id as partial once its deadline passes.
func (a *Aggregator) expire(correlationID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	ag, ok := a.waiters[correlationID]
	if !ok {
		return
	}
	if !ag.resolved {
		ag.resolved = true
		ag.complete = false
		close(ag.done)
		slog.Info("aggregation timed out",
			"correlation_id", correlationID,
			"received", len(ag.received),
			"expected", ag.expected)
	}
	if ag.abandoned {
		delete(a.waiters, correlationID)
	}
}

// sweep is the defensive cleanup loop: it evicts expired early buffers and
// resolved entries nobody claimed within the retention period.
func (a *Aggregator) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.stop:
			return
		case now := <-ticker.C:
			a.sweepOnce(now)
		}
	}
}

func (a *Aggregator) sweepOnce(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for id, entry := range a.early {
		if now.After(entry.expiresAt) {
			delete(a.early, id)
		}
	}
	for id, ag := range a.waiters {
		if ag.resolved && now.After(ag.deadline.Add(a.cfg.MaxRetention)) {
			delete(a.waiters, id)
		}
	}
}

func snapshot(in map[message.SpecialistType]message.ResponseEnvelope) map[message.SpecialistType]message.ResponseEnvelope {
	out := make(map[message.SpecialistType]message.ResponseEnvelope, len(in))
	for st, env := range in {
		out[st] = env
	}
	return out
}
