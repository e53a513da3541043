package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"consilium/internal/bus"
	"consilium/internal/config"
	"consilium/internal/message"
	"consilium/internal/publisher"
	"consilium/internal/specialist"
)

func newTestClient(t *testing.T) *bus.Client {
	t.Helper()

	b, err := bus.New(config.BusConfig{Port: -1, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("create bus: %v", err)
	}
	t.Cleanup(b.Close)

	client, err := bus.NewClient(b)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	t.Cleanup(client.Close)

	if err := client.EnsureStream(bus.StreamName, bus.StreamSubjects(), time.Hour); err != nil {
		t.Fatalf("ensure stream: %v", err)
	}
	return client
}

func testWorkerConfig() config.WorkerConfig {
	return config.WorkerConfig{
		AckDeadline:              5 * time.Second,
		MaxDeliver:               3,
		MaxConcurrentInvocations: 2,
	}
}

func collectResponses(t *testing.T, client *bus.Client) <-chan *message.ResponseEnvelope {
	t.Helper()

	out := make(chan *message.ResponseEnvelope, 8)
	cancel, err := client.Subscribe(bus.TopicResponses, func(payload []byte, attrs map[string]string, ack, nack func()) {
		env, err := message.DecodeResponse(payload)
		if err == nil {
			out <- env
		}
		ack()
	})
	if err != nil {
		t.Fatalf("subscribe responses: %v", err)
	}
	t.Cleanup(cancel)
	return out
}

func startWorker(t *testing.T, client *bus.Client, st message.SpecialistType, inv specialist.Invoker) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	w := New(client, st, inv, testWorkerConfig())
	go func() {
		if err := w.Run(ctx); err != nil {
			t.Errorf("worker run: %v", err)
		}
	}()
	// Let the durable consumer attach before tests publish.
	if err := client.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestSuccessProducesResponse(t *testing.T) {
	client := newTestClient(t)
	responses := collectResponses(t, client)
	startWorker(t, client, message.MedicationAdvice, &specialist.Mock{Delay: 10 * time.Millisecond})

	pub := publisher.New(client)
	correlationID, err := pub.Publish("patient-123", message.MedicationAdvice,
		map[string]any{"medication_name": "tacrolimus"}, nil)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case resp := <-responses:
		if resp.CorrelationID != correlationID {
			t.Errorf("correlation mismatch: %s", resp.CorrelationID)
		}
		if resp.Status != message.StatusSuccess {
			t.Errorf("expected success, got %s (%s)", resp.Status, resp.ErrorDetail)
		}
		if resp.SpecialistType != message.MedicationAdvice {
			t.Errorf("unexpected specialist type %s", resp.SpecialistType)
		}
		if resp.ProcessingDuration <= 0 {
			t.Errorf("expected positive processing duration, got %s", resp.ProcessingDuration)
		}
		if resp.Result["risk_level"] != "moderate" {
			t.Errorf("result not carried: %v", resp.Result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for response")
	}
}

func TestPermanentErrorBecomesErrorResponse(t *testing.T) {
	client := newTestClient(t)
	responses := collectResponses(t, client)

	var invocations atomic.Int32
	inv := specialist.Func(func(ctx context.Context, rt message.SpecialistType, params, reqCtx map[string]any) (map[string]any, error) {
		invocations.Add(1)
		return nil, specialist.Permanent(errors.New("unsupported parameter shape"))
	})
	startWorker(t, client, message.SymptomCheck, inv)

	pub := publisher.New(client)
	correlationID, err := pub.Publish("patient-123", message.SymptomCheck,
		map[string]any{"symptoms": []any{"fever"}}, nil)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case resp := <-responses:
		if resp.Status != message.StatusError {
			t.Fatalf("expected error response, got %s", resp.Status)
		}
		if resp.ErrorDetail == "" {
			t.Error("expected error_detail on error response")
		}
		if resp.CorrelationID != correlationID {
			t.Errorf("correlation mismatch: %s", resp.CorrelationID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for error response")
	}

	// Permanent failures are acked, never retried.
	time.Sleep(300 * time.Millisecond)
	if n := invocations.Load(); n != 1 {
		t.Errorf("expected exactly 1 invocation, got %d", n)
	}
}

func TestTransientErrorIsRedelivered(t *testing.T) {
	client := newTestClient(t)
	responses := collectResponses(t, client)

	var invocations atomic.Int32
	inv := specialist.Func(func(ctx context.Context, rt message.SpecialistType, params, reqCtx map[string]any) (map[string]any, error) {
		if invocations.Add(1) == 1 {
			return nil, errors.New("upstream timeout")
		}
		return map[string]any{"ok": true}, nil
	})
	startWorker(t, client, message.InteractionCheck, inv)

	pub := publisher.New(client)
	if _, err := pub.Publish("patient-123", message.InteractionCheck,
		map[string]any{"current_medications": []any{"tacrolimus"}}, nil); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case resp := <-responses:
		if resp.Status != message.StatusSuccess {
			t.Fatalf("expected eventual success, got %s (%s)", resp.Status, resp.ErrorDetail)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for retried response")
	}
	if n := invocations.Load(); n != 2 {
		t.Errorf("expected 2 invocations (1 failure + 1 retry), got %d", n)
	}
}

func TestMalformedRequestIsDropped(t *testing.T) {
	client := newTestClient(t)
	responses := collectResponses(t, client)

	var invocations atomic.Int32
	inv := specialist.Func(func(ctx context.Context, rt message.SpecialistType, params, reqCtx map[string]any) (map[string]any, error) {
		invocations.Add(1)
		return map[string]any{}, nil
	})
	startWorker(t, client, message.MedicationAdvice, inv)

	if _, err := client.Publish(bus.TopicRequest(message.MedicationAdvice), []byte("{garbage"), nil); err != nil {
		t.Fatalf("publish garbage: %v", err)
	}

	select {
	case resp := <-responses:
		t.Fatalf("unexpected response for malformed request: %+v", resp)
	case <-time.After(time.Second):
	}
	if n := invocations.Load(); n != 0 {
		t.Errorf("invoker should not run for malformed input, ran %d times", n)
	}
}
