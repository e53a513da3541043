package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"consilium/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestConsultationLifecycle(t *testing.T) {
	s := newTestStore(t)

	c := &Consultation{
		CorrelationID: "corr-1",
		SubjectID:     "patient-123",
		RequestTypes:  []string{"medication_advice", "symptom_check"},
	}
	if err := s.SaveConsultation(c); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetConsultation("corr-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("consultation not found")
	}
	if got.Status != "pending" {
		t.Errorf("expected pending, got %s", got.Status)
	}
	if len(got.RequestTypes) != 2 {
		t.Errorf("request types not preserved: %v", got.RequestTypes)
	}

	responses := json.RawMessage(`{"medication_advice":{"status":"success"}}`)
	synthesis := json.RawMessage(`{"priority":"routine"}`)
	if err := s.ResolveConsultation("corr-1", "complete", responses, synthesis, 1200*time.Millisecond); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	got, err = s.GetConsultation("corr-1")
	if err != nil {
		t.Fatalf("get after resolve: %v", err)
	}
	if got.Status != "complete" {
		t.Errorf("expected complete, got %s", got.Status)
	}
	if got.ElapsedMs != 1200 {
		t.Errorf("expected 1200ms, got %d", got.ElapsedMs)
	}
	if got.ResolvedAt == nil {
		t.Error("expected resolved_at to be set")
	}
	if string(got.Synthesis) != `{"priority":"routine"}` {
		t.Errorf("synthesis not preserved: %s", got.Synthesis)
	}
}

func TestGetConsultationMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetConsultation("nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing consultation")
	}
}

func TestListConsultationsChronological(t *testing.T) {
	s := newTestStore(t)

	for _, id := range []string{"c1", "c2", "c3"} {
		err := s.SaveConsultation(&Consultation{
			CorrelationID: id,
			SubjectID:     "patient-123",
			RequestTypes:  []string{"symptom_check"},
		})
		if err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := s.SaveConsultation(&Consultation{
		CorrelationID: "other", SubjectID: "patient-999",
		RequestTypes: []string{"symptom_check"},
	}); err != nil {
		t.Fatal(err)
	}

	list, err := s.ListConsultations("patient-123", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 consultations, got %d", len(list))
	}
	for _, c := range list {
		if c.SubjectID != "patient-123" {
			t.Errorf("listing leaked another subject: %s", c.SubjectID)
		}
	}
}

func TestCheckDueAndRetire(t *testing.T) {
	s := newTestStore(t)

	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)
	checks := []*Check{
		{ID: "due", SubjectID: "p1", Name: "morning dose", Schedule: `{"kind":"cron","cron_expr":"0 8 * * *"}`,
			RequestTypes: []string{"medication_advice"}, NextRun: &past},
		{ID: "later", SubjectID: "p1", Name: "evening dose", Schedule: `{"kind":"cron","cron_expr":"0 20 * * *"}`,
			RequestTypes: []string{"medication_advice"}, NextRun: &future},
	}
	for _, c := range checks {
		if err := s.SaveCheck(c); err != nil {
			t.Fatalf("save check %s: %v", c.ID, err)
		}
	}

	due, err := s.GetDueChecks(time.Now())
	if err != nil {
		t.Fatalf("get due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "due" {
		t.Fatalf("expected only the due check, got %v", due)
	}

	// Retire it (no next run).
	if err := s.MarkCheckRun("due", time.Now(), nil); err != nil {
		t.Fatalf("mark run: %v", err)
	}
	due, err = s.GetDueChecks(time.Now())
	if err != nil {
		t.Fatalf("get due after retire: %v", err)
	}
	if len(due) != 0 {
		t.Errorf("retired check still due: %v", due)
	}

	all, err := s.ListChecks()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 checks, got %d", len(all))
	}
}

func TestSecretRoundTrip(t *testing.T) {
	s := newTestStore(t)

	sec := &Secret{
		ID:    "id-1",
		Name:  "nats-token",
		Value: []byte{0x01, 0x02},
		Nonce: []byte{0x03},
	}
	if err := s.SaveSecret(sec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.GetSecret("nats-token")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || string(got.Value) != string(sec.Value) {
		t.Fatalf("secret not preserved: %+v", got)
	}

	// Upsert by name
	sec.Value = []byte{0xAA}
	if err := s.SaveSecret(sec); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ = s.GetSecret("nats-token")
	if string(got.Value) != "\xaa" {
		t.Error("upsert did not replace value")
	}

	list, err := s.ListSecrets()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || len(list[0].Value) != 0 {
		t.Errorf("listing should carry metadata only: %+v", list)
	}

	if err := s.DeleteSecret("nats-token"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	got, _ = s.GetSecret("nats-token")
	if got != nil {
		t.Error("secret not deleted")
	}
}
