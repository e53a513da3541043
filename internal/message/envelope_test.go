package message

import (
	"testing"
	"time"
)

func TestRequestRoundTrip(t *testing.T) {
	env := &RequestEnvelope{
		CorrelationID: "corr-1",
		SubjectID:     "patient-123",
		RequestType:   MedicationAdvice,
		Parameters: map[string]any{
			"medication_name": "tacrolimus",
			"scheduled_time":  "2024-01-01T08:00:00Z",
		},
		Context:   map[string]any{"transplant_type": "kidney"},
		CreatedAt: time.Now().UTC(),
	}

	data, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	got, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.CorrelationID != "corr-1" {
		t.Errorf("expected corr-1, got %s", got.CorrelationID)
	}
	if got.RequestType != MedicationAdvice {
		t.Errorf("expected medication_advice, got %s", got.RequestType)
	}
	if got.Parameters["medication_name"] != "tacrolimus" {
		t.Errorf("parameters not preserved: %v", got.Parameters)
	}
}

func TestDecodeRequestRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		data []byte
	}{
		{"not json", []byte("not json at all")},
		{"missing correlation", []byte(`{"request_type":"symptom_check"}`)},
		{"missing type", []byte(`{"correlation_id":"c1"}`)},
	}
	for _, tc := range cases {
		if _, err := DecodeRequest(tc.data); err == nil {
			t.Errorf("%s: expected decode error", tc.name)
		}
	}
}

func TestDecodeResponseRejectsMalformed(t *testing.T) {
	if _, err := DecodeResponse([]byte(`{"correlation_id":"c1"}`)); err == nil {
		t.Error("expected error for missing specialist_type")
	}
	if _, err := DecodeResponse([]byte(`{`)); err == nil {
		t.Error("expected error for truncated json")
	}
}

func TestAttributes(t *testing.T) {
	req := &RequestEnvelope{CorrelationID: "c1", RequestType: SymptomCheck}
	attrs := req.Attributes()
	if attrs[AttrCorrelationID] != "c1" || attrs[AttrRequestType] != "symptom_check" {
		t.Errorf("unexpected request attributes: %v", attrs)
	}

	resp := &ResponseEnvelope{CorrelationID: "c1", SpecialistType: SymptomCheck, Status: StatusSuccess}
	attrs = resp.Attributes()
	if attrs[AttrSpecialistType] != "symptom_check" {
		t.Errorf("unexpected response attributes: %v", attrs)
	}
}
