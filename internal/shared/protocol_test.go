package shared

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewEnvelopePollingPayload(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := []PollingEvent{
		{NodeID: "a", Timestamp: ts, Synced: true, Height: 100, Version: "1.0.2"},
		OfflineEvent("b", ts),
	}

	env, err := NewEnvelope(EventTypePolling, "cycle-1", ts.UnixMilli(), batch)
	if err != nil {
		t.Fatalf("NewEnvelope failed: %v", err)
	}

	data, err := MarshalEnvelope(env)
	if err != nil {
		t.Fatalf("MarshalEnvelope failed: %v", err)
	}

	decoded, err := UnmarshalEnvelope(data)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope failed: %v", err)
	}
	if decoded.Type != string(EventTypePolling) {
		t.Errorf("Type mismatch: got %s, want %s", decoded.Type, EventTypePolling)
	}
	if decoded.RequestID != "cycle-1" {
		t.Errorf("RequestID mismatch: got %s", decoded.RequestID)
	}

	var events []PollingEvent
	if err := json.Unmarshal(decoded.Payload, &events); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Height != 100 || !events[0].Synced {
		t.Errorf("unexpected first event: %+v", events[0])
	}
	if !events[1].Offline() {
		t.Errorf("expected second event to be offline, got version %q", events[1].Version)
	}
	if !events[1].Timestamp.Equal(ts) {
		t.Errorf("timestamp mismatch: got %v, want %v", events[1].Timestamp, ts)
	}
}

func TestEnvelopeUnsupportedVersionUnmarshal(t *testing.T) {
	data := []byte(`{"version":999,"type":"polling","request_id":"req-789","timestamp":1234567890,"payload":[]}`)

	_, err := UnmarshalEnvelope(data)
	if err == nil {
		t.Fatal("UnmarshalEnvelope should reject unsupported version")
	}
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Errorf("Expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestEnvelopeMissingType(t *testing.T) {
	env := &Envelope{
		Version:   ProtocolVersion,
		Timestamp: time.Now().Unix(),
		Payload:   json.RawMessage(`{}`),
	}

	_, err := MarshalEnvelope(env)
	if err != ErrMissingType {
		t.Errorf("Expected ErrMissingType, got %v", err)
	}
}

func TestEnvelopeMissingTimestamp(t *testing.T) {
	env := &Envelope{
		Version: ProtocolVersion,
		Type:    string(EventTypeInfo),
		Payload: json.RawMessage(`"cleaned"`),
	}

	_, err := MarshalEnvelope(env)
	if err != ErrMissingTimestamp {
		t.Errorf("Expected ErrMissingTimestamp, got %v", err)
	}
}

func TestOfflineEventSentinel(t *testing.T) {
	ts := time.Now().UTC()
	ev := OfflineEvent("node-x", ts)

	if ev.Version != OfflineVersion || ev.Synced {
		t.Fatalf("unexpected sentinel: %+v", ev)
	}
	if ev.Height != 0 || ev.ConnectionsIn != 0 || ev.ConnectionsOut != 0 ||
		ev.Difficulty != 0 || ev.Hashrate != 0 || ev.TransactionPoolSize != 0 || ev.FeeAmount != 0 {
		t.Fatalf("expected zeroed metrics, got %+v", ev)
	}
	if ev.FeeAddress != "" {
		t.Fatalf("expected empty fee address, got %q", ev.FeeAddress)
	}
}
