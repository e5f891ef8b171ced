package websocket

import (
	"encoding/json"
	"testing"

	"github.com/satriahrh/cprlink/domain/entities"
)

func TestMessageValidator_ValidatePing(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name    string
		message string
		wantErr bool
	}{
		{name: "valid ping", message: `{"type": "ping", "data": "hello"}`},
		{name: "snapshot from device", message: `{"type": "snapshot"}`, wantErr: true},
		{name: "unknown type", message: `{"type": "audio_chunk"}`, wantErr: true},
		{name: "invalid JSON", message: `{"type": "ping"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := validator.ValidateMessage([]byte(tt.message))
			if (err != nil) != tt.wantErr {
				t.Fatalf("ValidateMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			ping, ok := msg.(*PingMessage)
			if !ok {
				t.Fatalf("Expected *PingMessage, got %T", msg)
			}
			if ping.Data != "hello" {
				t.Errorf("Expected data hello, got %q", ping.Data)
			}
			if ping.Timestamp == "" {
				t.Error("Timestamp should be filled in")
			}
		})
	}
}

func TestParseServerMessage_Snapshot(t *testing.T) {
	doc := entities.SharedAlertDocument{
		PairingCode: "483920",
		Status:      entities.AlertStatusEmergency,
		Location:    entities.LocationUnavailable,
		PushTrigger: 1700000000000,
	}
	payload, err := json.Marshal(CreateSnapshotMessage(doc))
	if err != nil {
		t.Fatalf("Failed to marshal snapshot: %v", err)
	}

	msg, err := ParseServerMessage(payload)
	if err != nil {
		t.Fatalf("ParseServerMessage returned error: %v", err)
	}
	snapshot, ok := msg.(*SnapshotMessage)
	if !ok {
		t.Fatalf("Expected *SnapshotMessage, got %T", msg)
	}
	if snapshot.Document.PairingCode != "483920" || snapshot.Document.PushTrigger != doc.PushTrigger {
		t.Errorf("Snapshot document mismatch: %+v", snapshot.Document)
	}
	if !snapshot.Document.IsEmergency() {
		t.Error("Expected EMERGENCY status to survive the wire")
	}
}

func TestParseServerMessage_Rejects(t *testing.T) {
	cases := []string{
		`{"type": "snapshot", "document": {"status": "NORMAL"}}`,
		`{"type": "listening_start"}`,
		`not json`,
	}
	for _, c := range cases {
		if _, err := ParseServerMessage([]byte(c)); err == nil {
			t.Errorf("Expected error for %s", c)
		}
	}
}

func TestCreateErrorMessage(t *testing.T) {
	msg := CreateErrorMessage("subscribe_failed", "could not subscribe", "details")
	if msg.Type != MessageTypeError {
		t.Errorf("Expected type error, got %s", msg.Type)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Failed to marshal error message: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal error message: %v", err)
	}
	if decoded["error_code"] != "subscribe_failed" {
		t.Errorf("Expected error_code subscribe_failed, got %v", decoded["error_code"])
	}
}
