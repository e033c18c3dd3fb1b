package outbox

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMessageOptions(t *testing.T) {
	customID := uuid.New()
	customTime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	msg := NewMessage(
		"order.created",
		[]byte("payload"),
		WithID(customID),
		WithCreatedAt(customTime),
		WithCorrelationID("req-42"),
	)

	if msg.ID != customID {
		t.Errorf("expected ID to be %v, got %v", customID, msg.ID)
	}
	if msg.EventType != "order.created" {
		t.Errorf("expected EventType to be order.created, got %v", msg.EventType)
	}
	if !msg.CreatedAt.Equal(customTime) {
		t.Errorf("expected CreatedAt to be %v, got %v", customTime, msg.CreatedAt)
	}
	if !msg.UpdatedAt.Equal(customTime) {
		t.Errorf("expected UpdatedAt to be %v, got %v", customTime, msg.UpdatedAt)
	}
	if !bytes.Equal(msg.Payload, []byte("payload")) {
		t.Errorf("expected Payload to be %v, got %v", []byte("payload"), msg.Payload)
	}
	if msg.CorrelationID != "req-42" {
		t.Errorf("expected CorrelationID to be req-42, got %v", msg.CorrelationID)
	}
	if msg.Status != StatusPending {
		t.Errorf("expected Status to be pending, got %v", msg.Status)
	}
	if msg.RetryCount != 0 {
		t.Errorf("expected RetryCount to be 0, got %v", msg.RetryCount)
	}
	if msg.ProcessedAt != nil {
		t.Errorf("expected ProcessedAt to be nil, got %v", msg.ProcessedAt)
	}
}

func TestMessageDefaults(t *testing.T) {
	before := time.Now().UTC()
	msg := NewMessage("order.created", []byte("payload"))
	after := time.Now().UTC()

	if msg.ID == uuid.Nil {
		t.Error("expected a generated ID")
	}
	if msg.CreatedAt.Before(before) || msg.CreatedAt.After(after) {
		t.Errorf("expected CreatedAt between %v and %v, got %v", before, after, msg.CreatedAt)
	}
	if msg.CorrelationID != "" {
		t.Errorf("expected empty CorrelationID, got %q", msg.CorrelationID)
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name          string
		eventType     string
		correlationID string
		wantField     string
	}{
		{
			name:      "valid message",
			eventType: "order.created",
		},
		{
			name:          "event type and correlation id at the limits",
			eventType:     strings.Repeat("a", MaxEventTypeLength),
			correlationID: strings.Repeat("b", MaxCorrelationIDLength),
		},
		{
			name:      "empty event type",
			eventType: "",
			wantField: "EventType",
		},
		{
			name:      "event type too long",
			eventType: strings.Repeat("a", MaxEventTypeLength+1),
			wantField: "EventType",
		},
		{
			name:          "correlation id too long",
			eventType:     "order.created",
			correlationID: strings.Repeat("b", MaxCorrelationIDLength+1),
			wantField:     "CorrelationID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewMessage(tt.eventType, []byte("payload"), WithCorrelationID(tt.correlationID))
			err := msg.Validate()

			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("expected no error, got: %v", err)
				}
				return
			}

			var validationErr *ValidationError
			if !errors.As(err, &validationErr) {
				t.Fatalf("expected a *ValidationError, got: %v", err)
			}
			if validationErr.Field != tt.wantField {
				t.Errorf("expected field %q, got %q", tt.wantField, validationErr.Field)
			}
		})
	}
}
