package ingestion

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func validEvent() *Event {
	return &Event{
		Topic:     "application-logs",
		EventID:   "evt-550e8400-e29b-41d4-a716-446655440000",
		Timestamp: time.Date(2024, 12, 4, 10, 30, 0, 0, time.UTC),
		Source:    "service-a",
		Payload:   map[string]interface{}{"level": "INFO"},
	}
}

func TestValidate_ValidEvent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	event := validEvent()

	if err := event.Validate(); err != nil {
		t.Errorf("Validate() failed for valid event: %v", err)
	}
}

func TestValidate_EmptyPayloadAccepted(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	event := validEvent()
	event.Payload = map[string]interface{}{}

	if err := event.Validate(); err != nil {
		t.Errorf("Validate() rejected empty payload: %v", err)
	}
}

func TestValidate_NilEvent(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	var event *Event

	if err := event.Validate(); !errors.Is(err, ErrNilEvent) {
		t.Errorf("Validate() = %v, want ErrNilEvent", err)
	}
}

func TestValidate_EventIDLengthBoundary(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	// 7 characters rejected, 8 accepted
	event := validEvent()
	event.EventID = "abcd123"

	if err := event.Validate(); !errors.Is(err, ErrEventIDTooShort) {
		t.Errorf("Validate() with 7-char event_id = %v, want ErrEventIDTooShort", err)
	}

	event.EventID = "abcd1234"
	if err := event.Validate(); err != nil {
		t.Errorf("Validate() with 8-char event_id failed: %v", err)
	}
}

func TestValidate_WhitespaceOnlyFieldsRejected(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr error
	}{
		{"topic", func(e *Event) { e.Topic = "   " }, ErrTopicEmpty},
		{"event_id", func(e *Event) { e.EventID = "\t\n " }, ErrEventIDEmpty},
		{"source", func(e *Event) { e.Source = "  " }, ErrSourceEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.mutate(event)

			if err := event.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_FieldLengthLimits(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	long := strings.Repeat("x", 256)

	tests := []struct {
		name    string
		mutate  func(*Event)
		wantErr error
	}{
		{"topic", func(e *Event) { e.Topic = long }, ErrTopicTooLong},
		{"event_id", func(e *Event) { e.EventID = long }, ErrEventIDTooLong},
		{"source", func(e *Event) { e.Source = long }, ErrSourceTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := validEvent()
			tt.mutate(event)

			if err := event.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ZeroTimestamp(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	event := validEvent()
	event.Timestamp = time.Time{}

	if err := event.Validate(); !errors.Is(err, ErrTimestampZero) {
		t.Errorf("Validate() = %v, want ErrTimestampZero", err)
	}
}

func TestNormalize_TrimsAndDefaultsPayload(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	event := &Event{
		Topic:     "  app-logs  ",
		EventID:   " evt-12345678 ",
		Timestamp: time.Now().UTC(),
		Source:    "\tservice-a\n",
		Payload:   nil,
	}

	event.Normalize()

	if event.Topic != "app-logs" {
		t.Errorf("Normalize() topic = %q, want %q", event.Topic, "app-logs")
	}

	if event.EventID != "evt-12345678" {
		t.Errorf("Normalize() event_id = %q, want %q", event.EventID, "evt-12345678")
	}

	if event.Source != "service-a" {
		t.Errorf("Normalize() source = %q, want %q", event.Source, "service-a")
	}

	if event.Payload == nil {
		t.Error("Normalize() left payload nil, want empty object")
	}
}

func TestParseTimestamp(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"trailing Z", "2024-12-04T10:30:00Z", false},
		{"explicit offset", "2024-12-04T17:30:00+07:00", false},
		{"fractional seconds", "2024-12-04T10:30:00.123456Z", false},
		{"no timezone", "2024-12-04T10:30:00", true},
		{"garbage", "yesterday", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTimestamp(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseTimestamp(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
