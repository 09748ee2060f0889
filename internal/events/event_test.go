package events

import (
	"errors"
	"testing"

	"github.com/mtr002/jobpulse/internal/interfaces"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	tests := []StatusEvent{
		{OwnerID: "U1", JobID: "J1", Status: interfaces.StatusProcessing},
		{OwnerID: "U1", JobID: "J1", Status: interfaces.StatusCompleted, Message: "done"},
		{OwnerID: "U2", JobID: "J9", Status: interfaces.StatusFailed, Message: "boom", SessionID: "s-1"},
	}

	for _, in := range tests {
		data, err := in.Marshal()
		if err != nil {
			t.Fatalf("Marshal(%+v): %v", in, err)
		}
		out, err := Parse(data)
		if err != nil {
			t.Fatalf("Parse(%s): %v", data, err)
		}
		in.Type = EventType
		if out != in {
			t.Errorf("round trip = %+v, want %+v", out, in)
		}
	}
}

func TestParseAcceptsUserIDAlias(t *testing.T) {
	data := []byte(`{"type":"job_status_update","user_id":"U1","job_id":"J1","status":"COMPLETED","session_id":null,"message":null}`)

	evt, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if evt.OwnerID != "U1" {
		t.Errorf("OwnerID = %q, want U1", evt.OwnerID)
	}
	if evt.Message != "" || evt.SessionID != "" {
		t.Errorf("null optional fields should decode empty, got %+v", evt)
	}
}

func TestParseOwnerIDWinsOverAlias(t *testing.T) {
	data := []byte(`{"type":"job_status_update","owner_id":"U1","user_id":"U2","job_id":"J1","status":"PENDING"}`)

	evt, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if evt.OwnerID != "U1" {
		t.Errorf("OwnerID = %q, want U1", evt.OwnerID)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		want error
	}{
		{"not json", `not json`, ErrMalformedEvent},
		{"array", `[1,2]`, ErrMalformedEvent},
		{"wrong type", `{"type":"other","owner_id":"U1","job_id":"J1","status":"PENDING"}`, ErrMalformedEvent},
		{"wrong type is flagged", `{"type":"other","owner_id":"U1","job_id":"J1","status":"PENDING"}`, ErrUnexpectedType},
		{"missing type", `{"owner_id":"U1","job_id":"J1","status":"PENDING"}`, ErrMalformedEvent},
		{"missing owner", `{"type":"job_status_update","job_id":"J1","status":"PENDING"}`, ErrIncompleteEvent},
		{"missing job", `{"type":"job_status_update","owner_id":"U1","status":"PENDING"}`, ErrIncompleteEvent},
		{"missing status", `{"type":"job_status_update","owner_id":"U1","job_id":"J1"}`, ErrIncompleteEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if !errors.Is(err, tt.want) {
				t.Errorf("Parse() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestPushMessage(t *testing.T) {
	evt := StatusEvent{Type: EventType, OwnerID: "U1", JobID: "J1", Status: interfaces.StatusFailed, Message: "boom"}

	push := evt.Push()
	if push.JobID != "J1" || push.Status != interfaces.StatusFailed || push.Message != "boom" {
		t.Errorf("Push() = %+v", push)
	}
}
