// Package events carries job status transitions between processes over a
// shared publish/subscribe channel.
package events

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mtr002/jobpulse/internal/interfaces"
)

const (
	// EventType tags every status event on the wire
	EventType = "job_status_update"
	// Channel is the shared channel name used by publishers and subscribers
	Channel = "job_status_updates"
)

var (
	ErrMalformedEvent  = errors.New("malformed status event")
	ErrIncompleteEvent = errors.New("incomplete status event")
	// ErrUnexpectedType marks well-formed messages that are not status
	// events; it also matches ErrMalformedEvent
	ErrUnexpectedType = errors.New("not a status event")
)

// StatusEvent is produced once per job transition. It is never persisted.
type StatusEvent struct {
	Type      string               `json:"type"`
	OwnerID   string               `json:"owner_id"`
	JobID     string               `json:"job_id"`
	Status    interfaces.JobStatus `json:"status"`
	Message   string               `json:"message,omitempty"`
	SessionID string               `json:"session_id,omitempty"`
}

// NewStatusEvent builds the event for a job's current status
func NewStatusEvent(job *interfaces.Job, message string) StatusEvent {
	return StatusEvent{
		Type:    EventType,
		OwnerID: job.OwnerID,
		JobID:   job.ID,
		Status:  job.Status,
		Message: message,
	}
}

// Marshal encodes the event for the channel
func (e StatusEvent) Marshal() ([]byte, error) {
	if e.Type == "" {
		e.Type = EventType
	}
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal status event: %w", err)
	}
	return data, nil
}

// Push is the client-facing shape written to live connections
func (e StatusEvent) Push() PushMessage {
	return PushMessage{
		JobID:     e.JobID,
		Status:    e.Status,
		Message:   e.Message,
		SessionID: e.SessionID,
	}
}

// PushMessage is what a connected client receives
type PushMessage struct {
	JobID     string               `json:"job_id"`
	Status    interfaces.JobStatus `json:"status"`
	Message   string               `json:"message,omitempty"`
	SessionID string               `json:"session_id,omitempty"`
}

type wireEvent struct {
	StatusEvent
	UserID string `json:"user_id"`
}

// Parse decodes a channel payload. Older producers sent the owner as
// user_id; it is accepted when owner_id is absent.
func Parse(data []byte) (StatusEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return StatusEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	evt := w.StatusEvent
	if evt.OwnerID == "" {
		evt.OwnerID = w.UserID
	}
	if evt.Type != EventType {
		return StatusEvent{}, fmt.Errorf("%w: %w: type %q", ErrMalformedEvent, ErrUnexpectedType, evt.Type)
	}
	if evt.OwnerID == "" || evt.JobID == "" || evt.Status == "" {
		return StatusEvent{}, ErrIncompleteEvent
	}
	return evt, nil
}
