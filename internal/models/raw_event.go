package models

import (
	"encoding/json"
	"time"
)

type EventKind string

const (
	KindNotify  EventKind = "notify"
	KindCommand EventKind = "command"
)

// RawEvent is one frame from the protocol engine's event stream. Command echoes
// carry their name in "command" and arguments in "parameters"; UnmarshalJSON
// folds both spellings into Name and Arguments.
type RawEvent struct {
	Kind          EventKind       `json:"type"`
	Name          string          `json:"name"`
	Arguments     json.RawMessage `json:"arguments,omitempty"`
	Response      json.RawMessage `json:"response,omitempty"`
	Timestamp     EventTime       `json:"timestamp"`
	CorrelationID string          `json:"correlationId,omitempty"`
	UserID        string          `json:"userId,omitempty"`
	TenantID      string          `json:"tenantId,omitempty"`
	InstanceID    string          `json:"instanceId,omitempty"`
}

func (e *RawEvent) UnmarshalJSON(data []byte) error {
	type plain RawEvent
	var aux struct {
		plain
		Command    string          `json:"command"`
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = RawEvent(aux.plain)
	if e.Name == "" {
		e.Name = aux.Command
	}
	if len(e.Arguments) == 0 {
		e.Arguments = aux.Parameters
	}
	return nil
}

// EventTime accepts either an RFC 3339 string or Unix milliseconds.
type EventTime struct {
	time.Time
}

func (t *EventTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var millis int64
	if err := json.Unmarshal(data, &millis); err == nil {
		t.Time = time.UnixMilli(millis).UTC()
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

func (t EventTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time)
}
