package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type EventType string

const (
	EventEntityCreated    EventType = "entity.created"
	EventEntityUpdated    EventType = "entity.updated"
	EventEntityDeleted    EventType = "entity.deleted"
	EventEntityAssigned   EventType = "entity.assigned"
	EventEntityUnassigned EventType = "entity.unassigned"
	EventBulkImported     EventType = "bulk.imported"
	EventBulkDeleted      EventType = "bulk.deleted"
	EventTypeUnknown      EventType = "unknown"
)

// ParseEventType maps a wire value onto the closed enumeration. Anything else
// is EventTypeUnknown.
func ParseEventType(s string) EventType {
	switch t := EventType(s); t {
	case EventEntityCreated, EventEntityUpdated, EventEntityDeleted,
		EventEntityAssigned, EventEntityUnassigned,
		EventBulkImported, EventBulkDeleted:
		return t
	}
	return EventTypeUnknown
}

const SourceProtocolEngine = "protocol-engine"

var ErrUnknownEventType = errors.New("unknown event type")

type SyncEventMetadata struct {
	Timestamp          time.Time `json:"timestamp"`
	CorrelationID      string    `json:"correlationId"`
	ProtocolInstanceID string    `json:"protocolInstanceId,omitempty"`
	ActingUserID       string    `json:"actingUserId,omitempty"`
	TenantID           string    `json:"tenantId,omitempty"`
}

// SyncEvent is the envelope placed on a durable domain queue.
type SyncEvent struct {
	EventType    EventType         `json:"eventType"`
	EventID      string            `json:"eventId"`
	SourceSystem string            `json:"sourceSystem"`
	Domain       Domain            `json:"domain"`
	Payload      json.RawMessage   `json:"payload"`
	Metadata     SyncEventMetadata `json:"metadata"`
}

// Payload is the decoded form of SyncEvent.Payload. The concrete type is fixed
// by the event type.
type Payload interface {
	payload()
}

// EntityPayload carries the full canonical entity for create/update.
type EntityPayload struct {
	Entity json.RawMessage
}

type DeletePayload struct {
	ID string `json:"id"`
}

type AssignmentPayload struct {
	EntityID string `json:"entityId"`
	OwnerID  string `json:"ownerId"`
}

type BulkPayload struct {
	IDs []string `json:"ids,omitempty"`
}

func (EntityPayload) payload()     {}
func (DeletePayload) payload()     {}
func (AssignmentPayload) payload() {}
func (BulkPayload) payload()       {}

func (p EntityPayload) MarshalJSON() ([]byte, error) {
	if len(p.Entity) == 0 {
		return []byte("null"), nil
	}
	return p.Entity, nil
}

// DecodePayload returns the typed payload for the event.
func (e SyncEvent) DecodePayload() (Payload, error) {
	switch e.EventType {
	case EventEntityCreated, EventEntityUpdated:
		if len(e.Payload) == 0 || string(e.Payload) == "null" {
			return nil, fmt.Errorf("%s event %s has no entity", e.EventType, e.EventID)
		}
		return EntityPayload{Entity: e.Payload}, nil
	case EventEntityDeleted:
		var p DeletePayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode delete payload: %w", err)
		}
		if p.ID == "" {
			return nil, fmt.Errorf("delete event %s has no id", e.EventID)
		}
		return p, nil
	case EventEntityAssigned, EventEntityUnassigned:
		var p AssignmentPayload
		if err := json.Unmarshal(e.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to decode assignment payload: %w", err)
		}
		if p.EntityID == "" {
			return nil, fmt.Errorf("assignment event %s has no entity id", e.EventID)
		}
		return p, nil
	case EventBulkImported, EventBulkDeleted:
		var p BulkPayload
		if len(e.Payload) > 0 && string(e.Payload) != "null" {
			if err := json.Unmarshal(e.Payload, &p); err != nil {
				return nil, fmt.Errorf("failed to decode bulk payload: %w", err)
			}
		}
		return p, nil
	case EventTypeUnknown:
		return nil, ErrUnknownEventType
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	}
}
