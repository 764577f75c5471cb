package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/prudhvinik1/syncbridge/internal/models"
)

var (
	ErrUnmappedEvent = errors.New("unmapped event")
	ErrEmptyPayload  = errors.New("event carries no usable payload")
)

type route struct {
	eventType models.EventType
	domain    models.Domain
}

// Notification and command names the engine emits for managed domains.
var (
	notificationRoutes = map[string]route{
		"deviceCreated":    {models.EventEntityCreated, models.DomainDevice},
		"deviceUpdated":    {models.EventEntityUpdated, models.DomainDevice},
		"deviceDeleted":    {models.EventEntityDeleted, models.DomainDevice},
		"deviceAssigned":   {models.EventEntityAssigned, models.DomainDevice},
		"deviceUnassigned": {models.EventEntityUnassigned, models.DomainDevice},
		"devicesImported":  {models.EventBulkImported, models.DomainDevice},
		"devicesDeleted":   {models.EventBulkDeleted, models.DomainDevice},
		"tenantCreated":    {models.EventEntityCreated, models.DomainTenant},
		"tenantUpdated":    {models.EventEntityUpdated, models.DomainTenant},
		"tenantDeleted":    {models.EventEntityDeleted, models.DomainTenant},
	}

	commandRoutes = map[string]route{
		"createDevice":               {models.EventEntityCreated, models.DomainDevice},
		"updateDevice":               {models.EventEntityUpdated, models.DomainDevice},
		"deleteDevice":               {models.EventEntityDeleted, models.DomainDevice},
		"assignDeviceToCustomer":     {models.EventEntityAssigned, models.DomainDevice},
		"unassignDeviceFromCustomer": {models.EventEntityUnassigned, models.DomainDevice},
		"importDevices":              {models.EventBulkImported, models.DomainDevice},
		"deleteDevices":              {models.EventBulkDeleted, models.DomainDevice},
		"createTenant":               {models.EventEntityCreated, models.DomainTenant},
		"updateTenant":               {models.EventEntityUpdated, models.DomainTenant},
		"deleteTenant":               {models.EventEntityDeleted, models.DomainTenant},
	}
)

// Commands is the business command allow-list for the stream classifier.
func Commands() []string {
	names := make([]string, 0, len(commandRoutes))
	for name := range commandRoutes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(raw models.RawEvent) (route, bool) {
	var r route
	var ok bool
	switch raw.Kind {
	case models.KindNotify:
		r, ok = notificationRoutes[raw.Name]
	case models.KindCommand:
		r, ok = commandRoutes[raw.Name]
	}
	return r, ok
}

// EnvelopeBuilder turns classified raw events into SyncEvents.
type EnvelopeBuilder struct {
	now func() time.Time
}

func NewEnvelopeBuilder() *EnvelopeBuilder {
	return &EnvelopeBuilder{now: time.Now}
}

func (b *EnvelopeBuilder) Build(raw models.RawEvent, session *Session) (models.SyncEvent, error) {
	r, ok := lookup(raw)
	if !ok {
		return models.SyncEvent{}, fmt.Errorf("%w: %s %q", ErrUnmappedEvent, raw.Kind, raw.Name)
	}

	args := objectOf(raw.Arguments)
	entity, fields := entityDoc(raw, r.domain)

	var payload any
	switch r.eventType {
	case models.EventEntityCreated, models.EventEntityUpdated:
		if entity == nil {
			return models.SyncEvent{}, fmt.Errorf("%w: %s has no %s entity", ErrEmptyPayload, raw.Name, r.domain)
		}
		payload = entity
	case models.EventEntityDeleted:
		id := firstString(args, "id", idKey(r.domain))
		if id == "" {
			id = stringField(fields, "id")
		}
		if id == "" {
			return models.SyncEvent{}, fmt.Errorf("%w: %s has no id", ErrEmptyPayload, raw.Name)
		}
		payload = models.DeletePayload{ID: id}
	case models.EventEntityAssigned, models.EventEntityUnassigned:
		id := firstString(args, idKey(r.domain), "id")
		if id == "" {
			id = stringField(fields, "id")
		}
		if id == "" {
			return models.SyncEvent{}, fmt.Errorf("%w: %s has no %s id", ErrEmptyPayload, raw.Name, r.domain)
		}
		payload = models.AssignmentPayload{EntityID: id, OwnerID: firstString(args, "customerId", "targetId")}
	case models.EventBulkImported, models.EventBulkDeleted:
		var p models.BulkPayload
		if ids, ok := args["ids"]; ok {
			// The sweep does not need ids, so a malformed list is ignored.
			if err := json.Unmarshal(ids, &p.IDs); err != nil {
				p.IDs = nil
			}
		}
		payload = p
	default:
		return models.SyncEvent{}, fmt.Errorf("%w: %s", models.ErrUnknownEventType, r.eventType)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return models.SyncEvent{}, fmt.Errorf("failed to encode payload for %s: %w", raw.Name, err)
	}

	ts := raw.Timestamp.Time
	if ts.IsZero() {
		ts = b.now().UTC()
	}
	correlation := raw.CorrelationID
	if correlation == "" {
		correlation = session.CorrelationFor(raw.InstanceID)
	}
	tenant := raw.TenantID
	if tenant == "" {
		tenant = stringField(fields, "tenantId")
	}

	return models.SyncEvent{
		EventType:    r.eventType,
		EventID:      uuid.NewString(),
		SourceSystem: models.SourceProtocolEngine,
		Domain:       r.domain,
		Payload:      data,
		Metadata: models.SyncEventMetadata{
			Timestamp:          ts,
			CorrelationID:      correlation,
			ProtocolInstanceID: raw.InstanceID,
			ActingUserID:       raw.UserID,
			TenantID:           tenant,
		},
	}, nil
}

// entityDoc finds the entity in a command response or the arguments, either
// nested under the domain name or as the object itself.
func entityDoc(raw models.RawEvent, domain models.Domain) (json.RawMessage, map[string]json.RawMessage) {
	for _, src := range []json.RawMessage{raw.Response, raw.Arguments} {
		obj := objectOf(src)
		if obj == nil {
			continue
		}
		if nested := objectOf(obj[string(domain)]); stringField(nested, "id") != "" {
			return obj[string(domain)], nested
		}
		if stringField(obj, "id") != "" {
			return src, obj
		}
	}
	return nil, nil
}

func idKey(domain models.Domain) string {
	return string(domain) + "Id"
}

func objectOf(raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil
	}
	return obj
}

func stringField(obj map[string]json.RawMessage, key string) string {
	v, ok := obj[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return ""
	}
	return s
}

func firstString(obj map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if s := stringField(obj, k); s != "" {
			return s
		}
	}
	return ""
}
