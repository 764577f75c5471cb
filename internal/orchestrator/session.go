package orchestrator

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
)

const (
	instanceTTL     = 30 * time.Minute
	instanceCleanup = 5 * time.Minute
)

// Session is the state of one event stream connection. A new one is made
// on every reconnect so nothing outlives the connection it was learned on.
type Session struct {
	ID          string
	ConnectedAt time.Time

	// protocol instance id -> correlation id
	instances *cache.Cache
}

func NewSession() *Session {
	return &Session{
		ID:          uuid.NewString(),
		ConnectedAt: time.Now().UTC(),
		instances:   cache.New(instanceTTL, instanceCleanup),
	}
}

// CorrelationFor returns a stable correlation id for events from the same
// protocol instance. An empty instance id always gets a fresh one.
func (s *Session) CorrelationFor(instanceID string) string {
	if instanceID == "" {
		return uuid.NewString()
	}
	if v, ok := s.instances.Get(instanceID); ok {
		return v.(string)
	}
	id := uuid.NewString()
	if err := s.instances.Add(instanceID, id, cache.DefaultExpiration); err != nil {
		// Lost a race with another event for the same instance.
		if v, ok := s.instances.Get(instanceID); ok {
			return v.(string)
		}
	}
	return id
}

func (s *Session) Instances() int {
	return s.instances.ItemCount()
}
