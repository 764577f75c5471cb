package logger

import (
	"go.uber.org/zap"

	"github.com/prudhvinik1/syncbridge/internal/models"
)

func Domain(d models.Domain) zap.Field {
	return zap.String("domain", string(d))
}

func EntityID(id string) zap.Field {
	return zap.String("entity_id", id)
}

// Op is the sync operation (create, update, delete, reconcile).
func Op(op string) zap.Field {
	return zap.String("op", op)
}

func EventType(t models.EventType) zap.Field {
	return zap.String("event_type", string(t))
}

func EventID(id string) zap.Field {
	return zap.String("event_id", id)
}

func EventName(name string) zap.Field {
	return zap.String("event_name", name)
}

func CorrelationID(id string) zap.Field {
	return zap.String("correlation_id", id)
}

func Queue(name string) zap.Field {
	return zap.String("queue", name)
}

func Attempt(n int) zap.Field {
	return zap.Int("attempt", n)
}

func Err(err error) zap.Field {
	return zap.Error(err)
}
