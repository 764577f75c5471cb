package orchestrator

import "time"

type Health struct {
	IsRunning              bool      `json:"isRunning"`
	BrokerHealthy          bool      `json:"brokerHealthy"`
	EventStreamActive      bool      `json:"eventStreamActive"`
	ReconnectAttempts      int       `json:"reconnectAttempts"`
	LegacySystemConfigured bool      `json:"legacySystemConfigured"`
	Timestamp              time.Time `json:"timestamp"`
}

// Health never blocks. ReconnectAttempts counts the current run of
// consecutive failures across the stream and broker connections.
func (o *Orchestrator) Health() Health {
	return Health{
		IsRunning:              o.running.Load(),
		BrokerHealthy:          o.deps.Broker.Healthy(),
		EventStreamActive:      o.streamActive.Load(),
		ReconnectAttempts:      o.streamBO.Attempts() + o.brokerBO.Attempts(),
		LegacySystemConfigured: o.deps.LegacyConfigured,
		Timestamp:              time.Now().UTC(),
	}
}
