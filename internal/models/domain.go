package models

import "fmt"

type Domain string

const (
	DomainDevice Domain = "device"
	DomainTenant Domain = "tenant"
)

// Domains lists every domain the synchronizer manages, in startup order.
var Domains = []Domain{DomainDevice, DomainTenant}

func (d Domain) Valid() bool {
	switch d {
	case DomainDevice, DomainTenant:
		return true
	}
	return false
}

// QueueName is the durable queue holding SyncEvents for the domain.
func (d Domain) QueueName() string {
	return fmt.Sprintf("sync.%s", d)
}

// RoutingPattern is the topic binding for the domain queue.
func (d Domain) RoutingPattern() string {
	return fmt.Sprintf("%s.*", d)
}

func (d Domain) RoutingKey(eventType EventType) string {
	return fmt.Sprintf("%s.%s", d, eventType)
}
