package models

import "time"

// SyncStatus is recomputed on demand and never persisted.
type SyncStatus struct {
	Domain                   Domain     `json:"domain"`
	SourceCount              int64      `json:"sourceCount"`
	LegacyCount              int64      `json:"legacyCount"`
	ReconciliationInProgress bool       `json:"reconciliationInProgress"`
	LastSweepAt              *time.Time `json:"lastSweepAt,omitempty"`
	Error                    string     `json:"error,omitempty"`
}

type ReconcileReport struct {
	Domain    Domain        `json:"domain"`
	Created   int           `json:"created"`
	Updated   int           `json:"updated"`
	Deleted   int           `json:"deleted"`
	Unchanged int           `json:"unchanged"`
	Failed    int           `json:"failed"`
	Skipped   bool          `json:"skipped"`
	Duration  time.Duration `json:"duration"`
}
