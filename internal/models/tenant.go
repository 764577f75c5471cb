package models

import "time"

// TenantLimits are the engine's numeric quotas. Zero or below means unlimited.
type TenantLimits struct {
	MaxDevices        int64 `json:"max_devices"`
	MaxCustomers      int64 `json:"max_customers"`
	MaxMessagesPerDay int64 `json:"max_messages_per_day"`
	MaxDataPointsDays int64 `json:"max_data_points_days"`
}

type Tenant struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Region      string       `json:"region,omitempty"`
	Email       string       `json:"email,omitempty"`
	Phone       string       `json:"phone,omitempty"`
	Limits      TenantLimits `json:"limits"`
	CreatedTime *time.Time   `json:"created_time,omitempty"`
}

func (t Tenant) GetID() string { return t.ID }
