package models

import "time"

type DeviceCredentials struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// Device is the protocol engine's canonical device.
type Device struct {
	ID             string             `json:"id"`
	Name           string             `json:"name"`
	Type           string             `json:"type"`
	Label          string             `json:"label,omitempty"`
	TenantID       string             `json:"tenant_id,omitempty"`
	CustomerID     string             `json:"customer_id,omitempty"`
	ProfileID      string             `json:"profile_id,omitempty"`
	Credentials    *DeviceCredentials `json:"credentials,omitempty"`
	AdditionalInfo map[string]string  `json:"additional_info,omitempty"`
	CreatedTime    *time.Time         `json:"created_time,omitempty"`
}

func (d Device) GetID() string { return d.ID }
