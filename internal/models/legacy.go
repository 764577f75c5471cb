package models

import "time"

// LegacyDevice is the legacy platform's device record.
type LegacyDevice struct {
	ID                    string            `json:"id"`
	Name                  string            `json:"name"`
	DeviceType            string            `json:"deviceType"`
	Label                 string            `json:"label,omitempty"`
	OwnerTenant           string            `json:"ownerTenant,omitempty"`
	OwnerCustomer         string            `json:"ownerCustomer,omitempty"`
	Profile               string            `json:"profile,omitempty"`
	CredentialFingerprint string            `json:"credentialFingerprint,omitempty"`
	Attributes            map[string]string `json:"attributes,omitempty"`
	UpdatedAt             *time.Time        `json:"updatedAt,omitempty"`
}

func (d LegacyDevice) GetID() string { return d.ID }

type LegacyTenant struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Region       string     `json:"region,omitempty"`
	ContactEmail string     `json:"contactEmail,omitempty"`
	ContactPhone string     `json:"contactPhone,omitempty"`
	Tier         string     `json:"tier"`
	UpdatedAt    *time.Time `json:"updatedAt,omitempty"`
}

func (t LegacyTenant) GetID() string { return t.ID }
