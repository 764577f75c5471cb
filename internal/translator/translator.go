// Package translator maps entities between the protocol engine's canonical
// shape and the legacy system's shape. All functions are pure.
package translator

import (
	"maps"

	"github.com/prudhvinik1/syncbridge/internal/models"
	"github.com/prudhvinik1/syncbridge/internal/utils"
)

const redacted = "[REDACTED]"

// Translator holds the key used to fingerprint credentials.
type Translator struct {
	fingerprintKey []byte
}

func New(fingerprintKey string) *Translator {
	return &Translator{fingerprintKey: []byte(fingerprintKey)}
}

// DeviceToLegacy never copies the credential itself, only its fingerprint.
func (t *Translator) DeviceToLegacy(d models.Device) models.LegacyDevice {
	ld := models.LegacyDevice{
		ID:            d.ID,
		Name:          d.Name,
		DeviceType:    d.Type,
		Label:         d.Label,
		OwnerTenant:   d.TenantID,
		OwnerCustomer: d.CustomerID,
		Profile:       d.ProfileID,
	}
	if d.Credentials != nil {
		ld.CredentialFingerprint = utils.Fingerprint(t.fingerprintKey, d.Credentials.AccessToken)
	}
	if len(d.AdditionalInfo) > 0 {
		ld.Attributes = maps.Clone(d.AdditionalInfo)
	}
	return ld
}

// DeviceToCanonical cannot recover credentials; the result has none.
func (t *Translator) DeviceToCanonical(ld models.LegacyDevice) models.Device {
	d := models.Device{
		ID:         ld.ID,
		Name:       ld.Name,
		Type:       ld.DeviceType,
		Label:      ld.Label,
		TenantID:   ld.OwnerTenant,
		CustomerID: ld.OwnerCustomer,
		ProfileID:  ld.Profile,
	}
	if len(ld.Attributes) > 0 {
		d.AdditionalInfo = maps.Clone(ld.Attributes)
	}
	return d
}

func (t *Translator) TenantToLegacy(tn models.Tenant) models.LegacyTenant {
	return models.LegacyTenant{
		ID:           tn.ID,
		Name:         tn.Title,
		Region:       tn.Region,
		ContactEmail: tn.Email,
		ContactPhone: tn.Phone,
		Tier:         LimitsToTier(tn.Limits),
	}
}

// TenantToCanonical is approximate: limits are the tier's representative
// values, see TierToLimits.
func (t *Translator) TenantToCanonical(lt models.LegacyTenant) models.Tenant {
	return models.Tenant{
		ID:     lt.ID,
		Title:  lt.Name,
		Region: lt.Region,
		Email:  lt.ContactEmail,
		Phone:  lt.ContactPhone,
		Limits: TierToLimits(lt.Tier),
	}
}

// RedactDevice returns a copy safe to log.
func RedactDevice(d models.Device) models.Device {
	if d.Credentials != nil {
		creds := *d.Credentials
		if creds.AccessToken != "" {
			creds.AccessToken = redacted
		}
		d.Credentials = &creds
	}
	return d
}

// DeviceEqual compares the semantic fields of two legacy devices. UpdatedAt
// is volatile and ignored.
func DeviceEqual(a, b models.LegacyDevice) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.DeviceType == b.DeviceType &&
		a.Label == b.Label &&
		a.OwnerTenant == b.OwnerTenant &&
		a.OwnerCustomer == b.OwnerCustomer &&
		a.Profile == b.Profile &&
		a.CredentialFingerprint == b.CredentialFingerprint &&
		maps.Equal(a.Attributes, b.Attributes)
}

func TenantEqual(a, b models.LegacyTenant) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.Region == b.Region &&
		a.ContactEmail == b.ContactEmail &&
		a.ContactPhone == b.ContactPhone &&
		a.Tier == b.Tier
}

// SetDeviceOwner applies an assignment to a canonical device.
func SetDeviceOwner(d models.Device, customerID string, assigned bool) models.Device {
	if assigned {
		d.CustomerID = customerID
	} else {
		d.CustomerID = ""
	}
	return d
}

// SetLegacyDeviceOwner is SetDeviceOwner for a device already in legacy shape.
func SetLegacyDeviceOwner(ld models.LegacyDevice, customerID string, assigned bool) models.LegacyDevice {
	if assigned {
		ld.OwnerCustomer = customerID
	} else {
		ld.OwnerCustomer = ""
	}
	return ld
}
