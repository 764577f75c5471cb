package services

import (
	"github.com/prudhvinik1/syncbridge/internal/models"
	"github.com/prudhvinik1/syncbridge/internal/repositories"
	"github.com/prudhvinik1/syncbridge/internal/translator"
)

type (
	DeviceSyncService = EntitySyncService[models.Device, models.LegacyDevice]
	TenantSyncService = EntitySyncService[models.Tenant, models.LegacyTenant]
)

func NewDeviceSyncService(
	source SourceReader[models.Device],
	legacy LegacyWriter[models.LegacyDevice],
	snapshots repositories.SnapshotRepository,
	tr *translator.Translator,
) *DeviceSyncService {
	return NewEntitySyncService(Binding[models.Device, models.LegacyDevice]{
		Domain:     models.DomainDevice,
		Source:     source,
		Legacy:     legacy,
		Snapshots:  snapshots,
		ToLegacy:   tr.DeviceToLegacy,
		Equal:      translator.DeviceEqual,
		SetOwner:   translator.SetDeviceOwner,
		PatchOwner: translator.SetLegacyDeviceOwner,
		Redact:     translator.RedactDevice,
	})
}

// Tenants have no owner, so assignment events are ignored for them.
func NewTenantSyncService(
	source SourceReader[models.Tenant],
	legacy LegacyWriter[models.LegacyTenant],
	snapshots repositories.SnapshotRepository,
	tr *translator.Translator,
) *TenantSyncService {
	return NewEntitySyncService(Binding[models.Tenant, models.LegacyTenant]{
		Domain:    models.DomainTenant,
		Source:    source,
		Legacy:    legacy,
		Snapshots: snapshots,
		ToLegacy:  tr.TenantToLegacy,
		Equal:     translator.TenantEqual,
	})
}
