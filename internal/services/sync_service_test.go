package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prudhvinik1/syncbridge/internal/models"
	"github.com/prudhvinik1/syncbridge/internal/repositories"
	"github.com/prudhvinik1/syncbridge/internal/translator"
)

var testTranslator = translator.New("test-key")

type deviceFixture struct {
	source    *fakeSource[models.Device]
	legacy    *fakeLegacy[models.LegacyDevice]
	snapshots *repositories.MemorySnapshotRepository
	svc       *DeviceSyncService
}

func newDeviceFixture(devices ...models.Device) *deviceFixture {
	f := &deviceFixture{
		source:    newFakeSource(devices...),
		legacy:    newFakeLegacy[models.LegacyDevice](),
		snapshots: repositories.NewMemorySnapshotRepository(),
	}
	f.svc = NewDeviceSyncService(f.source, f.legacy, f.snapshots, testTranslator)
	return f
}

func device(id, name string) models.Device {
	return models.Device{
		ID:          id,
		Name:        name,
		Type:        "sensor",
		TenantID:    "t1",
		Credentials: &models.DeviceCredentials{Type: "ACCESS_TOKEN", AccessToken: "secret-" + id},
	}
}

// TestApplyChange_Create tests creating a device in the legacy system and caching its snapshot
func TestApplyChange_Create(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture()
	ctx := context.Background()

	// ACT
	result, err := f.svc.ApplyChange(ctx, device("d1", "Sensor A"), OpCreate)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)
	got, ok := f.legacy.get("d1")
	require.True(t, ok)
	assert.Equal(t, "Sensor A", got.Name)
	assert.NotContains(t, got.CredentialFingerprint, "secret-d1")

	_, err = f.snapshots.Get(ctx, models.DomainDevice, "d1")
	assert.NoError(t, err, "successful create should refresh the snapshot")
}

// TestApplyChange_CreateExistingFallsBackToUpdate tests that a create for an existing legacy entity becomes an update
func TestApplyChange_CreateExistingFallsBackToUpdate(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture()
	f.legacy.items["d1"] = testTranslator.DeviceToLegacy(device("d1", "Old"))

	// ACT
	result, err := f.svc.ApplyChange(context.Background(), device("d1", "New"), OpCreate)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)
	got, _ := f.legacy.get("d1")
	assert.Equal(t, "New", got.Name)
}

// TestApplyChange_NoopUpdateIssuesNoLegacyCalls tests that an unchanged entity costs no mutating legacy call
func TestApplyChange_NoopUpdateIssuesNoLegacyCalls(t *testing.T) {
	// ARRANGE
	devices := []models.Device{
		device("d1", "Sensor A"),
		device("d2", "Sensor B"),
		{ID: "d3", Name: "Bare"},
		{ID: "d4", Name: "Attrs", AdditionalInfo: map[string]string{"k": "v"}, CustomerID: "c9"},
	}

	for _, d := range devices {
		t.Run(d.ID, func(t *testing.T) {
			// ARRANGE
			f := newDeviceFixture(d)
			ctx := context.Background()
			f.legacy.items[d.ID] = testTranslator.DeviceToLegacy(d)

			// ACT & ASSERT
			// Cold snapshot: one read, no writes
			result, err := f.svc.ApplyChange(ctx, d, OpUpdate)
			require.NoError(t, err)
			assert.Equal(t, ResultNoop, result)
			assert.Equal(t, 0, f.legacy.mutations())

			// Warm snapshot: nothing at all
			f.legacy.resetCounters()
			result, err = f.svc.ApplyChange(ctx, d, OpUpdate)
			require.NoError(t, err)
			assert.Equal(t, ResultNoop, result)
			assert.Equal(t, 0, f.legacy.calls())
		})
	}
}

// TestApplyChange_UpdateDiffers tests that a changed entity is written once
func TestApplyChange_UpdateDiffers(t *testing.T) {
	// ARRANGE
	d := device("d1", "Sensor A")
	f := newDeviceFixture(d)
	f.legacy.items["d1"] = testTranslator.DeviceToLegacy(d)

	// ACT
	d.Name = "Sensor A2"
	result, err := f.svc.ApplyChange(context.Background(), d, OpUpdate)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)
	assert.Equal(t, 1, f.legacy.updates)
}

// TestApplyChange_UpdateMissingCreates tests that updating an entity the legacy system lacks creates it
func TestApplyChange_UpdateMissingCreates(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture()

	// ACT
	result, err := f.svc.ApplyChange(context.Background(), device("d1", "Sensor A"), OpUpdate)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)
	assert.Equal(t, []string{"d1"}, f.legacy.ids())
}

// TestApplyChange_LegacyFailureIsReported tests that a legacy failure is returned with the entity id
func TestApplyChange_LegacyFailureIsReported(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture()
	f.legacy.fail["d1"] = true

	// ACT
	result, err := f.svc.ApplyChange(context.Background(), device("d1", "Sensor A"), OpCreate)

	// ASSERT
	assert.Equal(t, ResultFailed, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, errLegacyDown)
	assert.Contains(t, err.Error(), "d1")
}

// TestApplyDelete_UnknownIDIsBenign tests that deleting an id the legacy system never saw is a no-op
func TestApplyDelete_UnknownIDIsBenign(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture()

	// ACT
	result, err := f.svc.ApplyDelete(context.Background(), "never-synced")

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, ResultNoop, result)
	assert.Empty(t, f.legacy.ids())
}

// TestApplyDelete_RemovesEntityAndSnapshot tests that a delete drops both the legacy entity and its snapshot
func TestApplyDelete_RemovesEntityAndSnapshot(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture()
	ctx := context.Background()
	_, err := f.svc.ApplyChange(ctx, device("d1", "Sensor A"), OpCreate)
	require.NoError(t, err)

	// ACT
	result, err := f.svc.ApplyDelete(ctx, "d1")

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)
	assert.Empty(t, f.legacy.ids())
	_, err = f.snapshots.Get(ctx, models.DomainDevice, "d1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

// TestApplyEntity_Decodes tests applying a raw JSON entity
func TestApplyEntity_Decodes(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture()
	raw, err := json.Marshal(device("d1", "Sensor A"))
	require.NoError(t, err)

	// ACT
	result, err := f.svc.ApplyEntity(context.Background(), OpCreate, raw)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)
}

// TestApplyEntity_Rejects tests that undecodable or id-less entities are rejected
func TestApplyEntity_Rejects(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture()
	ctx := context.Background()

	// ACT
	result, err := f.svc.ApplyEntity(ctx, OpCreate, json.RawMessage(`{not json`))
	assert.Equal(t, ResultRejected, result)
	assert.Error(t, err)

	// ASSERT
	result, err = f.svc.ApplyEntity(ctx, OpCreate, json.RawMessage(`{"name":"no id"}`))
	assert.Equal(t, ResultRejected, result)
	assert.Error(t, err)
	assert.Equal(t, 0, f.legacy.calls())
}

// TestApplyAssignment tests assigning and unassigning a device owner
func TestApplyAssignment(t *testing.T) {
	// ARRANGE
	d := device("d1", "Sensor A")
	f := newDeviceFixture(d)
	ctx := context.Background()
	_, err := f.svc.ApplyChange(ctx, d, OpCreate)
	require.NoError(t, err)

	// ACT
	result, err := f.svc.ApplyAssignment(ctx, models.AssignmentPayload{EntityID: "d1", OwnerID: "c7"}, true)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)
	got, _ := f.legacy.get("d1")
	assert.Equal(t, "c7", got.OwnerCustomer)

	// ASSERT
	result, err = f.svc.ApplyAssignment(ctx, models.AssignmentPayload{EntityID: "d1", OwnerID: "c7"}, false)
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)
	got, _ = f.legacy.get("d1")
	assert.Empty(t, got.OwnerCustomer)
}

// TestApplyAssignment_FallsBackToSnapshot tests assignment from the cached legacy shape while the engine is down
func TestApplyAssignment_FallsBackToSnapshot(t *testing.T) {
	// ARRANGE
	d := device("d1", "Sensor A")
	f := newDeviceFixture(d)
	ctx := context.Background()
	_, err := f.svc.ApplyChange(ctx, d, OpCreate)
	require.NoError(t, err)

	// ACT
	f.source.getErr = errors.New("engine unavailable")
	result, err := f.svc.ApplyAssignment(ctx, models.AssignmentPayload{EntityID: "d1", OwnerID: "c1"}, true)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, result)
	got, _ := f.legacy.get("d1")
	assert.Equal(t, "c1", got.OwnerCustomer)
	assert.Equal(t, "Sensor A", got.Name)
	assert.Equal(t, testTranslator.DeviceToLegacy(d).CredentialFingerprint, got.CredentialFingerprint, "fingerprint survives the fallback")
}

// TestApplyAssignment_NoSourceNoSnapshot tests that an assignment fails with neither the engine nor a snapshot
func TestApplyAssignment_NoSourceNoSnapshot(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture()
	f.source.getErr = errors.New("engine unavailable")

	// ACT
	result, err := f.svc.ApplyAssignment(context.Background(), models.AssignmentPayload{EntityID: "d1", OwnerID: "c1"}, true)

	// ASSERT
	assert.Equal(t, ResultFailed, result)
	assert.Error(t, err)
}

// TestApplyAssignment_TenantHasNoOwnership tests that tenants ignore assignment events
func TestApplyAssignment_TenantHasNoOwnership(t *testing.T) {
	// ARRANGE
	legacyTenants := newFakeLegacy[models.LegacyTenant]()
	svc := NewTenantSyncService(newFakeSource[models.Tenant](), legacyTenants, nil, testTranslator)

	// ACT
	result, err := svc.ApplyAssignment(context.Background(), models.AssignmentPayload{EntityID: "t1", OwnerID: "x"}, true)

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result)
	assert.Equal(t, 0, legacyTenants.calls())
}

// TestReconcileAll_Converges tests that a sweep makes the legacy system match the source
func TestReconcileAll_Converges(t *testing.T) {
	// ARRANGE
	tests := []struct {
		name   string
		source []models.Device
		legacy []models.Device
	}{
		{"empty", nil, nil},
		{"only in source", []models.Device{device("a", "A"), device("b", "B")}, nil},
		{"only in legacy", nil, []models.Device{device("x", "X"), device("y", "Y")}},
		{"differing", []models.Device{device("a", "A")}, []models.Device{device("a", "stale")}},
		{
			"mixed",
			[]models.Device{device("a", "A"), device("b", "B"), device("c", "C")},
			[]models.Device{device("b", "old B"), device("c", "C"), device("z", "Z")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// ARRANGE
			f := newDeviceFixture(tt.source...)
			for _, d := range tt.legacy {
				f.legacy.items[d.ID] = testTranslator.DeviceToLegacy(d)
			}

			// ACT
			report, err := f.svc.ReconcileAll(context.Background())

			// ASSERT
			require.NoError(t, err)
			assert.False(t, report.Skipped)
			assert.Zero(t, report.Failed)

			want := make([]string, 0, len(tt.source))
			for _, d := range tt.source {
				want = append(want, d.ID)
				got, ok := f.legacy.get(d.ID)
				require.True(t, ok, d.ID)
				assert.True(t, translator.DeviceEqual(testTranslator.DeviceToLegacy(d), got), d.ID)
			}
			assert.Equal(t, want, f.legacy.ids())

			// A second sweep has nothing to do
			f.legacy.resetCounters()
			report, err = f.svc.ReconcileAll(context.Background())
			require.NoError(t, err)
			assert.Equal(t, len(tt.source), report.Unchanged)
			assert.Equal(t, 0, f.legacy.mutations())
		})
	}
}

// TestReconcileAll_Report tests the counts of a sweep report
func TestReconcileAll_Report(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture(device("a", "A"), device("b", "B"), device("c", "C"))
	f.legacy.items["b"] = testTranslator.DeviceToLegacy(device("b", "old"))
	f.legacy.items["c"] = testTranslator.DeviceToLegacy(device("c", "C"))
	f.legacy.items["z"] = testTranslator.DeviceToLegacy(device("z", "Z"))

	// ACT
	report, err := f.svc.ReconcileAll(context.Background())

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, 1, report.Created)
	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, 1, report.Unchanged)
	assert.NotNil(t, f.svc.GetSyncStatus(context.Background()).LastSweepAt)
}

// TestReconcileAll_ContinuesPastFailures tests that one failing entity does not stop the sweep
func TestReconcileAll_ContinuesPastFailures(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture(device("a", "A"), device("b", "B"), device("c", "C"))
	f.legacy.items["z"] = testTranslator.DeviceToLegacy(device("z", "Z"))
	f.legacy.fail["b"] = true

	// ACT
	report, err := f.svc.ReconcileAll(context.Background())

	// ASSERT
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Deleted)
	assert.Equal(t, []string{"a", "c"}, f.legacy.ids())
}

// TestReconcileAll_DropsStaleSnapshots tests that a sweep rebuilds the snapshot cache from its own results
func TestReconcileAll_DropsStaleSnapshots(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture(device("a", "A"))
	ctx := context.Background()
	require.NoError(t, f.snapshots.Put(ctx, models.DomainDevice, "ghost", []byte(`{"id":"ghost"}`)))
	require.NoError(t, f.snapshots.Put(ctx, models.DomainTenant, "ghost", []byte(`{"id":"ghost"}`)))

	// ACT
	_, err := f.svc.ReconcileAll(ctx)

	// ASSERT
	require.NoError(t, err)
	_, err = f.snapshots.Get(ctx, models.DomainDevice, "ghost")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	_, err = f.snapshots.Get(ctx, models.DomainDevice, "a")
	assert.NoError(t, err)
	_, err = f.snapshots.Get(ctx, models.DomainTenant, "ghost")
	assert.NoError(t, err, "other domains are untouched")
}

// TestReconcileAll_SourceListFails tests that a failed source listing releases the domain
func TestReconcileAll_SourceListFails(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture()
	f.source.listErr = errors.New("engine down")

	// ACT
	_, err := f.svc.ReconcileAll(context.Background())

	// ASSERT
	require.Error(t, err)
	assert.False(t, f.svc.ReconciliationInProgress(), "flag must be released on error")
}

// TestReconcileAll_AtMostOneSweep tests that concurrent sweeps and changes are skipped while one sweep runs
func TestReconcileAll_AtMostOneSweep(t *testing.T) {
	// ARRANGE: the first sweep blocks inside the legacy listing
	f := newDeviceFixture(device("a", "A"))
	f.legacy.listing = make(chan struct{})
	f.legacy.release = make(chan struct{})
	ctx := context.Background()

	first := make(chan models.ReconcileReport, 1)
	go func() {
		report, err := f.svc.ReconcileAll(ctx)
		assert.NoError(t, err)
		first <- report
	}()

	select {
	case <-f.legacy.listing:
	case <-time.After(2 * time.Second):
		t.Fatal("first sweep never started")
	}

	// ACT: a second sweep and a change arrive mid-sweep
	assert.True(t, f.svc.ReconciliationInProgress())
	second, err := f.svc.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.True(t, second.Skipped, "second sweep must be skipped")

	result, err := f.svc.ApplyChange(ctx, device("q", "Q"), OpCreate)
	require.NoError(t, err)
	assert.Equal(t, ResultSkipped, result, "changes are skipped while a sweep runs")

	// ASSERT: releasing the first sweep completes it
	close(f.legacy.release)
	report := <-first
	assert.False(t, report.Skipped)
	assert.Equal(t, 1, report.Created)
	assert.False(t, f.svc.ReconciliationInProgress())
	assert.Equal(t, []string{"a"}, f.legacy.ids())
}

// TestGetSyncStatus tests per-domain counts
func TestGetSyncStatus(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture(device("a", "A"), device("b", "B"))
	f.legacy.items["a"] = testTranslator.DeviceToLegacy(device("a", "A"))

	// ACT
	status := f.svc.GetSyncStatus(context.Background())

	// ASSERT
	assert.Equal(t, models.DomainDevice, status.Domain)
	assert.Equal(t, int64(2), status.SourceCount)
	assert.Equal(t, int64(1), status.LegacyCount)
	assert.False(t, status.ReconciliationInProgress)
	assert.Nil(t, status.LastSweepAt)
	assert.Empty(t, status.Error)
}

// TestGetSyncStatus_NeverFails tests that status reports errors instead of failing
func TestGetSyncStatus_NeverFails(t *testing.T) {
	// ARRANGE
	f := newDeviceFixture(device("a", "A"))
	f.source.countErr = fmt.Errorf("count: %w", errors.New("engine down"))

	// ACT
	status := f.svc.GetSyncStatus(context.Background())

	// ASSERT
	assert.Zero(t, status.SourceCount)
	assert.Zero(t, status.LegacyCount)
	assert.Contains(t, status.Error, "engine down")
}
