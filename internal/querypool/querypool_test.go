package querypool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpuspy/submission-tracker/internal/driver"
	"github.com/gpuspy/submission-tracker/internal/handle"
)

func newTestManager(t *testing.T, capacity uint32) (*Manager, handle.Device) {
	t.Helper()
	drv := driver.NewFakeDriver()
	m := NewManager(drv)
	device := handle.Device(0xD000)
	m.Initialize(device, &Config{Capacity: capacity})
	return m, device
}

func TestNextReadyQuerySlotExhaustion(t *testing.T) {
	m, device := newTestManager(t, 2)

	s1, ok := m.NextReadyQuerySlot(device)
	require.True(t, ok)
	s2, ok := m.NextReadyQuerySlot(device)
	require.True(t, ok)
	assert.NotEqual(t, s1, s2)

	_, ok = m.NextReadyQuerySlot(device)
	assert.False(t, ok, "pool of capacity 2 should be exhausted after 2 allocations")
}

func TestRollbackPendingReturnsSlotWithoutDriverReset(t *testing.T) {
	drv := driver.NewFakeDriver()
	m := NewManager(drv)
	device := handle.Device(0xD001)
	m.Initialize(device, &Config{Capacity: 4})
	drv.Calls["ResetQueryPoolEXT"] = 0 // Initialize's bulk reset doesn't count per-slot

	slot, _ := m.NextReadyQuerySlot(device)
	m.RollbackPending(device, []uint32{slot})

	assert.Equal(t, ReadyForQueryIssue, m.StateOf(device, slot))
	assert.Equal(t, 0, drv.Calls["ResetQueryPoolEXT"], "rollback must not invoke the driver's slot reset")
}

func TestDoneReadingThenForResetReclaimsSlot(t *testing.T) {
	m, device := newTestManager(t, 4)

	slot, _ := m.NextReadyQuerySlot(device)
	m.MarkQuerySlotsDoneReading(device, []uint32{slot})
	assert.Equal(t, DoneReading, m.StateOf(device, slot))

	m.MarkQuerySlotsForReset(device, []uint32{slot})
	assert.Equal(t, ReadyForQueryIssue, m.StateOf(device, slot))
	assert.Equal(t, 4, m.FreeSlotCount(device))
}

func TestForResetThenDoneReadingReclaimsSlotOrderIndependent(t *testing.T) {
	m, device := newTestManager(t, 4)

	slot, _ := m.NextReadyQuerySlot(device)
	m.MarkQuerySlotsForReset(device, []uint32{slot})
	assert.Equal(t, ResetRequested, m.StateOf(device, slot))

	m.MarkQuerySlotsDoneReading(device, []uint32{slot})
	assert.Equal(t, ReadyForQueryIssue, m.StateOf(device, slot))
	assert.Equal(t, 4, m.FreeSlotCount(device))
}

func TestDoubleMarkDoneReadingPanics(t *testing.T) {
	m, device := newTestManager(t, 4)
	slot, _ := m.NextReadyQuerySlot(device)
	m.MarkQuerySlotsDoneReading(device, []uint32{slot})

	assert.Panics(t, func() {
		m.MarkQuerySlotsDoneReading(device, []uint32{slot})
	}, "a slot already in DoneReading cannot be marked done-reading again")
}

func TestInitializeMarksEverySlotReady(t *testing.T) {
	m, device := newTestManager(t, 8)
	assert.Equal(t, 8, m.FreeSlotCount(device))
	for slot := uint32(0); slot < 8; slot++ {
		assert.Equal(t, ReadyForQueryIssue, m.StateOf(device, slot))
	}
}

func TestDestroyRemovesPool(t *testing.T) {
	m, device := newTestManager(t, 4)
	m.Destroy(device)

	assert.Panics(t, func() {
		m.NextReadyQuerySlot(device)
	})
}
