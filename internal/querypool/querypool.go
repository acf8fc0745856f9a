// Package querypool implements the per-device bounded slot allocator over
// a GPU timestamp query pool, with the four-state discipline required to
// avoid races between the driver resetting a slot and the layer reading
// it (see SlotState).
package querypool

import (
	"sync"

	"github.com/gpuspy/submission-tracker/internal/driver"
	"github.com/gpuspy/submission-tracker/internal/errs"
	"github.com/gpuspy/submission-tracker/internal/handle"
)

// DefaultPoolCapacity is the default number of timestamp slots per device.
const DefaultPoolCapacity = 131072

// Config configures a per-device pool.
type Config struct {
	Capacity uint32
}

// DefaultConfig returns the default pool configuration.
func DefaultConfig() *Config {
	return &Config{Capacity: DefaultPoolCapacity}
}

// SlotState is the four-state lifecycle a timer query slot moves through.
// A simpler three-state design was tried and produced races between the
// driver's reset and the layer's read; both MarkQuerySlotsDoneReading and
// MarkQuerySlotsForReset must be observed, in either order, before a slot
// is reusable.
type SlotState int

const (
	ReadyForQueryIssue SlotState = iota
	QueryPendingOnGpu
	DoneReading
	ResetRequested
)

func (s SlotState) String() string {
	switch s {
	case ReadyForQueryIssue:
		return "ReadyForQueryIssue"
	case QueryPendingOnGpu:
		return "QueryPendingOnGpu"
	case DoneReading:
		return "DoneReading"
	case ResetRequested:
		return "ResetRequested"
	default:
		return "Unknown"
	}
}

// Pool is one device's timer query slot allocator.
type Pool struct {
	mu sync.RWMutex

	device    handle.Device
	drv       driver.Driver
	queryPool handle.QueryPool
	states    []SlotState
	freeStack []uint32
}

// Manager owns one Pool per device.
type Manager struct {
	mu    sync.RWMutex
	drv   driver.Driver
	pools map[handle.Device]*Pool
}

// NewManager creates an empty Manager that issues driver calls through drv.
func NewManager(drv driver.Driver) *Manager {
	return &Manager{drv: drv, pools: make(map[handle.Device]*Pool)}
}

// Initialize creates device's driver query pool sized per cfg (or
// DefaultConfig if nil), resets every entry, and marks every slot
// ReadyForQueryIssue.
func (m *Manager) Initialize(device handle.Device, cfg *Config) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	errs.Precondition("Initialize", m.pools[device] == nil, "query pool for device %#x already initialized", uintptr(device))

	queryPool, res := m.drv.CreateQueryPool(device, cfg.Capacity)
	if res != driver.Success {
		panic(errs.NewDevice("Initialize", device, errs.CodeDriverFailure, "CreateQueryPool failed"))
	}
	m.drv.ResetQueryPoolEXT(device, queryPool, 0, cfg.Capacity)

	states := make([]SlotState, cfg.Capacity)
	freeStack := make([]uint32, cfg.Capacity)
	for i := range states {
		states[i] = ReadyForQueryIssue
		freeStack[i] = uint32(i)
	}

	m.pools[device] = &Pool{
		device:    device,
		drv:       m.drv,
		queryPool: queryPool,
		states:    states,
		freeStack: freeStack,
	}
}

// Destroy destroys device's driver query pool and drops its bookkeeping.
func (m *Manager) Destroy(device handle.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, exists := m.pools[device]
	errs.Precondition("Destroy", exists, "no query pool for device %#x", uintptr(device))

	m.drv.DestroyQueryPool(device, p.queryPool)
	delete(m.pools, device)
}

// QueryPoolHandle returns the driver handle of device's query pool, for
// issuing CmdWriteTimestamp/GetQueryPoolResults calls.
func (m *Manager) QueryPoolHandle(device handle.Device) handle.QueryPool {
	return m.poolOf(device).queryPool
}

// NextReadyQuerySlot pops a free slot for device and transitions it to
// QueryPendingOnGpu, or returns ok=false if the pool is exhausted.
func (m *Manager) NextReadyQuerySlot(device handle.Device) (slot uint32, ok bool) {
	p := m.poolOf(device)

	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.freeStack)
	if n == 0 {
		return 0, false
	}
	slot = p.freeStack[n-1]
	p.freeStack = p.freeStack[:n-1]
	p.states[slot] = QueryPendingOnGpu
	return slot, true
}

// RollbackPending returns slots directly to ReadyForQueryIssue without
// invoking the driver's slot-reset — for timestamp writes that were issued
// but never submitted.
func (m *Manager) RollbackPending(device handle.Device, slots []uint32) {
	p := m.poolOf(device)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, slot := range slots {
		errs.Precondition("RollbackPending", p.states[slot] == QueryPendingOnGpu, "slot %d not pending on device %#x", slot, uintptr(device))
		p.states[slot] = ReadyForQueryIssue
		p.freeStack = append(p.freeStack, slot)
	}
}

// MarkQuerySlotsDoneReading signals that the layer will not attempt
// another read of slots.
func (m *Manager) MarkQuerySlotsDoneReading(device handle.Device, slots []uint32) {
	p := m.poolOf(device)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, slot := range slots {
		switch p.states[slot] {
		case QueryPendingOnGpu:
			p.states[slot] = DoneReading
		case ResetRequested:
			p.states[slot] = ReadyForQueryIssue
			p.freeStack = append(p.freeStack, slot)
			p.drv.ResetQueryPoolEXT(p.device, p.queryPool, slot, 1)
		default:
			errs.Precondition("MarkQuerySlotsDoneReading", false, "slot %d in state %s cannot be marked done-reading", slot, p.states[slot])
		}
	}
}

// MarkQuerySlotsForReset signals that no command buffer still references
// slots.
func (m *Manager) MarkQuerySlotsForReset(device handle.Device, slots []uint32) {
	p := m.poolOf(device)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, slot := range slots {
		switch p.states[slot] {
		case QueryPendingOnGpu:
			p.states[slot] = ResetRequested
		case DoneReading:
			p.states[slot] = ReadyForQueryIssue
			p.freeStack = append(p.freeStack, slot)
			p.drv.ResetQueryPoolEXT(p.device, p.queryPool, slot, 1)
		default:
			errs.Precondition("MarkQuerySlotsForReset", false, "slot %d in state %s cannot be marked for reset", slot, p.states[slot])
		}
	}
}

// StateOf returns slot's current state, for tests asserting invariant I1.
func (m *Manager) StateOf(device handle.Device, slot uint32) SlotState {
	p := m.poolOf(device)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.states[slot]
}

// FreeSlotCount returns the number of slots currently on device's free
// stack.
func (m *Manager) FreeSlotCount(device handle.Device) int {
	p := m.poolOf(device)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.freeStack)
}

func (m *Manager) poolOf(device handle.Device) *Pool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, exists := m.pools[device]
	errs.Precondition("poolOf", exists, "no query pool for device %#x", uintptr(device))
	return p
}
