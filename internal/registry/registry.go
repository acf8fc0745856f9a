// Package registry holds the two ownership-safe lookup tables every other
// component depends on: which physical device backs a logical device, and
// which logical device owns a queue.
package registry

import (
	"sync"

	"github.com/gpuspy/submission-tracker/internal/driver"
	"github.com/gpuspy/submission-tracker/internal/errs"
	"github.com/gpuspy/submission-tracker/internal/handle"
)

// PropertiesQuerier is the capability DeviceManager needs from the driver:
// resolving a physical device's properties the first time it is sighted.
// driver.Driver satisfies it; tests can inject a narrower fake.
type PropertiesQuerier interface {
	GetPhysicalDeviceProperties(physical handle.PhysicalDevice) driver.PhysicalDeviceProperties
}

// DeviceManager maps logical devices to the physical device they were
// created against, and caches each physical device's properties for as
// long as at least one logical device references it.
type DeviceManager struct {
	mu sync.RWMutex

	drv PropertiesQuerier

	logicalToPhysical map[handle.Device]handle.PhysicalDevice
	physicalToLogical map[handle.PhysicalDevice]map[handle.Device]struct{}
	properties        map[handle.PhysicalDevice]driver.PhysicalDeviceProperties
}

// NewDeviceManager creates a DeviceManager that queries physical device
// properties through drv.
func NewDeviceManager(drv PropertiesQuerier) *DeviceManager {
	return &DeviceManager{
		drv:               drv,
		logicalToPhysical: make(map[handle.Device]handle.PhysicalDevice),
		physicalToLogical: make(map[handle.PhysicalDevice]map[handle.Device]struct{}),
		properties:        make(map[handle.PhysicalDevice]driver.PhysicalDeviceProperties),
	}
}

// TrackLogical records that logical was created against physical. Querying
// physical's properties the first time it is sighted. Tracking the same
// logical device twice is a precondition violation.
func (m *DeviceManager) TrackLogical(physical handle.PhysicalDevice, logical handle.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.logicalToPhysical[logical]; exists {
		errs.Precondition("TrackLogical", false, "logical device %#x already tracked", uintptr(logical))
	}

	if _, seen := m.physicalToLogical[physical]; !seen {
		m.properties[physical] = m.drv.GetPhysicalDeviceProperties(physical)
		m.physicalToLogical[physical] = make(map[handle.Device]struct{})
	}

	m.logicalToPhysical[logical] = physical
	m.physicalToLogical[physical][logical] = struct{}{}
}

// UntrackLogical reverses TrackLogical. When logical was the last device
// referencing its physical device, the cached properties are dropped too.
func (m *DeviceManager) UntrackLogical(logical handle.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	physical, exists := m.logicalToPhysical[logical]
	errs.Precondition("UntrackLogical", exists, "logical device %#x not tracked", uintptr(logical))

	delete(m.logicalToPhysical, logical)
	delete(m.physicalToLogical[physical], logical)
	if len(m.physicalToLogical[physical]) == 0 {
		delete(m.physicalToLogical, physical)
		delete(m.properties, physical)
	}
}

// GetPhysicalDeviceOf returns the physical device logical was tracked
// against. Precondition: logical is tracked.
func (m *DeviceManager) GetPhysicalDeviceOf(logical handle.Device) handle.PhysicalDevice {
	m.mu.RLock()
	defer m.mu.RUnlock()

	physical, exists := m.logicalToPhysical[logical]
	errs.Precondition("GetPhysicalDeviceOf", exists, "logical device %#x not tracked", uintptr(logical))
	return physical
}

// GetPhysicalDeviceProperties returns physical's cached properties.
// Precondition: physical has at least one tracked logical device.
func (m *DeviceManager) GetPhysicalDeviceProperties(physical handle.PhysicalDevice) driver.PhysicalDeviceProperties {
	m.mu.RLock()
	defer m.mu.RUnlock()

	props, exists := m.properties[physical]
	errs.Precondition("GetPhysicalDeviceProperties", exists, "physical device %#x has no tracked logical device", uintptr(physical))
	return props
}

// QueueManager maps queues to the logical device that owns them.
type QueueManager struct {
	mu sync.RWMutex

	queueToDevice map[handle.Queue]handle.Device
}

// NewQueueManager creates an empty QueueManager.
func NewQueueManager() *QueueManager {
	return &QueueManager{queueToDevice: make(map[handle.Queue]handle.Device)}
}

// Track records that queue is owned by device. Re-registering the same
// queue under the same device is a no-op; re-registering it under a
// different device is a precondition violation — queues never rebind.
func (m *QueueManager) Track(queue handle.Queue, device handle.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, exists := m.queueToDevice[queue]; exists {
		errs.Precondition("Track", existing == device, "queue %#x already bound to a different device", uintptr(queue))
		return
	}
	m.queueToDevice[queue] = device
}

// DeviceOf returns the device queue was tracked against. Precondition:
// queue is tracked.
func (m *QueueManager) DeviceOf(queue handle.Queue) handle.Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	device, exists := m.queueToDevice[queue]
	errs.Precondition("DeviceOf", exists, "queue %#x not tracked", uintptr(queue))
	return device
}
