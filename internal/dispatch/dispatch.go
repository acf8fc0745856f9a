// Package dispatch implements the per-handle registry of resolved driver
// function pointers and extension-support flags that every dispatchable
// handle in an instance or device family shares.
package dispatch

import (
	"sync"

	"github.com/gpuspy/submission-tracker/internal/errs"
	"github.com/gpuspy/submission-tracker/internal/handle"
)

// GetProcAddr resolves a single entry point by name, returning nil if the
// driver (or the next layer down the chain) does not implement it. A real
// layer wires this to vkGetInstanceProcAddr/vkGetDeviceProcAddr; tests wire
// it to a map literal.
type GetProcAddr func(name string) any

// Required instance- and device-level entry point names, resolved once at
// dispatch-creation time.
var (
	instanceEntryPoints = []string{
		"vkGetPhysicalDeviceProperties2",
		"vkGetPhysicalDeviceProperties2KHR",
	}
	deviceEntryPoints = []string{
		"vkResetCommandPool",
		"vkAllocateCommandBuffers",
		"vkFreeCommandBuffers",
		"vkBeginCommandBuffer",
		"vkEndCommandBuffer",
		"vkResetCommandBuffer",
		"vkGetDeviceQueue",
		"vkGetDeviceQueue2",
		"vkQueueSubmit",
		"vkQueuePresentKHR",
		"vkCreateQueryPool",
		"vkDestroyQueryPool",
		"vkResetQueryPoolEXT",
		"vkCmdWriteTimestamp",
		"vkGetQueryPoolResults",
	}
	debugUtilsEntryPoints = []string{
		"vkCmdBeginDebugUtilsLabelEXT",
		"vkCmdEndDebugUtilsLabelEXT",
	}
	debugMarkerEntryPoints = []string{
		"vkCmdDebugMarkerBeginEXT",
		"vkCmdDebugMarkerEndEXT",
	}
	debugReportEntryPoints = []string{
		"vkDebugReportMessageEXT",
	}
)

type instanceDispatch struct {
	functions           map[string]any
	debugReportSupported bool
}

type deviceDispatch struct {
	functions            map[string]any
	debugUtilsSupported  bool
	debugMarkerSupported bool
}

// Table is the process-wide registry of instance and device dispatches,
// keyed by handle.DispatchKey. One reader/writer lock guards both maps:
// dispatches are created and removed rarely, and looked up on every
// intercepted call, so readers must be truly concurrent.
type Table struct {
	mu        sync.RWMutex
	instances map[handle.DispatchKey]*instanceDispatch
	devices   map[handle.DispatchKey]*deviceDispatch
}

// NewTable creates an empty dispatch table.
func NewTable() *Table {
	return &Table{
		instances: make(map[handle.DispatchKey]*instanceDispatch),
		devices:   make(map[handle.DispatchKey]*deviceDispatch),
	}
}

// CreateInstanceDispatch resolves the fixed set of instance-level entry
// points by invoking resolve with each name, and records whether the
// debug-report extension is fully present.
func (t *Table) CreateInstanceDispatch(instance handle.Instance, resolve GetProcAddr) {
	key := handle.DispatchKeyOf(instance)

	t.mu.Lock()
	defer t.mu.Unlock()

	errs.Precondition("CreateInstanceDispatch", t.instances[key] == nil, "instance dispatch %#x already created", uintptr(key))

	fns := resolveAll(resolve, instanceEntryPoints)
	t.instances[key] = &instanceDispatch{
		functions:            fns,
		debugReportSupported: allPresent(resolve, debugReportEntryPoints),
	}
}

// CreateDeviceDispatch resolves the fixed set of device-level entry points
// and records debug-utils/debug-marker extension support.
func (t *Table) CreateDeviceDispatch(device handle.Device, resolve GetProcAddr) {
	key := handle.DispatchKeyOf(device)

	t.mu.Lock()
	defer t.mu.Unlock()

	errs.Precondition("CreateDeviceDispatch", t.devices[key] == nil, "device dispatch %#x already created", uintptr(key))

	fns := resolveAll(resolve, deviceEntryPoints)
	t.devices[key] = &deviceDispatch{
		functions:            fns,
		debugUtilsSupported:  allPresent(resolve, debugUtilsEntryPoints),
		debugMarkerSupported: allPresent(resolve, debugMarkerEntryPoints),
	}
}

// RemoveInstanceDispatch drops instance's dispatch.
func (t *Table) RemoveInstanceDispatch(instance handle.Instance) {
	key := handle.DispatchKeyOf(instance)

	t.mu.Lock()
	defer t.mu.Unlock()

	_, exists := t.instances[key]
	errs.Precondition("RemoveInstanceDispatch", exists, "instance dispatch %#x not tracked", uintptr(key))
	delete(t.instances, key)
}

// RemoveDeviceDispatch drops device's dispatch.
func (t *Table) RemoveDeviceDispatch(device handle.Device) {
	key := handle.DispatchKeyOf(device)

	t.mu.Lock()
	defer t.mu.Unlock()

	_, exists := t.devices[key]
	errs.Precondition("RemoveDeviceDispatch", exists, "device dispatch %#x not tracked", uintptr(key))
	delete(t.devices, key)
}

// InstanceFunc returns the resolved function for name under the dispatch
// shared by h. Precondition: the dispatch must exist.
func InstanceFunc[H handle.Dispatchable](t *Table, h H, name string) any {
	key := handle.DispatchKeyOf(h)

	t.mu.RLock()
	defer t.mu.RUnlock()

	d, exists := t.instances[key]
	errs.Precondition("InstanceFunc", exists, "no instance dispatch for key %#x", uintptr(key))
	return d.functions[name]
}

// DeviceFunc returns the resolved function for name under the dispatch
// shared by h. Precondition: the dispatch must exist.
func DeviceFunc[H handle.Dispatchable](t *Table, h H, name string) any {
	key := handle.DispatchKeyOf(h)

	t.mu.RLock()
	defer t.mu.RUnlock()

	d, exists := t.devices[key]
	errs.Precondition("DeviceFunc", exists, "no device dispatch for key %#x", uintptr(key))
	return d.functions[name]
}

// IsDebugUtilsExtensionSupported reports whether h's device dispatch
// resolved every VK_EXT_debug_utils command entry point this layer needs.
func IsDebugUtilsExtensionSupported[H handle.Dispatchable](t *Table, h H) bool {
	return deviceDispatchOf(t, h).debugUtilsSupported
}

// IsDebugMarkerExtensionSupported reports whether h's device dispatch
// resolved every VK_EXT_debug_marker command entry point this layer needs.
func IsDebugMarkerExtensionSupported[H handle.Dispatchable](t *Table, h H) bool {
	return deviceDispatchOf(t, h).debugMarkerSupported
}

// IsDebugReportExtensionSupported reports whether h's instance dispatch
// resolved the VK_EXT_debug_report command entry point.
func IsDebugReportExtensionSupported[H handle.Dispatchable](t *Table, h H) bool {
	key := handle.DispatchKeyOf(h)

	t.mu.RLock()
	defer t.mu.RUnlock()

	d, exists := t.instances[key]
	errs.Precondition("IsDebugReportExtensionSupported", exists, "no instance dispatch for key %#x", uintptr(key))
	return d.debugReportSupported
}

func deviceDispatchOf[H handle.Dispatchable](t *Table, h H) *deviceDispatch {
	key := handle.DispatchKeyOf(h)

	t.mu.RLock()
	defer t.mu.RUnlock()

	d, exists := t.devices[key]
	errs.Precondition("deviceDispatchOf", exists, "no device dispatch for key %#x", uintptr(key))
	return d
}

func resolveAll(resolve GetProcAddr, names []string) map[string]any {
	fns := make(map[string]any, len(names))
	for _, name := range names {
		fns[name] = resolve(name)
	}
	return fns
}

func allPresent(resolve GetProcAddr, names []string) bool {
	for _, name := range names {
		if resolve(name) == nil {
			return false
		}
	}
	return true
}
