// Package handle defines the opaque driver handle types shared by every
// component of the tracker. Handles are hashable identifiers with no
// dereference semantics — the driver owns the objects they name, the
// tracker only ever uses them as map keys.
package handle

// Instance identifies a driver instance.
type Instance uintptr

// PhysicalDevice identifies a physical GPU.
type PhysicalDevice uintptr

// Device identifies a logical device created against a PhysicalDevice.
type Device uintptr

// Queue identifies a device queue.
type Queue uintptr

// CommandPool identifies a pool command buffers are allocated from.
type CommandPool uintptr

// CommandBuffer identifies one recordable command buffer.
type CommandBuffer uintptr

// QueryPool identifies a driver timestamp query pool.
type QueryPool uintptr

// DispatchKey identifies the dispatch table shared by every handle that was
// created against the same instance or device. Handles that share a
// dispatch key are interchangeable for dispatch lookup.
type DispatchKey uintptr

// Dispatchable is any handle that can be resolved to a DispatchKey.
type Dispatchable interface {
	~uintptr
}

// DispatchKeyOf derives the dispatch key from a dispatchable handle.
//
// Real driver handles are pointers to a struct whose first machine word is
// the dispatch pointer the loader installed; dereferencing that word is how
// a real layer recovers the key. This module never holds real driver
// memory, so handles from internal/driver's fake driver are constructed so
// that, with their low 16 bits cleared, they equal their owning dispatch
// key, and this function
// is the pure arithmetic mask that models the indirection without unsafe
// pointer tricks.
func DispatchKeyOf[H Dispatchable](h H) DispatchKey {
	return DispatchKey(uintptr(h) &^ dispatchKeyMask)
}

// dispatchKeyMask carves out the low bits of a handle reserved for a
// per-handle discriminator, leaving the high bits as the shared dispatch
// key for all handles minted under the same instance/device.
const dispatchKeyMask = 0xffff
