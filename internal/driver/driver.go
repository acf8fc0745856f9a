// Package driver declares the subset of driver entry points the tracker
// forwards calls through, and the result codes those calls return. Only
// the core cares about these signatures; the outer passthrough dispatch
// layer (out of scope for this module) is responsible for resolving real
// function pointers and forwarding everything else untouched.
package driver

import "github.com/gpuspy/submission-tracker/internal/handle"

// Result mirrors a driver call's success/failure/not-ready outcome. The
// core only ever branches on these three buckets; finer-grained driver
// error codes are not modeled.
type Result int

const (
	Success Result = iota
	NotReady
	Error
)

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case NotReady:
		return "NOT_READY"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// PipelineStage is the stage a timestamp write is latched to.
type PipelineStage int

const (
	TopOfPipe PipelineStage = iota
	BottomOfPipe
)

// QueryResultFlags mirrors the flag a GetQueryPoolResults call is made
// with; the tracker always queries a single 64-bit value with a wait-less
// poll, but the flag is threaded through so a fake can assert on it.
type QueryResultFlags uint32

const (
	QueryResult64Bit QueryResultFlags = 1 << iota
)

// PhysicalDeviceProperties carries the subset of driver-reported physical
// device properties the tracker needs.
type PhysicalDeviceProperties struct {
	TimestampPeriod float32
}

// Color is an RGBA debug-marker color, propagated verbatim into emitted
// events.
type Color struct {
	Red, Green, Blue, Alpha float32
}

// Driver is the set of driver entry points consumed by the registries,
// the timer query pool, and the submission tracker. Every method is a
// direct forward through the resolved dispatch-table function pointer in
// a real layer; Driver exists so those components can be tested against
// an in-memory fake instead of a real GPU driver.
type Driver interface {
	// Command pool / buffer lifecycle.
	ResetCommandPool(pool handle.CommandPool) Result
	AllocateCommandBuffers(device handle.Device, pool handle.CommandPool, count int) ([]handle.CommandBuffer, Result)
	FreeCommandBuffers(device handle.Device, pool handle.CommandPool, cbs []handle.CommandBuffer)
	BeginCommandBuffer(cb handle.CommandBuffer) Result
	EndCommandBuffer(cb handle.CommandBuffer) Result
	ResetCommandBuffer(cb handle.CommandBuffer) Result

	// Queue acquisition and submission.
	GetDeviceQueue(device handle.Device, familyIndex, queueIndex uint32) handle.Queue
	GetDeviceQueue2(device handle.Device, familyIndex, queueIndex uint32, flags uint32) handle.Queue
	QueueSubmit(queue handle.Queue, submitCount int) Result
	QueuePresentKHR(queue handle.Queue) Result

	// Timestamp query pool management.
	CreateQueryPool(device handle.Device, queryCount uint32) (handle.QueryPool, Result)
	DestroyQueryPool(device handle.Device, pool handle.QueryPool)
	ResetQueryPoolEXT(device handle.Device, pool handle.QueryPool, firstQuery, queryCount uint32)
	CmdWriteTimestamp(cb handle.CommandBuffer, stage PipelineStage, pool handle.QueryPool, slot uint32)
	// GetQueryPoolResults polls a single slot. It returns the raw
	// timestamp value and Success once the GPU has written it, or
	// NotReady while the write is still in flight.
	GetQueryPoolResults(device handle.Device, pool handle.QueryPool, slot uint32, flags QueryResultFlags) (uint64, Result)

	// Physical device introspection.
	GetPhysicalDeviceProperties(physical handle.PhysicalDevice) PhysicalDeviceProperties

	// Debug marker / debug-utils entry points.
	CmdBeginDebugUtilsLabelEXT(cb handle.CommandBuffer, label string, color Color)
	CmdEndDebugUtilsLabelEXT(cb handle.CommandBuffer)
	CmdDebugMarkerBeginEXT(cb handle.CommandBuffer, label string, color Color)
	CmdDebugMarkerEndEXT(cb handle.CommandBuffer)
}
