package driver

import (
	"sync"

	"github.com/gpuspy/submission-tracker/internal/handle"
)

// FakeDriver is an in-memory Driver used by the timer query pool's and
// submission tracker's tests in place of a real GPU driver. It hands out
// handles that equal their owning dispatch key once their low 16 bits are
// cleared (see handle.DispatchKeyOf) and lets a test script how many times
// a given slot's GetQueryPoolResults call returns NotReady before it starts
// returning the staged value. An unstaged timestamp write records the value
// of a counter that increases with every write, so later writes read back
// later timestamps.
type FakeDriver struct {
	mu sync.Mutex

	nextHandle uintptr
	clock      uint64

	queryPools map[handle.QueryPool]*fakeQueryPool
	props      map[handle.PhysicalDevice]PhysicalDeviceProperties

	// Calls counts invocations per method name, mirroring the teacher's
	// MockBackend call-count tracking.
	Calls map[string]int
}

type fakeQueryPool struct {
	device handle.Device
	// pending[slot] is the number of remaining NotReady responses before
	// the staged value is returned.
	pending map[uint32]int
	values  map[uint32]uint64
	reset   map[uint32]bool
}

// NewFakeDriver creates an empty FakeDriver.
func NewFakeDriver() *FakeDriver {
	return &FakeDriver{
		nextHandle: 0x1000,
		queryPools: make(map[handle.QueryPool]*fakeQueryPool),
		props:      make(map[handle.PhysicalDevice]PhysicalDeviceProperties),
		Calls:      make(map[string]int),
	}
}

func (f *FakeDriver) count(name string) {
	f.Calls[name]++
}

// NewHandleUnder mints a handle by OR-ing a per-handle discriminator into
// the low 16 bits of dispatchKey, for use by tests constructing
// devices/queues/command buffers/pools that must resolve through a
// particular dispatch table entry. handle.DispatchKeyOf returns dispatchKey
// for the result only when dispatchKey's own low 16 bits are clear.
func (f *FakeDriver) NewHandleUnder(dispatchKey handle.DispatchKey) uintptr {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandle++
	return uintptr(dispatchKey) | (f.nextHandle & 0xffff)
}

// SetPhysicalDeviceProperties stages the properties GetPhysicalDeviceProperties
// returns for physical.
func (f *FakeDriver) SetPhysicalDeviceProperties(physical handle.PhysicalDevice, props PhysicalDeviceProperties) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.props[physical] = props
}

// StageQueryResult arranges for slot's next GetQueryPoolResults call on
// pool to return NotReady notReadyCount times, then Success with value.
func (f *FakeDriver) StageQueryResult(pool handle.QueryPool, slot uint32, notReadyCount int, value uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	qp := f.queryPools[pool]
	if qp == nil {
		return
	}
	qp.pending[slot] = notReadyCount
	qp.values[slot] = value
}

func (f *FakeDriver) ResetCommandPool(pool handle.CommandPool) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ResetCommandPool")
	return Success
}

func (f *FakeDriver) AllocateCommandBuffers(device handle.Device, pool handle.CommandPool, count int) ([]handle.CommandBuffer, Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("AllocateCommandBuffers")
	key := handle.DispatchKeyOf(device)
	cbs := make([]handle.CommandBuffer, count)
	for i := range cbs {
		f.nextHandle++
		cbs[i] = handle.CommandBuffer(uintptr(key) | (f.nextHandle & 0xffff))
	}
	return cbs, Success
}

func (f *FakeDriver) FreeCommandBuffers(device handle.Device, pool handle.CommandPool, cbs []handle.CommandBuffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("FreeCommandBuffers")
}

func (f *FakeDriver) BeginCommandBuffer(cb handle.CommandBuffer) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("BeginCommandBuffer")
	return Success
}

func (f *FakeDriver) EndCommandBuffer(cb handle.CommandBuffer) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("EndCommandBuffer")
	return Success
}

func (f *FakeDriver) ResetCommandBuffer(cb handle.CommandBuffer) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ResetCommandBuffer")
	return Success
}

func (f *FakeDriver) GetDeviceQueue(device handle.Device, familyIndex, queueIndex uint32) handle.Queue {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetDeviceQueue")
	key := handle.DispatchKeyOf(device)
	f.nextHandle++
	return handle.Queue(uintptr(key) | (f.nextHandle & 0xffff))
}

func (f *FakeDriver) GetDeviceQueue2(device handle.Device, familyIndex, queueIndex uint32, flags uint32) handle.Queue {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetDeviceQueue2")
	key := handle.DispatchKeyOf(device)
	f.nextHandle++
	return handle.Queue(uintptr(key) | (f.nextHandle & 0xffff))
}

func (f *FakeDriver) QueueSubmit(queue handle.Queue, submitCount int) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("QueueSubmit")
	return Success
}

func (f *FakeDriver) QueuePresentKHR(queue handle.Queue) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("QueuePresentKHR")
	return Success
}

func (f *FakeDriver) CreateQueryPool(device handle.Device, queryCount uint32) (handle.QueryPool, Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CreateQueryPool")
	key := handle.DispatchKeyOf(device)
	f.nextHandle++
	pool := handle.QueryPool(uintptr(key) | (f.nextHandle & 0xffff))
	f.queryPools[pool] = &fakeQueryPool{
		device:  device,
		pending: make(map[uint32]int),
		values:  make(map[uint32]uint64),
		reset:   make(map[uint32]bool),
	}
	return pool, Success
}

func (f *FakeDriver) DestroyQueryPool(device handle.Device, pool handle.QueryPool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("DestroyQueryPool")
	delete(f.queryPools, pool)
}

func (f *FakeDriver) ResetQueryPoolEXT(device handle.Device, pool handle.QueryPool, firstQuery, queryCount uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("ResetQueryPoolEXT")
	qp := f.queryPools[pool]
	if qp == nil {
		return
	}
	for s := firstQuery; s < firstQuery+queryCount; s++ {
		qp.reset[s] = true
		delete(qp.pending, s)
		delete(qp.values, s)
	}
}

func (f *FakeDriver) CmdWriteTimestamp(cb handle.CommandBuffer, stage PipelineStage, pool handle.QueryPool, slot uint32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CmdWriteTimestamp")
	qp := f.queryPools[pool]
	if qp == nil {
		return
	}
	delete(qp.reset, slot)
	if _, staged := qp.values[slot]; !staged {
		qp.values[slot] = f.clock
	}
	f.clock++
}

func (f *FakeDriver) GetQueryPoolResults(device handle.Device, pool handle.QueryPool, slot uint32, flags QueryResultFlags) (uint64, Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetQueryPoolResults")
	qp := f.queryPools[pool]
	if qp == nil {
		return 0, Error
	}
	if remaining := qp.pending[slot]; remaining > 0 {
		qp.pending[slot] = remaining - 1
		return 0, NotReady
	}
	return qp.values[slot], Success
}

func (f *FakeDriver) GetPhysicalDeviceProperties(physical handle.PhysicalDevice) PhysicalDeviceProperties {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("GetPhysicalDeviceProperties")
	if props, ok := f.props[physical]; ok {
		return props
	}
	return PhysicalDeviceProperties{TimestampPeriod: 1.0}
}

func (f *FakeDriver) CmdBeginDebugUtilsLabelEXT(cb handle.CommandBuffer, label string, color Color) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CmdBeginDebugUtilsLabelEXT")
}

func (f *FakeDriver) CmdEndDebugUtilsLabelEXT(cb handle.CommandBuffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CmdEndDebugUtilsLabelEXT")
}

func (f *FakeDriver) CmdDebugMarkerBeginEXT(cb handle.CommandBuffer, label string, color Color) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CmdDebugMarkerBeginEXT")
}

func (f *FakeDriver) CmdDebugMarkerEndEXT(cb handle.CommandBuffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.count("CmdDebugMarkerEndEXT")
}

var _ Driver = (*FakeDriver)(nil)
