package tracker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpuspy/submission-tracker/internal/driver"
	"github.com/gpuspy/submission-tracker/internal/handle"
	"github.com/gpuspy/submission-tracker/internal/producer"
	"github.com/gpuspy/submission-tracker/internal/querypool"
	"github.com/gpuspy/submission-tracker/internal/registry"
)

// testRig wires a FakeDriver behind the full registry/querypool/producer
// stack a Tracker needs, with one physical/logical device and one queue
// already tracked.
type testRig struct {
	drv      *driver.FakeDriver
	devices  *registry.DeviceManager
	queues   *registry.QueueManager
	pool     *querypool.Manager
	prod     *producer.FakeProducer
	tracker  *Tracker

	physical handle.PhysicalDevice
	device   handle.Device
	queue    handle.Queue
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()

	drv := driver.NewFakeDriver()
	devices := registry.NewDeviceManager(drv)
	queues := registry.NewQueueManager()
	pool := querypool.NewManager(drv)
	prod := producer.NewFakeProducer()

	physical := handle.PhysicalDevice(0x10)
	device := handle.Device(drv.NewHandleUnder(handle.DispatchKey(0x10)))
	queue := handle.Queue(drv.NewHandleUnder(handle.DispatchKey(0x10)))

	devices.TrackLogical(physical, device)
	queues.Track(queue, device)
	pool.Initialize(device, &querypool.Config{Capacity: 64})

	tr := New(drv, pool, devices, queues, prod, nil, nil)
	prod.SetCaptureStatusListener(tr)

	return &testRig{
		drv: drv, devices: devices, queues: queues, pool: pool, prod: prod, tracker: tr,
		physical: physical, device: device, queue: queue,
	}
}

func (r *testRig) newCommandBuffer() handle.CommandBuffer {
	return handle.CommandBuffer(r.drv.NewHandleUnder(handle.DispatchKey(0x10)))
}

// S1: a single command buffer, no markers, submitted and completed while
// capturing, produces exactly one emitted GpuQueueSubmission with a
// resolved begin/end pair.
func TestScenarioSingleCommandBufferRoundTrip(t *testing.T) {
	r := newTestRig(t)
	pool := handle.CommandPool(0x10)
	cb := r.newCommandBuffer()

	r.tracker.TrackCommandBuffers(r.device, pool, []handle.CommandBuffer{cb})
	r.prod.StartCapture(producer.Options{MaxLocalMarkerDepthPerCommandBuffer: producer.UnlimitedMarkerDepth})

	r.tracker.MarkCommandBufferBegin(cb)
	r.tracker.MarkCommandBufferEnd(cb)

	submission := r.tracker.PersistCommandBuffersOnSubmit(r.queue, [][]handle.CommandBuffer{{cb}})
	require.NotNil(t, submission)
	r.tracker.PersistDebugMarkersOnSubmit(r.queue, [][]handle.CommandBuffer{{cb}}, submission)

	r.tracker.CompleteSubmits(r.device)

	require.Len(t, r.prod.Events, 1)
	ev := r.prod.Events[0]
	require.NotNil(t, ev.Submission)
	require.Len(t, ev.Submission.SubmitInfos, 1)
	require.Len(t, ev.Submission.SubmitInfos[0].CommandBuffers, 1)
	cbts := ev.Submission.SubmitInfos[0].CommandBuffers[0]
	require.NotNil(t, cbts.BeginGpuTimestampNs)
	assert.LessOrEqual(t, *cbts.BeginGpuTimestampNs, cbts.EndGpuTimestampNs)
}

// S2: GetQueryPoolResults returns NOT_READY a few times before succeeding;
// CompleteSubmits must not emit until the terminal slot resolves, and must
// not drop the submission while waiting.
func TestScenarioNotReadyThenSuccess(t *testing.T) {
	r := newTestRig(t)
	pool := handle.CommandPool(0x10)
	cb := r.newCommandBuffer()

	r.tracker.TrackCommandBuffers(r.device, pool, []handle.CommandBuffer{cb})
	r.prod.StartCapture(producer.Options{})

	r.tracker.MarkCommandBufferBegin(cb)
	r.tracker.MarkCommandBufferEnd(cb)
	endSlot := *requireCBState(t, r, cb).endSlot

	submission := r.tracker.PersistCommandBuffersOnSubmit(r.queue, [][]handle.CommandBuffer{{cb}})
	r.tracker.PersistDebugMarkersOnSubmit(r.queue, [][]handle.CommandBuffer{{cb}}, submission)

	poolHandle := r.pool.QueryPoolHandle(r.device)
	r.drv.StageQueryResult(poolHandle, endSlot, 2, 500)

	r.tracker.CompleteSubmits(r.device)
	assert.Empty(t, r.prod.Events, "terminal slot not yet ready, nothing should emit")

	r.tracker.CompleteSubmits(r.device)
	assert.Empty(t, r.prod.Events)

	r.tracker.CompleteSubmits(r.device)
	require.Len(t, r.prod.Events, 1, "third poll should observe SUCCESS and emit")
}

// S3: a debug marker wrapping two command buffers within one submission
// produces one CompletedMarker whose begin/end straddle both buffers.
func TestScenarioDebugMarkerAcrossCommandBuffers(t *testing.T) {
	r := newTestRig(t)
	pool := handle.CommandPool(0x10)
	cb1 := r.newCommandBuffer()
	cb2 := r.newCommandBuffer()

	r.tracker.TrackCommandBuffers(r.device, pool, []handle.CommandBuffer{cb1, cb2})
	r.prod.StartCapture(producer.Options{MaxLocalMarkerDepthPerCommandBuffer: producer.UnlimitedMarkerDepth})

	r.tracker.MarkCommandBufferBegin(cb1)
	r.tracker.MarkDebugMarkerBegin(cb1, "Frame", &driver.Color{Red: 1})
	r.tracker.MarkCommandBufferEnd(cb1)

	r.tracker.MarkCommandBufferBegin(cb2)
	r.tracker.MarkDebugMarkerEnd(cb2)
	r.tracker.MarkCommandBufferEnd(cb2)

	submission := r.tracker.PersistCommandBuffersOnSubmit(r.queue, [][]handle.CommandBuffer{{cb1, cb2}})
	r.tracker.PersistDebugMarkersOnSubmit(r.queue, [][]handle.CommandBuffer{{cb1, cb2}}, submission)

	r.tracker.CompleteSubmits(r.device)

	require.Len(t, r.prod.Events, 1)
	ev := r.prod.Events[0].Submission
	require.Len(t, ev.CompletedMarkers, 1)
	marker := ev.CompletedMarkers[0]
	assert.Equal(t, uint32(0), marker.Depth)
	require.NotNil(t, marker.BeginMarker)
}



// S4: untracking a command buffer while it still holds a pending begin
// slot rolls that slot back to ReadyForQueryIssue immediately.
func TestScenarioUntrackRollsBackPendingSlot(t *testing.T) {
	r := newTestRig(t)
	pool := handle.CommandPool(0x10)
	cb := r.newCommandBuffer()

	r.tracker.TrackCommandBuffers(r.device, pool, []handle.CommandBuffer{cb})
	r.prod.StartCapture(producer.Options{})

	r.tracker.MarkCommandBufferBegin(cb)
	before := r.pool.FreeSlotCount(r.device)

	r.tracker.UntrackCommandBuffers(r.device, pool, []handle.CommandBuffer{cb})
	after := r.pool.FreeSlotCount(r.device)

	assert.Equal(t, before+1, after)
}

// S5: a marker begun once MaxLocalMarkerDepthPerCommandBuffer is already
// reached is cut off — no slot is issued for it or its matching end, and it never
// reaches a completed-marker in the emitted event.
func TestScenarioMarkerDepthCutoff(t *testing.T) {
	r := newTestRig(t)
	pool := handle.CommandPool(0x10)
	cb := r.newCommandBuffer()

	r.tracker.TrackCommandBuffers(r.device, pool, []handle.CommandBuffer{cb})
	r.prod.StartCapture(producer.Options{MaxLocalMarkerDepthPerCommandBuffer: 1})

	r.tracker.MarkCommandBufferBegin(cb)
	r.tracker.MarkDebugMarkerBegin(cb, "Outer", nil)
	r.tracker.MarkDebugMarkerBegin(cb, "Inner", nil) // exceeds depth 1, cut off
	r.tracker.MarkDebugMarkerEnd(cb)                 // ends Inner, also cut off
	r.tracker.MarkDebugMarkerEnd(cb)                 // ends Outer
	r.tracker.MarkCommandBufferEnd(cb)

	submission := r.tracker.PersistCommandBuffersOnSubmit(r.queue, [][]handle.CommandBuffer{{cb}})
	r.tracker.PersistDebugMarkersOnSubmit(r.queue, [][]handle.CommandBuffer{{cb}}, submission)
	r.tracker.CompleteSubmits(r.device)

	require.Len(t, r.prod.Events, 1)
	ev := r.prod.Events[0].Submission
	require.Len(t, ev.CompletedMarkers, 1)
}

// S6: a StopCapture between PersistCommandBuffersOnSubmit and
// PersistDebugMarkersOnSubmit does not make the second call panic; it
// still drains the command buffer's markers into the submission returned
// while capturing.
func TestScenarioCaptureStopsBetweenPersistCalls(t *testing.T) {
	r := newTestRig(t)
	pool := handle.CommandPool(0x10)
	cb := r.newCommandBuffer()

	r.tracker.TrackCommandBuffers(r.device, pool, []handle.CommandBuffer{cb})
	r.prod.StartCapture(producer.Options{})

	r.tracker.MarkCommandBufferBegin(cb)
	r.tracker.MarkDebugMarkerBegin(cb, "Region", nil)
	r.tracker.MarkDebugMarkerEnd(cb)
	r.tracker.MarkCommandBufferEnd(cb)

	submission := r.tracker.PersistCommandBuffersOnSubmit(r.queue, [][]handle.CommandBuffer{{cb}})
	require.NotNil(t, submission)

	r.prod.StopCapture()

	assert.NotPanics(t, func() {
		r.tracker.PersistDebugMarkersOnSubmit(r.queue, [][]handle.CommandBuffer{{cb}}, submission)
	})
}

// I1: reset-pair independence — DoneReading then ForReset, and ForReset
// then DoneReading, both reclaim the slot.
func TestInvariantResetPairOrderIndependent(t *testing.T) {
	r := newTestRig(t)
	pool := handle.CommandPool(0x10)
	cb1 := r.newCommandBuffer()
	cb2 := r.newCommandBuffer()
	r.tracker.TrackCommandBuffers(r.device, pool, []handle.CommandBuffer{cb1, cb2})
	r.prod.StartCapture(producer.Options{})

	r.tracker.MarkCommandBufferBegin(cb1)
	slot1 := *requireCBState(t, r, cb1).beginSlot

	r.tracker.MarkCommandBufferBegin(cb2)
	slot2 := *requireCBState(t, r, cb2).beginSlot

	r.pool.MarkQuerySlotsDoneReading(r.device, []uint32{slot1})
	r.pool.MarkQuerySlotsForReset(r.device, []uint32{slot1})
	assert.Equal(t, querypool.ReadyForQueryIssue, r.pool.StateOf(r.device, slot1))

	r.pool.MarkQuerySlotsForReset(r.device, []uint32{slot2})
	r.pool.MarkQuerySlotsDoneReading(r.device, []uint32{slot2})
	assert.Equal(t, querypool.ReadyForQueryIssue, r.pool.StateOf(r.device, slot2))
}

func requireCBState(t *testing.T, r *testRig, cb handle.CommandBuffer) *commandBufferState {
	t.Helper()
	st, ok := r.tracker.cbStates[cb]
	require.True(t, ok)
	return st
}

// R1: TrackCommandBuffers -> UntrackCommandBuffers -> TrackCommandBuffers
// restores the ability to begin/end the same command buffer cleanly.
func TestRoundTripTrackUntrackTrack(t *testing.T) {
	r := newTestRig(t)
	poolH := handle.CommandPool(0x10)
	cb := r.newCommandBuffer()

	r.tracker.TrackCommandBuffers(r.device, poolH, []handle.CommandBuffer{cb})
	r.tracker.UntrackCommandBuffers(r.device, poolH, []handle.CommandBuffer{cb})
	r.tracker.TrackCommandBuffers(r.device, poolH, []handle.CommandBuffer{cb})

	assert.NotPanics(t, func() {
		r.tracker.MarkCommandBufferBegin(cb)
		r.tracker.MarkCommandBufferEnd(cb)
	})
}

// B1: when not capturing, MarkCommandBufferBegin/End still create and
// update state but issue no driver timestamp and no slot.
func TestBoundaryNotCapturingRecordsNoTimestamps(t *testing.T) {
	r := newTestRig(t)
	poolH := handle.CommandPool(0x10)
	cb := r.newCommandBuffer()
	r.tracker.TrackCommandBuffers(r.device, poolH, []handle.CommandBuffer{cb})

	r.tracker.MarkCommandBufferBegin(cb)
	r.tracker.MarkCommandBufferEnd(cb)

	st := requireCBState(t, r, cb)
	assert.Nil(t, st.beginSlot)
	assert.Nil(t, st.endSlot)
}

// B2: PersistCommandBuffersOnSubmit returns nil when not capturing, and
// PersistDebugMarkersOnSubmit with a nil submission must not panic.
func TestBoundaryPersistWithoutCaptureReturnsNil(t *testing.T) {
	r := newTestRig(t)
	poolH := handle.CommandPool(0x10)
	cb := r.newCommandBuffer()
	r.tracker.TrackCommandBuffers(r.device, poolH, []handle.CommandBuffer{cb})

	r.tracker.MarkCommandBufferBegin(cb)
	r.tracker.MarkCommandBufferEnd(cb)

	submission := r.tracker.PersistCommandBuffersOnSubmit(r.queue, [][]handle.CommandBuffer{{cb}})
	assert.Nil(t, submission)

	assert.NotPanics(t, func() {
		r.tracker.PersistDebugMarkersOnSubmit(r.queue, [][]handle.CommandBuffer{{cb}}, submission)
	})
}

// B3: MarkCommandBufferEnd on a command buffer with no state is a no-op,
// not a panic (it was reset/untracked and never begun again).
func TestBoundaryEndWithoutStateIsNoop(t *testing.T) {
	r := newTestRig(t)
	cb := r.newCommandBuffer()
	r.prod.StartCapture(producer.Options{})
	assert.NotPanics(t, func() { r.tracker.MarkCommandBufferEnd(cb) })
}

// B4: double-tracking the same command buffer panics.
func TestBoundaryDoubleTrackPanics(t *testing.T) {
	r := newTestRig(t)
	poolH := handle.CommandPool(0x10)
	cb := r.newCommandBuffer()
	r.tracker.TrackCommandBuffers(r.device, poolH, []handle.CommandBuffer{cb})
	assert.Panics(t, func() {
		r.tracker.TrackCommandBuffers(r.device, poolH, []handle.CommandBuffer{cb})
	})
}

// B5: an empty submission (no submitted command buffers resolve to an
// end_slot) is dropped at completion time without emitting an event.
func TestBoundaryEmptySubmissionDropped(t *testing.T) {
	r := newTestRig(t)
	r.prod.StartCapture(producer.Options{})

	submission := r.tracker.PersistCommandBuffersOnSubmit(r.queue, [][]handle.CommandBuffer{{}})
	r.tracker.PersistDebugMarkersOnSubmit(r.queue, [][]handle.CommandBuffer{{}}, submission)

	r.tracker.CompleteSubmits(r.device)
	assert.Empty(t, r.prod.Events)
}

// OnCaptureFinished sweeps live command buffer state and marks referenced
// slots done-reading without clearing the state itself, so a subsequent
// reset still drives the slot all the way back to ReadyForQueryIssue.
func TestCaptureFinishedSweepsLiveState(t *testing.T) {
	r := newTestRig(t)
	poolH := handle.CommandPool(0x10)
	cb := r.newCommandBuffer()
	r.tracker.TrackCommandBuffers(r.device, poolH, []handle.CommandBuffer{cb})
	r.prod.StartCapture(producer.Options{})

	r.tracker.MarkCommandBufferBegin(cb)
	slot := *requireCBState(t, r, cb).beginSlot

	r.prod.StopCapture()
	r.prod.FinishCapture()

	assert.Equal(t, querypool.DoneReading, r.pool.StateOf(r.device, slot))

	r.tracker.ResetCommandBuffer(cb)
	assert.Equal(t, querypool.ReadyForQueryIssue, r.pool.StateOf(r.device, slot))
}
