// Package tracker implements the submission tracker: the state machine
// that bridges command-buffer recording, debug-marker regions, and queue
// submissions across the GPU's asynchronous execution boundary into a
// causally ordered stream of capture events.
package tracker

import (
	"fmt"
	"math"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/gpuspy/submission-tracker/internal/driver"
	"github.com/gpuspy/submission-tracker/internal/errs"
	"github.com/gpuspy/submission-tracker/internal/handle"
	"github.com/gpuspy/submission-tracker/internal/logging"
	"github.com/gpuspy/submission-tracker/internal/producer"
	"github.com/gpuspy/submission-tracker/internal/querypool"
)

// MetricsRecorder is the subset of internal/metrics.Metrics the tracker
// drives; a nil MetricsRecorder is treated as a no-op so tests can omit
// it entirely.
type MetricsRecorder interface {
	RecordSubmissionEmitted()
	RecordSubmissionDroppedNotReady()
	RecordMarkerCutOff()
	RecordDroppedSample()
	RecordCompletionLatency(seconds float64)
}

// PhysicalDeviceResolver is the capability the tracker needs from the
// device registry: the physical device backing a logical device and that
// physical device's reported timestamp period.
type PhysicalDeviceResolver interface {
	GetPhysicalDeviceOf(logical handle.Device) handle.PhysicalDevice
	GetPhysicalDeviceProperties(physical handle.PhysicalDevice) driver.PhysicalDeviceProperties
}

// QueueDeviceResolver is the capability the tracker needs from the queue
// registry: which device owns a queue.
type QueueDeviceResolver interface {
	DeviceOf(queue handle.Queue) handle.Device
}

type markerKind int

const (
	beginMarkerKind markerKind = iota
	endMarkerKind
)

type markerEntry struct {
	kind   markerKind
	slot   *uint32
	label  string
	color  *driver.Color
	cutOff bool
}

// commandBufferState is transient bookkeeping for one command buffer
// between its begin and its enclosing submission's completion.
type commandBufferState struct {
	beginSlot  *uint32
	endSlot    *uint32
	markers    []markerEntry
	localDepth uint32
}

func (s *commandBufferState) referencedSlots() []uint32 {
	var slots []uint32
	if s.beginSlot != nil {
		slots = append(slots, *s.beginSlot)
	}
	if s.endSlot != nil {
		slots = append(slots, *s.endSlot)
	}
	for _, m := range s.markers {
		if m.slot != nil {
			slots = append(slots, *m.slot)
		}
	}
	return slots
}

type markerStackEntry struct {
	label     string
	color     *driver.Color
	depth     uint32
	cutOff    bool
	beginSlot *uint32
	beginMeta *producer.MetaInfo
}

type submittedCommandBuffer struct {
	beginSlot *uint32
	endSlot   uint32
	beginNs   *uint64
	endNs     *uint64
}

type submittedMarker struct {
	label     string
	color     *driver.Color
	depth     uint32
	beginSlot *uint32
	beginMeta *producer.MetaInfo
	beginNs   *uint64
	endSlot   uint32
	endNs     *uint64
}

type submitInfo struct {
	commandBuffers []*submittedCommandBuffer
}

// Submission is an opaque snapshot of one QueueSubmit call, returned by
// PersistCommandBuffersOnSubmit and handed back to
// PersistDebugMarkersOnSubmit once the driver call has been made.
type Submission struct {
	queue  handle.Queue
	device handle.Device

	meta             producer.MetaInfo
	submitInfos      []*submitInfo
	completedMarkers []*submittedMarker
	numBeginMarkers  uint32
}

type noopMetrics struct{}

func (noopMetrics) RecordSubmissionEmitted()            {}
func (noopMetrics) RecordSubmissionDroppedNotReady()    {}
func (noopMetrics) RecordMarkerCutOff()                 {}
func (noopMetrics) RecordDroppedSample()                {}
func (noopMetrics) RecordCompletionLatency(float64)     {}

// Tracker is the submission tracker. It owns a producer.Producer
// reference it queries for IsCapturing() on every entry point; there is
// no local capture flag.
type Tracker struct {
	mu sync.RWMutex

	drv      driver.Driver
	pool     *querypool.Manager
	devices  PhysicalDeviceResolver
	queues   QueueDeviceResolver
	prod     producer.Producer
	logger   *logging.Logger
	metrics  MetricsRecorder

	cbToDevice map[handle.CommandBuffer]handle.Device
	cbToPool   map[handle.CommandBuffer]handle.CommandPool
	poolToCBs  map[handle.CommandPool]map[handle.CommandBuffer]struct{}
	cbStates   map[handle.CommandBuffer]*commandBufferState

	queueSubmissions map[handle.Queue][]*Submission
	markerStacks     map[handle.Queue][]*markerStackEntry

	maxLocalMarkerDepth uint32
}

// New creates a Tracker. metrics may be nil (a no-op recorder is used).
func New(drv driver.Driver, pool *querypool.Manager, devices PhysicalDeviceResolver, queues QueueDeviceResolver, prod producer.Producer, logger *logging.Logger, metrics MetricsRecorder) *Tracker {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Tracker{
		drv:                 drv,
		pool:                pool,
		devices:             devices,
		queues:              queues,
		prod:                prod,
		logger:              logger,
		metrics:             metrics,
		cbToDevice:          make(map[handle.CommandBuffer]handle.Device),
		cbToPool:            make(map[handle.CommandBuffer]handle.CommandPool),
		poolToCBs:           make(map[handle.CommandPool]map[handle.CommandBuffer]struct{}),
		cbStates:            make(map[handle.CommandBuffer]*commandBufferState),
		queueSubmissions:    make(map[handle.Queue][]*Submission),
		markerStacks:        make(map[handle.Queue][]*markerStackEntry),
		maxLocalMarkerDepth: producer.UnlimitedMarkerDepth,
	}
}

// --- 4.4.1 Command-buffer bookkeeping ---------------------------------

// TrackCommandBuffers registers each command buffer under its owning pool.
// Duplicate registration for the same command buffer is a precondition
// violation.
func (t *Tracker) TrackCommandBuffers(device handle.Device, pool handle.CommandPool, cbs []handle.CommandBuffer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, cb := range cbs {
		_, exists := t.cbToDevice[cb]
		errs.Precondition("TrackCommandBuffers", !exists, "command buffer %#x already tracked", uintptr(cb))

		t.cbToDevice[cb] = device
		t.cbToPool[cb] = pool
		if t.poolToCBs[pool] == nil {
			t.poolToCBs[pool] = make(map[handle.CommandBuffer]struct{})
		}
		t.poolToCBs[pool][cb] = struct{}{}
	}
}

// UntrackCommandBuffers is the inverse of TrackCommandBuffers. Any slots
// still referenced by a live CommandBufferState are released (see
// releaseSlots).
func (t *Tracker) UntrackCommandBuffers(device handle.Device, pool handle.CommandPool, cbs []handle.CommandBuffer) {
	var slots []uint32

	t.mu.Lock()
	for _, cb := range cbs {
		if st, ok := t.cbStates[cb]; ok {
			slots = append(slots, st.referencedSlots()...)
			delete(t.cbStates, cb)
		}
		delete(t.cbToDevice, cb)
		delete(t.cbToPool, cb)
		if set := t.poolToCBs[pool]; set != nil {
			delete(set, cb)
		}
	}
	t.mu.Unlock()

	t.releaseSlots(device, slots)
}

// ResetCommandBuffer drops cb's state and releases every slot it
// referenced (see releaseSlots).
func (t *Tracker) ResetCommandBuffer(cb handle.CommandBuffer) {
	t.mu.Lock()
	device := t.cbToDevice[cb]
	st, ok := t.cbStates[cb]
	var slots []uint32
	if ok {
		slots = st.referencedSlots()
		delete(t.cbStates, cb)
	}
	t.mu.Unlock()

	t.releaseSlots(device, slots)
}

// releaseSlots returns the slots of a dropped command buffer state to the
// pool: a slot the OnCaptureFinished sweep already marked done-reading gets
// its reset request, every other slot is rolled back.
func (t *Tracker) releaseSlots(device handle.Device, slots []uint32) {
	for _, slot := range slots {
		if t.pool.StateOf(device, slot) == querypool.DoneReading {
			t.pool.MarkQuerySlotsForReset(device, []uint32{slot})
		} else {
			t.pool.RollbackPending(device, []uint32{slot})
		}
	}
}

// ResetCommandPool drops state for, and releases the slots of, every
// command buffer allocated from pool.
func (t *Tracker) ResetCommandPool(pool handle.CommandPool) {
	t.mu.Lock()
	bySlotDevice := make(map[handle.Device][]uint32)
	for cb := range t.poolToCBs[pool] {
		st, ok := t.cbStates[cb]
		if !ok {
			continue
		}
		device := t.cbToDevice[cb]
		bySlotDevice[device] = append(bySlotDevice[device], st.referencedSlots()...)
		delete(t.cbStates, cb)
	}
	t.mu.Unlock()

	for device, slots := range bySlotDevice {
		t.releaseSlots(device, slots)
	}
}

// --- 4.4.2 Recording ----------------------------------------------------

// MarkCommandBufferBegin always creates an empty CommandBufferState, even
// when not capturing, to preserve debug-marker stack ordering.
// Precondition: no state currently exists for cb.
func (t *Tracker) MarkCommandBufferBegin(cb handle.CommandBuffer) {
	t.mu.Lock()
	_, exists := t.cbStates[cb]
	errs.Precondition("MarkCommandBufferBegin", !exists, "command buffer %#x already has state", uintptr(cb))
	st := &commandBufferState{}
	t.cbStates[cb] = st
	device := t.cbToDevice[cb]
	t.mu.Unlock()

	if !t.producer().IsCapturing() {
		return
	}

	slot, ok := t.recordTimestamp(device, cb, driver.TopOfPipe)
	if !ok {
		return
	}
	t.mu.Lock()
	st.beginSlot = &slot
	t.mu.Unlock()
}

// MarkCommandBufferEnd is a no-op if no state exists for cb (the buffer
// was reset and re-begun while no capture was active).
func (t *Tracker) MarkCommandBufferEnd(cb handle.CommandBuffer) {
	t.mu.Lock()
	st, ok := t.cbStates[cb]
	device := t.cbToDevice[cb]
	t.mu.Unlock()

	if !ok || !t.producer().IsCapturing() {
		return
	}

	slot, ok := t.recordTimestamp(device, cb, driver.BottomOfPipe)
	if !ok {
		return
	}
	t.mu.Lock()
	st.endSlot = &slot
	t.mu.Unlock()
}

// MarkDebugMarkerBegin opens a debug-marker region. text is required.
func (t *Tracker) MarkDebugMarkerBegin(cb handle.CommandBuffer, text string, color *driver.Color) {
	errs.Precondition("MarkDebugMarkerBegin", text != "", "debug marker label must be non-empty")

	t.mu.Lock()
	st, ok := t.cbStates[cb]
	errs.Precondition("MarkDebugMarkerBegin", ok, "command buffer %#x has no state", uintptr(cb))
	st.localDepth++
	cutOff := st.localDepth > t.maxLocalMarkerDepth
	device := t.cbToDevice[cb]
	capturing := t.prod.IsCapturing()
	t.mu.Unlock()

	entry := markerEntry{kind: beginMarkerKind, label: text, color: color, cutOff: cutOff}
	if capturing && !cutOff {
		if slot, ok := t.recordTimestamp(device, cb, driver.TopOfPipe); ok {
			entry.slot = &slot
		}
	} else if cutOff {
		t.metrics.RecordMarkerCutOff()
	}

	t.mu.Lock()
	st.markers = append(st.markers, entry)
	t.mu.Unlock()
}

// MarkDebugMarkerEnd closes the innermost open debug-marker region. The
// local depth counter clamps at zero so an End whose Begin was recorded
// in a different command buffer cannot underflow it.
func (t *Tracker) MarkDebugMarkerEnd(cb handle.CommandBuffer) {
	t.mu.Lock()
	st, ok := t.cbStates[cb]
	errs.Precondition("MarkDebugMarkerEnd", ok, "command buffer %#x has no state", uintptr(cb))
	cutOff := st.localDepth > t.maxLocalMarkerDepth
	if st.localDepth > 0 {
		st.localDepth--
	}
	device := t.cbToDevice[cb]
	capturing := t.prod.IsCapturing()
	t.mu.Unlock()

	entry := markerEntry{kind: endMarkerKind, cutOff: cutOff}
	if capturing && !cutOff {
		if slot, ok := t.recordTimestamp(device, cb, driver.BottomOfPipe); ok {
			entry.slot = &slot
		}
	}

	t.mu.Lock()
	st.markers = append(st.markers, entry)
	t.mu.Unlock()
}

// recordTimestamp acquires a slot and issues the driver write outside any
// tracker lock (the slot is acquired under the pool's own lock, the driver
// call is made unlocked, and the returned slot is installed on the
// caller's state under the tracker lock). Slot exhaustion is treated as a
// dropped sample rather than a fatal precondition violation.
func (t *Tracker) recordTimestamp(device handle.Device, cb handle.CommandBuffer, stage driver.PipelineStage) (uint32, bool) {
	slot, ok := t.pool.NextReadyQuerySlot(device)
	if !ok {
		t.metrics.RecordDroppedSample()
		if t.logger != nil {
			t.logger.Warn("timer query pool exhausted, dropping timestamp sample", "device", fmt.Sprintf("%#x", uintptr(device)))
		}
		return 0, false
	}
	poolHandle := t.pool.QueryPoolHandle(device)
	t.drv.CmdWriteTimestamp(cb, stage, poolHandle, slot)
	return slot, true
}

// --- 4.4.3 Submission ----------------------------------------------------

// PersistCommandBuffersOnSubmit runs before the driver call. If not
// capturing, it returns nil.
func (t *Tracker) PersistCommandBuffersOnSubmit(queue handle.Queue, submits [][]handle.CommandBuffer) *Submission {
	if !t.producer().IsCapturing() {
		return nil
	}

	device := t.queues.DeviceOf(queue)
	sub := &Submission{
		queue:  queue,
		device: device,
		meta: producer.MetaInfo{
			ThreadID:                    int32(unix.Gettid()),
			ProcessID:                   int32(os.Getpid()),
			PreSubmissionCPUTimestampNs: time.Now().UnixNano(),
		},
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, cbs := range submits {
		si := &submitInfo{}
		for _, cb := range cbs {
			st, ok := t.cbStates[cb]
			if !ok || st.endSlot == nil {
				continue
			}
			si.commandBuffers = append(si.commandBuffers, &submittedCommandBuffer{
				beginSlot: st.beginSlot,
				endSlot:   *st.endSlot,
			})
			st.beginSlot = nil
			st.endSlot = nil
		}
		sub.submitInfos = append(sub.submitInfos, si)
	}

	return sub
}

// PersistDebugMarkersOnSubmit runs after the driver call. submission may
// be nil if PersistCommandBuffersOnSubmit returned nil (capture was not
// active at submit time); the marker stack must still be drained.
func (t *Tracker) PersistDebugMarkersOnSubmit(queue handle.Queue, submits [][]handle.CommandBuffer, submission *Submission) {
	device := t.queues.DeviceOf(queue)

	if submission != nil {
		submission.meta.PostSubmissionCPUTimestampNs = time.Now().UnixNano()
	}

	var resetSlots []uint32

	t.mu.Lock()
	stack := t.markerStacks[queue]
	for _, cbs := range submits {
		for _, cb := range cbs {
			st, ok := t.cbStates[cb]
			if !ok {
				continue
			}
			for _, m := range st.markers {
				switch m.kind {
				case beginMarkerKind:
					entry := &markerStackEntry{label: m.label, color: m.color, depth: uint32(len(stack)), cutOff: m.cutOff}
					if submission != nil && m.slot != nil {
						submission.numBeginMarkers++
						entry.beginSlot = m.slot
						metaCopy := submission.meta
						entry.beginMeta = &metaCopy
					}
					stack = append(stack, entry)

				case endMarkerKind:
					if len(stack) == 0 {
						continue
					}
					popped := stack[len(stack)-1]
					stack = stack[:len(stack)-1]

					switch {
					case popped.beginSlot != nil && submission == nil:
						resetSlots = append(resetSlots, *popped.beginSlot)
					case popped.cutOff && m.slot != nil:
						resetSlots = append(resetSlots, *m.slot)
					case submission != nil && m.slot != nil:
						submission.completedMarkers = append(submission.completedMarkers, &submittedMarker{
							label:     popped.label,
							color:     popped.color,
							depth:     popped.depth,
							beginSlot: popped.beginSlot,
							beginMeta: popped.beginMeta,
							endSlot:   *m.slot,
						})
					}
				}
			}
			delete(t.cbStates, cb)
		}
	}
	t.markerStacks[queue] = stack
	if submission != nil {
		t.queueSubmissions[queue] = append(t.queueSubmissions[queue], submission)
	}
	t.mu.Unlock()

	if len(resetSlots) > 0 {
		t.pool.MarkQuerySlotsForReset(device, resetSlots)
	}
}

// --- 4.4.4 Completion -----------------------------------------------------

// CompleteSubmits polls for submissions whose terminal timestamp is
// readable, resolves their timestamps, emits events for the fully
// resolved ones in submission order, and returns slots to the pool.
func (t *Tracker) CompleteSubmits(device handle.Device) {
	physical := t.devices.GetPhysicalDeviceOf(device)
	period := t.devices.GetPhysicalDeviceProperties(physical).TimestampPeriod

	completable := t.pullCompletedSubmissions(device)
	sort.Slice(completable, func(i, j int) bool {
		return completable[i].meta.PreSubmissionCPUTimestampNs < completable[j].meta.PreSubmissionCPUTimestampNs
	})

	var doneReadingSlots []uint32
	var toEmit []*Submission
	var toReEnqueue []*Submission

	for i, sub := range completable {
		slots, resolved := t.resolveSubmission(device, sub, period)
		doneReadingSlots = append(doneReadingSlots, slots...)
		if resolved {
			toEmit = append(toEmit, sub)
			continue
		}
		toReEnqueue = append(toReEnqueue, completable[i:]...)
		break
	}

	if len(toReEnqueue) > 0 {
		byQueue := make(map[handle.Queue][]*Submission)
		for _, sub := range toReEnqueue {
			byQueue[sub.queue] = append(byQueue[sub.queue], sub)
		}
		t.mu.Lock()
		for q, subs := range byQueue {
			t.queueSubmissions[q] = append(subs, t.queueSubmissions[q]...)
		}
		t.mu.Unlock()
		for range toReEnqueue {
			t.metrics.RecordSubmissionDroppedNotReady()
		}
	}

	for _, sub := range toEmit {
		t.emit(sub)
		t.metrics.RecordSubmissionEmitted()
		t.metrics.RecordCompletionLatency(float64(time.Now().UnixNano()-sub.meta.PreSubmissionCPUTimestampNs) / 1e9)
	}

	if len(doneReadingSlots) > 0 {
		t.pool.MarkQuerySlotsDoneReading(device, doneReadingSlots)
	}
}

func (t *Tracker) pullCompletedSubmissions(device handle.Device) []*Submission {
	poolHandle := t.pool.QueryPoolHandle(device)

	t.mu.Lock()
	defer t.mu.Unlock()

	var completable []*Submission
	for queue, subs := range t.queueSubmissions {
		if t.queues.DeviceOf(queue) != device {
			continue
		}

		var remaining []*Submission
		blocked := false
		for _, sub := range subs {
			if blocked {
				remaining = append(remaining, sub)
				continue
			}

			terminalSlot, hasCommandBuffers := terminalSlotOf(sub)
			if !hasCommandBuffers {
				continue // empty submissions are dropped immediately
			}

			if _, res := t.drv.GetQueryPoolResults(device, poolHandle, terminalSlot, driver.QueryResult64Bit); res == driver.Success {
				completable = append(completable, sub)
			} else {
				remaining = append(remaining, sub)
				blocked = true
			}
		}
		t.queueSubmissions[queue] = remaining
	}
	return completable
}

func terminalSlotOf(sub *Submission) (uint32, bool) {
	for i := len(sub.submitInfos) - 1; i >= 0; i-- {
		cbs := sub.submitInfos[i].commandBuffers
		if len(cbs) == 0 {
			continue
		}
		return cbs[len(cbs)-1].endSlot, true
	}
	return 0, false
}

// resolveSubmission attempts to resolve every still-unresolved timestamp
// field in sub. It returns the set of slots that were successfully
// queried this call (and so can be handed back to the pool) regardless of
// whether the submission as a whole fully resolved.
func (t *Tracker) resolveSubmission(device handle.Device, sub *Submission, period float32) (doneReadingSlots []uint32, resolved bool) {
	poolHandle := t.pool.QueryPoolHandle(device)

	resolve := func(slot uint32) (uint64, bool) {
		raw, res := t.drv.GetQueryPoolResults(device, poolHandle, slot, driver.QueryResult64Bit)
		if res != driver.Success {
			return 0, false
		}
		return uint64(math.Round(float64(raw) * float64(period))), true
	}

	for _, si := range sub.submitInfos {
		for _, cb := range si.commandBuffers {
			if cb.beginSlot != nil && cb.beginNs == nil {
				ns, ok := resolve(*cb.beginSlot)
				if !ok {
					return doneReadingSlots, false
				}
				cb.beginNs = &ns
				doneReadingSlots = append(doneReadingSlots, *cb.beginSlot)
			}
			if cb.endNs == nil {
				ns, ok := resolve(cb.endSlot)
				if !ok {
					return doneReadingSlots, false
				}
				cb.endNs = &ns
				doneReadingSlots = append(doneReadingSlots, cb.endSlot)
			}
		}
	}

	for _, m := range sub.completedMarkers {
		if m.beginSlot != nil && m.beginNs == nil {
			ns, ok := resolve(*m.beginSlot)
			if !ok {
				return doneReadingSlots, false
			}
			m.beginNs = &ns
			doneReadingSlots = append(doneReadingSlots, *m.beginSlot)
		}
		if m.endNs == nil {
			ns, ok := resolve(m.endSlot)
			if !ok {
				return doneReadingSlots, false
			}
			m.endNs = &ns
			doneReadingSlots = append(doneReadingSlots, m.endSlot)
		}
	}

	return doneReadingSlots, true
}

func (t *Tracker) emit(sub *Submission) {
	event := producer.GpuQueueSubmission{
		Meta:            sub.meta,
		NumBeginMarkers: sub.numBeginMarkers,
	}

	for _, si := range sub.submitInfos {
		psi := producer.SubmitInfo{}
		for _, cb := range si.commandBuffers {
			psi.CommandBuffers = append(psi.CommandBuffers, producer.CommandBufferTimestamps{
				BeginGpuTimestampNs: cb.beginNs,
				EndGpuTimestampNs:   *cb.endNs,
			})
		}
		event.SubmitInfos = append(event.SubmitInfos, psi)
	}

	for _, m := range sub.completedMarkers {
		cm := producer.CompletedMarker{
			TextKey:           t.producer().InternStringIfNecessaryAndGetKey(m.label),
			Color:             m.color,
			Depth:             m.depth,
			EndGpuTimestampNs: *m.endNs,
		}
		if m.beginMeta != nil && m.beginNs != nil {
			cm.BeginMarker = &producer.BeginMarkerInfo{Meta: *m.beginMeta, GpuTimestampNs: *m.beginNs}
		}
		event.CompletedMarkers = append(event.CompletedMarkers, cm)
	}

	t.producer().EnqueueCaptureEvent(producer.Event{Submission: &event})
}

// --- 4.4.5 Capture lifecycle callbacks -------------------------------

// OnCaptureStart implements producer.CaptureStatusListener.
func (t *Tracker) OnCaptureStart(opts producer.Options) {
	t.SetMaxLocalMarkerDepthPerCommandBuffer(opts.MaxLocalMarkerDepthPerCommandBuffer)
}

// OnCaptureStop implements producer.CaptureStatusListener. In-flight slots
// are left untouched; future IsCapturing() queries return false, so new
// timestamp writes simply stop. Submissions already in flight complete
// naturally.
func (t *Tracker) OnCaptureStop() {}

// OnCaptureFinished implements producer.CaptureStatusListener. It sweeps
// every live CommandBufferState and marks any slot it still owns as
// done-reading, so a command buffer that never gets submitted again does
// not orphan its slots; the reset-pair arrives on its next reset/untrack.
func (t *Tracker) OnCaptureFinished() {
	t.mu.Lock()
	bySlotDevice := make(map[handle.Device][]uint32)
	for cb, st := range t.cbStates {
		slots := st.referencedSlots()
		if len(slots) == 0 {
			continue
		}
		device := t.cbToDevice[cb]
		bySlotDevice[device] = append(bySlotDevice[device], slots...)
	}
	t.mu.Unlock()

	for device, slots := range bySlotDevice {
		t.pool.MarkQuerySlotsDoneReading(device, slots)
	}
}

// SetMaxLocalMarkerDepthPerCommandBuffer sets the marker-depth limit
// directly, for test ergonomics in addition to the OnCaptureStart path.
func (t *Tracker) SetMaxLocalMarkerDepthPerCommandBuffer(depth uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maxLocalMarkerDepth = depth
}

// SetProducer swaps the producer the tracker reports capture events to
// and queries for capture state. The caller is responsible for also
// calling the new producer's SetCaptureStatusListener(t) and detaching
// the old one — Controller.SetProducer does both atomically.
func (t *Tracker) SetProducer(p producer.Producer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prod = p
}

// producer returns the current producer under the tracker lock, so a
// concurrent SetProducer can never be observed mid-swap.
func (t *Tracker) producer() producer.Producer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.prod
}

var _ producer.CaptureStatusListener = (*Tracker)(nil)
