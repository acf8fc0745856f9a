// Package producer defines the boundary between the submission tracker
// and the out-of-process telemetry consumer: the capture lifecycle
// contract, the event shapes handed across it, and a simple in-process
// implementation standing in for the real IPC transport (out of scope
// for this module).
package producer

import (
	"sync"

	"github.com/google/uuid"

	"github.com/gpuspy/submission-tracker/internal/driver"
)

// UnlimitedMarkerDepth disables the local marker-depth cutoff.
const UnlimitedMarkerDepth = ^uint32(0)

// Options carries the parameters a capture starts with.
type Options struct {
	MaxLocalMarkerDepthPerCommandBuffer uint32
}

// CaptureStatusListener is notified of capture lifecycle transitions. The
// submission tracker registers itself as a listener so it can adjust its
// marker-depth limit and sweep in-flight state without racing a capture
// stop against a capture start.
type CaptureStatusListener interface {
	OnCaptureStart(opts Options)
	OnCaptureStop()
	OnCaptureFinished()
}

// InternedString is emitted once per distinct label text per capture; Key
// is the stable hash subsequent events reference the label by.
type InternedString struct {
	Key    uint64
	Intern string
}

// MetaInfo is the CPU-side bookkeeping attached to a submission: which
// thread and process issued it, and when it was issued/returned.
type MetaInfo struct {
	ThreadID                     int32
	ProcessID                    int32
	PreSubmissionCPUTimestampNs  int64
	PostSubmissionCPUTimestampNs int64
}

// CommandBufferTimestamps is one command buffer's resolved begin/end GPU
// timestamps within a submission.
type CommandBufferTimestamps struct {
	BeginGpuTimestampNs *uint64
	EndGpuTimestampNs   uint64
}

// SubmitInfo is one VkSubmitInfo's worth of command buffers.
type SubmitInfo struct {
	CommandBuffers []CommandBufferTimestamps
}

// BeginMarkerInfo is attached to a completed marker when its matching
// begin was itself captured.
type BeginMarkerInfo struct {
	Meta           MetaInfo
	GpuTimestampNs uint64
}

// CompletedMarker is an end-completed debug marker region.
type CompletedMarker struct {
	TextKey           uint64
	Color             *driver.Color
	Depth             uint32
	EndGpuTimestampNs uint64
	BeginMarker       *BeginMarkerInfo
}

// GpuQueueSubmission is the fully resolved event emitted for one
// completed queue submission.
type GpuQueueSubmission struct {
	Meta             MetaInfo
	SubmitInfos      []SubmitInfo
	NumBeginMarkers  uint32
	CompletedMarkers []CompletedMarker
}

// Event is the tagged union of message shapes handed to the producer; the
// idiomatic Go stand-in for a protobuf oneof (see the module's dependency
// notes on why no code-generated protobuf type is used here).
type Event struct {
	InternedString *InternedString
	Submission     *GpuQueueSubmission
}

// Producer is the capture-event sink the submission tracker pushes
// events into and queries for capture state.
type Producer interface {
	IsCapturing() bool
	EnqueueCaptureEvent(e Event) bool
	InternStringIfNecessaryAndGetKey(s string) uint64
	SetCaptureStatusListener(l CaptureStatusListener)
}

// InProcessProducer is a concrete Producer gluing the interface to a
// buffered Go channel a telemetry consumer goroutine can drain, standing
// in for the out-of-process transport the tracker is agnostic to.
type InProcessProducer struct {
	mu sync.Mutex

	capturing   bool
	listener    CaptureStatusListener
	internCache map[string]uint64
	sessionID   uuid.UUID

	events chan Event
}

// NewInProcessProducer creates a producer whose event channel has the
// given buffer size.
func NewInProcessProducer(eventBuffer int) *InProcessProducer {
	return &InProcessProducer{
		internCache: make(map[string]uint64),
		events:      make(chan Event, eventBuffer),
	}
}

// Events returns the channel built events are sent on.
func (p *InProcessProducer) Events() <-chan Event {
	return p.events
}

// SetCaptureStatusListener registers l as the capture lifecycle listener,
// replacing any previous listener.
func (p *InProcessProducer) SetCaptureStatusListener(l CaptureStatusListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

// IsCapturing reports whether a capture is currently active.
func (p *InProcessProducer) IsCapturing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capturing
}

// SessionID returns the UUID stamped on the most recent StartCapture.
func (p *InProcessProducer) SessionID() uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// StartCapture begins a capture: notifies the listener, clears the
// string-intern cache (so every label is re-interned and re-emitted, per
// the round-trip property that a restarted capture must not rely on a
// previous capture's intern cache), then flips IsCapturing to true.
func (p *InProcessProducer) StartCapture(opts Options) {
	p.mu.Lock()
	listener := p.listener
	p.mu.Unlock()

	if listener != nil {
		listener.OnCaptureStart(opts)
	}

	p.mu.Lock()
	p.internCache = make(map[string]uint64)
	p.sessionID = uuid.New()
	p.capturing = true
	p.mu.Unlock()
}

// StopCapture ends new-event acceptance and notifies the listener.
// In-flight driver work already queued is unaffected.
func (p *InProcessProducer) StopCapture() {
	p.mu.Lock()
	p.capturing = false
	listener := p.listener
	p.mu.Unlock()

	if listener != nil {
		listener.OnCaptureStop()
	}
}

// FinishCapture notifies the listener that the event stream has been
// fully drained.
func (p *InProcessProducer) FinishCapture() {
	p.mu.Lock()
	listener := p.listener
	p.mu.Unlock()

	if listener != nil {
		listener.OnCaptureFinished()
	}
}

// InternStringIfNecessaryAndGetKey returns s's stable key, emitting an
// InternedString event the first time s is seen within the current
// capture.
func (p *InProcessProducer) InternStringIfNecessaryAndGetKey(s string) uint64 {
	p.mu.Lock()
	key, seen := p.internCache[s]
	if !seen {
		key = fnvHash(s)
		p.internCache[s] = key
	}
	capturing := p.capturing
	p.mu.Unlock()

	if !seen && capturing {
		p.EnqueueCaptureEvent(Event{InternedString: &InternedString{Key: key, Intern: s}})
	}
	return key
}

// EnqueueCaptureEvent hands e to the consumer channel if a capture is
// active, or silently drops it otherwise — the tracker always builds the
// event and lets the producer decide whether anyone is listening.
func (p *InProcessProducer) EnqueueCaptureEvent(e Event) bool {
	p.mu.Lock()
	capturing := p.capturing
	p.mu.Unlock()

	if !capturing {
		return false
	}

	select {
	case p.events <- e:
		return true
	default:
		return false
	}
}

var _ Producer = (*InProcessProducer)(nil)
