// Command gpuspy-demo wires a Controller to a FakeDriver and an
// InProcessProducer, runs a short scripted capture exercising the
// single-command-buffer and nested-debug-marker scenarios, and prints
// every event the producer emits. It stands in for a real passthrough
// layer intercepting actual driver calls.
package main

import (
	"flag"
	"fmt"
	"os"

	gpuspy "github.com/gpuspy/submission-tracker"
	"github.com/gpuspy/submission-tracker/internal/driver"
	"github.com/gpuspy/submission-tracker/internal/handle"
	"github.com/gpuspy/submission-tracker/internal/logging"
	"github.com/gpuspy/submission-tracker/internal/producer"
)

func main() {
	var (
		verbose     = flag.Bool("v", false, "Verbose output")
		markerDepth = flag.Uint("marker-depth", 8, "Max local debug marker depth per command buffer")
		eventBuffer = flag.Int("event-buffer", 64, "Capacity of the in-process event channel")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)

	drv := driver.NewFakeDriver()
	ctrl, err := gpuspy.NewController(gpuspy.Config{Logger: logger}, drv)
	if err != nil {
		logger.Error("failed to create controller", "error", err)
		os.Exit(1)
	}

	physical := handle.PhysicalDevice(0x1)
	device := handle.Device(drv.NewHandleUnder(handle.DispatchKey(0x1)))
	queue := handle.Queue(drv.NewHandleUnder(handle.DispatchKey(0x1)))

	ctrl.InitializeDevice(gpuspy.Config{}, physical, device)
	ctrl.Queues.Track(queue, device)

	prod := producer.NewInProcessProducer(*eventBuffer)
	ctrl.SetProducer(prod)

	prod.StartCapture(producer.Options{MaxLocalMarkerDepthPerCommandBuffer: uint32(*markerDepth)})
	logger.Info("capture started", "marker_depth", *markerDepth)

	pool := handle.CommandPool(0x1)
	cb := handle.CommandBuffer(drv.NewHandleUnder(handle.DispatchKey(0x1)))
	ctrl.Tracker.TrackCommandBuffers(device, pool, []handle.CommandBuffer{cb})

	ctrl.Tracker.MarkCommandBufferBegin(cb)
	ctrl.Tracker.MarkDebugMarkerBegin(cb, "Frame", &driver.Color{Red: 0.2, Green: 0.6, Blue: 1.0, Alpha: 1})
	ctrl.Tracker.MarkDebugMarkerBegin(cb, "DrawMesh", &driver.Color{Red: 1, Green: 0, Blue: 0, Alpha: 1})
	ctrl.Tracker.MarkDebugMarkerEnd(cb)
	ctrl.Tracker.MarkDebugMarkerEnd(cb)
	ctrl.Tracker.MarkCommandBufferEnd(cb)

	submits := [][]handle.CommandBuffer{{cb}}
	submission := ctrl.Tracker.PersistCommandBuffersOnSubmit(queue, submits)
	ctrl.Tracker.PersistDebugMarkersOnSubmit(queue, submits, submission)
	drv.QueueSubmit(queue, 1)

	ctrl.Tracker.CompleteSubmits(device)

	prod.StopCapture()
	prod.FinishCapture()
	drainEvents(prod)

	ctrl.Shutdown()
	ctrl.DestroyDevice(device)

	logger.Info("demo complete")
}

// drainEvents prints every event already buffered on prod's channel.
// Safe to call once capture has stopped: no new events can be enqueued.
func drainEvents(prod *producer.InProcessProducer) {
	for {
		select {
		case ev := <-prod.Events():
			printEvent(ev)
		default:
			return
		}
	}
}

func printEvent(ev producer.Event) {
	switch {
	case ev.InternedString != nil:
		fmt.Printf("intern key=%#x text=%q\n", ev.InternedString.Key, ev.InternedString.Intern)
	case ev.Submission != nil:
		s := ev.Submission
		fmt.Printf("submission thread=%d begin_markers=%d completed_markers=%d\n",
			s.Meta.ThreadID, s.NumBeginMarkers, len(s.CompletedMarkers))
		for i, si := range s.SubmitInfos {
			for j, cbts := range si.CommandBuffers {
				begin := "nil"
				if cbts.BeginGpuTimestampNs != nil {
					begin = fmt.Sprintf("%d", *cbts.BeginGpuTimestampNs)
				}
				fmt.Printf("  submit[%d].cb[%d] begin=%s end=%d\n", i, j, begin, cbts.EndGpuTimestampNs)
			}
		}
		for _, m := range s.CompletedMarkers {
			fmt.Printf("  marker key=%#x depth=%d end=%d has_begin=%v\n",
				m.TextKey, m.Depth, m.EndGpuTimestampNs, m.BeginMarker != nil)
		}
	}
}
