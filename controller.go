// Package gpuspy wires the submission tracker's internal components
// into one process-wide object an outer passthrough layer drives: a
// dispatch table, the device/queue registries, a timer query pool, the
// submission tracker itself, and a pluggable producer it reports capture
// events to.
package gpuspy

import (
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/gpuspy/submission-tracker/internal/dispatch"
	"github.com/gpuspy/submission-tracker/internal/driver"
	"github.com/gpuspy/submission-tracker/internal/handle"
	"github.com/gpuspy/submission-tracker/internal/logging"
	"github.com/gpuspy/submission-tracker/internal/producer"
	"github.com/gpuspy/submission-tracker/internal/querypool"
	"github.com/gpuspy/submission-tracker/internal/registry"
	"github.com/gpuspy/submission-tracker/internal/tracker"
)

// PIDFileEnvVar names the environment variable Controller bootstrap checks
// for a path to dump this process's PID to, grounded on the original
// layer's DumpProcessIdIfNecessary (VulkanLayerController.h), which a test
// harness polls to learn a freshly-launched process's PID before it can
// otherwise be discovered. Unset or empty skips the dump entirely.
const PIDFileEnvVar = "GPUSPY_PID_FILE"

// Config configures a Controller.
type Config struct {
	// QueryPoolCapacity is the number of timer query slots reserved per
	// device. Zero uses querypool.DefaultPoolCapacity.
	QueryPoolCapacity uint32

	// Logger receives warnings (e.g. timer query pool exhaustion). Nil
	// disables logging.
	Logger *logging.Logger

	// Metrics receives operational counters. Nil disables instrumentation.
	Metrics tracker.MetricsRecorder
}

// Controller is the single process-wide object this module hands to an
// outer passthrough layer. It owns no goroutines of its own: every entry
// point is called synchronously from whatever thread intercepted the
// corresponding driver call.
type Controller struct {
	mu sync.Mutex

	Dispatch *dispatch.Table
	Devices  *registry.DeviceManager
	Queues   *registry.QueueManager
	Pool     *querypool.Manager
	Tracker  *tracker.Tracker

	prod producer.Producer
}

// NewController creates a Controller driving drv. The returned Controller
// has no producer attached; call SetProducer before starting a capture.
// Bootstrap fails (ErrCodeBootstrap) only if PIDFileEnvVar is set and the
// PID file cannot be written.
func NewController(cfg Config, drv driver.Driver) (*Controller, error) {
	pool := querypool.NewManager(drv)
	devices := registry.NewDeviceManager(drv)
	queues := registry.NewQueueManager()

	noopProd := producer.NewFakeProducer()
	t := tracker.New(drv, pool, devices, queues, noopProd, cfg.Logger, cfg.Metrics)

	c := &Controller{
		Dispatch: dispatch.NewTable(),
		Devices:  devices,
		Queues:   queues,
		Pool:     pool,
		Tracker:  t,
		prod:     noopProd,
	}

	if err := c.dumpProcessIDIfNecessary(cfg.Logger); err != nil {
		return nil, err
	}
	return c, nil
}

// dumpProcessIDIfNecessary writes this process's PID to the file named by
// the PIDFileEnvVar environment variable, if set. A no-op otherwise.
func (c *Controller) dumpProcessIDIfNecessary(logger *logging.Logger) error {
	pidFile := os.Getenv(PIDFileEnvVar)
	if pidFile == "" {
		return nil
	}

	pid := os.Getpid()
	if logger != nil {
		logger.Info("writing process id", "pid", pid, "path", pidFile)
	}

	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return NewError("dumpProcessIDIfNecessary", ErrCodeBootstrap,
			fmt.Sprintf("writing pid to %q: %v", pidFile, err))
	}
	return nil
}

// SetProducer attaches p as the destination for capture events and
// registers the tracker as p's CaptureStatusListener, replacing whatever
// producer (and therefore listener) was previously attached. Breaking the
// old producer's listener reference first avoids a stale producer
// driving tracker state after reassignment.
func (c *Controller) SetProducer(p producer.Producer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.prod != nil {
		c.prod.SetCaptureStatusListener(nil)
	}
	c.prod = p
	c.Tracker.SetProducer(p)
	p.SetCaptureStatusListener(c.Tracker)
}

// Shutdown detaches the current producer's listener, leaving the
// Controller's other state intact for inspection.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.prod != nil {
		c.prod.SetCaptureStatusListener(nil)
	}
}

// queryPoolConfig returns a pool configuration with cfg's configured
// capacity, or querypool.DefaultConfig() if the capacity is unset.
func (cfg Config) queryPoolConfig() *querypool.Config {
	if cfg.QueryPoolCapacity == 0 {
		return querypool.DefaultConfig()
	}
	return &querypool.Config{Capacity: cfg.QueryPoolCapacity}
}

// InitializeDevice registers logical as backed by physical and allocates
// its timer query pool, per cfg. Call once per logical device creation.
func (c *Controller) InitializeDevice(cfg Config, physical handle.PhysicalDevice, logical handle.Device) {
	c.Devices.TrackLogical(physical, logical)
	c.Pool.Initialize(logical, cfg.queryPoolConfig())
}

// DestroyDevice is the inverse of InitializeDevice.
func (c *Controller) DestroyDevice(logical handle.Device) {
	c.Pool.Destroy(logical)
	c.Devices.UntrackLogical(logical)
}
