package driver

import (
	"testing"

	"github.com/gpuspy/submission-tracker/internal/handle"
)

func TestFakeDriverQueryPoolLifecycle(t *testing.T) {
	d := NewFakeDriver()
	device := handle.Device(0xAAAA0001)

	pool, res := d.CreateQueryPool(device, 4)
	if res != Success {
		t.Fatalf("CreateQueryPool: got %s, want Success", res)
	}

	d.CmdWriteTimestamp(handle.CommandBuffer(1), TopOfPipe, pool, 0)
	if val, res := d.GetQueryPoolResults(device, pool, 0, QueryResult64Bit); res != Success || val != 0 {
		t.Errorf("GetQueryPoolResults = (%d, %s), want (0, Success)", val, res)
	}

	d.DestroyQueryPool(device, pool)
	if _, res := d.GetQueryPoolResults(device, pool, 0, QueryResult64Bit); res != Error {
		t.Errorf("expected Error after DestroyQueryPool, got %s", res)
	}
}

func TestFakeDriverStagedNotReady(t *testing.T) {
	d := NewFakeDriver()
	device := handle.Device(0xBBBB0001)
	pool, _ := d.CreateQueryPool(device, 4)

	d.CmdWriteTimestamp(handle.CommandBuffer(1), BottomOfPipe, pool, 2)
	d.StageQueryResult(pool, 2, 2, 42)

	for i := 0; i < 2; i++ {
		if _, res := d.GetQueryPoolResults(device, pool, 2, QueryResult64Bit); res != NotReady {
			t.Fatalf("call %d: expected NotReady, got %s", i, res)
		}
	}
	if val, res := d.GetQueryPoolResults(device, pool, 2, QueryResult64Bit); res != Success || val != 42 {
		t.Errorf("expected (42, Success), got (%d, %s)", val, res)
	}
}

func TestFakeDriverCallCounts(t *testing.T) {
	d := NewFakeDriver()
	device := handle.Device(0xCCCC0001)
	pool, _ := d.CreateQueryPool(device, 4)
	d.ResetQueryPoolEXT(device, pool, 0, 4)

	if got := d.Calls["CreateQueryPool"]; got != 1 {
		t.Errorf("CreateQueryPool call count = %d, want 1", got)
	}
	if got := d.Calls["ResetQueryPoolEXT"]; got != 1 {
		t.Errorf("ResetQueryPoolEXT call count = %d, want 1", got)
	}
}
