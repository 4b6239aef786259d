package watcher

import (
	"errors"
	"testing"
	"time"

	"strzcam.com/uc3dview/producer"
	"strzcam.com/uc3dview/segment"
)

func testConfig(t *testing.T) segment.Config {
	cfg := segment.DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.RetryDelay = time.Millisecond
	cfg.CloseRetry = time.Millisecond
	return cfg
}

func makeCamera(t *testing.T, cfg segment.Config, index, width, height uint32) *producer.FrameWriter {
	fw, err := producer.CreateFrame(cfg, cfg.FrameName(index), width, height, width*3, 2)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { fw.Close() })
	gw, err := producer.CreateGeometry(cfg, cfg.GeometryName(index), 10, width, height)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { gw.Close() })
	return fw
}

func tickUntil(t *testing.T, c *Coordinator, want State) {
	deadline := time.Now().Add(2 * time.Second)
	for c.State() != want {
		if err := c.Tick(); err != nil {
			t.Fatal("tick failed:", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("never reached %v, stuck in %v", want, c.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConnectBothChannels(t *testing.T) {
	cfg := testConfig(t)
	makeCamera(t, cfg, 0, 4, 4)
	c := NewCoordinator(cfg)
	defer c.Close()

	if c.State() != StateDisconnected {
		t.Fatal("new coordinator must start disconnected")
	}
	c.Switch(0)
	if c.State() != StateConnecting {
		t.Fatal("switch with nothing open must go straight to connecting")
	}
	tickUntil(t, c, StateConnected)

	r := c.FrameReader()
	if r == nil || r.Width() != 4 || r.Height() != 4 {
		t.Error("frame header not cached after connect")
	}
}

func TestConnectWaitsForMissingSegments(t *testing.T) {
	cfg := testConfig(t)
	c := NewCoordinator(cfg)
	defer c.Close()

	c.Switch(3)
	for i := 0; i < 20; i++ {
		if err := c.Tick(); err != nil {
			t.Fatal("a missing segment must never be an error:", err)
		}
		time.Sleep(time.Millisecond)
	}
	if c.State() != StateConnecting {
		t.Errorf("expected to stay connecting, got %v", c.State())
	}
	// Polls during the window skip the tick instead of erroring.
	if _, _, ok := c.PollFrame(); ok {
		t.Error("poll must report not ready while connecting")
	}
}

func TestGeometryHalfMissingSkipsTick(t *testing.T) {
	cfg := testConfig(t)
	// Frame exists, geometry does not: the switch halves are not atomic.
	fw, err := producer.CreateFrame(cfg, cfg.FrameName(0), 4, 4, 12, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer fw.Close()

	c := NewCoordinator(cfg)
	defer c.Close()
	c.Switch(0)
	for i := 0; i < 20; i++ {
		if err := c.Tick(); err != nil {
			t.Fatal(err)
		}
		time.Sleep(time.Millisecond)
	}
	if c.State() != StateConnecting {
		t.Fatalf("geometry missing must hold connecting, got %v", c.State())
	}
	if _, _, _, ok := c.PollGeometry(); ok {
		t.Error("geometry poll must skip the tick")
	}
	// The frame half may already serve frames.
	fw.Publish(make([]byte, 4*12))
	if _, _, ok := c.PollFrame(); !ok {
		t.Error("frame half should be readable while geometry lags")
	}
}

func TestSwitchDefersCloseUntilViewReleased(t *testing.T) {
	cfg := testConfig(t)
	fw := makeCamera(t, cfg, 0, 4, 4)
	makeCamera(t, cfg, 1, 8, 2)

	c := NewCoordinator(cfg)
	defer c.Close()
	c.Switch(0)
	tickUntil(t, c, StateConnected)

	if err := fw.Publish(make([]byte, 4*12)); err != nil {
		t.Fatal(err)
	}
	view, _, ok := c.PollFrame()
	if !ok {
		t.Fatal("expected a frame")
	}

	c.Switch(1)
	// The borrowed view pins the old frame channel open.
	for i := 0; i < 5; i++ {
		if err := c.Tick(); err != nil {
			t.Fatal(err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if c.Pending() == 0 {
		t.Fatal("close must be deferred while the view is live")
	}
	if !view.Valid() {
		t.Fatal("deferred close must not invalidate the live view")
	}

	view.Release()
	tickUntil(t, c, StateConnected)
	if c.Pending() != 0 {
		t.Error("released channel must eventually close")
	}
	r := c.FrameReader()
	if r == nil || r.Width() != 8 || r.Height() != 2 {
		t.Error("new camera must expose its own dimensions, not the old ones")
	}
	if view.Valid() {
		t.Error("old view must be stale after the switch completes")
	}
}

func TestCorruptSegmentPropagates(t *testing.T) {
	cfg := testConfig(t)
	makeCamera(t, cfg, 0, 4, 4)
	// Stomp the frame magic.
	path := cfg.Path(cfg.FrameName(0))
	region, err := segment.OpenRegion(path, true)
	if err != nil {
		t.Fatal(err)
	}
	copy(region.Bytes()[0:4], []byte{1, 2, 3, 4})
	region.Close()

	c := NewCoordinator(cfg)
	defer c.Close()
	c.Switch(0)
	var got error
	for i := 0; i < 20 && got == nil; i++ {
		got = c.Tick()
		time.Sleep(time.Millisecond)
	}
	if !errors.Is(got, segment.ErrCorrupt) {
		t.Errorf("expected ErrCorrupt to propagate, got %v", got)
	}
}

func TestWatcherWakesConnectBeforeRetryDelay(t *testing.T) {
	cfg := testConfig(t)
	cfg.RetryDelay = time.Hour // only the fsnotify wake can connect us
	c := NewCoordinator(cfg)
	defer c.Close()

	c.Switch(0)
	if err := c.Tick(); err != nil { // burns the one timed attempt
		t.Fatal(err)
	}
	makeCamera(t, cfg, 0, 4, 4)

	deadline := time.Now().Add(2 * time.Second)
	for c.State() != StateConnected {
		if err := c.Tick(); err != nil {
			t.Fatal(err)
		}
		if time.Now().After(deadline) {
			t.Fatal("segment creation did not wake the connect retry")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCloseBusyThenClean(t *testing.T) {
	cfg := testConfig(t)
	fw := makeCamera(t, cfg, 0, 4, 4)
	c := NewCoordinator(cfg)
	c.Switch(0)
	tickUntil(t, c, StateConnected)

	if err := fw.Publish(make([]byte, 4*12)); err != nil {
		t.Fatal(err)
	}
	view, _, ok := c.PollFrame()
	if !ok {
		t.Fatal("expected a frame")
	}
	if err := c.Close(); !errors.Is(err, segment.ErrBusy) {
		t.Errorf("close with a live view must be ErrBusy, got %v", err)
	}
	view.Release()
	time.Sleep(2 * time.Millisecond)
	if err := c.Close(); err != nil {
		t.Errorf("close after release failed: %v", err)
	}
	if c.State() != StateDisconnected {
		t.Errorf("expected disconnected, got %v", c.State())
	}
}
