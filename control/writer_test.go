package control

import (
	"errors"
	"testing"

	"strzcam.com/uc3dview/producer"
	"strzcam.com/uc3dview/segment"
)

func testConfig(t *testing.T) segment.Config {
	cfg := segment.DefaultConfig()
	cfg.Dir = t.TempDir()
	return cfg
}

func TestConnectMissing(t *testing.T) {
	w := NewWriter(testConfig(t))
	if err := w.Connect(); !errors.Is(err, segment.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestWriteBeforeConnect(t *testing.T) {
	w := NewWriter(testConfig(t))
	if err := w.Write(); !errors.Is(err, segment.ErrNotReady) {
		t.Errorf("expected ErrNotReady, got %v", err)
	}
}

func TestDefaults(t *testing.T) {
	w := NewWriter(testConfig(t))
	if w.Pause || w.TimeScale != 1.0 {
		t.Error("defaults: running at time scale 1.0")
	}
	if w.Look != [3]float32{0, 0, -1} || w.Up != [3]float32{0, 1, 0} {
		t.Errorf("default camera basis wrong: look %v up %v", w.Look, w.Up)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	if err := producer.CreateControl(cfg); err != nil {
		t.Fatal(err)
	}
	w := NewWriter(cfg)
	if err := w.Connect(); err != nil {
		t.Fatal("connect failed:", err)
	}
	defer w.Close()

	w.Pause = true
	w.TimeScale = 0.25
	w.Pos = [3]float32{1, 2, 3}
	w.DebugFlags = 7
	if err := w.Write(); err != nil {
		t.Fatal(err)
	}

	r, err := producer.OpenControl(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	rec, err := r.Read()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Seq != 1 {
		t.Errorf("expected sequence 1, got %d", rec.Seq)
	}
	if !rec.Pause || rec.TimeScale != 0.25 || rec.Pos != [3]float32{1, 2, 3} || rec.DebugFlags != 7 {
		t.Errorf("record mismatch: %+v", rec)
	}
}

func TestSequenceStrictlyIncreasing(t *testing.T) {
	cfg := testConfig(t)
	if err := producer.CreateControl(cfg); err != nil {
		t.Fatal(err)
	}
	w := NewWriter(cfg)
	if err := w.Connect(); err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	r, err := producer.OpenControl(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	last := uint64(0)
	for i := 0; i < 5; i++ {
		w.TimeScale = float32(i)
		if err := w.Write(); err != nil {
			t.Fatal(err)
		}
		rec, err := r.Read()
		if err != nil {
			t.Fatal(err)
		}
		if rec.Seq <= last {
			t.Fatalf("sequence must strictly increase: %d after %d", rec.Seq, last)
		}
		last = rec.Seq
	}
	if w.Sequence() != 5 {
		t.Errorf("writer sequence should be 5, got %d", w.Sequence())
	}
}

func TestCloseIdempotent(t *testing.T) {
	cfg := testConfig(t)
	if err := producer.CreateControl(cfg); err != nil {
		t.Fatal(err)
	}
	w := NewWriter(cfg)
	if err := w.Connect(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Error(err)
	}
	if err := w.Close(); err != nil {
		t.Error("second close failed:", err)
	}
}
