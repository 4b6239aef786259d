package producer

import (
	"os"
	"testing"

	"strzcam.com/uc3dview/registry"
	"strzcam.com/uc3dview/segment"
)

func testConfig(t *testing.T) segment.Config {
	cfg := segment.DefaultConfig()
	cfg.Dir = t.TempDir()
	return cfg
}

func TestWriteRegistrySize(t *testing.T) {
	cfg := testConfig(t)
	cams := []registry.Camera{
		{Name: "front", Index: 0, PointCount: 100, Width: 192, Height: 96},
		{Name: "rear", Index: 1, PointCount: 100, Width: 192, Height: 96},
	}
	if err := WriteRegistry(cfg, cams); err != nil {
		t.Fatal(err)
	}
	st, err := os.Stat(cfg.RegistryPath())
	if err != nil {
		t.Fatal(err)
	}
	want := int64(segment.RegistryHeaderSize + 2*segment.CameraDescSize)
	if st.Size() != want {
		t.Errorf("registry file %d bytes, want %d", st.Size(), want)
	}

	r := registry.NewReader(cfg)
	if err := r.Connect(); err != nil {
		t.Fatal("our own registry does not validate:", err)
	}
	defer r.Close()
	got := r.ListCameras()
	if len(got) != 2 || got[0] != cams[0] || got[1] != cams[1] {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestWriteRegistryTruncatesLongName(t *testing.T) {
	cfg := testConfig(t)
	long := "this-name-is-way-longer-than-the-fixed-descriptor-field"
	if err := WriteRegistry(cfg, []registry.Camera{{Name: long}}); err != nil {
		t.Fatal(err)
	}
	r := registry.NewReader(cfg)
	if err := r.Connect(); err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got := r.ListCameras()[0].Name
	if len(got) != segment.CameraNameSize-1 {
		t.Errorf("expected %d-byte name with nul terminator, got %d", segment.CameraNameSize-1, len(got))
	}
	if got != long[:segment.CameraNameSize-1] {
		t.Errorf("name truncated wrong: %q", got)
	}
}

func TestFrameSegmentLayout(t *testing.T) {
	cfg := testConfig(t)
	w, err := CreateFrame(cfg, cfg.FrameName(0), 4, 4, 12, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	st, err := os.Stat(cfg.Path(cfg.FrameName(0)))
	if err != nil {
		t.Fatal(err)
	}
	want := int64(segment.FrameHeaderSize + 3*(8+4*12))
	if st.Size() != want {
		t.Errorf("frame file %d bytes, want %d", st.Size(), want)
	}

	data, err := os.ReadFile(cfg.Path(cfg.FrameName(0)))
	if err != nil {
		t.Fatal(err)
	}
	hdr, err := segment.ParseFrameHeader(data)
	if err != nil {
		t.Fatal("our own frame header does not validate:", err)
	}
	if hdr.BufferCount != 3 || hdr.ActiveIndex != 0 {
		t.Errorf("header wrong: %+v", hdr)
	}
}

func TestPublishSequenceStepping(t *testing.T) {
	cfg := testConfig(t)
	w, err := CreateFrame(cfg, cfg.FrameName(0), 2, 2, 6, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	read := func() (active uint32, seq uint64) {
		data, err := os.ReadFile(cfg.Path(cfg.FrameName(0)))
		if err != nil {
			t.Fatal(err)
		}
		hdr, err := segment.ParseFrameHeader(data)
		if err != nil {
			t.Fatal(err)
		}
		active = segment.FrameActiveIndex(data)
		return active, segment.Sequence(data, hdr.BufferBase(active))
	}

	payload := make([]byte, w.PayloadSize())
	for i := 1; i <= 4; i++ {
		if err := w.Publish(payload); err != nil {
			t.Fatal(err)
		}
		active, seq := read()
		if seq&1 != 1 {
			t.Fatalf("publish %d left an even sequence %d", i, seq)
		}
		if want := uint32(i % 2); active != want {
			t.Fatalf("publish %d: active %d, want %d", i, active, want)
		}
	}
}
