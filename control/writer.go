package control

import (
	"fmt"

	"strzcam.com/uc3dview/segment"
)

// Writer owns the consumer-to-producer command slot. Exactly one process
// writes it, so no seqlock guards the record: the producer treats control
// values as a latest-pose cache that the next write corrects, and a torn
// read on its side is accepted by design.
type Writer struct {
	cfg    segment.Config
	region *segment.Region
	seq    uint64

	Pause      bool
	TimeScale  float32
	Pos        [3]float32
	Look       [3]float32
	Up         [3]float32
	DebugFlags uint32
}

func NewWriter(cfg segment.Config) *Writer {
	return &Writer{
		cfg:       cfg,
		TimeScale: 1.0,
		Look:      [3]float32{0, 0, -1},
		Up:        [3]float32{0, 1, 0},
	}
}

// Connect maps the producer-created control segment read-write. The
// consumer never creates or resizes it.
func (w *Writer) Connect() error {
	if w.region != nil {
		return nil
	}
	region, err := segment.OpenRegion(w.cfg.ControlPath(), true)
	if err != nil {
		return err
	}
	if region.Size() < segment.ControlRecordSize {
		region.Close()
		return fmt.Errorf("%s: %w", w.cfg.ControlName, segment.ErrShortRead)
	}
	w.region = region
	return nil
}

func (w *Writer) Connected() bool { return w.region != nil }

// Sequence is the value stamped on the last Write.
func (w *Writer) Sequence() uint64 { return w.seq }

// Write bumps the sequence and bulk-writes the whole record.
func (w *Writer) Write() error {
	if w.region == nil {
		return fmt.Errorf("control: %w", segment.ErrNotReady)
	}
	w.seq++
	segment.EncodeControl(w.region.Bytes(), segment.ControlRecord{
		Seq:        w.seq,
		Pause:      w.Pause,
		TimeScale:  w.TimeScale,
		Pos:        w.Pos,
		Look:       w.Look,
		Up:         w.Up,
		DebugFlags: w.DebugFlags,
	})
	return nil
}

// Close unmaps the slot. Idempotent.
func (w *Writer) Close() error {
	if w.region == nil {
		return nil
	}
	err := w.region.Close()
	w.region = nil
	return err
}
