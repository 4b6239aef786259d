package frame

import (
	"fmt"
	"time"

	"strzcam.com/uc3dview/segment"
)

// Reader consumes one camera's multi-buffered RGB image stream. The producer
// rotates writes across buffer_count buffers and flips active_index when a
// buffer completes; each buffer is guarded by its own seqlock counter.
type Reader struct {
	cfg     segment.Config
	name    string
	region  *segment.Region
	hdr     segment.FrameHeader
	lastSeq uint64
	borrows segment.Borrows
}

func NewReader(cfg segment.Config, name string) *Reader {
	return &Reader{cfg: cfg, name: name}
}

// Connect maps the frame segment and validates magic, version, pixel format
// and declared sizes. segment.ErrNotReady means try again next tick.
func (r *Reader) Connect() error {
	if r.region != nil {
		return nil
	}
	region, err := segment.OpenRegion(r.cfg.Path(r.name), false)
	if err != nil {
		return err
	}
	hdr, err := segment.ParseFrameHeader(region.Bytes())
	if err != nil {
		region.Close()
		return fmt.Errorf("%s: %w", r.name, err)
	}
	if hdr.Format != segment.FormatRGB888 {
		region.Close()
		return fmt.Errorf("%s: pixel format %d: %w", r.name, hdr.Format, segment.ErrUnsupported)
	}
	r.hdr = hdr
	r.region = region
	return nil
}

func (r *Reader) Connected() bool      { return r.region != nil }
func (r *Reader) Name() string         { return r.name }
func (r *Reader) Width() uint32        { return r.hdr.Width }
func (r *Reader) Height() uint32       { return r.hdr.Height }
func (r *Reader) Stride() uint32       { return r.hdr.Stride }
func (r *Reader) Buffers() uint32      { return r.hdr.BufferCount }
func (r *Reader) PayloadSize() int     { return r.hdr.PayloadSize() }
func (r *Reader) LastSequence() uint64 { return r.lastSeq }

// Latest performs the bounded-spin seqlock read: locate the active buffer,
// read its sequence, accept the payload only if the sequence is odd and
// unchanged across the payload window. Exhausting the spin budget is not an
// error, just "no fresh frame this tick"; the last stable sequence is
// returned either way.
func (r *Reader) Latest(maxSpins int, delay time.Duration) (*segment.View, uint64, bool) {
	if r.region == nil {
		return nil, r.lastSeq, false
	}
	mm := r.region.Bytes()
	for spins := 0; spins < maxSpins; spins++ {
		if view, seq, ok := r.tryRead(mm, delay); ok {
			return view, seq, true
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}
	return nil, r.lastSeq, false
}

// LatestFast performs exactly one sequence check and never sleeps. An even
// sequence (writer mid-update) returns not-ready immediately; callers at
// high poll rates prefer skipping a tick over waiting.
func (r *Reader) LatestFast() (*segment.View, uint64, bool) {
	if r.region == nil {
		return nil, r.lastSeq, false
	}
	return r.tryRead(r.region.Bytes(), 0)
}

func (r *Reader) tryRead(mm []byte, delay time.Duration) (*segment.View, uint64, bool) {
	// active_index is re-read on every attempt; it is not seqlocked and the
	// producer may flip it at any moment.
	active := segment.FrameActiveIndex(mm)
	if active >= r.hdr.BufferCount {
		return nil, r.lastSeq, false
	}
	base := r.hdr.BufferBase(active)
	s1 := segment.Sequence(mm, base)
	if s1&1 == 0 {
		return nil, r.lastSeq, false
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	s2 := segment.Sequence(mm, base)
	if s1 != s2 {
		return nil, r.lastSeq, false
	}
	off := base + segment.SequenceSize
	r.lastSeq = s1
	return r.borrows.View(mm[off : off+r.hdr.PayloadSize()]), s1, true
}

// Close unmaps the segment. Fails with segment.ErrBusy while any borrowed
// view is live; on success every view handed out so far goes stale.
func (r *Reader) Close() error {
	if r.region == nil {
		return nil
	}
	if n := r.borrows.Live(); n > 0 {
		return fmt.Errorf("%s: %d live view(s): %w", r.name, n, segment.ErrBusy)
	}
	r.borrows.Invalidate()
	err := r.region.Close()
	r.region = nil
	return err
}
