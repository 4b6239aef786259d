package geometry

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"strzcam.com/uc3dview/segment"
)

// Meta carries the fixed per-segment geometry dimensions. Points map 1:1
// onto pixels of the matching frame channel.
type Meta struct {
	PointCount uint32
	Width      uint32
	Height     uint32
}

// Point is one 2D coordinate, two little-endian 32-bit floats on the wire.
type Point struct {
	X float32
	Y float32
}

// Reader consumes a camera's point-coordinate stream. Same seqlock
// discipline as the frame reader but single-buffered: no rotation, one
// sequence counter in the header.
type Reader struct {
	cfg     segment.Config
	name    string
	region  *segment.Region
	hdr     segment.GeometryHeader
	lastSeq uint64
	borrows segment.Borrows
}

func NewReader(cfg segment.Config, name string) *Reader {
	return &Reader{cfg: cfg, name: name}
}

func (r *Reader) Connect() error {
	if r.region != nil {
		return nil
	}
	region, err := segment.OpenRegion(r.cfg.Path(r.name), false)
	if err != nil {
		return err
	}
	hdr, err := segment.ParseGeometryHeader(region.Bytes())
	if err != nil {
		region.Close()
		return fmt.Errorf("%s: %w", r.name, err)
	}
	r.hdr = hdr
	r.region = region
	return nil
}

func (r *Reader) Connected() bool      { return r.region != nil }
func (r *Reader) Name() string         { return r.name }
func (r *Reader) LastSequence() uint64 { return r.lastSeq }

func (r *Reader) Meta() Meta {
	return Meta{PointCount: r.hdr.PointCount, Width: r.hdr.Width, Height: r.hdr.Height}
}

// Latest is the bounded-spin read. Budget exhaustion returns not-ready with
// the last stable sequence, never an error.
func (r *Reader) Latest(maxSpins int, delay time.Duration) (*segment.View, Meta, uint64, bool) {
	if r.region == nil {
		return nil, Meta{}, r.lastSeq, false
	}
	mm := r.region.Bytes()
	for spins := 0; spins < maxSpins; spins++ {
		if view, meta, seq, ok := r.tryRead(mm, delay); ok {
			return view, meta, seq, true
		}
		if delay > 0 {
			time.Sleep(delay)
		}
	}
	return nil, Meta{}, r.lastSeq, false
}

// LatestFast performs one sequence check; an even counter means the writer
// is mid-update and the tick is skipped.
func (r *Reader) LatestFast() (*segment.View, Meta, uint64, bool) {
	if r.region == nil {
		return nil, Meta{}, r.lastSeq, false
	}
	return r.tryRead(r.region.Bytes(), 0)
}

func (r *Reader) tryRead(mm []byte, delay time.Duration) (*segment.View, Meta, uint64, bool) {
	s1 := segment.GeometrySequence(mm)
	if s1&1 == 0 {
		return nil, Meta{}, r.lastSeq, false
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	s2 := segment.GeometrySequence(mm)
	if s1 != s2 {
		return nil, Meta{}, r.lastSeq, false
	}
	off := segment.GeometryHeaderSize
	r.lastSeq = s1
	return r.borrows.View(mm[off : off+r.hdr.PayloadSize()]), r.Meta(), s1, true
}

// Points decodes a borrowed coordinate view into detached Point values,
// bound-checking the payload against the expected count first.
func Points(view *segment.View, meta Meta) ([]Point, error) {
	data := view.Bytes()
	if data == nil {
		return nil, fmt.Errorf("geometry view is stale")
	}
	if len(data) < int(meta.PointCount)*8 {
		return nil, fmt.Errorf("payload %d bytes, need %d", len(data), meta.PointCount*8)
	}
	pts := make([]Point, meta.PointCount)
	for i := range pts {
		off := i * 8
		pts[i].X = math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		pts[i].Y = math.Float32frombits(binary.LittleEndian.Uint32(data[off+4:]))
	}
	return pts, nil
}

// Close unmaps the segment; fails with segment.ErrBusy while a view is live.
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
