// Package producer simulates the external real-time producer: it creates
// and sizes the shared memory segments and publishes frames, geometry and
// registry data with the same seqlock stepping the real producer uses.
// The viewer never links this against its polling path; it exists to drive
// tests and the demo provider binary.
package producer

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"strzcam.com/uc3dview/geometry"
	"strzcam.com/uc3dview/registry"
	"strzcam.com/uc3dview/segment"
)

// WriteRegistry creates the read-only camera directory. The real producer
// does this once, before any consumer attaches.
func WriteRegistry(cfg segment.Config, cams []registry.Camera) error {
	buf := make([]byte, segment.RegistryHeaderSize+len(cams)*segment.CameraDescSize)
	binary.LittleEndian.PutUint32(buf[0:], segment.RegistryMagic)
	binary.LittleEndian.PutUint32(buf[4:], segment.Version)
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(cams)))
	off := segment.RegistryHeaderSize
	for _, cam := range cams {
		name := []byte(cam.Name)
		if len(name) > segment.CameraNameSize-1 {
			name = name[:segment.CameraNameSize-1]
		}
		copy(buf[off:off+segment.CameraNameSize], name)
		binary.LittleEndian.PutUint32(buf[off+32:], cam.Index)
		binary.LittleEndian.PutUint32(buf[off+36:], cam.PointCount)
		binary.LittleEndian.PutUint32(buf[off+40:], cam.Width)
		binary.LittleEndian.PutUint32(buf[off+44:], cam.Height)
		off += segment.CameraDescSize
	}
	return os.WriteFile(cfg.RegistryPath(), buf, 0644)
}

// createSized makes a zero-filled segment file and maps it writable.
func createSized(path string, size int) (*segment.Region, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %v", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		return nil, fmt.Errorf("size %s: %v", path, err)
	}
	f.Close()
	return segment.OpenRegion(path, true)
}

// FrameWriter publishes RGB888 frames across rotating buffers.
type FrameWriter struct {
	region *segment.Region
	hdr    segment.FrameHeader
}

// CreateFrame sizes and maps a frame segment for one camera.
func CreateFrame(cfg segment.Config, name string, width, height, stride, buffers uint32) (*FrameWriter, error) {
	hdr := segment.FrameHeader{
		Magic:       segment.FrameMagic,
		Version:     segment.Version,
		Format:      segment.FormatRGB888,
		Width:       width,
		Height:      height,
		Stride:      stride,
		BufferCount: buffers,
	}
	size := segment.FrameHeaderSize + int(buffers)*hdr.BufferSize()
	region, err := createSized(cfg.Path(name), size)
	if err != nil {
		return nil, err
	}
	mm := region.Bytes()
	binary.LittleEndian.PutUint32(mm[0:], hdr.Magic)
	binary.LittleEndian.PutUint16(mm[4:], hdr.Version)
	binary.LittleEndian.PutUint16(mm[6:], hdr.Format)
	binary.LittleEndian.PutUint32(mm[8:], hdr.Width)
	binary.LittleEndian.PutUint32(mm[12:], hdr.Height)
	binary.LittleEndian.PutUint32(mm[16:], hdr.Stride)
	binary.LittleEndian.PutUint32(mm[20:], hdr.BufferCount)
	binary.LittleEndian.PutUint32(mm[24:], 0)
	return &FrameWriter{region: region, hdr: hdr}, nil
}

func (w *FrameWriter) PayloadSize() int { return w.hdr.PayloadSize() }

// Publish writes payload into the next buffer in rotation and flips
// active_index to it. Sequence stepping: bump to even before touching the
// payload, bump to odd after, so a concurrent reader rejects the window.
func (w *FrameWriter) Publish(payload []byte) error {
	if len(payload) != w.hdr.PayloadSize() {
		return fmt.Errorf("payload %d bytes, want %d", len(payload), w.hdr.PayloadSize())
	}
	mm := w.region.Bytes()
	next := (segment.FrameActiveIndex(mm) + 1) % w.hdr.BufferCount
	base := w.hdr.BufferBase(next)
	seq := segment.Sequence(mm, base)
	if seq&1 == 1 {
		seq++
		segment.PutSequence(mm, base, seq)
	}
	copy(mm[base+segment.SequenceSize:], payload)
	segment.PutSequence(mm, base, seq+1)
	binary.LittleEndian.PutUint32(mm[24:], next)
	return nil
}

// BeginTorn marks the next rotation buffer as write-in-progress without
// completing it, leaving its sequence even. Tests use this to exercise the
// reader's not-ready path.
func (w *FrameWriter) BeginTorn() {
	mm := w.region.Bytes()
	active := segment.FrameActiveIndex(mm)
	base := w.hdr.BufferBase(active)
	seq := segment.Sequence(mm, base)
	if seq&1 == 1 {
		segment.PutSequence(mm, base, seq+1)
	}
}

func (w *FrameWriter) Close() error { return w.region.Close() }

// GeometryWriter publishes point coordinates into the single-buffered
// geometry segment.
type GeometryWriter struct {
	region *segment.Region
	hdr    segment.GeometryHeader
}

func CreateGeometry(cfg segment.Config, name string, count, width, height uint32) (*GeometryWriter, error) {
	hdr := segment.GeometryHeader{
		Magic:      segment.GeometryMagic,
		PointCount: count,
		Width:      width,
		Height:     height,
	}
	size := segment.GeometryHeaderSize + hdr.PayloadSize()
	region, err := createSized(cfg.Path(name), size)
	if err != nil {
		return nil, err
	}
	mm := region.Bytes()
	binary.LittleEndian.PutUint32(mm[0:], hdr.Magic)
	binary.LittleEndian.PutUint32(mm[4:], hdr.PointCount)
	binary.LittleEndian.PutUint32(mm[8:], hdr.Width)
	binary.LittleEndian.PutUint32(mm[12:], hdr.Height)
	return &GeometryWriter{region: region, hdr: hdr}, nil
}

func (w *GeometryWriter) Publish(points []geometry.Point) error {
	if len(points) != int(w.hdr.PointCount) {
		return fmt.Errorf("%d points, want %d", len(points), w.hdr.PointCount)
	}
	mm := w.region.Bytes()
	seq := segment.GeometrySequence(mm)
	if seq&1 == 1 {
		seq++
		segment.PutGeometrySequence(mm, seq)
	}
	off := segment.GeometryHeaderSize
	for _, p := range points {
		binary.LittleEndian.PutUint32(mm[off:], math.Float32bits(p.X))
		binary.LittleEndian.PutUint32(mm[off+4:], math.Float32bits(p.Y))
		off += 8
	}
	segment.PutGeometrySequence(mm, seq+1)
	return nil
}

// BeginTorn leaves the geometry sequence even, as if a write stalled.
func (w *GeometryWriter) BeginTorn() {
	mm := w.region.Bytes()
	seq := segment.GeometrySequence(mm)
	if seq&1 == 1 {
		segment.PutGeometrySequence(mm, seq+1)
	}
}

func (w *GeometryWriter) Close() error { return w.region.Close() }

// CreateControl sizes the zeroed control slot the consumer will write into.
func CreateControl(cfg segment.Config) error {
	f, err := os.OpenFile(cfg.ControlPath(), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("create %s: %v", cfg.ControlPath(), err)
	}
	defer f.Close()
	return f.Truncate(segment.ControlRecordSize)
}

// ControlReader is the producer's view of the command slot. It reads the
// record as-is, torn or not; the consumer's next write self-corrects.
type ControlReader struct {
	region *segment.Region
}

func OpenControl(cfg segment.Config) (*ControlReader, error) {
	region, err := segment.OpenRegion(cfg.ControlPath(), false)
	if err != nil {
		return nil, err
	}
	if region.Size() < segment.ControlRecordSize {
		region.Close()
		return nil, fmt.Errorf("%s: %w", cfg.ControlName, segment.ErrShortRead)
	}
	return &ControlReader{region: region}, nil
}

func (r *ControlReader) Read() (segment.ControlRecord, error) {
	return segment.DecodeControl(r.region.Bytes())
}

func (r *ControlReader) Close() error { return r.region.Close() }
