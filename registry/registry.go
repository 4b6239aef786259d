package registry

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"strzcam.com/uc3dview/segment"
)

// Camera describes one channel advertised by the producer.
type Camera struct {
	Name       string `json:"name"`
	Index      uint32 `json:"index"`
	PointCount uint32 `json:"pointCount"`
	Width      uint32 `json:"width"`
	Height     uint32 `json:"height"`
}

// Reader maps the read-only camera directory the producer publishes once at
// its startup.
type Reader struct {
	cfg    segment.Config
	region *segment.Region
}

func NewReader(cfg segment.Config) *Reader {
	return &Reader{cfg: cfg}
}

// Connect maps the registry segment and validates its header. Returns
// segment.ErrNotReady while the producer has not created it yet and
// segment.ErrCorrupt on a magic or version mismatch.
func (r *Reader) Connect() error {
	if r.region != nil {
		return nil
	}
	region, err := segment.OpenRegion(r.cfg.RegistryPath(), false)
	if err != nil {
		return err
	}
	if _, err := segment.ParseRegistryHeader(region.Bytes()); err != nil {
		region.Close()
		return fmt.Errorf("%s: %w", r.cfg.RegistryName, err)
	}
	r.region = region
	return nil
}

func (r *Reader) Connected() bool {
	return r.region != nil
}

// ListCameras returns the descriptors in on-disk order. It is deliberately
// defensive: not connected or an invalid header yields an empty list, never
// an error, so callers can poll it while the producer starts up.
func (r *Reader) ListCameras() []Camera {
	if r.region == nil {
		return nil
	}
	mm := r.region.Bytes()
	hdr, err := segment.ParseRegistryHeader(mm)
	if err != nil {
		return nil
	}
	cams := make([]Camera, 0, hdr.Count)
	off := segment.RegistryHeaderSize
	for i := uint32(0); i < hdr.Count; i++ {
		name := mm[off : off+segment.CameraNameSize]
		if n := bytes.IndexByte(name, 0); n >= 0 {
			name = name[:n]
		}
		cams = append(cams, Camera{
			Name:       string(name),
			Index:      binary.LittleEndian.Uint32(mm[off+32:]),
			PointCount: binary.LittleEndian.Uint32(mm[off+36:]),
			Width:      binary.LittleEndian.Uint32(mm[off+40:]),
			Height:     binary.LittleEndian.Uint32(mm[off+44:]),
		})
		off += segment.CameraDescSize
	}
	return cams
}

// Close unmaps the registry. Idempotent.
func (r *Reader) Close() error {
	if r.region == nil {
		return nil
	}
	err := r.region.Close()
	r.region = nil
	return err
}
