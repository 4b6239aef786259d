package segment

import (
	"encoding/binary"
	"fmt"
	"math"
)

// All fields in every segment are little-endian.
const (
	RegistryMagic = 0x55435247 // "UCRG"
	FrameMagic    = 0x55434642 // "UCFB"
	GeometryMagic = 0x5543474D // "UCGM"

	Version = 1

	FormatRGB888 = 0 // 3 bytes per pixel, the only defined pixel format

	RegistryHeaderSize = 12 // magic, version, camera_count
	CameraDescSize     = 48 // name[32], index, point_count, width, height
	CameraNameSize     = 32

	FrameHeaderSize = 28 // magic, version, format, width, height, stride, buffer_count, active_index
	SequenceSize    = 8

	GeometryHeaderSize = 24 // magic, point_count, width, height, sequence

	ControlRecordSize = 56
)

const (
	frameActiveOffset   = 24
	geometrySeqOffset   = 16
	bytesPerPixelRGB888 = 3
)

// Sequence reads the u64 seqlock counter at off. Even means a write is in
// progress; odd means the payload written under that value is stable.
func Sequence(b []byte, off int) uint64 {
	return binary.LittleEndian.Uint64(b[off:])
}

func PutSequence(b []byte, off int, seq uint64) {
	binary.LittleEndian.PutUint64(b[off:], seq)
}

type RegistryHeader struct {
	Magic   uint32
	Version uint32
	Count   uint32
}

// ParseRegistryHeader validates the registry segment header and checks that
// the mapping is large enough for the descriptor table it declares.
func ParseRegistryHeader(b []byte) (RegistryHeader, error) {
	if len(b) < RegistryHeaderSize {
		return RegistryHeader{}, fmt.Errorf("registry header: %w", ErrShortRead)
	}
	h := RegistryHeader{
		Magic:   binary.LittleEndian.Uint32(b[0:]),
		Version: binary.LittleEndian.Uint32(b[4:]),
		Count:   binary.LittleEndian.Uint32(b[8:]),
	}
	if h.Magic != RegistryMagic {
		return RegistryHeader{}, fmt.Errorf("registry magic 0x%08X: %w", h.Magic, ErrCorrupt)
	}
	if h.Version != Version {
		return RegistryHeader{}, fmt.Errorf("registry version %d: %w", h.Version, ErrCorrupt)
	}
	if len(b) < RegistryHeaderSize+int(h.Count)*CameraDescSize {
		return RegistryHeader{}, fmt.Errorf("registry descriptor table: %w", ErrShortRead)
	}
	return h, nil
}

type FrameHeader struct {
	Magic       uint32
	Version     uint16
	Format      uint16
	Width       uint32
	Height      uint32
	Stride      uint32
	BufferCount uint32
	ActiveIndex uint32 // snapshot only; re-read with FrameActiveIndex on every poll
}

// ParseFrameHeader validates a frame segment header and checks the mapping
// covers every declared buffer.
func ParseFrameHeader(b []byte) (FrameHeader, error) {
	if len(b) < FrameHeaderSize {
		return FrameHeader{}, fmt.Errorf("frame header: %w", ErrShortRead)
	}
	h := FrameHeader{
		Magic:       binary.LittleEndian.Uint32(b[0:]),
		Version:     binary.LittleEndian.Uint16(b[4:]),
		Format:      binary.LittleEndian.Uint16(b[6:]),
		Width:       binary.LittleEndian.Uint32(b[8:]),
		Height:      binary.LittleEndian.Uint32(b[12:]),
		Stride:      binary.LittleEndian.Uint32(b[16:]),
		BufferCount: binary.LittleEndian.Uint32(b[20:]),
		ActiveIndex: binary.LittleEndian.Uint32(b[24:]),
	}
	if h.Magic != FrameMagic {
		return FrameHeader{}, fmt.Errorf("frame magic 0x%08X: %w", h.Magic, ErrCorrupt)
	}
	if h.Version != Version {
		return FrameHeader{}, fmt.Errorf("frame version %d: %w", h.Version, ErrCorrupt)
	}
	if h.Format == FormatRGB888 && h.Stride < h.Width*bytesPerPixelRGB888 {
		return FrameHeader{}, fmt.Errorf("frame stride %d below %d*%d: %w",
			h.Stride, h.Width, bytesPerPixelRGB888, ErrCorrupt)
	}
	if len(b) < FrameHeaderSize+int(h.BufferCount)*h.BufferSize() {
		return FrameHeader{}, fmt.Errorf("frame buffers: %w", ErrShortRead)
	}
	return h, nil
}

// BufferSize is the per-buffer footprint: 8-byte sequence plus the payload.
func (h FrameHeader) BufferSize() int {
	return SequenceSize + h.PayloadSize()
}

func (h FrameHeader) PayloadSize() int {
	return int(h.Height) * int(h.Stride)
}

// BufferBase is the offset of buffer idx within the segment.
func (h FrameHeader) BufferBase(idx uint32) int {
	return FrameHeaderSize + int(idx)*h.BufferSize()
}

// FrameActiveIndex reads active_index fresh from the mapped header. It is
// not covered by a seqlock and may change between polls.
func FrameActiveIndex(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b[frameActiveOffset:])
}

type GeometryHeader struct {
	Magic      uint32
	PointCount uint32
	Width      uint32
	Height     uint32
}

// ParseGeometryHeader validates a geometry segment header. The geometry
// segment carries a magic but no version field.
func ParseGeometryHeader(b []byte) (GeometryHeader, error) {
	if len(b) < GeometryHeaderSize {
		return GeometryHeader{}, fmt.Errorf("geometry header: %w", ErrShortRead)
	}
	h := GeometryHeader{
		Magic:      binary.LittleEndian.Uint32(b[0:]),
		PointCount: binary.LittleEndian.Uint32(b[4:]),
		Width:      binary.LittleEndian.Uint32(b[8:]),
		Height:     binary.LittleEndian.Uint32(b[12:]),
	}
	if h.Magic != GeometryMagic {
		return GeometryHeader{}, fmt.Errorf("geometry magic 0x%08X: %w", h.Magic, ErrCorrupt)
	}
	if len(b) < GeometryHeaderSize+h.PayloadSize() {
		return GeometryHeader{}, fmt.Errorf("geometry payload: %w", ErrShortRead)
	}
	return h, nil
}

// PayloadSize is point_count pairs of 32-bit floats.
func (h GeometryHeader) PayloadSize() int {
	return int(h.PointCount) * 8
}

// GeometrySequence reads the seqlock counter at its fixed header offset.
func GeometrySequence(b []byte) uint64 {
	return Sequence(b, geometrySeqOffset)
}

func PutGeometrySequence(b []byte, seq uint64) {
	PutSequence(b, geometrySeqOffset, seq)
}

// ControlRecord is the single consumer-to-producer command slot. There is
// exactly one writer, so writes carry no seqlock; a torn read on the
// producer side is corrected by the next write.
type ControlRecord struct {
	Seq        uint64
	Pause      bool
	TimeScale  float32
	Pos        [3]float32
	Look       [3]float32
	Up         [3]float32
	DebugFlags uint32
}

// EncodeControl writes the 56-byte record at the start of b.
func EncodeControl(b []byte, r ControlRecord) {
	_ = b[:ControlRecordSize]
	binary.LittleEndian.PutUint64(b[0:], r.Seq)
	b[8] = 0
	if r.Pause {
		b[8] = 1
	}
	b[9], b[10], b[11] = 0, 0, 0
	binary.LittleEndian.PutUint32(b[12:], math.Float32bits(r.TimeScale))
	putVec3(b[16:], r.Pos)
	putVec3(b[28:], r.Look)
	putVec3(b[40:], r.Up)
	binary.LittleEndian.PutUint32(b[52:], r.DebugFlags)
}

// DecodeControl reads the record back; the producer side uses this.
func DecodeControl(b []byte) (ControlRecord, error) {
	if len(b) < ControlRecordSize {
		return ControlRecord{}, fmt.Errorf("control record: %w", ErrShortRead)
	}
	return ControlRecord{
		Seq:        binary.LittleEndian.Uint64(b[0:]),
		Pause:      b[8] != 0,
		TimeScale:  math.Float32frombits(binary.LittleEndian.Uint32(b[12:])),
		Pos:        vec3(b[16:]),
		Look:       vec3(b[28:]),
		Up:         vec3(b[40:]),
		DebugFlags: binary.LittleEndian.Uint32(b[52:]),
	}, nil
}

func putVec3(b []byte, v [3]float32) {
	for i, f := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
}

func vec3(b []byte) [3]float32 {
	var v [3]float32
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
