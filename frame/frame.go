package frame

import "image"

// Frame is one decoded tick of camera output, detached from shared memory
// so it can outlive the borrowed view it was decoded from.
type Frame struct {
	Image    *image.RGBA
	Width    uint32
	Height   uint32
	Sequence uint64
	Fps      float64
}
