package frame

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	"strzcam.com/uc3dview/segment"
)

// Decode copies an RGB888 payload view into an image.RGBA. The copy happens
// while the view is still borrowed; the returned image owns its pixels.
func Decode(view *segment.View, width, height, stride int) (*image.RGBA, error) {
	data := view.Bytes()
	if data == nil {
		return nil, errors.New("frame view is stale")
	}
	if len(data) < height*stride {
		return nil, fmt.Errorf("payload %d bytes, need %d", len(data), height*stride)
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := data[y*stride:]
		for x := 0; x < width; x++ {
			i := x * 3
			img.Set(x, y, color.RGBA{
				R: row[i],
				G: row[i+1],
				B: row[i+2],
				A: 255,
			})
		}
	}
	return img, nil
}
