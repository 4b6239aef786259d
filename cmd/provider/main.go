package main

import (
	"flag"
	"fmt"
	"log"
	"math"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"

	"strzcam.com/uc3dview/geometry"
	"strzcam.com/uc3dview/producer"
	"strzcam.com/uc3dview/registry"
	"strzcam.com/uc3dview/segment"
)

// A stand-in for the real-time producer: publishes a moving gradient plus a
// sweeping point grid per camera, and honors pause/time_scale from the
// control channel.
type camera struct {
	desc   registry.Camera
	frames *producer.FrameWriter
	geom   *producer.GeometryWriter
	phase  float64
}

func (c *camera) publish(payload []byte) error {
	w, h := int(c.desc.Width), int(c.desc.Height)
	stride := w * 3
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*stride + x*3
			payload[i] = byte(x + int(c.phase*60))
			payload[i+1] = byte(y + int(c.phase*30))
			payload[i+2] = byte(int(c.phase * 90))
		}
	}
	if err := c.frames.Publish(payload); err != nil {
		return err
	}
	pts := make([]geometry.Point, c.desc.PointCount)
	for i := range pts {
		a := c.phase + float64(i)*0.1
		pts[i].X = float32(float64(w)/2 + math.Cos(a)*float64(w)/3)
		pts[i].Y = float32(float64(h)/2 + math.Sin(a)*float64(h)/3)
	}
	return c.geom.Publish(pts)
}

func main() {
	godotenv.Load()
	golog.SetAllLoggers(golog.LevelError)

	cameras := flag.Int("cameras", 2, "number of simulated cameras")
	width := flag.Uint("width", 192, "frame width")
	height := flag.Uint("height", 96, "frame height")
	points := flag.Uint("points", 100, "geometry points per camera")
	buffers := flag.Uint("buffers", 3, "frame buffers per camera")
	fps := flag.Int("fps", 30, "publish rate")
	flag.Parse()

	cfg := segment.DefaultConfig()

	var cams []camera
	var descs []registry.Camera
	for i := 0; i < *cameras; i++ {
		desc := registry.Camera{
			Name:       fmt.Sprintf("cam%d", i),
			Index:      uint32(i),
			PointCount: uint32(*points),
			Width:      uint32(*width),
			Height:     uint32(*height),
		}
		fw, err := producer.CreateFrame(cfg, cfg.FrameName(desc.Index),
			desc.Width, desc.Height, desc.Width*3, uint32(*buffers))
		if err != nil {
			log.Fatalf("frame segment %d: %v", i, err)
		}
		defer fw.Close()
		gw, err := producer.CreateGeometry(cfg, cfg.GeometryName(desc.Index),
			desc.PointCount, desc.Width, desc.Height)
		if err != nil {
			log.Fatalf("geometry segment %d: %v", i, err)
		}
		defer gw.Close()
		cams = append(cams, camera{desc: desc, frames: fw, geom: gw})
		descs = append(descs, desc)
	}
	if err := producer.WriteRegistry(cfg, descs); err != nil {
		log.Fatalf("registry: %v", err)
	}
	if err := producer.CreateControl(cfg); err != nil {
		log.Fatalf("control: %v", err)
	}
	ctrl, err := producer.OpenControl(cfg)
	if err != nil {
		log.Fatalf("control: %v", err)
	}
	defer ctrl.Close()

	log.Printf("publishing %d cameras at %d fps", len(cams), *fps)
	payload := make([]byte, int(*width)*3*int(*height))
	published := 0
	statAt := time.Now()

	ticker := time.NewTicker(time.Second / time.Duration(*fps))
	defer ticker.Stop()
	for range ticker.C {
		rec, err := ctrl.Read()
		if err != nil {
			log.Printf("control read: %v", err)
		}
		if rec.Pause {
			continue
		}
		scale := float64(rec.TimeScale)
		if scale <= 0 {
			scale = 1
		}
		for i := range cams {
			cams[i].phase += scale / float64(*fps)
			if err := cams[i].publish(payload); err != nil {
				log.Printf("publish camera %d: %v", i, err)
			}
		}
		published++
		if time.Since(statAt) > 5*time.Second {
			log.Printf("published %d ticks", published)
			statAt = time.Now()
		}
	}
}
