package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"time"

	golog "github.com/ipfs/go-log/v2"
	"github.com/joho/godotenv"

	"strzcam.com/uc3dview/control"
	"strzcam.com/uc3dview/frame"
	"strzcam.com/uc3dview/geometry"
	"strzcam.com/uc3dview/registry"
	"strzcam.com/uc3dview/segment"
	"strzcam.com/uc3dview/watcher"
)

// configFromEnv fills the explicit Config from flags and optional UC3D_*
// environment overrides (loaded from .env when present). Only main touches
// the environment; the libraries get the finished struct.
func configFromEnv() segment.Config {
	cfg := segment.DefaultConfig()
	if v := os.Getenv("UC3D_SHM_DIR"); v != "" {
		cfg.Dir = v
	}
	if v := os.Getenv("UC3D_REG_NAME"); v != "" {
		cfg.RegistryName = v
	}
	if v := os.Getenv("UC3D_FB_NAME"); v != "" {
		cfg.FrameBase = v
	}
	if v := os.Getenv("UC3D_GEOM_NAME"); v != "" {
		cfg.GeometryBase = v
	}
	if v := os.Getenv("UC3D_CTRL_NAME"); v != "" {
		cfg.ControlName = v
	}
	return cfg
}

func main() {
	godotenv.Load()
	golog.SetAllLoggers(golog.LevelError)

	addr := flag.String("addr", ":8080", "preview server address")
	camera := flag.Uint("camera", 0, "camera index to open at startup")
	interval := flag.Duration("interval", 0, "poll interval override")
	spins := flag.Int("spins", 0, "seqlock spin budget override")
	flag.Parse()

	cfg := configFromEnv()
	if *interval > 0 {
		cfg.PollInterval = *interval
	}
	if *spins > 0 {
		cfg.MaxSpins = *spins
	}

	reg := registry.NewReader(cfg)
	defer reg.Close()
	for {
		err := reg.Connect()
		if err == nil {
			break
		}
		if !errors.Is(err, segment.ErrNotReady) {
			log.Fatalf("registry: %v", err)
		}
		log.Printf("waiting for producer registry %s", cfg.RegistryName)
		time.Sleep(cfg.RetryDelay)
	}
	for _, cam := range reg.ListCameras() {
		log.Printf("camera %d: %s %dx%d (%d points)",
			cam.Index, cam.Name, cam.Width, cam.Height, cam.PointCount)
	}

	ctrl := control.NewWriter(cfg)
	defer ctrl.Close()

	coord := watcher.NewCoordinator(cfg)
	coord.Switch(uint32(*camera))

	server := watcher.NewServer(*addr, coord, reg, ctrl)
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("preview server: %v", err)
		}
	}()
	log.Printf("preview on %s", *addr)

	lastShown := uint64(0)
	frameCount := 0
	fps := 0.0
	fpsStart := time.Now()

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for range ticker.C {
		select {
		case index := <-server.Switch:
			log.Printf("switching to camera %d", index)
			coord.Switch(index)
		default:
		}

		if err := coord.Tick(); err != nil {
			log.Fatalf("channel %d: %v", coord.Camera(), err)
		}
		if !ctrl.Connected() {
			if err := ctrl.Connect(); err != nil && !errors.Is(err, segment.ErrNotReady) {
				log.Fatalf("control: %v", err)
			}
		}

		reader := coord.FrameReader()
		if reader == nil {
			continue
		}

		view, seq, ok := coord.PollFrame()
		if ok && seq != lastShown {
			if elapsed := time.Since(fpsStart); elapsed > time.Second {
				fps = float64(frameCount) / elapsed.Seconds()
				frameCount = 0
				fpsStart = time.Now()
			}
			frameCount++
			img, err := frame.Decode(view, int(reader.Width()), int(reader.Height()), int(reader.Stride()))
			if err == nil {
				server.BroadcastFrame(&frame.Frame{
					Image:    img,
					Width:    reader.Width(),
					Height:   reader.Height(),
					Sequence: seq,
					Fps:      fps,
				})
				lastShown = seq
			}
		}
		if view != nil {
			view.Release()
		}

		gview, meta, _, gok := coord.PollGeometry()
		if gok {
			// Points address frame pixels 1:1 at 3 bytes each; skip the
			// tick if the frame payload cannot cover them.
			if reader.PayloadSize() >= int(meta.PointCount)*3 {
				if _, err := geometry.Points(gview, meta); err != nil {
					log.Printf("geometry decode: %v", err)
				}
			}
			gview.Release()
		}
	}
}
