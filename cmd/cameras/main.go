package main

import (
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"strzcam.com/uc3dview/registry"
	"strzcam.com/uc3dview/segment"
)

// One-shot listing of the producer's camera directory.
func main() {
	godotenv.Load()
	dir := flag.String("dir", "", "shm directory override")
	wait := flag.Duration("wait", 5*time.Second, "how long to wait for the producer")
	flag.Parse()

	cfg := segment.DefaultConfig()
	if *dir != "" {
		cfg.Dir = *dir
	}

	reg := registry.NewReader(cfg)
	defer reg.Close()
	deadline := time.Now().Add(*wait)
	for {
		err := reg.Connect()
		if err == nil {
			break
		}
		if !errors.Is(err, segment.ErrNotReady) {
			log.Fatalf("registry: %v", err)
		}
		if time.Now().After(deadline) {
			log.Fatalf("producer did not appear within %s", *wait)
		}
		time.Sleep(200 * time.Millisecond)
	}

	cams := reg.ListCameras()
	if len(cams) == 0 {
		fmt.Println("no cameras registered")
		os.Exit(0)
	}
	for _, cam := range cams {
		fmt.Printf("%2d  %-20s %4dx%-4d %6d points\n",
			cam.Index, cam.Name, cam.Width, cam.Height, cam.PointCount)
	}
}
