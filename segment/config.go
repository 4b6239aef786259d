package segment

import (
	"fmt"
	"path/filepath"
	"time"
)

// Config names the shared memory segments and sets the polling knobs.
// It is passed explicitly into every reader and writer; nothing in this
// module consults the environment or process-wide defaults.
type Config struct {
	Dir          string // directory holding the segment files, usually /dev/shm
	RegistryName string
	FrameBase    string // per-camera frame segments are <FrameBase>_<index>
	GeometryBase string // per-camera geometry segments are <GeometryBase>_<index>
	ControlName  string

	MaxSpins     int           // spin budget for the bounded seqlock read
	SpinDelay    time.Duration // optional sleep between spin attempts
	PollInterval time.Duration // consumer tick cadence
	RetryDelay   time.Duration // wait between connect attempts while a segment is missing
	CloseRetry   time.Duration // wait before retrying a close that found a live view
}

func DefaultConfig() Config {
	return Config{
		Dir:          "/dev/shm",
		RegistryName: "uc3d_reg",
		FrameBase:    "uc3d_fb",
		GeometryBase: "uc3d_geom",
		ControlName:  "uc3d_ctrl",
		MaxSpins:     64,
		SpinDelay:    0,
		PollInterval: 16 * time.Millisecond,
		RetryDelay:   500 * time.Millisecond,
		CloseRetry:   50 * time.Millisecond,
	}
}

func (c Config) FrameName(index uint32) string {
	return fmt.Sprintf("%s_%d", c.FrameBase, index)
}

func (c Config) GeometryName(index uint32) string {
	return fmt.Sprintf("%s_%d", c.GeometryBase, index)
}

// Path resolves a segment name to its file path under Dir.
func (c Config) Path(name string) string {
	return filepath.Join(c.Dir, name)
}

func (c Config) RegistryPath() string {
	return c.Path(c.RegistryName)
}

func (c Config) ControlPath() string {
	return c.Path(c.ControlName)
}
