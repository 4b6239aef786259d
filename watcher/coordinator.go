package watcher

import (
	"errors"
	"log"
	"time"

	"github.com/fsnotify/fsnotify"

	"strzcam.com/uc3dview/frame"
	"strzcam.com/uc3dview/geometry"
	"strzcam.com/uc3dview/segment"
)

// State of one camera slot.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

type closer interface {
	Close() error
	Name() string
}

type pendingClose struct {
	c  closer
	at time.Time
}

// Coordinator drives safe open/close and camera switching for one
// frame+geometry channel pair. It is single-threaded by contract: all
// methods are called from the consumer's poll loop, one tick at a time.
//
// Switching never races a borrowed view: the outgoing readers go onto a
// deferred-close list, and a close that finds a live view is retried after
// CloseRetry instead of failing the switch.
type Coordinator struct {
	cfg     segment.Config
	target  uint32
	state   State
	frame   *frame.Reader
	geom    *geometry.Reader
	pending []pendingClose
	retryAt time.Time
	fsw     *fsnotify.Watcher
}

// NewCoordinator starts in StateDisconnected; call Switch to pick a camera.
// It watches the shm directory so a segment appearing wakes the connect
// retry immediately; if the watch cannot be established the coordinator
// still works on the RetryDelay cadence alone.
func NewCoordinator(cfg segment.Config) *Coordinator {
	c := &Coordinator{cfg: cfg, state: StateDisconnected}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("segment watch unavailable: %v", err)
		return c
	}
	if err := fsw.Add(cfg.Dir); err != nil {
		log.Printf("cannot watch %s: %v", cfg.Dir, err)
		fsw.Close()
		return c
	}
	c.fsw = fsw
	return c
}

func (c *Coordinator) State() State   { return c.state }
func (c *Coordinator) Camera() uint32 { return c.target }

// FrameReader exposes the connected frame channel, nil while disconnected.
func (c *Coordinator) FrameReader() *frame.Reader {
	if c.frame == nil || !c.frame.Connected() {
		return nil
	}
	return c.frame
}

// Switch targets a new camera index. The caller must have released its
// borrowed views first; the old channels are closed on subsequent ticks,
// deferred as long as a view is still live.
func (c *Coordinator) Switch(index uint32) {
	now := time.Now()
	if c.frame != nil {
		c.pending = append(c.pending, pendingClose{c: c.frame, at: now})
		c.frame = nil
	}
	if c.geom != nil {
		c.pending = append(c.pending, pendingClose{c: c.geom, at: now})
		c.geom = nil
	}
	c.target = index
	c.retryAt = time.Time{}
	if len(c.pending) > 0 {
		c.state = StateClosing
	} else {
		c.state = StateConnecting
	}
}

// Tick advances the state machine: reap deferred closes, then attempt
// connects. Missing segments keep the slot in StateConnecting; a corrupt
// or unsupported segment is returned as a hard error since no retry can
// fix a protocol mismatch.
func (c *Coordinator) Tick() error {
	woke := c.drainEvents()
	c.reapPending()
	switch c.state {
	case StateClosing:
		if len(c.pending) == 0 {
			c.state = StateConnecting
		}
	case StateConnecting:
		if woke || time.Now().After(c.retryAt) {
			return c.tryConnect()
		}
	}
	return nil
}

func (c *Coordinator) tryConnect() error {
	if c.frame == nil {
		c.frame = frame.NewReader(c.cfg, c.cfg.FrameName(c.target))
	}
	if !c.frame.Connected() {
		if err := c.frame.Connect(); err != nil {
			if errors.Is(err, segment.ErrNotReady) {
				c.retryAt = time.Now().Add(c.cfg.RetryDelay)
				return nil
			}
			return err
		}
		log.Printf("frame channel %s connected (%dx%d stride %d, %d buffers)",
			c.frame.Name(), c.frame.Width(), c.frame.Height(), c.frame.Stride(), c.frame.Buffers())
	}
	if c.geom == nil {
		c.geom = geometry.NewReader(c.cfg, c.cfg.GeometryName(c.target))
	}
	if !c.geom.Connected() {
		if err := c.geom.Connect(); err != nil {
			if errors.Is(err, segment.ErrNotReady) {
				// Frame may already be open; polls in this window see the
				// geometry half as not-ready and skip the tick.
				c.retryAt = time.Now().Add(c.cfg.RetryDelay)
				return nil
			}
			return err
		}
		meta := c.geom.Meta()
		log.Printf("geometry channel %s connected (%d points, %dx%d)",
			c.geom.Name(), meta.PointCount, meta.Width, meta.Height)
	}
	c.state = StateConnected
	return nil
}

func (c *Coordinator) reapPending() {
	now := time.Now()
	kept := c.pending[:0]
	for _, p := range c.pending {
		if now.Before(p.at) {
			kept = append(kept, p)
			continue
		}
		err := p.c.Close()
		if errors.Is(err, segment.ErrBusy) {
			p.at = now.Add(c.cfg.CloseRetry)
			kept = append(kept, p)
			continue
		}
		if err != nil {
			log.Printf("closing %s: %v", p.c.Name(), err)
		}
	}
	c.pending = kept
}

// drainEvents empties the fsnotify queue, reporting whether a segment this
// slot is waiting for appeared.
func (c *Coordinator) drainEvents() bool {
	if c.fsw == nil {
		return false
	}
	woke := false
	framePath := c.cfg.Path(c.cfg.FrameName(c.target))
	geomPath := c.cfg.Path(c.cfg.GeometryName(c.target))
	for {
		select {
		case ev, ok := <-c.fsw.Events:
			if !ok {
				c.fsw = nil
				return woke
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if ev.Name == framePath || ev.Name == geomPath {
				woke = true
			}
		case err, ok := <-c.fsw.Errors:
			if !ok {
				c.fsw = nil
				return woke
			}
			log.Printf("segment watch: %v", err)
		default:
			return woke
		}
	}
}

// PollFrame runs one bounded-spin read against the frame channel. Not-ready
// covers every benign case: still connecting, writer mid-update, spin
// budget exhausted.
func (c *Coordinator) PollFrame() (*segment.View, uint64, bool) {
	if c.frame == nil || !c.frame.Connected() {
		return nil, 0, false
	}
	return c.frame.Latest(c.cfg.MaxSpins, c.cfg.SpinDelay)
}

// PollGeometry is PollFrame's counterpart for the point stream.
func (c *Coordinator) PollGeometry() (*segment.View, geometry.Meta, uint64, bool) {
	if c.geom == nil || !c.geom.Connected() {
		return nil, geometry.Meta{}, 0, false
	}
	return c.geom.Latest(c.cfg.MaxSpins, c.cfg.SpinDelay)
}

// Pending reports deferred closes still waiting on borrowed views.
func (c *Coordinator) Pending() int {
	return len(c.pending)
}

// Close tears the slot down. A channel still pinned by a live view stays on
// the deferred list and segment.ErrBusy is returned; release the views and
// call Close again.
func (c *Coordinator) Close() error {
	now := time.Now()
	if c.frame != nil {
		c.pending = append(c.pending, pendingClose{c: c.frame, at: now})
		c.frame = nil
	}
	if c.geom != nil {
		c.pending = append(c.pending, pendingClose{c: c.geom, at: now})
		c.geom = nil
	}
	c.reapPending()
	if len(c.pending) > 0 {
		c.state = StateClosing
		return segment.ErrBusy
	}
	if c.fsw != nil {
		c.fsw.Close()
		c.fsw = nil
	}
	c.state = StateDisconnected
	return nil
}
