package segment

import "sync/atomic"

// Borrows tracks the read views handed out over one mapped segment, so the
// owning reader can refuse to unmap while any view is still live. Each close
// or camera switch bumps the generation, which retires every older view.
type Borrows struct {
	live atomic.Int64
	gen  atomic.Uint64
}

// View wraps data in a borrow-scoped view pinned to the current generation.
func (b *Borrows) View(data []byte) *View {
	b.live.Add(1)
	return &View{data: data, owner: b, gen: b.gen.Load()}
}

// Live is the number of views not yet released.
func (b *Borrows) Live() int64 {
	return b.live.Load()
}

// Invalidate retires all outstanding views. Called under the owning
// reader's close, after Live has been checked.
func (b *Borrows) Invalidate() {
	b.gen.Add(1)
}

// View is a read-only borrow over mapped shared memory. It must be released
// before the owning channel can close, and it must not be dereferenced after
// the channel closes or switches cameras; Bytes returns nil once stale.
type View struct {
	data     []byte
	owner    *Borrows
	gen      uint64
	released bool
}

// Bytes returns the borrowed payload, or nil if the view was released or
// its segment has since closed.
func (v *View) Bytes() []byte {
	if !v.Valid() {
		return nil
	}
	return v.data
}

func (v *View) Len() int {
	return len(v.data)
}

// Valid reports whether the view may still be dereferenced.
func (v *View) Valid() bool {
	return v != nil && !v.released && v.owner.gen.Load() == v.gen
}

// Release returns the borrow. Idempotent.
func (v *View) Release() {
	if v == nil || v.released {
		return
	}
	v.released = true
	v.owner.live.Add(-1)
}
