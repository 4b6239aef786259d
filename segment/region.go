package segment

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Region is a memory-mapped segment file. Frame, geometry and registry
// segments are mapped read-only; the control segment is mapped writable.
type Region struct {
	path     string
	fd       int
	data     []byte
	writable bool
}

// OpenRegion maps the whole segment file at path. A missing or still-empty
// file yields ErrNotReady so callers can retry while the producer starts up.
func OpenRegion(path string, writable bool) (*Region, error) {
	flags := unix.O_RDONLY
	prot := unix.PROT_READ
	if writable {
		flags = unix.O_RDWR
		prot |= unix.PROT_WRITE
	}
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return nil, fmt.Errorf("%s: %w", path, ErrNotReady)
		}
		return nil, fmt.Errorf("open %s: %v", path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stat %s: %v", path, err)
	}
	if st.Size == 0 {
		// Created but not yet sized by the producer.
		unix.Close(fd)
		return nil, fmt.Errorf("%s is empty: %w", path, ErrNotReady)
	}
	data, err := unix.Mmap(fd, 0, int(st.Size), prot, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mmap %s: %v", path, err)
	}
	return &Region{path: path, fd: fd, data: data, writable: writable}, nil
}

// Bytes exposes the mapped memory. The producer mutates frame and geometry
// payloads concurrently, so slices of this are only meaningful under the
// seqlock discipline.
func (r *Region) Bytes() []byte {
	return r.data
}

func (r *Region) Size() int {
	return len(r.data)
}

func (r *Region) Path() string {
	return r.path
}

// Close unmaps and releases the descriptor. Idempotent.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	if cerr := unix.Close(r.fd); err == nil {
		err = cerr
	}
	r.fd = -1
	if err != nil {
		return fmt.Errorf("close %s: %v", r.path, err)
	}
	return nil
}
