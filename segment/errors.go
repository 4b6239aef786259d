package segment

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady means the named segment does not exist yet. The producer
	// creates segments at its own startup, so this is retryable.
	ErrNotReady = errors.New("segment not ready")

	// ErrCorrupt means the segment header does not match the protocol
	// (bad magic or version). Retrying cannot fix this.
	ErrCorrupt = errors.New("segment corrupt")

	// ErrShortRead means the mapped region is smaller than its header
	// declares. Classified as corruption.
	ErrShortRead = fmt.Errorf("mapped region smaller than header declares: %w", ErrCorrupt)

	// ErrUnsupported means the segment declares a pixel format this
	// reader does not understand.
	ErrUnsupported = errors.New("unsupported pixel format")

	// ErrBusy means a close was attempted while a borrowed view is still
	// live. The caller should release the view and retry.
	ErrBusy = errors.New("view still borrowed")
)
