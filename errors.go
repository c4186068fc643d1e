package reactor

import (
	"errors"
)

// Standard errors.
var (
	// ErrClosed is returned by operations on a Loop after Close.
	ErrClosed = errors.New("reactor: loop closed")

	// ErrNotEntered is returned by Iterate when the caller does not own the loop.
	ErrNotEntered = errors.New("reactor: loop not entered by the calling goroutine")

	// ErrQueueFull is returned by Invoke when the cross thread queue lacks
	// space for the item. Nothing is enqueued.
	ErrQueueFull = errors.New("reactor: invoke queue full")

	// ErrInvokeSize is returned by Invoke when the data cannot fit in the
	// queue even when it is empty. See MaxInvokeSize.
	ErrInvokeSize = errors.New("reactor: invoke data larger than the queue")

	// ErrInvalidSource is returned when a Source is nil, destroyed, of the
	// wrong kind, or belongs to another Loop.
	ErrInvalidSource = errors.New("reactor: invalid source")

	// ErrInvalidFD is returned by AddIO for a negative descriptor.
	ErrInvalidFD = errors.New("reactor: invalid file descriptor")

	// ErrInvalidTimer is returned by UpdateTimer for negative durations.
	ErrInvalidTimer = errors.New("reactor: invalid timer value")

	// ErrQueueSize is returned by New when WithQueueSize is not a power of two
	// large enough to hold one item header.
	ErrQueueSize = errors.New("reactor: queue size must be a power of two >= 64")

	// ErrMaxEvents is returned by New when WithMaxEvents is not positive.
	ErrMaxEvents = errors.New("reactor: max events must be positive")
)
