package reactor

import (
	"github.com/joeycumines/logiface"
)

const (
	// DefaultQueueSize is the default size, in bytes, of the invoke queue.
	DefaultQueueSize = 4096 * 8

	// DefaultMaxEvents is the default number of epoll events collected per
	// Iterate call. Further ready descriptors are reported on the next call.
	DefaultMaxEvents = 32
)

// loopOptions holds configuration options for Loop creation.
type loopOptions struct {
	logger    *logiface.Logger[logiface.Event]
	queueSize uint32
	maxEvents int
}

// Option configures a Loop instance.
type Option interface {
	applyLoop(*loopOptions) error
}

// loopOptionImpl implements Option.
type loopOptionImpl struct {
	applyLoopFunc func(*loopOptions) error
}

func (l *loopOptionImpl) applyLoop(opts *loopOptions) error {
	return l.applyLoopFunc(opts)
}

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithQueueSize sets the size in bytes of the cross thread invoke queue.
// It must be a power of two, and bounds the largest payload Invoke accepts.
func WithQueueSize(size uint32) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if size < 64 || size&(size-1) != 0 {
			return ErrQueueSize
		}
		opts.queueSize = size
		return nil
	}}
}

// WithMaxEvents sets the epoll batch size.
func WithMaxEvents(n int) Option {
	return &loopOptionImpl{func(opts *loopOptions) error {
		if n <= 0 {
			return ErrMaxEvents
		}
		opts.maxEvents = n
		return nil
	}}
}

// resolveLoopOptions applies Option instances to loopOptions.
func resolveLoopOptions(opts []Option) (*loopOptions, error) {
	cfg := &loopOptions{
		queueSize: DefaultQueueSize,
		maxEvents: DefaultMaxEvents,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyLoop(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
