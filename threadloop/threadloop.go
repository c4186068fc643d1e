//go:build linux

// Package threadloop runs a reactor.Loop on a dedicated goroutine, guarded
// by a lock that other goroutines take to safely use the loop's sources.
//
// The lock is held by the loop goroutine whenever it dispatches, and
// released while it waits in poll. Code running in loop callbacks already
// holds the lock. Other goroutines call Lock before adding, updating or
// destroying sources, and may block in Wait until a callback calls Signal.
package threadloop

import (
	"errors"
	"sync"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
)

var (
	// ErrStarted is returned by Start when the loop goroutine is running.
	ErrStarted = errors.New("threadloop: already started")
	// ErrInThread is returned by Stop when called from the loop goroutine.
	ErrInThread = errors.New("threadloop: stop called from the loop goroutine")
)

// ThreadLoop owns a loop goroutine and the lock around its dispatches.
type ThreadLoop struct {
	logger            *logiface.Logger[logiface.Event]
	loop              *reactor.Loop
	quit              *reactor.Source
	done              chan struct{}
	err               error
	name              string
	cond              sync.Cond
	acceptCond        sync.Cond
	mu                sync.Mutex
	nWaiting          int
	nWaitingForAccept int
	running           bool
}

// threadLoopOptions holds configuration options for ThreadLoop creation.
type threadLoopOptions struct {
	logger *logiface.Logger[logiface.Event]
}

// Option configures a ThreadLoop instance.
type Option interface {
	applyThreadLoop(*threadLoopOptions)
}

// threadLoopOptionImpl implements Option.
type threadLoopOptionImpl struct {
	applyThreadLoopFunc func(*threadLoopOptions)
}

func (x *threadLoopOptionImpl) applyThreadLoop(opts *threadLoopOptions) {
	x.applyThreadLoopFunc(opts)
}

// WithLogger sets the structured logger. A nil logger disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &threadLoopOptionImpl{func(opts *threadLoopOptions) {
		opts.logger = logger
	}}
}

// New wraps l. The loop is not started.
func New(l *reactor.Loop, name string, opts ...Option) *ThreadLoop {
	var cfg threadLoopOptions
	for _, opt := range opts {
		if opt != nil {
			opt.applyThreadLoop(&cfg)
		}
	}
	x := &ThreadLoop{
		logger: cfg.logger,
		loop:   l,
		name:   name,
	}
	x.cond.L = &x.mu
	x.acceptCond.L = &x.mu
	return x
}

// Loop returns the wrapped loop.
func (x *ThreadLoop) Loop() *reactor.Loop { return x.loop }

// Name returns the name given to New.
func (x *ThreadLoop) Name() string { return x.name }

// Start launches the loop goroutine.
func (x *ThreadLoop) Start() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.done != nil {
		return ErrStarted
	}
	quit, err := x.loop.AddEvent(func(*reactor.Source) {
		x.running = false
	})
	if err != nil {
		return err
	}
	x.quit = quit
	x.running = true
	x.err = nil
	x.done = make(chan struct{})
	x.loop.SetHooks(x.mu.Unlock, x.mu.Lock)

	x.logger.Debug().
		Str("name", x.name).
		Log("threadloop: starting")

	go x.run(x.done)
	return nil
}

func (x *ThreadLoop) run(done chan struct{}) {
	defer close(done)
	x.mu.Lock()
	defer x.mu.Unlock()
	x.loop.Enter()
	defer x.loop.Leave()
	for x.running {
		if _, err := x.loop.Iterate(-1); err != nil {
			x.err = err
			x.logger.Err().
				Err(err).
				Str("name", x.name).
				Log("threadloop: iterate failed")
			return
		}
	}
}

// Stop quits the loop goroutine and waits for it to exit, returning the
// error that ended it early, if any. It must not be called with the lock
// held, nor from the loop goroutine.
func (x *ThreadLoop) Stop() error {
	if x.InThread() {
		return ErrInThread
	}
	x.mu.Lock()
	done, quit := x.done, x.quit
	x.mu.Unlock()
	if done == nil {
		return nil
	}

	x.loop.SignalEvent(quit)
	<-done

	x.mu.Lock()
	defer x.mu.Unlock()
	x.loop.SetHooks(nil, nil)
	x.loop.DestroySource(quit)
	x.quit = nil
	x.done = nil
	err := x.err
	x.err = nil

	x.logger.Debug().
		Str("name", x.name).
		Log("threadloop: stopped")

	return err
}

// Lock acquires the loop lock. Callbacks on the loop goroutine already
// hold it and must not call Lock.
func (x *ThreadLoop) Lock() { x.mu.Lock() }

// Unlock releases the loop lock.
func (x *ThreadLoop) Unlock() { x.mu.Unlock() }

// Wait blocks until Signal is called. The lock must be held; it is
// released while waiting.
func (x *ThreadLoop) Wait() {
	x.nWaiting++
	x.cond.Wait()
	x.nWaiting--
}

// Signal wakes every goroutine blocked in Wait. With waitForAccept set it
// then blocks, lock released, until a waiter calls Accept. The lock must
// be held, as it is in loop callbacks.
func (x *ThreadLoop) Signal(waitForAccept bool) {
	if x.nWaiting > 0 {
		x.cond.Broadcast()
	}
	if waitForAccept {
		x.nWaitingForAccept++
		for x.nWaitingForAccept > 0 {
			x.acceptCond.Wait()
		}
	}
}

// Accept releases a Signal call waiting for acceptance. The lock must be
// held.
func (x *ThreadLoop) Accept() {
	if x.nWaitingForAccept <= 0 {
		return
	}
	x.nWaitingForAccept--
	x.acceptCond.Signal()
}

// InThread reports whether the caller is the loop goroutine.
func (x *ThreadLoop) InThread() bool { return x.loop.InThread() }
