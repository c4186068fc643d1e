//go:build linux

package reactor

import (
	"runtime"
	"sync/atomic"

	"github.com/joeycumines/go-reactor/ringbuffer"
)

// Loop is an epoll reactor. Only the goroutine that entered the loop may
// iterate it or mutate its sources; see the package documentation.
type Loop struct {
	logger        loopLogger
	wakeup        *Source
	queue         *invokeQueue
	preHook       func()
	postHook      func()
	beforeIterate listenerList
	destroy       listenerList
	sources       registry
	batch         []*Source
	poller        poller
	stats         loopStats
	owner         atomic.Uint64
	enterCount    int
	closed        atomic.Bool
	loopTestHooks *loopTestHooks
}

// loopTestHooks provides injection points for testing.
type loopTestHooks struct {
	// afterPoll runs after the post hook, before any error is returned.
	afterPoll func(err error)
}

// New creates a Loop with its epoll instance and invoke queue.
func New(opts ...Option) (*Loop, error) {
	cfg, err := resolveLoopOptions(opts)
	if err != nil {
		return nil, err
	}

	ring, err := ringbuffer.New(cfg.queueSize)
	if err != nil {
		return nil, err
	}

	l := &Loop{
		logger: newLoopLogger(cfg.logger),
		poller: poller{epfd: -1},
		batch:  make([]*Source, 0, cfg.maxEvents),
	}
	l.queue = newInvokeQueue(ring)

	if err := l.poller.init(cfg.maxEvents); err != nil {
		return nil, err
	}

	wakeup, err := l.AddEvent(l.drainQueue)
	if err != nil {
		_ = l.poller.close()
		return nil, err
	}
	wakeup.internal = true
	l.wakeup = wakeup

	return l, nil
}

// Fd returns the epoll descriptor. It is readable whenever Iterate would
// find work, so a Loop can be nested inside another poll loop.
func (l *Loop) Fd() int { return l.poller.epfd }

// Stats returns a snapshot of the loop's counters. Safe from any goroutine.
func (l *Loop) Stats() Stats { return l.stats.snapshot() }

// Enter claims the loop for the calling goroutine and locks it to its OS
// thread. Enter calls nest: the loop is released after a matching number
// of Leave calls. Enter from another goroutine while the loop is claimed
// is a usage error, logged and ignored.
func (l *Loop) Enter() {
	id := getGoroutineID()
	if l.owner.CompareAndSwap(0, id) {
		runtime.LockOSThread()
		l.enterCount = 1
		return
	}
	if owner := l.owner.Load(); owner != id {
		l.logger.Err().
			Uint64("owner", owner).
			Uint64("goroutine", id).
			Log("reactor: enter from a goroutine that does not own the loop")
		return
	}
	l.enterCount++
}

// Leave releases one Enter call.
func (l *Loop) Leave() {
	id := getGoroutineID()
	if owner := l.owner.Load(); owner != id {
		l.logger.Err().
			Uint64("owner", owner).
			Uint64("goroutine", id).
			Log("reactor: leave from a goroutine that does not own the loop")
		return
	}
	l.enterCount--
	if l.enterCount > 0 {
		return
	}
	l.enterCount = 0
	l.owner.Store(0)
	runtime.UnlockOSThread()
}

// InThread reports whether the calling goroutine has entered the loop.
func (l *Loop) InThread() bool {
	owner := l.owner.Load()
	return owner != 0 && owner == getGoroutineID()
}

// SetHooks installs functions called immediately before and after each
// poll. Every pre call is matched by exactly one post call, even when the
// poll fails. Either may be nil.
func (l *Loop) SetHooks(pre, post func()) {
	l.preHook = pre
	l.postHook = post
}

// OnBeforeIterate registers fn to run at the start of every Iterate, before
// the pre hook.
func (l *Loop) OnBeforeIterate(fn func()) (remove func()) {
	return l.beforeIterate.add(fn)
}

// OnDestroy registers fn to run at the start of Close.
func (l *Loop) OnDestroy(fn func()) (remove func()) {
	return l.destroy.add(fn)
}

// Iterate polls once, waiting up to timeout milliseconds (negative waits
// forever, zero returns immediately), then dispatches every ready source.
// It returns the number of ready descriptors.
//
// All ready sources have their rmask written before the first callback
// runs. A source whose rmask is zero at its turn is skipped, as is a source
// destroyed earlier in the batch. The rmask is reset after each dispatch.
func (l *Loop) Iterate(timeout int) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}
	if !l.InThread() {
		return 0, ErrNotEntered
	}

	l.beforeIterate.emit()

	if l.preHook != nil {
		l.preHook()
	}
	events, err := l.poller.wait(timeout)
	if l.postHook != nil {
		l.postHook()
	}
	l.stats.iterations.Add(1)
	if l.loopTestHooks != nil && l.loopTestHooks.afterPoll != nil {
		l.loopTestHooks.afterPoll(err)
	}
	if err != nil {
		l.stats.pollErrors.Add(1)
		return 0, err
	}

	batch := l.batch[:0]
	for i := range events {
		s := l.sources.lookup(uint32(events[i].Fd), uint32(events[i].Pad))
		if s == nil {
			continue
		}
		s.rmask = maskFromEpoll(events[i].Events)
		batch = append(batch, s)
	}

	for _, s := range batch {
		if s.loop != l || s.rmask == 0 {
			continue
		}
		s.dispatch(s)
		s.rmask = 0
		l.stats.dispatches.Add(1)
	}

	clear(batch)
	l.batch = batch[:0]

	return len(events), nil
}

// Close runs the destroy listeners, destroys every remaining source,
// discards queued invocations and closes the epoll instance. It must not
// race with Iterate, and producers should stop invoking first. Subsequent
// calls return nil.
func (l *Loop) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.destroy.emit()
	for _, s := range l.sources.sources() {
		l.destroySource(s)
	}
	l.queue.abort(ErrClosed)
	return l.poller.close()
}
