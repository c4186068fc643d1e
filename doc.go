// Package reactor implements a single threaded I/O reactor built on Linux
// epoll, eventfd and timerfd.
//
// # Sources
//
// A [Loop] multiplexes five kinds of [Source]:
//   - I/O sources wrap an arbitrary file descriptor ([Loop.AddIO])
//   - idle sources fire on every iteration while enabled ([Loop.AddIdle])
//   - event sources are coalescing wakeups ([Loop.AddEvent], [Loop.SignalEvent])
//   - timer sources wrap a CLOCK_MONOTONIC timerfd ([Loop.AddTimer])
//   - signal sources deliver one process signal ([Loop.AddSignal])
//
// # Ownership
//
// The loop performs no locking around the source registry. A goroutine
// claims the loop with [Loop.Enter], drives it with [Loop.Iterate] and
// releases it with [Loop.Leave]. Sources must only be added, updated or
// destroyed by that goroutine, or under an external lock that the pre and
// post hooks ([Loop.SetHooks]) hold around each dispatch batch.
//
// [Loop.Invoke] and [Loop.SignalEvent] are safe from any goroutine.
// Invoke runs the function inline when called by the owner, and otherwise
// queues it on a fixed size ring that the owner drains in FIFO order.
//
// # Usage
//
//	l, err := reactor.New(reactor.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer l.Close()
//
//	m, err := reactor.NewMainLoop(l)
//	if err != nil {
//	    return err
//	}
//	_, err = l.AddSignal(syscall.SIGTERM, func(*reactor.Source, syscall.Signal) {
//	    m.Quit()
//	})
//	if err != nil {
//	    return err
//	}
//	return m.Run(ctx)
package reactor
