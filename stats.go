package reactor

import (
	"sync/atomic"
)

// Stats is a snapshot of a Loop's counters.
type Stats struct {
	// Iterations is the number of completed poll calls, successful or not.
	Iterations uint64
	// PollErrors is the number of poll calls that failed.
	PollErrors uint64
	// Dispatches is the number of source callbacks invoked.
	Dispatches uint64
	// Sources is the number of live sources, including internal ones.
	Sources uint64
	// InvokesInline is the number of Invoke calls run on the calling goroutine.
	InvokesInline uint64
	// InvokesQueued is the number of items accepted by the cross thread queue.
	InvokesQueued uint64
	// InvokesRejected is the number of items refused with ErrQueueFull.
	InvokesRejected uint64
	// InvokesRun is the number of queued items executed by the loop.
	InvokesRun uint64
}

type loopStats struct {
	iterations      atomic.Uint64
	pollErrors      atomic.Uint64
	dispatches      atomic.Uint64
	sources         atomic.Int64
	invokesInline   atomic.Uint64
	invokesQueued   atomic.Uint64
	invokesRejected atomic.Uint64
	invokesRun      atomic.Uint64
}

func (x *loopStats) snapshot() Stats {
	sources := x.sources.Load()
	if sources < 0 {
		sources = 0
	}
	return Stats{
		Iterations:      x.iterations.Load(),
		PollErrors:      x.pollErrors.Load(),
		Dispatches:      x.dispatches.Load(),
		Sources:         uint64(sources),
		InvokesInline:   x.invokesInline.Load(),
		InvokesQueued:   x.invokesQueued.Load(),
		InvokesRejected: x.invokesRejected.Load(),
		InvokesRun:      x.invokesRun.Load(),
	}
}
