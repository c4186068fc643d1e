//go:build linux

package daemon

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
)

// BenchOptions configures Bench.
type BenchOptions struct {
	Logger      *logiface.Logger[logiface.Event]
	Producers   int
	Items       int
	PayloadSize int
	QueueSize   uint32
}

// BenchResult summarizes a Bench run.
type BenchResult struct {
	Elapsed  time.Duration
	Executed int
	// Retries counts submissions repeated after ErrQueueFull.
	Retries int
	Stats   reactor.Stats
}

// Rate is executed items per second.
func (r BenchResult) Rate() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Executed) / r.Elapsed.Seconds()
}

// Bench measures cross goroutine invocation throughput: Producers goroutines
// each submit Items invocations to a loop running on its own goroutine.
func Bench(ctx context.Context, opts BenchOptions) (BenchResult, error) {
	if opts.Producers <= 0 || opts.Items <= 0 || opts.PayloadSize < 0 {
		return BenchResult{}, errors.New("daemon: bench needs positive producers and items")
	}
	if opts.QueueSize == 0 {
		opts.QueueSize = reactor.DefaultQueueSize
	}
	if limit := reactor.MaxInvokeSize(opts.QueueSize); opts.PayloadSize > limit {
		return BenchResult{}, fmt.Errorf("daemon: bench payload %d exceeds %d for queue size %d", opts.PayloadSize, limit, opts.QueueSize)
	}
	l, err := reactor.New(reactor.WithLogger(opts.Logger), reactor.WithQueueSize(opts.QueueSize))
	if err != nil {
		return BenchResult{}, err
	}
	defer l.Close()
	m, err := reactor.NewMainLoop(l)
	if err != nil {
		return BenchResult{}, err
	}
	defer m.Close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- m.Run(runCtx) }()

	// only touched on the loop
	var executed int
	fn := func(*reactor.Loop, bool, uint32, []byte, any) error {
		executed++
		return nil
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		retries int
	)
	start := time.Now()
	for p := 0; p < opts.Producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload := make([]byte, opts.PayloadSize)
			var n int
			for i := 0; i < opts.Items && runCtx.Err() == nil; {
				if _, err := l.Invoke(fn, uint32(i), payload, nil); err != nil {
					if !errors.Is(err, reactor.ErrQueueFull) {
						return
					}
					n++
					runtime.Gosched()
					continue
				}
				i++
			}
			mu.Lock()
			retries += n
			mu.Unlock()
		}()
	}
	wg.Wait()

	// the queue is FIFO, so this completes after every earlier item
	var res BenchResult
	err = l.InvokeBlocking(runCtx, func(*reactor.Loop, bool, uint32, []byte, any) error {
		res.Executed = executed
		return nil
	}, nil, nil)
	res.Elapsed = time.Since(start)
	res.Retries = retries

	m.Quit()
	if rerr := <-runErr; rerr != nil && err == nil && !errors.Is(rerr, context.Canceled) {
		err = rerr
	}
	res.Stats = l.Stats()
	if err != nil {
		return res, fmt.Errorf("daemon: bench: %w", err)
	}
	opts.Logger.Info().
		Int("executed", res.Executed).
		Int("retries", res.Retries).
		Dur("elapsed", res.Elapsed).
		Float64("rate", res.Rate()).
		Log("bench complete")
	return res, nil
}
