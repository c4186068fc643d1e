//go:build linux

package reactor

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrRunning is returned by MainLoop.Run when the loop is already running.
var ErrRunning = errors.New("reactor: main loop already running")

// MainLoop drives a Loop on the calling goroutine until Quit.
type MainLoop struct {
	loop    *Loop
	quit    *Source
	active  atomic.Bool
	running bool
}

// NewMainLoop creates a MainLoop for l. It registers one event source on l,
// so it must be called by the goroutine that owns l, or before l runs.
func NewMainLoop(l *Loop) (*MainLoop, error) {
	m := &MainLoop{loop: l}
	quit, err := l.AddEvent(func(*Source) {
		m.running = false
	})
	if err != nil {
		return nil, err
	}
	m.quit = quit
	return m, nil
}

// Loop returns the underlying Loop.
func (m *MainLoop) Loop() *Loop { return m.loop }

// Run enters the loop and iterates until Quit is called or ctx is done,
// then leaves. A Quit that happened before Run makes Run return after its
// first iteration. Run returns the error of a failed poll, ctx.Err() if
// ctx ended the run, or nil.
func (m *MainLoop) Run(ctx context.Context) error {
	if !m.active.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer m.active.Store(false)

	l := m.loop
	l.Enter()
	defer l.Leave()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			m.Quit()
		case <-stop:
		}
	}()

	m.running = true
	for m.running {
		if _, err := l.Iterate(-1); err != nil {
			l.logger.Err().Err(err).Log("reactor: main loop iterate failed")
			return err
		}
	}
	return ctx.Err()
}

// Quit stops Run after the current iteration. Safe from any goroutine.
func (m *MainLoop) Quit() {
	m.loop.SignalEvent(m.quit)
}

// Close destroys the quit source. It must not be called while Run is
// active.
func (m *MainLoop) Close() {
	m.loop.DestroySource(m.quit)
}
