//go:build linux

package reactor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMainLoop_Quit(t *testing.T) {
	l := newTestLoop(t)
	m, err := NewMainLoop(l)
	require.NoError(t, err)
	defer m.Close()
	assert.Same(t, l, m.Loop())

	var ticks int
	tm, err := l.AddTimer(func(*Source, uint64) {
		ticks++
		if ticks == 3 {
			m.Quit()
		}
	})
	require.NoError(t, err)
	require.NoError(t, l.UpdateTimer(tm, 0, 5*time.Millisecond, false))

	require.NoError(t, m.Run(context.Background()))
	assert.Equal(t, 3, ticks)
	assert.False(t, l.InThread())
}

func TestMainLoop_QuitBeforeRun(t *testing.T) {
	l := newTestLoop(t)
	m, err := NewMainLoop(l)
	require.NoError(t, err)

	m.Quit()
	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not observe the earlier quit")
	}
	assert.Equal(t, uint64(1), l.Stats().Iterations)
}

func TestMainLoop_contextCancel(t *testing.T) {
	l := newTestLoop(t)
	m, err := NewMainLoop(l)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	err = m.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMainLoop_alreadyRunning(t *testing.T) {
	l := newTestLoop(t)
	m, err := NewMainLoop(l)
	require.NoError(t, err)

	started := make(chan struct{})
	_, err = l.AddIdle(true, func(s *Source) {
		l.EnableIdle(s, false)
		close(started)
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()
	<-started

	assert.ErrorIs(t, m.Run(context.Background()), ErrRunning)
	m.Quit()
	require.NoError(t, <-done)
}

func TestMainLoop_pollError(t *testing.T) {
	var logs syncBuffer
	l := newTestLoop(t, WithLogger(newTestLogger(&logs)))
	m, err := NewMainLoop(l)
	require.NoError(t, err)

	_, err = l.AddIdle(true, func(*Source) {
		// closing the poll descriptor makes the next wait fail
		_ = closeFD(l.poller.epfd)
		l.poller.epfd = -1
	})
	require.NoError(t, err)

	err = m.Run(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
	assert.Contains(t, logs.String(), "main loop iterate failed")
}
