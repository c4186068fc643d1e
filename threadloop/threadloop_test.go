//go:build linux

package threadloop

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestThreadLoop(t *testing.T) *ThreadLoop {
	t.Helper()
	l, err := reactor.New()
	require.NoError(t, err)
	x := New(l, "test")
	t.Cleanup(func() {
		assert.NoError(t, x.Stop())
		assert.NoError(t, l.Close())
	})
	return x
}

func TestThreadLoop_StartStop(t *testing.T) {
	x := newTestThreadLoop(t)
	assert.Equal(t, "test", x.Name())
	assert.NoError(t, x.Stop(), "stop before start is a no-op")

	require.NoError(t, x.Start())
	assert.ErrorIs(t, x.Start(), ErrStarted)
	assert.False(t, x.InThread())
	require.NoError(t, x.Stop())

	// restartable
	require.NoError(t, x.Start())
	require.NoError(t, x.Stop())
	assert.Equal(t, uint64(1), x.Loop().Stats().Sources)
}

func TestThreadLoop_WaitSignal(t *testing.T) {
	x := newTestThreadLoop(t)
	require.NoError(t, x.Start())
	l := x.Loop()

	x.Lock()
	var fired, inThread bool
	tm, err := l.AddTimer(func(*reactor.Source, uint64) {
		fired = true
		inThread = x.InThread()
		x.Signal(false)
	})
	require.NoError(t, err)
	require.NoError(t, l.UpdateTimer(tm, 10*time.Millisecond, 0, false))
	x.Wait()
	assert.True(t, fired)
	assert.True(t, inThread)
	l.DestroySource(tm)
	x.Unlock()
}

func TestThreadLoop_SignalWaitForAccept(t *testing.T) {
	x := newTestThreadLoop(t)
	require.NoError(t, x.Start())
	l := x.Loop()

	var stage []string
	x.Lock()
	ev, err := l.AddEvent(func(*reactor.Source) {
		stage = append(stage, "signal")
		x.Signal(true)
		stage = append(stage, "accepted")
		x.Signal(false)
	})
	require.NoError(t, err)
	l.SignalEvent(ev)

	x.Wait()
	assert.Equal(t, []string{"signal"}, stage)
	x.Accept()
	x.Wait()
	assert.Equal(t, []string{"signal", "accepted"}, stage)
	l.DestroySource(ev)
	x.Unlock()
}

func TestThreadLoop_InvokeRunsUnderLock(t *testing.T) {
	x := newTestThreadLoop(t)
	require.NoError(t, x.Start())

	var counter int
	for i := 0; i < 100; i++ {
		err := x.Loop().InvokeBlocking(context.Background(), func(*reactor.Loop, bool, uint32, []byte, any) error {
			counter++
			return nil
		}, nil, nil)
		require.NoError(t, err)
	}
	x.Lock()
	assert.Equal(t, 100, counter)
	x.Unlock()
}

func TestThreadLoop_StopFromLoop(t *testing.T) {
	x := newTestThreadLoop(t)
	require.NoError(t, x.Start())

	errCh := make(chan error, 1)
	_, err := x.Loop().Invoke(func(*reactor.Loop, bool, uint32, []byte, any) error {
		errCh <- x.Stop()
		return nil
	}, reactor.SeqInvalid, nil, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, <-errCh, ErrInThread)
}

type syncBuffer struct {
	buf bytes.Buffer
	mu  sync.Mutex
}

func (x *syncBuffer) Write(p []byte) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.Write(p)
}

func (x *syncBuffer) String() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.buf.String()
}

func TestNew_withLogger(t *testing.T) {
	l, err := reactor.New()
	require.NoError(t, err)
	defer l.Close()

	var logs syncBuffer
	logger := stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(&logs), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
	x := New(l, "logged", nil, WithLogger(logger))
	require.NoError(t, x.Start())
	require.NoError(t, x.Stop())

	out := logs.String()
	assert.Contains(t, out, "threadloop: starting")
	assert.Contains(t, out, "threadloop: stopped")
	assert.Contains(t, out, `"logged"`)
}
