//go:build linux

package reactor

import (
	"bytes"
	"sync"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// testPipe creates a non-blocking pipe, closed at the end of the test.
// Closing an fd twice is harmless here, since tests may close ends early.
func testPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		_ = unix.Close(p[0])
		_ = unix.Close(p[1])
	})
	return p[0], p[1]
}

func testWrite(t *testing.T, fd int, s string) {
	t.Helper()
	n, err := unix.Write(fd, []byte(s))
	require.NoError(t, err)
	require.Equal(t, len(s), n)
}

// newTestLoop creates a Loop closed at the end of the test.
func newTestLoop(t *testing.T, opts ...Option) *Loop {
	t.Helper()
	l, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// enterTestLoop enters l from the test goroutine until the end of the test.
func enterTestLoop(t *testing.T, l *Loop) {
	t.Helper()
	l.Enter()
	t.Cleanup(l.Leave)
}

// syncBuffer is a bytes.Buffer safe for concurrent writers.
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

func newTestLogger(w *syncBuffer) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(stumpy.WithWriter(w), stumpy.WithTimeField(``)),
		stumpy.L.WithLevel(logiface.LevelDebug),
	).Logger()
}
