package daemon

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
	"github.com/stretchr/testify/require"
)

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

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func tempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reactord.toml")
	writeConfig(t, path, content)
	return path
}
