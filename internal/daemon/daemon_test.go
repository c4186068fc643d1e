//go:build linux

package daemon

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/joeycumines/go-reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stateRecorder struct {
	states []string
	mu     sync.Mutex
}

func (x *stateRecorder) notify(state string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.states = append(x.states, state)
	return nil
}

func (x *stateRecorder) get() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.states...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Heartbeat = Duration(5 * time.Millisecond)
	cfg.Watch = false
	return cfg
}

func TestRun_reloadOnSIGHUP(t *testing.T) {
	path := tempConfig(t, `heartbeat = "1m"`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	cfg.Watch = false

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var rec stateRecorder
	var logs syncBuffer
	var reloaded Config
	err = Run(ctx, Options{
		Logger:     newTestLogger(&logs),
		Notify:     rec.notify,
		ConfigPath: path,
		Config:     cfg,
		Ready: func(*reactor.Loop) {
			writeConfig(t, path, "heartbeat = \"1h\"\nwatch = false\n")
			require.NoError(t, syscall.Kill(os.Getpid(), syscall.SIGHUP))
		},
		OnReload: func(c Config) {
			reloaded = c
			cancel()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Duration(time.Hour), reloaded.Heartbeat)

	states := rec.get()
	require.NotEmpty(t, states)
	assert.Equal(t, sddaemon.SdNotifyReady, states[0])
	assert.Equal(t, sddaemon.SdNotifyStopping, states[len(states)-1])
	assert.Contains(t, logs.String(), "config reloaded")
}

func TestRun_heartbeatAndSIGTERM(t *testing.T) {
	var rec stateRecorder
	var logs syncBuffer
	err := Run(context.Background(), Options{
		Logger: newTestLogger(&logs),
		Notify: rec.notify,
		Config: testConfig(),
		Ready: func(l *reactor.Loop) {
			go func() {
				deadline := time.Now().Add(5 * time.Second)
				for time.Now().Before(deadline) {
					if len(rec.get()) >= 3 {
						break
					}
					time.Sleep(time.Millisecond)
				}
				_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
			}()
		},
	})
	require.NoError(t, err)

	states := rec.get()
	require.GreaterOrEqual(t, len(states), 3)
	assert.Contains(t, states, sddaemon.SdNotifyWatchdog)
	assert.Contains(t, logs.String(), "heartbeat")
	assert.Contains(t, logs.String(), "shutting down")
}

func TestRun_metrics(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := testConfig()
	cfg.MetricsAddr = addr
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var body string
	var rec stateRecorder
	err = Run(ctx, Options{
		Notify: rec.notify,
		Config: cfg,
		Ready: func(*reactor.Loop) {
			defer cancel()
			resp, err := http.Get(fmt.Sprintf("http://%s/metrics", addr))
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			b, err := io.ReadAll(resp.Body)
			assert.NoError(t, err)
			body = string(b)
		},
	})
	require.NoError(t, err)
	assert.Contains(t, body, "reactor_loop_iterations_total")
	assert.Contains(t, body, "go_goroutines")
}

func TestRun_invalid(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEvents = 0
	assert.Error(t, Run(context.Background(), Options{Config: cfg}))

	cfg = testConfig()
	cfg.MetricsAddr = "256.0.0.1:bad"
	assert.Error(t, Run(context.Background(), Options{Config: cfg, Notify: new(stateRecorder).notify}))
}
