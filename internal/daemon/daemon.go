//go:build linux

// Package daemon runs a reactor loop as a long lived service, with signal
// handling, config reload, a systemd watchdog heartbeat and prometheus
// metrics.
package daemon

import (
	"context"
	"errors"
	"net"
	"net/http"
	"syscall"
	"time"

	sddaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Notifier reports service state, in sd_notify format.
type Notifier func(state string) error

// SystemdNotifier sends state to the service manager. It does nothing when
// not running under systemd.
func SystemdNotifier(state string) error {
	_, err := sddaemon.SdNotify(false, state)
	return err
}

// Options configures Run.
type Options struct {
	Logger *logiface.Logger[logiface.Event]
	// Notify defaults to SystemdNotifier.
	Notify Notifier
	// Ready is called on the loop after the first iteration.
	Ready func(l *reactor.Loop)
	// OnReload is called on the loop after a config was applied.
	OnReload func(cfg Config)
	// ConfigPath is reloaded on SIGHUP and, if Config.Watch is set, when
	// the file changes. Empty disables both.
	ConfigPath string
	Config     Config
}

type service struct {
	logger    *logiface.Logger[logiface.Event]
	notify    Notifier
	onReload  func(Config)
	loop      *reactor.Loop
	main      *reactor.MainLoop
	heartbeat *reactor.Source
	path      string
	cfg       Config
}

// Run serves until ctx is done or a SIGINT or SIGTERM arrives. A ctx
// cancellation is a clean shutdown and returns nil.
func Run(ctx context.Context, opts Options) error {
	if err := opts.Config.Validate(); err != nil {
		return err
	}
	s := &service{
		logger:   opts.Logger,
		notify:   opts.Notify,
		onReload: opts.OnReload,
		path:     opts.ConfigPath,
		cfg:      opts.Config,
	}
	if s.notify == nil {
		s.notify = SystemdNotifier
	}

	var err error
	if s.loop, err = reactor.New(append(s.cfg.LoopOptions(), reactor.WithLogger(s.logger))...); err != nil {
		return err
	}
	defer s.loop.Close()
	if s.main, err = reactor.NewMainLoop(s.loop); err != nil {
		return err
	}
	defer s.main.Close()

	if err := s.addSignals(); err != nil {
		return err
	}

	if s.heartbeat, err = s.loop.AddTimer(s.beat); err != nil {
		return err
	}
	if err := s.loop.UpdateTimer(s.heartbeat, 0, time.Duration(s.cfg.Heartbeat), false); err != nil {
		return err
	}

	if s.path != "" && s.cfg.Watch {
		w, err := NewWatcher(s.loop, s.path, time.Duration(s.cfg.Debounce), s.logger, func() { s.reload("watch") })
		if err != nil {
			return err
		}
		defer w.Close()
	}

	if s.cfg.MetricsAddr != "" {
		shutdown, err := s.serveMetrics(s.cfg.MetricsAddr)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	ready, err := s.loop.AddIdle(true, func(src *reactor.Source) {
		s.loop.EnableIdle(src, false)
		s.logger.Info().Log("reactor daemon running")
		s.sendState(sddaemon.SdNotifyReady)
		if opts.Ready != nil {
			opts.Ready(s.loop)
		}
	})
	if err != nil {
		return err
	}
	defer s.loop.DestroySource(ready)

	err = s.main.Run(ctx)
	s.sendState(sddaemon.SdNotifyStopping)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	s.logger.Info().Log("reactor daemon stopped")
	return err
}

func (s *service) addSignals() error {
	quit := func(_ *reactor.Source, sig syscall.Signal) {
		s.logger.Notice().Str("signal", sig.String()).Log("shutting down")
		s.main.Quit()
	}
	for _, sig := range []syscall.Signal{syscall.SIGINT, syscall.SIGTERM} {
		if _, err := s.loop.AddSignal(sig, quit); err != nil {
			return err
		}
	}
	_, err := s.loop.AddSignal(syscall.SIGHUP, func(*reactor.Source, syscall.Signal) {
		s.reload("signal")
	})
	return err
}

func (s *service) beat(_ *reactor.Source, expirations uint64) {
	st := s.loop.Stats()
	s.logger.Debug().
		Uint64("expirations", expirations).
		Uint64("iterations", st.Iterations).
		Uint64("dispatches", st.Dispatches).
		Uint64("sources", st.Sources).
		Uint64("invokes_queued", st.InvokesQueued).
		Uint64("invokes_rejected", st.InvokesRejected).
		Log("heartbeat")
	s.sendState(sddaemon.SdNotifyWatchdog)
}

func (s *service) sendState(state string) {
	if err := s.notify(state); err != nil {
		s.logger.Warning().Err(err).Str("state", state).Log("service notify failed")
	}
}

// reload runs on the loop. Only the heartbeat and debounce apply live; other
// changes are logged and wait for a restart.
func (s *service) reload(reason string) {
	if s.path == "" {
		s.logger.Notice().Str("reason", reason).Log("reload ignored without a config file")
		return
	}
	cfg, err := LoadConfig(s.path)
	if err != nil {
		s.logger.Err().Err(err).Str("reason", reason).Log("config reload failed")
		return
	}
	if cfg.Heartbeat != s.cfg.Heartbeat {
		if err := s.loop.UpdateTimer(s.heartbeat, 0, time.Duration(cfg.Heartbeat), false); err != nil {
			s.logger.Err().Err(err).Log("heartbeat update failed")
			return
		}
	}
	if cfg.MetricsAddr != s.cfg.MetricsAddr || cfg.LogLevel != s.cfg.LogLevel ||
		cfg.QueueSize != s.cfg.QueueSize || cfg.MaxEvents != s.cfg.MaxEvents || cfg.Watch != s.cfg.Watch {
		s.logger.Notice().Log("config changes other than heartbeat need a restart")
	}
	s.cfg = cfg
	s.logger.Info().Str("reason", reason).Dur("heartbeat", time.Duration(cfg.Heartbeat)).Log("config reloaded")
	if s.onReload != nil {
		s.onReload(cfg)
	}
}

// serveMetrics binds addr before returning, so listen errors fail Run.
func (s *service) serveMetrics(addr string) (shutdown func(), err error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(s.loop.Stats, nil),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Err().Err(err).Log("metrics server failed")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Log("metrics listening")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		<-done
	}, nil
}
