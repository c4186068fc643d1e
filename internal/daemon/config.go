package daemon

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
	"github.com/pelletier/go-toml/v2"
)

// Config is the daemon configuration, loaded from a TOML file.
type Config struct {
	// MetricsAddr is the listen address of the prometheus endpoint.
	// Empty disables it.
	MetricsAddr string `toml:"metrics_addr"`
	// LogLevel is one of the syslog level names, e.g. "info" or "debug".
	LogLevel string `toml:"log_level"`
	// Heartbeat is the period of the stats log and systemd watchdog ping.
	Heartbeat Duration `toml:"heartbeat"`
	// Debounce delays a reload after the config file changes.
	Debounce Duration `toml:"debounce"`
	// QueueSize is the invoke queue size in bytes, a power of two.
	QueueSize uint32 `toml:"queue_size"`
	// MaxEvents is the epoll batch size.
	MaxEvents int `toml:"max_events"`
	// Watch enables reloading when the config file changes.
	Watch bool `toml:"watch"`
}

// Duration is a time.Duration encoded as a string such as "5s".
type Duration time.Duration

// UnmarshalText parses a time.ParseDuration string.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText formats d with time.Duration.String.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// DefaultConfig returns the configuration used for fields a file omits.
func DefaultConfig() Config {
	return Config{
		LogLevel:  "info",
		Heartbeat: Duration(10 * time.Second),
		Debounce:  Duration(500 * time.Millisecond),
		QueueSize: reactor.DefaultQueueSize,
		MaxEvents: reactor.DefaultMaxEvents,
		Watch:     true,
	}
}

// LoadConfig reads path over DefaultConfig. Unknown keys are rejected.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("daemon: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("daemon: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field ranges.
func (c Config) Validate() error {
	var errs []error
	if c.Heartbeat <= 0 {
		errs = append(errs, errors.New("heartbeat must be positive"))
	}
	if c.Debounce < 0 {
		errs = append(errs, errors.New("debounce must not be negative"))
	}
	if c.QueueSize < 64 || c.QueueSize&(c.QueueSize-1) != 0 {
		errs = append(errs, errors.New("queue_size must be a power of two >= 64"))
	}
	if c.MaxEvents <= 0 {
		errs = append(errs, errors.New("max_events must be positive"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// LoopOptions maps the config to reactor options.
func (c Config) LoopOptions() []reactor.Option {
	return []reactor.Option{
		reactor.WithQueueSize(c.QueueSize),
		reactor.WithMaxEvents(c.MaxEvents),
	}
}

var levels = map[string]logiface.Level{
	"emerg":   logiface.LevelEmergency,
	"alert":   logiface.LevelAlert,
	"crit":    logiface.LevelCritical,
	"err":     logiface.LevelError,
	"error":   logiface.LevelError,
	"warning": logiface.LevelWarning,
	"warn":    logiface.LevelWarning,
	"notice":  logiface.LevelNotice,
	"info":    logiface.LevelInformational,
	"debug":   logiface.LevelDebug,
	"trace":   logiface.LevelTrace,
}

// ParseLevel maps a level name to a logiface.Level.
func ParseLevel(s string) (logiface.Level, error) {
	if lvl, ok := levels[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return logiface.LevelDisabled, fmt.Errorf("unknown log level %q", s)
}
