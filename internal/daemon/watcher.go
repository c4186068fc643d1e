//go:build linux

package daemon

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joeycumines/go-reactor"
	"github.com/joeycumines/logiface"
)

// Watcher reports changes to a single file on a reactor loop. Filesystem
// events arrive on a goroutine and are forwarded with Loop.Invoke; a timer
// source on the loop debounces them, so onChange always runs on the loop.
type Watcher struct {
	loop     *reactor.Loop
	fs       *fsnotify.Watcher
	timer    *reactor.Source
	onChange func()
	logger   *logiface.Logger[logiface.Event]
	done     chan struct{}
	path     string
	debounce time.Duration
	once     sync.Once
}

// NewWatcher starts watching path. The parent directory is watched rather
// than the file, as editors commonly replace files on save. It registers a
// timer on l, so it must be called by the goroutine owning l, or before l
// runs.
func NewWatcher(l *reactor.Loop, path string, debounce time.Duration, logger *logiface.Logger[logiface.Event], onChange func()) (*Watcher, error) {
	if onChange == nil {
		return nil, errors.New("daemon: nil watcher callback")
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		loop:     l,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
		path:     path,
		debounce: debounce,
	}
	if w.timer, err = l.AddTimer(w.expired); err != nil {
		return nil, err
	}
	if w.fs, err = fsnotify.NewWatcher(); err != nil {
		l.DestroySource(w.timer)
		return nil, err
	}
	if err := w.fs.Add(filepath.Dir(path)); err != nil {
		_ = w.fs.Close()
		l.DestroySource(w.timer)
		return nil, err
	}
	go w.forward()
	w.logger.Info().Str("path", path).Dur("debounce", debounce).Log("config watcher started")
	return w, nil
}

func (w *Watcher) forward() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path || !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			w.logger.Debug().Str("op", ev.Op.String()).Log("config file change detected")
			if _, err := w.loop.Invoke(w.arm, reactor.SeqInvalid, nil, nil); err != nil {
				w.logger.Warning().Err(err).Log("config change dropped")
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warning().Err(err).Log("config watcher error")
		}
	}
}

// arm restarts the debounce timer, on the loop.
func (w *Watcher) arm(l *reactor.Loop, _ bool, _ uint32, _ []byte, _ any) error {
	if w.timer.Loop() == nil {
		return nil
	}
	if w.debounce <= 0 {
		w.onChange()
		return nil
	}
	return l.UpdateTimer(w.timer, w.debounce, 0, false)
}

func (w *Watcher) expired(*reactor.Source, uint64) {
	w.logger.Info().Str("path", w.path).Log("config file changed")
	w.onChange()
}

// Close stops watching and waits for the forwarding goroutine. Like
// NewWatcher, it must be called by the goroutine owning the loop, or after
// the loop stopped.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		err = w.fs.Close()
		<-w.done
		w.loop.DestroySource(w.timer)
	})
	return err
}
