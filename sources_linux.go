//go:build linux

package reactor

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// addSource links s, registers its descriptor and, on failure, unlinks it
// again so a failed add leaves no trace in the registry.
func (l *Loop) addSource(s *Source) error {
	if l.closed.Load() {
		return ErrClosed
	}
	s.loop = l
	l.sources.link(s)
	if err := l.poller.add(s.fd, s.mask, s.slot, s.gen); err != nil {
		l.sources.unlink(s)
		s.loop = nil
		return err
	}
	l.stats.sources.Add(1)
	return nil
}

// addOwnedSource registers a source backed by a descriptor the loop
// created, closing the descriptor if registration fails.
func (l *Loop) addOwnedSource(s *Source) (*Source, error) {
	s.own = owned
	if err := l.addSource(s); err != nil {
		_ = closeFD(s.fd)
		return nil, err
	}
	return s, nil
}

func (l *Loop) owns(s *Source, kind Kind) bool {
	return s != nil && s.loop == l && s.kind == kind
}

// AddIO registers fd with the given interest mask. If closeOnDestroy is
// set the descriptor is closed when the source is destroyed; on error the
// caller keeps ownership either way.
func (l *Loop) AddIO(fd int, mask IOMask, closeOnDestroy bool, fn IOFunc) (*Source, error) {
	if fd < 0 {
		return nil, ErrInvalidFD
	}
	if fn == nil {
		return nil, ErrInvalidSource
	}
	s := &Source{
		kind: KindIO,
		fd:   fd,
		mask: mask,
		dispatch: func(s *Source) {
			fn(s, s.fd, s.rmask)
		},
	}
	if closeOnDestroy {
		s.own = owned
	}
	if err := l.addSource(s); err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateIO replaces the interest mask of an I/O source. The new mask is
// only recorded once the kernel accepted it.
func (l *Loop) UpdateIO(s *Source, mask IOMask) error {
	if !l.owns(s, KindIO) {
		return ErrInvalidSource
	}
	if err := l.poller.modify(s.fd, mask, s.slot, s.gen); err != nil {
		return err
	}
	s.mask = mask
	return nil
}

// AddIdle registers an idle source. While enabled it is dispatched on every
// iteration.
func (l *Loop) AddIdle(enabled bool, fn SourceFunc) (*Source, error) {
	if fn == nil {
		return nil, ErrInvalidSource
	}
	fd, err := createEventFD()
	if err != nil {
		return nil, err
	}
	s, err := l.addOwnedSource(&Source{
		kind: KindIdle,
		fd:   fd,
		mask: MaskIn,
		dispatch: func(s *Source) {
			fn(s)
		},
	})
	if err != nil {
		return nil, err
	}
	l.EnableIdle(s, enabled)
	return s, nil
}

// EnableIdle arms or disarms an idle source. Failures are logged; a missed
// update corrects itself on a later call.
func (l *Loop) EnableIdle(s *Source, enabled bool) {
	if !l.owns(s, KindIdle) || s.enabled == enabled {
		return
	}
	s.enabled = enabled
	var err error
	if enabled {
		err = writeCounter(s.fd, 1)
	} else {
		_, err = readCounter(s.fd)
	}
	if err != nil {
		l.logger.Warning().
			Err(err).
			Int("fd", s.fd).
			Bool("enabled", enabled).
			Log("reactor: failed to update idle source")
	}
}

// AddEvent registers an event source. Signals raised between two dispatches
// are coalesced into one callback.
func (l *Loop) AddEvent(fn SourceFunc) (*Source, error) {
	if fn == nil {
		return nil, ErrInvalidSource
	}
	fd, err := createEventFD()
	if err != nil {
		return nil, err
	}
	return l.addOwnedSource(&Source{
		kind: KindEvent,
		fd:   fd,
		mask: MaskIn,
		dispatch: func(s *Source) {
			if _, err := readCounter(s.fd); err != nil {
				l.logger.Warning().
					Err(err).
					Int("fd", s.fd).
					Log("reactor: failed to read event counter")
			}
			fn(s)
		},
	})
}

// SignalEvent marks an event source ready. Safe from any goroutine. A
// destroyed source is ignored.
func (l *Loop) SignalEvent(s *Source) {
	if s == nil || s.kind != KindEvent {
		return
	}
	s.fdMu.RLock()
	defer s.fdMu.RUnlock()
	if s.dead {
		return
	}
	if err := writeCounter(s.fd, 1); err != nil {
		l.logger.Warning().
			Err(err).
			Int("fd", s.fd).
			Log("reactor: failed to signal event")
	}
}

// AddTimer registers a disarmed timer source; arm it with UpdateTimer.
func (l *Loop) AddTimer(fn TimerFunc) (*Source, error) {
	if fn == nil {
		return nil, ErrInvalidSource
	}
	fd, err := createTimerFD()
	if err != nil {
		return nil, err
	}
	return l.addOwnedSource(&Source{
		kind: KindTimer,
		fd:   fd,
		mask: MaskIn,
		dispatch: func(s *Source) {
			expirations, err := readCounter(s.fd)
			if err != nil {
				l.logger.Warning().
					Err(err).
					Int("fd", s.fd).
					Log("reactor: failed to read timer expirations")
			}
			fn(s, expirations)
		},
	})
}

// UpdateTimer arms a timer source to first expire after value, then every
// interval. An interval of zero makes the timer one-shot. If absolute is
// set, value is a CLOCK_MONOTONIC time (see MonotonicNow). A zero value and
// zero interval disarms the timer; a zero value with a nonzero interval
// first expires one interval from now.
func (l *Loop) UpdateTimer(s *Source, value, interval time.Duration, absolute bool) error {
	if !l.owns(s, KindTimer) {
		return ErrInvalidSource
	}
	if value < 0 || interval < 0 {
		return ErrInvalidTimer
	}
	if value == 0 && interval > 0 {
		value = interval
		absolute = false
	}
	spec := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(int64(value)),
		Interval: unix.NsecToTimespec(int64(interval)),
	}
	var flags int
	if absolute && value != 0 {
		flags = unix.TFD_TIMER_ABSTIME
	}
	if err := unix.TimerfdSettime(s.fd, flags, &spec, nil); err != nil {
		return fmt.Errorf("reactor: timerfd_settime fd %d: %w", s.fd, err)
	}
	return nil
}

// signalForwarder relays deliveries from os/signal to an eventfd.
type signalForwarder struct {
	ch   chan os.Signal
	done chan struct{}
}

func (x *signalForwarder) stop() {
	signal.Stop(x.ch)
	close(x.ch)
	<-x.done
}

// AddSignal registers a source dispatched after sig is delivered to the
// process. While the source exists sig no longer has its default effect
// (for SIGINT and SIGTERM, terminating the process); this is process wide.
// Deliveries between two dispatches are coalesced.
func (l *Loop) AddSignal(sig syscall.Signal, fn SignalFunc) (*Source, error) {
	if fn == nil {
		return nil, ErrInvalidSource
	}
	fd, err := createEventFD()
	if err != nil {
		return nil, err
	}
	s, err := l.addOwnedSource(&Source{
		kind: KindSignal,
		fd:   fd,
		mask: MaskIn,
		dispatch: func(s *Source) {
			if _, err := readCounter(s.fd); err != nil {
				l.logger.Warning().
					Err(err).
					Int("fd", s.fd).
					Int("signal", int(sig)).
					Log("reactor: failed to read signal counter")
			}
			fn(s, sig)
		},
	})
	if err != nil {
		return nil, err
	}

	fwd := &signalForwarder{
		ch:   make(chan os.Signal, 1),
		done: make(chan struct{}),
	}
	signal.Notify(fwd.ch, sig)
	go func() {
		defer close(fwd.done)
		for range fwd.ch {
			if err := writeCounter(fd, 1); err != nil {
				l.logger.Warning().
					Err(err).
					Int("fd", fd).
					Int("signal", int(sig)).
					Log("reactor: failed to forward signal")
			}
		}
	}()
	s.signal = fwd

	return s, nil
}

// DestroySource removes s from the loop, closing its descriptor if the
// loop owns it. A descriptor already closed elsewhere is tolerated.
// Destroying a source twice, or the loop's internal wakeup source, does
// nothing.
func (l *Loop) DestroySource(s *Source) {
	if s == nil || s.loop != l || s.internal {
		return
	}
	l.destroySource(s)
}

func (l *Loop) destroySource(s *Source) {
	if err := l.poller.remove(s.fd); err != nil {
		l.logger.Warning().
			Err(err).
			Int("fd", s.fd).
			Stringer("kind", s.kind).
			Log("reactor: failed to remove source")
	}
	if s.signal != nil {
		s.signal.stop()
		s.signal = nil
	}
	s.fdMu.Lock()
	s.dead = true
	if s.own == owned {
		if err := closeFD(s.fd); err != nil {
			l.logger.Warning().
				Err(err).
				Int("fd", s.fd).
				Stringer("kind", s.kind).
				Log("reactor: failed to close source descriptor")
		}
	}
	s.fdMu.Unlock()
	l.sources.unlink(s)
	l.stats.sources.Add(-1)
	s.loop = nil
	s.rmask = 0
}
