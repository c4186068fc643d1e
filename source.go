//go:build linux

package reactor

import (
	"fmt"
	"sync"
	"syscall"
)

// Kind identifies the variant of a Source.
type Kind uint8

const (
	// KindIO wraps a caller supplied descriptor.
	KindIO Kind = iota + 1
	// KindIdle fires on every iteration while enabled.
	KindIdle
	// KindEvent is a coalescing wakeup, see Loop.SignalEvent.
	KindEvent
	// KindTimer wraps a CLOCK_MONOTONIC timerfd.
	KindTimer
	// KindSignal is dispatched after a process signal.
	KindSignal
)

func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindIdle:
		return "idle"
	case KindEvent:
		return "event"
	case KindTimer:
		return "timer"
	case KindSignal:
		return "signal"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ownership records whether destroying a Source closes its descriptor.
// It is fixed at creation.
type ownership uint8

const (
	borrowed ownership = iota
	owned
)

type (
	// IOFunc is called when an I/O source's descriptor is ready.
	IOFunc func(s *Source, fd int, rmask IOMask)

	// SourceFunc is called when an idle or event source is dispatched.
	SourceFunc func(s *Source)

	// TimerFunc is called when a timer source expires. expirations is the
	// number of expirations since the last dispatch, or 0 if the counter
	// could not be read.
	TimerFunc func(s *Source, expirations uint64)

	// SignalFunc is called after the signal was delivered to the process.
	SignalFunc func(s *Source, sig syscall.Signal)
)

// Source is one thing a Loop waits on. Sources are created by the Loop's
// Add methods and remain registered until DestroySource or Loop.Close.
type Source struct {
	loop     *Loop
	dispatch func(s *Source)
	signal   *signalForwarder
	fd       int
	slot     uint32
	gen      uint32
	mask     IOMask
	rmask    IOMask
	kind     Kind
	own      ownership
	enabled  bool
	internal bool
	// fdMu orders writes from other goroutines against the close in
	// destroySource; dead is set under it.
	fdMu sync.RWMutex
	dead bool
}

// Loop returns the owning Loop, or nil once the source is destroyed.
func (s *Source) Loop() *Loop { return s.loop }

// Kind returns the source variant.
func (s *Source) Kind() Kind { return s.kind }

// Fd returns the descriptor the source is registered with.
func (s *Source) Fd() int { return s.fd }

// Mask returns the interest mask currently registered with the kernel.
func (s *Source) Mask() IOMask { return s.mask }

// RMask returns the readiness observed for the source in the current
// dispatch batch. It is zero outside of a batch.
func (s *Source) RMask() IOMask { return s.rmask }

// SetRMask overwrites the observed readiness. A callback may clear the mask
// of another source to suppress its dispatch for the rest of the batch.
func (s *Source) SetRMask(mask IOMask) { s.rmask = mask }

// Enabled reports whether an idle source is armed.
func (s *Source) Enabled() bool { return s.enabled }

// registry is a slab of sources with free slot reuse. The generation of a
// slot increments on every reuse.
type registry struct {
	slots []registrySlot
	free  []uint32
	live  int
}

type registrySlot struct {
	source *Source
	gen    uint32
}

// link stores s in a free slot and assigns its slot and generation.
func (r *registry) link(s *Source) {
	var idx uint32
	if n := len(r.free); n != 0 {
		idx = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		idx = uint32(len(r.slots))
		r.slots = append(r.slots, registrySlot{})
	}
	slot := &r.slots[idx]
	slot.gen++
	slot.source = s
	s.slot = idx
	s.gen = slot.gen
	r.live++
}

func (r *registry) unlink(s *Source) {
	if int(s.slot) >= len(r.slots) || r.slots[s.slot].source != s {
		return
	}
	r.slots[s.slot].source = nil
	r.free = append(r.free, s.slot)
	r.live--
}

// lookup returns the source in slot idx if its generation matches.
func (r *registry) lookup(idx, gen uint32) *Source {
	if int(idx) >= len(r.slots) {
		return nil
	}
	slot := &r.slots[idx]
	if slot.gen != gen {
		return nil
	}
	return slot.source
}

// sources returns a copy of the live sources, in slot order.
func (r *registry) sources() []*Source {
	out := make([]*Source, 0, r.live)
	for i := range r.slots {
		if s := r.slots[i].source; s != nil {
			out = append(out, s)
		}
	}
	return out
}
