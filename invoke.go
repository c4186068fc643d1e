//go:build linux

package reactor

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"sync"

	"github.com/joeycumines/go-reactor/ringbuffer"
)

// SeqInvalid marks an Invoke whose caller does not track completion.
const SeqInvalid uint32 = math.MaxUint32

// InvokeFunc runs on the loop goroutine. data is only valid for the
// duration of the call.
type InvokeFunc func(l *Loop, inThread bool, seq uint32, data []byte, userData any) error

// InvokeResult reports how Invoke delivered the function.
type InvokeResult uint8

const (
	// InvokeDone means the function ran before Invoke returned.
	InvokeDone InvokeResult = iota
	// InvokeQueued means the function was queued with SeqInvalid.
	InvokeQueued
	// InvokeAsync means the function was queued and is identified by the
	// sequence number passed to Invoke.
	InvokeAsync
)

func (r InvokeResult) String() string {
	switch r {
	case InvokeDone:
		return "done"
	case InvokeQueued:
		return "queued"
	case InvokeAsync:
		return "async"
	default:
		return "unknown"
	}
}

const (
	// itemAlign is the alignment of every item in the queue.
	itemAlign = 8
	// itemHeaderSize is the encoded size of an item header:
	// footprint, seq, data size, data offset.
	itemHeaderSize = 16
)

// invokeRef carries the parts of an item that cannot be encoded as bytes.
type invokeRef struct {
	fn       InvokeFunc
	userData any
	done     chan<- error
}

// invokeQueue is the cross thread channel. Producers are serialised by mu;
// the loop goroutine is the only consumer. Each item is a header followed
// by its data, padded to itemAlign. When the data does not fit before the
// end of the ring it is placed at the start, and the item's footprint
// covers the skipped tail.
type invokeQueue struct {
	ring *ringbuffer.RingBuffer
	refs []invokeRef
	mu   sync.Mutex
}

func newInvokeQueue(ring *ringbuffer.RingBuffer) *invokeQueue {
	return &invokeQueue{
		ring: ring,
		refs: make([]invokeRef, ring.Size()/itemAlign),
	}
}

func roundUp(v, n uint32) uint32 {
	return (v + n - 1) &^ (n - 1)
}

// MaxInvokeSize returns the largest data a queue of queueSize bytes
// accepts, as configured with WithQueueSize.
func MaxInvokeSize(queueSize uint32) int {
	if queueSize <= itemHeaderSize {
		return 0
	}
	return int(queueSize - itemHeaderSize)
}

// push writes one item. It returns ErrInvokeSize for data that can never
// fit and ErrQueueFull when there is currently insufficient space.
func (q *invokeQueue) push(ref invokeRef, seq uint32, data []byte) error {
	ringSize := q.ring.Size()
	if len(data) > MaxInvokeSize(ringSize) {
		return ErrInvokeSize
	}
	size := uint32(len(data))

	q.mu.Lock()
	defer q.mu.Unlock()

	idx, filled := q.ring.WriteIndex()
	if filled < 0 || uint32(filled) > ringSize {
		return ErrQueueFull
	}
	avail := ringSize - uint32(filled)
	if avail < itemHeaderSize {
		return ErrQueueFull
	}

	offset := q.ring.Offset(idx)
	l0 := ringSize - offset

	if l0 < roundUp(itemHeaderSize+size, itemAlign) && l0+size > ringSize {
		// Neither the tail nor a wrapped placement can hold the item, so the
		// tail is skipped with an empty item and the next one starts at 0.
		if avail < l0 {
			return ErrQueueFull
		}
		q.writeHeader(idx, l0, SeqInvalid, 0, offset+itemHeaderSize)
		q.refs[offset/itemAlign] = invokeRef{}
		idx += l0
		avail -= l0
		offset, l0 = 0, ringSize
		q.ring.WriteUpdate(idx)
	}

	footprint := roundUp(itemHeaderSize+size, itemAlign)
	var dataOffset uint32
	if l0 >= footprint {
		dataOffset = offset + itemHeaderSize
		if l0 < itemHeaderSize+footprint {
			// no room for another header before the end
			footprint = l0
		}
	} else {
		dataOffset = 0
		footprint = roundUp(l0+size, itemAlign)
	}
	if avail < footprint {
		return ErrQueueFull
	}

	q.writeHeader(idx, footprint, seq, size, dataOffset)
	copy(q.ring.Bytes()[dataOffset:dataOffset+size], data)
	q.refs[offset/itemAlign] = ref

	q.ring.WriteUpdate(idx + footprint)
	return nil
}

func (q *invokeQueue) writeHeader(idx, footprint, seq, size, dataOffset uint32) {
	var hdr [itemHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], footprint)
	binary.LittleEndian.PutUint32(hdr[4:], seq)
	binary.LittleEndian.PutUint32(hdr[8:], size)
	binary.LittleEndian.PutUint32(hdr[12:], dataOffset)
	q.ring.WriteData(idx, hdr[:])
}

// abort discards every queued item, failing blocked callers with err.
func (q *invokeQueue) abort(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.refs {
		if done := q.refs[i].done; done != nil {
			done <- err
		}
		q.refs[i] = invokeRef{}
	}
	idx, _ := q.ring.WriteIndex()
	q.ring.ReadUpdate(idx)
}

// Invoke runs fn on the loop goroutine. Called by the goroutine that
// entered the loop, fn runs immediately with inThread set, and its error
// is returned with InvokeDone. Otherwise fn and a copy of data are queued
// and the loop is woken; the result is InvokeQueued when seq is SeqInvalid
// and InvokeAsync otherwise. Items from one goroutine run in the order
// they were queued. ErrQueueFull is returned, and nothing is queued, when
// the queue lacks space. Safe from any goroutine.
func (l *Loop) Invoke(fn InvokeFunc, seq uint32, data []byte, userData any) (InvokeResult, error) {
	if fn == nil {
		return InvokeDone, nil
	}
	if l.InThread() {
		l.stats.invokesInline.Add(1)
		return InvokeDone, fn(l, true, seq, data, userData)
	}
	if err := l.enqueue(invokeRef{fn: fn, userData: userData}, seq, data); err != nil {
		return InvokeDone, err
	}
	if seq == SeqInvalid {
		return InvokeQueued, nil
	}
	return InvokeAsync, nil
}

// InvokeBlocking is Invoke that waits for the queued function to run and
// returns its error. If ctx ends first ctx.Err() is returned, and the
// function still runs later.
func (l *Loop) InvokeBlocking(ctx context.Context, fn InvokeFunc, data []byte, userData any) error {
	if fn == nil {
		return nil
	}
	if l.InThread() {
		l.stats.invokesInline.Add(1)
		return fn(l, true, SeqInvalid, data, userData)
	}
	done := make(chan error, 1)
	if err := l.enqueue(invokeRef{fn: fn, userData: userData, done: done}, SeqInvalid, data); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) enqueue(ref invokeRef, seq uint32, data []byte) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := l.queue.push(ref, seq, data); err != nil {
		l.stats.invokesRejected.Add(1)
		if errors.Is(err, ErrInvokeSize) {
			return err
		}
		l.logger.limitedWarning(logCategoryQueueFull).
			Int("size", len(data)).
			Uint64("rejected", l.stats.invokesRejected.Load()).
			Log("reactor: invoke queue full")
		// push may have published tail padding, which only the loop reclaims
		l.SignalEvent(l.wakeup)
		return ErrQueueFull
	}
	l.stats.invokesQueued.Add(1)
	l.SignalEvent(l.wakeup)
	return nil
}

// drainQueue is the wakeup source's callback. It runs every item visible
// at entry and any queued while it runs.
func (l *Loop) drainQueue(*Source) {
	q := l.queue
	var hdr [itemHeaderSize]byte
	for {
		idx, avail := q.ring.ReadIndex()
		if avail < itemHeaderSize {
			return
		}
		q.ring.ReadData(idx, hdr[:])
		footprint := binary.LittleEndian.Uint32(hdr[0:])
		seq := binary.LittleEndian.Uint32(hdr[4:])
		size := binary.LittleEndian.Uint32(hdr[8:])
		dataOffset := binary.LittleEndian.Uint32(hdr[12:])

		slot := q.ring.Offset(idx) / itemAlign
		ref := q.refs[slot]
		q.refs[slot] = invokeRef{}
		if ref.fn == nil {
			// padding
			q.ring.ReadUpdate(idx + footprint)
			continue
		}

		err := ref.fn(l, true, seq, q.ring.Bytes()[dataOffset:dataOffset+size:dataOffset+size], ref.userData)
		l.stats.invokesRun.Add(1)
		if ref.done != nil {
			ref.done <- err
		}

		q.ring.ReadUpdate(idx + footprint)
	}
}
