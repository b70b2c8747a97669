// Package ring provides a fixed-capacity circular buffer of audio samples that
// is shared between exactly one producer goroutine and exactly one consumer
// goroutine without locks.
//
// The producer is usually a real-time device callback or a transport receive
// goroutine; the consumer is the transmit pump or the playback callback.
// Neither side ever blocks or allocates after [New]. When the producer outruns
// the consumer the oldest unread samples are overwritten: for live voice the
// newest audio is the one worth keeping.
//
// Positions are tracked as monotonically increasing 64-bit counters, and a
// slot index is the position modulo the capacity. The producer only ever
// stores the write counters and the consumer only ever stores the read
// counter. A consumer that finds itself more than one capacity behind simply
// skips ahead to the oldest sample that still exists.
package ring

import (
	"errors"
	"sync/atomic"
)

// ErrEmptyBuffer is returned by [Ring.Pop] when no sample is available.
var ErrEmptyBuffer = errors.New("ring: buffer is empty")

// maxCopyRetries bounds how often PopSlice restarts a copy whose every sample
// was overwritten by the producer while it was being read.
const maxCopyRetries = 4

// Sample is the set of fixed-width integer PCM sample types a [Ring] can hold.
// Every member fits losslessly into an int64 slot.
type Sample interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32
}

// pad keeps the producer-owned and consumer-owned counters on separate cache
// lines.
type pad [56]byte

// Ring is a single-producer/single-consumer sample ring with an
// overwrite-oldest overflow policy.
//
// Push, PushSlice are producer operations. Pop, PopSlice and PopAllRemaining
// are consumer operations. Remaining, IsEmpty, Capacity and Dropped may be
// called from any goroutine and return a snapshot.
type Ring[T Sample] struct {
	slots []atomic.Int64
	size  uint64

	// scratch is consumer-owned; a copy lands here first so that samples
	// overwritten mid-copy never reach the caller's buffer.
	scratch []T

	// write counts samples the producer has committed.
	write atomic.Uint64
	// claim runs ahead of write while the producer is storing a batch; slots
	// for positions below claim-size may already hold newer samples.
	claim atomic.Uint64
	_     pad

	// read counts samples the consumer has taken or skipped.
	read atomic.Uint64
	_    pad

	dropped atomic.Uint64
}

// New returns an empty ring that holds up to capacity samples. It panics if
// capacity is not positive.
func New[T Sample](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("ring: capacity must be positive")
	}
	return &Ring[T]{
		slots:   make([]atomic.Int64, capacity),
		size:    uint64(capacity),
		scratch: make([]T, capacity),
	}
}

// Capacity returns the fixed number of samples the ring can hold.
func (r *Ring[T]) Capacity() int {
	return int(r.size)
}

// Remaining returns the number of samples the consumer could pop right now.
// The value never exceeds [Ring.Capacity].
func (r *Ring[T]) Remaining() int {
	// read first: it never runs ahead of a write value loaded after it.
	rd := r.read.Load()
	w := r.write.Load()
	return int(min(w-rd, r.size))
}

// IsEmpty reports whether no sample is available to the consumer.
func (r *Ring[T]) IsEmpty() bool {
	rd := r.read.Load()
	return r.write.Load() == rd
}

// Dropped returns the total number of samples lost to overwrite since the
// ring was created.
func (r *Ring[T]) Dropped() uint64 {
	return r.dropped.Load()
}

// Push appends one sample. It never fails and never blocks; when the ring is
// full the oldest unread sample is overwritten.
func (r *Ring[T]) Push(v T) {
	w := r.write.Load()
	r.countOverflow(w, 1)
	r.claim.Store(w + 1)
	r.slots[w%r.size].Store(int64(v))
	r.write.Store(w + 1)
}

// PushSlice appends src[offset:offset+count]. It never fails and never
// blocks. If the ring overflows, the oldest unread samples are overwritten
// first. If count exceeds the capacity, only the newest Capacity samples of
// the call are kept.
func (r *Ring[T]) PushSlice(src []T, offset, count int) {
	if count <= 0 {
		return
	}
	data := src[offset : offset+count]
	if skipped := len(data) - int(r.size); skipped > 0 {
		r.dropped.Add(uint64(skipped))
		data = data[skipped:]
	}

	n := uint64(len(data))
	w := r.write.Load()
	r.countOverflow(w, n)
	r.claim.Store(w + n)

	idx := w % r.size
	for _, v := range data {
		r.slots[idx].Store(int64(v))
		idx++
		if idx == r.size {
			idx = 0
		}
	}
	r.write.Store(w + n)
}

// countOverflow adds the number of unread samples that pushing n more at
// write position w will overwrite.
func (r *Ring[T]) countOverflow(w, n uint64) {
	used := w - r.read.Load()
	before := overflow(used, r.size)
	after := overflow(used+n, r.size)
	if after > before {
		r.dropped.Add(after - before)
	}
}

func overflow(used, size uint64) uint64 {
	if used > size {
		return used - size
	}
	return 0
}

// Pop removes and returns the oldest available sample. It returns
// [ErrEmptyBuffer] when the ring is empty.
func (r *Ring[T]) Pop() (T, error) {
	var one [1]T
	if r.PopSlice(one[:], 0, 1) == 0 {
		var zero T
		return zero, ErrEmptyBuffer
	}
	return one[0], nil
}

// PopSlice copies up to count of the oldest available samples into
// dst[offset:] and returns how many were copied. It never blocks, never pads
// and never writes past dst[offset+n-1].
func (r *Ring[T]) PopSlice(dst []T, offset, count int) int {
	if count <= 0 {
		return 0
	}
	for range maxCopyRetries {
		w := r.write.Load()
		rd := r.read.Load()
		if w-rd > r.size {
			rd = w - r.size
		}
		n := min(uint64(count), w-rd)
		if n == 0 {
			return 0
		}

		out := r.scratch[:n]
		idx := rd % r.size
		for i := range out {
			out[i] = T(r.slots[idx].Load())
			idx++
			if idx == r.size {
				idx = 0
			}
		}

		// Positions below claim-size were overwritten while we copied.
		var lost uint64
		if c := r.claim.Load(); c > r.size && c-r.size > rd {
			lost = min(c-r.size-rd, n)
		}
		r.read.Store(rd + n)
		if lost == n {
			continue
		}
		return copy(dst[offset:offset+int(n-lost)], out[lost:])
	}
	return 0
}

// PopAllRemaining copies every currently available sample that fits into dst
// and returns how many were copied.
func (r *Ring[T]) PopAllRemaining(dst []T) int {
	return r.PopSlice(dst, 0, len(dst))
}
