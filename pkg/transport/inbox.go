package transport

import (
	"sync"
	"sync/atomic"
)

// DefaultInboxDepth is the number of pending audio blocks an [Inbox] queues
// before it starts dropping: roughly one second of 20 ms frames.
const DefaultInboxDepth = 64

// Inbox funnels inbound audio from any number of receive goroutines into a
// single dispatch goroutine, so that the handler registered with
// [Transport.OnAudio] never runs concurrently with itself.
//
// Deliver never blocks: when the queue is full the block is dropped and
// counted, because a late voice block is worth less than a fresh one.
type Inbox struct {
	queue   chan []int16
	handler atomic.Pointer[func([]int16)]

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	dropped atomic.Uint64
}

// NewInbox starts an inbox with the given queue depth. A depth below one uses
// [DefaultInboxDepth]. Call Close to stop the dispatch goroutine.
func NewInbox(depth int) *Inbox {
	if depth < 1 {
		depth = DefaultInboxDepth
	}
	b := &Inbox{
		queue: make(chan []int16, depth),
		done:  make(chan struct{}),
	}
	b.wg.Go(b.dispatch)
	return b
}

// SetHandler replaces the handler. A nil handler discards incoming audio.
func (b *Inbox) SetHandler(h func(pcm []int16)) {
	if h == nil {
		b.handler.Store(nil)
		return
	}
	b.handler.Store(&h)
}

// Deliver queues pcm for the handler. It reports false if the block was
// dropped because the queue was full or the inbox is closed. The inbox takes
// ownership of pcm.
func (b *Inbox) Deliver(pcm []int16) bool {
	if len(pcm) == 0 {
		return true
	}
	select {
	case <-b.done:
		return false
	default:
	}
	select {
	case b.queue <- pcm:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Dropped returns how many blocks were discarded because the queue was full.
func (b *Inbox) Dropped() uint64 {
	return b.dropped.Load()
}

// Close stops the dispatch goroutine and waits for it to exit. Blocks still
// queued are discarded. Close is idempotent.
func (b *Inbox) Close() {
	b.closeOnce.Do(func() { close(b.done) })
	b.wg.Wait()
}

func (b *Inbox) dispatch() {
	for {
		select {
		case <-b.done:
			return
		case pcm := <-b.queue:
			if h := b.handler.Load(); h != nil {
				(*h)(pcm)
			}
		}
	}
}
