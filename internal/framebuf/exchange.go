package framebuf

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

var ErrClosed = errors.New("framebuf: exchange closed")

// Exchange states. The state word is the only thing producer and consumer
// synchronize on; every transition is a compare-and-swap, so the read slot is
// never swapped while the consumer holds it.
const (
	stateIdle int32 = iota
	stateReading
	stateSwapping
	stateClosed
)

// A Frame is the consumer's view of the read slot. Data aliases the slot and
// is only valid until the matching Release.
type Frame struct {
	Seq  uint64
	Data []byte
}

type Options struct {
	// Overwrite a published frame the consumer has not acquired yet, instead
	// of waiting for it to be consumed. Overwritten frames are counted in
	// Stats().Dropped.
	DropUnconsumed bool
}

type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	Stalls    uint64
}

// An Exchange hands completed frames from a single producer goroutine to a
// single consumer goroutine through two slots whose roles swap on every
// Publish. The swap exchanges pointers; frame bytes are never copied.
//
// Producer side: fill WriteSlot(), then Publish. Consumer side: Acquire,
// process Frame.Data, Release.
type Exchange struct {
	state atomic.Int32

	// Owned by the producer.
	write *Slot

	// Owned by the consumer while state is stateReading and by the producer
	// while state is stateSwapping.
	read *Slot

	dropUnconsumed bool

	published atomic.Uint64 // sequence number of the frame in the read slot
	consumed  atomic.Uint64 // last sequence number released by the consumer
	held      atomic.Uint64 // sequence number currently acquired, 0 if none
	dropped   atomic.Uint64
	stalls    atomic.Uint64
}

// NewExchange allocates both slots with the given capacity.
func NewExchange(capacity int, opts Options) *Exchange {
	return &Exchange{
		write:          newSlot(capacity),
		read:           newSlot(capacity),
		dropUnconsumed: opts.DropUnconsumed,
	}
}

// WriteSlot returns the slot the producer is currently filling. Only the
// producer goroutine may call it, and the result is invalidated by Publish.
func (x *Exchange) WriteSlot() *Slot {
	return x.write
}

// Publish hands the write slot to the consumer and gives the producer the
// previous read slot, emptied.
//
// While the consumer is busy with the read slot (or, unless DropUnconsumed is
// set, has not yet consumed the previous frame), Publish polls every poll
// interval. There is no timeout: a slow consumer stalls the producer. Only
// ctx cancellation or Close ends the wait early.
func (x *Exchange) Publish(ctx context.Context, poll time.Duration) error {
	var timer *time.Timer
	for !x.trySwapping() {
		if x.state.Load() == stateClosed {
			return ErrClosed
		}
		if timer == nil {
			x.stalls.Add(1)
			timer = time.NewTimer(poll)
			defer timer.Stop()
		} else {
			timer.Reset(poll)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if x.published.Load() != x.consumed.Load() {
		x.dropped.Add(1)
	}
	x.read, x.write = x.write, x.read
	x.write.Reset()
	x.published.Add(1)
	x.state.Store(stateIdle)
	return nil
}

func (x *Exchange) trySwapping() bool {
	if !x.dropUnconsumed && x.published.Load() != x.consumed.Load() {
		return false
	}
	return x.state.CompareAndSwap(stateIdle, stateSwapping)
}

// Acquire marks the consumer busy and returns the newest published frame.
// It returns false if no unconsumed frame is available, if a swap is in
// progress, or if the exchange is closed. Each successful Acquire must be
// followed by Release.
func (x *Exchange) Acquire() (Frame, bool) {
	if !x.state.CompareAndSwap(stateIdle, stateReading) {
		return Frame{}, false
	}
	seq := x.published.Load()
	if seq == x.consumed.Load() {
		x.state.CompareAndSwap(stateReading, stateIdle)
		return Frame{}, false
	}
	x.held.Store(seq)
	return Frame{Seq: seq, Data: x.read.Bytes()}, true
}

// Release marks the acquired frame consumed and clears the busy flag. It is a
// no-op if nothing is acquired.
func (x *Exchange) Release() {
	seq := x.held.Swap(0)
	if seq == 0 {
		return
	}
	x.consumed.Store(seq)
	x.state.CompareAndSwap(stateReading, stateIdle)
}

// Busy reports whether the consumer currently holds the read slot.
func (x *Exchange) Busy() bool {
	return x.state.Load() == stateReading
}

// Ready reports whether a published frame is waiting to be consumed.
func (x *Exchange) Ready() bool {
	return x.published.Load() != x.consumed.Load()
}

func (x *Exchange) Stats() Stats {
	return Stats{
		Published: x.published.Load(),
		Consumed:  x.consumed.Load(),
		Dropped:   x.dropped.Load(),
		Stalls:    x.stalls.Load(),
	}
}

// Close stops the exchange: pending and future Publish calls return
// ErrClosed, Acquire returns false. A frame the consumer already holds stays
// valid until it is released. Close waits out an in-flight swap and is
// idempotent.
func (x *Exchange) Close() {
	for {
		s := x.state.Load()
		switch s {
		case stateClosed:
			return
		case stateSwapping:
			runtime.Gosched()
			continue
		}
		if x.state.CompareAndSwap(s, stateClosed) {
			return
		}
	}
}

// Closed reports whether Close has been called.
func (x *Exchange) Closed() bool {
	return x.state.Load() == stateClosed
}
