// Package framebuf implements the double-buffered handoff of fixed-size frames
// between one producer goroutine and one consumer goroutine.
package framebuf

// A Slot is a fixed-capacity byte buffer with a fill level. Slots are
// allocated once by NewExchange and reused for every frame; the backing array
// is never reallocated.
//
// A Slot is not safe for concurrent use. At any instant it belongs either to
// the producer (as the write slot) or to the consumer (as the read slot), and
// the Exchange moves it between the two.
type Slot struct {
	data []byte
	n    int
}

func newSlot(capacity int) *Slot {
	return &Slot{data: make([]byte, capacity)}
}

// Bytes returns the valid portion of the slot.
func (s *Slot) Bytes() []byte {
	return s.data[:s.n]
}

// Free returns the unused tail of the slot, for reading directly into.
func (s *Slot) Free() []byte {
	return s.data[s.n:]
}

// Advance marks k more bytes of Free() as valid.
func (s *Slot) Advance(k int) {
	if k < 0 || s.n+k > len(s.data) {
		panic("framebuf: advance beyond slot capacity")
	}
	s.n += k
}

// Reset discards the contents without touching the backing array.
func (s *Slot) Reset() {
	s.n = 0
}

func (s *Slot) Len() int {
	return s.n
}

func (s *Slot) Cap() int {
	return len(s.data)
}
