package pipeline

import (
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// ErrDuplicateChunk is returned when a sequence number arrives twice or after
// it has already been flushed.
var ErrDuplicateChunk = errors.New("duplicate chunk sequence")

// Chunk is a sequence-numbered slice of a file's byte stream.
type Chunk struct {
	Seq     uint64
	Payload []byte
}

// Reassembler writes chunks received in any order to w in ascending
// sequence order.
type Reassembler struct {
	w       io.Writer
	stop    <-chan struct{}
	next    uint64
	pending map[uint64][]byte
	written int64
	dropped int
}

// NewReassembler returns a reassembler writing to w. Once stop is closed,
// every chunk that has not been written yet is discarded. A nil stop never
// fires.
func NewReassembler(w io.Writer, stop <-chan struct{}) *Reassembler {
	return &Reassembler{
		w:       w,
		stop:    stop,
		pending: make(map[uint64][]byte),
	}
}

// Run consumes queue until it is closed. It returns the first write error.
// After stop fires Run keeps draining the queue so that senders are never
// left blocked.
func (r *Reassembler) Run(queue <-chan Chunk) error {
	for c := range queue {
		if err := r.Accept(c); err != nil {
			return err
		}
	}
	if len(r.pending) > 0 && !r.stopped() {
		return fmt.Errorf("queue closed with %d chunks pending at sequence %d", len(r.pending), r.next)
	}
	return nil
}

// Accept buffers c and flushes every contiguous chunk starting at the next
// expected sequence.
func (r *Reassembler) Accept(c Chunk) error {
	if r.stopped() {
		r.discard()
		return nil
	}
	if _, ok := r.pending[c.Seq]; ok || c.Seq < r.next {
		return fmt.Errorf("%w: %d", ErrDuplicateChunk, c.Seq)
	}
	r.pending[c.Seq] = c.Payload

	for {
		payload, ok := r.pending[r.next]
		if !ok {
			return nil
		}
		if r.stopped() {
			r.discard()
			return nil
		}
		delete(r.pending, r.next)
		n, err := r.w.Write(payload)
		r.written += int64(n)
		if err != nil {
			return err
		}
		if n != len(payload) {
			return io.ErrShortWrite
		}
		r.next++
	}
}

func (r *Reassembler) stopped() bool {
	if r.stop == nil {
		return false
	}
	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (r *Reassembler) discard() {
	r.dropped++
	if r.dropped == 1 {
		logrus.WithFields(logrus.Fields{
			"function": "Reassembler.Accept",
			"next_seq": r.next,
			"pending":  len(r.pending),
		}).Warn("Transmission stopped, discarding queued chunks")
	}
	for seq := range r.pending {
		delete(r.pending, seq)
	}
}

// Written returns the number of bytes handed to the sink so far.
func (r *Reassembler) Written() int64 { return r.written }

// Next returns the next sequence number the reassembler expects.
func (r *Reassembler) Next() uint64 { return r.next }

// Pending returns how many chunks are buffered waiting for a gap to fill.
func (r *Reassembler) Pending() int { return len(r.pending) }
