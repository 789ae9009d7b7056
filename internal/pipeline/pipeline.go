// Package pipeline moves a byte stream from a source to a sink as
// sequence-numbered chunks, with a bounded number of chunk sends in flight
// and strict in-order reassembly on the sink side.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ErrQueueClosed is returned by a chunk send that could not be delivered
// because the reassembler has already exited.
var ErrQueueClosed = errors.New("chunk queue closed")

const maxConsecutiveEmptyReads = 100

// Options controls a single pipeline run.
type Options struct {
	// ChunkSize is the maximum payload of one chunk in bytes.
	ChunkSize int
	// Concurrency is the maximum number of chunk sends in flight.
	Concurrency int
	// QueueDepth is the capacity of the queue feeding the reassembler.
	// Zero means Concurrency.
	QueueDepth int
	// DiscardOnCancel stops the reassembler from writing anything further
	// as soon as cancellation is observed, dropping chunks already queued.
	DiscardOnCancel bool
}

func (o Options) validate() error {
	if o.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", o.ChunkSize)
	}
	if o.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", o.Concurrency)
	}
	if o.QueueDepth < 0 {
		return fmt.Errorf("queue depth must not be negative, got %d", o.QueueDepth)
	}
	return nil
}

// Outcome summarises a finished run.
type Outcome struct {
	Chunks       uint64
	BytesRead    int64
	BytesWritten int64
	PeakInFlight int
	Cancelled    bool
}

type readResult struct {
	buf []byte
	err error
}

// Run reads src chunk by chunk until EOF, a read error, a sink error or
// cancellation of ctx, and writes every dispatched chunk to dst in order.
//
// Cancellation is only observed between chunks: the cancelled decision is
// taken at once and the result of a read already in progress is discarded,
// but Run does not return before that read has finished, so the caller may
// close src afterwards. Sends already in flight are allowed to reach the
// reassembler. A cancelled run reports Outcome.Cancelled with a nil error.
//
// A source that keeps returning zero bytes without an error fails the run
// with io.ErrNoProgress.
func Run(ctx context.Context, src io.Reader, dst io.Writer, opts Options) (Outcome, error) {
	var out Outcome
	if err := opts.validate(); err != nil {
		return out, err
	}
	depth := opts.QueueDepth
	if depth == 0 {
		depth = opts.Concurrency
	}

	queue := make(chan Chunk, depth)
	var stop chan struct{}
	if opts.DiscardOnCancel {
		stop = make(chan struct{})
	}
	r := NewReassembler(dst, stop)

	// The group outlives caller cancellation: queued chunks still drain.
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error { return r.Run(queue) })

	loopCtx, stopLoop := context.WithCancel(ctx)
	defer stopLoop()
	unwatch := context.AfterFunc(gctx, stopLoop)
	defer unwatch()

	sem := semaphore.NewWeighted(int64(opts.Concurrency))
	var (
		sends    sync.WaitGroup
		inflight atomic.Int64
		peak     atomic.Int64
		readErr  error
		stopped  bool
		empty    int
		// pending is the read abandoned on cancellation, drained before return.
		pending <-chan readResult
	)

	dispatch := func(payload []byte) {
		c := Chunk{Seq: out.Chunks, Payload: payload}
		out.Chunks++
		out.BytesRead += int64(len(payload))

		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		sends.Add(1)
		g.Go(func() error {
			defer func() {
				inflight.Add(-1)
				sem.Release(1)
				sends.Done()
			}()
			select {
			case queue <- c:
				return nil
			case <-gctx.Done():
				return fmt.Errorf("%w: sequence %d", ErrQueueClosed, c.Seq)
			}
		})
	}

loop:
	for {
		if loopCtx.Err() != nil || gctx.Err() != nil {
			stopped = true
			break
		}
		if err := sem.Acquire(loopCtx, 1); err != nil {
			stopped = true
			break
		}

		done := make(chan readResult, 1)
		go func() {
			buf := make([]byte, opts.ChunkSize)
			n, err := src.Read(buf)
			done <- readResult{buf: buf[:n], err: err}
		}()

		select {
		case <-loopCtx.Done():
			sem.Release(1)
			pending = done
			stopped = true
			break loop
		case res := <-done:
			if len(res.buf) > 0 {
				empty = 0
				dispatch(res.buf)
			} else {
				sem.Release(1)
				if res.err == nil {
					empty++
				}
			}
			if errors.Is(res.err, io.EOF) {
				logrus.WithFields(logrus.Fields{
					"function": "pipeline.Run",
					"chunks":   out.Chunks,
					"bytes":    out.BytesRead,
				}).Debug("End of source reached")
				break loop
			}
			if res.err != nil {
				readErr = res.err
				logrus.WithFields(logrus.Fields{
					"function": "pipeline.Run",
					"seq":      out.Chunks,
					"error":    res.err.Error(),
				}).Error("Error reading source")
				break loop
			}
			if empty >= maxConsecutiveEmptyReads {
				readErr = io.ErrNoProgress
				logrus.WithFields(logrus.Fields{
					"function": "pipeline.Run",
					"seq":      out.Chunks,
				}).Error("Source keeps returning no data")
				break loop
			}
		}
	}

	// A stop caused by a failing sink is not a cancellation.
	if stopped && ctx.Err() != nil {
		out.Cancelled = true
		if stop != nil {
			close(stop)
		}
		logrus.WithFields(logrus.Fields{
			"function": "pipeline.Run",
			"chunks":   out.Chunks,
		}).Info("Operation cancelled by user")
	}

	if pending != nil {
		<-pending
		logrus.WithFields(logrus.Fields{
			"function": "pipeline.Run",
		}).Debug("Abandoned read finished, result discarded")
	}

	sends.Wait()
	close(queue)
	groupErr := g.Wait()

	out.BytesWritten = r.Written()
	out.PeakInFlight = int(peak.Load())

	if readErr != nil {
		return out, readErr
	}
	if groupErr != nil {
		out.Cancelled = false
		return out, groupErr
	}
	return out, nil
}
