// Package stream carries model output fragments from a producing turn
// to a consuming transport.
//
// The handoff is unbuffered on purpose: a producer that outruns its
// consumer blocks in Emit, so backpressure reaches the model stream
// instead of piling fragments up in memory.
package stream

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Emit after the pipe has terminated.
var ErrClosed = errors.New("stream closed")

// Pipe is a single-producer, single-consumer fragment channel.
//
// The producer calls Emit for each fragment and ends the stream with
// exactly one of CloseSend or Fail. The consumer loops on Recv until it
// returns io.EOF (clean end) or the producer's failure.
type Pipe struct {
	ch   chan string
	done chan struct{}

	once sync.Once
	err  error // set before done closes, read only after
}

// NewPipe creates a Pipe.
func NewPipe() *Pipe {
	return &Pipe{
		ch:   make(chan string),
		done: make(chan struct{}),
	}
}

// Emit hands one fragment to the consumer. It blocks until the consumer
// takes it, the pipe terminates, or ctx is canceled.
func (p *Pipe) Emit(ctx context.Context, fragment string) error {
	select {
	case p.ch <- fragment:
		return nil
	case <-p.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CloseSend ends the stream cleanly. Subsequent Recv calls return io.EOF.
func (p *Pipe) CloseSend() {
	p.terminate(nil)
}

// Fail ends the stream with an error the consumer will observe.
// A nil err is treated as a clean close.
func (p *Pipe) Fail(err error) {
	p.terminate(err)
}

func (p *Pipe) terminate(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

// Recv returns the next fragment. It blocks until the producer emits,
// the stream terminates, or ctx is canceled. A clean end is io.EOF; a
// failed stream returns the producer's error.
func (p *Pipe) Recv(ctx context.Context) (string, error) {
	select {
	case fragment := <-p.ch:
		return fragment, nil
	case <-p.done:
		if p.err != nil {
			return "", p.err
		}
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
