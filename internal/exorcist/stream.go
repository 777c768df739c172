package exorcist

import (
	"context"
	"io"
	"sync"
)

// Stream adapts a Transformer to a writable input and readable output, for
// use in a pipeline:
//
//	s := exorcist.NewStream(ctx, t)
//	go func() {
//		_, err := io.Copy(s, src)
//		s.CloseWithError(err)
//	}()
//	_, err := io.Copy(dst, s)
//	res, err := s.Wait()
//
// Output only becomes readable after the input is closed and the map has
// been written.
type Stream struct {
	inR  *io.PipeReader
	inW  *io.PipeWriter
	outR *io.PipeReader
	outW *io.PipeWriter

	done chan struct{}
	res  Result
	err  error

	stop func() bool
	once sync.Once
}

// NewStream starts t on a new pipe pair. Cancelling ctx aborts the run and
// unblocks pending reads and writes.
func NewStream(ctx context.Context, t *Transformer) *Stream {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()

	s := &Stream{
		inR:  inR,
		inW:  inW,
		outR: outR,
		outW: outW,
		done: make(chan struct{}),
	}

	s.stop = context.AfterFunc(ctx, func() {
		_ = inW.CloseWithError(ctx.Err())
		_ = outW.CloseWithError(ctx.Err())
	})

	go s.run(ctx, t)
	return s
}

func (s *Stream) run(ctx context.Context, t *Transformer) {
	defer close(s.done)
	defer s.stop()

	s.res, s.err = t.Run(ctx, s.outW, s.inR)

	// Unblock a writer that is still feeding input after a failure.
	_ = s.inR.CloseWithError(errOr(s.err, io.ErrClosedPipe))
	_ = s.outW.CloseWithError(s.err)
}

// Write feeds input to the transform.
func (s *Stream) Write(p []byte) (int, error) {
	return s.inW.Write(p)
}

// Close marks the end of input.
func (s *Stream) Close() error {
	return s.CloseWithError(nil)
}

// CloseWithError ends input; a non-nil err fails the transform with err.
func (s *Stream) CloseWithError(err error) error {
	s.once.Do(func() {
		_ = s.inW.CloseWithError(err)
	})
	return nil
}

// Read reads transformed output. It returns the transform's error, or
// io.EOF once the output is complete.
func (s *Stream) Read(p []byte) (int, error) {
	return s.outR.Read(p)
}

// Wait blocks until the transform finishes and returns its outcome. Output
// must be drained for the transform to finish.
func (s *Stream) Wait() (Result, error) {
	<-s.done
	return s.res, s.err
}

func errOr(err, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}
