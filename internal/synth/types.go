package synth

import (
	"context"
	"errors"
	"fmt"
)

// Request contains parameters to synthesize one chunk of narration.
type Request struct {
	Text       string
	Voice      string
	SampleRate int
	Channels   int
}

// Result carries the raw audio for a synthesized chunk as little-endian
// 16-bit PCM, plus the duration measured by the engine.
type Result struct {
	PCM        []byte
	SampleRate int
	Channels   int
	Duration   float64
}

// ErrorKind classifies a synthesis failure at the adapter boundary. Core logic
// branches on the kind, never on error-message text.
type ErrorKind int

const (
	// KindTransient covers rate limiting, timeouts, upstream internal errors
	// and connection loss. Transient failures are retried.
	KindTransient ErrorKind = iota
	// KindFatal covers invalid request content and permanently exhausted
	// quota. Fatal failures abort the chunk without retry.
	KindFatal
)

func (k ErrorKind) String() string {
	if k == KindFatal {
		return "fatal"
	}
	return "transient"
}

// Error is the failure type returned by Synthesizer implementations.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("synth %s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transient wraps err as a retryable synthesis failure.
func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

// Fatal wraps err as a non-retryable synthesis failure.
func Fatal(op string, err error) error {
	return &Error{Kind: KindFatal, Op: op, Err: err}
}

// IsFatal reports whether err is an explicitly fatal synthesis error.
// Anything else, including plain timeouts, is treated as transient.
func IsFatal(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindFatal
}

// Synthesizer is the contract for producing audio from chunk text.
type Synthesizer interface {
	Synthesize(ctx context.Context, req Request) (Result, error)
}
