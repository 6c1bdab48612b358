// Package executor runs untrusted student code against a single stdin and reports what it printed.
//
// Implementations must isolate invocations from each other and enforce the request
// timeout. A returned error means the code could not be run at all; a program that
// crashes, exits non-zero or overruns its budget is reported through Result.
package executor

import (
	"bytes"
	"context"
	"errors"
	"time"
)

// ErrUnavailable marks infrastructure failures (daemon down, interpreter missing).
var ErrUnavailable = errors.New("executor unavailable")

// DefaultMaxOutput caps captured stdout/stderr per stream.
const DefaultMaxOutput = 64 * 1024

// Request is one program run.
type Request struct {
	Code    string
	Stdin   string
	Timeout time.Duration
}

// Result is the observable outcome of a run.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
	TimedOut bool
}

// Failed reports whether the program did not finish cleanly.
func (r Result) Failed() bool { return r.TimedOut || r.ExitCode != 0 }

// Executor runs code.
type Executor interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Func adapts a function to Executor.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Execute(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }

// cappedBuffer silently discards writes past its limit.
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func newCappedBuffer(limit int) *cappedBuffer {
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string { return b.buf.String() }
