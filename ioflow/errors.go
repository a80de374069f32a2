// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package ioflow

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is the closed set of error kinds every pipeline component in this
// module can raise. Callers should switch on Kind rather than on error
// identity, since every Kind is wrapped with a stack trace via pkg/errors.
type Kind int

const (
	// KindError is a programmer/contract violation: double attach, consume
	// past credit, bad sequence.
	KindError Kind = iota
	// KindClosed is an operation against an already-closed direction.
	KindClosed
	// KindCompleted is a clean end-of-data (peer closed cleanly); benign terminal.
	KindCompleted
	// KindLost is a non-clean termination; terminal and escalates to abort.
	KindLost
	// KindTimeout is a blocking reader/writer timeout.
	KindTimeout
	// KindMissingControl is an unknown named control message.
	KindMissingControl
	// KindProtocolFail is a wire-format/authentication violation. Per spec
	// it always demotes to KindLost after at most one terminal notification.
	KindProtocolFail
)

func (k Kind) String() string {
	switch k {
	case KindError:
		return "io-error"
	case KindClosed:
		return "io-closed"
	case KindCompleted:
		return "io-completed"
	case KindLost:
		return "io-lost"
	case KindTimeout:
		return "io-timeout"
	case KindMissingControl:
		return "io-missing-control"
	case KindProtocolFail:
		return "protocol-fail"
	default:
		return "io-unknown"
	}
}

// Error is the concrete error type carrying a Kind alongside a message.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.msg }

// New builds a Kind-tagged, stack-annotated error.
func New(kind Kind, msg string) error {
	return errors.WithStack(&Error{Kind: kind, msg: msg})
}

// Newf is New with fmt-style formatting.
func Newf(kind Kind, format string, args ...any) error {
	return errors.WithStack(&Error{Kind: kind, msg: fmt.Sprintf(format, args...)})
}

// As reports whether err (or something it wraps) is an *Error, returning it.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}

// ErrDoubleAttach is returned when attach is called on an already-attached endpoint.
func ErrDoubleAttach() error { return New(KindError, "endpoint already attached") }

// ErrConsumePastEOD is returned when consume is called after end-of-data.
func ErrConsumePastEOD() error { return New(KindClosed, "consume past end-of-data") }

// ErrConsumePastCredit is returned when a producer pushes more than its advertised credit.
func ErrConsumePastCredit() error { return New(KindError, "push exceeds advertised credit") }

// ErrNoProducer/ErrNoConsumer mark operations against a detached endpoint.
func ErrNoProducer() error { return New(KindError, "no attached producer") }
func ErrNoConsumer() error { return New(KindError, "no attached consumer") }

// ErrMissingControl is returned by a control dispatch with no matching handler.
func ErrMissingControl(name string) error {
	return New(KindMissingControl, "no handler for control message "+name)
}

// ErrCompleted/ErrLost mark clean/unclean end-of-data respectively.
func ErrCompleted() error { return New(KindCompleted, "end-of-data (clean)") }
func ErrLost(reason string) error {
	if reason == "" {
		reason = "end-of-data (not clean)"
	}
	return New(KindLost, reason)
}

// ErrTimeout marks a blocking operation timeout.
func ErrTimeout() error { return New(KindTimeout, "operation timed out") }

// ErrProtocolFail marks a wire-format or authentication violation.
func ErrProtocolFail(reason string) error { return New(KindProtocolFail, reason) }
