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

// ControlName identifies a named control message. The set is open (callers
// may define their own), but the handlers below are the ones this module's
// components dispatch.
type ControlName string

const (
	ControlConnected             ControlName = "connected"
	ControlNotifyConsumerAttach  ControlName = "notify_consumer_attached"
	ControlNotifyProducerAttach  ControlName = "notify_producer_attached"
	ControlReqProducerState      ControlName = "req_producer_state"
	ControlAuthorize             ControlName = "authorize"
	ControlCanConnect            ControlName = "can_connect"
)

// Control is a duck-typed control object: callers invoke it by name with
// arbitrary positional arguments and get back a result or an
// ErrMissingControl. Implementations register handlers with On.
type Control struct {
	handlers map[ControlName]func(args ...any) (any, error)
}

// NewControl returns an empty control object with no handlers registered;
// every Invoke call on it returns ErrMissingControl until handlers are added.
func NewControl() *Control {
	return &Control{handlers: make(map[ControlName]func(args ...any) (any, error))}
}

// On registers a handler for a named control message. Registering twice
// for the same name replaces the previous handler.
func (c *Control) On(name ControlName, handler func(args ...any) (any, error)) {
	c.handlers[name] = handler
}

// Invoke dispatches a control message by name. Per spec §4.A and §7, an
// unknown message is not escalated to abort: it yields ErrMissingControl,
// which callers are expected to treat as "no handler, continue".
func (c *Control) Invoke(name ControlName, args ...any) (any, error) {
	if c == nil {
		return nil, ErrMissingControl(string(name))
	}
	h, ok := c.handlers[name]
	if !ok {
		return nil, ErrMissingControl(string(name))
	}
	return h(args...)
}

// Try is a convenience wrapper for callers that want "best effort, ignore
// missing-control" semantics without checking the Kind themselves.
func Try(c *Control, name ControlName, args ...any) {
	if c == nil {
		return
	}
	_, err := c.Invoke(name, args...)
	if err != nil && !Is(err, KindMissingControl) {
		// Handlers should not return arbitrary errors for best-effort
		// notifications; surface anything unusual via panic-free logging
		// is left to the caller. We intentionally swallow here: control
		// messages are always best-effort per spec §4.A.
		_ = err
	}
}
