// System message layer
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sysmsg

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/openchiplet/icmsg"
)

// HandlerFunc processes a single inbound message of a given type. The
// message buffer is only valid for the duration of the call.
type HandlerFunc func(msg []byte) error

// Dispatcher routes inbound system messages to per-type handlers. It is
// installed as the notification bus receive handler, handlers may send
// replies synchronously through the dispatcher's messenger.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers [typeCount]HandlerFunc

	msgr   *Messenger
	logger log.FieldLogger
}

// NewDispatcher returns a dispatcher with the built-in NOP, PING and PONG
// handlers installed, replying through the messenger argument. The logger
// argument may be nil, defaulting to the standard logger.
func NewDispatcher(msgr *Messenger, logger log.FieldLogger) *Dispatcher {
	if logger == nil {
		logger = log.StandardLogger()
	}

	d := &Dispatcher{
		msgr:   msgr,
		logger: logger,
	}

	d.handlers[TypeNOP] = func([]byte) error { return nil }
	d.handlers[TypePong] = func([]byte) error { return nil }
	d.handlers[TypePing] = d.pong

	return d
}

// Handle claims a message type for the handler argument, it returns
// icmsg.ErrBusy if the type already has a handler installed.
func (d *Dispatcher) Handle(t Type, fn HandlerFunc) error {
	if t >= typeCount {
		return fmt.Errorf("message type %d: %w", t, icmsg.ErrInvalid)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.handlers[t] != nil {
		return fmt.Errorf("message type %v: %w", t, icmsg.ErrBusy)
	}

	d.handlers[t] = fn

	return nil
}

// Process validates an inbound envelope and invokes the handler for its
// type. Messages of a legal type with no handler installed are dropped
// with a warning, reserved for future extension.
func (d *Dispatcher) Process(msg []byte) error {
	if len(msg) != Size {
		return fmt.Errorf("envelope size %d: %w", len(msg), icmsg.ErrInvalid)
	}

	t := Type(msg[0])

	if t >= typeCount {
		return fmt.Errorf("message type %d: %w", t, icmsg.ErrInvalid)
	}

	d.mu.RLock()
	fn := d.handlers[t]
	d.mu.RUnlock()

	if fn == nil {
		d.logger.WithField("type", t.String()).Warn("dropping unhandled message")
		return nil
	}

	return fn(msg)
}

// pong replies to an echo request, mirroring the request payload
// verbatim.
func (d *Dispatcher) pong(msg []byte) error {
	reply := envelope(TypePong)
	copy(reply[1:], msg[1:])

	return d.msgr.Send(reply)
}
