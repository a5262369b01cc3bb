// Character-style mailbox endpoints
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mboxchar exposes mailbox instances as character-style
// endpoints, one device per instance, with a single-message receive slot
// and a single acknowledge slot per open device.
package mboxchar

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/openchiplet/icmsg"
	"github.com/openchiplet/icmsg/mbox"
)

// Direction of a mailbox instance as used by its current client.
type Direction int

// Directions
const (
	// Incoming instances deliver remote messages to the reader.
	Incoming Direction = iota
	// Outgoing instances carry local messages to the remote.
	Outgoing
)

// Mode of an endpoint open call, the endpoint direction derives from it:
// read-only opens an incoming endpoint, anything writable an outgoing
// one.
type Mode int

// Open modes
const (
	ReadOnly Mode = iota
	WriteOnly
	ReadWrite
)

// Events is the endpoint readiness mask reported by Poll.
type Events uint8

// Readiness events
const (
	// In flags a pending payload or acknowledge to read.
	In Events = 1 << iota
	// Out flags that no acknowledge is outstanding.
	Out
	// Hup flags an endpoint torn down concurrently.
	Hup
)

// Config represents a single endpoint definition.
type Config struct {
	// Device name, defaults to the mbox<N> pattern
	Name string
	// Mailbox instance index
	Instance int
	// Mailbox instance configuration
	Mailbox mbox.Config
	// Configured instance direction
	Dir Direction
}

// Device is a character-style endpoint over a single mailbox instance.
type Device struct {
	name   string
	bank   *mbox.Bank
	cfg    Config
	logger log.FieldLogger

	mu sync.Mutex
	// non-nil while the device is open
	ch  *mbox.Channel
	dir Direction

	rxBuf     [mbox.DataSize]byte
	rxPending bool

	ackStatus  uint32
	ackPending bool

	// waitqueue: closed and replaced on every state transition
	wait chan struct{}
}

// Name returns the device name, namespaced by the bank identifier.
func (d *Device) Name() string {
	return d.name
}

// wake broadcasts a state transition to all pollers, the device lock must
// be held.
func (d *Device) wake() {
	close(d.wait)
	d.wait = make(chan struct{})
}

// Open claims the endpoint, attaching a fresh channel to its mailbox
// instance with the capability subset matching the derived direction.
//
// It returns icmsg.ErrBusy if the endpoint is already open and
// icmsg.ErrInvalid if opened write-only on an instance configured for
// receive only. The direction is fixed until Close.
func (d *Device) Open(mode Mode) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch != nil {
		return fmt.Errorf("%s: %w", d.name, icmsg.ErrBusy)
	}

	if mode == WriteOnly && d.cfg.Dir == Incoming {
		return fmt.Errorf("%s is receive only: %w", d.name, icmsg.ErrInvalid)
	}

	dir := Outgoing

	if mode == ReadOnly {
		dir = Incoming
	}

	var client mbox.Client

	if dir == Incoming {
		client.Receive = d.received
	} else {
		client.TxDone = d.txDone
	}

	ch, err := d.bank.Open(d.cfg.Instance, client, d.cfg.Mailbox)

	if err != nil {
		return err
	}

	d.ch = ch
	d.dir = dir
	d.rxPending = false
	d.ackPending = false

	return nil
}

// received is the delivery up-call, invoked from the bank receive service
// routine.
func (d *Device) received(buf []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch == nil {
		// closed concurrently with the in-flight interrupt
		return
	}

	if d.rxPending {
		d.logger.Warn("receive slot full, dropping message")
		d.ch.Nack(icmsg.ErrNoSpace)

		return
	}

	copy(d.rxBuf[:], buf)
	d.rxPending = true

	d.wake()
}

// txDone is the transmission completion up-call, invoked from the bank
// acknowledge service routine.
func (d *Device) txDone(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch == nil {
		return
	}

	d.ackStatus = 0

	if err != nil {
		d.ackStatus = 1
	}

	d.ackPending = true

	d.wake()
}

// Read returns, without blocking, the pending payload of an incoming
// endpoint or the 4-byte acknowledge status of an outgoing one, clearing
// the corresponding slot. With nothing pending it returns icmsg.ErrAgain.
//
// Consuming a payload drains the receive slot towards the remote sender.
func (d *Device) Read(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch == nil {
		return 0, fmt.Errorf("%s: %w", d.name, icmsg.ErrNoDevice)
	}

	if d.dir == Incoming {
		if !d.rxPending {
			return 0, icmsg.ErrAgain
		}

		n := copy(buf, d.rxBuf[:])
		d.rxPending = false

		d.ch.DrainRX()
		d.wake()

		return n, nil
	}

	if !d.ackPending {
		return 0, icmsg.ErrAgain
	}

	if len(buf) < 4 {
		return 0, fmt.Errorf("%s status read needs 4 bytes: %w", d.name, icmsg.ErrInvalid)
	}

	binary.LittleEndian.PutUint32(buf, d.ackStatus)
	d.ackPending = false

	d.wake()

	return 4, nil
}

// Write transmits up to 64 bytes on an outgoing endpoint, returning as
// soon as the payload is handed to the controller, without waiting for
// the remote acknowledge.
func (d *Device) Write(buf []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch == nil {
		return 0, fmt.Errorf("%s: %w", d.name, icmsg.ErrNoDevice)
	}

	if d.dir != Outgoing {
		return 0, fmt.Errorf("%s is receive only: %w", d.name, icmsg.ErrInvalid)
	}

	if len(buf) > mbox.DataSize {
		return 0, fmt.Errorf("%s write exceeds %d bytes: %w", d.name, mbox.DataSize, icmsg.ErrInvalid)
	}

	if err := d.ch.Send(buf); err != nil {
		return 0, err
	}

	return len(buf), nil
}

// Poll blocks on the endpoint waitqueue until an event in the want mask
// is ready, the context expires or the endpoint is torn down (reported as
// Hup).
//
// In is ready when a payload or acknowledge is pending, Out when no
// acknowledge is outstanding.
func (d *Device) Poll(ctx context.Context, want Events) (Events, error) {
	for {
		d.mu.Lock()

		if d.ch == nil {
			d.mu.Unlock()
			return Hup, nil
		}

		var ev Events

		if d.rxPending || d.ackPending {
			ev |= In
		}

		if !d.ackPending {
			ev |= Out
		}

		wait := d.wait
		d.mu.Unlock()

		if ev&want != 0 {
			return ev, nil
		}

		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-wait:
		}
	}
}

// Close releases the endpoint. A payload still pending in the receive
// slot is negative acknowledged towards the remote sender before the
// channel is detached, any blocked poller is woken with Hup.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch == nil {
		return
	}

	if d.rxPending {
		d.ch.Nack(icmsg.ErrClosedPipe)
		d.rxPending = false
	}

	d.ch.Close()
	d.ch = nil
	d.ackPending = false

	d.wake()
}
