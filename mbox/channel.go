// Inter-cluster mailbox controller driver
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mbox

import (
	"fmt"
	"sync/atomic"

	"github.com/openchiplet/icmsg"
	"github.com/openchiplet/icmsg/bits"
	"github.com/openchiplet/icmsg/internal/reg"
)

// Config represents the client side configuration of a mailbox instance.
type Config struct {
	// Owner identifier
	Owner uint8
	// Source cluster identifier
	Src uint8
	// Destination cluster identifier
	Dst uint8
	// Claim writes the configuration register to take ownership of the
	// instance, rather than verifying a pre-programmed one.
	Claim bool
}

// Client is the capability set a client attaches to a channel at Open.
// The channel invokes these from the bank interrupt service routines and
// holds nothing else of the client.
type Client struct {
	// Receive is invoked with the 64-byte payload of a delivered
	// message, the buffer is only valid for the duration of the call.
	Receive func(buf []byte)
	// TxDone is invoked when a transmission completes, a non-nil error
	// carries the negative acknowledge reason.
	TxDone func(err error)
}

// Channel represents the runtime binding of a single mailbox instance to
// a single client, at most one client is attached at any time.
type Channel struct {
	bank  *Bank
	index int
	base  uint32

	client  atomic.Pointer[Client]
	cfg     Config
	enabled uint32

	// last negative acknowledge reason pulsed on this instance
	nackReason atomic.Pointer[error]
}

// Index returns the mailbox instance index within its bank.
func (ch *Channel) Index() int {
	return ch.index
}

// Open attaches a client to the mailbox instance at the index argument,
// it returns icmsg.ErrBusy if the instance already has a client attached.
//
// Interrupt generation is enabled for delivery events if the client has a
// Receive capability and for acknowledge events if it has a TxDone
// capability.
func (hw *Bank) Open(index int, client Client, cfg Config) (*Channel, error) {
	ch, err := hw.Channel(index)

	if err != nil {
		return nil, err
	}

	hw.Lock()
	defer hw.Unlock()

	if ch.client.Load() != nil {
		return nil, fmt.Errorf("mailbox %d: %w", index, icmsg.ErrBusy)
	}

	ch.cfg = cfg

	// attach before enabling events so no delivery is nacked as
	// clientless
	ch.client.Store(&client)

	if err = ch.startup(client.Receive != nil, client.TxDone != nil); err != nil {
		ch.client.Store(nil)
		return nil, err
	}

	return ch, nil
}

func (ch *Channel) startup(hasRecv, hasAck bool) error {
	mem := ch.bank.Mem

	if ch.cfg.Claim {
		val := uint32(ch.cfg.Dst)<<CONFIG_DST |
			uint32(ch.cfg.Src)<<CONFIG_SRC |
			uint32(ch.cfg.Owner)<<CONFIG_OWNER

		reg.Write(mem, ch.base+MBOXx_CONFIG, val)
	} else {
		val := reg.Read(mem, ch.base+MBOXx_CONFIG)

		owner := uint8(val >> CONFIG_OWNER)
		src := uint8(val >> CONFIG_SRC)
		dst := uint8(val >> CONFIG_DST)

		if owner == 0 && (src != 0 || dst != 0) {
			if src != ch.cfg.Src || dst != ch.cfg.Dst {
				return fmt.Errorf("mailbox %d src:%x dst:%x: %w",
					ch.index, src, dst, icmsg.ErrConfigMismatch)
			}
		}
	}

	var enable uint32

	bits.SetTo(&enable, 2*ch.bank.IRQRecv, hasRecv)
	bits.SetTo(&enable, 2*ch.bank.IRQAck+1, hasAck)

	ch.enabled = enable
	reg.Or(mem, ch.base+MBOXx_INT_ENABLE, enable)

	return nil
}

// Send transmits a 64-byte payload on the channel, it returns as soon as
// the payload has been written and the delivery event set, without
// waiting for the remote acknowledge. Payloads shorter than 64 bytes are
// zero padded, longer ones return icmsg.ErrInvalid.
//
// The caller must not issue another Send before TxDone signals completion
// of the previous one.
func (ch *Channel) Send(buf []byte) error {
	if len(buf) > DataSize {
		return fmt.Errorf("payload exceeds %d bytes: %w", DataSize, icmsg.ErrInvalid)
	}

	var data [DataSize]byte
	copy(data[:], buf)

	reg.CopyTo(ch.bank.Mem, ch.base+MBOXx_DATA, data[:])
	reg.Or(ch.bank.Mem, ch.base+MBOXx_EVENT_STATUS, EVENT_A)

	return nil
}

// Nack signals a negative acknowledge for the last delivered message,
// informing the remote sender that it was dropped for the reason
// argument. The controller provides no distinct negative acknowledge
// event, the acknowledge event is pulsed and the reason recorded locally.
func (ch *Channel) Nack(reason error) {
	ch.nackReason.Store(&reason)
	ch.bank.Stats.Nacks.Add(1)

	reg.Or(ch.bank.Mem, ch.base+MBOXx_EVENT_STATUS, EVENT_B)
}

// NackReason returns the last negative acknowledge reason recorded on the
// channel, or nil.
func (ch *Channel) NackReason() error {
	if reason := ch.nackReason.Load(); reason != nil {
		return *reason
	}

	return nil
}

// DrainRX signals that the client has consumed the last delivered message
// and is ready for the next one, unblocking the remote sender.
func (ch *Channel) DrainRX() {
	reg.Or(ch.bank.Mem, ch.base+MBOXx_EVENT_STATUS, EVENT_B)
}

// PeekRX returns whether a delivered message is pending on the instance,
// without consuming it.
func (ch *Channel) PeekRX() bool {
	return reg.Read(ch.bank.Mem, ch.base+MBOXx_EVENT_CAUSE)&EVENT_A != 0
}

// Close detaches the client from the channel, disables the interrupt
// routing it enabled and, if the instance configuration was claimed at
// Open, clears the configuration register.
//
// A delivery serviced concurrently with Close is negative acknowledged on
// the client's behalf.
func (ch *Channel) Close() {
	ch.bank.Lock()
	defer ch.bank.Unlock()

	if ch.client.Swap(nil) == nil {
		return
	}

	mem := ch.bank.Mem

	reg.ClearBits(mem, ch.base+MBOXx_INT_ENABLE, ch.enabled)
	ch.enabled = 0

	if ch.cfg.Claim {
		// also clears the source and destination identifiers
		reg.Write(mem, ch.base+MBOXx_CONFIG, 0)
	}
}
