// Inter-cluster mailbox controller driver
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mbox implements a driver for the inter-cluster mailbox
// controller found on heterogeneous multi-chiplet SoCs, a bank of 32
// memory mapped mailbox instances sharing two interrupt lines.
//
// Each instance carries a single 64-byte message per direction and
// signals two events: A (message delivered) and B (delivery
// acknowledged). The two bank interrupt outputs are instance-selectable,
// the INT_ENABLE register routes each event to one of them.
//
// The driver owns the bank MMIO window exclusively, payloads move in and
// out of the DATA registers only through 32-bit word copies
// (see internal/reg), byte access is not portable on this peripheral.
package mbox

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/openchiplet/icmsg/bits"
	"github.com/openchiplet/icmsg/internal/reg"
)

// Mailbox bank layout
const (
	// Instances is the number of mailbox instances per bank.
	Instances = 32
	// InstanceSize is the MMIO stride between instances.
	InstanceSize = 0x50
	// BlockSize is the size of the bank MMIO window.
	BlockSize = Instances * InstanceSize

	// DataSize is the payload size of a single message.
	DataSize = 64
	// DataWords is the payload size in 32-bit words.
	DataWords = DataSize / 4
)

// Mailbox instance registers
const (
	MBOXx_CONFIG    = 0x00
	CONFIG_DST      = 24
	CONFIG_SRC      = 16
	CONFIG_OWNER    = 8
	CONFIG_UNSECURE = 0

	// read: event cause, write: event clear
	MBOXx_EVENT_CAUSE = 0x04
	// read: event status, write: event set
	MBOXx_EVENT_STATUS = 0x08

	MBOXx_INT_ENABLE = 0x0c
	MBOXx_DATA       = 0x10
)

// Mailbox instance events
const (
	// EVENT_A signals an incoming message delivery.
	EVENT_A = 0x1
	// EVENT_B signals a delivery acknowledge, it doubles as receive
	// drain and negative acknowledge as the controller provides no
	// distinct events for them.
	EVENT_B = 0x2
)

// Stats collects bank interrupt service counters.
type Stats struct {
	// Delivered messages
	RX atomic.Uint32
	// Acknowledge events
	Acks atomic.Uint32
	// Negative acknowledges pulsed, by clients or on behalf of detached
	// channels
	Nacks atomic.Uint32
	// Events raised on instances with no routed enable
	Spurious atomic.Uint32
}

// Bank represents a mailbox controller bank instance.
type Bank struct {
	sync.Mutex

	// Bank identifier
	Name string
	// MMIO window
	Mem []byte
	// Interrupt output routing delivery (A) events
	IRQRecv int
	// Interrupt output routing acknowledge (B) events
	IRQAck int

	// Service counters
	Stats Stats

	channels [Instances]*Channel
}

// Init initializes a mailbox bank instance.
func (hw *Bank) Init() {
	hw.Lock()
	defer hw.Unlock()

	if len(hw.Mem) < BlockSize {
		panic("invalid mailbox bank instance")
	}

	if hw.IRQRecv == hw.IRQAck || hw.IRQRecv > 1 || hw.IRQAck > 1 {
		panic("invalid mailbox bank interrupt routing")
	}

	for i := range hw.channels {
		hw.channels[i] = &Channel{
			bank:  hw,
			index: i,
			base:  uint32(i * InstanceSize),
		}
	}
}

// Channel returns the channel bound to the mailbox instance at the index
// argument.
func (hw *Bank) Channel(index int) (*Channel, error) {
	if index < 0 || index >= Instances {
		return nil, fmt.Errorf("invalid mailbox instance %d", index)
	}

	if hw.channels[index] == nil {
		return nil, fmt.Errorf("mailbox bank %s not initialized", hw.Name)
	}

	return hw.channels[index], nil
}

// ServiceRecv services the bank interrupt output carrying delivery (A)
// events. The controller does not expose which instance raised the line,
// all instances routed to the receive output are scanned.
//
// The receive up-call completes before the instance event cause is
// cleared, so the remote sender cannot observe the drain pulse while the
// payload is still being read.
func (hw *Bank) ServiceRecv() {
	for _, ch := range hw.channels {
		if ch == nil {
			continue
		}

		cause := reg.Read(hw.Mem, ch.base+MBOXx_EVENT_CAUSE)

		if cause&EVENT_A == 0 {
			continue
		}

		enable := reg.Read(hw.Mem, ch.base+MBOXx_INT_ENABLE)

		if !bits.Get(&enable, 2*hw.IRQRecv) {
			hw.Stats.Spurious.Add(1)
			continue
		}

		var buf [DataSize]byte
		reg.CopyFrom(hw.Mem, ch.base+MBOXx_DATA, buf[:])

		if client := ch.client.Load(); client != nil && client.Receive != nil {
			client.Receive(buf[:])
			hw.Stats.RX.Add(1)
		} else {
			// closed concurrently, unblock the remote sender
			reg.Or(hw.Mem, ch.base+MBOXx_EVENT_STATUS, EVENT_B)
			hw.Stats.Nacks.Add(1)
		}

		reg.ClearBits(hw.Mem, ch.base+MBOXx_EVENT_CAUSE, EVENT_A)
	}
}

// ServiceAck services the bank interrupt output carrying acknowledge (B)
// events, completing in-flight transmissions on instances routed to it.
func (hw *Bank) ServiceAck() {
	for _, ch := range hw.channels {
		if ch == nil {
			continue
		}

		cause := reg.Read(hw.Mem, ch.base+MBOXx_EVENT_CAUSE)

		if cause&EVENT_B == 0 {
			continue
		}

		enable := reg.Read(hw.Mem, ch.base+MBOXx_INT_ENABLE)

		if !bits.Get(&enable, 2*hw.IRQAck+1) {
			hw.Stats.Spurious.Add(1)
			continue
		}

		reg.ClearBits(hw.Mem, ch.base+MBOXx_EVENT_CAUSE, EVENT_B)

		if client := ch.client.Load(); client != nil && client.TxDone != nil {
			client.TxDone(nil)
			hw.Stats.Acks.Add(1)
		} else {
			hw.Stats.Spurious.Add(1)
		}
	}
}
