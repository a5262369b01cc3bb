// Shared-memory message transport
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package shmem implements the shared-memory message transport between
// clusters, a pair of memory windows each carrying a single fixed-size
// message slot and a status word.
//
// The writer sets the NEW status bit after filling the slot, the reader
// clears NEW and sets ACK once the message has been consumed. The receive
// path is driven by a polling task with a per-instance interval.
package shmem

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/openchiplet/icmsg"
	"github.com/openchiplet/icmsg/internal/reg"
	"github.com/openchiplet/icmsg/notify"
)

// Shared-memory region layout
const (
	// SlotSize is the message slot size.
	SlotSize = 64
	// status word follows the slot
	statusOffset = SlotSize
	// RegionSize is the size of one direction's window.
	RegionSize = SlotSize + 4
)

// Status word bits
const (
	// StatusNew flags an unconsumed message in the slot.
	StatusNew = 0x1
	// StatusAck flags a consumed message.
	StatusAck = 0x2
)

// DefaultPollInterval is the receive poll interval used when none is
// configured.
const DefaultPollInterval = 10 * time.Millisecond

// Region represents one direction of a shared-memory transport instance.
type Region struct {
	// Shared window
	Mem []byte
}

// Init initializes a shared-memory region.
func (r *Region) Init() {
	if len(r.Mem) < RegionSize {
		panic("invalid shared-memory region")
	}
}

// Busy returns whether the slot holds a message not yet consumed by the
// remote reader.
func (r *Region) Busy() bool {
	return reg.Read(r.Mem, statusOffset)&StatusNew != 0
}

// Send fills the slot with a message and flags it new. It returns
// icmsg.ErrAgain, leaving the slot untouched, while the previous message
// has not been consumed.
func (r *Region) Send(msg []byte) error {
	if len(msg) > SlotSize {
		return fmt.Errorf("message exceeds %d bytes: %w", SlotSize, icmsg.ErrInvalid)
	}

	if r.Busy() {
		return fmt.Errorf("slot busy: %w", icmsg.ErrAgain)
	}

	var slot [SlotSize]byte
	copy(slot[:], msg)

	reg.CopyTo(r.Mem, 0, slot[:])
	reg.Write(r.Mem, statusOffset, StatusNew)

	return nil
}

// Pending returns whether the slot holds a message to consume.
func (r *Region) Pending() bool {
	return reg.Read(r.Mem, statusOffset)&StatusNew != 0
}

// Read copies the slot contents into buf without consuming the message.
func (r *Region) Read(buf []byte) {
	var slot [SlotSize]byte
	reg.CopyFrom(r.Mem, 0, slot[:])

	copy(buf, slot[:])
}

// Complete consumes the pending message, clearing NEW and setting ACK for
// the remote writer.
func (r *Region) Complete() {
	reg.ClearBits(r.Mem, statusOffset, StatusNew)
	reg.Or(r.Mem, statusOffset, StatusAck)
}

// Transport is a shared-memory transport instance, one region per
// direction.
type Transport struct {
	// Outbound region
	Out *Region
	// Inbound region
	In *Region
	// Receive poll interval
	Interval time.Duration
	// Inbound message destination
	Bus *notify.Bus
	// Logger, defaults to the standard logger
	Logger log.FieldLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Name implements notify.Transport.
func (t *Transport) Name() string {
	return "shmem"
}

// Send implements notify.Transport.
func (t *Transport) Send(msg []byte) error {
	return t.Out.Send(msg)
}

// Start launches the receive poll task. The task wakes every Interval,
// consumes at most one pending inbound message per wake and hands it to
// the notification bus before acknowledging the region.
func (t *Transport) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return
	}

	if t.Logger == nil {
		t.Logger = log.StandardLogger()
	}

	if t.Interval == 0 {
		t.Interval = DefaultPollInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	t.cancel = cancel
	t.done = make(chan struct{})

	go t.poll(ctx)
}

// Stop cancels the receive poll task and waits for it to return.
func (t *Transport) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel = nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

func (t *Transport) poll(ctx context.Context) {
	defer close(t.done)

	tick := time.NewTicker(t.Interval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if !t.In.Pending() {
				continue
			}

			var buf [SlotSize]byte
			t.In.Read(buf[:])

			if err := t.Bus.Recv(buf[:]); err != nil {
				t.Logger.WithError(err).Warn("dropping inbound shared-memory message")
			}

			t.In.Complete()
		}
	}
}
