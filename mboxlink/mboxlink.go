// Paired-channel mailbox transport
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mboxlink binds a pair of mailbox channels, one per direction,
// into a single bidirectional transport registered on the notification
// bus.
package mboxlink

import (
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/openchiplet/icmsg"
	"github.com/openchiplet/icmsg/mbox"
	"github.com/openchiplet/icmsg/notify"
)

// Config represents the two mailbox cells of a link, ordered
// {outgoing, incoming}.
type Config struct {
	// Outbound instance index
	Out int
	// Outbound instance configuration
	OutCfg mbox.Config
	// Inbound instance index
	In int
	// Inbound instance configuration
	InCfg mbox.Config
}

// Link is a bidirectional mailbox transport, one outstanding message per
// direction.
type Link struct {
	bank   *mbox.Bank
	bus    *notify.Bus
	logger log.FieldLogger

	out *mbox.Channel
	in  *mbox.Channel

	inflight atomic.Bool
}

// Open binds the two configured mailbox channels and registers the link
// on the notification bus at the mailbox priority.
//
// The outbound channel is opened and the bus registration installed
// before the inbound channel is opened: an inbound message may arrive
// during inbound open and synthesize a synchronous reply, which must
// already have a viable outbound path.
func Open(bank *mbox.Bank, bus *notify.Bus, cfg Config, logger log.FieldLogger) (*Link, error) {
	if logger == nil {
		logger = log.StandardLogger()
	}

	l := &Link{
		bank:   bank,
		bus:    bus,
		logger: logger,
	}

	var err error

	if l.out, err = bank.Open(cfg.Out, mbox.Client{TxDone: l.txDone}, cfg.OutCfg); err != nil {
		return nil, fmt.Errorf("outbound mailbox: %w", err)
	}

	if err = bus.Register(notify.PriorityMailbox, l); err != nil {
		l.out.Close()
		return nil, err
	}

	if l.in, err = bank.Open(cfg.In, mbox.Client{Receive: l.receive}, cfg.InCfg); err != nil {
		bus.Unregister(notify.PriorityMailbox)
		l.out.Close()

		return nil, fmt.Errorf("inbound mailbox: %w", err)
	}

	return l, nil
}

// Name implements notify.Transport.
func (l *Link) Name() string {
	return "mailbox"
}

// Send implements notify.Transport. It returns icmsg.ErrAgain while the
// previous outbound message has not been acknowledged.
func (l *Link) Send(msg []byte) error {
	if !l.inflight.CompareAndSwap(false, true) {
		return fmt.Errorf("message in flight: %w", icmsg.ErrAgain)
	}

	if err := l.out.Send(msg); err != nil {
		l.inflight.Store(false)
		return err
	}

	return nil
}

func (l *Link) txDone(err error) {
	l.inflight.Store(false)

	if err != nil {
		l.logger.WithError(err).Warn("outbound message negative acknowledged")
	}
}

// receive hands a delivered message to the notification bus, then drains
// the receive slot so the remote sender is ready by the time the handler
// returns.
func (l *Link) receive(buf []byte) {
	if err := l.bus.Recv(buf); err != nil {
		l.logger.WithError(err).Warn("dropping inbound mailbox message")
	}

	l.in.DrainRX()
}

// Close unregisters the link and releases its channels, inbound side
// first.
func (l *Link) Close() {
	l.bus.Unregister(notify.PriorityMailbox)

	l.in.Close()
	l.out.Close()
}
