// Transport notification bus
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package notify implements the priority-ordered registry of transports
// able to carry system messages out of the cluster.
//
// Outbound messages walk the registry from the highest priority transport
// downward until one accepts. Inbound messages are handed up by any
// transport through Recv, which delegates to a single receive handler
// (conventionally the sysmsg dispatcher).
package notify

import (
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/openchiplet/icmsg"
)

// Priority identifies a transport registration slot, higher values are
// tried first on send.
type Priority int

// Transport priorities
const (
	// Mailbox-backed transport
	PriorityMailbox Priority = iota
	// Shared-memory transport, preferred over the mailbox
	PriorityShmem

	priorityCount
)

// String returns the priority slot name.
func (p Priority) String() string {
	switch p {
	case PriorityMailbox:
		return "mailbox"
	case PriorityShmem:
		return "shmem"
	default:
		return fmt.Sprintf("priority-%d", int(p))
	}
}

// Transport is a registered handler able to send a system message out of
// the cluster.
type Transport interface {
	// Name returns the transport name for logging and metrics.
	Name() string
	// Send transmits a single message, returning icmsg.ErrAgain when
	// the previous one is still in flight.
	Send(msg []byte) error
}

// Handler receives inbound messages handed up by transports.
type Handler func(msg []byte) error

// Bus is the process-wide transport registry. The zero value is not
// usable, see NewBus.
type Bus struct {
	mu    sync.Mutex
	slots [priorityCount]Transport

	handler Handler
	logger  log.FieldLogger

	sends *prometheus.CounterVec
	fails *prometheus.CounterVec
	recvs prometheus.Counter
	drops prometheus.Counter
}

// NewBus returns an initialized transport bus. The logger and registerer
// arguments may be nil, defaulting to the standard logger and no metric
// registration.
func NewBus(logger log.FieldLogger, reg prometheus.Registerer) *Bus {
	if logger == nil {
		logger = log.StandardLogger()
	}

	bus := &Bus{
		logger: logger,
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icmsg_bus_sends_total",
			Help: "Messages accepted for transmission, by transport.",
		}, []string{"transport"}),
		fails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icmsg_bus_send_errors_total",
			Help: "Send attempts refused by a transport, by transport.",
		}, []string{"transport"}),
		recvs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icmsg_bus_receives_total",
			Help: "Inbound messages handed to the receive handler.",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icmsg_bus_drops_total",
			Help: "Inbound messages dropped for lack of a receive handler.",
		}),
	}

	if reg != nil {
		reg.MustRegister(bus.sends, bus.fails, bus.recvs, bus.drops)
	}

	return bus
}

// Register installs a transport in its priority slot, it returns
// icmsg.ErrBusy if the slot is already occupied.
func (bus *Bus) Register(p Priority, t Transport) error {
	if p < 0 || p >= priorityCount {
		return fmt.Errorf("priority %d: %w", p, icmsg.ErrInvalid)
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()

	if bus.slots[p] != nil {
		return fmt.Errorf("priority %v: %w", p, icmsg.ErrBusy)
	}

	bus.slots[p] = t
	bus.logger.WithField("transport", t.Name()).Infof("registered %v transport", p)

	return nil
}

// Unregister clears a transport priority slot.
func (bus *Bus) Unregister(p Priority) {
	if p < 0 || p >= priorityCount {
		return
	}

	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.slots[p] = nil
}

// Handle installs the receive handler invoked by Recv.
func (bus *Bus) Handle(h Handler) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	bus.handler = h
}

// transports snapshots the registered transports, highest priority first.
func (bus *Bus) transports() (t []Transport) {
	bus.mu.Lock()
	defer bus.mu.Unlock()

	for p := priorityCount - 1; p >= 0; p-- {
		if bus.slots[p] != nil {
			t = append(t, bus.slots[p])
		}
	}

	return
}

// Send walks the registered transports in priority order until one
// accepts the message.
//
// A transport returning icmsg.ErrAgain stops the walk, lower priority
// transports are not tried on its behalf and the caller may retry the
// whole send. Any other error moves on to the next transport. With no
// transport registered icmsg.ErrNoDevice is returned.
func (bus *Bus) Send(msg []byte) error {
	transports := bus.transports()

	if len(transports) == 0 {
		return icmsg.ErrNoDevice
	}

	var err error

	for _, t := range transports {
		err = t.Send(msg)

		if err == nil {
			bus.sends.WithLabelValues(t.Name()).Inc()
			return nil
		}

		bus.fails.WithLabelValues(t.Name()).Inc()

		if errors.Is(err, icmsg.ErrAgain) {
			return err
		}

		bus.logger.WithField("transport", t.Name()).WithError(err).
			Warn("transport refused message")
	}

	return err
}

// Recv hands an inbound message to the receive handler. No bus lock is
// held across the call, the handler may originate outbound messages
// synchronously.
func (bus *Bus) Recv(msg []byte) error {
	bus.mu.Lock()
	handler := bus.handler
	bus.mu.Unlock()

	if handler == nil {
		bus.drops.Inc()
		return icmsg.ErrNoDevice
	}

	bus.recvs.Inc()

	return handler(msg)
}
