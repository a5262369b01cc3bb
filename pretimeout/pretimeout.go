// Fault and lifecycle monitor
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package pretimeout bridges local fault signals into the system message
// protocol: fatal errors, panics and shutdowns are reported as lifecycle
// transitions, watchdog pretimeouts as timeout reports followed by an
// orderly poweroff, giving remote observers a death rattle before the
// hard reset.
package pretimeout

import (
	"fmt"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/openchiplet/icmsg/sysmsg"
)

// DieInfo describes a fatal error reported through the die notifier.
type DieInfo struct {
	Action string
	Desc   string
	Err    int
	Trap   int
	Signal int
}

// Sources are the upward notifier chains the monitor registers on, nil
// entries are skipped. Each registration function installs the given
// callback on its chain.
type Sources struct {
	// Fatal error notifier
	Die func(func(DieInfo))
	// Panic notifier
	Panic func(func(string))
	// Shutdown/restart notifier
	Shutdown func(func(action string))
	// Watchdog pretimeout notifier, reporting the expiring CPU
	Pretimeout func(func(cpu uint32))
}

// Monitor reports local faults and lifecycle transitions to the
// management cluster.
type Monitor struct {
	// Outbound message path
	Messenger *sysmsg.Messenger
	// Orderly poweroff initiator, invoked at most once
	Poweroff func() error
	// Logger, defaults to the standard logger
	Logger log.FieldLogger

	fired atomic.Bool
}

// Start registers the monitor on the notifier chains and, once all
// registrations are in place, reports lifecycle up.
func (m *Monitor) Start(s Sources) error {
	if m.Logger == nil {
		m.Logger = log.StandardLogger()
	}

	if s.Die != nil {
		s.Die(m.Die)
	}

	if s.Panic != nil {
		s.Panic(m.Panic)
	}

	if s.Shutdown != nil {
		s.Shutdown(m.Shutdown)
	}

	if s.Pretimeout != nil {
		s.Pretimeout(m.Pretimeout)
	}

	return m.Messenger.Send(sysmsg.Lifecycle(sysmsg.LifecycleUp, ""))
}

// Die reports a fatal error as a lifecycle down transition.
func (m *Monitor) Die(info DieInfo) {
	desc := fmt.Sprintf("%s|%s|%d|%d|%d",
		info.Action, info.Desc, info.Err, info.Trap, info.Signal)

	m.down(desc)
}

// Panic reports a panic as a lifecycle down transition.
func (m *Monitor) Panic(msg string) {
	m.down(msg)
}

// Shutdown reports a shutdown or restart as a lifecycle down transition.
func (m *Monitor) Shutdown(action string) {
	m.down(action)
}

// logger returns the configured logger, or the standard logger if none is
// set.
func (m *Monitor) logger() log.FieldLogger {
	if m.Logger == nil {
		return log.StandardLogger()
	}

	return m.Logger
}

func (m *Monitor) down(info string) {
	if err := m.Messenger.Send(sysmsg.Lifecycle(sysmsg.LifecycleDown, info)); err != nil {
		m.logger().WithError(err).Error("lifecycle down report failed")
	}
}

// Pretimeout reports a watchdog pretimeout for the CPU argument and
// initiates an orderly poweroff. Pretimeouts fired while a poweroff is
// already in progress are logged but not re-initiated.
func (m *Monitor) Pretimeout(cpu uint32) {
	if err := m.Messenger.Send(sysmsg.WatchdogTimeout(cpu)); err != nil {
		m.logger().WithError(err).Error("watchdog timeout report failed")
	}

	if !m.fired.CompareAndSwap(false, true) {
		m.logger().WithField("cpu", cpu).Warn("pretimeout while poweroff in progress")
		return
	}

	m.logger().WithField("cpu", cpu).Info("watchdog pretimeout, powering off")

	if m.Poweroff != nil {
		if err := m.Poweroff(); err != nil {
			m.logger().WithError(err).Error("poweroff failed")
		}
	}
}
