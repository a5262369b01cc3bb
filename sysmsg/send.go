// System message layer
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sysmsg

import (
	"errors"
	"time"

	"github.com/openchiplet/icmsg"
	"github.com/openchiplet/icmsg/notify"
)

// Send retry defaults
const (
	DefaultRetries    = 10
	DefaultRetryDelay = 100 * time.Microsecond
)

// Messenger sends system messages through the notification bus, retrying
// transient refusals on the caller's behalf.
type Messenger struct {
	// Transport bus
	Bus *notify.Bus
	// Transient refusal retry budget
	Retries int
	// Inter-retry delay
	RetryDelay time.Duration
}

// NewMessenger returns a messenger with the default retry policy.
func NewMessenger(bus *notify.Bus) *Messenger {
	return &Messenger{
		Bus:        bus,
		Retries:    DefaultRetries,
		RetryDelay: DefaultRetryDelay,
	}
}

// Send transmits a message through the bus, retrying up to Retries times,
// with RetryDelay between attempts, while the bus reports a transient
// refusal (icmsg.ErrAgain). Any other outcome is surfaced immediately.
func (m *Messenger) Send(msg []byte) (err error) {
	for i := 0; ; i++ {
		err = m.Bus.Send(msg)

		if !errors.Is(err, icmsg.ErrAgain) || i >= m.Retries {
			return
		}

		time.Sleep(m.RetryDelay)
	}
}
