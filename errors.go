// Inter-cluster messaging for heterogeneous multi-chiplet SoCs
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package icmsg

import "errors"

// Error kinds surfaced across the messaging stack. Lower layers wrap
// these with context, callers match with errors.Is.
var (
	// ErrBusy indicates a resource already claimed (mailbox instance,
	// transport priority slot, device endpoint).
	ErrBusy = errors.New("resource busy")

	// ErrAgain indicates a transient condition the caller may retry
	// (outstanding message not yet acknowledged, region slot occupied,
	// nothing pending on a non-blocking read).
	ErrAgain = errors.New("try again")

	// ErrInvalid indicates malformed input (oversized write, unknown
	// message type, bad open mode).
	ErrInvalid = errors.New("invalid argument")

	// ErrNoDevice indicates that no transport is registered or that the
	// underlying device has been torn down.
	ErrNoDevice = errors.New("no such device")

	// ErrIO indicates that the hardware returned a mismatch or timed out.
	ErrIO = errors.New("input/output error")

	// ErrConfigMismatch indicates that the mailbox CONFIG read-back does
	// not match the source/destination the client expected.
	ErrConfigMismatch = errors.New("configuration mismatch")

	// ErrNoSpace indicates that a receive slot was still full on arrival.
	ErrNoSpace = errors.New("no buffer space")

	// ErrClosedPipe indicates a message dropped because its channel was
	// closed before the client drained it.
	ErrClosedPipe = errors.New("broken pipe")
)
