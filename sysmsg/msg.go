// System message layer
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sysmsg implements the fixed-size system message envelope
// exchanged between clusters, its per-type dispatcher and the retrying
// send helper layered on the notification bus.
package sysmsg

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/openchiplet/icmsg"
)

// Message envelope layout
const (
	// Size is the fixed envelope size.
	Size = 64
	// header: type tag at offset 0, 3 reserved bytes
	headerSize = 4
	// PayloadSize is the type-specific payload capacity.
	PayloadSize = Size - headerSize
)

// Type is the message type tag carried at envelope offset 0.
type Type uint8

// Message types
const (
	TypeNOP Type = iota
	TypePing
	TypePong
	TypeReadValue
	TypeWriteStatus
	TypeReadFile
	TypeWriteFile
	TypeReadProp
	TypeWriteProp
	TypeReadAddr
	TypeWriteAddr
	TypeWatchdogTimeout
	TypeFault
	TypeLifecycle
	TypeAction

	typeCount
)

// String returns the message type name.
func (t Type) String() string {
	switch t {
	case TypeNOP:
		return "NOP"
	case TypePing:
		return "PING"
	case TypePong:
		return "PONG"
	case TypeReadValue:
		return "READ_VALUE"
	case TypeWriteStatus:
		return "WRITE_STATUS"
	case TypeReadFile:
		return "READ_FILE"
	case TypeWriteFile:
		return "WRITE_FILE"
	case TypeReadProp:
		return "READ_PROP"
	case TypeWriteProp:
		return "WRITE_PROP"
	case TypeReadAddr:
		return "READ_ADDR"
	case TypeWriteAddr:
		return "WRITE_ADDR"
	case TypeWatchdogTimeout:
		return "WATCHDOG_TIMEOUT"
	case TypeFault:
		return "FAULT"
	case TypeLifecycle:
		return "LIFECYCLE"
	case TypeAction:
		return "ACTION"
	default:
		return fmt.Sprintf("type-%d", int(t))
	}
}

// Lifecycle status codes
const (
	// LifecycleUp reports boot completion.
	LifecycleUp = 0
	// LifecycleDown reports shutdown initiation.
	LifecycleDown = 1
)

// lifecycle payload: u32 status, then nul-terminated informational text
const lifecycleInfoSize = PayloadSize - 4

// envelope returns a zeroed envelope tagged with the type argument,
// undefined payload bytes stay zero by contract.
func envelope(t Type) []byte {
	msg := make([]byte, Size)
	msg[0] = byte(t)

	return msg
}

// NOP encodes a no-operation message.
func NOP() []byte {
	return envelope(TypeNOP)
}

// Ping encodes an echo request carrying an opaque payload, mirrored back
// verbatim by the remote in the corresponding PONG.
func Ping(payload []byte) ([]byte, error) {
	if len(payload) > PayloadSize {
		return nil, fmt.Errorf("payload exceeds %d bytes: %w", PayloadSize, icmsg.ErrInvalid)
	}

	msg := envelope(TypePing)
	copy(msg[headerSize:], payload)

	return msg, nil
}

// Lifecycle encodes a lifecycle report with optional human-readable
// context, truncated to the payload capacity.
func Lifecycle(status uint32, info string) []byte {
	msg := envelope(TypeLifecycle)
	binary.LittleEndian.PutUint32(msg[headerSize:], status)

	// keep the nul terminator
	if len(info) > lifecycleInfoSize-1 {
		info = info[:lifecycleInfoSize-1]
	}

	copy(msg[headerSize+4:], info)

	return msg
}

// ParseLifecycle decodes a lifecycle report.
func ParseLifecycle(msg []byte) (status uint32, info string, err error) {
	if len(msg) != Size || Type(msg[0]) != TypeLifecycle {
		return 0, "", fmt.Errorf("not a lifecycle message: %w", icmsg.ErrInvalid)
	}

	status = binary.LittleEndian.Uint32(msg[headerSize:])

	text := msg[headerSize+4:]

	if i := bytes.IndexByte(text, 0); i >= 0 {
		text = text[:i]
	}

	return status, string(text), nil
}

// WatchdogTimeout encodes a watchdog pretimeout report for the CPU
// argument.
func WatchdogTimeout(cpu uint32) []byte {
	msg := envelope(TypeWatchdogTimeout)
	binary.LittleEndian.PutUint32(msg[headerSize:], cpu)

	return msg
}

// ParseWatchdogTimeout decodes a watchdog pretimeout report.
func ParseWatchdogTimeout(msg []byte) (cpu uint32, err error) {
	if len(msg) != Size || Type(msg[0]) != TypeWatchdogTimeout {
		return 0, fmt.Errorf("not a watchdog timeout message: %w", icmsg.ErrInvalid)
	}

	return binary.LittleEndian.Uint32(msg[headerSize:]), nil
}
