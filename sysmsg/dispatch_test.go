// System message layer
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sysmsg

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openchiplet/icmsg"
	"github.com/openchiplet/icmsg/notify"
)

type fakeTransport struct {
	errs []error
	sent [][]byte
}

func (t *fakeTransport) Name() string {
	return "fake"
}

func (t *fakeTransport) Send(msg []byte) error {
	var err error

	if len(t.errs) > 0 {
		err, t.errs = t.errs[0], t.errs[1:]
	}

	if err == nil {
		t.sent = append(t.sent, append([]byte{}, msg...))
	}

	return err
}

func testDispatcher(t *testing.T, out *fakeTransport) *Dispatcher {
	bus := notify.NewBus(nil, nil)
	require.NoError(t, bus.Register(notify.PriorityShmem, out))

	msgr := NewMessenger(bus)
	msgr.RetryDelay = time.Microsecond

	return NewDispatcher(msgr, nil)
}

func TestProcessValidation(t *testing.T) {
	d := testDispatcher(t, &fakeTransport{})

	assert.ErrorIs(t, d.Process(make([]byte, 63)), icmsg.ErrInvalid)
	assert.ErrorIs(t, d.Process(make([]byte, 65)), icmsg.ErrInvalid)

	bad := envelope(typeCount)
	assert.ErrorIs(t, d.Process(bad), icmsg.ErrInvalid)

	bad[0] = 0xff
	assert.ErrorIs(t, d.Process(bad), icmsg.ErrInvalid)
}

func TestProcessAllTypes(t *testing.T) {
	d := testDispatcher(t, &fakeTransport{})

	// every legal tag is processed without error: handled by a built-in
	// handler or dropped with a warning
	for tag := Type(0); tag < typeCount; tag++ {
		err := d.Process(envelope(tag))
		assert.NoError(t, err, "type %v", tag)
	}
}

func TestProcessNOP(t *testing.T) {
	out := &fakeTransport{}
	d := testDispatcher(t, out)

	require.NoError(t, d.Process(NOP()))
	require.NoError(t, d.Process(envelope(TypePong)))

	// no outbound traffic for either
	assert.Empty(t, out.sent)
}

func TestPingEcho(t *testing.T) {
	out := &fakeTransport{}
	d := testDispatcher(t, out)

	payload := make([]byte, PayloadSize)
	for i := range payload {
		payload[i] = byte(i + 1)
	}

	ping, err := Ping(payload)
	require.NoError(t, err)

	require.NoError(t, d.Process(ping))
	require.Len(t, out.sent, 1)

	pong := out.sent[0]
	assert.Equal(t, TypePong, Type(pong[0]))

	// bytes 1..63 are mirrored verbatim
	assert.Equal(t, ping[1:], pong[1:])
}

func TestHandleClaim(t *testing.T) {
	d := testDispatcher(t, &fakeTransport{})

	var got []byte

	require.NoError(t, d.Handle(TypeFault, func(msg []byte) error {
		got = append([]byte{}, msg...)
		return nil
	}))

	// built-in and claimed types cannot be taken over
	assert.ErrorIs(t, d.Handle(TypeFault, func([]byte) error { return nil }), icmsg.ErrBusy)
	assert.ErrorIs(t, d.Handle(TypePing, func([]byte) error { return nil }), icmsg.ErrBusy)

	require.NoError(t, d.Process(envelope(TypeFault)))
	assert.Len(t, got, Size)
}

func TestSendRetries(t *testing.T) {
	out := &fakeTransport{
		errs: []error{icmsg.ErrAgain, icmsg.ErrAgain},
	}

	bus := notify.NewBus(nil, nil)
	require.NoError(t, bus.Register(notify.PriorityShmem, out))

	msgr := &Messenger{
		Bus:        bus,
		Retries:    2,
		RetryDelay: time.Microsecond,
	}

	start := time.Now()
	require.NoError(t, msgr.Send(NOP()))

	// two refusals, one acceptance
	assert.Len(t, out.sent, 1)
	assert.GreaterOrEqual(t, time.Since(start), 2*time.Microsecond)
}

func TestSendRetriesExhausted(t *testing.T) {
	out := &fakeTransport{
		errs: []error{icmsg.ErrAgain, icmsg.ErrAgain, icmsg.ErrAgain},
	}

	bus := notify.NewBus(nil, nil)
	require.NoError(t, bus.Register(notify.PriorityShmem, out))

	msgr := &Messenger{
		Bus:        bus,
		Retries:    2,
		RetryDelay: time.Microsecond,
	}

	assert.ErrorIs(t, msgr.Send(NOP()), icmsg.ErrAgain)
	assert.Empty(t, out.sent)
}
