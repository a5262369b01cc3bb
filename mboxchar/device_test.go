// Character-style mailbox endpoints
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mboxchar_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openchiplet/icmsg"
	"github.com/openchiplet/icmsg/internal/reg"
	"github.com/openchiplet/icmsg/mbox"
	"github.com/openchiplet/icmsg/mboxchar"
)

func testBank() *mbox.Bank {
	bank := &mbox.Bank{
		Name:    "test",
		Mem:     make([]byte, mbox.BlockSize),
		IRQRecv: 0,
		IRQAck:  1,
	}
	bank.Init()

	return bank
}

func base(index int) uint32 {
	return uint32(index * mbox.InstanceSize)
}

func deliver(bank *mbox.Bank, index int, payload []byte) {
	var buf [mbox.DataSize]byte
	copy(buf[:], payload)

	reg.CopyTo(bank.Mem, base(index)+mbox.MBOXx_DATA, buf[:])
	reg.Or(bank.Mem, base(index)+mbox.MBOXx_EVENT_CAUSE, mbox.EVENT_A)

	bank.ServiceRecv()
}

func ack(bank *mbox.Bank, index int) {
	reg.Or(bank.Mem, base(index)+mbox.MBOXx_EVENT_CAUSE, mbox.EVENT_B)
	bank.ServiceAck()
}

func testDevices(t *testing.T) (*mbox.Bank, *mboxchar.Device, *mboxchar.Device) {
	bank := testBank()
	registry := mboxchar.NewRegistry(nil)

	out, err := registry.Add(bank, mboxchar.Config{
		Instance: 0,
		Dir:      mboxchar.Outgoing,
	})
	require.NoError(t, err)

	in, err := registry.Add(bank, mboxchar.Config{
		Instance: 1,
		Dir:      mboxchar.Incoming,
	})
	require.NoError(t, err)

	return bank, out, in
}

func TestNaming(t *testing.T) {
	bank := testBank()
	registry := mboxchar.NewRegistry(nil)

	d, err := registry.Add(bank, mboxchar.Config{Instance: 5, Dir: mboxchar.Incoming})
	require.NoError(t, err)
	assert.Equal(t, "test/mbox5", d.Name())

	named, err := registry.Add(bank, mboxchar.Config{
		Name:     "cmd-out",
		Instance: 6,
		Dir:      mboxchar.Outgoing,
	})
	require.NoError(t, err)
	assert.Equal(t, "test/cmd-out", named.Name())

	_, err = registry.Add(bank, mboxchar.Config{Instance: 5})
	assert.ErrorIs(t, err, icmsg.ErrBusy)

	got, err := registry.Lookup("test/mbox5")
	require.NoError(t, err)
	assert.Same(t, d, got)

	assert.Equal(t, []string{"test/cmd-out", "test/mbox5"}, registry.Names())

	registry.Remove("test/mbox5")
	_, err = registry.Lookup("test/mbox5")
	assert.ErrorIs(t, err, icmsg.ErrNoDevice)
}

func TestOpenModes(t *testing.T) {
	_, out, in := testDevices(t)

	// write-only on a receive-only instance
	err := in.Open(mboxchar.WriteOnly)
	assert.ErrorIs(t, err, icmsg.ErrInvalid)

	require.NoError(t, in.Open(mboxchar.ReadOnly))
	defer in.Close()

	assert.ErrorIs(t, in.Open(mboxchar.ReadOnly), icmsg.ErrBusy)

	require.NoError(t, out.Open(mboxchar.ReadWrite))
	defer out.Close()
}

func TestBackPressure(t *testing.T) {
	bank, out, _ := testDevices(t)

	require.NoError(t, out.Open(mboxchar.ReadWrite))
	defer out.Close()

	msg := make([]byte, 64)
	msg[0] = 0x42

	n, err := out.Write(msg)
	require.NoError(t, err)
	assert.Equal(t, 64, n)

	var buf [64]byte

	// the acknowledge has not arrived yet
	_, err = out.Read(buf[:])
	assert.ErrorIs(t, err, icmsg.ErrAgain)

	ack(bank, 0)

	n, err = out.Read(buf[:])
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(buf[:]))

	// the status is consumed by the first read
	_, err = out.Read(buf[:])
	assert.ErrorIs(t, err, icmsg.ErrAgain)
}

func TestWriteLimits(t *testing.T) {
	_, out, in := testDevices(t)

	require.NoError(t, out.Open(mboxchar.ReadWrite))
	defer out.Close()

	_, err := out.Write(make([]byte, 65))
	assert.ErrorIs(t, err, icmsg.ErrInvalid)

	require.NoError(t, in.Open(mboxchar.ReadOnly))
	defer in.Close()

	_, err = in.Write([]byte{0})
	assert.ErrorIs(t, err, icmsg.ErrInvalid)
}

func TestReadIncoming(t *testing.T) {
	bank, _, in := testDevices(t)

	require.NoError(t, in.Open(mboxchar.ReadOnly))
	defer in.Close()

	var buf [64]byte

	_, err := in.Read(buf[:])
	assert.ErrorIs(t, err, icmsg.ErrAgain)

	payload := make([]byte, 64)
	for i := range payload {
		payload[i] = byte(i)
	}

	deliver(bank, 1, payload)

	n, err := in.Read(buf[:])
	require.NoError(t, err)
	assert.Equal(t, 64, n)
	assert.Equal(t, payload, buf[:])

	// consuming the payload drains the instance for the remote
	status := reg.Read(bank.Mem, base(1)+mbox.MBOXx_EVENT_STATUS)
	assert.NotZero(t, status&mbox.EVENT_B)
}

func TestNackOnClose(t *testing.T) {
	bank, _, in := testDevices(t)

	require.NoError(t, in.Open(mboxchar.ReadOnly))

	deliver(bank, 1, []byte{0x1})

	// close with the payload still pending
	in.Close()

	status := reg.Read(bank.Mem, base(1)+mbox.MBOXx_EVENT_STATUS)
	assert.NotZero(t, status&mbox.EVENT_B, "negative acknowledge pulse")

	// the instance is released
	assert.NoError(t, in.Open(mboxchar.ReadOnly))
	in.Close()
}

func TestPollWake(t *testing.T) {
	bank, _, in := testDevices(t)

	require.NoError(t, in.Open(mboxchar.ReadOnly))
	defer in.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	woke := make(chan mboxchar.Events, 1)

	go func() {
		ev, _ := in.Poll(ctx, mboxchar.In)
		woke <- ev
	}()

	// let the poller block
	time.Sleep(10 * time.Millisecond)

	deliver(bank, 1, []byte{0x1})

	select {
	case ev := <-woke:
		assert.NotZero(t, ev&mboxchar.In)
	case <-time.After(time.Second):
		t.Fatal("poll did not wake on delivery")
	}
}

func TestPollWritable(t *testing.T) {
	bank, out, _ := testDevices(t)

	require.NoError(t, out.Open(mboxchar.ReadWrite))
	defer out.Close()

	ctx := context.Background()

	// no acknowledge outstanding
	ev, err := out.Poll(ctx, mboxchar.Out)
	require.NoError(t, err)
	assert.NotZero(t, ev&mboxchar.Out)

	_, err = out.Write([]byte{0x1})
	require.NoError(t, err)

	ack(bank, 0)

	// a pending acknowledge is readable and blocks writability
	ev, err = out.Poll(ctx, mboxchar.In)
	require.NoError(t, err)
	assert.NotZero(t, ev&mboxchar.In)
	assert.Zero(t, ev&mboxchar.Out)
}

func TestPollHup(t *testing.T) {
	_, _, in := testDevices(t)

	require.NoError(t, in.Open(mboxchar.ReadOnly))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	woke := make(chan mboxchar.Events, 1)

	go func() {
		ev, _ := in.Poll(ctx, mboxchar.In)
		woke <- ev
	}()

	time.Sleep(10 * time.Millisecond)

	in.Close()

	select {
	case ev := <-woke:
		assert.Equal(t, mboxchar.Hup, ev)
	case <-time.After(time.Second):
		t.Fatal("poll did not wake on close")
	}
}

func TestReadClosed(t *testing.T) {
	_, out, _ := testDevices(t)

	var buf [64]byte

	_, err := out.Read(buf[:])
	assert.ErrorIs(t, err, icmsg.ErrNoDevice)

	_, err = out.Write(buf[:])
	assert.ErrorIs(t, err, icmsg.ErrNoDevice)
}
