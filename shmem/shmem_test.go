// Shared-memory message transport
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package shmem_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openchiplet/icmsg"
	"github.com/openchiplet/icmsg/internal/reg"
	"github.com/openchiplet/icmsg/notify"
	"github.com/openchiplet/icmsg/shmem"
)

func testRegion() *shmem.Region {
	r := &shmem.Region{Mem: make([]byte, shmem.RegionSize)}
	r.Init()

	return r
}

func TestRegionSend(t *testing.T) {
	r := testRegion()

	require.NoError(t, r.Send([]byte{0xaa, 0xbb}))

	assert.Equal(t, uint32(shmem.StatusNew), reg.Read(r.Mem, shmem.SlotSize))
	assert.Equal(t, byte(0xaa), r.Mem[0])
	assert.Equal(t, byte(0xbb), r.Mem[1])
}

func TestRegionSendBusy(t *testing.T) {
	r := testRegion()

	require.NoError(t, r.Send([]byte{0xaa}))

	// an unconsumed slot is never overwritten
	err := r.Send([]byte{0xcc})
	assert.ErrorIs(t, err, icmsg.ErrAgain)
	assert.Equal(t, byte(0xaa), r.Mem[0])
}

func TestRegionSendOversize(t *testing.T) {
	r := testRegion()

	assert.ErrorIs(t, r.Send(make([]byte, shmem.SlotSize+1)), icmsg.ErrInvalid)
}

func TestRegionConsume(t *testing.T) {
	r := testRegion()

	require.NoError(t, r.Send([]byte{0x42}))
	require.True(t, r.Pending())

	var buf [shmem.SlotSize]byte
	r.Read(buf[:])
	assert.Equal(t, byte(0x42), buf[0])

	r.Complete()

	assert.False(t, r.Pending())
	assert.Equal(t, uint32(shmem.StatusAck), reg.Read(r.Mem, shmem.SlotSize))

	// the writer may transmit again
	assert.NoError(t, r.Send([]byte{0x43}))
}

func TestTransportReceive(t *testing.T) {
	in := testRegion()
	out := testRegion()

	bus := notify.NewBus(nil, nil)

	got := make(chan []byte, 1)

	bus.Handle(func(msg []byte) error {
		got <- append([]byte{}, msg...)
		return nil
	})

	tr := &shmem.Transport{
		Out:      out,
		In:       in,
		Interval: time.Millisecond,
		Bus:      bus,
	}

	tr.Start()
	defer tr.Stop()

	// remote writer side
	require.NoError(t, in.Send([]byte{0x7, 0x8}))

	select {
	case msg := <-got:
		assert.Equal(t, byte(0x7), msg[0])
		assert.Equal(t, byte(0x8), msg[1])
	case <-time.After(time.Second):
		t.Fatal("poll task did not deliver")
	}

	// the region is acknowledged after the handler returns
	ok := assert.Eventually(t, func() bool {
		return reg.Read(in.Mem, shmem.SlotSize) == shmem.StatusAck
	}, time.Second, time.Millisecond)
	require.True(t, ok)
}

func TestTransportStop(t *testing.T) {
	tr := &shmem.Transport{
		Out:      testRegion(),
		In:       testRegion(),
		Interval: time.Millisecond,
		Bus:      notify.NewBus(nil, nil),
	}

	tr.Start()
	tr.Stop()

	// stopping twice is a no-op
	tr.Stop()
}
