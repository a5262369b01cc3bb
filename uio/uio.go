// Userspace I/O device access
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build linux

// Package uio provides access to Linux Userspace I/O (UIO) devices: it
// maps a peripheral MMIO window into the process and turns the device
// interrupt into a cancellable wait loop feeding a service routine.
//
// It also maps plain files for shared-memory transport windows.
package uio

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Device represents an open UIO device.
type Device struct {
	// Device path
	Path string

	f   *os.File
	mem []byte
}

// Open opens a UIO device.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_SYNC, 0)

	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	return &Device{
		Path: path,
		f:    f,
	}, nil
}

// Map maps the device's first memory region, of the size argument, into
// the process.
func (d *Device) Map(size int) ([]byte, error) {
	if d.mem != nil {
		return d.mem, nil
	}

	mem, err := unix.Mmap(int(d.f.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)

	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", d.Path, err)
	}

	d.mem = mem

	return mem, nil
}

// Enable unmasks the device interrupt.
func (d *Device) Enable() error {
	var one [4]byte
	binary.LittleEndian.PutUint32(one[:], 1)

	_, err := d.f.Write(one[:])

	return err
}

// Wait blocks until the device interrupt fires, returning the interrupt
// count, and re-enables the interrupt for the next wait.
func (d *Device) Wait() (uint32, error) {
	var count [4]byte

	if _, err := d.f.Read(count[:]); err != nil {
		return 0, err
	}

	if err := d.Enable(); err != nil {
		return 0, err
	}

	return binary.LittleEndian.Uint32(count[:]), nil
}

// Serve invokes the service argument on every device interrupt until the
// context is cancelled or the device closed.
func (d *Device) Serve(ctx context.Context, service func()) error {
	if err := d.Enable(); err != nil {
		return err
	}

	for {
		if _, err := d.Wait(); err != nil {
			if ctx.Err() != nil {
				return nil
			}

			return err
		}

		if ctx.Err() != nil {
			return nil
		}

		service()
	}
}

// Close unmaps and closes the device, unblocking any pending Wait.
func (d *Device) Close() error {
	if d.mem != nil {
		unix.Munmap(d.mem)
		d.mem = nil
	}

	return d.f.Close()
}

// MapFile maps size bytes of the file at the path argument, shared,
// creating and growing it as needed. It backs shared-memory transport
// windows.
func MapFile(path string, size int) ([]byte, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)

	if err != nil {
		return nil, err
	}

	defer f.Close()

	if err = f.Truncate(int64(size)); err != nil {
		return nil, err
	}

	return unix.Mmap(int(f.Fd()), 0, size,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
}
