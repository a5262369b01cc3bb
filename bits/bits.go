// Basic bitwise operations
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package bits provides the bitwise operations used to build and test
// mailbox event routing masks on uint32 register values.
package bits

// Get returns whether the bit at the position argument is set at the
// pointed value.
func Get(addr *uint32, pos int) bool {
	return *addr&(1<<pos) != 0
}

// Set modifies the pointed value by setting the bit at the position
// argument.
func Set(addr *uint32, pos int) {
	*addr |= 1 << pos
}

// Clear modifies the pointed value by clearing the bit at the position
// argument.
func Clear(addr *uint32, pos int) {
	*addr &^= 1 << pos
}

// SetTo modifies the pointed value by setting the bit at the position
// argument to the val argument.
func SetTo(addr *uint32, pos int, val bool) {
	if val {
		Set(addr, pos)
	} else {
		Clear(addr, pos)
	}
}
