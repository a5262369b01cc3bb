// Memory mapped register access
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package reg

import (
	"encoding/binary"
)

// CopyFrom reads len(buf) bytes from a memory mapped window, starting at
// the offset argument, into buf using 32-bit word loads. The offset and
// buffer length must be word aligned.
func CopyFrom(mem []byte, off uint32, buf []byte) {
	if len(buf)%4 != 0 {
		panic("unaligned register copy")
	}

	for i := 0; i < len(buf); i += 4 {
		binary.LittleEndian.PutUint32(buf[i:], Read(mem, off+uint32(i)))
	}
}

// CopyTo writes len(buf) bytes from buf into a memory mapped window,
// starting at the offset argument, using 32-bit word stores. The offset
// and buffer length must be word aligned.
func CopyTo(mem []byte, off uint32, buf []byte) {
	if len(buf)%4 != 0 {
		panic("unaligned register copy")
	}

	for i := 0; i < len(buf); i += 4 {
		Write(mem, off+uint32(i), binary.LittleEndian.Uint32(buf[i:]))
	}
}
