// Basic bitwise operations
// https://github.com/openchiplet/icmsg
//
// Copyright (c) The icmsg Authors. All Rights Reserved.
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package bits

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBits(t *testing.T) {
	var val uint32

	Set(&val, 4)
	assert.Equal(t, uint32(0x10), val)
	assert.True(t, Get(&val, 4))

	SetTo(&val, 0, true)
	assert.Equal(t, uint32(0x11), val)

	Clear(&val, 4)
	assert.False(t, Get(&val, 4))

	SetTo(&val, 0, false)
	assert.Equal(t, uint32(0), val)
	assert.False(t, Get(&val, 0))
}
