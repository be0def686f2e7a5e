// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package brightness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenGammaRamp(t *testing.T) {
	const size = 256
	r, g, b := genGammaRamp(size, 1)
	assert.Len(t, r, size)
	assert.Equal(t, r, g)
	assert.Equal(t, g, b)
	assert.Equal(t, uint16(0), r[0])

	half, _, _ := genGammaRamp(size, 0.5)
	for i := range half {
		assert.LessOrEqual(t, half[i], r[i])
	}

	dark, _, _ := genGammaRamp(size, 0)
	for _, v := range dark {
		assert.Equal(t, uint16(0), v)
	}
}
