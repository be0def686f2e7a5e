// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package brightness

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCoalescerDeliversLatest(t *testing.T) {
	var mu sync.Mutex
	got := make(map[uint32][]float64)
	c := NewCoalescer(50*time.Millisecond, func(id uint32, v Value) {
		mu.Lock()
		got[id] = append(got[id], v.V)
		mu.Unlock()
	})

	for i := 1; i <= 5; i++ {
		c.Push(1, Value{V: float64(i) / 10, Space: SpaceLinear})
	}
	c.Push(2, Value{V: 0.9, Space: SpaceLinear})

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got[1]) == 1 && len(got[2]) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []float64{0.5}, got[1])
	assert.Equal(t, []float64{0.9}, got[2])
	mu.Unlock()
}

func TestCoalescerStop(t *testing.T) {
	delivered := make(chan Value, 1)
	c := NewCoalescer(20*time.Millisecond, func(id uint32, v Value) {
		delivered <- v
	})
	c.Push(1, Value{V: 0.3})
	c.Stop()
	c.Push(1, Value{V: 0.4})

	select {
	case v := <-delivered:
		t.Fatalf("unexpected delivery %v", v)
	case <-time.After(80 * time.Millisecond):
	}
}
