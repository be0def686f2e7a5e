// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package brightness

import (
	"sync"
	"time"
)

// DefaultCoalesceWindow 是合并外部亮度变化通知的时间窗口。
const DefaultCoalesceWindow = 100 * time.Millisecond

// Coalescer 合并窗口内的多次通知，只投递最后一个值。
type Coalescer struct {
	window  time.Duration
	deliver func(id uint32, v Value)

	mu      sync.Mutex
	pending map[uint32]Value
	timers  map[uint32]*time.Timer
	stopped bool
}

func NewCoalescer(window time.Duration, deliver func(id uint32, v Value)) *Coalescer {
	if window <= 0 {
		window = DefaultCoalesceWindow
	}
	return &Coalescer{
		window:  window,
		deliver: deliver,
		pending: make(map[uint32]Value),
		timers:  make(map[uint32]*time.Timer),
	}
}

func (c *Coalescer) Push(id uint32, v Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.pending[id] = v
	if _, ok := c.timers[id]; ok {
		return
	}
	c.timers[id] = time.AfterFunc(c.window, func() {
		c.flush(id)
	})
}

func (c *Coalescer) flush(id uint32) {
	c.mu.Lock()
	v, ok := c.pending[id]
	delete(c.pending, id)
	delete(c.timers, id)
	stopped := c.stopped
	c.mu.Unlock()

	if ok && !stopped {
		c.deliver(id, v)
	}
}

// Stop 丢弃尚未投递的通知。
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
	c.pending = make(map[uint32]Value)
}
