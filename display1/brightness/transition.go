// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package brightness

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// DefaultRampRate 是渐变过程中每秒最多写入的次数。
const DefaultRampRate = 30

// Ramp 描述一次从 From 到 To 的线性亮度渐变。
type Ramp struct {
	From     float64
	To       float64
	Duration time.Duration
	// 每秒最多更新次数，<= 0 时使用 DefaultRampRate
	Rate float64
}

// Transition 是后台运行的渐变任务。
type Transition struct {
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started int32

	mu   sync.Mutex
	err  error
	last float64
}

// NewTransition 创建还没有开始的渐变，调用者可以先把它登记好再 Start。
func NewTransition(ctx context.Context) *Transition {
	ctx, cancel := context.WithCancel(ctx)
	return &Transition{
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start 在新的 goroutine 中执行渐变，apply 返回错误时渐变终止。
// 写入的值单调地从 From 走到 To，取消后不再调用 apply。只有第一次调用有效。
func (t *Transition) Start(r Ramp, apply func(ctx context.Context, v float64) error) {
	if !atomic.CompareAndSwapInt32(&t.started, 0, 1) {
		return
	}
	t.mu.Lock()
	t.last = r.From
	t.mu.Unlock()
	go t.run(r, apply)
}

func StartRamp(ctx context.Context, r Ramp, apply func(ctx context.Context, v float64) error) *Transition {
	t := NewTransition(ctx)
	t.Start(r, apply)
	return t
}

func (t *Transition) run(r Ramp, apply func(ctx context.Context, v float64) error) {
	defer close(t.done)
	defer t.cancel()

	from, to := Clamp(r.From), Clamp(r.To)
	if r.Duration <= 0 || from == to {
		t.finish(t.step(apply, to))
		return
	}

	perSecond := r.Rate
	if perSecond <= 0 {
		perSecond = DefaultRampRate
	}
	limiter := rate.NewLimiter(rate.Limit(perSecond), 1)
	start := time.Now()
	for {
		err := limiter.Wait(t.ctx)
		if err != nil {
			t.finish(context.Canceled)
			return
		}

		frac := float64(time.Since(start)) / float64(r.Duration)
		if frac >= 1 {
			t.finish(t.step(apply, to))
			return
		}
		err = t.step(apply, from+(to-from)*frac)
		if err != nil {
			t.finish(err)
			return
		}
	}
}

func (t *Transition) step(apply func(ctx context.Context, v float64) error, v float64) error {
	if t.ctx.Err() != nil {
		return context.Canceled
	}
	err := apply(t.ctx, v)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.last = v
	t.mu.Unlock()
	return nil
}

func (t *Transition) finish(err error) {
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
}

// Cancel 停止渐变，可以重复调用。
func (t *Transition) Cancel() {
	if t != nil {
		t.cancel()
	}
}

func (t *Transition) Done() <-chan struct{} {
	return t.done
}

// Err 在 Done 关闭前返回 nil，被取消时返回 context.Canceled。
func (t *Transition) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Last 返回最后一次成功写入的值。
func (t *Transition) Last() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Transition) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}
