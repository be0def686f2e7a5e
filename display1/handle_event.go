// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"context"
	"fmt"
	"sync"

	"github.com/linuxdeepin/dde-display-daemon/display1/brightness"
)

type EventKind uint8

const (
	// 显示器连接或断开
	EventHotPlug EventKind = iota
	// 显示器的模式或属性发生了变化
	EventModesChanged
	// 外部引起的亮度变化
	EventBrightnessChanged
	EventLidChanged
	EventSleep
	EventWake
)

func (k EventKind) String() string {
	switch k {
	case EventHotPlug:
		return "hot-plug"
	case EventModesChanged:
		return "modes-changed"
	case EventBrightnessChanged:
		return "brightness-changed"
	case EventLidChanged:
		return "lid-changed"
	case EventSleep:
		return "sleep"
	case EventWake:
		return "wake"
	}
	return fmt.Sprintf("event(%d)", uint8(k))
}

type Event struct {
	Kind       EventKind
	DisplayId  uint32
	Attached   bool
	Brightness brightness.Value
	LidClosed  bool
}

func (ev Event) global() bool {
	switch ev.Kind {
	case EventLidChanged, EventSleep, EventWake:
		return true
	}
	return false
}

// Gateway 接收外部通知并分发给 Manager。每个显示器有一个有界队列和一个处理协程，
// 同一显示器的事件按顺序处理，不同显示器之间并行。
type Gateway struct {
	m         *Manager
	queueSize int
	ctx       context.Context
	cancel    context.CancelFunc
	in        chan Event

	mu      sync.RWMutex
	stopped bool
	queues  map[uint32]chan Event

	loopDone chan struct{}
	wg       sync.WaitGroup
}

func NewGateway(m *Manager) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Gateway{
		m:         m,
		queueSize: m.cfg.EventQueueSize,
		ctx:       ctx,
		cancel:    cancel,
		in:        make(chan Event, m.cfg.EventQueueSize),
		queues:    make(map[uint32]chan Event),
		loopDone:  make(chan struct{}),
	}
	go g.loop()
	return g
}

// Post 不会阻塞。队列满时丢弃事件，通知只是刷新提示，之后的通知会重新同步状态。
func (g *Gateway) Post(ev Event) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.stopped {
		return false
	}
	select {
	case g.in <- ev:
		return true
	default:
		logger.Warningf("event queue full, drop %v event of display %d", ev.Kind, ev.DisplayId)
		return false
	}
}

func (g *Gateway) loop() {
	defer close(g.loopDone)
	for ev := range g.in {
		if ev.global() {
			g.handleGlobal(ev)
			continue
		}
		g.dispatch(ev)
	}
}

func (g *Gateway) handleGlobal(ev Event) {
	logger.Debug("handle global event", ev.Kind)
	switch ev.Kind {
	case EventLidChanged:
		g.m.SetLidClosed(ev.LidClosed)
		if d := g.m.builtinDisplay(); d != nil {
			g.dispatch(Event{Kind: EventModesChanged, DisplayId: d.Id()})
		}

	case EventSleep:
		g.m.brightness.CancelTransitions()

	case EventWake:
		// 休眠期间可能插拔过显示器
		err := g.m.Discover(g.ctx)
		if err != nil {
			logger.Warning("discover after wake failed:", err)
		}
		for _, d := range g.m.Displays() {
			g.dispatch(Event{Kind: EventModesChanged, DisplayId: d.Id()})
		}
	}
}

// dispatch 在持有 g.mu 时入队，保证不会把事件投进已经退出的处理协程的队列。
func (g *Gateway) dispatch(ev Event) {
	g.mu.Lock()
	defer g.mu.Unlock()
	queue := g.queues[ev.DisplayId]
	if queue == nil {
		queue = make(chan Event, g.queueSize)
		g.queues[ev.DisplayId] = queue
		g.wg.Add(1)
		go g.dispatcher(ev.DisplayId, queue)
	}

	select {
	case queue <- ev:
	default:
		logger.Warningf("display %d event queue full, drop %v event", ev.DisplayId, ev.Kind)
	}
}

func (g *Gateway) dispatcher(id uint32, queue chan Event) {
	defer g.wg.Done()
	for ev := range queue {
		err := g.handle(ev)
		if err != nil {
			logger.Warningf("handle %v event of display %d failed: %v", ev.Kind, id, err)
		}
		if g.retire(id, queue) {
			return
		}
	}
}

// retire 显示器已断开且队列为空时注销处理协程，之后的事件会创建新的协程。
func (g *Gateway) retire(id uint32, queue chan Event) bool {
	if _, err := g.m.Display(id); err == nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(queue) != 0 || g.queues[id] != queue {
		return false
	}
	delete(g.queues, id)
	logger.Debugf("display %d event dispatcher exit", id)
	return true
}

func (g *Gateway) dispatcherCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.queues)
}

func (g *Gateway) handle(ev Event) error {
	switch ev.Kind {
	case EventHotPlug:
		if !ev.Attached {
			g.m.Detach(ev.DisplayId)
			return nil
		}
		_, err := g.m.Attach(g.ctx, ev.DisplayId)
		return err

	case EventModesChanged:
		d, err := g.m.Display(ev.DisplayId)
		if err != nil {
			return err
		}
		return d.RefreshModes(g.ctx)

	case EventBrightnessChanged:
		g.m.brightness.HandleExternalChange(ev.DisplayId, ev.Brightness)
		return nil
	}
	return fmt.Errorf("unexpected event %v", ev.Kind)
}

// Stop 处理完已经入队的事件后停止全部处理协程。
func (g *Gateway) Stop() {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return
	}
	g.stopped = true
	close(g.in)
	g.mu.Unlock()

	<-g.loopDone

	g.mu.Lock()
	for id, queue := range g.queues {
		close(queue)
		delete(g.queues, id)
	}
	g.mu.Unlock()
	g.wg.Wait()
	g.cancel()
}
