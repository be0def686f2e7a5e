// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loader

import (
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/linuxdeepin/go-lib/log"
	"github.com/stretchr/testify/assert"
)

type Test_Module struct {
	*ModuleBase
	dependencies string
	test         *testing.T
	startErr     error
	events       *eventLog
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(ev string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

type testItem struct {
	input  Modules
	output error
}

func NewTestModule(name, dependencies string, t *testing.T) *Test_Module {
	daemon := new(Test_Module)
	logger := log.NewLogger(name)
	daemon.ModuleBase = NewModuleBase(name, daemon, logger)
	daemon.test = t
	daemon.dependencies = dependencies
	return daemon
}

func (d *Test_Module) GetDependencies() []string {
	if d.dependencies == "" {
		return nil
	}
	return strings.Split(d.dependencies, " ")
}

func (d *Test_Module) Start() error {
	time.Sleep(time.Duration(int32(time.Millisecond) * rand.Int31n(30)))
	if d.startErr != nil {
		return d.startErr
	}
	d.events.add("start " + d.Name())
	return nil
}

func (d *Test_Module) Stop() error {
	d.events.add("stop " + d.Name())
	return nil
}

func Test_Loader(t *testing.T) {
	testItems := []testItem{
		{
			Modules{
				"1": NewTestModule("1", "", t),
				"2": NewTestModule("2", "", t),
				"3": NewTestModule("3", "", t),
				"4": NewTestModule("4", "", t),
				"5": NewTestModule("5", "", t),
				"6": NewTestModule("6", "", t),
			},
			nil,
		},
		{
			Modules{
				"1": NewTestModule("1", "2", t),
				"2": NewTestModule("2", "3", t),
				"3": NewTestModule("3", "4", t),
				"4": NewTestModule("4", "5", t),
				"5": NewTestModule("5", "6", t),
				"6": NewTestModule("6", "", t),
			},
			nil,
		},
		{
			Modules{
				"1": NewTestModule("1", "2", t),
				"2": NewTestModule("2", "3", t),
				"3": NewTestModule("3", "4", t),
				"4": NewTestModule("4", "5", t),
				"5": NewTestModule("5", "6", t),
				"6": NewTestModule("6", "1", t),
			},
			&EnableError{Code: ErrorCircleDependencies},
		},
	}
	for _, data := range testItems {
		_loader = newLoader()
		allModules := []string{}
		for name, module := range data.input {
			Register(module)
			allModules = append(allModules, name)
		}
		err := EnableModules(allModules, nil, EnableFlagNone)
		assert.Equal(t, err, data.output)
	}
}

func Test_LoaderMissingModule(t *testing.T) {
	_loader = newLoader()
	Register(NewTestModule("display", "power", t))

	err := EnableModules([]string{"display"}, nil, EnableFlagNone)
	assert.Equal(t, &EnableError{ModuleName: "power", Code: ErrorMissingModule}, err)

	err = EnableModules([]string{"display"}, nil, EnableFlagIgnoreMissingModule)
	assert.NoError(t, err)
	assert.True(t, GetModule("display").IsEnable())
}

func Test_LoaderConflict(t *testing.T) {
	_loader = newLoader()
	Register(NewTestModule("display", "", t))

	err := EnableModules([]string{"display"}, []string{"display"}, EnableFlagNone)
	assert.Equal(t, &EnableError{ModuleName: "display", Code: ErrorConflict}, err)
}

func Test_LoaderStartFailure(t *testing.T) {
	_loader = newLoader()
	events := &eventLog{}
	backend := NewTestModule("backend", "", t)
	backend.startErr = errors.New("no display connection")
	display := NewTestModule("display", "backend", t)
	display.events = events
	Register(backend)
	Register(display)

	err := EnableModules([]string{"display"}, nil, EnableFlagNone)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "module backend failed to start: no display connection")
	assert.Contains(t, err.Error(), "dependencies of module display not met, need backend")
	assert.False(t, GetModule("backend").IsEnable())
	assert.False(t, GetModule("display").IsEnable())
	assert.Empty(t, events.events)

	// 依赖恢复后可以再次启动
	backend.startErr = nil
	assert.NoError(t, EnableModules([]string{"display"}, nil, EnableFlagNone))
	assert.True(t, GetModule("display").IsEnable())
}

func Test_LoaderStopOrder(t *testing.T) {
	_loader = newLoader()
	events := &eventLog{}
	for _, m := range []*Test_Module{
		NewTestModule("display", "brightness", t),
		NewTestModule("brightness", "backend", t),
		NewTestModule("backend", "", t),
	} {
		m.events = events
		Register(m)
	}

	assert.NoError(t, StartAll())
	assert.NoError(t, StopAll())
	assert.Equal(t, []string{
		"start backend", "start brightness", "start display",
		"stop display", "stop brightness", "stop backend",
	}, events.events)
	assert.False(t, GetModule("backend").IsEnable())

	// 没有已启动的模块时什么都不做
	assert.NoError(t, StopAll())
	assert.Len(t, events.events, 6)
}

func Test_dagTopologicalSort(t *testing.T) {
	g := newDag()
	g.addEdge("b", "a")
	g.addEdge("c", "b")
	g.addEdge("c", "a")
	assert.False(t, g.addNode("a"))
	assert.True(t, g.addNode("d"))

	sorted, ok := g.topologicalSort()
	assert.True(t, ok)
	pos := make(map[string]int)
	for i, id := range sorted {
		pos[id] = i
	}
	assert.Len(t, sorted, 4)
	assert.Less(t, pos["c"], pos["b"])
	assert.Less(t, pos["b"], pos["a"])

	g.addEdge("a", "c")
	_, ok = g.topologicalSort()
	assert.False(t, ok)
}
