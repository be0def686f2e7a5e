// SPDX-FileCopyrightText: 2018 - 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loader

import (
	"fmt"
	"sync"
	"time"

	"github.com/linuxdeepin/go-lib/dbusutil"
	"github.com/linuxdeepin/go-lib/log"
	"github.com/linuxdeepin/go-lib/multierr"
	"github.com/sourcegraph/conc"
)

type EnableFlag int

const (
	EnableFlagNone EnableFlag = 1 << iota
	EnableFlagIgnoreMissingModule
	EnableFlagForceStart
)

func (flags EnableFlag) HasFlag(flag EnableFlag) bool {
	return flags&flag != 0
}

const (
	ErrorNoDependencies int = iota
	ErrorCircleDependencies
	ErrorMissingModule
	ErrorInternalError
	ErrorConflict
)

type EnableError struct {
	ModuleName string
	Code       int
	detail     string
}

func (e *EnableError) Error() string {
	switch e.Code {
	case ErrorNoDependencies:
		return fmt.Sprintf("dependencies of module %s not met, need %s", e.ModuleName, e.detail)
	case ErrorCircleDependencies:
		return "dependency circle"
	case ErrorMissingModule:
		return fmt.Sprintf("module %s is missing", e.ModuleName)
	case ErrorInternalError:
		return fmt.Sprintf("module %s failed to start: %s", e.ModuleName, e.detail)
	case ErrorConflict:
		return fmt.Sprintf("trying to enable disabled module %s", e.ModuleName)
	}
	return fmt.Sprintf("module %s: unknown enable error %d", e.ModuleName, e.Code)
}

type Loader struct {
	modules Modules
	log     *log.Logger
	lock    sync.Mutex
	service *dbusutil.Service

	// 已启动模块的拓扑顺序，停止时反序
	startOrder []string
}

func newLoader() *Loader {
	return &Loader{
		modules: Modules{},
		log:     log.NewLogger("daemon/loader"),
	}
}

func (l *Loader) SetLogLevel(pri log.Priority) {
	l.log.SetLogLevel(pri)

	l.lock.Lock()
	defer l.lock.Unlock()

	for _, module := range l.modules {
		module.SetLogLevel(pri)
	}
}

func (l *Loader) AddModule(m Module) {
	l.lock.Lock()
	defer l.lock.Unlock()
	name := m.Name()
	if _, exist := l.modules[name]; exist {
		l.log.Debug("module", name, "is already registered")
		return
	}
	l.log.Debug("register module:", name)
	l.modules[name] = m
}

func (l *Loader) List() []Module {
	l.lock.Lock()
	defer l.lock.Unlock()
	modules := make([]Module, 0, len(l.modules))
	for _, m := range l.modules {
		modules = append(modules, m)
	}
	return modules
}

func (l *Loader) GetModule(name string) Module {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.modules[name]
}

type startResult struct {
	done chan struct{}
	err  error
}

// EnableModules 按依赖顺序启动模块，互不依赖的模块并行启动。
// 依赖启动失败的模块不会被启动，返回的错误包含所有未能启动的模块。
func (l *Loader) EnableModules(enablingModules []string, disableModules []string, flag EnableFlag) error {
	l.lock.Lock()
	defer l.lock.Unlock()

	startTime := time.Now()
	g, err := NewDAGBuilder(l, enablingModules, disableModules, flag).Execute()
	if err != nil {
		return err
	}
	nodes, ok := g.topologicalSort()
	if !ok {
		return &EnableError{Code: ErrorCircleDependencies}
	}
	l.log.Debugf("module order %v, cost %s", nodes, time.Since(startTime))

	var starting []string
	results := make(map[string]*startResult)
	for _, name := range nodes {
		module, ok := l.modules[name]
		if !ok || module.IsEnable() {
			continue
		}
		starting = append(starting, name)
		results[name] = &startResult{done: make(chan struct{})}
	}

	var wg conc.WaitGroup
	for _, name := range starting {
		name := name
		module := l.modules[name]
		result := results[name]
		wg.Go(func() {
			defer close(result.done)
			begin := time.Now()
			for _, dep := range module.GetDependencies() {
				r, ok := results[dep]
				if !ok {
					continue
				}
				<-r.done
				if r.err != nil {
					result.err = &EnableError{ModuleName: name, Code: ErrorNoDependencies, detail: dep}
					l.log.Warning(result.err)
					return
				}
			}
			err := module.Enable(true)
			if err != nil {
				l.log.Errorf("enable module %s failed: %v, cost %s", name, err, time.Since(begin))
				result.err = &EnableError{ModuleName: name, Code: ErrorInternalError, detail: err.Error()}
				return
			}
			l.log.Infof("enable module %s done, cost %s", name, time.Since(begin))
		})
	}
	var errs error
	if r := wg.WaitAndRecover(); r != nil {
		errs = multierr.Append(errs, r.AsError())
	}
	for _, name := range starting {
		if err := results[name].err; err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if l.modules[name].IsEnable() {
			l.startOrder = append(l.startOrder, name)
		}
	}

	l.log.Infof("enable modules done, cost %s", time.Since(startTime))
	return errs
}

// StopModules 按启动的反序停止已启动的模块。
func (l *Loader) StopModules() error {
	l.lock.Lock()
	defer l.lock.Unlock()

	var errs error
	for i := len(l.startOrder) - 1; i >= 0; i-- {
		name := l.startOrder[i]
		module, ok := l.modules[name]
		if !ok || !module.IsEnable() {
			continue
		}
		err := module.Enable(false)
		if err != nil {
			l.log.Warningf("stop module %s failed: %v", name, err)
			errs = multierr.Append(errs, err)
		}
	}
	l.startOrder = nil
	return errs
}
