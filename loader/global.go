// SPDX-FileCopyrightText: 2018 - 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package loader

import (
	"sync"

	"github.com/linuxdeepin/go-lib/dbusutil"
	"github.com/linuxdeepin/go-lib/log"
)

var (
	loaderOnce sync.Once
	_loader    *Loader
)

func getLoader() *Loader {
	loaderOnce.Do(func() {
		if _loader == nil {
			_loader = newLoader()
		}
	})
	return _loader
}

// SetService 设置模块导出 D-Bus 对象用的会话总线服务。
func SetService(s *dbusutil.Service) {
	getLoader().service = s
}

func GetService() *dbusutil.Service {
	return getLoader().service
}

func Register(m Module) {
	getLoader().AddModule(m)
}

func GetModule(name string) Module {
	return getLoader().GetModule(name)
}

func SetLogLevel(pri log.Priority) {
	getLoader().SetLogLevel(pri)
}

func EnableModules(enablingModules []string, disableModules []string, flag EnableFlag) error {
	return getLoader().EnableModules(enablingModules, disableModules, flag)
}

// StartAll 启动所有已注册的模块。
func StartAll() error {
	var names []string
	for _, module := range getLoader().List() {
		names = append(names, module.Name())
	}
	return EnableModules(names, nil, EnableFlagNone)
}

func StopAll() error {
	return getLoader().StopModules()
}
