// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/linuxdeepin/dde-display-daemon/display1/brightness"
	"github.com/linuxdeepin/dde-display-daemon/display1/presetstore"
	"github.com/linuxdeepin/dde-display-daemon/loader"
	"github.com/linuxdeepin/go-lib/dbusutil"
	"github.com/linuxdeepin/go-lib/log"
	"github.com/linuxdeepin/go-lib/xdg/basedir"
	x "github.com/linuxdeepin/go-x11-client"
)

var logger = log.NewLogger("daemon/display")

var (
	_configMu sync.Mutex
	_config   = DefaultConfig()
)

// SetConfig 设置模块启动时使用的配置，需在 loader 启动模块前调用。
func SetConfig(cfg Config) {
	_configMu.Lock()
	_config = cfg
	_configMu.Unlock()
}

func getConfig() Config {
	_configMu.Lock()
	defer _configMu.Unlock()
	return _config.withDefaults()
}

func defaultPresetFile() string {
	return filepath.Join(basedir.GetUserConfigDir(), "deepin/dde-display-daemon/presets.yaml")
}

type daemon struct {
	*loader.ModuleBase

	xConn      *x.Conn
	sysSigLoop *dbusutil.SignalLoop
	bs         *brightness.LinuxService
	store      *presetstore.Store
	manager    *Manager
	gateway    *Gateway
	lid        *lidWatcher
	sleep      *sleepWatcher
	dm         *dbusManager
}

func init() {
	loader.Register(NewModule(logger))
}

func NewModule(logger *log.Logger) *daemon {
	var d = new(daemon)
	d.ModuleBase = loader.NewModuleBase("display", d, logger)
	return d
}

func (*daemon) GetDependencies() []string {
	return []string{}
}

func (d *daemon) Start() error {
	if d.manager != nil {
		return nil
	}
	if os.Getenv("WAYLAND_DISPLAY") != "" {
		logger.Warning("in wayland mode, not support wayland")
		return nil
	}
	cfg := getConfig()
	setter, err := cfg.brightnessSetter()
	if err != nil {
		return err
	}

	xConn, err := x.NewConn()
	if err != nil {
		return err
	}
	d.xConn = xConn

	backend, err := newXrandrBackend(xConn)
	if err != nil {
		d.destroy()
		return err
	}

	sysBus, err := dbus.SystemBus()
	if err != nil {
		logger.Warning("failed to connect system bus:", err)
	}
	if sysBus != nil {
		d.sysSigLoop = dbusutil.NewSignalLoop(sysBus, 10)
		d.sysSigLoop.Start()
	}

	d.bs = brightness.NewLinuxService(xConn, sysBus, setter)
	d.bs.SetAmbientCompensation(cfg.AmbientLight, cfg.AmbientLight)

	if cfg.PresetFile == "" {
		cfg.PresetFile = defaultPresetFile()
	}
	d.store = presetstore.New(cfg.PresetFile)
	err = d.store.Load()
	if err != nil {
		logger.Warning("failed to load presets:", err)
	}

	d.manager = NewManager(cfg, backend, d.bs, d.store)
	d.manager.ConnectDisplayAdded(func(disp *Display) {
		d.bs.AddOutput(disp.Id(), disp.IsBuiltin())
	})
	d.manager.ConnectDisplayRemoved(d.bs.RemoveOutput)

	err = d.store.Watch(d.manager.Presets().Reload)
	if err != nil {
		logger.Warning("failed to watch preset file:", err)
	}

	d.gateway = NewGateway(d.manager)
	if sysBus != nil {
		d.lid = newLidWatcher(sysBus, d.sysSigLoop, d.gateway)
		err = d.lid.start()
		if err != nil {
			logger.Warning(err)
		}
		d.manager.SyncPowerState(d.lid)

		d.sleep, err = newSleepWatcher(sysBus, d.sysSigLoop, d.gateway)
		if err != nil {
			logger.Warning("failed to watch sleep:", err)
		}
	}

	err = backend.listenEvents(d.gateway)
	if err != nil {
		logger.Warning(err)
	}

	err = d.manager.Discover(context.Background())
	if err != nil {
		logger.Warning("discover displays failed:", err)
	}

	service := loader.GetService()
	if service == nil {
		return nil
	}
	d.dm = newDBusManager(d.manager, service)
	if d.lid != nil {
		d.lid.onChange = func(bool) {
			d.dm.updatePropLidClosed()
		}
	}
	d.dm.updatePropLidClosed()
	err = d.dm.export()
	if err != nil {
		d.destroy()
		return err
	}
	err = service.RequestName(dbusServiceName)
	if err != nil {
		d.destroy()
		return err
	}
	return nil
}

func (d *daemon) destroy() {
	if d.dm != nil {
		d.dm.stopExport()
		d.dm = nil
	}
	if d.sleep != nil {
		d.sleep.stop()
		d.sleep = nil
	}
	if d.lid != nil {
		d.lid.stop()
		d.lid = nil
	}
	if d.gateway != nil {
		d.gateway.Stop()
		d.gateway = nil
	}
	if d.manager != nil {
		d.manager.Close()
		d.manager = nil
	}
	if d.store != nil {
		err := d.store.Close()
		if err != nil {
			logger.Warning(err)
		}
		d.store = nil
	}
	if d.bs != nil {
		err := d.bs.Close()
		if err != nil {
			logger.Warning(err)
		}
		d.bs = nil
	}
	if d.sysSigLoop != nil {
		d.sysSigLoop.Stop()
		d.sysSigLoop = nil
	}
	if d.xConn != nil {
		d.xConn.Close()
		d.xConn = nil
	}
}

func (d *daemon) Stop() error {
	if d.manager == nil {
		return nil
	}
	if d.dm != nil {
		err := loader.GetService().ReleaseName(dbusServiceName)
		if err != nil {
			logger.Warning(err)
		}
	}
	d.destroy()
	return nil
}
