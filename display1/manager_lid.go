// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	configManager "github.com/linuxdeepin/go-dbus-factory/org.desktopspec.ConfigManager"
	syspower "github.com/linuxdeepin/go-dbus-factory/system/org.deepin.dde.power1"
	login1 "github.com/linuxdeepin/go-dbus-factory/system/org.freedesktop.login1"
	"github.com/linuxdeepin/go-lib/dbusutil"
	"github.com/linuxdeepin/go-lib/dbusutil/proxy"
)

const (
	dsettingsAppID                   = "org.deepin.dde.daemon"
	dsettingsPowerName               = "org.deepin.dde.daemon.power"
	dsettingBatteryLidClosedAction   = "batteryLidClosedAction"
	dsettingLinePowerLidClosedAction = "linePowerLidClosedAction"
	powerActionDoNothing             = 5
)

// lidWatcher 监听系统电源服务的合盖信号，并把状态通过 Gateway 交给 Manager。
type lidWatcher struct {
	sysBus   *dbus.Conn
	sigLoop  *dbusutil.SignalLoop
	sysPower syspower.Power
	gateway  *Gateway
	// 合盖状态变化后调用
	onChange func(closed bool)

	mu        sync.Mutex
	lidClosed bool
}

func newLidWatcher(sysBus *dbus.Conn, sigLoop *dbusutil.SignalLoop, gateway *Gateway) *lidWatcher {
	return &lidWatcher{
		sysBus:   sysBus,
		sigLoop:  sigLoop,
		sysPower: syspower.NewPower(sysBus),
		gateway:  gateway,
	}
}

func (w *lidWatcher) IsLidClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lidClosed
}

func (w *lidWatcher) start() error {
	logger.Debug("init lid switch")
	hasLid, err := w.sysPower.HasLidSwitch().Get(0)
	if err != nil {
		return fmt.Errorf("failed to get lid switch info: %w", err)
	}
	if !hasLid {
		return nil
	}

	logger.Info("has lid switch")
	// 启动时认为是开盖状态，之后以合盖、开盖信号为准
	w.setLidClosed(false, false)
	w.sysPower.InitSignalExt(w.sigLoop, true)
	_, err = w.sysPower.ConnectLidClosed(func() {
		logger.Warning("lid closed signal")
		w.handleLidSwitch(true)
	})
	if err != nil {
		return err
	}
	_, err = w.sysPower.ConnectLidOpened(func() {
		logger.Warning("lid open signal")
		w.handleLidSwitch(false)
	})
	return err
}

func (w *lidWatcher) stop() {
	w.sysPower.RemoveHandler(proxy.RemoveAllHandlers)
}

func (w *lidWatcher) setLidClosed(closed bool, post bool) {
	w.mu.Lock()
	w.lidClosed = closed
	w.mu.Unlock()
	if post {
		w.gateway.Post(Event{Kind: EventLidChanged, LidClosed: closed})
	}
	if w.onChange != nil {
		w.onChange(closed)
	}
}

func (w *lidWatcher) handleLidSwitch(closed bool) {
	onBattery := false
	if closed {
		var err error
		onBattery, err = w.sysPower.OnBattery().Get(0)
		if err != nil {
			logger.Warning(err)
			return
		}
	}
	if shouldHandleLid(closed, onBattery, w.getPowerLidAction) {
		w.setLidClosed(closed, true)
	}
}

// shouldHandleLid 合盖动作配置为“无操作”时才由显示模块处理合盖，开盖总是处理。
func shouldHandleLid(closed, onBattery bool, lidAction func(key string) (int64, error)) bool {
	if !closed {
		return true
	}
	key := dsettingLinePowerLidClosedAction
	if onBattery {
		key = dsettingBatteryLidClosedAction
	}
	action, err := lidAction(key)
	if err != nil {
		logger.Warning(err)
		return false
	}
	return action == powerActionDoNothing
}

func (w *lidWatcher) getPowerLidAction(key string) (int64, error) {
	dsg := configManager.NewConfigManager(w.sysBus)
	powerConfigManagerPath, err := dsg.AcquireManager(0, dsettingsAppID, dsettingsPowerName, "")
	if err != nil {
		return 0, err
	}
	dsPowerConfigManager, err := configManager.NewManager(w.sysBus, powerConfigManagerPath)
	if err != nil {
		return 0, err
	}
	data, err := dsPowerConfigManager.Value(0, key)
	if err != nil {
		return 0, err
	}
	action, ok := data.Value().(int64)
	if !ok {
		return 0, fmt.Errorf("get lid action type assert failed")
	}
	return action, nil
}

// sleepWatcher 把 logind 的 PrepareForSleep 信号转成休眠和唤醒事件。
type sleepWatcher struct {
	loginManager login1.Manager
}

func newSleepWatcher(sysBus *dbus.Conn, sigLoop *dbusutil.SignalLoop, gateway *Gateway) (*sleepWatcher, error) {
	w := &sleepWatcher{
		loginManager: login1.NewManager(sysBus),
	}
	w.loginManager.InitSignalExt(sigLoop, true)
	_, err := w.loginManager.ConnectPrepareForSleep(func(isSleep bool) {
		logger.Debugf("PreparingForSleep status changed, isSleep: %v", isSleep)
		kind := EventWake
		if isSleep {
			kind = EventSleep
		}
		gateway.Post(Event{Kind: kind})
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (w *sleepWatcher) stop() {
	w.loginManager.RemoveHandler(proxy.RemoveAllHandlers)
}
