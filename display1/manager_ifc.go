// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/linuxdeepin/dde-display-daemon/display1/brightness"
	"github.com/linuxdeepin/dde-display-daemon/display1/modes"
	"github.com/linuxdeepin/go-lib/dbusutil"
)

const (
	dbusServiceName      = "org.deepin.dde.Display1"
	dbusInterface        = dbusServiceName
	dbusPath             = "/org/deepin/dde/Display1"
	dbusInterfaceMonitor = dbusInterface + ".Monitor"
	monitorPathPrefix    = dbusPath + "/Monitor_"
)

// dbusManager 是 Manager 在会话总线上的对象。
type dbusManager struct {
	m       *Manager
	service *dbusutil.Service

	monitorsMu sync.Mutex
	monitors   map[uint32]*Monitor

	PropsMu   sync.RWMutex
	Monitors  []dbus.ObjectPath
	LidClosed bool
	// 显示器名称 => 用户亮度
	Brightness map[string]float64

	// nolint
	signals *struct {
		BrightnessChanged struct {
			name  string
			value float64
		}
	}
}

func newDBusManager(m *Manager, service *dbusutil.Service) *dbusManager {
	dm := &dbusManager{
		m:          m,
		service:    service,
		monitors:   make(map[uint32]*Monitor),
		Brightness: make(map[string]float64),
	}
	m.ConnectDisplayAdded(dm.handleDisplayAdded)
	m.ConnectDisplayRemoved(dm.handleDisplayRemoved)
	m.ConnectModeChanged(func(id uint32, prev, cur modes.Mode) {
		if monitor := dm.getMonitor(id); monitor != nil {
			monitor.updateProps()
		}
	})
	m.ConnectBrightnessChanged(dm.handleBrightnessChanged)
	return dm
}

func (dm *dbusManager) GetInterfaceName() string {
	return dbusInterface
}

func (dm *dbusManager) getMonitor(id uint32) *Monitor {
	dm.monitorsMu.Lock()
	defer dm.monitorsMu.Unlock()
	return dm.monitors[id]
}

// export 导出自身和已经存在的显示器。
func (dm *dbusManager) export() error {
	err := dm.service.Export(dbusPath, dm)
	if err != nil {
		return err
	}
	for _, d := range dm.m.Displays() {
		dm.handleDisplayAdded(d)
	}
	return nil
}

func (dm *dbusManager) stopExport() {
	dm.monitorsMu.Lock()
	for id, monitor := range dm.monitors {
		err := dm.service.StopExport(monitor)
		if err != nil {
			logger.Warning(err)
		}
		delete(dm.monitors, id)
	}
	dm.monitorsMu.Unlock()

	err := dm.service.StopExport(dm)
	if err != nil {
		logger.Warning(err)
	}
}

func (dm *dbusManager) handleDisplayAdded(d *Display) {
	dm.monitorsMu.Lock()
	if _, ok := dm.monitors[d.Id()]; ok {
		dm.monitorsMu.Unlock()
		return
	}
	monitor := newMonitor(dm.m, d, dm.service)
	err := dm.service.Export(monitor.getPath(), monitor)
	if err != nil {
		dm.monitorsMu.Unlock()
		logger.Warningf("failed to export monitor %v: %v", d, err)
		return
	}
	dm.monitors[d.Id()] = monitor
	dm.monitorsMu.Unlock()

	monitor.updateProps()
	dm.updatePropMonitors()
}

func (dm *dbusManager) handleDisplayRemoved(id uint32) {
	dm.monitorsMu.Lock()
	monitor := dm.monitors[id]
	delete(dm.monitors, id)
	dm.monitorsMu.Unlock()
	if monitor == nil {
		return
	}

	err := dm.service.StopExport(monitor)
	if err != nil {
		logger.Warning(err)
	}
	dm.PropsMu.Lock()
	if _, ok := dm.Brightness[monitor.Name]; ok {
		delete(dm.Brightness, monitor.Name)
		dm.emitPropChangedBrightness(dm.Brightness)
	}
	dm.PropsMu.Unlock()
	dm.updatePropMonitors()
}

func (dm *dbusManager) handleBrightnessChanged(id uint32, v brightness.Value) {
	monitor := dm.getMonitor(id)
	if monitor == nil {
		return
	}
	monitor.updateProps()

	monitor.PropsMu.RLock()
	name, value := monitor.Name, monitor.Brightness
	monitor.PropsMu.RUnlock()

	dm.PropsMu.Lock()
	if old, ok := dm.Brightness[name]; !ok || old != value {
		dm.Brightness[name] = value
		dm.emitPropChangedBrightness(dm.Brightness)
	}
	dm.PropsMu.Unlock()

	if dm.service == nil {
		return
	}
	err := dm.service.Emit(dm, "BrightnessChanged", name, value)
	if err != nil {
		logger.Warning(err)
	}
}

func (dm *dbusManager) updatePropMonitors() {
	dm.monitorsMu.Lock()
	paths := make([]dbus.ObjectPath, 0, len(dm.monitors))
	for _, monitor := range dm.monitors {
		paths = append(paths, monitor.getPath())
	}
	dm.monitorsMu.Unlock()
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	dm.PropsMu.Lock()
	dm.setPropMonitors(paths)
	dm.PropsMu.Unlock()
}

func (dm *dbusManager) updatePropLidClosed() {
	dm.PropsMu.Lock()
	dm.setPropLidClosed(dm.m.IsLidClosed())
	dm.PropsMu.Unlock()
}

func (dm *dbusManager) ListDisplays() (paths []dbus.ObjectPath, busErr *dbus.Error) {
	dm.PropsMu.RLock()
	defer dm.PropsMu.RUnlock()
	return append([]dbus.ObjectPath(nil), dm.Monitors...), nil
}

// FindDisplay 按 builtin/main、id、UUID、名称或厂商型号查找显示器。
func (dm *dbusManager) FindDisplay(filter string) (path dbus.ObjectPath, busErr *dbus.Error) {
	d, ok := dm.m.MatchDisplay(filter)
	if !ok {
		return "/", dbusutil.ToError(errors.New("no display matches " + strconv.Quote(filter)))
	}
	return getMonitorPath(d.Id()), nil
}

func (dm *dbusManager) Refresh() *dbus.Error {
	logger.Debug("dbus call Refresh")
	ctx := context.Background()
	err := dm.m.Discover(ctx)
	if err != nil {
		return dbusutil.ToError(err)
	}
	return dbusutil.ToError(dm.m.RefreshAll(ctx))
}

// SetMirror masterId 为 0 表示取消镜像。
func (dm *dbusManager) SetMirror(slaveId, masterId uint32) *dbus.Error {
	logger.Debug("dbus call SetMirror", slaveId, masterId)
	err := dm.m.SetMirrorMaster(context.Background(), slaveId, masterId)
	return dbusutil.ToError(err)
}

// ArrangeDisplay 把 id 摆到 anchorId 的 placement 方向，placement 为 left、right、above 或 below。
func (dm *dbusManager) ArrangeDisplay(id, anchorId uint32, placement string) *dbus.Error {
	logger.Debug("dbus call ArrangeDisplay", id, anchorId, placement)
	p, err := ParsePlacement(placement)
	if err != nil {
		return dbusutil.ToError(err)
	}
	err = dm.m.Arrange(context.Background(), id, anchorId, p)
	dm.updateMonitorProps(id, anchorId)
	return dbusutil.ToError(err)
}

func (dm *dbusManager) SwapDisplays(id1, id2 uint32) *dbus.Error {
	logger.Debug("dbus call SwapDisplays", id1, id2)
	err := dm.m.SwapOrigins(context.Background(), id1, id2)
	dm.updateMonitorProps(id1, id2)
	return dbusutil.ToError(err)
}

// updateMonitorProps 失败时也更新，回滚可能只完成了一部分。
func (dm *dbusManager) updateMonitorProps(ids ...uint32) {
	for _, id := range ids {
		if monitor := dm.getMonitor(id); monitor != nil {
			monitor.updateProps()
		}
	}
}

func (dm *dbusManager) ChangeBrightness(raised bool) *dbus.Error {
	logger.Debug("dbus call ChangeBrightness", raised)
	err := dm.m.Brightness().ChangeBrightness(context.Background(), raised)
	return dbusutil.ToError(err)
}

func (dm *dbusManager) GetBrightness() (values map[string]float64, busErr *dbus.Error) {
	values = make(map[string]float64)
	ctx := context.Background()
	for _, d := range dm.m.Displays() {
		v, err := dm.m.Brightness().GetUserBrightness(ctx, d.Id())
		if err != nil {
			logger.Debugf("get brightness of %v failed: %v", d, err)
			continue
		}
		values[d.Info().Name] = v
	}
	return values, nil
}

func (dm *dbusManager) SetAmbientLux(lux float64) *dbus.Error {
	dm.m.Brightness().SetAmbientLux(lux)
	return nil
}

func (dm *dbusManager) GetExportedMethods() dbusutil.ExportedMethods {
	return dbusutil.ExportedMethods{
		{
			Name:    "ListDisplays",
			Fn:      dm.ListDisplays,
			OutArgs: []string{"paths"},
		},
		{
			Name:    "FindDisplay",
			Fn:      dm.FindDisplay,
			InArgs:  []string{"filter"},
			OutArgs: []string{"path"},
		},
		{
			Name: "Refresh",
			Fn:   dm.Refresh,
		},
		{
			Name:   "SetMirror",
			Fn:     dm.SetMirror,
			InArgs: []string{"slaveId", "masterId"},
		},
		{
			Name:   "ArrangeDisplay",
			Fn:     dm.ArrangeDisplay,
			InArgs: []string{"id", "anchorId", "placement"},
		},
		{
			Name:   "SwapDisplays",
			Fn:     dm.SwapDisplays,
			InArgs: []string{"id1", "id2"},
		},
		{
			Name:   "ChangeBrightness",
			Fn:     dm.ChangeBrightness,
			InArgs: []string{"raised"},
		},
		{
			Name:    "GetBrightness",
			Fn:      dm.GetBrightness,
			OutArgs: []string{"values"},
		},
		{
			Name:   "SetAmbientLux",
			Fn:     dm.SetAmbientLux,
			InArgs: []string{"lux"},
		},
	}
}

func (dm *dbusManager) setPropMonitors(value []dbus.ObjectPath) (changed bool) {
	if !objPathsEqual(dm.Monitors, value) {
		dm.Monitors = value
		dm.emitPropChangedMonitors(value)
		return true
	}
	return false
}

func (dm *dbusManager) emitPropChangedMonitors(value []dbus.ObjectPath) error {
	if dm.service == nil {
		return nil
	}
	return dm.service.EmitPropertyChanged(dm, "Monitors", value)
}

func (dm *dbusManager) setPropLidClosed(value bool) (changed bool) {
	if dm.LidClosed != value {
		dm.LidClosed = value
		dm.emitPropChangedLidClosed(value)
		return true
	}
	return false
}

func (dm *dbusManager) emitPropChangedLidClosed(value bool) error {
	if dm.service == nil {
		return nil
	}
	return dm.service.EmitPropertyChanged(dm, "LidClosed", value)
}

func (dm *dbusManager) emitPropChangedBrightness(value map[string]float64) error {
	if dm.service == nil {
		return nil
	}
	return dm.service.EmitPropertyChanged(dm, "Brightness", value)
}

func objPathsEqual(v1, v2 []dbus.ObjectPath) bool {
	if len(v1) != len(v2) {
		return false
	}
	for i, e1 := range v1 {
		if e1 != v2[i] {
			return false
		}
	}
	return true
}
