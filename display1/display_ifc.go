// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/linuxdeepin/dde-display-daemon/display1/brightness"
	"github.com/linuxdeepin/dde-display-daemon/display1/modes"
	"github.com/linuxdeepin/go-lib/dbusutil"
	"github.com/linuxdeepin/go-lib/strv"
)

// ModeInfo 是模式在 DBus 上的表示。
type ModeInfo struct {
	Id     uint32
	Width  uint16
	Height uint16
	Rate   float64
	Flags  uint32
}

func toModeInfo(mode modes.Mode) ModeInfo {
	return ModeInfo{
		Id:     mode.Id,
		Width:  mode.Width,
		Height: mode.Height,
		Rate:   mode.Rate,
		Flags:  uint32(mode.Flags),
	}
}

func toModeInfos(list []modes.Mode) []ModeInfo {
	result := make([]ModeInfo, len(list))
	for i, mode := range list {
		result[i] = toModeInfo(mode)
	}
	return result
}

func modeInfosEqual(v1, v2 []ModeInfo) bool {
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

// PresetInfo 是预设在 DBus 上的表示。
type PresetInfo struct {
	Index       int32
	Name        string
	Width       uint16
	Height      uint16
	Rate        float64
	Brightness  float64
	Orientation uint16
	Default     bool
}

func toPresetInfo(p Preset) PresetInfo {
	return PresetInfo{
		Index:       int32(p.Index),
		Name:        p.Name,
		Width:       p.Width,
		Height:      p.Height,
		Rate:        p.Rate,
		Brightness:  p.Brightness,
		Orientation: p.Orientation,
		Default:     p.Default,
	}
}

func getMonitorPath(id uint32) dbus.ObjectPath {
	return dbus.ObjectPath(monitorPathPrefix + strconv.FormatUint(uint64(id), 10))
}

// Monitor 是一个显示器在 DBus 上的对象，属性从 Display 同步过来。
type Monitor struct {
	m       *Manager
	d       *Display
	service *dbusutil.Service
	PropsMu sync.RWMutex

	ID           uint32
	UUID         string
	Name         string
	Manufacturer string
	Model        string
	// dbusutil-gen: equal=method:Equal
	Capabilities strv.Strv
	State        string
	CurrentMode  ModeInfo
	// dbusutil-gen: equal=modeInfosEqual
	Modes        []ModeInfo
	Rotation     uint16
	X            int16
	Y            int16
	Brightness   float64
	MirrorMaster uint32
	ActivePreset string
}

func newMonitor(m *Manager, d *Display, service *dbusutil.Service) *Monitor {
	info := d.Info()
	return &Monitor{
		m:            m,
		d:            d,
		service:      service,
		ID:           info.Id,
		UUID:         info.UUID,
		Name:         info.Name,
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		Capabilities: strv.Strv(info.Caps.Names()),
	}
}

func (mon *Monitor) GetInterfaceName() string {
	return dbusInterfaceMonitor
}

func (mon *Monitor) getPath() dbus.ObjectPath {
	return getMonitorPath(mon.ID)
}

func (mon *Monitor) String() string {
	return "<Monitor " + mon.Name + ">"
}

// updateProps 把 Display 的状态同步到属性上。
func (mon *Monitor) updateProps() {
	state := mon.d.Snapshot()
	var list []modes.Mode
	if state.Modes != nil {
		list = state.Modes.User
	}
	br, err := mon.m.Brightness().GetUserBrightness(context.Background(), mon.ID)
	if err != nil {
		logger.Debugf("get brightness of %v failed: %v", mon, err)
	}

	mon.PropsMu.Lock()
	defer mon.PropsMu.Unlock()
	mon.setPropState(state.State.String())
	mon.setPropCurrentMode(toModeInfo(state.CurrentMode))
	mon.setPropModes(toModeInfos(list))
	mon.setPropRotation(state.Orientation)
	mon.setPropX(state.X)
	mon.setPropY(state.Y)
	mon.setPropMirrorMaster(state.MirrorMaster)
	mon.setPropActivePreset(state.ActivePreset)
	if err == nil {
		mon.setPropBrightness(br)
	}
}

func (mon *Monitor) SetMode(id uint32) *dbus.Error {
	logger.Debug("dbus call SetMode", mon.ID, id)
	_, err := mon.d.SetModeNumber(context.Background(), id)
	return dbusutil.ToError(err)
}

func (mon *Monitor) SetModeBySize(width, height uint16) *dbus.Error {
	logger.Debug("dbus call SetModeBySize", mon.ID, width, height)
	_, err := mon.d.SetModeBySize(context.Background(), width, height)
	return dbusutil.ToError(err)
}

func (mon *Monitor) SetRefreshRate(value float64) *dbus.Error {
	logger.Debug("dbus call SetRefreshRate", mon.ID, value)
	_, err := mon.d.SetRefreshRate(context.Background(), value)
	return dbusutil.ToError(err)
}

func (mon *Monitor) SetRotation(value uint16) *dbus.Error {
	logger.Debug("dbus call SetRotation", mon.ID, value)
	err := mon.d.SetOrientation(context.Background(), value)
	if err == nil {
		mon.updateProps()
	}
	return dbusutil.ToError(err)
}

func (mon *Monitor) SetPosition(x, y int16) *dbus.Error {
	logger.Debug("dbus call SetPosition", mon.ID, x, y)
	err := mon.d.SetOrigin(context.Background(), x, y)
	if err == nil {
		mon.updateProps()
	}
	return dbusutil.ToError(err)
}

func (mon *Monitor) SetUnderscan(value float64) *dbus.Error {
	logger.Debug("dbus call SetUnderscan", mon.ID, value)
	err := mon.d.SetUnderscan(context.Background(), value)
	return dbusutil.ToError(err)
}

func (mon *Monitor) SetPreferHDRModes(prefer bool) *dbus.Error {
	return dbusutil.ToError(mon.d.SetPreferHDRModes(prefer))
}

// SetBrightness space 为 user、linear 或 dynamic。
func (mon *Monitor) SetBrightness(space string, value float64) *dbus.Error {
	logger.Debug("dbus call SetBrightness", mon.ID, space, value)
	sp, err := brightness.ParseSpace(space)
	if err != nil {
		return dbusutil.ToError(err)
	}
	err = mon.m.Brightness().SetBrightness(context.Background(), mon.ID, sp, value)
	return dbusutil.ToError(err)
}

// SetBrightnessSmooth 把线性亮度在 ms 毫秒内渐变到 value，不等待渐变结束。
func (mon *Monitor) SetBrightnessSmooth(value float64, ms uint32) *dbus.Error {
	logger.Debug("dbus call SetBrightnessSmooth", mon.ID, value, ms)
	_, err := mon.m.Brightness().SetBrightnessSmooth(context.Background(), mon.ID, value,
		time.Duration(ms)*time.Millisecond)
	return dbusutil.ToError(err)
}

func (mon *Monitor) GetBrightness(space string) (value float64, busErr *dbus.Error) {
	sp, err := brightness.ParseSpace(space)
	if err != nil {
		return 0, dbusutil.ToError(err)
	}
	value, err = mon.m.Brightness().GetBrightness(context.Background(), mon.ID, sp)
	return value, dbusutil.ToError(err)
}

func (mon *Monitor) ListPresets() (presets []PresetInfo, busErr *dbus.Error) {
	for _, p := range mon.m.Presets().Presets(mon.ID) {
		presets = append(presets, toPresetInfo(p))
	}
	return presets, nil
}

func (mon *Monitor) SetActivePreset(nameOrIndex string) *dbus.Error {
	logger.Debug("dbus call SetActivePreset", mon.ID, nameOrIndex)
	err := mon.m.Presets().SetActivePresetByName(context.Background(), mon.ID, nameOrIndex)
	if err == nil {
		mon.updateProps()
	}
	return dbusutil.ToError(err)
}

// SavePreset 把显示器当前的状态保存为预设。
func (mon *Monitor) SavePreset(index int32, name string, isDefault bool) *dbus.Error {
	logger.Debug("dbus call SavePreset", mon.ID, index, name)
	p, err := mon.m.Presets().CurrentAsPreset(context.Background(), mon.ID, int(index), name)
	if err != nil {
		return dbusutil.ToError(err)
	}
	p.Default = isDefault
	err = mon.m.Presets().SavePreset(mon.ID, p)
	return dbusutil.ToError(err)
}

func (mon *Monitor) GetExportedMethods() dbusutil.ExportedMethods {
	return dbusutil.ExportedMethods{
		{
			Name:   "SetMode",
			Fn:     mon.SetMode,
			InArgs: []string{"id"},
		},
		{
			Name:   "SetModeBySize",
			Fn:     mon.SetModeBySize,
			InArgs: []string{"width", "height"},
		},
		{
			Name:   "SetRefreshRate",
			Fn:     mon.SetRefreshRate,
			InArgs: []string{"value"},
		},
		{
			Name:   "SetRotation",
			Fn:     mon.SetRotation,
			InArgs: []string{"value"},
		},
		{
			Name:   "SetPosition",
			Fn:     mon.SetPosition,
			InArgs: []string{"x", "y"},
		},
		{
			Name:   "SetUnderscan",
			Fn:     mon.SetUnderscan,
			InArgs: []string{"value"},
		},
		{
			Name:   "SetPreferHDRModes",
			Fn:     mon.SetPreferHDRModes,
			InArgs: []string{"prefer"},
		},
		{
			Name:   "SetBrightness",
			Fn:     mon.SetBrightness,
			InArgs: []string{"space", "value"},
		},
		{
			Name:   "SetBrightnessSmooth",
			Fn:     mon.SetBrightnessSmooth,
			InArgs: []string{"value", "ms"},
		},
		{
			Name:    "GetBrightness",
			Fn:      mon.GetBrightness,
			InArgs:  []string{"space"},
			OutArgs: []string{"value"},
		},
		{
			Name:    "ListPresets",
			Fn:      mon.ListPresets,
			OutArgs: []string{"presets"},
		},
		{
			Name:   "SetActivePreset",
			Fn:     mon.SetActivePreset,
			InArgs: []string{"nameOrIndex"},
		},
		{
			Name:   "SavePreset",
			Fn:     mon.SavePreset,
			InArgs: []string{"index", "name", "isDefault"},
		},
	}
}

func (mon *Monitor) setPropState(value string) (changed bool) {
	if mon.State != value {
		mon.State = value
		mon.emitPropChanged("State", value)
		return true
	}
	return false
}

func (mon *Monitor) setPropCurrentMode(value ModeInfo) (changed bool) {
	if mon.CurrentMode != value {
		mon.CurrentMode = value
		mon.emitPropChanged("CurrentMode", value)
		return true
	}
	return false
}

func (mon *Monitor) setPropModes(value []ModeInfo) (changed bool) {
	if !modeInfosEqual(mon.Modes, value) {
		mon.Modes = value
		mon.emitPropChanged("Modes", value)
		return true
	}
	return false
}

func (mon *Monitor) setPropRotation(value uint16) (changed bool) {
	if mon.Rotation != value {
		mon.Rotation = value
		mon.emitPropChanged("Rotation", value)
		return true
	}
	return false
}

func (mon *Monitor) setPropX(value int16) (changed bool) {
	if mon.X != value {
		mon.X = value
		mon.emitPropChanged("X", value)
		return true
	}
	return false
}

func (mon *Monitor) setPropY(value int16) (changed bool) {
	if mon.Y != value {
		mon.Y = value
		mon.emitPropChanged("Y", value)
		return true
	}
	return false
}

func (mon *Monitor) setPropBrightness(value float64) (changed bool) {
	if mon.Brightness != value {
		mon.Brightness = value
		mon.emitPropChanged("Brightness", value)
		return true
	}
	return false
}

func (mon *Monitor) setPropMirrorMaster(value uint32) (changed bool) {
	if mon.MirrorMaster != value {
		mon.MirrorMaster = value
		mon.emitPropChanged("MirrorMaster", value)
		return true
	}
	return false
}

func (mon *Monitor) setPropActivePreset(value string) (changed bool) {
	if mon.ActivePreset != value {
		mon.ActivePreset = value
		mon.emitPropChanged("ActivePreset", value)
		return true
	}
	return false
}

func (mon *Monitor) emitPropChanged(name string, value interface{}) {
	if mon.service == nil {
		return
	}
	err := mon.service.EmitPropertyChanged(mon, name, value)
	if err != nil {
		logger.Warningf("emit %v property %s changed failed: %v", mon, name, err)
	}
}
