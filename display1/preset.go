// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/linuxdeepin/dde-display-daemon/display1/brightness"
	"github.com/linuxdeepin/dde-display-daemon/display1/modes"
	"github.com/linuxdeepin/dde-display-daemon/display1/presetstore"
)

type Preset = presetstore.Preset

const brightnessTolerance = 0.01

// PresetEngine 加载预设，并把模式、亮度、方向作为一个整体应用。
type PresetEngine struct {
	m     *Manager
	store PresetStore

	// 同一时间只应用一个预设
	applyMu sync.Mutex

	mu      sync.Mutex
	presets map[uint32][]Preset
}

func newPresetEngine(m *Manager, store PresetStore) *PresetEngine {
	return &PresetEngine{
		m:       m,
		store:   store,
		presets: make(map[uint32][]Preset),
	}
}

func validPreset(p Preset) bool {
	return brightness.Valid(p.Brightness) && validOrientation(p.Orientation) &&
		(p.ModeId != 0 || (p.Width != 0 && p.Height != 0))
}

// BuildPresetsList 从存储加载显示器的预设。预设只是便利功能，存储不可用时得到空列表。
func (e *PresetEngine) BuildPresetsList(id uint32) []Preset {
	d, err := e.m.Display(id)
	if err != nil {
		return nil
	}
	var list []Preset
	if e.store != nil {
		loaded, err := e.store.LoadPresets(d.info.UUID)
		if err != nil {
			logger.Warningf("load presets of display %d failed: %v", id, err)
		}
		for _, p := range loaded {
			if !validPreset(p) {
				logger.Debugf("skip invalid preset %+v", p)
				continue
			}
			list = append(list, p)
		}
	}
	if n := d.info.NumberOfPresets; n > 0 && len(list) > n {
		list = list[:n]
	}

	e.mu.Lock()
	e.presets[id] = list
	e.mu.Unlock()
	return append([]Preset(nil), list...)
}

// Reload 重新加载全部显示器的预设，存储文件变化时调用。
func (e *PresetEngine) Reload() {
	for _, d := range e.m.Displays() {
		e.BuildPresetsList(d.Id())
	}
}

func (e *PresetEngine) forget(id uint32) {
	e.mu.Lock()
	delete(e.presets, id)
	e.mu.Unlock()
}

func (e *PresetEngine) Presets(id uint32) []Preset {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Preset(nil), e.presets[id]...)
}

func (e *PresetEngine) DefaultPreset(id uint32) (Preset, bool) {
	for _, p := range e.Presets(id) {
		if p.Default {
			return p, true
		}
	}
	return Preset{}, false
}

// FindPreset 按序号或名称（不区分大小写）查找预设。
func (e *PresetEngine) FindPreset(id uint32, nameOrIndex string) (Preset, bool) {
	presets := e.Presets(id)
	if index, err := strconv.Atoi(nameOrIndex); err == nil {
		for _, p := range presets {
			if p.Index == index {
				return p, true
			}
		}
	}
	for _, p := range presets {
		if strings.EqualFold(p.Name, nameOrIndex) {
			return p, true
		}
	}
	return Preset{}, false
}

// ActivePreset 返回与显示器当前状态一致的预设。
func (e *PresetEngine) ActivePreset(ctx context.Context, id uint32) (Preset, bool) {
	d, err := e.m.Display(id)
	if err != nil {
		return Preset{}, false
	}
	state := d.Snapshot()
	br, brErr := e.m.brightness.GetUserBrightness(ctx, id)
	for _, p := range e.Presets(id) {
		mode, ok := resolvePresetMode(state.Modes, p)
		if !ok || mode.Id != state.CurrentMode.Id || p.Orientation != state.Orientation {
			continue
		}
		if brErr == nil && math.Abs(br-p.Brightness) > brightnessTolerance {
			continue
		}
		return p, true
	}
	return Preset{}, false
}

// resolvePresetMode 先按模式 id 匹配，id 失效时按尺寸和刷新率匹配。
func resolvePresetMode(snap *modes.Snapshot, p Preset) (modes.Mode, bool) {
	if snap == nil {
		return modes.Mode{}, false
	}
	if p.ModeId != 0 {
		mode, ok := snap.All.Find(p.ModeId)
		if ok && (p.Width == 0 || (mode.Width == p.Width && mode.Height == p.Height)) {
			return mode, true
		}
	}
	if p.Width == 0 || p.Height == 0 {
		return modes.Mode{}, false
	}
	if p.Rate > 0 {
		return snap.All.FirstBySizeRate(p.Width, p.Height, p.Rate)
	}
	return snap.All.FirstBySize(p.Width, p.Height)
}

// SetActivePreset 依次应用模式、亮度和方向。模式失败时不做后续步骤；
// 后续步骤失败时尽量恢复之前的步骤。
func (e *PresetEngine) SetActivePreset(ctx context.Context, id uint32, p Preset) error {
	d, err := e.m.Display(id)
	if err != nil {
		return err
	}
	e.applyMu.Lock()
	defer e.applyMu.Unlock()

	state := d.Snapshot()
	mode, ok := resolvePresetMode(state.Modes, p)
	if !ok {
		return &PresetApplyError{DisplayId: id, Preset: p.Name, Step: PresetStepMode,
			Err: &InvalidModeError{DisplayId: id,
				Mode:   modes.Mode{Id: p.ModeId, Width: p.Width, Height: p.Height, Rate: p.Rate},
				Reason: "preset mode not available"}}
	}
	if !brightness.Valid(p.Brightness) {
		return &PresetApplyError{DisplayId: id, Preset: p.Name, Step: PresetStepBrightness,
			Err: &OutOfRangeError{What: "brightness", Value: p.Brightness, Min: 0, Max: 1}}
	}

	bc := e.m.brightness
	prevMode := state.CurrentMode
	prevBrightness, prevBrErr := bc.GetUserBrightness(ctx, id)

	_, err = d.SetMode(ctx, mode)
	if err != nil {
		return &PresetApplyError{DisplayId: id, Preset: p.Name, Step: PresetStepMode, Err: err}
	}

	rollbackMode := func() {
		if prevMode.IsZero() || prevMode == mode {
			return
		}
		if _, err := d.SetMode(ctx, prevMode); err != nil {
			logger.Warningf("display %d rollback mode failed: %v", id, err)
		}
	}

	err = bc.SetUserBrightness(ctx, id, p.Brightness)
	if err != nil {
		rollbackMode()
		return &PresetApplyError{DisplayId: id, Preset: p.Name, Step: PresetStepBrightness, Err: err}
	}

	err = d.SetOrientation(ctx, p.Orientation)
	if err != nil {
		if prevBrErr == nil {
			if err := bc.SetUserBrightness(ctx, id, prevBrightness); err != nil {
				logger.Warningf("display %d rollback brightness failed: %v", id, err)
			}
		}
		rollbackMode()
		return &PresetApplyError{DisplayId: id, Preset: p.Name, Step: PresetStepOrientation, Err: err}
	}

	d.setActivePreset(p.Name)
	logger.Infof("display %d preset %q applied", id, p.Name)
	return nil
}

// SetActivePresetByName 按序号或名称应用预设。
func (e *PresetEngine) SetActivePresetByName(ctx context.Context, id uint32, nameOrIndex string) error {
	p, ok := e.FindPreset(id, nameOrIndex)
	if !ok {
		return fmt.Errorf("display %d has no preset %q", id, nameOrIndex)
	}
	return e.SetActivePreset(ctx, id, p)
}

// SavePreset 写入存储并更新内存中的列表。
func (e *PresetEngine) SavePreset(id uint32, p Preset) error {
	d, err := e.m.Display(id)
	if err != nil {
		return err
	}
	if !validPreset(p) {
		return &OutOfRangeError{What: "preset brightness", Value: p.Brightness, Min: 0, Max: 1}
	}
	if e.store == nil {
		return &UnsupportedOperationError{DisplayId: id, Op: "save preset", Reason: "no preset store"}
	}
	if n := d.info.NumberOfPresets; n > 0 && (p.Index < 0 || p.Index >= n) {
		return &OutOfRangeError{What: "preset index", Value: float64(p.Index), Min: 0, Max: float64(n - 1)}
	}
	err = e.store.SavePreset(d.info.UUID, p)
	if err != nil {
		return err
	}
	e.BuildPresetsList(id)
	return nil
}

// CurrentAsPreset 用显示器当前状态生成一个预设。
func (e *PresetEngine) CurrentAsPreset(ctx context.Context, id uint32, index int, name string) (Preset, error) {
	d, err := e.m.Display(id)
	if err != nil {
		return Preset{}, err
	}
	state := d.Snapshot()
	if state.CurrentMode.IsZero() {
		return Preset{}, &InvalidModeError{DisplayId: id, Reason: "no current mode"}
	}
	br, err := e.m.brightness.GetUserBrightness(ctx, id)
	if err != nil {
		return Preset{}, err
	}
	return Preset{
		Index:       index,
		Name:        name,
		ModeId:      state.CurrentMode.Id,
		Width:       state.CurrentMode.Width,
		Height:      state.CurrentMode.Height,
		Rate:        state.CurrentMode.Rate,
		Brightness:  br,
		Orientation: state.Orientation,
	}, nil
}
