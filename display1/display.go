// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/davecgh/go-spew/spew"
	"github.com/linuxdeepin/dde-display-daemon/display1/modes"
	"github.com/linuxdeepin/go-lib/log"
)

type State uint8

const (
	StateUninitialized State = iota
	StateDiscovered
	StateActive
	StateModeSwitching
	StateDetached
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateDiscovered:
		return "discovered"
	case StateActive:
		return "active"
	case StateModeSwitching:
		return "mode-switching"
	case StateDetached:
		return "detached"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

type ApplyStatus uint8

const (
	Applied ApplyStatus = iota
	// 模式已经应用，但是显示器上报能力下降，比如不再是 HDR
	AppliedDegraded
)

func (s ApplyStatus) String() string {
	if s == AppliedDegraded {
		return "applied-degraded"
	}
	return "applied"
}

// DisplayState 是显示器状态的只读副本，供界面层使用。
type DisplayState struct {
	Info           DisplayInfo
	State          State
	Modes          *modes.Snapshot
	CurrentMode    modes.Mode
	MirrorMode     modes.Mode
	Orientation    uint16
	X              int16
	Y              int16
	UserFlags      uint32
	Underscan      float64
	PreferHDR      bool
	MirrorMaster   uint32
	MirrorSlaves   []uint32
	ActivePreset   string
	DegradedReason string
}

// Display 对应一个物理输出。mu 保护下面的全部可变字段，调用后端时从不持有 mu；
// opMu 让修改操作串行执行，后端调用期间读操作不受影响。
type Display struct {
	m    *Manager
	info DisplayInfo

	opMu sync.Mutex

	mu             sync.Mutex
	state          State
	snapshot       *modes.Snapshot
	version        uint64
	currentMode    modes.Mode
	mirrorMode     modes.Mode
	orientation    uint16
	x              int16
	y              int16
	userFlags      uint32
	underscan      float64
	preferHDR      bool
	mirrorMaster   uint32
	mirrorSlaves   []uint32
	activePreset   string
	degradedReason string
}

func newDisplay(m *Manager, info DisplayInfo) *Display {
	return &Display{
		m:     m,
		info:  info,
		state: StateDiscovered,
	}
}

func (d *Display) String() string {
	return fmt.Sprintf("<Display id=%d name=%s>", d.info.Id, d.info.Name)
}

func (d *Display) Id() uint32 {
	return d.info.Id
}

func (d *Display) Info() DisplayInfo {
	return d.info
}

func (d *Display) Caps() modes.Capability {
	return d.info.Caps
}

func (d *Display) IsBuiltin() bool {
	return d.info.Caps.Has(modes.CapBuiltIn)
}

func (d *Display) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Modes 返回当前发布的分类结果，首次刷新前为 nil。
func (d *Display) Modes() *modes.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.snapshot
}

func (d *Display) CurrentMode() modes.Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.currentMode
}

func (d *Display) Orientation() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.orientation
}

func (d *Display) Snapshot() DisplayState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DisplayState{
		Info:           d.info,
		State:          d.state,
		Modes:          d.snapshot,
		CurrentMode:    d.currentMode,
		MirrorMode:     d.mirrorMode,
		Orientation:    d.orientation,
		X:              d.x,
		Y:              d.y,
		UserFlags:      d.userFlags,
		Underscan:      d.underscan,
		PreferHDR:      d.preferHDR,
		MirrorMaster:   d.mirrorMaster,
		MirrorSlaves:   append([]uint32(nil), d.mirrorSlaves...),
		ActivePreset:   d.activePreset,
		DegradedReason: d.degradedReason,
	}
}

func (d *Display) checkAliveNoLock() error {
	if d.state == StateDetached {
		return &DisplayGoneError{DisplayId: d.info.Id}
	}
	return nil
}

func (d *Display) checkAlive() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.checkAliveNoLock()
}

// backendCall 给后端调用加上时限，超时转换为 DeviceTimeoutError。
func (d *Display) backendCall(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, d.m.cfg.ApplyTimeout)
	defer cancel()
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &DeviceTimeoutError{DisplayId: d.info.Id, Op: op, Err: err}
	}
	return err
}

// RefreshModes 从后端重新获取模式并重新分类。失败时保留之前的分类结果。
func (d *Display) RefreshModes(ctx context.Context) error {
	d.opMu.Lock()
	changed, prev, cur, err := d.refreshModes(ctx)
	d.opMu.Unlock()
	if err != nil {
		return err
	}

	d.m.brightness.invalidateCaps(d.info.Id)
	err = d.RefreshResolutions()
	if err != nil {
		return err
	}
	if changed {
		d.m.emitModeChanged(d.info.Id, prev, cur)
	}
	return nil
}

func (d *Display) refreshModes(ctx context.Context) (changed bool, prev, cur modes.Mode, err error) {
	err = d.checkAlive()
	if err != nil {
		return
	}

	var raw RawModeSet
	err = d.backendCall(ctx, "get modes", func(ctx context.Context) error {
		var err error
		raw, err = d.m.backend.RawModes(ctx, d.info.Id)
		return err
	})
	if err != nil {
		return
	}

	catalog, err := modes.NewCatalog(raw.Modes)
	if err != nil {
		err = fmt.Errorf("display %d: refresh modes: %w", d.info.Id, err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err = d.checkAliveNoLock(); err != nil {
		return
	}

	prev = d.currentMode
	cur = pickCurrentMode(catalog, prev, raw.CurrentModeId)
	snap := modes.Classify(catalog, d.info.Caps, modes.ClassifyOptions{
		MinUsableRate: d.m.cfg.MinUsableRate,
		CurrentModeId: cur.Id,
	})
	if cur.IsZero() {
		cur = fallbackMode(snap)
	}

	d.version++
	snap.Version = d.version
	d.snapshot = snap
	d.currentMode = cur
	if !d.mirrorMode.IsZero() && !catalog.Contains(d.mirrorMode) {
		d.mirrorMode = modes.Mode{}
	}
	if d.state == StateDiscovered || d.state == StateUninitialized {
		d.state = StateActive
		d.orientation = raw.Orientation
	}
	// 位置可能被外部程序修改，以后端为准
	d.x, d.y = raw.X, raw.Y
	changed = prev != cur

	if logger.GetLogLevel() == log.LevelDebug {
		logger.Debugf("display %d modes refreshed: %s", d.info.Id, spew.Sdump(snap.User))
	}
	return
}

// pickCurrentMode 以后端上报的当前模式为准（可能被外部程序修改过），
// 上报的模式不在目录中时保持之前的模式。返回零值时由 fallbackMode 选择。
func pickCurrentMode(catalog modes.Catalog, prev modes.Mode, reportedId uint32) modes.Mode {
	if reportedId != 0 {
		if mode, ok := catalog.Find(reportedId); ok {
			return mode
		}
	}
	if !prev.IsZero() && catalog.Contains(prev) {
		return prev
	}
	return modes.Mode{}
}

func fallbackMode(snap *modes.Snapshot) modes.Mode {
	if !snap.Default.IsZero() {
		return snap.Default
	}
	if !snap.Native.IsZero() {
		return snap.Native
	}
	if len(snap.User) > 0 {
		return snap.User[len(snap.User)-1]
	}
	if len(snap.All) > 0 {
		return snap.All[len(snap.All)-1]
	}
	return modes.Mode{}
}

// RefreshResolutions 根据当前的模式列表重新生成分辨率分组，不访问后端。
func (d *Display) RefreshResolutions() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkAliveNoLock(); err != nil {
		return err
	}
	if d.snapshot == nil {
		return nil
	}
	d.version++
	d.snapshot = d.snapshot.WithResolutions(d.version)
	return nil
}

// SetMode 切换模式，只有后端调用成功后才更新当前模式。
func (d *Display) SetMode(ctx context.Context, mode modes.Mode) (ApplyStatus, error) {
	err := d.m.checkSuppressed(d, "set mode")
	if err != nil {
		return Applied, err
	}

	d.opMu.Lock()
	status, prev, err := d.setMode(ctx, mode)
	d.opMu.Unlock()
	if err != nil {
		logger.Warningf("display %d set mode %v failed: %v", d.info.Id, mode, err)
		return status, err
	}
	if prev != mode {
		d.m.emitModeChanged(d.info.Id, prev, mode)
	}
	return status, nil
}

func (d *Display) setMode(ctx context.Context, mode modes.Mode) (ApplyStatus, modes.Mode, error) {
	d.mu.Lock()
	if err := d.checkAliveNoLock(); err != nil {
		d.mu.Unlock()
		return Applied, modes.Mode{}, err
	}
	prev := d.currentMode
	if d.snapshot == nil || !d.snapshot.All.Contains(mode) {
		d.mu.Unlock()
		return Applied, prev, &InvalidModeError{DisplayId: d.info.Id, Mode: mode,
			Reason: "not in current catalog"}
	}
	d.state = StateModeSwitching
	d.mu.Unlock()

	var result ApplyResult
	err := d.backendCall(ctx, "apply mode", func(ctx context.Context) error {
		var err error
		result, err = d.m.backend.ApplyMode(ctx, d.info.Id, mode)
		return err
	})

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state == StateDetached {
		return Applied, prev, &DisplayGoneError{DisplayId: d.info.Id}
	}
	d.state = StateActive
	if err != nil {
		return Applied, prev, err
	}
	d.currentMode = mode
	d.degradedReason = ""
	if result.Degraded {
		d.degradedReason = result.Reason
		logger.Infof("display %d mode %v applied degraded: %s", d.info.Id, mode, result.Reason)
		return AppliedDegraded, prev, nil
	}
	return Applied, prev, nil
}

// SetModeNumber 按模式 id 切换模式。
func (d *Display) SetModeNumber(ctx context.Context, id uint32) (ApplyStatus, error) {
	snap := d.Modes()
	if snap == nil {
		return Applied, &InvalidModeError{DisplayId: d.info.Id, Mode: modes.Mode{Id: id}}
	}
	mode, ok := snap.All.Find(id)
	if !ok {
		return Applied, &InvalidModeError{DisplayId: d.info.Id, Mode: modes.Mode{Id: id},
			Reason: "no such mode id"}
	}
	return d.SetMode(ctx, mode)
}

// SetModeBySize 在用户可见列表中选择该分辨率下最好的模式。
func (d *Display) SetModeBySize(ctx context.Context, width, height uint16) (ApplyStatus, error) {
	mode, ok := d.bestModeForSize(modes.Resolution{Width: width, Height: height})
	if !ok {
		return Applied, &InvalidModeError{DisplayId: d.info.Id,
			Mode:   modes.Mode{Width: width, Height: height},
			Reason: "no mode with this resolution"}
	}
	return d.SetMode(ctx, mode)
}

func (d *Display) bestModeForSize(res modes.Resolution) (modes.Mode, bool) {
	d.mu.Lock()
	snap := d.snapshot
	preferHDR := d.preferHDR
	d.mu.Unlock()
	if snap == nil {
		return modes.Mode{}, false
	}

	for _, idx := range []modes.ResolutionIndex{snap.UserResolutions,
		snap.TrimmedResolutions, snap.ListResolutions} {
		group, ok := idx.Lookup(res)
		if !ok {
			continue
		}
		return pickFromGroup(group, preferHDR), true
	}
	return snap.All.FirstBySize(res.Width, res.Height)
}

func pickFromGroup(group modes.ResolutionGroup, preferHDR bool) modes.Mode {
	best := group.Modes[0]
	for _, mode := range group.Modes[1:] {
		if preferHDR && mode.Flags.Has(modes.FlagHDR) != best.Flags.Has(modes.FlagHDR) {
			if mode.Flags.Has(modes.FlagHDR) {
				best = mode
			}
			continue
		}
		if mode.Rate > best.Rate {
			best = mode
		}
	}
	return best
}

// SetRefreshRate 保持当前分辨率，只修改刷新率。
func (d *Display) SetRefreshRate(ctx context.Context, rate float64) (ApplyStatus, error) {
	d.mu.Lock()
	snap := d.snapshot
	cur := d.currentMode
	d.mu.Unlock()
	if snap == nil || cur.IsZero() {
		return Applied, &InvalidModeError{DisplayId: d.info.Id, Reason: "no current mode"}
	}
	mode, ok := snap.All.FirstBySizeRate(cur.Width, cur.Height, rate)
	if !ok || mode.HasZeroRate() {
		return Applied, &InvalidModeError{DisplayId: d.info.Id,
			Mode:   modes.Mode{Width: cur.Width, Height: cur.Height, Rate: rate},
			Reason: "rate not available"}
	}
	return d.SetMode(ctx, mode)
}

func validOrientation(degrees uint16) bool {
	switch degrees {
	case 0, 90, 180, 270:
		return true
	}
	return false
}

// SetOrientation 旋转显示器，角度只能是 0、90、180、270。
func (d *Display) SetOrientation(ctx context.Context, degrees uint16) error {
	if !validOrientation(degrees) {
		return &OutOfRangeError{What: "orientation", Value: float64(degrees), Min: 0, Max: 270}
	}
	err := d.m.checkSuppressed(d, "set orientation")
	if err != nil {
		return err
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	d.mu.Lock()
	if err := d.checkAliveNoLock(); err != nil {
		d.mu.Unlock()
		return err
	}
	cur := d.orientation
	d.mu.Unlock()
	if cur == degrees {
		return nil
	}
	if !d.info.Caps.Has(modes.CapRotationCapable) {
		return &UnsupportedOperationError{DisplayId: d.info.Id, Op: "set orientation",
			Reason: "display can not rotate"}
	}

	err = d.backendCall(ctx, "set orientation", func(ctx context.Context) error {
		return d.m.backend.SetOrientation(ctx, d.info.Id, degrees)
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkAliveNoLock(); err != nil {
		return err
	}
	d.orientation = degrees
	return nil
}

func (d *Display) SetUnderscan(ctx context.Context, value float64) error {
	if !d.info.Caps.Has(modes.CapSupportsUnderscan) {
		return &UnsupportedOperationError{DisplayId: d.info.Id, Op: "set underscan",
			Reason: "no underscan support"}
	}
	if math.IsNaN(value) || value < MinUnderscan || value > MaxUnderscan {
		return &OutOfRangeError{What: "underscan", Value: value, Min: MinUnderscan, Max: MaxUnderscan}
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()
	if err := d.checkAlive(); err != nil {
		return err
	}
	err := d.backendCall(ctx, "set underscan", func(ctx context.Context) error {
		return d.m.backend.SetUnderscan(ctx, d.info.Id, value)
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.underscan = value
	d.mu.Unlock()
	return nil
}

// SetPreferHDRModes 影响按分辨率选择模式时是否优先 HDR 模式。
func (d *Display) SetPreferHDRModes(prefer bool) error {
	if prefer && !d.info.Caps.Has(modes.CapHasHDRModes) {
		return &UnsupportedOperationError{DisplayId: d.info.Id, Op: "prefer hdr",
			Reason: "no hdr modes"}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkAliveNoLock(); err != nil {
		return err
	}
	d.preferHDR = prefer
	return nil
}

func (d *Display) SetUserFlags(flags uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkAliveNoLock(); err != nil {
		return err
	}
	d.userFlags = flags
	return nil
}

// SetMirrorMode 设置镜像时使用的模式，正在镜像时立即生效。
func (d *Display) SetMirrorMode(ctx context.Context, mode modes.Mode) error {
	err := d.m.checkSuppressed(d, "set mirror mode")
	if err != nil {
		return err
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	d.mu.Lock()
	if err := d.checkAliveNoLock(); err != nil {
		d.mu.Unlock()
		return err
	}
	if d.snapshot == nil || !d.snapshot.All.Contains(mode) {
		d.mu.Unlock()
		return &InvalidModeError{DisplayId: d.info.Id, Mode: mode, Reason: "not in current catalog"}
	}
	master := d.mirrorMaster
	d.mu.Unlock()

	if master != 0 {
		err = d.backendCall(ctx, "set mirror mode", func(ctx context.Context) error {
			return d.m.backend.ConfigureMirror(ctx, d.info.Id, master, mode)
		})
		if err != nil {
			return err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkAliveNoLock(); err != nil {
		return err
	}
	d.mirrorMode = mode
	return nil
}

func (d *Display) IsModeNative(mode modes.Mode) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.snapshot == nil || !d.snapshot.All.Contains(mode) {
		return false
	}
	return mode.IsNative() || (!d.snapshot.Native.IsZero() && d.snapshot.Native.Id == mode.Id)
}

func (d *Display) InDefaultMode() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.snapshot == nil || d.snapshot.Default.IsZero() {
		return false
	}
	return d.currentMode.Id == d.snapshot.Default.Id
}

func (d *Display) setActivePreset(name string) {
	d.mu.Lock()
	d.activePreset = name
	d.mu.Unlock()
}

// detach 把显示器置为终止状态，之后的操作都返回 DisplayGoneError。
func (d *Display) detach() {
	d.mu.Lock()
	d.state = StateDetached
	d.mirrorMaster = 0
	d.mirrorSlaves = nil
	d.mu.Unlock()
}
