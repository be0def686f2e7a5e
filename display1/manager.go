// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/linuxdeepin/dde-display-daemon/display1/brightness"
	"github.com/linuxdeepin/dde-display-daemon/display1/modes"
	"github.com/linuxdeepin/go-lib/multierr"
	"github.com/linuxdeepin/go-lib/strv"
	"github.com/sourcegraph/conc/pool"
)

type ModeChangedFunc func(id uint32, prev, cur modes.Mode)
type BrightnessChangedFunc func(id uint32, v brightness.Value)
type DisplayAddedFunc func(d *Display)
type DisplayRemovedFunc func(id uint32)

// Manager 管理全部显示器。合盖状态等全局输入通过方法显式传入。
type Manager struct {
	cfg     Config
	backend Backend

	brightness *BrightnessController
	presets    *PresetEngine

	displaysMu sync.RWMutex
	displays   map[uint32]*Display

	lidMu     sync.Mutex
	lidClosed bool

	observersMu       sync.Mutex
	modeChanged       []ModeChangedFunc
	brightnessChanged []BrightnessChangedFunc
	displayAdded      []DisplayAddedFunc
	displayRemoved    []DisplayRemovedFunc
}

func NewManager(cfg Config, backend Backend, bs brightness.Service, store PresetStore) *Manager {
	m := &Manager{
		cfg:      cfg.withDefaults(),
		backend:  backend,
		displays: make(map[uint32]*Display),
	}
	m.brightness = newBrightnessController(m, bs)
	m.presets = newPresetEngine(m, store)
	return m
}

func (m *Manager) Config() Config {
	return m.cfg
}

func (m *Manager) Brightness() *BrightnessController {
	return m.brightness
}

func (m *Manager) Presets() *PresetEngine {
	return m.presets
}

// Close 停止亮度渐变和通知。
func (m *Manager) Close() {
	m.brightness.close()
}

func (m *Manager) ConnectModeChanged(fn ModeChangedFunc) {
	m.observersMu.Lock()
	m.modeChanged = append(m.modeChanged, fn)
	m.observersMu.Unlock()
}

func (m *Manager) ConnectBrightnessChanged(fn BrightnessChangedFunc) {
	m.observersMu.Lock()
	m.brightnessChanged = append(m.brightnessChanged, fn)
	m.observersMu.Unlock()
}

func (m *Manager) ConnectDisplayAdded(fn DisplayAddedFunc) {
	m.observersMu.Lock()
	m.displayAdded = append(m.displayAdded, fn)
	m.observersMu.Unlock()
}

func (m *Manager) ConnectDisplayRemoved(fn DisplayRemovedFunc) {
	m.observersMu.Lock()
	m.displayRemoved = append(m.displayRemoved, fn)
	m.observersMu.Unlock()
}

// 以下 emit 函数都在不持有任何显示器锁的情况下调用
func (m *Manager) emitModeChanged(id uint32, prev, cur modes.Mode) {
	m.observersMu.Lock()
	fns := append([]ModeChangedFunc(nil), m.modeChanged...)
	m.observersMu.Unlock()
	for _, fn := range fns {
		fn(id, prev, cur)
	}
}

func (m *Manager) emitBrightnessChanged(id uint32, v brightness.Value) {
	m.observersMu.Lock()
	fns := append([]BrightnessChangedFunc(nil), m.brightnessChanged...)
	m.observersMu.Unlock()
	for _, fn := range fns {
		fn(id, v)
	}
}

func (m *Manager) emitDisplayAdded(d *Display) {
	m.observersMu.Lock()
	fns := append([]DisplayAddedFunc(nil), m.displayAdded...)
	m.observersMu.Unlock()
	for _, fn := range fns {
		fn(d)
	}
}

func (m *Manager) emitDisplayRemoved(id uint32) {
	m.observersMu.Lock()
	fns := append([]DisplayRemovedFunc(nil), m.displayRemoved...)
	m.observersMu.Unlock()
	for _, fn := range fns {
		fn(id)
	}
}

// Display 返回 id 对应的显示器，不存在时返回 DisplayGoneError。
func (m *Manager) Display(id uint32) (*Display, error) {
	m.displaysMu.RLock()
	d := m.displays[id]
	m.displaysMu.RUnlock()
	if d == nil {
		return nil, &DisplayGoneError{DisplayId: id}
	}
	return d, nil
}

// Displays 返回按 id 排序的显示器。
func (m *Manager) Displays() []*Display {
	m.displaysMu.RLock()
	result := make([]*Display, 0, len(m.displays))
	for _, d := range m.displays {
		result = append(result, d)
	}
	m.displaysMu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Id() < result[j].Id()
	})
	return result
}

func (m *Manager) builtinDisplay() *Display {
	for _, d := range m.Displays() {
		if d.IsBuiltin() {
			return d
		}
	}
	return nil
}

// MatchDisplay 按 id、uuid、名称或 "builtin" 查找显示器。
func (m *Manager) MatchDisplay(filter string) (*Display, bool) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, false
	}
	displays := m.Displays()
	if strings.EqualFold(filter, "builtin") || strings.EqualFold(filter, "main") {
		for _, d := range displays {
			if d.IsBuiltin() {
				return d, true
			}
		}
		return nil, false
	}
	if id, err := strconv.ParseUint(filter, 10, 32); err == nil {
		for _, d := range displays {
			if d.Id() == uint32(id) {
				return d, true
			}
		}
	}
	for _, d := range displays {
		if d.info.UUID == filter {
			return d, true
		}
	}
	for _, d := range displays {
		if strings.EqualFold(d.info.Name, filter) {
			return d, true
		}
	}
	for _, d := range displays {
		name := strings.ToLower(d.info.Manufacturer + " " + d.info.Model)
		if strings.Contains(name, strings.ToLower(filter)) {
			return d, true
		}
	}
	return nil, false
}

// Discover 根据后端上报的显示器列表添加新的、移除已断开的显示器。
func (m *Manager) Discover(ctx context.Context) error {
	ctx1, cancel := context.WithTimeout(ctx, m.cfg.ApplyTimeout)
	ids, err := m.backend.ListActiveDisplays(ctx1)
	cancel()
	if err != nil {
		return err
	}

	active := make(map[uint32]bool, len(ids))
	var errs error
	for _, id := range ids {
		active[id] = true
		if _, err := m.Display(id); err == nil {
			continue
		}
		_, err := m.Attach(ctx, id)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	for _, d := range m.Displays() {
		if !active[d.Id()] {
			m.Detach(d.Id())
		}
	}
	logger.Debug("displays:", displayNames(m.Displays()))
	return errs
}

// Attach 添加一个显示器并做首次刷新。刷新失败时显示器停留在 Discovered 状态。
func (m *Manager) Attach(ctx context.Context, id uint32) (*Display, error) {
	if d, err := m.Display(id); err == nil {
		return d, d.RefreshModes(ctx)
	}

	ctx1, cancel := context.WithTimeout(ctx, m.cfg.ApplyTimeout)
	info, err := m.backend.DisplayInfo(ctx1, id)
	cancel()
	if err != nil {
		return nil, err
	}
	info.Id = id

	d := newDisplay(m, info)
	m.displaysMu.Lock()
	if exist := m.displays[id]; exist != nil {
		m.displaysMu.Unlock()
		return exist, nil
	}
	m.displays[id] = d
	m.displaysMu.Unlock()
	logger.Info("attach display", d)

	refreshErr := d.RefreshModes(ctx)
	if refreshErr != nil {
		logger.Warningf("display %d first refresh failed: %v", id, refreshErr)
	}
	m.presets.BuildPresetsList(id)
	m.emitDisplayAdded(d)
	return d, refreshErr
}

// Detach 移除显示器，并解除与它有关的镜像关系。
func (m *Manager) Detach(id uint32) {
	m.displaysMu.Lock()
	d := m.displays[id]
	delete(m.displays, id)
	m.displaysMu.Unlock()
	if d == nil {
		return
	}
	logger.Info("detach display", d)

	d.mu.Lock()
	master := d.mirrorMaster
	slaves := d.mirrorSlaves
	d.mu.Unlock()
	d.detach()
	m.brightness.forget(id)
	m.presets.forget(id)

	if master != 0 {
		if md, err := m.Display(master); err == nil {
			md.mu.Lock()
			md.mirrorSlaves = removeId(md.mirrorSlaves, id)
			md.mu.Unlock()
		}
	}
	for _, slaveId := range slaves {
		if sd, err := m.Display(slaveId); err == nil {
			sd.mu.Lock()
			if sd.mirrorMaster == id {
				sd.mirrorMaster = 0
			}
			sd.mu.Unlock()
		}
	}
	m.emitDisplayRemoved(id)
}

// RefreshAll 并行刷新全部显示器。
func (m *Manager) RefreshAll(ctx context.Context) error {
	p := pool.New().WithErrors().WithContext(ctx)
	for _, d := range m.Displays() {
		d := d
		p.Go(func(ctx context.Context) error {
			return d.RefreshModes(ctx)
		})
	}
	return p.Wait()
}

// SetLidClosed 更新合盖状态，由电源状态的监听者调用。
func (m *Manager) SetLidClosed(closed bool) {
	m.lidMu.Lock()
	changed := m.lidClosed != closed
	m.lidClosed = closed
	m.lidMu.Unlock()
	if changed {
		logger.Infof("lid closed: %v", closed)
	}
}

// SyncPowerState 从 PowerState 读入当前的合盖状态。
func (m *Manager) SyncPowerState(p PowerState) {
	if p == nil {
		return
	}
	m.SetLidClosed(p.IsLidClosed())
}

func (m *Manager) IsLidClosed() bool {
	m.lidMu.Lock()
	defer m.lidMu.Unlock()
	return m.lidClosed
}

// checkSuppressed 合盖且没有外接显示器时，不允许修改内置屏。
func (m *Manager) checkSuppressed(d *Display, op string) error {
	if !d.IsBuiltin() || !m.IsLidClosed() {
		return nil
	}
	for _, other := range m.Displays() {
		if other != d && !other.IsBuiltin() {
			return nil
		}
	}
	return &UnsupportedOperationError{DisplayId: d.Id(), Op: op, Reason: "lid closed"}
}

// SetMirrorMaster 让 slaveId 镜像 masterId，masterId 为 0 时取消镜像。不允许镜像链。
func (m *Manager) SetMirrorMaster(ctx context.Context, slaveId, masterId uint32) error {
	slave, err := m.Display(slaveId)
	if err != nil {
		return err
	}
	err = m.checkSuppressed(slave, "mirror")
	if err != nil {
		return err
	}
	if masterId == 0 {
		return m.clearMirror(ctx, slave)
	}
	if masterId == slaveId {
		return &UnsupportedOperationError{DisplayId: slaveId, Op: "mirror", Reason: "can not mirror itself"}
	}
	master, err := m.Display(masterId)
	if err != nil {
		return err
	}
	for _, d := range []*Display{slave, master} {
		if !d.Caps().Has(modes.CapCanMirror) {
			return &UnsupportedOperationError{DisplayId: d.Id(), Op: "mirror", Reason: "display can not mirror"}
		}
	}

	for {
		involved, oldMasterId := m.mirrorInvolved(slave, master)
		unlockOps := lockDisplays(involved, func(d *Display) *sync.Mutex { return &d.opMu })
		slave.mu.Lock()
		stale := slave.mirrorMaster != oldMasterId
		slave.mu.Unlock()
		if stale {
			// 加锁前镜像关系被别的调用改变了
			unlockOps()
			continue
		}
		err = m.setMirrorMasterLocked(ctx, slave, master, involved)
		unlockOps()
		return err
	}
}

// mirrorInvolved 返回需要加锁的显示器，包括 slave 原来镜像的显示器。
func (m *Manager) mirrorInvolved(slave, master *Display) ([]*Display, uint32) {
	involved := []*Display{slave, master}
	slave.mu.Lock()
	oldMasterId := slave.mirrorMaster
	slave.mu.Unlock()
	if oldMasterId != 0 && oldMasterId != master.Id() {
		if oldMaster, err := m.Display(oldMasterId); err == nil {
			involved = append(involved, oldMaster)
		}
	}
	return involved, oldMasterId
}

// setMirrorMasterLocked 需要持有 involved 的 opMu。
func (m *Manager) setMirrorMasterLocked(ctx context.Context, slave, master *Display, involved []*Display) error {
	unlock := lockDisplays(involved, func(d *Display) *sync.Mutex { return &d.mu })
	err := checkMirrorable(slave, master)
	mirrorMode := slave.mirrorMode
	unlock()
	if err != nil {
		return err
	}

	err = slave.backendCall(ctx, "mirror", func(ctx context.Context) error {
		return m.backend.ConfigureMirror(ctx, slave.Id(), master.Id(), mirrorMode)
	})
	if err != nil {
		return err
	}

	unlock = lockDisplays(involved, func(d *Display) *sync.Mutex { return &d.mu })
	defer unlock()
	for _, d := range involved {
		if err := d.checkAliveNoLock(); err != nil {
			return err
		}
	}
	if len(involved) > 2 {
		oldMaster := involved[2]
		oldMaster.mirrorSlaves = removeId(oldMaster.mirrorSlaves, slave.Id())
	}
	slave.mirrorMaster = master.Id()
	if !containsId(master.mirrorSlaves, slave.Id()) {
		master.mirrorSlaves = append(master.mirrorSlaves, slave.Id())
	}
	logger.Infof("display %d mirrors display %d", slave.Id(), master.Id())
	return nil
}

// checkMirrorable 需要持有两个显示器的 mu。
func checkMirrorable(slave, master *Display) error {
	for _, d := range []*Display{slave, master} {
		if err := d.checkAliveNoLock(); err != nil {
			return err
		}
	}
	if len(slave.mirrorSlaves) > 0 {
		return &UnsupportedOperationError{DisplayId: slave.Id(), Op: "mirror",
			Reason: "display is already a mirror source"}
	}
	if master.mirrorMaster != 0 {
		return &UnsupportedOperationError{DisplayId: master.Id(), Op: "mirror",
			Reason: "display is itself a mirror"}
	}
	return nil
}

func (m *Manager) clearMirror(ctx context.Context, slave *Display) error {
	slave.mu.Lock()
	masterId := slave.mirrorMaster
	slave.mu.Unlock()
	if masterId == 0 {
		return slave.checkAlive()
	}

	involved := []*Display{slave}
	master, err := m.Display(masterId)
	if err == nil {
		involved = append(involved, master)
	}
	unlockOps := lockDisplays(involved, func(d *Display) *sync.Mutex { return &d.opMu })
	defer unlockOps()

	err = slave.backendCall(ctx, "mirror", func(ctx context.Context) error {
		return m.backend.ConfigureMirror(ctx, slave.Id(), 0, modes.Mode{})
	})
	if err != nil {
		return err
	}

	unlock := lockDisplays(involved, func(d *Display) *sync.Mutex { return &d.mu })
	defer unlock()
	slave.mirrorMaster = 0
	if master != nil {
		master.mirrorSlaves = removeId(master.mirrorSlaves, slave.Id())
	}
	return slave.checkAliveNoLock()
}

// lockDisplays 按 id 从小到大加锁，返回解锁函数。
func lockDisplays(displays []*Display, mu func(d *Display) *sync.Mutex) (unlock func()) {
	sorted := append([]*Display(nil), displays...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Id() < sorted[j].Id()
	})
	var locked []*sync.Mutex
	var prev *Display
	for _, d := range sorted {
		if d == prev {
			continue
		}
		prev = d
		l := mu(d)
		l.Lock()
		locked = append(locked, l)
	}
	return func() {
		for i := len(locked) - 1; i >= 0; i-- {
			locked[i].Unlock()
		}
	}
}

func removeId(ids []uint32, id uint32) []uint32 {
	result := ids[:0:0]
	for _, v := range ids {
		if v != id {
			result = append(result, v)
		}
	}
	return result
}

func containsId(ids []uint32, id uint32) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// displayNames 用于日志。
func displayNames(displays []*Display) strv.Strv {
	names := make(strv.Strv, 0, len(displays))
	for _, d := range displays {
		names = append(names, d.info.Name)
	}
	return names
}
