// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/linuxdeepin/dde-display-daemon/display1/brightness"
	"github.com/linuxdeepin/dde-display-daemon/display1/modes"
	"github.com/linuxdeepin/dde-display-daemon/display1/presetstore"
	"github.com/stretchr/testify/require"
)

var errFake = errors.New("fake failure")

// 1920x1080@60 默认，1920x1080@30，3840x2160@60 原生
func scenarioModes() []modes.RawMode {
	return []modes.RawMode{
		{Id: 1, Width: 1920, Height: 1080, Rate: 60, Flags: modes.FlagDefault},
		{Id: 2, Width: 1920, Height: 1080, Rate: 30},
		{Id: 3, Width: 3840, Height: 2160, Rate: 60, Flags: modes.FlagNative},
	}
}

type fakeOutput struct {
	info DisplayInfo
	raw  RawModeSet
}

type fakeBackend struct {
	mu      sync.Mutex
	outputs map[uint32]*fakeOutput

	applyDelay  time.Duration
	applyErr    error
	degraded    string
	rawErr      error
	rotateErr   error
	applyCount  int
	mirrorCalls [][2]uint32
	originErr   error
	// originErrId 非 0 时只让该显示器的 SetOrigin 失败
	originErrId uint32
	originCalls []uint32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{outputs: make(map[uint32]*fakeOutput)}
}

func (b *fakeBackend) addOutput(id uint32, name string, caps modes.Capability, raws []modes.RawMode, current uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputs[id] = &fakeOutput{
		info: DisplayInfo{
			Id:              id,
			UUID:            "uuid-" + name,
			Name:            name,
			Manufacturer:    "DEL",
			Model:           "U2720Q " + name,
			Caps:            caps,
			NumberOfPresets: 4,
		},
		raw: RawModeSet{Modes: raws, CurrentModeId: current},
	}
}

func (b *fakeBackend) removeOutput(id uint32) {
	b.mu.Lock()
	delete(b.outputs, id)
	b.mu.Unlock()
}

func (b *fakeBackend) setRawModes(id uint32, raws []modes.RawMode) {
	b.mu.Lock()
	b.outputs[id].raw.Modes = raws
	b.mu.Unlock()
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	fn(b)
	b.mu.Unlock()
}

func (b *fakeBackend) ListActiveDisplays(ctx context.Context) ([]uint32, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []uint32
	for id := range b.outputs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (b *fakeBackend) getOutput(id uint32) (*fakeOutput, error) {
	o := b.outputs[id]
	if o == nil {
		return nil, &DisplayGoneError{DisplayId: id}
	}
	return o, nil
}

func (b *fakeBackend) DisplayInfo(ctx context.Context, id uint32) (DisplayInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, err := b.getOutput(id)
	if err != nil {
		return DisplayInfo{}, err
	}
	return o.info, nil
}

func (b *fakeBackend) RawModes(ctx context.Context, id uint32) (RawModeSet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rawErr != nil {
		return RawModeSet{}, b.rawErr
	}
	o, err := b.getOutput(id)
	if err != nil {
		return RawModeSet{}, err
	}
	raw := o.raw
	raw.Modes = append([]modes.RawMode(nil), o.raw.Modes...)
	return raw, nil
}

func (b *fakeBackend) ApplyMode(ctx context.Context, id uint32, mode modes.Mode) (ApplyResult, error) {
	b.mu.Lock()
	delay, applyErr, degraded := b.applyDelay, b.applyErr, b.degraded
	b.applyCount++
	b.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ApplyResult{}, ctx.Err()
		}
	}
	if applyErr != nil {
		return ApplyResult{}, applyErr
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	o, err := b.getOutput(id)
	if err != nil {
		return ApplyResult{}, err
	}
	o.raw.CurrentModeId = mode.Id
	if degraded != "" {
		return ApplyResult{Degraded: true, Reason: degraded}, nil
	}
	return ApplyResult{}, nil
}

func (b *fakeBackend) SetOrientation(ctx context.Context, id uint32, rotation uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rotateErr != nil {
		return b.rotateErr
	}
	o, err := b.getOutput(id)
	if err != nil {
		return err
	}
	o.raw.Orientation = rotation
	return nil
}

func (b *fakeBackend) SetUnderscan(ctx context.Context, id uint32, value float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.getOutput(id)
	return err
}

func (b *fakeBackend) ConfigureMirror(ctx context.Context, slaveId, masterId uint32, mode modes.Mode) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.mirrorCalls = append(b.mirrorCalls, [2]uint32{slaveId, masterId})
	return nil
}

func (b *fakeBackend) SetOrigin(ctx context.Context, id uint32, x, y int16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	o, err := b.getOutput(id)
	if err != nil {
		return err
	}
	b.originCalls = append(b.originCalls, id)
	if b.originErr != nil && (b.originErrId == 0 || b.originErrId == id) {
		return b.originErr
	}
	o.raw.X, o.raw.Y = x, y
	return nil
}

func (b *fakeBackend) origin(id uint32) (int16, int16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	o := b.outputs[id]
	return o.raw.X, o.raw.Y
}

// fakeBrightness 只保存线性亮度，其他空间的值按补偿系数 1 换算。
type fakeBrightness struct {
	mu        sync.Mutex
	linear    map[uint32]float64
	caps      brightness.Capabilities
	capsCalls int
	writes    []float64
	setErr    error
	watchers  []func(id uint32, v brightness.Value)
}

func newFakeBrightness() *fakeBrightness {
	return &fakeBrightness{
		linear: make(map[uint32]float64),
		caps:   brightness.Capabilities{CanChangeBrightness: true},
	}
}

func (s *fakeBrightness) Brightness(ctx context.Context, id uint32, space brightness.Space) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	linear, ok := s.linear[id]
	if !ok {
		linear = 1
	}
	return brightness.FromLinear(linear, space, 1).V, nil
}

func (s *fakeBrightness) SetBrightness(ctx context.Context, id uint32, space brightness.Space, v float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setErr != nil {
		return s.setErr
	}
	linear := brightness.ToLinear(brightness.Value{V: v, Space: space}, 1)
	s.linear[id] = linear
	s.writes = append(s.writes, linear)
	return nil
}

func (s *fakeBrightness) Capabilities(ctx context.Context, id uint32) (brightness.Capabilities, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capsCalls++
	return s.caps, nil
}

func (s *fakeBrightness) Watch(fn func(id uint32, v brightness.Value)) (stop func()) {
	s.mu.Lock()
	s.watchers = append(s.watchers, fn)
	s.mu.Unlock()
	return func() {}
}

// external 模拟亮度键等外部修改。
func (s *fakeBrightness) external(id uint32, linear float64) {
	s.mu.Lock()
	s.linear[id] = linear
	watchers := append(([]func(uint32, brightness.Value))(nil), s.watchers...)
	s.mu.Unlock()
	for _, fn := range watchers {
		fn(id, brightness.Value{V: linear, Space: brightness.SpaceLinear})
	}
}

func (s *fakeBrightness) getWrites() []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.writes...)
}

func (s *fakeBrightness) setCaps(caps brightness.Capabilities) {
	s.mu.Lock()
	s.caps = caps
	s.mu.Unlock()
}

func (s *fakeBrightness) getCapsCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.capsCalls
}

type fakeStore struct {
	mu      sync.Mutex
	presets map[string][]presetstore.Preset
	loadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{presets: make(map[string][]presetstore.Preset)}
}

func (s *fakeStore) LoadPresets(key string) ([]presetstore.Preset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]presetstore.Preset(nil), s.presets[key]...), nil
}

func (s *fakeStore) SavePreset(key string, preset presetstore.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.presets[key]
	for i, p := range list {
		if p.Index == preset.Index {
			list[i] = preset
			return nil
		}
	}
	s.presets[key] = append(list, preset)
	return nil
}

type testEnv struct {
	backend *fakeBackend
	bs      *fakeBrightness
	store   *fakeStore
	m       *Manager
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ApplyTimeout = 200 * time.Millisecond
	cfg.CoalesceWindow = 20 * time.Millisecond
	cfg.RampRate = 200
	return cfg
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	env := &testEnv{
		backend: newFakeBackend(),
		bs:      newFakeBrightness(),
		store:   newFakeStore(),
	}
	env.m = NewManager(cfg, env.backend, env.bs, env.store)
	t.Cleanup(env.m.Close)
	return env
}

// attach 添加一个场景中的显示器并完成首次刷新。
func (env *testEnv) attach(t *testing.T, id uint32, name string, caps modes.Capability) *Display {
	env.backend.addOutput(id, name, caps, scenarioModes(), 1)
	d, err := env.m.Attach(context.Background(), id)
	require.NoError(t, err)
	return d
}

func modeIds(list []modes.Mode) []uint32 {
	result := make([]uint32, 0, len(list))
	for _, mode := range list {
		result = append(result, mode.Id)
	}
	return result
}

func findMode(t *testing.T, d *Display, id uint32) modes.Mode {
	mode, ok := d.Modes().All.Find(id)
	require.True(t, ok, "mode %d not found", id)
	return mode
}
