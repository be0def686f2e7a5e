// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/linuxdeepin/dde-display-daemon/display1/modes"
	x "github.com/linuxdeepin/go-x11-client"
	"github.com/linuxdeepin/go-x11-client/ext/randr"
	"golang.org/x/xerrors"
)

const (
	defaultNumberOfPresets = 8
	hiDpiThreshold         = 192
	highResolutionWidth    = 3840
	// 1 mm 大约 3.792 像素 (96 dpi)
	pixelsPerMm = 3.792
	// amdgpu/radeon 的 underscan 边框上限
	maxUnderscanBorder = 128
)

// xrandrBackend 用 X11 RandR 实现 Backend。
type xrandrBackend struct {
	xConn *x.Conn

	mu            sync.Mutex
	cfgTs         x.Timestamp
	modes         []randr.ModeInfo
	outputs       map[randr.Output]*randr.GetOutputInfoReply
	crtcs         map[randr.Crtc]*randr.GetCrtcInfoReply
	screenWidth   uint16
	screenHeight  uint16
	stdNamesCache map[string]string
}

func newXrandrBackend(xConn *x.Conn) (*xrandrBackend, error) {
	screen := xConn.GetDefaultScreen()
	b := &xrandrBackend{
		xConn:         xConn,
		outputs:       make(map[randr.Output]*randr.GetOutputInfoReply),
		crtcs:         make(map[randr.Crtc]*randr.GetCrtcInfoReply),
		screenWidth:   screen.WidthInPixels,
		screenHeight:  screen.HeightInPixels,
		stdNamesCache: make(map[string]string),
	}
	err := b.refresh()
	if err != nil {
		return nil, err
	}
	return b, nil
}

// do 在单独的 goroutine 中执行 X 请求，ctx 结束时立即返回。
func (b *xrandrBackend) do(ctx context.Context, fn func() error) error {
	ch := make(chan error, 1)
	go func() {
		ch <- fn()
	}()
	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *xrandrBackend) refresh() error {
	root := b.xConn.GetDefaultScreen().Root
	resources, err := randr.GetScreenResourcesCurrent(b.xConn, root).Reply(b.xConn)
	if err != nil {
		return xerrors.Errorf("get current screen resources: %w", err)
	}

	outputs := make(map[randr.Output]*randr.GetOutputInfoReply, len(resources.Outputs))
	for _, outputId := range resources.Outputs {
		reply, err := b.getOutputInfo(outputId, resources.ConfigTimestamp)
		if err != nil {
			logger.Warningf("get output %v info failed: %v", outputId, err)
			continue
		}
		outputs[outputId] = reply
	}

	crtcs := make(map[randr.Crtc]*randr.GetCrtcInfoReply, len(resources.Crtcs))
	for _, crtcId := range resources.Crtcs {
		reply, err := b.getCrtcInfo(crtcId, resources.ConfigTimestamp)
		if err != nil {
			logger.Warningf("get crtc %v info failed: %v", crtcId, err)
			continue
		}
		crtcs[crtcId] = reply
	}

	b.mu.Lock()
	b.cfgTs = resources.ConfigTimestamp
	b.modes = resources.Modes
	b.outputs = outputs
	b.crtcs = crtcs
	b.mu.Unlock()
	return nil
}

func (b *xrandrBackend) getCrtcInfo(crtc randr.Crtc, cfgTs x.Timestamp) (*randr.GetCrtcInfoReply, error) {
	crtcInfo, err := randr.GetCrtcInfo(b.xConn, crtc, cfgTs).Reply(b.xConn)
	if err != nil {
		return nil, err
	}
	if crtcInfo.Status != randr.StatusSuccess {
		return nil, fmt.Errorf("status is not success, is %v", crtcInfo.Status)
	}
	return crtcInfo, nil
}

func (b *xrandrBackend) getOutputInfo(outputId randr.Output, cfgTs x.Timestamp) (*randr.GetOutputInfoReply, error) {
	outputInfo, err := randr.GetOutputInfo(b.xConn, outputId, cfgTs).Reply(b.xConn)
	if err != nil {
		return nil, err
	}
	if outputInfo.Status != randr.StatusSuccess {
		return nil, fmt.Errorf("status is not success, is %v", outputInfo.Status)
	}
	return outputInfo, nil
}

func (b *xrandrBackend) getOutputEdid(output randr.Output) ([]byte, error) {
	atomEDID, err := b.xConn.GetAtom("EDID")
	if err != nil {
		return nil, err
	}

	reply, err := randr.GetOutputProperty(b.xConn, output,
		atomEDID, x.AtomInteger,
		0, 32, false, false).Reply(b.xConn)
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (b *xrandrBackend) hasOutputProperty(output randr.Output, name string) (bool, error) {
	lsPropsReply, err := randr.ListOutputProperties(b.xConn, output).Reply(b.xConn)
	if err != nil {
		return false, err
	}
	atom, err := b.xConn.GetAtom(name)
	if err != nil {
		return false, err
	}
	for _, a := range lsPropsReply.Atoms {
		if a == atom {
			return true, nil
		}
	}
	return false, nil
}

// setOutputProperty 以属性原有的类型和格式写入一个 32 位的值。
func (b *xrandrBackend) setOutputProperty(output randr.Output, name string, value uint32) error {
	atom, err := b.xConn.GetAtom(name)
	if err != nil {
		return err
	}
	reply, err := randr.GetOutputProperty(b.xConn, output, atom, 0, 0,
		100, false, false).Reply(b.xConn)
	if err != nil {
		return err
	}
	propType, format := reply.Type, reply.Format
	if propType == 0 {
		propType, format = x.AtomInteger, 32
	}

	w := x.NewWriter()
	w.Write4b(value)
	return randr.ChangeOutputPropertyChecked(b.xConn, output, atom,
		propType, format, 0, w.Bytes()).Check(b.xConn)
}

func (b *xrandrBackend) getStdMonitorName(name string, edid []byte) (string, error) {
	b.mu.Lock()
	stdName := b.stdNamesCache[name]
	b.mu.Unlock()
	if stdName != "" {
		return stdName, nil
	}

	stdName, err := getStdMonitorName(edid)
	if err != nil {
		return "", err
	}
	b.mu.Lock()
	b.stdNamesCache[name] = stdName
	b.mu.Unlock()
	return stdName, nil
}

func (b *xrandrBackend) output(id uint32) (*randr.GetOutputInfoReply, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	outputInfo := b.outputs[randr.Output(id)]
	if outputInfo == nil || outputInfo.Connection != randr.ConnectionConnected {
		return nil, &DisplayGoneError{DisplayId: id}
	}
	return outputInfo, nil
}

func (b *xrandrBackend) modeInfo(id randr.Mode) (randr.ModeInfo, bool) {
	for _, mi := range b.modes {
		if randr.Mode(mi.Id) == id {
			return mi, true
		}
	}
	return randr.ModeInfo{}, false
}

func toRawMode(info randr.ModeInfo) modes.RawMode {
	var flags modes.Flag
	if info.ModeFlags&randr.ModeFlagInterlace != 0 {
		flags |= modes.FlagInterlaced
	}
	if info.ModeFlags&randr.ModeFlagDoubleScan != 0 {
		flags |= modes.FlagDoubleScan
	}
	return modes.RawMode{
		Id:          info.Id,
		Name:        info.Name,
		Width:       info.Width,
		Height:      info.Height,
		PixelAspect: 1,
		DotClock:    info.DotClock,
		HTotal:      info.HTotal,
		VTotal:      info.VTotal,
		Depth:       24,
		Flags:       flags,
	}
}

func (b *xrandrBackend) ListActiveDisplays(ctx context.Context) ([]uint32, error) {
	err := b.do(ctx, b.refresh)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []uint32
	for outputId, outputInfo := range b.outputs {
		if outputInfo.Connection == randr.ConnectionConnected {
			ids = append(ids, uint32(outputId))
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (b *xrandrBackend) DisplayInfo(ctx context.Context, id uint32) (DisplayInfo, error) {
	outputInfo, err := b.output(id)
	if err != nil {
		return DisplayInfo{}, err
	}

	var info DisplayInfo
	err = b.do(ctx, func() error {
		var err error
		info, err = b.displayInfo(randr.Output(id), outputInfo)
		return err
	})
	if err != nil {
		return DisplayInfo{}, err
	}
	return info, nil
}

func (b *xrandrBackend) displayInfo(output randr.Output, outputInfo *randr.GetOutputInfoReply) (DisplayInfo, error) {
	edid, err := b.getOutputEdid(output)
	if err != nil {
		logger.Warningf("get output %d edid failed: %v", output, err)
	}
	stdName, err := b.getStdMonitorName(outputInfo.Name, edid)
	if err != nil {
		logger.Debugf("get monitor %v std name failed: %v", outputInfo.Name, err)
	}
	manufacturer, model := parseEdid(edid)
	info := DisplayInfo{
		Id:              uint32(output),
		UUID:            getOutputUuid(outputInfo.Name, stdName, edid),
		Name:            outputInfo.Name,
		Manufacturer:    manufacturer,
		Model:           model,
		NumberOfPresets: defaultNumberOfPresets,
	}

	var caps modes.Capability
	if isBuiltinOutputName(outputInfo.Name) {
		caps |= modes.CapBuiltIn
	}
	if len(outputInfo.Crtcs) > 0 {
		caps |= modes.CapCanMirror
	}

	b.mu.Lock()
	if crtcInfo := b.crtcs[outputInfo.Crtc]; crtcInfo != nil {
		if len(getRotations(crtcInfo.Rotations)) > 1 {
			caps |= modes.CapRotationCapable
		}
	}
	preferred, hasPreferred := b.modeInfo(outputInfo.GetPreferredMode())
	rates := make(map[modes.Resolution]int)
	for _, modeId := range outputInfo.Modes {
		if mi, ok := b.modeInfo(modeId); ok {
			rates[modes.Resolution{Width: mi.Width, Height: mi.Height}]++
		}
	}
	b.mu.Unlock()

	if hasPreferred {
		if preferred.Width >= highResolutionWidth {
			caps |= modes.CapHighResolution
		}
		if outputInfo.MmWidth > 0 {
			dpi := float64(preferred.Width) * 25.4 / float64(outputInfo.MmWidth)
			if dpi >= hiDpiThreshold {
				caps |= modes.CapHiDPI
			}
		}
		if rates[modes.Resolution{Width: preferred.Width, Height: preferred.Height}] > 1 {
			caps |= modes.CapHasMultipleRates
		}
	}

	hasUnderscan, err := b.hasOutputProperty(output, "underscan")
	if err != nil {
		logger.Warningf("list output %d properties failed: %v", output, err)
	}
	if hasUnderscan {
		caps |= modes.CapSupportsUnderscan
	}
	info.Caps = caps
	return info, nil
}

func getRotations(origin uint16) []uint16 {
	var ret []uint16
	for _, r := range []uint16{randr.RotationRotate0, randr.RotationRotate90,
		randr.RotationRotate180, randr.RotationRotate270} {
		if origin&r == r {
			ret = append(ret, r)
		}
	}
	return ret
}

func (b *xrandrBackend) RawModes(ctx context.Context, id uint32) (RawModeSet, error) {
	outputInfo, err := b.output(id)
	if err != nil {
		return RawModeSet{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var set RawModeSet
	preferred := outputInfo.GetPreferredMode()
	for _, modeId := range outputInfo.Modes {
		mi, ok := b.modeInfo(modeId)
		if !ok {
			continue
		}
		raw := toRawMode(mi)
		if modeId == preferred {
			raw.Flags |= modes.FlagNative | modes.FlagDefault
		}
		set.Modes = append(set.Modes, raw)
	}
	if crtcInfo := b.crtcs[outputInfo.Crtc]; crtcInfo != nil {
		set.CurrentModeId = uint32(crtcInfo.Mode)
		set.Orientation = rotationToDegrees(crtcInfo.Rotation)
		set.X, set.Y = crtcInfo.X, crtcInfo.Y
	}
	return set, nil
}

type crtcConfig struct {
	crtc     randr.Crtc
	x        int16
	y        int16
	mode     randr.Mode
	rotation uint16
	outputs  []randr.Output
	width    uint16
	height   uint16
}

// currentCrtcConfig 返回输出当前的 crtc 配置，没有 crtc 时找一个空闲的。
func (b *xrandrBackend) currentCrtcConfig(output randr.Output, outputInfo *randr.GetOutputInfoReply) (crtcConfig, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if crtcInfo := b.crtcs[outputInfo.Crtc]; crtcInfo != nil && outputInfo.Crtc != 0 {
		outputs := crtcInfo.Outputs
		if len(outputs) == 0 {
			outputs = []randr.Output{output}
		}
		return crtcConfig{
			crtc:     outputInfo.Crtc,
			x:        crtcInfo.X,
			y:        crtcInfo.Y,
			mode:     crtcInfo.Mode,
			rotation: crtcInfo.Rotation,
			outputs:  outputs,
		}, nil
	}

	for _, crtc := range outputInfo.Crtcs {
		crtcInfo := b.crtcs[crtc]
		if crtcInfo != nil && len(crtcInfo.Outputs) == 0 && outputSliceContains(crtcInfo.PossibleOutputs, output) {
			return crtcConfig{
				crtc:     crtc,
				x:        b.rightEdge(0),
				rotation: randr.RotationRotate0,
				outputs:  []randr.Output{output},
			}, nil
		}
	}
	return crtcConfig{}, fmt.Errorf("no free crtc for output %v", output)
}

// rightEdge 返回除 except 以外所有启用的 crtc 的最右边缘。
func (b *xrandrBackend) rightEdge(except randr.Crtc) int16 {
	var edge int
	for crtc, crtcInfo := range b.crtcs {
		if crtc == except || crtcInfo.Mode == 0 {
			continue
		}
		if e := int(crtcInfo.X) + int(crtcInfo.Width); e > edge {
			edge = e
		}
	}
	if edge > math.MaxInt16 {
		edge = math.MaxInt16
	}
	return int16(edge)
}

// screenSizeWith 计算把 cfg 应用后需要的屏幕尺寸。
func (b *xrandrBackend) screenSizeWith(cfg crtcConfig) (uint16, uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var w, h int
	grow := func(x, y int16, width, height uint16) {
		if x1 := int(x) + int(width); x1 > w {
			w = x1
		}
		if y1 := int(y) + int(height); y1 > h {
			h = y1
		}
	}
	for crtc, crtcInfo := range b.crtcs {
		if crtc == cfg.crtc || crtcInfo.Mode == 0 {
			continue
		}
		grow(crtcInfo.X, crtcInfo.Y, crtcInfo.Width, crtcInfo.Height)
	}
	width, height := cfg.width, cfg.height
	swapWidthHeightWithRotation(cfg.rotation, &width, &height)
	grow(cfg.x, cfg.y, width, height)

	if w > math.MaxUint16 {
		w = math.MaxUint16
	}
	if h > math.MaxUint16 {
		h = math.MaxUint16
	}
	return uint16(w), uint16(h)
}

func (b *xrandrBackend) setScreenSize(width, height uint16) error {
	root := b.xConn.GetDefaultScreen().Root
	mmWidth := uint32(float64(width) / pixelsPerMm)
	mmHeight := uint32(float64(height) / pixelsPerMm)
	err := randr.SetScreenSizeChecked(b.xConn, root, width, height, mmWidth,
		mmHeight).Check(b.xConn)
	logger.Debugf("set screen size %dx%d, mm: %dx%d", width, height, mmWidth, mmHeight)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.screenWidth, b.screenHeight = width, height
	b.mu.Unlock()
	return nil
}

func getRandrStatusStr(status uint8) string {
	switch status {
	case randr.SetConfigSuccess:
		return "success"
	case randr.SetConfigFailed:
		return "failed"
	case randr.SetConfigInvalidConfigTime:
		return "invalid config time"
	case randr.SetConfigInvalidTime:
		return "invalid time"
	default:
		return fmt.Sprintf("unknown status %d", status)
	}
}

// applyCrtcConfig 应用 crtc 配置，屏幕变大时先扩大屏幕，变小时后缩小。
func (b *xrandrBackend) applyCrtcConfig(cfg crtcConfig) error {
	width, height := b.screenSizeWith(cfg)
	b.mu.Lock()
	cfgTs := b.cfgTs
	sw, sh := b.screenWidth, b.screenHeight
	b.mu.Unlock()
	grow := width > sw || height > sh
	shrink := width < sw || height < sh

	if grow {
		err := b.setScreenSize(maxUint16(width, sw), maxUint16(height, sh))
		if err != nil {
			return xerrors.Errorf("grow screen: %w", err)
		}
	}

	logger.Debugf("setCrtcConfig crtc: %v, cfgTs: %v, x: %v, y: %v,"+
		" mode: %v, rotation|reflect: %v, outputs: %v",
		cfg.crtc, cfgTs, cfg.x, cfg.y, cfg.mode, cfg.rotation, cfg.outputs)
	setCfg, err := randr.SetCrtcConfig(b.xConn, cfg.crtc, 0, cfgTs,
		cfg.x, cfg.y, cfg.mode, cfg.rotation,
		cfg.outputs).Reply(b.xConn)
	if err != nil {
		return err
	}
	if setCfg.Status != randr.SetConfigSuccess {
		return fmt.Errorf("failed to configure crtc %v: %v",
			cfg.crtc, getRandrStatusStr(setCfg.Status))
	}

	if shrink || grow {
		err = b.setScreenSize(width, height)
		if err != nil {
			logger.Warning("set screen size failed:", err)
		}
	}
	return b.refresh()
}

func maxUint16(a, b uint16) uint16 {
	if a > b {
		return a
	}
	return b
}

func outputSliceContains(outputs []randr.Output, output randr.Output) bool {
	for _, o := range outputs {
		if o == output {
			return true
		}
	}
	return false
}

func (b *xrandrBackend) ApplyMode(ctx context.Context, id uint32, mode modes.Mode) (ApplyResult, error) {
	outputInfo, err := b.output(id)
	if err != nil {
		return ApplyResult{}, err
	}

	var result ApplyResult
	err = b.do(ctx, func() error {
		output := randr.Output(id)
		cfg, err := b.currentCrtcConfig(output, outputInfo)
		if err != nil {
			return err
		}
		cfg.mode = randr.Mode(mode.Id)
		cfg.width, cfg.height = mode.Width, mode.Height
		err = b.applyCrtcConfig(cfg)
		if err != nil {
			return xerrors.Errorf("apply mode %v to output %v: %w", mode, outputInfo.Name, err)
		}

		b.mu.Lock()
		crtcInfo := b.crtcs[cfg.crtc]
		b.mu.Unlock()
		if crtcInfo != nil && crtcInfo.Mode != cfg.mode {
			result.Degraded = true
			result.Reason = fmt.Sprintf("crtc %v is in mode %v", cfg.crtc, crtcInfo.Mode)
		}
		return nil
	})
	if err != nil {
		return ApplyResult{}, err
	}
	return result, nil
}

func (b *xrandrBackend) SetOrientation(ctx context.Context, id uint32, degrees uint16) error {
	rotation, ok := degreesToRotation(degrees)
	if !ok {
		return &OutOfRangeError{What: "orientation", Value: float64(degrees), Min: 0, Max: 270}
	}
	outputInfo, err := b.output(id)
	if err != nil {
		return err
	}

	return b.do(ctx, func() error {
		cfg, err := b.currentCrtcConfig(randr.Output(id), outputInfo)
		if err != nil {
			return err
		}
		if cfg.mode == 0 {
			return fmt.Errorf("output %v is disabled", outputInfo.Name)
		}
		b.mu.Lock()
		mi, _ := b.modeInfo(cfg.mode)
		crtcInfo := b.crtcs[cfg.crtc]
		b.mu.Unlock()
		if crtcInfo != nil && crtcInfo.Rotations&rotation == 0 {
			return &UnsupportedOperationError{DisplayId: id, Op: "set orientation",
				Reason: fmt.Sprintf("rotation %d not supported by crtc", degrees)}
		}
		_, reflect := parseCrtcRotation(cfg.rotation)
		cfg.rotation = rotation | reflect
		cfg.width, cfg.height = mi.Width, mi.Height
		return b.applyCrtcConfig(cfg)
	})
}

func (b *xrandrBackend) SetUnderscan(ctx context.Context, id uint32, value float64) error {
	if value < MinUnderscan || value > MaxUnderscan {
		return &OutOfRangeError{What: "underscan", Value: value, Min: MinUnderscan, Max: MaxUnderscan}
	}
	_, err := b.output(id)
	if err != nil {
		return err
	}

	output := randr.Output(id)
	return b.do(ctx, func() error {
		state := "off"
		if value > 0 {
			state = "on"
		}
		stateAtom, err := b.xConn.GetAtom(state)
		if err != nil {
			return err
		}
		err = b.setOutputProperty(output, "underscan", uint32(stateAtom))
		if err != nil {
			return xerrors.Errorf("set underscan: %w", err)
		}
		border := uint32(math.Round(value * maxUnderscanBorder))
		for _, name := range []string{"underscan hborder", "underscan vborder"} {
			err = b.setOutputProperty(output, name, border)
			if err != nil {
				return xerrors.Errorf("set %s: %w", name, err)
			}
		}
		return nil
	})
}

func (b *xrandrBackend) ConfigureMirror(ctx context.Context, slaveId, masterId uint32, mode modes.Mode) error {
	slaveInfo, err := b.output(slaveId)
	if err != nil {
		return err
	}
	var masterInfo *randr.GetOutputInfoReply
	if masterId != 0 {
		masterInfo, err = b.output(masterId)
		if err != nil {
			return err
		}
	}

	return b.do(ctx, func() error {
		cfg, err := b.currentCrtcConfig(randr.Output(slaveId), slaveInfo)
		if err != nil {
			return err
		}

		b.mu.Lock()
		if masterInfo == nil {
			// 取消镜像，放到其他显示器的右边
			cfg.x, cfg.y = b.rightEdge(cfg.crtc), 0
		} else {
			masterCrtc := b.crtcs[masterInfo.Crtc]
			if masterCrtc == nil || masterCrtc.Mode == 0 {
				b.mu.Unlock()
				return fmt.Errorf("mirror master %v is disabled", masterInfo.Name)
			}
			cfg.x, cfg.y = masterCrtc.X, masterCrtc.Y
			cfg.rotation = masterCrtc.Rotation
			if mode.IsZero() {
				width, height := masterCrtc.Width, masterCrtc.Height
				swapWidthHeightWithRotation(masterCrtc.Rotation, &width, &height)
				mode = b.modeWithSize(slaveInfo, width, height)
			}
		}
		if !mode.IsZero() {
			cfg.mode = randr.Mode(mode.Id)
		}
		mi, _ := b.modeInfo(cfg.mode)
		b.mu.Unlock()

		if cfg.mode == 0 {
			return fmt.Errorf("no mode for output %v", slaveInfo.Name)
		}
		cfg.width, cfg.height = mi.Width, mi.Height
		err = b.applyCrtcConfig(cfg)
		if err != nil {
			return xerrors.Errorf("configure mirror %v -> %v: %w", slaveId, masterId, err)
		}
		return nil
	})
}

// SetOrigin 移动输出所在的 crtc，模式和旋转保持不变。
func (b *xrandrBackend) SetOrigin(ctx context.Context, id uint32, x, y int16) error {
	if x < 0 || y < 0 {
		return &OutOfRangeError{What: "origin", Value: float64(min16(x, y)), Min: 0, Max: math.MaxInt16}
	}
	outputInfo, err := b.output(id)
	if err != nil {
		return err
	}

	return b.do(ctx, func() error {
		cfg, err := b.currentCrtcConfig(randr.Output(id), outputInfo)
		if err != nil {
			return err
		}
		if cfg.mode == 0 {
			return fmt.Errorf("output %v is disabled", outputInfo.Name)
		}
		b.mu.Lock()
		mi, _ := b.modeInfo(cfg.mode)
		b.mu.Unlock()
		cfg.x, cfg.y = x, y
		cfg.width, cfg.height = mi.Width, mi.Height
		err = b.applyCrtcConfig(cfg)
		if err != nil {
			return xerrors.Errorf("move output %v to %d,%d: %w", outputInfo.Name, x, y, err)
		}
		return nil
	})
}

func min16(a, b int16) int16 {
	if a < b {
		return a
	}
	return b
}

// modeWithSize 在输出支持的模式中找尺寸相同的，调用时需持有 b.mu。
func (b *xrandrBackend) modeWithSize(outputInfo *randr.GetOutputInfoReply, width, height uint16) modes.Mode {
	for _, modeId := range outputInfo.Modes {
		mi, ok := b.modeInfo(modeId)
		if ok && mi.Width == width && mi.Height == height {
			return modes.Mode{Id: mi.Id, Name: mi.Name, Width: mi.Width, Height: mi.Height}
		}
	}
	return modes.Mode{}
}

// listenEvents 把 randr 事件转成 Gateway 的事件。
func (b *xrandrBackend) listenEvents(gateway *Gateway) error {
	eventChan := b.xConn.MakeAndAddEventChan(50)
	root := b.xConn.GetDefaultScreen().Root
	// 选择监听哪些 randr 事件
	err := randr.SelectInputChecked(b.xConn, root,
		randr.NotifyMaskOutputChange|randr.NotifyMaskOutputProperty|
			randr.NotifyMaskCrtcChange|randr.NotifyMaskScreenChange).Check(b.xConn)
	if err != nil {
		return xerrors.Errorf("failed to select randr event: %w", err)
	}
	atomEDID, err := b.xConn.GetAtom("EDID")
	if err != nil {
		return err
	}

	rrExtData := b.xConn.GetExtensionData(randr.Ext())
	go func() {
		for ev := range eventChan {
			switch ev.GetEventCode() {
			case randr.NotifyEventCode + rrExtData.FirstEvent:
				event, _ := randr.NewNotifyEvent(ev)
				switch event.SubCode {
				case randr.NotifyOutputChange:
					e, _ := event.NewOutputChangeNotifyEvent()
					b.handleOutputChanged(gateway, e)

				case randr.NotifyCrtcChange:
					e, _ := event.NewCrtcChangeNotifyEvent()
					b.handleCrtcChanged(gateway, e)

				case randr.NotifyOutputProperty:
					e, _ := event.NewOutputPropertyNotifyEvent()
					if e.Atom == atomEDID {
						gateway.Post(Event{Kind: EventModesChanged, DisplayId: uint32(e.Output)})
					}
				}

			case randr.ScreenChangeNotifyEventCode + rrExtData.FirstEvent:
				event, _ := randr.NewScreenChangeNotifyEvent(ev)
				b.handleScreenChanged(gateway, event)
			}
		}
	}()
	return nil
}

func (b *xrandrBackend) handleOutputChanged(gateway *Gateway, e *randr.OutputChangeNotifyEvent) {
	b.mu.Lock()
	var wasConnected bool
	if outputInfo := b.outputs[e.Output]; outputInfo != nil {
		wasConnected = outputInfo.Connection == randr.ConnectionConnected
	}
	b.mu.Unlock()

	err := b.refresh()
	if err != nil {
		logger.Warning(err)
	}
	connected := e.Connection == randr.ConnectionConnected
	if connected != wasConnected {
		if !connected {
			b.mu.Lock()
			delete(b.stdNamesCache, b.outputName(e.Output))
			b.mu.Unlock()
		}
		gateway.Post(Event{Kind: EventHotPlug, DisplayId: uint32(e.Output), Attached: connected})
		return
	}
	if connected {
		gateway.Post(Event{Kind: EventModesChanged, DisplayId: uint32(e.Output)})
	}
}

func (b *xrandrBackend) outputName(output randr.Output) string {
	if outputInfo := b.outputs[output]; outputInfo != nil {
		return outputInfo.Name
	}
	return ""
}

func (b *xrandrBackend) handleCrtcChanged(gateway *Gateway, e *randr.CrtcChangeNotifyEvent) {
	b.mu.Lock()
	cfgTs := b.cfgTs
	b.mu.Unlock()
	reply, err := b.getCrtcInfo(e.Crtc, cfgTs)
	if err != nil {
		logger.Warningf("get crtc %v info failed: %v", e.Crtc, err)
		return
	}
	// 这些字段使用 event 中提供的
	reply.X = e.X
	reply.Y = e.Y
	reply.Width = e.Width
	reply.Height = e.Height
	reply.Rotation = e.Rotation
	reply.Mode = e.Mode

	b.mu.Lock()
	b.crtcs[e.Crtc] = reply
	b.mu.Unlock()
	for _, output := range reply.Outputs {
		gateway.Post(Event{Kind: EventModesChanged, DisplayId: uint32(output)})
	}
}

func (b *xrandrBackend) handleScreenChanged(gateway *Gateway, e *randr.ScreenChangeNotifyEvent) {
	width, height := e.Width, e.Height
	swapWidthHeightWithRotation(uint16(e.Rotation), &width, &height)
	logger.Debugf("screen changed cfgTs: %v, rotation:%v, screen size: %vx%v", e.ConfigTimestamp,
		e.Rotation, width, height)

	b.mu.Lock()
	b.screenWidth, b.screenHeight = width, height
	cfgTsChanged := b.cfgTs != e.ConfigTimestamp
	b.mu.Unlock()
	if !cfgTsChanged {
		return
	}

	logger.Debug("config timestamp changed")
	err := b.refresh()
	if err != nil {
		logger.Warning(err)
		return
	}
	b.mu.Lock()
	var ids []uint32
	for outputId, outputInfo := range b.outputs {
		if outputInfo.Connection == randr.ConnectionConnected {
			ids = append(ids, uint32(outputId))
		}
	}
	b.mu.Unlock()
	for _, id := range ids {
		gateway.Post(Event{Kind: EventModesChanged, DisplayId: id})
	}
}
