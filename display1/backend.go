// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"context"

	"github.com/linuxdeepin/dde-display-daemon/display1/modes"
	"github.com/linuxdeepin/dde-display-daemon/display1/presetstore"
)

// DisplayInfo 是后端在发现显示器时上报的静态信息。
type DisplayInfo struct {
	Id      uint32
	AliasId uint32
	// 由 EDID 计算，重新插拔后保持不变
	UUID            string
	Name            string
	Manufacturer    string
	Model           string
	Caps            modes.Capability
	NumberOfPresets int
}

// RawModeSet 是后端上报的全部模式以及当前状态。
type RawModeSet struct {
	Modes         []modes.RawMode
	CurrentModeId uint32
	Orientation   uint16
	// 显示器在屏幕上的位置
	X int16
	Y int16
}

// ApplyResult 描述后端应用模式的结果，Degraded 表示应用了但能力有所下降。
type ApplyResult struct {
	Degraded bool
	Reason   string
}

// Backend 是操作系统的显示枚举和设置接口。可能阻塞的调用都带 ctx。
type Backend interface {
	ListActiveDisplays(ctx context.Context) ([]uint32, error)
	DisplayInfo(ctx context.Context, id uint32) (DisplayInfo, error)
	RawModes(ctx context.Context, id uint32) (RawModeSet, error)
	ApplyMode(ctx context.Context, id uint32, mode modes.Mode) (ApplyResult, error)
	SetOrientation(ctx context.Context, id uint32, rotation uint16) error
	SetUnderscan(ctx context.Context, id uint32, value float64) error
	// masterId 为 0 表示取消镜像
	ConfigureMirror(ctx context.Context, slaveId, masterId uint32, mode modes.Mode) error
	SetOrigin(ctx context.Context, id uint32, x, y int16) error
}

// PowerState 提供合盖状态。
type PowerState interface {
	IsLidClosed() bool
}

// PresetStore 是预设的持久化存储，key 是显示器的 UUID。
type PresetStore interface {
	LoadPresets(key string) ([]presetstore.Preset, error)
	SavePreset(key string, preset presetstore.Preset) error
}
