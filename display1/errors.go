// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"fmt"

	"github.com/linuxdeepin/dde-display-daemon/display1/modes"
)

// InvalidModeError 表示模式不在显示器当前的模式目录中，通常是调用者持有过期的模式。
type InvalidModeError struct {
	DisplayId uint32
	Mode      modes.Mode
	Reason    string
}

func (e *InvalidModeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("display %d: invalid mode %v: %s", e.DisplayId, e.Mode, e.Reason)
	}
	return fmt.Sprintf("display %d: invalid mode %v", e.DisplayId, e.Mode)
}

// UnsupportedOperationError 表示显示器缺少对应的能力。
type UnsupportedOperationError struct {
	DisplayId uint32
	Op        string
	Reason    string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("display %d: %s unsupported: %s", e.DisplayId, e.Op, e.Reason)
}

// DeviceTimeoutError 表示后端调用超过了时限，不会自动重试。
type DeviceTimeoutError struct {
	DisplayId uint32
	Op        string
	Err       error
}

func (e *DeviceTimeoutError) Error() string {
	return fmt.Sprintf("display %d: %s timed out: %v", e.DisplayId, e.Op, e.Err)
}

func (e *DeviceTimeoutError) Unwrap() error {
	return e.Err
}

// DisplayGoneError 表示显示器已经断开。
type DisplayGoneError struct {
	DisplayId uint32
}

func (e *DisplayGoneError) Error() string {
	return fmt.Sprintf("display %d is gone", e.DisplayId)
}

// OutOfRangeError 表示亮度、欠扫描等数值超出有效范围。
type OutOfRangeError struct {
	What  string
	Value float64
	Min   float64
	Max   float64
}

func (e *OutOfRangeError) Error() string {
	return fmt.Sprintf("%s %v out of range [%v, %v]", e.What, e.Value, e.Min, e.Max)
}

// 预设的应用步骤
const (
	PresetStepMode        = "mode"
	PresetStepBrightness  = "brightness"
	PresetStepOrientation = "orientation"
)

// PresetApplyError 表示预设只应用了一部分，Step 是失败的步骤。
type PresetApplyError struct {
	DisplayId uint32
	Preset    string
	Step      string
	Err       error
}

func (e *PresetApplyError) Error() string {
	return fmt.Sprintf("display %d: apply preset %q failed at %s: %v",
		e.DisplayId, e.Preset, e.Step, e.Err)
}

func (e *PresetApplyError) Unwrap() error {
	return e.Err
}
