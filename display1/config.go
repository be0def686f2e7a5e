// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"fmt"
	"time"

	"github.com/linuxdeepin/dde-display-daemon/display1/brightness"
)

const (
	MinUnderscan = 0.0
	MaxUnderscan = 1.0

	defaultApplyTimeout   = 5 * time.Second
	defaultMinUsableRate  = 23.9
	defaultEventQueueSize = 32
	defaultBrightnessStep = 0.05
)

// Config 是显示模块的配置，由 daemon 从配置文件和命令行读入。
type Config struct {
	// 后端调用的时限
	ApplyTimeout time.Duration `mapstructure:"apply_timeout" yaml:"apply_timeout"`
	// 低于这个刷新率的模式不出现在用户模式列表中
	MinUsableRate float64 `mapstructure:"min_usable_rate" yaml:"min_usable_rate"`
	// 平滑调节亮度时每秒最多写入的次数
	RampRate float64 `mapstructure:"ramp_rate" yaml:"ramp_rate"`
	// 合并外部亮度变化通知的窗口
	CoalesceWindow time.Duration `mapstructure:"coalesce_window" yaml:"coalesce_window"`
	EventQueueSize int           `mapstructure:"event_queue_size" yaml:"event_queue_size"`
	BrightnessStep float64       `mapstructure:"brightness_step" yaml:"brightness_step"`
	PresetFile     string        `mapstructure:"preset_file" yaml:"preset_file"`
	// auto, gamma, backlight
	BrightnessSetter string `mapstructure:"brightness_setter" yaml:"brightness_setter"`
	AmbientLight     bool   `mapstructure:"ambient_light" yaml:"ambient_light"`
}

func DefaultConfig() Config {
	return Config{
		ApplyTimeout:     defaultApplyTimeout,
		MinUsableRate:    defaultMinUsableRate,
		RampRate:         brightness.DefaultRampRate,
		CoalesceWindow:   brightness.DefaultCoalesceWindow,
		EventQueueSize:   defaultEventQueueSize,
		BrightnessStep:   defaultBrightnessStep,
		BrightnessSetter: "auto",
	}
}

// withDefaults 用默认值补齐未设置的字段。
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = def.ApplyTimeout
	}
	if c.MinUsableRate < 0 {
		c.MinUsableRate = 0
	}
	if c.RampRate <= 0 {
		c.RampRate = def.RampRate
	}
	if c.CoalesceWindow <= 0 {
		c.CoalesceWindow = def.CoalesceWindow
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = def.EventQueueSize
	}
	if c.BrightnessStep <= 0 || c.BrightnessStep > 1 {
		c.BrightnessStep = def.BrightnessStep
	}
	if c.BrightnessSetter == "" {
		c.BrightnessSetter = def.BrightnessSetter
	}
	return c
}

func (c Config) brightnessSetter() (int, error) {
	switch c.BrightnessSetter {
	case "", "auto":
		return brightness.SetterAuto, nil
	case "gamma":
		return brightness.SetterGamma, nil
	case "backlight":
		return brightness.SetterBacklight, nil
	}
	return 0, fmt.Errorf("invalid brightness setter %q", c.BrightnessSetter)
}
