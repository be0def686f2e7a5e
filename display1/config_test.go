// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"testing"
	"time"

	"github.com/linuxdeepin/dde-display-daemon/display1/brightness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigWithDefaults(t *testing.T) {
	cfg := Config{
		MinUsableRate:  -1,
		BrightnessStep: 2,
		PresetFile:     "/tmp/presets.yaml",
	}.withDefaults()

	def := DefaultConfig()
	assert.Equal(t, def.ApplyTimeout, cfg.ApplyTimeout)
	assert.Equal(t, 0.0, cfg.MinUsableRate)
	assert.Equal(t, def.RampRate, cfg.RampRate)
	assert.Equal(t, def.CoalesceWindow, cfg.CoalesceWindow)
	assert.Equal(t, def.EventQueueSize, cfg.EventQueueSize)
	assert.Equal(t, def.BrightnessStep, cfg.BrightnessStep)
	assert.Equal(t, "auto", cfg.BrightnessSetter)
	assert.Equal(t, "/tmp/presets.yaml", cfg.PresetFile)

	cfg = Config{ApplyTimeout: time.Second, MinUsableRate: 50}.withDefaults()
	assert.Equal(t, time.Second, cfg.ApplyTimeout)
	assert.Equal(t, 50.0, cfg.MinUsableRate)
}

func TestConfigBrightnessSetter(t *testing.T) {
	tests := []struct {
		name   string
		setter int
	}{
		{"", brightness.SetterAuto},
		{"auto", brightness.SetterAuto},
		{"gamma", brightness.SetterGamma},
		{"backlight", brightness.SetterBacklight},
	}
	for _, tt := range tests {
		setter, err := Config{BrightnessSetter: tt.name}.brightnessSetter()
		require.NoError(t, err)
		assert.Equal(t, tt.setter, setter)
	}

	_, err := Config{BrightnessSetter: "ddc"}.brightnessSetter()
	assert.Error(t, err)
}

func TestSetConfig(t *testing.T) {
	defer SetConfig(DefaultConfig())

	cfg := DefaultConfig()
	cfg.ApplyTimeout = 0
	cfg.AmbientLight = true
	SetConfig(cfg)

	got := getConfig()
	assert.Equal(t, DefaultConfig().ApplyTimeout, got.ApplyTimeout)
	assert.True(t, got.AmbientLight)
}
