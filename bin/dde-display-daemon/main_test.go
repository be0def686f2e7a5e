// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/linuxdeepin/dde-display-daemon/display1"
	"github.com/linuxdeepin/go-lib/log"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_toLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    log.Priority
		wantErr bool
	}{
		{"", log.LevelInfo, false},
		{"DEBUG", log.LevelDebug, false},
		{"warn", log.LevelWarning, false},
		{"no", log.LevelDisable, false},
		{"trace", log.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := toLogLevel(tt.name)
		if tt.wantErr {
			assert.Error(t, err, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func Test_loadConfig(t *testing.T) {
	defer viper.Reset()
	viper.Reset()

	cfgFile := filepath.Join(t.TempDir(), "config.yaml")
	err := os.WriteFile(cfgFile, []byte("apply_timeout: 2s\nmin_usable_rate: 50\npreset_file: /tmp/p.yaml\n"), 0644)
	require.NoError(t, err)
	t.Setenv("DDE_DISPLAY_BRIGHTNESS_SETTER", "gamma")

	_options.cfgFile = cfgFile
	defer func() { _options.cfgFile = "" }()
	initConfig()

	cfg, err := loadConfig()
	require.NoError(t, err)
	def := display1.DefaultConfig()
	assert.Equal(t, 2*time.Second, cfg.ApplyTimeout)
	assert.Equal(t, 50.0, cfg.MinUsableRate)
	assert.Equal(t, "/tmp/p.yaml", cfg.PresetFile)
	assert.Equal(t, "gamma", cfg.BrightnessSetter)
	assert.Equal(t, def.EventQueueSize, cfg.EventQueueSize)
	assert.Equal(t, def.CoalesceWindow, cfg.CoalesceWindow)
}

func Test_configDirs(t *testing.T) {
	dirs := configDirs()
	require.Len(t, dirs, 2)
	assert.Equal(t, systemConfigDir, dirs[1])
}
