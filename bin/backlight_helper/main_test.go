// SPDX-FileCopyrightText: 2018 - 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, max string) (*Manager, string) {
	sysDir := t.TempDir()
	dir := filepath.Join(sysDir, "backlight", "intel_backlight")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "max_brightness"), []byte(max+"\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "brightness"), []byte("0\n"), 0644))
	return &Manager{sysDir: sysDir}, filepath.Join(dir, "brightness")
}

func TestManager_GetInterfaceName(t *testing.T) {
	m := Manager{}
	assert.Equal(t, dbusInterface, m.GetInterfaceName())
}

func Test_controllerDir(t *testing.T) {
	m := &Manager{sysDir: "/sys/class"}
	tests := []struct {
		name    string
		type0   byte
		ctrl    string
		want    string
		wantErr bool
	}{
		{"backlight", DisplayBacklight, "xx", "/sys/class/backlight/xx", false},
		{"keyboard", KeyboardBacklight, "xx", "/sys/class/leds/xx", false},
		{"wrong type", 3, "xx", "", true},
		{"slash", DisplayBacklight, "xx/", "", true},
		{"dotdot", DisplayBacklight, "..", "", true},
		{"empty", DisplayBacklight, "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.controllerDir(tt.type0, tt.ctrl)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManager_SetBrightness(t *testing.T) {
	m, file := newTestManager(t, "1000")

	assert.Nil(t, m.SetBrightness(DisplayBacklight, "intel_backlight", 420))
	content, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "420", string(content))

	// 截断到 max_brightness
	assert.Nil(t, m.SetBrightness(DisplayBacklight, "intel_backlight", 5000))
	content, err = os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "1000", string(content))

	assert.NotNil(t, m.SetBrightness(DisplayBacklight, "acpi_video0", 1))
}

func TestManager_GetMaxBrightness(t *testing.T) {
	m, _ := newTestManager(t, "937")
	max, dbusErr := m.GetMaxBrightness(DisplayBacklight, "intel_backlight")
	assert.Nil(t, dbusErr)
	assert.Equal(t, int32(937), max)

	m, _ = newTestManager(t, "zero")
	_, dbusErr = m.GetMaxBrightness(DisplayBacklight, "intel_backlight")
	assert.NotNil(t, dbusErr)
}
