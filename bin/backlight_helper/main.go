// SPDX-FileCopyrightText: 2018 - 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/linuxdeepin/go-lib/dbusutil"
	"github.com/linuxdeepin/go-lib/log"
	"golang.org/x/xerrors"
)

// 以 root 运行的系统总线助手，dde-display-daemon 的 backlight 亮度方式通过它写 sysfs。

const (
	dbusServiceName = "org.deepin.dde.BacklightHelper1"
	dbusPath        = "/org/deepin/dde/BacklightHelper1"
	dbusInterface   = "org.deepin.dde.BacklightHelper1"
)

const (
	DisplayBacklight byte = iota + 1
	KeyboardBacklight
)

const autoQuitDelay = 30 * time.Second

var logger = log.NewLogger("backlight_helper")

type Manager struct {
	service *dbusutil.Service
	sysDir  string
}

func newManager(service *dbusutil.Service) *Manager {
	return &Manager{
		service: service,
		sysDir:  "/sys/class",
	}
}

func (*Manager) GetInterfaceName() string {
	return dbusInterface
}

func (m *Manager) GetExportedMethods() dbusutil.ExportedMethods {
	return dbusutil.ExportedMethods{
		{
			Name:   "SetBrightness",
			Fn:     m.SetBrightness,
			InArgs: []string{"type", "name", "value"},
		},
		{
			Name:    "GetMaxBrightness",
			Fn:      m.GetMaxBrightness,
			InArgs:  []string{"type", "name"},
			OutArgs: []string{"value"},
		},
	}
}

func (m *Manager) delayAutoQuit() {
	if m.service != nil {
		m.service.DelayAutoQuit()
	}
}

// SetBrightness 写入原始亮度值，超出 [0, max_brightness] 的值被截断。
func (m *Manager) SetBrightness(type0 byte, name string, value int32) *dbus.Error {
	m.delayAutoQuit()
	err := m.setBrightness(type0, name, value)
	if err != nil {
		logger.Warning(err)
	}
	return dbusutil.ToError(err)
}

func (m *Manager) GetMaxBrightness(type0 byte, name string) (int32, *dbus.Error) {
	m.delayAutoQuit()
	max, err := m.maxBrightness(type0, name)
	return max, dbusutil.ToError(err)
}

func (m *Manager) setBrightness(type0 byte, name string, value int32) error {
	dir, err := m.controllerDir(type0, name)
	if err != nil {
		return err
	}
	max, err := m.maxBrightness(type0, name)
	if err != nil {
		return err
	}
	if value < 0 {
		value = 0
	} else if value > max {
		value = max
	}

	filename := filepath.Join(dir, "brightness")
	fh, err := os.OpenFile(filename, os.O_WRONLY, 0)
	if err != nil {
		return xerrors.Errorf("open %s: %w", filename, err)
	}
	defer fh.Close()

	_, err = fh.WriteString(strconv.Itoa(int(value)))
	if err != nil {
		return xerrors.Errorf("write %s: %w", filename, err)
	}
	logger.Debugf("set %s brightness %d", name, value)
	return nil
}

func (m *Manager) maxBrightness(type0 byte, name string) (int32, error) {
	dir, err := m.controllerDir(type0, name)
	if err != nil {
		return 0, err
	}
	content, err := os.ReadFile(filepath.Join(dir, "max_brightness"))
	if err != nil {
		return 0, err
	}
	max, err := strconv.ParseInt(strings.TrimSpace(string(content)), 10, 32)
	if err != nil || max <= 0 {
		return 0, fmt.Errorf("invalid max_brightness %q of %s", strings.TrimSpace(string(content)), name)
	}
	return int32(max), nil
}

func (m *Manager) controllerDir(type0 byte, name string) (string, error) {
	var subsystem string
	switch type0 {
	case DisplayBacklight:
		subsystem = "backlight"
	case KeyboardBacklight:
		subsystem = "leds"
	default:
		return "", fmt.Errorf("invalid type %d", type0)
	}

	if strings.ContainsRune(name, '/') || name == "" ||
		name == "." || name == ".." {
		return "", fmt.Errorf("invalid name %q", name)
	}
	return filepath.Join(m.sysDir, subsystem, name), nil
}

func main() {
	service, err := dbusutil.NewSystemService()
	if err != nil {
		logger.Fatal("failed to new system service:", err)
	}
	m := newManager(service)

	err = service.Export(dbusPath, m)
	if err != nil {
		logger.Fatal("failed to export:", err)
	}
	err = service.RequestName(dbusServiceName)
	if err != nil {
		logger.Fatal("failed to request name:", err)
	}
	service.SetAutoQuitHandler(autoQuitDelay, nil)
	service.Wait()
}
