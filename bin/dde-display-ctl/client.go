// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"sort"

	"github.com/godbus/dbus/v5"
)

const (
	dbusServiceName      = "org.deepin.dde.Display1"
	dbusInterface        = dbusServiceName
	dbusPath             = "/org/deepin/dde/Display1"
	dbusInterfaceMonitor = dbusInterface + ".Monitor"
)

type modeInfo struct {
	Id     uint32
	Width  uint16
	Height uint16
	Rate   float64
	Flags  uint32
}

type presetInfo struct {
	Index       int32
	Name        string
	Width       uint16
	Height      uint16
	Rate        float64
	Brightness  float64
	Orientation uint16
	Default     bool
}

// monitorInfo 是显示器对象属性的本地副本，用于 list 输出。
type monitorInfo struct {
	Path         dbus.ObjectPath `json:"path"`
	ID           uint32          `json:"id"`
	Name         string          `json:"name"`
	Manufacturer string          `json:"manufacturer"`
	Model        string          `json:"model"`
	State        string          `json:"state"`
	Capabilities []string        `json:"capabilities"`
	CurrentMode  modeInfo        `json:"current_mode"`
	Modes        []modeInfo      `json:"modes"`
	Rotation     uint16          `json:"rotation"`
	X            int16           `json:"x"`
	Y            int16           `json:"y"`
	Brightness   float64         `json:"brightness"`
	MirrorMaster uint32          `json:"mirror_master"`
	ActivePreset string          `json:"active_preset"`
}

type client struct {
	conn *dbus.Conn
}

func newClient() (*client, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect session bus: %w", err)
	}
	return &client{conn: conn}, nil
}

func (c *client) manager() dbus.BusObject {
	return c.conn.Object(dbusServiceName, dbusPath)
}

func (c *client) callManager(method string, args ...interface{}) *dbus.Call {
	return c.manager().Call(dbusInterface+"."+method, 0, args...)
}

func (c *client) listPaths() ([]dbus.ObjectPath, error) {
	var paths []dbus.ObjectPath
	err := c.callManager("ListDisplays").Store(&paths)
	if err != nil {
		return nil, err
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })
	return paths, nil
}

// monitor 按 id、UUID、名称或 builtin 查找显示器。
func (c *client) monitor(filter string) (*monitorObj, error) {
	var path dbus.ObjectPath
	err := c.callManager("FindDisplay", filter).Store(&path)
	if err != nil {
		return nil, err
	}
	return &monitorObj{obj: c.conn.Object(dbusServiceName, path), path: path}, nil
}

type monitorObj struct {
	obj  dbus.BusObject
	path dbus.ObjectPath
}

func (m *monitorObj) call(method string, args ...interface{}) *dbus.Call {
	return m.obj.Call(dbusInterfaceMonitor+"."+method, 0, args...)
}

func (m *monitorObj) getProp(name string, value interface{}) error {
	variant, err := m.obj.GetProperty(dbusInterfaceMonitor + "." + name)
	if err != nil {
		return err
	}
	return dbus.Store([]interface{}{variant.Value()}, value)
}

func (m *monitorObj) info() (*monitorInfo, error) {
	info := &monitorInfo{Path: m.path}
	props := []struct {
		name  string
		value interface{}
	}{
		{"ID", &info.ID},
		{"Name", &info.Name},
		{"Manufacturer", &info.Manufacturer},
		{"Model", &info.Model},
		{"State", &info.State},
		{"Capabilities", &info.Capabilities},
		{"CurrentMode", &info.CurrentMode},
		{"Modes", &info.Modes},
		{"Rotation", &info.Rotation},
		{"X", &info.X},
		{"Y", &info.Y},
		{"Brightness", &info.Brightness},
		{"MirrorMaster", &info.MirrorMaster},
		{"ActivePreset", &info.ActivePreset},
	}
	for _, p := range props {
		err := m.getProp(p.name, p.value)
		if err != nil {
			return nil, fmt.Errorf("get property %s of %s: %w", p.name, m.path, err)
		}
	}
	return info, nil
}
