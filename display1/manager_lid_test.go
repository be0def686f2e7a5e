// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"errors"
	"testing"

	"github.com/linuxdeepin/dde-display-daemon/display1/modes"
	"github.com/stretchr/testify/assert"
)

func Test_shouldHandleLid(t *testing.T) {
	var keys []string
	action := func(value int64, err error) func(string) (int64, error) {
		return func(key string) (int64, error) {
			keys = append(keys, key)
			return value, err
		}
	}

	// 开盖不需要读取配置
	assert.True(t, shouldHandleLid(false, true, action(0, errFake)))
	assert.Empty(t, keys)

	assert.True(t, shouldHandleLid(true, true, action(powerActionDoNothing, nil)))
	assert.Equal(t, dsettingBatteryLidClosedAction, keys[0])
	assert.False(t, shouldHandleLid(true, false, action(1, nil)))
	assert.Equal(t, dsettingLinePowerLidClosedAction, keys[1])
	assert.False(t, shouldHandleLid(true, false, action(0, errors.New("no config"))))
}

func TestLidWatcherSetLidClosed(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.attach(t, 1, "eDP-1", modes.CapBuiltIn)
	g := NewGateway(env.m)

	var changes []bool
	w := &lidWatcher{gateway: g, onChange: func(closed bool) {
		changes = append(changes, closed)
	}}
	w.setLidClosed(false, false)
	assert.False(t, w.IsLidClosed())

	w.setLidClosed(true, true)
	assert.True(t, w.IsLidClosed())
	g.Stop()
	assert.True(t, env.m.IsLidClosed())
	assert.Equal(t, []bool{false, true}, changes)
}
