// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"context"
	"errors"
	"testing"

	"github.com/linuxdeepin/dde-display-daemon/display1/modes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_arrangeOrigins(t *testing.T) {
	fhd := Rect{Width: 1920, Height: 1080}
	tests := []struct {
		name       string
		r, anchor  Rect
		p          Placement
		want       Point
		wantAnchor Point
	}{
		{"right", fhd, fhd, PlaceRightOf, Point{1920, 0}, Point{0, 0}},
		{"left shifts anchor", fhd, fhd, PlaceLeftOf, Point{0, 0}, Point{1920, 0}},
		{"below", fhd, fhd, PlaceBelow, Point{0, 1080}, Point{0, 0}},
		{"above shifts anchor", Rect{Width: 1280, Height: 1024}, fhd, PlaceAbove,
			Point{0, 0}, Point{0, 1024}},
		{"left of moved anchor", fhd, Rect{X: 2560, Y: 100, Width: 1920, Height: 1080}, PlaceLeftOf,
			Point{640, 100}, Point{2560, 100}},
		{"right of portrait", fhd, Rect{Width: 1080, Height: 1920}, PlaceRightOf,
			Point{1080, 0}, Point{0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, gotAnchor, err := arrangeOrigins(tt.r, tt.anchor, tt.p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantAnchor, gotAnchor)
		})
	}

	var outOfRange *OutOfRangeError
	_, _, err := arrangeOrigins(fhd, Rect{X: 32000, Width: 3840, Height: 2160}, PlaceRightOf)
	assert.True(t, errors.As(err, &outOfRange))
}

func TestParsePlacement(t *testing.T) {
	for in, want := range map[string]Placement{
		"right":    PlaceRightOf,
		"Left-Of":  PlaceLeftOf,
		" above ":  PlaceAbove,
		"below":    PlaceBelow,
		"right-of": PlaceRightOf,
	} {
		p, err := ParsePlacement(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, p, in)
	}
	_, err := ParsePlacement("behind")
	assert.Error(t, err)
	assert.Equal(t, "above", PlaceAbove.String())
}

func TestManagerArrange(t *testing.T) {
	env := newTestEnv(t, testConfig())
	a := env.attach(t, 1, "eDP-1", 0)
	b := env.attach(t, 2, "HDMI-1", 0)
	ctx := context.Background()

	require.NoError(t, env.m.Arrange(ctx, b.Id(), a.Id(), PlaceRightOf))
	assert.Equal(t, Point{0, 0}, a.Origin())
	assert.Equal(t, Point{1920, 0}, b.Origin())
	x, y := env.backend.origin(2)
	assert.Equal(t, [2]int16{1920, 0}, [2]int16{x, y})
	assert.Equal(t, int16(1920), b.Snapshot().X)

	// 放到左边时锚点右移
	require.NoError(t, env.m.Arrange(ctx, b.Id(), a.Id(), PlaceLeftOf))
	assert.Equal(t, Point{1920, 0}, a.Origin())
	assert.Equal(t, Point{0, 0}, b.Origin())

	require.NoError(t, env.m.Arrange(ctx, b.Id(), a.Id(), PlaceBelow))
	assert.Equal(t, Point{1920, 0}, a.Origin())
	assert.Equal(t, Point{1920, 1080}, b.Origin())

	// 位置没有变化时不调用后端
	calls := len(env.backend.originCalls)
	require.NoError(t, env.m.Arrange(ctx, b.Id(), a.Id(), PlaceBelow))
	assert.Len(t, env.backend.originCalls, calls)
}

func TestManagerArrangeRotated(t *testing.T) {
	env := newTestEnv(t, testConfig())
	a := env.attach(t, 1, "eDP-1", modes.CapRotationCapable)
	b := env.attach(t, 2, "HDMI-1", 0)
	ctx := context.Background()

	require.NoError(t, a.SetOrientation(ctx, 90))
	assert.Equal(t, Rect{Width: 1080, Height: 1920}, a.Bounds())
	require.NoError(t, env.m.Arrange(ctx, b.Id(), a.Id(), PlaceRightOf))
	assert.Equal(t, Point{1080, 0}, b.Origin())
}

func TestManagerSwapOrigins(t *testing.T) {
	env := newTestEnv(t, testConfig())
	a := env.attach(t, 1, "eDP-1", 0)
	b := env.attach(t, 2, "HDMI-1", 0)
	ctx := context.Background()
	require.NoError(t, env.m.Arrange(ctx, b.Id(), a.Id(), PlaceRightOf))

	require.NoError(t, env.m.SwapOrigins(ctx, b.Id(), a.Id()))
	assert.Equal(t, Point{1920, 0}, a.Origin())
	assert.Equal(t, Point{0, 0}, b.Origin())
}

func TestManagerSwapOriginsRollback(t *testing.T) {
	env := newTestEnv(t, testConfig())
	a := env.attach(t, 1, "eDP-1", 0)
	b := env.attach(t, 2, "HDMI-1", 0)
	ctx := context.Background()
	require.NoError(t, env.m.Arrange(ctx, b.Id(), a.Id(), PlaceRightOf))

	env.backend.set(func(fb *fakeBackend) {
		fb.originErr = errFake
		fb.originErrId = 2
	})
	err := env.m.SwapOrigins(ctx, a.Id(), b.Id())
	assert.ErrorIs(t, err, errFake)

	// a 已经移动过，需要恢复
	assert.Equal(t, Point{0, 0}, a.Origin())
	assert.Equal(t, Point{1920, 0}, b.Origin())
	x, y := env.backend.origin(1)
	assert.Equal(t, [2]int16{0, 0}, [2]int16{x, y})
}

func TestManagerArrangeRejects(t *testing.T) {
	env := newTestEnv(t, testConfig())
	a := env.attach(t, 1, "eDP-1", modes.CapCanMirror)
	b := env.attach(t, 2, "HDMI-1", modes.CapCanMirror)
	ctx := context.Background()

	var unsupported *UnsupportedOperationError
	assert.True(t, errors.As(env.m.Arrange(ctx, a.Id(), a.Id(), PlaceRightOf), &unsupported))
	assert.True(t, errors.As(env.m.SwapOrigins(ctx, b.Id(), b.Id()), &unsupported))

	var gone *DisplayGoneError
	assert.True(t, errors.As(env.m.Arrange(ctx, a.Id(), 9, PlaceRightOf), &gone))

	require.NoError(t, env.m.SetMirrorMaster(ctx, a.Id(), b.Id()))
	err := env.m.Arrange(ctx, a.Id(), b.Id(), PlaceRightOf)
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, "display is mirrored", unsupported.Reason)
	assert.Empty(t, env.backend.originCalls)
}

func TestDisplaySetOrigin(t *testing.T) {
	env := newTestEnv(t, testConfig())
	d := env.attach(t, 1, "HDMI-1", 0)
	ctx := context.Background()

	var outOfRange *OutOfRangeError
	assert.True(t, errors.As(d.SetOrigin(ctx, -1, 0), &outOfRange))

	require.NoError(t, d.SetOrigin(ctx, 100, 200))
	assert.Equal(t, Point{100, 200}, d.Origin())

	env.backend.set(func(fb *fakeBackend) { fb.originErr = errFake })
	assert.ErrorIs(t, d.SetOrigin(ctx, 0, 0), errFake)
	assert.Equal(t, Point{100, 200}, d.Origin())
}

func TestDisplayRefreshFollowsOrigin(t *testing.T) {
	env := newTestEnv(t, testConfig())
	d := env.attach(t, 1, "HDMI-1", 0)

	// 外部程序移动了显示器
	env.backend.set(func(fb *fakeBackend) {
		fb.outputs[1].raw.X = 1366
		fb.outputs[1].raw.Y = 0
	})
	require.NoError(t, d.RefreshModes(context.Background()))
	assert.Equal(t, Point{1366, 0}, d.Origin())
}
