// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linuxdeepin/dde-display-daemon/display1/brightness"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrightnessOutOfRange(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.attach(t, 1, "eDP-1", 0)
	bc := env.m.Brightness()
	ctx := context.Background()

	require.NoError(t, bc.SetLinearBrightness(ctx, 1, 0.4))
	for _, v := range []float64{1.5, -0.1} {
		err := bc.SetUserBrightness(ctx, 1, v)
		var outOfRange *OutOfRangeError
		require.True(t, errors.As(err, &outOfRange))
		assert.Equal(t, v, outOfRange.Value)
	}
	_, err := bc.SetBrightnessSmooth(ctx, 1, 1.5, time.Second)
	var outOfRange *OutOfRangeError
	assert.True(t, errors.As(err, &outOfRange))

	v, err := bc.GetLinearBrightness(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.4, v)
	assert.Len(t, env.bs.getWrites(), 1)
}

func TestBrightnessLinearRoundTrip(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.attach(t, 1, "eDP-1", 0)
	bc := env.m.Brightness()
	ctx := context.Background()

	for i := 0; i <= 20; i++ {
		v := float64(i) / 20
		require.NoError(t, bc.SetLinearBrightness(ctx, 1, v))
		got, err := bc.GetLinearBrightness(ctx, 1)
		require.NoError(t, err)
		assert.InDelta(t, v, got, 1e-9)

		// 绕过缓存从服务读回
		env.m.Brightness().get(1).invalidate()
		got, err = bc.GetLinearBrightness(ctx, 1)
		require.NoError(t, err)
		assert.InDelta(t, v, got, 1e-9)
	}
}

func TestBrightnessSpaces(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.attach(t, 1, "eDP-1", 0)
	bc := env.m.Brightness()
	ctx := context.Background()

	require.NoError(t, bc.SetUserBrightness(ctx, 1, 0.5))
	linear, err := bc.GetLinearBrightness(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, brightness.UserToLinear(0.5), linear, 1e-9)

	dynamic, err := bc.GetDynamicBrightness(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, linear, dynamic, 1e-9)

	user, err := bc.GetBrightness(ctx, 1, brightness.SpaceUser)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, user, 1e-9)
}

func TestBrightnessUnsupported(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.bs.setCaps(brightness.Capabilities{})
	env.attach(t, 1, "HDMI-1", 0)
	bc := env.m.Brightness()

	assert.False(t, bc.CanChangeBrightness(context.Background(), 1))
	var unsupported *UnsupportedOperationError
	assert.True(t, errors.As(bc.SetUserBrightness(context.Background(), 1, 0.5), &unsupported))
	assert.Empty(t, env.bs.getWrites())
}

func TestBrightnessCapabilitiesCached(t *testing.T) {
	env := newTestEnv(t, testConfig())
	d := env.attach(t, 1, "eDP-1", 0)
	bc := env.m.Brightness()
	ctx := context.Background()

	assert.True(t, bc.CanChangeBrightness(ctx, 1))
	assert.False(t, bc.HasAmbientLightCompensation(ctx, 1))
	assert.Equal(t, 1, env.bs.getCapsCalls())

	env.bs.setCaps(brightness.Capabilities{CanChangeBrightness: true, HasAmbientLightCompensation: true})
	assert.False(t, bc.HasAmbientLightCompensation(ctx, 1))

	require.NoError(t, d.RefreshModes(ctx))
	assert.True(t, bc.HasAmbientLightCompensation(ctx, 1))
	assert.Equal(t, 2, env.bs.getCapsCalls())
}

func TestBrightnessSmooth(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.attach(t, 1, "eDP-1", 0)
	bc := env.m.Brightness()
	ctx := context.Background()
	require.NoError(t, bc.SetLinearBrightness(ctx, 1, 0.2))

	changed := make(chan brightness.Value, 4)
	env.m.ConnectBrightnessChanged(func(id uint32, v brightness.Value) {
		changed <- v
	})

	tr, err := bc.SetBrightnessSmooth(ctx, 1, 0.8, 100*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, tr.Wait(ctx))

	writes := env.bs.getWrites()[1:]
	require.NotEmpty(t, writes)
	for i := 1; i < len(writes); i++ {
		assert.GreaterOrEqual(t, writes[i], writes[i-1])
	}
	assert.Equal(t, 0.8, writes[len(writes)-1])

	select {
	case v := <-changed:
		assert.Equal(t, brightness.Value{V: 0.8, Space: brightness.SpaceLinear}, v)
	case <-time.After(time.Second):
		t.Fatal("no brightness changed notification")
	}
}

func TestBrightnessSmoothCancelledByNewerSet(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.attach(t, 1, "eDP-1", 0)
	bc := env.m.Brightness()
	ctx := context.Background()
	require.NoError(t, bc.SetLinearBrightness(ctx, 1, 0))

	tr, err := bc.SetBrightnessSmooth(ctx, 1, 1, 5*time.Second)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	require.NoError(t, bc.SetLinearBrightness(ctx, 1, 0.3))
	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("ramp not cancelled")
	}
	assert.ErrorIs(t, tr.Err(), context.Canceled)

	// 渐变不能覆盖较新的值
	time.Sleep(50 * time.Millisecond)
	writes := env.bs.getWrites()
	assert.Equal(t, 0.3, writes[len(writes)-1])
	v, err := bc.GetLinearBrightness(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.3, v)
}

func TestBrightnessSmoothConcurrent(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.attach(t, 1, "eDP-1", 0)
	bc := env.m.Brightness()
	ctx := context.Background()
	require.NoError(t, bc.SetLinearBrightness(ctx, 1, 0.2))

	const n = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		trs   = make([]*brightness.Transition, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tr, err := bc.SetBrightnessSmooth(ctx, 1, 1, 500*time.Millisecond)
			assert.NoError(t, err)
			trs[i] = tr
		}(i)
	}
	close(start)
	wg.Wait()

	// 只有最后登记的渐变继续运行
	active := bc.get(1).ramp.Load()
	require.NotNil(t, active)
	assert.Eventually(t, func() bool {
		done := 0
		for _, tr := range trs {
			select {
			case <-tr.Done():
				done++
			default:
			}
		}
		return done == n-1
	}, time.Second, 5*time.Millisecond)
	for _, tr := range trs {
		if tr != active {
			assert.ErrorIs(t, tr.Err(), context.Canceled)
		}
	}

	require.NoError(t, active.Wait(ctx))
	writes := env.bs.getWrites()[1:]
	require.NotEmpty(t, writes)
	for i := 1; i < len(writes); i++ {
		assert.GreaterOrEqual(t, writes[i], writes[i-1], "write %d", i)
	}
	assert.Equal(t, 1.0, writes[len(writes)-1])
}

func TestBrightnessSmoothReplacesRamp(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.attach(t, 1, "eDP-1", 0)
	bc := env.m.Brightness()
	ctx := context.Background()
	require.NoError(t, bc.SetLinearBrightness(ctx, 1, 0.5))

	first, err := bc.SetBrightnessSmooth(ctx, 1, 1, 5*time.Second)
	require.NoError(t, err)
	second, err := bc.SetBrightnessSmooth(ctx, 1, 0.1, 50*time.Millisecond)
	require.NoError(t, err)

	assert.ErrorIs(t, first.Wait(ctx), context.Canceled)
	require.NoError(t, second.Wait(ctx))
	writes := env.bs.getWrites()
	assert.Equal(t, 0.1, writes[len(writes)-1])
}

func TestBrightnessExternalChangeCoalesced(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.attach(t, 1, "eDP-1", 0)
	bc := env.m.Brightness()
	ctx := context.Background()
	require.NoError(t, bc.SetLinearBrightness(ctx, 1, 0.5))

	var mu sync.Mutex
	var got []brightness.Value
	env.m.ConnectBrightnessChanged(func(id uint32, v brightness.Value) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	for _, v := range []float64{0.6, 0.7, 0.8} {
		env.bs.external(1, v)
	}
	// 缓存立即失效
	v, err := bc.GetLinearBrightness(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 0.8, v)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, 0.8, got[0].V)
}

func TestChangeBrightness(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.attach(t, 1, "eDP-1", 0)
	bc := env.m.Brightness()
	ctx := context.Background()

	require.NoError(t, bc.SetUserBrightness(ctx, 1, 0.5))
	require.NoError(t, bc.ChangeBrightness(ctx, true))
	v, err := bc.GetUserBrightness(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.55, v, 1e-9)

	require.NoError(t, bc.SetUserBrightness(ctx, 1, 1))
	require.NoError(t, bc.ChangeBrightness(ctx, true))
	v, err = bc.GetUserBrightness(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	require.NoError(t, bc.ChangeBrightness(ctx, false))
	v, err = bc.GetUserBrightness(ctx, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, v, 1e-9)
}

func TestBrightnessDisplayGone(t *testing.T) {
	env := newTestEnv(t, testConfig())
	env.attach(t, 1, "eDP-1", 0)
	env.m.Detach(1)

	var gone *DisplayGoneError
	_, err := env.m.Brightness().GetUserBrightness(context.Background(), 1)
	assert.True(t, errors.As(err, &gone))
}
