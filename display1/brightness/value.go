// SPDX-FileCopyrightText: 2018 - 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package brightness

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// Space 表示亮度值所在的空间。
type Space uint8

const (
	SpaceUser Space = iota
	SpaceLinear
	SpaceDynamic
)

func (s Space) String() string {
	switch s {
	case SpaceUser:
		return "user"
	case SpaceLinear:
		return "linear"
	case SpaceDynamic:
		return "dynamic"
	}
	return fmt.Sprintf("space(%d)", uint8(s))
}

func ParseSpace(name string) (Space, error) {
	switch strings.ToLower(name) {
	case "", "user":
		return SpaceUser, nil
	case "linear":
		return SpaceLinear, nil
	case "dynamic":
		return SpaceDynamic, nil
	}
	return 0, fmt.Errorf("unknown brightness space %q", name)
}

// Value 是 [0,1] 之间的亮度值，带上它所在的空间。
type Value struct {
	V     float64
	Space Space
}

func (v Value) String() string {
	return fmt.Sprintf("%.3f(%s)", v.V, v.Space)
}

// Gamma 是用户感知亮度和线性亮度之间的指数。
const Gamma = 2.2

func Valid(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}

func Clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func UserToLinear(v float64) float64 {
	return Clamp(math.Pow(Clamp(v), Gamma))
}

func LinearToUser(v float64) float64 {
	return Clamp(math.Pow(Clamp(v), 1/Gamma))
}

// ToLinear 把任意空间的值转换为线性亮度，factor 为环境光补偿系数。
func ToLinear(v Value, factor float64) float64 {
	switch v.Space {
	case SpaceUser:
		return UserToLinear(v.V)
	case SpaceDynamic:
		if factor <= 0 {
			return Clamp(v.V)
		}
		return Clamp(v.V / factor)
	}
	return Clamp(v.V)
}

// FromLinear 是 ToLinear 的逆操作。
func FromLinear(linear float64, space Space, factor float64) Value {
	switch space {
	case SpaceUser:
		return Value{V: LinearToUser(linear), Space: space}
	case SpaceDynamic:
		if factor <= 0 {
			factor = 1
		}
		return Value{V: Clamp(linear * factor), Space: space}
	}
	return Value{V: Clamp(linear), Space: SpaceLinear}
}

const (
	ambientSamples   = 15
	ambientMinFactor = 0.4
	ambientMaxFactor = 1.2
	// 超过这个照度认为是户外强光
	ambientMaxLux = 10000
)

// Ambient 对环境光照度做滑动平均，并换算成动态亮度的补偿系数。
type Ambient struct {
	mu      sync.Mutex
	samples [ambientSamples]float64
	n       int
	pos     int
}

func (a *Ambient) Add(lux float64) {
	if math.IsNaN(lux) || lux < 0 {
		lux = 0
	}
	a.mu.Lock()
	a.samples[a.pos] = lux
	a.pos = (a.pos + 1) % ambientSamples
	if a.n < ambientSamples {
		a.n++
	}
	a.mu.Unlock()
}

func (a *Ambient) Average() (float64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.n == 0 {
		return 0, false
	}
	var sum float64
	for i := 0; i < a.n; i++ {
		sum += a.samples[i]
	}
	return sum / float64(a.n), true
}

// Factor 没有采样时返回 1，即不补偿。
func (a *Ambient) Factor() float64 {
	avg, ok := a.Average()
	if !ok {
		return 1
	}
	return luxToFactor(avg)
}

func luxToFactor(lux float64) float64 {
	if lux > ambientMaxLux {
		lux = ambientMaxLux
	}
	ratio := math.Log10(1+lux) / math.Log10(1+ambientMaxLux)
	return ambientMinFactor + (ambientMaxFactor-ambientMinFactor)*ratio
}
