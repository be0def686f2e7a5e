// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package modes

import (
	"fmt"
	"sort"
)

type Resolution struct {
	Width  uint16
	Height uint16
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

func (r Resolution) area() int {
	return int(r.Width) * int(r.Height)
}

// ResolutionGroup 是同一分辨率下的全部模式及可用刷新率（不含 0，降序）。
type ResolutionGroup struct {
	Resolution
	Modes     []Mode
	ScanRates []float64
}

// ResolutionIndex 按分辨率对模式分组，保持模式列表中的首次出现顺序。
type ResolutionIndex struct {
	groups []ResolutionGroup
	byRes  map[Resolution]int
}

// BuildIndex 是纯函数，对同一个列表重复调用得到相等的结果。
func BuildIndex(modes []Mode) ResolutionIndex {
	idx := ResolutionIndex{
		byRes: make(map[Resolution]int),
	}
	for _, mode := range modes {
		res := mode.Size()
		i, ok := idx.byRes[res]
		if !ok {
			i = len(idx.groups)
			idx.byRes[res] = i
			idx.groups = append(idx.groups, ResolutionGroup{Resolution: res})
		}
		group := &idx.groups[i]
		group.Modes = append(group.Modes, mode)
		if mode.HasZeroRate() || hasRate(group.ScanRates, mode.Rate) {
			continue
		}
		group.ScanRates = append(group.ScanRates, mode.Rate)
	}
	for i := range idx.groups {
		rates := idx.groups[i].ScanRates
		sort.Sort(sort.Reverse(sort.Float64Slice(rates)))
	}
	return idx
}

func hasRate(rates []float64, rate float64) bool {
	r := roundRate(rate)
	for _, v := range rates {
		if roundRate(v) == r {
			return true
		}
	}
	return false
}

func (idx ResolutionIndex) Len() int {
	return len(idx.groups)
}

// Groups 返回分组的副本。
func (idx ResolutionIndex) Groups() []ResolutionGroup {
	result := make([]ResolutionGroup, len(idx.groups))
	copy(result, idx.groups)
	return result
}

func (idx ResolutionIndex) Resolutions() []Resolution {
	result := make([]Resolution, len(idx.groups))
	for i, group := range idx.groups {
		result[i] = group.Resolution
	}
	return result
}

func (idx ResolutionIndex) Lookup(res Resolution) (ResolutionGroup, bool) {
	i, ok := idx.byRes[res]
	if !ok {
		return ResolutionGroup{}, false
	}
	return idx.groups[i], true
}

// ModeFor 按分辨率和刷新率查找模式，刷新率为 0 的模式不参与匹配。
func (idx ResolutionIndex) ModeFor(res Resolution, rate float64) (Mode, bool) {
	group, ok := idx.Lookup(res)
	if !ok || rate == 0 {
		return Mode{}, false
	}
	r := roundRate(rate)
	for _, mode := range group.Modes {
		if !mode.HasZeroRate() && roundRate(mode.Rate) == r {
			return mode, true
		}
	}
	return Mode{}, false
}

func (idx ResolutionIndex) ModesForResolution(mode Mode) []Mode {
	group, ok := idx.Lookup(mode.Size())
	if !ok {
		return nil
	}
	result := make([]Mode, len(group.Modes))
	copy(result, group.Modes)
	return result
}

func (idx ResolutionIndex) ModeWithScanRate(mode Mode, rate float64) (Mode, bool) {
	return idx.ModeFor(mode.Size(), rate)
}

// Largest 返回面积最大的分辨率。
func (idx ResolutionIndex) Largest() (Resolution, bool) {
	if len(idx.groups) == 0 {
		return Resolution{}, false
	}
	maxRes := idx.groups[0].Resolution
	for _, group := range idx.groups[1:] {
		if group.area() > maxRes.area() {
			maxRes = group.Resolution
		}
	}
	return maxRes, true
}

func (idx ResolutionIndex) Equal(other ResolutionIndex) bool {
	if len(idx.groups) != len(other.groups) {
		return false
	}
	for i, g := range idx.groups {
		o := other.groups[i]
		if g.Resolution != o.Resolution || !modesEqual(g.Modes, o.Modes) ||
			len(g.ScanRates) != len(o.ScanRates) {
			return false
		}
		for j, rate := range g.ScanRates {
			if rate != o.ScanRates[j] {
				return false
			}
		}
	}
	return true
}
