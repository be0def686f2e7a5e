// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package modes

import (
	"regexp"
	"sort"
)

type ClassifyOptions struct {
	// 低于这个刷新率的模式不出现在用户列表中，0 表示不限制。
	MinUsableRate float64
	// 当前模式总是保留在 List 中。
	CurrentModeId uint32
}

// Snapshot 是一次分类的完整结果，发布后不再修改。
type Snapshot struct {
	Version uint64

	All         Catalog
	Trimmed     []Mode
	HighQuality []Mode
	List        []Mode
	User        []Mode

	TrimmedResolutions     ResolutionIndex
	HighQualityResolutions ResolutionIndex
	ListResolutions        ResolutionIndex
	UserResolutions        ResolutionIndex

	Default     Mode
	Native      Mode
	ScanRates   []float64
	HasZeroRate bool
}

// Classify 根据显示器能力把目录划分为各个列表，结果只依赖输入。
func Classify(catalog Catalog, caps Capability, opts ClassifyOptions) *Snapshot {
	snap := &Snapshot{
		All: catalog,
	}

	var tvModes, normalModes []Mode
	for _, mode := range catalog {
		if mode.IsTV() {
			tvModes = append(tvModes, mode)
			continue
		}
		if mode.IsUnsafe() && caps.Has(CapHasSafeMode) {
			continue
		}
		normalModes = append(normalModes, mode)
	}

	snap.Trimmed = trimModes(normalModes, caps.Has(CapHasMultipleRates))
	snap.User = userModes(snap.Trimmed, opts.MinUsableRate)
	snap.List = filterModes(normalModes, opts.CurrentModeId)
	snap.HighQuality = highQualityModes(snap.List)
	if caps.Has(CapHasTVModes) {
		snap.HighQuality = append(snap.HighQuality, tvModes...)
	}

	snap.Default, _ = catalog.FirstWithFlag(FlagDefault)
	snap.Native, _ = catalog.FirstWithFlag(FlagNative)
	for _, mode := range catalog {
		if mode.HasZeroRate() {
			snap.HasZeroRate = true
			continue
		}
		if !hasRate(snap.ScanRates, mode.Rate) {
			snap.ScanRates = append(snap.ScanRates, mode.Rate)
		}
	}
	sort.Float64s(snap.ScanRates)

	snap.buildResolutions()
	return snap
}

func (s *Snapshot) buildResolutions() {
	s.TrimmedResolutions = BuildIndex(s.Trimmed)
	s.HighQualityResolutions = BuildIndex(s.HighQuality)
	s.ListResolutions = BuildIndex(s.List)
	s.UserResolutions = BuildIndex(s.User)
}

// WithResolutions 返回重新生成分组后的副本，各模式列表共享底层数组。
func (s *Snapshot) WithResolutions(version uint64) *Snapshot {
	next := *s
	next.Version = version
	next.buildResolutions()
	return &next
}

// Empty 表示没有任何模式。
func (s *Snapshot) Empty() bool {
	return s == nil || len(s.All) == 0
}

// better 判断分辨率和刷新率都相同时 a 是否优于 b。
func better(a, b Mode) bool {
	if a.Depth != b.Depth {
		return a.Depth > b.Depth
	}
	aPreferred := a.IsNative() || a.IsDefault()
	bPreferred := b.IsNative() || b.IsDefault()
	if aPreferred != bPreferred {
		return aPreferred
	}
	if (a.AliasOf == 0) != (b.AliasOf == 0) {
		return a.AliasOf == 0
	}
	return a.Id < b.Id
}

func trimModes(modes []Mode, multipleRates bool) []Mode {
	type key struct {
		res  Resolution
		rate float64
	}
	var order []key
	best := make(map[key]Mode)
	for _, mode := range modes {
		k := key{res: mode.Size()}
		if multipleRates {
			k.rate = roundRate(mode.Rate)
		}
		cur, ok := best[k]
		if !ok {
			order = append(order, k)
			best[k] = mode
			continue
		}
		if multipleRates {
			if better(mode, cur) {
				best[k] = mode
			}
			continue
		}
		r1, r2 := roundRate(mode.Rate), roundRate(cur.Rate)
		if r1 > r2 || (r1 == r2 && better(mode, cur)) {
			best[k] = mode
		}
	}

	result := make([]Mode, 0, len(order))
	for _, k := range order {
		result = append(result, best[k])
	}
	sort.Sort(Catalog(result))
	return result
}

func userModes(trimmed []Mode, minRate float64) []Mode {
	result := make([]Mode, 0, len(trimmed))
	for _, mode := range trimmed {
		if !mode.HasZeroRate() && mode.Rate < minRate {
			continue
		}
		if mode.AliasOf != 0 && hasNonAliasOfSize(trimmed, mode.Size()) {
			continue
		}
		result = append(result, mode)
	}
	return result
}

func hasNonAliasOfSize(modes []Mode, res Resolution) bool {
	for _, mode := range modes {
		if mode.AliasOf == 0 && mode.Size() == res {
			return true
		}
	}
	return false
}

// 匹配比如 1024x768i 这样的
var regMode = regexp.MustCompile(`^(\d+)x(\d+)(\D+)$`)

// filterModes 过滤重复的模式，一定要保留 currentId 对应的模式。
func filterModes(modes []Mode, currentId uint32) []Mode {
	result := make([]Mode, 0, len(modes))
	for _, mode := range modes {
		if currentId != 0 && mode.Id == currentId {
			result = append(result, mode)
			continue
		}

		if regMode.MatchString(mode.Name) {
			// 存在名字以数字结尾且大小相同的模式
			_, found := findFirst(modes, func(m Mode) bool {
				return m.Size() == mode.Size() &&
					len(m.Name) > 0 && isDigit(m.Name[len(m.Name)-1])
			})
			if found {
				continue
			}
		}

		// 结果中已有几乎相同的模式时只保留更好的那个
		i := findIndex(result, func(m Mode) bool {
			return m.Size() == mode.Size() && FormatRate(m.Rate) == FormatRate(mode.Rate)
		})
		if i < 0 {
			result = append(result, mode)
		} else if result[i].Id != currentId && better(mode, result[i]) {
			result[i] = mode
		}
	}
	return result
}

func findIndex(modes []Mode, fn func(Mode) bool) int {
	for i, mode := range modes {
		if fn(mode) {
			return i
		}
	}
	return -1
}

func highQualityModes(list []Mode) []Mode {
	maxDepth := make(map[Resolution]uint8)
	for _, mode := range list {
		if mode.Flags.Has(FlagInterlaced) {
			continue
		}
		if mode.Depth > maxDepth[mode.Size()] {
			maxDepth[mode.Size()] = mode.Depth
		}
	}
	result := make([]Mode, 0, len(list))
	for _, mode := range list {
		if mode.Flags.Has(FlagInterlaced) {
			continue
		}
		if mode.Depth == maxDepth[mode.Size()] {
			result = append(result, mode)
		}
	}
	return result
}

func findFirst(modes []Mode, fn func(Mode) bool) (Mode, bool) {
	for _, mode := range modes {
		if fn(mode) {
			return mode, true
		}
	}
	return Mode{}, false
}

func isDigit(b byte) bool {
	return '0' <= b && b <= '9'
}
