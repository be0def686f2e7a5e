// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package modes

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Flag 是单个显示模式的能力标记。
type Flag uint32

const (
	FlagNative Flag = 1 << iota
	FlagDefault
	FlagTVOnly
	FlagSimulscan
	FlagSafeMode
	FlagUnsafe
	FlagInterlaced
	FlagDoubleScan
	FlagHDR
)

var flagNames = []struct {
	flag Flag
	name string
}{
	{FlagNative, "native"},
	{FlagDefault, "default"},
	{FlagTVOnly, "tv"},
	{FlagSimulscan, "simulscan"},
	{FlagSafeMode, "safe"},
	{FlagUnsafe, "unsafe"},
	{FlagInterlaced, "interlaced"},
	{FlagDoubleScan, "doublescan"},
	{FlagHDR, "hdr"},
}

func (f Flag) Has(flag Flag) bool {
	return f&flag == flag
}

func (f Flag) String() string {
	var s string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			if s != "" {
				s += "|"
			}
			s += fn.name
		}
	}
	return s
}

// Mode 由操作系统提供的原始模式规范化而来，构造后不可变。
type Mode struct {
	Id          uint32
	Name        string
	Width       uint16
	Height      uint16
	PixelAspect float64
	Rate        float64
	Depth       uint8
	AliasOf     uint32
	Flags       Flag
}

func (m Mode) IsZero() bool {
	return m == Mode{}
}

func (m Mode) Size() Resolution {
	return Resolution{Width: m.Width, Height: m.Height}
}

func (m Mode) IsNative() bool {
	return m.Flags.Has(FlagNative)
}

func (m Mode) IsDefault() bool {
	return m.Flags.Has(FlagDefault)
}

func (m Mode) IsTV() bool {
	return m.Flags.Has(FlagTVOnly)
}

func (m Mode) IsUnsafe() bool {
	return m.Flags.Has(FlagUnsafe)
}

func (m Mode) HasZeroRate() bool {
	return m.Rate == 0
}

func (m Mode) String() string {
	return fmt.Sprintf("%d:%dx%d@%s", m.Id, m.Width, m.Height, FormatRate(m.Rate))
}

// RawMode 是显示后端上报的模式描述，Rate 为 0 时根据时序参数计算。
type RawMode struct {
	Id          uint32
	Name        string
	Width       uint16
	Height      uint16
	PixelAspect float64
	Rate        float64
	DotClock    uint32
	HTotal      uint16
	VTotal      uint16
	Depth       uint8
	AliasOf     uint32
	Flags       Flag
}

// ErrInvalidMode 表示原始模式数据无法规范化。
var ErrInvalidMode = errors.New("invalid raw mode")

func calcModeRate(raw RawMode) float64 {
	vTotal := float64(raw.VTotal)
	if raw.Flags.Has(FlagDoubleScan) {
		/* doublescan doubles the number of lines */
		vTotal *= 2
	}
	if raw.Flags.Has(FlagInterlaced) {
		/* interlace splits the frame into two fields */
		vTotal /= 2
	}

	if raw.HTotal == 0 || vTotal == 0 {
		return 0
	}
	return float64(raw.DotClock) / (float64(raw.HTotal) * vTotal)
}

func toMode(raw RawMode) Mode {
	rate := raw.Rate
	if rate == 0 {
		rate = calcModeRate(raw)
	}
	aspect := raw.PixelAspect
	if aspect == 0 {
		aspect = 1
	}
	return Mode{
		Id:          raw.Id,
		Name:        raw.Name,
		Width:       raw.Width,
		Height:      raw.Height,
		PixelAspect: aspect,
		Rate:        rate,
		Depth:       raw.Depth,
		AliasOf:     raw.AliasOf,
		Flags:       raw.Flags,
	}
}

// Catalog 是一个显示器的全部模式，按面积和刷新率升序排列。
type Catalog []Mode

func (c Catalog) Len() int {
	return len(c)
}

func (c Catalog) Less(i, j int) bool {
	areaI := int(c[i].Width) * int(c[i].Height)
	areaJ := int(c[j].Width) * int(c[j].Height)
	if areaI == areaJ {
		if c[i].Rate == c[j].Rate {
			return c[i].Id < c[j].Id
		}
		return c[i].Rate < c[j].Rate
	}
	return areaI < areaJ
}

func (c Catalog) Swap(i, j int) {
	c[i], c[j] = c[j], c[i]
}

// NewCatalog 规范化原始模式，id 重复或尺寸为 0 时返回错误。
func NewCatalog(raws []RawMode) (Catalog, error) {
	catalog := make(Catalog, 0, len(raws))
	seen := make(map[uint32]struct{}, len(raws))
	for _, raw := range raws {
		if raw.Width == 0 || raw.Height == 0 {
			return nil, fmt.Errorf("%w: mode %d has empty size %dx%d", ErrInvalidMode,
				raw.Id, raw.Width, raw.Height)
		}
		if _, ok := seen[raw.Id]; ok {
			return nil, fmt.Errorf("%w: duplicate mode id %d", ErrInvalidMode, raw.Id)
		}
		seen[raw.Id] = struct{}{}
		catalog = append(catalog, toMode(raw))
	}
	sort.Sort(catalog)
	return catalog, nil
}

func (c Catalog) Find(id uint32) (Mode, bool) {
	for _, mode := range c {
		if mode.Id == id {
			return mode, true
		}
	}
	return Mode{}, false
}

func (c Catalog) Contains(mode Mode) bool {
	m, ok := c.Find(mode.Id)
	return ok && m == mode
}

func (c Catalog) FirstBySize(width, height uint16) (Mode, bool) {
	for _, mode := range c {
		if mode.Width == width && mode.Height == height {
			return mode, true
		}
	}
	return Mode{}, false
}

func (c Catalog) FirstBySizeRate(width, height uint16, rate float64) (Mode, bool) {
	roundedRate := roundRate(rate)
	for _, mode := range c {
		if mode.Width == width && mode.Height == height && roundRate(mode.Rate) == roundedRate {
			return mode, true
		}
	}
	return Mode{}, false
}

func (c Catalog) FirstWithFlag(flag Flag) (Mode, bool) {
	for _, mode := range c {
		if mode.Flags.Has(flag) {
			return mode, true
		}
	}
	return Mode{}, false
}

func modesEqual(v1, v2 []Mode) bool {
	if len(v1) != len(v2) {
		return false
	}
	for i, e1 := range v1 {
		if e1 != v2[i] {
			return false
		}
	}
	return true
}

func roundRate(rate float64) float64 {
	return math.Round(rate * 100)
}

// FormatRate 把刷新率格式化为保留两位小数的字符串。
func FormatRate(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// ParseRate 是 FormatRate 的逆操作，也接受带 "Hz" 后缀的字符串。
func ParseRate(s string) (float64, error) {
	if n := len(s); n > 2 && (s[n-2:] == "Hz" || s[n-2:] == "hz") {
		s = s[:n-2]
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid rate %q", s)
	}
	return v, nil
}
