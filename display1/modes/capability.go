// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package modes

import "strings"

// Capability 是显示器级别的能力集合，在显示器创建时由后端上报的标记一次性计算。
type Capability uint32

const (
	CapBuiltIn Capability = 1 << iota
	CapRetina
	CapHiDPI
	CapSmartDisplay
	CapProjector
	CapTV
	CapAirPlay
	CapWirelessCast
	CapHighResolution
	CapRotationCapable
	CapHasTVModes
	CapHasMultipleRates
	CapHasSafeMode
	CapHasSimulscan
	CapHasZeroRate
	CapCanMirror
	CapSupportsUnderscan
	CapSupportsOverscan
	CapHasHDRModes
	CapHasRotationSensor
)

var capabilityNames = map[Capability]string{
	CapBuiltIn:           "builtin",
	CapRetina:            "retina",
	CapHiDPI:             "hidpi",
	CapSmartDisplay:      "smart-display",
	CapProjector:         "projector",
	CapTV:                "tv",
	CapAirPlay:           "airplay",
	CapWirelessCast:      "wireless-cast",
	CapHighResolution:    "high-resolution",
	CapRotationCapable:   "rotation",
	CapHasTVModes:        "tv-modes",
	CapHasMultipleRates:  "multiple-rates",
	CapHasSafeMode:       "safe-mode",
	CapHasSimulscan:      "simulscan",
	CapHasZeroRate:       "zero-rate",
	CapCanMirror:         "mirror",
	CapSupportsUnderscan: "underscan",
	CapSupportsOverscan:  "overscan",
	CapHasHDRModes:       "hdr",
	CapHasRotationSensor: "rotation-sensor",
}

func (c Capability) Has(cap Capability) bool {
	return c&cap == cap
}

func (c Capability) With(cap Capability) Capability {
	return c | cap
}

func (c Capability) Without(cap Capability) Capability {
	return c &^ cap
}

func (c Capability) String() string {
	var names []string
	for bit := Capability(1); bit != 0 && bit <= CapHasRotationSensor; bit <<= 1 {
		if c.Has(bit) {
			names = append(names, capabilityNames[bit])
		}
	}
	return strings.Join(names, ",")
}

// Names 返回能力名称列表，供 DBus 属性使用。
func (c Capability) Names() []string {
	s := c.String()
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
