// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/linuxdeepin/go-lib/utils"
	"github.com/linuxdeepin/go-x11-client/ext/randr"
)

// 内置屏的输出名前缀
var builtinOutputPrefixes = []string{"eDP", "LVDS", "DSI"}

func isBuiltinOutputName(name string) bool {
	for _, prefix := range builtinOutputPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// parseEdid 返回厂商代码和型号。
func parseEdid(edid []byte) (string, string) {
	if len(edid) < 16 {
		return "DEFAULT", ""
	}
	var brandInf = edid[8:12]
	var bInf = uint64(brandInf[0])<<8 + uint64(brandInf[1])
	var maInf []byte
	var k uint
	for k = 1; k <= 3; k++ {
		m := byte(((bInf >> (15 - 5*k)) & 31) + 'A' - 1)
		if m >= 'A' && m <= 'Z' {
			maInf = append(maInf, m)
		} else {
			return "DEFAULT", ""
		}
	}

	// 截取显示器型号信息
	if len(edid) < 128 {
		return string(maInf), ""
	}
	modelInf := edid[88:112]
	var moInf []byte
	var isHaveInf = false
	for _, m := range modelInf {
		if m >= '!' && m <= '~' {
			moInf = append(moInf, m)
			isHaveInf = true
		}
		if isHaveInf && (m < '!' || m > '~') {
			break
		}
	}
	if !isHaveInf {
		// 没有型号信息，用厂家内部版本号代替
		for i := 2; i <= 3; i++ {
			moInf = append(moInf, strconv.Itoa(int(brandInf[i]))...)
		}
	}
	return string(maInf), string(moInf)
}

// getOutputUuid 由输出名和 EDID 计算显示器的 UUID，同一台显示器重新插拔后不变。
func getOutputUuid(name, stdName string, edid []byte) string {
	if len(edid) < 128 {
		return name + "||v1"
	}

	id, _ := utils.SumStrMd5(string(edid[:128]))
	if id == "" {
		return name + "||v1"
	}

	if stdName != "" {
		name = "@" + stdName
	}

	return name + "|" + id + "|v1"
}

var regCardOutput = regexp.MustCompile(`^card\d+-.+`)

const sysDrmDir = "/sys/class/drm"

// getStdMonitorName 在 /sys/class/drm 中找到 EDID 相同的连接器，返回内核中的名字。
func getStdMonitorName(edid []byte) (string, error) {
	return getStdMonitorNameIn(sysDrmDir, edid)
}

func getStdMonitorNameIn(dir string, edid []byte) (string, error) {
	// /sys/class/drm/card0-HDMI-A-1
	fileInfos, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	for _, info := range fileInfos {
		name := info.Name()
		if !regCardOutput.MatchString(name) {
			continue
		}
		nameParts := strings.SplitN(name, "-", 2)
		if len(nameParts) != 2 || nameParts[1] == "" {
			continue
		}
		sysEdid, _ := os.ReadFile(filepath.Join(dir, name, "edid"))
		if len(sysEdid) > 0 && edidEqual(edid, sysEdid) {
			return nameParts[1], nil
		}
	}
	return "", errors.New("can not get std name")
}

func edidEqual(edid1, edid2 []byte) bool {
	// edid1 从 X 获取，edid2 从 /sys/class/drm/XXX/edid 获取，后者可能带扩展块。
	if len(edid1) == len(edid2) {
		return bytes.Equal(edid1, edid2)
	}
	if len(edid2) > 128 && len(edid1) == 128 {
		return bytes.Equal(edid1, edid2[:128])
	}
	return false
}

func parseCrtcRotation(origin uint16) (rotation, reflect uint16) {
	rotation = origin & 0xf
	reflect = origin & 0xf0

	switch rotation {
	case 1, 2, 4, 8:
		break
	default:
		//Invalid rotation value
		rotation = 1
	}

	switch reflect {
	case 0, 16, 32, 48:
		break
	default:
		// Invalid reflect value
		reflect = 0
	}

	return
}

// rotationToDegrees 把 randr 的旋转位转成角度。
func rotationToDegrees(rotation uint16) uint16 {
	rotation, _ = parseCrtcRotation(rotation)
	switch rotation {
	case randr.RotationRotate90:
		return 90
	case randr.RotationRotate180:
		return 180
	case randr.RotationRotate270:
		return 270
	}
	return 0
}

func degreesToRotation(degrees uint16) (uint16, bool) {
	switch degrees {
	case 0:
		return randr.RotationRotate0, true
	case 90:
		return randr.RotationRotate90, true
	case 180:
		return randr.RotationRotate180, true
	case 270:
		return randr.RotationRotate270, true
	}
	return 0, false
}

func needSwapWidthHeight(rotation uint16) bool {
	return rotation&randr.RotationRotate90 != 0 ||
		rotation&randr.RotationRotate270 != 0
}

func swapWidthHeightWithRotation(rotation uint16, pWidth, pHeight *uint16) {
	if needSwapWidthHeight(rotation) {
		*pWidth, *pHeight = *pHeight, *pWidth
	}
}
