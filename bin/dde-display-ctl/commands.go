// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List displays and their modes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		paths, err := c.listPaths()
		if err != nil {
			return err
		}
		var infos []*monitorInfo
		for _, path := range paths {
			mon := &monitorObj{obj: c.conn.Object(dbusServiceName, path), path: path}
			info, err := mon.info()
			if err != nil {
				return err
			}
			infos = append(infos, info)
		}
		if viper.GetBool("json") {
			return outputJSON(os.Stdout, infos)
		}
		for _, info := range infos {
			printMonitor(os.Stdout, info)
		}
		return nil
	},
}

var modeCmd = &cobra.Command{
	Use:   "mode <display> <mode>",
	Short: "Set display mode",
	Long: `Set the mode of a display. Mode can be specified as:
  - Mode id: 87
  - Resolution: 1920x1080
  - With refresh rate: 1920x1080@60`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, err := parseModeSpec(args[1])
		if err != nil {
			return err
		}
		mon, err := findMonitor(args[0])
		if err != nil {
			return err
		}
		if spec.id != 0 {
			return mon.call("SetMode", spec.id).Err
		}
		err = mon.call("SetModeBySize", spec.width, spec.height).Err
		if err != nil {
			return err
		}
		if spec.rate > 0 {
			return mon.call("SetRefreshRate", spec.rate).Err
		}
		return nil
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate <display> <0|90|180|270>",
	Short: "Rotate display",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		degrees, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid rotation %q", args[1])
		}
		mon, err := findMonitor(args[0])
		if err != nil {
			return err
		}
		return mon.call("SetRotation", uint16(degrees)).Err
	},
}

var (
	brightnessSpace    string
	brightnessDuration uint32
)

var brightnessCmd = &cobra.Command{
	Use:   "brightness (<display> [value] | + | -)",
	Short: "Get or set display brightness",
	Long: `Without a value, print the brightness of the display.
Value is a fraction like 0.5 or a percentage like 50%.
"+" and "-" raise or lower the brightness of all displays by one step.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if args[0] == "+" || args[0] == "-" {
			c, err := newClient()
			if err != nil {
				return err
			}
			return c.callManager("ChangeBrightness", args[0] == "+").Err
		}
		mon, err := findMonitor(args[0])
		if err != nil {
			return err
		}
		if len(args) == 1 {
			var value float64
			err = mon.call("GetBrightness", brightnessSpace).Store(&value)
			if err != nil {
				return err
			}
			fmt.Println(strconv.FormatFloat(value, 'f', 3, 64))
			return nil
		}
		value, err := parseBrightness(args[1])
		if err != nil {
			return err
		}
		if brightnessDuration > 0 {
			return mon.call("SetBrightnessSmooth", value, brightnessDuration).Err
		}
		return mon.call("SetBrightness", brightnessSpace, value).Err
	},
}

var presetCmd = &cobra.Command{
	Use:   "preset",
	Short: "Manage display presets",
}

var presetListCmd = &cobra.Command{
	Use:   "list <display>",
	Short: "List presets of display",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mon, err := findMonitor(args[0])
		if err != nil {
			return err
		}
		var presets []presetInfo
		err = mon.call("ListPresets").Store(&presets)
		if err != nil {
			return err
		}
		if viper.GetBool("json") {
			return outputJSON(os.Stdout, presets)
		}
		for _, p := range presets {
			mark := " "
			if p.Default {
				mark = "*"
			}
			fmt.Printf("%s [%d] %-12s %dx%d@%.2f brightness %.2f rotation %d\n", mark, p.Index, p.Name,
				p.Width, p.Height, p.Rate, p.Brightness, p.Orientation)
		}
		return nil
	},
}

var presetApplyCmd = &cobra.Command{
	Use:   "apply <display> <name|index>",
	Short: "Apply preset",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mon, err := findMonitor(args[0])
		if err != nil {
			return err
		}
		return mon.call("SetActivePreset", args[1]).Err
	},
}

var presetDefault bool

var presetSaveCmd = &cobra.Command{
	Use:   "save <display> <index> <name>",
	Short: "Save current state of display as preset",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := strconv.ParseInt(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid preset index %q", args[1])
		}
		mon, err := findMonitor(args[0])
		if err != nil {
			return err
		}
		return mon.call("SavePreset", int32(index), args[2], presetDefault).Err
	},
}

var mirrorCmd = &cobra.Command{
	Use:   "mirror <display> [<source>|off]",
	Short: "Mirror display to source display, or stop mirroring",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		slave, err := monitorId(c, args[0])
		if err != nil {
			return err
		}
		var master uint32
		if args[1] != "off" {
			master, err = monitorId(c, args[1])
			if err != nil {
				return err
			}
		}
		return c.callManager("SetMirror", slave, master).Err
	},
}

var arrangeCmd = &cobra.Command{
	Use:   "arrange <display> <left|right|above|below> <anchor>",
	Short: "Place display next to anchor display",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		placement, err := parsePlacement(args[1])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		id, err := monitorId(c, args[0])
		if err != nil {
			return err
		}
		anchor, err := monitorId(c, args[2])
		if err != nil {
			return err
		}
		return c.callManager("ArrangeDisplay", id, anchor, placement).Err
	},
}

var swapCmd = &cobra.Command{
	Use:   "swap <display> <display>",
	Short: "Swap positions of two displays",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		id1, err := monitorId(c, args[0])
		if err != nil {
			return err
		}
		id2, err := monitorId(c, args[1])
		if err != nil {
			return err
		}
		return c.callManager("SwapDisplays", id1, id2).Err
	},
}

var positionCmd = &cobra.Command{
	Use:   "position <display> <x> <y>",
	Short: "Move display to position",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var pos [2]int16
		for i, arg := range args[1:] {
			v, err := strconv.ParseInt(arg, 10, 16)
			if err != nil || v < 0 {
				return fmt.Errorf("invalid position %q", arg)
			}
			pos[i] = int16(v)
		}
		mon, err := findMonitor(args[0])
		if err != nil {
			return err
		}
		return mon.call("SetPosition", pos[0], pos[1]).Err
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Rediscover displays and refresh their modes",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		return c.callManager("Refresh").Err
	},
}

func init() {
	brightnessCmd.Flags().StringVarP(&brightnessSpace, "space", "s", "user",
		"brightness space: user, linear or dynamic")
	brightnessCmd.Flags().Uint32VarP(&brightnessDuration, "smooth", "t", 0,
		"ramp linear brightness to value in this many milliseconds")
	presetSaveCmd.Flags().BoolVarP(&presetDefault, "default", "d", false, "mark preset as default")
	presetCmd.AddCommand(presetListCmd, presetApplyCmd, presetSaveCmd)
}

func findMonitor(filter string) (*monitorObj, error) {
	c, err := newClient()
	if err != nil {
		return nil, err
	}
	return c.monitor(filter)
}

func monitorId(c *client, filter string) (uint32, error) {
	mon, err := c.monitor(filter)
	if err != nil {
		return 0, err
	}
	var id uint32
	err = mon.getProp("ID", &id)
	return id, err
}

type modeSpec struct {
	id     uint32
	width  uint16
	height uint16
	rate   float64
}

// parseModeSpec 解析 "87"、"1920x1080" 或 "1920x1080@60"。
func parseModeSpec(s string) (modeSpec, error) {
	var spec modeSpec
	s = strings.TrimSpace(s)
	if id, err := strconv.ParseUint(s, 10, 32); err == nil {
		if id == 0 {
			return spec, fmt.Errorf("invalid mode id 0")
		}
		spec.id = uint32(id)
		return spec, nil
	}

	size, rate, hasRate := strings.Cut(s, "@")
	if hasRate {
		r, err := strconv.ParseFloat(strings.TrimSuffix(strings.ToLower(rate), "hz"), 64)
		if err != nil || r <= 0 {
			return spec, fmt.Errorf("invalid refresh rate %q", rate)
		}
		spec.rate = r
	}
	w, h, ok := strings.Cut(strings.ToLower(size), "x")
	if !ok {
		return spec, fmt.Errorf("invalid resolution %q", size)
	}
	width, err := strconv.ParseUint(w, 10, 16)
	if err != nil || width == 0 {
		return spec, fmt.Errorf("invalid width %q", w)
	}
	height, err := strconv.ParseUint(h, 10, 16)
	if err != nil || height == 0 {
		return spec, fmt.Errorf("invalid height %q", h)
	}
	spec.width, spec.height = uint16(width), uint16(height)
	return spec, nil
}

// parseBrightness 接受 0.5 或 50%。
// parsePlacement 在本地检查参数，避免无效请求发到服务端。
func parsePlacement(s string) (string, error) {
	switch v := strings.ToLower(s); v {
	case "left", "right", "above", "below":
		return v, nil
	}
	return "", fmt.Errorf("invalid placement %q, want left, right, above or below", s)
}

func parseBrightness(s string) (float64, error) {
	percent := strings.HasSuffix(s, "%")
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid brightness %q", s)
	}
	if percent {
		v /= 100
	}
	return v, nil
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printMonitor(w io.Writer, info *monitorInfo) {
	fmt.Fprintf(w, "\nDisplay %d (%s):\n", info.ID, info.Name)
	fmt.Fprintf(w, "  Model: %s %s\n", info.Manufacturer, info.Model)
	fmt.Fprintf(w, "  State: %s\n", info.State)
	if len(info.Capabilities) > 0 {
		fmt.Fprintf(w, "  Capabilities: %s\n", strings.Join(info.Capabilities, ", "))
	}
	fmt.Fprintf(w, "  Current: %dx%d+%d+%d @ %.2fHz, rotation %d\n", info.CurrentMode.Width,
		info.CurrentMode.Height, info.X, info.Y, info.CurrentMode.Rate, info.Rotation)
	fmt.Fprintf(w, "  Brightness: %.2f\n", info.Brightness)
	if info.MirrorMaster != 0 {
		fmt.Fprintf(w, "  Mirror of: %d\n", info.MirrorMaster)
	}
	if info.ActivePreset != "" {
		fmt.Fprintf(w, "  Preset: %s\n", info.ActivePreset)
	}
	fmt.Fprintln(w, "  Modes:")
	for _, mode := range info.Modes {
		prefix := "   "
		if mode.Id == info.CurrentMode.Id {
			prefix = " * "
		}
		fmt.Fprintf(w, "%s [%d] %dx%d @ %.2fHz\n", prefix, mode.Id, mode.Width, mode.Height, mode.Rate)
	}
}
