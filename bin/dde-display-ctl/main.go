// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "dde-display-ctl",
	Short: "Control displays through dde-display-daemon",
	Long: `dde-display-ctl talks to org.deepin.dde.Display1 on the session bus.

A display is selected by its id, UUID, output name, manufacturer/model,
or "builtin" for the internal panel.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolP("json", "j", false, "output in JSON format")
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	viper.SetEnvPrefix("DDE_DISPLAY_CTL")
	viper.AutomaticEnv()

	rootCmd.AddCommand(listCmd, modeCmd, rotateCmd, brightnessCmd, presetCmd, mirrorCmd,
		arrangeCmd, swapCmd, positionCmd, refreshCmd)
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
