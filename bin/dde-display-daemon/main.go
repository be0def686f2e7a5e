// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/linuxdeepin/dde-display-daemon/display1"
	"github.com/linuxdeepin/dde-display-daemon/loader"
	"github.com/linuxdeepin/go-lib/dbusutil"
	"github.com/linuxdeepin/go-lib/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var logger = log.NewLogger("daemon/dde-display-daemon")

var _options struct {
	cfgFile  string
	verbose  bool
	logLevel string
	force    bool
}

var rootCmd = &cobra.Command{
	Use:   "dde-display-daemon",
	Short: "Display state manager of deepin desktop",
	Long: `dde-display-daemon tracks connected displays, their modes, brightness
and presets, and exports them on the session bus as org.deepin.dde.Display1.`,
	SilenceUsage: true,
	RunE:         runDaemon,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&_options.cfgFile, "config", "",
		"config file (default is $XDG_CONFIG_HOME/deepin/dde-display-daemon/config.yaml)")
	flags.BoolVarP(&_options.verbose, "verbose", "v", false,
		"Show much more message, shorthand for --loglevel debug.")
	flags.StringVarP(&_options.logLevel, "loglevel", "l", "",
		"Set log level, possible value is error/warn/info/debug/no, info is default")
	flags.BoolVarP(&_options.force, "force", "f", false, "Force start disabled module.")

	flags.Duration("apply-timeout", 0, "timeout of mode and brightness calls to the display server")
	flags.Float64("min-usable-rate", 0, "modes below this refresh rate are hidden from users")
	flags.String("preset-file", "", "preset storage file")
	flags.String("brightness-setter", "", "brightness setter: auto, gamma or backlight")
	flags.Bool("ambient-light", false, "enable ambient light compensation")

	for key, flag := range map[string]string{
		"apply_timeout":     "apply-timeout",
		"min_usable_rate":   "min-usable-rate",
		"preset_file":       "preset-file",
		"brightness_setter": "brightness-setter",
		"ambient_light":     "ambient-light",
		"loglevel":          "loglevel",
	} {
		err := viper.BindPFlag(key, flags.Lookup(flag))
		if err != nil {
			panic(err)
		}
	}
}

func initConfig() {
	if _options.cfgFile != "" {
		viper.SetConfigFile(_options.cfgFile)
	} else {
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
		for _, dir := range configDirs() {
			viper.AddConfigPath(dir)
		}
	}

	viper.SetEnvPrefix("DDE_DISPLAY")
	viper.AutomaticEnv()

	def := display1.DefaultConfig()
	viper.SetDefault("apply_timeout", def.ApplyTimeout)
	viper.SetDefault("min_usable_rate", def.MinUsableRate)
	viper.SetDefault("ramp_rate", def.RampRate)
	viper.SetDefault("coalesce_window", def.CoalesceWindow)
	viper.SetDefault("event_queue_size", def.EventQueueSize)
	viper.SetDefault("brightness_step", def.BrightnessStep)
	viper.SetDefault("brightness_setter", def.BrightnessSetter)
	viper.SetDefault("ambient_light", def.AmbientLight)
	viper.SetDefault("preset_file", "")

	err := viper.ReadInConfig()
	if err == nil {
		logger.Info("using config file:", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
		logger.Warning("failed to read config:", err)
	}
}

func loadConfig() (display1.Config, error) {
	var cfg display1.Config
	err := viper.Unmarshal(&cfg)
	if err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func runDaemon(cmd *cobra.Command, args []string) error {
	logger.SetLogLevel(log.LevelInfo)
	if _options.verbose {
		viper.Set("loglevel", "debug")
	}
	logLevel, err := toLogLevel(viper.GetString("loglevel"))
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	display1.SetConfig(cfg)

	service, err := dbusutil.NewSessionService()
	if err != nil {
		return err
	}
	loader.SetService(service)
	loader.SetLogLevel(logLevel)

	// 模块和主循环在同一个线程
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	flag := loader.EnableFlagNone
	if _options.force {
		flag |= loader.EnableFlagForceStart
	}
	err = loader.EnableModules([]string{"display"}, nil, flag)
	if err != nil {
		return err
	}
	if loader.GetModule("display") == nil || !loader.GetModule("display").IsEnable() {
		return fmt.Errorf("display module is not running")
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal", sig)
		if err := loader.StopAll(); err != nil {
			logger.Warning("failed to stop modules:", err)
		}
		service.Quit()
	}()

	service.Wait()
	logger.Info("main loop has been terminated")
	return nil
}

func main() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
