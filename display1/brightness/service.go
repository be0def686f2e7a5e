// SPDX-FileCopyrightText: 2018 - 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package brightness

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/godbus/dbus/v5"
	backlight "github.com/linuxdeepin/go-dbus-factory/system/org.deepin.dde.backlighthelper1"
	displayBl "github.com/linuxdeepin/go-lib/backlight/display"
	"github.com/linuxdeepin/go-lib/log"
	"github.com/linuxdeepin/go-lib/multierr"
	x "github.com/linuxdeepin/go-x11-client"
)

var logger = log.NewLogger("daemon/display/brightness")

const (
	SetterAuto      = 0 // auto
	SetterGamma     = 1 // gamma
	SetterBacklight = 2 // backlight
)

const backlightSysDir = "/sys/class/backlight"

var ErrUnknownOutput = errors.New("unknown output")

// Capabilities 是显示器亮度相关的能力。
type Capabilities struct {
	CanChangeBrightness             bool
	HasAmbientLightCompensation     bool
	AmbientLightCompensationEnabled bool
	IsSmartDisplay                  bool
}

// Service 是操作系统提供的亮度服务。
type Service interface {
	Brightness(ctx context.Context, id uint32, space Space) (float64, error)
	SetBrightness(ctx context.Context, id uint32, space Space, v float64) error
	Capabilities(ctx context.Context, id uint32) (Capabilities, error)
	// Watch 注册外部亮度变化的回调，返回取消注册的函数。
	Watch(fn func(id uint32, v Value)) (stop func())
}

type output struct {
	builtin bool
	// 用 gamma 调节时无法从硬件读回，只能记住最后设置的值
	linear float64
}

// LinuxService 用 sysfs 背光控制内置屏，用 RandR gamma 控制外接屏。
type LinuxService struct {
	xConn       *x.Conn
	helper      backlight.Backlight
	controllers displayBl.Controllers
	setter      int
	ambient     Ambient

	mu               sync.Mutex
	outputs          map[uint32]*output
	hasAmbientSensor bool
	ambientEnabled   bool
	watchers         map[int]func(uint32, Value)
	nextWatcherId    int
	fsWatcher        *fsnotify.Watcher
}

func NewLinuxService(xConn *x.Conn, sysBus *dbus.Conn, setter int) *LinuxService {
	s := &LinuxService{
		xConn:    xConn,
		setter:   setter,
		outputs:  make(map[uint32]*output),
		watchers: make(map[int]func(uint32, Value)),
	}
	if sysBus != nil {
		s.helper = backlight.NewBacklight(sysBus)
	}
	var err error
	s.controllers, err = displayBl.List()
	if err != nil {
		logger.Warning("failed to list backlight controller:", err)
	}
	return s
}

func (s *LinuxService) AddOutput(id uint32, builtin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outputs[id]; ok {
		return
	}
	s.outputs[id] = &output{builtin: builtin, linear: 1}
}

func (s *LinuxService) RemoveOutput(id uint32) {
	s.mu.Lock()
	delete(s.outputs, id)
	s.mu.Unlock()
}

func (s *LinuxService) SetAmbientCompensation(hasSensor, enabled bool) {
	s.mu.Lock()
	s.hasAmbientSensor = hasSensor
	s.ambientEnabled = enabled
	s.mu.Unlock()
}

func (s *LinuxService) SetAmbientLux(lux float64) {
	s.ambient.Add(lux)
}

func (s *LinuxService) factor() float64 {
	s.mu.Lock()
	enabled := s.hasAmbientSensor && s.ambientEnabled
	s.mu.Unlock()
	if !enabled {
		return 1
	}
	return s.ambient.Factor()
}

func (s *LinuxService) getOutput(id uint32) (*output, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.outputs[id]
	if o == nil {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOutput, id)
	}
	return o, nil
}

func (s *LinuxService) supportBacklight() bool {
	if s.helper == nil {
		return false
	}
	return len(s.controllers) > 0
}

func (s *LinuxService) useBacklight(o *output) bool {
	switch s.setter {
	case SetterBacklight:
		return true
	case SetterGamma:
		return false
	}
	return o.builtin && s.supportBacklight()
}

func (s *LinuxService) Brightness(ctx context.Context, id uint32, space Space) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	o, err := s.getOutput(id)
	if err != nil {
		return 0, err
	}

	var linear float64
	if s.useBacklight(o) {
		linear, err = s.getBacklight()
		if err != nil {
			return 0, err
		}
	} else {
		s.mu.Lock()
		linear = o.linear
		s.mu.Unlock()
	}
	return FromLinear(linear, space, s.factor()).V, nil
}

func (s *LinuxService) SetBrightness(ctx context.Context, id uint32, space Space, v float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o, err := s.getOutput(id)
	if err != nil {
		return err
	}
	linear := ToLinear(Value{V: v, Space: space}, s.factor())

	if s.useBacklight(o) {
		err = s.setBacklight(linear)
	} else {
		err = setOutputCrtcGamma(s.xConn, id, linear)
	}
	if err != nil {
		return err
	}
	s.mu.Lock()
	o.linear = linear
	s.mu.Unlock()
	return nil
}

func (s *LinuxService) Capabilities(ctx context.Context, id uint32) (Capabilities, error) {
	if err := ctx.Err(); err != nil {
		return Capabilities{}, err
	}
	o, err := s.getOutput(id)
	if err != nil {
		return Capabilities{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Capabilities{
		CanChangeBrightness:             !o.builtin || s.setter == SetterGamma || s.supportBacklight(),
		HasAmbientLightCompensation:     o.builtin && s.hasAmbientSensor,
		AmbientLightCompensationEnabled: o.builtin && s.hasAmbientSensor && s.ambientEnabled,
	}, nil
}

func (s *LinuxService) getBacklight() (float64, error) {
	if len(s.controllers) == 0 {
		return 0, errors.New("no backlight controller")
	}
	controller := s.controllers[0]
	br, err := controller.GetBrightness()
	if err != nil {
		return 0, err
	}
	if controller.MaxBrightness <= 0 {
		return 0, fmt.Errorf("backlight %s has invalid max brightness", controller.Name)
	}
	return Clamp(float64(br) / float64(controller.MaxBrightness)), nil
}

func (s *LinuxService) setBacklight(value float64) error {
	var errs error
	for _, controller := range s.controllers {
		err := s._setBacklight(value, controller)
		if err != nil {
			logger.Warningf("failed to set backlight %s: %v", controller.Name, err)
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (s *LinuxService) _setBacklight(value float64, controller *displayBl.Controller) error {
	br := int32(float64(controller.MaxBrightness) * value)
	const backlightTypeDisplay = 1
	logger.Debugf("help set brightness %q max %v value %v br %v",
		controller.Name, controller.MaxBrightness, value, br)
	return s.helper.SetBrightness(0, backlightTypeDisplay, controller.Name, br)
}

func (s *LinuxService) Watch(fn func(id uint32, v Value)) (stop func()) {
	s.mu.Lock()
	id := s.nextWatcherId
	s.nextWatcherId++
	s.watchers[id] = fn
	needStart := s.fsWatcher == nil && len(s.controllers) > 0
	s.mu.Unlock()

	if needStart {
		err := s.startFsWatcher()
		if err != nil {
			logger.Warning("failed to watch backlight:", err)
		}
	}
	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *LinuxService) startFsWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, controller := range s.controllers {
		err = watcher.Add(filepath.Join(backlightSysDir, controller.Name))
		if err != nil {
			logger.Warningf("watch backlight %s failed: %v", controller.Name, err)
		}
	}

	s.mu.Lock()
	s.fsWatcher = watcher
	s.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&fsnotify.Write == 0 || !strings.HasSuffix(ev.Name, "brightness") {
					continue
				}
				s.notifyBacklightChanged()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warning(err)
			}
		}
	}()
	return nil
}

func (s *LinuxService) notifyBacklightChanged() {
	linear, err := s.getBacklight()
	if err != nil {
		logger.Warning(err)
		return
	}

	s.mu.Lock()
	var builtinIds []uint32
	for id, o := range s.outputs {
		if o.builtin {
			o.linear = linear
			builtinIds = append(builtinIds, id)
		}
	}
	watchers := make([]func(uint32, Value), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.Unlock()

	for _, id := range builtinIds {
		for _, fn := range watchers {
			fn(id, Value{V: linear, Space: SpaceLinear})
		}
	}
}

func (s *LinuxService) Close() error {
	s.mu.Lock()
	watcher := s.fsWatcher
	s.fsWatcher = nil
	s.mu.Unlock()
	if watcher != nil {
		return watcher.Close()
	}
	return nil
}
