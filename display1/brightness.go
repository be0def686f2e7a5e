// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linuxdeepin/dde-display-daemon/display1/brightness"
	"github.com/linuxdeepin/go-lib/multierr"
)

var errNoBrightnessService = errors.New("no brightness service")

type displayBrightness struct {
	// writeMu 让直接设置和渐变的每一步写入串行，被取消的渐变不会再写入
	writeMu sync.Mutex
	ramp    atomic.Pointer[brightness.Transition]

	mu    sync.Mutex
	caps  *brightness.Capabilities
	cache map[brightness.Space]float64
}

// BrightnessController 在用户、线性、动态三种亮度之间转换，并负责平滑调节。
type BrightnessController struct {
	m         *Manager
	svc       brightness.Service
	coalescer *brightness.Coalescer
	stopWatch func()

	mu       sync.Mutex
	displays map[uint32]*displayBrightness
}

func newBrightnessController(m *Manager, svc brightness.Service) *BrightnessController {
	bc := &BrightnessController{
		m:        m,
		svc:      svc,
		displays: make(map[uint32]*displayBrightness),
	}
	bc.coalescer = brightness.NewCoalescer(m.cfg.CoalesceWindow, m.emitBrightnessChanged)
	if svc != nil {
		bc.stopWatch = svc.Watch(bc.HandleExternalChange)
	}
	return bc
}

func (bc *BrightnessController) close() {
	if bc.stopWatch != nil {
		bc.stopWatch()
	}
	bc.coalescer.Stop()
	bc.mu.Lock()
	for _, db := range bc.displays {
		db.ramp.Swap(nil).Cancel()
	}
	bc.mu.Unlock()
}

func (bc *BrightnessController) get(id uint32) *displayBrightness {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	db := bc.displays[id]
	if db == nil {
		db = &displayBrightness{cache: make(map[brightness.Space]float64)}
		bc.displays[id] = db
	}
	return db
}

func (bc *BrightnessController) forget(id uint32) {
	bc.mu.Lock()
	db := bc.displays[id]
	delete(bc.displays, id)
	bc.mu.Unlock()
	if db != nil {
		db.ramp.Swap(nil).Cancel()
	}
}

// invalidateCaps 在 RefreshModes 之后调用，能力在下次查询时重新获取。
func (bc *BrightnessController) invalidateCaps(id uint32) {
	db := bc.get(id)
	db.mu.Lock()
	db.caps = nil
	db.mu.Unlock()
}

func (db *displayBrightness) invalidate() {
	db.mu.Lock()
	db.cache = make(map[brightness.Space]float64)
	db.mu.Unlock()
}

func (bc *BrightnessController) display(id uint32) (*Display, *displayBrightness, error) {
	if bc.svc == nil {
		return nil, nil, errNoBrightnessService
	}
	d, err := bc.m.Display(id)
	if err != nil {
		return nil, nil, err
	}
	if err := d.checkAlive(); err != nil {
		return nil, nil, err
	}
	return d, bc.get(id), nil
}

func (bc *BrightnessController) Capabilities(ctx context.Context, id uint32) (brightness.Capabilities, error) {
	d, db, err := bc.display(id)
	if err != nil {
		return brightness.Capabilities{}, err
	}
	db.mu.Lock()
	caps := db.caps
	db.mu.Unlock()
	if caps != nil {
		return *caps, nil
	}

	var result brightness.Capabilities
	err = d.backendCall(ctx, "brightness capabilities", func(ctx context.Context) error {
		var err error
		result, err = bc.svc.Capabilities(ctx, id)
		return err
	})
	if err != nil {
		return brightness.Capabilities{}, err
	}
	db.mu.Lock()
	db.caps = &result
	db.mu.Unlock()
	return result, nil
}

func (bc *BrightnessController) CanChangeBrightness(ctx context.Context, id uint32) bool {
	caps, err := bc.Capabilities(ctx, id)
	return err == nil && caps.CanChangeBrightness
}

func (bc *BrightnessController) HasAmbientLightCompensation(ctx context.Context, id uint32) bool {
	caps, err := bc.Capabilities(ctx, id)
	return err == nil && caps.HasAmbientLightCompensation
}

func (bc *BrightnessController) GetUserBrightness(ctx context.Context, id uint32) (float64, error) {
	return bc.GetBrightness(ctx, id, brightness.SpaceUser)
}

func (bc *BrightnessController) GetLinearBrightness(ctx context.Context, id uint32) (float64, error) {
	return bc.GetBrightness(ctx, id, brightness.SpaceLinear)
}

func (bc *BrightnessController) GetDynamicBrightness(ctx context.Context, id uint32) (float64, error) {
	return bc.GetBrightness(ctx, id, brightness.SpaceDynamic)
}

func (bc *BrightnessController) GetBrightness(ctx context.Context, id uint32, space brightness.Space) (float64, error) {
	d, db, err := bc.display(id)
	if err != nil {
		return 0, err
	}
	db.mu.Lock()
	v, ok := db.cache[space]
	db.mu.Unlock()
	if ok {
		return v, nil
	}

	err = d.backendCall(ctx, "get brightness", func(ctx context.Context) error {
		var err error
		v, err = bc.svc.Brightness(ctx, id, space)
		return err
	})
	if err != nil {
		return 0, err
	}
	db.mu.Lock()
	db.cache[space] = v
	db.mu.Unlock()
	return v, nil
}

func (bc *BrightnessController) SetUserBrightness(ctx context.Context, id uint32, v float64) error {
	return bc.SetBrightness(ctx, id, brightness.SpaceUser, v)
}

func (bc *BrightnessController) SetLinearBrightness(ctx context.Context, id uint32, v float64) error {
	return bc.SetBrightness(ctx, id, brightness.SpaceLinear, v)
}

func (bc *BrightnessController) SetDynamicBrightness(ctx context.Context, id uint32, v float64) error {
	return bc.SetBrightness(ctx, id, brightness.SpaceDynamic, v)
}

func checkBrightnessRange(v float64) error {
	if !brightness.Valid(v) {
		return &OutOfRangeError{What: "brightness", Value: v, Min: 0, Max: 1}
	}
	return nil
}

func (bc *BrightnessController) checkWritable(ctx context.Context, d *Display) error {
	err := bc.m.checkSuppressed(d, "set brightness")
	if err != nil {
		return err
	}
	caps, err := bc.Capabilities(ctx, d.Id())
	if err != nil {
		return err
	}
	if !caps.CanChangeBrightness {
		return &UnsupportedOperationError{DisplayId: d.Id(), Op: "set brightness",
			Reason: "brightness is not adjustable"}
	}
	return nil
}

// SetBrightness 取消正在进行的渐变，然后直接设置亮度。
func (bc *BrightnessController) SetBrightness(ctx context.Context, id uint32, space brightness.Space, v float64) error {
	err := checkBrightnessRange(v)
	if err != nil {
		return err
	}
	d, db, err := bc.display(id)
	if err != nil {
		return err
	}
	err = bc.checkWritable(ctx, d)
	if err != nil {
		return err
	}

	db.ramp.Swap(nil).Cancel()

	db.writeMu.Lock()
	err = d.backendCall(ctx, "set brightness", func(ctx context.Context) error {
		return bc.svc.SetBrightness(ctx, id, space, v)
	})
	db.writeMu.Unlock()
	if err != nil {
		return err
	}

	db.mu.Lock()
	db.cache = map[brightness.Space]float64{space: v}
	db.mu.Unlock()
	bc.m.emitBrightnessChanged(id, brightness.Value{V: v, Space: space})
	return nil
}

// SetBrightnessSmooth 把线性亮度从当前值渐变到 v。同一个显示器同时只有一个渐变，
// 之后的任何设置亮度调用都会取消它。
func (bc *BrightnessController) SetBrightnessSmooth(ctx context.Context, id uint32, v float64,
	durationHint time.Duration) (*brightness.Transition, error) {
	err := checkBrightnessRange(v)
	if err != nil {
		return nil, err
	}
	d, db, err := bc.display(id)
	if err != nil {
		return nil, err
	}
	err = bc.checkWritable(ctx, d)
	if err != nil {
		return nil, err
	}
	timeout := bc.m.cfg.ApplyTimeout
	apply := func(ctx context.Context, linear float64) error {
		db.writeMu.Lock()
		defer db.writeMu.Unlock()
		if ctx.Err() != nil {
			return context.Canceled
		}
		ctx1, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := bc.svc.SetBrightness(ctx1, id, brightness.SpaceLinear, linear)
		if err != nil {
			return err
		}
		db.mu.Lock()
		db.cache = map[brightness.Space]float64{brightness.SpaceLinear: linear}
		db.mu.Unlock()
		return nil
	}

	// 先登记新的渐变再取消旧的，等旧渐变正在进行的写入结束后读取起点，
	// 最后才开始写入，两个渐变不会交替写入。
	tr := brightness.NewTransition(context.Background())
	db.ramp.Swap(tr).Cancel()
	db.writeMu.Lock()
	from, err := bc.GetLinearBrightness(ctx, id)
	db.writeMu.Unlock()
	if err != nil {
		db.ramp.CompareAndSwap(tr, nil)
		tr.Cancel()
		return nil, err
	}
	tr.Start(brightness.Ramp{
		From:     from,
		To:       v,
		Duration: durationHint,
		Rate:     bc.m.cfg.RampRate,
	}, apply)

	go func() {
		<-tr.Done()
		db.ramp.CompareAndSwap(tr, nil)
		err := tr.Err()
		if err == nil {
			bc.m.emitBrightnessChanged(id, brightness.Value{V: v, Space: brightness.SpaceLinear})
		} else if !errors.Is(err, context.Canceled) {
			logger.Warningf("display %d smooth brightness failed: %v", id, err)
		}
	}()
	return tr, nil
}

// CancelTransitions 停止所有显示器上的渐变，休眠前调用。
func (bc *BrightnessController) CancelTransitions() {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	for _, db := range bc.displays {
		db.ramp.Swap(nil).Cancel()
	}
}

// HandleExternalChange 处理外部（比如亮度键）引起的亮度变化，合并后再广播。
func (bc *BrightnessController) HandleExternalChange(id uint32, v brightness.Value) {
	bc.get(id).invalidate()
	bc.coalescer.Push(id, v)
}

// ChangeBrightness 把所有可调节的显示器的用户亮度升高或降低一级。
func (bc *BrightnessController) ChangeBrightness(ctx context.Context, raised bool) error {
	step := bc.m.cfg.BrightnessStep
	if !raised {
		step = -step
	}
	var errs error
	for _, d := range bc.m.Displays() {
		if !bc.CanChangeBrightness(ctx, d.Id()) {
			continue
		}
		cur, err := bc.GetUserBrightness(ctx, d.Id())
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		next := brightness.Clamp(math.Round((cur+step)*1000) / 1000)
		if next == cur {
			continue
		}
		err = bc.SetUserBrightness(ctx, d.Id(), next)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

type ambientSink interface {
	SetAmbientLux(lux float64)
}

// SetAmbientLux 把环境光照度交给支持补偿的亮度服务，动态亮度会随之变化。
func (bc *BrightnessController) SetAmbientLux(lux float64) {
	sink, ok := bc.svc.(ambientSink)
	if !ok {
		return
	}
	sink.SetAmbientLux(lux)
	bc.mu.Lock()
	for _, db := range bc.displays {
		db.invalidate()
	}
	bc.mu.Unlock()
}
