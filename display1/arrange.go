// SPDX-FileCopyrightText: 2022 UnionTech Software Technology Co., Ltd.
//
// SPDX-License-Identifier: GPL-3.0-or-later

package display1

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
)

// Placement 是一个显示器相对锚点显示器的摆放位置。
type Placement uint8

const (
	PlaceRightOf Placement = iota
	PlaceLeftOf
	PlaceAbove
	PlaceBelow
)

func (p Placement) String() string {
	switch p {
	case PlaceRightOf:
		return "right"
	case PlaceLeftOf:
		return "left"
	case PlaceAbove:
		return "above"
	case PlaceBelow:
		return "below"
	default:
		return fmt.Sprintf("Placement(%d)", uint8(p))
	}
}

func ParsePlacement(s string) (Placement, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "right", "right-of":
		return PlaceRightOf, nil
	case "left", "left-of":
		return PlaceLeftOf, nil
	case "above", "top":
		return PlaceAbove, nil
	case "below", "bottom":
		return PlaceBelow, nil
	}
	return 0, fmt.Errorf("invalid placement %q", s)
}

type Point struct {
	X, Y int16
}

// Rect 是显示器在屏幕上占用的区域，宽高已按旋转换算。
type Rect struct {
	X, Y          int16
	Width, Height uint16
}

func (d *Display) Origin() Point {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Point{X: d.x, Y: d.y}
}

func (d *Display) Bounds() Rect {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.boundsNoLock()
}

func (d *Display) boundsNoLock() Rect {
	width, height := d.currentMode.Width, d.currentMode.Height
	if d.orientation == 90 || d.orientation == 270 {
		width, height = height, width
	}
	return Rect{X: d.x, Y: d.y, Width: width, Height: height}
}

// arrangeBoundsNoLock 返回参与排列的区域，镜像中的显示器和没有模式的显示器不能排列。
func (d *Display) arrangeBoundsNoLock(op string) (Rect, error) {
	if err := d.checkAliveNoLock(); err != nil {
		return Rect{}, err
	}
	if d.mirrorMaster != 0 || len(d.mirrorSlaves) > 0 {
		return Rect{}, &UnsupportedOperationError{DisplayId: d.info.Id, Op: op,
			Reason: "display is mirrored"}
	}
	if d.currentMode.IsZero() {
		return Rect{}, &UnsupportedOperationError{DisplayId: d.info.Id, Op: op,
			Reason: "display has no active mode"}
	}
	return d.boundsNoLock(), nil
}

// SetOrigin 把显示器左上角移动到 (x, y)。
func (d *Display) SetOrigin(ctx context.Context, x, y int16) error {
	if x < 0 {
		return &OutOfRangeError{What: "x", Value: float64(x), Min: 0, Max: math.MaxInt16}
	}
	if y < 0 {
		return &OutOfRangeError{What: "y", Value: float64(y), Min: 0, Max: math.MaxInt16}
	}
	err := d.m.checkSuppressed(d, "set origin")
	if err != nil {
		return err
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	d.mu.Lock()
	_, err = d.arrangeBoundsNoLock("set origin")
	d.mu.Unlock()
	if err != nil {
		return err
	}
	return d.setOriginLocked(ctx, Point{X: x, Y: y})
}

// setOriginLocked 调用者需持有 opMu。
func (d *Display) setOriginLocked(ctx context.Context, p Point) error {
	d.mu.Lock()
	if err := d.checkAliveNoLock(); err != nil {
		d.mu.Unlock()
		return err
	}
	same := d.x == p.X && d.y == p.Y
	d.mu.Unlock()
	if same {
		return nil
	}

	err := d.backendCall(ctx, "set origin", func(ctx context.Context) error {
		return d.m.backend.SetOrigin(ctx, d.info.Id, p.X, p.Y)
	})
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.checkAliveNoLock(); err != nil {
		return err
	}
	d.x, d.y = p.X, p.Y
	return nil
}

// arrangeOrigins 计算把 r 摆到 anchor 的 p 方向后两者的新位置。
// 结果有负坐标时整体平移，让左上角不小于 0。
func arrangeOrigins(r, anchor Rect, p Placement) (Point, Point, error) {
	ax, ay := int(anchor.X), int(anchor.Y)
	var x, y int
	switch p {
	case PlaceRightOf:
		x, y = ax+int(anchor.Width), ay
	case PlaceLeftOf:
		x, y = ax-int(r.Width), ay
	case PlaceAbove:
		x, y = ax, ay-int(r.Height)
	case PlaceBelow:
		x, y = ax, ay+int(anchor.Height)
	default:
		return Point{}, Point{}, fmt.Errorf("invalid placement %v", p)
	}

	if x < 0 {
		ax -= x
		x = 0
	}
	if y < 0 {
		ay -= y
		y = 0
	}
	for _, v := range []int{x, y, ax, ay} {
		if v > math.MaxInt16 {
			return Point{}, Point{}, &OutOfRangeError{What: "origin", Value: float64(v),
				Min: 0, Max: math.MaxInt16}
		}
	}
	return Point{X: int16(x), Y: int16(y)}, Point{X: int16(ax), Y: int16(ay)}, nil
}

type originMove struct {
	d  *Display
	to Point
}

// moveDisplays 依次移动显示器，失败时把已经移动的恢复原位。调用者需持有所有显示器的 opMu。
func (m *Manager) moveDisplays(ctx context.Context, moves []originMove) error {
	var done []originMove
	for _, mv := range moves {
		from := mv.d.Origin()
		err := mv.d.setOriginLocked(ctx, mv.to)
		if err != nil {
			for i := len(done) - 1; i >= 0; i-- {
				back := done[i]
				if rbErr := back.d.setOriginLocked(ctx, back.to); rbErr != nil {
					logger.Warningf("restore display %d origin failed: %v", back.d.Id(), rbErr)
				}
			}
			return err
		}
		// 记录原位置，回滚时使用
		done = append(done, originMove{d: mv.d, to: from})
	}
	return nil
}

func (m *Manager) arrangePair(id, otherId uint32, op string) (*Display, *Display, error) {
	if id == otherId {
		return nil, nil, &UnsupportedOperationError{DisplayId: id, Op: op,
			Reason: "can not arrange display with itself"}
	}
	d, err := m.Display(id)
	if err != nil {
		return nil, nil, err
	}
	other, err := m.Display(otherId)
	if err != nil {
		return nil, nil, err
	}
	return d, other, nil
}

// Arrange 把 id 摆到 anchorId 的 p 方向，两者边缘相接。
func (m *Manager) Arrange(ctx context.Context, id, anchorId uint32, p Placement) error {
	d, anchor, err := m.arrangePair(id, anchorId, "arrange")
	if err != nil {
		return err
	}
	unlock := lockDisplays([]*Display{d, anchor}, func(d *Display) *sync.Mutex { return &d.opMu })
	defer unlock()

	var bounds [2]Rect
	for i, v := range []*Display{d, anchor} {
		v.mu.Lock()
		bounds[i], err = v.arrangeBoundsNoLock("arrange")
		v.mu.Unlock()
		if err != nil {
			return err
		}
	}
	to, anchorTo, err := arrangeOrigins(bounds[0], bounds[1], p)
	if err != nil {
		return err
	}
	logger.Debugf("arrange display %d %v of %d: %v, anchor %v", id, p, anchorId, to, anchorTo)
	return m.moveDisplays(ctx, []originMove{{d: anchor, to: anchorTo}, {d: d, to: to}})
}

// SwapOrigins 交换两个显示器的位置。
func (m *Manager) SwapOrigins(ctx context.Context, a, b uint32) error {
	da, db, err := m.arrangePair(a, b, "swap")
	if err != nil {
		return err
	}
	unlock := lockDisplays([]*Display{da, db}, func(d *Display) *sync.Mutex { return &d.opMu })
	defer unlock()

	var origins [2]Point
	for i, v := range []*Display{da, db} {
		v.mu.Lock()
		r, err := v.arrangeBoundsNoLock("swap")
		v.mu.Unlock()
		if err != nil {
			return err
		}
		origins[i] = Point{X: r.X, Y: r.Y}
	}
	return m.moveDisplays(ctx, []originMove{{d: da, to: origins[1]}, {d: db, to: origins[0]}})
}
