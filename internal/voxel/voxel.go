package voxel

import (
	"fmt"
	"math"
)

// Текстуры вокселей
const (
	TextureSolid     uint8 = 0
	TextureCheckered uint8 = 1
	TextureStriped   uint8 = 2
	TextureSpeckled  uint8 = 3
	TextureLast            = TextureSpeckled
)

// TextureName возвращает имя текстуры для диагностики
func TextureName(id uint8) string {
	switch id {
	case TextureSolid:
		return "Solid"
	case TextureCheckered:
		return "Checkered"
	case TextureStriped:
		return "Striped"
	case TextureSpeckled:
		return "Speckled"
	default:
		return fmt.Sprintf("Unknown(%d)", id)
	}
}

// Orientation определяет ориентацию блока
type Orientation uint8

const (
	OrientationNone Orientation = iota
	OrientationNorth
	OrientationEast
	OrientationSouth
	OrientationWest
	OrientationUp
	OrientationDown
)

// Flags набор булевых признаков вокселя
type Flags uint16

const (
	FlagBlock Flags = 1 << iota
	FlagBreakable
	FlagNatural
	FlagBreathable
)

// Color цвет RGBA
type Color struct {
	R, G, B, A uint8
}

// Стандартные цвета материалов
var (
	ColorDirt  = Color{R: 39, G: 25, B: 10, A: 255}
	ColorStone = Color{R: 39, G: 39, B: 39, A: 255}
	ColorGrass = Color{R: 68, G: 144, B: 71, A: 255}
	ColorWood  = Color{R: 132, G: 83, B: 40, A: 255}
)

// Lerp линейно интерполирует от c к to, t ограничивается [0,1].
// Дробная часть каналов отбрасывается.
func (c Color) Lerp(to Color, t float64) Color {
	t = Clamp01(t)
	ch := func(a, b uint8) uint8 {
		return uint8(float64(a) + (float64(b)-float64(a))*t)
	}
	return Color{R: ch(c.R, to.R), G: ch(c.G, to.G), B: ch(c.B, to.B), A: ch(c.A, to.A)}
}

// Voxel одна ячейка мира
type Voxel struct {
	Texture     uint8
	Density     uint8 // 0 - пусто, 255 - полностью твёрдый
	Orientation Orientation
	Flags       Flags
	Color       Color
}

func (v Voxel) has(f Flags) bool { return v.Flags&f == f }

func (v *Voxel) setFlag(f Flags, on bool) {
	if on {
		v.Flags |= f
	} else {
		v.Flags &^= f
	}
}

// HasBlock возвращает true, если в ячейке стоит блок
func (v Voxel) HasBlock() bool { return v.has(FlagBlock) }

// OnlySmooth возвращает true для гладкого (безблочного) вокселя
func (v Voxel) OnlySmooth() bool { return !v.HasBlock() }

func (v Voxel) IsBreakable() bool   { return v.has(FlagBreakable) }
func (v Voxel) IsUnbreakable() bool { return !v.IsBreakable() }
func (v Voxel) IsNatural() bool     { return v.has(FlagNatural) }
func (v Voxel) IsBreathable() bool  { return v.has(FlagBreathable) }

// Apply переносит на воксель все заданные поля изменения.
// Незаданные поля остаются как есть.
func (v *Voxel) Apply(change *Change) {
	if t, ok := change.Texture.Get(); ok {
		v.Texture = t
	}
	if b, ok := change.HasBlock.Get(); ok {
		v.setFlag(FlagBlock, b)
	}
	if d, ok := change.Density.Get(); ok {
		v.Density = d
	}
	if b, ok := change.IsBreakable.Get(); ok {
		v.setFlag(FlagBreakable, b)
	}
	if o, ok := change.Orientation.Get(); ok {
		v.Orientation = o
	}
	if b, ok := change.Natural.Get(); ok {
		v.setFlag(FlagNatural, b)
	}
	if c, ok := change.Color.Get(); ok {
		v.Color = c
	}
}

// Snapshot возвращает одиночное изменение, полностью восстанавливающее воксель
func (v Voxel) Snapshot() Change {
	return Change{
		Texture:     Some(v.Texture),
		Density:     Some(v.Density),
		Orientation: Some(v.Orientation),
		HasBlock:    Some(v.HasBlock()),
		IsBreakable: Some(v.IsBreakable()),
		Natural:     Some(v.IsNatural()),
		Color:       Some(v.Color),
		Form:        Some(FormSingle),
	}
}

func (v Voxel) String() string {
	return fmt.Sprintf("Texture: %s, Density: %d, Orientation: %d, Flags: %04b", TextureName(v.Texture), v.Density, v.Orientation, v.Flags)
}

// Clamp01 ограничивает значение отрезком [0,1]
func Clamp01(f float64) float64 {
	return math.Max(0, math.Min(1, f))
}

// DensityFromFraction переводит долю [0,1] в плотность 0..255.
// Значение ограничивается до приведения типа.
func DensityFromFraction(f float64) uint8 {
	return uint8(math.Round(Clamp01(f) * math.MaxUint8))
}
