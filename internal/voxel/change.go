package voxel

import (
	"fmt"
	"strings"

	"github.com/annel0/voxelfield/internal/vec"
)

// Form объёмная форма, по которой применяется изменение
type Form uint8

const (
	FormSingle Form = iota
	FormSpherical
	FormCylindrical
	FormWall
	FormPrism

	FormLast = FormPrism
)

func (f Form) String() string {
	switch f {
	case FormSingle:
		return "single"
	case FormSpherical:
		return "spherical"
	case FormCylindrical:
		return "cylindrical"
	case FormWall:
		return "wall"
	case FormPrism:
		return "prism"
	default:
		return fmt.Sprintf("form(%d)", uint8(f))
	}
}

// Change разреженное описание правки мира ("патч").
// Каждое поле может отсутствовать; Merge переносит только заданные поля.
type Change struct {
	Position    Opt[vec.Vec3]
	Texture     Opt[uint8]
	Density     Opt[uint8]
	Orientation Opt[Orientation]
	Color       Opt[Color]

	HasBlock       Opt[bool]
	IsBreakable    Opt[bool]
	Natural        Opt[bool]
	Replace        Opt[bool]
	ModifiesBlocks Opt[bool]
	NoRandom       Opt[bool]

	Magnitude  Opt[float32] // знаковый радиус: >0 добавляет, <0 вычитает
	Yaw        Opt[float32]
	Form       Opt[Form]
	UpperBound Opt[vec.Vec3] // противоположный угол призмы
	Revert     Opt[bool]     // сначала вернуть природное значение

	IsUndo bool

	// Undo собирает прежние значения записанных вокселей.
	// Не сериализуется и не переносится при слиянии.
	Undo *UndoBuffer
}

// Merge переносит в c заданные поля other (правое слияние)
func (c *Change) Merge(other *Change) {
	c.Position.override(other.Position)
	c.Texture.override(other.Texture)
	c.Density.override(other.Density)
	c.Orientation.override(other.Orientation)
	c.Color.override(other.Color)
	c.HasBlock.override(other.HasBlock)
	c.IsBreakable.override(other.IsBreakable)
	c.Natural.override(other.Natural)
	c.Replace.override(other.Replace)
	c.ModifiesBlocks.override(other.ModifiesBlocks)
	c.NoRandom.override(other.NoRandom)
	c.Magnitude.override(other.Magnitude)
	c.Yaw.override(other.Yaw)
	c.Form.override(other.Form)
	c.UpperBound.override(other.UpperBound)
	c.Revert.override(other.Revert)
	if other.IsUndo {
		c.IsUndo = true
	}
}

// Merged возвращает копию c со слитым other
func (c Change) Merged(other Change) Change {
	c.Merge(&other)
	c.Undo = nil
	return c
}

// IsPoint возвращает true, если изменение описывает ровно один воксель
func (c *Change) IsPoint() bool {
	return c.Position.Set && c.Form.Or(FormSingle) == FormSingle
}

// Equal сравнивает данные изменений без учёта буфера отмены
func (c Change) Equal(other Change) bool {
	c.Undo, other.Undo = nil, nil
	return c == other
}

func (c Change) String() string {
	var b strings.Builder
	b.WriteString("{")
	field := func(name string, set bool, value interface{}) {
		if !set {
			return
		}
		if b.Len() > 1 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", name, value)
	}
	field("position", c.Position.Set, c.Position.Value)
	field("texture", c.Texture.Set, c.Texture.Value)
	field("density", c.Density.Set, c.Density.Value)
	field("orientation", c.Orientation.Set, c.Orientation.Value)
	field("color", c.Color.Set, c.Color.Value)
	field("hasBlock", c.HasBlock.Set, c.HasBlock.Value)
	field("isBreakable", c.IsBreakable.Set, c.IsBreakable.Value)
	field("natural", c.Natural.Set, c.Natural.Value)
	field("replace", c.Replace.Set, c.Replace.Value)
	field("modifiesBlocks", c.ModifiesBlocks.Set, c.ModifiesBlocks.Value)
	field("noRandom", c.NoRandom.Set, c.NoRandom.Value)
	field("magnitude", c.Magnitude.Set, c.Magnitude.Value)
	field("yaw", c.Yaw.Set, c.Yaw.Value)
	field("form", c.Form.Set, c.Form.Value)
	field("upperBound", c.UpperBound.Set, c.UpperBound.Value)
	field("revert", c.Revert.Set, c.Revert.Value)
	field("isUndo", c.IsUndo, c.IsUndo)
	b.WriteString("}")
	return b.String()
}
