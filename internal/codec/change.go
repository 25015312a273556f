package codec

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/annel0/voxelfield/internal/voxel"
)

// ErrMalformed запись противоречит формату
var ErrMalformed = errors.New("некорректная запись изменения")

// Биты маски. Поля со значением идут после маски в порядке битов;
// булевы поля занимают пару бит (наличие, значение) и байтов не добавляют.
const (
	bitPosition    = 0
	bitTexture     = 1
	bitDensity     = 2
	bitOrientation = 3
	bitColor       = 4
	bitMagnitude   = 5
	bitYaw         = 6
	bitForm        = 7
	bitUpperBound  = 8

	bitIsUndo = 12

	bitRevert         = 18
	bitNoRandom       = 20
	bitModifiesBlocks = 22
	bitReplace        = 24
	bitHasBlock       = 26
	bitIsBreakable    = 28
	bitNatural        = 30
)

// flagFields порядок булевых полей в маске
var flagFields = [...]struct {
	bit   uint
	field func(c *voxel.Change) *voxel.Opt[bool]
}{
	{bitRevert, func(c *voxel.Change) *voxel.Opt[bool] { return &c.Revert }},
	{bitNoRandom, func(c *voxel.Change) *voxel.Opt[bool] { return &c.NoRandom }},
	{bitModifiesBlocks, func(c *voxel.Change) *voxel.Opt[bool] { return &c.ModifiesBlocks }},
	{bitReplace, func(c *voxel.Change) *voxel.Opt[bool] { return &c.Replace }},
	{bitHasBlock, func(c *voxel.Change) *voxel.Opt[bool] { return &c.HasBlock }},
	{bitIsBreakable, func(c *voxel.Change) *voxel.Opt[bool] { return &c.IsBreakable }},
	{bitNatural, func(c *voxel.Change) *voxel.Opt[bool] { return &c.Natural }},
}

// knownMask все биты, которые может выставить кодировщик
var knownMask = func() uint32 {
	m := uint32(1)<<(bitUpperBound+1) - 1
	m |= 1 << bitIsUndo
	for _, f := range flagFields {
		m |= 1<<f.bit | 1<<(f.bit+1)
	}
	return m
}()

func has(mask uint32, bit uint) bool { return mask&(1<<bit) != 0 }

// AppendChange дописывает запись изменения в w
func AppendChange(w *Writer, c *voxel.Change) {
	var mask uint32
	maskAt := w.Len()
	w.PutU32(0)

	if p, ok := c.Position.Get(); ok {
		mask |= 1 << bitPosition
		w.PutVec3(p)
	}
	if t, ok := c.Texture.Get(); ok {
		mask |= 1 << bitTexture
		w.PutU8(t)
	}
	if d, ok := c.Density.Get(); ok {
		mask |= 1 << bitDensity
		w.PutU8(d)
	}
	if o, ok := c.Orientation.Get(); ok {
		mask |= 1 << bitOrientation
		w.PutU8(uint8(o))
	}
	if col, ok := c.Color.Get(); ok {
		mask |= 1 << bitColor
		w.PutColor(col)
	}
	if m, ok := c.Magnitude.Get(); ok {
		mask |= 1 << bitMagnitude
		w.PutF32(m)
	}
	if y, ok := c.Yaw.Get(); ok {
		mask |= 1 << bitYaw
		w.PutF32(y)
	}
	if f, ok := c.Form.Get(); ok {
		mask |= 1 << bitForm
		w.PutU8(uint8(f))
	}
	if u, ok := c.UpperBound.Get(); ok {
		mask |= 1 << bitUpperBound
		w.PutVec3(u)
	}

	if c.IsUndo {
		mask |= 1 << bitIsUndo
	}
	for _, f := range flagFields {
		if v, ok := f.field(c).Get(); ok {
			mask |= 1 << f.bit
			if v {
				mask |= 1 << (f.bit + 1)
			}
		}
	}

	w.SetU32At(maskAt, mask)
}

// EncodeChange возвращает запись одного изменения
func EncodeChange(c *voxel.Change) []byte {
	w := NewWriter(make([]byte, 0, 32))
	AppendChange(w, c)
	return w.Bytes()
}

// decodeLatest читает запись текущей версии.
// Неизвестные биты и бит значения без бита наличия отклоняются,
// чтобы повторное кодирование давало те же байты.
func decodeLatest(r *Reader) (voxel.Change, error) {
	var c voxel.Change
	mask := r.U32()
	if err := r.Err(); err != nil {
		return c, err
	}
	if unknown := mask &^ knownMask; unknown != 0 {
		return c, fmt.Errorf("%w: неизвестный бит %d в маске %#08x", ErrMalformed, bits.TrailingZeros32(unknown), mask)
	}

	if has(mask, bitPosition) {
		c.Position = voxel.Some(r.Vec3())
	}
	if has(mask, bitTexture) {
		c.Texture = voxel.Some(r.U8())
	}
	if has(mask, bitDensity) {
		c.Density = voxel.Some(r.U8())
	}
	if has(mask, bitOrientation) {
		c.Orientation = voxel.Some(voxel.Orientation(r.U8()))
	}
	if has(mask, bitColor) {
		c.Color = voxel.Some(r.Color())
	}
	if has(mask, bitMagnitude) {
		c.Magnitude = voxel.Some(r.F32())
	}
	if has(mask, bitYaw) {
		c.Yaw = voxel.Some(r.F32())
	}
	if has(mask, bitForm) {
		f := voxel.Form(r.U8())
		if f > voxel.FormLast {
			r.Fail(fmt.Errorf("%w: неизвестная форма %d", ErrMalformed, uint8(f)))
		}
		c.Form = voxel.Some(f)
	}
	if has(mask, bitUpperBound) {
		c.UpperBound = voxel.Some(r.Vec3())
	}

	c.IsUndo = has(mask, bitIsUndo)
	for _, f := range flagFields {
		present, value := has(mask, f.bit), has(mask, f.bit+1)
		switch {
		case present:
			*f.field(&c) = voxel.Some(value)
		case value:
			return voxel.Change{}, fmt.Errorf("%w: бит значения %d без бита наличия", ErrMalformed, f.bit+1)
		}
	}

	if err := r.Err(); err != nil {
		return voxel.Change{}, err
	}
	return c, nil
}
