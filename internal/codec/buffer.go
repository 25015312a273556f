package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/annel0/voxelfield/internal/vec"
	"github.com/annel0/voxelfield/internal/voxel"
)

// ErrShortBuffer данные закончились раньше записи
var ErrShortBuffer = errors.New("недостаточно данных")

var order = binary.LittleEndian

// Writer дописывает значения в срез байт (little-endian)
type Writer struct {
	buf []byte
}

// NewWriter создаёт писатель, дописывающий в dst
func NewWriter(dst []byte) *Writer { return &Writer{buf: dst} }

// Bytes возвращает записанные данные
func (w *Writer) Bytes() []byte { return w.buf }

// Len возвращает длину записанных данных
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) PutU8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) PutU16(v uint16) { w.buf = order.AppendUint16(w.buf, v) }
func (w *Writer) PutU32(v uint32) { w.buf = order.AppendUint32(w.buf, v) }
func (w *Writer) PutI32(v int32)  { w.PutU32(uint32(v)) }
func (w *Writer) PutF32(v float32) {
	w.PutU32(math.Float32bits(v))
}

func (w *Writer) PutBool(v bool) {
	if v {
		w.PutU8(1)
	} else {
		w.PutU8(0)
	}
}

// PutString пишет строку с длиной uint16
func (w *Writer) PutString(s string) {
	n := min(len(s), math.MaxUint16)
	w.PutU16(uint16(n))
	w.buf = append(w.buf, s[:n]...)
}

func (w *Writer) PutRaw(b []byte) { w.buf = append(w.buf, b...) }

// PutVec3 пишет позицию тремя int32. Компоненты вне диапазона
// обрезаются, поэтому данные извне проверяются через CheckVec3.
func (w *Writer) PutVec3(v vec.Vec3) {
	w.PutI32(int32(v.X))
	w.PutI32(int32(v.Y))
	w.PutI32(int32(v.Z))
}

// PutColor пишет цвет четырьмя байтами RGBA
func (w *Writer) PutColor(c voxel.Color) {
	w.buf = append(w.buf, c.R, c.G, c.B, c.A)
}

// SetU32At перезаписывает uint32 по смещению offset
func (w *Writer) SetU32At(offset int, v uint32) {
	order.PutUint32(w.buf[offset:], v)
}

// Reader читает значения из среза байт. Первая ошибка запоминается,
// последующие чтения возвращают нули.
type Reader struct {
	data []byte
	off  int
	err  error
}

// NewReader создаёт читателя данных
func NewReader(data []byte) *Reader { return &Reader{data: data} }

// Err возвращает первую ошибку чтения
func (r *Reader) Err() error { return r.err }

// Offset возвращает количество прочитанных байт
func (r *Reader) Offset() int { return r.off }

// Remaining возвращает количество непрочитанных байт
func (r *Reader) Remaining() int { return len(r.data) - r.off }

// Fail запоминает ошибку разбора, если ошибки ещё не было
func (r *Reader) Fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.Remaining() < n {
		r.err = fmt.Errorf("%w: нужно %d байт на смещении %d, осталось %d", ErrShortBuffer, n, r.off, r.Remaining())
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) U16() uint16 {
	if b := r.take(2); b != nil {
		return order.Uint16(b)
	}
	return 0
}

func (r *Reader) U32() uint32 {
	if b := r.take(4); b != nil {
		return order.Uint32(b)
	}
	return 0
}

func (r *Reader) I32() int32   { return int32(r.U32()) }
func (r *Reader) F32() float32 { return math.Float32frombits(r.U32()) }
func (r *Reader) Bool() bool   { return r.U8() != 0 }

// Str читает строку с длиной uint16
func (r *Reader) Str() string {
	n := int(r.U16())
	return string(r.take(n))
}

// Raw читает n байт
func (r *Reader) Raw(n int) []byte {
	return r.take(n)
}

func (r *Reader) Vec3() vec.Vec3 {
	x, y, z := r.I32(), r.I32(), r.I32()
	return vec.Vec3{X: int(x), Y: int(y), Z: int(z)}
}

func (r *Reader) Color() voxel.Color {
	if b := r.take(4); b != nil {
		return voxel.Color{R: b[0], G: b[1], B: b[2], A: b[3]}
	}
	return voxel.Color{}
}
