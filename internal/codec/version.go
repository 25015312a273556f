package codec

import (
	"errors"
	"fmt"

	"github.com/annel0/voxelfield/internal/voxel"
)

// CurrentVersion версия формата записей, которую пишет кодировщик
const CurrentVersion = "1.1.0"

// ErrUnsupportedVersion для версии нет зарегистрированного декодера
var ErrUnsupportedVersion = errors.New("неподдерживаемая версия формата")

// Decoder читает одну запись изменения своей версии
type Decoder func(r *Reader) (voxel.Change, error)

// decoders реестр декодеров по версиям. Раскладки старых версий
// не сохранились, поэтому зарегистрирована только текущая.
var decoders = map[string]Decoder{
	CurrentVersion: decodeLatest,
}

// DecoderFor возвращает декодер версии. Пустая версия означает текущую.
func DecoderFor(version string) (Decoder, error) {
	if version == "" {
		version = CurrentVersion
	}
	d, ok := decoders[version]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, version)
	}
	return d, nil
}

// DecodeChange читает одну запись версии version.
// Возвращает изменение и число прочитанных байт.
func DecodeChange(data []byte, version string) (voxel.Change, int, error) {
	d, err := DecoderFor(version)
	if err != nil {
		return voxel.Change{}, 0, err
	}
	r := NewReader(data)
	c, err := d(r)
	if err != nil {
		return voxel.Change{}, r.Offset(), err
	}
	return c, r.Offset(), nil
}

// AppendChanges дописывает список изменений: uint32 количество и записи
func AppendChanges(w *Writer, changes []voxel.Change) {
	w.PutU32(uint32(len(changes)))
	for i := range changes {
		AppendChange(w, &changes[i])
	}
}

// EncodeChanges кодирует список изменений (например, дельту журнала)
func EncodeChanges(changes []voxel.Change) []byte {
	w := NewWriter(make([]byte, 0, 4+len(changes)*16))
	AppendChanges(w, changes)
	return w.Bytes()
}

// readChanges читает список изменений декодером d
func readChanges(r *Reader, d Decoder) ([]voxel.Change, error) {
	n := r.U32()
	if err := r.Err(); err != nil {
		return nil, err
	}
	// Каждая запись занимает хотя бы 4 байта маски
	if int64(n)*4 > int64(r.Remaining()) {
		return nil, fmt.Errorf("%w: заявлено %d записей, осталось %d байт", ErrShortBuffer, n, r.Remaining())
	}
	out := make([]voxel.Change, 0, n)
	for i := uint32(0); i < n; i++ {
		c, err := d(r)
		if err != nil {
			return nil, fmt.Errorf("запись %d: %w", i, err)
		}
		out = append(out, c)
	}
	return out, nil
}

// DecodeChanges разбирает список, записанный EncodeChanges
func DecodeChanges(data []byte, version string) ([]voxel.Change, error) {
	d, err := DecoderFor(version)
	if err != nil {
		return nil, err
	}
	r := NewReader(data)
	changes, err := readChanges(r, d)
	if err != nil {
		return nil, err
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d лишних байт после списка", ErrMalformed, r.Remaining())
	}
	return changes, nil
}
