package codec

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/annel0/voxelfield/internal/noise"
	"github.com/annel0/voxelfield/internal/voxel"
	"github.com/annel0/voxelfield/internal/world"
)

var (
	mapMagic        = []byte("VXFM")
	compressedMagic = []byte("VXFZ")
)

// ErrNotMap данные не являются записью карты
var ErrNotMap = errors.New("данные не являются записью карты")

// MapRecord сохранённая карта: параметры генерации и журнал изменений
type MapRecord struct {
	ID      uuid.UUID
	Params  world.MapParams
	Changes []voxel.Change
}

// NewMapRecord создаёт запись с новым идентификатором
func NewMapRecord(params world.MapParams, changes []voxel.Change) *MapRecord {
	return &MapRecord{ID: uuid.New(), Params: params, Changes: changes}
}

func putOptChange(w *Writer, c voxel.Opt[voxel.Change]) {
	w.PutBool(c.Set)
	if c.Set {
		AppendChange(w, &c.Value)
	}
}

func readOptChange(r *Reader, d Decoder) voxel.Opt[voxel.Change] {
	if !r.Bool() || r.Err() != nil {
		return voxel.Opt[voxel.Change]{}
	}
	c, err := d(r)
	if err != nil {
		r.Fail(err)
		return voxel.Opt[voxel.Change]{}
	}
	return voxel.Some(c)
}

// EncodeMap кодирует запись карты. Изменения пишутся текущей версией формата.
func EncodeMap(rec *MapRecord) []byte {
	w := NewWriter(make([]byte, 0, 128+len(rec.Changes)*16))
	w.PutRaw(mapMagic)
	w.PutString(CurrentVersion)
	w.PutRaw(rec.ID[:])

	p := &rec.Params
	w.PutString(p.Name)
	w.PutString(p.Version)
	w.PutBool(p.TerrainHeight.Set)
	w.PutI32(p.TerrainHeight.Value)
	w.PutVec3(p.Dimension.Lower)
	w.PutVec3(p.Dimension.Upper)

	t := &p.Terrain
	w.PutI32(t.Seed)
	w.PutU8(t.Octaves)
	w.PutF32(t.LateralScale)
	w.PutF32(t.VerticalScale)
	w.PutF32(t.Persistence)
	w.PutF32(t.Lacunarity)
	w.PutU8(uint8(t.Noise))
	putOptChange(w, t.Grass)
	putOptChange(w, t.Stone)
	w.PutBool(p.BreakableEdges)

	AppendChanges(w, rec.Changes)
	return w.Bytes()
}

// DecodeMap разбирает запись, созданную EncodeMap
func DecodeMap(data []byte) (*MapRecord, error) {
	if !bytes.HasPrefix(data, mapMagic) {
		return nil, ErrNotMap
	}
	r := NewReader(data[len(mapMagic):])

	version := r.Str()
	if err := r.Err(); err != nil {
		return nil, err
	}
	d, err := DecoderFor(version)
	if err != nil {
		return nil, err
	}

	rec := &MapRecord{}
	copy(rec.ID[:], r.Raw(len(rec.ID)))

	p := &rec.Params
	p.Name = r.Str()
	p.Version = r.Str()
	hasHeight := r.Bool()
	height := r.I32()
	if hasHeight {
		p.TerrainHeight = voxel.Some(height)
	}
	p.Dimension.Lower = r.Vec3()
	p.Dimension.Upper = r.Vec3()

	t := &p.Terrain
	t.Seed = r.I32()
	t.Octaves = r.U8()
	t.LateralScale = r.F32()
	t.VerticalScale = r.F32()
	t.Persistence = r.F32()
	t.Lacunarity = r.F32()
	t.Noise = noise.Kind(r.U8())
	t.Grass = readOptChange(r, d)
	t.Stone = readOptChange(r, d)
	p.BreakableEdges = r.Bool()
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("параметры карты: %w", err)
	}

	if rec.Changes, err = readChanges(r, d); err != nil {
		return nil, fmt.Errorf("журнал карты: %w", err)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d лишних байт после карты", ErrMalformed, r.Remaining())
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return rec, nil
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

func initZstd() error {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdErr
}

// EncodeMapCompressed кодирует карту и сжимает её zstd
func EncodeMapCompressed(rec *MapRecord) ([]byte, error) {
	if err := initZstd(); err != nil {
		return nil, fmt.Errorf("инициализация zstd: %w", err)
	}
	out := append([]byte(nil), compressedMagic...)
	return zstdEncoder.EncodeAll(EncodeMap(rec), out), nil
}

// DecodeMapAuto разбирает карту в сжатом или обычном виде
func DecodeMapAuto(data []byte) (*MapRecord, error) {
	if !bytes.HasPrefix(data, compressedMagic) {
		return DecodeMap(data)
	}
	if err := initZstd(); err != nil {
		return nil, fmt.Errorf("инициализация zstd: %w", err)
	}
	raw, err := zstdDecoder.DecodeAll(data[len(compressedMagic):], nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка распаковки zstd: %w", err)
	}
	return DecodeMap(raw)
}
