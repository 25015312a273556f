package world

import (
	"errors"
	"fmt"

	"github.com/annel0/voxelfield/internal/noise"
	"github.com/annel0/voxelfield/internal/vec"
	"github.com/annel0/voxelfield/internal/voxel"
)

var (
	// ErrInvalidMap некорректные параметры генерации карты
	ErrInvalidMap = errors.New("некорректные параметры карты")
	// ErrPoolExhausted в пуле не осталось свободных чанков
	ErrPoolExhausted = errors.New("пул чанков исчерпан")
	// ErrIncompleteChange у изменения нет полей, нужных его форме
	ErrIncompleteChange = errors.New("неполное изменение")
	// ErrNoMap операция требует загруженной карты
	ErrNoMap = errors.New("карта не загружена")
)

// Dimension границы карты в координатах чанков (включительно)
type Dimension struct {
	Lower vec.Vec3
	Upper vec.Vec3
}

// Size возвращает количество чанков по каждой оси
func (d Dimension) Size() vec.Vec3 {
	return d.Upper.Sub(d.Lower).Add(vec.Vec3{X: 1, Y: 1, Z: 1})
}

// Volume возвращает общее количество чанков
func (d Dimension) Volume() int {
	s := d.Size()
	return s.X * s.Y * s.Z
}

// Contains проверяет, лежит ли чанк внутри границ
func (d Dimension) Contains(chunk vec.Vec3) bool {
	return chunk.X >= d.Lower.X && chunk.X <= d.Upper.X &&
		chunk.Y >= d.Lower.Y && chunk.Y <= d.Upper.Y &&
		chunk.Z >= d.Lower.Z && chunk.Z <= d.Upper.Z
}

// Each обходит чанки в порядке x, y, z
func (d Dimension) Each(fn func(chunk vec.Vec3)) {
	for x := d.Lower.X; x <= d.Upper.X; x++ {
		for y := d.Lower.Y; y <= d.Upper.Y; y++ {
			for z := d.Lower.Z; z <= d.Upper.Z; z++ {
				fn(vec.Vec3{X: x, Y: y, Z: z})
			}
		}
	}
}

// TerrainGeneration параметры процедурного ландшафта
type TerrainGeneration struct {
	Seed          int32
	Octaves       uint8
	LateralScale  float32
	VerticalScale float32
	Persistence   float32
	Lacunarity    float32
	Noise         noise.Kind

	// Внешний вид поверхностного (Grass) и глубинного (Stone) материала
	Grass voxel.Opt[voxel.Change]
	Stone voxel.Opt[voxel.Change]
}

// octaves переводит параметры в настройки фрактального шума
func (t TerrainGeneration) octaves() noise.Octaves {
	return noise.Octaves{
		Count:         int(t.Octaves),
		LateralScale:  float64(t.LateralScale),
		VerticalScale: float64(t.VerticalScale),
		Persistence:   float64(t.Persistence),
		Lacunarity:    float64(t.Lacunarity),
	}
}

// MapParams неизменяемые параметры генерации загруженной карты
type MapParams struct {
	Name    string
	Version string

	// TerrainHeight базовая высота поверхности; карта без высоты не генерируется
	TerrainHeight  voxel.Opt[int32]
	Dimension      Dimension
	Terrain        TerrainGeneration
	BreakableEdges bool
}

// DefaultGrass внешний вид поверхности по умолчанию
func DefaultGrass() voxel.Change {
	return voxel.Change{Texture: voxel.Some(voxel.TextureSolid), Color: voxel.Some(voxel.ColorGrass)}
}

// DefaultStone внешний вид глубинной породы по умолчанию
func DefaultStone() voxel.Change {
	return voxel.Change{Texture: voxel.Some(voxel.TextureCheckered), Color: voxel.Some(voxel.ColorStone)}
}

// DefaultMapParams возвращает небольшую карту с умеренным рельефом
func DefaultMapParams() MapParams {
	return MapParams{
		Name:          "default",
		Version:       "1",
		TerrainHeight: voxel.Some[int32](8),
		Dimension: Dimension{
			Lower: vec.Vec3{X: -2, Y: 0, Z: -2},
			Upper: vec.Vec3{X: 1, Y: 1, Z: 1},
		},
		Terrain: TerrainGeneration{
			Seed:          0,
			Octaves:       4,
			LateralScale:  35,
			VerticalScale: 3.5,
			Persistence:   0.5,
			Lacunarity:    2,
		},
	}
}

// Validate проверяет параметры перед загрузкой
func (p *MapParams) Validate() error {
	d := p.Dimension
	if d.Lower.X > d.Upper.X || d.Lower.Y > d.Upper.Y || d.Lower.Z > d.Upper.Z {
		return fmt.Errorf("%w: нижняя граница %s выше верхней %s", ErrInvalidMap, d.Lower, d.Upper)
	}
	t := p.Terrain
	if t.Octaves > 0 && t.LateralScale == 0 {
		return fmt.Errorf("%w: lateralScale не может быть нулевым при %d октавах", ErrInvalidMap, t.Octaves)
	}
	if t.Noise > noise.KindPerlin {
		return fmt.Errorf("%w: неизвестный тип шума %s", ErrInvalidMap, t.Noise)
	}
	for _, c := range []voxel.Opt[voxel.Change]{t.Grass, t.Stone} {
		if !c.Set {
			continue
		}
		if tex, ok := c.Value.Texture.Get(); ok && tex > voxel.TextureLast {
			return fmt.Errorf("%w: неизвестная текстура %d", ErrInvalidMap, tex)
		}
	}
	return nil
}

// ChunkVolume возвращает размер пула, нужный для карты
func (p *MapParams) ChunkVolume() int {
	return p.Dimension.Volume()
}

// Clone возвращает независимую копию параметров
func (p *MapParams) Clone() *MapParams {
	c := *p
	c.Terrain.Grass.Value.Undo = nil
	c.Terrain.Stone.Value.Undo = nil
	return &c
}
