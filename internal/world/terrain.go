package world

import (
	"fmt"

	"github.com/annel0/voxelfield/internal/noise"
	"github.com/annel0/voxelfield/internal/vec"
	"github.com/annel0/voxelfield/internal/voxel"
)

// stoneDepth глубина под поверхностью, с которой начинается глубинная порода
const stoneDepth = 5.0

// Terrain генератор природных значений вокселей карты
type Terrain struct {
	params  *MapParams
	field   noise.Field
	octaves noise.Octaves
	edge    int
	grass   voxel.Change
	stone   voxel.Change
}

// NewTerrain создаёт генератор для карты с чанками размера edge
func NewTerrain(params *MapParams, edge int) (*Terrain, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if edge <= 0 {
		return nil, fmt.Errorf("%w: размер чанка %d", ErrInvalidMap, edge)
	}
	field, err := noise.New(params.Terrain.Noise, int64(params.Terrain.Seed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMap, err)
	}
	return &Terrain{
		params:  params,
		field:   field,
		octaves: params.Terrain.octaves(),
		edge:    edge,
		grass:   params.Terrain.Grass.Or(DefaultGrass()),
		stone:   params.Terrain.Stone.Or(DefaultStone()),
	}, nil
}

// Params возвращает параметры карты
func (t *Terrain) Params() *MapParams { return t.params }

// SurfaceOffset возвращает шумовую добавку к высоте в столбце (x, z)
func (t *Terrain) SurfaceOffset(column vec.Vec2) float64 {
	return noise.Fractal(t.field, float64(column.X), float64(column.Z), t.octaves)
}

// ChangeAt строит природное изменение для вокселя local чанка chunk.
// offset должен быть равен SurfaceOffset столбца этого вокселя.
func (t *Terrain) ChangeAt(chunk, local vec.Vec3, offset float64) voxel.Change {
	worldY := chunk.Y*t.edge + local.Y
	height := offset + float64(t.params.TerrainHeight.Value) - float64(worldY)

	base := t.grass
	if height > stoneDepth {
		base = t.stone
	}
	base.Merge(&voxel.Change{
		HasBlock:    voxel.Some(false),
		Density:     voxel.Some(heightDensity(height)),
		IsBreakable: voxel.Some(t.breakable(chunk, local)),
		Orientation: voxel.Some(voxel.OrientationNone),
		Natural:     voxel.Some(true),
		Form:        voxel.Some(voxel.FormSingle),
	})
	base.Undo = nil
	return base
}

// heightDensity переводит высоту над поверхностью в плотность.
// Высота ограничивается [0,2] до приведения, дробная часть отбрасывается.
func heightDensity(height float64) uint8 {
	if height < 0 {
		height = 0
	} else if height > 2 {
		height = 2
	}
	return uint8(height * 255 / 2)
}

// breakable запрещает разрушать внешнюю оболочку карты.
// У нижней границы закрыты два слоя, у верхней один.
func (t *Terrain) breakable(chunk, local vec.Vec3) bool {
	if t.params.BreakableEdges {
		return true
	}
	lower, upper := t.params.Dimension.Lower, t.params.Dimension.Upper
	last := t.edge - 1
	edge := chunk.X == lower.X && local.X <= 1 ||
		chunk.X == upper.X && local.X == last ||
		chunk.Y == lower.Y && local.Y <= 1 ||
		chunk.Y == upper.Y && local.Y == last ||
		chunk.Z == lower.Z && local.Z <= 1 ||
		chunk.Z == upper.Z && local.Z == last
	return !edge
}
