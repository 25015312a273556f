package world

import (
	"fmt"

	"github.com/annel0/voxelfield/internal/vec"
	"github.com/annel0/voxelfield/internal/voxel"
)

// Chunk кубический участок мира из edge³ вокселей.
// Буфер вокселей принадлежит пулу и переиспользуется между вводами в работу.
type Chunk struct {
	handle       Handle
	edge         int
	position     vec.Vec3 // координаты чанка (не вокселя)
	voxels       []voxel.Voxel
	inCommission bool
	pooled       bool
	name         string
}

func newChunk(handle Handle, edge int) *Chunk {
	return &Chunk{
		handle: handle,
		edge:   edge,
		voxels: make([]voxel.Voxel, edge*edge*edge),
		pooled: true,
		name:   "Decommissioned Chunk",
	}
}

// Handle возвращает идентификатор буфера в пуле
func (c *Chunk) Handle() Handle { return c.handle }

// Position возвращает координаты чанка
func (c *Chunk) Position() vec.Vec3 { return c.position }

// Edge возвращает длину ребра в вокселях
func (c *Chunk) Edge() int { return c.edge }

// Name возвращает диагностическое имя
func (c *Chunk) Name() string { return c.name }

// InCommission сообщает, введён ли чанк в работу
func (c *Chunk) InCommission() bool { return c.inCommission }

// Origin возвращает мировую позицию вокселя (0,0,0) чанка
func (c *Chunk) Origin() vec.Vec3 { return c.position.Scale(c.edge) }

// Commission вводит чанк в работу на позиции position с чистым буфером
func (c *Chunk) Commission(position vec.Vec3) {
	clear(c.voxels)
	c.position = position
	c.inCommission = true
	c.name = fmt.Sprintf("Chunk %s", position)
}

// Decommission выводит чанк из работы. Буфер остаётся за чанком.
func (c *Chunk) Decommission() {
	clear(c.voxels)
	c.inCommission = false
	c.name = "Decommissioned Chunk"
}

// Inside проверяет, что локальная позиция лежит внутри чанка
func (c *Chunk) Inside(local vec.Vec3) bool {
	return local.X >= 0 && local.Y >= 0 && local.Z >= 0 &&
		local.X < c.edge && local.Y < c.edge && local.Z < c.edge
}

func (c *Chunk) index(local vec.Vec3) int {
	return local.Z + c.edge*(local.Y+c.edge*local.X)
}

// SetVoxelUnchecked переносит заданные поля изменения на воксель.
// Границы не проверяются.
func (c *Chunk) SetVoxelUnchecked(local vec.Vec3, change *voxel.Change) {
	c.voxels[c.index(local)].Apply(change)
}

// VoxelUnchecked возвращает указатель на воксель для чтения или правки на месте.
// Границы не проверяются.
func (c *Chunk) VoxelUnchecked(local vec.Vec3) *voxel.Voxel {
	return &c.voxels[c.index(local)]
}

// GenerateChange возвращает природное значение вокселя без изменения чанка
func (c *Chunk) GenerateChange(local vec.Vec3, terrain *Terrain) voxel.Change {
	column := c.Origin().Add(local).Horizontal()
	return terrain.ChangeAt(c.position, local, terrain.SurfaceOffset(column))
}

// FillFromTerrain заполняет весь чанк природными значениями.
// Шум считается один раз на столбец.
func (c *Chunk) FillFromTerrain(terrain *Terrain) {
	origin := c.Origin()
	for x := 0; x < c.edge; x++ {
		for z := 0; z < c.edge; z++ {
			offset := terrain.SurfaceOffset(vec.Vec2{X: origin.X + x, Z: origin.Z + z})
			for y := 0; y < c.edge; y++ {
				local := vec.Vec3{X: x, Y: y, Z: z}
				change := terrain.ChangeAt(c.position, local, offset)
				c.SetVoxelUnchecked(local, &change)
			}
		}
	}
}

func (c *Chunk) String() string { return c.name }
