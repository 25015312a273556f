package world

import (
	"math"
	"testing"

	"github.com/annel0/voxelfield/internal/vec"
	"github.com/annel0/voxelfield/internal/voxel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEdge = 8

type meshRecorder struct {
	refreshed []vec.Vec3
}

func (r *meshRecorder) RefreshChunk(c *Chunk) {
	r.refreshed = append(r.refreshed, c.Position())
}

type countingObserver struct {
	changes   map[voxel.Form]int
	voxels    int
	refreshed int
	capacity  int
}

func (o *countingObserver) ChangeApplied(form voxel.Form, voxels int) {
	if o.changes == nil {
		o.changes = make(map[voxel.Form]int)
	}
	o.changes[form]++
	o.voxels += voxels
}

func (o *countingObserver) ChunksRefreshed(n int)        { o.refreshed += n }
func (o *countingObserver) PoolResized(capacity, _ int) { o.capacity = capacity }

// flatParams плоская карта 3x3x3 чанка с поверхностью на y=0:
// y <= -2 твёрдое (255), y = -1 наполовину (127), выше пусто.
func flatParams() *MapParams {
	return &MapParams{
		Name:          "flat",
		TerrainHeight: voxel.Some[int32](0),
		Dimension: Dimension{
			Lower: vec.Vec3{X: -1, Y: -1, Z: -1},
			Upper: vec.Vec3{X: 1, Y: 1, Z: 1},
		},
	}
}

func load(t *testing.T, m *ChunkManager, params *MapParams, changes []voxel.Change) {
	t.Helper()
	l, err := m.NewLoader(params, changes, nil)
	require.NoError(t, err)
	for i := 0; i < 10000; i++ {
		done, err := l.Step()
		require.NoError(t, err)
		if done {
			return
		}
	}
	t.Fatal("загрузка не завершилась")
}

func newFlatWorld(t *testing.T) (*ChunkManager, *meshRecorder) {
	t.Helper()
	rec := &meshRecorder{}
	m, err := NewChunkManager(testEdge, WithMeshRefresher(rec))
	require.NoError(t, err)
	load(t, m, flatParams(), nil)
	rec.refreshed = nil
	return m, rec
}

func at(x, y, z int) vec.Vec3 { return vec.Vec3{X: x, Y: y, Z: z} }

func mustVoxel(t *testing.T, m *ChunkManager, p vec.Vec3) voxel.Voxel {
	t.Helper()
	v, ok := m.Voxel(p)
	require.True(t, ok, "нет вокселя %s", p)
	return v
}

func apply(t *testing.T, m *ChunkManager, c voxel.Change, opts ApplyOptions) {
	t.Helper()
	require.NoError(t, m.ApplyChange(&c, opts))
}

func sphere(center vec.Vec3, magnitude float32) voxel.Change {
	return voxel.Change{
		Position:  voxel.Some(center),
		Form:      voxel.Some(voxel.FormSpherical),
		Magnitude: voxel.Some(magnitude),
		NoRandom:  voxel.Some(true),
	}
}

func point(p vec.Vec3) voxel.Change {
	return voxel.Change{Position: voxel.Some(p), Form: voxel.Some(voxel.FormSingle)}
}

// allVoxels снимает состояние всех вокселей карты
func allVoxels(m *ChunkManager) map[vec.Vec3]voxel.Voxel {
	out := make(map[vec.Vec3]voxel.Voxel)
	for _, pos := range m.Positions() {
		c := m.ChunkAt(pos)
		for x := 0; x < m.Edge(); x++ {
			for y := 0; y < m.Edge(); y++ {
				for z := 0; z < m.Edge(); z++ {
					local := at(x, y, z)
					out[c.Origin().Add(local)] = *c.VoxelUnchecked(local)
				}
			}
		}
	}
	return out
}

func TestChunkManager_CoordinateRoundTrip(t *testing.T) {
	m, _ := newFlatWorld(t)

	for _, p := range []vec.Vec3{at(0, 0, 0), at(-1, -1, -1), at(7, -8, 8), at(-8, 15, -3), at(15, 15, 15)} {
		cc := m.ChunkCoord(p)
		c := m.ChunkAt(cc)
		require.NotNil(t, c, "чанк для %s", p)
		local := m.LocalCoord(p, c)
		assert.True(t, c.Inside(local))
		assert.Equal(t, p, cc.Scale(testEdge).Add(local))
	}
}

func TestApplyChange_SubtractiveSphereScenario(t *testing.T) {
	m, _ := newFlatWorld(t)
	center := at(0, -4, 0)

	before := mustVoxel(t, m, center)
	require.Equal(t, uint8(255), before.Density)
	require.True(t, before.IsBreakable())
	require.False(t, before.HasBlock())

	apply(t, m, sphere(center, -3), ApplyOptions{})

	v := mustVoxel(t, m, center)
	assert.Equal(t, uint8(0), v.Density)
	assert.False(t, v.IsNatural())

	// Плотность строго убывает к центру
	assert.Equal(t, uint8(43), mustVoxel(t, m, at(1, -4, 0)).Density)
	assert.Equal(t, uint8(85), mustVoxel(t, m, at(2, -4, 0)).Density)
	assert.Equal(t, uint8(128), mustVoxel(t, m, at(3, -4, 0)).Density)
}

func TestApplyChange_AdditiveMonotonicity(t *testing.T) {
	m, _ := newFlatWorld(t)
	change := sphere(at(0, 4, 0), 4)
	change.Texture = voxel.Some(voxel.TextureStriped)
	change.Color = voxel.Some(voxel.ColorWood)
	apply(t, m, change, ApplyOptions{})

	expected := []uint8{255, 223, 191, 159, 127}
	for d, want := range expected {
		v := mustVoxel(t, m, at(d, 4, 0))
		assert.Equal(t, want, v.Density, "расстояние %d", d)
		if d > 0 {
			assert.Greater(t, mustVoxel(t, m, at(d-1, 4, 0)).Density, v.Density)
		}
	}

	core := mustVoxel(t, m, at(0, 4, 0))
	assert.Equal(t, voxel.TextureStriped, core.Texture, "гладкий воксель окрашивается")
	assert.Equal(t, voxel.ColorWood, core.Color)
}

func TestApplyChange_CylinderIgnoresHeight(t *testing.T) {
	m, _ := newFlatWorld(t)
	cyl := sphere(at(0, 4, 0), 2)
	cyl.Form = voxel.Some(voxel.FormCylindrical)
	apply(t, m, cyl, ApplyOptions{})
	assert.Equal(t, uint8(255), mustVoxel(t, m, at(0, 6, 0)).Density)

	s, _ := newFlatWorld(t)
	apply(t, s, sphere(at(0, 4, 0), 2), ApplyOptions{})
	assert.Equal(t, uint8(127), mustVoxel(t, s, at(0, 6, 0)).Density)
}

func TestApplyChange_BreakabilityGate(t *testing.T) {
	m, _ := newFlatWorld(t)
	before := allVoxels(m)

	apply(t, m, sphere(at(-7, -7, 0), -3), ApplyOptions{})

	after := allVoxels(m)
	changed := 0
	for p, v := range before {
		if v.IsUnbreakable() {
			assert.Equal(t, v, after[p], "неразрушаемый воксель %s изменился", p)
		} else if v != after[p] {
			changed++
		}
	}
	assert.Positive(t, changed)
	assert.Equal(t, uint8(255), after[at(-7, -7, 0)].Density)

	o, _ := newFlatWorld(t)
	apply(t, o, sphere(at(-7, -7, 0), -3), ApplyOptions{OverrideBreakable: true})
	assert.Equal(t, uint8(0), mustVoxel(t, o, at(-7, -7, 0)).Density)
}

func TestApplyChange_PrismWritesPointChanges(t *testing.T) {
	m, _ := newFlatWorld(t)
	change := voxel.Change{
		Position:   voxel.Some(at(2, 3, 4)),
		UpperBound: voxel.Some(at(0, 1, 2)),
		Form:       voxel.Some(voxel.FormPrism),
		Density:    voxel.Some[uint8](200),
		Color:      voxel.Some(voxel.ColorWood),
	}
	apply(t, m, change, ApplyOptions{})

	for x := 0; x <= 2; x++ {
		for y := 1; y <= 3; y++ {
			for z := 2; z <= 4; z++ {
				v := mustVoxel(t, m, at(x, y, z))
				assert.Equal(t, uint8(200), v.Density)
				assert.Equal(t, voxel.ColorWood, v.Color)
			}
		}
	}

	changes := m.Log().Changes()
	require.Len(t, changes, 27)
	for _, c := range changes {
		assert.True(t, c.IsPoint())
		assert.False(t, c.UpperBound.Set)
	}
}

func TestApplyChange_LogHoldsOnlyPointChanges(t *testing.T) {
	m, _ := newFlatWorld(t)
	cyl := sphere(at(3, -1, 3), -2.5)
	cyl.Form = voxel.Some(voxel.FormCylindrical)
	cyl.NoRandom = voxel.Opt[bool]{}
	apply(t, m, cyl, ApplyOptions{})
	apply(t, m, sphere(at(-3, 2, -3), 3), ApplyOptions{})

	require.Positive(t, m.Log().Len())
	m.Log().Range(func(c voxel.Change) bool {
		assert.True(t, c.IsPoint(), "запись %v", c)
		assert.False(t, c.Magnitude.Set)
		return true
	})
}

func TestApplyChange_SkipLog(t *testing.T) {
	m, _ := newFlatWorld(t)
	c := point(at(1, 1, 1))
	c.Density = voxel.Some[uint8](9)
	apply(t, m, c, ApplyOptions{SkipLog: true})
	assert.Equal(t, 0, m.Log().Len())
	assert.Equal(t, uint8(9), mustVoxel(t, m, at(1, 1, 1)).Density)
}

func TestApplyChange_WallAndMissingChunk(t *testing.T) {
	m, rec := newFlatWorld(t)
	before := allVoxels(m)

	wall := point(at(0, 0, 0))
	wall.Form = voxel.Some(voxel.FormWall)
	wall.Density = voxel.Some[uint8](1)
	apply(t, m, wall, ApplyOptions{})

	far := point(at(1000, 0, 0))
	far.Density = voxel.Some[uint8](1)
	apply(t, m, far, ApplyOptions{})
	apply(t, m, sphere(at(1000, 0, 0), 3), ApplyOptions{})

	assert.Equal(t, before, allVoxels(m))
	assert.Equal(t, 0, m.Log().Len())
	assert.Empty(t, rec.refreshed)
}

func TestApplyChange_IncompleteChanges(t *testing.T) {
	m, _ := newFlatWorld(t)

	assert.ErrorIs(t, m.ApplyChange(&voxel.Change{Form: voxel.Some(voxel.FormSingle)}, ApplyOptions{}), ErrIncompleteChange)
	assert.ErrorIs(t, m.ApplyChange(&voxel.Change{Position: voxel.Some(at(0, 0, 0))}, ApplyOptions{}), ErrIncompleteChange)

	prism := point(at(0, 0, 0))
	prism.Form = voxel.Some(voxel.FormPrism)
	assert.ErrorIs(t, m.ApplyChange(&prism, ApplyOptions{}), ErrIncompleteChange)

	s := sphere(at(0, 0, 0), 1)
	s.Magnitude = voxel.Opt[float32]{}
	assert.ErrorIs(t, m.ApplyChange(&s, ApplyOptions{}), ErrIncompleteChange)

	bare, err := NewChunkManager(testEdge)
	require.NoError(t, err)
	revert := point(at(0, 0, 0))
	revert.Revert = voxel.Some(true)
	assert.ErrorIs(t, bare.ApplyChange(&revert, ApplyOptions{}), ErrNoMap)
}

func TestApplyChange_HugeShapesStayInsideMap(t *testing.T) {
	m, _ := newFlatWorld(t)
	total := len(allVoxels(m))

	prism := voxel.Change{
		Position:   voxel.Some(at(-1_000_000_000, -1_000_000_000, -1_000_000_000)),
		UpperBound: voxel.Some(at(1_000_000_000, 1_000_000_000, 1_000_000_000)),
		Form:       voxel.Some(voxel.FormPrism),
		Texture:    voxel.Some(voxel.TextureStriped),
	}
	apply(t, m, prism, ApplyOptions{})
	assert.Equal(t, total, m.Log().Len(), "призма покрывает ровно введённые чанки")

	apply(t, m, sphere(at(0, -4, 0), -1e6), ApplyOptions{})
	assert.Equal(t, uint8(0), mustVoxel(t, m, at(0, -4, 0)).Density)

	// Сфера целиком вне карты ничего не пишет
	m.Log().Clear()
	apply(t, m, sphere(at(5000, 0, 0), 100), ApplyOptions{})
	assert.Equal(t, 0, m.Log().Len())

	for _, r := range []float32{float32(math.NaN()), float32(math.Inf(1)), float32(math.Inf(-1))} {
		s := sphere(at(0, 0, 0), r)
		assert.ErrorIs(t, m.ApplyChange(&s, ApplyOptions{}), ErrIncompleteChange)
	}
}

func TestApplyChange_NeighbourPropagation(t *testing.T) {
	m, rec := newFlatWorld(t)

	apply(t, m, point(at(3, 3, 3)), ApplyOptions{})
	assert.Equal(t, []vec.Vec3{at(0, 0, 0)}, rec.refreshed)

	rec.refreshed = nil
	apply(t, m, point(at(7, 0, 0)), ApplyOptions{})
	assert.Equal(t, []vec.Vec3{at(0, 0, 0), at(1, 0, 0), at(0, -1, 0), at(0, 0, -1)}, rec.refreshed)

	// Сосед за пределами карты не добавляется
	rec.refreshed = nil
	apply(t, m, point(at(15, 4, 4)), ApplyOptions{})
	assert.Equal(t, []vec.Vec3{at(1, 0, 0)}, rec.refreshed)
}

func TestApplyChange_ExternalTouchedSet(t *testing.T) {
	m, rec := newFlatWorld(t)
	set := NewTouchedSet()

	apply(t, m, point(at(1, 1, 1)), ApplyOptions{Touched: set})
	apply(t, m, point(at(-2, 1, 1)), ApplyOptions{Touched: set})
	assert.Empty(t, rec.refreshed)
	assert.Equal(t, 2, set.Len())

	m.RefreshTouched(set)
	assert.Equal(t, []vec.Vec3{at(0, 0, 0), at(-1, 0, 0)}, rec.refreshed)
	assert.Equal(t, 0, set.Len())
}

func TestApplyChange_BlockNeedsPermission(t *testing.T) {
	m, _ := newFlatWorld(t)
	center := at(0, -4, 0)
	block := point(center)
	block.HasBlock = voxel.Some(true)
	apply(t, m, block, ApplyOptions{})

	apply(t, m, sphere(center, -3), ApplyOptions{})
	v := mustVoxel(t, m, center)
	assert.Equal(t, uint8(0), v.Density, "вычисленная плотность всё равно пишется")
	assert.True(t, v.HasBlock())
	assert.True(t, v.IsNatural(), "остальная правка блока пропускается")

	o, _ := newFlatWorld(t)
	apply(t, o, block, ApplyOptions{})
	carve := sphere(center, -3)
	carve.ModifiesBlocks = voxel.Some(true)
	apply(t, o, carve, ApplyOptions{})
	v = mustVoxel(t, o, center)
	assert.False(t, v.HasBlock())
	assert.False(t, v.IsNatural())
}

func TestApplyChange_Revert(t *testing.T) {
	m, _ := newFlatWorld(t)
	p := at(0, -4, 0)

	dirty := point(p)
	dirty.Density = voxel.Some[uint8](10)
	dirty.Color = voxel.Some(voxel.ColorWood)
	apply(t, m, dirty, ApplyOptions{})

	revert := point(p)
	revert.Revert = voxel.Some(true)
	revert.Texture = voxel.Some(voxel.TextureStriped)
	apply(t, m, revert, ApplyOptions{})

	v := mustVoxel(t, m, p)
	assert.Equal(t, uint8(255), v.Density)
	assert.Equal(t, voxel.ColorGrass, v.Color)
	assert.Equal(t, voxel.TextureStriped, v.Texture)
	assert.True(t, v.IsNatural())

	natural, ok := m.NaturalChange(p)
	require.True(t, ok)
	assert.Equal(t, p, natural.Position.Value)
	assert.Equal(t, uint8(255), natural.Density.Value)

	_, ok = m.NaturalChange(at(500, 0, 0))
	assert.False(t, ok)
}

func TestApplyChange_UndoRestoresPreImage(t *testing.T) {
	m, rec := newFlatWorld(t)
	before := allVoxels(m)

	buf := &voxel.UndoBuffer{}
	change := sphere(at(2, -1, 2), 3.5)
	change.NoRandom = voxel.Opt[bool]{}
	change.Color = voxel.Some(voxel.ColorDirt)
	change.Undo = buf
	apply(t, m, change, ApplyOptions{})
	require.Positive(t, buf.Len())
	require.NotEqual(t, before, allVoxels(m))

	rec.refreshed = nil
	require.NoError(t, m.UndoChanges(buf, ApplyOptions{}))
	assert.Equal(t, before, allVoxels(m))
	assert.NotEmpty(t, rec.refreshed)
}

func TestApplyChange_JitterIsDeterministic(t *testing.T) {
	a, _ := newFlatWorld(t)
	b, _ := newFlatWorld(t)

	change := sphere(at(1, -2, 1), -4)
	change.NoRandom = voxel.Opt[bool]{}
	apply(t, a, change, ApplyOptions{})
	apply(t, b, change, ApplyOptions{})

	assert.Equal(t, allVoxels(a), allVoxels(b))
}

func TestApplyChange_ReplayReproducesWorld(t *testing.T) {
	live, _ := newFlatWorld(t)

	edits := []voxel.Change{
		sphere(at(0, -2, 0), -3),
		{Position: voxel.Some(at(-3, 0, -3)), UpperBound: voxel.Some(at(-1, 2, -1)), Form: voxel.Some(voxel.FormPrism), Density: voxel.Some[uint8](255), IsBreakable: voxel.Some(true)},
		sphere(at(-2, 1, -2), 2.5),
		{Position: voxel.Some(at(0, -2, 0)), Form: voxel.Some(voxel.FormSingle), Revert: voxel.Some(true), Color: voxel.Some(voxel.ColorWood)},
		{Position: voxel.Some(at(0, -2, 0)), Form: voxel.Some(voxel.FormSingle), Density: voxel.Some[uint8](7)},
	}
	edits[2].Color = voxel.Some(voxel.ColorDirt)
	edits[2].NoRandom = voxel.Opt[bool]{}
	for _, e := range edits {
		apply(t, live, e, ApplyOptions{})
	}

	replayed, err := NewChunkManager(testEdge)
	require.NoError(t, err)
	load(t, replayed, flatParams(), live.Log().Changes())

	assert.Equal(t, allVoxels(live), allVoxels(replayed))
	assert.Equal(t, live.Log().Changes(), replayed.Log().Changes())
	assert.Equal(t, 0, replayed.Log().PendingDelta(), "воспроизведённый журнал не считается новой дельтой")
}

func TestApplyChange_Observer(t *testing.T) {
	obs := &countingObserver{}
	m, err := NewChunkManager(testEdge, WithObserver(obs))
	require.NoError(t, err)
	load(t, m, flatParams(), nil)
	assert.Equal(t, 27, obs.capacity)
	assert.Equal(t, 27, obs.refreshed, "каждый чанк обновлён на стадии UpdatingMesh")

	c := point(at(1, 1, 1))
	c.Density = voxel.Some[uint8](3)
	apply(t, m, c, ApplyOptions{})
	assert.Equal(t, 1, obs.changes[voxel.FormSingle])
	assert.Equal(t, 1, obs.voxels)
	assert.Equal(t, 28, obs.refreshed)
}

func TestLoader_StagesAndReload(t *testing.T) {
	m, err := NewChunkManager(testEdge)
	require.NoError(t, err)

	var stages []Stage
	l, err := m.NewLoader(flatParams(), nil, func(p Progress) {
		if len(stages) == 0 || stages[len(stages)-1] != p.Stage {
			stages = append(stages, p.Stage)
		}
		assert.LessOrEqual(t, p.Fraction, float32(1))
	})
	require.NoError(t, err)

	steps := 0
	for {
		done, err := l.Step()
		require.NoError(t, err)
		steps++
		if done {
			break
		}
	}
	assert.Equal(t, []Stage{StageSettingUp, StageGenerating, StageUpdatingMesh, StageCompleted}, stages)
	assert.Equal(t, 27, m.ChunkCount())
	assert.Equal(t, 27, m.Pool().Capacity())
	assert.Greater(t, steps, 27*3, "загрузка идёт по одному чанку за шаг")

	small := &MapParams{Name: "small", TerrainHeight: voxel.Some[int32](3), Dimension: Dimension{}}
	stages = nil
	l, err = m.NewLoader(small, nil, func(p Progress) {
		if len(stages) == 0 || stages[len(stages)-1] != p.Stage {
			stages = append(stages, p.Stage)
		}
	})
	require.NoError(t, err)
	for done := false; !done; {
		done, err = l.Step()
		require.NoError(t, err)
	}
	assert.Equal(t, StageCleaningUp, stages[0])
	assert.Equal(t, 1, m.ChunkCount())
	assert.Equal(t, 1, m.Pool().Capacity())
	assert.Equal(t, "small", m.Map().Name)
}

func TestLoader_MapWithoutTerrain(t *testing.T) {
	m, err := NewChunkManager(testEdge)
	require.NoError(t, err)
	params := flatParams()
	params.TerrainHeight = voxel.Opt[int32]{}

	load(t, m, params, nil)
	assert.Equal(t, 0, m.ChunkCount())
	assert.Equal(t, "flat", m.Map().Name)
}

func TestLoader_Errors(t *testing.T) {
	m, err := NewChunkManager(testEdge)
	require.NoError(t, err)

	bad := flatParams()
	bad.Dimension.Lower = at(5, 5, 5)
	_, err = m.NewLoader(bad, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidMap)

	l, err := m.NewLoader(flatParams(), []voxel.Change{{Density: voxel.Some[uint8](1)}}, nil)
	require.NoError(t, err)
	var stepErr error
	for i := 0; i < 1000 && stepErr == nil; i++ {
		_, stepErr = l.Step()
	}
	assert.ErrorIs(t, stepErr, ErrIncompleteChange)
	assert.True(t, l.Done())
}

func TestChunkManager_CommissionExhaustsPool(t *testing.T) {
	m, err := NewChunkManager(testEdge)
	require.NoError(t, err)
	require.NoError(t, m.ResizePool(1))

	a, err := m.Commission(at(0, 0, 0))
	require.NoError(t, err)
	again, err := m.Commission(at(0, 0, 0))
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = m.Commission(at(1, 0, 0))
	assert.ErrorIs(t, err, ErrPoolExhausted)

	m.Decommission(at(0, 0, 0))
	m.Decommission(at(0, 0, 0))
	assert.Equal(t, 1, m.Pool().Free())
	_, err = m.Commission(at(1, 0, 0))
	assert.NoError(t, err)
}
