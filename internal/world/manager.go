package world

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/voxelfield/internal/changelog"
	"github.com/annel0/voxelfield/internal/logging"
	"github.com/annel0/voxelfield/internal/vec"
	"github.com/annel0/voxelfield/internal/voxel"
)

// MeshRefresher перестраивает сетку чанка после правки
type MeshRefresher interface {
	RefreshChunk(c *Chunk)
}

// Observer получает события движка (метрики, трассировка)
type Observer interface {
	ChangeApplied(form voxel.Form, voxels int)
	ChunksRefreshed(n int)
	PoolResized(capacity, inUse int)
}

// ApplyOptions параметры применения изменения. Нулевое значение
// пишет изменение в журнал и сразу обновляет сетки затронутых чанков.
type ApplyOptions struct {
	// SkipLog не записывать изменение в журнал карты
	SkipLog bool
	// Touched внешний набор затронутых чанков. Если задан, обновление
	// сеток остаётся за вызывающим (см. RefreshTouched).
	Touched *TouchedSet
	// OverrideBreakable разрешает объёмным формам менять неразрушаемые воксели
	OverrideBreakable bool
}

// Option настраивает ChunkManager
type Option func(*ChunkManager)

// WithMeshRefresher задаёт построитель сеток
func WithMeshRefresher(r MeshRefresher) Option {
	return func(m *ChunkManager) { m.mesh = r }
}

// WithObserver задаёт получателя событий
func WithObserver(o Observer) Option {
	return func(m *ChunkManager) { m.observer = o }
}

// WithLogger задаёт логгер
func WithLogger(l *logging.Logger) Option {
	return func(m *ChunkManager) { m.logger = l }
}

// ChunkManager владеет чанками загруженной карты и применяет к ним изменения.
// Не потокобезопасен: одна правка должна завершиться до начала следующей.
type ChunkManager struct {
	edge    int
	chunks  map[vec.Vec3]*Chunk
	pool    *Pool
	params  *MapParams
	terrain *Terrain
	log     *changelog.Log
	touched *TouchedSet

	mesh     MeshRefresher
	observer Observer
	logger   *logging.Logger
}

// NewChunkManager создаёт менеджер с чанками ребра edge и пустым пулом
func NewChunkManager(edge int, opts ...Option) (*ChunkManager, error) {
	if edge <= 0 {
		return nil, fmt.Errorf("%w: размер чанка %d", ErrInvalidMap, edge)
	}
	m := &ChunkManager{
		edge:    edge,
		chunks:  make(map[vec.Vec3]*Chunk),
		pool:    NewPool(edge, 0),
		log:     changelog.New(),
		touched: NewTouchedSet(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logging.GetWorldLogger()
	}
	return m, nil
}

// Edge возвращает длину ребра чанка
func (m *ChunkManager) Edge() int { return m.edge }

// Map возвращает параметры загруженной карты или nil
func (m *ChunkManager) Map() *MapParams { return m.params }

// Terrain возвращает генератор загруженной карты или nil
func (m *ChunkManager) Terrain() *Terrain { return m.terrain }

// Log возвращает журнал изменений карты
func (m *ChunkManager) Log() *changelog.Log { return m.log }

// Pool возвращает пул чанков
func (m *ChunkManager) Pool() *Pool { return m.pool }

// SetMap делает params текущей картой и очищает журнал.
// Чанки не трогаются; полную загрузку выполняет Loader.
func (m *ChunkManager) SetMap(params *MapParams) error {
	params = params.Clone()
	terrain, err := NewTerrain(params, m.edge)
	if err != nil {
		return err
	}
	if params.Terrain.Seed == 0 && params.Terrain.Noise == 0 {
		m.logger.Debug("Карта %q использует каноническую таблицу перестановок", params.Name)
	}
	m.params = params
	m.terrain = terrain
	m.log.Clear()
	return nil
}

// ResizePool приводит размер пула к size буферов
func (m *ChunkManager) ResizePool(size int) error {
	if err := m.pool.Resize(size); err != nil {
		return err
	}
	m.logger.Debug("Размер пула чанков: %d (свободно %d)", m.pool.Capacity(), m.pool.Free())
	if m.observer != nil {
		m.observer.PoolResized(m.pool.Capacity(), m.pool.InUse())
	}
	return nil
}

// Commission берёт чанк из пула и ставит его на позицию position.
// Если чанк на позиции уже есть, возвращается он.
func (m *ChunkManager) Commission(position vec.Vec3) (*Chunk, error) {
	if c, ok := m.chunks[position]; ok {
		return c, nil
	}
	c, err := m.pool.Acquire()
	if err != nil {
		return nil, fmt.Errorf("ввод чанка %s: %w", position, err)
	}
	c.Commission(position)
	m.chunks[position] = c
	return c, nil
}

// Decommission возвращает чанк позиции position в пул
func (m *ChunkManager) Decommission(position vec.Vec3) {
	c, ok := m.chunks[position]
	if !ok {
		return
	}
	c.Decommission()
	delete(m.chunks, position)
	m.pool.Release(c)
}

// Positions возвращает координаты всех введённых чанков
func (m *ChunkManager) Positions() []vec.Vec3 {
	out := make([]vec.Vec3, 0, len(m.chunks))
	for p := range m.chunks {
		out = append(out, p)
	}
	return out
}

// ChunkCount возвращает число введённых чанков
func (m *ChunkManager) ChunkCount() int { return len(m.chunks) }

// ChunkCoord возвращает координаты чанка, содержащего мировую позицию
func (m *ChunkManager) ChunkCoord(world vec.Vec3) vec.Vec3 {
	return world.ToChunkCoords(m.edge)
}

// LocalCoord переводит мировую позицию в локальную позицию чанка
func (m *ChunkManager) LocalCoord(world vec.Vec3, c *Chunk) vec.Vec3 {
	return world.Sub(c.position.Scale(m.edge))
}

// ChunkAt возвращает чанк по координатам чанка или nil
func (m *ChunkManager) ChunkAt(position vec.Vec3) *Chunk {
	return m.chunks[position]
}

// ChunkFromWorld возвращает чанк, содержащий мировую позицию, или nil
func (m *ChunkManager) ChunkFromWorld(world vec.Vec3) *Chunk {
	return m.chunks[m.ChunkCoord(world)]
}

// Voxel возвращает воксель мировой позиции
func (m *ChunkManager) Voxel(world vec.Vec3) (voxel.Voxel, bool) {
	c := m.ChunkFromWorld(world)
	if c == nil {
		return voxel.Voxel{}, false
	}
	return *c.VoxelUnchecked(m.LocalCoord(world, c)), true
}

// NaturalChange возвращает значение, которое в мировой позиции держит
// нетронутая карта
func (m *ChunkManager) NaturalChange(world vec.Vec3) (voxel.Change, bool) {
	c := m.ChunkFromWorld(world)
	if c == nil || m.terrain == nil {
		return voxel.Change{}, false
	}
	change := c.GenerateChange(m.LocalCoord(world, c), m.terrain)
	change.Position = voxel.Some(world)
	return change, true
}

// ApplyChange применяет изменение к миру.
// Правки вне введённых чанков молча отбрасываются.
func (m *ChunkManager) ApplyChange(change *voxel.Change, opts ApplyOptions) error {
	center, ok := change.Position.Get()
	if !ok {
		return fmt.Errorf("%w: нет позиции", ErrIncompleteChange)
	}
	form, ok := change.Form.Get()
	if !ok {
		return fmt.Errorf("%w: нет формы", ErrIncompleteChange)
	}
	if change.Revert.Or(false) && m.terrain == nil {
		return fmt.Errorf("откат к природному значению: %w", ErrNoMap)
	}

	e := edit{m: m, change: change, opts: opts, touched: opts.Touched}
	if e.touched == nil {
		e.touched = m.touched
	}

	switch form {
	case voxel.FormSingle:
		e.single(center)
	case voxel.FormPrism:
		upper, ok := change.UpperBound.Get()
		if !ok {
			return fmt.Errorf("%w: у призмы нет верхней границы", ErrIncompleteChange)
		}
		e.prism(center, upper)
	case voxel.FormSpherical, voxel.FormCylindrical:
		radius, ok := change.Magnitude.Get()
		if !ok {
			return fmt.Errorf("%w: у формы %s нет радиуса", ErrIncompleteChange, form)
		}
		if math.IsNaN(float64(radius)) || math.IsInf(float64(radius), 0) {
			return fmt.Errorf("%w: радиус %v", ErrIncompleteChange, radius)
		}
		e.falloff(form, center, radius)
	case voxel.FormWall:
		// Форма зарезервирована и ничего не меняет
	default:
		return fmt.Errorf("%w: неизвестная форма %d", ErrIncompleteChange, uint8(form))
	}

	if opts.Touched == nil {
		m.RefreshTouched(m.touched)
	}
	if m.logger.Enabled(logging.TRACE) {
		m.logger.Trace("Изменение %s %s: записано %d вокселей", form, center, e.written)
	}
	if m.observer != nil {
		m.observer.ChangeApplied(form, e.written)
	}
	return nil
}

// UndoChanges восстанавливает воксели, собранные в буфере отмены.
// Записи применяются в обратном порядке одним пакетом.
func (m *ChunkManager) UndoChanges(buf *voxel.UndoBuffer, opts ApplyOptions) error {
	external := opts.Touched != nil
	if !external {
		opts.Touched = m.touched
	}
	changes := buf.Changes()
	for i := range changes {
		if err := m.ApplyChange(&changes[i], opts); err != nil {
			return err
		}
	}
	if !external {
		m.RefreshTouched(m.touched)
	}
	return nil
}

// RefreshTouched обновляет сетки всех чанков набора и очищает его
func (m *ChunkManager) RefreshTouched(set *TouchedSet) {
	n := set.Len()
	if n == 0 {
		return
	}
	if m.mesh != nil {
		for _, c := range set.Chunks() {
			m.mesh.RefreshChunk(c)
		}
	}
	set.Clear()
	if m.observer != nil {
		m.observer.ChunksRefreshed(n)
	}
}

// markTouched отмечает чанк вокселя и соседа через грань,
// если воксель лежит на границе чанка
func (m *ChunkManager) markTouched(c *Chunk, local vec.Vec3, set *TouchedSet) {
	set.Add(c)
	m.touchNeighbour(c, local.X, vec.Vec3{X: 1}, set)
	m.touchNeighbour(c, local.Y, vec.Vec3{Y: 1}, set)
	m.touchNeighbour(c, local.Z, vec.Vec3{Z: 1}, set)
}

func (m *ChunkManager) touchNeighbour(c *Chunk, coord int, axis vec.Vec3, set *TouchedSet) {
	var sign int
	switch coord {
	case 0:
		sign = -1
	case m.edge - 1:
		sign = 1
	default:
		return
	}
	if n := m.chunks[c.position.Add(axis.Scale(sign))]; n != nil {
		set.Add(n)
	}
}

// edit состояние одного вызова ApplyChange
type edit struct {
	m       *ChunkManager
	change  *voxel.Change
	opts    ApplyOptions
	touched *TouchedSet
	written int
}

// evaluate начинает с природного значения при revert и,
// если mergeOriginal, накладывает исходное изменение
func (e *edit) evaluate(c *Chunk, local vec.Vec3, mergeOriginal bool) voxel.Change {
	var out voxel.Change
	if e.change.Revert.Or(false) {
		out = c.GenerateChange(local, e.m.terrain)
	}
	if mergeOriginal {
		out.Merge(e.change)
	}
	return out
}

// write записывает точечное изменение, сохраняя прежнее значение для отмены
func (e *edit) write(c *Chunk, local, world vec.Vec3, evaluated *voxel.Change) {
	asPoint(evaluated, world)
	if e.change.Undo != nil {
		e.change.Undo.Add(world, *c.VoxelUnchecked(local))
	}
	c.SetVoxelUnchecked(local, evaluated)
	e.m.markTouched(c, local, e.touched)
	e.written++

	if e.opts.SkipLog {
		return
	}
	if err := e.m.log.Add(*evaluated); err != nil {
		e.m.logger.Warn("Изменение %s не записано в журнал: %v", world, err)
	}
}

// asPoint превращает вычисленное изменение в одиночное по позиции world
func asPoint(c *voxel.Change, world vec.Vec3) {
	c.Position = voxel.Some(world)
	c.Form = voxel.Some(voxel.FormSingle)
	c.UpperBound = voxel.Opt[vec.Vec3]{}
	c.Magnitude = voxel.Opt[float32]{}
	c.Undo = nil
}

func (e *edit) single(world vec.Vec3) {
	c := e.m.ChunkFromWorld(world)
	if c == nil {
		return
	}
	local := e.m.LocalCoord(world, c)
	evaluated := e.evaluate(c, local, true)
	e.write(c, local, world, &evaluated)
}

// loadedBounds возвращает мировые границы введённых чанков включительно
func (m *ChunkManager) loadedBounds() (lo, hi vec.Vec3, ok bool) {
	for p := range m.chunks {
		if !ok {
			lo, hi, ok = p, p, true
			continue
		}
		lo, hi = lo.Min(p), hi.Max(p)
	}
	if !ok {
		return lo, hi, false
	}
	one := vec.Vec3{X: 1, Y: 1, Z: 1}
	return lo.Scale(m.edge), hi.Add(one).Scale(m.edge).Sub(one), true
}

func (e *edit) prism(a, b vec.Vec3) {
	loaded, loadedHi, ok := e.m.loadedBounds()
	if !ok {
		return
	}
	lo, hi := a.Min(b).Max(loaded), a.Max(b).Min(loadedHi)
	for x := lo.X; x <= hi.X; x++ {
		for y := lo.Y; y <= hi.Y; y++ {
			for z := lo.Z; z <= hi.Z; z++ {
				e.single(vec.Vec3{X: x, Y: y, Z: z})
			}
		}
	}
}

// falloffDistance расстояние до центра: полное для сферы,
// горизонтальное для цилиндра
func falloffDistance(form voxel.Form, center, p mgl32.Vec3) float32 {
	d := p.Sub(center)
	if form == voxel.FormCylindrical {
		return mgl32.Vec2{d.X(), d.Z()}.Len()
	}
	return d.Len()
}

func toMgl(v vec.Vec3) mgl32.Vec3 {
	return mgl32.Vec3{float32(v.X), float32(v.Y), float32(v.Z)}
}

var voxelCentre = mgl32.Vec3{0.5, 0.5, 0.5}

// falloff лепит плотность сферой или цилиндром. Положительный радиус
// добавляет материал, отрицательный вычитает.
func (e *edit) falloff(form voxel.Form, center vec.Vec3, radius float32) {
	r := float32(math.Abs(float64(radius)))
	if r == 0 {
		return
	}
	additive := radius > 0
	loaded, loadedHi, ok := e.m.loadedBounds()
	if !ok {
		return
	}
	// Вне введённых чанков писать некуда, поэтому обход ограничен ими.
	// Порядок обхода и розыгрыш случайных чисел от этого не меняются.
	bound := math.Ceil(float64(r))
	lo := vec.Vec3{X: clampOffset(-bound, loaded.X-center.X), Y: clampOffset(-bound, loaded.Y-center.Y), Z: clampOffset(-bound, loaded.Z-center.Z)}
	hi := vec.Vec3{X: -clampOffset(-bound, center.X-loadedHi.X), Y: -clampOffset(-bound, center.Y-loadedHi.Y), Z: -clampOffset(-bound, center.Z-loadedHi.Z)}

	// Один и тот же центр даёт один и тот же разброс
	rng := rand.New(rand.NewSource(int64(center.Hash())))
	noRandom := e.change.NoRandom.Or(false)
	modifiesBlocks := e.change.ModifiesBlocks.Or(false)
	c := toMgl(center)

	for ix := lo.X; ix <= hi.X; ix++ {
		for iy := lo.Y; iy <= hi.Y; iy++ {
			for iz := lo.Z; iz <= hi.Z; iz++ {
				world := center.Add(vec.Vec3{X: ix, Y: iy, Z: iz})
				chunk := e.m.ChunkFromWorld(world)
				if chunk == nil {
					continue
				}
				local := e.m.LocalCoord(world, chunk)
				vox := chunk.VoxelUnchecked(local)

				p := toMgl(world)
				distance := falloffDistance(form, c, p)
				fraction := float64(distance / r * 0.5)
				if !noRandom {
					fraction *= 0.85 + rng.Float64()*0.15
				}
				newDensity := voxel.DensityFromFraction(fraction)
				current := vox.Density

				if !e.opts.OverrideBreakable && vox.IsUnbreakable() {
					continue
				}

				evaluated := e.evaluate(chunk, local, false)
				staged := false
				if additive {
					newDensity = math.MaxUint8 - newDensity
					if newDensity > current {
						evaluated.Density = voxel.Some(newDensity)
						staged = true
						if vox.OnlySmooth() {
							evaluated.Merge(e.change)
						}
					}
				} else if newDensity < current {
					evaluated.Density = voxel.Some(newDensity)
					staged = true
				}

				if vox.HasBlock() && !modifiesBlocks {
					// Блок без разрешения не трогаем, но уже вычисленная плотность пишется
					if staged {
						e.write(chunk, local, world, &evaluated)
					}
					continue
				}

				if falloffDistance(form, c, p.Add(voxelCentre)) < r*1.5 {
					if !additive && modifiesBlocks && vox.HasBlock() {
						evaluated.HasBlock = voxel.Some(false)
					}
					if col, ok := e.change.Color.Get(); ok {
						t := voxel.Clamp01(float64(distance / r))
						evaluated.Color = voxel.Some(col.Lerp(vox.Color, t*0.1))
					}
					if tex, ok := e.change.Texture.Get(); ok {
						evaluated.Texture = voxel.Some(tex)
					}
				}
				evaluated.Natural = voxel.Some(false)
				e.write(chunk, local, world, &evaluated)
			}
		}
	}
}

// clampOffset возвращает большее из -bound и limit без переполнения int
func clampOffset(negBound float64, limit int) int {
	if float64(limit) > negBound {
		return limit
	}
	return int(negBound)
}
