package world

import "github.com/annel0/voxelfield/internal/vec"

// TouchedSet рабочий набор чанков, которым нужно обновить сетку.
// Порядок соответствует первому касанию; набор переиспользуется между правками.
type TouchedSet struct {
	index  map[vec.Vec3]struct{}
	chunks []*Chunk
}

// NewTouchedSet создаёт пустой набор
func NewTouchedSet() *TouchedSet {
	return &TouchedSet{index: make(map[vec.Vec3]struct{})}
}

// Add добавляет чанк, если его ещё нет
func (t *TouchedSet) Add(c *Chunk) {
	if _, ok := t.index[c.position]; ok {
		return
	}
	t.index[c.position] = struct{}{}
	t.chunks = append(t.chunks, c)
}

// Contains проверяет наличие чанка с координатами position
func (t *TouchedSet) Contains(position vec.Vec3) bool {
	_, ok := t.index[position]
	return ok
}

// Len возвращает количество чанков
func (t *TouchedSet) Len() int { return len(t.chunks) }

// Chunks возвращает чанки в порядке касания
func (t *TouchedSet) Chunks() []*Chunk { return t.chunks }

// Clear очищает набор, сохраняя выделенную память
func (t *TouchedSet) Clear() {
	clear(t.index)
	clear(t.chunks)
	t.chunks = t.chunks[:0]
}
