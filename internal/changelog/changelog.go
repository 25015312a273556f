// Package changelog хранит упорядоченную историю правок карты.
//
// Записи индексируются позицией вокселя. Повторная правка той же позиции
// сливается с предыдущей (правое слияние по полям) и остаётся на месте
// первой вставки, поэтому воспроизведение журнала в порядке Changes()
// даёт то же состояние мира, что и исходные правки.
package changelog

import (
	"errors"

	"github.com/annel0/voxelfield/internal/vec"
	"github.com/annel0/voxelfield/internal/voxel"
)

// ErrNoPosition возвращается для изменения без позиции
var ErrNoPosition = errors.New("изменение без позиции нельзя записать в журнал")

type entry struct {
	change voxel.Change
	dirty  bool // изменилось с последнего TakeDelta
}

// Log журнал изменений карты
type Log struct {
	index   map[vec.Vec3]int
	entries []entry
	dirty   int
}

// New создаёт пустой журнал
func New() *Log {
	return &Log{index: make(map[vec.Vec3]int)}
}

// FromChanges строит журнал из готового списка (например, из сохранённой карты)
func FromChanges(changes []voxel.Change) (*Log, error) {
	l := New()
	for i := range changes {
		if err := l.Add(changes[i]); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Add сливает изменение с записью той же позиции или добавляет новую в конец
func (l *Log) Add(change voxel.Change) error {
	pos, ok := change.Position.Get()
	if !ok {
		return ErrNoPosition
	}
	change.Undo = nil

	if i, exists := l.index[pos]; exists {
		e := &l.entries[i]
		e.change.Merge(&change)
		if !e.dirty {
			e.dirty = true
			l.dirty++
		}
		return nil
	}

	l.index[pos] = len(l.entries)
	l.entries = append(l.entries, entry{change: change, dirty: true})
	l.dirty++
	return nil
}

// Get возвращает слитое изменение позиции
func (l *Log) Get(pos vec.Vec3) (voxel.Change, bool) {
	i, ok := l.index[pos]
	if !ok {
		return voxel.Change{}, false
	}
	return l.entries[i].change, true
}

// Len возвращает число позиций в журнале
func (l *Log) Len() int { return len(l.entries) }

// Changes возвращает копию журнала в порядке воспроизведения
func (l *Log) Changes() []voxel.Change {
	out := make([]voxel.Change, len(l.entries))
	for i := range l.entries {
		out[i] = l.entries[i].change
	}
	return out
}

// Range обходит журнал в порядке воспроизведения, пока fn возвращает true
func (l *Log) Range(fn func(change voxel.Change) bool) {
	for i := range l.entries {
		if !fn(l.entries[i].change) {
			return
		}
	}
}

// TakeDelta возвращает записи, добавленные или изменённые с прошлого вызова,
// в порядке воспроизведения, и сбрасывает их отметки.
// Каждая запись дельты содержит полное слитое значение позиции.
func (l *Log) TakeDelta() []voxel.Change {
	if l.dirty == 0 {
		return nil
	}
	out := make([]voxel.Change, 0, l.dirty)
	for i := range l.entries {
		if l.entries[i].dirty {
			out = append(out, l.entries[i].change)
			l.entries[i].dirty = false
		}
	}
	l.dirty = 0
	return out
}

// PendingDelta возвращает число записей, ожидающих отправки
func (l *Log) PendingDelta() int { return l.dirty }

// Clear очищает журнал
func (l *Log) Clear() {
	l.index = make(map[vec.Vec3]int)
	l.entries = l.entries[:0]
	l.dirty = 0
}
