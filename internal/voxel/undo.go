package voxel

import "github.com/annel0/voxelfield/internal/vec"

// UndoEntry прежнее значение вокселя до записи
type UndoEntry struct {
	Position vec.Vec3
	Voxel    Voxel
}

// UndoBuffer накапливает прежние значения в порядке записи
type UndoBuffer struct {
	entries []UndoEntry
}

// Add запоминает значение вокселя перед его перезаписью
func (u *UndoBuffer) Add(position vec.Vec3, previous Voxel) {
	u.entries = append(u.entries, UndoEntry{Position: position, Voxel: previous})
}

// Len возвращает количество записей
func (u *UndoBuffer) Len() int { return len(u.entries) }

// Entries возвращает записи в порядке добавления
func (u *UndoBuffer) Entries() []UndoEntry {
	out := make([]UndoEntry, len(u.entries))
	copy(out, u.entries)
	return out
}

// Reset очищает буфер, сохраняя ёмкость
func (u *UndoBuffer) Reset() { u.entries = u.entries[:0] }

// Changes строит одиночные изменения отмены. Порядок обратный записи,
// так что при повторной записи одной позиции побеждает самое раннее значение.
func (u *UndoBuffer) Changes() []Change {
	out := make([]Change, 0, len(u.entries))
	for i := len(u.entries) - 1; i >= 0; i-- {
		e := u.entries[i]
		c := e.Voxel.Snapshot()
		c.Position = Some(e.Position)
		c.IsUndo = true
		out = append(out, c)
	}
	return out
}
