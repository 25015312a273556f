package voxel

// Opt хранит необязательное значение поля изменения.
// Отсутствующее поле отличается от поля с нулевым значением:
// слияние изменений переносит только заданные поля.
type Opt[T any] struct {
	Value T
	Set   bool
}

// Some создаёт заданное значение
func Some[T any](value T) Opt[T] {
	return Opt[T]{Value: value, Set: true}
}

// Get возвращает значение и признак его наличия
func (o Opt[T]) Get() (T, bool) {
	return o.Value, o.Set
}

// Or возвращает значение или def, если поле не задано
func (o Opt[T]) Or(def T) T {
	if o.Set {
		return o.Value
	}
	return def
}

// override переписывает o значением other, если other задано
func (o *Opt[T]) override(other Opt[T]) {
	if other.Set {
		*o = other
	}
}
