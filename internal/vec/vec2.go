package vec

import "math"

// Vec2 представляет горизонтальную колонку мира (X, Z).
// Высота ландшафта зависит только от колонки, поэтому генератор
// считает шум один раз на колонку.
type Vec2 struct {
	X, Z int
}

// Add складывает две колонки
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Z: v.Z + other.Z}
}

// DistanceTo вычисляет горизонтальное расстояние до другой колонки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dz := float64(v.Z - other.Z)
	return math.Sqrt(dx*dx + dz*dz)
}

// WithY поднимает колонку до трехмерной позиции
func (v Vec2) WithY(y int) Vec3 {
	return Vec3{X: v.X, Y: y, Z: v.Z}
}
