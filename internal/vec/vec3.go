package vec

import (
	"fmt"
	"math"
)

// Vec3 представляет трехмерный вектор с целочисленными координатами.
// Используется и для мировых позиций вокселей, и для координат чанков.
type Vec3 struct {
	X int
	Y int
	Z int
}

// Vec3Float представляет трехмерный вектор с плавающими координатами
type Vec3Float struct {
	X float64
	Y float64
	Z float64
}

// Add складывает два вектора
func (v Vec3) Add(other Vec3) Vec3 {
	return Vec3{
		X: v.X + other.X,
		Y: v.Y + other.Y,
		Z: v.Z + other.Z,
	}
}

// Sub вычитает вектор
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{
		X: v.X - other.X,
		Y: v.Y - other.Y,
		Z: v.Z - other.Z,
	}
}

// Scale умножает каждую компоненту на скаляр
func (v Vec3) Scale(s int) Vec3 {
	return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

// Equals проверяет равенство векторов
func (v Vec3) Equals(other Vec3) bool {
	return v.X == other.X && v.Y == other.Y && v.Z == other.Z
}

// DistanceTo возвращает евклидово расстояние до другого вектора
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	dz := float64(v.Z - other.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Min возвращает покомпонентный минимум
func (v Vec3) Min(other Vec3) Vec3 {
	return Vec3{X: min(v.X, other.X), Y: min(v.Y, other.Y), Z: min(v.Z, other.Z)}
}

// Max возвращает покомпонентный максимум
func (v Vec3) Max(other Vec3) Vec3 {
	return Vec3{X: max(v.X, other.X), Y: max(v.Y, other.Y), Z: max(v.Z, other.Z)}
}

// ToChunkCoords преобразует мировые координаты в координаты чанка
// с ребром edge. Деление с округлением вниз, поэтому отрицательные
// координаты попадают в чанк -1, а не 0.
func (v Vec3) ToChunkCoords(edge int) Vec3 {
	return Vec3{X: floorDiv(v.X, edge), Y: floorDiv(v.Y, edge), Z: floorDiv(v.Z, edge)}
}

// LocalInChunk возвращает локальные координаты внутри чанка с ребром edge
func (v Vec3) LocalInChunk(edge int) Vec3 {
	return v.Sub(v.ToChunkCoords(edge).Scale(edge))
}

// Horizontal возвращает горизонтальную колонку (X, Z)
func (v Vec3) Horizontal() Vec2 {
	return Vec2{X: v.X, Z: v.Z}
}

// ToFloat преобразует в вектор с плавающей точкой
func (v Vec3) ToFloat() Vec3Float {
	return Vec3Float{X: float64(v.X), Y: float64(v.Y), Z: float64(v.Z)}
}

// Hash возвращает детерминированный хэш позиции.
// Одинаковые позиции всегда дают одинаковый хэш между запусками.
func (v Vec3) Hash() int32 {
	h := int32(v.X)
	h = h*397 ^ int32(v.Y)
	h = h*397 ^ int32(v.Z)
	return h
}

func (v Vec3) String() string {
	return fmt.Sprintf("[%d, %d, %d]", v.X, v.Y, v.Z)
}

// Add складывает два вектора
func (v Vec3Float) Add(other Vec3Float) Vec3Float {
	return Vec3Float{X: v.X + other.X, Y: v.Y + other.Y, Z: v.Z + other.Z}
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}
