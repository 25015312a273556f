package noise

import (
	"fmt"

	"github.com/aquilax/go-perlin"
)

// Field источник когерентного шума для одного октавного слоя
type Field interface {
	Raw(x, y float64) float64
}

// Kind тип шумового поля карты
type Kind uint8

const (
	KindSimplex Kind = iota // симплекс на таблице перестановок (по умолчанию)
	KindPerlin              // шум Перлина из github.com/aquilax/go-perlin
)

func (k Kind) String() string {
	switch k {
	case KindSimplex:
		return "simplex"
	case KindPerlin:
		return "perlin"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind разбирает имя поля из конфигурации
func ParseKind(name string) (Kind, error) {
	switch name {
	case "", "simplex":
		return KindSimplex, nil
	case "perlin":
		return KindPerlin, nil
	default:
		return 0, fmt.Errorf("неизвестный тип шума %q", name)
	}
}

// New создаёт поле указанного типа
func New(kind Kind, seed int64) (Field, error) {
	switch kind {
	case KindSimplex:
		return NewSimplex(seed), nil
	case KindPerlin:
		return NewPerlin(seed), nil
	default:
		return nil, fmt.Errorf("неизвестный тип шума %d", kind)
	}
}

// Perlin одна октава шума Перлина. Октавы складывает Fractal,
// поэтому внутренний генератор создаётся с n=1.
type Perlin struct {
	p *perlin.Perlin
}

// NewPerlin создаёт поле Перлина с указанным сидом
func NewPerlin(seed int64) *Perlin {
	alpha := 2.0 // Сглаживание шума
	beta := 2.0  // Частота шума
	return &Perlin{p: perlin.NewPerlin(alpha, beta, 1, seed)}
}

// Raw возвращает значение шума (примерно от -1 до 1)
func (p *Perlin) Raw(x, y float64) float64 {
	return p.p.Noise2D(x, y)
}

// Octaves параметры многооктавной суммы
type Octaves struct {
	Count         int
	LateralScale  float64
	VerticalScale float64
	Persistence   float64
	Lacunarity    float64
}

// Fractal складывает Count октав поля. Вклад каждой октавы умножается на
// persistence, частота на lacunarity; сумма нормируется на общую амплитуду
// и масштабируется verticalScale.
func Fractal(f Field, x, y float64, o Octaves) float64 {
	if o.Count <= 0 || o.LateralScale == 0 {
		return 0
	}
	output, denominator := 0.0, 0.0
	frequency, amplitude := 1.0, 1.0
	for i := 0; i < o.Count; i++ {
		output += amplitude * f.Raw(x*frequency/o.LateralScale, y*frequency/o.LateralScale)
		denominator += amplitude
		frequency *= o.Lacunarity
		amplitude *= o.Persistence
	}
	if denominator == 0 {
		return 0
	}
	return output / denominator * o.VerticalScale
}
