package noise

import (
	"math"
	"math/rand"
)

// basePermutation каноническая таблица перестановок.
// Сид 0 оставляет её без перемешивания.
var basePermutation = [256]uint8{
	151, 160, 137, 91, 90, 15,
	131, 13, 201, 95, 96, 53, 194, 233, 7, 225, 140, 36, 103, 30, 69, 142, 8, 99, 37, 240, 21, 10, 23,
	190, 6, 148, 247, 120, 234, 75, 0, 26, 197, 62, 94, 252, 219, 203, 117, 35, 11, 32, 57, 177, 33,
	88, 237, 149, 56, 87, 174, 20, 125, 136, 171, 168, 68, 175, 74, 165, 71, 134, 139, 48, 27, 166,
	77, 146, 158, 231, 83, 111, 229, 122, 60, 211, 133, 230, 220, 105, 92, 41, 55, 46, 245, 40, 244,
	102, 143, 54, 65, 25, 63, 161, 1, 216, 80, 73, 209, 76, 132, 187, 208, 89, 18, 169, 200, 196,
	135, 130, 116, 188, 159, 86, 164, 100, 109, 198, 173, 186, 3, 64, 52, 217, 226, 250, 124, 123,
	5, 202, 38, 147, 118, 126, 255, 82, 85, 212, 207, 206, 59, 227, 47, 16, 58, 17, 182, 189, 28, 42,
	223, 183, 170, 213, 119, 248, 152, 2, 44, 154, 163, 70, 221, 153, 101, 155, 167, 43, 172, 9,
	129, 22, 39, 253, 19, 98, 108, 110, 79, 113, 224, 232, 178, 185, 112, 104, 218, 246, 97, 228,
	251, 34, 242, 193, 238, 210, 144, 12, 191, 179, 162, 241, 81, 51, 145, 235, 249, 14, 239, 107,
	49, 192, 214, 31, 181, 199, 106, 157, 184, 84, 204, 176, 115, 121, 50, 45, 127, 4, 150, 254,
	138, 236, 205, 93, 222, 114, 67, 29, 24, 72, 243, 141, 128, 195, 78, 66, 215, 61, 156, 180,
}

// Коэффициенты скоса решётки для двумерного симплекса
var (
	f2 = (math.Sqrt(3) - 1) / 2
	g2 = (3 - math.Sqrt(3)) / 6
)

const simplexScale = 45.23065

// Simplex двумерный симплекс-шум на таблице перестановок.
// Экземпляр не разделяется между картами: каждая карта держит свой.
type Simplex struct {
	perm [512]uint8
	seed int64
}

// NewSimplex создаёт шум, перемешанный указанным сидом
func NewSimplex(seed int64) *Simplex {
	s := &Simplex{}
	s.Reseed(seed)
	return s
}

// Reseed перемешивает базовую таблицу сидом. Сид 0 даёт каноническую таблицу.
func (s *Simplex) Reseed(seed int64) {
	table := basePermutation
	if seed != 0 {
		rng := rand.New(rand.NewSource(seed))
		for n := len(table) - 1; n > 0; n-- {
			k := rng.Intn(n)
			table[k], table[n] = table[n], table[k]
		}
	}
	for i := range s.perm {
		s.perm[i] = table[i&255]
	}
	s.seed = seed
}

// Seed возвращает текущий сид
func (s *Simplex) Seed() int64 { return s.seed }

func grad(hash uint8, x, y float64) float64 {
	h := hash & 7
	u, v := x, y
	if h >= 4 {
		u, v = y, x
	}
	if h&1 != 0 {
		u = -u
	}
	if h&2 != 0 {
		v = -v
	}
	return u + 2*v
}

func corner(hash uint8, x, y float64) float64 {
	t := 0.5 - x*x - y*y
	if t < 0 {
		return 0
	}
	t *= t
	return t * t * grad(hash, x, y)
}

// Raw возвращает значение одного слоя шума в точке (x, y)
func (s *Simplex) Raw(x, y float64) float64 {
	skew := (x + y) * f2
	i := int(math.Floor(x + skew))
	j := int(math.Floor(y + skew))

	t := float64(i+j) * g2
	x0 := x - (float64(i) - t)
	y0 := y - (float64(j) - t)

	i1, j1 := 0, 1
	if x0 > y0 {
		i1, j1 = 1, 0
	}

	x1 := x0 - float64(i1) + g2
	y1 := y0 - float64(j1) + g2
	x2 := x0 - 1 + 2*g2
	y2 := y0 - 1 + 2*g2

	ii := i & 255
	jj := j & 255
	gi0 := s.perm[ii+int(s.perm[jj])]
	gi1 := s.perm[ii+i1+int(s.perm[jj+j1])]
	gi2 := s.perm[ii+1+int(s.perm[jj+1])]

	return simplexScale * (corner(gi0, x0, y0) + corner(gi1, x1, y1) + corner(gi2, x2, y2))
}
