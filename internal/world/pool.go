package world

import "fmt"

// Handle индекс буфера чанка в арене пула
type Handle int32

// Pool хранит заранее выделенные буферы чанков.
// Чанки адресуются индексами арены; выведенные из работы лежат в списке свободных.
type Pool struct {
	edge   int
	arena  []*Chunk
	free   []Handle
	vacant []Handle // пустые слоты арены после уменьшения
}

// NewPool создаёт пул из size чанков с ребром edge
func NewPool(edge, size int) *Pool {
	p := &Pool{edge: edge}
	p.grow(size)
	return p
}

func (p *Pool) grow(n int) {
	for i := 0; i < n; i++ {
		var h Handle
		if k := len(p.vacant); k > 0 {
			h = p.vacant[k-1]
			p.vacant = p.vacant[:k-1]
		} else {
			h = Handle(len(p.arena))
			p.arena = append(p.arena, nil)
		}
		p.arena[h] = newChunk(h, p.edge)
		p.free = append(p.free, h)
	}
}

// Capacity возвращает общее количество буферов
func (p *Pool) Capacity() int { return len(p.arena) - len(p.vacant) }

// Free возвращает количество свободных буферов
func (p *Pool) Free() int { return len(p.free) }

// InUse возвращает количество выданных буферов
func (p *Pool) InUse() int { return p.Capacity() - p.Free() }

// Get возвращает чанк по идентификатору
func (p *Pool) Get(h Handle) *Chunk {
	if h < 0 || int(h) >= len(p.arena) {
		return nil
	}
	return p.arena[h]
}

// Acquire выдаёт свободный чанк
func (p *Pool) Acquire() (*Chunk, error) {
	n := len(p.free)
	if n == 0 {
		return nil, fmt.Errorf("%w: выдано %d из %d", ErrPoolExhausted, p.InUse(), p.Capacity())
	}
	h := p.free[n-1]
	p.free = p.free[:n-1]
	c := p.arena[h]
	c.pooled = false
	return c, nil
}

// Release возвращает чанк в пул. Повторный возврат ничего не делает.
func (p *Pool) Release(c *Chunk) {
	if c == nil || c.pooled || p.Get(c.handle) != c {
		return
	}
	c.pooled = true
	p.free = append(p.free, c.handle)
}

// Resize приводит общее количество буферов к size.
// Уменьшить пул ниже числа выданных чанков нельзя.
func (p *Pool) Resize(size int) error {
	if size < 0 {
		return fmt.Errorf("отрицательный размер пула %d", size)
	}
	if inUse := p.InUse(); size < inUse {
		return fmt.Errorf("%w: нельзя уменьшить пул до %d, выдано %d", ErrPoolExhausted, size, inUse)
	}
	total := p.Capacity()
	if size > total {
		p.grow(size - total)
		return nil
	}
	for ; total > size; total-- {
		n := len(p.free)
		h := p.free[n-1]
		p.free = p.free[:n-1]
		p.arena[h] = nil
		p.vacant = append(p.vacant, h)
	}
	return nil
}
