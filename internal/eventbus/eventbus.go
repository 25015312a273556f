package eventbus

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"
)

// ErrClosed шина уже закрыта
var ErrClosed = errors.New("шина событий закрыта")

// Envelope описывает универсальный контейнер события о картах.
// Все поля фиксированы для версионирования и трассировки.
type Envelope struct {
	ID            string            // Глобально уникальный идентификатор (UUID).
	Timestamp     time.Time         // Время создания события (UTC).
	Source        string            // Имя сервиса-источника.
	EventType     string            // Тип события (MapImported, ChangesAppended…).
	Version       int               // Схема полезной нагрузки.
	CorrelationID string            // Для связывания цепочек (trace-id запроса).
	Priority      int               // 0=Low … 9=Critical (для backpressure).
	Payload       []byte            // Пакет изменений в формате codec.
	Metadata      map[string]string // map_id, batch_id, codec_version и т.п.
}

// Filter отбирает события по типу, источнику и карте.
// Пустой список пропускает всё.
type Filter struct {
	Types   []string
	Sources []string
	MapIDs  []string // сравнивается с Metadata[MetaMapID]
}

// Match проверяет событие по всем спискам фильтра
func (f Filter) Match(ev *Envelope) bool {
	return allows(f.Types, ev.EventType) &&
		allows(f.Sources, ev.Source) &&
		allows(f.MapIDs, ev.Metadata[MetaMapID])
}

func allows(list []string, value string) bool {
	return len(list) == 0 || slices.Contains(list, value)
}

// Subscription возвращается при подписке; позволяет отписаться.
type Subscription interface {
	Unsubscribe()
}

// Handler потребляет события.
type Handler func(ctx context.Context, ev *Envelope)

// Stats агрегированные метрики шины.
type Stats struct {
	Published uint64
	Consumed  uint64
	Dropped   uint64
	InFlight  int
}

// EventBus определяет абстракцию шины событий (in-memory или JetStream).
type EventBus interface {
	Publish(ctx context.Context, ev *Envelope) error
	Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error)
	Metrics() Stats
	Close() error
}

//================ In-Memory implementation =================//

type memoryBus struct {
	mu          sync.RWMutex
	subscribers map[int]subscriber
	nextID      int
	stats       Stats
	buffer      chan *Envelope
	capacity    int
	closeMu     sync.RWMutex // удерживается отправителями, пока буфер открыт
	closed      bool
	drained     chan struct{}
	wg          sync.WaitGroup
}

type subscriber struct {
	filter  Filter
	handler Handler
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewMemoryBus создаёт in-memory Bus с указанным буфером.
func NewMemoryBus(capacity int) EventBus {
	mb := &memoryBus{
		subscribers: make(map[int]subscriber),
		buffer:      make(chan *Envelope, capacity),
		capacity:    capacity,
		drained:     make(chan struct{}),
	}
	go mb.dispatchLoop()
	return mb
}

func (mb *memoryBus) Publish(ctx context.Context, ev *Envelope) error {
	mb.closeMu.RLock()
	defer mb.closeMu.RUnlock()
	if mb.closed {
		return ErrClosed
	}

	select {
	case mb.buffer <- ev:
		mb.count(&mb.stats.Published)
		return nil
	default:
	}

	// Буфер полон: события ниже PriorityHigh отбрасываются
	if ev.Priority < PriorityHigh {
		mb.count(&mb.stats.Dropped)
		return nil
	}
	select {
	case mb.buffer <- ev:
		mb.count(&mb.stats.Published)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *memoryBus) count(counter *uint64) {
	mb.mu.Lock()
	*counter++
	mb.mu.Unlock()
}

func (mb *memoryBus) Subscribe(ctx context.Context, f Filter, h Handler) (Subscription, error) {
	mb.mu.Lock()
	id := mb.nextID
	mb.nextID++
	cctx, cancel := context.WithCancel(ctx)
	mb.subscribers[id] = subscriber{filter: f, handler: h, ctx: cctx, cancel: cancel}
	mb.mu.Unlock()

	return &memSub{bus: mb, id: id}, nil
}

func (mb *memoryBus) Metrics() Stats {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	s := mb.stats
	s.InFlight = len(mb.buffer)
	return s
}

// dispatchLoop рассылает события подписчикам.
func (mb *memoryBus) dispatchLoop() {
	defer close(mb.drained)
	for ev := range mb.buffer {
		mb.mu.RLock()
		subs := make([]subscriber, 0, len(mb.subscribers))
		for _, sub := range mb.subscribers {
			subs = append(subs, sub)
		}
		mb.mu.RUnlock()

		for _, sub := range subs {
			if sub.filter.Match(ev) {
				mb.deliver(sub, ev)
			}
		}
	}
}

// Close прекращает приём событий и ждёт доставки уже принятых
func (mb *memoryBus) Close() error {
	mb.closeMu.Lock()
	if mb.closed {
		mb.closeMu.Unlock()
		return nil
	}
	mb.closed = true
	close(mb.buffer)
	mb.closeMu.Unlock()

	<-mb.drained
	mb.wg.Wait()
	return nil
}

func (mb *memoryBus) deliver(s subscriber, ev *Envelope) {
	mb.wg.Add(1)
	go func() {
		defer mb.wg.Done()
		if s.ctx.Err() != nil {
			return
		}
		s.handler(s.ctx, ev)
		mb.count(&mb.stats.Consumed)
	}()
}

type memSub struct {
	bus *memoryBus
	id  int
}

func (s *memSub) Unsubscribe() {
	s.bus.mu.Lock()
	if sub, ok := s.bus.subscribers[s.id]; ok {
		sub.cancel()
		delete(s.bus.subscribers, s.id)
	}
	s.bus.mu.Unlock()
}
