package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collected struct {
	mu     sync.Mutex
	events []*Envelope
}

func (c *collected) handle(_ context.Context, ev *Envelope) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collected) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.EventType)
	}
	return out
}

func TestMemoryBus_FilterAndClose(t *testing.T) {
	bus := NewMemoryBus(16)
	ctx := context.Background()

	all, appended := &collected{}, &collected{}
	_, err := bus.Subscribe(ctx, Filter{}, all.handle)
	require.NoError(t, err)
	_, err = bus.Subscribe(ctx, Filter{Types: []string{EventChangesAppended}}, appended.handle)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(ctx, NewEnvelope("test", EventMapImported, nil, nil)))
	require.NoError(t, bus.Publish(ctx, NewEnvelope("test", EventChangesAppended, []byte{1, 2}, map[string]string{MetaMapID: "m"})))

	// Close дожидается доставки принятых событий
	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())

	assert.ElementsMatch(t, []string{EventMapImported, EventChangesAppended}, all.types())
	assert.Equal(t, []string{EventChangesAppended}, appended.types())

	stats := bus.Metrics()
	assert.Equal(t, uint64(2), stats.Published)
	assert.Equal(t, uint64(3), stats.Consumed)

	assert.ErrorIs(t, bus.Publish(ctx, NewEnvelope("test", EventMapDeleted, nil, nil)), ErrClosed)
}

func TestMemoryBus_Unsubscribe(t *testing.T) {
	bus := NewMemoryBus(4)
	defer bus.Close()
	ctx := context.Background()

	got := &collected{}
	sub, err := bus.Subscribe(ctx, Filter{Sources: []string{"api"}}, got.handle)
	require.NoError(t, err)
	sub.Unsubscribe()

	require.NoError(t, bus.Publish(ctx, NewEnvelope("api", EventMapDeleted, nil, nil)))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got.types())
}

func TestFilter_Match(t *testing.T) {
	ev := NewEnvelope("api", EventChangesAppended, nil, map[string]string{MetaMapID: "m1"})

	assert.True(t, Filter{}.Match(ev))
	assert.True(t, Filter{MapIDs: []string{"m0", "m1"}}.Match(ev))
	assert.False(t, Filter{MapIDs: []string{"m2"}}.Match(ev))
	assert.False(t, Filter{Types: []string{EventMapDeleted}, MapIDs: []string{"m1"}}.Match(ev))
	assert.False(t, Filter{Sources: []string{"tool"}}.Match(ev))
}

func TestMemoryBus_DropsLowPriorityWhenFull(t *testing.T) {
	// шина без подписчиков с заблокированной рассылкой
	mb := &memoryBus{subscribers: map[int]subscriber{}, buffer: make(chan *Envelope, 1), drained: make(chan struct{})}
	ctx := context.Background()

	require.NoError(t, mb.Publish(ctx, NewEnvelope("api", EventChangesAppended, nil, nil)))
	require.NoError(t, mb.Publish(ctx, NewEnvelope("api", EventChangesAppended, nil, nil)))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err := mb.Publish(cancelled, NewEnvelope("api", EventMapDeleted, nil, nil))
	assert.ErrorIs(t, err, context.Canceled)

	stats := mb.Metrics()
	assert.Equal(t, uint64(1), stats.Published)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 1, stats.InFlight)
}

func TestJetStreamSubjects(t *testing.T) {
	ev := NewEnvelope("api", EventChangesAppended, nil, map[string]string{MetaMapID: "m1"})
	assert.Equal(t, "voxel.ChangesAppended.m1", subjectFor(ev))
	assert.Equal(t, "voxel.MapDeleted.none", subjectFor(NewEnvelope("api", EventMapDeleted, nil, nil)))

	assert.Equal(t, "voxel.*.*", subscribeSubject(Filter{}))
	assert.Equal(t, "voxel.MapDeleted.*", subscribeSubject(Filter{Types: []string{EventMapDeleted}}))
	assert.Equal(t, "voxel.*.m1", subscribeSubject(Filter{MapIDs: []string{"m1"}, Types: []string{"a", "b"}}))
}

func TestNewEnvelope(t *testing.T) {
	a := NewEnvelope("api", EventMapCompacted, nil, nil)
	b := NewEnvelope("api", EventMapCompacted, nil, nil)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, time.UTC, a.Timestamp.Location())
	assert.Equal(t, 1, a.Version)
	assert.Equal(t, PriorityHigh, a.Priority)
	assert.Equal(t, PriorityNormal, NewEnvelope("api", EventChangesAppended, nil, nil).Priority)
}

type fixedStats struct {
	EventBus
	stats Stats
}

func (f *fixedStats) Metrics() Stats { return f.stats }

func TestMetricsExporter_CollectsDeltas(t *testing.T) {
	bus := &fixedStats{stats: Stats{Published: 5, Consumed: 3, Dropped: 1, InFlight: 2}}
	reg := prometheus.NewRegistry()
	m := NewMetricsExporter(bus, reg)

	m.collect()
	bus.stats = Stats{Published: 7, Consumed: 7, Dropped: 1}
	m.collect()

	assert.Equal(t, 7.0, testutil.ToFloat64(m.published))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.consumed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dropped))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.inflight))

	m.Start(time.Hour)
	m.Stop()
}
