package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/voxelfield/internal/api"
	"github.com/annel0/voxelfield/internal/auth"
	"github.com/annel0/voxelfield/internal/codec"
	"github.com/annel0/voxelfield/internal/config"
	"github.com/annel0/voxelfield/internal/eventbus"
	"github.com/annel0/voxelfield/internal/logging"
	"github.com/annel0/voxelfield/internal/metrics"
	"github.com/annel0/voxelfield/internal/observability"
	"github.com/annel0/voxelfield/internal/storage"
	"github.com/annel0/voxelfield/internal/vec"
	"github.com/annel0/voxelfield/internal/voxel"
	"github.com/annel0/voxelfield/internal/world"
)

// tool выполняет команды над хранилищем карт
type tool struct {
	cfg     *config.Config
	store   *storage.MapStore
	metrics *metrics.Engine // nil, если метрики выключены
	out     io.Writer
}

// worldStats сводка по загруженному миру
type worldStats struct {
	Chunks  int
	Solid   int // воксели с ненулевой плотностью
	Blocks  int
	Changes int
}

func (t *tool) newManager() (*world.ChunkManager, error) {
	var opts []world.Option
	if t.metrics != nil {
		opts = append(opts, world.WithObserver(t.metrics))
	}
	return world.NewChunkManager(t.cfg.Engine.GetChunkSize(), opts...)
}

// load пошагово загружает карту, проверяя ctx между шагами
func (t *tool) load(ctx context.Context, m *world.ChunkManager, params *world.MapParams, changes []voxel.Change) (err error) {
	ctx, span := observability.Tracer().Start(ctx, "load_map", trace.WithAttributes(
		attribute.String("map.name", params.Name),
		attribute.Int("map.chunks", params.ChunkVolume()),
		attribute.Int("map.changes", len(changes)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	reported := make(map[world.Stage]bool)
	loader, err := m.NewLoader(params, changes, func(p world.Progress) {
		if !reported[p.Stage] {
			reported[p.Stage] = true
			logging.Debug("Загрузка %q: %s", params.Name, p.Stage)
		}
	})
	if err != nil {
		return err
	}

	start := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		done, err := loader.Step()
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	logging.Info("🗺️ Карта %q загружена за %v: %d чанков, %d изменений", params.Name, time.Since(start), m.ChunkCount(), len(changes))
	return nil
}

func collectStats(m *world.ChunkManager) worldStats {
	s := worldStats{Chunks: m.ChunkCount(), Changes: m.Log().Len()}
	edge := m.Edge()
	for _, pos := range m.Positions() {
		c := m.ChunkAt(pos)
		for x := 0; x < edge; x++ {
			for y := 0; y < edge; y++ {
				for z := 0; z < edge; z++ {
					v := c.VoxelUnchecked(vec.Vec3{X: x, Y: y, Z: z})
					if v.Density > 0 {
						s.Solid++
					}
					if v.HasBlock() {
						s.Blocks++
					}
				}
			}
		}
	}
	return s
}

func (t *tool) printStats(name string, s worldStats) {
	fmt.Fprintf(t.out, "%s: chunks=%d solid=%d blocks=%d changes=%d\n", name, s.Chunks, s.Solid, s.Blocks, s.Changes)
}

// resolve принимает UUID карты или её имя
func (t *tool) resolve(ref string) (uuid.UUID, error) {
	if ref == "" {
		return uuid.Nil, fmt.Errorf("не указана карта (-map)")
	}
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	return t.store.FindMap(ref)
}

// generate создаёт карту из конфигурации и сохраняет её
func (t *tool) generate(ctx context.Context, name string) (uuid.UUID, error) {
	params, err := t.cfg.Map.Params()
	if err != nil {
		return uuid.Nil, err
	}
	if name != "" {
		params.Name = name
	}

	m, err := t.newManager()
	if err != nil {
		return uuid.Nil, err
	}
	if err := t.load(ctx, m, &params, nil); err != nil {
		return uuid.Nil, err
	}

	rec := codec.NewMapRecord(params, m.Log().Changes())
	if err := t.store.SaveMap(rec); err != nil {
		return uuid.Nil, err
	}
	fmt.Fprintf(t.out, "%s\t%s\n", rec.ID, params.Name)
	t.printStats(params.Name, collectStats(m))
	return rec.ID, nil
}

// replay загружает сохранённую карту вместе с журналом изменений
func (t *tool) replay(ctx context.Context, ref string) (worldStats, error) {
	id, err := t.resolve(ref)
	if err != nil {
		return worldStats{}, err
	}
	rec, err := t.store.LoadMap(id)
	if err != nil {
		return worldStats{}, err
	}

	m, err := t.newManager()
	if err != nil {
		return worldStats{}, err
	}
	if err := t.load(ctx, m, &rec.Params, rec.Changes); err != nil {
		return worldStats{}, err
	}

	s := collectStats(m)
	t.printStats(rec.Params.Name, s)
	return s, nil
}

// stats печатает список сохранённых карт
func (t *tool) stats() error {
	maps, err := t.store.ListMaps()
	if err != nil {
		return err
	}
	for _, info := range maps {
		rec, err := t.store.LoadMap(info.ID)
		if err != nil {
			logging.Warn("Карта %q (%s) не читается: %v", info.Name, info.ID, err)
			continue
		}
		fmt.Fprintf(t.out, "%s\t%s\tversion=%s\tchunks=%d\tchanges=%d\n",
			info.ID, info.Name, rec.Params.Version, rec.Params.ChunkVolume(), len(rec.Changes))
	}
	return nil
}

// export записывает карту в файл
func (t *tool) export(ref, path string) error {
	if path == "" {
		return fmt.Errorf("не указан файл (-out)")
	}
	id, err := t.resolve(ref)
	if err != nil {
		return err
	}
	rec, err := t.store.LoadMap(id)
	if err != nil {
		return err
	}

	data := codec.EncodeMap(rec)
	if t.cfg.Storage.Compress() {
		if data, err = codec.EncodeMapCompressed(rec); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	logging.Info("💾 Карта %q записана в %s (%d байт)", rec.Params.Name, path, len(data))
	return nil
}

// importMap читает карту из файла и сохраняет её
func (t *tool) importMap(path string) (uuid.UUID, error) {
	if path == "" {
		return uuid.Nil, fmt.Errorf("не указан файл (-in)")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return uuid.Nil, err
	}
	rec, err := codec.DecodeMapAuto(data)
	if err != nil {
		logging.GetCodecLogger().LogDecodeError(path, err, data)
		if t.metrics != nil {
			t.metrics.DecodeFailed(path)
		}
		return uuid.Nil, err
	}
	if err := t.store.SaveMap(rec); err != nil {
		return uuid.Nil, err
	}
	fmt.Fprintf(t.out, "%s\t%s\n", rec.ID, rec.Params.Name)
	return rec.ID, nil
}

// compact сливает дописанные пакеты изменений в снимок. Объёмные
// изменения предварительно воспроизводятся в мире и заменяются точечными.
func (t *tool) compact(ctx context.Context, ref string) error {
	id, err := t.resolve(ref)
	if err != nil {
		return err
	}
	err = t.store.Compact(id)
	if !errors.Is(err, storage.ErrShapedChanges) {
		return err
	}

	// Объёмные изменения и откаты сливаются только через мир:
	// журнал карты после загрузки содержит вычисленные одиночные изменения.
	return t.store.CompactWith(id, func(rec *codec.MapRecord) ([]voxel.Change, error) {
		m, err := t.newManager()
		if err != nil {
			return nil, err
		}
		if err := t.load(ctx, m, &rec.Params, rec.Changes); err != nil {
			return nil, err
		}
		logging.Info("Карта %q воспроизведена для сжатия", rec.Params.Name)
		return m.Log().Changes(), nil
	})
}

// request аргументы команды из флагов
type request struct {
	cmd     string
	mapRef  string
	in      string
	out     string
	subject string
	ttl     time.Duration
}

// signer строит подписчик токенов из конфигурации API
func (t *tool) signer() (*auth.Signer, error) {
	return auth.NewSigner(t.cfg.API.GetJWTSecret())
}

// token печатает токен редактора для API карт
func (t *tool) token(subject string, ttl time.Duration) error {
	if t.cfg.API.GetJWTSecret() == "" {
		return fmt.Errorf("не задан api.jwt_secret (или VOXEL_JWT_SECRET): токен не переживёт процесс")
	}
	s, err := t.signer()
	if err != nil {
		return err
	}
	token, err := s.Issue(subject, true, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(t.out, token)
	return nil
}

// newBus открывает JetStream, если задан URL, иначе шину в памяти
func (t *tool) newBus() (eventbus.EventBus, error) {
	ev := t.cfg.Events
	if url := ev.GetURL(); url != "" {
		return eventbus.NewJetStreamBus(url, ev.Stream, ev.GetRetention())
	}
	return eventbus.NewMemoryBus(ev.GetBuffer()), nil
}

// serve запускает HTTP API карт до отмены ctx
func (t *tool) serve(ctx context.Context) error {
	bus, err := t.newBus()
	if err != nil {
		return err
	}
	defer bus.Close()

	if _, err := eventbus.StartLoggingListener(ctx, bus); err != nil {
		return err
	}
	if t.metrics != nil {
		exporter := eventbus.NewMetricsExporter(bus, t.metrics.Registry())
		exporter.Start(time.Second)
		defer exporter.Stop()
	}

	cfg := api.Config{
		Addr:     t.cfg.API.GetAddr(),
		Store:    t.store,
		Metrics:  t.metrics,
		Bus:      bus,
		Compress: t.cfg.Storage.Compress(),
	}
	if t.cfg.API.Auth {
		s, err := t.signer()
		if err != nil {
			return err
		}
		cfg.Signer = s
	}
	return api.NewMapServer(cfg).Start(ctx)
}

func (t *tool) run(ctx context.Context, req request) error {
	switch req.cmd {
	case "generate":
		_, err := t.generate(ctx, req.mapRef)
		return err
	case "replay":
		_, err := t.replay(ctx, req.mapRef)
		return err
	case "stats":
		return t.stats()
	case "export":
		return t.export(req.mapRef, req.out)
	case "import":
		_, err := t.importMap(req.in)
		return err
	case "compact":
		return t.compact(ctx, req.mapRef)
	case "token":
		return t.token(req.subject, req.ttl)
	case "serve":
		return t.serve(ctx)
	default:
		return fmt.Errorf("неизвестная команда %q", req.cmd)
	}
}
