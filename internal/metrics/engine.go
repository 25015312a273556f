package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/voxelfield/internal/logging"
	"github.com/annel0/voxelfield/internal/voxel"
)

// Engine метрики движка вокселей.
//
// Метрики:
// * <ns>_changes_applied_total{form}: counter
// * <ns>_voxels_written_total: counter
// * <ns>_chunks_refreshed_total: counter
// * <ns>_pool_capacity, <ns>_pool_in_use: gauge
// * <ns>_decode_failures_total: counter
type Engine struct {
	registry *prometheus.Registry

	changes   *prometheus.CounterVec
	voxels    prometheus.Counter
	refreshed prometheus.Counter
	capacity  prometheus.Gauge
	inUse     prometheus.Gauge
	decodes   prometheus.Counter
}

// NewEngine создаёт метрики и регистрирует их в собственном реестре
func NewEngine(namespace string) *Engine {
	e := &Engine{
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "changes_applied_total",
			Help:      "Количество применённых изменений по формам.",
		}, []string{"form"}),
		voxels: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "voxels_written_total",
			Help:      "Количество записанных вокселей.",
		}),
		refreshed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_refreshed_total",
			Help:      "Количество обновлений сеток чанков.",
		}),
		capacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_capacity",
			Help:      "Ёмкость пула чанков.",
		}),
		inUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_in_use",
			Help:      "Количество выданных буферов чанков.",
		}),
		decodes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Количество записей, которые не удалось разобрать.",
		}),
	}

	e.registry = prometheus.NewRegistry()
	e.registry.MustRegister(e.changes, e.voxels, e.refreshed,
		e.capacity, e.inUse, e.decodes)
	return e
}

// Registry возвращает реестр метрик
func (e *Engine) Registry() *prometheus.Registry { return e.registry }

// ChangeApplied учитывает применённое изменение
func (e *Engine) ChangeApplied(form voxel.Form, voxels int) {
	e.changes.WithLabelValues(form.String()).Inc()
	e.voxels.Add(float64(voxels))
}

func (e *Engine) ChunksRefreshed(n int) { e.refreshed.Add(float64(n)) }

func (e *Engine) PoolResized(capacity, inUse int) {
	e.capacity.Set(float64(capacity))
	e.inUse.Set(float64(inUse))
}

// DecodeFailed учитывает повреждённую запись хранилища
func (e *Engine) DecodeFailed(source string) {
	e.decodes.Inc()
}

// Handler возвращает HTTP обработчик /metrics
func (e *Engine) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve отдаёт /metrics на addr до отмены ctx
func (e *Engine) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logging.GetMetricsLogger().Info("📊 Метрики доступны на %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
