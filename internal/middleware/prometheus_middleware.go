package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// unmatchedPath метка для запросов мимо маршрутов,
// чтобы произвольные URL не раздували число серий.
const unmatchedPath = "unmatched"

// PrometheusMiddleware HTTP-метрики API карт:
//
//	<service>_http_request_duration_seconds{method,path,status}
//	<service>_http_request_body_bytes{method,path}
//	<service>_http_requests_inflight
//	<service>_http_request_errors_total{method,path,status}
type PrometheusMiddleware struct {
	reqDuration *prometheus.HistogramVec
	reqBody     *prometheus.HistogramVec
	reqInflight prometheus.Gauge
	reqErrors   *prometheus.CounterVec
}

// NewPrometheusMiddleware создаёт middleware и регистрирует метрики в reg
func NewPrometheusMiddleware(service string, reg prometheus.Registerer) *PrometheusMiddleware {
	labels := []string{"method", "path", "status"}
	pm := &PrometheusMiddleware{
		reqDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: service,
			Name:      "http_request_duration_seconds",
			Help:      "Длительность HTTP-запросов.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}, labels),
		// пакеты изменений и импорт карт приходят телом запроса
		reqBody: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: service,
			Name:      "http_request_body_bytes",
			Help:      "Размер тела запроса в байтах.",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 8),
		}, []string{"method", "path"}),
		reqInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: service,
			Name:      "http_requests_inflight",
			Help:      "Текущее количество обрабатываемых HTTP-запросов.",
		}),
		reqErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: service,
			Name:      "http_request_errors_total",
			Help:      "Запросы, завершившиеся ошибкой (4xx/5xx).",
		}, labels),
	}

	reg.MustRegister(pm.reqDuration, pm.reqBody, pm.reqInflight, pm.reqErrors)
	return pm
}

// Handler возвращает обработчик для router.Use()
func (pm *PrometheusMiddleware) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		pm.reqInflight.Inc()
		defer pm.reqInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		method := c.Request.Method
		code := c.Writer.Status()
		status := strconv.Itoa(code)

		pm.reqDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		if c.Request.ContentLength > 0 {
			pm.reqBody.WithLabelValues(method, path).Observe(float64(c.Request.ContentLength))
		}
		if code >= 400 {
			pm.reqErrors.WithLabelValues(method, path, status).Inc()
		}
	}
}
