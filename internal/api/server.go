package api

import (
	"context"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/voxelfield/internal/auth"
	"github.com/annel0/voxelfield/internal/codec"
	"github.com/annel0/voxelfield/internal/eventbus"
	"github.com/annel0/voxelfield/internal/logging"
	"github.com/annel0/voxelfield/internal/metrics"
	"github.com/annel0/voxelfield/internal/middleware"
	"github.com/annel0/voxelfield/internal/storage"
	"github.com/annel0/voxelfield/internal/world"
)

// maxBodySize предел тела запроса с картой или пакетом изменений
const maxBodySize = 64 << 20

// Config содержит конфигурацию сервера карт
type Config struct {
	Addr     string            // адрес для запуска сервера
	Store    *storage.MapStore // хранилище карт
	Metrics  *metrics.Engine   // nil - без /metrics
	Signer   *auth.Signer      // nil - изменения без авторизации
	Bus      eventbus.EventBus // nil - события не публикуются
	Compress bool              // экспорт в сжатом контейнере
}

// MapServer HTTP API администрирования сохранённых карт
type MapServer struct {
	router   *gin.Engine
	store    *storage.MapStore
	metrics  *metrics.Engine
	signer   *auth.Signer
	bus      eventbus.EventBus
	compress bool
	addr     string
	status   *ServerMetrics
	logger   *logging.Logger
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// MapSummary краткие сведения о карте
type MapSummary struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	TerrainHeight *int32    `json:"terrain_height,omitempty"`
	Lower         [3]int    `json:"lower"`
	Upper         [3]int    `json:"upper"`
	Chunks        int       `json:"chunks"`
	Changes       int       `json:"changes"`
}

// NewMapServer создает сервер и настраивает маршруты
func NewMapServer(cfg Config) *MapServer {
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery
	router.Use(otelgin.Middleware("voxel_api"))
	router.Use(middleware.NewRequestLogger().Handler())

	s := &MapServer{
		router:   router,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		signer:   cfg.Signer,
		bus:      cfg.Bus,
		compress: cfg.Compress,
		addr:     cfg.Addr,
		status:   NewServerMetrics(),
		logger:   logging.GetComponentLogger("api"),
	}

	if s.metrics != nil {
		promMw := middleware.NewPrometheusMiddleware("voxel_api", s.metrics.Registry())
		router.Use(promMw.Handler())
		router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	s.setupRoutes()
	return s
}

// setupRoutes настраивает маршруты API
func (s *MapServer) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/maps", s.handleListMaps)
		api.GET("/maps/:ref", s.handleGetMap)
		api.GET("/maps/:ref/export", s.handleExportMap)
	}

	// Изменяющие эндпоинты (требуют токен редактора, если задан подписчик)
	editor := api.Group("/")
	editor.Use(s.editorMiddleware())
	{
		editor.POST("/maps", s.handleImportMap)
		editor.POST("/maps/:ref/changes", s.handleAppendChanges)
		editor.POST("/maps/:ref/compact", s.handleCompactMap)
		editor.DELETE("/maps/:ref", s.handleDeleteMap)
	}
}

// Handler возвращает http.Handler сервера
func (s *MapServer) Handler() http.Handler { return s.router }

// Start запускает сервер и останавливает его при отмене ctx
func (s *MapServer) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("🌐 API карт запущен на %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// editorMiddleware проверяет токен редактора в заголовке Authorization
func (s *MapServer) editorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.signer == nil {
			c.Next()
			return
		}

		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.fail(c, http.StatusUnauthorized, "Отсутствует токен авторизации")
			return
		}

		claims, err := s.signer.Validate(parts[1])
		if err != nil {
			s.fail(c, http.StatusUnauthorized, "Недействительный токен")
			return
		}
		if !claims.Editor {
			s.fail(c, http.StatusForbidden, "Требуются права редактора")
			return
		}

		c.Set("subject", claims.Subject)
		c.Next()
	}
}

func (s *MapServer) fail(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, GenericResponse{Success: false, Message: message})
}

// failErr переводит ошибку хранилища или кодека в HTTP статус
func (s *MapServer) failErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, storage.ErrMapNotFound):
		s.fail(c, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrShapedChanges):
		s.fail(c, http.StatusConflict, err.Error())
	case errors.Is(err, codec.ErrMalformed), errors.Is(err, codec.ErrNotMap),
		errors.Is(err, codec.ErrShortBuffer), errors.Is(err, codec.ErrUnsupportedVersion), errors.Is(err, codec.ErrOutOfRange),
		errors.Is(err, world.ErrInvalidMap):
		s.fail(c, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("Ошибка обработки %s %s: %v", c.Request.Method, c.FullPath(), err)
		s.fail(c, http.StatusInternalServerError, "Внутренняя ошибка")
	}
}

func (s *MapServer) resolve(ref string) (uuid.UUID, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return id, nil
	}
	return s.store.FindMap(ref)
}

func (s *MapServer) readBody(c *gin.Context) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize))
	if err != nil {
		s.fail(c, http.StatusRequestEntityTooLarge, "Тело запроса слишком велико")
		return nil, false
	}
	return data, true
}

func (s *MapServer) decodeFailed(source string, err error, data []byte) {
	logging.GetCodecLogger().LogDecodeError(source, err, data)
	if s.metrics != nil {
		s.metrics.DecodeFailed(source)
	}
}

// publish отправляет событие о карте; ошибка шины не отменяет запрос
func (s *MapServer) publish(c *gin.Context, eventType string, payload []byte, meta map[string]string) {
	if s.bus == nil {
		return
	}
	ev := eventbus.NewEnvelope("voxel_api", eventType, payload, meta)
	ev.CorrelationID = c.GetString("trace_id")
	if err := s.bus.Publish(c.Request.Context(), ev); err != nil {
		s.logger.Warn("Событие %s не опубликовано: %v", eventType, err)
	}
}

func summarize(rec *codec.MapRecord) MapSummary {
	p := rec.Params
	sum := MapSummary{
		ID:      rec.ID,
		Name:    p.Name,
		Version: p.Version,
		Lower:   [3]int{p.Dimension.Lower.X, p.Dimension.Lower.Y, p.Dimension.Lower.Z},
		Upper:   [3]int{p.Dimension.Upper.X, p.Dimension.Upper.Y, p.Dimension.Upper.Z},
		Chunks:  p.ChunkVolume(),
		Changes: len(rec.Changes),
	}
	if h, ok := p.TerrainHeight.Get(); ok {
		sum.TerrainHeight = &h
	}
	return sum
}

func (s *MapServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
	})
}

func (s *MapServer) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Состояние сервера", Data: s.status.Snapshot()})
}

func (s *MapServer) handleListMaps(c *gin.Context) {
	maps, err := s.store.ListMaps()
	if err != nil {
		s.failErr(c, err)
		return
	}

	summaries := make([]MapSummary, 0, len(maps))
	for _, info := range maps {
		rec, err := s.store.LoadMap(info.ID)
		if err != nil {
			s.logger.Warn("Карта %q (%s) пропущена: %v", info.Name, info.ID, err)
			continue
		}
		summaries = append(summaries, summarize(rec))
	}

	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Список карт получен",
		Data: map[string]interface{}{
			"maps":  summaries,
			"total": len(summaries),
		},
	})
}

func (s *MapServer) handleGetMap(c *gin.Context) {
	id, err := s.resolve(c.Param("ref"))
	if err != nil {
		s.failErr(c, err)
		return
	}
	rec, err := s.store.LoadMap(id)
	if err != nil {
		s.failErr(c, err)
		return
	}
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Карта найдена", Data: summarize(rec)})
}

func (s *MapServer) handleExportMap(c *gin.Context) {
	id, err := s.resolve(c.Param("ref"))
	if err != nil {
		s.failErr(c, err)
		return
	}
	rec, err := s.store.LoadMap(id)
	if err != nil {
		s.failErr(c, err)
		return
	}

	data := codec.EncodeMap(rec)
	if s.compress {
		if data, err = codec.EncodeMapCompressed(rec); err != nil {
			s.failErr(c, err)
			return
		}
	}
	// Имя карты произвольное: кавычки и не-ASCII экранирует mime
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": rec.Params.Name + ".vxf"})
	if disposition == "" {
		disposition = "attachment"
	}
	c.Header("Content-Disposition", disposition)
	c.Data(http.StatusOK, "application/octet-stream", data)
}

func (s *MapServer) handleImportMap(c *gin.Context) {
	data, ok := s.readBody(c)
	if !ok {
		return
	}
	rec, err := codec.DecodeMapAuto(data)
	if err != nil {
		s.decodeFailed("POST /api/maps", err, data)
		s.failErr(c, err)
		return
	}
	if err := s.store.SaveMap(rec); err != nil {
		s.failErr(c, err)
		return
	}

	s.logger.Info("Карта %q (%s) импортирована пользователем %q", rec.Params.Name, rec.ID, c.GetString("subject"))
	s.publish(c, eventbus.EventMapImported, nil, map[string]string{
		eventbus.MetaMapID:   rec.ID.String(),
		eventbus.MetaMapName: rec.Params.Name,
	})
	c.JSON(http.StatusCreated, GenericResponse{Success: true, Message: "Карта сохранена", Data: summarize(rec)})
}

func (s *MapServer) handleAppendChanges(c *gin.Context) {
	id, err := s.resolve(c.Param("ref"))
	if err != nil {
		s.failErr(c, err)
		return
	}
	data, ok := s.readBody(c)
	if !ok {
		return
	}

	version := c.DefaultQuery("version", codec.CurrentVersion)
	changes, err := codec.DecodeChanges(data, version)
	if err != nil {
		s.decodeFailed("POST /api/maps/"+id.String()+"/changes", err, data)
		s.failErr(c, err)
		return
	}
	batch, err := s.store.AppendChanges(id, changes)
	if err != nil {
		s.failErr(c, err)
		return
	}
	s.publish(c, eventbus.EventChangesAppended, data, map[string]string{
		eventbus.MetaMapID:        id.String(),
		eventbus.MetaBatchID:      batch.String(),
		eventbus.MetaCodecVersion: version,
	})

	c.JSON(http.StatusCreated, GenericResponse{
		Success: true,
		Message: "Изменения записаны",
		Data: map[string]interface{}{
			"batch":   batch,
			"changes": len(changes),
		},
	})
}

func (s *MapServer) handleCompactMap(c *gin.Context) {
	id, err := s.resolve(c.Param("ref"))
	if err != nil {
		s.failErr(c, err)
		return
	}
	if err := s.store.Compact(id); err != nil {
		s.failErr(c, err)
		return
	}
	s.publish(c, eventbus.EventMapCompacted, nil, map[string]string{eventbus.MetaMapID: id.String()})
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Журнал сжат"})
}

func (s *MapServer) handleDeleteMap(c *gin.Context) {
	id, err := s.resolve(c.Param("ref"))
	if err != nil {
		s.failErr(c, err)
		return
	}
	if err := s.store.DeleteMap(id); err != nil {
		s.failErr(c, err)
		return
	}
	s.publish(c, eventbus.EventMapDeleted, nil, map[string]string{eventbus.MetaMapID: id.String()})
	c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "Карта удалена"})
}
