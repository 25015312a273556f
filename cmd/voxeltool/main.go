package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/annel0/voxelfield/internal/config"
	"github.com/annel0/voxelfield/internal/logging"
	"github.com/annel0/voxelfield/internal/metrics"
	"github.com/annel0/voxelfield/internal/observability"
	"github.com/annel0/voxelfield/internal/storage"
)

func main() {
	configPath := flag.String("config", "", "путь к YAML конфигурации (или VOXEL_CONFIG)")
	cmd := flag.String("cmd", "stats", "команда: generate|replay|stats|export|import|compact|token|serve")
	mapRef := flag.String("map", "", "имя или UUID карты")
	in := flag.String("in", "", "входной файл карты для import")
	out := flag.String("out", "", "выходной файл карты для export")
	subject := flag.String("subject", "admin", "владелец токена для token")
	ttl := flag.Duration("ttl", 24*time.Hour, "срок действия токена")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	logging.SetLogDir(cfg.Engine.LogDir)
	if err := logging.InitDefaultLogger("voxeltool"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	// Компонентные логгеры создаются заранее, чтобы получить общий уровень
	logging.GetWorldLogger()
	logging.GetStorageLogger()
	logging.GetCodecLogger()
	logging.GetMetricsLogger()
	level, _ := cfg.Engine.GetLogLevel()
	logging.DefaultLogger().SetLevel(level, level)
	logging.GetLoggerManager().SetAllLevels(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := observability.InitTelemetry(ctx, cfg.Tracing.GetServiceName(), cfg.Tracing.Endpoint)
		if err != nil {
			logging.Warn("Трассировка не запущена: %v", err)
		} else {
			defer shutdown(context.Background())
		}
	}

	t := &tool{cfg: cfg, out: os.Stdout}
	opts := storage.StoreOptions{
		Path:     cfg.Storage.GetPath(),
		InMemory: cfg.Storage.InMemory,
		Compress: cfg.Storage.Compress(),
	}

	if cfg.Metrics.Enabled {
		t.metrics = metrics.NewEngine("voxel")
		opts.Observer = t.metrics
		go func() {
			if err := t.metrics.Serve(ctx, cfg.Metrics.GetAddr()); err != nil {
				logging.Error("Сервер метрик остановлен: %v", err)
			}
		}()
	}

	t.store, err = storage.OpenMapStore(opts)
	if err != nil {
		logging.Error("❌ Ошибка открытия хранилища: %v", err)
		os.Exit(1)
	}

	err = t.run(ctx, request{cmd: *cmd, mapRef: *mapRef, in: *in, out: *out, subject: *subject, ttl: *ttl})
	if cerr := t.store.Close(); cerr != nil {
		logging.Warn("Ошибка закрытия хранилища: %v", cerr)
	}
	if err != nil {
		logging.Error("❌ Команда %s завершилась ошибкой: %v", *cmd, err)
		os.Exit(1)
	}
}
