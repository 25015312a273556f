package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annel0/voxelfield/internal/logging"
	"github.com/annel0/voxelfield/internal/noise"
	"github.com/annel0/voxelfield/internal/vec"
	"github.com/annel0/voxelfield/internal/voxel"
	"github.com/annel0/voxelfield/internal/world"
)

// Config корневая структура конфигурации движка
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	API     APIConfig     `yaml:"api"`
	Events  EventsConfig  `yaml:"events"`
	Map     MapConfig     `yaml:"map"`
}

type EngineConfig struct {
	ChunkSize int    `yaml:"chunk_size"`
	LogLevel  string `yaml:"log_level"`
	LogDir    string `yaml:"log_dir"`
}

type StorageConfig struct {
	Path        string `yaml:"path"`
	InMemory    bool   `yaml:"in_memory"`
	Compression string `yaml:"compression"` // zstd | none
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TracingConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint"` // host:port OTLP HTTP коллектора
	ServiceName string `yaml:"service_name"`
}

type APIConfig struct {
	Addr      string `yaml:"addr"`
	JWTSecret string `yaml:"jwt_secret"` // base64, не короче 32 байт
	Auth      bool   `yaml:"auth"`       // требовать токен редактора для изменений
}

// EventsConfig шина событий о картах. Пустой URL - шина в памяти.
type EventsConfig struct {
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
	Buffer    int    `yaml:"buffer"`
}

// GetURL возвращает адрес NATS: config -> VOXEL_NATS_URL
func (e *EventsConfig) GetURL() string {
	return getStringWithEnvFallback(e.URL, "VOXEL_NATS_URL", "")
}

// GetRetention возвращает срок хранения событий в JetStream (по умолчанию 72 часа)
func (e *EventsConfig) GetRetention() time.Duration {
	return time.Duration(getIntWithEnvFallback(e.Retention, "VOXEL_EVENTS_RETENTION_HOURS", 72)) * time.Hour
}

// GetBuffer возвращает размер буфера шины в памяти
func (e *EventsConfig) GetBuffer() int {
	return getIntWithEnvFallback(e.Buffer, "VOXEL_EVENTS_BUFFER", 1024)
}

// Appearance внешний вид материала: номер текстуры и цвет RGBA
type Appearance struct {
	Texture *uint8    `yaml:"texture"`
	Color   *[4]uint8 `yaml:"color"`
}

// MapConfig параметры генерации карты
type MapConfig struct {
	Name           string      `yaml:"name"`
	Version        string      `yaml:"version"`
	Seed           int32       `yaml:"seed"`
	Octaves        uint8       `yaml:"octaves"`
	LateralScale   float32     `yaml:"lateral_scale"`
	VerticalScale  float32     `yaml:"vertical_scale"`
	Persistence    float32     `yaml:"persistence"`
	Lacunarity     float32     `yaml:"lacunarity"`
	Noise          string      `yaml:"noise"` // simplex | perlin
	TerrainHeight  *int32      `yaml:"terrain_height"`
	Lower          [3]int      `yaml:"lower"`
	Upper          [3]int      `yaml:"upper"`
	BreakableEdges bool        `yaml:"breakable_edges"`
	Grass          *Appearance `yaml:"grass"`
	Stone          *Appearance `yaml:"stone"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	p := world.DefaultMapParams()
	height := p.TerrainHeight.Value
	return &Config{
		Engine:  EngineConfig{LogLevel: "info"},
		Storage: StorageConfig{Compression: "zstd"},
		Map: MapConfig{
			Name:          p.Name,
			Version:       p.Version,
			Seed:          p.Terrain.Seed,
			Octaves:       p.Terrain.Octaves,
			LateralScale:  p.Terrain.LateralScale,
			VerticalScale: p.Terrain.VerticalScale,
			Persistence:   p.Terrain.Persistence,
			Lacunarity:    p.Terrain.Lacunarity,
			Noise:         p.Terrain.Noise.String(),
			TerrainHeight: &height,
			Lower:         [3]int{p.Dimension.Lower.X, p.Dimension.Lower.Y, p.Dimension.Lower.Z},
			Upper:         [3]int{p.Dimension.Upper.X, p.Dimension.Upper.Y, p.Dimension.Upper.Z},
		},
	}
}

// GetChunkSize возвращает длину ребра чанка: config -> VOXEL_CHUNK_SIZE -> 16
func (e *EngineConfig) GetChunkSize() int {
	return getIntWithEnvFallback(e.ChunkSize, "VOXEL_CHUNK_SIZE", 16)
}

// GetLogLevel возвращает уровень логирования
func (e *EngineConfig) GetLogLevel() (logging.LogLevel, error) {
	if e.LogLevel == "" {
		return logging.INFO, nil
	}
	return logging.ParseLevel(e.LogLevel)
}

// GetPath возвращает каталог BadgerDB: config -> VOXEL_STORAGE_PATH -> data/voxelfield
func (s *StorageConfig) GetPath() string {
	return getStringWithEnvFallback(s.Path, "VOXEL_STORAGE_PATH", "data/voxelfield")
}

// Compress возвращает true, если снимки карт сжимаются
func (s *StorageConfig) Compress() bool {
	return s.Compression == "" || strings.EqualFold(s.Compression, "zstd")
}

// GetAddr возвращает адрес сервера метрик: config -> VOXEL_METRICS_ADDR -> :2112
func (m *MetricsConfig) GetAddr() string {
	return getStringWithEnvFallback(m.Addr, "VOXEL_METRICS_ADDR", ":2112")
}

// GetServiceName возвращает имя сервиса для трассировки
func (t *TracingConfig) GetServiceName() string {
	if t.ServiceName == "" {
		return "voxelfield"
	}
	return t.ServiceName
}

// GetAddr возвращает адрес API карт: config -> VOXEL_API_ADDR -> :8088
func (a *APIConfig) GetAddr() string {
	return getStringWithEnvFallback(a.Addr, "VOXEL_API_ADDR", ":8088")
}

// GetJWTSecret возвращает секрет токенов: config -> VOXEL_JWT_SECRET
func (a *APIConfig) GetJWTSecret() string {
	return getStringWithEnvFallback(a.JWTSecret, "VOXEL_JWT_SECRET", "")
}

func (a *Appearance) change() voxel.Opt[voxel.Change] {
	if a == nil {
		return voxel.Opt[voxel.Change]{}
	}
	var c voxel.Change
	if a.Texture != nil {
		c.Texture = voxel.Some(*a.Texture)
	}
	if a.Color != nil {
		c.Color = voxel.Some(voxel.Color{R: a.Color[0], G: a.Color[1], B: a.Color[2], A: a.Color[3]})
	}
	return voxel.Some(c)
}

// Params строит и проверяет параметры карты
func (m *MapConfig) Params() (world.MapParams, error) {
	kind, err := noise.ParseKind(m.Noise)
	if err != nil {
		return world.MapParams{}, err
	}

	p := world.MapParams{
		Name:    m.Name,
		Version: m.Version,
		Dimension: world.Dimension{
			Lower: vec.Vec3{X: m.Lower[0], Y: m.Lower[1], Z: m.Lower[2]},
			Upper: vec.Vec3{X: m.Upper[0], Y: m.Upper[1], Z: m.Upper[2]},
		},
		Terrain: world.TerrainGeneration{
			Seed:          m.Seed,
			Octaves:       m.Octaves,
			LateralScale:  m.LateralScale,
			VerticalScale: m.VerticalScale,
			Persistence:   m.Persistence,
			Lacunarity:    m.Lacunarity,
			Noise:         kind,
			Grass:         m.Grass.change(),
			Stone:         m.Stone.change(),
		},
		BreakableEdges: m.BreakableEdges,
	}
	if m.TerrainHeight != nil {
		p.TerrainHeight = voxel.Some(*m.TerrainHeight)
	}

	if err := p.Validate(); err != nil {
		return world.MapParams{}, err
	}
	return p, nil
}

// Validate проверяет значения, которые нельзя исправить значением по умолчанию
func (c *Config) Validate() error {
	if c.Engine.ChunkSize < 0 {
		return fmt.Errorf("engine.chunk_size не может быть отрицательным: %d", c.Engine.ChunkSize)
	}
	if _, err := c.Engine.GetLogLevel(); err != nil {
		return err
	}
	switch strings.ToLower(c.Storage.Compression) {
	case "", "zstd", "none":
	default:
		return fmt.Errorf("storage.compression: неизвестный алгоритм %q", c.Storage.Compression)
	}
	_, err := c.Map.Params()
	return err
}

// getIntWithEnvFallback возвращает значение с приоритетом: config -> env -> default
func getIntWithEnvFallback(configValue int, envVar string, defaultValue int) int {
	if configValue > 0 {
		return configValue
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.Atoi(envVal); err == nil && v > 0 {
			return v
		}
	}

	return defaultValue
}

func getStringWithEnvFallback(configValue, envVar, defaultValue string) string {
	if configValue != "" {
		return configValue
	}
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return defaultValue
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV VOXEL_CONFIG или возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("VOXEL_CONFIG")
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("некорректная конфигурация %s: %w", path, err)
	}

	return cfg, nil
}
