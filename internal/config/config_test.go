package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/voxelfield/internal/logging"
	"github.com/annel0/voxelfield/internal/noise"
	"github.com/annel0/voxelfield/internal/vec"
	"github.com/annel0/voxelfield/internal/voxel"
	"github.com/annel0/voxelfield/internal/world"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsWithoutPath(t *testing.T) {
	t.Setenv("VOXEL_CONFIG", "")
	t.Setenv("VOXEL_CHUNK_SIZE", "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Engine.GetChunkSize())
	assert.True(t, cfg.Storage.Compress())

	params, err := cfg.Map.Params()
	require.NoError(t, err)
	assert.Equal(t, world.DefaultMapParams(), params)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
engine:
  chunk_size: 8
  log_level: debug
storage:
  path: /tmp/voxels
  compression: none
metrics:
  enabled: true
  addr: ":9100"
map:
  name: hills
  seed: 42
  noise: perlin
  lower: [0, 0, 0]
  upper: [3, 1, 3]
  breakable_edges: true
  grass:
    texture: 2
    color: [1, 2, 3, 255]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.GetChunkSize())
	level, err := cfg.Engine.GetLogLevel()
	require.NoError(t, err)
	assert.Equal(t, logging.DEBUG, level)
	assert.Equal(t, "/tmp/voxels", cfg.Storage.GetPath())
	assert.False(t, cfg.Storage.Compress())
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9100", cfg.Metrics.GetAddr())

	params, err := cfg.Map.Params()
	require.NoError(t, err)
	assert.Equal(t, "hills", params.Name)
	assert.Equal(t, int32(42), params.Terrain.Seed)
	assert.Equal(t, noise.KindPerlin, params.Terrain.Noise)
	assert.Equal(t, vec.Vec3{X: 3, Y: 1, Z: 3}, params.Dimension.Upper)
	assert.True(t, params.BreakableEdges)
	// Незаданные поля остаются значениями по умолчанию
	assert.Equal(t, uint8(4), params.Terrain.Octaves)
	assert.Equal(t, int32(8), params.TerrainHeight.Value)

	require.True(t, params.Terrain.Grass.Set)
	assert.Equal(t, uint8(2), params.Terrain.Grass.Value.Texture.Value)
	assert.Equal(t, voxel.Color{R: 1, G: 2, B: 3, A: 255}, params.Terrain.Grass.Value.Color.Value)
	assert.False(t, params.Terrain.Stone.Set)
}

func TestLoad_NullTerrainHeight(t *testing.T) {
	cfg, err := Load(writeConfig(t, "map:\n  terrain_height: ~\n"))
	require.NoError(t, err)

	params, err := cfg.Map.Params()
	require.NoError(t, err)
	assert.False(t, params.TerrainHeight.Set)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("VOXEL_CONFIG", writeConfig(t, "engine:\n  chunk_size: 4\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.GetChunkSize())
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"yaml":        "engine: [",
		"level":       "engine:\n  log_level: loud\n",
		"compression": "storage:\n  compression: lz4\n",
		"noise":       "map:\n  noise: worley\n",
		"bounds":      "map:\n  lower: [2, 0, 0]\n  upper: [1, 0, 0]\n",
		"chunk":       "engine:\n  chunk_size: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestEnvFallbacks(t *testing.T) {
	t.Setenv("VOXEL_CHUNK_SIZE", "32")
	t.Setenv("VOXEL_STORAGE_PATH", "/srv/voxels")
	t.Setenv("VOXEL_METRICS_ADDR", "127.0.0.1:9000")

	cfg := Default()
	assert.Equal(t, 32, cfg.Engine.GetChunkSize())
	assert.Equal(t, "/srv/voxels", cfg.Storage.GetPath())
	assert.Equal(t, "127.0.0.1:9000", cfg.Metrics.GetAddr())

	t.Setenv("VOXEL_CHUNK_SIZE", "abc")
	assert.Equal(t, 16, cfg.Engine.GetChunkSize())
}

func TestLoad_APIAndTracing(t *testing.T) {
	t.Setenv("VOXEL_API_ADDR", "")
	t.Setenv("VOXEL_JWT_SECRET", "c2VjcmV0")

	cfg, err := Load(writeConfig(t, `
tracing:
  enabled: true
  endpoint: collector:4318
api:
  auth: true
`))
	require.NoError(t, err)

	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "collector:4318", cfg.Tracing.Endpoint)
	assert.Equal(t, "voxelfield", cfg.Tracing.GetServiceName())
	assert.True(t, cfg.API.Auth)
	assert.Equal(t, ":8088", cfg.API.GetAddr())
	assert.Equal(t, "c2VjcmV0", cfg.API.GetJWTSecret())
}

func TestLoad_Events(t *testing.T) {
	t.Setenv("VOXEL_NATS_URL", "")
	t.Setenv("VOXEL_EVENTS_RETENTION_HOURS", "")
	t.Setenv("VOXEL_EVENTS_BUFFER", "")

	cfg := Default()
	assert.Equal(t, "", cfg.Events.GetURL())
	assert.Equal(t, 72*time.Hour, cfg.Events.GetRetention())
	assert.Equal(t, 1024, cfg.Events.GetBuffer())

	cfg, err := Load(writeConfig(t, "events:\n  url: nats://127.0.0.1:4222\n  stream: MAPS\n  retention_hours: 6\n"))
	require.NoError(t, err)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.Events.GetURL())
	assert.Equal(t, "MAPS", cfg.Events.Stream)
	assert.Equal(t, 6*time.Hour, cfg.Events.GetRetention())
}
