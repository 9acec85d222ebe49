package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/annel0/terrain-streamer/internal/logging"
	"github.com/annel0/terrain-streamer/internal/noise"
)

// ErrInvalidConfig возвращается Validate для некорректных значений
var ErrInvalidConfig = errors.New("invalid config")

// Config корневая структура конфигурации стримера рельефа
type Config struct {
	Terrain   TerrainConfig   `yaml:"terrain"`
	Streaming StreamingConfig `yaml:"streaming"`
	Physics   PhysicsConfig   `yaml:"physics"`
	Device    DeviceConfig    `yaml:"device"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	API       APIConfig       `yaml:"api"`
	Events    EventsConfig    `yaml:"events"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TerrainConfig параметры функции высоты
type TerrainConfig struct {
	Seed        int64           `yaml:"seed"`
	Amplitude   float64         `yaml:"amplitude"`
	Frequency   FrequencyConfig `yaml:"frequency"`
	Octaves     int             `yaml:"octaves"`
	Lacunarity  float64         `yaml:"lacunarity"`
	Persistence float64         `yaml:"persistence"`
	LODOverride *int            `yaml:"lod_override"`
}

type FrequencyConfig struct {
	X float64 `yaml:"x"`
	Z float64 `yaml:"z"`
}

// StreamingConfig параметры окна стриминга и политики LOD
type StreamingConfig struct {
	TileSize         float64 `yaml:"tile_size"`
	ProtectedRadius  float64 `yaml:"protected_radius"`
	OriginKeepRadius float64 `yaml:"origin_keep_radius"`
	PhysicsRadius    float64 `yaml:"physics_radius"`
	PhysicsLOD       int     `yaml:"physics_lod"`
	NearDetailLOD    int     `yaml:"near_detail_lod"`
	LODTuning        float64 `yaml:"lod_tuning"`
	MaxLOD           int     `yaml:"max_lod"`
}

type PhysicsConfig struct {
	SampleCount int `yaml:"sample_count"`
}

// DeviceConfig выбирает профиль устройства; ненулевые поля переопределяют пресет
type DeviceConfig struct {
	Profile     string `yaml:"profile"` // auto | desktop | mobile | low
	Density     int    `yaml:"density"`
	MinSegments int    `yaml:"min_segments"`
	OpsPerTick  int    `yaml:"ops_per_tick"`
	MaxDistance int    `yaml:"max_distance"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// APIConfig HTTP API состояния стриминга
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Бэкенды шины событий тайлов
const (
	EventsNone   = "none"
	EventsMemory = "memory"
	EventsNATS   = "nats"
)

// EventsConfig шина событий жизненного цикла тайлов
type EventsConfig struct {
	Backend   string        `yaml:"backend"` // none | memory | nats
	Buffer    int           `yaml:"buffer"`
	NATSURL   string        `yaml:"nats_url"`
	Stream    string        `yaml:"stream"`
	Subject   string        `yaml:"subject"`
	Retention time.Duration `yaml:"retention"`
}

// LoggingConfig каталог файлов логов и пороги вывода в консоль
type LoggingConfig struct {
	Dir        string            `yaml:"dir"`
	Level      string            `yaml:"level"`      // порог логгера по умолчанию
	Components map[string]string `yaml:"components"` // компонент -> порог, например stream: debug
}

// Levels разбирает пороги из секции logging
func (l LoggingConfig) Levels() (logging.LogLevel, map[string]logging.LogLevel, error) {
	level, err := logging.ParseLevel(l.Level)
	if err != nil {
		return logging.INFO, nil, err
	}
	components := make(map[string]logging.LogLevel, len(l.Components))
	for name, raw := range l.Components {
		lvl, err := logging.ParseLevel(raw)
		if err != nil {
			return logging.INFO, nil, fmt.Errorf("logging.components.%s: %w", name, err)
		}
		components[name] = lvl
	}
	return level, components, nil
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	params := noise.DefaultParams()
	return &Config{
		Terrain: TerrainConfig{
			Seed:        1337,
			Amplitude:   params.Amplitude,
			Frequency:   FrequencyConfig{X: params.FrequencyX, Z: params.FrequencyZ},
			Octaves:     params.Octaves,
			Lacunarity:  params.Lacunarity,
			Persistence: params.Persistence,
		},
		Streaming: StreamingConfig{
			TileSize:         64,
			ProtectedRadius:  2,
			OriginKeepRadius: 2,
			PhysicsRadius:    2,
			PhysicsLOD:       1,
			NearDetailLOD:    1,
			LODTuning:        0.5,
			MaxLOD:           5,
		},
		Physics: PhysicsConfig{
			SampleCount: 9,
		},
		Device: DeviceConfig{
			Profile: ProfileAuto,
		},
		Metrics: MetricsConfig{
			Addr: ":2112",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "terrain-streamer",
		},
		API: APIConfig{
			Enabled: true,
			Addr:    ":8088",
		},
		Events: EventsConfig{
			Backend:   EventsMemory,
			Buffer:    1024,
			NATSURL:   "nats://127.0.0.1:4222",
			Stream:    "TERRAIN",
			Subject:   "terrain",
			Retention: time.Hour,
		},
		Logging: LoggingConfig{
			Dir:   "logs",
			Level: "info",
		},
	}
}

// Params переводит секцию terrain в параметры функции высоты
func (t TerrainConfig) Params() noise.Params {
	lodOverride := -1
	if t.LODOverride != nil {
		lodOverride = *t.LODOverride
	}
	return noise.Params{
		Amplitude:   t.Amplitude,
		FrequencyX:  t.Frequency.X,
		FrequencyZ:  t.Frequency.Z,
		Octaves:     t.Octaves,
		Lacunarity:  t.Lacunarity,
		Persistence: t.Persistence,
		LODOverride: lodOverride,
	}
}

// Validate проверяет значения, которые нельзя исправить молча
func (c *Config) Validate() error {
	switch {
	case c.Streaming.TileSize <= 0:
		return fmt.Errorf("%w: streaming.tile_size must be positive, got %v", ErrInvalidConfig, c.Streaming.TileSize)
	case c.Terrain.Octaves < 0:
		return fmt.Errorf("%w: terrain.octaves must not be negative, got %d", ErrInvalidConfig, c.Terrain.Octaves)
	case c.Terrain.Lacunarity <= 0:
		return fmt.Errorf("%w: terrain.lacunarity must be positive, got %v", ErrInvalidConfig, c.Terrain.Lacunarity)
	case c.Physics.SampleCount < 2:
		return fmt.Errorf("%w: physics.sample_count must be at least 2, got %d", ErrInvalidConfig, c.Physics.SampleCount)
	case c.Streaming.LODTuning < 0:
		return fmt.Errorf("%w: streaming.lod_tuning must not be negative, got %v", ErrInvalidConfig, c.Streaming.LODTuning)
	}
	switch c.Events.Backend {
	case "", EventsNone, EventsMemory, EventsNATS:
	default:
		return fmt.Errorf("%w: unknown events.backend %q", ErrInvalidConfig, c.Events.Backend)
	}
	if _, _, err := c.Logging.Levels(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Device.Profile != "" && c.Device.Profile != ProfileAuto {
		if _, err := presetProfile(c.Device.Profile); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Load читает YAML файл конфигурации поверх значений по умолчанию.
// Если path == "", пытается прочитать из ENV TERRAIN_CONFIG; без файла возвращает Default().
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("TERRAIN_CONFIG")
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv применяет переопределения из окружения
func (c *Config) applyEnv() {
	c.Terrain.Seed = getInt64WithEnvFallback(c.Terrain.Seed, "TERRAIN_SEED")
	c.Metrics.Addr = getStringWithEnvFallback(c.Metrics.Addr, "TERRAIN_METRICS_ADDR")
	c.Device.Profile = getStringWithEnvFallback(c.Device.Profile, "TERRAIN_DEVICE")
	c.API.Addr = getStringWithEnvFallback(c.API.Addr, "TERRAIN_API_ADDR")
	c.Events.Backend = getStringWithEnvFallback(c.Events.Backend, "TERRAIN_EVENTS")
	c.Events.NATSURL = getStringWithEnvFallback(c.Events.NATSURL, "NATS_URL")
	c.Logging.Level = getStringWithEnvFallback(c.Logging.Level, "TERRAIN_LOG_LEVEL")
}

// getInt64WithEnvFallback возвращает значение из окружения, если оно задано и корректно
func getInt64WithEnvFallback(configValue int64, envVar string) int64 {
	if envVal := os.Getenv(envVar); envVal != "" {
		if v, err := strconv.ParseInt(envVal, 10, 64); err == nil {
			return v
		}
	}
	return configValue
}

func getStringWithEnvFallback(configValue, envVar string) string {
	if envVal := os.Getenv(envVar); envVal != "" {
		return envVal
	}
	return configValue
}
