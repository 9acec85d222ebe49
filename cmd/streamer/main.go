package main

import (
	"context"
	"flag"
	"log"
	"math"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/terrain-streamer/internal/api"
	"github.com/annel0/terrain-streamer/internal/config"
	"github.com/annel0/terrain-streamer/internal/eventbus"
	"github.com/annel0/terrain-streamer/internal/logging"
	"github.com/annel0/terrain-streamer/internal/metrics"
	"github.com/annel0/terrain-streamer/internal/noise"
	"github.com/annel0/terrain-streamer/internal/observability"
	"github.com/annel0/terrain-streamer/internal/physics"
	"github.com/annel0/terrain-streamer/internal/scene"
	"github.com/annel0/terrain-streamer/internal/world"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config (default: $TERRAIN_CONFIG)")
		tickRate   = flag.Duration("tick", 16*time.Millisecond, "Scheduler tick interval")
		orbit      = flag.Float64("orbit", 400, "Radius of the simulated target orbit in world units")
		speed      = flag.Float64("speed", 0.05, "Orbit angular speed in radians per second")
		summary    = flag.Duration("summary", 5*time.Second, "Interval between summary log lines")
	)
	flag.Parse()

	// === КОНФИГУРАЦИЯ ===
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("❌ Ошибка загрузки конфигурации: %v", err)
	}

	if cfg.Logging.Dir != "" {
		logging.LogDir = cfg.Logging.Dir
	}
	if err := logging.InitDefaultLogger("streamer"); err != nil {
		log.Fatalf("❌ Ошибка инициализации логирования: %v", err)
	}
	defer logging.CloseDefaultLogger()
	defer logging.GetLoggerManager().CloseAll()

	// Уровни уже проверены в config.Validate
	level, components, _ := cfg.Logging.Levels()
	logging.SetConsoleLevel(level)
	if err := logging.GetLoggerManager().ApplyLevels(components); err != nil {
		logging.Warn("⚠️ Не удалось применить уровни логирования: %v", err)
	}

	logging.Info("🏔️  Запуск стриминга рельефа...")

	profile, err := cfg.Device.ResolveProfile()
	if err != nil {
		logging.Warn("⚠️ Профиль устройства не определён (%v), используется %s", err, profile.Name)
	}
	logging.Info("📡 Профиль %s: плотность %d, операций за тик %d, радиус %d тайлов",
		profile.Name, profile.Density, profile.OpsPerTick, profile.MaxDistance)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observability.InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		logging.Error("❌ Ошибка инициализации OpenTelemetry: %v", err)
	} else {
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				logging.Error("Ошибка остановки OpenTelemetry: %v", err)
			}
		}()
	}

	// === ИНИЦИАЛИЗАЦИЯ КОМПОНЕНТОВ ===
	params := cfg.Terrain.Params()
	table := noise.NewOctaveTable(cfg.Terrain.Seed, max(params.Octaves, noise.RidgeOctaves+1))
	field := noise.NewField(table, params)
	logging.Info("🏔️  Таблица шума: сид %d, октав %d", table.Seed(), table.Len())

	graph := scene.NewGraph()
	engine := physics.NewMemoryEngine()
	sync := physics.NewSync(engine, cfg.Physics.SampleCount)

	start := time.Now()
	target := world.TargetFunc(func() (mgl32.Vec3, bool) {
		angle := *speed * time.Since(start).Seconds()
		return mgl32.Vec3{
			float32(*orbit * math.Cos(angle)),
			0,
			float32(*orbit * math.Sin(angle)),
		}, true
	})

	sched := world.NewStreamScheduler(world.SchedulerConfig{
		Streaming: cfg.Streaming,
		Profile:   profile,
		Seed:      cfg.Terrain.Seed,
		Uniforms:  world.DefaultUniforms(),
	}, field, target, graph, sync)

	streamMetrics := metrics.NewStreamMetrics(nil)
	sched.SetMetrics(streamMetrics)

	bus, err := newEventBus(cfg.Events)
	if err != nil {
		logging.Warn("⚠️ Шина событий недоступна (%v), события тайлов не публикуются", err)
	}
	var busMetrics *eventbus.MetricsExporter
	if bus != nil {
		sched.SetEventBus(bus)
		if _, err := eventbus.StartLoggingListener(bus); err != nil {
			logging.Warn("Не удалось подписать логгер событий: %v", err)
		}
		busMetrics = eventbus.NewMetricsExporter(bus, nil)
		busMetrics.Start(time.Second)
	}

	// /metrics отдаёт HTTP API; отдельный сервер метрик нужен только без него
	board := api.NewStatusBoard(profile.Name, field)
	rebuild := make(chan noise.Params, 1)
	var apiServer *api.Server
	var metricsServer *http.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(api.Config{
			Addr:     cfg.API.Addr,
			Board:    board,
			Metrics:  streamMetrics.Handler(),
			Rebuild:  rebuild,
		})
		apiServer.Start()
	} else {
		metricsServer = streamMetrics.StartHTTP(cfg.Metrics.Addr)
	}

	spawn := sched.FindHighestPoint(0, 0, cfg.Streaming.TileSize*2)
	logging.Info("✅ Точка появления: (%.1f, %.1f, %.1f)", spawn.X(), spawn.Y(), spawn.Z())

	// === ЦИКЛ ТИКОВ ===
	ticker := time.NewTicker(*tickRate)
	defer ticker.Stop()
	summaryTicker := time.NewTicker(*summary)
	defer summaryTicker.Stop()

	logging.Info("✅ Стриминг запущен")

	var executed, removed int
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			report := sched.Tick(ctx)
			board.Record(sched, report)
			executed += report.Executed
			removed += report.Removed
			if report.Rescanned {
				logging.Debug("Цель перешла в тайл %v, в очереди %d", report.Target, report.Pending)
			}
		case params := <-rebuild:
			if err := sched.RebuildAll(ctx, params); err != nil {
				logging.Error("❌ Ошибка перестройки рельефа: %v", err)
			}
		case <-summaryTicker.C:
			logging.Info("📊 Тайлов: %d, в очереди: %d, узлов сцены: %d, тел: %d, выполнено: %d, удалено: %d",
				sched.Len(), sched.Pending(), graph.Len(), engine.Len(), executed, removed)
		}
	}

	// === GRACEFUL SHUTDOWN ===
	logging.Info("📡 Получен сигнал завершения, остановка...")
	if apiServer != nil {
		if err := apiServer.Stop(context.Background()); err != nil {
			logging.Error("❌ Ошибка остановки HTTP API: %v", err)
		}
	}
	if err := metrics.Shutdown(context.Background(), metricsServer); err != nil {
		logging.Error("❌ Ошибка остановки сервера метрик: %v", err)
	}
	sched.Close()
	if bus != nil {
		if err := bus.Close(); err != nil {
			logging.Error("❌ Ошибка закрытия шины событий: %v", err)
		}
		busMetrics.Stop()
	}
	logging.Info("👋 Стриминг остановлен")
}

// newEventBus создаёт шину событий тайлов по конфигурации; nil — публикация выключена
func newEventBus(cfg config.EventsConfig) (eventbus.EventBus, error) {
	switch cfg.Backend {
	case config.EventsMemory:
		return eventbus.NewMemoryBus(cfg.Buffer), nil
	case config.EventsNATS:
		bus, err := eventbus.NewJetStreamBus(cfg.NATSURL, cfg.Stream, cfg.Subject, cfg.Retention)
		if err != nil {
			return nil, err
		}
		logging.Info("📡 События тайлов публикуются в NATS %s (stream=%s)", cfg.NATSURL, cfg.Stream)
		return bus, nil
	default:
		return nil, nil
	}
}
