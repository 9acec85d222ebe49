package world

import (
	"context"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/annel0/terrain-streamer/internal/config"
	"github.com/annel0/terrain-streamer/internal/eventbus"
	"github.com/annel0/terrain-streamer/internal/logging"
	"github.com/annel0/terrain-streamer/internal/metrics"
	"github.com/annel0/terrain-streamer/internal/noise"
	"github.com/annel0/terrain-streamer/internal/physics"
	"github.com/annel0/terrain-streamer/internal/scene"
	"github.com/annel0/terrain-streamer/internal/vec"
)

const (
	tracerName  = "github.com/annel0/terrain-streamer/internal/world"
	eventSource = "terrain-streamer"
)

// TargetProvider — источник позиции, вокруг которой стримится рельеф.
// ok == false означает, что цели пока нет.
type TargetProvider interface {
	Position() (pos mgl32.Vec3, ok bool)
}

// TargetFunc позволяет использовать функцию как TargetProvider
type TargetFunc func() (mgl32.Vec3, bool)

func (f TargetFunc) Position() (mgl32.Vec3, bool) {
	return f()
}

// SchedulerConfig — параметры планировщика, фиксированные на сессию
type SchedulerConfig struct {
	Streaming config.StreamingConfig
	Profile   config.DeviceProfile
	Seed      int64
	Uniforms  scene.Uniforms
}

// TickReport описывает результат одного тика
type TickReport struct {
	HasTarget bool
	Target    vec.Vec2
	Rescanned bool // Тайл цели сменился, окно пересчитано
	Executed  int
	Skipped   int
	Removed   int
	Pending   int
	Resident  int
}

// StreamScheduler держит окно тайлов вокруг цели: создаёт, перетесселирует и удаляет тайлы
// с ограниченным бюджетом операций за тик и синхронизирует коллизии с физическим движком.
//
// Не потокобезопасен: все методы вызываются из одного потока тика.
type StreamScheduler struct {
	cfg     SchedulerConfig
	field   noise.Field
	target  TargetProvider
	host    scene.Host
	physics *physics.Sync // nil — тайлы только визуальные

	store *ChunkStore
	queue *OpQueue

	last    vec.Vec2
	hasLast bool

	metrics *metrics.StreamMetrics
	events  eventbus.EventBus
	logger  *logging.Logger
	tracer  trace.Tracer
}

// NewStreamScheduler создаёт планировщик. sync может быть nil.
func NewStreamScheduler(cfg SchedulerConfig, field noise.Field, target TargetProvider, host scene.Host, sync *physics.Sync) *StreamScheduler {
	cfg.Profile = cfg.Profile.Normalized()
	if cfg.Streaming.TileSize <= 0 {
		cfg.Streaming.TileSize = config.Default().Streaming.TileSize
	}
	return &StreamScheduler{
		cfg:     cfg,
		field:   field,
		target:  target,
		host:    host,
		physics: sync,
		store:   NewChunkStore(),
		queue:   NewOpQueue(),
		logger:  logging.GetStreamLogger(),
		tracer:  otel.Tracer(tracerName),
	}
}

// SetMetrics подключает Prometheus-метрики
func (s *StreamScheduler) SetMetrics(m *metrics.StreamMetrics) {
	s.metrics = m
}

// SetEventBus подключает публикацию событий жизненного цикла тайлов
func (s *StreamScheduler) SetEventBus(bus eventbus.EventBus) {
	s.events = bus
}

// Tick выполняет один шаг стриминга.
// Если тайл цели сменился, пересчитывает окно; иначе выполняет до OpsPerTick операций.
func (s *StreamScheduler) Tick(ctx context.Context) TickReport {
	var report TickReport

	pos, ok := s.target.Position()
	if !ok {
		return report
	}

	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "terrain.tick")
	defer span.End()

	coord := vec.Vec2Float{X: float64(pos.X()), Y: float64(pos.Z())}.ToGrid(s.cfg.Streaming.TileSize)
	report.HasTarget = true
	report.Target = coord

	if !s.hasLast || coord != s.last {
		s.rescan(ctx, coord, &report)
		s.last = coord
		s.hasLast = true
		report.Rescanned = true
	} else {
		s.drain(ctx, coord, &report)
	}

	report.Pending = s.queue.Len()
	report.Resident = s.store.Len()

	span.SetAttributes(
		attribute.String("terrain.target", coord.String()),
		attribute.Bool("terrain.rescanned", report.Rescanned),
		attribute.Int("terrain.executed", report.Executed),
		attribute.Int("terrain.removed", report.Removed),
	)
	s.metrics.SetPending(report.Pending)
	s.metrics.SetResident(report.Resident)
	s.metrics.SetPhysicsBodies(s.physicsCount())
	s.metrics.ObserveTick(time.Since(start))
	return report
}

// policy собирает политику LOD; override читается из текущих параметров рельефа
func (s *StreamScheduler) policy() LODPolicy {
	return LODPolicy{
		Tuning:        s.cfg.Streaming.LODTuning,
		MaxLOD:        s.cfg.Streaming.MaxLOD,
		Override:      s.field.Params().LODOverride,
		PhysicsLOD:    s.cfg.Streaming.PhysicsLOD,
		PhysicsRadius: s.cfg.Streaming.PhysicsRadius,
	}
}

// inBounds — тайл в окне цели или в удерживаемой зоне вокруг начала координат
func (s *StreamScheduler) inBounds(key, target vec.Vec2) bool {
	return key.DistanceTo(target) <= float64(s.cfg.Profile.MaxDistance) ||
		key.DistanceTo(vec.Origin) <= s.cfg.Streaming.OriginKeepRadius
}

// protected — тайл никогда не выгружается
func (s *StreamScheduler) protected(key vec.Vec2) bool {
	return key.DistanceTo(vec.Origin) <= s.cfg.Streaming.ProtectedRadius
}

func (s *StreamScheduler) rescan(ctx context.Context, coord vec.Vec2, report *TickReport) {
	ctx, span := s.tracer.Start(ctx, "terrain.rescan")
	defer span.End()

	s.metrics.ObserveRescan()
	policy := s.policy()
	radius := s.cfg.Profile.MaxDistance + 1
	seen := make(map[vec.Vec2]struct{}, (2*radius+1)*(2*radius+1))

	for dz := -radius; dz <= radius; dz++ {
		for dx := -radius; dx <= radius; dx++ {
			key := coord.Add(vec.Vec2{X: dx, Y: dz})
			seen[key] = struct{}{}
			c, resident := s.store.Get(key)

			if !s.inBounds(key, coord) {
				if resident && !s.protected(key) {
					s.removeChunk(ctx, c, report)
				}
				continue
			}

			lod := policy.DesiredLOD(key, coord, vec.Origin)
			if !resident {
				s.queue.Enqueue(ScheduledOp{Key: key, Target: coord, LOD: lod, Action: ActionCreate})
				continue
			}

			wantPhysics := policy.RequiresPhysics(key, lod)
			_, pending := s.queue.Pending(key)
			if c.LOD() != lod || (c.physics != nil) != wantPhysics || pending {
				s.queue.Enqueue(ScheduledOp{Key: key, Target: coord, LOD: lod, Action: ActionUpdateLOD})
			}
		}
	}

	// Цель могла телепортироваться: тайлы вне нового окна проверяются так же
	for _, key := range s.store.Keys() {
		if _, ok := seen[key]; ok {
			continue
		}
		if !s.inBounds(key, coord) && !s.protected(key) {
			c, _ := s.store.Get(key)
			s.removeChunk(ctx, c, report)
		}
	}

	s.queue.SortByDistance(coord)
	s.logger.Debug("Окно пересчитано вокруг %v: в очереди %d, резидентных %d", coord, s.queue.Len(), s.store.Len())
}

func (s *StreamScheduler) drain(ctx context.Context, coord vec.Vec2, report *TickReport) {
	if s.queue.Len() == 0 {
		return
	}
	ctx, span := s.tracer.Start(ctx, "terrain.drain")
	defer span.End()

	for report.Executed < s.cfg.Profile.OpsPerTick {
		op, ok := s.queue.Pop()
		if !ok {
			break
		}
		// Пропущенные операции не тратят бюджет тика
		if !s.inBounds(op.Key, coord) && op.Action != ActionRemove {
			report.Skipped++
			s.metrics.ObserveSkipped()
			continue
		}

		finest := s.buildsFinest(op)
		s.execute(ctx, op, report)
		report.Executed++
		s.metrics.ObserveOp(op.Action.String())

		// Самый детальный тайл дорогой: остаток бюджета переносится на следующий тик
		if finest {
			break
		}
	}
}

// buildsFinest — операция тесселирует тайл на LOD 0: создание или реальная смена LOD.
// Удаление и обновление тайла, уже имеющего LOD 0, дешёвые.
func (s *StreamScheduler) buildsFinest(op ScheduledOp) bool {
	if op.LOD != 0 || op.Action == ActionRemove {
		return false
	}
	c, resident := s.store.Get(op.Key)
	return !resident || c.LOD() != 0
}

func (s *StreamScheduler) execute(ctx context.Context, op ScheduledOp, report *TickReport) {
	ctx, span := s.tracer.Start(ctx, "terrain.op", trace.WithAttributes(
		attribute.String("terrain.action", op.Action.String()),
		attribute.String("terrain.key", op.Key.String()),
		attribute.Int("terrain.lod", op.LOD),
	))
	defer span.End()

	c, resident := s.store.Get(op.Key)
	switch op.Action {
	case ActionCreate, ActionUpdateLOD:
		if resident {
			s.updateChunk(ctx, c, op.LOD)
		} else {
			s.createChunk(ctx, op.Key, op.LOD)
		}
	case ActionRemove:
		if resident && !s.protected(op.Key) {
			s.removeChunk(ctx, c, report)
		}
	}
}

func (s *StreamScheduler) chunkOptions() ChunkOptions {
	return ChunkOptions{
		TileSize:      s.cfg.Streaming.TileSize,
		Density:       s.cfg.Profile.Density,
		MinSegments:   s.cfg.Profile.MinSegments,
		NearDetailLOD: s.cfg.Streaming.NearDetailLOD,
		Seed:          s.cfg.Seed,
		Uniforms:      s.cfg.Uniforms,
		Host:          s.host,
	}
}

func (s *StreamScheduler) createChunk(ctx context.Context, key vec.Vec2, lod int) {
	c := NewChunk(key, s.field, lod, s.chunkOptions())
	s.store.Put(c)
	s.syncPhysics(c, true)
	s.publish(ctx, eventbus.TypeChunkCreated, c)
	s.logger.Trace("Создан тайл %v, LOD %d, сегментов %d", key, lod, c.Segments())
}

func (s *StreamScheduler) updateChunk(ctx context.Context, c *Chunk, lod int) {
	changed := c.LOD() != lod
	if changed {
		if err := c.UpdateLOD(lod); err != nil {
			s.logger.Error("Не удалось обновить LOD тайла %v: %v", c.Key(), err)
			return
		}
	}
	s.syncPhysics(c, changed)
	s.publish(ctx, eventbus.TypeChunkUpdated, c)
}

// syncPhysics приводит коллизию тайла в соответствие с политикой.
// rebuild пересоздаёт существующую коллизию после изменения сетки высот.
func (s *StreamScheduler) syncPhysics(c *Chunk, rebuild bool) {
	if s.physics == nil {
		return
	}
	if !s.policy().RequiresPhysics(c.Key(), c.LOD()) {
		s.detachPhysics(c)
		return
	}
	if c.physics != nil && !rebuild {
		return
	}
	s.detachPhysics(c)

	approx, err := s.physics.Build(c)
	if err != nil {
		s.metrics.ObservePhysicsFailure()
		s.logger.Warn("Тайл %v остаётся без коллизии: %v", c.Key(), err)
		return
	}
	c.physics = approx
	s.metrics.ObservePhysics(approx.Kind.String())
}

func (s *StreamScheduler) detachPhysics(c *Chunk) {
	if c.physics == nil {
		return
	}
	if err := s.physics.Remove(c.physics); err != nil {
		s.logger.Warn("Не удалось удалить коллизию тайла %v: %v", c.Key(), err)
	}
	c.physics = nil
}

// removeChunk удаляет тайл: сначала коллизия, затем визуальные ресурсы, затем запись в хранилище
func (s *StreamScheduler) removeChunk(ctx context.Context, c *Chunk, report *TickReport) {
	if c.physics != nil {
		s.detachPhysics(c)
	}
	s.publish(ctx, eventbus.TypeChunkRemoved, c)
	if err := c.Dispose(); err != nil {
		s.logger.Error("Не удалось освободить тайл %v: %v", c.Key(), err)
	}
	s.store.Delete(c.Key())
	s.metrics.ObserveRemoved()
	if report != nil {
		report.Removed++
	}
}

// publish отправляет событие тайла; ошибки шины не прерывают тик
func (s *StreamScheduler) publish(ctx context.Context, eventType string, c *Chunk) {
	if s.events == nil {
		return
	}
	ev := eventbus.ChunkEvent{
		X:        c.Key().X,
		Z:        c.Key().Y,
		LOD:      c.LOD(),
		Segments: c.Segments(),
		Trees:    len(c.Trees()),
	}
	if c.physics != nil {
		ev.Physics = c.physics.Kind.String()
	}
	env, err := eventbus.NewChunkEnvelope(eventSource, eventType, ev)
	if err == nil {
		err = s.events.Publish(ctx, env)
	}
	if err != nil {
		s.logger.Warn("Событие %s тайла %v не отправлено: %v", eventType, c.Key(), err)
	}
}

func (s *StreamScheduler) physicsCount() int {
	n := 0
	s.store.Each(func(c *Chunk) {
		if c.physics != nil {
			n++
		}
	})
	return n
}

// Enqueue ставит операцию в очередь, перезаписывая ожидающую для того же ключа
func (s *StreamScheduler) Enqueue(op ScheduledOp) {
	s.queue.Enqueue(op)
}

// Lookup возвращает резидентный тайл по ключу
func (s *StreamScheduler) Lookup(key vec.Vec2) (*Chunk, bool) {
	return s.store.Get(key)
}

func (s *StreamScheduler) Len() int {
	return s.store.Len()
}

func (s *StreamScheduler) Keys() []vec.Vec2 {
	return s.store.Keys()
}

// TileSize возвращает сторону тайла в мировых единицах
func (s *StreamScheduler) TileSize() float64 {
	return s.cfg.Streaming.TileSize
}

// Pending возвращает число операций в очереди
func (s *StreamScheduler) Pending() int {
	return s.queue.Len()
}

// Field возвращает текущую функцию высот
func (s *StreamScheduler) Field() noise.Field {
	return s.field
}

// RebuildAll применяет новые параметры рельефа ко всем резидентным тайлам синхронно.
// Окно будет пересчитано на следующем тике, чтобы учесть возможный override LOD.
func (s *StreamScheduler) RebuildAll(ctx context.Context, params noise.Params) error {
	ctx, span := s.tracer.Start(ctx, "terrain.rebuild_all")
	defer span.End()

	s.field = s.field.WithParams(params)
	var firstErr error
	s.store.Each(func(c *Chunk) {
		if err := c.Rebuild(s.field); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		s.syncPhysics(c, true)
		s.publish(ctx, eventbus.TypeTerrainRebuilt, c)
	})
	s.hasLast = false
	s.logger.Info("Рельеф перестроен с новыми параметрами: %d тайлов", s.store.Len())
	return firstErr
}

// Close удаляет все резидентные тайлы и очищает очередь
func (s *StreamScheduler) Close() {
	ctx := context.Background()
	s.store.Each(func(c *Chunk) {
		s.removeChunk(ctx, c, nil)
	})
	s.queue.Clear()
	s.hasLast = false
}
