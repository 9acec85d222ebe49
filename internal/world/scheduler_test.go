package world

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/terrain-streamer/internal/eventbus"
	"github.com/annel0/terrain-streamer/internal/metrics"
	"github.com/annel0/terrain-streamer/internal/physics"
	"github.com/annel0/terrain-streamer/internal/scene"
	"github.com/annel0/terrain-streamer/internal/vec"
)

// Целочисленных точек в круге радиуса 3 и радиуса 2
const (
	windowKeys    = 29
	protectedKeys = 13
)

type schedulerFixture struct {
	sched  *StreamScheduler
	target *movableTarget
	engine *recordingEngine
	host   *recordingHost
	log    *eventLog
}

func newSchedulerFixture() *schedulerFixture {
	log := &eventLog{}
	f := &schedulerFixture{
		target: &movableTarget{},
		engine: &recordingEngine{MemoryEngine: physics.NewMemoryEngine(), log: log},
		host:   &recordingHost{Graph: scene.NewGraph(), log: log},
		log:    log,
	}
	physicsSync := physics.NewSync(f.engine, physics.DefaultSampleCount)
	f.sched = NewStreamScheduler(testSchedulerConfig(), testField(), f.target, f.host, physicsSync)
	f.sched.SetMetrics(metrics.NewStreamMetrics(prometheus.NewRegistry()))
	return f
}

func TestTickWithoutTargetIsNoop(t *testing.T) {
	f := newSchedulerFixture()

	report := f.sched.Tick(testCtx)
	assert.False(t, report.HasTarget)
	assert.Equal(t, 0, f.sched.Len())
	assert.Equal(t, 0, f.sched.Pending())
	assert.Equal(t, 0, f.host.Len())
}

func TestFirstTickOnlyRescans(t *testing.T) {
	f := newSchedulerFixture()
	f.target.at(0, 0)

	report := f.sched.Tick(testCtx)
	assert.True(t, report.Rescanned)
	assert.Equal(t, vec.Vec2{}, report.Target)
	assert.Equal(t, 0, report.Executed)
	assert.Equal(t, windowKeys, report.Pending)
	assert.Equal(t, 0, f.sched.Len())
}

func TestDrainStopsAfterFinestOp(t *testing.T) {
	f := newSchedulerFixture()
	f.target.at(0, 0)
	f.sched.Tick(testCtx)

	report := f.sched.Tick(testCtx)
	assert.False(t, report.Rescanned)
	assert.Equal(t, 1, report.Executed)

	c, ok := f.sched.Lookup(vec.Vec2{})
	require.True(t, ok)
	assert.Equal(t, 0, c.LOD())
	assert.NotNil(t, c.Physics())
}

func TestSettledWindowInvariants(t *testing.T) {
	f := newSchedulerFixture()
	f.target.at(0, 0)
	f.sched.Tick(testCtx)
	settle(t, f.sched)

	keys := f.sched.Keys()
	assert.Len(t, keys, windowKeys)
	assert.Equal(t, f.sched.Len(), f.host.Len())

	seen := make(map[vec.Vec2]bool)
	policy := f.sched.policy()
	bodies := 0
	for _, k := range keys {
		assert.False(t, seen[k], "повторный ключ %v", k)
		seen[k] = true

		c, ok := f.sched.Lookup(k)
		require.True(t, ok)
		assert.Equal(t, policy.DesiredLOD(k, vec.Origin, vec.Origin), c.LOD())
		assert.Equal(t, policy.RequiresPhysics(k, c.LOD()), c.Physics() != nil, "коллизия тайла %v", k)
		if c.Physics() != nil {
			bodies++
			assert.Equal(t, physics.KindHeightField, c.Physics().Kind)
		}
	}
	assert.Equal(t, bodies, f.engine.Len())
}

func TestTeleportKeepsProtectedChunks(t *testing.T) {
	f := newSchedulerFixture()
	f.target.at(0, 0)
	f.sched.Tick(testCtx)
	settle(t, f.sched)

	type removal struct{ body, detach string }
	expected := make(map[vec.Vec2]removal)
	for _, k := range f.sched.Keys() {
		c, _ := f.sched.Lookup(k)
		if k.DistanceTo(vec.Origin) > 2 {
			require.NotNil(t, c.Physics())
			expected[k] = removal{
				body:   fmt.Sprintf("body:%s", c.Physics().Body),
				detach: "detach:" + c.Node().Name,
			}
		}
	}

	f.target.at(40, 0)
	report := f.sched.Tick(testCtx)
	assert.True(t, report.Rescanned)
	assert.Equal(t, windowKeys-protectedKeys, report.Removed)
	assert.Equal(t, protectedKeys, f.sched.Len())

	for _, k := range f.sched.Keys() {
		assert.LessOrEqual(t, k.DistanceTo(vec.Origin), 2.0)
	}
	for k, r := range expected {
		_, ok := f.sched.Lookup(k)
		assert.False(t, ok)
		bi, di := f.log.index(r.body), f.log.index(r.detach)
		require.GreaterOrEqual(t, bi, 0, "коллизия тайла %v не удалена", k)
		require.GreaterOrEqual(t, di, 0, "узел тайла %v не отсоединён", k)
		assert.Less(t, bi, di, "коллизия тайла %v удалена после узла", k)
	}
}

func TestStaleOpsAreSkipped(t *testing.T) {
	f := newSchedulerFixture()
	f.target.at(0, 0)
	f.sched.Tick(testCtx)

	f.target.at(40, 0)
	f.sched.Tick(testCtx)

	skipped := 0
	for i := 0; i < 500 && f.sched.Pending() > 0; i++ {
		skipped += f.sched.Tick(testCtx).Skipped
	}
	require.Equal(t, 0, f.sched.Pending())
	assert.Equal(t, windowKeys-protectedKeys, skipped)
	assert.Equal(t, windowKeys+protectedKeys, f.sched.Len())

	for _, k := range f.sched.Keys() {
		assert.True(t, f.sched.inBounds(k, vec.Vec2{X: 40}), "тайл %v вне окна", k)
	}
}

func TestEnqueueOverwritesPendingOp(t *testing.T) {
	f := newSchedulerFixture()
	f.target.at(0, 0)
	f.sched.Tick(testCtx)
	pending := f.sched.Pending()

	f.sched.Enqueue(ScheduledOp{Key: vec.Vec2{}, LOD: 3, Action: ActionUpdateLOD})
	assert.Equal(t, pending, f.sched.Pending())

	report := f.sched.Tick(testCtx)
	assert.Equal(t, 2, report.Executed)

	c, ok := f.sched.Lookup(vec.Vec2{})
	require.True(t, ok)
	assert.Equal(t, 3, c.LOD())
	// Начало координат защищено радиусом коллизии
	assert.NotNil(t, c.Physics())
}

func TestNoDuplicateChunksAcrossRescans(t *testing.T) {
	f := newSchedulerFixture()
	policy := f.sched.policy()
	for _, x := range []int{0, 1, 2, 1, 0} {
		f.target.at(x, 0)
		f.sched.Tick(testCtx)
		settle(t, f.sched)
		assert.Equal(t, f.sched.Len(), f.host.Len())

		bodies := 0
		for _, k := range f.sched.Keys() {
			c, ok := f.sched.Lookup(k)
			require.True(t, ok)
			assert.Equal(t, policy.RequiresPhysics(k, c.LOD()), c.Physics() != nil,
				"цель в (%d,0): коллизия тайла %v, LOD %d", x, k, c.LOD())
			if c.Physics() != nil {
				bodies++
			}
		}
		assert.Equal(t, bodies, f.engine.Len(), "цель в (%d,0)", x)
	}
	assert.Len(t, f.sched.Keys(), windowKeys)
}

func TestLaterActionWinsForResidentChunk(t *testing.T) {
	f := newSchedulerFixture()
	f.target.at(0, 0)
	f.sched.Tick(testCtx)
	settle(t, f.sched)

	key := vec.Vec2{X: 3, Y: 0}
	_, ok := f.sched.Lookup(key)
	require.True(t, ok)

	f.sched.Enqueue(ScheduledOp{Key: key, LOD: 0, Action: ActionUpdateLOD})
	f.sched.Enqueue(ScheduledOp{Key: key, LOD: 0, Action: ActionRemove})
	require.Equal(t, 1, f.sched.Pending())
	op, ok := f.sched.queue.Pending(key)
	require.True(t, ok)
	assert.Equal(t, ActionRemove, op.Action)

	report := f.sched.Tick(testCtx)
	assert.Equal(t, 1, report.Executed)
	assert.Equal(t, 1, report.Removed)
	_, ok = f.sched.Lookup(key)
	assert.False(t, ok)
	assert.Equal(t, f.sched.Len(), f.host.Len())
}

func TestCheapFinestOpsDoNotEndTick(t *testing.T) {
	f := newSchedulerFixture()
	f.target.at(0, 0)
	f.sched.Tick(testCtx)
	settle(t, f.sched)

	// Удаление с нулевым LOD не тесселирует
	f.sched.Enqueue(ScheduledOp{Key: vec.Vec2{X: 3, Y: 0}, LOD: 0, Action: ActionRemove})
	f.sched.Enqueue(ScheduledOp{Key: vec.Vec2{X: -3, Y: 0}, LOD: 2, Action: ActionUpdateLOD})
	report := f.sched.Tick(testCtx)
	assert.Equal(t, 2, report.Executed)
	assert.Equal(t, 1, report.Removed)
	c, ok := f.sched.Lookup(vec.Vec2{X: -3, Y: 0})
	require.True(t, ok)
	assert.Equal(t, 2, c.LOD())

	// Тайл начала координат уже на LOD 0
	f.sched.Enqueue(ScheduledOp{Key: vec.Vec2{}, LOD: 0, Action: ActionUpdateLOD})
	f.sched.Enqueue(ScheduledOp{Key: vec.Vec2{X: 0, Y: -3}, LOD: 2, Action: ActionUpdateLOD})
	report = f.sched.Tick(testCtx)
	assert.Equal(t, 2, report.Executed)
	c, ok = f.sched.Lookup(vec.Vec2{X: 0, Y: -3})
	require.True(t, ok)
	assert.Equal(t, 2, c.LOD())
}

func TestRebuildAllAppliesParams(t *testing.T) {
	f := newSchedulerFixture()
	f.target.at(0, 0)
	f.sched.Tick(testCtx)
	settle(t, f.sched)

	c, _ := f.sched.Lookup(vec.Vec2{})
	mesh := c.Mesh()
	before := c.HeightAtLocal(0, 0)
	bodies := f.engine.Len()

	params := f.sched.Field().Params()
	params.Amplitude *= 2
	require.NoError(t, f.sched.RebuildAll(testCtx, params))

	assert.Same(t, mesh, c.Mesh())
	assert.NotEqual(t, before, c.HeightAtLocal(0, 0))
	assert.Equal(t, bodies, f.engine.Len())

	report := f.sched.Tick(testCtx)
	assert.True(t, report.Rescanned)
	assert.Equal(t, 0, report.Pending)
}

func TestRebuildAllWithLODOverride(t *testing.T) {
	f := newSchedulerFixture()
	f.target.at(0, 0)
	f.sched.Tick(testCtx)
	settle(t, f.sched)

	params := f.sched.Field().Params()
	params.LODOverride = 4
	require.NoError(t, f.sched.RebuildAll(testCtx, params))
	f.sched.Tick(testCtx)
	settle(t, f.sched)

	for _, k := range f.sched.Keys() {
		c, _ := f.sched.Lookup(k)
		assert.Equal(t, 4, c.LOD())
		assert.Equal(t, k.DistanceTo(vec.Origin) <= 2, c.Physics() != nil)
	}
}

func TestPhysicsFallbackAndFailure(t *testing.T) {
	t.Run("коробка", func(t *testing.T) {
		f := newSchedulerFixture()
		f.engine.RejectHeightFields = true
		f.target.at(0, 0)
		f.sched.Tick(testCtx)
		settle(t, f.sched)

		for _, k := range f.sched.Keys() {
			c, _ := f.sched.Lookup(k)
			require.NotNil(t, c.Physics())
			assert.Equal(t, physics.KindBox, c.Physics().Kind)
		}
	})

	t.Run("без коллизии", func(t *testing.T) {
		f := newSchedulerFixture()
		f.engine.RejectHeightFields = true
		f.engine.RejectBoxes = true
		f.target.at(0, 0)
		f.sched.Tick(testCtx)
		settle(t, f.sched)

		assert.Equal(t, windowKeys, f.sched.Len())
		assert.Equal(t, 0, f.engine.Len())
		for _, k := range f.sched.Keys() {
			c, _ := f.sched.Lookup(k)
			assert.Nil(t, c.Physics())
			assert.Equal(t, StateBuilt, c.State())
		}
	})
}

func TestVisualOnlyWithoutPhysicsSync(t *testing.T) {
	target := &movableTarget{}
	graph := scene.NewGraph()
	sched := NewStreamScheduler(testSchedulerConfig(), testField(), target, graph, nil)
	target.at(0, 0)
	sched.Tick(testCtx)
	settle(t, sched)

	assert.Equal(t, windowKeys, sched.Len())
	assert.Equal(t, windowKeys, graph.Len())
}

func TestCloseTearsDownEverything(t *testing.T) {
	f := newSchedulerFixture()
	f.target.at(0, 0)
	f.sched.Tick(testCtx)
	settle(t, f.sched)

	f.sched.Close()
	assert.Equal(t, 0, f.sched.Len())
	assert.Equal(t, 0, f.sched.Pending())
	assert.Equal(t, 0, f.host.Len())
	assert.Equal(t, 0, f.engine.Len())

	// После Close окно строится заново
	report := f.sched.Tick(testCtx)
	assert.True(t, report.Rescanned)
	assert.Equal(t, windowKeys, report.Pending)
}

func TestFindHighestPoint(t *testing.T) {
	f := newSchedulerFixture()
	field := f.sched.Field()

	p := f.sched.FindHighestPoint(0, 0, 100)
	h := float64(p.Y())
	assert.InDelta(t, field.Height(float64(p.X()), float64(p.Z())), h, 1e-3)
	assert.GreaterOrEqual(t, h+1e-3, field.Height(0, 0))
	for _, q := range [][2]float64{{50, 50}, {-50, 25}, {100, -100}, {-100, -100}} {
		assert.GreaterOrEqual(t, h+1e-3, field.Height(q[0], q[1]))
	}

	flat := f.sched.FindHighestPoint(10, 20, 0)
	assert.Equal(t, float32(10), flat.X())
	assert.Equal(t, float32(20), flat.Z())
}

func TestLifecycleEventsPublished(t *testing.T) {
	f := newSchedulerFixture()
	bus := eventbus.NewMemoryBus(256)
	f.sched.SetEventBus(bus)

	var mu sync.Mutex
	counts := make(map[string]int)
	_, err := bus.Subscribe(context.Background(), eventbus.Filter{}, func(ctx context.Context, ev *eventbus.Envelope) {
		mu.Lock()
		counts[ev.EventType]++
		mu.Unlock()
	})
	require.NoError(t, err)

	f.target.at(0, 0)
	f.sched.Tick(testCtx)
	settle(t, f.sched)
	f.target.at(40, 0)
	f.sched.Tick(testCtx)
	require.NoError(t, bus.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, windowKeys, counts[eventbus.TypeChunkCreated])
	assert.Equal(t, windowKeys-protectedKeys, counts[eventbus.TypeChunkRemoved])
}
