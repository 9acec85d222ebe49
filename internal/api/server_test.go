package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/terrain-streamer/internal/config"
	"github.com/annel0/terrain-streamer/internal/logging"
	"github.com/annel0/terrain-streamer/internal/noise"
	"github.com/annel0/terrain-streamer/internal/physics"
	"github.com/annel0/terrain-streamer/internal/scene"
	"github.com/annel0/terrain-streamer/internal/vec"
	"github.com/annel0/terrain-streamer/internal/world"
)

func TestMain(m *testing.M) {
	logging.GetLoggerManager().Disable()
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type fixture struct {
	sched   *world.StreamScheduler
	board   *StatusBoard
	server  *Server
	rebuild chan noise.Params
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	params := noise.DefaultParams()
	field := noise.NewField(noise.NewOctaveTable(7, params.Octaves), params)
	target := world.TargetFunc(func() (mgl32.Vec3, bool) { return mgl32.Vec3{32, 0, 32}, true })

	cfg := world.SchedulerConfig{
		Streaming: config.Default().Streaming,
		Profile:   config.DeviceProfile{Name: "test", Density: 4, MinSegments: 2, OpsPerTick: 8, MaxDistance: 2},
		Seed:      7,
		Uniforms:  world.DefaultUniforms(),
	}
	sync := physics.NewSync(physics.NewMemoryEngine(), physics.DefaultSampleCount)
	sched := world.NewStreamScheduler(cfg, field, target, scene.NewGraph(), sync)

	board := NewStatusBoard("test", field)
	for i := 0; i < 100; i++ {
		board.Record(sched, sched.Tick(context.Background()))
		if sched.Pending() == 0 && i > 0 {
			break
		}
	}
	require.Equal(t, 0, sched.Pending())

	registry := prometheus.NewRegistry()
	rebuild := make(chan noise.Params, 1)
	server := NewServer(Config{
		Board:    board,
		Registry: registry,
		Metrics:  promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Rebuild:  rebuild,
	})
	return &fixture{sched: sched, board: board, server: server, rebuild: rebuild}
}

func (f *fixture) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, GenericResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	f.server.Handler().ServeHTTP(rec, req)

	var resp GenericResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec, resp := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)
}

func TestStreamStatus(t *testing.T) {
	f := newFixture(t)
	rec, resp := f.do(t, http.MethodGet, "/api/stream", "")
	require.Equal(t, http.StatusOK, rec.Code)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(f.sched.Len()), data["resident"])
	assert.Equal(t, float64(0), data["pending"])
	assert.Equal(t, true, data["has_target"])
	assert.Equal(t, "test", data["profile"])
}

func TestChunksListMatchesScheduler(t *testing.T) {
	f := newFixture(t)
	chunks := f.board.Chunks()
	require.Len(t, chunks, f.sched.Len())
	for _, cs := range chunks {
		assert.NotEmpty(t, cs.Physics, "тайл (%d,%d) рядом с целью должен иметь коллизию", cs.X, cs.Z)
	}

	rec, resp := f.do(t, http.MethodGet, "/api/chunks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(f.sched.Len()), data["total"])
}

func TestHeightQuery(t *testing.T) {
	f := newFixture(t)
	rec, resp := f.do(t, http.MethodGet, "/api/height?x=10&z=-20", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.InDelta(t, f.sched.Field().Height(10, -20), data["height"], 1e-9)

	// Тайл (0,-1) загружен: высота сетки совпадает с буфером высот тайла
	c, ok := f.sched.Lookup(vec.Vec2{X: 0, Y: -1})
	require.True(t, ok)
	require.Equal(t, true, data["resident"])
	want := c.HeightAtLocal(10-float64(c.Origin().X()), -20-float64(c.Origin().Z()))
	assert.InDelta(t, want, data["mesh_height"], 1e-9)
	assert.Equal(t, float64(c.LOD()), data["lod"])

	_, resp = f.do(t, http.MethodGet, "/api/height?x=10000&z=0", "")
	data = resp.Data.(map[string]interface{})
	assert.Equal(t, false, data["resident"])
	assert.NotContains(t, data, "mesh_height")

	rec, resp = f.do(t, http.MethodGet, "/api/height?x=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
}

func TestSpawnQuery(t *testing.T) {
	f := newFixture(t)
	rec, resp := f.do(t, http.MethodGet, "/api/spawn?radius=64", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]interface{})
	assert.GreaterOrEqual(t, data["y"].(float64)+1e-3, f.sched.Field().Height(0, 0))

	rec, _ = f.do(t, http.MethodGet, "/api/spawn?radius=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, resp = f.do(t, http.MethodGet, "/api/spawn?x=north&z=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)

	rec, _ = f.do(t, http.MethodGet, "/api/spawn?x=0&z=1e", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutTerrainSchedulesRebuild(t *testing.T) {
	f := newFixture(t)

	rec, resp := f.do(t, http.MethodPut, "/api/terrain", `{"amplitude": 50, "lod_override": 2}`)
	require.Equal(t, http.StatusAccepted, rec.Code, resp.Message)

	params := <-f.rebuild
	assert.Equal(t, 50.0, params.Amplitude)
	assert.Equal(t, 2, params.LODOverride)
	assert.Equal(t, noise.DefaultParams().Octaves, params.Octaves)

	rec, _ = f.do(t, http.MethodPut, "/api/terrain", `{"lacunarity": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = f.do(t, http.MethodPut, "/api/terrain", `{"amplitude":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPutTerrainBusy(t *testing.T) {
	f := newFixture(t)
	f.rebuild <- noise.DefaultParams()

	rec, _ := f.do(t, http.MethodPut, "/api/terrain", `{"amplitude": 10}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRebuildReflectedInBoard(t *testing.T) {
	f := newFixture(t)
	params := f.sched.Field().Params()
	params.Amplitude = 10
	require.NoError(t, f.sched.RebuildAll(context.Background(), params))
	f.board.Record(f.sched, f.sched.Tick(context.Background()))

	_, resp := f.do(t, http.MethodGet, "/api/terrain", "")
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, 10.0, data["amplitude"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	f.do(t, http.MethodGet, "/health", "")

	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "terrain_api_http_request_duration_seconds")
}

func TestTerrainRequestApply(t *testing.T) {
	octaves := 3
	req := TerrainRequest{Octaves: &octaves}
	p := req.Apply(noise.DefaultParams())
	assert.Equal(t, 3, p.Octaves)
	assert.Equal(t, noise.DefaultParams().Amplitude, p.Amplitude)
	assert.NoError(t, validateParams(p))
}
