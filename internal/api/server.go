package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/annel0/terrain-streamer/internal/logging"
	"github.com/annel0/terrain-streamer/internal/middleware"
	"github.com/annel0/terrain-streamer/internal/noise"
	"github.com/annel0/terrain-streamer/internal/world"
)

// Радиус поиска точки появления по умолчанию, в мировых единицах
const defaultSpawnRadius = 128.0

// GenericResponse — общий формат ответа API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Config содержит конфигурацию HTTP API
type Config struct {
	Addr     string
	Board    *StatusBoard
	Registry *prometheus.Registry // nil — глобальный регистр Prometheus
	Metrics  http.Handler         // Обработчик /metrics; nil — promhttp.Handler()
	Rebuild  chan<- noise.Params  // Запросы на перестройку рельефа для потока тика
}

// Server — HTTP API состояния стриминга: снимки планировщика, запросы высот,
// смена параметров рельефа и метрики Prometheus
type Server struct {
	router  *gin.Engine
	cfg     Config
	process *ProcessMetrics
	http    *http.Server
}

// NewServer создаёт сервер API, но не запускает его
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8088"
	}
	if cfg.Metrics == nil {
		cfg.Metrics = promhttp.Handler()
	}

	router := gin.New()        // без стандартного logger/recovery
	router.Use(gin.Recovery()) // добавим только recovery

	// === Observability middleware ===
	router.Use(otelgin.Middleware("terrain_api"))
	router.Use(middleware.NewRequestLogger("/health", "/metrics").Handler())

	promMw := middleware.NewPrometheusMiddleware("terrain_api", cfg.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, cfg.Metrics)

	s := &Server{
		router:  router,
		cfg:     cfg,
		process: NewProcessMetrics(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, GenericResponse{Success: true, Message: "ok"})
	})

	api := s.router.Group("/api")
	{
		api.GET("/stream", s.handleStream)
		api.GET("/chunks", s.handleChunks)
		api.GET("/height", s.handleHeight)
		api.GET("/spawn", s.handleSpawn)
		api.GET("/terrain", s.handleGetTerrain)
		api.PUT("/terrain", s.handlePutTerrain)
		api.GET("/server", s.handleServerInfo)
	}
}

// Handler возвращает корневой обработчик (для тестов и встраивания)
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start запускает HTTP-сервер в отдельной горутине
func (s *Server) Start() {
	s.http = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.Info("🌐 HTTP API доступен по адресу %s", s.cfg.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Ошибка HTTP API сервера: %v", err)
		}
	}()
}

// Stop завершает HTTP-сервер, дожидаясь активных запросов
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

func (s *Server) handleStream(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Состояние стриминга",
		Data:    s.cfg.Board.Status(),
	})
}

func (s *Server) handleChunks(c *gin.Context) {
	chunks := s.cfg.Board.Chunks()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Резидентные тайлы",
		Data: map[string]interface{}{
			"chunks": chunks,
			"total":  len(chunks),
		},
	})
}

func (s *Server) handleHeight(c *gin.Context) {
	x, errX := strconv.ParseFloat(c.Query("x"), 64)
	z, errZ := strconv.ParseFloat(c.Query("z"), 64)
	if errX != nil || errZ != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Параметры x и z обязательны и должны быть числами",
		})
		return
	}

	field := s.cfg.Board.Field()
	data := map[string]interface{}{
		"x":         x,
		"z":         z,
		"height":    field.Height(x, z),
		"path_mask": noise.PathMask(x, z),
		"resident":  false,
	}
	// Высота сетки отличается от функции высот между вершинами
	if mesh, lod, ok := s.cfg.Board.MeshHeight(x, z); ok {
		data["resident"] = true
		data["mesh_height"] = mesh
		data["lod"] = lod
	}
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Высота поверхности",
		Data:    data,
	})
}

func (s *Server) handleSpawn(c *gin.Context) {
	x, errX := strconv.ParseFloat(c.DefaultQuery("x", "0"), 64)
	z, errZ := strconv.ParseFloat(c.DefaultQuery("z", "0"), 64)
	if errX != nil || errZ != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Параметры x и z должны быть числами",
		})
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius", strconv.FormatFloat(defaultSpawnRadius, 'f', -1, 64)), 64)
	if err != nil || radius < 0 {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Некорректный радиус поиска",
		})
		return
	}

	p := world.FindHighestPoint(s.cfg.Board.Field(), x, z, radius)
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Точка появления",
		Data: map[string]float32{
			"x": p.X(),
			"y": p.Y(),
			"z": p.Z(),
		},
	})
}

func (s *Server) handleGetTerrain(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Параметры рельефа",
		Data:    paramsResponse(s.cfg.Board.Field().Params()),
	})
}

// TerrainRequest — частичное обновление параметров рельефа
type TerrainRequest struct {
	Amplitude   *float64 `json:"amplitude"`
	FrequencyX  *float64 `json:"frequency_x"`
	FrequencyZ  *float64 `json:"frequency_z"`
	Octaves     *int     `json:"octaves"`
	Lacunarity  *float64 `json:"lacunarity"`
	Persistence *float64 `json:"persistence"`
	LODOverride *int     `json:"lod_override"`
}

// Apply накладывает заданные поля на текущие параметры
func (r TerrainRequest) Apply(p noise.Params) noise.Params {
	if r.Amplitude != nil {
		p.Amplitude = *r.Amplitude
	}
	if r.FrequencyX != nil {
		p.FrequencyX = *r.FrequencyX
	}
	if r.FrequencyZ != nil {
		p.FrequencyZ = *r.FrequencyZ
	}
	if r.Octaves != nil {
		p.Octaves = *r.Octaves
	}
	if r.Lacunarity != nil {
		p.Lacunarity = *r.Lacunarity
	}
	if r.Persistence != nil {
		p.Persistence = *r.Persistence
	}
	if r.LODOverride != nil {
		p.LODOverride = *r.LODOverride
	}
	return p
}

func validateParams(p noise.Params) error {
	switch {
	case p.Amplitude < 0:
		return fmt.Errorf("amplitude must not be negative")
	case p.FrequencyX <= 0 || p.FrequencyZ <= 0:
		return fmt.Errorf("frequency must be positive")
	case p.Octaves < 0:
		return fmt.Errorf("octaves must not be negative")
	case p.Lacunarity <= 0:
		return fmt.Errorf("lacunarity must be positive")
	case p.Persistence < 0:
		return fmt.Errorf("persistence must not be negative")
	case p.LODOverride < -1:
		return fmt.Errorf("lod_override must be -1 or a level")
	}
	return nil
}

// handlePutTerrain передаёт новые параметры потоку тика; перестройка выполняется там
func (s *Server) handlePutTerrain(c *gin.Context) {
	var req TerrainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Неверный формат запроса: " + err.Error(),
		})
		return
	}

	params := req.Apply(s.cfg.Board.Field().Params())
	if err := validateParams(params); err != nil {
		c.JSON(http.StatusBadRequest, GenericResponse{
			Success: false,
			Message: "Некорректные параметры: " + err.Error(),
		})
		return
	}

	if s.cfg.Rebuild == nil {
		c.JSON(http.StatusServiceUnavailable, GenericResponse{
			Success: false,
			Message: "Перестройка рельефа недоступна",
		})
		return
	}

	select {
	case s.cfg.Rebuild <- params:
		c.JSON(http.StatusAccepted, GenericResponse{
			Success: true,
			Message: "Перестройка рельефа запланирована",
			Data:    paramsResponse(params),
		})
	default:
		c.JSON(http.StatusTooManyRequests, GenericResponse{
			Success: false,
			Message: "Предыдущая перестройка ещё не выполнена",
		})
	}
}

func (s *Server) handleServerInfo(c *gin.Context) {
	cpuPercent, _ := s.process.CPUUsage()
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Информация о процессе",
		Data: map[string]interface{}{
			"name":        "terrain-streamer",
			"status":      "running",
			"uptime":      s.process.Uptime(),
			"cpu_percent": fmt.Sprintf("%.1f", cpuPercent),
			"memory":      s.process.MemoryStats(),
			"server_time": time.Now().Unix(),
		},
	})
}

func paramsResponse(p noise.Params) map[string]interface{} {
	return map[string]interface{}{
		"amplitude":    p.Amplitude,
		"frequency_x":  p.FrequencyX,
		"frequency_z":  p.FrequencyZ,
		"octaves":      p.Octaves,
		"lacunarity":   p.Lacunarity,
		"persistence":  p.Persistence,
		"lod_override": p.LODOverride,
	}
}
