package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/annel0/terrain-streamer/internal/logging"
)

const namespace = "terrain"

// StreamMetrics инкапсулирует Prometheus-метрики стриминга рельефа.
// Все методы безопасны для nil-получателя: без метрик планировщик работает так же.
type StreamMetrics struct {
	registry *prometheus.Registry

	resident      prometheus.Gauge
	pending       prometheus.Gauge
	physicsBodies prometheus.Gauge

	ops             *prometheus.CounterVec
	skipped         prometheus.Counter
	removed         prometheus.Counter
	rescans         prometheus.Counter
	physicsBuilt    *prometheus.CounterVec
	physicsFailures prometheus.Counter

	tickDuration prometheus.Histogram
}

// NewStreamMetrics создаёт метрики и регистрирует их в registry.
// При nil используется глобальный регистр Prometheus.
func NewStreamMetrics(registry *prometheus.Registry) *StreamMetrics {
	m := &StreamMetrics{
		registry: registry,
		resident: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chunks_resident",
			Help:      "Количество тайлов в памяти.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ops_pending",
			Help:      "Операций в очереди планировщика.",
		}),
		physicsBodies: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "physics_bodies",
			Help:      "Тайлов с активной коллизией.",
		}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_executed_total",
			Help:      "Выполненные операции по типу действия.",
		}, []string{"action"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_skipped_total",
			Help:      "Операции, пропущенные из-за выхода тайла за окно.",
		}),
		removed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_removed_total",
			Help:      "Удалённые тайлы.",
		}),
		rescans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rescans_total",
			Help:      "Пересчёты окна после смены тайла цели.",
		}),
		physicsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "physics_built_total",
			Help:      "Созданные коллизии по форме.",
		}, []string{"shape"}),
		physicsFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "physics_failures_total",
			Help:      "Тайлы, оставшиеся без коллизии.",
		}),
		tickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Длительность тика планировщика.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
	}

	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	if registry != nil {
		reg = registry
	}
	reg.MustRegister(m.resident, m.pending, m.physicsBodies,
		m.ops, m.skipped, m.removed, m.rescans,
		m.physicsBuilt, m.physicsFailures, m.tickDuration)
	return m
}

// Handler возвращает HTTP-обработчик /metrics для регистра метрик
func (m *StreamMetrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartHTTP запускает HTTP-эндпоинт Prometheus на указанном адресе (например, ":2112").
// Метод неблокирующий; сервер останавливается через Shutdown.
func (m *StreamMetrics) StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logging.Info("📈 Prometheus /metrics доступен по адресу %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Ошибка Prometheus HTTP сервера: %v", err)
		}
	}()
	return srv
}

// Shutdown останавливает HTTP-сервер метрик
func Shutdown(ctx context.Context, srv *http.Server) error {
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (m *StreamMetrics) SetResident(n int) {
	if m == nil {
		return
	}
	m.resident.Set(float64(n))
}

func (m *StreamMetrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *StreamMetrics) SetPhysicsBodies(n int) {
	if m == nil {
		return
	}
	m.physicsBodies.Set(float64(n))
}

func (m *StreamMetrics) ObserveOp(action string) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(action).Inc()
}

func (m *StreamMetrics) ObserveSkipped() {
	if m == nil {
		return
	}
	m.skipped.Inc()
}

func (m *StreamMetrics) ObserveRemoved() {
	if m == nil {
		return
	}
	m.removed.Inc()
}

func (m *StreamMetrics) ObserveRescan() {
	if m == nil {
		return
	}
	m.rescans.Inc()
}

func (m *StreamMetrics) ObservePhysics(shape string) {
	if m == nil {
		return
	}
	m.physicsBuilt.WithLabelValues(shape).Inc()
}

func (m *StreamMetrics) ObservePhysicsFailure() {
	if m == nil {
		return
	}
	m.physicsFailures.Inc()
}

func (m *StreamMetrics) ObserveTick(d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.Observe(d.Seconds())
}
