package eventbus

import (
	"context"

	"github.com/annel0/terrain-streamer/internal/logging"
)

// StartLoggingListener подписывается на все события и пишет их в лог компонента events.
// Функция неблокирующая.
func StartLoggingListener(bus EventBus) (Subscription, error) {
	logger := logging.GetComponentLogger("events")
	sub, err := bus.Subscribe(context.Background(), Filter{}, func(ctx context.Context, ev *Envelope) {
		chunk, err := DecodeChunkEvent(ev)
		if err != nil {
			logger.Warn("[EventBus] %s %s: %v", ev.ID, ev.EventType, err)
			return
		}
		logger.Debug("[EventBus] %s (%d,%d) lod=%d physics=%s src=%s",
			ev.EventType, chunk.X, chunk.Z, chunk.LOD, chunk.Physics, ev.Source)
	})
	if err != nil {
		return nil, err
	}
	logging.Info("🪵 LoggingListener: подписка на события тайлов активирована")
	return sub, nil
}
