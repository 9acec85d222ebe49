package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Типы событий жизненного цикла тайлов
const (
	TypeChunkCreated   = "chunk_created"
	TypeChunkUpdated   = "chunk_updated"
	TypeChunkRemoved   = "chunk_removed"
	TypeTerrainRebuilt = "terrain_rebuilt"
)

const chunkEventVersion = 1

// Приоритеты: удаление не должно теряться, иначе внешний потребитель увидит «висящий» тайл
const (
	PriorityLow  = 1
	PriorityHigh = 5
)

// ChunkEvent — полезная нагрузка событий тайла
type ChunkEvent struct {
	X        int    `json:"x"`
	Z        int    `json:"z"`
	LOD      int    `json:"lod"`
	Segments int    `json:"segments,omitempty"`
	Trees    int    `json:"trees,omitempty"`
	Physics  string `json:"physics,omitempty"` // heightfield, box или пусто
}

// NewChunkEnvelope упаковывает событие тайла в конверт
func NewChunkEnvelope(source, eventType string, ev ChunkEvent) (*Envelope, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", eventType, err)
	}
	priority := PriorityLow
	if eventType == TypeChunkRemoved {
		priority = PriorityHigh
	}
	return &Envelope{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    source,
		EventType: eventType,
		Version:   chunkEventVersion,
		Priority:  priority,
		Payload:   payload,
	}, nil
}

// DecodeChunkEvent разбирает полезную нагрузку конверта
func DecodeChunkEvent(env *Envelope) (ChunkEvent, error) {
	var ev ChunkEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return ev, fmt.Errorf("decode %s %s: %w", env.EventType, env.ID, err)
	}
	return ev, nil
}
