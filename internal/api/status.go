package api

import (
	"sync"
	"time"

	"github.com/annel0/terrain-streamer/internal/noise"
	"github.com/annel0/terrain-streamer/internal/vec"
	"github.com/annel0/terrain-streamer/internal/world"
)

// ChunkStatus — снимок одного резидентного тайла
type ChunkStatus struct {
	X        int    `json:"x"`
	Z        int    `json:"z"`
	LOD      int    `json:"lod"`
	Segments int    `json:"segments"`
	Trees    int    `json:"trees"`
	Physics  string `json:"physics,omitempty"`
}

// StreamStatus — снимок состояния стриминга на момент последнего тика
type StreamStatus struct {
	Profile       string    `json:"profile"`
	HasTarget     bool      `json:"has_target"`
	TargetX       int       `json:"target_x"`
	TargetZ       int       `json:"target_z"`
	Resident      int       `json:"resident"`
	Pending       int       `json:"pending"`
	PhysicsBodies int       `json:"physics_bodies"`
	Ticks         uint64    `json:"ticks"`
	Executed      uint64    `json:"executed"`
	Skipped       uint64    `json:"skipped"`
	Removed       uint64    `json:"removed"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// StatusBoard публикует снимки планировщика для HTTP-обработчиков.
// Record вызывается из потока тика, чтения идут из горутин сервера.
type StatusBoard struct {
	mu       sync.RWMutex
	status   StreamStatus
	chunks   []ChunkStatus
	resident map[vec.Vec2]int // Индекс в chunks
	field    noise.Field
	tileSize float64
}

func NewStatusBoard(profile string, field noise.Field) *StatusBoard {
	return &StatusBoard{
		status: StreamStatus{Profile: profile},
		field:  field,
	}
}

// Record сохраняет итог тика и снимок резидентных тайлов
func (b *StatusBoard) Record(s *world.StreamScheduler, report world.TickReport) {
	chunks := make([]ChunkStatus, 0, s.Len())
	resident := make(map[vec.Vec2]int, s.Len())
	bodies := 0
	for _, key := range s.Keys() {
		c, ok := s.Lookup(key)
		if !ok {
			continue
		}
		cs := ChunkStatus{
			X:        key.X,
			Z:        key.Y,
			LOD:      c.LOD(),
			Segments: c.Segments(),
			Trees:    len(c.Trees()),
		}
		if p := c.Physics(); p != nil {
			cs.Physics = p.Kind.String()
			bodies++
		}
		resident[key] = len(chunks)
		chunks = append(chunks, cs)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	st := &b.status
	st.Ticks++
	if report.HasTarget {
		st.HasTarget = true
		st.TargetX, st.TargetZ = report.Target.X, report.Target.Y
	}
	st.Resident = s.Len()
	st.Pending = s.Pending()
	st.PhysicsBodies = bodies
	st.Executed += uint64(report.Executed)
	st.Skipped += uint64(report.Skipped)
	st.Removed += uint64(report.Removed)
	st.UpdatedAt = time.Now().UTC()
	b.chunks = chunks
	b.resident = resident
	b.field = s.Field()
	b.tileSize = s.TileSize()
}

// Status возвращает снимок без списка тайлов
func (b *StatusBoard) Status() StreamStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Chunks возвращает копию списка тайлов
func (b *StatusBoard) Chunks() []ChunkStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]ChunkStatus, len(b.chunks))
	copy(out, b.chunks)
	return out
}

// Field возвращает функцию высот, действующую на момент последнего тика
func (b *StatusBoard) Field() noise.Field {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.field
}

// MeshHeight возвращает высоту сетки резидентного тайла под точкой (x, z);
// ok == false, если тайл не загружен
func (b *StatusBoard) MeshHeight(x, z float64) (height float64, lod int, ok bool) {
	b.mu.RLock()
	if b.tileSize <= 0 {
		b.mu.RUnlock()
		return 0, 0, false
	}
	key := vec.FloorToGrid(x, z, b.tileSize)
	idx, found := b.resident[key]
	if !found {
		b.mu.RUnlock()
		return 0, 0, false
	}
	cs := b.chunks[idx]
	field, tileSize := b.field, b.tileSize
	b.mu.RUnlock()

	return world.MeshHeight(field, key, tileSize, cs.Segments, x, z), cs.LOD, true
}
