package world

import (
	"math"

	"github.com/annel0/terrain-streamer/internal/vec"
)

// Веса расстояний в формуле LOD: до цели и до начала координат
const (
	targetWeight = 0.7
	originWeight = 0.3
)

// LODPolicy выбирает уровень детализации тайла и решает, нужна ли ему коллизия
type LODPolicy struct {
	Tuning        float64
	MaxLOD        int
	Override      int // >= 0 принудительно задаёт LOD для всех тайлов
	PhysicsLOD    int
	PhysicsRadius float64
}

// DesiredLOD = floor(Tuning * (0.7*d_t + 0.3*d_o)), прижатый к [0, MaxLOD].
// Расстояния евклидовы и считаются в тайлах.
func (p LODPolicy) DesiredLOD(coord, target, origin vec.Vec2) int {
	if p.Override >= 0 {
		return p.Override
	}
	dt := coord.DistanceTo(target)
	do := coord.DistanceTo(origin)
	lod := int(math.Floor(p.Tuning * (targetWeight*dt + originWeight*do)))
	return min(max(lod, 0), max(p.MaxLOD, 0))
}

// RequiresPhysics — тайлу нужна коллизия, если он детальный или близко к началу координат
func (p LODPolicy) RequiresPhysics(coord vec.Vec2, lod int) bool {
	return lod <= p.PhysicsLOD || coord.DistanceTo(vec.Origin) <= p.PhysicsRadius
}
