package world

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/terrain-streamer/internal/noise"
	"github.com/annel0/terrain-streamer/internal/vec"
)

// Параметры поиска вершины
const (
	peakCoarseSteps   = 16
	peakMinStep       = 0.05
	peakMaxIterations = 64
)

// FindHighestPoint ищет самую высокую точку рельефа в квадрате radius вокруг (x, z):
// грубое сканирование сеткой, затем локальный подъём по восьми соседям с уменьшающимся шагом
func (s *StreamScheduler) FindHighestPoint(x, z, radius float64) mgl32.Vec3 {
	return FindHighestPoint(s.field, x, z, radius)
}

// FindHighestPoint — то же для произвольной функции высот
func FindHighestPoint(field noise.Field, x, z, radius float64) mgl32.Vec3 {
	if radius <= 0 {
		return mgl32.Vec3{float32(x), float32(field.Height(x, z)), float32(z)}
	}

	center := vec.Vec2Float{X: x, Y: z}
	bestPos := center
	best := field.Height(x, z)
	step := 2 * radius / peakCoarseSteps
	corner := center.Add(vec.Vec2Float{X: -radius, Y: -radius})

	for i := 0; i <= peakCoarseSteps; i++ {
		for j := 0; j <= peakCoarseSteps; j++ {
			p := corner.Add(vec.Vec2Float{X: float64(i), Y: float64(j)}.Mul(step))
			if h := field.Height(p.X, p.Y); h > best {
				best, bestPos = h, p
			}
		}
	}

	for iter := 0; iter < peakMaxIterations && step > peakMinStep; iter++ {
		moved := false
		for dz := -1; dz <= 1; dz++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dz == 0 {
					continue
				}
				p := bestPos.Add(vec.Vec2Float{X: float64(dx), Y: float64(dz)}.Mul(step))
				if h := field.Height(p.X, p.Y); h > best {
					best, bestPos = h, p
					moved = true
				}
			}
		}
		if !moved {
			step /= 2
		}
	}

	return mgl32.Vec3{float32(bestPos.X), float32(best), float32(bestPos.Y)}
}
