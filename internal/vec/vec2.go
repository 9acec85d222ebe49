package vec

import (
	"fmt"
	"math"
)

// Vec2 представляет целочисленные координаты тайла на сетке (i, j)
type Vec2 struct {
	X, Y int
}

// Origin — тайл, содержащий начало координат мира
var Origin = Vec2{}

// FloorToGrid переводит мировые координаты (x, z) в координаты тайла со стороной tileSize
func FloorToGrid(x, z, tileSize float64) Vec2 {
	return Vec2{
		X: int(math.Floor(x / tileSize)),
		Y: int(math.Floor(z / tileSize)),
	}
}

// Add складывает два вектора
func (v Vec2) Add(other Vec2) Vec2 {
	return Vec2{X: v.X + other.X, Y: v.Y + other.Y}
}

// DistanceTo вычисляет расстояние до другой точки
func (v Vec2) DistanceTo(other Vec2) float64 {
	dx := float64(v.X - other.X)
	dy := float64(v.Y - other.Y)
	return math.Sqrt(dx*dx + dy*dy)
}

func (v Vec2) String() string {
	return fmt.Sprintf("(%d,%d)", v.X, v.Y)
}
