package world

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/terrain-streamer/internal/noise"
	"github.com/annel0/terrain-streamer/internal/physics"
	"github.com/annel0/terrain-streamer/internal/scene"
	"github.com/annel0/terrain-streamer/internal/vec"
)

var (
	ErrChunkDisposed   = errors.New("chunk disposed")
	ErrPhysicsAttached = errors.New("physics approximation still attached")
)

// ChunkState — состояние жизненного цикла тайла
type ChunkState int

const (
	StateUnbuilt ChunkState = iota
	StateBuilt
	StateDisposed
)

func (s ChunkState) String() string {
	switch s {
	case StateUnbuilt:
		return "unbuilt"
	case StateBuilt:
		return "built"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// ChunkOptions — параметры построения тайла, общие для всех тайлов сессии
type ChunkOptions struct {
	TileSize      float64
	Density       int // Сегментов на сторону при LOD 0
	MinSegments   int
	NearDetailLOD int // Деревья ставятся только при LOD <= NearDetailLOD
	Seed          int64
	Uniforms      scene.Uniforms
	Host          scene.Host
}

// Chunk представляет один тайл рельефа: сетку высот, деревья и визуальный узел.
// Коллизия (physics) принадлежит тайлу, но создаётся и удаляется планировщиком.
type Chunk struct {
	key      vec.Vec2
	origin   mgl32.Vec3 // Центр тайла в мировых координатах
	lod      int
	state    ChunkState
	field    noise.Field
	opts     ChunkOptions
	segments int

	heights  []float64 // Параллельный буфер высот, (segments+1)^2, построчно по Z
	mesh     *scene.Mesh
	material *scene.Material
	node     *scene.Node

	trees   []mgl32.Vec3 // Локальные позиции деревьев
	batches []*scene.InstanceBatch

	physics *physics.Approximation
}

// NewChunk строит тайл с указанным LOD и прикрепляет его к графу сцены
func NewChunk(key vec.Vec2, field noise.Field, lod int, opts ChunkOptions) *Chunk {
	if lod < 0 {
		lod = 0
	}
	c := &Chunk{
		key:    key,
		origin: tileOrigin(key, opts.TileSize),
		lod:    lod,
		state:  StateUnbuilt,
		field:  field,
		opts:   opts,
		mesh:   scene.NewMesh(),
		material: &scene.Material{
			Name:     fmt.Sprintf("terrain%v", key),
			Uniforms: opts.Uniforms,
		},
	}
	c.node = scene.NewNode(fmt.Sprintf("chunk%v", key), c.origin)
	c.node.Mesh = c.mesh

	c.tessellate()
	c.plantTrees()
	c.state = StateBuilt

	if opts.Host != nil {
		opts.Host.Attach(c.node)
	}
	return c
}

// UpdateLOD перетесселирует тайл на месте: сетка остаётся тем же объектом.
// Уже посаженные деревья не меняются; тайл, впервые ставший детальным, получает деревья.
func (c *Chunk) UpdateLOD(lod int) error {
	if c.state == StateDisposed {
		return fmt.Errorf("update lod of chunk %v: %w", c.key, ErrChunkDisposed)
	}
	if lod < 0 {
		lod = 0
	}
	c.lod = lod
	c.tessellate()
	c.plantTrees()
	return nil
}

// Rebuild перестраивает тайл с новыми параметрами рельефа на текущем LOD, включая деревья
func (c *Chunk) Rebuild(field noise.Field) error {
	if c.state == StateDisposed {
		return fmt.Errorf("rebuild chunk %v: %w", c.key, ErrChunkDisposed)
	}
	c.field = field
	c.tessellate()
	c.clearTrees()
	c.plantTrees()
	return nil
}

// Dispose освобождает геометрию, материал и деревья и отсоединяет узел от сцены.
// Коллизия должна быть удалена раньше.
func (c *Chunk) Dispose() error {
	if c.state == StateDisposed {
		return nil
	}
	if c.physics != nil {
		return fmt.Errorf("dispose chunk %v: %w", c.key, ErrPhysicsAttached)
	}

	if c.opts.Host != nil {
		c.opts.Host.Detach(c.node)
	}
	c.clearTrees()
	c.mesh.Release()
	c.material.Release()
	c.node.Mesh = nil
	c.node.Material = nil
	c.heights = nil
	c.state = StateDisposed
	return nil
}

// segmentsFor возвращает число сегментов на сторону для LOD
func (c *Chunk) segmentsFor(lod int) int {
	segments := c.opts.Density
	if lod >= 31 {
		segments = 0
	} else {
		segments >>= uint(lod)
	}
	return max(segments, c.opts.MinSegments, 1)
}

// tessellate семплирует функцию высоты в каждой вершине и пересчитывает нормали и цвета
func (c *Chunk) tessellate() {
	seg := c.segmentsFor(c.lod)
	side := seg + 1
	count := side * side

	c.segments = seg
	c.heights = resize(c.heights, count)
	c.mesh.Positions = resize(c.mesh.Positions, count)
	c.mesh.Normals = resize(c.mesh.Normals, count)
	c.mesh.Colors = resize(c.mesh.Colors, count)

	step := c.opts.TileSize / float64(seg)
	half := c.opts.TileSize / 2
	ox, oz := float64(c.origin.X()), float64(c.origin.Z())

	for r := 0; r < side; r++ {
		z := -half + float64(r)*step
		for col := 0; col < side; col++ {
			x := -half + float64(col)*step
			h := c.field.Height(ox+x, oz+z)
			idx := r*side + col
			c.heights[idx] = h
			c.mesh.Positions[idx] = mgl32.Vec3{float32(x), float32(h), float32(z)}
		}
	}

	c.mesh.Indices = gridIndices(c.mesh.Indices[:0], seg)
	c.computeNormals(side, step)
	c.mesh.Segments = seg
	c.mesh.Version++

	c.applyShading()
}

// computeNormals считает нормали конечными разностями по сетке высот
func (c *Chunk) computeNormals(side int, step float64) {
	at := func(r, col int) float64 {
		r = min(max(r, 0), side-1)
		col = min(max(col, 0), side-1)
		return c.heights[r*side+col]
	}

	for r := 0; r < side; r++ {
		for col := 0; col < side; col++ {
			dx := float64(min(col+1, side-1)-max(col-1, 0)) * step
			dz := float64(min(r+1, side-1)-max(r-1, 0)) * step
			gx := (at(r, col+1) - at(r, col-1)) / dx
			gz := (at(r+1, col) - at(r-1, col)) / dz
			c.mesh.Normals[r*side+col] = mgl32.Vec3{float32(-gx), 1, float32(-gz)}.Normalize()
		}
	}
}

// applyShading заново связывает материал с узлом и пересчитывает цвета вершин
func (c *Chunk) applyShading() {
	ox, oz := float64(c.origin.X()), float64(c.origin.Z())
	for idx, p := range c.mesh.Positions {
		wx := ox + float64(p.X())
		wz := oz + float64(p.Z())
		c.mesh.Colors[idx] = ColorRamp(c.material.Uniforms, c.heights[idx], noise.PathMask(wx, wz))
	}
	c.node.Material = c.material
}

// gridIndices строит два треугольника на ячейку сетки
func gridIndices(dst []uint32, seg int) []uint32 {
	side := uint32(seg + 1)
	for r := uint32(0); r < uint32(seg); r++ {
		for col := uint32(0); col < uint32(seg); col++ {
			a := r*side + col
			b := (r+1)*side + col
			dst = append(dst, a, b, a+1, a+1, b, b+1)
		}
	}
	return dst
}

func resize[T any](s []T, n int) []T {
	if cap(s) >= n {
		return s[:n]
	}
	return make([]T, n)
}

func (c *Chunk) Key() vec.Vec2 { return c.key }
func (c *Chunk) Origin() mgl32.Vec3 { return c.origin }
func (c *Chunk) TileSize() float32 { return float32(c.opts.TileSize) }
func (c *Chunk) LOD() int { return c.lod }
func (c *Chunk) State() ChunkState { return c.state }
func (c *Chunk) Segments() int { return c.segments }
func (c *Chunk) Mesh() *scene.Mesh { return c.mesh }
func (c *Chunk) Node() *scene.Node { return c.node }
func (c *Chunk) Trees() []mgl32.Vec3 { return c.trees }
func (c *Chunk) TreeBatches() []*scene.InstanceBatch { return c.batches }
func (c *Chunk) Physics() *physics.Approximation { return c.physics }

// HeightGrid возвращает буфер высот и длину стороны сетки без копирования
func (c *Chunk) HeightGrid() ([]float64, int) {
	return c.heights, c.segments + 1
}

// DistanceToOrigin — расстояние тайла до тайла начала координат в тайлах
func (c *Chunk) DistanceToOrigin() float64 {
	return c.key.DistanceTo(vec.Origin)
}

// worldHypot — расстояние от мировой точки до начала координат
func worldHypot(x, z float64) float64 {
	return vec.Vec2Float{X: x, Y: z}.Length()
}

// HeightAtLocal возвращает билинейно интерполированную высоту по локальным координатам
// тайла (от -TileSize/2 до +TileSize/2); координаты за границей прижимаются к краю
func (c *Chunk) HeightAtLocal(u, v float64) float64 {
	if len(c.heights) == 0 {
		return noise.DefaultHeight
	}
	side := c.segments + 1
	fx, fz := gridCoords(u, v, c.opts.TileSize, c.segments)
	return bilinear(fx, fz, c.segments, func(col, row int) float64 {
		return c.heights[row*side+col]
	})
}

// MeshHeight повторяет семплирование тайла key с segments сегментами и возвращает высоту
// его сетки в мировой точке (x, z). Сам тайл не нужен, поэтому функцию можно вызывать
// вне потока тика.
func MeshHeight(field noise.Field, key vec.Vec2, tileSize float64, segments int, x, z float64) float64 {
	segments = max(segments, 1)
	origin := tileOrigin(key, tileSize)
	ox, oz := float64(origin.X()), float64(origin.Z())
	step := tileSize / float64(segments)
	half := tileSize / 2

	fx, fz := gridCoords(x-ox, z-oz, tileSize, segments)
	return bilinear(fx, fz, segments, func(col, row int) float64 {
		return field.Height(ox+(-half+float64(col)*step), oz+(-half+float64(row)*step))
	})
}

// tileOrigin возвращает центр тайла в мировых координатах
func tileOrigin(key vec.Vec2, tileSize float64) mgl32.Vec3 {
	return mgl32.Vec3{
		float32((float64(key.X) + 0.5) * tileSize),
		0,
		float32((float64(key.Y) + 0.5) * tileSize),
	}
}

// gridCoords переводит локальные координаты в дробные индексы вершин, прижимая к краю тайла
func gridCoords(u, v, tileSize float64, segments int) (float64, float64) {
	step := tileSize / float64(segments)
	half := tileSize / 2
	fx := math.Min(math.Max((u+half)/step, 0), float64(segments))
	fz := math.Min(math.Max((v+half)/step, 0), float64(segments))
	return fx, fz
}

func bilinear(fx, fz float64, segments int, at func(col, row int) float64) float64 {
	x0, z0 := int(fx), int(fz)
	x1, z1 := min(x0+1, segments), min(z0+1, segments)
	tx, tz := fx-float64(x0), fz-float64(z0)

	h00, h10 := at(x0, z0), at(x1, z0)
	h01, h11 := at(x0, z1), at(x1, z1)
	top := h00 + (h10-h00)*tx
	bottom := h01 + (h11-h01)*tx
	return top + (bottom-top)*tz
}
