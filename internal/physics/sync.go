package physics

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/terrain-streamer/internal/logging"
	"github.com/annel0/terrain-streamer/internal/vec"
)

// ErrIrregularGrid — буфер высот тайла нельзя разложить в квадратную сетку
var ErrIrregularGrid = errors.New("irregular height grid")

const (
	DefaultSampleCount = 9
	minBoxHalfHeight   = 0.05
)

// Source — тайл, для которого строится коллизия
type Source interface {
	Key() vec.Vec2
	// Origin — центр тайла в мировых координатах
	Origin() mgl32.Vec3
	TileSize() float32
	// HeightGrid возвращает буфер высот (построчно, строка = Z) и длину стороны сетки
	HeightGrid() ([]float64, int)
}

// Approximation — статическая коллизия тайла. Принадлежит тайлу и не переживает его.
type Approximation struct {
	Key  vec.Vec2
	Body BodyID
	Kind ShapeKind
	Desc BodyDesc
}

// Sync строит и удаляет коллизии тайлов в физическом движке.
// Не потокобезопасен: вызывается только из тика.
type Sync struct {
	engine      Engine
	sampleCount int
	logger      *logging.Logger
}

// NewSync создаёт синхронизатор с сеткой sampleCount x sampleCount
func NewSync(engine Engine, sampleCount int) *Sync {
	if sampleCount < 2 {
		sampleCount = DefaultSampleCount
	}
	return &Sync{
		engine:      engine,
		sampleCount: sampleCount,
		logger:      logging.GetPhysicsLogger(),
	}
}

// Build создаёт коллизию: карту высот, при неудаче — коробку.
// Если движок отверг обе формы, возвращает ошибку; тайл остаётся без коллизии.
func (s *Sync) Build(src Source) (*Approximation, error) {
	key := src.Key()

	hf, err := s.heightField(src)
	if err == nil {
		desc := s.heightFieldDesc(src, hf)
		id, addErr := s.engine.AddStaticBody(desc)
		if addErr == nil {
			return &Approximation{Key: key, Body: id, Kind: KindHeightField, Desc: desc}, nil
		}
		err = addErr
	}
	s.logger.Warn("Чанк %v: карта высот отвергнута (%v), используется коробка", key, err)

	desc := s.boxDesc(src)
	id, boxErr := s.engine.AddStaticBody(desc)
	if boxErr != nil {
		s.logger.Warn("Чанк %v остаётся без коллизии: %v", key, boxErr)
		return nil, fmt.Errorf("physics for chunk %v: %w", key, boxErr)
	}
	return &Approximation{Key: key, Body: id, Kind: KindBox, Desc: desc}, nil
}

// Remove удаляет коллизию из движка
func (s *Sync) Remove(a *Approximation) error {
	if a == nil {
		return nil
	}
	if err := s.engine.RemoveBody(a.Body); err != nil {
		return fmt.Errorf("remove physics for chunk %v: %w", a.Key, err)
	}
	return nil
}

// heightField семплирует сохранённый буфер высот тайла на грубой сетке.
// Узел (i, j) соответствует мировой точке X = minX + i*e, Z = maxZ - j*e.
func (s *Sync) heightField(src Source) (*HeightFieldShape, error) {
	heights, side := src.HeightGrid()
	if side < 2 || len(heights) < side*2 {
		return nil, fmt.Errorf("%w: %d samples, side %d", ErrIrregularGrid, len(heights), side)
	}

	rows := len(heights) / side
	if rows > side {
		rows = side
	}
	if rows < side {
		s.logger.Warn("Чанк %v: усечённая сетка высот (%d из %d строк), повторяется последняя строка", src.Key(), rows, side)
	}

	n := s.sampleCount
	shape := &HeightFieldShape{
		Rows:        n,
		Cols:        n,
		Heights:     make([]float32, n*n),
		ElementSize: src.TileSize() / float32(n-1),
	}

	for i := 0; i < n; i++ {
		col := gridIndex(i, n, side)
		for j := 0; j < n; j++ {
			row := side - 1 - gridIndex(j, n, side)
			if row >= rows {
				row = rows - 1
			}
			shape.Heights[i*n+j] = float32(heights[row*side+col])
		}
	}
	return shape, nil
}

// heightFieldDesc переводит карту высот из соглашения движка в соглашение тайла:
// поворот на -90° вокруг X (локальная Z становится мировой Y) и сдвиг в угол тайла.
func (s *Sync) heightFieldDesc(src Source, hf *HeightFieldShape) BodyDesc {
	origin := src.Origin()
	half := src.TileSize() / 2
	return BodyDesc{
		Shape:    hf,
		Position: mgl32.Vec3{origin.X() - half, origin.Y(), origin.Z() + half},
		Rotation: mgl32.QuatRotate(-math.Pi/2, mgl32.Vec3{1, 0, 0}),
		Material: MaterialGround,
	}
}

// boxDesc строит коробку по площади тайла с полувысотой, равной средней высоте
func (s *Sync) boxDesc(src Source) BodyDesc {
	origin := src.Origin()
	half := src.TileSize() / 2
	avg := float32(s.averageHeight(src))
	if avg < minBoxHalfHeight {
		avg = minBoxHalfHeight
	}
	return BodyDesc{
		Shape:    &BoxShape{HalfExtents: mgl32.Vec3{half, avg, half}},
		Position: mgl32.Vec3{origin.X(), origin.Y(), origin.Z()},
		Rotation: mgl32.QuatIdent(),
		Material: MaterialGround,
	}
}

// averageHeight усредняет доступные образцы на грубой сетке
func (s *Sync) averageHeight(src Source) float64 {
	heights, side := src.HeightGrid()
	if len(heights) == 0 {
		return 0
	}
	if side < 2 {
		var sum float64
		for _, h := range heights {
			sum += h
		}
		return sum / float64(len(heights))
	}

	var sum float64
	var count int
	n := s.sampleCount
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			idx := gridIndex(j, n, side)*side + gridIndex(i, n, side)
			if idx >= len(heights) {
				continue
			}
			sum += heights[idx]
			count++
		}
	}
	if count == 0 {
		return heights[len(heights)-1]
	}
	return sum / float64(count)
}

// gridIndex отображает индекс k из сетки n на ближайший индекс сетки side
func gridIndex(k, n, side int) int {
	return int(math.Round(float64(k) * float64(side-1) / float64(n-1)))
}
