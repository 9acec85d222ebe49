package physics

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	ErrDegenerateHeightField = errors.New("degenerate height field")
	ErrDegenerateBox         = errors.New("degenerate box")
)

// ShapeKind — тип коллизионной формы
type ShapeKind int

const (
	KindHeightField ShapeKind = iota
	KindBox
)

func (k ShapeKind) String() string {
	switch k {
	case KindHeightField:
		return "heightfield"
	case KindBox:
		return "box"
	default:
		return "unknown"
	}
}

// Shape — коллизионная форма статического тела
type Shape interface {
	Kind() ShapeKind
	Validate() error
}

// HeightFieldShape — карта высот в соглашении физического движка:
// Heights[i*Cols+j], i вдоль локальной X, j вдоль локальной Y, высота вдоль локальной Z.
type HeightFieldShape struct {
	Rows        int
	Cols        int
	Heights     []float32
	ElementSize float32
}

func (h *HeightFieldShape) Kind() ShapeKind { return KindHeightField }

// Validate проверяет, что сетка невырождена
func (h *HeightFieldShape) Validate() error {
	if h.Rows < 2 || h.Cols < 2 {
		return fmt.Errorf("%w: %dx%d grid", ErrDegenerateHeightField, h.Rows, h.Cols)
	}
	if len(h.Heights) != h.Rows*h.Cols {
		return fmt.Errorf("%w: %d samples for %dx%d grid", ErrDegenerateHeightField, len(h.Heights), h.Rows, h.Cols)
	}
	if h.ElementSize <= 0 {
		return fmt.Errorf("%w: element size %v", ErrDegenerateHeightField, h.ElementSize)
	}
	for _, v := range h.Heights {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: non-finite sample", ErrDegenerateHeightField)
		}
	}
	return nil
}

// At возвращает высоту узла (i, j)
func (h *HeightFieldShape) At(i, j int) float32 {
	return h.Heights[i*h.Cols+j]
}

// BoxShape — прямоугольный параллелепипед с заданными полуразмерами
type BoxShape struct {
	HalfExtents mgl32.Vec3
}

func (b *BoxShape) Kind() ShapeKind { return KindBox }

// Validate проверяет, что все полуразмеры положительны
func (b *BoxShape) Validate() error {
	for _, v := range b.HalfExtents {
		if !(v > 0) {
			return fmt.Errorf("%w: half extents %v", ErrDegenerateBox, b.HalfExtents)
		}
	}
	return nil
}
