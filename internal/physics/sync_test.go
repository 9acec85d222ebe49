package physics

import (
	"os"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annel0/terrain-streamer/internal/logging"
	"github.com/annel0/terrain-streamer/internal/vec"
)

func TestMain(m *testing.M) {
	logging.GetLoggerManager().Disable()
	os.Exit(m.Run())
}

// gridSource — тайл с сеткой высот h(row, col) = row*10 + col
type gridSource struct {
	key     vec.Vec2
	side    int
	heights []float64
}

func newGridSource(side int) *gridSource {
	heights := make([]float64, side*side)
	for r := 0; r < side; r++ {
		for c := 0; c < side; c++ {
			heights[r*side+c] = float64(r*10 + c)
		}
	}
	return &gridSource{key: vec.Vec2{X: 0, Y: 0}, side: side, heights: heights}
}

func (g *gridSource) Key() vec.Vec2                { return g.key }
func (g *gridSource) Origin() mgl32.Vec3           { return mgl32.Vec3{32, 0, 32} }
func (g *gridSource) TileSize() float32            { return 64 }
func (g *gridSource) HeightGrid() ([]float64, int) { return g.heights, g.side }

func TestBuildHeightFieldTransform(t *testing.T) {
	engine := NewMemoryEngine()
	sync := NewSync(engine, 3)

	approx, err := sync.Build(newGridSource(5))
	require.NoError(t, err)
	require.Equal(t, KindHeightField, approx.Kind)
	assert.Equal(t, 1, engine.Len())
	assert.Equal(t, MaterialGround, approx.Desc.Material)

	hf := approx.Desc.Shape.(*HeightFieldShape)
	assert.Equal(t, float32(32), hf.ElementSize)

	cases := []struct {
		i, j  int
		world mgl32.Vec3
	}{
		{0, 0, mgl32.Vec3{0, 40, 64}}, // строка 4, столбец 0
		{2, 2, mgl32.Vec3{64, 4, 0}},  // строка 0, столбец 4
		{1, 1, mgl32.Vec3{32, 22, 32}},
	}
	transform := approx.Desc.Transform()
	for _, c := range cases {
		local := mgl32.Vec4{float32(c.i) * hf.ElementSize, float32(c.j) * hf.ElementSize, hf.At(c.i, c.j), 1}
		got := transform.Mul4x1(local)
		assert.InDelta(t, c.world.X(), got.X(), 1e-3, "X узла (%d,%d)", c.i, c.j)
		assert.InDelta(t, c.world.Y(), got.Y(), 1e-3, "Y узла (%d,%d)", c.i, c.j)
		assert.InDelta(t, c.world.Z(), got.Z(), 1e-3, "Z узла (%d,%d)", c.i, c.j)
	}
}

func TestBuildTruncatedGridRepeatsLastRow(t *testing.T) {
	src := newGridSource(5)
	src.heights = src.heights[:3*5] // осталось 3 строки из 5

	approx, err := NewSync(NewMemoryEngine(), 3).Build(src)
	require.NoError(t, err)
	require.Equal(t, KindHeightField, approx.Kind)

	hf := approx.Desc.Shape.(*HeightFieldShape)
	// j = 0 ссылается на строку 4, которой нет: используется строка 2
	assert.Equal(t, float32(20), hf.At(0, 0))
	assert.Equal(t, float32(4), hf.At(2, 2))
}

func TestBuildIrregularGridFallsBackToBox(t *testing.T) {
	src := &gridSource{side: 1, heights: []float64{6}}

	approx, err := NewSync(NewMemoryEngine(), 3).Build(src)
	require.NoError(t, err)
	require.Equal(t, KindBox, approx.Kind)

	box := approx.Desc.Shape.(*BoxShape)
	assert.Equal(t, mgl32.Vec3{32, 6, 32}, box.HalfExtents)
	assert.Equal(t, mgl32.Vec3{32, 0, 32}, approx.Desc.Position)
}

func TestBuildRejectedHeightFieldFallsBackToBox(t *testing.T) {
	engine := NewMemoryEngine()
	engine.RejectHeightFields = true

	approx, err := NewSync(engine, 3).Build(newGridSource(5))
	require.NoError(t, err)
	assert.Equal(t, KindBox, approx.Kind)

	// Средняя по узлам 3x3: строки {0,2,4}, столбцы {0,2,4}
	box := approx.Desc.Shape.(*BoxShape)
	assert.InDelta(t, 22.0, box.HalfExtents.Y(), 1e-4)
}

func TestBuildBothRejected(t *testing.T) {
	engine := NewMemoryEngine()
	engine.RejectHeightFields = true
	engine.RejectBoxes = true

	approx, err := NewSync(engine, 3).Build(newGridSource(5))
	assert.Error(t, err)
	assert.Nil(t, approx)
	assert.Equal(t, 0, engine.Len())
}

func TestRemove(t *testing.T) {
	engine := NewMemoryEngine()
	sync := NewSync(engine, 4)

	approx, err := sync.Build(newGridSource(9))
	require.NoError(t, err)

	require.NoError(t, sync.Remove(approx))
	assert.Equal(t, 0, engine.Len())
	assert.ErrorIs(t, sync.Remove(approx), ErrBodyNotFound)
	assert.NoError(t, sync.Remove(nil))
}

func TestShapeValidation(t *testing.T) {
	assert.ErrorIs(t, (&HeightFieldShape{Rows: 1, Cols: 4, ElementSize: 1}).Validate(), ErrDegenerateHeightField)
	assert.ErrorIs(t, (&BoxShape{HalfExtents: mgl32.Vec3{1, 0, 1}}).Validate(), ErrDegenerateBox)
	assert.Equal(t, "heightfield", KindHeightField.String())
}
