package scene

import (
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestGraphAttachDetach(t *testing.T) {
	g := NewGraph()
	n := NewNode("tile", mgl32.Vec3{1, 0, 1})

	g.Attach(n)
	g.Attach(n)
	assert.Equal(t, 1, g.Len())
	assert.True(t, g.Contains(n))

	g.Detach(n)
	assert.False(t, g.Contains(n))
	assert.Equal(t, 0, g.Len())

	assert.NotPanics(t, func() { g.Detach(nil) })
}

func TestMeshRelease(t *testing.T) {
	m := NewMesh()
	m.Positions = []mgl32.Vec3{{0, 1, 0}}
	m.Release()
	assert.True(t, m.Released())
	assert.Nil(t, m.Positions)
}
