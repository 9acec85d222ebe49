package world

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/terrain-streamer/internal/noise"
	"github.com/annel0/terrain-streamer/internal/scene"
)

// Константы размещения деревьев
const (
	TreeStride        = 6.0  // Шаг сканирования тайла
	TreeMinHeight     = 4.0  // Нижняя граница полосы высот
	TreeMaxHeight     = 40.0 // Верхняя граница полосы высот
	TreeMinOriginDist = 40.0 // Не ставим деревья вплотную к центру мира
	TreeChance        = 0.35
	TreeMaxPathMask   = 0.05 // Деревья не растут на тропе

	trunkHeight   = 2.4
	foliageTiers  = 3
	foliageStep   = 1.3
	foliageShrink = 0.25
	colorJitter   = 0.08
)

var (
	trunkColor   = mgl32.Vec3{0.40, 0.26, 0.13}
	foliageColor = mgl32.Vec3{0.18, 0.45, 0.20}
)

// plantTrees размещает деревья, если LOD достаточно детальный и деревьев ещё нет
func (c *Chunk) plantTrees() {
	if c.lod > c.opts.NearDetailLOD || len(c.trees) > 0 {
		return
	}

	// Локальный генератор случайных чисел для детерминированности:
	// уникальный сид на основе глобального сида и координат тайла
	chunkSeed := c.opts.Seed + int64(c.key.X*31) + int64(c.key.Y*17)
	rng := rand.New(rand.NewSource(chunkSeed))

	half := c.opts.TileSize / 2
	ox, oz := float64(c.origin.X()), float64(c.origin.Z())

	for z := -half + TreeStride/2; z < half; z += TreeStride {
		for x := -half + TreeStride/2; x < half; x += TreeStride {
			wx, wz := ox+x, oz+z
			if noise.PathMask(wx, wz) > TreeMaxPathMask {
				continue
			}
			h := c.field.Height(wx, wz)
			if h < TreeMinHeight || h > TreeMaxHeight {
				continue
			}
			if worldHypot(wx, wz) < TreeMinOriginDist {
				continue
			}
			if rng.Float64() >= TreeChance {
				continue
			}
			c.trees = append(c.trees, mgl32.Vec3{float32(x), float32(h), float32(z)})
		}
	}

	if len(c.trees) == 0 {
		return
	}
	c.batches = buildTreeBatches(c.trees, rng)
	c.node.Batches = c.batches
}

// buildTreeBatches инстансирует деревья: один батч стволов и три яруса конусов кроны.
// Каждый экземпляр отдельно масштабируется, поворачивается и подкрашивается.
func buildTreeBatches(trees []mgl32.Vec3, rng *rand.Rand) []*scene.InstanceBatch {
	trunks := &scene.InstanceBatch{
		Name:      "trunks",
		Kind:      scene.KindTrunk,
		Instances: make([]scene.Instance, 0, len(trees)),
	}
	batches := []*scene.InstanceBatch{trunks}
	for tier := 0; tier < foliageTiers; tier++ {
		batches = append(batches, &scene.InstanceBatch{
			Name:      fmt.Sprintf("foliage%d", tier),
			Kind:      scene.KindFoliage,
			Instances: make([]scene.Instance, 0, len(trees)),
		})
	}

	for _, p := range trees {
		s := float32(0.8 + 0.4*rng.Float64())
		angle := float32(rng.Float64() * 2 * math.Pi)
		base := mgl32.Translate3D(p.X(), p.Y(), p.Z()).
			Mul4(mgl32.HomogRotate3DY(angle)).
			Mul4(mgl32.Scale3D(s, s, s))

		trunks.Instances = append(trunks.Instances, scene.Instance{
			Transform: base.Mul4(mgl32.Translate3D(0, trunkHeight/2, 0)),
			Color:     jitter(trunkColor, rng),
		})

		for tier := 0; tier < foliageTiers; tier++ {
			width := float32(1 - foliageShrink*float64(tier))
			y := float32(trunkHeight + foliageStep*float64(tier))
			batches[tier+1].Instances = append(batches[tier+1].Instances, scene.Instance{
				Transform: base.Mul4(mgl32.Translate3D(0, y, 0)).Mul4(mgl32.Scale3D(width, 1, width)),
				Color:     jitter(foliageColor, rng),
			})
		}
	}
	return batches
}

func jitter(color mgl32.Vec3, rng *rand.Rand) mgl32.Vec3 {
	d := float32((rng.Float64()*2 - 1) * colorJitter)
	return mgl32.Vec3{
		clamp32(color.X()+d, 0, 1),
		clamp32(color.Y()+d, 0, 1),
		clamp32(color.Z()+d, 0, 1),
	}
}

// clearTrees освобождает батчи деревьев
func (c *Chunk) clearTrees() {
	for _, b := range c.batches {
		b.Release()
	}
	c.batches = nil
	c.trees = nil
	if c.node != nil {
		c.node.Batches = nil
	}
}

func clamp32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
