package world

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/annel0/terrain-streamer/internal/scene"
)

// DefaultUniforms возвращает униформы фиксированного конвейера затенения
func DefaultUniforms() scene.Uniforms {
	return scene.Uniforms{
		LowColor:    mgl32.Vec3{0.30, 0.55, 0.25},
		HighColor:   mgl32.Vec3{0.45, 0.42, 0.35},
		PeakColor:   mgl32.Vec3{0.92, 0.92, 0.95},
		PathColor:   mgl32.Vec3{0.76, 0.66, 0.48},
		LowHeight:   5,
		PeakHeight:  48,
		PathBlend:   0.8,
		FlatShading: true,
	}
}

// ColorRamp — цветовая рампа по высоте с подмешиванием цвета тропы
func ColorRamp(u scene.Uniforms, height, pathMask float64) mgl32.Vec3 {
	span := u.PeakHeight - u.LowHeight
	t := float32(0)
	if span > 0 {
		t = clamp32((float32(height)-u.LowHeight)/span, 0, 1)
	}

	var base mgl32.Vec3
	if t < 0.6 {
		base = lerp(u.LowColor, u.HighColor, t/0.6)
	} else {
		base = lerp(u.HighColor, u.PeakColor, (t-0.6)/0.4)
	}
	return lerp(base, u.PathColor, clamp32(float32(pathMask)*u.PathBlend, 0, 1))
}

func lerp(a, b mgl32.Vec3, t float32) mgl32.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}
