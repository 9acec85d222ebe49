package noise

import (
	"github.com/aquilax/go-perlin"
)

// Параметры генераторов Перлина для одной октавы
const (
	perlinAlpha = 2.0 // Сглаживание шума
	perlinBeta  = 2.0 // Частота шума
	perlinN     = 1   // Одна октава на генератор, октавы суммирует Field

	octaveSeedStep = 7919
)

// OctaveTable — неизменяемый набор 2D-генераторов шума, по одному на октаву.
// Создаётся один раз за сессию и передаётся всем потребителям по ссылке.
type OctaveTable struct {
	seed       int64
	generators []*perlin.Perlin
}

// NewOctaveTable создаёт таблицу из count генераторов с детерминированными сидами
func NewOctaveTable(seed int64, count int) *OctaveTable {
	if count < 0 {
		count = 0
	}

	generators := make([]*perlin.Perlin, count)
	for n := range generators {
		generators[n] = perlin.NewPerlin(perlinAlpha, perlinBeta, perlinN, seed+int64(n)*octaveSeedStep)
	}

	return &OctaveTable{
		seed:       seed,
		generators: generators,
	}
}

// Seed возвращает сид, из которого построена таблица
func (t *OctaveTable) Seed() int64 {
	return t.seed
}

// Len возвращает количество октав; для nil-таблицы 0
func (t *OctaveTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.generators)
}

// Sample возвращает значение шума октавы в диапазоне [-1, 1].
// Для несуществующей октавы возвращает 0.
func (t *OctaveTable) Sample(octave int, x, y float64) float64 {
	if octave < 0 || octave >= t.Len() {
		return 0
	}
	return clamp(t.generators[octave].Noise2D(x, y), -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
