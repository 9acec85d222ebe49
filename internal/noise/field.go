package noise

import "math"

// Константы формы рельефа
const (
	DefaultHeight = 0.0 // Высота при отсутствии таблицы шума

	BaseScale    = 0.012 // Мировые единицы -> координаты шума
	RidgeOctaves = 3     // Сколько октав участвуют в основной сумме

	MassifRadius = 260.0 // Радиус спада центрального массива
	MassifHeight = 55.0  // Высота пика массива в начале координат

	FacetSize  = 4.0  // Шаг сетки low-poly фасеток
	FacetScale = 0.04 // Доля амплитуды для октавы фасеток

	bumpScale = 0.2 // Частота шума неровностей у тропы
)

// Params — настраиваемые параметры рельефа
type Params struct {
	Amplitude   float64
	FrequencyX  float64
	FrequencyZ  float64
	Octaves     int
	Lacunarity  float64
	Persistence float64
	LODOverride int // < 0 — без переопределения
}

// DefaultParams возвращает параметры по умолчанию
func DefaultParams() Params {
	return Params{
		Amplitude:   35,
		FrequencyX:  0.7,
		FrequencyZ:  0.7,
		Octaves:     6,
		Lacunarity:  2.2,
		Persistence: 0.55,
		LODOverride: -1,
	}
}

// Field — чистая детерминированная функция высоты поверхности.
// Не хранит изменяемого состояния и безопасна для одновременного чтения.
type Field struct {
	table  *OctaveTable
	params Params
}

// NewField связывает общую таблицу октав с параметрами
func NewField(table *OctaveTable, params Params) Field {
	return Field{table: table, params: params}
}

// Params возвращает параметры поля
func (f Field) Params() Params {
	return f.params
}

// WithParams возвращает поле с той же таблицей и новыми параметрами
func (f Field) WithParams(params Params) Field {
	return Field{table: f.table, params: params}
}

// Height возвращает неотрицательную высоту поверхности в точке (x, z)
func (f Field) Height(x, z float64) float64 {
	if f.table.Len() == 0 {
		return DefaultHeight
	}

	// 1. Гребни: квадраты значений шума заостряют вершины
	h := f.ridges(x, z)

	// 2. Центральный массив
	falloff := math.Max(0, 1-math.Hypot(x, z)/MassifRadius)
	falloff *= falloff
	h = h*(1-falloff) + falloff*MassifHeight

	// 3. Тропа
	if d := PathDistance(x, z); d < PathHalfWidth {
		edge := d / PathHalfWidth
		h *= 1 - PathDepth*(1-edge)
		h += math.Abs(f.table.Sample(0, x*bumpScale, z*bumpScale)) * PathBump * edge
	}

	// 4. Фасетки
	h += f.facet(x, z)

	// 5. Не ниже нуля
	return math.Max(0, h)
}

func (f Field) ridges(x, z float64) float64 {
	octaves := min(f.params.Octaves, RidgeOctaves, f.table.Len())
	if octaves <= 0 {
		return 0
	}

	var sum, norm float64
	weight := 1.0
	freq := 1.0
	for n := 0; n < octaves; n++ {
		s := f.table.Sample(n,
			x*BaseScale*f.params.FrequencyX*freq,
			z*BaseScale*f.params.FrequencyZ*freq)
		sum += f.params.Amplitude * weight * s * s
		norm += weight
		weight *= f.params.Persistence
		freq *= f.params.Lacunarity
	}

	if norm <= 0 {
		return 0
	}
	return sum / norm
}

func (f Field) facet(x, z float64) float64 {
	octave := min(RidgeOctaves, f.table.Len()-1)
	sx := math.Floor(x/FacetSize) * FacetSize
	sz := math.Floor(z/FacetSize) * FacetSize
	freq := math.Pow(f.params.Lacunarity, float64(octave))

	s := f.table.Sample(octave,
		sx*BaseScale*f.params.FrequencyX*freq,
		sz*BaseScale*f.params.FrequencyZ*freq)
	return s * f.params.Amplitude * FacetScale
}
