package noise

import "math"

// Диагональная тропа под 45° через начало координат
const (
	PathHalfWidth = 6.0 // Полуширина полосы тропы в мировых единицах
	PathDepth     = 0.2 // Максимальное понижение высоты на оси тропы (не ниже 80%)
	PathBump      = 0.6 // Амплитуда неровностей у краёв тропы
)

// PathDistance возвращает перпендикулярное расстояние от точки до линии x = z
func PathDistance(x, z float64) float64 {
	return math.Abs(x-z) / math.Sqrt2
}

// PathMask возвращает близость к тропе: 1 на оси, 0 за пределами полосы
func PathMask(x, z float64) float64 {
	return clamp(1-PathDistance(x, z)/PathHalfWidth, 0, 1)
}
