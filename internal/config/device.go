package config

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	ProfileAuto    = "auto"
	ProfileDesktop = "desktop"
	ProfileMobile  = "mobile"
	ProfileLow     = "low"
)

const gib = 1 << 30

// DeviceProfile — настройки класса устройства, внедряемые в планировщик при старте
type DeviceProfile struct {
	Name        string
	Density     int // Сегментов на сторону тайла при LOD 0
	MinSegments int // Нижняя граница сегментов для грубых LOD
	OpsPerTick  int // Бюджет операций create/update за тик
	MaxDistance int // Радиус стриминга в тайлах
}

var presets = map[string]DeviceProfile{
	ProfileDesktop: {Name: ProfileDesktop, Density: 64, MinSegments: 4, OpsPerTick: 2, MaxDistance: 6},
	ProfileMobile:  {Name: ProfileMobile, Density: 32, MinSegments: 4, OpsPerTick: 1, MaxDistance: 4},
	ProfileLow:     {Name: ProfileLow, Density: 16, MinSegments: 2, OpsPerTick: 1, MaxDistance: 3},
}

func presetProfile(name string) (DeviceProfile, error) {
	p, ok := presets[name]
	if !ok {
		return DeviceProfile{}, fmt.Errorf("unknown device profile %q", name)
	}
	return p, nil
}

// ProfileForHost выбирает пресет по количеству логических CPU и объёму памяти
func ProfileForHost(cpus int, memBytes uint64) DeviceProfile {
	switch {
	case cpus >= 8 && memBytes >= 8*gib:
		return presets[ProfileDesktop]
	case cpus >= 4 && memBytes >= 3*gib:
		return presets[ProfileMobile]
	default:
		return presets[ProfileLow]
	}
}

// DetectDeviceProfile определяет класс устройства по ресурсам хоста
func DetectDeviceProfile() (DeviceProfile, error) {
	cpus, err := cpu.Counts(true)
	if err != nil {
		return presets[ProfileMobile], fmt.Errorf("cpu counts: %w", err)
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		return presets[ProfileMobile], fmt.Errorf("virtual memory: %w", err)
	}

	return ProfileForHost(cpus, vm.Total), nil
}

// ResolveProfile возвращает профиль из конфигурации: пресет (или автоопределение) плюс переопределения.
// Ошибка автоопределения не фатальна: возвращается профиль mobile вместе с ошибкой.
func (d DeviceConfig) ResolveProfile() (DeviceProfile, error) {
	var (
		profile DeviceProfile
		err     error
	)

	if d.Profile == "" || d.Profile == ProfileAuto {
		profile, err = DetectDeviceProfile()
	} else {
		profile, err = presetProfile(d.Profile)
		if err != nil {
			return DeviceProfile{}, err
		}
	}

	if d.Density > 0 {
		profile.Density = d.Density
	}
	if d.MinSegments > 0 {
		profile.MinSegments = d.MinSegments
	}
	if d.OpsPerTick > 0 {
		profile.OpsPerTick = d.OpsPerTick
	}
	if d.MaxDistance > 0 {
		profile.MaxDistance = d.MaxDistance
	}
	return profile.Normalized(), err
}

// Normalized приводит поля профиля к допустимым значениям
func (p DeviceProfile) Normalized() DeviceProfile {
	if p.MinSegments < 1 {
		p.MinSegments = 1
	}
	if p.Density < p.MinSegments {
		p.Density = p.MinSegments
	}
	if p.OpsPerTick < 1 {
		p.OpsPerTick = 1
	}
	if p.MaxDistance < 1 {
		p.MaxDistance = 1
	}
	return p
}
