package physics

import (
	"errors"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// ErrBodyNotFound возвращается при удалении неизвестного тела
var ErrBodyNotFound = errors.New("physics body not found")

// BodyID — идентификатор тела в физическом мире
type BodyID = uuid.UUID

// MaterialTag отличает землю от динамических акторов
type MaterialTag int

const (
	MaterialGround MaterialTag = iota
	MaterialDynamic
)

// BodyDesc — описание статического тела
type BodyDesc struct {
	Shape    Shape
	Position mgl32.Vec3
	Rotation mgl32.Quat
	Material MaterialTag
}

// Transform возвращает матрицу локальное -> мировое пространство
func (d BodyDesc) Transform() mgl32.Mat4 {
	return mgl32.Translate3D(d.Position.X(), d.Position.Y(), d.Position.Z()).Mul4(d.Rotation.Mat4())
}

// Engine — узкий интерфейс физического движка
type Engine interface {
	// AddStaticBody добавляет статическое тело; движок может отвергнуть форму
	AddStaticBody(desc BodyDesc) (BodyID, error)
	// RemoveBody удаляет тело из мира
	RemoveBody(id BodyID) error
}
