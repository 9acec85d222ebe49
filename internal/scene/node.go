package scene

import (
	"github.com/go-gl/mathgl/mgl32"
	"github.com/google/uuid"
)

// Host — граф сцены рендера, к которому прикрепляются визуальные корни тайлов
type Host interface {
	Attach(n *Node)
	Detach(n *Node)
}

// Mesh — сетка вершин тайла. Идентичность сохраняется при перетесселяции:
// содержимое заменяется на месте, указатель остаётся тем же.
type Mesh struct {
	ID        uuid.UUID
	Segments  int
	Positions []mgl32.Vec3
	Normals   []mgl32.Vec3
	Colors    []mgl32.Vec3
	Indices   []uint32
	Version   int // Увеличивается при каждой перетесселяции
	released  bool
}

// NewMesh создаёт пустую сетку
func NewMesh() *Mesh {
	return &Mesh{ID: uuid.New()}
}

// Release освобождает буферы сетки
func (m *Mesh) Release() {
	m.Positions = nil
	m.Normals = nil
	m.Colors = nil
	m.Indices = nil
	m.released = true
}

// Released сообщает, освобождена ли сетка
func (m *Mesh) Released() bool {
	return m.released
}

// Uniforms — явный набор параметров фиксированного конвейера затенения рельефа
type Uniforms struct {
	LowColor    mgl32.Vec3
	HighColor   mgl32.Vec3
	PeakColor   mgl32.Vec3
	PathColor   mgl32.Vec3
	LowHeight   float32
	PeakHeight  float32
	PathBlend   float32
	FlatShading bool
}

// Material — материал тайла с привязанными униформами
type Material struct {
	Name     string
	Uniforms Uniforms
	released bool
}

func (m *Material) Release()       { m.released = true }
func (m *Material) Released() bool { return m.released }

// InstanceKind — тип инстанс-батча
type InstanceKind int

const (
	KindTrunk InstanceKind = iota
	KindFoliage
)

// Instance — один экземпляр в батче
type Instance struct {
	Transform mgl32.Mat4
	Color     mgl32.Vec3
}

// InstanceBatch — инстансированный набор одинаковых объектов (стволы, ярусы кроны)
type InstanceBatch struct {
	Name      string
	Kind      InstanceKind
	Instances []Instance
	released  bool
}

// Release освобождает инстансы батча
func (b *InstanceBatch) Release() {
	b.Instances = nil
	b.released = true
}

func (b *InstanceBatch) Released() bool { return b.released }

// Node — визуальный корень тайла в графе сцены
type Node struct {
	ID       uuid.UUID
	Name     string
	Position mgl32.Vec3
	Mesh     *Mesh
	Material *Material
	Batches  []*InstanceBatch
}

// NewNode создаёт узел с новым идентификатором
func NewNode(name string, position mgl32.Vec3) *Node {
	return &Node{
		ID:       uuid.New(),
		Name:     name,
		Position: position,
	}
}
