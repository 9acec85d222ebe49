package physics

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryEngine — физический мир в памяти для демо и тестов.
// Проверяет формы так же, как настоящий движок, и может принудительно отвергать их.
type MemoryEngine struct {
	mu     sync.RWMutex
	bodies map[BodyID]BodyDesc

	RejectHeightFields bool
	RejectBoxes        bool
}

// NewMemoryEngine создаёт пустой физический мир
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		bodies: make(map[BodyID]BodyDesc),
	}
}

// AddStaticBody добавляет тело после проверки формы
func (e *MemoryEngine) AddStaticBody(desc BodyDesc) (BodyID, error) {
	if desc.Shape == nil {
		return uuid.Nil, fmt.Errorf("add static body: nil shape")
	}
	if err := desc.Shape.Validate(); err != nil {
		return uuid.Nil, fmt.Errorf("add static body: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch desc.Shape.Kind() {
	case KindHeightField:
		if e.RejectHeightFields {
			return uuid.Nil, fmt.Errorf("add static body: %w: rejected by engine", ErrDegenerateHeightField)
		}
	case KindBox:
		if e.RejectBoxes {
			return uuid.Nil, fmt.Errorf("add static body: %w: rejected by engine", ErrDegenerateBox)
		}
	}

	id := uuid.New()
	e.bodies[id] = desc
	return id, nil
}

// RemoveBody удаляет тело
func (e *MemoryEngine) RemoveBody(id BodyID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.bodies[id]; !ok {
		return fmt.Errorf("remove body %s: %w", id, ErrBodyNotFound)
	}
	delete(e.bodies, id)
	return nil
}

// Body возвращает описание тела
func (e *MemoryEngine) Body(id BodyID) (BodyDesc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	desc, ok := e.bodies[id]
	return desc, ok
}

// Len возвращает количество тел
func (e *MemoryEngine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.bodies)
}
