package scene

import (
	"sync"

	"github.com/google/uuid"
)

// Graph — простой граф сцены в памяти. Реализует Host для демо и тестов.
type Graph struct {
	mu    sync.RWMutex
	nodes map[uuid.UUID]*Node
}

// NewGraph создаёт пустой граф
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[uuid.UUID]*Node),
	}
}

// Attach добавляет узел в граф
func (g *Graph) Attach(n *Node) {
	if n == nil {
		return
	}
	g.mu.Lock()
	g.nodes[n.ID] = n
	g.mu.Unlock()
}

// Detach убирает узел из графа
func (g *Graph) Detach(n *Node) {
	if n == nil {
		return
	}
	g.mu.Lock()
	delete(g.nodes, n.ID)
	g.mu.Unlock()
}

// Contains сообщает, прикреплён ли узел
func (g *Graph) Contains(n *Node) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.nodes[n.ID]
	return ok
}

// Len возвращает количество прикреплённых узлов
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}
