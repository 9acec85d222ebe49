package world

import (
	"sort"

	"github.com/annel0/terrain-streamer/internal/vec"
)

// Action — действие над тайлом, запланированное на будущие тики
type Action int

const (
	ActionCreate Action = iota
	ActionUpdateLOD
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdateLOD:
		return "update_lod"
	case ActionRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// ScheduledOp — отложенная операция над тайлом
type ScheduledOp struct {
	Key    vec.Vec2
	Target vec.Vec2 // Координата цели на момент планирования
	LOD    int
	Action Action
}

// OpQueue хранит не более одной операции на ключ.
// Повторная постановка перезаписывает операцию на её месте в очереди.
type OpQueue struct {
	ops   []ScheduledOp
	index map[vec.Vec2]int
}

func NewOpQueue() *OpQueue {
	return &OpQueue{index: make(map[vec.Vec2]int)}
}

// Enqueue добавляет операцию или заменяет уже ожидающую для того же ключа
func (q *OpQueue) Enqueue(op ScheduledOp) {
	if i, ok := q.index[op.Key]; ok {
		q.ops[i] = op
		return
	}
	q.index[op.Key] = len(q.ops)
	q.ops = append(q.ops, op)
}

func (q *OpQueue) Len() int {
	return len(q.ops)
}

// Pending возвращает ожидающую операцию для ключа
func (q *OpQueue) Pending(key vec.Vec2) (ScheduledOp, bool) {
	i, ok := q.index[key]
	if !ok {
		return ScheduledOp{}, false
	}
	return q.ops[i], true
}

// Pop извлекает операцию из начала очереди
func (q *OpQueue) Pop() (ScheduledOp, bool) {
	if len(q.ops) == 0 {
		return ScheduledOp{}, false
	}
	op := q.ops[0]
	q.ops = q.ops[1:]
	delete(q.index, op.Key)
	for i, o := range q.ops {
		q.index[o.Key] = i
	}
	return op, true
}

// SortByDistance упорядочивает очередь: ближайшие к цели тайлы первыми,
// при равенстве по ключу, чтобы порядок был детерминированным
func (q *OpQueue) SortByDistance(target vec.Vec2) {
	sort.SliceStable(q.ops, func(a, b int) bool {
		da := q.ops[a].Key.DistanceTo(target)
		db := q.ops[b].Key.DistanceTo(target)
		if da != db {
			return da < db
		}
		return keyLess(q.ops[a].Key, q.ops[b].Key)
	})
	for i, o := range q.ops {
		q.index[o.Key] = i
	}
}

// Clear удаляет все ожидающие операции
func (q *OpQueue) Clear() {
	q.ops = q.ops[:0]
	clear(q.index)
}

func keyLess(a, b vec.Vec2) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	return a.Y < b.Y
}
