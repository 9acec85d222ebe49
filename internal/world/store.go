package world

import (
	"sort"

	"github.com/annel0/terrain-streamer/internal/vec"
)

// ChunkStore — резидентные тайлы, не более одного на ключ.
// Не потокобезопасен: принадлежит планировщику.
type ChunkStore struct {
	chunks map[vec.Vec2]*Chunk
}

func NewChunkStore() *ChunkStore {
	return &ChunkStore{chunks: make(map[vec.Vec2]*Chunk)}
}

func (s *ChunkStore) Get(key vec.Vec2) (*Chunk, bool) {
	c, ok := s.chunks[key]
	return c, ok
}

// Put сохраняет тайл; существующий тайл с тем же ключом заменяется
func (s *ChunkStore) Put(c *Chunk) {
	s.chunks[c.Key()] = c
}

func (s *ChunkStore) Delete(key vec.Vec2) {
	delete(s.chunks, key)
}

func (s *ChunkStore) Len() int {
	return len(s.chunks)
}

// Keys возвращает ключи резидентных тайлов в детерминированном порядке
func (s *ChunkStore) Keys() []vec.Vec2 {
	keys := make([]vec.Vec2, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool { return keyLess(keys[a], keys[b]) })
	return keys
}

// Each обходит тайлы в порядке Keys; fn может удалять текущий тайл
func (s *ChunkStore) Each(fn func(*Chunk)) {
	for _, k := range s.Keys() {
		if c, ok := s.chunks[k]; ok {
			fn(c)
		}
	}
}
