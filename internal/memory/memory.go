package memory

import (
	"sync"

	"github.com/nikhilbhutani/docqa/internal/models"
)

// Memory holds a session's conversation turns in order.
type Memory interface {
	Add(turn models.ConversationTurn)
	Turns(limit int) []models.ConversationTurn
	Clear()
	Size() int
}

// BufferMemory stores the last N turns in memory.
type BufferMemory struct {
	mu      sync.RWMutex
	turns   []models.ConversationTurn
	maxSize int
}

func NewBufferMemory(maxSize int) *BufferMemory {
	if maxSize <= 0 {
		maxSize = 50
	}
	return &BufferMemory{
		turns:   make([]models.ConversationTurn, 0, maxSize),
		maxSize: maxSize,
	}
}

func (m *BufferMemory) Add(turn models.ConversationTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.turns = append(m.turns, turn)

	// Evict oldest if over capacity
	if len(m.turns) > m.maxSize {
		m.turns = append(m.turns[:0], m.turns[len(m.turns)-m.maxSize:]...)
	}
}

// Turns returns a copy of the most recent limit turns; limit <= 0 returns all.
func (m *BufferMemory) Turns(limit int) []models.ConversationTurn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w := Window(m.turns, limit)
	out := make([]models.ConversationTurn, len(w))
	copy(out, w)
	return out
}

func (m *BufferMemory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = m.turns[:0]
}

func (m *BufferMemory) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.turns)
}

// Window returns the last n turns of history, or all of it when n <= 0 or
// history is shorter. The result aliases history.
func Window(history []models.ConversationTurn, n int) []models.ConversationTurn {
	if n <= 0 || n >= len(history) {
		return history
	}
	return history[len(history)-n:]
}
