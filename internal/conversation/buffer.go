package conversation

import (
	"sync"
	"time"

	"github.com/nhle/mail-assistant/internal/model"
)

const (
	// DefaultCapacity is the number of turns kept before the oldest are
	// evicted.
	DefaultCapacity = 30

	// DefaultWindow is the number of recent turns forwarded to the model.
	DefaultWindow = 20
)

// History is the dialogue transcript consulted and extended by the agent.
type History interface {
	Append(turns ...model.Turn)
	Window(n int) []model.Turn
	All() []model.Turn
	Len() int
	Clear()
}

// Buffer is a fixed-capacity ring of turns with FIFO eviction. It is safe
// for concurrent use.
type Buffer struct {
	mu    sync.Mutex
	turns []model.Turn
	start int
	size  int
}

var _ History = (*Buffer)(nil)

// NewBuffer creates a buffer holding at most capacity turns. A capacity
// below one selects DefaultCapacity.
func NewBuffer(capacity int) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Buffer{turns: make([]model.Turn, capacity)}
}

// Cap returns the capacity.
func (b *Buffer) Cap() int {
	return len(b.turns)
}

// Append adds turns in order, evicting the oldest when full.
func (b *Buffer) Append(turns ...model.Turn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	capacity := len(b.turns)
	for _, t := range turns {
		end := (b.start + b.size) % capacity
		b.turns[end] = t
		if b.size < capacity {
			b.size++
		} else {
			b.start = (b.start + 1) % capacity
		}
	}
}

// Window returns a copy of the last n turns, oldest first. n <= 0 returns
// every turn.
func (b *Buffer) Window(n int) []model.Turn {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || n > b.size {
		n = b.size
	}

	out := make([]model.Turn, n)
	offset := b.size - n
	for i := range n {
		out[i] = b.turns[(b.start+offset+i)%len(b.turns)]
	}
	return out
}

// All returns a copy of every turn, oldest first.
func (b *Buffer) All() []model.Turn {
	return b.Window(0)
}

// Len returns the number of stored turns.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.size
}

// Clear removes every turn.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.turns)
	b.start, b.size = 0, 0
}

// AppendExchange records a user command and the reply it produced.
func AppendExchange(h History, command, reply string, at time.Time) {
	h.Append(
		model.Turn{Role: model.RoleUser, Text: command, At: at},
		model.Turn{Role: model.RoleAssistant, Text: reply, At: at},
	)
}
