package graph

import (
	log "github.com/rs/zerolog"
)

// ThreadTable assigns thread identifiers a position in first-seen order.
// A thread's bit in a thread bit vector is its position modulo the vector
// width, so once more threads than bits have been seen, distinct threads
// share bits.
type ThreadTable struct {
	ids    []int64
	index  map[int64]int
	warned bool
	logger log.Logger
}

func NewThreadTable(logger log.Logger) *ThreadTable {
	return &ThreadTable{
		index:  make(map[int64]int),
		logger: logger.With().Str("component", "threads").Logger(),
	}
}

// Index returns the first-seen position of id, appending it if new.
func (t *ThreadTable) Index(id int64) int {
	if i, ok := t.index[id]; ok {
		return i
	}
	i := len(t.ids)
	t.ids = append(t.ids, id)
	t.index[id] = i

	return i
}

// Bit returns the bit position of id in a vector of the given width, or -1
// when width is not positive.
func (t *ThreadTable) Bit(id int64, width int) int {
	if width <= 0 {
		return -1
	}
	i := t.Index(id)
	if i >= width && !t.warned {
		t.warned = true
		t.logger.Warn().
			Int("threads", len(t.ids)).
			Int("width", width).
			Msg("thread bit vector width exceeded, thread bits will alias")
	}

	return i % width
}

// ID returns the thread identifier first seen at position i.
func (t *ThreadTable) ID(i int) (int64, bool) {
	if i < 0 || i >= len(t.ids) {
		return 0, false
	}
	return t.ids[i], true
}

func (t *ThreadTable) Len() int {
	return len(t.ids)
}
