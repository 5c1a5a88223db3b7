package device

import (
	"sort"
	"sync"
)

// Memory is a sparse word-addressed store. Unwritten words read as zero.
// It is safe for concurrent use.
type Memory struct {
	mutex sync.RWMutex
	words map[uint64]uint32
}

// NewMemory returns an empty memory.
func NewMemory() *Memory {
	return &Memory{words: make(map[uint64]uint32)}
}

// Load returns the word at addr.
func (m *Memory) Load(addr uint64) uint32 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.words[addr]
}

// Store sets the word at addr.
func (m *Memory) Store(addr uint64, v uint32) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.words[addr] = v
}

// ReadWords returns n words starting at addr. With noIncrement every word
// is read from addr.
func (m *Memory) ReadWords(addr uint64, n int, noIncrement bool) []uint32 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]uint32, n)
	for i := range out {
		out[i] = m.words[addr]
		if !noIncrement {
			addr++
		}
	}
	return out
}

// WriteWords stores words starting at addr. With noIncrement every word is
// written to addr, leaving the last one.
func (m *Memory) WriteWords(addr uint64, words []uint32, noIncrement bool) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, w := range words {
		m.words[addr] = w
		if !noIncrement {
			addr++
		}
	}
}

// Len returns the number of words written.
func (m *Memory) Len() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.words)
}

// Addresses returns the written addresses in ascending order.
func (m *Memory) Addresses() []uint64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	out := make([]uint64, 0, len(m.words))
	for a := range m.words {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Clear erases every word.
func (m *Memory) Clear() {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	clear(m.words)
}
