package store

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// MembershipSet answers "is this song disabled" without touching the store.
// The bloom filter rejects most misses; the map is authoritative.
type MembershipSet struct {
	keys              map[string]struct{}
	bloom             *bloom.BloomFilter
	mutex             sync.RWMutex
	expected          uint
	falsePositiveRate float64
}

// NewMembershipSet sizes the filter for expected entries. The set still holds
// more than that; only the false positive rate degrades.
func NewMembershipSet(expected int, falsePositiveRate float64) *MembershipSet {
	if expected < 1 {
		expected = 1
	}
	return &MembershipSet{
		keys:              make(map[string]struct{}),
		bloom:             bloom.NewWithEstimates(uint(expected), falsePositiveRate),
		expected:          uint(expected),
		falsePositiveRate: falsePositiveRate,
	}
}

func (m *MembershipSet) Has(key string) bool {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	if !m.bloom.TestString(key) {
		return false
	}
	_, exists := m.keys[key]
	return exists
}

func (m *MembershipSet) Add(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if _, exists := m.keys[key]; exists {
		return
	}
	m.keys[key] = struct{}{}
	m.bloom.AddString(key)
}

// Remove drops key from the map. The filter keeps it, which only costs a map
// lookup on later misses.
func (m *MembershipSet) Remove(key string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.keys, key)
}

// Load replaces the whole set with keys and rebuilds the filter.
func (m *MembershipSet) Load(keys []string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.keys = make(map[string]struct{}, len(keys))
	m.bloom = bloom.NewWithEstimates(max(m.expected, uint(len(keys))), m.falsePositiveRate)
	for _, key := range keys {
		if key == "" {
			continue
		}
		m.keys[key] = struct{}{}
		m.bloom.AddString(key)
	}
}

func (m *MembershipSet) Size() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.keys)
}
