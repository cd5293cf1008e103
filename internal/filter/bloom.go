package filter

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// BloomFilter wraps the bloom filter with thread-safety.
// It answers "definitely not a key" without touching Redis or the database.
type BloomFilter struct {
	filter   *bloom.BloomFilter
	capacity uint
	fpRate   float64
	// pending collects keys added while a rebuild is in progress
	pending []string
	mu      sync.RWMutex
}

// NewBloomFilter creates a new Bloom filter with specified capacity and false positive rate
func NewBloomFilter(capacity uint, fpRate float64) *BloomFilter {
	return &BloomFilter{
		filter:   bloom.NewWithEstimates(capacity, fpRate),
		capacity: capacity,
		fpRate:   fpRate,
	}
}

// Add adds a short key to the Bloom filter
func (bf *BloomFilter) Add(key string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.filter.AddString(key)
	if bf.pending != nil {
		bf.pending = append(bf.pending, key)
	}
}

// Test checks if a short key might exist in the Bloom filter.
// False means the key was never added.
func (bf *BloomFilter) Test(key string) bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.filter.TestString(key)
}

// BeginRebuild starts recording added keys so a following CommitRebuild keeps them.
// Call it before reading the key list from the store.
func (bf *BloomFilter) BeginRebuild() {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.pending = make([]string, 0)
}

// CommitRebuild replaces the filter contents with keys plus everything added since BeginRebuild.
// Calls must not overlap.
func (bf *BloomFilter) CommitRebuild(keys []string) {
	fresh := bloom.NewWithEstimates(bf.capacity, bf.fpRate)
	for _, key := range keys {
		fresh.AddString(key)
	}

	bf.mu.Lock()
	defer bf.mu.Unlock()
	for _, key := range bf.pending {
		fresh.AddString(key)
	}
	bf.filter = fresh
	bf.pending = nil
}

// AbortRebuild stops recording and leaves the current filter in place
func (bf *BloomFilter) AbortRebuild() {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.pending = nil
}

// Rebuild replaces the filter contents with keys
func (bf *BloomFilter) Rebuild(keys []string) {
	bf.BeginRebuild()
	bf.CommitRebuild(keys)
}

// Len approximates the number of distinct keys in the filter
func (bf *BloomFilter) Len() uint32 {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.filter.ApproximatedSize()
}
