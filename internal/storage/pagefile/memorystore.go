/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package pagefile

import (
	"sync"

	"github.com/firefly-oss/flydb-pagefile/internal/errors"
)

// MemoryStoreStats holds the buffer-pool counters the storage engine's
// EngineStats reporting draws from.
type MemoryStoreStats struct {
	PageReads   uint64
	PageWrites  uint64
	DirtyPages  int
	Segments    int
	Capacity    int
	CacheHits   uint64
	CacheMisses uint64
}

// CacheHitRate returns PageReads served from the readable map divided by
// total reads, or 0 if there have been no reads yet.
func (s MemoryStoreStats) CacheHitRate() float64 {
	total := s.CacheHits + s.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(s.CacheHits) / float64(total)
}

// MemoryStore is the fixed-size pool of PageBuffers backing a single
// MemoryFile. It hands out writable buffers for pages the Reader loads
// from disk or allocates with NewPage, readable buffers for cached pages,
// and reclaims both under one lock. The write path does not use the store:
// WAL pages are built and queued to FileWriter directly.
//
// Growth is by whole segments of SegmentPages buffers, never by single
// pages, so the free list never thrashes the allocator under sustained
// write load. Eviction picks the unpinned, clean, readable buffer with
// the oldest sequence stamp (a monotonically increasing counter bumped on
// every touch), which approximates LRU without a linked list.
type MemoryStore struct {
	mu sync.Mutex

	free     []*PageBuffer
	readable map[ReadableKey]*PageBuffer

	segmentPages int
	segments     int
	capacity     int

	seq uint64

	stats MemoryStoreStats
}

// NewMemoryStore returns an empty store that grows by segmentPages
// buffers at a time. A segmentPages of 0 defaults to SegmentPages.
func NewMemoryStore(segmentPages int) *MemoryStore {
	if segmentPages <= 0 {
		segmentPages = SegmentPages
	}
	return &MemoryStore{
		segmentPages: segmentPages,
		readable:     make(map[ReadableKey]*PageBuffer),
	}
}

// nextSeq must be called with mu held.
func (m *MemoryStore) nextSeq() uint64 {
	m.seq++
	return m.seq
}

// extendSegments grows the pool by one segment. It must be called with mu
// held; ExtendSegments is the locking wrapper.
func (m *MemoryStore) extendSegments() {
	for i := 0; i < m.segmentPages; i++ {
		m.free = append(m.free, &PageBuffer{Page: NewPage()})
	}
	m.segments++
	m.capacity += m.segmentPages
}

// ExtendSegments grows the pool by one segment, exported for tests and
// diagnostics that want to pre-warm the pool.
func (m *MemoryStore) ExtendSegments() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extendSegments()
	return m.segments
}

// GetReadable returns the cached buffer for key, incrementing its share
// count, or false if no such page is cached. Callers must call Return
// exactly once per successful GetReadable/GetWritable call.
func (m *MemoryStore) GetReadable(key ReadableKey) (*PageBuffer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, ok := m.readable[key]
	if !ok {
		m.stats.CacheMisses++
		return nil, false
	}
	buf.shareCount++
	buf.seq = m.nextSeq()
	m.stats.CacheHits++
	m.stats.PageReads++
	return buf, true
}

// GetWritable returns a fresh, pinned buffer for position, taken from the
// free list (growing the pool by a segment if the free list is empty and
// no page can be evicted). The buffer is not inserted into the readable
// map until MoveToReadable is called, so concurrent readers never observe
// a partially written page.
func (m *MemoryStore) GetWritable(origin Origin, position int64) (*PageBuffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, err := m.acquireFree()
	if err != nil {
		return nil, err
	}
	buf.Origin = origin
	buf.Position = position
	buf.Dirty = true
	buf.shareCount = 1
	buf.seq = m.nextSeq()
	m.stats.PageWrites++
	return buf, nil
}

// acquireFree must be called with mu held. It pops a buffer from the free
// list, evicting a clean readable page or growing the pool if necessary.
func (m *MemoryStore) acquireFree() (*PageBuffer, error) {
	if len(m.free) == 0 {
		if victim, ok := m.evictLocked(); ok {
			return victim, nil
		}
		if m.capacity > 0 && m.segments >= maxSegments {
			return nil, errors.CapacityExhausted(m.segments+1, maxSegments)
		}
		m.extendSegments()
	}
	n := len(m.free) - 1
	buf := m.free[n]
	m.free = m.free[:n]
	return buf, nil
}

// maxSegments bounds runaway growth; at SegmentPages*maxSegments pages the
// store refuses to grow further and callers must checkpoint to reclaim
// clean pages instead.
const maxSegments = 1 << 20

// evictLocked scans the readable map for the oldest unpinned, clean
// buffer and removes it from the map for reuse. Dirty buffers are never
// evicted: they must be flushed by the WAL Coordinator/FileWriter first,
// which clears Dirty via MoveToReadable or Return.
func (m *MemoryStore) evictLocked() (*PageBuffer, bool) {
	var victimKey ReadableKey
	var victim *PageBuffer
	for k, b := range m.readable {
		if b.IsShared() || b.Dirty {
			continue
		}
		if victim == nil || b.seq < victim.seq {
			victim, victimKey = b, k
		}
	}
	if victim == nil {
		return nil, false
	}
	delete(m.readable, victimKey)
	return victim, true
}

// MoveToReadable inserts buf into the readable map at (origin, position),
// clears its dirty flag, and unpins it. Called by Reader once a page read
// from disk has been decoded into buf.
func (m *MemoryStore) MoveToReadable(buf *PageBuffer, origin Origin, position int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf.Origin = origin
	buf.Position = position
	buf.Dirty = false
	m.readable[ReadableKey{Origin: origin, Position: position}] = buf
	m.unpinLocked(buf)
}

// Return releases a reference obtained from GetReadable or GetWritable.
// If the buffer is not cached as readable and this was its last
// reference, it goes back to the free list.
func (m *MemoryStore) Return(buf *PageBuffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unpinLocked(buf)
}

func (m *MemoryStore) unpinLocked(buf *PageBuffer) {
	if buf.shareCount > 0 {
		buf.shareCount--
	}
	// An unpinned buffer that is not in the readable map is unreachable:
	// nobody is left to drain it, so it is recycled even if its writer
	// abandoned it dirty.
	if buf.shareCount == 0 && !m.isCachedLocked(buf) {
		buf.Dirty = false
		m.free = append(m.free, buf)
	}
}

func (m *MemoryStore) isCachedLocked(buf *PageBuffer) bool {
	cached, ok := m.readable[ReadableKey{Origin: buf.Origin, Position: buf.Position}]
	return ok && cached == buf
}

// Invalidate drops any cached readable entry at key, used when a page is
// superseded (e.g. a log page confirmed and migrated into the data file
// at checkpoint, or a data-file page replaced by such a migration). A
// buffer that is still pinned is left in place.
func (m *MemoryStore) Invalidate(key ReadableKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if buf, ok := m.readable[key]; ok && !buf.IsShared() {
		delete(m.readable, key)
		if !buf.Dirty {
			m.free = append(m.free, buf)
		}
	}
}

// Stats returns a snapshot of pool counters.
func (m *MemoryStore) Stats() MemoryStoreStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.stats
	s.Segments = m.segments
	s.Capacity = m.capacity
	s.DirtyPages = 0
	for _, b := range m.readable {
		if b.Dirty {
			s.DirtyPages++
		}
	}
	return s
}
