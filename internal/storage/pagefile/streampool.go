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
	"runtime"
	"sync"
)

// DefaultMaxPooledStreams is used when a streamPool is constructed with a
// non-positive capacity: 4x GOMAXPROCS, enough that readers on every core
// can each hold a few streams without opening one per call.
func DefaultMaxPooledStreams() int {
	n := runtime.GOMAXPROCS(0) * 4
	if n < 1 {
		n = 4
	}
	return n
}

// streamPool is a bounded pool of read-only Streams onto one file,
// handed out to FileReaders. Each Acquire either reuses a pooled stream
// or opens a new one; each Release either returns the stream to the pool
// or, if the pool is already at capacity, closes it. This bounds the
// number of idle streams kept open per file. Acquire never blocks: it
// opens a new stream whenever none is idle, so the number of streams open
// at once is not capped while many FileReaders hold one.
type streamPool struct {
	mu       sync.Mutex
	factory  DiskFactory
	logFile  bool
	capacity int
	idle     []Stream
	open     int
}

func newStreamPool(factory DiskFactory, logFile bool, capacity int) *streamPool {
	if capacity <= 0 {
		capacity = DefaultMaxPooledStreams()
	}
	return &streamPool{factory: factory, logFile: logFile, capacity: capacity}
}

// Acquire returns a read-only Stream, reused from the pool when possible.
func (p *streamPool) Acquire() (Stream, error) {
	p.mu.Lock()
	if n := len(p.idle); n > 0 {
		s := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return s, nil
	}
	p.open++
	p.mu.Unlock()

	s, err := p.factory.GetStream(false, p.logFile)
	if err != nil {
		p.mu.Lock()
		p.open--
		p.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// Release returns s to the pool, or closes it if the pool is already at
// capacity.
func (p *streamPool) Release(s Stream) {
	p.mu.Lock()
	if len(p.idle) < p.capacity {
		p.idle = append(p.idle, s)
		p.mu.Unlock()
		return
	}
	p.open--
	p.mu.Unlock()
	s.Close()
}

// Close closes every idle stream, used during MemoryFile.Dispose.
func (p *streamPool) Close() {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, s := range idle {
		s.Close()
	}
}
