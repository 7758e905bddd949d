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
	"fmt"
	"sync"

	"github.com/firefly-oss/flydb-pagefile/internal/errors"
	"github.com/firefly-oss/flydb-pagefile/internal/logging"
)

// TempFile is the ModeTempFile counterpart to MemoryFile: it shares the
// Memory Store, FileReader-style reads, and FileWriter drain worker, but
// never sees a WAL Coordinator, because its contents do not need to
// survive a crash. Callers use it for scratch paged storage such as
// external-sort spill during an index build, where losing the file on
// an unclean shutdown is acceptable (the operation that created it would
// have to restart anyway).
type TempFile struct {
	store  *MemoryStore
	pool   *streamPool
	writer *FileWriter
	stream Stream

	mu     sync.Mutex
	closed bool
}

// OpenTempFile opens a scratch paged file over the stream disk.GetStream
// produces; the caller is responsible for arranging disk to point at a
// throwaway location (the original design note's "temp file" discovery
// concern is explicitly a non-goal of this package).
func OpenTempFile(disk DiskFactory, segmentPages int) (*TempFile, error) {
	stream, err := disk.GetStream(true, false)
	if err != nil {
		return nil, fmt.Errorf("pagefile: open temp file: %w", err)
	}
	return &TempFile{
		store:  NewMemoryStore(segmentPages),
		pool:   newStreamPool(disk, false, 0),
		writer: NewFileWriter(stream, logging.NewLogger("tempwriter"), nil),
		stream: stream,
	}, nil
}

// Mode reports ModeTempFile.
func (t *TempFile) Mode() Mode {
	return ModeTempFile
}

// WritePage queues data (DataSize bytes) to be written at position,
// returning a channel that receives the write's outcome once durable.
func (t *TempFile) WritePage(position int64, data []byte) (<-chan error, error) {
	if len(data) > DataSize {
		return nil, fmt.Errorf("pagefile: temp page body %d exceeds page capacity %d", len(data), DataSize)
	}
	page := NewPage()
	copy(page.Data, data)
	page.Header = Header{Type: PageTypeData, BodyLength: uint32(len(data)), Checksum: ChecksumBytes(page.Data[:len(data)])}
	return t.writer.QueuePage(position, page.Encode(), nil), nil
}

// ReadPage returns the PageBuffer at position, populating the Memory
// Store from disk on a cache miss. No log is ever consulted: a TempFile
// has no confirmed/pending distinction.
func (t *TempFile) ReadPage(position int64) (*PageBuffer, error) {
	if buf, ok := t.store.GetReadable(ReadableKey{Origin: OriginData, Position: position}); ok {
		return buf, nil
	}

	s, err := t.pool.Acquire()
	if err != nil {
		return nil, err
	}
	defer t.pool.Release(s)

	raw := make([]byte, PageSize)
	if _, err := s.Seek(position, 0); err != nil {
		return nil, errors.IOFailure("temp seek", err)
	}
	if _, err := readFull(s, raw); err != nil {
		return nil, errors.IOFailure("temp read", err)
	}

	page := DecodePage(raw)
	bodyLen := clampBodyLen(page.Header.BodyLength)
	if ChecksumBytes(page.Data[:bodyLen]) != page.Header.Checksum {
		return nil, errors.ChecksumMismatch("temp", position)
	}

	buf, err := t.store.GetWritable(OriginData, position)
	if err != nil {
		return nil, err
	}
	buf.Page = page
	buf.Dirty = false
	t.store.MoveToReadable(buf, OriginData, position)
	got, _ := t.store.GetReadable(ReadableKey{Origin: OriginData, Position: position})
	return got, nil
}

// ReleasePage returns buf to the Memory Store.
func (t *TempFile) ReleasePage(buf *PageBuffer) {
	t.store.Return(buf)
}

// Dispose drains the writer and closes every stream this TempFile owns.
func (t *TempFile) Dispose() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.writer.Dispose()
	t.pool.Close()
	return t.stream.Close()
}
