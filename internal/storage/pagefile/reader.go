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

	"github.com/firefly-oss/flydb-pagefile/internal/errors"
)

// Reader reads pages of one MemoryFile. It is cheap to create and meant
// to be held by a single goroutine at a time (a "thread handle" in the
// original design's terms); it borrows its underlying Streams from the
// file's bounded stream pools and returns them to the pool on Close.
//
// ReadPage always resolves the log-confirmed version of a page ahead of
// the data-file version: a page that has been written to the log and
// confirmed, but not yet migrated to the data file by a checkpoint, must
// be visible to readers as its log content, never its stale data-file
// content.
type Reader struct {
	file *MemoryFile

	dataStream Stream
	logStream  Stream
}

func newReader(f *MemoryFile) (*Reader, error) {
	ds, err := f.dataPool.Acquire()
	if err != nil {
		return nil, fmt.Errorf("pagefile: acquire data stream: %w", err)
	}
	ls, err := f.logPool.Acquire()
	if err != nil {
		// A read-only open of a database with no log file has nothing to
		// resolve through the log; readers work from the data file alone.
		if !f.readOnly {
			f.dataPool.Release(ds)
			return nil, fmt.Errorf("pagefile: acquire log stream: %w", err)
		}
		ls = nil
	}
	f.readerOpened()
	return &Reader{file: f, dataStream: ds, logStream: ls}, nil
}

// Close returns the reader's borrowed streams to their pools. A Reader
// must not be used after Close. Closing the file's last reader arms the
// quiescence checkpoint trigger; see MemoryFile.readerClosed.
func (r *Reader) Close() {
	r.file.dataPool.Release(r.dataStream)
	if r.logStream != nil {
		r.file.logPool.Release(r.logStream)
	}
	r.file.readerClosed()
}

// ReadPage returns the current content of the page at position,
// preferring a pinned in-memory buffer, then the log's confirmed
// version, then the data file. The returned PageBuffer is pinned; the
// caller must call the file's Memory Store Return (via ReleasePage) when
// done.
func (r *Reader) ReadPage(position int64) (*PageBuffer, error) {
	f := r.file

	if logPos, ok := f.wal.ConfirmedLogPosition(position); ok && r.logStream != nil {
		if buf, ok := f.store.GetReadable(ReadableKey{Origin: OriginLog, Position: position}); ok {
			return buf, nil
		}
		buf, err := r.readFrom(r.logStream, logPos, OriginLog, position)
		if err == nil {
			f.store.MoveToReadable(buf, OriginLog, position)
			got, _ := f.store.GetReadable(ReadableKey{Origin: OriginLog, Position: position})
			return got, nil
		}
		// The log copy is unreadable: either a checkpoint migrated it and
		// truncated the log between the map lookup and this read, or the
		// log bytes failed their checksum. Both fall through to the data
		// file; a failure there is surfaced as fatal.
	}

	if buf, ok := f.store.GetReadable(ReadableKey{Origin: OriginData, Position: position}); ok {
		return buf, nil
	}

	buf, err := r.readFrom(r.dataStream, position, OriginData, position)
	if err != nil {
		return nil, err
	}
	f.store.MoveToReadable(buf, OriginData, position)
	got, _ := f.store.GetReadable(ReadableKey{Origin: OriginData, Position: position})
	return got, nil
}

// NewPage allocates a writable PageBuffer for a page that has not been
// persisted yet. The caller fills Page.Data and submits the content via
// WriteAsync; the buffer itself goes back to the pool with ReleasePage.
func (r *Reader) NewPage() (*PageBuffer, error) {
	return r.file.store.GetWritable(OriginNew, 0)
}

// ReleasePage returns a buffer obtained from ReadPage or NewPage to the
// Memory Store.
func (r *Reader) ReleasePage(buf *PageBuffer) {
	r.file.store.Return(buf)
}

func (r *Reader) readFrom(s Stream, physicalPos int64, origin Origin, logicalPos int64) (*PageBuffer, error) {
	raw := make([]byte, PageSize)
	if _, err := s.Seek(physicalPos, 0); err != nil {
		return nil, errors.IOFailure("seek", err)
	}
	if _, err := readFull(s, raw); err != nil {
		return nil, errors.IOFailure("read", err)
	}

	page, err := r.file.decodeOnDisk(raw, origin.String(), logicalPos)
	if err != nil {
		return nil, err
	}

	buf, err := r.file.store.GetWritable(origin, logicalPos)
	if err != nil {
		// The pool hit its growth bound. A checkpoint migrates confirmed
		// log pages and invalidates their cached buffers, so one retry
		// after it usually finds a free slot.
		if cerr := r.file.Checkpoint(); cerr != nil {
			return nil, err
		}
		if buf, err = r.file.store.GetWritable(origin, logicalPos); err != nil {
			return nil, err
		}
	}
	buf.Page = page
	buf.Dirty = false
	r.file.emit(EventRead, StatusOK, map[string]any{"origin": origin.String(), "position": logicalPos})
	return buf, nil
}

func readFull(s Stream, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := s.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
		if m == 0 {
			break
		}
	}
	return n, nil
}
