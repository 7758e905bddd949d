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
	"github.com/firefly-oss/flydb-pagefile/internal/logging"
)

// writeJob is one queued unit of work for a FileWriter: either persist a
// page at a physical offset, or change the underlying stream's length.
// isLength selects which: physicalPos/raw/onFlush for a page, length for
// a length change.
type writeJob struct {
	isLength bool

	physicalPos int64
	raw         []byte
	onFlush     func() // called after the bytes reach the OS, before done fires

	length int64

	done chan error
}

// FileWriter drains a FIFO queue of page writes and length changes onto a
// single Stream with a single background goroutine, so writes to one
// file are never reordered relative to each other regardless of how many
// callers queue them concurrently. This is the ordering guarantee the WAL
// Coordinator depends on: a page's bytes always land before any write
// queued after it, and a confirmed page is always flushed before
// WaitCompletion returns for it.
type FileWriter struct {
	log    *logging.Logger
	events *EventBus

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*writeJob
	stream   Stream
	stopped  bool
	draining sync.WaitGroup

	wg sync.WaitGroup
}

// NewFileWriter starts a FileWriter draining onto stream. The caller
// retains ownership of stream for its lifetime; Dispose does not close
// it. events may be nil; a writer with no bus still queues and drains
// normally, it just has nobody to tell.
func NewFileWriter(stream Stream, log *logging.Logger, events *EventBus) *FileWriter {
	if log == nil {
		log = logging.NewLogger("writer")
	}
	if events == nil {
		events = NewEventBus()
	}
	w := &FileWriter{stream: stream, log: log, events: events}
	w.cond = sync.NewCond(&w.mu)
	w.wg.Add(1)
	go w.run()
	return w
}

// QueuePage enqueues raw (a full on-disk page record) to be written at
// physicalPos. onFlush, if non-nil, runs on the writer goroutine
// immediately after the bytes are synced to disk and before the queued
// write is considered complete; the WAL Coordinator uses it to mark a
// transaction confirmed exactly when its last page hits disk.
func (w *FileWriter) QueuePage(physicalPos int64, raw []byte, onFlush func()) <-chan error {
	done := make(chan error, 1)
	job := &writeJob{physicalPos: physicalPos, raw: raw, onFlush: onFlush, done: done}
	w.enqueue(job)
	return done
}

// QueueLength enqueues a SetLength call, used to grow or truncate the
// underlying file.
func (w *FileWriter) QueueLength(length int64) <-chan error {
	done := make(chan error, 1)
	job := &writeJob{isLength: true, length: length, done: done}
	w.enqueue(job)
	return done
}

func (w *FileWriter) enqueue(job *writeJob) {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		job.done <- errors.IOFailure("queue", errWriterStopped)
		return
	}
	w.draining.Add(1)
	w.queue = append(w.queue, job)
	depth := len(w.queue)
	w.mu.Unlock()
	w.cond.Signal()

	meta := map[string]any{"depth": depth}
	if job.isLength {
		meta["kind"] = "length"
		meta["length"] = job.length
	} else {
		meta["kind"] = "page"
		meta["position"] = job.physicalPos
	}
	w.events.Emit(Event{Type: EventQueue, Status: StatusOK, Time: now(), Metadata: meta})
}

// errWriterStopped is returned to callers who queue work after Dispose.
var errWriterStopped = writerStoppedError{}

type writerStoppedError struct{}

func (writerStoppedError) Error() string { return "pagefile: writer stopped" }

// RunQueue is an idempotent wake-up: it ensures the background worker is
// not blocked waiting on an empty queue. Because the worker already wakes
// itself on every enqueue, RunQueue only matters when a caller wants to
// guarantee the worker has at least looked at the queue once before
// proceeding; nothing in this package calls it.
func (w *FileWriter) RunQueue() {
	w.cond.Signal()
}

// WaitCompletion blocks until every job queued before this call returns.
func (w *FileWriter) WaitCompletion() {
	w.draining.Wait()
}

// Dispose stops accepting new work, drains the queue, and stops the
// background goroutine. It does not close the underlying stream.
func (w *FileWriter) Dispose() {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cond.Signal()
	w.wg.Wait()
}

func (w *FileWriter) run() {
	defer w.wg.Done()
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.stopped {
			w.cond.Wait()
		}
		if len(w.queue) == 0 && w.stopped {
			w.mu.Unlock()
			return
		}
		job := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		err := w.apply(job)
		if job.onFlush != nil && err == nil {
			job.onFlush()
		}
		job.done <- err
		w.draining.Done()
	}
}

func (w *FileWriter) apply(job *writeJob) error {
	if job.isLength {
		if err := w.stream.SetLength(job.length); err != nil {
			w.log.Error("set length failed", "length", job.length, "error", err)
			return errors.IOFailure("set length", err)
		}
		return nil
	}

	if _, err := w.stream.Seek(job.physicalPos, 0); err != nil {
		w.log.Error("seek failed", "position", job.physicalPos, "error", err)
		return errors.IOFailure("seek", err)
	}
	if _, err := w.stream.Write(job.raw); err != nil {
		w.log.Error("write failed", "position", job.physicalPos, "error", err)
		return errors.IOFailure("write", err)
	}
	if err := w.stream.Flush(); err != nil {
		w.log.Error("flush failed", "position", job.physicalPos, "error", err)
		return errors.IOFailure("flush", err)
	}
	return nil
}
