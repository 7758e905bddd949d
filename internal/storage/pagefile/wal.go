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
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/firefly-oss/flydb-pagefile/internal/errors"
	"github.com/firefly-oss/flydb-pagefile/internal/logging"
)

// logMagic identifies a FlyDB write-ahead log file. logVersion lets a
// future format change be rejected cleanly instead of misread.
const (
	logMagic       = "FLYWAL\x00\x00"
	logVersion     = 1
	logHeaderBytes = PageSize // the header occupies a whole page so log records stay page-aligned
)

// LogHeader is the first page of every log file. LastConfirmedTx is
// rewritten on every checkpoint so a restart never reuses a transaction
// id that was already confirmed, even after the log recording that
// transaction has been truncated away.
type LogHeader struct {
	Version         uint32
	Salt            []byte // 16 bytes, empty if the file is unencrypted
	LastConfirmedTx uint64
}

// saltFieldBytes is the fixed width reserved for the salt so the
// LastConfirmedTx field lands at a constant offset regardless of actual
// salt length.
const saltFieldBytes = 64

// encode serializes the header into a PageSize-byte page.
func (h LogHeader) encode() []byte {
	buf := make([]byte, PageSize)
	copy(buf[0:8], logMagic)
	binary.BigEndian.PutUint32(buf[8:12], h.Version)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(h.Salt)))
	copy(buf[16:16+len(h.Salt)], h.Salt)
	binary.BigEndian.PutUint64(buf[16+saltFieldBytes:24+saltFieldBytes], h.LastConfirmedTx)
	return buf
}

func decodeLogHeader(buf []byte) (LogHeader, error) {
	var h LogHeader
	if len(buf) < 24+saltFieldBytes || string(buf[0:8]) != logMagic {
		return h, errors.InvalidLogHeader("bad magic")
	}
	h.Version = binary.BigEndian.Uint32(buf[8:12])
	saltLen := binary.BigEndian.Uint32(buf[12:16])
	if saltLen > saltFieldBytes || int(16+saltLen) > len(buf) {
		return h, errors.InvalidLogHeader("bad salt length")
	}
	if saltLen > 0 {
		h.Salt = append([]byte(nil), buf[16:16+saltLen]...)
	}
	h.LastConfirmedTx = binary.BigEndian.Uint64(buf[16+saltFieldBytes : 24+saltFieldBytes])
	return h, nil
}

// pendingEntry records one page written under a not-yet-confirmed
// transaction: its logical position (the position the caller addressed)
// and the physical offset in the log file the bytes landed at.
type pendingEntry struct {
	logicalPos int64
	logOffset  int64
}

// WALCoordinator implements FlyDB's write-ahead log: pages are appended
// to the log file under a transaction ID, invisible to readers until the
// transaction's final page is written with its Confirmed bit set, at
// which point every page written under that transaction becomes
// atomically visible via confirmedMap. A checkpoint later migrates
// confirmed pages into the data file and reclaims log space.
//
// Lock order: mu (this type) is always acquired before MemoryStore's own
// lock, and the log FileWriter's internal queue lock is never held
// across a call back into WALCoordinator. Holding to one order avoids
// the classic WAL deadlock of writer-waits-on-checkpoint
// waits-on-writer.
type WALCoordinator struct {
	mu     sync.Mutex
	ckptMu sync.Mutex // serializes checkpoint runs; never taken while holding mu

	confirmed map[int64]int64          // logical position -> log offset
	pending   map[uint64][]pendingEntry // txID -> entries written so far
	lastTx    uint64

	nextTxID  uint64 // atomic
	appendPos int64  // next free offset in the log file, guarded by mu

	logWriter   *FileWriter
	logReadPool *streamPool // for reading confirmed pages from the log file during checkpoint
	dataWriter  *FileWriter // where checkpoint migrates confirmed pages to

	store  *MemoryStore
	cipher *pageCipher
	events *EventBus
	log    *logging.Logger
	salt   []byte // carried so a checkpoint can rewrite the log header verbatim

	checkpointThreshold int
	sinceCheckpoint     int
}

// NewWALCoordinator constructs a coordinator over an already-open log
// FileWriter. The log file's header must already have been written or
// recovered by the caller (see OpenMemoryFile).
func NewWALCoordinator(logWriter *FileWriter, store *MemoryStore, logReadPool *streamPool, cipher *pageCipher, events *EventBus, checkpointThreshold int) *WALCoordinator {
	if events == nil {
		events = NewEventBus()
	}
	return &WALCoordinator{
		confirmed:           make(map[int64]int64),
		pending:             make(map[uint64][]pendingEntry),
		appendPos:           logHeaderBytes,
		logWriter:           logWriter,
		store:               store,
		logReadPool:         logReadPool,
		cipher:              cipher,
		events:              events,
		log:                 logging.NewLogger("wal"),
		checkpointThreshold: checkpointThreshold,
	}
}

// Attach wires the runtime collaborators a coordinator built by Recover
// did not have at construction time (Recover does not take the writers,
// the Memory Store or the log read pool). Must be called once, before the coordinator
// accepts any WritePage or Checkpoint call.
func (w *WALCoordinator) Attach(logWriter, dataWriter *FileWriter, store *MemoryStore, logReadPool *streamPool, checkpointThreshold int) {
	w.logWriter = logWriter
	w.dataWriter = dataWriter
	w.store = store
	w.logReadPool = logReadPool
	w.checkpointThreshold = checkpointThreshold
}

// BeginTx allocates a fresh transaction ID. Transaction IDs are
// monotonic and never reused within a process lifetime.
func (w *WALCoordinator) BeginTx() uint64 {
	return atomic.AddUint64(&w.nextTxID, 1)
}

// WritePage appends data (the caller's content, already compressed when
// compression is configured, at most DataSize bytes once sealed)
// to the log under txID at logicalPos, returning once it has been
// queued (not necessarily flushed). confirmed must be true only on the
// last page of the transaction.
func (w *WALCoordinator) WritePage(txID uint64, logicalPos int64, data []byte, confirmed bool) (<-chan error, error) {
	checksum := ChecksumBytes(data)

	content := data
	if w.cipher != nil {
		sealed, err := w.cipher.Seal(data)
		if err != nil {
			return nil, err
		}
		content = sealed
	}
	if len(content) > DataSize {
		return nil, fmt.Errorf("pagefile: page body %d exceeds page capacity %d", len(content), DataSize)
	}
	page := NewPage()
	copy(page.Data, content)
	page.Header = Header{
		Type:            PageTypeData,
		TxID:            txID,
		LogicalPosition: logicalPos,
		Confirmed:       confirmed,
		Checksum:        checksum,
		BodyLength:      uint32(len(content)),
	}
	raw := page.Encode()

	var onFlush func()
	if confirmed {
		onFlush = func() { w.confirm(txID) }
	}

	// The offset allocation and the enqueue onto the log FileWriter must
	// happen atomically with respect to a concurrent checkpoint's log
	// truncation: otherwise a page could be enqueued, after the
	// truncate-and-reset-appendPos step, at an offset computed before it,
	// leaving a gap of zeroed bytes that recovery would choke on.
	w.mu.Lock()
	offset := w.appendPos
	w.appendPos += PageSize
	w.pending[txID] = append(w.pending[txID], pendingEntry{logicalPos: logicalPos, logOffset: offset})
	done := w.logWriter.QueuePage(offset, raw, onFlush)
	w.mu.Unlock()

	return done, nil
}

// confirm moves every page buffered under txID into confirmed, runs on
// the FileWriter's goroutine right after the confirming page's bytes hit
// disk, so the transaction becomes visible atomically from a reader's
// point of view: either none of its pages are in confirmed, or all are.
func (w *WALCoordinator) confirm(txID uint64) {
	w.mu.Lock()
	entries := w.pending[txID]
	delete(w.pending, txID)
	for _, e := range entries {
		w.confirmed[e.logicalPos] = e.logOffset
	}
	if txID > w.lastTx {
		w.lastTx = txID
	}
	w.sinceCheckpoint += len(entries)
	shouldCheckpoint := w.checkpointThreshold > 0 && w.sinceCheckpoint >= w.checkpointThreshold
	dataWriter := w.dataWriter
	w.mu.Unlock()

	w.events.Emit(Event{
		Type: EventWrite, Status: StatusOK, Time: now(),
		Metadata: map[string]any{"tx_id": txID, "pages": len(entries)},
	})

	if shouldCheckpoint && dataWriter != nil {
		go w.Checkpoint(dataWriter)
	}
}

// LastConfirmedTx returns the highest transaction ID that has been fully
// confirmed.
func (w *WALCoordinator) LastConfirmedTx() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastTx
}

// ConfirmedLogPosition reports the log offset holding the confirmed
// version of logicalPos, if one exists and has not yet been checkpointed
// away.
func (w *WALCoordinator) ConfirmedLogPosition(logicalPos int64) (int64, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	off, ok := w.confirmed[logicalPos]
	return off, ok
}

// Quiescent reports whether the coordinator has confirmed pages waiting
// for migration while no transaction is in flight: the state in which an
// idle-triggered checkpoint is both useful and safe.
func (w *WALCoordinator) Quiescent() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending) == 0 && len(w.confirmed) > 0
}

// PendingPageCount returns the number of confirmed log pages not yet
// migrated to the data file, used by diagnostics and stats reporting.
func (w *WALCoordinator) PendingPageCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.confirmed)
}

// Checkpoint migrates every confirmed log page into the data file via
// dataWriter and then clears them from confirmed, reclaiming log space.
// It can be triggered by the confirmed-page threshold (see
// NewWALCoordinator), by Dispose (shutdown trigger), by the owning
// MemoryFile when its last Reader closes (quiescence trigger), by that
// file's CheckpointInterval timer, or by an explicit MemoryFile.Checkpoint
// call; every trigger calls this same method.
func (w *WALCoordinator) Checkpoint(dataWriter *FileWriter) error {
	return w.checkpoint(dataWriter)
}

func (w *WALCoordinator) checkpoint(dataWriter *FileWriter) error {
	w.ckptMu.Lock()
	defer w.ckptMu.Unlock()

	w.mu.Lock()
	positions := make([]int64, 0, len(w.confirmed))
	offsets := make(map[int64]int64, len(w.confirmed))
	for pos, off := range w.confirmed {
		positions = append(positions, pos)
		offsets[pos] = off
	}
	snapshotAppend := w.appendPos
	w.mu.Unlock()

	if len(positions) == 0 {
		return nil
	}

	corrID := NewCorrelationID()
	w.events.Emit(Event{Type: EventCheckpoint, Status: StatusOK, Time: now(), CorrelationID: corrID,
		Metadata: map[string]any{"phase": "start", "pages": len(positions)}})

	var g errgroup.Group
	var mu sync.Mutex
	migrated := make([]int64, 0, len(positions))

	for _, pos := range positions {
		pos, off := pos, offsets[pos]
		g.Go(func() error {
			stream, err := w.logReadPool.Acquire()
			if err != nil {
				return err
			}
			defer w.logReadPool.Release(stream)
			raw := make([]byte, PageSize)
			if _, err := stream.Seek(off, 0); err != nil {
				return errors.IOFailure("checkpoint seek", err)
			}
			if _, err := readFull(stream, raw); err != nil {
				return errors.IOFailure("checkpoint read", err)
			}
			<-dataWriter.QueuePage(pos, raw, nil)
			mu.Lock()
			migrated = append(migrated, pos)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		w.events.Emit(Event{Type: EventCheckpoint, Status: StatusFailed, Time: now(), CorrelationID: corrID,
			Metadata: map[string]any{"error": err.Error()}})
		return err
	}

	dataWriter.WaitCompletion()

	// The data file now holds the migrated versions; drop any cached copy
	// of the data-file page they replaced while readers still resolve
	// these positions through the log.
	for _, pos := range migrated {
		w.store.Invalidate(ReadableKey{Origin: OriginData, Position: pos})
	}

	// Truncating the log and rewriting its header must happen under the
	// same lock that guards appendPos/offset allocation in WritePage, so
	// no concurrent writer's page can land at a stale pre-truncation
	// offset after the log has already been shrunk back to its header.
	// Truncation itself is only safe when nothing was appended while the
	// migration ran: a page queued after the snapshot, confirmed or
	// pending, still lives past the header and must not be cut off. When
	// that happens the log keeps its (already-migrated) prefix as garbage
	// until a later, quiet checkpoint reclaims it.
	w.mu.Lock()
	for _, pos := range migrated {
		delete(w.confirmed, pos)
	}
	w.sinceCheckpoint = 0
	hdr := LogHeader{Version: logVersion, Salt: w.salt, LastConfirmedTx: w.lastTx}
	headerDone := w.logWriter.QueuePage(0, hdr.encode(), nil)
	var truncDone <-chan error
	if w.appendPos == snapshotAppend && len(w.pending) == 0 {
		truncDone = w.logWriter.QueueLength(logHeaderBytes)
		w.appendPos = logHeaderBytes
	}
	w.mu.Unlock()

	if err := <-headerDone; err != nil {
		return err
	}
	if truncDone != nil {
		if err := <-truncDone; err != nil {
			return err
		}
	}

	for _, pos := range migrated {
		w.store.Invalidate(ReadableKey{Origin: OriginLog, Position: pos})
	}

	w.events.Emit(Event{Type: EventCheckpoint, Status: StatusOK, Time: now(), CorrelationID: corrID,
		Metadata: map[string]any{"phase": "complete", "pages": len(migrated)}})
	return nil
}

// now is a seam so tests could substitute a fixed clock if ever needed;
// production always uses wall-clock time.
func now() time.Time { return time.Now() }

// Recover scans the log file from the page after its header, rebuilding
// confirmed from every transaction whose final page carries the
// Confirmed bit, and discarding every page belonging to a transaction
// that never reached confirmation (a crash mid-write). It must run
// before any Reader is created. header is the already-parsed LogHeader
// (the caller reads it first to derive the encryption key, if any);
// header.LastConfirmedTx seeds the recovered coordinator's transaction
// counter so a restart never reissues an id that was confirmed before
// the log recording it was truncated away by an earlier checkpoint.
func Recover(logStream Stream, header LogHeader, cipher *pageCipher, events *EventBus) (*WALCoordinator, int64, error) {
	if events == nil {
		events = NewEventBus()
	}
	corrID := NewCorrelationID()
	log := logging.NewLogger("recovery")

	confirmed := make(map[int64]int64)
	pending := make(map[uint64][]pendingEntry)
	lastTx := header.LastConfirmedTx
	var scanned int

	offset := int64(logHeaderBytes)
	for {
		raw := make([]byte, PageSize)
		if _, err := logStream.Seek(offset, 0); err != nil {
			return nil, 0, errors.IOFailure("recovery seek", err)
		}
		n, err := readFull(logStream, raw)
		if n < PageSize || err != nil {
			break // short read: end of written log, possibly a torn final write
		}

		page := DecodePage(raw)
		bodyLen := clampBodyLen(page.Header.BodyLength)
		content := page.Data[:bodyLen]
		if cipher != nil {
			plain, derr := cipher.Open(content)
			if derr != nil {
				log.Warn("stopping recovery scan at undecryptable page", "offset", offset)
				break
			}
			content = plain
		}
		if ChecksumBytes(content) != page.Header.Checksum {
			log.Warn("stopping recovery scan at checksum mismatch", "offset", offset)
			break
		}

		pending[page.Header.TxID] = append(pending[page.Header.TxID], pendingEntry{
			logicalPos: page.Header.LogicalPosition,
			logOffset:  offset,
		})
		scanned++

		if page.Header.Confirmed {
			for _, e := range pending[page.Header.TxID] {
				confirmed[e.logicalPos] = e.logOffset
			}
			delete(pending, page.Header.TxID)
			if page.Header.TxID > lastTx {
				lastTx = page.Header.TxID
			}
		}

		offset += PageSize
	}

	discarded := 0
	for _, entries := range pending {
		discarded += len(entries)
	}

	events.Emit(Event{Type: EventRecovery, Status: StatusOK, Time: now(), CorrelationID: corrID, Metadata: map[string]any{
		"pages_scanned":   scanned,
		"confirmed_pages": len(confirmed),
		"discarded_pages": discarded,
		"last_tx":         lastTx,
	}})

	w := &WALCoordinator{
		confirmed: confirmed,
		pending:   make(map[uint64][]pendingEntry),
		lastTx:    lastTx,
		nextTxID:  lastTx,
		appendPos: offset,
		cipher:    cipher,
		events:    events,
		salt:      header.Salt,
		log:       logging.NewLogger("wal"),
	}
	return w, offset, nil
}

// clampBodyLen bounds a header-declared body length to DataSize so a
// corrupt header can never index past the page buffer; a too-large
// declared length simply fails checksum/auth instead of panicking.
func clampBodyLen(declared uint32) int {
	if declared > DataSize {
		return DataSize
	}
	return int(declared)
}
