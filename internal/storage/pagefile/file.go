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
	"sync/atomic"
	"time"

	"github.com/firefly-oss/flydb-pagefile/internal/compression"
	"github.com/firefly-oss/flydb-pagefile/internal/errors"
	"github.com/firefly-oss/flydb-pagefile/internal/logging"
)

// MemoryFile is the package's entry point: one paged, write-ahead-logged
// file pair (a data file and a log file) fronted by a fixed-size buffer
// pool. Collections, indexes, and everything else above this package
// address it purely by logical position; this package decides whether
// that position's current content lives in memory, in the log, or in the
// data file.
type MemoryFile struct {
	opts Options

	disk DiskFactory

	store *MemoryStore

	dataPool *streamPool
	logPool  *streamPool

	dataWriter *FileWriter
	logWriter  *FileWriter

	dataWriteStream Stream
	logWriteStream  Stream

	readOnly bool

	wal *WALCoordinator

	compressor *compression.Compressor
	cipher     *pageCipher

	events *EventBus
	log    *logging.Logger

	readers   int64 // open Reader handles, for the quiescence trigger
	stopTimer chan struct{}

	mu     sync.Mutex
	closed bool
}

// OpenMemoryFile opens (creating if necessary) the data/log file pair
// disk describes, runs crash recovery against the log if one already
// exists, and returns a ready-to-use MemoryFile.
func OpenMemoryFile(disk DiskFactory, opts Options) (*MemoryFile, error) {
	if opts.Events == nil {
		opts.Events = NewEventBus()
	}
	log := logging.NewLogger("memfile")

	f := &MemoryFile{
		opts:   opts,
		disk:   disk,
		store:  NewMemoryStore(opts.SegmentPages),
		events: opts.Events,
		log:    log,
	}

	if opts.CompressionAlgorithm != compression.AlgorithmNone {
		f.compressor = compression.NewCompressor(compression.Config{
			Algorithm: opts.CompressionAlgorithm,
			Level:     opts.CompressionLevel,
			MinSize:   0,
		})
	}

	f.readOnly = opts.ReadOnly

	dataStream, err := disk.GetStream(!opts.ReadOnly, false)
	if err != nil {
		return nil, fmt.Errorf("pagefile: open data file: %w", err)
	}

	var logStream Stream
	if opts.ReadOnly {
		// A read-only open must never create the log file: a database
		// that was only ever checkpointed down to its header, or never
		// written to at all, simply has nothing to recover.
		logStream, err = disk.GetStream(false, true)
		if err != nil {
			logStream = nil
		}
	} else {
		logStream, err = disk.GetStream(true, true)
		if err != nil {
			dataStream.Close()
			return nil, fmt.Errorf("pagefile: open log file: %w", err)
		}
	}

	f.dataWriteStream = dataStream
	f.logWriteStream = logStream
	f.dataPool = newStreamPool(disk, false, opts.MaxPooledStreams)
	f.logPool = newStreamPool(disk, true, opts.MaxPooledStreams)

	// An existing log carries its own header (salt and the last confirmed
	// transaction id at the previous checkpoint); read it before deciding
	// whether this is a fresh file or one that needs recovery.
	var existingHeader *LogHeader
	if logStream != nil {
		logLen, err := logStream.Length()
		if err != nil {
			return nil, fmt.Errorf("pagefile: stat log file: %w", err)
		}
		if logLen >= logHeaderBytes {
			raw := make([]byte, logHeaderBytes)
			if _, err := logStream.Seek(0, 0); err != nil {
				return nil, errors.IOFailure("seek log header", err)
			}
			if _, err := readFull(logStream, raw); err != nil {
				return nil, errors.IOFailure("read log header", err)
			}
			if hdr, herr := decodeLogHeader(raw); herr == nil {
				existingHeader = &hdr
			}
		}
	}

	var salt []byte
	if opts.Encryption.Enabled {
		if existingHeader != nil && len(existingHeader.Salt) > 0 {
			salt = existingHeader.Salt
		}
		if salt == nil {
			salt, err = NewSalt()
			if err != nil {
				return nil, err
			}
		}
		key, err := DeriveKey(opts.Encryption.Passphrase, salt)
		if err != nil {
			return nil, err
		}
		f.cipher, err = newPageCipher(key, opts.Encryption.Algorithm)
		if err != nil {
			return nil, err
		}
	}

	recovering := existingHeader != nil
	switch {
	case recovering:
		wal, _, rerr := Recover(logStream, *existingHeader, f.cipher, f.events)
		if rerr != nil {
			return nil, rerr
		}
		f.wal = wal
	case opts.ReadOnly:
		// Nothing to recover and nothing to create: a read-only open of a
		// file with no log simply has an empty coordinator.
		f.wal = NewWALCoordinator(nil, f.store, f.logPool, f.cipher, f.events, 0)
		f.wal.salt = salt
	default:
		hdr := LogHeader{Version: logVersion, Salt: salt}
		if _, err := logStream.Seek(0, 0); err != nil {
			return nil, errors.IOFailure("seek log header", err)
		}
		if _, err := logStream.Write(hdr.encode()); err != nil {
			return nil, errors.IOFailure("write log header", err)
		}
		if err := logStream.Flush(); err != nil {
			return nil, errors.IOFailure("flush log header", err)
		}
		f.wal = NewWALCoordinator(nil, f.store, f.logPool, f.cipher, f.events, opts.CheckpointThresholdPages)
		f.wal.salt = salt
	}

	if opts.ReadOnly {
		// No writer goroutines, no advisory lock contention: a diagnostic
		// tool can open this alongside a live writer. Recovery above
		// already rebuilt confirmed/pending from the log as it stands, so
		// reads are still accurate; checkpointing is simply never run.
		f.wal.Attach(nil, nil, f.store, f.logPool, 0)
		return f, nil
	}

	f.dataWriter = NewFileWriter(dataStream, logging.NewLogger("writer").With("target", "data"), f.events)
	f.logWriter = NewFileWriter(logStream, logging.NewLogger("writer").With("target", "log"), f.events)
	f.wal.Attach(f.logWriter, f.dataWriter, f.store, f.logPool, opts.CheckpointThresholdPages)

	if recovering {
		// The recovery scan already folded every confirmed page into
		// confirmed; run the implicit checkpoint the recovery algorithm
		// calls for so those pages migrate to the data file and the log
		// truncates back down before the file is used.
		if err := f.Checkpoint(); err != nil {
			return nil, fmt.Errorf("pagefile: post-recovery checkpoint: %w", err)
		}
	}

	if opts.CheckpointInterval > 0 {
		f.stopTimer = make(chan struct{})
		go f.runCheckpointTimer(opts.CheckpointInterval)
	}

	return f, nil
}

// runCheckpointTimer drives the timer trigger: independent of the
// confirmed-page threshold and the quiescence trigger, a file with a
// configured interval migrates its confirmed log pages on a fixed
// cadence. Stops when Dispose closes stopTimer.
func (f *MemoryFile) runCheckpointTimer(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-f.stopTimer:
			return
		case <-t.C:
			if err := f.Checkpoint(); err != nil {
				f.log.Warn("timed checkpoint failed", "error", err)
			}
		}
	}
}

// readerOpened and readerClosed track open Reader handles. When the last
// reader closes while no transaction is in flight, confirmed log pages
// are migrated in the background, so an idle file reclaims log space
// without waiting for the size threshold or shutdown.
func (f *MemoryFile) readerOpened() {
	atomic.AddInt64(&f.readers, 1)
}

func (f *MemoryFile) readerClosed() {
	if atomic.AddInt64(&f.readers, -1) != 0 {
		return
	}
	if f.readOnly {
		return
	}
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed || !f.wal.Quiescent() {
		return
	}
	go func() {
		if err := f.Checkpoint(); err != nil {
			f.log.Warn("quiescence checkpoint failed", "error", err)
		}
	}()
}

// decodeOnDisk reverses WriteAsync's transformation: decrypt (if an
// encryption key is configured), verify the checksum over the decrypted
// bytes, then decompress (if a compression algorithm is configured). The
// returned Page's Data is the caller's original content, zero-padded to
// DataSize.
func (f *MemoryFile) decodeOnDisk(raw []byte, origin string, logicalPos int64) (*Page, error) {
	page := DecodePage(raw)

	bodyLen := page.Header.BodyLength
	if bodyLen > DataSize {
		bodyLen = DataSize
	}
	content := page.Data[:bodyLen]

	if f.cipher != nil {
		plain, err := f.cipher.Open(content)
		if err != nil {
			return nil, errors.ChecksumMismatch(origin, logicalPos)
		}
		content = plain
	}

	if ChecksumBytes(content) != page.Header.Checksum {
		return nil, errors.ChecksumMismatch(origin, logicalPos)
	}

	if f.compressor != nil {
		decompressed, err := f.compressor.Decompress(content, f.opts.CompressionAlgorithm)
		if err != nil {
			return nil, err
		}
		content = decompressed
	}

	out := NewPage()
	out.Header = page.Header
	copy(out.Data, content)
	return out, nil
}

// NewReader returns a Reader for this file. Callers should keep a Reader
// for the duration of one logical operation and Close it promptly; the
// underlying streams are pooled and bounded.
func (f *MemoryFile) NewReader() (*Reader, error) {
	return newReader(f)
}

// PayloadSize returns the maximum number of content bytes a caller may
// pass to WriteAsync. It is DataSize, except when encryption is
// configured: the AEAD cipher prepends a nonce and appends an
// authentication tag to every sealed page, so a plaintext of exactly
// DataSize would not fit back into the fixed-size page it has to occupy on
// disk. Compression runs before encryption and is not accounted for here:
// incompressible content can grow when compressed, and WritePage rejects a
// body that then no longer fits.
func (f *MemoryFile) PayloadSize() int {
	if f.cipher != nil {
		return DataSize - f.cipher.Overhead()
	}
	return DataSize
}

// BeginTx allocates a fresh transaction id for a caller about to submit a
// batch of pages via WriteAsync. Callers must serialize WriteAsync calls
// for one transaction id themselves; see WriteAsync on concurrent
// callers.
func (f *MemoryFile) BeginTx() uint64 {
	return f.wal.BeginTx()
}

// Mode reports the persistence mode of this file: always ModeDataFile,
// since a MemoryFile always pairs a data file with a WAL-backed log file.
// See TempFile for ModeTempFile, the scratch-storage counterpart that
// shares this package's buffer pool and writer but carries no WAL.
func (f *MemoryFile) Mode() Mode {
	return ModeDataFile
}

// WALCoordinator exposes the file's WAL Coordinator to collaborators that
// need low-level visibility into confirmed/pending state (diagnostics,
// the storage engine's WAL() accessor). Collaborators must not call
// Checkpoint directly on it; use MemoryFile.Checkpoint instead so the
// data writer used is always this file's own.
func (f *MemoryFile) WALCoordinator() *WALCoordinator {
	return f.wal
}

// WriteAsync queues data (up to PayloadSize bytes of caller content) to
// be durably written at logicalPos under transaction txID, returning a
// channel that receives the write's outcome once it reaches disk.
// Concurrent WriteAsync calls for the same transaction must be
// serialized by the caller; the WAL Coordinator appends pages to the log
// in the order WritePage is called; it trusts that order to mean
// "happens-before" for a single transaction.
func (f *MemoryFile) WriteAsync(txID uint64, logicalPos int64, data []byte, confirmed bool) (<-chan error, error) {
	if f.readOnly {
		return nil, fmt.Errorf("pagefile: file opened read-only")
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, fmt.Errorf("pagefile: file is disposed")
	}
	f.mu.Unlock()

	body := data
	if f.compressor != nil {
		compressed, err := f.compressor.Compress(data)
		if err != nil {
			return nil, err
		}
		body = compressed
	}
	return f.wal.WritePage(txID, logicalPos, body, confirmed)
}

// SetLengthAsync queues a length change on the data file.
func (f *MemoryFile) SetLengthAsync(length int64) <-chan error {
	if f.readOnly {
		done := make(chan error, 1)
		done <- fmt.Errorf("pagefile: file opened read-only")
		return done
	}
	return f.dataWriter.QueueLength(length)
}

// Length returns the data file's current length.
func (f *MemoryFile) Length() (int64, error) {
	return f.dataWriteStream.Length()
}

// MemoryBufferSize returns the number of pages currently held by the
// Memory Store (free + cached), i.e. its capacity in pages.
func (f *MemoryFile) MemoryBufferSize() int {
	return f.store.Stats().Capacity
}

// Checkpoint forces a checkpoint regardless of the configured threshold;
// used on quiescence detection and by Dispose. A read-only file never
// checkpoints: there is no writer to migrate confirmed pages with.
func (f *MemoryFile) Checkpoint() error {
	if f.readOnly {
		return nil
	}
	return f.wal.Checkpoint(f.dataWriter)
}

// Stats returns the Memory Store's counters for FlyDB's EngineStats
// reporting; WAL state is read separately through WALCoordinator.
func (f *MemoryFile) Stats() MemoryStoreStats {
	s := f.store.Stats()
	return s
}

// emit forwards a diagnostic event through this file's bus.
func (f *MemoryFile) emit(t EventType, status Status, meta map[string]any) {
	f.events.Emit(Event{Type: t, Status: status, Time: now(), Metadata: meta})
}

// Dispose runs a final checkpoint, stops both background writers, and
// closes every pooled and owned stream. The MemoryFile must not be used
// afterwards.
func (f *MemoryFile) Dispose() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()

	if f.stopTimer != nil {
		close(f.stopTimer)
	}

	if !f.readOnly {
		if err := f.Checkpoint(); err != nil {
			f.log.Warn("checkpoint during dispose failed", "error", err)
		}
		f.logWriter.Dispose()
		f.dataWriter.Dispose()
	}

	f.dataPool.Close()
	f.logPool.Close()

	var firstErr error
	if f.logWriteStream != nil {
		if err := f.logWriteStream.Close(); err != nil {
			firstErr = err
		}
	}
	if err := f.dataWriteStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
