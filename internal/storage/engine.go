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

package storage

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/firefly-oss/flydb-pagefile/internal/compression"
	"github.com/firefly-oss/flydb-pagefile/internal/config"
	flyerrors "github.com/firefly-oss/flydb-pagefile/internal/errors"
	"github.com/firefly-oss/flydb-pagefile/internal/logging"
	"github.com/firefly-oss/flydb-pagefile/internal/storage/pagefile"
)

// Engine is the minimal key/value surface every FlyDB storage backend
// implements; the SQL executor and collection layer build rows, indexes,
// and documents on top of it. Those layers are out of scope here (see
// spec non-goals); Engine exists so the paged storage core has a
// concrete, exercised collaborator instead of sitting unreachable.
type Engine interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	// Scan invokes fn for every key with prefix, in collated key order,
	// stopping early if fn returns false.
	Scan(prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// EncryptionConfig configures page-body encryption for a storage engine,
// mirrored 1:1 onto pagefile.EncryptionOptions.
type EncryptionConfig struct {
	Enabled    bool
	Passphrase string
}

// StorageConfig configures a DiskEngine. DataDir, BufferPoolSize, and
// CheckpointInterval are the fields FlyDB's own test helpers already
// construct; the remaining fields are this expansion's additions.
type StorageConfig struct {
	DataDir            string
	BufferPoolSize     int // page buffer pool size, in pages
	CheckpointInterval time.Duration

	CompressionAlgorithm     compression.Algorithm
	CheckpointThresholdPages int
	SegmentPages             int
	Collation                Collation
	Locale                   string

	Encryption EncryptionConfig
}

// DefaultStorageConfig returns the configuration setupTestEngine and
// production callers start from.
func DefaultStorageConfig(dataDir string) StorageConfig {
	return StorageConfig{
		DataDir:                  dataDir,
		BufferPoolSize:           pagefile.SegmentPages,
		CheckpointThresholdPages: 4 * pagefile.SegmentPages,
		CompressionAlgorithm:     compression.AlgorithmNone,
		Collation:                CollationBinary,
	}
}

// StorageConfigFromNode maps a node-level config.Config onto a
// StorageConfig, so a process that loads its settings from a file or the
// environment (flydb-pagecheck, an embedding application) can hand them
// straight to NewStorageEngine.
func StorageConfigFromNode(nc *config.Config) (StorageConfig, error) {
	algo, err := compression.ParseAlgorithm(nc.Compression)
	if err != nil {
		return StorageConfig{}, flyerrors.InvalidValue("compression", err.Error())
	}

	sc := DefaultStorageConfig(nc.DataDir)
	sc.CompressionAlgorithm = algo
	if nc.CheckpointThresholdPages > 0 {
		sc.CheckpointThresholdPages = nc.CheckpointThresholdPages
	}
	if nc.CheckpointIntervalSec > 0 {
		sc.CheckpointInterval = time.Duration(nc.CheckpointIntervalSec) * time.Second
	}
	if nc.Collation != "" {
		sc.Collation = Collation(nc.Collation)
	}
	sc.Locale = nc.Locale
	if nc.Passphrase != "" {
		sc.Encryption = EncryptionConfig{Enabled: true, Passphrase: nc.Passphrase}
	}
	return sc, nil
}

// WAL is the storage engine's thin facade over the pagefile package's
// WALCoordinator, exposed so replication and recovery tooling above this
// package can inspect WAL state without importing pagefile directly.
type WAL struct {
	coordinator *pagefile.WALCoordinator
}

// LastConfirmedTx returns the highest transaction id fully confirmed in
// the log.
func (w *WAL) LastConfirmedTx() uint64 {
	if w == nil || w.coordinator == nil {
		return 0
	}
	return w.coordinator.LastConfirmedTx()
}

// PendingPageCount returns the number of confirmed log pages not yet
// migrated to the data file by a checkpoint.
func (w *WAL) PendingPageCount() int {
	if w == nil || w.coordinator == nil {
		return 0
	}
	return w.coordinator.PendingPageCount()
}

// recordHeaderSize is the length-prefix overhead of one stored record:
// a uint16 key length followed by a uint32 value length.
const recordHeaderSize = 2 + 4

// DiskEngine is a StorageEngine backed directly by pagefile.MemoryFile.
// Keys and values are addressed through an in-memory position index built
// at open time by scanning the data file; this index plays the role the
// distilled spec assigns to "collections and indexes" (explicitly a
// non-goal of the core), kept intentionally minimal so Put/Get/Delete/Scan
// exercise every pagefile operation without reimplementing a document
// store.
type DiskEngine struct {
	cfg  StorageConfig
	disk *pagefile.OSDiskFactory
	file *pagefile.MemoryFile

	collator Collator

	log *logging.Logger

	mu       sync.Mutex
	index    map[string]int64 // key -> logical position holding its record
	nextPos  int64
	checkpts int64
	lastCkpt int64
}

// NewStorageEngine opens (creating if necessary) a DiskEngine rooted at
// cfg.DataDir.
func NewStorageEngine(cfg StorageConfig) (*DiskEngine, error) {
	if cfg.DataDir == "" {
		return nil, flyerrors.InvalidValue("DataDir", "must not be empty")
	}

	segmentPages := cfg.SegmentPages
	if segmentPages == 0 && cfg.BufferPoolSize > 0 {
		segmentPages = cfg.BufferPoolSize
	}

	disk := pagefile.NewOSDiskFactory(cfg.DataDir, "flydb.data")
	opts := pagefile.Options{
		SegmentPages:             segmentPages,
		CheckpointThresholdPages: cfg.CheckpointThresholdPages,
		CheckpointInterval:       cfg.CheckpointInterval,
		CompressionAlgorithm:     cfg.CompressionAlgorithm,
		CompressionLevel:         compression.LevelDefault,
		Events:                   pagefile.NewEventBus(),
	}
	if cfg.Encryption.Enabled {
		opts.Encryption = pagefile.EncryptionOptions{
			Enabled:    true,
			Passphrase: cfg.Encryption.Passphrase,
		}
	}

	f, err := pagefile.OpenMemoryFile(disk, opts)
	if err != nil {
		return nil, fmt.Errorf("storage: open engine at %s: %w", cfg.DataDir, err)
	}

	e := &DiskEngine{
		cfg:      cfg,
		disk:     disk,
		file:     f,
		collator: GetCollator(cfg.Collation, cfg.Locale),
		index:    make(map[string]int64),
		log:      logging.NewLogger("storage").With("data_dir", cfg.DataDir),
	}

	// Every completed checkpoint counts, whichever trigger ran it
	// (threshold, quiescence, timer, or an explicit Sync).
	opts.Events.Subscribe(func(ev pagefile.Event) {
		if ev.Type != pagefile.EventCheckpoint {
			return
		}
		if phase, _ := ev.Metadata["phase"].(string); phase != "complete" {
			return
		}
		e.mu.Lock()
		e.checkpts++
		e.lastCkpt = time.Now().Unix()
		e.mu.Unlock()
	})

	if err := e.rebuildIndex(); err != nil {
		f.Dispose()
		return nil, err
	}
	e.log.Info("engine opened", "keys", len(e.index))

	return e, nil
}

// rebuildIndex scans the data file's confirmed page range on open,
// reconstructing the key->position index from the recovered page content.
// Recovery of confirmed-but-unmigrated log pages already happened inside
// OpenMemoryFile; this only needs to read logical positions forward from
// zero until a read comes back empty.
func (e *DiskEngine) rebuildIndex() error {
	r, err := e.file.NewReader()
	if err != nil {
		return err
	}
	defer r.Close()

	var pos int64
	for {
		buf, err := r.ReadPage(pos)
		if err != nil {
			break
		}
		key, _, tomb, ok := decodeRecord(buf.Page.Data)
		r.ReleasePage(buf)
		if !ok {
			break
		}
		if tomb {
			delete(e.index, string(key))
		} else {
			e.index[string(key)] = pos
		}
		pos += pagefile.PageSize
		e.nextPos = pos
	}
	return nil
}

// encodeRecord lays out one Put's payload as
// [tombstone byte][keyLen uint16][key][valueLen uint32][value].
func encodeRecord(key, value []byte, tombstone bool, capacity int) ([]byte, error) {
	if len(key) > 0xFFFF {
		return nil, flyerrors.InvalidValue("key", "exceeds maximum key length")
	}
	total := 1 + recordHeaderSize + len(key) + len(value)
	if total > capacity {
		return nil, flyerrors.InvalidValue("value", "record too large for a single page")
	}
	buf := make([]byte, total)
	if tombstone {
		buf[0] = 1
	}
	binary.BigEndian.PutUint16(buf[1:3], uint16(len(key)))
	copy(buf[3:3+len(key)], key)
	binary.BigEndian.PutUint32(buf[3+len(key):7+len(key)], uint32(len(value)))
	copy(buf[7+len(key):], value)
	return buf, nil
}

func decodeRecord(data []byte) (key, value []byte, tombstone bool, ok bool) {
	if len(data) < 1+recordHeaderSize {
		return nil, nil, false, false
	}
	tombstone = data[0] == 1
	keyLen := int(binary.BigEndian.Uint16(data[1:3]))
	if 3+keyLen+4 > len(data) {
		return nil, nil, false, false
	}
	key = append([]byte(nil), data[3:3+keyLen]...)
	valLen := int(binary.BigEndian.Uint32(data[3+keyLen : 7+keyLen]))
	if 7+keyLen+valLen > len(data) {
		return nil, nil, false, false
	}
	if keyLen == 0 && valLen == 0 && !tombstone {
		return nil, nil, false, false
	}
	value = append([]byte(nil), data[7+keyLen:7+keyLen+valLen]...)
	return key, value, tombstone, true
}

func (e *DiskEngine) write(key, value []byte, tombstone bool) (int64, error) {
	capacity := e.file.PayloadSize()
	raw, err := encodeRecord(key, value, tombstone, capacity)
	if err != nil {
		return 0, err
	}
	page := make([]byte, capacity)
	copy(page, raw)

	e.mu.Lock()
	pos := e.nextPos
	e.nextPos += pagefile.PageSize
	e.mu.Unlock()

	txID := e.file.BeginTx()
	done, err := e.file.WriteAsync(txID, pos, page, true)
	if err != nil {
		return 0, err
	}
	if err := <-done; err != nil {
		return 0, err
	}
	return pos, nil
}

// Put durably stores value under key, overwriting any prior value.
func (e *DiskEngine) Put(key, value []byte) error {
	pos, err := e.write(key, value, false)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.index[string(key)] = pos
	e.mu.Unlock()
	return nil
}

// Get returns the value stored under key, or the storage-category
// ErrKeyNotFound if no such key exists.
func (e *DiskEngine) Get(key []byte) ([]byte, error) {
	e.mu.Lock()
	pos, ok := e.index[string(key)]
	e.mu.Unlock()
	if !ok {
		return nil, ErrKeyNotFound
	}

	r, err := e.file.NewReader()
	if err != nil {
		return nil, err
	}
	defer r.Close()

	buf, err := r.ReadPage(pos)
	if err != nil {
		return nil, err
	}
	defer r.ReleasePage(buf)

	_, value, tomb, ok := decodeRecord(buf.Page.Data)
	if !ok || tomb {
		return nil, ErrKeyNotFound
	}
	return value, nil
}

// Delete removes key, writing a tombstone record so the deletion survives
// a crash exactly like any other confirmed write.
func (e *DiskEngine) Delete(key []byte) error {
	e.mu.Lock()
	_, ok := e.index[string(key)]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	if _, err := e.write(key, nil, true); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.index, string(key))
	e.mu.Unlock()
	return nil
}

// Scan calls fn for every key with the given prefix in collated order.
func (e *DiskEngine) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	e.mu.Lock()
	keys := make([]string, 0, len(e.index))
	for k := range e.index {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	e.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool { return e.collator.Compare(keys[i], keys[j]) < 0 })

	for _, k := range keys {
		value, err := e.Get([]byte(k))
		if err != nil {
			continue // deleted between the snapshot and this read
		}
		if !fn([]byte(k), value) {
			break
		}
	}
	return nil
}

// Close flushes and releases the underlying MemoryFile.
func (e *DiskEngine) Close() error {
	e.log.Info("engine closing")
	return e.file.Dispose()
}

// Sync forces an immediate checkpoint regardless of the configured
// threshold. The event subscription set up at open time records it in
// CheckpointCount.
func (e *DiskEngine) Sync() error {
	if err := e.file.Checkpoint(); err != nil {
		e.log.Error("checkpoint failed", "error", err)
		return err
	}
	e.log.Debug("checkpoint complete")
	return nil
}

// Stats reports combined pagefile counters in EngineStats shape.
func (e *DiskEngine) Stats() EngineStats {
	s := e.file.Stats()
	length, _ := e.file.Length()

	e.mu.Lock()
	keyCount := int64(len(e.index))
	checkpts := e.checkpts
	lastCkpt := e.lastCkpt
	e.mu.Unlock()

	return EngineStats{
		KeyCount:         keyCount,
		DataSize:         length,
		WALSize:          int64(e.file.WALCoordinator().PendingPageCount()) * pagefile.PageSize,
		EngineType:       EngineTypeDisk,
		IsEncrypted:      e.IsEncrypted(),
		BufferPoolSize:   int64(s.Capacity) * pagefile.PageSize,
		BufferPoolUsed:   int64(s.DirtyPages) * pagefile.PageSize,
		CacheHitRate:     s.CacheHitRate() * 100,
		PageReads:        int64(s.PageReads),
		PageWrites:       int64(s.PageWrites),
		DirtyPages:       int64(s.DirtyPages),
		CheckpointCount:  checkpts,
		LastCheckpointAt: lastCkpt,
	}
}

// Type reports this engine's type, always EngineTypeDisk.
func (e *DiskEngine) Type() StorageEngineType { return EngineTypeDisk }

// WAL returns a facade over the underlying WAL Coordinator.
func (e *DiskEngine) WAL() *WAL {
	return &WAL{coordinator: e.file.WALCoordinator()}
}

// IsEncrypted reports whether this engine was opened with encryption.
func (e *DiskEngine) IsEncrypted() bool { return e.cfg.Encryption.Enabled }

// MemoryBufferSize exposes the underlying Memory Store's capacity, in
// pages, for diagnostics and tests that assert monotone growth.
func (e *DiskEngine) MemoryBufferSize() int { return e.file.MemoryBufferSize() }

var _ StorageEngine = (*DiskEngine)(nil)

// ErrKeyNotFound is returned by Get for a key with no confirmed record.
// Delete of such a key is a no-op and returns nil.
var ErrKeyNotFound = flyerrors.NewStorageError("key not found")
