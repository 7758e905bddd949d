/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 * Licensed under the Apache License, Version 2.0
 */

package storage

import (
	"bytes"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/firefly-oss/flydb-pagefile/internal/compression"
	"github.com/firefly-oss/flydb-pagefile/internal/config"
)

func TestEnginePutGetDelete(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	if err := engine.Put([]byte("alice"), []byte("wonderland")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := engine.Get([]byte("alice"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("wonderland")) {
		t.Fatalf("Get returned %q, want %q", got, "wonderland")
	}

	if err := engine.Delete([]byte("alice")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := engine.Get([]byte("alice")); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound after delete, got %v", err)
	}
}

func TestEngineGetMissingKey(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	if _, err := engine.Get([]byte("nope")); err != ErrKeyNotFound {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestEngineOverwrite(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	if err := engine.Put([]byte("k"), []byte("v1")); err != nil {
		t.Fatalf("Put v1: %v", err)
	}
	if err := engine.Put([]byte("k"), []byte("v2")); err != nil {
		t.Fatalf("Put v2: %v", err)
	}
	got, err := engine.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("v2")) {
		t.Fatalf("Get returned %q, want %q (last write wins)", got, "v2")
	}
}

func TestEngineScanByPrefixInCollatedOrder(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	keys := []string{"user:3", "user:1", "user:2", "order:1"}
	for _, k := range keys {
		if err := engine.Put([]byte(k), []byte("v-"+k)); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}

	var seen []string
	err := engine.Scan([]byte("user:"), func(key, value []byte) bool {
		seen = append(seen, string(key))
		return true
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}

	want := []string{"user:1", "user:2", "user:3"}
	sort.Strings(want)
	if len(seen) != len(want) {
		t.Fatalf("Scan visited %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("Scan order[%d] = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestEngineScanStopsEarly(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	for _, k := range []string{"a1", "a2", "a3"} {
		if err := engine.Put([]byte(k), []byte("v")); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}

	count := 0
	err := engine.Scan([]byte("a"), func(key, value []byte) bool {
		count++
		return false
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected Scan to stop after the first result, visited %d", count)
	}
}

func TestEngineSyncCheckpoints(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	diskEngine, ok := engine.(*DiskEngine)
	if !ok {
		t.Fatalf("setupTestEngine returned %T, want *DiskEngine", engine)
	}

	if err := diskEngine.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	before := diskEngine.Stats().CheckpointCount
	if err := diskEngine.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	after := diskEngine.Stats().CheckpointCount
	if after != before+1 {
		t.Fatalf("expected CheckpointCount to increase by 1, went from %d to %d", before, after)
	}
}

func TestEngineStatsReportsKeyCount(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	diskEngine := engine.(*DiskEngine)
	for _, k := range []string{"a", "b", "c"} {
		if err := diskEngine.Put([]byte(k), []byte("v")); err != nil {
			t.Fatalf("Put %s: %v", k, err)
		}
	}

	stats := diskEngine.Stats()
	if stats.KeyCount != 3 {
		t.Errorf("KeyCount = %d, want 3", stats.KeyCount)
	}
	if stats.EngineType != EngineTypeDisk {
		t.Errorf("EngineType = %v, want %v", stats.EngineType, EngineTypeDisk)
	}
	if stats.IsEncrypted {
		t.Errorf("IsEncrypted = true, want false for a plaintext engine")
	}
}

func TestEngineWithEncryption(t *testing.T) {
	engine, cleanup := setupTestEngineWithEncryption(t, "s3cr3t-passphrase")
	defer cleanup()

	if err := engine.Put([]byte("k"), []byte("classified")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := engine.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("classified")) {
		t.Fatalf("Get returned %q, want %q", got, "classified")
	}

	diskEngine := engine.(*DiskEngine)
	if !diskEngine.IsEncrypted() {
		t.Errorf("IsEncrypted() = false, want true")
	}
}

func TestEngineReopenRebuildsIndex(t *testing.T) {
	engine, dir, cleanup := setupTestEngineWithPath(t)
	defer cleanup()

	if err := engine.Put([]byte("persisted"), []byte("value")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := engine.Put([]byte("also-persisted"), []byte("value2")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := engine.Delete([]byte("also-persisted")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewStorageEngine(StorageConfig{DataDir: dir})
	if err != nil {
		t.Fatalf("NewStorageEngine (reopen): %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get([]byte("persisted"))
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !bytes.Equal(got, []byte("value")) {
		t.Fatalf("Get after reopen returned %q, want %q", got, "value")
	}

	if _, err := reopened.Get([]byte("also-persisted")); err != ErrKeyNotFound {
		t.Fatalf("expected deleted key to stay deleted across reopen, got %v", err)
	}
}

func TestEngineBulkInsertSurvivesReopen(t *testing.T) {
	engine, dir, cleanup := setupTestEngineWithPath(t)
	defer cleanup()

	diskEngine := engine.(*DiskEngine)
	const n = 300
	for i := 0; i < n; i++ {
		key := []byte("doc:" + strconv.Itoa(i))
		if err := diskEngine.Put(key, bytes.Repeat([]byte("x"), 100)); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	if err := diskEngine.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if got := diskEngine.Stats().KeyCount; got != n {
		t.Fatalf("KeyCount = %d, want %d", got, n)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewStorageEngine(StorageConfig{DataDir: dir, BufferPoolSize: 16})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	count := 0
	if err := reopened.Scan([]byte("doc:"), func(key, value []byte) bool {
		count++
		return true
	}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if count != n {
		t.Fatalf("Scan after reopen visited %d keys, want %d", count, n)
	}
}

func TestStorageConfigFromNode(t *testing.T) {
	nc := config.DefaultConfig()
	nc.DataDir = "/var/lib/flydb"
	nc.Compression = "zstd"
	nc.Collation = "NOCASE"
	nc.CheckpointThresholdPages = 512
	nc.CheckpointIntervalSec = 30
	nc.Passphrase = "secret"

	sc, err := StorageConfigFromNode(nc)
	if err != nil {
		t.Fatalf("StorageConfigFromNode: %v", err)
	}
	if sc.DataDir != "/var/lib/flydb" {
		t.Errorf("DataDir = %q, want /var/lib/flydb", sc.DataDir)
	}
	if sc.CompressionAlgorithm != compression.AlgorithmZstd {
		t.Errorf("CompressionAlgorithm = %v, want zstd", sc.CompressionAlgorithm)
	}
	if sc.Collation != CollationCaseInsensitive {
		t.Errorf("Collation = %v, want NOCASE", sc.Collation)
	}
	if sc.CheckpointThresholdPages != 512 {
		t.Errorf("CheckpointThresholdPages = %d, want 512", sc.CheckpointThresholdPages)
	}
	if sc.CheckpointInterval != 30*time.Second {
		t.Errorf("CheckpointInterval = %v, want 30s", sc.CheckpointInterval)
	}
	if !sc.Encryption.Enabled || sc.Encryption.Passphrase != "secret" {
		t.Errorf("Encryption = %+v, want enabled with passphrase", sc.Encryption)
	}

	nc.Compression = "brotli"
	if _, err := StorageConfigFromNode(nc); err == nil {
		t.Errorf("expected an error for an unknown compression algorithm")
	}
}

func TestWALFacadeReportsConfirmedTx(t *testing.T) {
	engine, cleanup := setupTestEngine(t)
	defer cleanup()

	diskEngine := engine.(*DiskEngine)
	if err := diskEngine.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	wal := diskEngine.WAL()
	if wal.LastConfirmedTx() == 0 {
		t.Errorf("expected LastConfirmedTx > 0 after a committed write")
	}
}
