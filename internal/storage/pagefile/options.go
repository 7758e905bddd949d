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
	"time"

	"github.com/firefly-oss/flydb-pagefile/internal/compression"
)

// Mode distinguishes the three kinds of file this package opens. Only
// DataFile and LogFile participate in the WAL protocol; TempFile is a
// scratch paged file (used for e.g. external sort spill) that shares the
// Memory Store/FileReader/FileWriter machinery but never sees a WAL
// Coordinator.
type Mode int

const (
	ModeDataFile Mode = iota
	ModeLogFile
	ModeTempFile
)

// CipherAlgorithm selects the AEAD construction used to seal page bodies.
type CipherAlgorithm int

const (
	// CipherAES256GCM is the default: stdlib crypto/aes + crypto/cipher
	// in GCM mode.
	CipherAES256GCM CipherAlgorithm = iota
	// CipherChaCha20Poly1305 uses golang.org/x/crypto/chacha20poly1305,
	// useful on hosts without AES-NI where AES-GCM's software fallback is
	// noticeably slower.
	CipherChaCha20Poly1305
)

// EncryptionOptions configures page-body encryption. Enabled defaults to
// false; when true, Passphrase is stretched via DeriveKey and every page
// body is sealed with Algorithm (AES-256-GCM unless overridden) before it
// reaches the disk factory.
type EncryptionOptions struct {
	Enabled    bool
	Passphrase string
	Algorithm  CipherAlgorithm
}

// Options configures a MemoryFile.
type Options struct {
	// SegmentPages overrides SegmentPages for this file's Memory Store.
	SegmentPages int

	// CheckpointThresholdPages is the number of confirmed-but-unmigrated
	// log pages that triggers an automatic checkpoint. 0 disables the
	// threshold trigger (checkpoints then only run on quiescence, on the
	// CheckpointInterval timer, on Dispose, or when Checkpoint is called).
	CheckpointThresholdPages int

	// CheckpointInterval additionally triggers a checkpoint on a timer,
	// independent of CheckpointThresholdPages and the quiescence trigger.
	// 0 disables the timer.
	CheckpointInterval time.Duration

	// CompressionAlgorithm compresses page bodies before they are
	// written to the log file. AlgorithmNone disables compression.
	CompressionAlgorithm compression.Algorithm
	CompressionLevel     compression.Level

	Encryption EncryptionOptions

	// MaxPooledStreams bounds the per-file reader stream pool. 0 selects
	// DefaultMaxPooledStreams().
	MaxPooledStreams int

	Events *EventBus

	// ReadOnly opens both files without acquiring the advisory write lock
	// and without starting either background FileWriter: WriteAsync and
	// SetLengthAsync fail on the returned MemoryFile, and Checkpoint is a
	// no-op. Recovery still runs against an existing log so
	// LastConfirmedTx and Reader access reflect confirmed writes, but no
	// bytes are migrated or truncated, so a read-only open never mutates
	// the file pair on disk. Intended for diagnostic tools that must not
	// contend with a live writer for the advisory lock.
	ReadOnly bool
}

// DefaultOptions returns the options a new standalone MemoryFile uses
// when the caller supplies none.
func DefaultOptions() Options {
	return Options{
		SegmentPages:             SegmentPages,
		CheckpointThresholdPages: 4 * SegmentPages,
		CompressionAlgorithm:     compression.AlgorithmNone,
		CompressionLevel:         compression.LevelDefault,
	}
}
