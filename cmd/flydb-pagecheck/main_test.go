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

package main

import (
	"testing"

	"github.com/firefly-oss/flydb-pagefile/internal/storage/pagefile"
)

func TestInspectMissingDataFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := inspect(dir, "nonexistent.data", ""); err == nil {
		t.Fatalf("expected an error for a missing data file")
	}
}

func TestInspectReportsConfirmedWrites(t *testing.T) {
	dir := t.TempDir()
	disk := pagefile.NewOSDiskFactory(dir, "check.data")
	f, err := pagefile.OpenMemoryFile(disk, pagefile.DefaultOptions())
	if err != nil {
		t.Fatalf("OpenMemoryFile: %v", err)
	}

	page := make([]byte, pagefile.DataSize)
	copy(page, []byte("pagecheck-sample"))
	txID := f.BeginTx()
	done, err := f.WriteAsync(txID, 0, page, true)
	if err != nil {
		t.Fatalf("WriteAsync: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("write did not complete: %v", err)
	}
	if err := f.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	report, err := inspect(dir, "check.data", "")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if report.LastConfirmedTx != txID {
		t.Errorf("LastConfirmedTx = %d, want %d", report.LastConfirmedTx, txID)
	}
	if report.DataFilePages < 1 {
		t.Errorf("DataFilePages = %d, want at least 1 after a checkpointed write", report.DataFilePages)
	}
	if report.PendingLogPages != 0 {
		t.Errorf("PendingLogPages = %d, want 0 after a clean Dispose", report.PendingLogPages)
	}
}

func TestInspectWrongPassphraseFails(t *testing.T) {
	dir := t.TempDir()
	disk := pagefile.NewOSDiskFactory(dir, "secure.data")
	opts := pagefile.DefaultOptions()
	opts.Encryption = pagefile.EncryptionOptions{Enabled: true, Passphrase: "right-pass"}
	f, err := pagefile.OpenMemoryFile(disk, opts)
	if err != nil {
		t.Fatalf("OpenMemoryFile: %v", err)
	}
	page := make([]byte, f.PayloadSize())
	copy(page, []byte("secret"))
	txID := f.BeginTx()
	done, err := f.WriteAsync(txID, 0, page, true)
	if err != nil {
		t.Fatalf("WriteAsync: %v", err)
	}
	<-done
	if err := f.Dispose(); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	if _, err := inspect(dir, "secure.data", "right-pass"); err != nil {
		t.Fatalf("inspect with correct passphrase: %v", err)
	}

	// inspect itself only reports metadata (page counts, confirmed tx),
	// so it succeeds regardless of passphrase; the passphrase is only
	// exercised when page content is actually decrypted. Open with the
	// wrong passphrase and confirm a read fails, the way the CLI's own
	// key-derivation path would on a real mismatched secret.
	disk2 := pagefile.NewOSDiskFactory(dir, "secure.data")
	wrongOpts := pagefile.DefaultOptions()
	wrongOpts.Encryption = pagefile.EncryptionOptions{Enabled: true, Passphrase: "wrong-pass"}
	f2, err := pagefile.OpenMemoryFile(disk2, wrongOpts)
	if err != nil {
		t.Fatalf("OpenMemoryFile with wrong passphrase: %v", err)
	}
	defer f2.Dispose()

	r, err := f2.NewReader()
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()
	if _, err := r.ReadPage(0); err == nil {
		t.Fatalf("expected wrong passphrase to fail reading the checkpointed page")
	}
}
