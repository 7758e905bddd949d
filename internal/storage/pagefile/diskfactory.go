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
	"io"
	"os"
	"path/filepath"
)

// Stream is the minimal I/O surface FileReader and FileWriter need from
// an open file: positioned read/write, an explicit flush, and the
// ability to report and change length. osStream is the implementation
// used by production code and tests alike.
type Stream interface {
	io.ReadWriteSeeker
	io.Closer
	Flush() error
	SetLength(length int64) error
	Length() (int64, error)
}

// DiskFactory is the collaborator this package needs from the host
// filesystem: whether a logical file exists, and a Stream onto either
// its data file or its log file.
type DiskFactory interface {
	// Exists reports whether the data file already exists, distinguishing
	// "open an existing database" from "create a new one" at startup.
	Exists() bool
	// GetStream returns a Stream onto the data file or the log file,
	// opened for reading or for read-write.
	GetStream(writable bool, logFile bool) (Stream, error)
}

// OSDiskFactory is the production DiskFactory: a data file and a log
// file (both PageSize-aligned) living side by side on a real filesystem.
type OSDiskFactory struct {
	dataPath string
	logPath  string
}

// NewOSDiskFactory returns a DiskFactory rooted at dir, with the data
// file and log file named after base ("mydb.flydb" / "mydb.flydb.wal").
func NewOSDiskFactory(dir, base string) *OSDiskFactory {
	return &OSDiskFactory{
		dataPath: filepath.Join(dir, base),
		logPath:  filepath.Join(dir, base+".wal"),
	}
}

// Exists reports whether the data file is present.
func (f *OSDiskFactory) Exists() bool {
	_, err := os.Stat(f.dataPath)
	return err == nil
}

// GetStream opens the data file or log file, creating it (and its parent
// directory) if writable is true and it does not yet exist.
func (f *OSDiskFactory) GetStream(writable bool, logFile bool) (Stream, error) {
	path := f.dataPath
	if logFile {
		path = f.logPath
	}

	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR | os.O_CREATE
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("pagefile: create directory for %s: %w", path, err)
		}
	}

	file, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("pagefile: open %s: %w", path, err)
	}

	stream := &osStream{file: file}
	if writable {
		if err := lockFile(file); err != nil {
			file.Close()
			return nil, fmt.Errorf("pagefile: lock %s: %w", path, err)
		}
	}
	return stream, nil
}

// osStream adapts *os.File to Stream.
type osStream struct {
	file *os.File
}

func (s *osStream) Read(p []byte) (int, error)                  { return s.file.Read(p) }
func (s *osStream) Write(p []byte) (int, error)                 { return s.file.Write(p) }
func (s *osStream) Seek(offset int64, whence int) (int64, error) { return s.file.Seek(offset, whence) }
func (s *osStream) Close() error                                { return s.file.Close() }

func (s *osStream) Flush() error {
	return s.file.Sync()
}

func (s *osStream) SetLength(length int64) error {
	return s.file.Truncate(length)
}

func (s *osStream) Length() (int64, error) {
	info, err := s.file.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
