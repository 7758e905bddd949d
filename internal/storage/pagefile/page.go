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

/*
Package pagefile implements FlyDB's paged memory-file subsystem: a
fixed-size page buffer pool fronting a data file and an append-only
write-ahead log, with async draining, transactional confirmation, and
crash recovery. It is the storage substrate the rest of FlyDB (the SQL
executor, collections, indexes) is built on; it knows nothing about
documents, rows, or queries, only fixed-size pages addressed by offset.

See MemoryFile for the package's entry point.
*/
package pagefile

import (
	"encoding/binary"
	"hash/crc32"
)

// PageSize is the fixed size, in bytes, of every page this subsystem
// reads or writes. Both the data file and the log file are laid out as a
// sequence of PageSize-aligned records.
const PageSize = 8192

// HeaderSize is the fixed, unencrypted prefix of every on-disk page.
const HeaderSize = 32

// DataSize is the portion of a page available to callers.
const DataSize = PageSize - HeaderSize

// SegmentPages is the number of PageBuffer slots added to the pool each
// time the Memory Store has to grow. Memory grows by whole segments and
// never shrinks during normal operation.
const SegmentPages = 1024

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// PageType tags the contents of a page for the benefit of callers above
// this package; the subsystem itself never interprets it.
type PageType uint8

const (
	PageTypeUnknown PageType = iota
	PageTypeData
	PageTypeFree
	PageTypeLogHeader
)

// Header is the fixed-size, unencrypted metadata every page carries.
// Encoded with binary.BigEndian into HeaderSize bytes; see
// Header.Encode / DecodeHeader.
type Header struct {
	Type            PageType
	TxID            uint64
	LogicalPosition int64 // the position the caller asked for; may differ
	// from the page's physical offset when the page lives in the log.
	Confirmed bool // true only on the last page written for TxID
	Checksum  uint32
	// BodyLength is the number of bytes of Data actually in use: the
	// on-disk content may be shorter than DataSize once compressed
	// and/or sealed for encryption, with the remainder zero-padded.
	BodyLength uint32
}

// Encode serializes h into a HeaderSize-byte buffer.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	buf[0] = byte(h.Type)
	if h.Confirmed {
		buf[1] = 1
	}
	binary.BigEndian.PutUint64(buf[2:10], h.TxID)
	binary.BigEndian.PutUint64(buf[10:18], uint64(h.LogicalPosition))
	binary.BigEndian.PutUint32(buf[18:22], h.Checksum)
	binary.BigEndian.PutUint32(buf[22:26], h.BodyLength)
	// buf[26:32] reserved for future header fields.
	return buf
}

// DecodeHeader parses a HeaderSize-byte buffer produced by Header.Encode.
func DecodeHeader(buf []byte) Header {
	var h Header
	h.Type = PageType(buf[0])
	h.Confirmed = buf[1] != 0
	h.TxID = binary.BigEndian.Uint64(buf[2:10])
	h.LogicalPosition = int64(binary.BigEndian.Uint64(buf[10:18]))
	h.Checksum = binary.BigEndian.Uint32(buf[18:22])
	h.BodyLength = binary.BigEndian.Uint32(buf[22:26])
	return h
}

// Page is the atomic unit of I/O: a header plus DataSize bytes of
// caller-opaque content.
type Page struct {
	Header Header
	Data   []byte // len(Data) == DataSize
}

// NewPage allocates a zeroed page.
func NewPage() *Page {
	return &Page{Data: make([]byte, DataSize)}
}

// ChecksumBytes computes the CRC32C checksum of an arbitrary byte slice;
// used by the WAL Coordinator to checksum a page's content after any
// compression and before encryption, independent of the Page type.
func ChecksumBytes(data []byte) uint32 {
	return crc32.Checksum(data, crcTable)
}

// Checksum computes the CRC32C checksum of the page's plaintext content.
// It is computed before encryption and verified after decryption, so a key
// mismatch and genuine corruption are both reported as ChecksumMismatch.
func (p *Page) Checksum() uint32 {
	return crc32.Checksum(p.Data, crcTable)
}

// Stamp recomputes and stores the checksum of the current content.
func (p *Page) Stamp() {
	p.Header.Checksum = p.Checksum()
}

// VerifyChecksum reports whether the stored checksum matches the content.
func (p *Page) VerifyChecksum() bool {
	return p.Header.Checksum == p.Checksum()
}

// Encode serializes the full on-disk record (header + data) for this
// page, PageSize bytes long.
func (p *Page) Encode() []byte {
	buf := make([]byte, PageSize)
	copy(buf[:HeaderSize], p.Header.Encode())
	copy(buf[HeaderSize:], p.Data)
	return buf
}

// DecodePage parses a PageSize-byte on-disk record.
func DecodePage(buf []byte) *Page {
	p := &Page{
		Header: DecodeHeader(buf[:HeaderSize]),
		Data:   make([]byte, DataSize),
	}
	copy(p.Data, buf[HeaderSize:])
	return p
}

// PositionToIndex returns the zero-based page index for an absolute file
// position.
func PositionToIndex(position int64) int64 {
	return position / PageSize
}

// IndexToPosition returns the absolute file position for a page index.
func IndexToPosition(index int64) int64 {
	return index * PageSize
}
