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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

// scrypt cost parameters. N=2^15 is scrypt's own recommendation for
// interactive use as of this writing; raising it trades startup latency
// for brute-force resistance.
const (
	scryptN      = 1 << 15
	scryptR      = 8
	scryptP      = 1
	scryptKeyLen = 32 // AES-256
)

// DeriveKey stretches a passphrase into a 256-bit AES key using scrypt,
// salted with the database's own salt (stored once, unencrypted, in the
// log header so every process opening the file derives the same key).
func DeriveKey(passphrase string, salt []byte) ([]byte, error) {
	key, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("pagefile: derive key: %w", err)
	}
	return key, nil
}

// NewSalt returns a fresh random salt for DeriveKey, generated once per
// database at creation time.
func NewSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("pagefile: generate salt: %w", err)
	}
	return salt, nil
}

// pageCipher encrypts and decrypts page bodies with whichever AEAD
// construction the file was opened with (AES-256-GCM by default, or
// ChaCha20-Poly1305). Each page is sealed independently with a fresh
// random nonce prepended to the ciphertext; the page's checksum is
// computed over the plaintext, so a wrong key produces a checksum
// mismatch rather than a silent garbage read.
type pageCipher struct {
	aead cipher.AEAD
}

func newPageCipher(key []byte, algo CipherAlgorithm) (*pageCipher, error) {
	switch algo {
	case CipherChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("pagefile: chacha20poly1305: %w", err)
		}
		return &pageCipher{aead: aead}, nil
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("pagefile: aes cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("pagefile: gcm: %w", err)
		}
		return &pageCipher{aead: aead}, nil
	}
}

// Overhead returns the number of bytes Seal adds to a plaintext (the
// prepended nonce plus the AEAD authentication tag). Callers that size a
// page's content to exactly DataSize must first subtract this, or the
// sealed form will not fit in the fixed-size page it has to land in.
func (c *pageCipher) Overhead() int {
	return c.aead.NonceSize() + c.aead.Overhead()
}

// Seal encrypts plaintext, returning nonce||ciphertext||tag.
func (c *pageCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("pagefile: nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func (c *pageCipher) Open(sealed []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("pagefile: ciphertext too short")
	}
	nonce, ct := sealed[:n], sealed[n:]
	plain, err := c.aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("pagefile: decrypt: %w", err)
	}
	return plain, nil
}
