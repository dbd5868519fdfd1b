/*
Copyright 2024 Gravitational, Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package secret implements authenticated encryption of small secrets
// like platform access tokens. The sealed envelope self-describes its
// nonce so every value can be opened with nothing but the key.
package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"

	"github.com/gravitational/trace"
)

// KeyLength is the length of the symmetric key in bytes.
const KeyLength = 32

// Key is a 32-byte key used for AES-GCM encryption and decryption.
type Key []byte

// sealedData is the encrypted envelope written at rest.
type sealedData struct {
	// Ciphertext is the encrypted and authenticated payload
	Ciphertext []byte `json:"ciphertext"`
	// Nonce is the random nonce used for this sealing
	Nonce []byte `json:"nonce"`
}

// NewKey generates a new random key.
func NewKey() (Key, error) {
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, trace.Wrap(err)
	}
	return Key(key), nil
}

// ParseKey parses a hex-encoded key.
func ParseKey(in []byte) (Key, error) {
	key, err := hex.DecodeString(string(in))
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(key) != KeyLength {
		return nil, trace.BadParameter("expected %v-byte key, got %v bytes", KeyLength, len(key))
	}
	return Key(key), nil
}

// String returns the hex encoding of the key.
func (k Key) String() string {
	return hex.EncodeToString(k)
}

// Equals reports whether two keys are identical without leaking timing.
func (k Key) Equals(other Key) bool {
	return subtle.ConstantTimeCompare(k, other) == 1
}

// Seal encrypts plaintext with a fresh random nonce and returns the JSON
// encoded sealed envelope.
func (k Key) Seal(plaintext []byte) ([]byte, error) {
	aead, err := k.aead()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, trace.Wrap(err)
	}
	sealed := sealedData{
		Ciphertext: aead.Seal(nil, nonce, plaintext, nil),
		Nonce:      nonce,
	}
	out, err := json.Marshal(sealed)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

// Open authenticates and decrypts the sealed envelope. Opening with the
// wrong key or a tampered ciphertext fails, it never returns plaintext.
func (k Key) Open(ciphertext []byte) ([]byte, error) {
	var sealed sealedData
	if err := json.Unmarshal(ciphertext, &sealed); err != nil {
		return nil, trace.BadParameter("failed to parse sealed data: %v", err)
	}
	aead, err := k.aead()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if len(sealed.Nonce) != aead.NonceSize() {
		return nil, trace.BadParameter("invalid nonce length %v", len(sealed.Nonce))
	}
	plaintext, err := aead.Open(nil, sealed.Nonce, sealed.Ciphertext, nil)
	if err != nil {
		return nil, trace.AccessDenied("failed to decrypt: %v", err)
	}
	return plaintext, nil
}

func (k Key) aead() (cipher.AEAD, error) {
	if len(k) != KeyLength {
		return nil, trace.BadParameter("expected %v-byte key, got %v bytes", KeyLength, len(k))
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return aead, nil
}
