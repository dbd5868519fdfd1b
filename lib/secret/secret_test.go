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

package secret

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestKey checks various key operations like new key generation and parsing.
func TestKey(t *testing.T) {
	// Keys should be 32-bytes.
	key, err := NewKey()
	require.NoError(t, err)
	require.Len(t, key, 32)

	// ParseKey should be able to load a key and use it to Open something
	// sealed by the original key.
	ciphertext, err := key.Seal([]byte("hello, world"))
	require.NoError(t, err)
	pkey, err := ParseKey([]byte(key.String()))
	require.NoError(t, err)
	plaintext, err := pkey.Open(ciphertext)
	require.NoError(t, err)
	require.Equal(t, []byte("hello, world"), plaintext)

	// NewKey should always return a new key.
	key1, err := NewKey()
	require.NoError(t, err)
	key2, err := NewKey()
	require.NoError(t, err)
	require.NotEqual(t, key1, key2)
	require.False(t, key1.Equals(key2))
}

// TestSeal makes sure calling Seal on the same data with the same key
// results in different ciphertexts and nonces.
func TestSeal(t *testing.T) {
	key, err := NewKey()
	require.NoError(t, err)

	plaintext := []byte("hello, world")

	ciphertext1, err := key.Seal(plaintext)
	require.NoError(t, err)
	var data1 sealedData
	require.NoError(t, json.Unmarshal(ciphertext1, &data1))

	ciphertext2, err := key.Seal(plaintext)
	require.NoError(t, err)
	var data2 sealedData
	require.NoError(t, json.Unmarshal(ciphertext2, &data2))

	// Ciphertext and nonce for the same plaintext should be different each
	// time Seal is called.
	require.NotEqual(t, data1.Ciphertext, data2.Ciphertext)
	require.NotEqual(t, data1.Nonce, data2.Nonce)

	// The plaintext for both should be the same and match the original.
	plaintext1, err := key.Open(ciphertext1)
	require.NoError(t, err)
	plaintext2, err := key.Open(ciphertext2)
	require.NoError(t, err)
	require.Equal(t, plaintext, plaintext1)
	require.Equal(t, plaintext, plaintext2)
}

// TestOpen makes sure data that was sealed with a key can only be opened
// with the same key.
func TestOpen(t *testing.T) {
	key1, err := NewKey()
	require.NoError(t, err)

	ciphertext, err := key1.Seal([]byte("hello, world"))
	require.NoError(t, err)

	// Trying to call Open with a different key should always fail.
	key2, err := NewKey()
	require.NoError(t, err)
	_, err = key2.Open(ciphertext)
	require.Error(t, err)

	// Calling Open with the same key should work.
	plaintext, err := key1.Open(ciphertext)
	require.NoError(t, err)
	require.Equal(t, []byte("hello, world"), plaintext)

	// Tampered ciphertext should not open.
	var data sealedData
	require.NoError(t, json.Unmarshal(ciphertext, &data))
	data.Ciphertext[0] ^= 0xff
	tampered, err := json.Marshal(data)
	require.NoError(t, err)
	_, err = key1.Open(tampered)
	require.Error(t, err)
}
