// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exporter

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Hash is a chunk's BLAKE3 keyed hash.
type Hash [32]byte

// String returns the hex form.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// chunkDomainKey is the ASCII of "flowscope.export.chunk" zero-padded
// to 32 bytes. Changing it invalidates every existing export file.
var chunkDomainKey = [32]byte{
	'f', 'l', 'o', 'w', 's', 'c', 'o', 'p', 'e', '.', 'e', 'x', 'p', 'o', 'r', 't',
	'.', 'c', 'h', 'u', 'n', 'k', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// hashChunk hashes an uncompressed chunk payload.
func hashChunk(data []byte) Hash {
	// NewKeyed fails only for a key that is not 32 bytes.
	hasher, err := blake3.NewKeyed(chunkDomainKey[:])
	if err != nil {
		panic("exporter: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}
