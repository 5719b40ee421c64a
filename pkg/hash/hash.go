// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package hash produces the content hashes used to name corpus files on disk.
package hash

import (
	"crypto/sha1"
	"encoding/hex"
)

type Sig [sha1.Size]byte

func Hash(pieces ...[]byte) Sig {
	h := sha1.New()
	for _, data := range pieces {
		h.Write(data)
	}
	var sig Sig
	copy(sig[:], h.Sum(nil))
	return sig
}

func (sig *Sig) String() string {
	return hex.EncodeToString((*sig)[:])
}

func String(data []byte) string {
	sig := Hash(data)
	return sig.String()
}
