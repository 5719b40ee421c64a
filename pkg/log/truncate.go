// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package log

import (
	"bytes"
	"fmt"
)

// Truncate leaves up to `begin` bytes at the beginning of the output and
// up to `end` bytes at the end. It bounds target crash output before it is
// stored in the metadata of a persisted solution.
func Truncate(output []byte, begin, end int) []byte {
	if begin+end >= len(output) {
		return output
	}
	var b bytes.Buffer
	b.Write(output[:begin])
	if begin > 0 {
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "<<cut %d bytes out>>",
		len(output)-begin-end,
	)
	if end > 0 {
		b.WriteString("\n\n")
	}
	b.Write(output[len(output)-end:])
	return b.Bytes()
}
