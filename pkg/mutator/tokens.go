// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package mutator

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/meta"
)

// TokensKey is the state metadata key of the dictionary.
const TokensKey = "tokens"

// Tokens is the dictionary of byte sequences the mutator can splice into
// inputs (magic values, headers, keywords).
type Tokens [][]byte

func GetTokens(m *meta.Map) Tokens {
	var toks Tokens
	if err := m.Get(TokensKey, &toks); err != nil {
		return nil
	}
	return toks
}

func SetTokens(m *meta.Map, toks Tokens) error {
	return m.Set(TokensKey, toks)
}

// ParseDictFile reads an AFL-style dictionary: one name="value" entry per
// line, values support \\ \" and \xNN escapes, # starts a comment.
func ParseDictFile(path string) (Tokens, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.FileError{Path: path, Err: err}
	}
	defer f.Close()

	var toks Tokens
	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		first := strings.IndexByte(line, '"')
		last := strings.LastIndexByte(line, '"')
		if first < 0 || last <= first {
			return nil, &errs.InvalidArgumentsError{
				Msg: fmt.Sprintf("%v:%v: dictionary entry has no quoted value", path, lineNo)}
		}
		val, err := unescapeDictValue(line[first+1 : last])
		if err != nil {
			return nil, &errs.InvalidArgumentsError{
				Msg: fmt.Sprintf("%v:%v: %v", path, lineNo, err)}
		}
		if len(val) != 0 {
			toks = append(toks, val)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &errs.FileError{Path: path, Err: err}
	}
	return toks, nil
}

func unescapeDictValue(s string) ([]byte, error) {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' {
			out = append(out, s[i])
			continue
		}
		i++
		if i >= len(s) {
			return nil, fmt.Errorf("trailing backslash")
		}
		switch s[i] {
		case '\\', '"':
			out = append(out, s[i])
		case 'x':
			if i+2 >= len(s) {
				return nil, fmt.Errorf("truncated \\x escape")
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return nil, fmt.Errorf("bad \\x escape: %v", err)
			}
			out = append(out, byte(v))
			i += 2
		default:
			return nil, fmt.Errorf("unknown escape \\%c", s[i])
		}
	}
	return out, nil
}
