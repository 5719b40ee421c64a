// Copyright 2024 goafl project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

package state

import (
	"bytes"
	"encoding/json"
	"io"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/bitwave/goafl/pkg/corpus"
	"github.com/bitwave/goafl/pkg/errs"
	"github.com/bitwave/goafl/pkg/mopt"
)

// The checkpoint is a deterministic JSON document (map keys sort on
// encode), xz-compressed. Serialize-deserialize-serialize yields
// byte-identical output.
type stateJSON struct {
	Rng          *Rand            `json:"rng"`
	Corpus       *corpus.InMemory `json:"corpus"`
	SolutionsDir string           `json:"solutions_dir"`
	Metadata     json.RawMessage  `json:"metadata"`
	MOpt         *mopt.State      `json:"mopt,omitempty"`
	Executions   uint64           `json:"executions"`
}

func (st *State) Serialize() ([]byte, error) {
	metaRaw, err := st.metadata.MarshalJSON()
	if err != nil {
		return nil, &errs.SerializeError{Err: err}
	}
	doc := &stateJSON{
		Rng:          st.rnd,
		Corpus:       st.corpus,
		SolutionsDir: st.solutions.Dir(),
		Metadata:     metaRaw,
		MOpt:         st.moptState,
		Executions:   st.executions,
	}
	plain, err := json.Marshal(doc)
	if err != nil {
		return nil, &errs.SerializeError{Err: err}
	}
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, &errs.SerializeError{Err: err}
	}
	if _, err := w.Write(plain); err != nil {
		return nil, &errs.SerializeError{Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &errs.SerializeError{Err: err}
	}
	return buf.Bytes(), nil
}

// Deserialize rebuilds a State from a checkpoint. The solutions corpus is
// re-opened from its directory; inputs already on disk stay there.
func Deserialize(data []byte) (*State, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, &errs.SerializeError{Err: err}
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, &errs.SerializeError{Err: err}
	}
	var doc stateJSON
	if err := json.Unmarshal(plain, &doc); err != nil {
		return nil, &errs.SerializeError{Err: err}
	}
	solutions, err := corpus.LoadOnDisk(doc.SolutionsDir)
	if err != nil {
		return nil, err
	}
	st := &State{
		rnd:       doc.Rng,
		corpus:    doc.Corpus,
		solutions: solutions,
		moptState: doc.MOpt,
		startTime: time.Now(),
	}
	if st.corpus == nil {
		st.corpus = corpus.NewInMemory()
	}
	if st.rnd == nil {
		st.rnd = NewRand(0)
	}
	if doc.Metadata != nil {
		if err := st.metadata.UnmarshalJSON(doc.Metadata); err != nil {
			return nil, &errs.SerializeError{Err: err}
		}
	}
	st.executions = doc.Executions
	return st, nil
}
