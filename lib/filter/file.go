// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package filter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/flowscope/lib/schema/flow"
)

// Lists is the on-disk form of a filter: JSONC with // and /* */
// comments and trailing commas allowed.
//
//	{
//	  // only traffic into the payments namespace
//	  "whitelist": [{"destination_pod": ["payments/*"]}],
//	  "blacklist": [{"verdict": ["forwarded"], "reply": [true]}],
//	}
type Lists struct {
	Whitelist []flow.FlowFilter `json:"whitelist,omitempty"`
	Blacklist []flow.FlowFilter `json:"blacklist,omitempty"`
}

// Parse strips JSONC syntax from data and decodes it into Lists.
// Unknown keys are errors so a misspelled field does not widen the
// filter.
func Parse(data []byte) (*Lists, error) {
	decoder := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
	decoder.DisallowUnknownFields()
	var lists Lists
	if err := decoder.Decode(&lists); err != nil {
		return nil, fmt.Errorf("parsing filter: %w", err)
	}
	return &lists, nil
}

// LoadFile reads and parses a JSONC filter file.
func LoadFile(path string) (*Lists, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	lists, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lists, nil
}

// Engine compiles the lists.
func (lists *Lists) Engine() (*Engine, error) {
	return Build(lists.Whitelist, lists.Blacklist)
}
