// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exporter

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/flowscope/lib/codec"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
)

// Reader reads an export file chunk by chunk.
type Reader struct {
	decoder *codec.Decoder
	header  FileHeader
}

// NewReader reads and checks the file header.
func NewReader(r io.Reader) (*Reader, error) {
	decoder := codec.NewDecoder(r)
	var header FileHeader
	if err := decoder.Decode(&header); err != nil {
		return nil, fmt.Errorf("reading export header: %w", err)
	}
	if header.Magic != FileMagic {
		return nil, fmt.Errorf("not an export file (magic %q)", header.Magic)
	}
	if header.Version != FileVersion {
		return nil, fmt.Errorf("unsupported export file version %d", header.Version)
	}
	return &Reader{decoder: decoder, header: header}, nil
}

// Header returns the file header.
func (r *Reader) Header() FileHeader { return r.header }

// Next returns the events of the next chunk, or io.EOF after the last.
// A chunk whose hash does not match its payload is an error.
func (r *Reader) Next() ([]flow.ExportEvent, error) {
	var record chunk
	if err := r.decoder.Decode(&record); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading export chunk: %w", err)
	}
	payload, err := decompress(record.Payload, record.Compression, record.Size)
	if err != nil {
		return nil, err
	}
	if hash := hashChunk(payload); hash != record.Hash {
		return nil, fmt.Errorf("export chunk hash mismatch: stored %s, computed %s", record.Hash, hash)
	}
	var events []flow.ExportEvent
	if err := codec.Unmarshal(payload, &events); err != nil {
		return nil, fmt.Errorf("decoding export chunk: %w", err)
	}
	if len(events) != record.Count {
		return nil, fmt.Errorf("export chunk holds %d events, header says %d", len(events), record.Count)
	}
	return events, nil
}

// ReadFile reads every event of the export file at path.
func ReadFile(path string) (FileHeader, []flow.ExportEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		return FileHeader{}, nil, err
	}
	defer file.Close()

	reader, err := NewReader(file)
	if err != nil {
		return FileHeader{}, nil, err
	}
	var all []flow.ExportEvent
	for {
		events, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return reader.Header(), all, nil
		}
		if err != nil {
			return reader.Header(), all, err
		}
		all = append(all, events...)
	}
}
