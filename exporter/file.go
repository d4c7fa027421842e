// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package exporter

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/flowscope/lib/clock"
	"github.com/bureau-foundation/flowscope/lib/codec"
	"github.com/bureau-foundation/flowscope/lib/metrics"
	"github.com/bureau-foundation/flowscope/lib/schema/flow"
)

// FileMagic identifies an export file.
const FileMagic = "flowscope-export"

// FileVersion is the current file format version.
const FileVersion = 1

// FileHeader is the first CBOR value of every export file.
type FileHeader struct {
	Magic     string `cbor:"magic"`
	Version   int    `cbor:"version"`
	NodeName  string `cbor:"node_name,omitempty"`
	CreatedAt int64  `cbor:"created_at"`
}

// chunk is one batch of events on disk. Hash covers the uncompressed
// payload.
type chunk struct {
	Compression Compression `cbor:"compression"`
	Size        int         `cbor:"size"`
	Count       int         `cbor:"count"`
	Hash        Hash        `cbor:"hash"`
	Payload     []byte      `cbor:"payload"`
}

// FileSinkConfig configures a FileSink.
type FileSinkConfig struct {
	Path        string
	NodeName    string
	Compression Compression
	// ChunkEvents is how many events go into one chunk.
	ChunkEvents int
	// MaxSizeBytes rotates the file once it reaches this size. Zero
	// disables rotation.
	MaxSizeBytes int64
	// MaxBackups is how many rotated files (Path.1, Path.2, ...) are
	// kept.
	MaxBackups int

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// FileSink writes the export feed to a rotating chunked file.
type FileSink struct {
	config FileSinkConfig

	file    *os.File
	writer  *bufio.Writer
	encoder *codec.Encoder
	size    int64

	buffered []flow.ExportEvent
}

// NewFileSink opens (appending to) or creates config.Path.
func NewFileSink(config FileSinkConfig) (*FileSink, error) {
	if config.Path == "" {
		return nil, errors.New("export path is required")
	}
	if config.ChunkEvents <= 0 {
		return nil, fmt.Errorf("chunk events must be positive, got %d", config.ChunkEvents)
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	sink := &FileSink{config: config}
	if err := sink.open(); err != nil {
		return nil, err
	}
	return sink, nil
}

func (s *FileSink) open() error {
	file, err := os.OpenFile(s.config.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return fmt.Errorf("opening export file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat export file: %w", err)
	}
	s.file = file
	s.writer = bufio.NewWriter(countingWriter{sink: s})
	s.encoder = codec.NewEncoder(s.writer)
	s.size = info.Size()
	if s.size == 0 {
		header := FileHeader{
			Magic:     FileMagic,
			Version:   FileVersion,
			NodeName:  s.config.NodeName,
			CreatedAt: flow.Nanos(s.config.Clock.Now()),
		}
		if err := s.encoder.Encode(header); err != nil {
			return fmt.Errorf("writing export header: %w", err)
		}
	}
	return nil
}

// countingWriter tracks the file size as bytes reach the file.
type countingWriter struct{ sink *FileSink }

func (w countingWriter) Write(p []byte) (int, error) {
	written, err := w.sink.file.Write(p)
	w.sink.size += int64(written)
	return written, err
}

// Write buffers event, writing a chunk once ChunkEvents are buffered.
func (s *FileSink) Write(event flow.ExportEvent) error {
	s.buffered = append(s.buffered, event)
	if len(s.buffered) >= s.config.ChunkEvents {
		return s.writeChunk()
	}
	return nil
}

// Flush writes any buffered events as a partial chunk and syncs the
// file.
func (s *FileSink) Flush() error {
	if err := s.writeChunk(); err != nil {
		return err
	}
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flushing export file: %w", err)
	}
	return s.file.Sync()
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	flushErr := s.Flush()
	closeErr := s.file.Close()
	return errors.Join(flushErr, closeErr)
}

func (s *FileSink) writeChunk() error {
	if len(s.buffered) == 0 {
		return nil
	}
	payload, err := codec.Marshal(s.buffered)
	if err != nil {
		return fmt.Errorf("encoding export chunk: %w", err)
	}
	record := chunk{
		Compression: s.config.Compression,
		Size:        len(payload),
		Count:       len(s.buffered),
		Hash:        hashChunk(payload),
	}
	record.Payload, err = compress(payload, s.config.Compression)
	if errors.Is(err, errIncompressible) {
		record.Compression = CompressionNone
		record.Payload = payload
	} else if err != nil {
		return err
	}

	if err := s.encoder.Encode(record); err != nil {
		return fmt.Errorf("writing export chunk: %w", err)
	}
	s.buffered = s.buffered[:0]
	s.config.Metrics.ExportChunk(record.Compression.String())

	if s.config.MaxSizeBytes > 0 && s.size+int64(s.writer.Buffered()) >= s.config.MaxSizeBytes {
		return s.rotate()
	}
	return nil
}

// rotate shifts Path.N to Path.N+1 (dropping the oldest beyond
// MaxBackups), moves Path to Path.1, and starts a new file.
func (s *FileSink) rotate() error {
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flushing export file: %w", err)
	}
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("closing export file: %w", err)
	}

	path := s.config.Path
	if s.config.MaxBackups <= 0 {
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("removing export file: %w", err)
		}
	} else {
		oldest := backupPath(path, s.config.MaxBackups)
		if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing %s: %w", oldest, err)
		}
		for index := s.config.MaxBackups - 1; index >= 1; index-- {
			from := backupPath(path, index)
			if err := os.Rename(from, backupPath(path, index+1)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("rotating %s: %w", from, err)
			}
		}
		if err := os.Rename(path, backupPath(path, 1)); err != nil {
			return fmt.Errorf("rotating %s: %w", path, err)
		}
	}
	s.config.Logger.Info("export file rotated", "path", path, "backups", s.config.MaxBackups)
	return s.open()
}

func backupPath(path string, index int) string {
	return fmt.Sprintf("%s.%d", path, index)
}
