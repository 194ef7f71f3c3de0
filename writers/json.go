//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Copyright (C) 2025 Aaron Mathis aaron.mathis@gmail.com
//
// This file is part of SalesFlow.
//
// SalesFlow is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SalesFlow is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with SalesFlow. If not, see https://www.gnu.org/licenses/.

package writers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/aaronlmathis/salesflow"
)

// JSONWriterError wraps JSON-specific write errors with context.
type JSONWriterError struct {
	Op  string
	Err error
}

func (e *JSONWriterError) Error() string {
	return fmt.Sprintf("json writer %s: %v", e.Op, e.Err)
}

func (e *JSONWriterError) Unwrap() error {
	return e.Err
}

// JSONWriterStats holds JSON write performance statistics.
type JSONWriterStats struct {
	RecordsWritten  int64
	FlushCount      int64
	FlushDuration   time.Duration
	LastFlushTime   time.Time
	NullValueCounts map[string]int64
}

// JSONWriterOptions configures JSON lines output.
type JSONWriterOptions struct {
	BatchSize    int  // flush after this many buffered records; 0 flushes on Flush/Close only
	FlushOnWrite bool // flush after every record
}

// WriterOptionJSON is a functional option.
type WriterOptionJSON func(*JSONWriterOptions)

func WithJSONBatchSize(size int) WriterOptionJSON {
	return func(opts *JSONWriterOptions) {
		opts.BatchSize = size
	}
}

func WithFlushOnWrite(flush bool) WriterOptionJSON {
	return func(opts *JSONWriterOptions) {
		opts.FlushOnWrite = flush
	}
}

// JSONWriter implements DataSink for JSON lines files. Keys are written in sorted order,
// decimals as exact strings, null decimals as null.
type JSONWriter struct {
	buf     *bufio.Writer
	closer  io.Closer
	options JSONWriterOptions
	stats   JSONWriterStats
	pending int
	mu      sync.Mutex
}

// NewJSONWriter creates a new JSON writer for line-delimited JSON output
func NewJSONWriter(w io.WriteCloser, opts ...WriterOptionJSON) *JSONWriter {
	var options JSONWriterOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &JSONWriter{
		buf:     bufio.NewWriter(w),
		closer:  w,
		options: options,
		stats:   JSONWriterStats{NullValueCounts: make(map[string]int64)},
	}
}

// Write implements the DataSink interface
func (j *JSONWriter) Write(ctx context.Context, record salesflow.Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &JSONWriterError{Op: "write", Err: err}
	}

	out := make(map[string]interface{}, len(record))
	for k, v := range record {
		nv := normalizeValue(v)
		if nv == nil {
			j.stats.NullValueCounts[k]++
		}
		out[k] = nv
	}

	data, err := json.Marshal(out)
	if err != nil {
		return &JSONWriterError{Op: "marshal", Err: err}
	}
	if _, err := j.buf.Write(append(data, '\n')); err != nil {
		return &JSONWriterError{Op: "write", Err: err}
	}
	j.stats.RecordsWritten++
	j.pending++

	if j.options.FlushOnWrite || (j.options.BatchSize > 0 && j.pending >= j.options.BatchSize) {
		if err := j.flushUnsafe(); err != nil {
			return err
		}
	}
	return nil
}

// Flush implements the DataSink interface
func (j *JSONWriter) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.flushUnsafe()
}

// Close implements the DataSink interface
func (j *JSONWriter) Close() error {
	err := j.Flush()
	if j.closer != nil {
		if cerr := j.closer.Close(); err == nil && cerr != nil {
			err = &JSONWriterError{Op: "close", Err: cerr}
		}
	}
	return err
}

// Stats returns write statistics.
func (j *JSONWriter) Stats() JSONWriterStats {
	j.mu.Lock()
	defer j.mu.Unlock()

	statsCopy := j.stats
	statsCopy.NullValueCounts = make(map[string]int64)
	for k, v := range j.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

func (j *JSONWriter) flushUnsafe() error {
	start := time.Now()
	if err := j.buf.Flush(); err != nil {
		return &JSONWriterError{Op: "flush", Err: err}
	}
	j.stats.FlushCount++
	j.stats.FlushDuration += time.Since(start)
	j.stats.LastFlushTime = time.Now()
	j.pending = 0
	return nil
}
