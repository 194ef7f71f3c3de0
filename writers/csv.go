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
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/aaronlmathis/salesflow"
)

// CSVWriterError wraps CSV-specific write errors with context.
type CSVWriterError struct {
	Op  string
	Err error
}

func (e *CSVWriterError) Error() string {
	return fmt.Sprintf("csv writer %s: %v", e.Op, e.Err)
}

func (e *CSVWriterError) Unwrap() error {
	return e.Err
}

// CSVWriterStats counts what a CSVWriter has produced.
type CSVWriterStats struct {
	RowsWritten int64
	Flushes     int64
	NullCounts  map[string]int64 // empty cells per column
}

// CSVWriterOptions configures CSV output.
type CSVWriterOptions struct {
	Comma       rune
	WriteHeader bool
	Headers     []string
	FlushEvery  int // rows between flushes to the underlying writer; 0 flushes only on Flush
}

// WriterOptionCSV is a functional option.
type WriterOptionCSV func(*CSVWriterOptions)

// WithHeaders fixes the columns and their order. Fields outside the header are not
// written. Without it the columns are the sorted keys of the first record.
func WithHeaders(headers []string) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.Headers = append([]string(nil), headers...)
	}
}

func WithComma(delim rune) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.Comma = delim
	}
}

func WithWriteHeader(write bool) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.WriteHeader = write
	}
}

func WithFlushEvery(rows int) WriterOptionCSV {
	return func(opts *CSVWriterOptions) {
		opts.FlushEvery = rows
	}
}

// CSVWriter renders records as CSV rows using FormatValue, so decimals keep their exact
// text and null values are empty cells. With fixed headers a header row is written even
// when no record is.
type CSVWriter struct {
	mu      sync.Mutex
	out     *csv.Writer
	closer  io.Closer
	opts    CSVWriterOptions
	columns []string
	pending int
	header  bool // header row written
	failed  error
	stats   CSVWriterStats
}

// NewCSVWriter returns a writer over w. Close closes w.
func NewCSVWriter(w io.WriteCloser, opts ...WriterOptionCSV) (*CSVWriter, error) {
	options := CSVWriterOptions{Comma: ',', WriteHeader: true}
	for _, opt := range opts {
		opt(&options)
	}
	if options.FlushEvery < 0 {
		return nil, fmt.Errorf("csv writer: negative flush interval %d", options.FlushEvery)
	}

	out := csv.NewWriter(w)
	out.Comma = options.Comma

	return &CSVWriter{
		out:     out,
		closer:  w,
		opts:    options,
		columns: append([]string(nil), options.Headers...),
		stats:   CSVWriterStats{NullCounts: make(map[string]int64)},
	}, nil
}

// Write implements the DataSink interface.
func (c *CSVWriter) Write(ctx context.Context, record salesflow.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.failed != nil {
		return &CSVWriterError{Op: "write", Err: fmt.Errorf("writer failed earlier: %w", c.failed)}
	}
	if err := ctx.Err(); err != nil {
		return &CSVWriterError{Op: "write", Err: err}
	}

	if len(c.columns) == 0 {
		for key := range record {
			c.columns = append(c.columns, key)
		}
		sort.Strings(c.columns)
	}
	if err := c.writeHeaderLocked(); err != nil {
		return err
	}

	row := make([]string, len(c.columns))
	for i, col := range c.columns {
		row[i] = FormatValue(record[col])
		if row[i] == "" {
			c.stats.NullCounts[col]++
		}
	}
	if err := c.out.Write(row); err != nil {
		c.failed = err
		return &CSVWriterError{Op: "write_row", Err: err}
	}
	c.stats.RowsWritten++
	c.pending++

	if c.opts.FlushEvery > 0 && c.pending >= c.opts.FlushEvery {
		if err := c.flushLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Flush implements the DataSink interface.
func (c *CSVWriter) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeHeaderLocked(); err != nil {
		return err
	}
	return c.flushLocked()
}

// Close flushes and closes the underlying writer. The writer is closed even when the
// flush fails.
func (c *CSVWriter) Close() error {
	err := c.Flush()
	if c.closer == nil {
		return err
	}
	if cerr := c.closer.Close(); err == nil && cerr != nil {
		err = &CSVWriterError{Op: "close", Err: cerr}
	}
	return err
}

func (c *CSVWriter) writeHeaderLocked() error {
	if c.header || !c.opts.WriteHeader || len(c.columns) == 0 {
		return nil
	}
	if err := c.out.Write(c.columns); err != nil {
		c.failed = err
		return &CSVWriterError{Op: "write_header", Err: err}
	}
	c.header = true
	return nil
}

func (c *CSVWriter) flushLocked() error {
	c.out.Flush()
	if err := c.out.Error(); err != nil {
		c.failed = err
		return &CSVWriterError{Op: "flush", Err: err}
	}
	c.stats.Flushes++
	c.pending = 0
	return nil
}

// Stats returns a copy of the write statistics.
func (c *CSVWriter) Stats() CSVWriterStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.NullCounts = make(map[string]int64, len(c.stats.NullCounts))
	for k, v := range c.stats.NullCounts {
		stats.NullCounts[k] = v
	}
	return stats
}
