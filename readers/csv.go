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

package readers

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aaronlmathis/salesflow"
)

// CSVReaderError wraps structured error information for the CSV reader.
type CSVReaderError struct {
	Op   string
	Line int // input line of the failing row, when known
	Err  error
}

func (e *CSVReaderError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("csv reader %s (line %d): %v", e.Op, e.Line, e.Err)
	}
	return fmt.Sprintf("csv reader %s: %v", e.Op, e.Err)
}

func (e *CSVReaderError) Unwrap() error {
	return e.Err
}

// CSVReaderStats counts what a CSVReader has returned.
type CSVReaderStats struct {
	RowsRead      int64
	MalformedRows int64
	NullCounts    map[string]int64 // empty fields per column
}

// CSVReaderOptions configures the CSV reader.
type CSVReaderOptions struct {
	Comma      rune
	Comment    rune
	LazyQuotes bool
	HasHeaders bool
}

// ReaderOptionCSV allows functional customization of CSVReader.
type ReaderOptionCSV func(*CSVReaderOptions)

func WithCSVComma(r rune) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.Comma = r }
}

func WithCSVComment(r rune) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.Comment = r }
}

func WithCSVLazyQuotes(lazy bool) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.LazyQuotes = lazy }
}

func WithCSVHasHeaders(hasHeaders bool) ReaderOptionCSV {
	return func(o *CSVReaderOptions) { o.HasHeaders = hasHeaders }
}

// CSVReader implements DataSource for CSV input. Every non-empty field is returned as
// its raw string; typing is left to later stages.
//
// Rows may carry fewer fields than the header; missing trailing fields are absent from
// the record. Fields beyond the header are ignored. Empty or blank fields are nil.
// A malformed row yields a *CSVReaderError wrapping *csv.ParseError, and reading can
// continue with the next row.
type CSVReader struct {
	reader  *csv.Reader
	headers []string
	closer  io.Closer
	stats   CSVReaderStats
}

// NewCSVReader reads the header row, if any, and returns a reader positioned on the
// first data row.
func NewCSVReader(r io.ReadCloser, options ...ReaderOptionCSV) (*CSVReader, error) {
	opts := CSVReaderOptions{Comma: ',', HasHeaders: true}
	for _, opt := range options {
		opt(&opts)
	}

	csvReader := csv.NewReader(r)
	csvReader.Comma = opts.Comma
	csvReader.Comment = opts.Comment
	csvReader.FieldsPerRecord = -1
	csvReader.LazyQuotes = opts.LazyQuotes
	csvReader.TrimLeadingSpace = true
	csvReader.ReuseRecord = true

	reader := &CSVReader{
		reader: csvReader,
		closer: r,
		stats:  CSVReaderStats{NullCounts: make(map[string]int64)},
	}

	if opts.HasHeaders {
		row, err := csvReader.Read()
		if err != nil {
			return nil, &CSVReaderError{Op: "read_headers", Err: err}
		}
		headers, err := normalizeHeaders(row)
		if err != nil {
			return nil, &CSVReaderError{Op: "read_headers", Line: 1, Err: err}
		}
		reader.headers = headers
	}

	return reader, nil
}

// normalizeHeaders strips a byte order mark and surrounding space. Blank names become
// col_<i>; repeated names are an error since a record holds one value per name.
func normalizeHeaders(row []string) ([]string, error) {
	headers := make([]string, len(row))
	seen := make(map[string]bool, len(row))
	for i, h := range row {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = "col_" + strconv.Itoa(i)
		}
		if seen[h] {
			return nil, fmt.Errorf("duplicate column %q", h)
		}
		seen[h] = true
		headers[i] = h
	}
	return headers, nil
}

// Headers returns the header row, if one was read.
func (c *CSVReader) Headers() []string {
	return append([]string(nil), c.headers...)
}

// Read implements the DataSource interface.
func (c *CSVReader) Read(ctx context.Context) (salesflow.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, &CSVReaderError{Op: "read", Err: err}
	}

	row, err := c.reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		readErr := &CSVReaderError{Op: "read_record", Err: err}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			readErr.Line = parseErr.Line
			c.stats.MalformedRows++
		}
		return nil, readErr
	}

	res := make(salesflow.Record, len(row))
	for i, val := range row {
		key := "col_" + strconv.Itoa(i)
		if c.headers != nil {
			if i >= len(c.headers) {
				break
			}
			key = c.headers[i]
		}

		if strings.TrimSpace(val) == "" {
			c.stats.NullCounts[key]++
			res[key] = nil
			continue
		}
		res[key] = val
	}

	c.stats.RowsRead++
	return res, nil
}

// Close implements the DataSource interface.
func (c *CSVReader) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// Stats returns a copy of the read statistics.
func (c *CSVReader) Stats() CSVReaderStats {
	stats := c.stats
	stats.NullCounts = make(map[string]int64, len(c.stats.NullCounts))
	for k, v := range c.stats.NullCounts {
		stats.NullCounts[k] = v
	}
	return stats
}
