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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/aaronlmathis/salesflow"
)

// JSONReaderError wraps structured error information for the JSON lines reader.
type JSONReaderError struct {
	Op   string
	Line int
	Err  error
}

func (e *JSONReaderError) Error() string {
	return fmt.Sprintf("json reader %s (line %d): %v", e.Op, e.Line, e.Err)
}

func (e *JSONReaderError) Unwrap() error {
	return e.Err
}

// JSONReader implements DataSource for JSON lines files.
// Scalars are converted to strings so JSON input looks like CSV input to the stages
// downstream; null stays nil. Blank lines are skipped.
type JSONReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

// NewJSONReader creates a new JSON reader for line-delimited JSON.
func NewJSONReader(r io.ReadCloser) *JSONReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &JSONReader{
		scanner: scanner,
		closer:  r,
	}
}

// Read implements the DataSource interface.
func (j *JSONReader) Read(ctx context.Context) (salesflow.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, &JSONReaderError{Op: "read", Line: j.line, Err: err}
		}
		if !j.scanner.Scan() {
			if err := j.scanner.Err(); err != nil {
				return nil, &JSONReaderError{Op: "scan", Line: j.line, Err: err}
			}
			return nil, io.EOF
		}
		j.line++

		line := strings.TrimSpace(j.scanner.Text())
		if line == "" {
			continue
		}

		var raw map[string]json.RawMessage
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			return nil, &JSONReaderError{Op: "decode", Line: j.line, Err: err}
		}

		record := make(salesflow.Record, len(raw))
		for k, v := range raw {
			record[k] = jsonScalar(v)
		}
		return record, nil
	}
}

// Close implements the DataSource interface.
func (j *JSONReader) Close() error {
	if j.closer != nil {
		return j.closer.Close()
	}
	return nil
}

// jsonScalar renders a raw JSON value as a string: strings are unquoted, numbers and
// booleans keep their literal text, null becomes nil, objects/arrays keep their JSON.
func jsonScalar(v json.RawMessage) interface{} {
	text := strings.TrimSpace(string(v))
	if text == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return text
}
