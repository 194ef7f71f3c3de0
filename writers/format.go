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
	"fmt"
	"os"
	"strings"

	"github.com/apache/arrow/go/v12/arrow"

	"github.com/aaronlmathis/salesflow"
)

// OutputFormat represents a supported file sink format.
type OutputFormat int

const (
	FormatCSV OutputFormat = iota
	FormatJSON
	FormatParquet
)

// ParseOutputFormat maps a configuration value to an OutputFormat. Empty means CSV.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "json", "jsonl", "ndjson":
		return FormatJSON, nil
	case "parquet":
		return FormatParquet, nil
	default:
		return 0, fmt.Errorf("unsupported output format %q", s)
	}
}

func (f OutputFormat) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatJSON:
		return "jsonl"
	case FormatParquet:
		return "parquet"
	default:
		return fmt.Sprintf("OutputFormat(%d)", int(f))
	}
}

// Extension returns the file extension, without the dot.
func (f OutputFormat) Extension() string {
	return f.String()
}

// FileSinkOptions fixes the output shape of a file sink.
type FileSinkOptions struct {
	Columns []string      // column order for CSV and Parquet
	Schema  *arrow.Schema // Parquet schema; takes precedence over Columns
}

// NewFileSink creates a DataSink writing the given format to path.
func NewFileSink(format OutputFormat, path string, opts FileSinkOptions) (salesflow.DataSink, error) {
	switch format {
	case FormatCSV:
		file, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		var csvOpts []WriterOptionCSV
		if len(opts.Columns) > 0 {
			csvOpts = append(csvOpts, WithHeaders(opts.Columns))
		}
		return NewCSVWriter(file, csvOpts...)
	case FormatJSON:
		file, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		return NewJSONWriter(file), nil
	case FormatParquet:
		var pqOpts []WriterOption
		if opts.Schema != nil {
			pqOpts = append(pqOpts, WithSchema(opts.Schema))
		} else if len(opts.Columns) > 0 {
			pqOpts = append(pqOpts, WithFieldOrder(opts.Columns))
		}
		return NewParquetWriter(path, pqOpts...)
	default:
		return nil, fmt.Errorf("unsupported output format %v", format)
	}
}
