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
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/apache/arrow/go/v12/arrow/array"
	"github.com/apache/arrow/go/v12/arrow/memory"
	"github.com/apache/arrow/go/v12/parquet"
	"github.com/apache/arrow/go/v12/parquet/compress"
	"github.com/apache/arrow/go/v12/parquet/pqarrow"
	"github.com/shopspring/decimal"

	"github.com/aaronlmathis/salesflow"
)

// Package writers provides implementations of salesflow.DataSink for writing data to various destinations.
//
// This file implements a batching Parquet writer on Arrow. The schema is either supplied
// or inferred from the first record; decimals are stored as their exact string form.

// ParquetWriterError wraps Parquet-specific write errors with context about the operation.
type ParquetWriterError struct {
	Op  string // Operation that failed (e.g., "open_file", "schema", "write_batch")
	Err error  // Underlying error
}

// Error returns the error string for ParquetWriterError.
func (e *ParquetWriterError) Error() string {
	return fmt.Sprintf("parquet writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for ParquetWriterError.
func (e *ParquetWriterError) Unwrap() error {
	return e.Err
}

// ParquetWriterOptions configures the Parquet writer.
type ParquetWriterOptions struct {
	BatchSize    int64                // Number of records to buffer before writing
	Schema       *arrow.Schema        // Pre-defined schema (optional)
	Compression  compress.Compression // Compression algorithm
	FieldOrder   []string             // Explicit field ordering
	RowGroupSize int64                // Maximum rows per row group
	Metadata     map[string]string    // Stored in the Arrow schema metadata
}

// ParquetWriterStats holds statistics about the Parquet writer's performance.
type ParquetWriterStats struct {
	RecordsWritten  int64
	BatchesWritten  int64
	FlushDuration   time.Duration
	LastFlushTime   time.Time
	NullValueCounts map[string]int64
}

// WriterOption represents a configuration function for ParquetWriterOptions.
type WriterOption func(*ParquetWriterOptions)

// WithBatchSize sets the number of records to buffer before writing a batch.
func WithBatchSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCompression sets the Parquet compression algorithm.
func WithCompression(compression compress.Compression) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Compression = compression
	}
}

// WithFieldOrder sets the explicit field ordering for the Parquet schema.
func WithFieldOrder(fields []string) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.FieldOrder = append([]string(nil), fields...)
	}
}

// WithSchema fixes the Arrow schema. The field order follows the schema.
func WithSchema(schema *arrow.Schema) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.Schema = schema
	}
}

// WithRowGroupSize sets the row group size for the Parquet file.
func WithRowGroupSize(size int64) WriterOption {
	return func(opts *ParquetWriterOptions) {
		opts.RowGroupSize = size
	}
}

// WithMetadata sets user metadata for the Parquet file.
func WithMetadata(metadata map[string]string) WriterOption {
	return func(opts *ParquetWriterOptions) {
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]string)
		}
		for k, v := range metadata {
			opts.Metadata[k] = v
		}
	}
}

// ParquetWriter implements salesflow.DataSink for Parquet files.
//
// A file with a known schema (WithSchema or WithFieldOrder) is always valid Parquet, even
// when no record was written. Without either, an empty run leaves an empty file.
type ParquetWriter struct {
	file         *os.File
	writer       *pqarrow.FileWriter
	schema       *arrow.Schema
	fieldOrder   []string
	recordBuffer []salesflow.Record
	stats        ParquetWriterStats
	closed       bool
	errorState   bool
	allocator    memory.Allocator
	opts         *ParquetWriterOptions
}

// NewParquetWriter creates a new Parquet writer for a file, creating parent directories.
func NewParquetWriter(filename string, options ...WriterOption) (*ParquetWriter, error) {
	opts := (&ParquetWriterOptions{}).withDefaults()
	for _, option := range options {
		option(opts)
	}

	if dir := filepath.Dir(filename); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &ParquetWriterError{Op: "create_directory", Err: err}
		}
	}
	file, err := os.Create(filename)
	if err != nil {
		return nil, &ParquetWriterError{Op: "open_file", Err: err}
	}

	pw := &ParquetWriter{
		file:         file,
		fieldOrder:   opts.FieldOrder,
		recordBuffer: make([]salesflow.Record, 0, opts.BatchSize),
		stats:        ParquetWriterStats{NullValueCounts: make(map[string]int64)},
		allocator:    memory.NewGoAllocator(),
		opts:         opts,
	}
	if opts.Schema != nil {
		pw.fieldOrder = make([]string, 0, len(opts.Schema.Fields()))
		for _, f := range opts.Schema.Fields() {
			pw.fieldOrder = append(pw.fieldOrder, f.Name)
		}
		if err := pw.openWriter(opts.Schema); err != nil {
			file.Close()
			return nil, err
		}
	}
	return pw, nil
}

// Stats returns the current statistics of the Parquet writer.
func (p *ParquetWriter) Stats() ParquetWriterStats {
	statsCopy := p.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

// Write implements the salesflow.DataSink interface. Records are buffered and written in batches.
func (p *ParquetWriter) Write(ctx context.Context, record salesflow.Record) error {
	if p.closed {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("parquet writer is closed")}
	}
	if p.errorState {
		return &ParquetWriterError{Op: "write", Err: fmt.Errorf("writer is in error state")}
	}
	if err := ctx.Err(); err != nil {
		return &ParquetWriterError{Op: "write", Err: err}
	}

	if p.schema == nil {
		schema, err := p.inferSchema(record)
		if err != nil {
			p.errorState = true
			return err
		}
		if err := p.openWriter(schema); err != nil {
			p.errorState = true
			return err
		}
	}

	p.recordBuffer = append(p.recordBuffer, record)
	p.stats.RecordsWritten++

	if int64(len(p.recordBuffer)) >= p.opts.BatchSize {
		if err := p.flushBatch(); err != nil {
			p.errorState = true
			return err
		}
	}
	return nil
}

// Flush implements the salesflow.DataSink interface.
func (p *ParquetWriter) Flush() error {
	return p.flushBatch()
}

// Close implements the salesflow.DataSink interface. It flushes and writes the footer.
func (p *ParquetWriter) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	if err := p.flushBatch(); err != nil {
		firstErr = err
	}

	if p.writer == nil && p.schema == nil && len(p.fieldOrder) > 0 {
		fields := make([]arrow.Field, len(p.fieldOrder))
		for i, name := range p.fieldOrder {
			fields[i] = arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true}
		}
		if err := p.openWriter(p.newSchema(fields)); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if p.writer != nil {
		if err := p.writer.Close(); err != nil && firstErr == nil {
			firstErr = &ParquetWriterError{Op: "close_writer", Err: err}
		}
		p.writer = nil
	}

	// The Arrow writer closes the file it was given; close it here for the paths where it never existed.
	if err := p.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) && firstErr == nil {
		firstErr = &ParquetWriterError{Op: "close_file", Err: err}
	}
	return firstErr
}

func (opts *ParquetWriterOptions) withDefaults() *ParquetWriterOptions {
	result := &ParquetWriterOptions{}
	if opts != nil {
		*result = *opts
	}

	if result.BatchSize <= 0 {
		result.BatchSize = 1000
	}
	if result.RowGroupSize <= 0 {
		result.RowGroupSize = 10000
	}
	if result.Compression == 0 {
		result.Compression = compress.Codecs.Snappy
	}
	if result.Metadata == nil {
		result.Metadata = make(map[string]string)
	}
	return result
}

func (p *ParquetWriter) newSchema(fields []arrow.Field) *arrow.Schema {
	if len(p.opts.Metadata) == 0 {
		return arrow.NewSchema(fields, nil)
	}
	md := arrow.MetadataFrom(p.opts.Metadata)
	return arrow.NewSchema(fields, &md)
}

// inferSchema creates an Arrow schema from the first record. Missing or null fields
// default to string.
func (p *ParquetWriter) inferSchema(record salesflow.Record) (*arrow.Schema, error) {
	if p.fieldOrder == nil {
		p.fieldOrder = make([]string, 0, len(record))
		for name := range record {
			p.fieldOrder = append(p.fieldOrder, name)
		}
		sort.Strings(p.fieldOrder)
	}

	fields := make([]arrow.Field, 0, len(p.fieldOrder))
	for _, name := range p.fieldOrder {
		dataType, err := inferArrowType(normalizeValue(record[name]))
		if err != nil {
			return nil, &ParquetWriterError{Op: "schema", Err: fmt.Errorf("field %s: %w", name, err)}
		}
		fields = append(fields, arrow.Field{Name: name, Type: dataType, Nullable: true})
	}
	return p.newSchema(fields), nil
}

func (p *ParquetWriter) openWriter(schema *arrow.Schema) error {
	props := parquet.NewWriterProperties(
		parquet.WithCompression(p.opts.Compression),
		parquet.WithMaxRowGroupLength(p.opts.RowGroupSize),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, p.file, props, arrowProps)
	if err != nil {
		return &ParquetWriterError{Op: "create_writer", Err: err}
	}
	p.schema = schema
	p.writer = writer
	return nil
}

// inferArrowType infers the Arrow data type from a Go value.
func inferArrowType(value interface{}) (arrow.DataType, error) {
	switch value.(type) {
	case nil, string, json.Number, decimal.Decimal:
		return arrow.BinaryTypes.String, nil
	case bool:
		return arrow.FixedWidthTypes.Boolean, nil
	case int32:
		return arrow.PrimitiveTypes.Int32, nil
	case int, int64:
		return arrow.PrimitiveTypes.Int64, nil
	case float32, float64:
		return arrow.PrimitiveTypes.Float64, nil
	case time.Time:
		return arrow.FixedWidthTypes.Timestamp_us, nil
	case []byte:
		return arrow.BinaryTypes.Binary, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}

// flushBatch writes the current buffer as one Arrow record batch.
func (p *ParquetWriter) flushBatch() error {
	if len(p.recordBuffer) == 0 || p.writer == nil {
		return nil
	}
	start := time.Now()

	builder := array.NewRecordBuilder(p.allocator, p.schema)
	defer builder.Release()

	for _, record := range p.recordBuffer {
		for i, name := range p.fieldOrder {
			value := normalizeValue(record[name])
			if value == nil {
				builder.Field(i).AppendNull()
				p.stats.NullValueCounts[name]++
				continue
			}
			if err := p.appendValue(builder.Field(i), value, name); err != nil {
				return err
			}
		}
	}

	rec := builder.NewRecord()
	defer rec.Release()

	if err := p.writer.Write(rec); err != nil {
		return &ParquetWriterError{Op: "write_batch", Err: err}
	}

	p.stats.BatchesWritten++
	p.stats.FlushDuration += time.Since(start)
	p.stats.LastFlushTime = time.Now()
	p.recordBuffer = p.recordBuffer[:0]
	return nil
}

// appendValue appends a non-null value; a value the column type cannot hold is stored as null.
func (p *ParquetWriter) appendValue(builder array.Builder, value interface{}, fieldName string) error {
	appended := true

	switch b := builder.(type) {
	case *array.StringBuilder:
		b.Append(FormatValue(value))
	case *array.BooleanBuilder:
		v, ok := value.(bool)
		if appended = ok; ok {
			b.Append(v)
		}
	case *array.Int32Builder:
		switch v := value.(type) {
		case int32:
			b.Append(v)
		case int:
			if v < math.MinInt32 || v > math.MaxInt32 {
				return &ParquetWriterError{Op: "append_value", Err: fmt.Errorf("int value %d out of range for int32 field %s", v, fieldName)}
			}
			b.Append(int32(v))
		default:
			appended = false
		}
	case *array.Int64Builder:
		switch v := value.(type) {
		case int64:
			b.Append(v)
		case int:
			b.Append(int64(v))
		case int32:
			b.Append(int64(v))
		default:
			appended = false
		}
	case *array.Float64Builder:
		switch v := value.(type) {
		case float64:
			b.Append(v)
		case float32:
			b.Append(float64(v))
		case decimal.Decimal:
			f, _ := v.Float64()
			b.Append(f)
		default:
			appended = false
		}
	case *array.TimestampBuilder:
		v, ok := value.(time.Time)
		if appended = ok; ok {
			b.Append(arrow.Timestamp(v.UnixMicro()))
		}
	case *array.BinaryBuilder:
		v, ok := value.([]byte)
		if appended = ok; ok {
			b.Append(v)
		}
	default:
		return &ParquetWriterError{Op: "append_value", Err: fmt.Errorf("unsupported builder type for field %s", fieldName)}
	}

	if !appended {
		builder.AppendNull()
		p.stats.NullValueCounts[fieldName]++
	}
	return nil
}
