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
	"database/sql"
	"fmt"
	"io"
	"reflect"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/lib/pq"              // PostgreSQL driver
	_ "modernc.org/sqlite"             // SQLite driver

	"github.com/aaronlmathis/salesflow"
)

// Package readers provides implementations of salesflow.DataSource for reading data from various sources.
//
// This file implements a SQL query reader over database/sql. The query runs when the reader
// is created; rows are streamed on Read.

// SQLReaderError provides structured error information for SQL reader operations
type SQLReaderError struct {
	Op  string // Operation that failed (e.g., "connect", "query", "scan", "read")
	Err error  // Underlying error
}

func (e *SQLReaderError) Error() string {
	return fmt.Sprintf("sql reader %s: %v", e.Op, e.Err)
}

func (e *SQLReaderError) Unwrap() error {
	return e.Err
}

// SQLReaderStats holds statistics about the SQL reader's performance
type SQLReaderStats struct {
	RecordsRead     int64
	QueryDuration   time.Duration
	ReadDuration    time.Duration
	LastReadTime    time.Time
	NullValueCounts map[string]int64
	ConnectionTime  time.Duration
}

// SQLReaderOptions configures the SQL reader
type SQLReaderOptions struct {
	Driver          string        // database/sql driver name: postgres, mysql or sqlite
	DSN             string        // Database connection string
	Query           string        // SQL query to execute
	Params          []interface{} // Optional query parameters
	ConnMaxLifetime time.Duration // Maximum connection lifetime
	MaxOpenConns    int           // Maximum open connections
	QueryTimeout    time.Duration // Bounds connect and query execution
	DB              *sql.DB       // Existing handle; the reader will not close it
}

// SQLReaderOption represents a configuration function for SQLReaderOptions
type SQLReaderOption func(*SQLReaderOptions)

// WithSQLDriver sets the database/sql driver name.
func WithSQLDriver(driver string) SQLReaderOption {
	return func(opts *SQLReaderOptions) {
		opts.Driver = driver
	}
}

// WithSQLDSN sets the connection string.
func WithSQLDSN(dsn string) SQLReaderOption {
	return func(opts *SQLReaderOptions) {
		opts.DSN = dsn
	}
}

// WithSQLQuery sets the SQL query and optional parameters.
func WithSQLQuery(query string, params ...interface{}) SQLReaderOption {
	return func(opts *SQLReaderOptions) {
		opts.Query = query
		if len(params) > 0 {
			opts.Params = make([]interface{}, len(params))
			copy(opts.Params, params)
		}
	}
}

// WithSQLQueryTimeout sets the query execution timeout.
func WithSQLQueryTimeout(timeout time.Duration) SQLReaderOption {
	return func(opts *SQLReaderOptions) {
		opts.QueryTimeout = timeout
	}
}

// WithSQLDB reuses an open database handle instead of opening one from the DSN.
func WithSQLDB(db *sql.DB) SQLReaderOption {
	return func(opts *SQLReaderOptions) {
		opts.DB = db
	}
}

// SQLReader implements salesflow.DataSource for SQL query results.
type SQLReader struct {
	mu          sync.Mutex
	db          *sql.DB
	ownsDB      bool
	rows        *sql.Rows
	columnNames []string
	columnTypes []*sql.ColumnType
	scanBuffer  []interface{}
	values      []interface{}
	stats       SQLReaderStats
	opts        *SQLReaderOptions
	isFinished  bool
}

// NewSQLReader opens the database (unless a handle is supplied), runs the query and
// returns a reader positioned before the first row.
func NewSQLReader(ctx context.Context, options ...SQLReaderOption) (*SQLReader, error) {
	opts := (&SQLReaderOptions{}).withDefaults()
	for _, option := range options {
		option(opts)
	}

	if opts.Query == "" {
		return nil, &SQLReaderError{Op: "validate", Err: fmt.Errorf("query is required")}
	}

	reader := &SQLReader{
		opts:  opts,
		stats: SQLReaderStats{NullValueCounts: make(map[string]int64)},
	}

	queryCtx, cancel := context.WithTimeout(ctx, opts.QueryTimeout)
	defer cancel()

	startTime := time.Now()
	if opts.DB != nil {
		reader.db = opts.DB
	} else {
		if opts.DSN == "" {
			return nil, &SQLReaderError{Op: "validate", Err: fmt.Errorf("dsn is required")}
		}
		db, err := sql.Open(opts.Driver, opts.DSN)
		if err != nil {
			return nil, &SQLReaderError{Op: "connect", Err: err}
		}
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
		if err := db.PingContext(queryCtx); err != nil {
			db.Close()
			return nil, &SQLReaderError{Op: "ping", Err: err}
		}
		reader.db = db
		reader.ownsDB = true
	}
	reader.stats.ConnectionTime = time.Since(startTime)

	// The rows outlive queryCtx, so the query itself runs on the caller's context.
	if err := reader.executeQuery(ctx); err != nil {
		reader.Close()
		return nil, err
	}

	return reader, nil
}

// Stats returns statistics about the SQL reader's performance
func (p *SQLReader) Stats() SQLReaderStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	statsCopy := p.stats
	statsCopy.NullValueCounts = make(map[string]int64, len(p.stats.NullValueCounts))
	for k, v := range p.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

// Read implements the salesflow.DataSource interface.
func (p *SQLReader) Read(ctx context.Context) (salesflow.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	startTime := time.Now()
	defer func() {
		p.stats.ReadDuration += time.Since(startTime)
		p.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return nil, &SQLReaderError{Op: "read", Err: ctx.Err()}
	default:
	}

	if p.isFinished || p.rows == nil {
		return nil, io.EOF
	}

	if !p.rows.Next() {
		if err := p.rows.Err(); err != nil {
			return nil, &SQLReaderError{Op: "read", Err: err}
		}
		p.isFinished = true
		return nil, io.EOF
	}

	if err := p.rows.Scan(p.scanBuffer...); err != nil {
		return nil, &SQLReaderError{Op: "scan", Err: err}
	}

	p.stats.RecordsRead++
	return p.convertRowToRecord(), nil
}

// Close releases all resources held by the reader
func (p *SQLReader) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error

	if p.rows != nil {
		if err := p.rows.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing rows: %w", err))
		}
		p.rows = nil
	}

	if p.db != nil && p.ownsDB {
		if err := p.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
	}
	p.db = nil

	if len(errs) > 0 {
		return &SQLReaderError{Op: "close", Err: fmt.Errorf("multiple errors: %v", errs)}
	}
	return nil
}

// Schema returns a map of column name to database type name.
func (p *SQLReader) Schema() map[string]string {
	schema := make(map[string]string)
	for i, name := range p.columnNames {
		if i < len(p.columnTypes) {
			schema[name] = p.columnTypes[i].DatabaseTypeName()
		}
	}
	return schema
}

func (opts *SQLReaderOptions) withDefaults() *SQLReaderOptions {
	result := &SQLReaderOptions{}
	if opts != nil {
		*result = *opts
	}

	if result.Driver == "" {
		result.Driver = "postgres"
	}
	if result.QueryTimeout <= 0 {
		result.QueryTimeout = 30 * time.Second
	}
	if result.ConnMaxLifetime <= 0 {
		result.ConnMaxLifetime = 5 * time.Minute
	}
	if result.MaxOpenConns <= 0 {
		result.MaxOpenConns = 4
	}
	return result
}

func (p *SQLReader) executeQuery(ctx context.Context) error {
	startTime := time.Now()

	rows, err := p.db.QueryContext(ctx, p.opts.Query, p.opts.Params...)
	if err != nil {
		return &SQLReaderError{Op: "query", Err: err}
	}
	p.rows = rows
	p.stats.QueryDuration = time.Since(startTime)

	columnNames, err := rows.Columns()
	if err != nil {
		return &SQLReaderError{Op: "columns", Err: err}
	}
	p.columnNames = columnNames

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return &SQLReaderError{Op: "column_types", Err: err}
	}
	p.columnTypes = columnTypes

	p.scanBuffer = make([]interface{}, len(columnNames))
	p.values = make([]interface{}, len(columnNames))
	for i := range p.scanBuffer {
		p.scanBuffer[i] = &p.values[i]
	}
	return nil
}

// convertSQLValue converts SQL driver values to plain Go types. Byte slices from text
// columns become strings; binary columns stay []byte.
func convertSQLValue(value interface{}, colType *sql.ColumnType) interface{} {
	if b, ok := value.([]byte); ok {
		switch colType.DatabaseTypeName() {
		case "BYTEA", "BLOB", "BINARY", "VARBINARY":
			return b
		default:
			return string(b)
		}
	}

	switch v := value.(type) {
	case time.Time, bool, int64, float64, string:
		return v
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32:
			return rv.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return int64(rv.Uint())
		case reflect.Float32:
			return rv.Float()
		default:
			return fmt.Sprintf("%v", v)
		}
	}
}

func (p *SQLReader) convertRowToRecord() salesflow.Record {
	record := make(salesflow.Record, len(p.columnNames))

	for i, columnName := range p.columnNames {
		value := p.values[i]
		if value == nil {
			p.stats.NullValueCounts[columnName]++
			record[columnName] = nil
			continue
		}
		record[columnName] = convertSQLValue(value, p.columnTypes[i])
	}

	return record
}
