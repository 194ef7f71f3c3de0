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
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/aaronlmathis/salesflow"
)

// Package writers provides implementations of salesflow.DataSink for writing data to various destinations.
//
// This file implements a SQL table writer for PostgreSQL, MySQL and SQLite. It supports
// batching, table creation, conflict resolution, and an all-or-nothing WriteAll.

// SQLWriterError wraps SQL-specific write errors with context about the operation.
type SQLWriterError struct {
	Op    string // The operation being performed (e.g., "write", "connect", "commit")
	Table string // Target table
	Err   error  // The underlying error
}

// Error returns the error string for SQLWriterError.
func (e *SQLWriterError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("sql writer %s [%s]: %v", e.Op, e.Table, e.Err)
	}
	return fmt.Sprintf("sql writer %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for SQLWriterError.
func (e *SQLWriterError) Unwrap() error {
	return e.Err
}

// Dialect names a database/sql driver and the SQL flavor that goes with it.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// ParseDialect maps a driver name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	case "mysql", "mariadb":
		return DialectMySQL, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("unsupported database driver %q", name)
	}
}

// Placeholder returns the bind parameter for the 1-based position i.
func (d Dialect) Placeholder(i int) string {
	if d == DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// QuoteIdent quotes a table or column name.
func (d Dialect) QuoteIdent(name string) string {
	if d == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ColumnType infers a column type from a Go value.
func (d Dialect) ColumnType(value interface{}) string {
	switch value.(type) {
	case bool:
		if d == DialectSQLite {
			return "INTEGER"
		}
		return "BOOLEAN"
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		if d == DialectSQLite {
			return "INTEGER"
		}
		return "BIGINT"
	case float32, float64:
		switch d {
		case DialectPostgres:
			return "DOUBLE PRECISION"
		case DialectMySQL:
			return "DOUBLE"
		default:
			return "REAL"
		}
	case decimal.Decimal:
		switch d {
		case DialectPostgres:
			return "NUMERIC"
		case DialectMySQL:
			return "DECIMAL(38,18)"
		default:
			// SQLite's NUMERIC affinity would round through float64.
			return "TEXT"
		}
	case time.Time:
		switch d {
		case DialectPostgres:
			return "TIMESTAMPTZ"
		case DialectMySQL:
			return "DATETIME(6)"
		default:
			return "TIMESTAMP"
		}
	case []byte:
		if d == DialectPostgres {
			return "BYTEA"
		}
		return "BLOB"
	default:
		return "TEXT"
	}
}

// SQLWriterStats holds SQL write performance statistics.
type SQLWriterStats struct {
	RecordsWritten   int64            // Total records written
	BatchesWritten   int64            // Number of batches written
	TransactionCount int64            // Number of transactions committed
	LastWriteTime    time.Time        // Time of last write
	WriteDuration    time.Duration    // Total time spent writing
	ConnectionTime   time.Duration    // Time spent establishing connection
	NullValueCounts  map[string]int64 // Count of null values per column
	ConflictCount    int64            // Number of conflicts encountered
}

// ConflictResolution defines how to handle INSERT conflicts.
type ConflictResolution int

const (
	// ConflictError returns an error on conflict.
	ConflictError ConflictResolution = iota
	// ConflictIgnore skips conflicting rows.
	ConflictIgnore
	// ConflictUpdate updates conflicting rows.
	ConflictUpdate
)

// SQLWriterOptions configures the SQL writer.
type SQLWriterOptions struct {
	Dialect            Dialect            // SQL flavor and driver
	DSN                string             // Connection string
	DB                 *sql.DB            // Existing handle; the writer will not close it
	TableName          string             // Target table name
	Columns            []string           // Columns to write (order matters)
	ColumnTypes        map[string]string  // Explicit column types for table creation
	BatchSize          int                // Number of records per batch
	CreateTable        bool               // Create table if not exists
	TruncateTable      bool               // Empty the table before writing
	ConflictResolution ConflictResolution // Conflict handling strategy
	ConflictColumns    []string           // Columns that define uniqueness for conflict resolution
	UpdateColumns      []string           // Columns to update on conflict (for ConflictUpdate)
	TransactionMode    bool               // Wrap batches in transactions
	ConnMaxLifetime    time.Duration      // Max connection lifetime
	MaxOpenConns       int                // Max open connections
	QueryTimeout       time.Duration      // Timeout for connect and each flush
}

// SQLWriterOption represents a configuration function for SQLWriterOptions.
type SQLWriterOption func(*SQLWriterOptions)

// WithDialect sets the SQL dialect.
func WithDialect(dialect Dialect) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.Dialect = dialect
	}
}

// WithDSN sets the connection string.
func WithDSN(dsn string) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.DSN = dsn
	}
}

// WithDB reuses an open database handle.
func WithDB(db *sql.DB) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.DB = db
	}
}

// WithTableName sets the target table name.
func WithTableName(tableName string) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.TableName = tableName
	}
}

// WithColumns sets the columns to write.
func WithColumns(columns []string) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.Columns = append([]string(nil), columns...)
	}
}

// WithColumnTypes sets explicit column types used by table creation.
func WithColumnTypes(types map[string]string) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.ColumnTypes = make(map[string]string, len(types))
		for k, v := range types {
			opts.ColumnTypes[k] = v
		}
	}
}

// WithSQLBatchSize sets the batch size for streaming writes.
func WithSQLBatchSize(size int) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.BatchSize = size
	}
}

// WithCreateTable enables or disables table creation.
func WithCreateTable(create bool) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.CreateTable = create
	}
}

// WithTruncateTable enables or disables table truncation before writing.
func WithTruncateTable(truncate bool) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.TruncateTable = truncate
	}
}

// WithConflictResolution sets the conflict resolution strategy and columns.
func WithConflictResolution(resolution ConflictResolution, conflictCols, updateCols []string) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.ConflictResolution = resolution
		opts.ConflictColumns = append([]string(nil), conflictCols...)
		opts.UpdateColumns = append([]string(nil), updateCols...)
	}
}

// WithTransactionMode enables or disables transaction wrapping for streaming batches.
func WithTransactionMode(enabled bool) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.TransactionMode = enabled
	}
}

// WithQueryTimeout sets the query timeout.
func WithQueryTimeout(timeout time.Duration) SQLWriterOption {
	return func(opts *SQLWriterOptions) {
		opts.QueryTimeout = timeout
	}
}

// SQLWriter implements salesflow.DataSink for SQL tables.
type SQLWriter struct {
	db          *sql.DB
	ownsDB      bool
	options     SQLWriterOptions
	columns     []string
	recordBuf   []salesflow.Record
	stats       SQLWriterStats
	initialized bool
	errorState  bool
	mu          sync.Mutex
}

// NewSQLWriter creates a new SQL writer with the given options.
func NewSQLWriter(opts ...SQLWriterOption) (*SQLWriter, error) {
	options := (&SQLWriterOptions{}).withDefaults()
	for _, opt := range opts {
		opt(options)
	}

	if err := validateOptions(options); err != nil {
		return nil, &SQLWriterError{Op: "validate", Table: options.TableName, Err: err}
	}

	writer := &SQLWriter{
		options:   *options,
		columns:   append([]string(nil), options.Columns...),
		recordBuf: make([]salesflow.Record, 0, options.BatchSize),
		stats:     SQLWriterStats{NullValueCounts: make(map[string]int64)},
	}

	if options.DB != nil {
		writer.db = options.DB
	} else if err := writer.connect(); err != nil {
		return nil, &SQLWriterError{Op: "connect", Table: options.TableName, Err: err}
	}

	return writer, nil
}

// Stats returns a copy of the current write statistics.
func (w *SQLWriter) Stats() SQLWriterStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	statsCopy := w.stats
	statsCopy.NullValueCounts = make(map[string]int64)
	for k, v := range w.stats.NullValueCounts {
		statsCopy.NullValueCounts[k] = v
	}
	return statsCopy
}

// WriteAll inserts records inside a single transaction: either every row is committed
// or none is. An empty batch writes nothing, though the table is still created when
// table creation is enabled and the columns are known.
func (w *SQLWriter) WriteAll(ctx context.Context, records []salesflow.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.errorState {
		return &SQLWriterError{Op: "write_all", Table: w.options.TableName, Err: fmt.Errorf("writer is in error state")}
	}

	if !w.initialized {
		if len(records) == 0 && len(w.columns) == 0 {
			return nil
		}
		if err := w.initializeUnsafe(ctx, records); err != nil {
			return &SQLWriterError{Op: "initialize", Table: w.options.TableName, Err: err}
		}
	}
	if len(records) == 0 {
		return nil
	}

	for _, record := range records {
		w.trackNulls(record)
	}
	if err := w.insertTx(ctx, records); err != nil {
		return &SQLWriterError{Op: "write_all", Table: w.options.TableName, Err: err}
	}
	w.stats.RecordsWritten += int64(len(records))
	return nil
}

// Write implements the salesflow.DataSink interface.
// Buffers records and writes in batches. Thread-safe.
func (w *SQLWriter) Write(ctx context.Context, record salesflow.Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.errorState {
		return &SQLWriterError{Op: "write", Table: w.options.TableName, Err: fmt.Errorf("writer is in error state")}
	}

	if !w.initialized {
		if err := w.initializeUnsafe(ctx, []salesflow.Record{record}); err != nil {
			w.errorState = true
			return &SQLWriterError{Op: "initialize", Table: w.options.TableName, Err: err}
		}
	}

	w.trackNulls(record)
	w.recordBuf = append(w.recordBuf, record)
	w.stats.RecordsWritten++

	if len(w.recordBuf) >= w.options.BatchSize {
		if err := w.flushBufferUnsafe(ctx); err != nil {
			w.errorState = true
			return &SQLWriterError{Op: "flush_batch", Table: w.options.TableName, Err: err}
		}
	}
	return nil
}

// Flush implements the salesflow.DataSink interface.
func (w *SQLWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), w.options.QueryTimeout)
	defer cancel()

	if err := w.flushBufferUnsafe(ctx); err != nil {
		return &SQLWriterError{Op: "flush", Table: w.options.TableName, Err: err}
	}
	return nil
}

// Close implements the salesflow.DataSink interface. A handle supplied with WithDB is left open.
func (w *SQLWriter) Close() error {
	flushErr := w.Flush()

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.db != nil && w.ownsDB {
		if err := w.db.Close(); err != nil && flushErr == nil {
			return &SQLWriterError{Op: "close", Table: w.options.TableName, Err: err}
		}
	}
	w.db = nil
	return flushErr
}

func (opts *SQLWriterOptions) withDefaults() *SQLWriterOptions {
	if opts.Dialect == "" {
		opts.Dialect = DialectPostgres
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1000
	}
	if opts.QueryTimeout == 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	if opts.ConnMaxLifetime == 0 {
		opts.ConnMaxLifetime = 5 * time.Minute
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 10
	}
	return opts
}

func validateOptions(opts *SQLWriterOptions) error {
	if opts.DSN == "" && opts.DB == nil {
		return fmt.Errorf("dsn or db handle is required")
	}
	if opts.TableName == "" {
		return fmt.Errorf("table name is required")
	}
	if _, err := ParseDialect(string(opts.Dialect)); err != nil {
		return err
	}
	if opts.ConflictResolution == ConflictUpdate && len(opts.UpdateColumns) == 0 {
		return fmt.Errorf("update columns required for conflict update resolution")
	}
	if opts.ConflictResolution != ConflictError && opts.Dialect != DialectMySQL && len(opts.ConflictColumns) == 0 {
		return fmt.Errorf("conflict columns required for conflict resolution")
	}
	return nil
}

func (w *SQLWriter) connect() error {
	start := time.Now()

	db, err := sql.Open(string(w.options.Dialect), w.options.DSN)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(w.options.MaxOpenConns)
	db.SetConnMaxLifetime(w.options.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), w.options.QueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	w.db = db
	w.ownsDB = true
	w.stats.ConnectionTime = time.Since(start)
	return nil
}

func (w *SQLWriter) trackNulls(record salesflow.Record) {
	for _, col := range w.columns {
		if normalizeValue(record[col]) == nil {
			w.stats.NullValueCounts[col]++
		}
	}
}

// initializeUnsafe performs one-time initialization (must hold mutex).
func (w *SQLWriter) initializeUnsafe(ctx context.Context, sample []salesflow.Record) error {
	if len(w.columns) == 0 && len(sample) > 0 {
		for key := range sample[0] {
			w.columns = append(w.columns, key)
		}
		sort.Strings(w.columns)
	}

	if w.options.CreateTable {
		if err := w.createTableUnsafe(ctx, sample); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	if w.options.TruncateTable {
		if err := w.truncateTableUnsafe(ctx); err != nil {
			return fmt.Errorf("failed to truncate table: %w", err)
		}
	}

	w.initialized = true
	return nil
}

// createTableUnsafe creates the target table, typing each column from explicit types or
// the first non-null sample value (must hold mutex).
func (w *SQLWriter) createTableUnsafe(ctx context.Context, sample []salesflow.Record) error {
	d := w.options.Dialect
	defs := make([]string, 0, len(w.columns))
	for _, col := range w.columns {
		sqlType, ok := w.options.ColumnTypes[col]
		if !ok {
			sqlType = d.ColumnType(nil)
			for _, record := range sample {
				if v := normalizeValue(record[col]); v != nil {
					sqlType = d.ColumnType(v)
					break
				}
			}
		}
		defs = append(defs, fmt.Sprintf("%s %s", d.QuoteIdent(col), sqlType))
	}

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.QuoteIdent(w.options.TableName), strings.Join(defs, ", "))
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *SQLWriter) truncateTableUnsafe(ctx context.Context) error {
	table := w.options.Dialect.QuoteIdent(w.options.TableName)
	query := "TRUNCATE TABLE " + table
	if w.options.Dialect == DialectSQLite {
		query = "DELETE FROM " + table
	}
	_, err := w.db.ExecContext(ctx, query)
	return err
}

// insertStatement builds the INSERT for the configured dialect and conflict strategy.
func (w *SQLWriter) insertStatement() string {
	d := w.options.Dialect
	quote := func(cols []string) string {
		out := make([]string, len(cols))
		for i, c := range cols {
			out[i] = d.QuoteIdent(c)
		}
		return strings.Join(out, ", ")
	}

	placeholders := make([]string, len(w.columns))
	for i := range placeholders {
		placeholders[i] = d.Placeholder(i + 1)
	}

	verb := "INSERT"
	if d == DialectMySQL && w.options.ConflictResolution == ConflictIgnore {
		verb = "INSERT IGNORE"
	}
	query := fmt.Sprintf("%s INTO %s (%s) VALUES (%s)",
		verb, d.QuoteIdent(w.options.TableName), quote(w.columns), strings.Join(placeholders, ", "))

	switch w.options.ConflictResolution {
	case ConflictIgnore:
		if d != DialectMySQL {
			query += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", quote(w.options.ConflictColumns))
		}
	case ConflictUpdate:
		clauses := make([]string, len(w.options.UpdateColumns))
		for i, col := range w.options.UpdateColumns {
			if d == DialectMySQL {
				clauses[i] = fmt.Sprintf("%s = VALUES(%s)", d.QuoteIdent(col), d.QuoteIdent(col))
			} else {
				clauses[i] = fmt.Sprintf("%s = excluded.%s", d.QuoteIdent(col), d.QuoteIdent(col))
			}
		}
		if d == DialectMySQL {
			query += " ON DUPLICATE KEY UPDATE " + strings.Join(clauses, ", ")
		} else {
			query += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", quote(w.options.ConflictColumns), strings.Join(clauses, ", "))
		}
	}
	return query
}

// insertTx writes records inside one transaction, rolling back on any failure.
func (w *SQLWriter) insertTx(ctx context.Context, records []salesflow.Record) (err error) {
	start := time.Now()

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, w.insertStatement())
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	if err = w.execRows(ctx, stmt, records); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	w.stats.TransactionCount++
	w.stats.BatchesWritten++
	w.stats.LastWriteTime = time.Now()
	w.stats.WriteDuration += time.Since(start)
	return nil
}

func (w *SQLWriter) execRows(ctx context.Context, stmt *sql.Stmt, records []salesflow.Record) error {
	for _, record := range records {
		values := make([]interface{}, len(w.columns))
		for i, col := range w.columns {
			values[i] = convertValue(record[col])
		}

		result, err := stmt.ExecContext(ctx, values...)
		if err != nil {
			return fmt.Errorf("failed to execute insert: %w", err)
		}
		if rowsAffected, err := result.RowsAffected(); err == nil && rowsAffected == 0 {
			w.stats.ConflictCount++
		}
	}
	return nil
}

// flushBufferUnsafe writes buffered records (must hold mutex).
func (w *SQLWriter) flushBufferUnsafe(ctx context.Context) error {
	if len(w.recordBuf) == 0 {
		return nil
	}

	if w.options.TransactionMode {
		if err := w.insertTx(ctx, w.recordBuf); err != nil {
			return err
		}
	} else {
		start := time.Now()
		stmt, err := w.db.PrepareContext(ctx, w.insertStatement())
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		err = w.execRows(ctx, stmt, w.recordBuf)
		stmt.Close()
		if err != nil {
			return err
		}
		w.stats.BatchesWritten++
		w.stats.LastWriteTime = time.Now()
		w.stats.WriteDuration += time.Since(start)
	}

	w.recordBuf = w.recordBuf[:0]
	return nil
}

// convertValue converts Go values to driver-compatible types. driver.Valuer
// implementations, such as decimal.Decimal, pass through.
func convertValue(value interface{}) interface{} {
	value = normalizeValue(value)
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case driver.Valuer, time.Time, bool, int64, float64, string, []byte:
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
