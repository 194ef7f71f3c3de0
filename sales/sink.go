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

package sales

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/apache/arrow/go/v12/arrow"
	"github.com/shopspring/decimal"

	"github.com/aaronlmathis/salesflow"
	"github.com/aaronlmathis/salesflow/writers"
)

// Sink targets, in write order.
const (
	TargetAcceptedTable    = "accepted_table"
	TargetAuditArtifact    = "audit_artifact"
	TargetRejectedTable    = "rejected_table"
	TargetRejectedArtifact = "rejected_artifact"
)

// SinkError reports the target whose write failed.
type SinkError struct {
	Target string
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("sink %s: %v", e.Target, e.Err)
}

func (e *SinkError) Unwrap() error {
	return e.Err
}

// TableWriter appends a batch to a table atomically.
type TableWriter interface {
	WriteAll(ctx context.Context, records []salesflow.Record) error
	Close() error
}

// ArtifactWriter replaces an artifact with a batch and returns the written file path.
type ArtifactWriter interface {
	WriteAll(ctx context.Context, records []salesflow.Record) (string, error)
}

// SinkWriter performs the four writes of a run. Targets are written one after the other;
// the first failure stops the sequence.
type SinkWriter struct {
	AcceptedTable    TableWriter
	AuditArtifact    ArtifactWriter
	RejectedTable    TableWriter
	RejectedArtifact ArtifactWriter
	Layout           Layout
	Logger           *slog.Logger
}

// SinkReport describes what a SinkWriter wrote.
type SinkReport struct {
	AcceptedRows int
	RejectedRows int
	AuditPath    string
	RejectedPath string
}

// Write persists accepted and rejected rows to all four targets.
func (s *SinkWriter) Write(ctx context.Context, accepted []ConvertedRecord, rejected []RejectedRecord) (SinkReport, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	report := SinkReport{AcceptedRows: len(accepted), RejectedRows: len(rejected)}

	acceptedRows := make([]salesflow.Record, len(accepted))
	auditRows := make([]salesflow.Record, len(accepted))
	for i, rec := range accepted {
		acceptedRows[i] = rec.Record(s.Layout)
		auditRows[i] = rec.AuditRecord()
	}
	rejectedRows := make([]salesflow.Record, len(rejected))
	for i, rec := range rejected {
		rejectedRows[i] = rec.Record(s.Layout)
	}

	if err := s.AcceptedTable.WriteAll(ctx, acceptedRows); err != nil {
		return report, &SinkError{Target: TargetAcceptedTable, Err: err}
	}
	logger.Info("wrote accepted rows", "target", TargetAcceptedTable, "rows", len(acceptedRows))

	path, err := s.AuditArtifact.WriteAll(ctx, auditRows)
	if err != nil {
		return report, &SinkError{Target: TargetAuditArtifact, Err: err}
	}
	report.AuditPath = path
	logger.Info("wrote conversion audit", "target", TargetAuditArtifact, "rows", len(auditRows), "path", path)

	if err := s.RejectedTable.WriteAll(ctx, rejectedRows); err != nil {
		return report, &SinkError{Target: TargetRejectedTable, Err: err}
	}
	logger.Info("wrote rejected rows", "target", TargetRejectedTable, "rows", len(rejectedRows))

	path, err = s.RejectedArtifact.WriteAll(ctx, rejectedRows)
	if err != nil {
		return report, &SinkError{Target: TargetRejectedArtifact, Err: err}
	}
	report.RejectedPath = path
	logger.Info("wrote rejection export", "target", TargetRejectedArtifact, "rows", len(rejectedRows), "path", path)

	return report, nil
}

// Close releases the table writers.
func (s *SinkWriter) Close() error {
	var errs []error
	for _, tw := range []TableWriter{s.AcceptedTable, s.RejectedTable} {
		if tw == nil {
			continue
		}
		if err := tw.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// SinkConfig locates the four targets.
type SinkConfig struct {
	DB             *sql.DB
	Dialect        writers.Dialect
	AcceptedTable  string
	RejectedTable  string
	CreateTables   bool
	AuditDir       string
	AuditFormat    writers.OutputFormat
	RejectedDir    string
	RejectedFormat writers.OutputFormat
}

// NewSinkWriter builds SQL table writers on cfg.DB and staged artifact writers for layout.
// The database handle stays owned by the caller.
func NewSinkWriter(cfg SinkConfig, layout Layout, runID string, logger *slog.Logger) (*SinkWriter, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	accepted, err := newTableWriter(cfg, cfg.AcceptedTable, layout.AcceptedColumns())
	if err != nil {
		return nil, &SinkError{Target: TargetAcceptedTable, Err: err}
	}
	rejected, err := newTableWriter(cfg, cfg.RejectedTable, layout.RejectedColumns())
	if err != nil {
		accepted.Close()
		return nil, &SinkError{Target: TargetRejectedTable, Err: err}
	}

	return &SinkWriter{
		AcceptedTable:    accepted,
		AuditArtifact:    writers.NewArtifactWriter(cfg.AuditDir, cfg.AuditFormat, auditShape(), runID, logger),
		RejectedTable:    rejected,
		RejectedArtifact: writers.NewArtifactWriter(cfg.RejectedDir, cfg.RejectedFormat, writers.FileSinkOptions{Columns: layout.RejectedColumns()}, runID, logger),
		Layout:           layout,
		Logger:           logger,
	}, nil
}

func newTableWriter(cfg SinkConfig, table string, columns []string) (*writers.SQLWriter, error) {
	return writers.NewSQLWriter(
		writers.WithDB(cfg.DB),
		writers.WithDialect(cfg.Dialect),
		writers.WithTableName(table),
		writers.WithColumns(columns),
		writers.WithColumnTypes(columnTypes(cfg.Dialect, columns)),
		writers.WithCreateTable(cfg.CreateTables),
	)
}

// columnTypes types the known columns; every other column is text.
func columnTypes(d writers.Dialect, columns []string) map[string]string {
	types := make(map[string]string, len(columns))
	for _, col := range columns {
		switch col {
		case FieldSaleAmount, FieldSaleAmountUSD:
			types[col] = d.ColumnType(decimal.Zero)
		case FieldOrderDateParsed, FieldConversionTime, FieldRejectedAt:
			types[col] = d.ColumnType(time.Time{})
		default:
			types[col] = d.ColumnType("")
		}
	}
	return types
}

// auditShape fixes the audit artifact schema, including for Parquet when the batch is empty.
func auditShape() writers.FileSinkOptions {
	return writers.FileSinkOptions{
		Columns: AuditColumns,
		Schema: arrow.NewSchema([]arrow.Field{
			{Name: FieldOrderID, Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: FieldCurrency, Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: FieldSaleAmount, Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: FieldSaleAmountUSD, Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: FieldConversionTime, Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: true},
		}, nil),
	}
}
