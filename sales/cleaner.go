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
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronlmathis/salesflow"
	"github.com/aaronlmathis/salesflow/filter"
	"github.com/aaronlmathis/salesflow/readers"
	"github.com/aaronlmathis/salesflow/transform"
)

// Drop reasons reported in CleanStats, one per cleaning stage.
const (
	DropMissingAmount  = "missing_amount"
	DropMissingDate    = "missing_date"
	DropDuplicateOrder = "duplicate_order"
	DropInvalidDate    = "invalid_date"
	DropInvalidAmount  = "invalid_amount"
	DropNegativeAmount = "negative_amount"
	DropMalformedRow   = "malformed_row"
)

// CleanStats counts what the Cleaner did to a batch.
type CleanStats struct {
	Read    int
	Kept    int
	Dropped map[string]int
}

// DroppedTotal returns the number of rows excluded for any reason.
func (s CleanStats) DroppedTotal() int {
	total := 0
	for _, n := range s.Dropped {
		total += n
	}
	return total
}

// Cleaner turns raw sales rows into SaleRecords. Keys are trimmed and the currency
// upper-cased first, then stages run in this order: required fields, dedup by OrderID
// keeping the first row in input order, date parse, amount coercion, non-negative
// amount. A row failing any stage is excluded, never raised.
type Cleaner struct {
	DateLayout string
	Logger     *slog.Logger
}

// NewCleaner returns a Cleaner parsing OrderDate with layout.
func NewCleaner(layout string, logger *slog.Logger) *Cleaner {
	if layout == "" {
		layout = DefaultDateLayout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cleaner{DateLayout: layout, Logger: logger}
}

// Clean drains source and returns the cleaned batch. Malformed rows reported by the
// source are counted and skipped; any other read failure is returned.
func (c *Cleaner) Clean(ctx context.Context, source salesflow.DataSource) ([]SaleRecord, CleanStats, error) {
	stats := CleanStats{Dropped: make(map[string]int)}
	sink := salesflow.NewSliceSink()

	pipeline, err := salesflow.NewPipeline().
		From(source).
		Transform(transform.TrimSpace(FieldOrderID, FieldProductID, FieldCurrency)).
		Transform(transform.ToUpper(FieldCurrency)).
		FilterAs(DropMissingAmount, filter.NotNull(FieldSaleAmount)).
		FilterAs(DropMissingDate, filter.NotNull(FieldOrderDate)).
		FilterAs(DropDuplicateOrder, filter.Distinct(FieldOrderID)).
		TransformAs(DropInvalidDate, transform.ParseTimeInto(FieldOrderDate, FieldOrderDateParsed, c.DateLayout)).
		TransformAs(DropInvalidAmount, transform.ToDecimal(FieldSaleAmount)).
		FilterAs(DropNegativeAmount, filter.NonNegative(FieldSaleAmount)).
		To(sink).
		WithErrorStrategy(salesflow.SkipErrors).
		WithErrorHandler(salesflow.ErrorHandlerFunc(func(ctx context.Context, record salesflow.Record, err error) error {
			var stageErr *salesflow.StageError
			if errors.As(err, &stageErr) && stageErr.Stage == salesflow.ReadStage {
				if !isMalformedRow(stageErr.Err) {
					return err
				}
				c.Logger.Debug("skipping malformed row", "error", stageErr.Err)
				return nil
			}
			c.Logger.Debug("dropping row", "order_id", record[FieldOrderID], "error", err)
			return nil
		})).
		Build()
	if err != nil {
		return nil, stats, err
	}

	if err := pipeline.Execute(ctx); err != nil {
		return nil, stats, fmt.Errorf("clean sales: %w", err)
	}

	pstats := pipeline.Stats()
	for reason, n := range pstats.Filtered {
		stats.Dropped[reason] += int(n)
	}
	for stage, n := range pstats.Failed {
		if stage == salesflow.ReadStage {
			stage = DropMalformedRow
		}
		stats.Dropped[stage] += int(n)
	}
	stats.Read = int(pstats.RecordsRead) + stats.Dropped[DropMalformedRow]

	records := sink.Records()
	out := make([]SaleRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, saleFromRecord(rec))
	}
	stats.Kept = len(out)

	c.Logger.Info("cleaned sales batch", "read", stats.Read, "kept", stats.Kept, "dropped", stats.Dropped)
	return out, stats, nil
}

// ExtraFields returns the sorted input columns outside the SaleRecord fields. Input
// columns named like a derived output column are not carried.
func ExtraFields(records []SaleRecord) []string {
	set := make(map[string]struct{})
	for _, rec := range records {
		for field := range rec.Extra {
			set[field] = struct{}{}
		}
	}
	fields := make([]string, 0, len(set))
	for field := range set {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// isMalformedRow reports read errors that affect a single row only.
func isMalformedRow(err error) bool {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return true
	}
	var jsonErr *readers.JSONReaderError
	return errors.As(err, &jsonErr) && jsonErr.Op == "decode"
}

func saleFromRecord(rec salesflow.Record) SaleRecord {
	sale := SaleRecord{
		OrderID:    stringValue(rec[FieldOrderID]),
		ProductID:  stringValue(rec[FieldProductID]),
		SaleAmount: rec[FieldSaleAmount].(decimal.Decimal),
		Currency:   stringValue(rec[FieldCurrency]),
		OrderDate:  stringValue(rec[FieldOrderDate]),
	}
	sale.OrderDateParsed, _ = rec[FieldOrderDateParsed].(time.Time)

	for field, value := range rec {
		if isSaleField(field) || isOutputField(field) {
			continue
		}
		if sale.Extra == nil {
			sale.Extra = make(salesflow.Record)
		}
		sale.Extra[field] = value
	}
	return sale
}

func isSaleField(field string) bool {
	for _, f := range saleFields {
		if f == field {
			return true
		}
	}
	return false
}

func stringValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}
