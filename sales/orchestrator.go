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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aaronlmathis/salesflow"
	"github.com/aaronlmathis/salesflow/aggregate"
	"github.com/aaronlmathis/salesflow/currency"
	"github.com/aaronlmathis/salesflow/validators"
)

// Stage names used in run errors.
const (
	StageRates    = "rates"
	StageClean    = "clean"
	StageEnrich   = "enrich"
	StageConvert  = "convert"
	StageValidate = "validate"
	StageWrite    = "write"
)

// RateSource supplies the rates for a run. *currency.Provider implements it.
type RateSource interface {
	Rates(ctx context.Context) (currency.RateMap, currency.Source, error)
}

// StaticRates is a RateSource that always returns the same map.
type StaticRates currency.RateMap

// Rates implements RateSource.
func (s StaticRates) Rates(ctx context.Context) (currency.RateMap, currency.Source, error) {
	return currency.RateMap(s), currency.SourceFallback, nil
}

// SinkOpener creates the sinks for a run once the output layout is known.
type SinkOpener func(ctx context.Context, layout Layout, runID string) (*SinkWriter, error)

// CurrencySummary aggregates accepted rows for one currency.
type CurrencySummary struct {
	Currency      string          `json:"currency"`
	Rows          int64           `json:"rows"`
	SaleAmount    decimal.Decimal `json:"sale_amount"`
	SaleAmountUSD decimal.Decimal `json:"sale_amount_usd"`
	MinUSD        decimal.Decimal `json:"min_sale_amount_usd"`
	MaxUSD        decimal.Decimal `json:"max_sale_amount_usd"`
	FirstOrder    time.Time       `json:"first_order_date"`
	LastOrder     time.Time       `json:"last_order_date"`
	Defaulted     bool            `json:"defaulted_rate"`
}

// RunResult is the outcome of one run. It is returned for failed runs too, filled in
// up to the stage that failed.
type RunResult struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	InputRows     int            `json:"input_rows"`
	CleanedRows   int            `json:"cleaned_rows"`
	DroppedRows   map[string]int `json:"dropped_rows"`
	EnrichedRows  int            `json:"enriched_rows"`
	MatchedRows   int            `json:"matched_rows"`
	ConvertedRows int            `json:"converted_rows"`
	AcceptedRows  int            `json:"accepted_rows"`
	RejectedRows  int            `json:"rejected_rows"`

	Ratio     float64 `json:"rejection_ratio"`
	Threshold float64 `json:"threshold"`

	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abort_reason,omitempty"`

	RateSource currency.Source   `json:"rate_source"`
	Summary    []CurrencySummary `json:"summary,omitempty"`

	AuditPath    string `json:"audit_path,omitempty"`
	RejectedPath string `json:"rejected_path,omitempty"`
}

// Orchestrator runs the pipeline: clean, enrich, convert, partition, check the
// rejection ratio, then write. The ratio is checked before any sink is opened.
type Orchestrator struct {
	Rates     RateSource
	OpenSinks SinkOpener
	// Threshold is the highest rejection ratio that still writes. Zero is a valid
	// setting and aborts on any rejection; use a negative value (or
	// validators.DefaultThreshold) for the default of 0.05.
	Threshold  float64
	DateLayout string
	Workers    int
	Logger     *slog.Logger
	Now        func() time.Time
}

// Run processes one batch. sales is required; products may be nil, in which case no
// row matches a reference.
func (o *Orchestrator) Run(ctx context.Context, sales, products salesflow.DataSource) (*RunResult, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	now := o.Now
	if now == nil {
		now = time.Now
	}

	result := &RunResult{
		RunID:     uuid.NewString(),
		StartedAt: now().UTC(),
		Threshold: o.Threshold,
	}
	logger = logger.With("run_id", result.RunID)
	defer func() { result.FinishedAt = now().UTC() }()

	fail := func(stage string, err error) (*RunResult, error) {
		if products != nil {
			products.Close()
		}
		if result.AbortReason == "" {
			result.AbortReason = err.Error()
		}
		return result, &salesflow.StageError{Stage: stage, Err: err}
	}

	rates, source, err := o.Rates.Rates(ctx)
	if err != nil {
		sales.Close()
		return fail(StageRates, err)
	}
	result.RateSource = source
	logger.Info("loaded exchange rates", "source", source, "currencies", rates.Len())

	cleaned, cleanStats, err := NewCleaner(o.DateLayout, logger).Clean(ctx, sales)
	if err != nil {
		return fail(StageClean, err)
	}
	result.InputRows = cleanStats.Read
	result.CleanedRows = cleanStats.Kept
	result.DroppedRows = cleanStats.Dropped

	var references []salesflow.Record
	if products != nil {
		references, err = salesflow.ReadAll(ctx, products)
		products = nil
		if err != nil {
			return fail(StageEnrich, fmt.Errorf("read product references: %w", err))
		}
	}
	extraFields := ExtraFields(cleaned)
	enricher := NewEnricher(references, extraFields, logger)
	enriched, enrichStats := enricher.Enrich(cleaned)
	result.EnrichedRows = len(enriched)
	result.MatchedRows = enrichStats.Matched

	converter := currency.NewConverter(rates, currency.WithWorkers(o.Workers), currency.WithConverterLogger(logger))
	converted, err := Convert(ctx, converter, enriched, now().UTC())
	if err != nil {
		return fail(StageConvert, err)
	}
	result.ConvertedRows = len(converted)
	logger.Info("converted sales batch", "rows", len(converted))

	accepted, rejected := Partition(converted, now().UTC())
	result.AcceptedRows = len(accepted)
	result.RejectedRows = len(rejected)

	breaker := validators.NewCircuitBreaker(o.Threshold)
	result.Threshold = breaker.Threshold
	result.Ratio, err = breaker.Check(len(rejected), len(converted))
	if err != nil {
		result.Aborted = true
		result.AbortReason = err.Error()
		logger.Error("circuit breaker tripped, no sinks written",
			"ratio", result.Ratio, "threshold", result.Threshold, "rejected", len(rejected), "total", len(converted))
		return fail(StageValidate, err)
	}

	layout := Layout{ExtraFields: extraFields, ProductFields: enricher.ProductFields()}
	if err := acceptedValidator().Validate(ctx, acceptedRows(accepted, layout)); err != nil {
		return fail(StageValidate, err)
	}

	result.Summary, err = summarize(ctx, accepted)
	if err != nil {
		return fail(StageValidate, err)
	}

	sinks, err := o.OpenSinks(ctx, layout, result.RunID)
	if err != nil {
		return fail(StageWrite, err)
	}
	report, writeErr := sinks.Write(ctx, accepted, rejected)
	closeErr := sinks.Close()
	result.AuditPath = report.AuditPath
	result.RejectedPath = report.RejectedPath
	if err := errors.Join(writeErr, closeErr); err != nil {
		return fail(StageWrite, err)
	}

	logger.Info("run complete",
		"input", result.InputRows, "accepted", result.AcceptedRows, "rejected", result.RejectedRows,
		"ratio", result.Ratio, "rate_source", result.RateSource)
	return result, nil
}

// acceptedValidator asserts the accepted-batch invariants before anything is written.
func acceptedValidator() *validators.DataQualityValidator {
	return validators.NewConfigurableDataQualityValidator(0,
		[]string{FieldOrderID, FieldSaleAmount, FieldOrderDateParsed, FieldSaleAmountUSD},
		validators.WithFieldValidator(FieldSaleAmount, validators.FieldValidator{DataType: validators.FieldTypeDecimal, MinValue: 0}),
		validators.WithFieldValidator(FieldSaleAmountUSD, validators.FieldValidator{DataType: validators.FieldTypeDecimal, MinValue: 0}),
		validators.WithFieldValidator(FieldOrderDateParsed, validators.FieldValidator{DataType: validators.FieldTypeTime}),
	)
}

func acceptedRows(accepted []ConvertedRecord, layout Layout) []salesflow.Record {
	rows := make([]salesflow.Record, len(accepted))
	for i, rec := range accepted {
		rows[i] = rec.Record(layout)
	}
	return rows
}

// summarize totals accepted rows per currency.
func summarize(ctx context.Context, accepted []ConvertedRecord) ([]CurrencySummary, error) {
	rows := make([]salesflow.Record, len(accepted))
	defaulted := make(map[string]bool)
	for i, rec := range accepted {
		rows[i] = rec.AuditRecord()
		rows[i][FieldCurrency] = rec.Currency
		rows[i][FieldOrderDateParsed] = rec.OrderDateParsed
		if rec.Conversion.Defaulted {
			defaulted[rec.Currency] = true
		}
	}

	groups, err := aggregate.NewGroupBy(FieldCurrency).
		Count("Rows").
		Sum(FieldSaleAmount, FieldSaleAmount).
		Sum(FieldSaleAmountUSD, FieldSaleAmountUSD).
		Min(FieldSaleAmountUSD, "MinUSD").
		Max(FieldSaleAmountUSD, "MaxUSD").
		Min(FieldOrderDateParsed, "FirstOrder").
		Max(FieldOrderDateParsed, "LastOrder").
		Process(ctx, rows)
	if err != nil {
		return nil, err
	}

	summary := make([]CurrencySummary, 0, len(groups))
	for _, g := range groups {
		code, _ := g[FieldCurrency].(string)
		entry := CurrencySummary{
			Currency:      code,
			Rows:          g["Rows"].(int64),
			SaleAmount:    g[FieldSaleAmount].(decimal.Decimal),
			SaleAmountUSD: g[FieldSaleAmountUSD].(decimal.Decimal),
			Defaulted:     defaulted[code],
		}
		entry.MinUSD, _ = g["MinUSD"].(decimal.Decimal)
		entry.MaxUSD, _ = g["MaxUSD"].(decimal.Decimal)
		entry.FirstOrder, _ = g["FirstOrder"].(time.Time)
		entry.LastOrder, _ = g["LastOrder"].(time.Time)
		summary = append(summary, entry)
	}
	return summary, nil
}
