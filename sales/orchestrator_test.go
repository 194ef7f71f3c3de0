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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/aaronlmathis/salesflow"
	"github.com/aaronlmathis/salesflow/currency"
	"github.com/aaronlmathis/salesflow/validators"
	"github.com/aaronlmathis/salesflow/writers"
)

type fakeTable struct {
	batches [][]salesflow.Record
	err     error
	closed  bool
}

func (f *fakeTable) WriteAll(ctx context.Context, records []salesflow.Record) error {
	if f.err != nil {
		return f.err
	}
	f.batches = append(f.batches, records)
	return nil
}

func (f *fakeTable) Close() error {
	f.closed = true
	return nil
}

type fakeArtifact struct {
	name    string
	batches [][]salesflow.Record
	err     error
}

func (f *fakeArtifact) WriteAll(ctx context.Context, records []salesflow.Record) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.batches = append(f.batches, records)
	return f.name + "/part-00000.csv", nil
}

type fakeSinks struct {
	accepted, rejected *fakeTable
	audit, export      *fakeArtifact
	opened             int
	layout             Layout
}

func newFakeSinks() *fakeSinks {
	return &fakeSinks{
		accepted: &fakeTable{},
		rejected: &fakeTable{},
		audit:    &fakeArtifact{name: "audit"},
		export:   &fakeArtifact{name: "rejected"},
	}
}

func (f *fakeSinks) open(ctx context.Context, layout Layout, runID string) (*SinkWriter, error) {
	f.opened++
	f.layout = layout
	return &SinkWriter{
		AcceptedTable:    f.accepted,
		AuditArtifact:    f.audit,
		RejectedTable:    f.rejected,
		RejectedArtifact: f.export,
		Layout:           layout,
	}, nil
}

func (f *fakeSinks) writes() int {
	return len(f.accepted.batches) + len(f.rejected.batches) + len(f.audit.batches) + len(f.export.batches)
}

var fixedNow = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

func newOrchestrator(rates map[string]float64, sinks *fakeSinks) *Orchestrator {
	return &Orchestrator{
		Rates:     StaticRates(currency.RateMapFromFloats(rates)),
		OpenSinks: sinks.open,
		Threshold: validators.DefaultThreshold,
		Workers:   2,
		Now:       func() time.Time { return fixedNow },
	}
}

func productSource() salesflow.DataSource {
	return salesflow.NewSliceSource([]salesflow.Record{
		{"ProductID": "P1", "Name": "Widget", "Category": "Tools"},
	})
}

func TestOrchestrator_Run(t *testing.T) {
	data := salesHeader +
		"A1,P1,100,EUR,01/15/2024\n" +
		"A2,P2,100,XYZ,01/16/2024\n" +
		"A3,P1,abc,EUR,01/17/2024\n"
	sinks := newFakeSinks()

	result, err := newOrchestrator(map[string]float64{"EUR": 0.9}, sinks).
		Run(context.Background(), csvSource(t, data), productSource())
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, 3, result.InputRows)
	assert.Equal(t, 2, result.CleanedRows)
	assert.Equal(t, 1, result.DroppedRows[DropInvalidAmount])
	assert.Equal(t, 1, result.MatchedRows)
	assert.Equal(t, 2, result.AcceptedRows)
	assert.Equal(t, 0, result.RejectedRows)
	assert.Zero(t, result.Ratio)
	assert.False(t, result.Aborted)
	assert.Equal(t, currency.SourceFallback, result.RateSource)
	assert.Equal(t, "audit/part-00000.csv", result.AuditPath)
	assert.Equal(t, "rejected/part-00000.csv", result.RejectedPath)

	require.Equal(t, 1, sinks.opened)
	assert.Equal(t, []string{"Category", "Name"}, sinks.layout.ProductFields)
	require.Len(t, sinks.accepted.batches, 1)
	rows := sinks.accepted.batches[0]
	require.Len(t, rows, 2)

	a1 := rows[0]
	assert.Equal(t, "A1", a1[FieldOrderID])
	assert.Equal(t, "Widget", a1["Name"])
	assert.Equal(t, "111.11", writers.FormatValue(a1[FieldSaleAmountUSD])[:6])

	a2 := rows[1]
	assert.Equal(t, "100", writers.FormatValue(a2[FieldSaleAmountUSD]))
	assert.Nil(t, a2["Name"])

	require.Len(t, sinks.audit.batches, 1)
	assert.Len(t, sinks.audit.batches[0], 2)
	assert.Equal(t, fixedNow, sinks.audit.batches[0][0][FieldConversionTime])

	require.Len(t, sinks.rejected.batches, 1)
	assert.Empty(t, sinks.rejected.batches[0])
	assert.True(t, sinks.accepted.closed)
	assert.True(t, sinks.rejected.closed)

	require.Len(t, result.Summary, 2)
	assert.Equal(t, "EUR", result.Summary[0].Currency)
	assert.Equal(t, int64(1), result.Summary[0].Rows)
	assert.Equal(t, "XYZ", result.Summary[1].Currency)
	assert.True(t, result.Summary[1].Defaulted)
}

func TestOrchestrator_CurrencySummary(t *testing.T) {
	data := salesHeader +
		"A1,P1,10,USD,01/20/2024\n" +
		"A2,P1,2.5,USD,01/05/2024\n" +
		"A3,P1,40,USD,01/12/2024\n" +
		"A4,P1,9,GBP,02/01/2024\n"

	result, err := newOrchestrator(map[string]float64{"USD": 1, "GBP": 0.9}, newFakeSinks()).
		Run(context.Background(), csvSource(t, data), nil)
	require.NoError(t, err)
	require.Len(t, result.Summary, 2)

	usd := result.Summary[1]
	assert.Equal(t, "USD", usd.Currency)
	assert.Equal(t, int64(3), usd.Rows)
	assert.Equal(t, "52.5", usd.SaleAmountUSD.String())
	assert.Equal(t, "2.5", usd.MinUSD.String())
	assert.Equal(t, "40", usd.MaxUSD.String())
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), usd.FirstOrder)
	assert.Equal(t, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC), usd.LastOrder)

	gbp := result.Summary[0]
	assert.Equal(t, "GBP", gbp.Currency)
	assert.Equal(t, "10", gbp.MinUSD.String())
	assert.True(t, gbp.MinUSD.Equal(gbp.MaxUSD))
	assert.Equal(t, gbp.FirstOrder, gbp.LastOrder)
}

func TestOrchestrator_CircuitBreaker(t *testing.T) {
	tests := []struct {
		name     string
		bad      int
		total    int
		aborted  bool
		expRatio float64
	}{
		{"no rejections", 0, 20, false, 0},
		{"at threshold", 1, 20, false, 0.05},
		{"above threshold", 2, 20, true, 0.10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b strings.Builder
			b.WriteString(salesHeader)
			for i := 0; i < tt.total; i++ {
				code := "EUR"
				if i < tt.bad {
					code = "BAD"
				}
				fmt.Fprintf(&b, "O%02d,P1,10,%s,01/15/2024\n", i, code)
			}
			sinks := newFakeSinks()
			orch := newOrchestrator(map[string]float64{"EUR": 0.9, "BAD": 0}, sinks)

			result, err := orch.Run(context.Background(), csvSource(t, b.String()), productSource())
			require.NotNil(t, result)
			assert.InDelta(t, tt.expRatio, result.Ratio, 1e-9)
			assert.Equal(t, tt.bad, result.RejectedRows)

			if !tt.aborted {
				require.NoError(t, err)
				assert.Equal(t, 1, sinks.opened)
				if tt.bad > 0 {
					require.Len(t, sinks.rejected.batches, 1)
					rejected := sinks.rejected.batches[0][0]
					assert.Equal(t, RejectionReason, rejected[FieldErrorReason])
					assert.Equal(t, currency.ReasonInvalidRate, rejected[FieldErrorDetail])
				}
				return
			}

			require.Error(t, err)
			var thresholdErr *validators.ThresholdError
			require.ErrorAs(t, err, &thresholdErr)
			assert.Equal(t, 2, thresholdErr.Rejected)
			assert.Equal(t, 20, thresholdErr.Total)

			var stageErr *salesflow.StageError
			require.ErrorAs(t, err, &stageErr)
			assert.Equal(t, StageValidate, stageErr.Stage)

			assert.True(t, result.Aborted)
			assert.NotEmpty(t, result.AbortReason)
			assert.Zero(t, sinks.opened)
			assert.Zero(t, sinks.writes())
		})
	}
}

func TestOrchestrator_ThresholdSetting(t *testing.T) {
	var b strings.Builder
	b.WriteString(salesHeader)
	for i := 0; i < 20; i++ {
		code := "EUR"
		if i == 0 {
			code = "BAD"
		}
		fmt.Fprintf(&b, "O%02d,P1,10,%s,01/15/2024\n", i, code)
	}

	tests := []struct {
		name          string
		threshold     float64
		wantThreshold float64
		aborted       bool
	}{
		{"negative selects default", -1, validators.DefaultThreshold, false},
		{"zero aborts on any rejection", 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sinks := newFakeSinks()
			orch := newOrchestrator(map[string]float64{"EUR": 0.9, "BAD": 0}, sinks)
			orch.Threshold = tt.threshold

			result, err := orch.Run(context.Background(), csvSource(t, b.String()), nil)
			require.NotNil(t, result)
			assert.Equal(t, tt.wantThreshold, result.Threshold)
			assert.Equal(t, tt.aborted, result.Aborted)
			if tt.aborted {
				var thresholdErr *validators.ThresholdError
				assert.ErrorAs(t, err, &thresholdErr)
				assert.Zero(t, sinks.opened)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestOrchestrator_EmptyBatch(t *testing.T) {
	sinks := newFakeSinks()
	result, err := newOrchestrator(nil, sinks).Run(context.Background(), csvSource(t, salesHeader), nil)
	require.NoError(t, err)

	assert.Zero(t, result.InputRows)
	assert.Zero(t, result.Ratio)
	assert.Equal(t, 1, sinks.opened)
	require.Len(t, sinks.accepted.batches, 1)
	assert.Empty(t, sinks.accepted.batches[0])
	assert.Empty(t, result.Summary)
}

func TestOrchestrator_SinkFailure(t *testing.T) {
	sinks := newFakeSinks()
	sinks.audit.err = errors.New("disk full")

	result, err := newOrchestrator(map[string]float64{"EUR": 0.9}, sinks).
		Run(context.Background(), csvSource(t, salesHeader+"A1,P1,100,EUR,01/15/2024\n"), nil)
	require.Error(t, err)

	var sinkErr *SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, TargetAuditArtifact, sinkErr.Target)

	var stageErr *salesflow.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageWrite, stageErr.Stage)

	assert.Len(t, sinks.accepted.batches, 1)
	assert.Empty(t, sinks.rejected.batches, "later targets are not written")
	assert.Empty(t, sinks.export.batches)
	assert.True(t, sinks.accepted.closed)
	assert.Empty(t, result.AuditPath)
}

type errRates struct{ err error }

func (e errRates) Rates(ctx context.Context) (currency.RateMap, currency.Source, error) {
	return currency.RateMap{}, "", e.err
}

func TestOrchestrator_RatesCancelled(t *testing.T) {
	sinks := newFakeSinks()
	orch := newOrchestrator(nil, sinks)
	orch.Rates = errRates{err: context.Canceled}
	products := &failingSource{}

	_, err := orch.Run(context.Background(), csvSource(t, salesHeader), products)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, products.closed)
	assert.Zero(t, sinks.opened)
}

func TestOrchestrator_ProductReadFailure(t *testing.T) {
	sinks := newFakeSinks()
	products := &failingSource{err: errors.New("connection refused")}

	_, err := newOrchestrator(nil, sinks).Run(context.Background(), csvSource(t, salesHeader), products)
	require.Error(t, err)
	var stageErr *salesflow.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageEnrich, stageErr.Stage)
	assert.Zero(t, sinks.opened)
}

func TestOrchestrator_SQLiteAndArtifacts(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	dir := t.TempDir()
	cfg := SinkConfig{
		DB:             db,
		Dialect:        writers.DialectSQLite,
		AcceptedTable:  "sales_clean",
		RejectedTable:  "sales_rejected",
		CreateTables:   true,
		AuditDir:       filepath.Join(dir, "audit"),
		AuditFormat:    writers.FormatCSV,
		RejectedDir:    filepath.Join(dir, "rejected"),
		RejectedFormat: writers.FormatJSON,
	}
	orch := &Orchestrator{
		Rates: StaticRates(currency.RateMapFromFloats(map[string]float64{"EUR": 0.9, "BAD": 0})),
		OpenSinks: func(ctx context.Context, layout Layout, runID string) (*SinkWriter, error) {
			return NewSinkWriter(cfg, layout, runID, nil)
		},
		Threshold: 0.5,
		Now:       func() time.Time { return fixedNow },
	}

	data := salesHeader +
		"A1,P1,100,EUR,01/15/2024\n" +
		"A2,P1,20,BAD,01/16/2024\n"
	result, err := orch.Run(context.Background(), csvSource(t, data), productSource())
	require.NoError(t, err)
	assert.Equal(t, 1, result.AcceptedRows)
	assert.Equal(t, 1, result.RejectedRows)

	var usd, name string
	require.NoError(t, db.QueryRow(`SELECT "SaleAmountUSD", "Name" FROM "sales_clean"`).Scan(&usd, &name))
	assert.True(t, strings.HasPrefix(usd, "111.11"), usd)
	assert.Equal(t, "Widget", name)

	var reason string
	var usdRejected sql.NullString
	require.NoError(t, db.QueryRow(`SELECT "ErrorReason", "SaleAmountUSD" FROM "sales_rejected"`).Scan(&reason, &usdRejected))
	assert.Equal(t, RejectionReason, reason)
	assert.False(t, usdRejected.Valid)

	assert.Equal(t, filepath.Join(dir, "audit", "part-00000.csv"), result.AuditPath)
	audit, err := os.ReadFile(result.AuditPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(audit)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "OrderID,Currency,SaleAmount,SaleAmountUSD,ConversionTime", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "A1,EUR,100,111.11"))

	exported, err := os.ReadFile(result.RejectedPath)
	require.NoError(t, err)
	assert.Contains(t, string(exported), `"OrderID":"A2"`)
	assert.Contains(t, string(exported), `"ErrorReason":"Invalid currency or amount"`)
}
