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

package aggregate

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/salesflow"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestGroupBy_PerCurrencySummary(t *testing.T) {
	records := []salesflow.Record{
		{"Currency": "EUR", "SaleAmount": dec("100"), "SaleAmountUSD": decimal.NullDecimal{Decimal: dec("111.11"), Valid: true}},
		{"Currency": "USD", "SaleAmount": dec("10.10"), "SaleAmountUSD": decimal.NullDecimal{Decimal: dec("10.10"), Valid: true}},
		{"Currency": "EUR", "SaleAmount": dec("0.1"), "SaleAmountUSD": decimal.NullDecimal{Decimal: dec("0.2"), Valid: true}},
		{"Currency": "USD", "SaleAmount": dec("0.2"), "SaleAmountUSD": decimal.NullDecimal{}},
	}

	results, err := NewGroupBy("Currency").
		Count("Rows").
		Sum("SaleAmount", "SaleAmount").
		Sum("SaleAmountUSD", "SaleAmountUSD").
		Min("SaleAmountUSD", "MinUSD").
		Max("SaleAmountUSD", "MaxUSD").
		Process(context.Background(), records)
	require.NoError(t, err)
	require.Len(t, results, 2)

	eur, usd := results[0], results[1]
	assert.Equal(t, "EUR", eur["Currency"])
	assert.Equal(t, int64(2), eur["Rows"])
	assert.Equal(t, "100.1", eur["SaleAmount"].(decimal.Decimal).String())
	assert.Equal(t, "111.31", eur["SaleAmountUSD"].(decimal.Decimal).String())
	assert.Equal(t, "0.2", eur["MinUSD"].(decimal.Decimal).String())
	assert.Equal(t, "111.11", eur["MaxUSD"].(decimal.Decimal).String())

	assert.Equal(t, "USD", usd["Currency"])
	assert.Equal(t, int64(2), usd["Rows"])
	assert.Equal(t, "10.1", usd["SaleAmountUSD"].(decimal.Decimal).String(), "null amounts are skipped")
}

func TestGroupBy_Avg(t *testing.T) {
	results, err := NewGroupBy("k").Avg("v", "avg").Process(context.Background(), []salesflow.Record{
		{"k": "a", "v": 1},
		{"k": "a", "v": 2},
		{"k": "b", "v": nil},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	avg := results[0]["avg"].(decimal.NullDecimal)
	require.True(t, avg.Valid)
	assert.Equal(t, "1.5", avg.Decimal.String())
	assert.False(t, results[1]["avg"].(decimal.NullDecimal).Valid)
}

func TestGroupBy_Empty(t *testing.T) {
	results, err := NewGroupBy("Currency").Count("Rows").Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestGroupBy_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewGroupBy("k").Count("n").Process(ctx, []salesflow.Record{{"k": 1}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAggregatorReset(t *testing.T) {
	sum := &SumAggregator{Field: "v"}
	require.NoError(t, sum.Add(context.Background(), salesflow.Record{"v": dec("2.5")}))
	sum.Reset()
	result, err := sum.Result()
	require.NoError(t, err)
	assert.True(t, result["value"].(decimal.Decimal).IsZero())
}
