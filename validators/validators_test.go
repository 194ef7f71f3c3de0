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

package validators

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/salesflow"
)

func TestCircuitBreaker(t *testing.T) {
	tests := []struct {
		name     string
		rejected int
		total    int
		ratio    float64
		trips    bool
	}{
		{"empty batch", 0, 0, 0, false},
		{"no rejections", 0, 100, 0, false},
		{"at threshold", 5, 100, 0.05, false},
		{"above threshold", 6, 100, 0.06, true},
		{"two of twenty", 2, 20, 0.1, true},
		{"all rejected", 3, 3, 1, true},
	}
	breaker := NewCircuitBreaker(0.05)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ratio, err := breaker.Check(tt.rejected, tt.total)
			assert.InDelta(t, tt.ratio, ratio, 1e-9)
			if !tt.trips {
				assert.NoError(t, err)
				return
			}
			var thErr *ThresholdError
			require.ErrorAs(t, err, &thErr)
			assert.Equal(t, tt.rejected, thErr.Rejected)
			assert.Equal(t, tt.total, thErr.Total)
			assert.Equal(t, 0.05, thErr.Threshold)
			assert.Contains(t, err.Error(), "5.00%")
		})
	}
}

func TestCircuitBreaker_Defaults(t *testing.T) {
	assert.Equal(t, DefaultThreshold, NewCircuitBreaker(-1).Threshold)

	_, err := NewCircuitBreaker(0).Check(1, 1000)
	assert.Error(t, err, "a zero threshold trips on any rejection")
}

func TestDataQualityValidator_Passes(t *testing.T) {
	dqv := NewConfigurableDataQualityValidator(0, []string{"OrderID", "SaleAmountUSD"},
		WithFieldValidator("SaleAmountUSD", FieldValidator{DataType: FieldTypeDecimal, MinValue: 0}),
		WithFieldValidator("OrderDateParsed", FieldValidator{DataType: FieldTypeTime}),
		WithFieldValidator("Currency", FieldValidator{Pattern: regexp.MustCompile(`^[A-Z]{3}$`)}),
	)

	records := []salesflow.Record{
		{"OrderID": "A1", "SaleAmountUSD": decimal.NullDecimal{Decimal: decimal.NewFromInt(10), Valid: true},
			"OrderDateParsed": time.Now(), "Currency": "EUR"},
		{"OrderID": "A2", "SaleAmountUSD": decimal.NullDecimal{Decimal: decimal.Zero, Valid: true},
			"OrderDateParsed": time.Now(), "Currency": "USD"},
	}
	assert.NoError(t, dqv.Validate(context.Background(), records))
	assert.NoError(t, dqv.Validate(context.Background(), nil), "an empty batch is valid")
}

func TestDataQualityValidator_Violations(t *testing.T) {
	usd := func(s string) decimal.NullDecimal {
		return decimal.NullDecimal{Decimal: decimal.RequireFromString(s), Valid: true}
	}

	tests := []struct {
		name    string
		dqv     *DataQualityValidator
		records []salesflow.Record
		rule    string
		field   string
	}{
		{
			name:    "too few records",
			dqv:     NewDataQualityValidator(2, nil),
			records: []salesflow.Record{{"a": 1}},
			rule:    "record_count",
		},
		{
			name:    "too many records",
			dqv:     NewConfigurableDataQualityValidator(0, nil, WithMaxRecords(1)),
			records: []salesflow.Record{{"a": 1}, {"a": 2}},
			rule:    "record_count",
		},
		{
			name:    "null required decimal",
			dqv:     NewDataQualityValidator(0, []string{"SaleAmountUSD"}),
			records: []salesflow.Record{{"SaleAmountUSD": usd("1")}, {"SaleAmountUSD": decimal.NullDecimal{}}},
			rule:    "required_field",
			field:   "SaleAmountUSD",
		},
		{
			name:    "forbidden field",
			dqv:     NewConfigurableDataQualityValidator(0, nil, WithForbiddenFields([]string{"ErrorReason"})),
			records: []salesflow.Record{{"ErrorReason": "x"}},
			rule:    "forbidden_field",
			field:   "ErrorReason",
		},
		{
			name: "negative amount",
			dqv: NewConfigurableDataQualityValidator(0, nil,
				WithFieldValidator("SaleAmountUSD", FieldValidator{DataType: FieldTypeDecimal, MinValue: 0})),
			records: []salesflow.Record{{"SaleAmountUSD": usd("-0.01")}},
			rule:    "field_value",
			field:   "SaleAmountUSD",
		},
		{
			name: "wrong type",
			dqv: NewConfigurableDataQualityValidator(0, nil,
				WithFieldValidator("OrderDateParsed", FieldValidator{DataType: FieldTypeTime})),
			records: []salesflow.Record{{"OrderDateParsed": "2024-01-01"}},
			rule:    "field_value",
			field:   "OrderDateParsed",
		},
		{
			name:    "null rate",
			dqv:     NewConfigurableDataQualityValidator(0, nil, WithMaxNullRate(0.4)),
			records: []salesflow.Record{{"x": nil}, {"x": ""}, {"x": "ok"}},
			rule:    "null_rate",
			field:   "x",
		},
		{
			name: "custom",
			dqv: NewConfigurableDataQualityValidator(0, nil, WithCustomValidator(func(r []salesflow.Record) (bool, error) {
				return len(r)%2 == 0, nil
			})),
			records: []salesflow.Record{{"a": 1}},
			rule:    "custom",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.dqv.Validate(context.Background(), tt.records)
			var valErr *ValidationError
			require.ErrorAs(t, err, &valErr)
			assert.Equal(t, tt.rule, valErr.Rule)
			assert.Equal(t, tt.field, valErr.Field)
		})
	}
}
