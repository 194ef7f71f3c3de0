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

package transform

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/salesflow"
)

func TestSelect_FixedShape(t *testing.T) {
	out, err := Select("OrderID", "Currency").Transform(context.Background(), salesflow.Record{
		"OrderID": "A1",
		"Other":   "dropped",
	})
	require.NoError(t, err)
	assert.Equal(t, salesflow.Record{"OrderID": "A1", "Currency": nil}, out)
}

func TestAddField(t *testing.T) {
	in := salesflow.Record{"a": 1}
	out, err := AddField("b", func(r salesflow.Record) interface{} { return r["a"].(int) + 1 }).
		Transform(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, 2, out["b"])
	assert.NotContains(t, in, "b", "input must not be mutated")
}

func TestTrimSpaceAndToUpper(t *testing.T) {
	ctx := context.Background()

	out, err := TrimSpace().Transform(ctx, salesflow.Record{"a": "  x ", "b": 3})
	require.NoError(t, err)
	assert.Equal(t, "x", out["a"])
	assert.Equal(t, 3, out["b"])

	out, err = ToUpper("Currency").Transform(ctx, salesflow.Record{"Currency": "eur", "Name": "keep"})
	require.NoError(t, err)
	assert.Equal(t, "EUR", out["Currency"])
	assert.Equal(t, "keep", out["Name"])
}

func TestParseTimeInto(t *testing.T) {
	tr := ParseTimeInto("OrderDate", "OrderDateParsed", "01/02/2006")
	ctx := context.Background()

	out, err := tr.Transform(ctx, salesflow.Record{"OrderDate": "01/15/2024"})
	require.NoError(t, err)
	assert.Equal(t, "01/15/2024", out["OrderDate"])
	assert.Equal(t, time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), out["OrderDateParsed"])

	_, err = tr.Transform(ctx, salesflow.Record{"OrderDate": "2024-01-15"})
	assert.Error(t, err)

	_, err = tr.Transform(ctx, salesflow.Record{"OrderDate": nil})
	assert.Error(t, err)
}

func TestToDecimal(t *testing.T) {
	tr := ToDecimal("SaleAmount")
	ctx := context.Background()

	tests := []struct {
		name    string
		value   interface{}
		want    string
		wantErr bool
	}{
		{"string", "100", "100", false},
		{"padded string", " 12.50 ", "12.5", false},
		{"int", 7, "7", false},
		{"float", 2.5, "2.5", false},
		{"garbage", "abc", "", true},
		{"nil", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tr.Transform(ctx, salesflow.Record{"SaleAmount": tt.value})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			got, ok := out["SaleAmount"].(decimal.Decimal)
			require.True(t, ok)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestLookup_FirstMatchWins(t *testing.T) {
	l := NewLookup("ProductID", []salesflow.Record{
		{"ProductID": "P1", "Name": "Widget"},
		{"ProductID": "P1", "Name": "Widget v2"},
		{"ProductID": "P2", "Name": "Gadget", "Category": "Tools"},
		{"ProductID": "", "Name": "orphan"},
	})

	assert.Equal(t, 2, l.Len())
	assert.Equal(t, 1, l.Duplicates())
	assert.Equal(t, 1, l.Skipped())
	assert.Equal(t, []string{"Category", "Name"}, l.Fields())

	rec, ok := l.Match("P1")
	require.True(t, ok)
	assert.Equal(t, "Widget", rec["Name"])

	_, ok = l.Match("P9")
	assert.False(t, ok)

	_, ok = l.Match(nil)
	assert.False(t, ok)
}
