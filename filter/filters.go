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

package filter

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/aaronlmathis/salesflow"
)

// Package filter provides reusable record filters for salesflow pipelines.
//
// All functions return salesflow.Filter implementations. Filters that drop a record
// return (false, nil); an error is reserved for records the filter cannot evaluate.

// NotNull creates a filter that excludes records where the specified field is absent,
// nil, or a string that is empty after trimming whitespace.
func NotNull(field string) salesflow.Filter {
	return salesflow.FilterFunc(func(ctx context.Context, record salesflow.Record) (bool, error) {
		value, exists := record[field]
		if !exists || value == nil {
			return false, nil
		}
		if str, ok := value.(string); ok && strings.TrimSpace(str) == "" {
			return false, nil
		}
		return true, nil
	})
}

// Distinct creates a stateful filter that keeps the first record seen for each value
// of field and drops every later record with the same value. Records pass through a
// pipeline sequentially, so "first" means first in source order.
//
// The returned filter remembers keys for its whole lifetime; build a new one per batch.
func Distinct(field string) salesflow.Filter {
	var mu sync.Mutex
	seen := make(map[string]struct{})

	return salesflow.FilterFunc(func(ctx context.Context, record salesflow.Record) (bool, error) {
		key := fmt.Sprintf("%v", record[field])

		mu.Lock()
		defer mu.Unlock()
		if _, dup := seen[key]; dup {
			return false, nil
		}
		seen[key] = struct{}{}
		return true, nil
	})
}

// NonNegative creates a filter that excludes records whose numeric field is below zero.
// Values that are not numeric produce an error.
func NonNegative(field string) salesflow.Filter {
	return salesflow.FilterFunc(func(ctx context.Context, record salesflow.Record) (bool, error) {
		value, exists := record[field]
		if !exists || value == nil {
			return false, nil
		}
		num, err := toDecimal(value)
		if err != nil {
			return false, fmt.Errorf("field %s: %w", field, err)
		}
		return !num.IsNegative(), nil
	})
}

// toDecimal converts the numeric shapes a record may carry.
func toDecimal(value interface{}) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	default:
		return decimal.Zero, fmt.Errorf("cannot convert %T to a number", value)
	}
}
