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
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronlmathis/salesflow"
)

// Package transform provides reusable, composable record transformations for salesflow pipelines.
//
// This package includes field selection, string normalization, date parsing, decimal
// coercion and keyed lookups. All functions return salesflow.Transformer implementations.
// Transformers never mutate their input record; they return a copy.

// Select creates a transformer that selects only the specified fields from each record.
// Listed fields missing from the input are emitted as nil so every output record has the same shape.
func Select(fields ...string) salesflow.Transformer {
	return salesflow.TransformFunc(func(ctx context.Context, record salesflow.Record) (salesflow.Record, error) {
		result := make(salesflow.Record, len(fields))
		for _, field := range fields {
			result[field] = record[field]
		}
		return result, nil
	})
}

// AddField creates a transformer that adds a new field with a computed value to each record.
func AddField(field string, fn func(salesflow.Record) interface{}) salesflow.Transformer {
	return salesflow.TransformFunc(func(ctx context.Context, record salesflow.Record) (salesflow.Record, error) {
		result := record.Clone()
		result[field] = fn(record)
		return result, nil
	})
}

// TrimSpace creates a transformer that trims whitespace from the specified string fields.
// With no fields given, every string field is trimmed.
func TrimSpace(fields ...string) salesflow.Transformer {
	return mapStrings(strings.TrimSpace, fields...)
}

// ToUpper creates a transformer that converts the specified string fields to uppercase.
func ToUpper(fields ...string) salesflow.Transformer {
	return mapStrings(strings.ToUpper, fields...)
}

// ParseTimeInto creates a transformer that parses the string field src with layout and
// stores the result in dst, leaving src untouched. A missing, non-string or unparseable
// value is an error.
func ParseTimeInto(src, dst, layout string) salesflow.Transformer {
	return salesflow.TransformFunc(func(ctx context.Context, record salesflow.Record) (salesflow.Record, error) {
		str, ok := record[src].(string)
		if !ok {
			return nil, fmt.Errorf("field %s is not a string: %T", src, record[src])
		}
		parsed, err := time.Parse(layout, strings.TrimSpace(str))
		if err != nil {
			return nil, fmt.Errorf("failed to parse time field %s: %w", src, err)
		}
		result := record.Clone()
		result[dst] = parsed
		return result, nil
	})
}

// ToDecimal creates a transformer that coerces a field to decimal.Decimal.
func ToDecimal(field string) salesflow.Transformer {
	return salesflow.TransformFunc(func(ctx context.Context, record salesflow.Record) (salesflow.Record, error) {
		value, exists := record[field]
		if !exists || value == nil {
			return nil, fmt.Errorf("field %s is missing", field)
		}
		converted, err := convertToDecimal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to convert field %s: %w", field, err)
		}
		result := record.Clone()
		result[field] = converted
		return result, nil
	})
}

func mapStrings(fn func(string) string, fields ...string) salesflow.Transformer {
	return salesflow.TransformFunc(func(ctx context.Context, record salesflow.Record) (salesflow.Record, error) {
		result := record.Clone()
		if len(fields) == 0 {
			for k, v := range record {
				if str, ok := v.(string); ok {
					result[k] = fn(str)
				}
			}
			return result, nil
		}
		for _, field := range fields {
			if str, ok := record[field].(string); ok {
				result[field] = fn(str)
			}
		}
		return result, nil
	})
}

// convertToDecimal attempts to convert a value to decimal.Decimal.
func convertToDecimal(value interface{}) (decimal.Decimal, error) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case float64:
		return decimal.NewFromFloat(v), nil
	default:
		return decimal.Zero, fmt.Errorf("cannot convert %T to decimal", value)
	}
}
