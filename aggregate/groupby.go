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
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronlmathis/salesflow"
)

// GroupBy groups a batch by one or more fields and computes named aggregates per group.
// Numeric aggregates are exact decimals.
type GroupBy struct {
	groupFields []string
	outputs     []string
	aggregators map[string]func() salesflow.Aggregator
}

// NewGroupBy creates a GroupBy over the given fields.
func NewGroupBy(groupFields ...string) *GroupBy {
	return &GroupBy{
		groupFields: groupFields,
		aggregators: make(map[string]func() salesflow.Aggregator),
	}
}

func (g *GroupBy) add(outputField string, factory func() salesflow.Aggregator) *GroupBy {
	if _, exists := g.aggregators[outputField]; !exists {
		g.outputs = append(g.outputs, outputField)
	}
	g.aggregators[outputField] = factory
	return g
}

// Count adds a count aggregator for the specified output field
func (g *GroupBy) Count(outputField string) *GroupBy {
	return g.add(outputField, func() salesflow.Aggregator { return &CountAggregator{} })
}

// Sum adds a sum aggregator for the specified field
func (g *GroupBy) Sum(field, outputField string) *GroupBy {
	return g.add(outputField, func() salesflow.Aggregator { return &SumAggregator{Field: field} })
}

// Avg adds an average aggregator for the specified field
func (g *GroupBy) Avg(field, outputField string) *GroupBy {
	return g.add(outputField, func() salesflow.Aggregator { return &AvgAggregator{Field: field} })
}

// Min adds a minimum aggregator for the specified field
func (g *GroupBy) Min(field, outputField string) *GroupBy {
	return g.add(outputField, func() salesflow.Aggregator { return &MinAggregator{Field: field} })
}

// Max adds a maximum aggregator for the specified field
func (g *GroupBy) Max(field, outputField string) *GroupBy {
	return g.add(outputField, func() salesflow.Aggregator { return &MaxAggregator{Field: field} })
}

type group struct {
	key         salesflow.Record
	aggregators map[string]salesflow.Aggregator
}

// Process aggregates records and returns one record per group, ordered by group key.
// Each result holds the group fields and one value per output field.
func (g *GroupBy) Process(ctx context.Context, records []salesflow.Record) ([]salesflow.Record, error) {
	groups := make(map[string]*group)

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		groupKey := g.buildGroupKey(record)
		grp, exists := groups[groupKey]
		if !exists {
			grp = &group{key: make(salesflow.Record, len(g.groupFields)), aggregators: make(map[string]salesflow.Aggregator, len(g.outputs))}
			for _, field := range g.groupFields {
				grp.key[field] = record[field]
			}
			for _, output := range g.outputs {
				grp.aggregators[output] = g.aggregators[output]()
			}
			groups[groupKey] = grp
		}

		for _, output := range g.outputs {
			if err := grp.aggregators[output].Add(ctx, record); err != nil {
				return nil, fmt.Errorf("aggregation error for field %s: %w", output, err)
			}
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	results := make([]salesflow.Record, 0, len(groups))
	for _, k := range keys {
		grp := groups[k]
		result := grp.key.Clone()
		for _, output := range g.outputs {
			value, err := grp.aggregators[output].Result()
			if err != nil {
				return nil, fmt.Errorf("failed to get result for field %s: %w", output, err)
			}
			result[output] = value["value"]
		}
		results = append(results, result)
	}
	return results, nil
}

func (g *GroupBy) buildGroupKey(record salesflow.Record) string {
	parts := make([]string, len(g.groupFields))
	for i, field := range g.groupFields {
		if value, exists := record[field]; exists && value != nil {
			parts[i] = fmt.Sprintf("%v", value)
		}
	}
	return strings.Join(parts, "\x1f")
}

// CountAggregator counts the number of records
type CountAggregator struct {
	count int64
}

func (c *CountAggregator) Add(ctx context.Context, record salesflow.Record) error {
	c.count++
	return nil
}

func (c *CountAggregator) Result() (salesflow.Record, error) {
	return salesflow.Record{"value": c.count}, nil
}

func (c *CountAggregator) Reset() {
	c.count = 0
}

// SumAggregator sums numeric values. Nulls and non-numeric values are skipped.
type SumAggregator struct {
	Field string
	sum   decimal.Decimal
}

func (s *SumAggregator) Add(ctx context.Context, record salesflow.Record) error {
	if num, ok := toDecimal(record[s.Field]); ok {
		s.sum = s.sum.Add(num)
	}
	return nil
}

func (s *SumAggregator) Result() (salesflow.Record, error) {
	return salesflow.Record{"value": s.sum}, nil
}

func (s *SumAggregator) Reset() {
	s.sum = decimal.Zero
}

// AvgAggregator calculates average of numeric values
type AvgAggregator struct {
	Field string
	sum   decimal.Decimal
	count int64
}

func (a *AvgAggregator) Add(ctx context.Context, record salesflow.Record) error {
	if num, ok := toDecimal(record[a.Field]); ok {
		a.sum = a.sum.Add(num)
		a.count++
	}
	return nil
}

func (a *AvgAggregator) Result() (salesflow.Record, error) {
	if a.count == 0 {
		return salesflow.Record{"value": decimal.NullDecimal{}}, nil
	}
	avg := a.sum.DivRound(decimal.NewFromInt(a.count), 16)
	return salesflow.Record{"value": decimal.NullDecimal{Decimal: avg, Valid: true}}, nil
}

func (a *AvgAggregator) Reset() {
	a.sum = decimal.Zero
	a.count = 0
}

// MinAggregator finds minimum value
type MinAggregator struct {
	Field string
	min   interface{}
	set   bool
}

func (m *MinAggregator) Add(ctx context.Context, record salesflow.Record) error {
	value := orderable(record[m.Field])
	if value == nil {
		return nil
	}
	if !m.set || compareValues(value, m.min) < 0 {
		m.min = value
		m.set = true
	}
	return nil
}

func (m *MinAggregator) Result() (salesflow.Record, error) {
	return salesflow.Record{"value": m.min}, nil
}

func (m *MinAggregator) Reset() {
	m.min = nil
	m.set = false
}

// MaxAggregator finds maximum value
type MaxAggregator struct {
	Field string
	max   interface{}
	set   bool
}

func (m *MaxAggregator) Add(ctx context.Context, record salesflow.Record) error {
	value := orderable(record[m.Field])
	if value == nil {
		return nil
	}
	if !m.set || compareValues(value, m.max) > 0 {
		m.max = value
		m.set = true
	}
	return nil
}

func (m *MaxAggregator) Result() (salesflow.Record, error) {
	return salesflow.Record{"value": m.max}, nil
}

func (m *MaxAggregator) Reset() {
	m.max = nil
	m.set = false
}

func toDecimal(value interface{}) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case decimal.NullDecimal:
		return v.Decimal, v.Valid
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case float64:
		return decimal.NewFromFloat(v), true
	default:
		return decimal.Zero, false
	}
}

// orderable reduces a value to decimal, time or string, or nil when it cannot be ordered.
func orderable(value interface{}) interface{} {
	if d, ok := toDecimal(value); ok {
		return d
	}
	switch v := value.(type) {
	case time.Time, string:
		return v
	default:
		return nil
	}
}

func compareValues(a, b interface{}) int {
	switch va := a.(type) {
	case decimal.Decimal:
		if vb, ok := b.(decimal.Decimal); ok {
			return va.Cmp(vb)
		}
	case time.Time:
		if vb, ok := b.(time.Time); ok {
			return va.Compare(vb)
		}
	case string:
		if vb, ok := b.(string); ok {
			return strings.Compare(va, vb)
		}
	}
	return 0
}
