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

package currency

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aaronlmathis/salesflow"
)

// Package currency normalizes sale amounts into USD.
//
// A RateMap is built once per run, by a Provider or from configuration, and is only
// read afterwards. A Converter applies it to individual amounts or whole batches.

// RateMap maps an ISO currency code to the number of units of that currency per USD.
// The zero value is an empty map. A RateMap is immutable and safe for concurrent reads.
type RateMap struct {
	rates map[string]decimal.Decimal
}

// NewRateMap copies rates into a RateMap. Codes are trimmed and upper-cased.
func NewRateMap(rates map[string]decimal.Decimal) RateMap {
	m := make(map[string]decimal.Decimal, len(rates))
	for code, rate := range rates {
		m[normalizeCode(code)] = rate
	}
	return RateMap{rates: m}
}

// RateMapFromFloats builds a RateMap from configuration values.
func RateMapFromFloats(rates map[string]float64) RateMap {
	m := make(map[string]decimal.Decimal, len(rates))
	for code, rate := range rates {
		m[code] = decimal.NewFromFloat(rate)
	}
	return NewRateMap(m)
}

// ParseRateRecord builds a RateMap from a decoded JSON object of code to rate.
// Every value must be numeric; an object with no entries is an error.
func ParseRateRecord(record salesflow.Record) (RateMap, error) {
	if len(record) == 0 {
		return RateMap{}, fmt.Errorf("no rates in response")
	}
	m := make(map[string]decimal.Decimal, len(record))
	for code, value := range record {
		rate, err := toRate(value)
		if err != nil {
			return RateMap{}, fmt.Errorf("rate for %s: %w", code, err)
		}
		m[code] = rate
	}
	return NewRateMap(m), nil
}

// Lookup returns the rate for a currency code.
func (m RateMap) Lookup(code string) (decimal.Decimal, bool) {
	rate, ok := m.rates[normalizeCode(code)]
	return rate, ok
}

// Len returns the number of currencies in the map.
func (m RateMap) Len() int { return len(m.rates) }

// Currencies returns the sorted currency codes.
func (m RateMap) Currencies() []string {
	codes := make([]string, 0, len(m.rates))
	for code := range m.rates {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// Rates returns a copy of the underlying mapping.
func (m RateMap) Rates() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m.rates))
	for code, rate := range m.rates {
		out[code] = rate
	}
	return out
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func toRate(value interface{}) (decimal.Decimal, error) {
	switch v := value.(type) {
	case json.Number:
		return decimal.NewFromString(v.String())
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case decimal.Decimal:
		return v, nil
	case string:
		return decimal.NewFromString(strings.TrimSpace(v))
	default:
		return decimal.Zero, fmt.Errorf("not a number: %T", value)
	}
}
