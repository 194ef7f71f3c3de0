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
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Failure reasons reported by Convert.
const (
	ReasonMissingAmount = "missing amount"
	ReasonInvalidAmount = "amount is not numeric"
	ReasonInvalidRate   = "exchange rate is zero or negative"
)

// DivisionPrecision is the number of decimal places kept when dividing by a rate.
const DivisionPrecision = 16

// Result is the outcome of converting one amount. USD is null exactly when the
// conversion failed, in which case Reason says why.
type Result struct {
	USD       decimal.NullDecimal
	Rate      decimal.Decimal
	Defaulted bool // the currency had no rate and 1 was assumed
	Reason    string
}

// OK reports whether the conversion produced a USD amount.
func (r Result) OK() bool { return r.USD.Valid }

// Amount is one conversion input. Value may be a decimal.Decimal, a numeric string, or nil.
type Amount struct {
	Value    interface{}
	Currency string
}

// Converter converts amounts to USD with a fixed RateMap. It is safe for concurrent use.
type Converter struct {
	rates   RateMap
	workers int
	logger  *slog.Logger
}

// ConverterOption represents a configuration function for a Converter.
type ConverterOption func(*Converter)

// WithWorkers limits the goroutines used by ConvertAll.
func WithWorkers(n int) ConverterOption {
	return func(c *Converter) {
		c.workers = n
	}
}

// WithConverterLogger sets the logger for per-row conversion warnings.
func WithConverterLogger(logger *slog.Logger) ConverterOption {
	return func(c *Converter) {
		c.logger = logger
	}
}

// NewConverter returns a Converter over rates.
func NewConverter(rates RateMap, options ...ConverterOption) *Converter {
	c := &Converter{rates: rates, workers: 4}
	for _, option := range options {
		option(c)
	}
	if c.workers <= 0 {
		c.workers = 1
	}
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	return c
}

// Rates returns the map the converter was built with.
func (c *Converter) Rates() RateMap { return c.rates }

// Convert divides amount by the rate for currency. A currency with no rate converts at 1.
func (c *Converter) Convert(amount interface{}, currency string) Result {
	rate, found := c.rates.Lookup(currency)
	result := Result{Rate: rate}
	if !found {
		result.Rate = decimal.NewFromInt(1)
		result.Defaulted = true
	}

	value, reason := amountValue(amount)
	if reason != "" {
		result.Reason = reason
		c.logger.Warn("currency conversion failed", "currency", currency, "reason", reason)
		return result
	}
	if !result.Rate.IsPositive() {
		result.Reason = ReasonInvalidRate
		c.logger.Warn("currency conversion failed", "currency", currency, "rate", result.Rate.String(), "reason", result.Reason)
		return result
	}

	result.USD = decimal.NullDecimal{Decimal: value.DivRound(result.Rate, DivisionPrecision), Valid: true}
	return result
}

// ConvertAll converts every amount, spreading the work over the configured number of
// workers. Results are in input order.
func (c *Converter) ConvertAll(ctx context.Context, amounts []Amount) ([]Result, error) {
	results := make([]Result, len(amounts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i := range amounts {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = c.Convert(amounts[i].Value, amounts[i].Currency)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func amountValue(amount interface{}) (decimal.Decimal, string) {
	switch v := amount.(type) {
	case nil:
		return decimal.Zero, ReasonMissingAmount
	case decimal.Decimal:
		return v, ""
	case decimal.NullDecimal:
		if !v.Valid {
			return decimal.Zero, ReasonMissingAmount
		}
		return v.Decimal, ""
	default:
		d, err := toRate(v)
		if err != nil {
			return decimal.Zero, ReasonInvalidAmount
		}
		return d, ""
	}
}
