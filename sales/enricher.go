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
	"log/slog"

	"github.com/aaronlmathis/salesflow"
	"github.com/aaronlmathis/salesflow/transform"
)

// EnrichStats counts join outcomes.
type EnrichStats struct {
	Matched             int
	Unmatched           int
	ReferenceRows       int
	DuplicateReferences int // reference rows ignored because an earlier row had the same ProductID
}

// Enricher left-joins sales rows with product references by ProductID.
type Enricher struct {
	lookup        *transform.Lookup
	productFields []string
	referenceRows int
	logger        *slog.Logger
}

// NewEnricher indexes products by ProductID. When several references share a key, the
// first in batch order is used. Reference attributes named like a sales column, one of
// extraFields included, are not joined.
func NewEnricher(products []salesflow.Record, extraFields []string, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	lookup := transform.NewLookup(FieldProductID, products)

	extra := make(map[string]struct{}, len(extraFields))
	for _, field := range extraFields {
		extra[field] = struct{}{}
	}

	var fields []string
	for _, field := range lookup.Fields() {
		_, shadowsExtra := extra[field]
		if shadowsExtra || isSaleField(field) || isOutputField(field) {
			logger.Warn("product attribute shadows a sales column, skipping", "field", field)
			continue
		}
		fields = append(fields, field)
	}

	return &Enricher{lookup: lookup, productFields: fields, referenceRows: len(products), logger: logger}
}

// ProductFields returns the joined reference attributes, sorted.
func (e *Enricher) ProductFields() []string {
	return append([]string(nil), e.productFields...)
}

// Enrich returns exactly one EnrichedRecord per input row, in input order.
func (e *Enricher) Enrich(records []SaleRecord) ([]EnrichedRecord, EnrichStats) {
	stats := EnrichStats{ReferenceRows: e.referenceRows, DuplicateReferences: e.lookup.Duplicates()}
	out := make([]EnrichedRecord, len(records))

	for i, rec := range records {
		out[i] = EnrichedRecord{SaleRecord: rec}
		product, found := e.lookup.Match(rec.ProductID)
		if !found {
			stats.Unmatched++
			continue
		}
		stats.Matched++
		attrs := make(salesflow.Record, len(e.productFields))
		for _, field := range e.productFields {
			attrs[field] = product[field]
		}
		out[i].Product = attrs
	}

	e.logger.Info("enriched sales batch", "rows", len(out), "matched", stats.Matched, "unmatched", stats.Unmatched)
	return out, stats
}

func isOutputField(field string) bool {
	switch field {
	case FieldSaleAmountUSD, FieldConversionTime, FieldErrorReason, FieldErrorDetail, FieldRejectedAt:
		return true
	}
	return false
}
