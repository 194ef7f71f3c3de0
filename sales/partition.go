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
	"time"

	"github.com/aaronlmathis/salesflow/currency"
)

// Convert applies converter to every row. Each row carries its Result and the
// conversion time.
func Convert(ctx context.Context, converter *currency.Converter, records []EnrichedRecord, now time.Time) ([]ConvertedRecord, error) {
	amounts := make([]currency.Amount, len(records))
	for i, rec := range records {
		amounts[i] = currency.Amount{Value: rec.SaleAmount, Currency: rec.Currency}
	}

	results, err := converter.ConvertAll(ctx, amounts)
	if err != nil {
		return nil, err
	}

	out := make([]ConvertedRecord, len(records))
	for i, rec := range records {
		out[i] = ConvertedRecord{EnrichedRecord: rec, Conversion: results[i], ConvertedAt: now}
	}
	return out, nil
}

// Partition splits converted rows: a row is rejected iff its SaleAmountUSD is null.
// Rejected rows are stamped with RejectionReason and rejectedAt.
func Partition(records []ConvertedRecord, rejectedAt time.Time) (accepted []ConvertedRecord, rejected []RejectedRecord) {
	accepted = make([]ConvertedRecord, 0, len(records))
	for _, rec := range records {
		if rec.Conversion.USD.Valid {
			accepted = append(accepted, rec)
			continue
		}
		rejected = append(rejected, RejectedRecord{
			ConvertedRecord: rec,
			ErrorReason:     RejectionReason,
			ErrorDetail:     rec.Conversion.Reason,
			RejectedAt:      rejectedAt,
		})
	}
	return accepted, rejected
}
