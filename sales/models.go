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
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronlmathis/salesflow"
	"github.com/aaronlmathis/salesflow/currency"
)

// Column names shared by the inputs and every sink.
const (
	FieldOrderID         = "OrderID"
	FieldProductID       = "ProductID"
	FieldSaleAmount      = "SaleAmount"
	FieldCurrency        = "Currency"
	FieldOrderDate       = "OrderDate"
	FieldOrderDateParsed = "OrderDateParsed"
	FieldSaleAmountUSD   = "SaleAmountUSD"
	FieldConversionTime  = "ConversionTime"
	FieldErrorReason     = "ErrorReason"
	FieldErrorDetail     = "ErrorDetail"
	FieldRejectedAt      = "RejectedAt"
)

// RejectionReason is stamped on every rejected row. The converter's specific reason
// goes to ErrorDetail.
const RejectionReason = "Invalid currency or amount"

// DefaultDateLayout parses OrderDate values such as 01/15/2024.
const DefaultDateLayout = "01/02/2006"

// saleFields are the columns a SaleRecord owns, in output order.
var saleFields = []string{
	FieldOrderID, FieldProductID, FieldSaleAmount, FieldCurrency, FieldOrderDate, FieldOrderDateParsed,
}

// AuditColumns is the fixed shape of the conversion audit artifact.
var AuditColumns = []string{FieldOrderID, FieldCurrency, FieldSaleAmount, FieldSaleAmountUSD, FieldConversionTime}

// SaleRecord is a cleaned sales row. SaleAmount is non-negative and OrderDateParsed is set.
type SaleRecord struct {
	OrderID         string
	ProductID       string
	SaleAmount      decimal.Decimal
	Currency        string
	OrderDate       string
	OrderDateParsed time.Time
	Extra           salesflow.Record // input columns with no dedicated field
}

// EnrichedRecord is a SaleRecord left-joined with its product reference.
// Product is nil when no reference matched.
type EnrichedRecord struct {
	SaleRecord
	Product salesflow.Record
}

// ConvertedRecord carries the outcome of the USD conversion.
type ConvertedRecord struct {
	EnrichedRecord
	Conversion  currency.Result
	ConvertedAt time.Time
}

// SaleAmountUSD is null exactly when the conversion failed.
func (c ConvertedRecord) SaleAmountUSD() decimal.NullDecimal {
	return c.Conversion.USD
}

// RejectedRecord is a ConvertedRecord whose conversion failed.
type RejectedRecord struct {
	ConvertedRecord
	ErrorReason string
	ErrorDetail string
	RejectedAt  time.Time
}

// Layout fixes the column order of the flattened outputs for one run, so identical
// input always gives identically shaped artifacts and tables.
type Layout struct {
	ExtraFields   []string // additional sales columns, sorted
	ProductFields []string // reference attributes, sorted, join key excluded
}

// AcceptedColumns lists the columns of the accepted table.
func (l Layout) AcceptedColumns() []string {
	cols := make([]string, 0, len(saleFields)+len(l.ExtraFields)+len(l.ProductFields)+1)
	cols = append(cols, saleFields...)
	cols = append(cols, l.ExtraFields...)
	cols = append(cols, l.ProductFields...)
	return append(cols, FieldSaleAmountUSD)
}

// RejectedColumns lists the columns of the rejected table and artifact.
func (l Layout) RejectedColumns() []string {
	return append(l.AcceptedColumns(), FieldErrorReason, FieldErrorDetail, FieldRejectedAt)
}

// Record flattens a converted row into the accepted shape. Unmatched reference
// attributes are nil.
func (c ConvertedRecord) Record(layout Layout) salesflow.Record {
	rec := make(salesflow.Record, len(saleFields)+len(layout.ExtraFields)+len(layout.ProductFields)+1)
	rec[FieldOrderID] = c.OrderID
	rec[FieldProductID] = nullIfEmpty(c.ProductID)
	rec[FieldSaleAmount] = c.SaleAmount
	rec[FieldCurrency] = nullIfEmpty(c.Currency)
	rec[FieldOrderDate] = c.OrderDate
	rec[FieldOrderDateParsed] = c.OrderDateParsed
	for _, field := range layout.ExtraFields {
		rec[field] = c.Extra[field]
	}
	for _, field := range layout.ProductFields {
		rec[field] = c.Product[field]
	}
	rec[FieldSaleAmountUSD] = c.Conversion.USD
	return rec
}

// AuditRecord projects a converted row onto AuditColumns.
func (c ConvertedRecord) AuditRecord() salesflow.Record {
	return salesflow.Record{
		FieldOrderID:        c.OrderID,
		FieldCurrency:       nullIfEmpty(c.Currency),
		FieldSaleAmount:     c.SaleAmount,
		FieldSaleAmountUSD:  c.Conversion.USD,
		FieldConversionTime: c.ConvertedAt,
	}
}

// Record flattens a rejected row into the rejected shape.
func (r RejectedRecord) Record(layout Layout) salesflow.Record {
	rec := r.ConvertedRecord.Record(layout)
	rec[FieldErrorReason] = r.ErrorReason
	rec[FieldErrorDetail] = r.ErrorDetail
	rec[FieldRejectedAt] = r.RejectedAt
	return rec
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
