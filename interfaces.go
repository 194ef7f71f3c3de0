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

// Package salesflow holds the record abstraction the sales pipeline is built on.
//
// Readers in package readers produce records through DataSource; writers in package
// writers consume them through DataSink. Pipeline connects the two with ordered
// Transformer and Filter stages and an ErrorStrategy for rows that fail.
package salesflow

import (
	"context"
)

// Record is one row keyed by column name. A nil value is a null.
type Record map[string]interface{}

// Clone returns a shallow copy, so stages can change fields without touching their input.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// DataSource yields records one at a time.
type DataSource interface {
	// Read returns the next record, or io.EOF once the source is exhausted.
	Read(ctx context.Context) (Record, error)
	Close() error
}

// DataSink accepts records. Data written before a successful Flush is durable; Close
// flushes first.
type DataSink interface {
	Write(ctx context.Context, record Record) error
	Flush() error
	Close() error
}

// Transformer maps a record to a new record. An error fails the row.
type Transformer interface {
	Transform(ctx context.Context, record Record) (Record, error)
}

type TransformFunc func(ctx context.Context, record Record) (Record, error)

func (f TransformFunc) Transform(ctx context.Context, record Record) (Record, error) {
	return f(ctx, record)
}

// Filter decides whether a record continues down the pipeline.
type Filter interface {
	ShouldInclude(ctx context.Context, record Record) (bool, error)
}

type FilterFunc func(ctx context.Context, record Record) (bool, error)

func (f FilterFunc) ShouldInclude(ctx context.Context, record Record) (bool, error) {
	return f(ctx, record)
}

// Aggregator folds records into a single result record.
type Aggregator interface {
	Add(ctx context.Context, record Record) error
	Result() (Record, error)
	Reset()
}

// ErrorStrategy selects what a Pipeline does with a row that fails a stage.
type ErrorStrategy int

const (
	// FailFast aborts the run on the first failed row.
	FailFast ErrorStrategy = iota
	// SkipErrors drops failed rows and keeps going.
	SkipErrors
	// CollectErrors drops failed rows and keeps their errors for Pipeline.Errors.
	CollectErrors
)

// ErrorHandler sees every row-level error before the strategy applies. A non-nil
// return aborts the run with that error.
type ErrorHandler interface {
	HandleError(ctx context.Context, record Record, err error) error
}

type ErrorHandlerFunc func(ctx context.Context, record Record, err error) error

func (f ErrorHandlerFunc) HandleError(ctx context.Context, record Record, err error) error {
	return f(ctx, record, err)
}
