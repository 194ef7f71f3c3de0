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

package salesflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct {
	SliceSink
	failFlush bool
}

func (f *failingSink) Flush() error {
	if f.failFlush {
		return errors.New("disk full")
	}
	return nil
}

func TestPipeline_BuildRequiresSourceAndSink(t *testing.T) {
	_, err := NewPipeline().To(NewSliceSink()).Build()
	assert.Error(t, err)

	_, err = NewPipeline().From(NewSliceSource(nil)).Build()
	assert.Error(t, err)
}

// TestPipeline_StagesRunInInsertionOrder verifies filters added before a transformer
// see the record before that transformer runs.
func TestPipeline_StagesRunInInsertionOrder(t *testing.T) {
	var order []string

	sink := NewSliceSink()
	p, err := NewPipeline().
		From(NewSliceSource([]Record{{"id": "1"}})).
		Where(func(ctx context.Context, r Record) (bool, error) {
			order = append(order, "filter")
			_, tagged := r["tag"]
			assert.False(t, tagged, "filter must run before the transformer")
			return true, nil
		}).
		Map(func(ctx context.Context, r Record) (Record, error) {
			order = append(order, "transform")
			out := r.Clone()
			out["tag"] = true
			return out, nil
		}).
		To(sink).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background()))
	assert.Equal(t, []string{"filter", "transform"}, order)
	require.Len(t, sink.Records(), 1)
	assert.Equal(t, true, sink.Records()[0]["tag"])
}

func TestPipeline_SkipErrorsCountsByStage(t *testing.T) {
	records := []Record{
		{"id": "1", "n": "ok"},
		{"id": "2", "n": "bad"},
		{"id": "3", "n": ""},
		{"id": "4", "n": "ok"},
	}

	var handled []error
	sink := NewSliceSink()
	p, err := NewPipeline().
		From(NewSliceSource(records)).
		FilterAs("empty", FilterFunc(func(ctx context.Context, r Record) (bool, error) {
			return r["n"] != "", nil
		})).
		TransformAs("parse", TransformFunc(func(ctx context.Context, r Record) (Record, error) {
			if r["n"] == "bad" {
				return nil, errors.New("cannot parse")
			}
			return r, nil
		})).
		To(sink).
		WithErrorStrategy(SkipErrors).
		WithErrorHandler(ErrorHandlerFunc(func(ctx context.Context, r Record, err error) error {
			handled = append(handled, err)
			return nil
		})).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background()))

	stats := p.Stats()
	assert.Equal(t, int64(4), stats.RecordsRead)
	assert.Equal(t, int64(2), stats.RecordsWritten)
	assert.Equal(t, int64(1), stats.Filtered["empty"])
	assert.Equal(t, int64(1), stats.Failed["parse"])

	require.Len(t, handled, 1)
	var stageErr *StageError
	require.ErrorAs(t, handled[0], &stageErr)
	assert.Equal(t, "parse", stageErr.Stage)
}

func TestPipeline_FailFastStops(t *testing.T) {
	sink := NewSliceSink()
	p, err := NewPipeline().
		From(NewSliceSource([]Record{{"id": "1"}, {"id": "2"}})).
		Map(func(ctx context.Context, r Record) (Record, error) {
			return nil, errors.New("boom")
		}).
		To(sink).
		Build()
	require.NoError(t, err)

	err = p.Execute(context.Background())
	require.Error(t, err)
	assert.Empty(t, sink.Records())
}

func TestPipeline_CollectErrors(t *testing.T) {
	p, err := NewPipeline().
		From(NewSliceSource([]Record{{"id": "1"}, {"id": "2"}})).
		Map(func(ctx context.Context, r Record) (Record, error) {
			return nil, errors.New("boom")
		}).
		To(NewSliceSink()).
		WithErrorStrategy(CollectErrors).
		Build()
	require.NoError(t, err)

	require.NoError(t, p.Execute(context.Background()))
	assert.Len(t, p.Errors(), 2)
}

func TestPipeline_FlushErrorSurfaces(t *testing.T) {
	p, err := NewPipeline().
		From(NewSliceSource([]Record{{"id": "1"}})).
		To(&failingSink{failFlush: true}).
		Build()
	require.NoError(t, err)

	err = p.Execute(context.Background())
	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, WriteStage, stageErr.Stage)
}

func TestPipeline_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, err := NewPipeline().
		From(NewSliceSource([]Record{{"id": "1"}})).
		To(NewSliceSink()).
		Build()
	require.NoError(t, err)

	assert.ErrorIs(t, p.Execute(ctx), context.Canceled)
}

func TestReadAll(t *testing.T) {
	records, err := ReadAll(context.Background(), NewSliceSource([]Record{{"a": 1}, {"a": 2}}))
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
