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
	"fmt"
	"io"
	"sync"
)

// SliceSource is a DataSource over an in-memory batch of records.
type SliceSource struct {
	records []Record
	pos     int
}

// NewSliceSource returns a source that yields the given records in order.
func NewSliceSource(records []Record) *SliceSource {
	return &SliceSource{records: records}
}

// Read implements the DataSource interface.
func (s *SliceSource) Read(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

// Close implements the DataSource interface.
func (s *SliceSource) Close() error { return nil }

// SliceSink is a DataSink that materializes every written record in memory.
// It is the boundary between the streaming pipeline and the batch stages that need
// the complete set of rows.
type SliceSink struct {
	mu      sync.Mutex
	records []Record
	closed  bool
}

// NewSliceSink returns an empty in-memory sink.
func NewSliceSink() *SliceSink {
	return &SliceSink{}
}

// Write implements the DataSink interface.
func (s *SliceSink) Write(ctx context.Context, record Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("slice sink is closed")
	}
	s.records = append(s.records, record)
	return nil
}

// Flush implements the DataSink interface.
func (s *SliceSink) Flush() error { return nil }

// Close implements the DataSink interface. Records remain readable after Close.
func (s *SliceSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Records returns the materialized batch in write order.
func (s *SliceSink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// ReadAll drains a DataSource into memory and closes it.
func ReadAll(ctx context.Context, source DataSource) ([]Record, error) {
	defer source.Close()

	var out []Record
	for {
		rec, err := source.Read(ctx)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
}
