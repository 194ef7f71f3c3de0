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
	"fmt"
	"io"
	"sync"
)

// A Pipeline reads records from a DataSource, runs them through an ordered list of
// stages (transformers and filters, applied in exactly the order they were added) and
// writes the survivors to a DataSink.
//
// Example usage:
//
//   pipeline, err := salesflow.NewPipeline().
//       From(csvReader).
//       FilterAs("missing_amount", filter.NotNull("SaleAmount")).
//       TransformAs("amount", transform.ToDecimal("SaleAmount")).
//       To(collector).
//       WithErrorStrategy(salesflow.SkipErrors).
//       Build()
//   if err != nil { return err }
//   if err := pipeline.Execute(ctx); err != nil { return err }

// ReadStage is the stage name reported for errors returned by the DataSource.
const ReadStage = "read"

// WriteStage is the stage name reported for errors returned by the DataSink.
const WriteStage = "write"

// StageError wraps a record-level error with the name of the stage that produced it.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// PipelineStats holds per-run counters for a pipeline.
type PipelineStats struct {
	RecordsRead    int64
	RecordsWritten int64
	Filtered       map[string]int64 // records excluded, by filter stage name
	Failed         map[string]int64 // records that errored, by stage name
}

// PipelineBuilder provides a fluent API for constructing transformation pipelines.
type PipelineBuilder struct {
	pipeline *Pipeline
}

// NewPipeline creates a new PipelineBuilder for constructing a pipeline.
func NewPipeline() *PipelineBuilder {
	return &PipelineBuilder{
		pipeline: &Pipeline{
			stages:   make([]stage, 0),
			strategy: FailFast,
		},
	}
}

// From sets the DataSource for the pipeline.
func (pb *PipelineBuilder) From(source DataSource) *PipelineBuilder {
	pb.pipeline.source = source
	return pb
}

// Transform appends a Transformer stage with a generated name.
func (pb *PipelineBuilder) Transform(transformer Transformer) *PipelineBuilder {
	return pb.TransformAs(fmt.Sprintf("transform_%d", len(pb.pipeline.stages)), transformer)
}

// TransformAs appends a named Transformer stage.
func (pb *PipelineBuilder) TransformAs(name string, transformer Transformer) *PipelineBuilder {
	pb.pipeline.stages = append(pb.pipeline.stages, stage{name: name, transformer: transformer})
	return pb
}

// Filter appends a Filter stage with a generated name.
func (pb *PipelineBuilder) Filter(filter Filter) *PipelineBuilder {
	return pb.FilterAs(fmt.Sprintf("filter_%d", len(pb.pipeline.stages)), filter)
}

// FilterAs appends a named Filter stage.
func (pb *PipelineBuilder) FilterAs(name string, filter Filter) *PipelineBuilder {
	pb.pipeline.stages = append(pb.pipeline.stages, stage{name: name, filter: filter})
	return pb
}

// Map adds a mapping stage using a function.
func (pb *PipelineBuilder) Map(fn func(ctx context.Context, record Record) (Record, error)) *PipelineBuilder {
	return pb.Transform(TransformFunc(fn))
}

// Where adds a filtering stage using a function.
func (pb *PipelineBuilder) Where(fn func(ctx context.Context, record Record) (bool, error)) *PipelineBuilder {
	return pb.Filter(FilterFunc(fn))
}

// To sets the DataSink for the pipeline.
func (pb *PipelineBuilder) To(sink DataSink) *PipelineBuilder {
	pb.pipeline.sink = sink
	return pb
}

// WithErrorStrategy sets the error handling strategy for the pipeline.
func (pb *PipelineBuilder) WithErrorStrategy(strategy ErrorStrategy) *PipelineBuilder {
	pb.pipeline.strategy = strategy
	return pb
}

// WithErrorHandler sets a custom error handler for the pipeline.
func (pb *PipelineBuilder) WithErrorHandler(handler ErrorHandler) *PipelineBuilder {
	pb.pipeline.errorHandler = handler
	return pb
}

// Build validates and constructs the Pipeline from the builder.
func (pb *PipelineBuilder) Build() (*Pipeline, error) {
	if pb.pipeline.source == nil {
		return nil, fmt.Errorf("pipeline requires a data source")
	}
	if pb.pipeline.sink == nil {
		return nil, fmt.Errorf("pipeline requires a data sink")
	}
	return pb.pipeline, nil
}

type stage struct {
	name        string
	transformer Transformer
	filter      Filter
}

// Pipeline represents a data processing pipeline for streaming record processing.
//
// Use Execute to process all records from the DataSource through the stages, writing to the DataSink.
type Pipeline struct {
	stages       []stage
	source       DataSource
	sink         DataSink
	strategy     ErrorStrategy
	errorHandler ErrorHandler

	mu        sync.Mutex
	stats     PipelineStats
	collected []error
}

// Execute runs the pipeline, processing all records from source to sink.
//
// Record-level errors are wrapped in *StageError and routed through the configured
// ErrorStrategy and ErrorHandler. The source and sink are closed on return; a sink flush
// or close failure is returned when no earlier error occurred.
func (p *Pipeline) Execute(ctx context.Context) (err error) {
	p.resetStats()

	defer func() {
		p.source.Close()
		if flushErr := p.sink.Flush(); flushErr != nil && err == nil {
			err = &StageError{Stage: WriteStage, Err: flushErr}
		}
		if closeErr := p.sink.Close(); closeErr != nil && err == nil {
			err = &StageError{Stage: WriteStage, Err: closeErr}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		record, readErr := p.source.Read(ctx)
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			if err := p.handleError(ctx, record, &StageError{Stage: ReadStage, Err: readErr}); err != nil {
				return err
			}
			continue
		}
		p.count(func(s *PipelineStats) { s.RecordsRead++ })

		// Skip empty records early
		if len(record) == 0 {
			continue
		}

		out, keep, stageErr := p.applyStages(ctx, record)
		if stageErr != nil {
			if err := p.handleError(ctx, record, stageErr); err != nil {
				return err
			}
			continue
		}
		if !keep || len(out) == 0 {
			continue
		}

		if writeErr := p.sink.Write(ctx, out); writeErr != nil {
			if err := p.handleError(ctx, out, &StageError{Stage: WriteStage, Err: writeErr}); err != nil {
				return err
			}
			continue
		}
		p.count(func(s *PipelineStats) { s.RecordsWritten++ })
	}

	return nil
}

// Stats returns a copy of the counters from the most recent Execute.
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := p.stats
	out.Filtered = make(map[string]int64, len(p.stats.Filtered))
	for k, v := range p.stats.Filtered {
		out.Filtered[k] = v
	}
	out.Failed = make(map[string]int64, len(p.stats.Failed))
	for k, v := range p.stats.Failed {
		out.Failed[k] = v
	}
	return out
}

// Errors returns the errors gathered under the CollectErrors strategy.
func (p *Pipeline) Errors() []error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]error(nil), p.collected...)
}

// applyStages runs every stage in order. It returns the final record, whether the
// record survived all filters, and a *StageError if a stage failed.
func (p *Pipeline) applyStages(ctx context.Context, record Record) (Record, bool, error) {
	current := record
	for _, st := range p.stages {
		if st.transformer != nil {
			transformed, err := st.transformer.Transform(ctx, current)
			if err != nil {
				return nil, false, &StageError{Stage: st.name, Err: err}
			}
			current = transformed
			continue
		}

		include, err := st.filter.ShouldInclude(ctx, current)
		if err != nil {
			return nil, false, &StageError{Stage: st.name, Err: err}
		}
		if !include {
			name := st.name
			p.count(func(s *PipelineStats) { s.Filtered[name]++ })
			return nil, false, nil
		}
	}
	return current, true, nil
}

// handleError handles errors according to the pipeline's error strategy and handler.
// Returns an error if processing should stop, or nil to continue.
func (p *Pipeline) handleError(ctx context.Context, record Record, err error) error {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		p.count(func(s *PipelineStats) { s.Failed[stageErr.Stage]++ })
	}

	switch p.strategy {
	case FailFast:
		return err
	case SkipErrors:
		if p.errorHandler != nil {
			return p.errorHandler.HandleError(ctx, record, err)
		}
		return nil
	case CollectErrors:
		p.mu.Lock()
		p.collected = append(p.collected, err)
		p.mu.Unlock()
		if p.errorHandler != nil {
			return p.errorHandler.HandleError(ctx, record, err)
		}
		return nil
	default:
		return err
	}
}

func (p *Pipeline) resetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats = PipelineStats{
		Filtered: make(map[string]int64),
		Failed:   make(map[string]int64),
	}
	p.collected = nil
}

func (p *Pipeline) count(fn func(s *PipelineStats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}
