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

package writers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/aaronlmathis/salesflow"
)

// ArtifactWriterError reports a failed overwrite of an artifact directory.
type ArtifactWriterError struct {
	Op   string // "stage", "write", "promote"
	Path string
	Err  error
}

func (e *ArtifactWriterError) Error() string {
	return fmt.Sprintf("artifact writer %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ArtifactWriterError) Unwrap() error {
	return e.Err
}

// PartFileName is the single data file inside an artifact directory, without extension.
const PartFileName = "part-00000"

// ArtifactWriter overwrites an artifact directory with a fresh batch.
//
// The batch is written into a sibling staging directory first. Only once the part file
// is complete is the previous directory removed and the staging directory renamed into
// place, so a failed write leaves the previous artifact untouched.
type ArtifactWriter struct {
	Dir    string
	Format OutputFormat
	Shape  FileSinkOptions
	RunID  string
	Logger *slog.Logger
}

// NewArtifactWriter returns a writer for dir in the given format.
func NewArtifactWriter(dir string, format OutputFormat, shape FileSinkOptions, runID string, logger *slog.Logger) *ArtifactWriter {
	if runID == "" {
		runID = uuid.NewString()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ArtifactWriter{Dir: dir, Format: format, Shape: shape, RunID: runID, Logger: logger}
}

// PartPath returns the path of the data file inside dir.
func (a *ArtifactWriter) PartPath(dir string) string {
	return filepath.Join(dir, PartFileName+"."+a.Format.Extension())
}

// WriteAll replaces the artifact directory with records and returns the final part file path.
func (a *ArtifactWriter) WriteAll(ctx context.Context, records []salesflow.Record) (string, error) {
	dir := filepath.Clean(a.Dir)
	staging := filepath.Join(filepath.Dir(dir), "."+filepath.Base(dir)+".staging-"+a.RunID)

	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return "", &ArtifactWriterError{Op: "stage", Path: dir, Err: err}
	}
	if err := os.RemoveAll(staging); err != nil {
		return "", &ArtifactWriterError{Op: "stage", Path: staging, Err: err}
	}
	if err := os.Mkdir(staging, 0o755); err != nil {
		return "", &ArtifactWriterError{Op: "stage", Path: staging, Err: err}
	}

	if err := a.writePart(ctx, a.PartPath(staging), records); err != nil {
		a.discard(staging)
		return "", &ArtifactWriterError{Op: "write", Path: staging, Err: err}
	}

	if _, err := os.Stat(dir); err == nil {
		if err := os.RemoveAll(dir); err != nil {
			a.Logger.Warn("failed to remove previous artifact", "path", dir, "error", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		a.Logger.Warn("failed to inspect previous artifact", "path", dir, "error", err)
	}

	if err := os.Rename(staging, dir); err != nil {
		a.discard(staging)
		return "", &ArtifactWriterError{Op: "promote", Path: dir, Err: err}
	}

	return a.PartPath(dir), nil
}

func (a *ArtifactWriter) writePart(ctx context.Context, path string, records []salesflow.Record) (err error) {
	sink, err := NewFileSink(a.Format, path, a.Shape)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := sink.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	for _, record := range records {
		if err := sink.Write(ctx, record); err != nil {
			return err
		}
	}
	return sink.Flush()
}

func (a *ArtifactWriter) discard(staging string) {
	if err := os.RemoveAll(staging); err != nil {
		a.Logger.Warn("failed to remove staging directory", "path", staging, "error", err)
	}
}
