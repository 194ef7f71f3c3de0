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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aaronlmathis/salesflow"
)

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected OutputFormat
		ext      string
	}{
		{"", FormatCSV, "csv"},
		{"CSV", FormatCSV, "csv"},
		{"ndjson", FormatJSON, "jsonl"},
		{"json", FormatJSON, "jsonl"},
		{" parquet ", FormatParquet, "parquet"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			f, err := ParseOutputFormat(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f)
			assert.Equal(t, tt.ext, f.Extension())
		})
	}

	_, err := ParseOutputFormat("xlsx")
	assert.Error(t, err)
}

func TestArtifactWriter_Overwrite(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "audit")
	shape := FileSinkOptions{Columns: []string{"OrderID", "Currency"}}
	ctx := context.Background()

	first := NewArtifactWriter(dir, FormatCSV, shape, "run-1", nil)
	path, err := first.WriteAll(ctx, []salesflow.Record{
		{"OrderID": "A1", "Currency": "EUR"},
		{"OrderID": "A2", "Currency": "USD"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "part-00000.csv"), path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("x"), 0o644))

	second := NewArtifactWriter(dir, FormatCSV, shape, "run-2", nil)
	_, err = second.WriteAll(ctx, []salesflow.Record{{"OrderID": "B1", "Currency": "GBP"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"part-00000.csv"}, listDir(t, dir), "previous contents are replaced")
	assert.Equal(t, []string{"audit"}, listDir(t, root), "no staging directory remains")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "OrderID,Currency\nB1,GBP\n", string(data))
}

func TestArtifactWriter_IdenticalRunsIdenticalOutput(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rejected")
	shape := FileSinkOptions{Columns: []string{"OrderID", "ErrorReason"}}
	records := []salesflow.Record{{"OrderID": "A1", "ErrorReason": "Invalid currency or amount"}}

	path, err := NewArtifactWriter(dir, FormatCSV, shape, "", nil).WriteAll(context.Background(), records)
	require.NoError(t, err)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	path, err = NewArtifactWriter(dir, FormatCSV, shape, "", nil).WriteAll(context.Background(), records)
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestArtifactWriter_EmptyBatch(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "rejected")
	shape := FileSinkOptions{Columns: []string{"OrderID", "ErrorReason"}}

	path, err := NewArtifactWriter(dir, FormatCSV, shape, "run", nil).WriteAll(context.Background(), nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "OrderID,ErrorReason\n", string(data))
}

func TestArtifactWriter_FailedWriteKeepsPrevious(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "audit")
	ctx := context.Background()

	path, err := NewArtifactWriter(dir, FormatJSON, FileSinkOptions{}, "good", nil).
		WriteAll(ctx, []salesflow.Record{{"OrderID": "A1"}})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "part-00000.jsonl"), path)

	_, err = NewArtifactWriter(dir, FormatJSON, FileSinkOptions{}, "bad", nil).
		WriteAll(ctx, []salesflow.Record{{"OrderID": make(chan int)}})
	var artErr *ArtifactWriterError
	require.ErrorAs(t, err, &artErr)
	assert.Equal(t, "write", artErr.Op)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "{\"OrderID\":\"A1\"}\n", string(data))
	assert.Equal(t, []string{"audit"}, listDir(t, root))
}

func TestArtifactWriter_Parquet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "audit")
	shape := FileSinkOptions{Columns: []string{"OrderID", "Currency"}}

	path, err := NewArtifactWriter(dir, FormatParquet, shape, "run", nil).WriteAll(context.Background(), nil)
	require.NoError(t, err)

	tbl := readParquetTable(t, path)
	assert.Equal(t, int64(0), tbl.NumRows())
	assert.Equal(t, []string{"OrderID", "Currency"}, fieldNames(tbl.Schema()))
}
