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

package readers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aaronlmathis/salesflow"
)

// OpenOptions carries per-reader options for Open. Only the options matching the
// resolved reader are used.
type OpenOptions struct {
	Query string // SQL query for database locations
	CSV   []ReaderOptionCSV
	S3    []ReaderOptionS3
	Mongo []ReaderOptionMongo
	SQL   []SQLReaderOption
}

// OpenOption configures Open.
type OpenOption func(*OpenOptions)

// WithQuery sets the query used for postgres://, mysql:// and sqlite:// locations.
func WithQuery(query string) OpenOption {
	return func(o *OpenOptions) { o.Query = query }
}

func WithCSVOptions(options ...ReaderOptionCSV) OpenOption {
	return func(o *OpenOptions) { o.CSV = append(o.CSV, options...) }
}

func WithS3Options(options ...ReaderOptionS3) OpenOption {
	return func(o *OpenOptions) { o.S3 = append(o.S3, options...) }
}

func WithMongoOptions(options ...ReaderOptionMongo) OpenOption {
	return func(o *OpenOptions) { o.Mongo = append(o.Mongo, options...) }
}

func WithSQLOptions(options ...SQLReaderOption) OpenOption {
	return func(o *OpenOptions) { o.SQL = append(o.SQL, options...) }
}

// Open resolves a location string to a DataSource:
//
//	path, file://path         CSV, or JSON lines for .json/.jsonl/.ndjson
//	s3://bucket/key           object decoded by extension
//	mongodb://host/db/coll    find over the collection
//	postgres://...            query via lib/pq
//	mysql://<dsn>             query via go-sql-driver/mysql (dsn in driver format)
//	sqlite://path             query via modernc.org/sqlite
func Open(ctx context.Context, location string, options ...OpenOption) (salesflow.DataSource, error) {
	var opts OpenOptions
	for _, option := range options {
		option(&opts)
	}

	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("open: empty location")
	}

	scheme := ""
	if i := strings.Index(location, "://"); i > 0 {
		scheme = strings.ToLower(location[:i])
	}

	switch scheme {
	case "", "file":
		return openFile(strings.TrimPrefix(location, "file://"), opts)
	case "s3":
		s3Opts := append(append([]ReaderOptionS3(nil), opts.S3...), WithS3CSVOptions(opts.CSV...))
		return NewS3Reader(ctx, location, s3Opts...)
	case "mongodb", "mongodb+srv":
		return NewMongoReader(ctx, location, opts.Mongo...)
	case "postgres", "postgresql":
		return openSQL(ctx, "postgres", location, opts)
	case "mysql":
		return openSQL(ctx, "mysql", strings.TrimPrefix(location, location[:len(scheme)+3]), opts)
	case "sqlite":
		return openSQL(ctx, "sqlite", strings.TrimPrefix(location, location[:len(scheme)+3]), opts)
	default:
		return nil, fmt.Errorf("open %s: unsupported scheme %q", location, scheme)
	}
}

func openFile(path string, opts OpenOptions) (salesflow.DataSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonl", ".ndjson":
		return NewJSONReader(f), nil
	default:
		reader, err := NewCSVReader(f, opts.CSV...)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		return reader, nil
	}
}

func openSQL(ctx context.Context, driver, dsn string, opts OpenOptions) (salesflow.DataSource, error) {
	if opts.Query == "" {
		return nil, fmt.Errorf("open %s source: a query is required", driver)
	}
	sqlOpts := append([]SQLReaderOption{
		WithSQLDriver(driver),
		WithSQLDSN(dsn),
		WithSQLQuery(opts.Query),
	}, opts.SQL...)
	return NewSQLReader(ctx, sqlOpts...)
}
