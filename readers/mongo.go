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
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/aaronlmathis/salesflow"
)

// MongoReaderError provides structured error information for MongoDB reader operations
type MongoReaderError struct {
	Op         string // Operation that failed (e.g., "connect", "find", "decode")
	Collection string // Collection being accessed when error occurred
	Err        error  // Underlying error
}

func (e *MongoReaderError) Error() string {
	if e.Collection != "" {
		return fmt.Sprintf("mongo reader %s [%s]: %v", e.Op, e.Collection, e.Err)
	}
	return fmt.Sprintf("mongo reader %s: %v", e.Op, e.Err)
}

func (e *MongoReaderError) Unwrap() error {
	return e.Err
}

// MongoReaderStats counts the documents a MongoReader has returned.
type MongoReaderStats struct {
	DocumentsRead int64
	NullCounts    map[string]int64
}

// MongoReaderOptions configures the MongoDB reader
type MongoReaderOptions struct {
	URI        string        // Connection URI without database and collection
	Database   string        // Database name
	Collection string        // Collection name
	Filter     bson.M        // Query filter
	Projection bson.M        // Fields to include or exclude
	BatchSize  int32         // Cursor batch size
	Timeout    time.Duration // Connect and server selection timeout
	KeepID     bool          // keep the _id field; dropped by default so it never becomes a reference column
}

// ReaderOptionMongo represents a configuration function for MongoReader
type ReaderOptionMongo func(*MongoReaderOptions)

func WithMongoFilter(filter bson.M) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Filter = filter
	}
}

func WithMongoProjection(projection bson.M) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Projection = projection
	}
}

func WithMongoBatchSize(batchSize int32) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.BatchSize = batchSize
	}
}

func WithMongoKeepID(keep bool) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.KeepID = keep
	}
}

func WithMongoTimeout(timeout time.Duration) ReaderOptionMongo {
	return func(opts *MongoReaderOptions) {
		opts.Timeout = timeout
	}
}

// ParseMongoLocation splits mongodb://host[:port]/database/collection[?query] into a
// connection URI and the database and collection names.
func ParseMongoLocation(location string) (uri, database, collection string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", "", err
	}
	if u.Scheme != "mongodb" && u.Scheme != "mongodb+srv" {
		return "", "", "", fmt.Errorf("scheme %q is not mongodb", u.Scheme)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("location %q must be mongodb://host/database/collection", location)
	}
	u.Path = "/"
	return u.String(), parts[0], parts[1], nil
}

// MongoReader implements salesflow.DataSource over a find cursor.
type MongoReader struct {
	client *mongo.Client
	cursor *mongo.Cursor
	opts   *MongoReaderOptions
	stats  MongoReaderStats
}

// NewMongoReader connects to the collection named by location and opens a find cursor.
func NewMongoReader(ctx context.Context, location string, options ...ReaderOptionMongo) (*MongoReader, error) {
	uri, database, collection, err := ParseMongoLocation(location)
	if err != nil {
		return nil, &MongoReaderError{Op: "parse_location", Err: err}
	}

	opts := &MongoReaderOptions{
		URI:        uri,
		Database:   database,
		Collection: collection,
		Filter:     bson.M{},
		BatchSize:  1000,
		Timeout:    30 * time.Second,
	}
	for _, option := range options {
		option(opts)
	}

	reader := &MongoReader{
		opts:  opts,
		stats: MongoReaderStats{NullCounts: make(map[string]int64)},
	}
	if err := reader.connect(ctx); err != nil {
		return nil, err
	}
	return reader, nil
}

func (mr *MongoReader) connect(ctx context.Context) error {
	connectCtx, cancel := context.WithTimeout(ctx, mr.opts.Timeout)
	defer cancel()

	clientOpts := options.Client().
		ApplyURI(mr.opts.URI).
		SetConnectTimeout(mr.opts.Timeout).
		SetServerSelectionTimeout(mr.opts.Timeout)

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return &MongoReaderError{Op: "connect", Err: err}
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return &MongoReaderError{Op: "ping", Err: err}
	}

	findOpts := options.Find().SetBatchSize(mr.opts.BatchSize)
	if mr.opts.Projection != nil {
		findOpts.SetProjection(mr.opts.Projection)
	}

	cursor, err := client.Database(mr.opts.Database).Collection(mr.opts.Collection).Find(ctx, mr.opts.Filter, findOpts)
	if err != nil {
		client.Disconnect(context.Background())
		return &MongoReaderError{Op: "find", Collection: mr.opts.Collection, Err: err}
	}

	mr.client = client
	mr.cursor = cursor
	return nil
}

// Read returns the next document as a record.
func (mr *MongoReader) Read(ctx context.Context) (salesflow.Record, error) {
	if mr.cursor == nil {
		return nil, io.EOF
	}

	if !mr.cursor.Next(ctx) {
		if err := mr.cursor.Err(); err != nil {
			return nil, &MongoReaderError{Op: "cursor_next", Collection: mr.opts.Collection, Err: err}
		}
		return nil, io.EOF
	}

	var doc bson.M
	if err := mr.cursor.Decode(&doc); err != nil {
		return nil, &MongoReaderError{Op: "decode", Collection: mr.opts.Collection, Err: err}
	}

	record := make(salesflow.Record, len(doc))
	for key, value := range doc {
		if key == "_id" && !mr.opts.KeepID {
			continue
		}
		converted := convertBSONValue(value)
		if converted == nil {
			mr.stats.NullCounts[key]++
		}
		record[key] = converted
	}
	mr.stats.DocumentsRead++
	return record, nil
}

// Close closes the cursor and disconnects the client.
func (mr *MongoReader) Close() error {
	ctx := context.Background()
	var errs []error

	if mr.cursor != nil {
		if err := mr.cursor.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cursor close: %w", err))
		}
		mr.cursor = nil
	}
	if mr.client != nil {
		if err := mr.client.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("client disconnect: %w", err))
		}
		mr.client = nil
	}

	if err := errors.Join(errs...); err != nil {
		return &MongoReaderError{Op: "close", Collection: mr.opts.Collection, Err: err}
	}
	return nil
}

func (mr *MongoReader) Stats() MongoReaderStats {
	stats := mr.stats
	stats.NullCounts = make(map[string]int64, len(mr.stats.NullCounts))
	for k, v := range mr.stats.NullCounts {
		stats.NullCounts[k] = v
	}
	return stats
}

// convertBSONValue converts BSON values to the types the rest of the pipeline handles.
// Decimal128 becomes an exact decimal.Decimal; NaN and infinities become nil.
func convertBSONValue(value interface{}) interface{} {
	switch v := value.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case primitive.DateTime:
		return v.Time().UTC()
	case primitive.Decimal128:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return nil
		}
		return d
	case primitive.Binary:
		return v.Data
	case primitive.Timestamp:
		return time.Unix(int64(v.T), 0).UTC()
	case primitive.Undefined, primitive.Null:
		return nil
	case bson.M:
		result := make(map[string]interface{}, len(v))
		for k, val := range v {
			result[k] = convertBSONValue(val)
		}
		return result
	case bson.A:
		result := make([]interface{}, len(v))
		for i, val := range v {
			result[i] = convertBSONValue(val)
		}
		return result
	default:
		return v
	}
}
