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
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/aaronlmathis/salesflow"
)

// S3ReaderError provides structured error information for S3 reader operations
type S3ReaderError struct {
	Op  string // Operation that failed (e.g., "parse_location", "get_object", "read")
	Key string // Object key, when known
	Err error  // Underlying error
}

func (e *S3ReaderError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("s3 reader %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("s3 reader %s: %v", e.Op, e.Err)
}

func (e *S3ReaderError) Unwrap() error {
	return e.Err
}

// S3ReaderStats holds statistics about the S3 reader's performance
type S3ReaderStats struct {
	RecordsRead   int64
	ContentLength int64
	LastModified  time.Time
	ReadDuration  time.Duration
}

// S3ReaderOptions configures the S3 reader behavior
type S3ReaderOptions struct {
	Region         string          // AWS region
	Profile        string          // AWS shared config profile
	Credentials    aws.Credentials // Explicit credentials
	EndpointURL    string          // Custom S3 endpoint (for S3-compatible services)
	ForcePathStyle bool            // Use path-style addressing
	CSVOptions     []ReaderOptionCSV
}

// ReaderOptionS3 represents a configuration function for S3Reader
type ReaderOptionS3 func(*S3ReaderOptions)

func WithS3Region(region string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Region = region
	}
}

func WithS3Profile(profile string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Profile = profile
	}
}

func WithS3Credentials(creds aws.Credentials) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.Credentials = creds
	}
}

func WithS3Endpoint(endpoint string) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.EndpointURL = endpoint
	}
}

func WithS3PathStyle(pathStyle bool) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.ForcePathStyle = pathStyle
	}
}

func WithS3CSVOptions(options ...ReaderOptionCSV) ReaderOptionS3 {
	return func(opts *S3ReaderOptions) {
		opts.CSVOptions = append(opts.CSVOptions, options...)
	}
}

// S3Reader implements salesflow.DataSource for a single S3 object.
// The object body is decoded by the reader matching its key's extension.
type S3Reader struct {
	bucket string
	key    string
	inner  salesflow.DataSource
	stats  S3ReaderStats
}

// ParseS3Location splits an s3://bucket/key location into bucket and key.
func ParseS3Location(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" {
		return "", "", fmt.Errorf("scheme %q is not s3", u.Scheme)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("location %q must be s3://bucket/key", location)
	}
	return u.Host, key, nil
}

// NewS3Reader fetches the object at location (s3://bucket/key) and returns a reader over it.
func NewS3Reader(ctx context.Context, location string, options ...ReaderOptionS3) (*S3Reader, error) {
	var opts S3ReaderOptions
	for _, option := range options {
		option(&opts)
	}

	bucket, key, err := ParseS3Location(location)
	if err != nil {
		return nil, &S3ReaderError{Op: "parse_location", Err: err}
	}

	cfg, err := createAWSConfig(ctx, opts)
	if err != nil {
		return nil, &S3ReaderError{Op: "create_aws_config", Err: err}
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.EndpointURL != "" {
			o.BaseEndpoint = aws.String(opts.EndpointURL)
		}
		o.UsePathStyle = opts.ForcePathStyle
	})

	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, &S3ReaderError{Op: "get_object", Key: key, Err: err}
	}

	reader := &S3Reader{bucket: bucket, key: key}
	if out.ContentLength != nil {
		reader.stats.ContentLength = *out.ContentLength
	}
	if out.LastModified != nil {
		reader.stats.LastModified = *out.LastModified
	}

	inner, err := readerForKey(out.Body, key, opts.CSVOptions)
	if err != nil {
		out.Body.Close()
		return nil, &S3ReaderError{Op: "create_reader", Key: key, Err: err}
	}
	reader.inner = inner
	return reader, nil
}

// Read implements the salesflow.DataSource interface
func (s *S3Reader) Read(ctx context.Context) (salesflow.Record, error) {
	start := time.Now()
	defer func() { s.stats.ReadDuration += time.Since(start) }()

	record, err := s.inner.Read(ctx)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, &S3ReaderError{Op: "read", Key: s.key, Err: err}
	}
	s.stats.RecordsRead++
	return record, nil
}

// Close implements the salesflow.DataSource interface
func (s *S3Reader) Close() error {
	return s.inner.Close()
}

// Stats returns S3 reader performance statistics
func (s *S3Reader) Stats() S3ReaderStats {
	return s.stats
}

// createAWSConfig creates AWS configuration from options
func createAWSConfig(ctx context.Context, opts S3ReaderOptions) (aws.Config, error) {
	configOpts := []func(*config.LoadOptions) error{}

	if opts.Region != "" {
		configOpts = append(configOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(opts.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return aws.Config{}, err
	}

	if opts.Credentials.AccessKeyID != "" {
		cfg.Credentials = aws.NewCredentialsCache(
			credentials.NewStaticCredentialsProvider(
				opts.Credentials.AccessKeyID,
				opts.Credentials.SecretAccessKey,
				opts.Credentials.SessionToken,
			),
		)
	}

	return cfg, nil
}

// readerForKey picks a decoder by extension: JSON lines for .json/.jsonl, CSV otherwise.
func readerForKey(body io.ReadCloser, key string, csvOpts []ReaderOptionCSV) (salesflow.DataSource, error) {
	switch strings.ToLower(path.Ext(key)) {
	case ".json", ".jsonl", ".ndjson":
		return NewJSONReader(body), nil
	default:
		return NewCSVReader(body, csvOpts...)
	}
}
