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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aaronlmathis/salesflow"
)

// Package readers provides implementations of salesflow.DataSource for reading data from various sources.
//
// This file implements an HTTP JSON reader. A single request is made on the first Read;
// the value found at DataPath is either an array of objects (one record per element) or
// a single object (one record).

// HTTPReaderError provides structured error information for HTTP reader operations
type HTTPReaderError struct {
	Op         string // Operation that failed (e.g., "request", "status", "parse")
	StatusCode int    // HTTP status code if applicable
	URL        string // URL being accessed when error occurred
	Err        error  // Underlying error
}

func (e *HTTPReaderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("http reader %s [%d] %s: %v", e.Op, e.StatusCode, e.URL, e.Err)
	}
	return fmt.Sprintf("http reader %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *HTTPReaderError) Unwrap() error {
	return e.Err
}

// HTTPReaderStats holds statistics about the HTTP reader's performance
type HTTPReaderStats struct {
	RequestCount int64
	RecordsRead  int64
	BytesRead    int64
	RetryCount   int64
	ReadDuration time.Duration
	LastReadTime time.Time
}

// HTTPReaderOptions configures the HTTP reader
type HTTPReaderOptions struct {
	Method           string            // HTTP method (default: GET)
	Headers          map[string]string // Additional headers
	QueryParams      map[string]string // Query parameters
	BearerToken      string            // Sent as Authorization: Bearer
	Timeout          time.Duration     // Per-request timeout
	RetryAttempts    int               // Number of retry attempts after the first request
	RetryDelay       time.Duration     // Base delay between retries, doubled per attempt
	DataPath         string            // Dotted path to the data inside the JSON body
	MaxResponseSize  int64             // Maximum response size in bytes
	ValidStatusCodes []int             // Valid HTTP status codes
	UserAgent        string            // User agent string
	CustomClient     *http.Client      // Custom HTTP client
}

// ReaderOptionHTTP is a functional option for HTTPReaderOptions
type ReaderOptionHTTP func(*HTTPReaderOptions)

func WithHTTPMethod(method string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Method = method
	}
}

func WithHTTPHeaders(headers map[string]string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		for k, v := range headers {
			opts.Headers[k] = v
		}
	}
}

func WithHTTPQueryParams(params map[string]string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		for k, v := range params {
			opts.QueryParams[k] = v
		}
	}
}

func WithHTTPBearerToken(token string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.BearerToken = token
	}
}

func WithHTTPTimeout(timeout time.Duration) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.Timeout = timeout
	}
}

func WithHTTPRetries(attempts int, delay time.Duration) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.RetryAttempts = attempts
		opts.RetryDelay = delay
	}
}

func WithHTTPDataPath(path string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.DataPath = path
	}
}

func WithHTTPUserAgent(userAgent string) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.UserAgent = userAgent
	}
}

func WithHTTPClient(client *http.Client) ReaderOptionHTTP {
	return func(opts *HTTPReaderOptions) {
		opts.CustomClient = client
	}
}

// HTTPReader implements salesflow.DataSource for JSON HTTP endpoints.
// Numbers in the response are kept as json.Number to preserve their exact text.
type HTTPReader struct {
	baseURL string
	client  *http.Client
	opts    *HTTPReaderOptions
	stats   HTTPReaderStats
	records []salesflow.Record
	pos     int
	fetched bool
}

// NewHTTPReader creates a new HTTP API reader with configurable options
func NewHTTPReader(endpoint string, options ...ReaderOptionHTTP) (*HTTPReader, error) {
	opts := &HTTPReaderOptions{
		Method:           http.MethodGet,
		Headers:          make(map[string]string),
		QueryParams:      make(map[string]string),
		Timeout:          30 * time.Second,
		RetryAttempts:    3,
		RetryDelay:       time.Second,
		MaxResponseSize:  10 * 1024 * 1024,
		ValidStatusCodes: []int{200, 201, 202},
		UserAgent:        "SalesFlow-HTTPReader/1.0",
	}

	for _, option := range options {
		option(opts)
	}

	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, &HTTPReaderError{Op: "validate", URL: endpoint, Err: err}
	}

	client := opts.CustomClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &HTTPReader{
		baseURL: endpoint,
		client:  client,
		opts:    opts,
	}, nil
}

// Read implements the salesflow.DataSource interface
func (hr *HTTPReader) Read(ctx context.Context) (salesflow.Record, error) {
	start := time.Now()
	defer func() {
		hr.stats.ReadDuration += time.Since(start)
		hr.stats.LastReadTime = time.Now()
	}()

	select {
	case <-ctx.Done():
		return nil, &HTTPReaderError{Op: "read", URL: hr.baseURL, Err: ctx.Err()}
	default:
	}

	if !hr.fetched {
		if err := hr.fetch(ctx); err != nil {
			return nil, err
		}
		hr.fetched = true
	}

	if hr.pos >= len(hr.records) {
		return nil, io.EOF
	}
	record := hr.records[hr.pos]
	hr.pos++
	hr.stats.RecordsRead++
	return record, nil
}

// Close implements the salesflow.DataSource interface
func (hr *HTTPReader) Close() error {
	return nil
}

// Stats returns HTTP reader performance statistics
func (hr *HTTPReader) Stats() HTTPReaderStats {
	return hr.stats
}

func (hr *HTTPReader) fetch(ctx context.Context) error {
	requestURL := hr.requestURL()

	body, err := hr.executeRequestWithRetry(ctx, requestURL)
	if err != nil {
		return err
	}

	records, err := hr.parseResponse(body)
	if err != nil {
		return &HTTPReaderError{Op: "parse", URL: requestURL, Err: err}
	}
	hr.records = records
	return nil
}

// requestURL builds the URL for the request, merging configured query parameters.
func (hr *HTTPReader) requestURL() string {
	if len(hr.opts.QueryParams) == 0 {
		return hr.baseURL
	}
	u, err := url.Parse(hr.baseURL)
	if err != nil {
		return hr.baseURL
	}
	q := u.Query()
	for k, v := range hr.opts.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// executeRequestWithRetry executes the HTTP request with exponential backoff between attempts.
func (hr *HTTPReader) executeRequestWithRetry(ctx context.Context, requestURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= hr.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			hr.stats.RetryCount++
			delay := hr.opts.RetryDelay * time.Duration(1<<uint(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, &HTTPReaderError{Op: "retry", URL: requestURL, Err: ctx.Err()}
			}
		}

		body, err := hr.executeRequest(ctx, requestURL)
		if err == nil {
			return body, nil
		}
		lastErr = err

		// Client errors other than throttling are not worth retrying
		if he, ok := err.(*HTTPReaderError); ok && he.StatusCode >= 400 && he.StatusCode < 500 && he.StatusCode != http.StatusTooManyRequests {
			break
		}
	}

	return nil, lastErr
}

func (hr *HTTPReader) executeRequest(ctx context.Context, requestURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, hr.opts.Method, requestURL, nil)
	if err != nil {
		return nil, &HTTPReaderError{Op: "create_request", URL: requestURL, Err: err}
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", hr.opts.UserAgent)
	for k, v := range hr.opts.Headers {
		req.Header.Set(k, v)
	}
	if hr.opts.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+hr.opts.BearerToken)
	}

	hr.stats.RequestCount++
	resp, err := hr.client.Do(req)
	if err != nil {
		return nil, &HTTPReaderError{Op: "request", URL: requestURL, Err: err}
	}
	defer resp.Body.Close()

	if !hr.validStatus(resp.StatusCode) {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPReaderError{
			Op:         "status",
			StatusCode: resp.StatusCode,
			URL:        requestURL,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, hr.opts.MaxResponseSize+1))
	if err != nil {
		return nil, &HTTPReaderError{Op: "read_body", StatusCode: resp.StatusCode, URL: requestURL, Err: err}
	}
	if int64(len(body)) > hr.opts.MaxResponseSize {
		return nil, &HTTPReaderError{
			Op:         "read_body",
			StatusCode: resp.StatusCode,
			URL:        requestURL,
			Err:        fmt.Errorf("response exceeds %d bytes", hr.opts.MaxResponseSize),
		}
	}
	hr.stats.BytesRead += int64(len(body))
	return body, nil
}

func (hr *HTTPReader) validStatus(code int) bool {
	for _, valid := range hr.opts.ValidStatusCodes {
		if code == valid {
			return true
		}
	}
	return false
}

// parseResponse decodes the body and extracts the records found at DataPath.
func (hr *HTTPReader) parseResponse(body []byte) ([]salesflow.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var root interface{}
	if err := dec.Decode(&root); err != nil {
		return nil, err
	}

	data, err := extractPath(root, hr.opts.DataPath)
	if err != nil {
		return nil, err
	}

	switch v := data.(type) {
	case map[string]interface{}:
		return []salesflow.Record{salesflow.Record(v)}, nil
	case []interface{}:
		records := make([]salesflow.Record, 0, len(v))
		for i, item := range v {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("element %d at %q is %T, not an object", i, hr.opts.DataPath, item)
			}
			records = append(records, salesflow.Record(obj))
		}
		return records, nil
	default:
		return nil, fmt.Errorf("value at %q is %T, want an object or array", hr.opts.DataPath, data)
	}
}

func extractPath(root interface{}, path string) (interface{}, error) {
	if path == "" {
		return root, nil
	}
	current := root
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("cannot descend into %T at %q", current, part)
		}
		next, exists := obj[part]
		if !exists {
			return nil, fmt.Errorf("path %q not found", path)
		}
		current = next
	}
	return current, nil
}
