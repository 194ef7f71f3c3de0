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

package currency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/aaronlmathis/salesflow/readers"
)

// Source records where the rates used by a run came from.
type Source string

const (
	SourceLive     Source = "live"
	SourceCache    Source = "cache"
	SourceFallback Source = "fallback"
)

// ProviderError reports a failed live rate fetch.
type ProviderError struct {
	Op       string // "request", "parse"
	Endpoint string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("rate provider %s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// DefaultFallback is used when neither the live endpoint nor the cache can supply rates.
func DefaultFallback() RateMap {
	return RateMapFromFloats(map[string]float64{"EUR": 1.0, "GBP": 1.0})
}

// ProviderOptions configures a Provider.
type ProviderOptions struct {
	Timeout    time.Duration // bound on the whole fetch, retries included
	Retries    int
	RetryDelay time.Duration
	CacheTTL   time.Duration // lifetime of the last-known-good map
	Fallback   RateMap
	DataPath   string // location of the rates object in the response body
	Client     *http.Client
	Logger     *slog.Logger
}

// ProviderOption represents a configuration function for ProviderOptions.
type ProviderOption func(*ProviderOptions)

// WithTimeout bounds the live fetch.
func WithTimeout(timeout time.Duration) ProviderOption {
	return func(opts *ProviderOptions) {
		opts.Timeout = timeout
	}
}

// WithRetries sets the retry count and the initial backoff for the live fetch.
func WithRetries(attempts int, delay time.Duration) ProviderOption {
	return func(opts *ProviderOptions) {
		opts.Retries = attempts
		opts.RetryDelay = delay
	}
}

// WithCacheTTL sets how long a successful fetch may stand in for a failed one.
func WithCacheTTL(ttl time.Duration) ProviderOption {
	return func(opts *ProviderOptions) {
		opts.CacheTTL = ttl
	}
}

// WithFallback replaces the default fallback map.
func WithFallback(fallback RateMap) ProviderOption {
	return func(opts *ProviderOptions) {
		opts.Fallback = fallback
	}
}

// WithDataPath sets the dotted path of the rates object in the response.
func WithDataPath(path string) ProviderOption {
	return func(opts *ProviderOptions) {
		opts.DataPath = path
	}
}

// WithHTTPClient sets the HTTP client used for the fetch.
func WithHTTPClient(client *http.Client) ProviderOption {
	return func(opts *ProviderOptions) {
		opts.Client = client
	}
}

// WithLogger sets the logger for fallback warnings.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(opts *ProviderOptions) {
		opts.Logger = logger
	}
}

// Provider fetches exchange rates from an HTTP endpoint returning {"rates": {"EUR": 0.9, ...}}.
type Provider struct {
	endpoint string
	opts     *ProviderOptions
	cache    *cache.Cache
}

const lastKnownGoodKey = "rates"

// NewProvider returns a Provider for endpoint.
func NewProvider(endpoint string, options ...ProviderOption) *Provider {
	opts := &ProviderOptions{
		Timeout:    5 * time.Second,
		RetryDelay: 200 * time.Millisecond,
		CacheTTL:   time.Hour,
		Fallback:   DefaultFallback(),
		DataPath:   "rates",
	}
	for _, option := range options {
		option(opts)
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	return &Provider{
		endpoint: endpoint,
		opts:     opts,
		cache:    cache.New(opts.CacheTTL, 2*opts.CacheTTL),
	}
}

// Fetch performs one live fetch. A successful result replaces the last-known-good map.
func (p *Provider) Fetch(ctx context.Context) (RateMap, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	readerOpts := []readers.ReaderOptionHTTP{
		readers.WithHTTPTimeout(p.opts.Timeout),
		readers.WithHTTPRetries(p.opts.Retries, p.opts.RetryDelay),
		readers.WithHTTPDataPath(p.opts.DataPath),
	}
	if p.opts.Client != nil {
		readerOpts = append(readerOpts, readers.WithHTTPClient(p.opts.Client))
	}

	reader, err := readers.NewHTTPReader(p.endpoint, readerOpts...)
	if err != nil {
		return RateMap{}, &ProviderError{Op: "request", Endpoint: p.endpoint, Err: err}
	}
	defer reader.Close()

	record, err := reader.Read(ctx)
	if errors.Is(err, io.EOF) {
		return RateMap{}, &ProviderError{Op: "parse", Endpoint: p.endpoint, Err: fmt.Errorf("empty response")}
	}
	if err != nil {
		op := "request"
		var httpErr *readers.HTTPReaderError
		if errors.As(err, &httpErr) && httpErr.Op == "parse" {
			op = "parse"
		}
		return RateMap{}, &ProviderError{Op: op, Endpoint: p.endpoint, Err: err}
	}

	rates, err := ParseRateRecord(record)
	if err != nil {
		return RateMap{}, &ProviderError{Op: "parse", Endpoint: p.endpoint, Err: err}
	}

	p.cache.Set(lastKnownGoodKey, rates, cache.DefaultExpiration)
	return rates, nil
}

// Rates returns the rates for a run. A failed live fetch falls back to the last-known-good
// map, then to the configured fallback, with a warning. The only error is cancellation of ctx.
func (p *Provider) Rates(ctx context.Context) (RateMap, Source, error) {
	rates, err := p.Fetch(ctx)
	if err == nil {
		return rates, SourceLive, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return RateMap{}, "", ctxErr
	}

	if cached, found := p.cache.Get(lastKnownGoodKey); found {
		p.opts.Logger.Warn("rate fetch failed, using last known rates",
			"endpoint", p.endpoint, "error", err)
		return cached.(RateMap), SourceCache, nil
	}

	p.opts.Logger.Warn("rate fetch failed, using fallback rates",
		"endpoint", p.endpoint, "currencies", p.opts.Fallback.Currencies(), "error", err)
	return p.opts.Fallback, SourceFallback, nil
}
