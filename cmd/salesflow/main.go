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

// Command salesflow runs one sales batch through cleaning, enrichment, currency
// conversion and validation, then writes the accepted and rejected outputs.
//
// Exit codes: 0 on success, 2 when the rejection ratio exceeds the threshold,
// 1 on any other failure.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aaronlmathis/salesflow"
	"github.com/aaronlmathis/salesflow/config"
	"github.com/aaronlmathis/salesflow/currency"
	"github.com/aaronlmathis/salesflow/logging"
	"github.com/aaronlmathis/salesflow/readers"
	"github.com/aaronlmathis/salesflow/sales"
	"github.com/aaronlmathis/salesflow/validators"
	"github.com/aaronlmathis/salesflow/writers"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitThreshold = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("salesflow", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to the YAML configuration file")
	envFile := fs.String("env-file", config.DefaultEnvFile, "optional .env file with SALESFLOW_* overrides")
	reportPath := fs.String("report", "", "write the run result as JSON to this path, or - for stdout")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitFailure
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(stderr, "salesflow: %v\n", err)
		return exitFailure
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "salesflow: invalid configuration: %v\n", err)
		return exitFailure
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "salesflow: %v\n", err)
		return exitFailure
	}
	slog.SetDefault(logger)

	result, err := execute(ctx, cfg, logger)
	if result != nil && *reportPath != "" {
		if rerr := writeReport(*reportPath, stdout, result); rerr != nil {
			logger.Error("failed to write run report", "path", *reportPath, "error", rerr)
			if err == nil {
				return exitFailure
			}
		}
	}

	var thresholdErr *validators.ThresholdError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &thresholdErr):
		fmt.Fprintf(stderr, "salesflow: run aborted: rejection ratio %.4f exceeds threshold %.4f (%d of %d rows rejected)\n",
			thresholdErr.Ratio, thresholdErr.Threshold, thresholdErr.Rejected, thresholdErr.Total)
		return exitThreshold
	default:
		logger.Error("run failed", "error", err)
		fmt.Fprintf(stderr, "salesflow: %v\n", err)
		return exitFailure
	}
}

// execute wires the configured inputs, rate source and sinks into one run.
func execute(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sales.RunResult, error) {
	auditFormat, err := writers.ParseOutputFormat(cfg.Sinks.AuditFormat)
	if err != nil {
		return nil, err
	}
	rejectedFormat, err := writers.ParseOutputFormat(cfg.Sinks.RejectedFormat)
	if err != nil {
		return nil, err
	}
	dialect, err := writers.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := cfg.Database.ConnectionString()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	salesSource, err := readers.Open(ctx, cfg.Inputs.Sales, openOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("open sales input: %w", err)
	}

	var products salesflow.DataSource
	if cfg.Inputs.Products != "" {
		opts := append(openOptions(cfg), readers.WithQuery(cfg.Inputs.ProductsQuery))
		products, err = readers.Open(ctx, cfg.Inputs.Products, opts...)
		if err != nil {
			salesSource.Close()
			return nil, fmt.Errorf("open product references: %w", err)
		}
	} else {
		logger.Warn("no product reference input configured, rows will not be enriched")
	}

	sinkConfig := sales.SinkConfig{
		DB:             db,
		Dialect:        dialect,
		AcceptedTable:  cfg.Sinks.AcceptedTable,
		RejectedTable:  cfg.Sinks.RejectedTable,
		CreateTables:   cfg.Sinks.CreateTables,
		AuditDir:       cfg.Sinks.AuditPath,
		AuditFormat:    auditFormat,
		RejectedDir:    cfg.Sinks.RejectedPath,
		RejectedFormat: rejectedFormat,
	}

	orchestrator := &sales.Orchestrator{
		Rates: rateSource(cfg, logger),
		OpenSinks: func(ctx context.Context, layout sales.Layout, runID string) (*sales.SinkWriter, error) {
			return sales.NewSinkWriter(sinkConfig, layout, runID, logger)
		},
		Threshold:  cfg.Threshold,
		DateLayout: cfg.DateFormat,
		Workers:    cfg.Workers,
		Logger:     logger,
	}
	return orchestrator.Run(ctx, salesSource, products)
}

func rateSource(cfg *config.Config, logger *slog.Logger) sales.RateSource {
	fallback := currency.DefaultFallback()
	if len(cfg.Rates.Fallback) > 0 {
		fallback = currency.RateMapFromFloats(cfg.Rates.Fallback)
	}
	if cfg.Rates.Endpoint == "" {
		logger.Warn("no rate endpoint configured, using fallback rates", "currencies", fallback.Currencies())
		return sales.StaticRates(fallback)
	}
	return currency.NewProvider(cfg.Rates.Endpoint,
		currency.WithTimeout(cfg.Rates.Timeout),
		currency.WithRetries(cfg.Rates.Retries, cfg.Rates.RetryDelay),
		currency.WithCacheTTL(cfg.Rates.CacheTTL),
		currency.WithDataPath(cfg.Rates.DataPath),
		currency.WithFallback(fallback),
		currency.WithLogger(logger),
	)
}

func openOptions(cfg *config.Config) []readers.OpenOption {
	var s3 []readers.ReaderOptionS3
	if cfg.S3.Region != "" {
		s3 = append(s3, readers.WithS3Region(cfg.S3.Region))
	}
	if cfg.S3.Profile != "" {
		s3 = append(s3, readers.WithS3Profile(cfg.S3.Profile))
	}
	if cfg.S3.Endpoint != "" {
		s3 = append(s3, readers.WithS3Endpoint(cfg.S3.Endpoint))
	}
	if cfg.S3.ForcePathStyle {
		s3 = append(s3, readers.WithS3PathStyle(true))
	}
	return []readers.OpenOption{readers.WithS3Options(s3...)}
}

func writeReport(path string, stdout io.Writer, result *sales.RunResult) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "-" {
		_, err = stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
