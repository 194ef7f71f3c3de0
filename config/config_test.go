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

package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.Threshold)
	assert.Equal(t, "01/02/2006", cfg.DateFormat)
	assert.Equal(t, 5*time.Second, cfg.Rates.Timeout)
	assert.Equal(t, "SalesEnriched", cfg.Sinks.AcceptedTable)
	assert.Equal(t, "RejectedRecords", cfg.Sinks.RejectedTable)
	assert.Empty(t, cfg.Rates.Fallback)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inputs.sales is required")
	assert.Contains(t, err.Error(), "sinks.audit_path")
}

func TestLoad_Layers(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "salesflow.yaml", `
threshold: 0.1
workers: 8
inputs:
  sales: data/sales.csv
  products: data/products.csv
rates:
  endpoint: https://rates.example.com/latest
  timeout: 2s
  fallback:
    EUR: 0.9
sinks:
  audit_path: out/audit
  audit_format: parquet
  rejected_path: out/rejected
database:
  driver: sqlite
  name: sales.db
log:
  level: debug
`)
	envFile := writeFile(t, dir, "test.env", "SALESFLOW_WORKERS=2\nSALESFLOW_DB_NAME=from-dotenv.db\nSALESFLOW_LOG_FORMAT=text\n")
	t.Setenv("SALESFLOW_DB_NAME", "from-env.db")
	t.Setenv("SALESFLOW_RATES_FALLBACK", "gbp=0.8, EUR=0.95")

	cfg, err := Load(path, envFile)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.1, cfg.Threshold, "yaml overrides defaults")
	assert.Equal(t, 2, cfg.Workers, ".env overrides yaml")
	assert.Equal(t, "from-env.db", cfg.Database.Name, "process env overrides .env")
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 2*time.Second, cfg.Rates.Timeout)
	assert.Equal(t, time.Hour, cfg.Rates.CacheTTL, "unset keys keep their default")
	assert.Equal(t, map[string]float64{"GBP": 0.8, "EUR": 0.95}, cfg.Rates.Fallback)
	assert.Equal(t, "parquet", cfg.Sinks.AuditFormat)
	assert.Equal(t, "csv", cfg.Sinks.RejectedFormat)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.yaml", "threshold: [1, 2\n")
	_, err = Load(bad)
	assert.Error(t, err)

	t.Setenv("SALESFLOW_THRESHOLD", "five percent")
	t.Setenv("SALESFLOW_RATES_TIMEOUT", "soon")
	_, err = Load("", filepath.Join(dir, "none.env"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SALESFLOW_THRESHOLD")
	assert.Contains(t, err.Error(), "SALESFLOW_RATES_TIMEOUT")
}

func TestLoad_NaNThresholdFromEnv(t *testing.T) {
	t.Setenv("SALESFLOW_THRESHOLD", "NaN")
	cfg, err := Load("", filepath.Join(t.TempDir(), "none.env"))
	require.NoError(t, err, "NaN parses as a float")
	require.True(t, math.IsNaN(cfg.Threshold))

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "threshold must be between 0 and 1")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Inputs.Sales = "sales.csv"
		cfg.Sinks.AuditPath = "audit"
		cfg.Sinks.RejectedPath = "rejected"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"threshold above one", func(c *Config) { c.Threshold = 1.5 }, "threshold"},
		{"negative threshold", func(c *Config) { c.Threshold = -0.1 }, "threshold"},
		{"NaN threshold", func(c *Config) { c.Threshold = math.NaN() }, "threshold"},
		{"NaN fallback", func(c *Config) { c.Rates.Fallback = map[string]float64{"EUR": math.NaN()} }, "rates.fallback.EUR"},
		{"infinite fallback", func(c *Config) { c.Rates.Fallback = map[string]float64{"GBP": math.Inf(1)} }, "rates.fallback.GBP"},
		{"empty date format", func(c *Config) { c.DateFormat = " " }, "date_format"},
		{"unknown format", func(c *Config) { c.Sinks.AuditFormat = "xlsx" }, "sinks.audit_format"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"non-positive fallback", func(c *Config) { c.Rates.Fallback = map[string]float64{"EUR": 0} }, "rates.fallback.EUR"},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }, "log.level"},
		{"missing table", func(c *Config) { c.Sinks.RejectedTable = "" }, "sinks.rejected_table"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConnectionString(t *testing.T) {
	tests := []struct {
		name string
		db   DatabaseConfig
		want string
	}{
		{
			name: "verbatim dsn",
			db:   DatabaseConfig{Driver: "postgres", DSN: "postgres://x"},
			want: "postgres://x",
		},
		{
			name: "postgres encrypted, trusted certificate",
			db: DatabaseConfig{Driver: "postgres", Host: "db", Name: "SalesDB", User: "etl", Password: "p@ss",
				Encrypt: true, TrustServerCertificate: true},
			want: "postgres://etl:p%40ss@db:5432/SalesDB?sslmode=require",
		},
		{
			name: "postgres plain",
			db:   DatabaseConfig{Driver: "postgresql", Host: "db", Port: 6543, Name: "SalesDB"},
			want: "postgres://db:6543/SalesDB?sslmode=disable",
		},
		{
			name: "sqlite file",
			db:   DatabaseConfig{Driver: "sqlite", Name: "sales.db"},
			want: "sales.db",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.db.ConnectionString()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	dsn, err := DatabaseConfig{Driver: "mysql", Host: "db", Name: "SalesDB", User: "etl", Password: "secret",
		Encrypt: true, TrustServerCertificate: true}.ConnectionString()
	require.NoError(t, err)
	parsed, err := mysql.ParseDSN(dsn)
	require.NoError(t, err)
	assert.Equal(t, "etl", parsed.User)
	assert.Equal(t, "secret", parsed.Passwd)
	assert.Equal(t, "db:3306", parsed.Addr)
	assert.Equal(t, "SalesDB", parsed.DBName)
	assert.True(t, parsed.ParseTime)
	assert.Equal(t, "skip-verify", parsed.TLSConfig)

	_, err = DatabaseConfig{Driver: "sqlite"}.ConnectionString()
	assert.Error(t, err)

	name, err := DatabaseConfig{Driver: "sqlite3"}.DriverName()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", name)
}
