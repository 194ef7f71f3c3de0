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

// Package config loads run configuration from defaults, a YAML file, a .env file
// and SALESFLOW_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/aaronlmathis/salesflow/logging"
	"github.com/aaronlmathis/salesflow/writers"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SALESFLOW_"

// DefaultEnvFile is read when Load is given no env files. It is optional.
const DefaultEnvFile = ".env"

// Config is the full run configuration.
type Config struct {
	Threshold  float64        `yaml:"threshold"`
	DateFormat string         `yaml:"date_format"`
	Workers    int            `yaml:"workers"`
	Inputs     InputsConfig   `yaml:"inputs"`
	Rates      RatesConfig    `yaml:"rates"`
	Sinks      SinksConfig    `yaml:"sinks"`
	Database   DatabaseConfig `yaml:"database"`
	S3         S3Config       `yaml:"s3"`
	Log        LogConfig      `yaml:"log"`
}

// InputsConfig locates the sales batch and the product references. Locations are
// anything readers.Open accepts.
type InputsConfig struct {
	Sales         string `yaml:"sales"`
	Products      string `yaml:"products"`
	ProductsQuery string `yaml:"products_query"`
}

// RatesConfig configures the exchange-rate provider.
type RatesConfig struct {
	Endpoint   string             `yaml:"endpoint"`
	Timeout    time.Duration      `yaml:"timeout"`
	Retries    int                `yaml:"retries"`
	RetryDelay time.Duration      `yaml:"retry_delay"`
	CacheTTL   time.Duration      `yaml:"cache_ttl"`
	DataPath   string             `yaml:"data_path"`
	Fallback   map[string]float64 `yaml:"fallback"` // empty means EUR and GBP at 1.0
}

// SinksConfig names the four outputs of a run.
type SinksConfig struct {
	AcceptedTable  string `yaml:"accepted_table"`
	RejectedTable  string `yaml:"rejected_table"`
	CreateTables   bool   `yaml:"create_tables"`
	AuditPath      string `yaml:"audit_path"`
	AuditFormat    string `yaml:"audit_format"`
	RejectedPath   string `yaml:"rejected_path"`
	RejectedFormat string `yaml:"rejected_format"`
}

// DatabaseConfig describes the sink database. DSN, when set, is used verbatim.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	Name                   string `yaml:"name"`
	User                   string `yaml:"user"`
	Password               string `yaml:"password"`
	Encrypt                bool   `yaml:"encrypt"`
	TrustServerCertificate bool   `yaml:"trust_server_certificate"`
}

// S3Config applies to s3:// input locations.
type S3Config struct {
	Region         string `yaml:"region"`
	Endpoint       string `yaml:"endpoint"`
	Profile        string `yaml:"profile"`
	ForcePathStyle bool   `yaml:"force_path_style"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Threshold:  0.05,
		DateFormat: "01/02/2006",
		Workers:    4,
		Rates: RatesConfig{
			Timeout:    5 * time.Second,
			RetryDelay: 200 * time.Millisecond,
			CacheTTL:   time.Hour,
			DataPath:   "rates",
		},
		Sinks: SinksConfig{
			AcceptedTable:  "SalesEnriched",
			RejectedTable:  "RejectedRecords",
			CreateTables:   true,
			AuditFormat:    "csv",
			RejectedFormat: "csv",
		},
		Database: DatabaseConfig{
			Driver:  "postgres",
			Host:    "localhost",
			Name:    "SalesDB",
			Encrypt: true,
		},
		Log: LogConfig{Level: "info", Format: logging.FormatJSON},
	}
}

// Load builds a Config. path may be empty to skip the YAML file. Each env file is read
// when present; with none given, DefaultEnvFile is tried. Variables already set in the
// process environment win over env files.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{DefaultEnvFile}
	}
	dotenv := make(map[string]string)
	for _, file := range envFiles {
		values, err := godotenv.Read(file)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read env file %s: %w", file, err)
		}
		for k, v := range values {
			if _, seen := dotenv[k]; !seen {
				dotenv[k] = v
			}
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from SALESFLOW_* variables.
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.setFloat("THRESHOLD", &c.Threshold)
	e.setString("DATE_FORMAT", &c.DateFormat)
	e.setInt("WORKERS", &c.Workers)

	e.setString("SALES_INPUT", &c.Inputs.Sales)
	e.setString("PRODUCTS_INPUT", &c.Inputs.Products)
	e.setString("PRODUCTS_QUERY", &c.Inputs.ProductsQuery)

	e.setString("RATES_ENDPOINT", &c.Rates.Endpoint)
	e.setDuration("RATES_TIMEOUT", &c.Rates.Timeout)
	e.setInt("RATES_RETRIES", &c.Rates.Retries)
	e.setDuration("RATES_CACHE_TTL", &c.Rates.CacheTTL)
	e.setRates("RATES_FALLBACK", &c.Rates.Fallback)

	e.setString("ACCEPTED_TABLE", &c.Sinks.AcceptedTable)
	e.setString("REJECTED_TABLE", &c.Sinks.RejectedTable)
	e.setBool("CREATE_TABLES", &c.Sinks.CreateTables)
	e.setString("AUDIT_PATH", &c.Sinks.AuditPath)
	e.setString("AUDIT_FORMAT", &c.Sinks.AuditFormat)
	e.setString("REJECTED_PATH", &c.Sinks.RejectedPath)
	e.setString("REJECTED_FORMAT", &c.Sinks.RejectedFormat)

	e.setString("DB_DRIVER", &c.Database.Driver)
	e.setString("DB_DSN", &c.Database.DSN)
	e.setString("DB_HOST", &c.Database.Host)
	e.setInt("DB_PORT", &c.Database.Port)
	e.setString("DB_NAME", &c.Database.Name)
	e.setString("DB_USER", &c.Database.User)
	e.setString("DB_PASSWORD", &c.Database.Password)
	e.setBool("DB_ENCRYPT", &c.Database.Encrypt)
	e.setBool("DB_TRUST_SERVER_CERTIFICATE", &c.Database.TrustServerCertificate)

	e.setString("S3_REGION", &c.S3.Region)
	e.setString("S3_ENDPOINT", &c.S3.Endpoint)
	e.setString("S3_PROFILE", &c.S3.Profile)
	e.setBool("S3_FORCE_PATH_STYLE", &c.S3.ForcePathStyle)

	e.setString("LOG_LEVEL", &c.Log.Level)
	e.setString("LOG_FORMAT", &c.Log.Format)

	return errors.Join(e.errs...)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if math.IsNaN(c.Threshold) || c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold must be between 0 and 1, got %v", c.Threshold))
	}
	if strings.TrimSpace(c.DateFormat) == "" {
		errs = append(errs, errors.New("date_format is required"))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must not be negative, got %d", c.Workers))
	}
	if c.Inputs.Sales == "" {
		errs = append(errs, errors.New("inputs.sales is required"))
	}
	if c.Rates.Timeout <= 0 {
		errs = append(errs, errors.New("rates.timeout must be positive"))
	}
	for code, rate := range c.Rates.Fallback {
		if math.IsNaN(rate) || math.IsInf(rate, 0) || rate <= 0 {
			errs = append(errs, fmt.Errorf("rates.fallback.%s must be a positive number", code))
		}
	}
	if c.Sinks.AcceptedTable == "" || c.Sinks.RejectedTable == "" {
		errs = append(errs, errors.New("sinks.accepted_table and sinks.rejected_table are required"))
	}
	if c.Sinks.AuditPath == "" || c.Sinks.RejectedPath == "" {
		errs = append(errs, errors.New("sinks.audit_path and sinks.rejected_path are required"))
	}
	if _, err := writers.ParseOutputFormat(c.Sinks.AuditFormat); err != nil {
		errs = append(errs, fmt.Errorf("sinks.audit_format: %w", err))
	}
	if _, err := writers.ParseOutputFormat(c.Sinks.RejectedFormat); err != nil {
		errs = append(errs, fmt.Errorf("sinks.rejected_format: %w", err))
	}
	if _, err := writers.ParseDialect(c.Database.Driver); err != nil {
		errs = append(errs, fmt.Errorf("database.driver: %w", err))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if !logging.ValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Errorf("log.format: invalid format %q", c.Log.Format))
	}
	return errors.Join(errs...)
}

// DriverName returns the database/sql driver name for the configured driver.
func (d DatabaseConfig) DriverName() (string, error) {
	dialect, err := writers.ParseDialect(d.Driver)
	if err != nil {
		return "", err
	}
	return string(dialect), nil
}

// ConnectionString returns the DSN for the configured driver. Encrypt requires TLS;
// TrustServerCertificate skips certificate verification.
func (d DatabaseConfig) ConnectionString() (string, error) {
	if d.DSN != "" {
		return d.DSN, nil
	}

	dialect, err := writers.ParseDialect(d.Driver)
	if err != nil {
		return "", err
	}

	switch dialect {
	case writers.DialectPostgres:
		sslmode := "disable"
		if d.Encrypt {
			sslmode = "verify-full"
			if d.TrustServerCertificate {
				sslmode = "require"
			}
		}
		u := url.URL{
			Scheme:   "postgres",
			Host:     net.JoinHostPort(d.Host, strconv.Itoa(d.port(5432))),
			Path:     "/" + d.Name,
			RawQuery: url.Values{"sslmode": {sslmode}}.Encode(),
		}
		if d.User != "" {
			u.User = url.UserPassword(d.User, d.Password)
		}
		return u.String(), nil

	case writers.DialectMySQL:
		mc := mysql.NewConfig()
		mc.User = d.User
		mc.Passwd = d.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.port(3306)))
		mc.DBName = d.Name
		mc.ParseTime = true
		switch {
		case d.Encrypt && d.TrustServerCertificate:
			mc.TLSConfig = "skip-verify"
		case d.Encrypt:
			mc.TLSConfig = "true"
		}
		return mc.FormatDSN(), nil

	default:
		if d.Name == "" {
			return "", errors.New("database.name must name the sqlite file")
		}
		return d.Name, nil
	}
}

func (d DatabaseConfig) port(def int) int {
	if d.Port > 0 {
		return d.Port
	}
	return def
}

// envReader applies typed overrides and collects parse failures.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) get(key string) (string, bool) {
	v, ok := e.lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key, value string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s%s=%q: %w", EnvPrefix, key, value, err))
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = n
}

func (e *envReader) setFloat(key string, dst *float64) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = f
}

func (e *envReader) setBool(key string, dst *bool) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = b
}

func (e *envReader) setDuration(key string, dst *time.Duration) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return
	}
	*dst = d
}

// setRates parses CODE=rate pairs separated by commas, e.g. EUR=0.9,GBP=0.8.
func (e *envReader) setRates(key string, dst *map[string]float64) {
	v, ok := e.get(key)
	if !ok || v == "" {
		return
	}
	out := make(map[string]float64)
	for _, pair := range strings.Split(v, ",") {
		code, value, found := strings.Cut(pair, "=")
		code = strings.ToUpper(strings.TrimSpace(code))
		if !found || code == "" {
			e.fail(key, v, fmt.Errorf("expected CODE=rate, got %q", pair))
			return
		}
		rate, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		out[code] = rate
	}
	*dst = out
}
