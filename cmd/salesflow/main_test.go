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

package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type fixture struct {
	dir    string
	config string
	db     string
}

func newFixture(t *testing.T, salesCSV string, ratesHandler http.HandlerFunc) fixture {
	t.Helper()
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	server := httptest.NewServer(ratesHandler)
	t.Cleanup(server.Close)

	salesPath := write("sales.csv", salesCSV)
	productsPath := write("products.csv", "ProductID,Name\nP1,Widget\n")
	dbPath := filepath.Join(dir, "sales.db")

	cfg := fmt.Sprintf(`
threshold: 0.05
inputs:
  sales: %s
  products: %s
rates:
  endpoint: %s
  timeout: 2s
sinks:
  audit_path: %s
  rejected_path: %s
  rejected_format: jsonl
database:
  driver: sqlite
  name: %s
log:
  level: error
`, salesPath, productsPath, server.URL, filepath.Join(dir, "audit"), filepath.Join(dir, "rejected"), dbPath)

	return fixture{dir: dir, config: write("salesflow.yaml", cfg), db: dbPath}
}

func ratesOK(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"base":"USD","rates":{"EUR":0.9,"GBP":0.8,"BAD":0}}`)
}

func (f fixture) run(t *testing.T, extra ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args := append([]string{"-config", f.config, "-env-file", filepath.Join(f.dir, "absent.env")}, extra...)
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_Success(t *testing.T) {
	f := newFixture(t, "OrderID,ProductID,SaleAmount,Currency,OrderDate\n"+
		"A1,P1,100,EUR,01/15/2024\n"+
		"A2,P2,50,XYZ,01/16/2024\n"+
		"A3,P1,abc,EUR,01/17/2024\n", ratesOK)

	code, stdout, stderr := f.run(t, "-report", "-")
	require.Equal(t, exitOK, code, stderr)

	var report map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, float64(2), report["accepted_rows"])
	assert.Equal(t, float64(0), report["rejected_rows"])
	assert.Equal(t, "live", report["rate_source"])
	assert.Equal(t, false, report["aborted"])

	db, err := sql.Open("sqlite", f.db)
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "SalesEnriched"`).Scan(&n))
	assert.Equal(t, 2, n)
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM "RejectedRecords"`).Scan(&n))
	assert.Zero(t, n)

	assert.FileExists(t, filepath.Join(f.dir, "audit", "part-00000.csv"))
	assert.FileExists(t, filepath.Join(f.dir, "rejected", "part-00000.jsonl"))
}

func TestRun_ThresholdExceeded(t *testing.T) {
	var b strings.Builder
	b.WriteString("OrderID,ProductID,SaleAmount,Currency,OrderDate\n")
	for i := 0; i < 20; i++ {
		code := "EUR"
		if i < 2 {
			code = "BAD"
		}
		fmt.Fprintf(&b, "O%02d,P1,10,%s,01/15/2024\n", i, code)
	}
	f := newFixture(t, b.String(), ratesOK)
	reportPath := filepath.Join(f.dir, "report.json")

	code, _, stderr := f.run(t, "-report", reportPath)
	assert.Equal(t, exitThreshold, code)
	assert.Contains(t, stderr, "rejection ratio 0.1000 exceeds threshold 0.0500")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"aborted": true`)

	assert.NoDirExists(t, filepath.Join(f.dir, "audit"))
	assert.NoDirExists(t, filepath.Join(f.dir, "rejected"))
	assert.NoFileExists(t, f.db, "no sink was opened")
}

func TestRun_RateServiceDown(t *testing.T) {
	f := newFixture(t, "OrderID,ProductID,SaleAmount,Currency,OrderDate\nA1,P1,100,GBP,01/15/2024\n",
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		})

	code, stdout, stderr := f.run(t, "-report", "-")
	require.Equal(t, exitOK, code, stderr)
	assert.Contains(t, stdout, `"rate_source": "fallback"`)
}

func TestRun_ConfigErrors(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}, &stdout, &stderr)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr.String(), "read config")

	stderr.Reset()
	code = run(context.Background(), []string{"-unknown"}, &stdout, &stderr)
	assert.Equal(t, exitFailure, code)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "salesflow.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("threshold: 2\n"), 0o644))
	stderr.Reset()
	code = run(context.Background(), []string{"-config", cfgPath, "-env-file", filepath.Join(dir, "none.env")}, &stdout, &stderr)
	assert.Equal(t, exitFailure, code)
	assert.Contains(t, stderr.String(), "invalid configuration")
}
