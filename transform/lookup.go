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

package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aaronlmathis/salesflow"
)

// Lookup is a hash index over a reference batch, used for left joins.
// When the reference batch holds several records with the same key, the first one in
// batch order is the match; later ones are counted as duplicates and ignored.
type Lookup struct {
	key        string
	index      map[string]salesflow.Record
	fields     []string
	duplicates int
	skipped    int
}

// NewLookup builds an index of records by the value of key.
// Records with a missing or empty key are skipped.
func NewLookup(key string, records []salesflow.Record) *Lookup {
	l := &Lookup{
		key:   key,
		index: make(map[string]salesflow.Record, len(records)),
	}

	fieldSet := make(map[string]struct{})
	for _, record := range records {
		k, ok := joinKey(record[key])
		if !ok {
			l.skipped++
			continue
		}
		for field := range record {
			if field != key {
				fieldSet[field] = struct{}{}
			}
		}
		if _, exists := l.index[k]; exists {
			l.duplicates++
			continue
		}
		l.index[k] = record
	}

	l.fields = make([]string, 0, len(fieldSet))
	for field := range fieldSet {
		l.fields = append(l.fields, field)
	}
	sort.Strings(l.fields)
	return l
}

// Match returns the reference record for value, if any.
func (l *Lookup) Match(value interface{}) (salesflow.Record, bool) {
	k, ok := joinKey(value)
	if !ok {
		return nil, false
	}
	rec, found := l.index[k]
	return rec, found
}

// Fields returns the sorted reference attribute names, excluding the join key.
func (l *Lookup) Fields() []string {
	return append([]string(nil), l.fields...)
}

// Len returns the number of distinct keys in the index.
func (l *Lookup) Len() int { return len(l.index) }

// Duplicates returns how many reference records were ignored because their key was already indexed.
func (l *Lookup) Duplicates() int { return l.duplicates }

// Skipped returns how many reference records had no usable key.
func (l *Lookup) Skipped() int { return l.skipped }

func joinKey(value interface{}) (string, bool) {
	if value == nil {
		return "", false
	}
	k := strings.TrimSpace(fmt.Sprintf("%v", value))
	return k, k != ""
}
