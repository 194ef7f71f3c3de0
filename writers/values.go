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

package writers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// TimeLayout is the text form of time values in CSV and JSON output.
const TimeLayout = time.RFC3339Nano

// FormatValue renders a record value as text. Nil and null decimals render as "".
func FormatValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case decimal.Decimal:
		return val.String()
	case decimal.NullDecimal:
		if !val.Valid {
			return ""
		}
		return val.Decimal.String()
	case *decimal.Decimal:
		if val == nil {
			return ""
		}
		return val.String()
	case time.Time:
		return val.UTC().Format(TimeLayout)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.UTC().Format(TimeLayout)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// normalizeValue converts values to forms encoding/json and database/sql handle
// predictably: decimals stay exact, null decimals become nil, times become UTC.
func normalizeValue(v interface{}) interface{} {
	switch val := v.(type) {
	case decimal.NullDecimal:
		if !val.Valid {
			return nil
		}
		return val.Decimal
	case *decimal.Decimal:
		if val == nil {
			return nil
		}
		return *val
	case time.Time:
		return val.UTC()
	case *time.Time:
		if val == nil {
			return nil
		}
		return val.UTC()
	default:
		return v
	}
}
