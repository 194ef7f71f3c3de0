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

// validators.go - Data quality validation for materialized batches
package validators

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aaronlmathis/salesflow"
)

// ValidationError describes the first rule a batch violated.
type ValidationError struct {
	Rule   string // "record_count", "required_field", "null_rate", "field_value", "custom"
	Record int    // index of the offending record, -1 for batch-level rules
	Field  string
	Err    error
}

func (e *ValidationError) Error() string {
	switch {
	case e.Record >= 0 && e.Field != "":
		return fmt.Sprintf("validation %s: record %d field %s: %v", e.Rule, e.Record, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("validation %s: field %s: %v", e.Rule, e.Field, e.Err)
	default:
		return fmt.Sprintf("validation %s: %v", e.Rule, e.Err)
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// DataQualityValidator checks batch invariants: record counts, field presence,
// null rates and per-field value rules.
type DataQualityValidator struct {
	MinRecords       int                                      // Minimum number of records required
	MaxRecords       int                                      // Maximum number of records allowed (0 = unlimited)
	MaxNullRate      float64                                  // Maximum allowed null rate per field (0 disables the check)
	RequiredFields   []string                                 // Fields that must be present and non-null in all records
	ForbiddenFields  []string                                 // Fields that must not be present
	FieldValidators  map[string]FieldValidator                // Per-field validation rules
	CustomValidators []func([]salesflow.Record) (bool, error) // Custom validation functions
}

// FieldValidator defines validation rules for individual fields
type FieldValidator struct {
	DataType      FieldDataType                   // Expected data type
	Pattern       *regexp.Regexp                  // Regex pattern for string fields
	MinValue      interface{}                     // Minimum value (for numeric fields)
	MaxValue      interface{}                     // Maximum value (for numeric fields)
	AllowedValues []interface{}                   // Whitelist of allowed values
	CustomFunc    func(interface{}) (bool, error) // Custom validation function
}

// FieldDataType represents expected data types for validation
type FieldDataType string

const (
	FieldTypeString  FieldDataType = "string"
	FieldTypeInt     FieldDataType = "int"
	FieldTypeFloat   FieldDataType = "float"
	FieldTypeDecimal FieldDataType = "decimal"
	FieldTypeBool    FieldDataType = "bool"
	FieldTypeTime    FieldDataType = "time"
	FieldTypeAny     FieldDataType = "any"
)

// Validate returns a *ValidationError for the first violated rule, or nil.
func (dqv *DataQualityValidator) Validate(ctx context.Context, records []salesflow.Record) error {
	recordCount := len(records)

	if recordCount < dqv.MinRecords {
		return &ValidationError{Rule: "record_count", Record: -1,
			Err: fmt.Errorf("got %d records, need at least %d", recordCount, dqv.MinRecords)}
	}
	if dqv.MaxRecords > 0 && recordCount > dqv.MaxRecords {
		return &ValidationError{Rule: "record_count", Record: -1,
			Err: fmt.Errorf("got %d records, maximum allowed %d", recordCount, dqv.MaxRecords)}
	}
	if recordCount == 0 {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := dqv.validateFieldPresence(records); err != nil {
		return err
	}
	if err := dqv.validateNullRates(records); err != nil {
		return err
	}
	if err := dqv.validateFieldValues(records); err != nil {
		return err
	}

	for i, validator := range dqv.CustomValidators {
		valid, err := validator(records)
		if err != nil {
			return &ValidationError{Rule: "custom", Record: -1, Err: fmt.Errorf("validator %d: %w", i, err)}
		}
		if !valid {
			return &ValidationError{Rule: "custom", Record: -1, Err: fmt.Errorf("validator %d rejected the batch", i)}
		}
	}
	return nil
}

// validateFieldPresence checks for required and forbidden fields
func (dqv *DataQualityValidator) validateFieldPresence(records []salesflow.Record) error {
	for recordIdx, record := range records {
		for _, field := range dqv.RequiredFields {
			if isNull(record[field]) {
				return &ValidationError{Rule: "required_field", Record: recordIdx, Field: field, Err: fmt.Errorf("missing or null")}
			}
		}
		for _, field := range dqv.ForbiddenFields {
			if _, exists := record[field]; exists {
				return &ValidationError{Rule: "forbidden_field", Record: recordIdx, Field: field, Err: fmt.Errorf("present")}
			}
		}
	}
	return nil
}

// validateNullRates checks null value rates across all records
func (dqv *DataQualityValidator) validateNullRates(records []salesflow.Record) error {
	if dqv.MaxNullRate <= 0 {
		return nil
	}

	fieldNames := make(map[string]struct{})
	for _, record := range records {
		for field := range record {
			fieldNames[field] = struct{}{}
		}
	}
	for field := range fieldNames {
		nullCount := 0
		for _, record := range records {
			if isNull(record[field]) {
				nullCount++
			}
		}
		nullRate := float64(nullCount) / float64(len(records))
		if nullRate > dqv.MaxNullRate {
			return &ValidationError{Rule: "null_rate", Record: -1, Field: field,
				Err: fmt.Errorf("null rate %.2f exceeds maximum %.2f", nullRate, dqv.MaxNullRate)}
		}
	}
	return nil
}

// validateFieldValues validates individual field values using field validators
func (dqv *DataQualityValidator) validateFieldValues(records []salesflow.Record) error {
	for recordIdx, record := range records {
		for fieldName, validator := range dqv.FieldValidators {
			value, exists := record[fieldName]
			if !exists || isNull(value) {
				continue // presence is the job of RequiredFields
			}
			if err := validateSingleFieldValue(value, validator); err != nil {
				return &ValidationError{Rule: "field_value", Record: recordIdx, Field: fieldName, Err: err}
			}
		}
	}
	return nil
}

func validateSingleFieldValue(value interface{}, validator FieldValidator) error {
	if !validateDataType(value, validator.DataType) {
		return fmt.Errorf("invalid type %T, expected %s", value, validator.DataType)
	}

	if validator.Pattern != nil {
		if str, ok := value.(string); ok && !validator.Pattern.MatchString(str) {
			return fmt.Errorf("value %q does not match pattern", str)
		}
	}

	if err := validateRange(value, validator.MinValue, validator.MaxValue); err != nil {
		return err
	}

	if len(validator.AllowedValues) > 0 {
		allowed := false
		for _, candidate := range validator.AllowedValues {
			if value == candidate {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("value %v not in allowed values", value)
		}
	}

	if validator.CustomFunc != nil {
		valid, err := validator.CustomFunc(value)
		if err != nil {
			return err
		}
		if !valid {
			return fmt.Errorf("value %v failed custom validation", value)
		}
	}
	return nil
}

func validateDataType(value interface{}, expectedType FieldDataType) bool {
	switch expectedType {
	case "", FieldTypeAny:
		return true
	case FieldTypeString:
		_, ok := value.(string)
		return ok
	case FieldTypeInt:
		switch value.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case FieldTypeFloat:
		switch value.(type) {
		case float32, float64:
			return true
		}
		return false
	case FieldTypeDecimal:
		switch value.(type) {
		case decimal.Decimal, decimal.NullDecimal:
			return true
		}
		return false
	case FieldTypeBool:
		_, ok := value.(bool)
		return ok
	case FieldTypeTime:
		_, ok := value.(time.Time)
		return ok
	default:
		return true
	}
}

// validateRange compares numeric values exactly, as decimals.
func validateRange(value, minValue, maxValue interface{}) error {
	if minValue == nil && maxValue == nil {
		return nil
	}
	val, ok := toDecimal(value)
	if !ok {
		return nil
	}
	if min, ok := toDecimal(minValue); ok && val.LessThan(min) {
		return fmt.Errorf("value %s below minimum %s", val, min)
	}
	if max, ok := toDecimal(maxValue); ok && val.GreaterThan(max) {
		return fmt.Errorf("value %s above maximum %s", val, max)
	}
	return nil
}

func toDecimal(value interface{}) (decimal.Decimal, bool) {
	switch v := value.(type) {
	case decimal.Decimal:
		return v, true
	case decimal.NullDecimal:
		return v.Decimal, v.Valid
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt(int64(v)), true
	case int64:
		return decimal.NewFromInt(v), true
	case float32:
		return decimal.NewFromFloat32(v), true
	case float64:
		return decimal.NewFromFloat(v), true
	default:
		return decimal.Zero, false
	}
}

func isNull(value interface{}) bool {
	switch v := value.(type) {
	case nil:
		return true
	case decimal.NullDecimal:
		return !v.Valid
	case string:
		return strings.TrimSpace(v) == ""
	default:
		return false
	}
}

// NewDataQualityValidator creates a basic data quality validator
func NewDataQualityValidator(minRecords int, requiredFields []string) *DataQualityValidator {
	return &DataQualityValidator{
		MinRecords:      minRecords,
		RequiredFields:  requiredFields,
		FieldValidators: make(map[string]FieldValidator),
	}
}

// DataQualityOption is a functional option for configuring DataQualityValidator
type DataQualityOption func(*DataQualityValidator)

// WithMaxRecords sets the maximum record count
func WithMaxRecords(max int) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		dqv.MaxRecords = max
	}
}

// WithMaxNullRate sets the maximum null value rate
func WithMaxNullRate(rate float64) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		dqv.MaxNullRate = rate
	}
}

// WithForbiddenFields sets fields that must not be present
func WithForbiddenFields(fields []string) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		dqv.ForbiddenFields = fields
	}
}

// WithFieldValidator adds a field-specific validator
func WithFieldValidator(fieldName string, validator FieldValidator) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		if dqv.FieldValidators == nil {
			dqv.FieldValidators = make(map[string]FieldValidator)
		}
		dqv.FieldValidators[fieldName] = validator
	}
}

// WithCustomValidator adds a custom validation function
func WithCustomValidator(validator func([]salesflow.Record) (bool, error)) DataQualityOption {
	return func(dqv *DataQualityValidator) {
		dqv.CustomValidators = append(dqv.CustomValidators, validator)
	}
}

// NewConfigurableDataQualityValidator creates a validator with functional options
func NewConfigurableDataQualityValidator(minRecords int, requiredFields []string, options ...DataQualityOption) *DataQualityValidator {
	dqv := NewDataQualityValidator(minRecords, requiredFields)
	for _, option := range options {
		option(dqv)
	}
	return dqv
}
