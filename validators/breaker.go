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

package validators

import (
	"fmt"
)

// DefaultThreshold is the rejection ratio above which a run is aborted.
const DefaultThreshold = 0.05

// ThresholdError is returned when the rejection ratio exceeds the threshold.
type ThresholdError struct {
	Ratio     float64
	Threshold float64
	Rejected  int
	Total     int
}

func (e *ThresholdError) Error() string {
	return fmt.Sprintf("rejected records exceed threshold: %d of %d (%.2f%%) > %.2f%%",
		e.Rejected, e.Total, e.Ratio*100, e.Threshold*100)
}

// CircuitBreaker aborts a run whose rejection ratio is too high.
type CircuitBreaker struct {
	Threshold float64
}

// NewCircuitBreaker returns a breaker with the given threshold. A negative threshold
// selects DefaultThreshold.
func NewCircuitBreaker(threshold float64) CircuitBreaker {
	if threshold < 0 {
		threshold = DefaultThreshold
	}
	return CircuitBreaker{Threshold: threshold}
}

// Ratio returns rejected/total, or 0 for an empty batch.
func Ratio(rejected, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(rejected) / float64(total)
}

// Check returns the rejection ratio and a *ThresholdError when it is strictly greater
// than the threshold. A ratio equal to the threshold passes.
func (b CircuitBreaker) Check(rejected, total int) (float64, error) {
	ratio := Ratio(rejected, total)
	if ratio > b.Threshold {
		return ratio, &ThresholdError{Ratio: ratio, Threshold: b.Threshold, Rejected: rejected, Total: total}
	}
	return ratio, nil
}
