// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package dsp

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// PolyFit returns the least-squares polynomial coefficients of the given
// degree, lowest order first.
func PolyFit(x, y []float64, degree int) ([]float64, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("x and y differ in length: %d and %d", len(x), len(y))
	}
	if len(x) <= degree {
		return nil, fmt.Errorf("need more than %d points for a degree %d fit, got %d", degree, degree, len(x))
	}
	a := mat.NewDense(len(x), degree+1, nil)
	for i, xi := range x {
		p := 1.0
		for j := 0; j <= degree; j++ {
			a.Set(i, j, p)
			p *= xi
		}
	}
	b := mat.NewVecDense(len(y), append([]float64(nil), y...))

	var coef mat.VecDense
	if err := coef.SolveVec(a, b); err != nil {
		return nil, fmt.Errorf("polynomial fit: %w", err)
	}
	return coef.RawVector().Data, nil
}

// PolyVal evaluates coefficients from PolyFit at x.
func PolyVal(coef []float64, x float64) float64 {
	var v float64
	for i := len(coef) - 1; i >= 0; i-- {
		v = v*x + coef[i]
	}
	return v
}

// InterpNaN replaces NaN runs by linear interpolation between their
// neighbours; leading and trailing runs take the nearest finite value.
func InterpNaN(y []float64) []float64 {
	out := append([]float64(nil), y...)
	prev := -1
	for i := 0; i <= len(out); i++ {
		if i < len(out) && math.IsNaN(out[i]) {
			continue
		}
		// out[prev+1:i] is a NaN run (possibly empty).
		if i-prev > 1 {
			for k := prev + 1; k < i; k++ {
				switch {
				case prev < 0 && i == len(out):
					out[k] = 0
				case prev < 0:
					out[k] = out[i]
				case i == len(out):
					out[k] = out[prev]
				default:
					t := float64(k-prev) / float64(i-prev)
					out[k] = out[prev] + t*(out[i]-out[prev])
				}
			}
		}
		prev = i
	}
	return out
}

// Median returns the median of x, averaging the middle pair for even lengths.
func Median(x []float64) float64 {
	if len(x) == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}
