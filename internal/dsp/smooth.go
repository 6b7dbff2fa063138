// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package dsp

import "math"

// Smooth convolves x with a centered boxcar spanning period samples. A
// fractional period adds a partially weighted tap. A component periodic in
// period samples, harmonics included, averages to (nearly) zero. Edges are
// handled by clamping to the first and last sample.
func Smooth(x []float64, period float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 || period <= 1 {
		copy(out, x)
		return out
	}

	whole := int(math.Floor(period))
	frac := period - float64(whole)
	weights := make([]float64, whole, whole+1)
	for i := range weights {
		weights[i] = 1 / period
	}
	if frac > 1e-12 {
		weights = append(weights, frac/period)
	}
	shift := (len(weights) - 1) / 2

	last := len(x) - 1
	for i := range out {
		var acc float64
		for j, w := range weights {
			k := i - j + shift
			if k < 0 {
				k = 0
			} else if k > last {
				k = last
			}
			acc += w * x[k]
		}
		out[i] = acc
	}
	return out
}
