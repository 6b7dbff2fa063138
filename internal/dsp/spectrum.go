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
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
)

// defaultSegment is the Welch segment length used when the signal allows it.
const defaultSegment = 256

// Welch estimates the one-sided power spectral density of every signal with
// Welch's method and returns the frequencies and the PSD averaged across
// signals. Segments are min(256, n) samples long with 50% overlap, Hann
// windowed, mean-detrended and zero-padded to nfft.
func Welch(signals [][]float64, sfreq float64, nfft int) (freqs, psd []float64, err error) {
	if len(signals) == 0 {
		return nil, nil, fmt.Errorf("no signals")
	}
	n := len(signals[0])
	if n < 2 {
		return nil, nil, fmt.Errorf("signal too short for a spectrum: %d samples", n)
	}
	nperseg := min(defaultSegment, n)
	nfft = max(nfft, nperseg)
	step := nperseg - nperseg/2

	window := make([]float64, nperseg)
	var wss float64
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(nperseg))
		wss += window[i] * window[i]
	}
	scale := 1 / (sfreq * wss)

	fft := fourier.NewFFT(nfft)
	nfreq := nfft/2 + 1
	psd = make([]float64, nfreq)
	seg := make([]float64, nfft)
	var coeff []complex128
	var count int

	for _, x := range signals {
		if len(x) != n {
			return nil, nil, fmt.Errorf("signals differ in length: %d and %d", n, len(x))
		}
		for start := 0; start+nperseg <= n; start += step {
			part := x[start : start+nperseg]
			mean := floats.Sum(part) / float64(nperseg)
			for i := range seg {
				seg[i] = 0
			}
			for i, v := range part {
				seg[i] = (v - mean) * window[i]
			}
			coeff = fft.Coefficients(coeff, seg)
			for k, c := range coeff {
				p := math.Pow(cmplx.Abs(c), 2) * scale
				if k != 0 && !(nfft%2 == 0 && k == nfft/2) {
					p *= 2
				}
				psd[k] += p
			}
			count++
		}
	}
	floats.Scale(1/float64(count), psd)

	freqs = make([]float64, nfreq)
	for k := range freqs {
		freqs[k] = float64(k) * sfreq / float64(nfft)
	}
	return freqs, psd, nil
}
