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

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
	"gonum.org/v1/gonum/floats"
)

// directLimit is the number of multiply-adds below which direct convolution
// is used instead of FFT convolution.
const directLimit = 1 << 18

// FIR is a linear-phase filter applied with zero phase delay.
type FIR struct {
	Band  Band
	SFreq float64
	Taps  []float64
}

// DesignFIR designs a Hamming-windowed sinc filter for the band. Transition
// bandwidths and the filter length follow the usual automatic rules: 25% of
// the edge frequency (at least 2 Hz, at most the distance to 0 or Nyquist)
// and 3.3 / transition * sfreq taps, rounded up to an odd count.
func DesignFIR(b Band, sfreq float64) (*FIR, error) {
	if sfreq <= 0 {
		return nil, fmt.Errorf("invalid sampling frequency %g", sfreq)
	}
	if err := b.Validate(sfreq); err != nil {
		return nil, err
	}
	if b.IsZero() {
		return nil, fmt.Errorf("empty band")
	}

	nyq := sfreq / 2
	minTrans := math.Inf(1)
	var lowCut, highCut float64
	if b.Low > 0 {
		trans := math.Min(math.Max(b.Low*0.25, 2), b.Low)
		lowCut = b.Low - trans/2
		minTrans = math.Min(minTrans, trans)
	}
	if b.High > 0 {
		trans := math.Min(math.Max(b.High*0.25, 2), nyq-b.High)
		if trans <= 0 {
			return nil, fmt.Errorf("no room for a transition band above %g Hz", b.High)
		}
		highCut = b.High + trans/2
		minTrans = math.Min(minTrans, trans)
	}

	n := int(math.Ceil(3.3 / minTrans * sfreq))
	if n%2 == 0 {
		n++
	}

	taps := make([]float64, n)
	switch {
	case b.Low > 0 && b.High > 0:
		hi, lo := lowpassTaps(highCut, sfreq, n), lowpassTaps(lowCut, sfreq, n)
		for i := range taps {
			taps[i] = hi[i] - lo[i]
		}
	case b.High > 0:
		copy(taps, lowpassTaps(highCut, sfreq, n))
	default:
		lo := lowpassTaps(lowCut, sfreq, n)
		for i := range taps {
			taps[i] = -lo[i]
		}
		taps[n/2] += 1
	}

	return &FIR{Band: b, SFreq: sfreq, Taps: taps}, nil
}

// lowpassTaps returns a Hamming-windowed sinc with unit gain at DC.
func lowpassTaps(cutoff, sfreq float64, n int) []float64 {
	fc := cutoff / sfreq
	m := float64(n-1) / 2
	taps := make([]float64, n)
	for i := range taps {
		x := float64(i) - m
		taps[i] = 2 * fc
		if x != 0 {
			taps[i] = math.Sin(2*math.Pi*fc*x) / (math.Pi * x)
		}
	}
	window.Hamming(taps)
	floats.Scale(1/floats.Sum(taps), taps)
	return taps
}

// Apply filters x with zero phase delay and returns a new slice of the same
// length. Edges are padded by mirror reflection.
func (f *FIR) Apply(x []float64) []float64 {
	return f.newConvolver(len(x)).apply(x)
}

// ApplyAll filters every row in place.
func (f *FIR) ApplyAll(rows [][]float64) {
	var conv *convolver
	for i, row := range rows {
		if conv == nil || conv.n != len(row) {
			conv = f.newConvolver(len(row))
		}
		copy(rows[i], conv.apply(row))
	}
}

type convolver struct {
	taps   []float64
	n      int
	half   int
	fft    *fourier.FFT
	kernel []complex128
}

func (f *FIR) newConvolver(n int) *convolver {
	c := &convolver{taps: f.Taps, n: n, half: len(f.Taps) / 2}
	padded := n + 2*c.half
	if padded*len(f.Taps) <= directLimit {
		return c
	}
	size := NextPow2(padded + len(f.Taps) - 1)
	c.fft = fourier.NewFFT(size)
	k := make([]float64, size)
	copy(k, f.Taps)
	c.kernel = c.fft.Coefficients(nil, k)
	return c
}

func (c *convolver) apply(x []float64) []float64 {
	out := make([]float64, len(x))
	if len(x) == 0 {
		return out
	}
	padded := reflectPad(x, c.half)

	if c.fft == nil {
		for k := range out {
			var acc float64
			for j, t := range c.taps {
				acc += t * padded[k+2*c.half-j]
			}
			out[k] = acc
		}
		return out
	}

	size := c.fft.Len()
	seq := make([]float64, size)
	copy(seq, padded)
	coeff := c.fft.Coefficients(nil, seq)
	for i := range coeff {
		coeff[i] *= c.kernel[i]
	}
	// The inverse transform is unnormalized.
	full := c.fft.Sequence(seq, coeff)
	scale := 1 / float64(size)
	for k := range out {
		out[k] = full[k+2*c.half] * scale
	}
	return out
}

// reflectPad mirrors pad samples around each edge without repeating the edge
// sample. Where the signal is too short to mirror, zeros are used.
func reflectPad(x []float64, pad int) []float64 {
	n := len(x)
	out := make([]float64, n+2*pad)
	copy(out[pad:], x)
	for i := 1; i <= pad; i++ {
		if i < n {
			out[pad-i] = x[i]
			out[pad+n-1+i] = x[n-1-i]
		}
	}
	return out
}

// NextPow2 returns the smallest power of two >= n.
func NextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
