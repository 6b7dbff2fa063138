// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package dsp_test

import (
	"math"
	"testing"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/dsp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func sine(n int, freq, sfreq, amp float64) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/sfreq)
	}
	return x
}

func rms(x []float64) float64 {
	return math.Sqrt(floats.Dot(x, x) / float64(len(x)))
}

func TestBandDescriptor(t *testing.T) {
	assert.Equal(t, "nf", dsp.Band{}.Descriptor())
	assert.Equal(t, "1-40", dsp.Band{Low: 1, High: 40}.Descriptor())
	assert.Equal(t, "0.1-30", dsp.Band{Low: 0.1, High: 30}.Descriptor())
	assert.Equal(t, "None-125", dsp.Band{High: 125}.Descriptor())
}

func TestBandValidate(t *testing.T) {
	require.NoError(t, dsp.Band{Low: 1, High: 40}.Validate(600))
	require.Error(t, dsp.Band{Low: 40, High: 1}.Validate(600))
	require.Error(t, dsp.Band{High: 300}.Validate(600))
	require.Error(t, dsp.Band{Low: -1}.Validate(600))
}

func TestLowpassKeepsPassbandAndRejectsStopband(t *testing.T) {
	const sfreq = 600.0
	fir, err := dsp.DesignFIR(dsp.Band{High: 125}, sfreq)
	require.NoError(t, err)
	require.Equal(t, 1, len(fir.Taps)%2)
	assert.InDelta(t, 1.0, floats.Sum(fir.Taps), 1e-9)

	pass := sine(6000, 20, sfreq, 1)
	stop := sine(6000, 250, sfreq, 1)

	// Compare away from the edges.
	inner := func(x []float64) []float64 { return x[500 : len(x)-500] }
	assert.InDelta(t, rms(inner(pass)), rms(inner(fir.Apply(pass))), 0.01)
	assert.Less(t, rms(inner(fir.Apply(stop))), 0.01)
}

func TestTapsAreSymmetricAndTapered(t *testing.T) {
	for _, b := range []dsp.Band{{High: 40}, {Low: 1}, {Low: 1, High: 40}} {
		fir, err := dsp.DesignFIR(b, 600)
		require.NoError(t, err)
		n := len(fir.Taps)
		for i := range n / 2 {
			assert.InDelta(t, fir.Taps[i], fir.Taps[n-1-i], 1e-12, "%s tap %d", b.Descriptor(), i)
		}
		// The window leaves the outermost taps far below the centre one.
		assert.Less(t, math.Abs(fir.Taps[0]), 0.01*math.Abs(fir.Taps[n/2]), b.Descriptor())
	}
}

func TestZeroPhase(t *testing.T) {
	const sfreq = 600.0
	fir, err := dsp.DesignFIR(dsp.Band{Low: 1, High: 40}, sfreq)
	require.NoError(t, err)

	x := sine(12000, 10, sfreq, 1)
	y := fir.Apply(x)
	require.Len(t, y, len(x))

	// A zero-phase filter leaves an in-band sine in place: no lag.
	for i := 3000; i < 9000; i += 97 {
		assert.InDelta(t, x[i], y[i], 0.02)
	}
}

func TestHighpassRemovesOffset(t *testing.T) {
	const sfreq = 250.0
	fir, err := dsp.DesignFIR(dsp.Band{Low: 1}, sfreq)
	require.NoError(t, err)

	x := sine(10000, 20, sfreq, 1)
	for i := range x {
		x[i] += 5
	}
	y := fir.Apply(x)
	mid := y[2000:8000]
	assert.InDelta(t, 0, floats.Sum(mid)/float64(len(mid)), 0.01)
}

func TestApplyAllMatchesApply(t *testing.T) {
	fir, err := dsp.DesignFIR(dsp.Band{High: 30}, 200)
	require.NoError(t, err)

	a := sine(400, 5, 200, 1)
	b := sine(400, 50, 200, 2)
	want := [][]float64{fir.Apply(a), fir.Apply(b)}

	rows := [][]float64{append([]float64(nil), a...), append([]float64(nil), b...)}
	fir.ApplyAll(rows)
	for i := range rows {
		for j := range rows[i] {
			assert.InDelta(t, want[i][j], rows[i][j], 1e-9)
		}
	}
}

func TestWelchPeak(t *testing.T) {
	const sfreq = 1000.0
	x := sine(4096, 50, sfreq, 1)
	freqs, psd, err := dsp.Welch([][]float64{x}, sfreq, 1024)
	require.NoError(t, err)
	require.Len(t, freqs, 513)
	require.Len(t, psd, 513)

	assert.InDelta(t, 50.0, freqs[floats.MaxIdx(psd)], sfreq/1024)

	// Parseval: integrated density equals the variance of a unit sine.
	df := freqs[1] - freqs[0]
	assert.InDelta(t, 0.5, floats.Sum(psd)*df, 0.05)
}

func TestSmoothRemovesPeriodicComponent(t *testing.T) {
	x := sine(1200, 50, 1000, 1) // period of 20 samples
	y := dsp.Smooth(x, 20)
	assert.Less(t, rms(y[20:1180]), 1e-9)

	slow := sine(1200, 1, 1000, 1)
	z := dsp.Smooth(slow, 20)
	assert.InDelta(t, rms(slow[100:1100]), rms(z[100:1100]), 0.01)
}

func TestPolyFit(t *testing.T) {
	x := []float64{-2, -1, 0, 1, 2, 3}
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = 1 - 2*v + 0.5*v*v + 0.25*v*v*v
	}
	coef, err := dsp.PolyFit(x, y, 3)
	require.NoError(t, err)
	require.Len(t, coef, 4)
	assert.InDelta(t, 1, coef[0], 1e-9)
	assert.InDelta(t, -2, coef[1], 1e-9)
	assert.InDelta(t, 0.5, coef[2], 1e-9)
	assert.InDelta(t, 0.25, coef[3], 1e-9)
	assert.InDelta(t, y[4], dsp.PolyVal(coef, 2), 1e-9)

	_, err = dsp.PolyFit([]float64{1, 2}, []float64{1, 2}, 3)
	require.Error(t, err)
}

func TestInterpNaN(t *testing.T) {
	nan := math.NaN()
	got := dsp.InterpNaN([]float64{nan, 1, nan, nan, 4, nan})
	assert.InDeltaSlice(t, []float64{1, 1, 2, 3, 4, 4}, got, 1e-12)
}

func TestMedian(t *testing.T) {
	assert.Equal(t, 2.5, dsp.Median([]float64{1, 2, 3, 10}))
	assert.Equal(t, 3.0, dsp.Median([]float64{10, 3, 1}))
	assert.True(t, math.IsNaN(dsp.Median(nil)))
}
