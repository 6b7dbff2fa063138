// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package zapline_test

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/dsp"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/zapline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

const (
	sfreq = 600.0
	fline = 50.0
)

// contaminated returns clean multichannel data and the same data with a
// shared 50 Hz source (plus its second harmonic) mixed into every channel.
func contaminated(nch, n int) (clean, noisy [][]float64) {
	rng := rand.New(rand.NewPCG(1, 2))
	clean = make([][]float64, nch)
	noisy = make([][]float64, nch)
	for c := range clean {
		clean[c] = make([]float64, n)
		noisy[c] = make([]float64, n)
		gain := 1 + 0.5*float64(c)
		for i := range clean[c] {
			t := float64(i) / sfreq
			clean[c][i] = 3 + math.Sin(2*math.Pi*float64(3+c)*t) + 0.3*rng.NormFloat64()
			line := 2*math.Sin(2*math.Pi*fline*t+0.3) + 0.5*math.Sin(2*math.Pi*2*fline*t)
			noisy[c][i] = clean[c][i] + gain*line
		}
	}
	return clean, noisy
}

func linePower(t *testing.T, x [][]float64) float64 {
	freqs, psd, err := dsp.Welch(x, sfreq, 1024)
	require.NoError(t, err)
	var p float64
	for k, f := range freqs {
		if math.Abs(f-fline) < 1.5 {
			p += psd[k]
		}
	}
	return p
}

func rmsDiff(a, b []float64) float64 {
	d := make([]float64, len(a))
	floats.SubTo(d, a, b)
	return math.Sqrt(floats.Dot(d, d) / float64(len(d)))
}

func TestDSSLineRemovesLineNoise(t *testing.T) {
	clean, noisy := contaminated(8, 6000)

	out, err := zapline.DSSLine(noisy, fline, sfreq, 1, 1024)
	require.NoError(t, err)
	require.Len(t, out, len(noisy))

	assert.Less(t, linePower(t, out), 0.01*linePower(t, noisy))
	for c := range out {
		require.Len(t, out[c], len(noisy[c]))
		assert.Less(t, rmsDiff(out[c], clean[c]), 0.25, "channel %d", c)
		assert.InDelta(t, floats.Sum(noisy[c])/6000, floats.Sum(out[c])/6000, 1e-9, "channel %d mean", c)
	}
}

func TestDSSLineRejectsBadArguments(t *testing.T) {
	_, noisy := contaminated(3, 1200)

	_, err := zapline.DSSLine(noisy, fline, sfreq, 4, 1024)
	assert.Error(t, err)
	_, err = zapline.DSSLine(noisy, 300, sfreq, 1, 1024)
	assert.Error(t, err)
	_, err = zapline.DSSLine(nil, fline, sfreq, 1, 1024)
	assert.Error(t, err)
}

func TestDSSLineIter(t *testing.T) {
	clean, noisy := contaminated(8, 6000)

	out, iters, err := zapline.DSSLineIter(noisy, fline, sfreq, zapline.DefaultIterOptions)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, iters, 1)
	assert.LessOrEqual(t, iters, zapline.DefaultIterOptions.MaxIter)

	assert.Less(t, linePower(t, out), 0.01*linePower(t, noisy))
	for c := range out {
		require.Len(t, out[c], len(noisy[c]))
		assert.Less(t, rmsDiff(out[c], clean[c]), 0.5, "channel %d", c)
	}
}

func TestDSSLineIterStopsAtLimit(t *testing.T) {
	_, noisy := contaminated(4, 3000)
	opts := zapline.DefaultIterOptions
	opts.MaxIter = 1

	_, iters, err := zapline.DSSLineIter(noisy, fline, sfreq, opts)
	require.NoError(t, err)
	assert.Equal(t, 1, iters)
}

func TestIterOptionsValidate(t *testing.T) {
	require.NoError(t, zapline.DefaultIterOptions.Validate())
	assert.Error(t, zapline.IterOptions{WinSize: 5, SpotSize: 10, NFFT: 1024, MaxIter: 1}.Validate())
	assert.Error(t, zapline.IterOptions{WinSize: 10, SpotSize: 5, NFFT: 1024}.Validate())
}
