// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package zapline

import (
	"fmt"
	"math"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/dsp"
	"gonum.org/v1/gonum/floats"
)

// IterOptions tunes DSSLineIter.
type IterOptions struct {
	// WinSize is the half-width in Hz of the band around the line frequency
	// used to model the noise-free spectrum.
	WinSize float64 `yaml:"win_sz"`
	// SpotSize is the half-width in Hz of the band treated as contaminated.
	SpotSize float64 `yaml:"spot_sz"`
	NFFT     int     `yaml:"nfft"`
	MaxIter  int     `yaml:"n_iter_max"`
}

// DefaultIterOptions are the settings the raw block processor uses.
var DefaultIterOptions = IterOptions{WinSize: 10, SpotSize: 5.5, NFFT: 1024, MaxIter: 30}

// Validate checks that the options describe a usable spectral model.
func (o IterOptions) Validate() error {
	switch {
	case o.SpotSize <= 0 || o.WinSize <= o.SpotSize:
		return fmt.Errorf("spot half-width %g Hz must be positive and below the window half-width %g Hz", o.SpotSize, o.WinSize)
	case o.NFFT < 2:
		return fmt.Errorf("invalid FFT length %d", o.NFFT)
	case o.MaxIter < 1:
		return fmt.Errorf("invalid iteration limit %d", o.MaxIter)
	}
	return nil
}

// DSSLineIter removes line-noise components one at a time until the mean
// spectrum around the line frequency shows no peak above a cubic fitted to
// its flanks, or MaxIter components have been removed. It returns the
// cleaned data and the number of components removed.
func DSSLineIter(x [][]float64, fline, sfreq float64, opts IterOptions) ([][]float64, int, error) {
	if err := opts.Validate(); err != nil {
		return nil, 0, err
	}
	freqs, _, err := dsp.Welch(x, sfreq, opts.NFFT)
	if err != nil {
		return nil, 0, err
	}
	model, err := newSpotModel(freqs, fline, opts)
	if err != nil {
		return nil, 0, err
	}

	data := x
	for iter := 1; ; iter++ {
		if data, err = DSSLine(data, fline, sfreq, 1, opts.NFFT); err != nil {
			return nil, iter - 1, fmt.Errorf("iteration %d: %w", iter, err)
		}
		_, psd, err := dsp.Welch(data, sfreq, opts.NFFT)
		if err != nil {
			return nil, iter, err
		}
		resid, err := model.residual(psd)
		if err != nil {
			return nil, iter, fmt.Errorf("iteration %d: %w", iter, err)
		}
		if resid <= 0 || iter >= opts.MaxIter {
			return data, iter, nil
		}
	}
}

// spotModel holds the spectral bins around the line frequency. Frequencies
// are stored relative to the line frequency to keep the cubic well
// conditioned.
type spotModel struct {
	window []int
	freqs  []float64
	spot   []bool
}

func newSpotModel(freqs []float64, fline float64, opts IterOptions) (*spotModel, error) {
	m := &spotModel{}
	nspot := 0
	for k, f := range freqs {
		if f < fline-opts.WinSize || f > fline+opts.WinSize {
			continue
		}
		inSpot := f >= fline-opts.SpotSize && f <= fline+opts.SpotSize
		m.window = append(m.window, k)
		m.freqs = append(m.freqs, f-fline)
		m.spot = append(m.spot, inSpot)
		if inSpot {
			nspot++
		}
	}
	if nspot == 0 || len(m.window)-nspot < 4 {
		return nil, fmt.Errorf("spectral resolution too coarse for a %g Hz window around %g Hz", opts.WinSize, fline)
	}
	return m, nil
}

// residual returns the mean excess of psd over the cubic flank model inside
// the spot.
func (m *spotModel) residual(psd []float64) (float64, error) {
	mean := make([]float64, len(m.window))
	flank := make([]float64, len(m.window))
	for i, k := range m.window {
		mean[i] = psd[k]
		flank[i] = psd[k]
		if m.spot[i] {
			flank[i] = math.NaN()
		}
	}
	coef, err := dsp.PolyFit(m.freqs, dsp.InterpNaN(flank), 3)
	if err != nil {
		return 0, err
	}
	var excess []float64
	for i, f := range m.freqs {
		if m.spot[i] {
			excess = append(excess, mean[i]-dsp.PolyVal(coef, f))
		}
	}
	return floats.Sum(excess) / float64(len(excess)), nil
}
