// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package zapline removes power-line interference with denoising source
// separation (DSS): the part of the signal that a one-period boxcar cannot
// see is decomposed into components ranked by their power at the line
// frequency and its harmonics, and the strongest are regressed out.
package zapline

import (
	"errors"
	"fmt"
	"math"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/dsp"
	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// eigenFloor is the relative eigenvalue below which whitening drops a
// dimension.
const eigenFloor = 1e-12

var errNoVariance = errors.New("residual has no variance")

// DSSLine removes nremove line-noise components from x, a channel-major
// matrix. The result has the same shape and keeps each channel's mean.
func DSSLine(x [][]float64, fline, sfreq float64, nremove, nfft int) ([][]float64, error) {
	nch := len(x)
	if nch == 0 {
		return nil, fmt.Errorf("no channels")
	}
	n := len(x[0])
	switch {
	case n < 2:
		return nil, fmt.Errorf("too few samples: %d", n)
	case fline <= 0 || fline >= sfreq/2:
		return nil, fmt.Errorf("line frequency %g Hz outside (0, %g) Hz", fline, sfreq/2)
	case nremove < 1 || nremove > nch:
		return nil, fmt.Errorf("cannot remove %d components from %d channels", nremove, nch)
	case nfft < 2:
		return nil, fmt.Errorf("invalid FFT length %d", nfft)
	}

	means := make([]float64, nch)
	smooth := make([][]float64, nch)
	resid := mat.NewDense(nch, n, nil)
	demeaned := make([]float64, n)
	for c, row := range x {
		if len(row) != n {
			return nil, fmt.Errorf("channel %d has %d samples, expected %d", c, len(row), n)
		}
		means[c] = floats.Sum(row) / float64(n)
		for i, v := range row {
			demeaned[i] = v - means[c]
		}
		smooth[c] = dsp.Smooth(demeaned, sfreq/fline)
		out := resid.RawRowView(c)
		floats.SubTo(out, demeaned, smooth[c])
		// Boxcar edges leave the residual slightly off zero mean.
		offset := floats.Sum(out) / float64(n)
		floats.AddConst(-offset, out)
		means[c] += offset
	}

	var c0 mat.SymDense
	c0.SymOuterK(1, resid)
	c1 := biasFFT(resid, fline, sfreq, nfft)

	todss, err := dss0(&c0, c1)
	if err != nil {
		return nil, err
	}
	if _, m := todss.Dims(); nremove > m {
		return nil, fmt.Errorf("cannot remove %d components, residual has rank %d", nremove, m)
	}

	var comps mat.Dense
	comps.Mul(todss.Slice(0, nch, 0, nremove).T(), resid)

	// Least-squares projection of the residual on the components.
	var gram, cross, beta, fit mat.Dense
	gram.Mul(&comps, comps.T())
	cross.Mul(&comps, resid.T())
	if err := beta.Solve(&gram, &cross); err != nil {
		return nil, fmt.Errorf("regress line components: %w", err)
	}
	fit.Mul(beta.T(), &comps)
	resid.Sub(resid, &fit)

	out := make([][]float64, nch)
	for c := range out {
		out[c] = make([]float64, n)
		floats.AddTo(out[c], smooth[c], resid.RawRowView(c))
		floats.AddConst(means[c], out[c])
	}
	return out, nil
}

// biasFFT returns the cross-spectral power of x summed over the bins of the
// line frequency and its harmonics below Nyquist. Segments are nfft long,
// Hann windowed, with 50% overlap.
func biasFFT(x *mat.Dense, fline, sfreq float64, nfft int) *mat.SymDense {
	nch, n := x.Dims()

	var bins []int
	for h := 1; fline*float64(h) < sfreq/2; h++ {
		k := int(math.Round(fline * float64(h) / sfreq * float64(nfft)))
		if k <= nfft/2 {
			bins = append(bins, k)
		}
	}

	window := make([]float64, nfft)
	for i := range window {
		window[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(nfft))
	}

	starts := []int{0}
	for s := nfft / 2; s+nfft <= n; s += nfft / 2 {
		starts = append(starts, s)
	}

	fft := fourier.NewFFT(nfft)
	seg := make([]float64, nfft)
	var coeff []complex128
	spec := make([][]complex128, nch)
	for c := range spec {
		spec[c] = make([]complex128, len(bins))
	}

	c1 := mat.NewSymDense(nch, nil)
	for _, start := range starts {
		for c := 0; c < nch; c++ {
			row := x.RawRowView(c)
			for i := range seg {
				seg[i] = 0
				if start+i < n {
					seg[i] = row[start+i] * window[i]
				}
			}
			coeff = fft.Coefficients(coeff, seg)
			for b, k := range bins {
				spec[c][b] = coeff[k]
			}
		}
		for i := 0; i < nch; i++ {
			for j := i; j < nch; j++ {
				var acc float64
				for b := range bins {
					zi, zj := spec[i][b], spec[j][b]
					acc += real(zi)*real(zj) + imag(zi)*imag(zj)
				}
				c1.SetSym(i, j, c1.At(i, j)+acc)
			}
		}
	}
	return c1
}

// dss0 whitens with respect to c0 and rotates to the principal axes of the
// whitened c1. Columns of the result are spatial filters ordered by
// decreasing bias power.
func dss0(c0, c1 *mat.SymDense) (*mat.Dense, error) {
	var eig0 mat.EigenSym
	if ok := eig0.Factorize(c0, true); !ok {
		return nil, fmt.Errorf("eigendecomposition of data covariance failed")
	}
	vals := eig0.Values(nil)
	var vecs mat.Dense
	eig0.VectorsTo(&vecs)

	top := vals[len(vals)-1]
	if top <= 0 {
		return nil, errNoVariance
	}
	var keep []int
	for i := len(vals) - 1; i >= 0; i-- {
		if vals[i] > top*eigenFloor {
			keep = append(keep, i)
		}
	}

	nch := len(vals)
	w := mat.NewDense(nch, len(keep), nil)
	for j, k := range keep {
		s := 1 / math.Sqrt(vals[k])
		for i := 0; i < nch; i++ {
			w.Set(i, j, vecs.At(i, k)*s)
		}
	}

	var tmp, rotated mat.Dense
	tmp.Mul(w.T(), c1)
	rotated.Mul(&tmp, w)
	m := len(keep)
	sym := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			sym.SetSym(i, j, (rotated.At(i, j)+rotated.At(j, i))/2)
		}
	}

	var eig1 mat.EigenSym
	if ok := eig1.Factorize(sym, true); !ok {
		return nil, fmt.Errorf("eigendecomposition of bias covariance failed")
	}
	var vecs1 mat.Dense
	eig1.VectorsTo(&vecs1)
	desc := mat.NewDense(m, m, nil)
	for j := 0; j < m; j++ {
		desc.SetCol(j, mat.Col(nil, m-1-j, &vecs1))
	}

	var todss mat.Dense
	todss.Mul(w, desc)
	return &todss, nil
}
