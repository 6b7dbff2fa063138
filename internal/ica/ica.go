// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package ica fits and applies independent component decompositions of
// continuous recordings.
//
// Channels are first scaled by the standard deviation of their kind, reduced
// by PCA to the requested number of components and whitened, then unmixed by
// symmetric FastICA with the log-cosh contrast.
package ica

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/meg"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Options configures Fit.
type Options struct {
	NComponents int     `yaml:"n_components"`
	MaxIter     int     `yaml:"max_iter"`
	Tol         float64 `yaml:"tol"`
	Seed        uint64  `yaml:"seed"`
	// Decim fits on every Decim-th sample.
	Decim int `yaml:"decim"`
}

// DefaultOptions matches the decomposition fitted for every block.
var DefaultOptions = Options{NComponents: 20, MaxIter: 1000, Tol: 1e-4, Seed: 97, Decim: 1}

// ICA is a fitted decomposition. Sources are
// Unmixing * PCAComponents * (x/PreWhitener - PCAMean).
type ICA struct {
	ChannelNames  []string
	PreWhitener   []float64
	PCAMean       []float64
	PCAComponents *mat.Dense // NComponents x channels
	PCAVariance   []float64
	Unmixing      *mat.Dense
	Mixing        *mat.Dense
	// Exclude lists the components removed by Apply.
	Exclude []int

	Options Options
	// NIter is the number of FastICA iterations the fit took.
	NIter int
}

// NComponents returns the number of components.
func (d *ICA) NComponents() int {
	return len(d.PCAVariance)
}

// pickKinds are the channel kinds a decomposition is fitted on.
var pickKinds = []meg.ChannelKind{meg.Mag, meg.EEG}

// Fit decomposes the magnetometer and EEG channels of raw.
func Fit(raw *meg.Raw, opts Options) (*ICA, error) {
	if opts.Decim < 1 {
		opts.Decim = 1
	}
	picks := raw.Info.KindIndices(pickKinds...)
	nch := len(picks)
	if nch == 0 {
		return nil, fmt.Errorf("no channels to decompose: %w", meg.ErrNoChannel)
	}
	if opts.NComponents < 1 || opts.NComponents > nch {
		return nil, fmt.Errorf("cannot fit %d components on %d channels", opts.NComponents, nch)
	}

	d := &ICA{Options: opts}
	d.PreWhitener = make([]float64, nch)
	for _, kind := range pickKinds {
		var rows [][]float64
		var idx []int
		for i, p := range picks {
			if raw.Info.Channels[p].Kind == kind {
				rows = append(rows, raw.Data[p])
				idx = append(idx, i)
			}
		}
		if len(rows) == 0 {
			continue
		}
		std := pooledStd(rows)
		if std == 0 {
			return nil, fmt.Errorf("%s channels are flat", kind)
		}
		for _, i := range idx {
			d.PreWhitener[i] = std
		}
	}
	for _, p := range picks {
		d.ChannelNames = append(d.ChannelNames, raw.Info.Channels[p].Name)
	}

	n := (raw.NSamples() + opts.Decim - 1) / opts.Decim
	if n <= nch {
		return nil, fmt.Errorf("%d samples are too few to decompose %d channels", n, nch)
	}
	x := mat.NewDense(nch, n, nil)
	d.PCAMean = make([]float64, nch)
	for i, p := range picks {
		row := x.RawRowView(i)
		for s := range row {
			row[s] = raw.Data[p][s*opts.Decim] / d.PreWhitener[i]
		}
		d.PCAMean[i] = floats.Sum(row) / float64(n)
		floats.AddConst(-d.PCAMean[i], row)
	}

	if err := d.fitPCA(x, opts.NComponents); err != nil {
		return nil, err
	}

	var scores mat.Dense
	scores.Mul(d.PCAComponents, x)
	for k, v := range d.PCAVariance {
		row := scores.RawRowView(k)
		floats.Scale(1/math.Sqrt(v), row)
	}

	w, iters, err := fastICA(&scores, opts)
	if err != nil {
		return nil, err
	}
	d.NIter = iters

	k := opts.NComponents
	d.Unmixing = mat.NewDense(k, k, nil)
	for j, v := range d.PCAVariance {
		s := 1 / math.Sqrt(v)
		for i := 0; i < k; i++ {
			d.Unmixing.Set(i, j, w.At(i, j)*s)
		}
	}
	d.Mixing = mat.NewDense(k, k, nil)
	if err := d.Mixing.Inverse(d.Unmixing); err != nil {
		return nil, fmt.Errorf("invert unmixing matrix: %w", err)
	}
	return d, nil
}

func pooledStd(rows [][]float64) float64 {
	var all []float64
	for _, r := range rows {
		all = append(all, r...)
	}
	return stat.PopStdDev(all, nil)
}

// fitPCA keeps the k leading principal axes of the centred data x.
func (d *ICA) fitPCA(x *mat.Dense, k int) error {
	nch, n := x.Dims()
	var cov mat.SymDense
	cov.SymOuterK(1/float64(n-1), x)

	var eig mat.EigenSym
	if ok := eig.Factorize(&cov, true); !ok {
		return fmt.Errorf("eigendecomposition of channel covariance failed")
	}
	vals := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	d.PCAComponents = mat.NewDense(k, nch, nil)
	d.PCAVariance = make([]float64, k)
	for j := 0; j < k; j++ {
		col := nch - 1 - j
		if vals[col] <= vals[nch-1]*1e-12 {
			return fmt.Errorf("data has rank %d, cannot fit %d components", j, k)
		}
		d.PCAVariance[j] = vals[col]
		d.PCAComponents.SetRow(j, mat.Col(nil, col, &vecs))
	}
	return nil
}

// fastICA runs symmetric FastICA with g(u) = tanh(u) on whitened rows of x.
func fastICA(x *mat.Dense, opts Options) (*mat.Dense, int, error) {
	k, n := x.Dims()
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(opts.Seed, opts.Seed)}
	start := make([]float64, k*k)
	for i := range start {
		start[i] = normal.Rand()
	}
	w, err := symDecorrelate(mat.NewDense(k, k, start))
	if err != nil {
		return nil, 0, err
	}

	var wx, gx, next mat.Dense
	gprime := make([]float64, k)
	for iter := 1; iter <= opts.MaxIter; iter++ {
		wx.Mul(w, x)
		gx.CloneFrom(&wx)
		for i := 0; i < k; i++ {
			row := gx.RawRowView(i)
			var acc float64
			for s, v := range row {
				t := math.Tanh(v)
				row[s] = t
				acc += 1 - t*t
			}
			gprime[i] = acc / float64(n)
		}

		next.Mul(&gx, x.T())
		next.Scale(1/float64(n), &next)
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				next.Set(i, j, next.At(i, j)-gprime[i]*w.At(i, j))
			}
		}
		w1, err := symDecorrelate(&next)
		if err != nil {
			return nil, iter, err
		}

		var lim float64
		for i := 0; i < k; i++ {
			dot := floats.Dot(w1.RawRowView(i), w.RawRowView(i))
			lim = math.Max(lim, math.Abs(math.Abs(dot)-1))
		}
		w = w1
		if lim < opts.Tol {
			return w, iter, nil
		}
	}
	return w, opts.MaxIter, nil
}

// symDecorrelate returns (W W^T)^(-1/2) W.
func symDecorrelate(w *mat.Dense) (*mat.Dense, error) {
	var wwt mat.SymDense
	wwt.SymOuterK(1, w)
	var eig mat.EigenSym
	if ok := eig.Factorize(&wwt, true); !ok {
		return nil, fmt.Errorf("symmetric decorrelation failed")
	}
	vals := eig.Values(nil)
	var u mat.Dense
	eig.VectorsTo(&u)

	k := len(vals)
	scaled := mat.NewDense(k, k, nil)
	for j, v := range vals {
		if v <= 0 {
			return nil, fmt.Errorf("symmetric decorrelation: singular matrix")
		}
		s := 1 / math.Sqrt(v)
		for i := 0; i < k; i++ {
			scaled.Set(i, j, u.At(i, j)*s)
		}
	}
	var inv, out mat.Dense
	inv.Mul(scaled, u.T())
	out.Mul(&inv, w)
	return &out, nil
}

// SetExclude replaces the exclusion set. Indices are sorted and deduplicated.
func (d *ICA) SetExclude(idx []int) error {
	for _, i := range idx {
		if i < 0 || i >= d.NComponents() {
			return fmt.Errorf("component %d out of range [0, %d)", i, d.NComponents())
		}
	}
	ex := slices.Clone(idx)
	slices.Sort(ex)
	d.Exclude = slices.Compact(ex)
	return nil
}

// picks returns the positions in raw of the decomposition's channels.
func (d *ICA) picks(raw *meg.Raw) ([]int, error) {
	idx := make([]int, len(d.ChannelNames))
	for i, name := range d.ChannelNames {
		j, err := raw.Info.ChannelIndex(name)
		if err != nil {
			return nil, err
		}
		idx[i] = j
	}
	return idx, nil
}

// Sources returns the component time courses of raw.
func (d *ICA) Sources(raw *meg.Raw) (*mat.Dense, error) {
	picks, err := d.picks(raw)
	if err != nil {
		return nil, err
	}
	x := mat.NewDense(len(picks), raw.NSamples(), nil)
	for i, p := range picks {
		row := x.RawRowView(i)
		for s, v := range raw.Data[p] {
			row[s] = v/d.PreWhitener[i] - d.PCAMean[i]
		}
	}
	var scores, sources mat.Dense
	scores.Mul(d.PCAComponents, x)
	sources.Mul(d.Unmixing, &scores)
	return &sources, nil
}

// backProject maps the given component rows of sources to channel space,
// still pre-whitened.
func (d *ICA) backProject(sources *mat.Dense, comps []int) *mat.Dense {
	k := d.NComponents()
	_, n := sources.Dims()
	sel := mat.NewDense(k, len(comps), nil)
	sub := mat.NewDense(len(comps), n, nil)
	for j, c := range comps {
		sel.SetCol(j, mat.Col(nil, c, d.Mixing))
		sub.SetRow(j, sources.RawRowView(c))
	}
	var scores, out mat.Dense
	scores.Mul(sel, sub)
	out.Mul(d.PCAComponents.T(), &scores)
	return &out
}

// Apply removes the excluded components from raw in place. Channels that
// were not part of the fit are left untouched.
func (d *ICA) Apply(raw *meg.Raw) error {
	if len(d.Exclude) == 0 {
		return nil
	}
	picks, err := d.picks(raw)
	if err != nil {
		return err
	}
	sources, err := d.Sources(raw)
	if err != nil {
		return err
	}
	artifacts := d.backProject(sources, d.Exclude)
	for i, p := range picks {
		row := artifacts.RawRowView(i)
		for s := range raw.Data[p] {
			raw.Data[p][s] -= row[s] * d.PreWhitener[i]
		}
	}
	return nil
}

// ExplainedVariance returns, per component, the share of the pre-whitened
// signal variance of raw that the component accounts for.
func (d *ICA) ExplainedVariance(raw *meg.Raw) ([]float64, error) {
	sources, err := d.Sources(raw)
	if err != nil {
		return nil, err
	}
	picks, _ := d.picks(raw)
	var total float64
	for i, p := range picks {
		row := make([]float64, raw.NSamples())
		for s, v := range raw.Data[p] {
			row[s] = v / d.PreWhitener[i]
		}
		total += stat.PopVariance(row, nil)
	}
	out := make([]float64, d.NComponents())
	for c := range out {
		proj := d.backProject(sources, []int{c})
		r, _ := proj.Dims()
		for i := 0; i < r; i++ {
			out[c] += stat.PopVariance(proj.RawRowView(i), nil)
		}
		out[c] /= total
	}
	return out, nil
}
