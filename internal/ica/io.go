// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package ica

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/fiff"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/fsutil"
	"gonum.org/v1/gonum/mat"
)

// channelSep joins channel names in a single string tag.
const channelSep = ":"

// Save writes the decomposition to path, replacing any existing file.
func (d *ICA) Save(path string) error {
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		fw, err := fiff.NewWriter(w)
		if err != nil {
			return err
		}
		k, nch := d.PCAComponents.Dims()
		exclude := make([]int32, len(d.Exclude))
		for i, c := range d.Exclude {
			exclude[i] = int32(c)
		}

		fw.StartBlock(fiff.BlockICA)
		fw.WriteInt32(fiff.KindICAParams,
			int32(d.Options.NComponents), int32(d.Options.MaxIter), int32(d.Options.Seed),
			int32(d.Options.Decim), int32(d.NIter))
		fw.WriteFloat64(fiff.KindICAParams, d.Options.Tol)
		fw.WriteString(fiff.KindICAChannelNames, strings.Join(d.ChannelNames, channelSep))
		fw.WriteFloat64(fiff.KindICAWhitener, d.PreWhitener...)
		fw.WriteFloat64(fiff.KindICAPCAMean, d.PCAMean...)
		fw.WriteFloat64(fiff.KindICAPCAVariance, d.PCAVariance...)
		fw.WriteMatrix(fiff.KindICAPCAComps, k, nch, rawData(d.PCAComponents))
		fw.WriteMatrix(fiff.KindICAUnmixing, k, k, rawData(d.Unmixing))
		fw.WriteMatrix(fiff.KindICAMixing, k, k, rawData(d.Mixing))
		fw.WriteInt32(fiff.KindICAExclude, exclude...)
		fw.EndBlock(fiff.BlockICA)
		return fw.Flush()
	})
}

func rawData(m *mat.Dense) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		out = append(out, m.RawRowView(i)...)
	}
	return out
}

// Load reads a decomposition written by Save.
func Load(path string) (*ICA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return d, nil
}

func read(r io.Reader) (*ICA, error) {
	fr, err := fiff.NewReader(r)
	if err != nil {
		return nil, err
	}
	d := &ICA{}
	found := false
	for {
		tag, err := fr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if !fr.InBlock(fiff.BlockICA) {
			continue
		}
		found = true
		if err := d.readTag(tag); err != nil {
			return nil, err
		}
	}
	if !found {
		return nil, fmt.Errorf("no decomposition block")
	}
	return d, d.validate()
}

func (d *ICA) readTag(tag *fiff.Tag) error {
	var err error
	switch tag.Kind {
	case fiff.KindICAParams:
		if tag.Type == fiff.TypeFloat64 {
			d.Options.Tol, err = tag.Float()
			return err
		}
		var v []int32
		if v, err = tag.Int32s(); err != nil {
			return err
		}
		if len(v) != 5 {
			return fmt.Errorf("malformed decomposition parameters")
		}
		d.Options.NComponents, d.Options.MaxIter = int(v[0]), int(v[1])
		d.Options.Seed, d.Options.Decim, d.NIter = uint64(v[2]), int(v[3]), int(v[4])
	case fiff.KindICAChannelNames:
		var s string
		if s, err = tag.String(); err == nil && s != "" {
			d.ChannelNames = strings.Split(s, channelSep)
		}
	case fiff.KindICAWhitener:
		d.PreWhitener, err = tag.Float64s()
	case fiff.KindICAPCAMean:
		d.PCAMean, err = tag.Float64s()
	case fiff.KindICAPCAVariance:
		d.PCAVariance, err = tag.Float64s()
	case fiff.KindICAPCAComps:
		d.PCAComponents, err = readMatrix(tag)
	case fiff.KindICAUnmixing:
		d.Unmixing, err = readMatrix(tag)
	case fiff.KindICAMixing:
		d.Mixing, err = readMatrix(tag)
	case fiff.KindICAExclude:
		var v []int32
		if v, err = tag.Int32s(); err == nil {
			d.Exclude = make([]int, len(v))
			for i, c := range v {
				d.Exclude[i] = int(c)
			}
		}
	}
	return err
}

func readMatrix(tag *fiff.Tag) (*mat.Dense, error) {
	rows, cols, data, err := tag.Matrix()
	if err != nil {
		return nil, err
	}
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("empty matrix in tag %d", tag.Kind)
	}
	return mat.NewDense(rows, cols, data), nil
}

func (d *ICA) validate() error {
	if d.PCAComponents == nil || d.Unmixing == nil || d.Mixing == nil {
		return fmt.Errorf("incomplete decomposition")
	}
	k, nch := d.PCAComponents.Dims()
	switch {
	case len(d.ChannelNames) != nch, len(d.PreWhitener) != nch, len(d.PCAMean) != nch:
		return fmt.Errorf("decomposition channel fields disagree with %d channels", nch)
	case len(d.PCAVariance) != k:
		return fmt.Errorf("decomposition has %d variances for %d components", len(d.PCAVariance), k)
	}
	for _, m := range []*mat.Dense{d.Unmixing, d.Mixing} {
		if r, c := m.Dims(); r != k || c != k {
			return fmt.Errorf("decomposition matrix is %dx%d, expected %dx%d", r, c, k, k)
		}
	}
	for _, c := range d.Exclude {
		if c < 0 || c >= k {
			return fmt.Errorf("excluded component %d out of range", c)
		}
	}
	return nil
}
