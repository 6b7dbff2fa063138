// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package review_test

import (
	"bytes"
	"io"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/catalog"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/config"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/dsp"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/fsutil"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/ica"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/meg"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/review"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

const sfreq = 200.0

// blinkRecording mixes an alpha-like sine, periodic blinks and a sawtooth
// into five magnetometers. EEG057 records the blinks.
func blinkRecording(n int) *meg.Raw {
	rng := rand.New(rand.NewPCG(11, 12))
	sources := make([][]float64, 3)
	for i := range sources {
		sources[i] = make([]float64, n)
	}
	for s := 0; s < n; s++ {
		t := float64(s) / sfreq
		sources[0][s] = math.Sin(2 * math.Pi * 7 * t)
		d := math.Mod(t, 2.5) - 1.25
		sources[1][s] = 4 * math.Exp(-d*d/(2*0.06*0.06))
		sources[2][s] = 2*math.Mod(2.1*t, 1) - 1
	}
	mixing := [][]float64{
		{1.0, 0.5, 0.2},
		{0.3, 1.0, 0.4},
		{0.6, 0.2, 1.0},
		{0.9, 0.8, 0.1},
		{0.2, 0.7, 0.9},
	}
	raw := &meg.Raw{Info: meg.Info{SFreq: sfreq}}
	for c, m := range mixing {
		row := make([]float64, n)
		for s := range row {
			for j, a := range m {
				row[s] += a * sources[j][s]
			}
			row[s] = 1e-12 * (row[s] + 0.01*rng.NormFloat64())
		}
		raw.Info.Channels = append(raw.Info.Channels, meg.Channel{Name: []string{"MLC11", "MLC12", "MRF21", "MRO33", "MZC01"}[c], Kind: meg.Mag})
		raw.Data = append(raw.Data, row)
	}
	eog := make([]float64, n)
	for s := range eog {
		eog[s] = 1e-4 * (sources[1][s] + 0.05*rng.NormFloat64())
	}
	raw.Info.Channels = append(raw.Info.Channels, meg.Channel{Name: "EEG057", Kind: meg.EOG})
	raw.Data = append(raw.Data, eog)
	return raw
}

func reviewConfig() config.Review {
	return config.Review{TMin: 5, TMax: 25, Band: dsp.Band{Low: 1, High: 30}, EOGThreshold: 0.5}
}

func fit(t *testing.T, raw *meg.Raw) *ica.ICA {
	o := ica.DefaultOptions
	o.NComponents = 3
	d, err := ica.Fit(raw, o)
	require.NoError(t, err)
	return d
}

func TestAnalyzeSuggestsBlinkComponent(t *testing.T) {
	raw := blinkRecording(6000)
	d := fit(t, raw)

	rep, err := review.Analyze(raw, d, reviewConfig())
	require.NoError(t, err)
	require.Len(t, rep.Components, 3)
	require.Len(t, rep.Suggested, 1)

	blink := rep.Components[rep.Suggested[0]]
	assert.Greater(t, blink.EOGCorr, 0.9)
	assert.Equal(t, "EEG057", blink.EOG)
	assert.Greater(t, blink.Kurtosis, 1.0)

	var total float64
	for _, c := range rep.Components {
		total += c.Variance
		if c.Index != blink.Index {
			assert.Less(t, c.EOGCorr, 0.5, "component %d", c.Index)
		}
	}
	assert.InDelta(t, 1.0, total, 0.2)
	assert.Equal(t, 6000, raw.NSamples(), "input is not cropped")

	var out bytes.Buffer
	require.NoError(t, rep.Print(&out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[0], "KURT")
	assert.Contains(t, lines[1+blink.Index], "(EEG057) *")
}

func TestAnalyzeWithoutEOG(t *testing.T) {
	raw := blinkRecording(6000)
	d := fit(t, raw)
	require.NoError(t, raw.PickKinds(meg.Mag))

	rep, err := review.Analyze(raw, d, reviewConfig())
	require.NoError(t, err)
	assert.Empty(t, rep.Suggested)
	for _, c := range rep.Components {
		assert.Zero(t, c.EOGCorr)
	}
	var out bytes.Buffer
	require.NoError(t, rep.Print(&out))
	assert.NotContains(t, out.String(), "*")
}

func TestAnalyzeWindowBeyondRecording(t *testing.T) {
	raw := blinkRecording(2000)
	d := fit(t, raw)
	cfg := reviewConfig()
	cfg.TMin, cfg.TMax = 100, 200
	_, err := review.Analyze(raw, d, cfg)
	assert.Error(t, err)
}

func TestParseExclude(t *testing.T) {
	for in, want := range map[string][]int{
		"":        {},
		"none":    {},
		"3":       {3},
		"0, 4,7":  {0, 4, 7},
		" 2 5\t9": {2, 5, 9},
	} {
		got, err := review.ParseExclude(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := review.ParseExclude("1,x")
	assert.Error(t, err)
}

func TestPrompt(t *testing.T) {
	var out bytes.Buffer
	got, err := review.Prompt(strings.NewReader("x\n1, 2\n"), &out, []int{4})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
	assert.Equal(t, 2, strings.Count(out.String(), "components to exclude [4]: "))
	assert.Contains(t, out.String(), `invalid component index "x"`)

	got, err = review.Prompt(strings.NewReader("\n"), io.Discard, []int{0, 3})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 3}, got)

	_, err = review.Prompt(strings.NewReader(""), io.Discard, nil)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func savePair(t *testing.T) (catalog.Pair, *meg.Raw) {
	raw := blinkRecording(6000)
	d := fit(t, raw)
	dir := t.TempDir()
	p := catalog.Pair{
		Raw: filepath.Join(dir, "realtime_sub-0001_block-000_raw.fif"),
		ICA: filepath.Join(dir, "realtime_sub-0001_block-000_ica.fif"),
	}
	require.NoError(t, raw.Save(p.Raw, meg.PrecisionDouble))
	require.NoError(t, d.Save(p.ICA))
	return p, raw
}

func TestSessionAcceptsSuggestions(t *testing.T) {
	p, raw := savePair(t)
	var out bytes.Buffer
	s := &review.Session{Config: reviewConfig(), In: strings.NewReader("\n"), Out: &out}
	exclude, err := s.Run(p)
	require.NoError(t, err)
	require.Len(t, exclude, 1)

	d, err := ica.Load(p.ICA)
	require.NoError(t, err)
	assert.Equal(t, exclude, d.Exclude)
	assert.Contains(t, out.String(), "realtime_sub-0001_block-000_raw.fif excluded comps: ")

	// The signal file is left alone.
	got, err := meg.LoadRaw(p.Raw)
	require.NoError(t, err)
	assert.True(t, floats.Equal(raw.Data[0], got.Data[0]))
}

func TestSessionExplicitExclusion(t *testing.T) {
	p, _ := savePair(t)
	s := &review.Session{Config: reviewConfig(), Out: io.Discard, Exclude: []int{2, 0}}
	exclude, err := s.Run(p)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, exclude)

	s.Exclude = []int{}
	exclude, err = s.Run(p)
	require.NoError(t, err)
	assert.Empty(t, exclude)
	d, err := ica.Load(p.ICA)
	require.NoError(t, err)
	assert.Empty(t, d.Exclude)

	s.Exclude = []int{3}
	_, err = s.Run(p)
	assert.Error(t, err)

	var log map[string][]int
	require.NoError(t, fsutil.LoadJSON(filepath.Join(filepath.Dir(p.ICA), review.LogName), &log))
	assert.Equal(t, map[string][]int{"realtime_sub-0001_block-000": {}}, log)
}

func TestSessionLogsEveryBlock(t *testing.T) {
	p, _ := savePair(t)
	s := &review.Session{Config: reviewConfig(), Out: io.Discard, Exclude: []int{1}}
	_, err := s.Run(p)
	require.NoError(t, err)

	// A second block of the same subject is added to the log.
	other := catalog.Pair{
		Raw: filepath.Join(filepath.Dir(p.Raw), "realtime_sub-0001_block-001_raw.fif"),
		ICA: filepath.Join(filepath.Dir(p.ICA), "realtime_sub-0001_block-001_ica.fif"),
	}
	require.NoError(t, os.Link(p.Raw, other.Raw))
	require.NoError(t, os.Link(p.ICA, other.ICA))
	s.Exclude = []int{0, 2}
	_, err = s.Run(other)
	require.NoError(t, err)

	var log map[string][]int
	require.NoError(t, fsutil.LoadJSON(filepath.Join(filepath.Dir(p.ICA), review.LogName), &log))
	assert.Equal(t, map[string][]int{
		"realtime_sub-0001_block-000": {1},
		"realtime_sub-0001_block-001": {0, 2},
	}, log)
}
