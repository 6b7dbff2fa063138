// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package meg_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/dsp"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/meg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sine(n int, freq, sfreq, amp float64) []float64 {
	x := make([]float64, n)
	for i := range x {
		x[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/sfreq)
	}
	return x
}

// newRaw builds a small recording: two magnetometers, a reference, an EEG
// channel, a gripper channel and a trigger line with codes 1 and 2 at
// samples 1000 and 5000.
func newRaw(sfreq float64, n int) *meg.Raw {
	stim := make([]float64, n)
	for i := 1000; i < 1010 && i < n; i++ {
		stim[i] = 1
	}
	for i := 5000; i < 5010 && i < n; i++ {
		stim[i] = 2
	}
	gripper := make([]float64, n)
	for i := range gripper {
		gripper[i] = 0.5 + 0.1*float64(i%7)
	}
	return &meg.Raw{
		Info: meg.Info{
			SFreq: sfreq,
			Channels: []meg.Channel{
				{Name: "MLC11", Kind: meg.Mag},
				{Name: "MRF23", Kind: meg.Mag},
				{Name: "BP1", Kind: meg.RefMag},
				{Name: "EEG057", Kind: meg.EEG},
				{Name: "UADC009", Kind: meg.Misc},
				{Name: "UDIO001", Kind: meg.Stim},
			},
			Lowpass:  sfreq / 2,
			MeasDate: time.Date(2024, 3, 14, 10, 30, 0, 0, time.UTC),
		},
		Data: [][]float64{
			sine(n, 7, sfreq, 1e-12),
			sine(n, 11, sfreq, 2e-12),
			sine(n, 13, sfreq, 5e-12),
			sine(n, 3, sfreq, 1e-4),
			gripper,
			stim,
		},
	}
}

func TestInferKind(t *testing.T) {
	cases := map[string]meg.ChannelKind{
		"MLC11":   meg.Mag,
		"MZO01":   meg.Mag,
		"BP1":     meg.RefMag,
		"BG2":     meg.RefMag,
		"G11":     meg.RefMag,
		"P22":     meg.RefMag,
		"Q13":     meg.RefMag,
		"R11":     meg.RefMag,
		"EEG057":  meg.EEG,
		"UDIO001": meg.Stim,
		"UPPT002": meg.Stim,
		"UADC009": meg.Misc,
		"HLC0011": meg.Misc,
		"MISC01":  meg.Misc,
	}
	for name, want := range cases {
		assert.Equal(t, want, meg.InferKind(name), name)
	}
	assert.Equal(t, "MLC11", meg.CleanName("MLC11-4408"))
	assert.Equal(t, "UADC009", meg.CleanName(" UADC009 "))
}

func TestParseChannelKind(t *testing.T) {
	k, err := meg.ParseChannelKind("EOG")
	require.NoError(t, err)
	assert.Equal(t, meg.EOG, k)

	_, err = meg.ParseChannelKind("grad")
	assert.Error(t, err)
}

func TestFindEvents(t *testing.T) {
	stim := []float64{0, 0, 1, 1, 0, 3, 3, 5, 5, 2, 0, 4}
	events := meg.FindEvents(stim, 100)
	assert.Equal(t, []meg.Event{
		{Sample: 102, Prev: 0, Code: 1},
		{Sample: 105, Prev: 0, Code: 3},
		{Sample: 107, Prev: 3, Code: 5},
		{Sample: 111, Prev: 0, Code: 4},
	}, events)

	assert.Empty(t, meg.FindEvents([]float64{7, 7, 7}, 0))
}

func TestAnnotationRoundTrip(t *testing.T) {
	raw := newRaw(1000, 6000)
	raw.FirstSamp = 300

	events, err := raw.FindEvents("UDIO001")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 1300, events[0].Sample)
	assert.Equal(t, 5300, events[1].Sample)

	mapping := map[int]string{1: "dots_onset", 2: "response_onset"}
	raw.Annotations = meg.AnnotationsFromEvents(events, raw.Info.SFreq, mapping, raw.FirstSamp)
	require.Len(t, raw.Annotations, 2)
	assert.InDelta(t, 1.0, raw.Annotations[0].Onset, 1e-12)
	assert.Equal(t, "dots_onset", raw.Annotations[0].Description)
	assert.InDelta(t, 5.0, raw.Annotations[1].Onset, 1e-12)

	back := raw.EventsFromAnnotations(map[string]int{"dots_onset": 1, "response_onset": 2}, nil)
	require.Len(t, back, 2)
	for i := range events {
		assert.Equal(t, events[i].Sample, back[i].Sample)
		assert.Equal(t, events[i].Code, back[i].Code)
	}

	shifted := raw.EventsFromAnnotations(map[string]int{"response_onset": 2}, map[string]int{"response_onset": -20})
	require.Len(t, shifted, 1)
	assert.Equal(t, 5280, shifted[0].Sample)
}

func TestAnnotationsSkipUnmappedCodes(t *testing.T) {
	events := []meg.Event{{Sample: 10, Code: 1}, {Sample: 20, Code: 9}}
	annots := meg.AnnotationsFromEvents(events, 10, map[int]string{1: "dots_onset"}, 0)
	require.Len(t, annots, 1)
	assert.Equal(t, "dots_onset", annots[0].Description)
}

func TestPickAndSetChannelKinds(t *testing.T) {
	raw := newRaw(600, 600)

	require.NoError(t, raw.SetChannelKinds(map[string]meg.ChannelKind{"EEG057": meg.EOG}))
	assert.Equal(t, []int{3}, raw.Info.KindIndices(meg.EOG))

	err := raw.SetChannelKinds(map[string]meg.ChannelKind{"EEG099": meg.EOG})
	assert.ErrorIs(t, err, meg.ErrNoChannel)

	cp := raw.Copy()
	require.NoError(t, cp.PickKinds(meg.Mag))
	assert.Equal(t, []string{"MLC11", "MRF23"}, cp.Info.ChannelNames())
	assert.Len(t, raw.Info.Channels, 6, "copy must not alias the original")

	require.NoError(t, cp.Pick("MRF23"))
	assert.Equal(t, raw.Data[1], cp.Data[0])
	assert.ErrorIs(t, cp.Pick("MLC11"), meg.ErrNoChannel)
}

func TestCrop(t *testing.T) {
	raw := newRaw(100, 1000)
	raw.Annotations = meg.Annotations{
		{Onset: 1, Description: "early"},
		{Onset: 3, Description: "kept"},
		{Onset: 6, Description: "late"},
	}
	require.NoError(t, raw.Crop(2, 5))
	assert.Equal(t, 301, raw.NSamples())
	assert.Equal(t, 200, raw.FirstSamp)
	require.Len(t, raw.Annotations, 1)
	assert.Equal(t, "kept", raw.Annotations[0].Description)
	assert.InDelta(t, 1.0, raw.Annotations[0].Onset, 1e-12)

	assert.Error(t, raw.Crop(10, 20))
}

func TestFilterLeavesAuxiliaryChannels(t *testing.T) {
	raw := newRaw(1000, 6000)
	orig := raw.Copy()
	require.NoError(t, raw.Filter(dsp.Band{High: 5}))

	assert.Equal(t, orig.Data[4], raw.Data[4])
	assert.Equal(t, orig.Data[5], raw.Data[5])
	assert.NotEqual(t, orig.Data[0], raw.Data[0])
	assert.Equal(t, 5.0, raw.Info.Lowpass)
}

func TestGradientCompensation(t *testing.T) {
	const sfreq, n = 1000.0, 2000
	raw := newRaw(sfreq, n)
	brain := append([]float64(nil), raw.Data[0]...)
	for s := range raw.Data[0] {
		raw.Data[0][s] += 3 * raw.Data[2][s]
	}

	require.NoError(t, raw.ApplyGradientCompensation(3))
	assert.Equal(t, 3, raw.Info.CompGrade)
	for s := range brain {
		assert.InDelta(t, brain[s], raw.Data[0][s], 1e-15)
	}

	require.NoError(t, raw.ApplyGradientCompensation(3))
	assert.Error(t, raw.ApplyGradientCompensation(1))
}

func TestGradientCompensationNeedsReferences(t *testing.T) {
	raw := newRaw(1000, 2000)
	require.NoError(t, raw.Pick("MLC11", "UDIO001"))
	assert.ErrorIs(t, raw.ApplyGradientCompensation(1), meg.ErrNoChannel)
}

func TestSaveAndLoad(t *testing.T) {
	raw := newRaw(600, 25000)
	raw.FirstSamp = 42
	raw.Info.Description = "realtime block 3"
	raw.Annotations = meg.Annotations{
		{Onset: 1.5, Description: "dots_onset"},
		{Onset: 2.25, Duration: 0.1, Description: "response_onset"},
	}

	for _, precision := range []meg.Precision{meg.PrecisionSingle, meg.PrecisionDouble} {
		path := filepath.Join(t.TempDir(), "realtime_sub-01_block-000_raw.fif")
		require.NoError(t, raw.Save(path, precision))

		got, err := meg.LoadRaw(path)
		require.NoError(t, err)
		assert.Equal(t, raw.Info.Channels, got.Info.Channels)
		assert.Equal(t, raw.Info.SFreq, got.Info.SFreq)
		assert.Equal(t, raw.Info.MeasDate, got.Info.MeasDate)
		assert.Equal(t, raw.Info.Description, got.Info.Description)
		assert.Equal(t, raw.FirstSamp, got.FirstSamp)
		assert.Equal(t, raw.Annotations, got.Annotations)
		require.Equal(t, raw.NSamples(), got.NSamples())

		for c := range raw.Data {
			for s := range raw.Data[c] {
				want := raw.Data[c][s]
				if precision == meg.PrecisionDouble {
					require.Equal(t, want, got.Data[c][s])
				} else {
					require.InDelta(t, want, got.Data[c][s], math.Abs(want)*1e-6+1e-30)
				}
			}
		}
	}
}

func TestLoadRawRejectsForeignFile(t *testing.T) {
	dir := t.TempDir()
	_, err := meg.LoadRaw(filepath.Join(dir, "missing_raw.fif"))
	assert.Error(t, err)
}

func TestWriteAndReadCTF(t *testing.T) {
	raw := newRaw(600, 6000)
	ds := filepath.Join(t.TempDir(), "0001_realtime_20240314_03.ds")
	require.NoError(t, meg.WriteCTF(ds, raw))

	got, err := meg.ReadCTF(ds)
	require.NoError(t, err)
	assert.Equal(t, 600.0, got.Info.SFreq)
	assert.Equal(t, raw.Info.Channels, got.Info.Channels)
	require.Equal(t, raw.NSamples(), got.NSamples())

	tolerance := []float64{1e-16, 1e-16, 2e-16, 1e-8, 1e-4, 1e-3}
	for c := range raw.Data {
		for s := range raw.Data[c] {
			require.InDelta(t, raw.Data[c][s], got.Data[c][s], tolerance[c], "channel %d sample %d", c, s)
		}
	}

	events, err := got.FindEvents("UDIO001")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 1000, events[0].Sample)
}

func TestReadCTFWithoutExport(t *testing.T) {
	_, err := meg.ReadCTF(t.TempDir())
	assert.Error(t, err)

	// A block that was never exported only holds the native files.
	ds := filepath.Join(t.TempDir(), "sub01_block1.ds")
	require.NoError(t, os.MkdirAll(ds, 0o755))
	for _, name := range []string{"sub01_block1.meg4", "sub01_block1.res4"} {
		require.NoError(t, os.WriteFile(filepath.Join(ds, name), []byte{0}, 0o644))
	}
	_, err = meg.ReadCTF(ds)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no EDF export")
}
