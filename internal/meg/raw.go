// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package meg models continuous multi-channel recordings: channels and their
// roles, trigger events, annotations, and the operations the stages apply to
// them.
package meg

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/dsp"
)

// ErrNoChannel is returned when a named channel is not part of a recording.
var ErrNoChannel = errors.New("no such channel")

// Info describes a recording.
type Info struct {
	SFreq       float64
	Channels    []Channel
	Highpass    float64 // Hz, 0 when unfiltered
	Lowpass     float64 // Hz, Nyquist when unfiltered
	CompGrade   int
	MeasDate    time.Time
	Description string
}

// ChannelNames lists the channel names in order.
func (info *Info) ChannelNames() []string {
	names := make([]string, len(info.Channels))
	for i, ch := range info.Channels {
		names[i] = ch.Name
	}
	return names
}

// ChannelIndex returns the position of the named channel.
func (info *Info) ChannelIndex(name string) (int, error) {
	for i, ch := range info.Channels {
		if ch.Name == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrNoChannel, name)
}

// KindIndices returns the positions of every channel of the given kinds.
func (info *Info) KindIndices(kinds ...ChannelKind) []int {
	var idx []int
	for i, ch := range info.Channels {
		for _, k := range kinds {
			if ch.Kind == k {
				idx = append(idx, i)
				break
			}
		}
	}
	return idx
}

// Raw is a continuous recording held in memory. Data is channel-major:
// Data[c][s] is sample s of channel c. FirstSamp is the acquisition-relative
// index of Data[c][0].
type Raw struct {
	Info        Info
	Data        [][]float64
	FirstSamp   int
	Annotations Annotations
}

// NSamples returns the number of samples per channel.
func (r *Raw) NSamples() int {
	if len(r.Data) == 0 {
		return 0
	}
	return len(r.Data[0])
}

// Duration returns the recording length in seconds.
func (r *Raw) Duration() float64 {
	return float64(r.NSamples()) / r.Info.SFreq
}

// Times returns the time of every sample in seconds relative to the first.
func (r *Raw) Times() []float64 {
	t := make([]float64, r.NSamples())
	for i := range t {
		t[i] = float64(i) / r.Info.SFreq
	}
	return t
}

// Validate checks that info and data agree.
func (r *Raw) Validate() error {
	if r.Info.SFreq <= 0 {
		return fmt.Errorf("invalid sampling frequency %g", r.Info.SFreq)
	}
	if len(r.Data) != len(r.Info.Channels) {
		return fmt.Errorf("%d channels described but %d present", len(r.Info.Channels), len(r.Data))
	}
	n := r.NSamples()
	for i, row := range r.Data {
		if len(row) != n {
			return fmt.Errorf("channel %s has %d samples, expected %d", r.Info.Channels[i].Name, len(row), n)
		}
	}
	return nil
}

// Copy returns a deep copy.
func (r *Raw) Copy() *Raw {
	out := &Raw{
		Info:        r.Info,
		Data:        make([][]float64, len(r.Data)),
		FirstSamp:   r.FirstSamp,
		Annotations: append(Annotations(nil), r.Annotations...),
	}
	out.Info.Channels = append([]Channel(nil), r.Info.Channels...)
	for i, row := range r.Data {
		out.Data[i] = append([]float64(nil), row...)
	}
	return out
}

// Channel returns the samples of the named channel.
func (r *Raw) Channel(name string) ([]float64, error) {
	i, err := r.Info.ChannelIndex(name)
	if err != nil {
		return nil, err
	}
	return r.Data[i], nil
}

// Pick keeps only the named channels, in the given order.
func (r *Raw) Pick(names ...string) error {
	idx := make([]int, len(names))
	for i, name := range names {
		j, err := r.Info.ChannelIndex(name)
		if err != nil {
			return err
		}
		idx[i] = j
	}
	r.pickIndices(idx)
	return nil
}

// PickKinds keeps only channels of the given kinds, in their current order.
func (r *Raw) PickKinds(kinds ...ChannelKind) error {
	idx := r.Info.KindIndices(kinds...)
	if len(idx) == 0 {
		return fmt.Errorf("%w of kind %v", ErrNoChannel, kinds)
	}
	r.pickIndices(idx)
	return nil
}

func (r *Raw) pickIndices(idx []int) {
	channels := make([]Channel, len(idx))
	data := make([][]float64, len(idx))
	for i, j := range idx {
		channels[i] = r.Info.Channels[j]
		data[i] = r.Data[j]
	}
	r.Info.Channels = channels
	r.Data = data
}

// SetChannelKinds reassigns channel roles. Every named channel must exist.
func (r *Raw) SetChannelKinds(kinds map[string]ChannelKind) error {
	for name, kind := range kinds {
		i, err := r.Info.ChannelIndex(name)
		if err != nil {
			return err
		}
		r.Info.Channels[i].Kind = kind
	}
	return nil
}

// Crop keeps the samples between tmin and tmax seconds, both inclusive.
// Annotations outside the window are dropped and the rest are shifted.
func (r *Raw) Crop(tmin, tmax float64) error {
	n := r.NSamples()
	if tmin < 0 || tmax < tmin {
		return fmt.Errorf("invalid crop window [%g, %g]", tmin, tmax)
	}
	start := int(math.Round(tmin * r.Info.SFreq))
	stop := min(int(math.Round(tmax*r.Info.SFreq))+1, n)
	if start >= n {
		return fmt.Errorf("crop start %gs is beyond the recording end (%gs)", tmin, r.Duration())
	}
	for i := range r.Data {
		r.Data[i] = r.Data[i][start:stop]
	}
	r.FirstSamp += start

	offset := float64(start) / r.Info.SFreq
	end := float64(stop-start) / r.Info.SFreq
	kept := r.Annotations[:0:0]
	for _, a := range r.Annotations {
		onset := a.Onset - offset
		if onset >= 0 && onset < end {
			a.Onset = onset
			kept = append(kept, a)
		}
	}
	r.Annotations = kept
	return nil
}

// Filter applies a zero-phase FIR band filter to the data channels (magnetic
// sensors, references and EEG). Other channels pass through unchanged.
func (r *Raw) Filter(band dsp.Band) error {
	if band.IsZero() {
		return nil
	}
	fir, err := dsp.DesignFIR(band, r.Info.SFreq)
	if err != nil {
		return fmt.Errorf("design filter %s: %w", band, err)
	}
	var rows [][]float64
	for i, ch := range r.Info.Channels {
		if ch.Kind.IsData() {
			rows = append(rows, r.Data[i])
		}
	}
	fir.ApplyAll(rows)

	if band.Low > 0 {
		r.Info.Highpass = band.Low
	}
	if band.High > 0 {
		r.Info.Lowpass = band.High
	}
	return nil
}
