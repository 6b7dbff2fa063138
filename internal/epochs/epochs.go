// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package epochs cuts continuous recordings into fixed-length windows
// anchored to events.
package epochs

import (
	"fmt"
	"math"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/meg"
)

// Baseline is the interval, in seconds relative to the anchor, whose mean is
// subtracted from every epoch. Bounds outside the epoch are clamped to it.
type Baseline struct {
	Start float64
	End   float64
}

// DefaultBaseline spans from the start of the epoch to the anchor.
var DefaultBaseline = Baseline{Start: math.Inf(-1), End: 0}

// Options configures New.
type Options struct {
	TMin, TMax float64
	// Decim keeps every Decim-th sample. Values below 2 keep all.
	Decim int
	// Baseline is nil when no baseline correction is applied.
	Baseline *Baseline
}

// Epochs is an ordered sequence of equally long windows of a recording.
type Epochs struct {
	// Info describes the epoched channels; SFreq accounts for decimation.
	Info    meg.Info
	Events  []meg.Event
	EventID map[string]int
	// TMin is the time of the first sample of every epoch.
	TMin     float64
	Decim    int
	Baseline *Baseline
	// Data is indexed by epoch, channel, sample.
	Data [][][]float64
	// Dropped counts events whose window fell outside the recording.
	Dropped int
}

// Len returns the number of epochs.
func (e *Epochs) Len() int {
	return len(e.Data)
}

// NSamples returns the samples per epoch.
func (e *Epochs) NSamples() int {
	if len(e.Data) == 0 || len(e.Data[0]) == 0 {
		return 0
	}
	return len(e.Data[0][0])
}

// New cuts one epoch per event. The window of an event at onset sample o
// starts at o + round(tmin*sfreq) and holds round((tmax-tmin)*sfreq/decim)
// samples spaced decim apart. Events whose window does not fit in the
// recording are dropped and counted.
func New(raw *meg.Raw, events []meg.Event, eventID map[string]int, opts Options) (*Epochs, error) {
	sfreq := raw.Info.SFreq
	if opts.TMax <= opts.TMin {
		return nil, fmt.Errorf("tmax %g must exceed tmin %g", opts.TMax, opts.TMin)
	}
	decim := max(opts.Decim, 1)
	offset := int(math.Round(opts.TMin * sfreq))
	nout := int(math.Round((opts.TMax - opts.TMin) * sfreq / float64(decim)))
	if nout < 1 {
		return nil, fmt.Errorf("window [%g, %g] holds no samples at %g Hz", opts.TMin, opts.TMax, sfreq)
	}

	var blo, bhi int
	if opts.Baseline != nil {
		b := opts.Baseline
		if b.End < b.Start {
			return nil, fmt.Errorf("baseline end %g precedes its start %g", b.End, b.Start)
		}
		last := offset + (nout-1)*decim
		blo = offset
		if !math.IsInf(b.Start, -1) {
			blo = max(offset, int(math.Ceil(b.Start*sfreq)))
		}
		bhi = min(last, int(math.Floor(b.End*sfreq)))
		if bhi < blo {
			return nil, fmt.Errorf("baseline [%g, %g] lies outside the epoch", b.Start, b.End)
		}
	}

	ep := &Epochs{
		Info:     raw.Info,
		EventID:  eventID,
		TMin:     float64(offset) / sfreq,
		Decim:    decim,
		Baseline: opts.Baseline,
	}
	ep.Info.Channels = append([]meg.Channel(nil), raw.Info.Channels...)
	ep.Info.SFreq = sfreq / float64(decim)

	corrected := make([]bool, len(raw.Info.Channels))
	for c, ch := range raw.Info.Channels {
		corrected[c] = ch.Kind.IsData() || ch.Kind == meg.EOG
	}

	n := raw.NSamples()
	for _, ev := range events {
		onset := ev.Sample - raw.FirstSamp
		first := onset + offset
		if first < 0 || first+(nout-1)*decim >= n {
			ep.Dropped++
			continue
		}
		epoch := make([][]float64, len(raw.Data))
		for c, row := range raw.Data {
			out := make([]float64, nout)
			for i := range out {
				out[i] = row[first+i*decim]
			}
			if opts.Baseline != nil && corrected[c] {
				var mean float64
				for s := onset + blo; s <= onset+bhi; s++ {
					mean += row[s]
				}
				mean /= float64(bhi - blo + 1)
				for i := range out {
					out[i] -= mean
				}
			}
			epoch[c] = out
		}
		ep.Data = append(ep.Data, epoch)
		ep.Events = append(ep.Events, ev)
	}
	return ep, nil
}

// Times returns the time of every epoch sample relative to the anchor.
func (e *Epochs) Times() []float64 {
	t := make([]float64, e.NSamples())
	for i := range t {
		t[i] = e.TMin + float64(i)/e.Info.SFreq
	}
	return t
}
