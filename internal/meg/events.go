// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package meg

import (
	"math"
	"sort"
)

// Event is a trigger transition. Sample is absolute, i.e. it includes the
// recording's first sample.
type Event struct {
	Sample int
	Prev   int
	Code   int
}

// FindEvents returns the onsets of non-zero steps on a trigger line: a rise
// from zero, or a step to a larger value. Falling edges and the value held at
// the first sample are ignored.
func FindEvents(stim []float64, firstSamp int) []Event {
	var events []Event
	for i := 1; i < len(stim); i++ {
		prev := int(math.Round(stim[i-1]))
		cur := int(math.Round(stim[i]))
		if cur > 0 && cur > prev {
			events = append(events, Event{Sample: firstSamp + i, Prev: prev, Code: cur})
		}
	}
	return events
}

// FindEvents extracts events from the named trigger channel.
func (r *Raw) FindEvents(stimChannel string) ([]Event, error) {
	stim, err := r.Channel(stimChannel)
	if err != nil {
		return nil, err
	}
	return FindEvents(stim, r.FirstSamp), nil
}

// Annotation is a labelled interval, in seconds from the first retained
// sample.
type Annotation struct {
	Onset       float64
	Duration    float64
	Description string
}

// Annotations is an onset-ordered annotation list.
type Annotations []Annotation

// AnnotationsFromEvents labels events through mapping. Events whose code is
// not mapped are skipped.
func AnnotationsFromEvents(events []Event, sfreq float64, mapping map[int]string, firstSamp int) Annotations {
	var out Annotations
	for _, ev := range events {
		label, ok := mapping[ev.Code]
		if !ok {
			continue
		}
		out = append(out, Annotation{
			Onset:       float64(ev.Sample-firstSamp) / sfreq,
			Description: label,
		})
	}
	return out
}

// EventsFromAnnotations turns annotations back into events. Only annotations
// whose description is a key of eventID are used; each gets that code and is
// shifted by offsets[description] samples. The result is ordered by sample,
// ties kept in annotation order.
func (r *Raw) EventsFromAnnotations(eventID map[string]int, offsets map[string]int) []Event {
	var events []Event
	for _, a := range r.Annotations {
		code, ok := eventID[a.Description]
		if !ok {
			continue
		}
		sample := int(math.Round(a.Onset*r.Info.SFreq)) + r.FirstSamp + offsets[a.Description]
		events = append(events, Event{Sample: sample, Code: code})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].Sample < events[j].Sample })
	return events
}
