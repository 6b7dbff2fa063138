// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package epochs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/fiff"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/fsutil"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/meg"
)

// Save writes the epochs to path, replacing any existing file.
func (e *Epochs) Save(path string, precision meg.Precision) error {
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		fw, err := fiff.NewWriter(w)
		if err != nil {
			return err
		}
		fw.StartBlock(fiff.BlockMeas)
		meg.WriteInfo(fw, &e.Info)

		fw.StartBlock(fiff.BlockEpochs)
		fw.WriteFloat64(fiff.KindTMin, e.TMin)
		fw.WriteInt32(fiff.KindDecim, int32(e.Decim))
		fw.WriteInt32(fiff.KindDropCount, int32(e.Dropped))
		if e.Baseline != nil {
			fw.WriteFloat64(fiff.KindBaselineMin, e.Baseline.Start)
			fw.WriteFloat64(fiff.KindBaselineMax, e.Baseline.End)
		}
		fw.WriteString(fiff.KindEventID, formatEventID(e.EventID))
		events := make([]int32, 0, 3*len(e.Events))
		for _, ev := range e.Events {
			events = append(events, int32(ev.Sample), int32(ev.Prev), int32(ev.Code))
		}
		fw.WriteInt32(fiff.KindEventList, events...)
		fw.WriteInt32(fiff.KindDims, int32(e.Len()), int32(len(e.Info.Channels)), int32(e.NSamples()))
		for _, epoch := range e.Data {
			writeEpoch(fw, epoch, precision)
		}
		fw.EndBlock(fiff.BlockEpochs)
		fw.EndBlock(fiff.BlockMeas)
		return fw.Flush()
	})
}

func writeEpoch(fw *fiff.Writer, epoch [][]float64, precision meg.Precision) {
	if precision == meg.PrecisionSingle {
		var buf []float32
		for _, row := range epoch {
			for _, v := range row {
				buf = append(buf, float32(v))
			}
		}
		fw.WriteFloat32(fiff.KindEpoch, buf)
		return
	}
	var buf []float64
	for _, row := range epoch {
		buf = append(buf, row...)
	}
	fw.WriteFloat64(fiff.KindEpoch, buf...)
}

func formatEventID(id map[string]int) string {
	labels := make([]string, 0, len(id))
	for label := range id {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	parts := make([]string, len(labels))
	for i, label := range labels {
		parts[i] = label + "=" + strconv.Itoa(id[label])
	}
	return strings.Join(parts, ";")
}

func parseEventID(s string) (map[string]int, error) {
	id := map[string]int{}
	if s == "" {
		return id, nil
	}
	for _, part := range strings.Split(s, ";") {
		label, code, ok := strings.Cut(part, "=")
		if !ok {
			return nil, fmt.Errorf("malformed event id %q", part)
		}
		v, err := strconv.Atoi(code)
		if err != nil {
			return nil, fmt.Errorf("malformed event id %q: %w", part, err)
		}
		id[label] = v
	}
	return id, nil
}

// Load reads epochs written by Save.
func Load(path string) (*Epochs, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	e, err := read(f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return e, nil
}

func read(r io.Reader) (*Epochs, error) {
	fr, err := fiff.NewReader(r)
	if err != nil {
		return nil, err
	}
	e := &Epochs{}
	var dims []int32
	var flat [][]float64
	var baseline Baseline
	hasBaseline := false
	for {
		tag, err := fr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if fr.InBlock(fiff.BlockMeasInfo) {
			if err := meg.ReadInfoTag(&e.Info, tag); err != nil {
				return nil, err
			}
			continue
		}
		if !fr.InBlock(fiff.BlockEpochs) {
			continue
		}
		switch tag.Kind {
		case fiff.KindTMin:
			e.TMin, err = tag.Float()
		case fiff.KindDecim:
			e.Decim, err = tag.Int()
		case fiff.KindDropCount:
			e.Dropped, err = tag.Int()
		case fiff.KindBaselineMin:
			hasBaseline = true
			baseline.Start, err = tag.Float()
		case fiff.KindBaselineMax:
			hasBaseline = true
			baseline.End, err = tag.Float()
		case fiff.KindEventID:
			var s string
			if s, err = tag.String(); err == nil {
				e.EventID, err = parseEventID(s)
			}
		case fiff.KindEventList:
			var v []int32
			if v, err = tag.Int32s(); err == nil {
				if len(v)%3 != 0 {
					return nil, fmt.Errorf("malformed event list")
				}
				for i := 0; i < len(v); i += 3 {
					e.Events = append(e.Events, meg.Event{Sample: int(v[i]), Prev: int(v[i+1]), Code: int(v[i+2])})
				}
			}
		case fiff.KindDims:
			dims, err = tag.Int32s()
		case fiff.KindEpoch:
			var buf []float64
			if tag.Type == fiff.TypeFloat64 {
				buf, err = tag.Float64s()
			} else {
				var v []float32
				if v, err = tag.Float32s(); err == nil {
					buf = make([]float64, len(v))
					for i, x := range v {
						buf[i] = float64(x)
					}
				}
			}
			flat = append(flat, buf)
		}
		if err != nil {
			return nil, err
		}
	}
	if hasBaseline {
		e.Baseline = &baseline
	}

	if len(dims) != 3 {
		return nil, fmt.Errorf("missing epoch dimensions")
	}
	count, nch, ns := int(dims[0]), int(dims[1]), int(dims[2])
	if count != len(flat) || count != len(e.Events) || nch != len(e.Info.Channels) {
		return nil, fmt.Errorf("epoch block holds %d epochs and %d events of %d channels, expected %d of %d",
			len(flat), len(e.Events), len(e.Info.Channels), count, nch)
	}
	for _, buf := range flat {
		if len(buf) != nch*ns {
			return nil, fmt.Errorf("epoch of %d values, expected %d", len(buf), nch*ns)
		}
		epoch := make([][]float64, nch)
		for c := range epoch {
			epoch[c] = buf[c*ns : (c+1)*ns]
		}
		e.Data = append(e.Data, epoch)
	}
	return e, nil
}
