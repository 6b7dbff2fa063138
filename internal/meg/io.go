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
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/fiff"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/fsutil"
)

// Precision selects the sample encoding of data buffers.
type Precision int

const (
	PrecisionSingle Precision = iota
	PrecisionDouble
)

// samplesPerBuffer bounds the size of one data buffer tag.
const samplesPerBuffer = 10000

// Save writes the recording, with its annotations, to path. The file is
// replaced atomically.
func (r *Raw) Save(path string, precision Precision) error {
	if err := r.Validate(); err != nil {
		return err
	}
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		fw, err := fiff.NewWriter(w)
		if err != nil {
			return err
		}
		fw.StartBlock(fiff.BlockMeas)
		WriteInfo(fw, &r.Info)
		writeAnnotations(fw, r.Annotations)

		fw.StartBlock(fiff.BlockRawData)
		fw.WriteInt32(fiff.KindFirstSample, int32(r.FirstSamp))
		nchan, n := len(r.Data), r.NSamples()
		for start := 0; start < n; start += samplesPerBuffer {
			stop := min(start+samplesPerBuffer, n)
			writeBuffer(fw, r.Data, start, stop, nchan, precision)
		}
		fw.EndBlock(fiff.BlockRawData)
		fw.EndBlock(fiff.BlockMeas)
		return fw.Flush()
	})
}

// writeBuffer writes samples [start, stop) sample-major, all channels of one
// sample together.
func writeBuffer(fw *fiff.Writer, data [][]float64, start, stop, nchan int, precision Precision) {
	size := (stop - start) * nchan
	if precision == PrecisionSingle {
		buf := make([]float32, 0, size)
		for s := start; s < stop; s++ {
			for c := 0; c < nchan; c++ {
				buf = append(buf, float32(data[c][s]))
			}
		}
		fw.WriteFloat32(fiff.KindDataBuffer, buf)
		return
	}
	buf := make([]float64, 0, size)
	for s := start; s < stop; s++ {
		for c := 0; c < nchan; c++ {
			buf = append(buf, data[c][s])
		}
	}
	fw.WriteFloat64(fiff.KindDataBuffer, buf...)
}

// WriteInfo writes the measurement info block. Errors are sticky on fw.
func WriteInfo(fw *fiff.Writer, info *Info) {
	fw.StartBlock(fiff.BlockMeasInfo)
	fw.WriteInt32(fiff.KindNChan, int32(len(info.Channels)))
	fw.WriteFloat64(fiff.KindSFreq, info.SFreq)
	fw.WriteFloat64(fiff.KindHighpass, info.Highpass)
	fw.WriteFloat64(fiff.KindLowpass, info.Lowpass)
	fw.WriteInt32(fiff.KindCompGrade, int32(info.CompGrade))
	if !info.MeasDate.IsZero() {
		fw.WriteInt32(fiff.KindMeasDate, int32(info.MeasDate.Unix()), int32(info.MeasDate.Nanosecond()/1000))
	}
	if info.Description != "" {
		fw.WriteString(fiff.KindComment, info.Description)
	}
	for i, ch := range info.Channels {
		fw.WriteChInfo(fiff.NewChInfo(i, ch.Name, ch.Kind.fiffKind(), ch.Kind.fiffUnit()))
	}
	fw.EndBlock(fiff.BlockMeasInfo)
}

// ReadInfoTag decodes one tag of a measurement info block into info. Tags it
// does not know are ignored.
func ReadInfoTag(info *Info, tag *fiff.Tag) error {
	var err error
	switch tag.Kind {
	case fiff.KindSFreq:
		info.SFreq, err = tag.Float()
	case fiff.KindHighpass:
		info.Highpass, err = tag.Float()
	case fiff.KindLowpass:
		info.Lowpass, err = tag.Float()
	case fiff.KindCompGrade:
		info.CompGrade, err = tag.Int()
	case fiff.KindComment:
		info.Description, err = tag.String()
	case fiff.KindMeasDate:
		var v []int32
		if v, err = tag.Int32s(); err == nil {
			if len(v) != 2 {
				return fmt.Errorf("malformed measurement date")
			}
			info.MeasDate = time.Unix(int64(v[0]), int64(v[1])*1000).UTC()
		}
	case fiff.KindChInfo:
		var ch fiff.ChInfo
		if ch, err = tag.ChInfo(); err == nil {
			info.Channels = append(info.Channels, Channel{Name: ch.ChannelName(), Kind: kindFromFiff(ch.Kind)})
		}
	}
	return err
}

func writeAnnotations(fw *fiff.Writer, annots Annotations) {
	if len(annots) == 0 {
		return
	}
	onsets := make([]float64, len(annots))
	durations := make([]float64, len(annots))
	for i, a := range annots {
		onsets[i] = a.Onset
		durations[i] = a.Duration
	}
	fw.StartBlock(fiff.BlockAnnotations)
	fw.WriteFloat64(fiff.KindAnnotOnset, onsets...)
	fw.WriteFloat64(fiff.KindAnnotDuration, durations...)
	for _, a := range annots {
		fw.WriteString(fiff.KindAnnotDescription, a.Description)
	}
	fw.EndBlock(fiff.BlockAnnotations)
}

// annotationReader accumulates the tags of an annotations block.
type annotationReader struct {
	onsets, durations []float64
	descriptions      []string
}

func (ar *annotationReader) read(tag *fiff.Tag) error {
	var err error
	switch tag.Kind {
	case fiff.KindAnnotOnset:
		ar.onsets, err = tag.Float64s()
	case fiff.KindAnnotDuration:
		ar.durations, err = tag.Float64s()
	case fiff.KindAnnotDescription:
		var s string
		if s, err = tag.String(); err == nil {
			ar.descriptions = append(ar.descriptions, s)
		}
	}
	return err
}

func (ar *annotationReader) annotations() (Annotations, error) {
	if len(ar.onsets) != len(ar.durations) || len(ar.onsets) != len(ar.descriptions) {
		return nil, fmt.Errorf("annotation block has %d onsets, %d durations and %d descriptions",
			len(ar.onsets), len(ar.durations), len(ar.descriptions))
	}
	var out Annotations
	for i := range ar.onsets {
		out = append(out, Annotation{Onset: ar.onsets[i], Duration: ar.durations[i], Description: ar.descriptions[i]})
	}
	return out, nil
}

// LoadRaw reads a recording written by Raw.Save.
func LoadRaw(path string) (*Raw, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := readRaw(f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return raw, nil
}

func readRaw(r io.Reader) (*Raw, error) {
	fr, err := fiff.NewReader(r)
	if err != nil {
		return nil, err
	}

	raw := &Raw{}
	var ar annotationReader
	var buffers [][]float64
	for {
		tag, err := fr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch {
		case fr.InBlock(fiff.BlockMeasInfo):
			err = ReadInfoTag(&raw.Info, tag)
		case fr.InBlock(fiff.BlockAnnotations):
			err = ar.read(tag)
		case fr.InBlock(fiff.BlockRawData):
			switch tag.Kind {
			case fiff.KindFirstSample:
				raw.FirstSamp, err = tag.Int()
			case fiff.KindDataBuffer:
				var buf []float64
				if buf, err = readBuffer(tag); err == nil {
					buffers = append(buffers, buf)
				}
			}
		}
		if err != nil {
			return nil, err
		}
	}

	if raw.Annotations, err = ar.annotations(); err != nil {
		return nil, err
	}
	nchan := len(raw.Info.Channels)
	if nchan == 0 {
		return nil, fmt.Errorf("no channels")
	}
	total := 0
	for _, buf := range buffers {
		if len(buf)%nchan != 0 {
			return nil, fmt.Errorf("data buffer of %d values does not hold %d channels", len(buf), nchan)
		}
		total += len(buf) / nchan
	}
	raw.Data = make([][]float64, nchan)
	for c := range raw.Data {
		raw.Data[c] = make([]float64, 0, total)
	}
	for _, buf := range buffers {
		for s := 0; s < len(buf); s += nchan {
			for c := 0; c < nchan; c++ {
				raw.Data[c] = append(raw.Data[c], buf[s+c])
			}
		}
	}
	return raw, raw.Validate()
}

// readBuffer decodes a data buffer of either precision.
func readBuffer(tag *fiff.Tag) ([]float64, error) {
	if tag.Type == fiff.TypeFloat64 {
		return tag.Float64s()
	}
	v, err := tag.Float32s()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out, nil
}
