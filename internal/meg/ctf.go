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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/edf"
)

var unitScale = map[string]float64{
	"":   1,
	"T":  1,
	"nT": 1e-9,
	"pT": 1e-12,
	"fT": 1e-15,
	"V":  1,
	"mV": 1e-3,
	"uV": 1e-6,
}

// ReadCTF reads a raw acquisition block: a CTF .ds directory holding a
// single EDF export of the recording. Channel names are cleaned of their
// serial suffix and values are scaled to tesla or volt.
//
// The native .meg4 and .res4 files are not read. Each block has to be
// exported to EDF with the CTF tools before it
// enters the pipeline.
func ReadCTF(dsDir string) (*Raw, error) {
	matches, err := filepath.Glob(filepath.Join(dsDir, "*.edf"))
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no EDF export in %s, native .meg4 data is not read", dsDir)
	case 1:
	default:
		return nil, fmt.Errorf("%d EDF exports in %s, expected one", len(matches), dsDir)
	}

	f, err := os.Open(matches[0])
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := readEDF(f)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", matches[0], err)
	}
	return raw, nil
}

func readEDF(f io.ReadSeeker) (*Raw, error) {
	er, err := edf.Open(f)
	if err != nil {
		return nil, err
	}
	hdr := er.Header()
	signals, err := er.ReadAll()
	if err != nil {
		return nil, err
	}

	raw := &Raw{Info: Info{
		MeasDate:    hdr.StartTime,
		Description: hdr.RecordingID,
	}}
	for i, sig := range hdr.Signals {
		if sig.Label == edf.AnnotationsLabel {
			continue
		}
		sfreq := hdr.SampleRate(i)
		if raw.Info.SFreq == 0 {
			raw.Info.SFreq = sfreq
		} else if sfreq != raw.Info.SFreq {
			return nil, fmt.Errorf("signal %s is sampled at %g Hz, expected %g Hz", sig.Label, sfreq, raw.Info.SFreq)
		}
		scale, ok := unitScale[strings.TrimSpace(sig.PhysicalDimension)]
		if !ok {
			return nil, fmt.Errorf("signal %s: unknown unit %q", sig.Label, sig.PhysicalDimension)
		}
		data := signals[i]
		if scale != 1 {
			for s := range data {
				data[s] *= scale
			}
		}
		name := CleanName(sig.Label)
		raw.Info.Channels = append(raw.Info.Channels, Channel{Name: name, Kind: InferKind(name)})
		raw.Data = append(raw.Data, data)
	}
	if len(raw.Data) == 0 {
		return nil, fmt.Errorf("no data signals")
	}
	raw.Info.Lowpass = raw.Info.SFreq / 2
	return raw, raw.Validate()
}
