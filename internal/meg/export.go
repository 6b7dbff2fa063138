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
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/edf"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/fsutil"
)

// exportUnit returns the EDF physical dimension used for a kind and the
// factor from SI to that unit.
func exportUnit(k ChannelKind) (string, float64) {
	switch k {
	case Mag, RefMag:
		return "fT", 1e15
	case EEG, EOG:
		return "uV", 1e6
	}
	return "", 1
}

// WriteCTF writes r as a raw acquisition block readable by ReadCTF: dsDir is
// created and the recording is exported to a single EDF file inside it. All
// samples go into one data record.
func WriteCTF(dsDir string, r *Raw) error {
	if err := r.Validate(); err != nil {
		return err
	}
	n := r.NSamples()
	if n == 0 {
		return fmt.Errorf("no samples to export")
	}
	if _, err := fsutil.MakeDir(dsDir); err != nil {
		return err
	}

	hdr := edf.Header{
		Version:            edf.Version0,
		RecordingID:        r.Info.Description,
		StartTime:          r.Info.MeasDate,
		DataRecordDuration: time.Duration(float64(n) / r.Info.SFreq * float64(time.Second)),
		SignalCount:        len(r.Data),
	}
	record := make([][]float64, len(r.Data))
	for i, ch := range r.Info.Channels {
		unit, scale := exportUnit(ch.Kind)
		record[i] = make([]float64, n)
		lo, hi := math.Inf(1), math.Inf(-1)
		for s, v := range r.Data[i] {
			v *= scale
			record[i][s] = v
			lo, hi = math.Min(lo, v), math.Max(hi, v)
		}
		hdr.Signals = append(hdr.Signals, edf.Signal{
			Label:             ch.Name,
			PhysicalDimension: unit,
			PhysicalMin:       math.Floor(lo) - 1,
			PhysicalMax:       math.Ceil(hi) + 1,
			DigitalMin:        math.MinInt16,
			DigitalMax:        math.MaxInt16,
			SamplesPerRecord:  n,
		})
	}

	name := strings.TrimSuffix(filepath.Base(dsDir), ".ds") + ".edf"
	f, err := os.Create(filepath.Join(dsDir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	ew, err := edf.Create(f, hdr)
	if err != nil {
		return err
	}
	if err := ew.WriteRecord(record); err != nil {
		return err
	}
	if err := ew.Close(); err != nil {
		return err
	}
	return f.Close()
}
