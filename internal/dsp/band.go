// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package dsp holds the signal processing primitives shared by the stages:
// zero-phase FIR filtering, Welch spectra, smoothing and small fits.
package dsp

import (
	"fmt"
	"strconv"
)

// Band is a pass band in Hz. A zero edge is open: {0, 125} is a low-pass,
// {1, 0} a high-pass and the zero Band disables filtering.
type Band struct {
	Low  float64 `yaml:"low"`
	High float64 `yaml:"high"`
}

// IsZero reports whether the band leaves the signal untouched.
func (b Band) IsZero() bool {
	return b.Low <= 0 && b.High <= 0
}

// Validate checks the band against a sampling frequency.
func (b Band) Validate(sfreq float64) error {
	if b.Low < 0 || b.High < 0 {
		return fmt.Errorf("negative band edge in %v", b)
	}
	if b.Low > 0 && b.High > 0 && b.Low >= b.High {
		return fmt.Errorf("band low edge %g must be below high edge %g", b.Low, b.High)
	}
	if sfreq > 0 && b.High >= sfreq/2 {
		return fmt.Errorf("band high edge %g must be below Nyquist (%g)", b.High, sfreq/2)
	}
	return nil
}

// Descriptor renders the band for output filenames: "nf" when no filtering
// is applied, otherwise "<low>-<high>" with "None" for an open edge.
func (b Band) Descriptor() string {
	if b.IsZero() {
		return "nf"
	}
	return edge(b.Low) + "-" + edge(b.High)
}

func (b Band) String() string {
	return b.Descriptor()
}

func edge(v float64) string {
	if v <= 0 {
		return "None"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
