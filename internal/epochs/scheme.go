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
	"fmt"
	"sort"
	"strings"
)

// Scheme selects the annotations an epoching run is anchored to and the
// window cut around them.
type Scheme struct {
	// Label must be contained in an annotation's description for it to
	// anchor an epoch.
	Label string  `yaml:"label"`
	TMin  float64 `yaml:"tmin"`
	TMax  float64 `yaml:"tmax"`
	// Modifier shifts every anchor by this many samples.
	Modifier int `yaml:"modifier"`
}

// Schemes are the named epoching schemes of the experiment.
var Schemes = map[string]Scheme{
	"whole_trial": {Label: "dots_onset", TMin: -1.5, TMax: 4.1},
	"dots":        {Label: "dots_onset", TMin: -0.25, TMax: 0.6},
	"response":    {Label: "response_onset", TMin: -0.25, TMax: 3.5, Modifier: -20},
}

// LookupScheme returns the named scheme.
func LookupScheme(name string) (Scheme, error) {
	s, ok := Schemes[name]
	if !ok {
		names := make([]string, 0, len(Schemes))
		for n := range Schemes {
			names = append(names, n)
		}
		sort.Strings(names)
		return Scheme{}, fmt.Errorf("unknown epoching scheme %q (have %s)", name, strings.Join(names, ", "))
	}
	return s, nil
}

// Validate checks the window.
func (s Scheme) Validate() error {
	if s.Label == "" {
		return fmt.Errorf("scheme has no label")
	}
	if s.TMax <= s.TMin {
		return fmt.Errorf("scheme %s: tmax %g must exceed tmin %g", s.Label, s.TMax, s.TMin)
	}
	return nil
}

// FileLabel is the label as it appears in epoch file names.
func (s Scheme) FileLabel() string {
	return strings.ReplaceAll(s.Label, "_", "-")
}
