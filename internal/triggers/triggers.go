// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package triggers maps hardware trigger codes to event labels.
package triggers

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/fsutil"
)

// Mapping maps trigger codes to event labels.
type Mapping map[int]string

// Load reads a mapping file: a JSON object whose keys are string-encoded
// integer codes and whose values are labels.
func Load(path string) (Mapping, error) {
	var raw map[string]string
	if err := fsutil.LoadJSON(path, &raw); err != nil {
		return nil, fmt.Errorf("load trigger mapping: %w", err)
	}
	return Parse(raw)
}

// Parse converts decoded JSON keys to codes.
func Parse(raw map[string]string) (Mapping, error) {
	m := make(Mapping, len(raw))
	for key, label := range raw {
		code, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, fmt.Errorf("trigger code %q: %w", key, err)
		}
		if label == "" {
			return nil, fmt.Errorf("trigger code %d has an empty label", code)
		}
		m[code] = label
	}
	return m, nil
}

// Label returns the label of code.
func (m Mapping) Label(code int) (string, bool) {
	label, ok := m[code]
	return label, ok
}

// Codes returns the mapped codes in increasing order.
func (m Mapping) Codes() []int {
	codes := make([]int, 0, len(m))
	for code := range m {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	return codes
}

// Select returns label -> code for every label containing substr.
func (m Mapping) Select(substr string) map[string]int {
	out := map[string]int{}
	for _, code := range m.Codes() {
		if label := m[code]; strings.Contains(label, substr) {
			if _, seen := out[label]; !seen {
				out[label] = code
			}
		}
	}
	return out
}
