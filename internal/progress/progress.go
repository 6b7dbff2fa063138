// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package progress prints the per-file start and end lines of a stage run.
package progress

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"time"
)

// Tracker reports one stage invocation.
type Tracker struct {
	w            io.Writer
	index, total int
	started      time.Time
	now          func() time.Time
}

// Start prints "START File:<i>/<total>" for the zero-based index and starts
// the clock.
func Start(w io.Writer, index, total int) *Tracker {
	return start(w, index, total, time.Now)
}

func start(w io.Writer, index, total int, now func() time.Time) *Tracker {
	t := &Tracker{w: w, index: index, total: total, started: now(), now: now}
	fmt.Fprintf(w, "START %s\n", t.file())
	return t
}

// End prints the end line with the elapsed minutes rounded to two places.
func (t *Tracker) End() {
	fmt.Fprintf(t.w, "END %s Time elapsed: %s min\n", t.file(), Minutes(t.now().Sub(t.started)))
}

func (t *Tracker) file() string {
	return fmt.Sprintf("File:%03d/%d", t.index+1, t.total)
}

// Minutes renders d in minutes rounded to two decimals, always with at least
// one decimal place.
func Minutes(d time.Duration) string {
	m := math.Round(d.Minutes()*100) / 100
	s := strconv.FormatFloat(m, 'f', -1, 64)
	if m == math.Trunc(m) {
		s += ".0"
	}
	return s
}
