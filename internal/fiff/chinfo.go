// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package fiff

import "bytes"

const chInfoSize = 96

// ChInfo is the fixed-size FIFF channel description record.
type ChInfo struct {
	ScanNo   int32
	LogNo    int32
	Kind     int32
	Range    float32
	Cal      float32
	CoilType int32
	Loc      [12]float32
	Unit     int32
	UnitMul  int32
	Name     [16]byte
}

// NewChInfo returns a channel record with unit calibration. Names longer than
// 15 bytes are truncated.
func NewChInfo(index int, name string, kind, unit int32) ChInfo {
	ch := ChInfo{
		ScanNo: int32(index + 1),
		LogNo:  int32(index + 1),
		Kind:   kind,
		Range:  1,
		Cal:    1,
		Unit:   unit,
	}
	copy(ch.Name[:15], name)
	return ch
}

// ChannelName returns the NUL-terminated channel name.
func (ch ChInfo) ChannelName() string {
	if i := bytes.IndexByte(ch.Name[:], 0); i >= 0 {
		return string(ch.Name[:i])
	}
	return string(ch.Name[:])
}
