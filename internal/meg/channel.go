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
	"strings"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/fiff"
)

// ChannelKind is the role of a channel. Roles can be reassigned during
// processing, see Raw.SetChannelKinds.
type ChannelKind int

const (
	Misc ChannelKind = iota
	Mag
	RefMag
	EEG
	EOG
	Stim
)

var kindNames = map[ChannelKind]string{
	Misc:   "misc",
	Mag:    "mag",
	RefMag: "ref_meg",
	EEG:    "eeg",
	EOG:    "eog",
	Stim:   "stim",
}

func (k ChannelKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ChannelKind(%d)", int(k))
}

// ParseChannelKind parses the lower-case kind names used in configuration.
func ParseChannelKind(s string) (ChannelKind, error) {
	for k, name := range kindNames {
		if name == strings.ToLower(strings.TrimSpace(s)) {
			return k, nil
		}
	}
	return Misc, fmt.Errorf("unknown channel kind %q", s)
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *ChannelKind) UnmarshalText(text []byte) error {
	v, err := ParseChannelKind(string(text))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (k ChannelKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// IsData reports whether band filters apply to the kind.
func (k ChannelKind) IsData() bool {
	return k == Mag || k == RefMag || k == EEG
}

// Channel is one named data stream.
type Channel struct {
	Name string
	Kind ChannelKind
}

// InferKind assigns the acquisition role from CTF channel naming: M* sensors,
// B/G/P/Q/R* reference channels, EEG*, UDIO*/UPPT* trigger lines. Anything
// else, including the UADC* analog inputs, is misc.
func InferKind(name string) ChannelKind {
	switch {
	case strings.HasPrefix(name, "EEG"):
		return EEG
	case strings.HasPrefix(name, "UDIO"), strings.HasPrefix(name, "UPPT"), name == "STIM":
		return Stim
	case len(name) >= 3 && name[0] == 'M' && name[1] != 'I':
		return Mag
	case isReferenceName(name):
		return RefMag
	}
	return Misc
}

func isReferenceName(name string) bool {
	if len(name) < 2 || !strings.ContainsRune("BGPQR", rune(name[0])) {
		return false
	}
	for _, r := range name[1:] {
		if !strings.ContainsRune("0123456789GPR", r) {
			return false
		}
	}
	return true
}

// CleanName strips the system serial suffix CTF appends to channel labels
// ("MLC11-4408" becomes "MLC11").
func CleanName(name string) string {
	name = strings.TrimSpace(name)
	if i := strings.IndexByte(name, '-'); i > 0 {
		return name[:i]
	}
	return name
}

func (k ChannelKind) fiffKind() int32 {
	switch k {
	case Mag:
		return fiff.ChKindMEG
	case RefMag:
		return fiff.ChKindRefMEG
	case EEG:
		return fiff.ChKindEEG
	case EOG:
		return fiff.ChKindEOG
	case Stim:
		return fiff.ChKindStim
	}
	return fiff.ChKindMisc
}

func (k ChannelKind) fiffUnit() int32 {
	switch k {
	case Mag, RefMag:
		return fiff.UnitTesla
	case Stim:
		return fiff.UnitNone
	}
	return fiff.UnitVolt
}

func kindFromFiff(kind int32) ChannelKind {
	switch kind {
	case fiff.ChKindMEG:
		return Mag
	case fiff.ChKindRefMEG:
		return RefMag
	case fiff.ChKindEEG:
		return EEG
	case fiff.ChKindEOG:
		return EOG
	case fiff.ChKindStim:
		return Stim
	}
	return Misc
}
