// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Kind tells calibration blocks from experimental ones.
type Kind int

const (
	KindExperimental Kind = iota
	KindCalibration
)

func (k Kind) String() string {
	if k == KindCalibration {
		return "calibration"
	}
	return "experimental"
}

// calibrationRun is the acquisition run that records the calibration block.
const calibrationRun = 1

// firstExperimentalRun is the acquisition run of block 000.
const firstExperimentalRun = 2

// Block is one raw acquisition block.
type Block struct {
	Path    string
	Subject string
	Kind    Kind
	// Number is the zero-based experimental block number.
	Number int
}

// ParseBlock derives a block from its directory name,
// <subject>_..._<run>.ds. Run 01 is the calibration block; run r >= 2 is
// experimental block r-2.
func ParseBlock(path string) (Block, error) {
	name := filepath.Base(path)
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	fields := strings.Split(stem, "_")
	if len(fields) < 2 || fields[0] == "" {
		return Block{}, fmt.Errorf("block name %q does not follow <subject>_..._<run>", name)
	}
	run, err := strconv.Atoi(fields[len(fields)-1])
	if err != nil {
		return Block{}, fmt.Errorf("block name %q: run number: %w", name, err)
	}

	b := Block{Path: path, Subject: fields[0]}
	switch {
	case run == calibrationRun:
		b.Kind = KindCalibration
	case run >= firstExperimentalRun:
		b.Kind = KindExperimental
		b.Number = run - firstExperimentalRun
	default:
		return Block{}, fmt.Errorf("block name %q: invalid run number %d", name, run)
	}
	return b, nil
}

// Name is the block's directory name.
func (b Block) Name() string {
	return filepath.Base(b.Path)
}

// ID is "calibration" or the zero-padded block number.
func (b Block) ID() string {
	if b.Kind == KindCalibration {
		return "calibration"
	}
	return fmt.Sprintf("%03d", b.Number)
}

// SubjectDir is the processed-data directory of the block's subject.
func (b Block) SubjectDir(procRoot string) string {
	return filepath.Join(procRoot, "sub-"+b.Subject)
}

// RawName is the file name of the cleaned continuous signal.
func (b Block) RawName() string {
	return fmt.Sprintf("realtime_sub-%s_block-%s_raw.fif", b.Subject, b.ID())
}

// ICAName is the file name of the component decomposition.
func (b Block) ICAName() string {
	return fmt.Sprintf("realtime_sub-%s_block-%s_ica.fif", b.Subject, b.ID())
}

// CalibrationName is the file name of the calibration summary.
func (b Block) CalibrationName() string {
	return fmt.Sprintf("realtime_sub-%s_meg-calibration.json", b.Subject)
}

// RawBlocks lists the raw acquisition blocks below rawRoot: every .ds
// directory whose name contains "realtime", sorted by path.
func RawBlocks(rawRoot string) ([]Block, error) {
	dirs, err := FindDirs(rawRoot, Query{Depth: DepthAll})
	if err != nil {
		return nil, err
	}
	var blocks []Block
	for _, dir := range dirs {
		name := filepath.Base(dir)
		if !strings.Contains(name, "realtime") || filepath.Ext(name) != ".ds" {
			continue
		}
		b, err := ParseBlock(dir)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// Pair links a cleaned continuous signal to its decomposition.
type Pair struct {
	Raw string
	ICA string
}

// Stem is the raw file's base name without its "_raw.fif" ending, e.g.
// "realtime_sub-01_block-000".
func (p Pair) Stem() string {
	return strings.TrimSuffix(filepath.Base(p.Raw), "_raw.fif")
}

// ProcessedPairs lists the experimental raw files below procRoot, each with
// the decomposition sharing its stem. A raw file without a decomposition is
// an error.
func ProcessedPairs(procRoot string) ([]Pair, error) {
	raws, err := FindFiles(procRoot, ".fif", Query{Strings: []string{"realtime", "raw.fif"}, Depth: DepthAll})
	if err != nil {
		return nil, err
	}
	var pairs []Pair
	for _, raw := range raws {
		name := filepath.Base(raw)
		if strings.Contains(name, "calibration") || !strings.HasSuffix(name, "_raw.fif") {
			continue
		}
		p := Pair{Raw: raw}
		p.ICA = filepath.Join(filepath.Dir(raw), p.Stem()+"_ica.fif")
		if _, err := os.Stat(p.ICA); err != nil {
			return nil, fmt.Errorf("decomposition for %s: %w", name, err)
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// EpochsName is the file name of the epochs cut from p:
// <label>_<filter>_<stem>_epo.fif.
func (p Pair) EpochsName(label, filter string) string {
	return strings.Join([]string{label, filter, p.Stem(), "epo.fif"}, "_")
}
