// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package review summarises a component decomposition against the cleaned
// signal it was fitted on and records which components to exclude.
package review

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/catalog"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/config"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/dsp"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/fsutil"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/ica"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/meg"
	"gonum.org/v1/gonum/stat"
)

// Component describes one decomposition component over the review window.
type Component struct {
	Index    int
	Variance float64 // share of the explained signal variance
	Kurtosis float64 // excess kurtosis of the time course
	EOGCorr  float64 // largest absolute correlation with an EOG channel
	EOG      string  // channel reaching EOGCorr
}

// Report is the summary of a decomposition.
type Report struct {
	Components []Component
	// Suggested lists the components whose EOG correlation exceeds the
	// threshold.
	Suggested []int
}

// Analyze crops a copy of raw to the review window, filters it and computes
// per-component statistics.
func Analyze(raw *meg.Raw, d *ica.ICA, cfg config.Review) (*Report, error) {
	work := raw.Copy()
	if err := work.Crop(cfg.TMin, cfg.TMax); err != nil {
		return nil, err
	}
	if err := work.Filter(cfg.Band); err != nil {
		return nil, err
	}
	sources, err := d.Sources(work)
	if err != nil {
		return nil, err
	}
	variance, err := d.ExplainedVariance(work)
	if err != nil {
		return nil, err
	}
	eog := work.Info.KindIndices(meg.EOG)
	if len(eog) > 0 && !cfg.Band.IsZero() {
		// EOG is not a data kind, so Filter skipped it.
		fir, err := dsp.DesignFIR(cfg.Band, work.Info.SFreq)
		if err != nil {
			return nil, err
		}
		rows := make([][]float64, len(eog))
		for i, e := range eog {
			rows[i] = work.Data[e]
		}
		fir.ApplyAll(rows)
	}

	rep := &Report{Components: make([]Component, d.NComponents())}
	for c := range rep.Components {
		src := sources.RawRowView(c)
		comp := Component{
			Index:    c,
			Variance: variance[c],
			Kurtosis: stat.ExKurtosis(src, nil),
		}
		for _, e := range eog {
			r := math.Abs(stat.Correlation(src, work.Data[e], nil))
			if !math.IsNaN(r) && r > comp.EOGCorr {
				comp.EOGCorr = r
				comp.EOG = work.Info.Channels[e].Name
			}
		}
		if len(eog) > 0 && comp.EOGCorr > cfg.EOGThreshold {
			rep.Suggested = append(rep.Suggested, c)
		}
		rep.Components[c] = comp
	}
	return rep, nil
}

// Session reviews one processed pair.
type Session struct {
	Config config.Review
	In     io.Reader
	Out    io.Writer
	// Exclude, when non-nil, is used instead of prompting.
	Exclude []int
}

// Run loads the pair, prints its report, records the exclusion set in the
// decomposition and saves it in place. It returns the exclusion set.
func (s *Session) Run(p catalog.Pair) ([]int, error) {
	raw, err := meg.LoadRaw(p.Raw)
	if err != nil {
		return nil, err
	}
	d, err := ica.Load(p.ICA)
	if err != nil {
		return nil, err
	}
	rep, err := Analyze(raw, d, s.Config)
	if err != nil {
		return nil, fmt.Errorf("review %s: %w", p.Stem(), err)
	}
	if err := rep.Print(s.Out); err != nil {
		return nil, err
	}

	exclude := s.Exclude
	if exclude == nil {
		if exclude, err = Prompt(s.In, s.Out, rep.Suggested); err != nil {
			return nil, err
		}
	}
	if err := d.SetExclude(exclude); err != nil {
		return nil, err
	}
	if err := d.Save(p.ICA); err != nil {
		return nil, fmt.Errorf("save decomposition: %w", err)
	}
	if err := recordExclusion(p, d.Exclude); err != nil {
		return nil, err
	}
	fmt.Fprintf(s.Out, "%s excluded comps: %v\n", filepath.Base(p.Raw), d.Exclude)
	return d.Exclude, nil
}

// LogName is the per-subject file collecting the exclusion set of every
// reviewed block, keyed by stem.
const LogName = "ica_review.json"

func recordExclusion(p catalog.Pair, exclude []int) error {
	path := filepath.Join(filepath.Dir(p.ICA), LogName)
	entry := map[string]any{p.Stem(): append([]int{}, exclude...)}
	var err error
	if _, statErr := os.Stat(path); errors.Is(statErr, fs.ErrNotExist) {
		err = fsutil.SaveJSON(path, entry)
	} else {
		err = fsutil.UpdateJSON(path, entry)
	}
	if err != nil {
		return fmt.Errorf("record exclusion: %w", err)
	}
	return nil
}

// Print writes the report as a table.
func (r *Report) Print(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COMP\tVAR %\tKURT\tEOG |r|\t")
	for _, c := range r.Components {
		mark := ""
		if c.EOG == "" {
			fmt.Fprintf(tw, "%03d\t%.2f\t%.2f\t-\t\n", c.Index, 100*c.Variance, c.Kurtosis)
			continue
		}
		if r.isSuggested(c.Index) {
			mark = " *"
		}
		fmt.Fprintf(tw, "%03d\t%.2f\t%.2f\t%.2f (%s)%s\t\n", c.Index, 100*c.Variance, c.Kurtosis, c.EOGCorr, c.EOG, mark)
	}
	return tw.Flush()
}

func (r *Report) isSuggested(c int) bool {
	for _, s := range r.Suggested {
		if s == c {
			return true
		}
	}
	return false
}

// ParseExclude parses a comma or space separated list of component indices.
// "none" and the empty string select no components.
func ParseExclude(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return []int{}, nil
	}
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\t' })
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, fmt.Errorf("invalid component index %q", f)
		}
		out = append(out, v)
	}
	return out, nil
}

// Prompt asks for the components to exclude. An empty answer accepts the
// suggestions; the question is repeated until the answer parses.
func Prompt(in io.Reader, out io.Writer, suggested []int) ([]int, error) {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprintf(out, "components to exclude [%s]: ", formatList(suggested))
		if !sc.Scan() {
			if err := sc.Err(); err != nil {
				return nil, err
			}
			return nil, io.ErrUnexpectedEOF
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			return append([]int{}, suggested...), nil
		}
		idx, err := ParseExclude(line)
		if err != nil {
			fmt.Fprintln(out, err)
			continue
		}
		return idx, nil
	}
}

func formatList(idx []int) string {
	parts := make([]string, len(idx))
	for i, v := range idx {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
