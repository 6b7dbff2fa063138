// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package epoching cuts cleaned recordings into epochs around the
// annotations of an epoching scheme.
package epoching

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/catalog"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/config"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/epochs"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/ica"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/meg"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/triggers"
)

// Extractor runs the epoching stage for one scheme.
type Extractor struct {
	cfg     *config.Epochs
	scheme  epochs.Scheme
	mapping triggers.Mapping
	log     *log.Logger
	out     io.Writer
}

// New returns an extractor for the scheme selected in settings.
func New(settings *config.Settings, mapping triggers.Mapping, logger *log.Logger, out io.Writer) (*Extractor, error) {
	scheme, err := settings.Scheme()
	if err != nil {
		return nil, err
	}
	return &Extractor{
		cfg:     &settings.Epochs,
		scheme:  scheme,
		mapping: mapping,
		log:     logger,
		out:     out,
	}, nil
}

// Result is the outcome of epoching one pair.
type Result struct {
	// Path is where the epochs belong; the file exists only when Saved.
	Path   string
	Epochs *epochs.Epochs
	Saved  bool
}

// Extract loads the pair, removes the excluded components and cuts the
// epochs. The output path is always printed.
func (x *Extractor) Extract(ctx context.Context, p catalog.Pair) (*Result, error) {
	raw, err := meg.LoadRaw(p.Raw)
	if err != nil {
		return nil, err
	}
	if err := raw.Filter(x.cfg.Band); err != nil {
		return nil, err
	}
	decomp, err := ica.Load(p.ICA)
	if err != nil {
		return nil, err
	}
	if err := decomp.Apply(raw); err != nil {
		return nil, fmt.Errorf("remove components %v: %w", decomp.Exclude, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if x.cfg.LimitedChannels {
		if err := raw.Pick(limitedChannels(raw, x.cfg.ExtraChannels)...); err != nil {
			return nil, err
		}
	}

	eventID := x.mapping.Select(x.scheme.Label)
	if len(eventID) == 0 {
		return nil, fmt.Errorf("no trigger label contains %q", x.scheme.Label)
	}
	offsets := make(map[string]int, len(eventID))
	for label := range eventID {
		offsets[label] = x.scheme.Modifier
	}
	events := raw.EventsFromAnnotations(eventID, offsets)

	opts := epochs.Options{TMin: x.scheme.TMin, TMax: x.scheme.TMax, Decim: x.cfg.Decim}
	if x.cfg.Baseline {
		b := epochs.DefaultBaseline
		opts.Baseline = &b
	}
	ep, err := epochs.New(raw, events, eventID, opts)
	if err != nil {
		return nil, err
	}
	x.log.Printf("%s: %d epochs of %s samples, %d dropped", p.Stem(), ep.Len(),
		humanize.Comma(int64(ep.NSamples())), ep.Dropped)

	res := &Result{
		Path:   filepath.Join(filepath.Dir(p.Raw), p.EpochsName(x.scheme.FileLabel(), x.cfg.Band.Descriptor())),
		Epochs: ep,
	}
	fmt.Fprintln(x.out, res.Path)
	if !x.cfg.Persist {
		return res, nil
	}
	if err := ep.Save(res.Path, meg.PrecisionSingle); err != nil {
		return nil, fmt.Errorf("save epochs: %w", err)
	}
	res.Saved = true
	if fi, err := os.Stat(res.Path); err == nil {
		x.log.Printf("epochs saved to %s (%s)", res.Path, humanize.Bytes(uint64(fi.Size())))
	}
	return res, nil
}

// limitedChannels returns the magnetometers and the channels matching extra,
// in recording order.
func limitedChannels(raw *meg.Raw, extra []string) []string {
	var names []string
	for _, ch := range raw.Info.Channels {
		if ch.Kind == meg.Mag || catalog.CheckMany(extra, ch.Name, catalog.CheckAny) {
			names = append(names, ch.Name)
		}
	}
	return names
}
