// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package preproc turns raw acquisition blocks into cleaned continuous
// signals and component decompositions, or into calibration summaries.
package preproc

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/catalog"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/config"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/dsp"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/fsutil"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/ica"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/meg"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/triggers"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/zapline"
	"gonum.org/v1/gonum/floats"
)

// Processor runs the raw block stage.
type Processor struct {
	cfg      *config.Raw
	mapping  triggers.Mapping
	procRoot string
	log      *log.Logger
	// out receives the per-segment progress lines.
	out io.Writer
}

// New returns a processor writing below the processed-data root of settings.
func New(settings *config.Settings, mapping triggers.Mapping, logger *log.Logger, out io.Writer) *Processor {
	return &Processor{
		cfg:      &settings.Raw,
		mapping:  mapping,
		procRoot: settings.ProcessedPath(),
		log:      logger,
		out:      out,
	}
}

// Result lists what processing a block produced.
type Result struct {
	Calibration string
	Raw         string
	ICA         string
	Events      int
	// Iterations holds the line-noise components removed per segment.
	Iterations []int
}

// Process handles one block: calibration blocks are summarised, experimental
// blocks are cleaned and decomposed.
func (p *Processor) Process(ctx context.Context, b catalog.Block) (*Result, error) {
	dir, err := fsutil.MakeDir(b.SubjectDir(p.procRoot))
	if err != nil {
		return nil, err
	}
	raw, err := meg.ReadCTF(b.Path)
	if err != nil {
		return nil, err
	}
	p.log.Printf("%s: %d channels, %s samples at %g Hz", b.Name(),
		len(raw.Info.Channels), humanize.Comma(int64(raw.NSamples())), raw.Info.SFreq)

	if b.Kind == catalog.KindCalibration {
		path := filepath.Join(dir, b.CalibrationName())
		if err := p.calibrate(raw, path); err != nil {
			return nil, err
		}
		return &Result{Calibration: path}, nil
	}
	return p.clean(ctx, b, raw, dir)
}

// calibrate stores the median and maximum of each calibration channel.
func (p *Processor) calibrate(raw *meg.Raw, path string) error {
	if err := raw.Pick(p.cfg.CalibrationChannels...); err != nil {
		return fmt.Errorf("calibration channels: %w", err)
	}
	summary := make(map[string][2]float64, len(raw.Data))
	for i, ch := range raw.Info.Channels {
		summary[ch.Name] = [2]float64{dsp.Median(raw.Data[i]), floats.Max(raw.Data[i])}
	}
	if err := fsutil.SaveJSON(path, summary); err != nil {
		return fmt.Errorf("save calibration: %w", err)
	}
	p.log.Printf("calibration saved to %s", path)
	return nil
}

func (p *Processor) clean(ctx context.Context, b catalog.Block, raw *meg.Raw, dir string) (*Result, error) {
	if err := raw.ApplyGradientCompensation(p.cfg.CompGrade); err != nil {
		return nil, err
	}
	if err := raw.Filter(dsp.Band{High: p.cfg.Lowpass}); err != nil {
		return nil, err
	}
	if err := raw.SetChannelKinds(p.cfg.ChannelKinds); err != nil {
		return nil, err
	}
	events, err := raw.FindEvents(p.cfg.StimChannel)
	if err != nil {
		return nil, err
	}
	p.log.Printf("%s: %d trigger events", b.Name(), len(events))

	iters, err := p.removeLineNoise(ctx, b.Name(), raw)
	if err != nil {
		return nil, err
	}

	raw.Annotations = meg.AnnotationsFromEvents(events, raw.Info.SFreq, p.mapping, raw.FirstSamp)
	res := &Result{
		Raw:        filepath.Join(dir, b.RawName()),
		ICA:        filepath.Join(dir, b.ICAName()),
		Events:     len(raw.Annotations),
		Iterations: iters,
	}
	if err := raw.Save(res.Raw, meg.PrecisionSingle); err != nil {
		return nil, fmt.Errorf("save cleaned signal: %w", err)
	}
	p.log.Printf("cleaned signal saved to %s (%d annotations)", res.Raw, res.Events)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	work := raw.Copy()
	if err := work.Filter(p.cfg.ICABand); err != nil {
		return nil, err
	}
	decomp, err := ica.Fit(work, p.cfg.ICA)
	if err != nil {
		return nil, fmt.Errorf("fit decomposition: %w", err)
	}
	if err := decomp.Save(res.ICA); err != nil {
		return nil, fmt.Errorf("save decomposition: %w", err)
	}
	p.log.Printf("decomposition saved to %s (%d components, %d iterations)", res.ICA, decomp.NComponents(), decomp.NIter)
	return res, nil
}

// removeLineNoise cleans the magnetometer rows of raw segment by segment.
// Other channels are not touched.
func (p *Processor) removeLineNoise(ctx context.Context, name string, raw *meg.Raw) ([]int, error) {
	mags := raw.Info.KindIndices(meg.Mag)
	if len(mags) == 0 {
		return nil, fmt.Errorf("line noise removal: no magnetometers: %w", meg.ErrNoChannel)
	}
	bounds, err := Segments(raw.NSamples(), p.cfg.Segments)
	if err != nil {
		return nil, err
	}

	iters := make([]int, len(bounds))
	for i, seg := range bounds {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fmt.Fprintf(p.out, "%s %d/%d\n", name, i+1, len(bounds))
		chunk := make([][]float64, len(mags))
		for j, m := range mags {
			chunk[j] = raw.Data[m][seg.Start:seg.Stop]
		}
		cleaned, n, err := zapline.DSSLineIter(chunk, p.cfg.LineFreq, raw.Info.SFreq, p.cfg.Zapline)
		if err != nil {
			return nil, fmt.Errorf("segment %d/%d: %w", i+1, len(bounds), err)
		}
		for j, m := range mags {
			copy(raw.Data[m][seg.Start:seg.Stop], cleaned[j])
		}
		iters[i] = n
	}
	return iters, nil
}

// Segment is the sample range [Start, Stop).
type Segment struct {
	Start, Stop int
}

// Segments splits n samples into k contiguous segments of n/k samples; the
// last one also takes the remainder.
func Segments(n, k int) ([]Segment, error) {
	if k < 1 || n < k {
		return nil, fmt.Errorf("cannot split %d samples into %d segments", n, k)
	}
	size := n / k
	segs := make([]Segment, k)
	for i := range segs {
		segs[i] = Segment{Start: i * size, Stop: (i + 1) * size}
	}
	segs[k-1].Stop = n
	return segs, nil
}
