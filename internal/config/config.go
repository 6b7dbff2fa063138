// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package config loads the pipeline settings. Settings files are YAML; the
// JSON settings files of existing datasets are valid YAML and load as is.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/dsp"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/epochs"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/ica"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/meg"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/triggers"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/zapline"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted when no path flag is given.
const (
	SettingsEnv = "MEGPREP_SETTINGS"
	MappingEnv  = "MEGPREP_TRIGGER_MAPPING"
)

// Default file names, relative to the working directory.
const (
	DefaultSettingsFile = "settings.json"
	DefaultMappingFile  = "trigger_mapping.json"
)

// Raw configures the raw block processor.
type Raw struct {
	CompGrade    int                        `yaml:"comp_grade"`
	Lowpass      float64                    `yaml:"lowpass"`
	ChannelKinds map[string]meg.ChannelKind `yaml:"channel_kinds"`
	StimChannel  string                     `yaml:"stim_channel"`
	// Segments is the number of chunks line-noise removal runs on.
	Segments int                 `yaml:"segments"`
	LineFreq float64             `yaml:"line_freq"`
	Zapline  zapline.IterOptions `yaml:"zapline"`
	ICABand  dsp.Band            `yaml:"ica_band"`
	ICA      ica.Options         `yaml:"ica"`

	CalibrationChannels []string `yaml:"calibration_channels"`
}

// Review configures the component review tool.
type Review struct {
	TMin float64  `yaml:"tmin"`
	TMax float64  `yaml:"tmax"`
	Band dsp.Band `yaml:"band"`
	// EOGThreshold is the absolute correlation with an EOG channel above
	// which a component is suggested for exclusion.
	EOGThreshold float64 `yaml:"eog_threshold"`
}

// Epochs configures the epoch extractor.
type Epochs struct {
	Scheme  string                   `yaml:"scheme"`
	Schemes map[string]epochs.Scheme `yaml:"schemes"`
	Band    dsp.Band                 `yaml:"band"`
	Decim   int                      `yaml:"decim"`
	// LimitedChannels keeps only magnetometers plus ExtraChannels.
	LimitedChannels bool     `yaml:"limited_channels"`
	ExtraChannels   []string `yaml:"extra_channels"`
	Baseline        bool     `yaml:"baseline"`
	// Persist writes the epochs file; otherwise only its path is reported.
	Persist bool `yaml:"persist"`
}

// Settings is the loaded configuration. It is read once at start-up and
// not modified afterwards.
type Settings struct {
	DatasetPath string `yaml:"dataset_path"`
	Raw         Raw    `yaml:"raw"`
	Review      Review `yaml:"review"`
	Epochs      Epochs `yaml:"epochs"`
}

// Default returns settings with every optional field set.
func Default() *Settings {
	schemes := make(map[string]epochs.Scheme, len(epochs.Schemes))
	for name, s := range epochs.Schemes {
		schemes[name] = s
	}
	return &Settings{
		Raw: Raw{
			CompGrade: 3,
			Lowpass:   125,
			ChannelKinds: map[string]meg.ChannelKind{
				"EEG057":  meg.EOG,
				"EEG058":  meg.EOG,
				"UDIO001": meg.Stim,
			},
			StimChannel:         "UDIO001",
			Segments:            10,
			LineFreq:            50,
			Zapline:             zapline.DefaultIterOptions,
			ICABand:             dsp.Band{Low: 1, High: 40},
			ICA:                 ica.DefaultOptions,
			CalibrationChannels: []string{"UADC009", "UADC010"},
		},
		Review: Review{
			TMin:         100,
			TMax:         200,
			Band:         dsp.Band{Low: 1, High: 30},
			EOGThreshold: 0.5,
		},
		Epochs: Epochs{
			Scheme:          "whole_trial",
			Schemes:         schemes,
			Decim:           2,
			LimitedChannels: true,
			ExtraChannels:   []string{"UADC009", "UADC010"},
			Baseline:        true,
		},
	}
}

// Load reads the settings file at path over the defaults and validates it.
func Load(path string) (*Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open settings: %w", err)
	}
	defer f.Close()

	s := Default()
	if err := yaml.NewDecoder(f).Decode(s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", filepath.Base(path), err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("settings %s: %w", filepath.Base(path), err)
	}
	return s, nil
}

// Validate checks the settings for values no stage can work with.
func (s *Settings) Validate() error {
	var errs []error
	if s.DatasetPath == "" {
		errs = append(errs, errors.New("dataset_path is required"))
	}
	if s.Raw.CompGrade < 0 || s.Raw.CompGrade > meg.MaxCompGrade {
		errs = append(errs, fmt.Errorf("raw.comp_grade %d outside [0, %d]", s.Raw.CompGrade, meg.MaxCompGrade))
	}
	if s.Raw.Lowpass < 0 {
		errs = append(errs, fmt.Errorf("raw.lowpass %g is negative", s.Raw.Lowpass))
	}
	if s.Raw.StimChannel == "" {
		errs = append(errs, errors.New("raw.stim_channel is required"))
	}
	if s.Raw.Segments < 1 {
		errs = append(errs, fmt.Errorf("raw.segments must be positive, got %d", s.Raw.Segments))
	}
	if s.Raw.LineFreq <= 0 {
		errs = append(errs, fmt.Errorf("raw.line_freq must be positive, got %g", s.Raw.LineFreq))
	}
	if err := s.Raw.Zapline.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("raw.zapline: %w", err))
	}
	if s.Raw.ICA.NComponents < 1 {
		errs = append(errs, fmt.Errorf("raw.ica.n_components must be positive, got %d", s.Raw.ICA.NComponents))
	}
	if len(s.Raw.CalibrationChannels) == 0 {
		errs = append(errs, errors.New("raw.calibration_channels is empty"))
	}
	for name, b := range map[string]dsp.Band{"raw.ica_band": s.Raw.ICABand, "review.band": s.Review.Band, "epochs.band": s.Epochs.Band} {
		if err := b.Validate(0); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if s.Review.TMax <= s.Review.TMin {
		errs = append(errs, fmt.Errorf("review window [%g, %g] is empty", s.Review.TMin, s.Review.TMax))
	}
	if _, err := s.Scheme(); err != nil {
		errs = append(errs, err)
	}
	for name, sc := range s.Epochs.Schemes {
		if err := sc.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("epochs.schemes.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Scheme returns the configured epoching scheme.
func (s *Settings) Scheme() (epochs.Scheme, error) {
	sc, ok := s.Epochs.Schemes[s.Epochs.Scheme]
	if !ok {
		return epochs.Scheme{}, fmt.Errorf("epochs.scheme %q is not defined", s.Epochs.Scheme)
	}
	return sc, nil
}

// RawPath is the root of the raw acquisition blocks.
func (s *Settings) RawPath() string {
	return filepath.Join(s.DatasetPath, "MEG", "raw")
}

// ProcessedPath is the root of the processed files.
func (s *Settings) ProcessedPath() string {
	return filepath.Join(s.DatasetPath, "MEG", "processed")
}

// BehaviourPath is the root of the behavioural data.
func (s *Settings) BehaviourPath() string {
	return filepath.Join(s.DatasetPath, "BEH")
}

// ResolvePath picks a configuration file: the flag value when set, then the
// environment variable, then the fallback.
func ResolvePath(flagValue, env, fallback string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return fallback
}

// LoadFiles resolves and loads the settings and the trigger mapping. Empty
// arguments fall back to the environment and then the default file names.
func LoadFiles(settingsPath, mappingPath string) (*Settings, triggers.Mapping, error) {
	s, err := Load(ResolvePath(settingsPath, SettingsEnv, DefaultSettingsFile))
	if err != nil {
		return nil, nil, err
	}
	m, err := triggers.Load(ResolvePath(mappingPath, MappingEnv, DefaultMappingFile))
	if err != nil {
		return nil, nil, err
	}
	return s, m, nil
}
