// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Command icacheck reviews the component decomposition of one cleaned block
// and records the components to exclude.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/catalog"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/config"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/progress"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/review"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[icacheck] ")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: icacheck [-settings path] [-exclude list] <index>\n")
		flag.PrintDefaults()
	}
	settingsPath := flag.String("settings", "", "settings file (default $"+config.SettingsEnv+" or "+config.DefaultSettingsFile+")")
	exclude := flag.String("exclude", "", `components to exclude, e.g. "0,3" or "none"; prompts when not given`)
	flag.Parse()

	index, err := catalog.ParseIndex(flag.Args())
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}
	settings, err := config.Load(config.ResolvePath(*settingsPath, config.SettingsEnv, config.DefaultSettingsFile))
	if err != nil {
		log.Fatal(err)
	}
	pairs, err := catalog.ProcessedPairs(settings.ProcessedPath())
	if err != nil {
		log.Fatal(err)
	}
	pair, err := catalog.Select(pairs, index)
	if err != nil {
		log.Fatal(err)
	}

	session := &review.Session{Config: settings.Review, In: os.Stdin, Out: os.Stdout}
	flag.Visit(func(f *flag.Flag) {
		if f.Name != "exclude" {
			return
		}
		if session.Exclude, err = review.ParseExclude(*exclude); err != nil {
			log.Fatal(err)
		}
	})

	tr := progress.Start(os.Stdout, index, len(pairs))
	if _, err := session.Run(pair); err != nil {
		log.Fatalf("%s: %v", pair.Stem(), err)
	}
	tr.End()
}
