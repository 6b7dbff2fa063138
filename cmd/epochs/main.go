// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Command epochs cuts one cleaned block into epochs with the configured
// scheme.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/catalog"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/config"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/epoching"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/progress"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[epochs] ")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: epochs [-settings path] [-mapping path] <index>\n")
		flag.PrintDefaults()
	}
	settingsPath := flag.String("settings", "", "settings file (default $"+config.SettingsEnv+" or "+config.DefaultSettingsFile+")")
	mappingPath := flag.String("mapping", "", "trigger mapping file (default $"+config.MappingEnv+" or "+config.DefaultMappingFile+")")
	flag.Parse()

	index, err := catalog.ParseIndex(flag.Args())
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}
	settings, mapping, err := config.LoadFiles(*settingsPath, *mappingPath)
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
	x, err := epoching.New(settings, mapping, log.Default(), os.Stdout)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr := progress.Start(os.Stdout, index, len(pairs))
	if _, err := x.Extract(ctx, pair); err != nil {
		log.Fatalf("%s: %v", pair.Stem(), err)
	}
	tr.End()
}
