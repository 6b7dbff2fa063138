// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Command rawpreproc cleans one raw acquisition block: it summarises
// calibration blocks and turns experimental blocks into a cleaned signal and
// a component decomposition.
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
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/preproc"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/progress"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[rawpreproc] ")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: rawpreproc [-settings path] [-mapping path] <index>\n")
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
	blocks, err := catalog.RawBlocks(settings.RawPath())
	if err != nil {
		log.Fatal(err)
	}
	block, err := catalog.Select(blocks, index)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr := progress.Start(os.Stdout, index, len(blocks))
	res, err := preproc.New(settings, mapping, log.Default(), os.Stdout).Process(ctx, block)
	if err != nil {
		log.Fatalf("%s: %v", block.Name(), err)
	}
	if res.Calibration != "" {
		log.Printf("%s: calibration summary %s", block.Name(), res.Calibration)
	} else {
		log.Printf("%s: line noise components removed per segment %v", block.Name(), res.Iterations)
	}
	tr.End()
}
