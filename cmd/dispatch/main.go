// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Command dispatch runs a stage binary once for every index of a range,
// either one after the other or with a number of parallel workers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/dispatch"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/ledger"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/progress"
)

var (
	errNoJobs  = errors.New("no jobs")
	errNoPath  = errors.New("no file path")
	errNoRange = errors.New("no range of files")
)

// parseArgs reads "[workers] <script> <range>".
func parseArgs(args []string) (workers int, script string, total int, err error) {
	workers = 1
	switch len(args) {
	case 2:
	case 3:
		if workers, err = strconv.Atoi(args[0]); err != nil || workers < 1 {
			return 0, "", 0, errNoJobs
		}
		args = args[1:]
	default:
		if len(args) == 0 {
			return 0, "", 0, errNoPath
		}
		return 0, "", 0, errNoRange
	}
	script = args[0]
	if script == "" {
		return 0, "", 0, errNoPath
	}
	if total, err = strconv.Atoi(args[1]); err != nil || total < 0 {
		return 0, "", 0, errNoRange
	}
	return workers, script, total, nil
}

// countFailures wraps r so that every invocation returning an error,
// ledger errors included, is added to n.
func countFailures(r dispatch.Runner, n *atomic.Int64) dispatch.Runner {
	return dispatch.RunnerFunc(func(ctx context.Context, index int) error {
		err := r.Run(ctx, index)
		if err != nil {
			n.Add(1)
		}
		return err
	})
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmsgprefix)
	log.SetPrefix("[dispatch] ")
	start := time.Now()

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: dispatch [-ledger path] [workers] <script> <range>\n")
		flag.PrintDefaults()
	}
	ledgerPath := flag.String("ledger", "", "SQLite file recording every invocation")
	flag.Parse()

	workers, script, total, err := parseArgs(flag.Args())
	if err != nil {
		flag.Usage()
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var failed atomic.Int64
	var runner dispatch.Runner = &dispatch.CommandRunner{Script: script, Stdout: os.Stdout, Stderr: os.Stderr}

	var batch *ledger.Batch
	var runs *ledger.Ledger
	if *ledgerPath != "" {
		if runs, err = ledger.Open(*ledgerPath); err != nil {
			log.Fatal(err)
		}
		defer runs.Close()
		if batch, err = runs.StartBatch(ctx, script, total, workers); err != nil {
			log.Fatal(err)
		}
		log.Printf("batch %s", batch.ID)
	}

	if runs != nil {
		runner = runs.Track(batch, runner)
	}
	err = dispatch.Run(ctx, countFailures(runner, &failed), total, workers)

	if runs != nil {
		if ferr := runs.FinishBatch(context.WithoutCancel(ctx), batch.ID, int(failed.Load())); ferr != nil {
			log.Print(ferr)
		}
	}
	log.Printf("%d of %d invocations failed in %s min", failed.Load(), total, progress.Minutes(time.Since(start)))
	if err != nil {
		log.Print(err)
		if runs != nil {
			runs.Close()
		}
		os.Exit(1)
	}
}
