// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package dispatch runs a stage once per catalog index, sequentially or with
// a bounded number of concurrent workers.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
)

// Runner handles one catalog index.
type Runner interface {
	Run(ctx context.Context, index int) error
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, index int) error

func (f RunnerFunc) Run(ctx context.Context, index int) error {
	return f(ctx, index)
}

// Run invokes r for the indices 0..total-1 with at most workers invocations
// in flight; workers <= 1 runs them in order. A failed invocation does not
// stop the others. The returned error joins every failure. Once ctx is done
// no further indices are started.
func Run(ctx context.Context, r Runner, total, workers int) error {
	if total < 0 {
		return fmt.Errorf("negative index range %d", total)
	}
	workers = max(1, min(workers, total))

	errs := make([]error, total)
	indices := make(chan int)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indices {
				if err := r.Run(ctx, i); err != nil {
					errs[i] = fmt.Errorf("index %d: %w", i, err)
				}
			}
		}()
	}

	var cancelled error
feed:
	for i := range total {
		select {
		case indices <- i:
		case <-ctx.Done():
			cancelled = fmt.Errorf("stopped before index %d: %w", i, ctx.Err())
			break feed
		}
	}
	close(indices)
	wg.Wait()

	return errors.Join(append(errs, cancelled)...)
}

// CommandRunner runs "<Script> <Args...> <index>" as a subprocess.
type CommandRunner struct {
	Script string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

func (c *CommandRunner) Run(ctx context.Context, index int) error {
	args := append(append([]string(nil), c.Args...), strconv.Itoa(index))
	cmd := exec.CommandContext(ctx, c.Script, args...)
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %d: %w", c.Script, index, err)
	}
	return nil
}

// ExitCode returns the exit status carried by err: 0 for nil, the process
// status for a finished subprocess and -1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
