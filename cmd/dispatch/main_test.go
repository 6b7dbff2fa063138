// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package main

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/dispatch"
	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	workers, script, total, err := parseArgs([]string{"./bin/epochs", "12"})
	require.NoError(t, err)
	assert.Equal(t, 1, workers)
	assert.Equal(t, "./bin/epochs", script)
	assert.Equal(t, 12, total)

	workers, script, total, err = parseArgs([]string{"4", "./bin/rawpreproc", "30"})
	require.NoError(t, err)
	assert.Equal(t, 4, workers)
	assert.Equal(t, "./bin/rawpreproc", script)
	assert.Equal(t, 30, total)

	for _, tc := range []struct {
		args []string
		want error
	}{
		{nil, errNoPath},
		{[]string{"./bin/epochs"}, errNoRange},
		{[]string{"./bin/epochs", "all"}, errNoRange},
		{[]string{"x", "./bin/epochs", "3"}, errNoJobs},
		{[]string{"0", "./bin/epochs", "3"}, errNoJobs},
		{[]string{"2", "./bin/epochs", "-1"}, errNoRange},
	} {
		_, _, _, err := parseArgs(tc.args)
		assert.ErrorIs(t, err, tc.want, "%v", tc.args)
	}
}

func TestCountFailures(t *testing.T) {
	ctx := context.Background()

	var failed atomic.Int64
	r := dispatch.RunnerFunc(func(_ context.Context, index int) error {
		if index%2 == 1 {
			return errors.New("bad block")
		}
		return nil
	})
	require.Error(t, dispatch.Run(ctx, countFailures(r, &failed), 5, 2))
	assert.EqualValues(t, 2, failed.Load())
}

func TestCountFailuresIncludesLedgerErrors(t *testing.T) {
	ctx := context.Background()
	runs, err := ledger.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	batch, err := runs.StartBatch(ctx, "./bin/epochs", 3, 1)
	require.NoError(t, err)
	require.NoError(t, runs.Close())

	var called atomic.Int64
	ok := dispatch.RunnerFunc(func(context.Context, int) error {
		called.Add(1)
		return nil
	})

	var failed atomic.Int64
	err = dispatch.Run(ctx, countFailures(runs.Track(batch, ok), &failed), 3, 1)
	require.Error(t, err)
	assert.EqualValues(t, 3, failed.Load())
	assert.Zero(t, called.Load(), "stage must not run when its start cannot be recorded")
}
