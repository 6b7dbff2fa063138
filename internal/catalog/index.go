// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package catalog

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrNoIndex is returned when a stage is started without a usable file
	// index.
	ErrNoIndex = errors.New("no file index")
	// ErrIndexRange is returned when the index is outside the catalog.
	ErrIndexRange = errors.New("file index out of range")
)

// ParseIndex parses the catalog index from a stage's positional arguments.
func ParseIndex(args []string) (int, error) {
	if len(args) == 0 {
		return 0, ErrNoIndex
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrNoIndex, args[0])
	}
	return index, nil
}

// Select returns items[index].
func Select[T any](items []T, index int) (T, error) {
	if index < 0 || index >= len(items) {
		var zero T
		return zero, fmt.Errorf("%w: %d not in [0, %d)", ErrIndexRange, index, len(items))
	}
	return items[index], nil
}
