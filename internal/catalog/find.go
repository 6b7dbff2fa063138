// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package catalog discovers recording blocks and processed files and names
// the files each stage produces.
package catalog

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Depth controls how far a search descends.
type Depth int

const (
	// DepthAll searches the whole tree below the root.
	DepthAll Depth = iota
	// DepthOne searches the root's direct entries only.
	DepthOne
)

// Check controls how Query.Strings are matched.
type Check int

const (
	// CheckAll requires every string to be present.
	CheckAll Check = iota
	// CheckAny requires at least one string to be present.
	CheckAny
)

// Query filters search results.
type Query struct {
	Strings []string
	Check   Check
	// Prefix, when set, must start the entry's base name.
	Prefix string
	Depth  Depth
}

// CheckMany reports whether target contains all (CheckAll) or any
// (CheckAny) of substrings.
func CheckMany(substrings []string, target string, mode Check) bool {
	for _, s := range substrings {
		found := strings.Contains(target, s)
		if mode == CheckAny && found {
			return true
		}
		if mode == CheckAll && !found {
			return false
		}
	}
	return mode == CheckAll
}

// walk calls visit for every entry below root allowed by depth, root
// excluded.
func walk(root string, depth Depth, visit func(path string, d fs.DirEntry)) error {
	if depth == DepthOne {
		entries, err := os.ReadDir(root)
		if err != nil {
			return err
		}
		for _, d := range entries {
			visit(filepath.Join(root, d.Name()), d)
		}
		return nil
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path != root {
			visit(path, d)
		}
		return nil
	})
}

// FindDirs returns the directories below root whose full path matches q,
// sorted by path.
func FindDirs(root string, q Query) ([]string, error) {
	var dirs []string
	err := walk(root, q.Depth, func(path string, d fs.DirEntry) {
		if d.IsDir() && matches(q, path, d.Name()) {
			dirs = append(dirs, path)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(dirs)
	return dirs, nil
}

// FindFiles returns the regular files below root with the given extension
// (".fif") whose base name matches q, sorted by base name.
func FindFiles(root, ext string, q Query) ([]string, error) {
	var files []string
	err := walk(root, q.Depth, func(path string, d fs.DirEntry) {
		if d.Type().IsRegular() && filepath.Ext(d.Name()) == ext && matches(q, d.Name(), d.Name()) {
			files = append(files, path)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(files, func(i, j int) bool {
		return filepath.Base(files[i]) < filepath.Base(files[j])
	})
	return files, nil
}

func matches(q Query, target, name string) bool {
	if q.Prefix != "" && !strings.HasPrefix(name, q.Prefix) {
		return false
	}
	return CheckMany(q.Strings, target, q.Check)
}
