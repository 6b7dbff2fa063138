// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package meg

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// MaxCompGrade is the highest supported gradient compensation order.
const MaxCompGrade = 3

// referencePrefixes lists, per grade, the reference channel name prefixes
// that grade adds.
var referencePrefixes = [MaxCompGrade + 1]string{
	1: "B",
	2: "G",
	3: "PQR",
}

func referenceGrade(name string) int {
	if name == "" {
		return 0
	}
	for grade := 1; grade <= MaxCompGrade; grade++ {
		if strings.ContainsRune(referencePrefixes[grade], rune(name[0])) {
			return grade
		}
	}
	return 0
}

// ApplyGradientCompensation regresses the reference channels of the given
// grade and below out of every magnetometer. Coefficients are least-squares
// fits over the whole recording.
func (r *Raw) ApplyGradientCompensation(grade int) error {
	switch {
	case grade < 0 || grade > MaxCompGrade:
		return fmt.Errorf("invalid compensation grade %d", grade)
	case grade == r.Info.CompGrade || grade == 0:
		return nil
	case grade < r.Info.CompGrade:
		return fmt.Errorf("cannot lower compensation grade from %d to %d", r.Info.CompGrade, grade)
	}

	var refs []int
	for i, ch := range r.Info.Channels {
		if ch.Kind == RefMag {
			if g := referenceGrade(ch.Name); g > 0 && g <= grade {
				refs = append(refs, i)
			}
		}
	}
	if len(refs) == 0 {
		return fmt.Errorf("grade %d compensation: %w", grade, ErrNoChannel)
	}

	n := r.NSamples()
	ref := mat.NewDense(len(refs), n, nil)
	for i, j := range refs {
		ref.SetRow(i, r.Data[j])
	}

	var gram mat.SymDense
	gram.SymOuterK(1, ref)
	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return fmt.Errorf("grade %d compensation: reference channels are linearly dependent", grade)
	}

	rhs := mat.NewVecDense(len(refs), nil)
	var coef, fit mat.VecDense
	for _, i := range r.Info.KindIndices(Mag) {
		y := mat.NewVecDense(n, r.Data[i])
		rhs.MulVec(ref, y)
		if err := chol.SolveVecTo(&coef, rhs); err != nil {
			return fmt.Errorf("grade %d compensation of %s: %w", grade, r.Info.Channels[i].Name, err)
		}
		fit.MulVec(ref.T(), &coef)
		y.SubVec(y, &fit)
	}

	r.Info.CompGrade = grade
	return nil
}
