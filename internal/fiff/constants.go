// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

// Package fiff implements the tagged container used for processed files:
// continuous signals, component decompositions and epochs.
//
// Files follow the FIFF tag layout (a big-endian kind, type, size and next
// pointer followed by the payload) but only the tags listed here are
// understood.
package fiff

// Kind identifies what a tag holds.
type Kind int32

// Type identifies how a tag payload is encoded.
type Type int32

// Block identifies a nested block opened by KindBlockStart.
type Block int32

const (
	TypeVoid    Type = 0
	TypeInt32   Type = 3
	TypeFloat32 Type = 4
	TypeFloat64 Type = 5
	TypeString  Type = 10
	TypeChInfo  Type = 30
	// TypeMatrixFloat64 is a dense row-major float64 matrix followed by its
	// dimensions in reverse order and the dimension count.
	TypeMatrixFloat64 Type = 0x40000000 | TypeFloat64
)

const (
	KindFileID     Kind = 100
	KindBlockStart Kind = 104
	KindBlockEnd   Kind = 105

	KindNChan       Kind = 200
	KindSFreq       Kind = 201
	KindChInfo      Kind = 203
	KindMeasDate    Kind = 204
	KindComment     Kind = 206
	KindFirstSample Kind = 208
	KindLastSample  Kind = 209
	KindLowpass     Kind = 219
	KindHighpass    Kind = 223
	KindCompGrade   Kind = 235

	KindDataBuffer Kind = 300
	KindEpoch      Kind = 302
	KindDims       Kind = 303

	KindEventList   Kind = 3507
	KindEventID     Kind = 3508
	KindTMin        Kind = 3509
	KindDecim       Kind = 3510
	KindDropCount   Kind = 3511
	KindBaselineMin Kind = 3512
	KindBaselineMax Kind = 3513

	KindICAParams       Kind = 3601
	KindICAWhitener     Kind = 3602
	KindICAPCAComps     Kind = 3603
	KindICAPCAVariance  Kind = 3604
	KindICAPCAMean      Kind = 3605
	KindICAUnmixing     Kind = 3606
	KindICAExclude      Kind = 3607
	KindICAMixing       Kind = 3608
	KindICAChannelNames Kind = 3610

	KindAnnotOnset       Kind = 3801
	KindAnnotDuration    Kind = 3802
	KindAnnotDescription Kind = 3803
)

const (
	BlockMeas        Block = 100
	BlockMeasInfo    Block = 101
	BlockRawData     Block = 102
	BlockEpochs      Block = 373
	BlockICA         Block = 3600
	BlockAnnotations Block = 3800
)

// Channel kinds stored in ChInfo.Kind.
const (
	ChKindMEG    int32 = 1
	ChKindEEG    int32 = 2
	ChKindStim   int32 = 3
	ChKindEOG    int32 = 202
	ChKindRefMEG int32 = 301
	ChKindMisc   int32 = 502
)

// Units stored in ChInfo.Unit.
const (
	UnitNone  int32 = -1
	UnitVolt  int32 = 107
	UnitTesla int32 = 112
)

// fileVersion is written as the first word of the file id tag.
const fileVersion int32 = 0x00010003
