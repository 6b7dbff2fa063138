// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package fiff_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/maciekszul/DevComPsy-real-time-confidence/internal/fiff"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagStream(t *testing.T) {
	var buf bytes.Buffer
	fw, err := fiff.NewWriter(&buf)
	require.NoError(t, err)

	require.NoError(t, fw.StartBlock(fiff.BlockMeasInfo))
	require.NoError(t, fw.WriteFloat64(fiff.KindSFreq, 1200))
	require.NoError(t, fw.WriteChInfo(fiff.NewChInfo(0, "MLC11", fiff.ChKindMEG, fiff.UnitTesla)))
	require.NoError(t, fw.EndBlock(fiff.BlockMeasInfo))
	require.NoError(t, fw.WriteMatrix(fiff.KindICAUnmixing, 2, 3, []float64{1, 2, 3, 4, 5, 6}))
	require.NoError(t, fw.WriteFloat32(fiff.KindDataBuffer, []float32{0.5, -1.25}))
	require.NoError(t, fw.WriteString(fiff.KindComment, "dots_onset"))
	require.NoError(t, fw.Flush())

	fr, err := fiff.NewReader(&buf)
	require.NoError(t, err)

	var kinds []fiff.Kind
	for {
		tag, err := fr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		kinds = append(kinds, tag.Kind)

		switch tag.Kind {
		case fiff.KindSFreq:
			assert.True(t, fr.InBlock(fiff.BlockMeasInfo))
			v, err := tag.Float()
			require.NoError(t, err)
			assert.Equal(t, 1200.0, v)
		case fiff.KindChInfo:
			ch, err := tag.ChInfo()
			require.NoError(t, err)
			assert.Equal(t, "MLC11", ch.ChannelName())
			assert.Equal(t, fiff.ChKindMEG, ch.Kind)
		case fiff.KindICAUnmixing:
			assert.False(t, fr.InBlock(fiff.BlockMeasInfo))
			rows, cols, data, err := tag.Matrix()
			require.NoError(t, err)
			assert.Equal(t, 2, rows)
			assert.Equal(t, 3, cols)
			assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, data)
		case fiff.KindDataBuffer:
			v, err := tag.Float32s()
			require.NoError(t, err)
			assert.Equal(t, []float32{0.5, -1.25}, v)
		case fiff.KindComment:
			s, err := tag.String()
			require.NoError(t, err)
			assert.Equal(t, "dots_onset", s)
		}
	}

	assert.Equal(t, []fiff.Kind{
		fiff.KindBlockStart, fiff.KindSFreq, fiff.KindChInfo, fiff.KindBlockEnd,
		fiff.KindICAUnmixing, fiff.KindDataBuffer, fiff.KindComment,
	}, kinds)
}

func TestReaderRejectsForeignFile(t *testing.T) {
	_, err := fiff.NewReader(bytes.NewReader([]byte("0       EDF header")))
	require.ErrorIs(t, err, fiff.ErrNotFIFF)

	_, err = fiff.NewReader(bytes.NewReader(nil))
	require.ErrorIs(t, err, fiff.ErrNotFIFF)
}

func header(kind fiff.Kind, typ fiff.Type, size int32, payload int) []byte {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, [4]int32{int32(kind), int32(typ), size, 0})
	buf.Write(make([]byte, payload))
	return buf.Bytes()
}

func TestReaderChecksFileIDBeforeReadingPayload(t *testing.T) {
	for name, data := range map[string][]byte{
		"huge size":     header(fiff.KindFileID, fiff.TypeInt32, 900<<20, 0),
		"negative size": header(fiff.KindFileID, fiff.TypeInt32, -4, 0),
		"other kind":    header(fiff.KindSFreq, fiff.TypeInt32, 12, 12),
		"other type":    header(fiff.KindFileID, fiff.TypeFloat64, 12, 12),
		"wrong size":    header(fiff.KindFileID, fiff.TypeInt32, 16, 16),
		"short payload": header(fiff.KindFileID, fiff.TypeInt32, 12, 4),
		"short header":  header(fiff.KindFileID, fiff.TypeInt32, 12, 0)[:10],
	} {
		_, err := fiff.NewReader(bytes.NewReader(data))
		assert.ErrorIs(t, err, fiff.ErrNotFIFF, name)
	}

	fr, err := fiff.NewReader(bytes.NewReader(header(fiff.KindFileID, fiff.TypeInt32, 12, 12)))
	require.NoError(t, err)
	_, err = fr.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriterErrorsAreSticky(t *testing.T) {
	var buf bytes.Buffer
	fw, err := fiff.NewWriter(&buf)
	require.NoError(t, err)

	require.Error(t, fw.WriteMatrix(fiff.KindICAMixing, 2, 2, []float64{1}))
	require.Error(t, fw.WriteFloat64(fiff.KindSFreq, 600))
	require.Error(t, fw.Flush())
}

func TestWriterRejectsUnbalancedBlocks(t *testing.T) {
	var buf bytes.Buffer
	fw, err := fiff.NewWriter(&buf)
	require.NoError(t, err)

	require.NoError(t, fw.StartBlock(fiff.BlockICA))
	require.Error(t, fw.Flush())
	require.Error(t, fw.EndBlock(fiff.BlockEpochs))
}

func TestTypeMismatch(t *testing.T) {
	var buf bytes.Buffer
	fw, err := fiff.NewWriter(&buf)
	require.NoError(t, err)
	require.NoError(t, fw.WriteString(fiff.KindComment, "x"))
	require.NoError(t, fw.Flush())

	fr, err := fiff.NewReader(&buf)
	require.NoError(t, err)
	tag, err := fr.Next()
	require.NoError(t, err)
	_, err = tag.Float64s()
	require.Error(t, err)
}
