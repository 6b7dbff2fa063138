// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package fiff

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// ErrNotFIFF is returned when a stream does not start with a file id tag.
var ErrNotFIFF = errors.New("not a FIFF file")

// maxTagSize bounds a single payload so a corrupt size field cannot trigger
// an enormous allocation.
const maxTagSize = 1 << 30

// Tag is one decoded tag.
type Tag struct {
	Kind Kind
	Type Type
	Data []byte
}

// Reader reads a FIFF tag stream sequentially.
type Reader struct {
	r      *bufio.Reader
	blocks []Block
}

// fileIDSize is the payload size of the file id tag: version, seconds and
// microseconds.
const fileIDSize = 3 * 4

// NewReader validates the file id tag and returns a reader positioned after it.
// Any stream that does not open with one yields ErrNotFIFF.
func NewReader(r io.Reader) (*Reader, error) {
	fr := &Reader{r: bufio.NewReader(r)}
	var hdr [4]int32
	if err := binary.Read(fr.r, binary.BigEndian, &hdr); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNotFIFF
		}
		return nil, err
	}
	if Kind(hdr[0]) != KindFileID || Type(hdr[1]) != TypeInt32 || hdr[2] != fileIDSize {
		return nil, ErrNotFIFF
	}
	if _, err := fr.r.Discard(fileIDSize); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNotFIFF
		}
		return nil, err
	}
	return fr, nil
}

// Next returns the next tag, or io.EOF at the end of the stream. Block start
// and end tags are returned too and update the block stack.
func (fr *Reader) Next() (*Tag, error) {
	var hdr [4]int32
	if err := binary.Read(fr.r, binary.BigEndian, &hdr); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("error reading tag header: %w", err)
		}
		return nil, err
	}
	size := hdr[2]
	if size < 0 || size > maxTagSize {
		return nil, fmt.Errorf("invalid tag size %d for kind %d", size, hdr[0])
	}
	tag := &Tag{Kind: Kind(hdr[0]), Type: Type(hdr[1]), Data: make([]byte, size)}
	if _, err := io.ReadFull(fr.r, tag.Data); err != nil {
		return nil, fmt.Errorf("error reading tag %d: %w", tag.Kind, err)
	}

	switch tag.Kind {
	case KindBlockStart:
		b, err := tag.block()
		if err != nil {
			return nil, err
		}
		fr.blocks = append(fr.blocks, b)
	case KindBlockEnd:
		b, err := tag.block()
		if err != nil {
			return nil, err
		}
		if n := len(fr.blocks); n == 0 || fr.blocks[n-1] != b {
			return nil, fmt.Errorf("unbalanced end of block %d", b)
		}
		fr.blocks = fr.blocks[:len(fr.blocks)-1]
	}
	return tag, nil
}

// InBlock reports whether b is the innermost open block.
func (fr *Reader) InBlock(b Block) bool {
	return len(fr.blocks) > 0 && fr.blocks[len(fr.blocks)-1] == b
}

func (t *Tag) block() (Block, error) {
	v, err := t.Int32s()
	if err != nil || len(v) != 1 {
		return 0, fmt.Errorf("malformed block tag")
	}
	return Block(v[0]), nil
}

func (t *Tag) expect(typ Type, width int) error {
	if t.Type != typ {
		return fmt.Errorf("tag %d: expected type %d, got %d", t.Kind, typ, t.Type)
	}
	if width > 0 && len(t.Data)%width != 0 {
		return fmt.Errorf("tag %d: payload of %d bytes is not a multiple of %d", t.Kind, len(t.Data), width)
	}
	return nil
}

// Int32s decodes an int32 array payload.
func (t *Tag) Int32s() ([]int32, error) {
	if err := t.expect(TypeInt32, 4); err != nil {
		return nil, err
	}
	out := make([]int32, len(t.Data)/4)
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(t.Data[4*i:]))
	}
	return out, nil
}

// Int decodes a single int32 payload.
func (t *Tag) Int() (int, error) {
	v, err := t.Int32s()
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, fmt.Errorf("tag %d: expected one value, got %d", t.Kind, len(v))
	}
	return int(v[0]), nil
}

// Float32s decodes a float32 array payload.
func (t *Tag) Float32s() ([]float32, error) {
	if err := t.expect(TypeFloat32, 4); err != nil {
		return nil, err
	}
	out := make([]float32, len(t.Data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.BigEndian.Uint32(t.Data[4*i:]))
	}
	return out, nil
}

// Float64s decodes a float64 array payload.
func (t *Tag) Float64s() ([]float64, error) {
	if err := t.expect(TypeFloat64, 8); err != nil {
		return nil, err
	}
	out := make([]float64, len(t.Data)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.BigEndian.Uint64(t.Data[8*i:]))
	}
	return out, nil
}

// Float decodes a single float64 payload.
func (t *Tag) Float() (float64, error) {
	v, err := t.Float64s()
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, fmt.Errorf("tag %d: expected one value, got %d", t.Kind, len(v))
	}
	return v[0], nil
}

// String decodes a string payload.
func (t *Tag) String() (string, error) {
	if err := t.expect(TypeString, 0); err != nil {
		return "", err
	}
	return string(t.Data), nil
}

// Matrix decodes a dense float64 matrix payload.
func (t *Tag) Matrix() (rows, cols int, data []float64, err error) {
	if err := t.expect(TypeMatrixFloat64, 0); err != nil {
		return 0, 0, nil, err
	}
	n := len(t.Data)
	if n < 12 {
		return 0, 0, nil, fmt.Errorf("tag %d: matrix payload too short", t.Kind)
	}
	trailer := t.Data[n-12:]
	cols = int(int32(binary.BigEndian.Uint32(trailer[0:])))
	rows = int(int32(binary.BigEndian.Uint32(trailer[4:])))
	if ndim := int32(binary.BigEndian.Uint32(trailer[8:])); ndim != 2 {
		return 0, 0, nil, fmt.Errorf("tag %d: expected 2 dimensions, got %d", t.Kind, ndim)
	}
	if rows < 0 || cols < 0 || rows*cols*8 != n-12 {
		return 0, 0, nil, fmt.Errorf("tag %d: %dx%d matrix does not match payload", t.Kind, rows, cols)
	}
	data = make([]float64, rows*cols)
	if err := binary.Read(bytes.NewReader(t.Data[:n-12]), binary.BigEndian, data); err != nil {
		return 0, 0, nil, err
	}
	return rows, cols, data, nil
}

// ChInfo decodes a channel info record.
func (t *Tag) ChInfo() (ChInfo, error) {
	var ch ChInfo
	if err := t.expect(TypeChInfo, 0); err != nil {
		return ch, err
	}
	if len(t.Data) != chInfoSize {
		return ch, fmt.Errorf("tag %d: channel info of %d bytes", t.Kind, len(t.Data))
	}
	err := binary.Read(bytes.NewReader(t.Data), binary.BigEndian, &ch)
	return ch, err
}
