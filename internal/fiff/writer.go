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
	"fmt"
	"io"
	"math"
	"time"
)

// Writer writes a FIFF tag stream. Like bufio.Writer, the first error is
// sticky: later writes are no-ops and Flush reports it.
type Writer struct {
	w      *bufio.Writer
	blocks []Block
	err    error
}

// NewWriter writes the file id tag and returns a writer positioned after it.
func NewWriter(w io.Writer) (*Writer, error) {
	fw := &Writer{w: bufio.NewWriter(w)}
	now := time.Now()
	if err := fw.WriteInt32(KindFileID, fileVersion, int32(now.Unix()), int32(now.Nanosecond()/1000)); err != nil {
		return nil, fmt.Errorf("error writing file id: %w", err)
	}
	return fw, nil
}

// Flush writes any buffered data and reports the first error encountered.
func (fw *Writer) Flush() error {
	if fw.err != nil {
		return fw.err
	}
	if len(fw.blocks) > 0 {
		return fmt.Errorf("unterminated block %d", fw.blocks[len(fw.blocks)-1])
	}
	return fw.w.Flush()
}

// StartBlock opens a nested block.
func (fw *Writer) StartBlock(b Block) error {
	fw.blocks = append(fw.blocks, b)
	return fw.WriteInt32(KindBlockStart, int32(b))
}

// EndBlock closes the innermost block, which must be b.
func (fw *Writer) EndBlock(b Block) error {
	if n := len(fw.blocks); n == 0 || fw.blocks[n-1] != b {
		fw.fail(fmt.Errorf("block %d is not open", b))
		return fw.err
	}
	fw.blocks = fw.blocks[:len(fw.blocks)-1]
	return fw.WriteInt32(KindBlockEnd, int32(b))
}

// WriteInt32 writes an int32 array tag.
func (fw *Writer) WriteInt32(kind Kind, values ...int32) error {
	return fw.writeTag(kind, TypeInt32, values, 4*len(values))
}

// WriteFloat32 writes a float32 array tag.
func (fw *Writer) WriteFloat32(kind Kind, values []float32) error {
	return fw.writeTag(kind, TypeFloat32, values, 4*len(values))
}

// WriteFloat64 writes a float64 array tag.
func (fw *Writer) WriteFloat64(kind Kind, values ...float64) error {
	return fw.writeTag(kind, TypeFloat64, values, 8*len(values))
}

// WriteString writes a string tag.
func (fw *Writer) WriteString(kind Kind, s string) error {
	return fw.writeTag(kind, TypeString, []byte(s), len(s))
}

// WriteMatrix writes a dense row-major float64 matrix.
func (fw *Writer) WriteMatrix(kind Kind, rows, cols int, data []float64) error {
	if len(data) != rows*cols {
		fw.fail(fmt.Errorf("matrix %dx%d has %d elements", rows, cols, len(data)))
		return fw.err
	}
	var buf bytes.Buffer
	buf.Grow(8*len(data) + 12)
	_ = binary.Write(&buf, binary.BigEndian, data)
	_ = binary.Write(&buf, binary.BigEndian, []int32{int32(cols), int32(rows), 2})
	return fw.writeTag(kind, TypeMatrixFloat64, buf.Bytes(), buf.Len())
}

// WriteChInfo writes a channel info record.
func (fw *Writer) WriteChInfo(ch ChInfo) error {
	return fw.writeTag(KindChInfo, TypeChInfo, &ch, chInfoSize)
}

func (fw *Writer) writeTag(kind Kind, typ Type, payload any, size int) error {
	if fw.err != nil {
		return fw.err
	}
	if size > math.MaxInt32 {
		fw.fail(fmt.Errorf("tag %d too large: %d bytes", kind, size))
		return fw.err
	}
	hdr := [4]int32{int32(kind), int32(typ), int32(size), 0}
	if err := binary.Write(fw.w, binary.BigEndian, hdr); err != nil {
		fw.fail(err)
		return fw.err
	}
	if size == 0 {
		return nil
	}
	if b, ok := payload.([]byte); ok {
		_, err := fw.w.Write(b)
		fw.fail(err)
		return fw.err
	}
	fw.fail(binary.Write(fw.w, binary.BigEndian, payload))
	return fw.err
}

func (fw *Writer) fail(err error) {
	if fw.err == nil && err != nil {
		fw.err = err
	}
}
