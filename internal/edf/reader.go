// SPDX-License-Identifier: MPL-2.0
/*
 * Copyright (C) 2024 Damian Peckett <damian@pecke.tt>.
 *
 * This Source Code Form is subject to the terms of the Mozilla Public
 * License, v. 2.0. If a copy of the MPL was not distributed with this
 * file, You can obtain one at http://mozilla.org/MPL/2.0/.
 */

package edf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Reader reads EDF/EDF+ files.
type Reader struct {
	r   io.ReadSeeker
	hdr *Header
}

// signalField describes one of the per-signal header columns. EDF stores the
// header column-wise: every signal's label, then every signal's transducer,
// and so on.
type signalField struct {
	name  string
	width int
	set   func(sig *Signal, v string) error
	get   func(sig *Signal) string
}

var signalFields = []signalField{
	{"label", 16,
		func(s *Signal, v string) error { s.Label = v; return nil },
		func(s *Signal) string { return s.Label }},
	{"transducer type", 80,
		func(s *Signal, v string) error { s.TransducerType = v; return nil },
		func(s *Signal) string { return s.TransducerType }},
	{"physical dimension", 8,
		func(s *Signal, v string) error { s.PhysicalDimension = v; return nil },
		func(s *Signal) string { return s.PhysicalDimension }},
	{"physical minimum", 8,
		func(s *Signal, v string) (err error) { s.PhysicalMin, err = parseFloat(v); return },
		func(s *Signal) string { return formatPhysicalValue(s.PhysicalMin) }},
	{"physical maximum", 8,
		func(s *Signal, v string) (err error) { s.PhysicalMax, err = parseFloat(v); return },
		func(s *Signal) string { return formatPhysicalValue(s.PhysicalMax) }},
	{"digital minimum", 8,
		func(s *Signal, v string) (err error) { s.DigitalMin, err = parseInt(v); return },
		func(s *Signal) string { return strconv.Itoa(s.DigitalMin) }},
	{"digital maximum", 8,
		func(s *Signal, v string) (err error) { s.DigitalMax, err = parseInt(v); return },
		func(s *Signal) string { return strconv.Itoa(s.DigitalMax) }},
	{"prefiltering", 80,
		func(s *Signal, v string) error { s.Prefiltering = v; return nil },
		func(s *Signal) string { return s.Prefiltering }},
	{"samples per record", 8,
		func(s *Signal, v string) (err error) { s.SamplesPerRecord, err = parseInt(v); return },
		func(s *Signal) string { return strconv.Itoa(s.SamplesPerRecord) }},
	{"reserved", 32,
		func(s *Signal, v string) error { s.Reserved = v; return nil },
		func(s *Signal) string { return "" }},
}

// Open opens an EDF/EDF+ file for reading.
func Open(r io.ReadSeeker) (*Reader, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to header: %w", err)
	}
	reader := bufio.NewReader(r)

	b := make([]byte, 256)
	if _, err := io.ReadFull(reader, b); err != nil {
		return nil, fmt.Errorf("error reading header: %w", err)
	}
	field := func(from, to int) string { return strings.TrimSpace(string(b[from:to])) }

	hdr := &Header{}
	hdr.Version = Version(field(0, 8))
	hdr.PatientID = field(8, 88)
	hdr.RecordingID = field(88, 168)

	startDate, err := time.Parse("02.01.06", field(168, 176))
	if err != nil {
		return nil, fmt.Errorf("error parsing start date: %w", err)
	}
	startTime, err := time.Parse("15.04.05", field(176, 184))
	if err != nil {
		return nil, fmt.Errorf("error parsing start time: %w", err)
	}
	hdr.StartTime = time.Date(startDate.Year(), startDate.Month(), startDate.Day(),
		startTime.Hour(), startTime.Minute(), startTime.Second(), 0, time.UTC)

	if hdr.HeaderBytes, err = parseInt(field(184, 192)); err != nil {
		return nil, fmt.Errorf("error parsing header bytes: %w", err)
	}
	if hdr.DataRecords, err = parseInt(field(236, 244)); err != nil {
		return nil, fmt.Errorf("error parsing number of data records: %w", err)
	}
	hdr.DataRecordDuration, err = time.ParseDuration(field(244, 252) + "s")
	if err != nil {
		return nil, fmt.Errorf("error parsing data record duration: %w", err)
	}
	if hdr.SignalCount, err = parseInt(field(252, 256)); err != nil {
		return nil, fmt.Errorf("error parsing signal count: %w", err)
	}
	if hdr.SignalCount <= 0 {
		return nil, fmt.Errorf("invalid signal count: %d", hdr.SignalCount)
	}

	hdr.Signals = make([]Signal, hdr.SignalCount)
	for _, f := range signalFields {
		b := make([]byte, f.width)
		for i := range hdr.Signals {
			if _, err := io.ReadFull(reader, b); err != nil {
				return nil, fmt.Errorf("error reading signal headers: %w", err)
			}
			if err := f.set(&hdr.Signals[i], strings.TrimSpace(string(b))); err != nil {
				return nil, fmt.Errorf("error parsing %s of signal %d: %w", f.name, i, err)
			}
		}
	}

	return &Reader{
		r:   r,
		hdr: hdr,
	}, nil
}

// Header returns a copy of the parsed header.
func (er *Reader) Header() Header {
	hdr := *er.hdr
	hdr.Signals = append([]Signal(nil), er.hdr.Signals...)
	return hdr
}

// ReadAll decodes every data record and returns the physical samples of each
// signal, indexed like Header.Signals.
func (er *Reader) ReadAll() ([][]float64, error) {
	if er.hdr.DataRecords < 0 {
		return nil, fmt.Errorf("number of data records is unknown")
	}
	if _, err := er.r.Seek(int64(er.hdr.HeaderBytes), io.SeekStart); err != nil {
		return nil, fmt.Errorf("error seeking to position: %w", err)
	}
	reader := bufio.NewReader(er.r)

	data := make([][]float64, er.hdr.SignalCount)
	for i, sig := range er.hdr.Signals {
		data[i] = make([]float64, 0, sig.SamplesPerRecord*er.hdr.DataRecords)
	}

	record := make([]byte, er.hdr.recordSize())
	for rec := 0; rec < er.hdr.DataRecords; rec++ {
		if _, err := io.ReadFull(reader, record); err != nil {
			return nil, fmt.Errorf("error reading data record %d: %w", rec, err)
		}
		off := 0
		for i, sig := range er.hdr.Signals {
			for s := 0; s < sig.SamplesPerRecord; s++ {
				digitalValue := int16(binary.LittleEndian.Uint16(record[off:]))
				data[i] = append(data[i], convertDigitalToPhysical(digitalValue, sig.DigitalMin, sig.DigitalMax, sig.PhysicalMin, sig.PhysicalMax))
				off += 2
			}
		}
	}

	return data, nil
}

// convertDigitalToPhysical converts a digital value from the data record to a physical value using the calibration factors.
func convertDigitalToPhysical(digital int16, dmin, dmax int, pmin, pmax float64) float64 {
	if dmax == dmin {
		return 0 // Avoid division by zero
	}
	return pmin + (float64(digital)-float64(dmin))*(pmax-pmin)/float64(dmax-dmin)
}

func parseFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
