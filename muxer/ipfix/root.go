// SPDX-FileCopyrightText: 2022 Free Mobile
// SPDX-License-Identifier: AGPL-3.0-only

// Package ipfix handles the fixed-size header of IPFIX messages (RFC 7011).
package ipfix

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// Version is the only version number accepted in a message header.
	Version = 10
	// HeaderLength is the length of a message header.
	HeaderLength = 16
)

var (
	// ErrHeaderParse is returned when a buffer cannot be parsed as a header.
	ErrHeaderParse = errors.New("cannot parse IPFIX header")
	// ErrHeaderSerialize is returned when a header cannot be serialized
	// with the provided tail.
	ErrHeaderSerialize = errors.New("cannot serialize IPFIX header")
)

// Header is the header of an IPFIX message.
type Header struct {
	Version             uint16
	Length              uint16
	ExportTime          uint32
	SequenceNumber      uint32
	ObservationDomainID uint32
}

// ParseHeader parses the header at the beginning of the provided buffer. The
// declared length has to fit within the buffer.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderLength {
		return Header{}, fmt.Errorf("%w: %d bytes is too short", ErrHeaderParse, len(data))
	}
	h := Header{
		Version:             binary.BigEndian.Uint16(data[0:2]),
		Length:              binary.BigEndian.Uint16(data[2:4]),
		ExportTime:          binary.BigEndian.Uint32(data[4:8]),
		SequenceNumber:      binary.BigEndian.Uint32(data[8:12]),
		ObservationDomainID: binary.BigEndian.Uint32(data[12:16]),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrHeaderParse, h.Version)
	}
	if h.Length < HeaderLength {
		return Header{}, fmt.Errorf("%w: declared length %d is too small", ErrHeaderParse, h.Length)
	}
	if int(h.Length) > len(data) {
		return Header{}, fmt.Errorf("%w: declared length %d exceeds %d received bytes",
			ErrHeaderParse, h.Length, len(data))
	}
	return h, nil
}

// Put writes the header into the first 16 bytes of b.
func (h Header) Put(b []byte) {
	_ = b[HeaderLength-1]
	binary.BigEndian.PutUint16(b[0:2], h.Version)
	binary.BigEndian.PutUint16(b[2:4], h.Length)
	binary.BigEndian.PutUint32(b[4:8], h.ExportTime)
	binary.BigEndian.PutUint32(b[8:12], h.SequenceNumber)
	binary.BigEndian.PutUint32(b[12:16], h.ObservationDomainID)
}

// AppendBytes returns a new buffer with the header followed by the provided
// tail. The declared length must match the resulting message.
func (h Header) AppendBytes(tail []byte) ([]byte, error) {
	if int(h.Length) != HeaderLength+len(tail) {
		return nil, fmt.Errorf("%w: declared length %d, got %d bytes",
			ErrHeaderSerialize, h.Length, HeaderLength+len(tail))
	}
	out := make([]byte, HeaderLength+len(tail))
	h.Put(out)
	copy(out[HeaderLength:], tail)
	return out, nil
}
