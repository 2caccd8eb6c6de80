// Copyright (C) 2019-2024 Algorand, Inc.
// This file is part of go-algorand
//
// go-algorand is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// go-algorand is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with go-algorand.  If not, see <https://www.gnu.org/licenses/>.

// Package yamux implements the yamux stream multiplexer as plain state: frames
// are decoded from bytes, applied to a State, and the frames to send in reply
// are returned to the caller.
package yamux

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Version is the only protocol version on the wire.
const Version = 0

// HeaderSize is the fixed frame header length.
const HeaderSize = 12

// ErrInvalidFrame is returned for a frame the multiplexer cannot accept. It is
// fatal for the connection.
var ErrInvalidFrame = errors.New("yamux: invalid frame")

// FrameType is the second header byte.
type FrameType uint8

const (
	TypeData         FrameType = 0
	TypeWindowUpdate FrameType = 1
	TypePing         FrameType = 2
	TypeGoAway       FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case TypeData:
		return "data"
	case TypeWindowUpdate:
		return "window-update"
	case TypePing:
		return "ping"
	case TypeGoAway:
		return "go-away"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Flags is the header flag set.
type Flags uint16

const (
	FlagSYN Flags = 1 << iota
	FlagACK
	FlagFIN
	FlagRST
)

// Has reports whether every flag in f2 is set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// StreamID names a stream within a session. Zero is the session itself.
type StreamID uint32

// GoAwayCode is carried in the length field of a go-away frame.
type GoAwayCode uint32

const (
	GoAwayNormal        GoAwayCode = 0
	GoAwayProtocolError GoAwayCode = 1
	GoAwayInternalError GoAwayCode = 2
)

// Header is the fixed part of every frame.
type Header struct {
	Version  uint8
	Type     FrameType
	Flags    Flags
	StreamID StreamID
	// Length is the payload size for data frames, the window delta for window
	// updates, the opaque value for pings and the error code for go-away.
	Length uint32
}

// Frame is a header plus, for data frames, its payload.
type Frame struct {
	Header
	Payload []byte `json:",omitempty"`
}

// AppendHeader appends the wire form of h.
func AppendHeader(dst []byte, h Header) []byte {
	var b [HeaderSize]byte
	b[0] = h.Version
	b[1] = byte(h.Type)
	binary.BigEndian.PutUint16(b[2:4], uint16(h.Flags))
	binary.BigEndian.PutUint32(b[4:8], uint32(h.StreamID))
	binary.BigEndian.PutUint32(b[8:12], h.Length)
	return append(dst, b[:]...)
}

// DecodeHeader parses and validates a frame header.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: short header", ErrInvalidFrame)
	}
	h := Header{
		Version:  b[0],
		Type:     FrameType(b[1]),
		Flags:    Flags(binary.BigEndian.Uint16(b[2:4])),
		StreamID: StreamID(binary.BigEndian.Uint32(b[4:8])),
		Length:   binary.BigEndian.Uint32(b[8:12]),
	}
	if h.Version != Version {
		return h, fmt.Errorf("%w: version %d", ErrInvalidFrame, h.Version)
	}
	if h.Type > TypeGoAway {
		return h, fmt.Errorf("%w: %v", ErrInvalidFrame, h.Type)
	}
	return h, nil
}

// Encode returns the wire form of the frame.
func (f Frame) Encode() []byte {
	h := f.Header
	if h.Type == TypeData {
		h.Length = uint32(len(f.Payload))
	}
	out := AppendHeader(make([]byte, 0, HeaderSize+len(f.Payload)), h)
	return append(out, f.Payload...)
}

// ReadFrame reads one frame from buf. Data payloads larger than maxPayload are
// rejected. ok is false while buf holds only part of a frame.
func ReadFrame(buf []byte, maxPayload uint32) (f Frame, rest []byte, ok bool, err error) {
	if len(buf) < HeaderSize {
		return f, buf, false, nil
	}
	h, err := DecodeHeader(buf)
	if err != nil {
		return f, buf, false, err
	}
	f.Header = h
	if h.Type != TypeData {
		return f, buf[HeaderSize:], true, nil
	}
	if h.Length > maxPayload {
		return f, buf, false, fmt.Errorf("%w: data length %d exceeds %d", ErrInvalidFrame, h.Length, maxPayload)
	}
	end := HeaderSize + int(h.Length)
	if len(buf) < end {
		return f, buf, false, nil
	}
	f.Payload = append([]byte(nil), buf[HeaderSize:end]...)
	return f, buf[end:], true, nil
}

func (f Frame) String() string {
	return fmt.Sprintf("%v stream=%d flags=%#x len=%d", f.Type, f.StreamID, uint16(f.Flags), f.Length)
}
