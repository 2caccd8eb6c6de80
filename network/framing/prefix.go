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

package framing

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/multiformats/go-varint"
)

// ErrFrameTooLarge is returned when a length prefix announces more bytes than allowed.
var ErrFrameTooLarge = errors.New("frame exceeds size limit")

// AppendUvarintFrame appends uvarint(len(msg)) followed by msg.
func AppendUvarintFrame(dst, msg []byte) []byte {
	dst = append(dst, varint.ToUvarint(uint64(len(msg)))...)
	return append(dst, msg...)
}

// ReadUvarintFrame reads one uvarint length prefixed frame from buf.
// It returns ok=false when buf does not hold a complete frame yet.
func ReadUvarintFrame(buf []byte, limit int) (frame, rest []byte, ok bool, err error) {
	size, n, err := varint.FromUvarint(buf)
	if err != nil {
		if errors.Is(err, varint.ErrUnderflow) {
			return nil, buf, false, nil
		}
		return nil, buf, false, err
	}
	if size > uint64(limit) {
		return nil, buf, false, ErrFrameTooLarge
	}
	end := n + int(size)
	if len(buf) < end {
		return nil, buf, false, nil
	}
	return buf[n:end], buf[end:], true, nil
}

// AppendU16Frame appends a 2 byte big-endian length followed by msg.
func AppendU16Frame(dst, msg []byte) []byte {
	if len(msg) > math.MaxUint16 {
		panic("framing: u16 frame overflow")
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(msg)))
	return append(dst, msg...)
}

// ReadU16Frame reads one 2 byte big-endian length prefixed frame from buf.
func ReadU16Frame(buf []byte) (frame, rest []byte, ok bool) {
	if len(buf) < 2 {
		return nil, buf, false
	}
	end := 2 + int(binary.BigEndian.Uint16(buf))
	if len(buf) < end {
		return nil, buf, false
	}
	return buf[2:end], buf[end:], true
}

// PrependU64LE returns msg prefixed with its length as an 8 byte little-endian integer.
func PrependU64LE(msg []byte) []byte {
	out := make([]byte, 8, 8+len(msg))
	binary.LittleEndian.PutUint64(out, uint64(len(msg)))
	return append(out, msg...)
}

// SplitU64LE strips an 8 byte little-endian length prefix and checks it against the payload.
func SplitU64LE(buf []byte) ([]byte, error) {
	if len(buf) < 8 {
		return nil, errors.New("short length prefix")
	}
	size := binary.LittleEndian.Uint64(buf)
	if size != uint64(len(buf)-8) {
		return nil, errors.New("length prefix mismatch")
	}
	return buf[8:], nil
}
