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

// Package framing holds the byte buffers and length prefixes shared by every
// layer of the transport.
package framing

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Data is a variable length byte buffer. It prints and serializes as hex so that
// action logs stay readable.
type Data []byte

// String implements fmt.Stringer
func (d Data) String() string {
	return hex.EncodeToString(d)
}

// MarshalJSON implements json.Marshaler
func (d Data) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(d))
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Data) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	*d = raw
	return nil
}

// Clone returns a copy of d that does not alias the original buffer.
func (d Data) Clone() Data {
	if d == nil {
		return nil
	}
	out := make(Data, len(d))
	copy(out, d)
	return out
}

// Nonce is the fixed size buffer used for the PNet nonce exchange.
type Nonce [NonceSize]byte

// NonceSize is the size of a PNet nonce.
const NonceSize = 24

// Key is a fixed size 32 byte key.
type Key [KeySize]byte

// KeySize is the size of a Key.
const KeySize = 32

func (n Nonce) String() string { return hex.EncodeToString(n[:]) }

func (k Key) String() string { return hex.EncodeToString(k[:]) }

// MarshalJSON implements json.Marshaler
func (n Nonce) MarshalJSON() ([]byte, error) { return json.Marshal(n.String()) }

// UnmarshalJSON implements json.Unmarshaler
func (n *Nonce) UnmarshalJSON(b []byte) error { return unmarshalSized(b, n[:]) }

// MarshalJSON implements json.Marshaler
func (k Key) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

// UnmarshalJSON implements json.Unmarshaler
func (k *Key) UnmarshalJSON(b []byte) error { return unmarshalSized(b, k[:]) }

// ParseKey decodes a 32 byte hex encoded key.
func ParseKey(s string) (k Key, err error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return k, err
	}
	if len(raw) != KeySize {
		return k, fmt.Errorf("wrong size: want %d bytes, got %d", KeySize, len(raw))
	}
	copy(k[:], raw)
	return k, nil
}

func unmarshalSized(b []byte, dst []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return err
	}
	if len(raw) != len(dst) {
		return fmt.Errorf("wrong size: want %d bytes, got %d", len(dst), len(raw))
	}
	copy(dst, raw)
	return nil
}
