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

package token

import (
	"bytes"
	"errors"

	"github.com/algorand/go-meshnet/network/framing"
)

const (
	// Handshake opens every multistream-select exchange.
	Handshake = "/multistream/1.0.0"
	// NotAvailable rejects a proposal.
	NotAvailable = "na"
	// SimultaneousConnect is proposed by peers that dialed each other at the same time.
	SimultaneousConnect = "/libp2p/simultaneous-connect"
)

// MaxTokenSize bounds a single negotiation message, the newline included.
const MaxTokenSize = 1024

// ErrMissingNewline is returned for a message not terminated by '\n'.
var ErrMissingNewline = errors.New("multistream message not newline terminated")

// Kind discriminates a Token.
type Kind int

const (
	// KindHandshake is the "/multistream/1.0.0" header.
	KindHandshake Kind = iota
	// KindNotAvailable is the "na" rejection.
	KindNotAvailable
	// KindSimultaneousConnect is the simultaneous open marker.
	KindSimultaneousConnect
	// KindProtocol is a proposal naming a protocol we know.
	KindProtocol
	// KindUnknown is a proposal naming a protocol we don't know.
	KindUnknown
)

// Token is one multistream-select message.
type Token struct {
	Kind     Kind
	Protocol Protocol // set for KindProtocol
	Name     string   // raw name, set for every kind
}

// ProtocolToken wraps p as a proposal token.
func ProtocolToken(p Protocol) Token {
	return Token{Kind: KindProtocol, Protocol: p, Name: p.Name()}
}

// Parse interprets a message whose length prefix has already been stripped.
func Parse(msg []byte) (Token, error) {
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		return Token{}, ErrMissingNewline
	}
	name := string(bytes.TrimSuffix(msg, []byte{'\n'}))
	switch name {
	case Handshake:
		return Token{Kind: KindHandshake, Name: name}, nil
	case NotAvailable:
		return Token{Kind: KindNotAvailable, Name: name}, nil
	case SimultaneousConnect:
		return Token{Kind: KindSimultaneousConnect, Name: name}, nil
	}
	if p, ok := Lookup(name); ok {
		return Token{Kind: KindProtocol, Protocol: p, Name: name}, nil
	}
	return Token{Kind: KindUnknown, Name: name}, nil
}

// Encode returns the wire form of the token: uvarint(len) || name || '\n'.
func (t Token) Encode() []byte {
	return AppendEncoded(nil, t.Name)
}

// AppendEncoded appends the wire form of the message name to dst.
func AppendEncoded(dst []byte, name string) []byte {
	msg := make([]byte, 0, len(name)+1)
	msg = append(msg, name...)
	msg = append(msg, '\n')
	return framing.AppendUvarintFrame(dst, msg)
}

func (t Token) String() string {
	return t.Name
}
