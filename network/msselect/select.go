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

// Package msselect implements multistream-select 1.0.0 negotiation as a
// non-blocking state machine. Bytes go in through Incoming, replies come out in
// the returned Result.
package msselect

import (
	"errors"
	"fmt"

	"github.com/algorand/go-meshnet/network/framing"
	"github.com/algorand/go-meshnet/network/token"
)

var (
	// ErrProtocolNotSupported is returned to an initiator whose every proposal was rejected.
	ErrProtocolNotSupported = errors.New("msselect: no proposed protocol supported by remote")
	// ErrBadHeader is returned when the first message is not the multistream header.
	ErrBadHeader = errors.New("msselect: bad multistream header")
	// ErrUnexpectedToken is returned when the remote answers something we did not ask for.
	ErrUnexpectedToken = errors.New("msselect: unexpected token")
	// ErrAlreadyDone is returned when data is fed after negotiation completed.
	ErrAlreadyDone = errors.New("msselect: negotiation already done")
)

// Role is our side of the negotiation.
type Role int

const (
	// Initiator proposes protocols.
	Initiator Role = iota
	// Responder accepts or rejects proposals.
	Responder
)

func (r Role) String() string {
	if r == Initiator {
		return "initiator"
	}
	return "responder"
}

// State is one negotiation instance.
type State struct {
	Role   Role
	Family token.Family

	// Proposals holds the initiator's remaining candidates, current first.
	Proposals []token.Protocol `json:",omitempty"`

	Started    bool
	GotHeader  bool
	Done       bool
	Negotiated token.Protocol `json:",omitempty"`

	buf []byte
}

// Result is what a call to Incoming produced.
type Result struct {
	// Out is to be written to the remote.
	Out []byte
	// Done is set on the call that completed the negotiation.
	Done bool
	// Protocol is the outcome when Done.
	Protocol token.Protocol
	// Rest holds bytes following the final token; they belong to the next layer.
	Rest []byte
}

// MakeInitiator returns a negotiation proposing the given protocols in order.
func MakeInitiator(proposals ...token.Protocol) State {
	if len(proposals) == 0 {
		panic("msselect: initiator without proposals")
	}
	s := State{Role: Initiator, Family: proposals[0].Family()}
	s.Proposals = append(s.Proposals, proposals...)
	return s
}

// MakeResponder returns a negotiation accepting any known protocol of family f.
func MakeResponder(f token.Family) State {
	return State{Role: Responder, Family: f}
}

// Init returns the opening bytes: the header, plus the first proposal for an initiator.
func (s *State) Init() []byte {
	if s.Started {
		return nil
	}
	s.Started = true
	out := token.AppendEncoded(nil, token.Handshake)
	if s.Role == Initiator {
		out = token.AppendEncoded(out, s.Proposals[0].Name())
	}
	return out
}

// Incoming consumes bytes from the remote.
func (s *State) Incoming(data []byte) (Result, error) {
	var res Result
	if s.Done {
		return res, ErrAlreadyDone
	}
	if !s.Started {
		res.Out = s.Init()
	}
	s.buf = append(s.buf, data...)
	for !s.Done {
		frame, rest, ok, err := framing.ReadUvarintFrame(s.buf, token.MaxTokenSize)
		if err != nil {
			return res, fmt.Errorf("msselect: %w", err)
		}
		if !ok {
			return res, nil
		}
		s.buf = rest
		tok, err := token.Parse(frame)
		if err != nil {
			return res, err
		}
		out, err := s.step(tok)
		if err != nil {
			return res, err
		}
		res.Out = append(res.Out, out...)
	}
	res.Done = true
	res.Protocol = s.Negotiated
	if len(s.buf) > 0 {
		res.Rest = s.buf
	}
	s.buf = nil
	return res, nil
}

func (s *State) step(tok token.Token) ([]byte, error) {
	if !s.GotHeader {
		if tok.Kind != token.KindHandshake {
			return nil, fmt.Errorf("%w: %q", ErrBadHeader, tok.Name)
		}
		s.GotHeader = true
		return nil, nil
	}
	switch s.Role {
	case Initiator:
		return s.initiatorStep(tok)
	case Responder:
		return s.responderStep(tok)
	}
	panic(fmt.Sprintf("msselect: unknown role %d", s.Role))
}

func (s *State) initiatorStep(tok token.Token) ([]byte, error) {
	switch tok.Kind {
	case token.KindNotAvailable:
		s.Proposals = s.Proposals[1:]
		if len(s.Proposals) == 0 {
			return nil, ErrProtocolNotSupported
		}
		return token.AppendEncoded(nil, s.Proposals[0].Name()), nil
	case token.KindProtocol:
		if tok.Protocol != s.Proposals[0] {
			return nil, fmt.Errorf("%w: proposed %s, got %s", ErrUnexpectedToken, s.Proposals[0].Name(), tok.Name)
		}
		s.Negotiated = tok.Protocol
		s.Proposals = nil
		s.Done = true
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedToken, tok.Name)
	}
}

func (s *State) responderStep(tok token.Token) ([]byte, error) {
	switch tok.Kind {
	case token.KindProtocol:
		if tok.Protocol.Family() == s.Family {
			s.Negotiated = tok.Protocol
			s.Done = true
			return tok.Encode(), nil
		}
		return token.AppendEncoded(nil, token.NotAvailable), nil
	case token.KindUnknown, token.KindSimultaneousConnect:
		return token.AppendEncoded(nil, token.NotAvailable), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedToken, tok.Name)
	}
}
