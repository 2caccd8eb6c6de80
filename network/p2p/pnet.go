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

package p2p

func (s *State) pnetSetupNonce(a PnetSetupNonce) []Action {
	conn, ok := s.Connections[a.Addr]
	if !ok {
		return nil
	}
	out, err := conn.Pnet.SetupNonce(a.Nonce)
	if err != nil {
		return []Action{ConnectionError{Addr: a.Addr, Err: err}}
	}
	return []Action{
		SendData{Addr: a.Addr, Data: out},
		SelectInit{Addr: a.Addr, Kind: SelectAuthentication{}},
	}
}

// pnetIncomingData decrypts socket bytes and routes the plaintext to the
// auth negotiation while it runs, or to the secure channel after.
func (s *State) pnetIncomingData(a PnetIncomingData) []Action {
	conn, ok := s.Connections[a.Addr]
	if !ok {
		return nil
	}
	plain := conn.Pnet.Incoming(a.Data)
	if len(plain) == 0 {
		return nil
	}
	switch {
	case !conn.SelectAuth.Done:
		return []Action{SelectIncomingData{Addr: a.Addr, Kind: SelectAuthentication{}, Data: plain}}
	case conn.Auth == nil:
		conn.AuthBuffer = append(conn.AuthBuffer, plain...)
		return nil
	default:
		return []Action{NoiseIncomingData{Addr: a.Addr, Data: plain}}
	}
}

func (s *State) pnetOutgoingData(a PnetOutgoingData) []Action {
	conn, ok := s.Connections[a.Addr]
	if !ok {
		return nil
	}
	out, err := conn.Pnet.Outgoing(a.Data)
	if err != nil {
		return []Action{ConnectionError{Addr: a.Addr, Err: err}}
	}
	return []Action{SendData{Addr: a.Addr, Data: out}}
}
