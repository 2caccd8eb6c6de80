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

import (
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/algorand/go-meshnet/logging"
)

// Observer sees every action in the order it is handled.
type Observer func(Action, Meta)

// Store owns the network state and runs actions against it. Follow-up actions
// are processed in FIFO order after the action that produced them, so a single
// Dispatch call returns only once the system is quiescent.
//
// A Store is not safe for concurrent use.
type Store struct {
	state   *State
	service Service
	log     logging.Logger

	queue     []Action
	running   bool
	observers []Observer
}

// NewStore returns a Store for the node with id identity.
func NewStore(cfg Config, identity peer.ID, service Service, log logging.Logger) *Store {
	return &Store{
		state:   MakeState(cfg, identity, service.Now(), log),
		service: service,
		log:     log,
	}
}

// State exposes the current state. Callers must not mutate it.
func (s *Store) State() *State {
	return s.state
}

// Observe registers fn to be called for each handled action.
func (s *Store) Observe(fn Observer) {
	s.observers = append(s.observers, fn)
}

// Dispatch handles a, then every action that follows from it.
// Calls from within an observer or a service method only enqueue.
func (s *Store) Dispatch(a Action) {
	s.queue = append(s.queue, a)
	if s.running {
		return
	}
	s.running = true
	defer func() { s.running = false }()

	for len(s.queue) > 0 {
		next := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		meta := Meta{Time: s.service.Now()}
		for _, fn := range s.observers {
			fn(next, meta)
		}
		s.queue = append(s.queue, s.handle(next, meta)...)
	}
	s.queue = nil
}

func (s *Store) handle(a Action, meta Meta) []Action {
	if s.log.IsLevelEnabled(logging.Debug) {
		s.log.Debugf("p2p: %v", a)
	}
	if e, ok := a.(effect); ok {
		return e.do(s.service)
	}
	return s.state.reduce(a, meta)
}
