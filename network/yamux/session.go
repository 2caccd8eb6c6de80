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

package yamux

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// DefaultWindow is the per stream window every peer starts with.
const DefaultWindow = 256 * 1024

var (
	// ErrStreamClosed is returned when writing to a stream we already half-closed.
	ErrStreamClosed = errors.New("yamux: stream closed for writing")
	// ErrUnknownStream is returned for operations on a stream id not in the session.
	ErrUnknownStream = errors.New("yamux: unknown stream")
	// ErrGoAway is returned when opening a stream after go-away was exchanged.
	ErrGoAway = errors.New("yamux: session shutting down")
	// ErrWindowExceeded is a protocol error: the remote sent more than it was allowed.
	ErrWindowExceeded = fmt.Errorf("%w: receive window exceeded", ErrInvalidFrame)
	// ErrWindowOverflow is a protocol error: a window update beyond 2^32-1 bytes of credit.
	ErrWindowOverflow = fmt.Errorf("%w: send window overflow", ErrInvalidFrame)
)

// Config sizes a session.
type Config struct {
	// InitialWindow is the receive window we advertise per stream.
	InitialWindow uint32
	// MaxFrameSize bounds the payload of data frames we emit.
	MaxFrameSize uint32
}

// DefaultConfig matches the window every yamux implementation assumes.
func DefaultConfig() Config {
	return Config{InitialWindow: DefaultWindow, MaxFrameSize: 64 * 1024}
}

// StreamState holds flow control and half-close flags of one stream.
type StreamState struct {
	Incoming bool
	// Acked is set once the SYN/ACK exchange for this stream completed.
	Acked bool
	// SendWindow is how many bytes the remote still accepts.
	SendWindow uint32
	// RecvWindow is how many bytes we still accept.
	RecvWindow uint32
	// Unacked counts received bytes not yet returned to the remote as credit.
	Unacked uint32
	// Pending holds bytes written beyond the remote's credit.
	Pending []byte `json:",omitempty"`

	LocalClosed  bool
	RemoteClosed bool
	finPending   bool
}

// State is one end of a yamux session.
type State struct {
	Client bool
	// Init is set by MarkInit once the first frame from the remote was handled.
	Init    bool
	NextID  StreamID
	Streams map[StreamID]*StreamState

	GoAwaySent     bool
	GoAwayReceived bool
	GoAwayCode     GoAwayCode

	PingsSent map[uint32]time.Time `json:",omitempty"`
	NextPing  uint32
	RTT       time.Duration

	cfg Config
	buf []byte
}

// Event describes what applying one frame did. Replies must be sent in order.
type Event struct {
	Stream StreamID
	// Opened is set when the remote opened Stream.
	Opened bool
	// Data is payload delivered on Stream.
	Data []byte
	// RemoteClosed is set when the remote half-closed Stream.
	RemoteClosed bool
	// Removed is set when the Stream entry was destroyed.
	Removed bool
	// Pong is set when a ping of ours was answered; RTT is then valid.
	Pong bool
	RTT  time.Duration
	// GoAway is set when the remote stopped accepting streams.
	GoAway bool
	Reply  []Frame
}

// MakeState returns a session. Client sessions allocate odd stream ids.
func MakeState(client bool, cfg Config) *State {
	if cfg.InitialWindow < DefaultWindow {
		cfg.InitialWindow = DefaultWindow
	}
	if cfg.MaxFrameSize == 0 {
		cfg.MaxFrameSize = DefaultConfig().MaxFrameSize
	}
	s := &State{
		Client:    client,
		NextID:    2,
		Streams:   make(map[StreamID]*StreamState),
		PingsSent: make(map[uint32]time.Time),
		cfg:       cfg,
	}
	if client {
		s.NextID = 1
	}
	return s
}

// Config returns the session sizing.
func (s *State) Config() Config {
	return s.cfg
}

// Incoming buffers raw bytes and returns every complete frame.
func (s *State) Incoming(data []byte) ([]Frame, error) {
	s.buf = append(s.buf, data...)
	var frames []Frame
	for {
		f, rest, ok, err := ReadFrame(s.buf, s.cfg.InitialWindow)
		if err != nil {
			return frames, err
		}
		if !ok {
			return frames, nil
		}
		s.buf = rest
		frames = append(frames, f)
	}
}

// StreamIDs lists open streams in ascending order.
func (s *State) StreamIDs() []StreamID {
	ids := make([]StreamID, 0, len(s.Streams))
	for id := range s.Streams {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *State) isLocal(id StreamID) bool {
	return (id%2 == 1) == s.Client
}

func (s *State) newStream(incoming bool) *StreamState {
	return &StreamState{
		Incoming:   incoming,
		SendWindow: DefaultWindow,
		RecvWindow: s.cfg.InitialWindow,
	}
}

// Open allocates a stream and returns the frame announcing it.
func (s *State) Open() (StreamID, Frame, error) {
	if s.GoAwaySent || s.GoAwayReceived {
		return 0, Frame{}, ErrGoAway
	}
	id := s.NextID
	s.NextID += 2
	s.Streams[id] = s.newStream(false)
	return id, s.windowUpdate(id, FlagSYN, s.cfg.InitialWindow-DefaultWindow), nil
}

// Send queues data on a stream and returns the data frames the window allows now.
func (s *State) Send(id StreamID, data []byte) ([]Frame, error) {
	st, ok := s.Streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStream, id)
	}
	if st.LocalClosed || st.finPending {
		return nil, ErrStreamClosed
	}
	st.Pending = append(st.Pending, data...)
	return s.flush(id, st), nil
}

func (s *State) flush(id StreamID, st *StreamState) []Frame {
	var out []Frame
	for len(st.Pending) > 0 && st.SendWindow > 0 {
		n := uint32(len(st.Pending))
		if n > st.SendWindow {
			n = st.SendWindow
		}
		if n > s.cfg.MaxFrameSize {
			n = s.cfg.MaxFrameSize
		}
		payload := append([]byte(nil), st.Pending[:n]...)
		st.Pending = st.Pending[n:]
		st.SendWindow -= n
		out = append(out, Frame{
			Header:  Header{Type: TypeData, StreamID: id, Length: n},
			Payload: payload,
		})
	}
	if len(st.Pending) == 0 {
		st.Pending = nil
		if st.finPending {
			st.finPending = false
			out = append(out, s.finish(id, st))
		}
	}
	return out
}

// Close half-closes a stream. The FIN goes out after any queued data.
func (s *State) Close(id StreamID) ([]Frame, error) {
	st, ok := s.Streams[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownStream, id)
	}
	if st.LocalClosed || st.finPending {
		return nil, nil
	}
	if len(st.Pending) > 0 {
		st.finPending = true
		return nil, nil
	}
	return []Frame{s.finish(id, st)}, nil
}

func (s *State) finish(id StreamID, st *StreamState) Frame {
	st.LocalClosed = true
	f := s.windowUpdate(id, FlagFIN, 0)
	if st.RemoteClosed {
		delete(s.Streams, id)
	}
	return f
}

// Reset destroys a stream and returns the RST frame.
func (s *State) Reset(id StreamID) Frame {
	delete(s.Streams, id)
	return s.windowUpdate(id, FlagRST, 0)
}

// Ping returns a ping request and records when it was sent.
func (s *State) Ping(now time.Time) Frame {
	opaque := s.NextPing
	s.NextPing++
	s.PingsSent[opaque] = now
	return Frame{Header: Header{Type: TypePing, Flags: FlagSYN, Length: opaque}}
}

// GoAway stops accepting new streams and returns the frame announcing it.
func (s *State) GoAway(code GoAwayCode) Frame {
	s.GoAwaySent = true
	return Frame{Header: Header{Type: TypeGoAway, Length: uint32(code)}}
}

func (s *State) windowUpdate(id StreamID, flags Flags, delta uint32) Frame {
	return Frame{Header: Header{Type: TypeWindowUpdate, Flags: flags, StreamID: id, Length: delta}}
}

// MarkInit records that the remote has spoken. It reports whether this is the first time.
func (s *State) MarkInit() bool {
	if s.Init {
		return false
	}
	s.Init = true
	return true
}

// Apply applies a frame received from the remote. An error is fatal for the session.
func (s *State) Apply(f Frame, now time.Time) (Event, error) {
	ev := Event{Stream: f.StreamID}
	switch f.Type {
	case TypePing:
		return s.applyPing(f, now, ev)
	case TypeGoAway:
		s.GoAwayReceived = true
		s.GoAwayCode = GoAwayCode(f.Length)
		ev.GoAway = true
		return ev, nil
	case TypeData, TypeWindowUpdate:
		return s.applyStream(f, ev)
	}
	return ev, fmt.Errorf("%w: %v", ErrInvalidFrame, f.Type)
}

func (s *State) applyPing(f Frame, now time.Time, ev Event) (Event, error) {
	if f.StreamID != 0 {
		return ev, fmt.Errorf("%w: ping on stream %d", ErrInvalidFrame, f.StreamID)
	}
	switch {
	case f.Flags.Has(FlagSYN):
		ev.Reply = append(ev.Reply, Frame{Header: Header{Type: TypePing, Flags: FlagACK, Length: f.Length}})
	case f.Flags.Has(FlagACK):
		sent, ok := s.PingsSent[f.Length]
		if ok {
			delete(s.PingsSent, f.Length)
			s.RTT = now.Sub(sent)
			ev.Pong = true
			ev.RTT = s.RTT
		}
	}
	return ev, nil
}

func (s *State) applyStream(f Frame, ev Event) (Event, error) {
	id := f.StreamID
	if id == 0 {
		return ev, fmt.Errorf("%w: %v on session id", ErrInvalidFrame, f.Type)
	}
	st, ok := s.Streams[id]
	if f.Flags.Has(FlagSYN) {
		if ok {
			return ev, fmt.Errorf("%w: duplicate stream %d", ErrInvalidFrame, id)
		}
		if s.isLocal(id) {
			return ev, fmt.Errorf("%w: remote opened stream %d with our parity", ErrInvalidFrame, id)
		}
		if s.GoAwaySent {
			ev.Reply = append(ev.Reply, s.windowUpdate(id, FlagRST, 0))
			return ev, nil
		}
		st = s.newStream(true)
		st.Acked = true
		s.Streams[id] = st
		ev.Opened = true
		ev.Reply = append(ev.Reply, s.windowUpdate(id, FlagACK, s.cfg.InitialWindow-DefaultWindow))
	} else if !ok {
		// late frames for a stream we already dropped
		return ev, nil
	}
	if f.Flags.Has(FlagACK) {
		st.Acked = true
	}
	if f.Flags.Has(FlagRST) {
		delete(s.Streams, id)
		ev.Removed = true
		return ev, nil
	}

	switch f.Type {
	case TypeWindowUpdate:
		if f.Length > math.MaxUint32-st.SendWindow {
			return ev, ErrWindowOverflow
		}
		st.SendWindow += f.Length
		ev.Reply = append(ev.Reply, s.flush(id, st)...)
	case TypeData:
		n := uint32(len(f.Payload))
		if n > st.RecvWindow {
			return ev, ErrWindowExceeded
		}
		st.RecvWindow -= n
		st.Unacked += n
		if n > 0 {
			ev.Data = f.Payload
		}
		if st.Unacked >= s.cfg.InitialWindow/2 {
			ev.Reply = append(ev.Reply, s.windowUpdate(id, 0, st.Unacked))
			st.RecvWindow += st.Unacked
			st.Unacked = 0
		}
	}

	if f.Flags.Has(FlagFIN) && !st.RemoteClosed {
		st.RemoteClosed = true
		ev.RemoteClosed = true
		if st.LocalClosed {
			delete(s.Streams, id)
			ev.Removed = true
		}
	}
	return ev, nil
}
