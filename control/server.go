// Copyright 2025 Sybl Developers
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package control implements the control-plane socket: starting workers
// ask it for an edge port to register against, edge nodes announce their
// worker-facing port and keep it alive through heartbeats. An evicted
// edge loses only its place in the draw set; workers already attached to
// it are unaffected.
package control

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/Sybl-ml/dodona-sub000/protocol"
	"github.com/czcorpus/cnc-gokit/collections"
	"github.com/rs/zerolog/log"
)

const (
	// missThreshold mirrors the worker-side heartbeat policy: ten
	// consecutive bad rounds evict the edge.
	missThreshold = 10

	// firstMessageWindow bounds the wait for a connection to identify
	// itself.
	firstMessageWindow = 30 * time.Second
)

// Server is the control-plane endpoint.
type Server struct {
	listenAddr string
	period     time.Duration

	mu    sync.Mutex
	ports map[uint16]struct{}

	ln net.Listener
}

func NewServer(listenAddr string, period time.Duration) *Server {
	return &Server{
		listenAddr: listenAddr,
		period:     period,
		ports:      make(map[uint16]struct{}),
	}
}

// Listen binds the control socket. Split from Serve so callers can
// learn the bound address before accepting.
func (s *Server) Listen(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.listenAddr)
	if err != nil {
		return err
	}
	s.ln = ln
	log.Info().Str("addr", ln.Addr().String()).Msg("control plane listening")
	return nil
}

func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve accepts connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				log.Info().Msg("control plane stopped")
				return nil
			}
			return err
		}
		go s.serveConn(ctx, protocol.NewConn(conn))
	}
}

// Run binds and serves in one call.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Listen(ctx); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Ports snapshots the registered edge ports.
func (s *Server) Ports() []uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ans := make([]uint16, 0, len(s.ports))
	for p := range s.ports {
		ans = append(ans, p)
	}
	return ans
}

func (s *Server) serveConn(ctx context.Context, c *protocol.Conn) {
	defer c.Close()
	msg, err := c.RecvTimeout(firstMessageWindow)
	if err != nil {
		log.Warn().Err(err).Msg("control connection failed before identifying")
		return
	}
	switch m := msg.(type) {
	case protocol.PortRequest:
		s.answerPortRequest(c)
	case protocol.ChildNodeRequest:
		s.superviseEdge(ctx, c, m.Port)
	default:
		err := protocol.ExpectedError("PortRequest or ChildNodeRequest", msg)
		log.Warn().Err(err).Msg("closing control connection")
		c.SendError(err)
	}
}

func (s *Server) answerPortRequest(c *protocol.Conn) {
	var resp protocol.PortResponse
	s.mu.Lock()
	if len(s.ports) > 0 {
		ports := make([]uint16, 0, len(s.ports))
		for p := range s.ports {
			ports = append(ports, p)
		}
		pick := collections.SliceSample(ports, 1)[0]
		resp.Port = &pick
	}
	s.mu.Unlock()
	if err := c.Send(resp); err != nil {
		log.Warn().Err(err).Msg("failed to answer port request")
	}
}

// superviseEdge registers the announced port and heartbeats the edge
// until it misses ten consecutive rounds.
func (s *Server) superviseEdge(ctx context.Context, c *protocol.Conn, port uint16) {
	s.mu.Lock()
	s.ports[port] = struct{}{}
	s.mu.Unlock()
	log.Info().Uint16("port", port).Msg("edge node registered")

	defer func() {
		s.mu.Lock()
		delete(s.ports, port)
		s.mu.Unlock()
		log.Warn().Uint16("port", port).Msg("edge node evicted")
	}()

	ticker := time.NewTicker(s.period)
	defer ticker.Stop()
	var missed int
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.heartbeatRound(c) {
				missed = 0
			} else {
				missed++
				if missed >= missThreshold {
					return
				}
			}
		}
	}
}

// heartbeatRound sends one probe and requires the identical Alive back
// within a period.
func (s *Server) heartbeatRound(c *protocol.Conn) bool {
	ts := uint64(time.Now().Unix())
	if err := c.Send(protocol.Alive{Timestamp: ts}); err != nil {
		return false
	}
	msg, err := c.RecvTimeout(s.period)
	if err != nil {
		return false
	}
	echo, ok := msg.(protocol.Alive)
	return ok && echo.Timestamp == ts
}
