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

package control

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Sybl-ml/dodona-sub000/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPeriod = 20 * time.Millisecond

func startServer(t *testing.T, ctx context.Context) *Server {
	s := NewServer("127.0.0.1:0", testPeriod)
	require.NoError(t, s.Listen(ctx))
	go s.Serve(ctx)
	return s
}

func requestPort(t *testing.T, addr string) *uint16 {
	raw, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	c := protocol.NewConn(raw)
	defer c.Close()

	require.NoError(t, c.Send(protocol.PortRequest{}))
	msg, err := c.RecvTimeout(time.Second)
	require.NoError(t, err)
	resp, ok := msg.(protocol.PortResponse)
	require.True(t, ok)
	return resp.Port
}

// registerEdge announces a port and echoes heartbeats until stop is
// closed.
func registerEdge(t *testing.T, addr string, port uint16, stop chan struct{}) {
	raw, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	c := protocol.NewConn(raw)
	require.NoError(t, c.Send(protocol.ChildNodeRequest{Port: port}))
	go func() {
		defer c.Close()
		for {
			select {
			case <-stop:
				return
			default:
			}
			msg, err := c.RecvTimeout(time.Second)
			if err != nil {
				return
			}
			if probe, ok := msg.(protocol.Alive); ok {
				if c.Send(probe) != nil {
					return
				}
			}
		}
	}()
}

func TestPortRequestWithoutEdges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := startServer(t, ctx)

	assert.Nil(t, requestPort(t, s.Addr().String()))
}

func TestPortRequestReturnsRegisteredPort(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := startServer(t, ctx)

	stop := make(chan struct{})
	defer close(stop)
	registerEdge(t, s.Addr().String(), 4040, stop)

	require.Eventually(t, func() bool {
		return len(s.Ports()) == 1
	}, time.Second, 5*time.Millisecond)

	port := requestPort(t, s.Addr().String())
	require.NotNil(t, port)
	assert.Equal(t, uint16(4040), *port)
}

func TestPortRequestDrawsFromAllEdges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := startServer(t, ctx)

	stop := make(chan struct{})
	defer close(stop)
	registerEdge(t, s.Addr().String(), 4040, stop)
	registerEdge(t, s.Addr().String(), 4041, stop)

	require.Eventually(t, func() bool {
		return len(s.Ports()) == 2
	}, time.Second, 5*time.Millisecond)

	for i := 0; i < 20; i++ {
		port := requestPort(t, s.Addr().String())
		require.NotNil(t, port)
		assert.Contains(t, []uint16{4040, 4041}, *port)
	}
}

func TestEdgeEvictedAfterSilence(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := startServer(t, ctx)

	// register and immediately stop echoing
	raw, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	c := protocol.NewConn(raw)
	require.NoError(t, c.Send(protocol.ChildNodeRequest{Port: 4040}))
	c.Close()

	require.Eventually(t, func() bool {
		return len(s.Ports()) == 1
	}, time.Second, 5*time.Millisecond)

	// ten missed rounds later the port is gone
	require.Eventually(t, func() bool {
		return len(s.Ports()) == 0
	}, 3*time.Second, 10*time.Millisecond)

	assert.Nil(t, requestPort(t, s.Addr().String()))
}

func TestRegistrarKeepsEdgeAlive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := startServer(t, ctx)

	r := NewRegistrar(s.Addr().String(), 5050)
	r.retryDelay = 10 * time.Millisecond
	go r.Run(ctx)

	require.Eventually(t, func() bool {
		ports := s.Ports()
		return len(ports) == 1 && ports[0] == 5050
	}, time.Second, 5*time.Millisecond)

	// survives well past several heartbeat rounds
	time.Sleep(10 * testPeriod)
	ports := s.Ports()
	require.Len(t, ports, 1)
	assert.Equal(t, uint16(5050), ports[0])
}
