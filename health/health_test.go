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

package health

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/Sybl-ml/dodona-sub000/pool"
	"github.com/Sybl-ml/dodona-sub000/protocol"
	"github.com/Sybl-ml/dodona-sub000/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPeriod = 50 * time.Millisecond

// echoWorker answers n heartbeats with the probe's own timestamp, then
// closes the socket.
func echoWorker(conn net.Conn, n int) {
	c := protocol.NewConn(conn)
	defer c.Close()
	for i := 0; i < n; i++ {
		msg, err := c.Recv()
		if err != nil {
			return
		}
		probe, ok := msg.(protocol.Alive)
		if !ok {
			return
		}
		if err := c.Send(protocol.Alive{Timestamp: probe.Timestamp}); err != nil {
			return
		}
	}
}

func newWorker(script func(conn net.Conn)) (*pool.Pool, *pool.Worker) {
	edge, worker := net.Pipe()
	go script(worker)
	nodes := pool.New(nil)
	w := pool.NewWorker("m0", "u0", protocol.NewConn(edge))
	nodes.Add(w)
	return nodes, w
}

func missedCount(t *testing.T, nodes *pool.Pool) int {
	snapshot := nodes.Snapshot()
	require.Len(t, snapshot, 1)
	return snapshot[0].MissedHeartbeats
}

func TestCheckGoodEcho(t *testing.T) {
	nodes, w := newWorker(func(conn net.Conn) { echoWorker(conn, 1) })
	m := New(nodes, store.NewMock(), testPeriod)

	m.Check(context.Background(), w)
	assert.Equal(t, 0, missedCount(t, nodes))
}

func TestCheckSkipsStaleFrames(t *testing.T) {
	nodes, w := newWorker(func(conn net.Conn) {
		c := protocol.NewConn(conn)
		defer c.Close()
		msg, err := c.Recv()
		if err != nil {
			return
		}
		probe := msg.(protocol.Alive)
		// a leftover frame from an earlier exchange precedes the echo
		c.Send(protocol.ConfigResponse{Accept: true})
		c.Send(protocol.Alive{Timestamp: probe.Timestamp})
	})
	m := New(nodes, store.NewMock(), testPeriod)

	m.Check(context.Background(), w)
	assert.Equal(t, 0, missedCount(t, nodes))
}

func TestCheckRejectsEchoOutsideWindow(t *testing.T) {
	nodes, w := newWorker(func(conn net.Conn) {
		c := protocol.NewConn(conn)
		defer c.Close()
		msg, err := c.Recv()
		if err != nil {
			return
		}
		probe := msg.(protocol.Alive)
		c.Send(protocol.Alive{Timestamp: probe.Timestamp + 5})
	})
	m := New(nodes, store.NewMock(), testPeriod)

	m.Check(context.Background(), w)
	assert.Equal(t, 1, missedCount(t, nodes))
}

func TestCheckTimesOutOnSilence(t *testing.T) {
	nodes, w := newWorker(func(conn net.Conn) {
		c := protocol.NewConn(conn)
		// swallow the probe and never answer
		c.Recv()
		time.Sleep(5 * testPeriod)
		c.Close()
	})
	m := New(nodes, store.NewMock(), testPeriod)

	m.Check(context.Background(), w)
	assert.Equal(t, 1, missedCount(t, nodes))
}

// TestProbeBlocksJobOfferOnSameConnection pins the read ownership
// handover: while a probe waits for its echo the worker must not be
// reservable, so the offer exchange only starts once the probe is done
// and each reader sees its own reply.
func TestProbeBlocksJobOfferOnSameConnection(t *testing.T) {
	gate := make(chan struct{})
	nodes, w := newWorker(func(conn net.Conn) {
		c := protocol.NewConn(conn)
		defer c.Close()
		msg, err := c.Recv()
		if err != nil {
			return
		}
		probe, ok := msg.(protocol.Alive)
		if !ok {
			return
		}
		<-gate
		if err := c.Send(protocol.Alive{Timestamp: probe.Timestamp}); err != nil {
			return
		}
		// only now may the job offer arrive; answer it
		if _, err := c.Recv(); err != nil {
			return
		}
		c.Send(protocol.ConfigResponse{Accept: true})
	})
	m := New(nodes, store.NewMock(), 2*time.Second)

	done := make(chan struct{})
	go func() {
		m.Check(context.Background(), w)
		close(done)
	}()
	require.Eventually(t, func() bool {
		return len(nodes.IdleWorkers()) == 0
	}, time.Second, time.Millisecond)

	offer := func(cand *pool.Worker) bool {
		if err := cand.Conn.Send(protocol.JobConfig{}); err != nil {
			return false
		}
		msg, err := cand.Conn.RecvTimeout(time.Second)
		if err != nil {
			return false
		}
		resp, ok := msg.(protocol.ConfigResponse)
		return ok && resp.Accept
	}

	// while the probe owns the connection the worker is not reservable
	assert.Nil(t, nodes.ReserveCluster(1, offer))

	close(gate)
	<-done
	assert.Equal(t, 0, missedCount(t, nodes))

	cluster := nodes.ReserveCluster(1, offer)
	require.Len(t, cluster, 1)
	_, reserved := cluster["m0"]
	assert.True(t, reserved)
}

func TestEvictionAfterNineGoodThenDeath(t *testing.T) {
	db := store.NewMock()
	nodes, w := newWorker(func(conn net.Conn) { echoWorker(conn, 9) })
	m := New(nodes, db, testPeriod)
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		m.Check(ctx, w)
	}
	assert.Equal(t, 0, missedCount(t, nodes))
	assert.Equal(t, 1, nodes.ActiveCount())

	// the socket is closed now; nine more misses keep the worker around
	for i := 0; i < 9; i++ {
		m.Check(ctx, w)
	}
	assert.Equal(t, 9, missedCount(t, nodes))
	assert.Len(t, nodes.Snapshot(), 1)

	// the tenth miss evicts
	m.Check(ctx, w)
	assert.Empty(t, nodes.Snapshot())
	assert.Equal(t, 0, nodes.ActiveCount())
	assert.Equal(t, store.ModelStatusStopped, db.ModelStatuses["m0"])
}
