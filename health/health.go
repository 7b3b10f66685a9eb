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

// Package health sends periodic heartbeats to idle workers and evicts
// those which stop answering. Reserved workers are skipped entirely;
// their executor task detects failures on its own.
package health

import (
	"context"
	"time"

	"github.com/Sybl-ml/dodona-sub000/pool"
	"github.com/Sybl-ml/dodona-sub000/protocol"
	"github.com/Sybl-ml/dodona-sub000/store"
	"github.com/rs/zerolog/log"
)

const (
	// missThreshold is the number of consecutive missed heartbeats after
	// which a worker is declared terminally dead.
	missThreshold = 10

	// replyWindowSecs bounds how far ahead of the probe timestamp a
	// valid echo may lie.
	replyWindowSecs = 2
)

type Monitor struct {
	nodes  *pool.Pool
	db     store.Store
	period time.Duration
}

func New(nodes *pool.Pool, db store.Store, period time.Duration) *Monitor {
	return &Monitor{nodes: nodes, db: db, period: period}
}

// Run sweeps all idle workers every period until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log.Info().Dur("period", m.period).Msg("health monitor started")
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("health monitor stopped")
			return
		case <-ticker.C:
			for _, w := range m.nodes.IdleWorkers() {
				m.Check(ctx, w)
			}
		}
	}
}

// Check probes one worker: send Alive, then read frames until an Alive
// echo arrives or one period elapses. An echo is good when its
// timestamp lies within the probe's validity window. The worker is
// taken out of the reservable set for the duration of the probe, so
// the probe reader never competes with a job offer for the connection.
func (m *Monitor) Check(ctx context.Context, w *pool.Worker) {
	if !m.nodes.BeginProbe(w.ModelID) {
		// reserved or gone since the sweep snapshot
		return
	}
	defer m.nodes.EndProbe(w.ModelID)

	now := uint64(time.Now().Unix())
	if err := w.Conn.Send(protocol.Alive{Timestamp: now}); err != nil {
		m.miss(ctx, w)
		return
	}

	deadline := time.Now().Add(m.period)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			m.miss(ctx, w)
			return
		}
		msg, err := w.Conn.RecvTimeout(remaining)
		if err != nil {
			m.miss(ctx, w)
			return
		}
		echo, ok := msg.(protocol.Alive)
		if !ok {
			// a stale non-heartbeat frame; keep reading
			continue
		}
		if echo.Timestamp >= now && echo.Timestamp <= now+replyWindowSecs {
			m.nodes.ResetMissed(w.ModelID)
		} else {
			m.miss(ctx, w)
		}
		return
	}
}

func (m *Monitor) miss(ctx context.Context, w *pool.Worker) {
	missed := m.nodes.IncrementMissed(w.ModelID)
	log.Debug().
		Str("modelId", w.ModelID).
		Int("missed", missed).
		Msg("worker missed a heartbeat")
	if missed < missThreshold {
		return
	}

	m.nodes.SetAlive(w.ModelID, false)
	if err := m.db.SetModelStatus(ctx, w.ModelID, store.ModelStatusStopped); err != nil {
		log.Error().Err(err).
			Str("modelId", w.ModelID).
			Msg("failed to record worker stop")
	}
	m.nodes.Remove(w.ModelID)
	if err := w.Conn.Close(); err != nil {
		log.Debug().Err(err).Str("modelId", w.ModelID).Msg("failed to close worker socket")
	}
	log.Warn().Str("modelId", w.ModelID).Msg("worker evicted after missed heartbeats")
}
