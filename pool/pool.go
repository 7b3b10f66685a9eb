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

// Package pool keeps the in-memory registry of authenticated workers:
// their liveness, reservation state and historical performance. The
// registry is reader-writer protected; the active-worker counter is an
// atomic read without the lock. Every event which can make a queued job
// eligible (a worker added, released or revived) pokes the scheduler
// through the configured notifier.
package pool

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// warmStartWindow is the number of most recent performance records used
// to seed a new entry's in-memory performance.
const warmStartWindow = 5

// PerformanceHistory provides past performance values of a model,
// newest first. The edge node wires the local cache backed by the
// job_performances log behind this.
type PerformanceHistory interface {
	Last(modelID string, n int) ([]float64, error)
}

// Notifier is poked whenever worker availability grows; the scheduler's
// queue implements it.
type Notifier interface {
	Notify()
}

type Pool struct {
	mu      sync.RWMutex
	workers map[string]*Worker
	active  atomic.Int64

	history  PerformanceHistory
	notifier Notifier
}

func New(history PerformanceHistory) *Pool {
	return &Pool{
		workers: make(map[string]*Worker),
		history: history,
	}
}

// SetNotifier wires the scheduler wake-up; must be called before the
// pool starts mutating.
func (p *Pool) SetNotifier(n Notifier) {
	p.notifier = n
}

func (p *Pool) notify() {
	if p.notifier != nil {
		p.notifier.Notify()
	}
}

// ActiveCount is the number of workers which are alive and not
// currently reserved.
func (p *Pool) ActiveCount() int {
	return int(p.active.Load())
}

// Add inserts or replaces the entry for the worker's model id and
// reports whether the worker was admitted. A model which is currently
// reserved for a job keeps its running session; the duplicate is
// refused so the executor's eventual Release cannot free a stranger.
// The initial performance is the arithmetic mean of the worker's last
// five recorded outcomes, zero when it has none.
func (p *Pool) Add(w *Worker) bool {
	w.performance = p.initialPerformance(w.ModelID)

	p.mu.Lock()
	prev, existed := p.workers[w.ModelID]
	if existed && prev.inUse {
		p.mu.Unlock()
		log.Warn().
			Str("modelId", w.ModelID).
			Msg("refusing duplicate session for a reserved worker")
		return false
	}
	w.alive = true
	w.inUse = false
	p.workers[w.ModelID] = w
	if !existed || !prev.alive {
		p.active.Add(1)
	}
	p.mu.Unlock()

	log.Info().
		Str("modelId", w.ModelID).
		Float64("performance", w.performance).
		Msg("worker joined the pool")
	p.notify()
	return true
}

func (p *Pool) initialPerformance(modelID string) float64 {
	if p.history == nil {
		return 0
	}
	values, err := p.history.Last(modelID, warmStartWindow)
	if err != nil {
		log.Warn().Err(err).Str("modelId", modelID).
			Msg("failed to warm-start worker performance")
		return 0
	}
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// Release returns a reserved worker to the available set.
func (p *Pool) Release(modelID string) {
	p.mu.Lock()
	w, ok := p.workers[modelID]
	if ok && w.inUse {
		w.inUse = false
		p.active.Add(1)
	}
	p.mu.Unlock()
	if ok {
		p.notify()
	}
}

// SetAlive updates a worker's liveness, maintaining the active counter:
// a revival of a non-reserved worker increments it, a death of a
// non-reserved worker decrements it.
func (p *Pool) SetAlive(modelID string, alive bool) {
	p.mu.Lock()
	w, ok := p.workers[modelID]
	var revived bool
	if ok && w.alive != alive {
		if !w.inUse {
			if alive {
				p.active.Add(1)
				revived = true
			} else {
				p.active.Add(-1)
			}
		}
		w.alive = alive
	}
	p.mu.Unlock()
	if revived {
		p.notify()
	}
}

// UpdatePerformance folds a new outcome into a worker's exponentially
// weighted performance.
func (p *Pool) UpdatePerformance(modelID string, value float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[modelID]
	if !ok {
		return
	}
	if w.performance != 0 {
		w.performance = (w.performance + value) / 2

	} else {
		w.performance = value
	}
}

// AddCredits bumps the in-memory earned-credits counter.
func (p *Pool) AddCredits(modelID string, credits int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[modelID]; ok {
		w.creditsEarned += credits
	}
}

// Remove drops a worker from the registry. Intended for terminally dead
// workers which are not reserved.
func (p *Pool) Remove(modelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[modelID]
	if !ok {
		return
	}
	if w.alive && !w.inUse {
		p.active.Add(-1)
	}
	delete(p.workers, modelID)
}

// Get returns the live entry for a model id.
func (p *Pool) Get(modelID string) (*Worker, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	w, ok := p.workers[modelID]
	return w, ok
}

// IncrementMissed bumps the missed-heartbeats counter and returns the
// new value.
func (p *Pool) IncrementMissed(modelID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[modelID]
	if !ok {
		return 0
	}
	w.missedHeartbeats++
	return w.missedHeartbeats
}

// ResetMissed clears the missed-heartbeats counter after a good reply.
func (p *Pool) ResetMissed(modelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[modelID]; ok {
		w.missedHeartbeats = 0
	}
}

// BeginProbe hands an idle worker's connection to the health monitor
// for the duration of one heartbeat probe. A probed worker cannot be
// drawn into a cluster, so at most one goroutine reads the connection
// at a time. Returns false when the worker is gone, dead, reserved or
// already being probed.
func (p *Pool) BeginProbe(modelID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.workers[modelID]
	if !ok || !w.alive || w.inUse || w.probing {
		return false
	}
	w.probing = true
	return true
}

// EndProbe returns a probed worker to the reservable set.
func (p *Pool) EndProbe(modelID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if w, ok := p.workers[modelID]; ok {
		w.probing = false
	}
}

// IdleWorkers snapshots workers which are alive, not reserved and not
// under a running probe; the health monitor iterates these.
func (p *Pool) IdleWorkers() []*Worker {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ans := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		if w.alive && !w.inUse && !w.probing {
			ans = append(ans, w)
		}
	}
	return ans
}

// Snapshot copies the state of every registered worker, sorted by
// model id for stable diagnostics output.
func (p *Pool) Snapshot() []WorkerInfo {
	p.mu.RLock()
	ans := make([]WorkerInfo, 0, len(p.workers))
	for _, w := range p.workers {
		ans = append(ans, w.info())
	}
	p.mu.RUnlock()
	sort.Slice(ans, func(i, j int) bool {
		return ans[i].ModelID < ans[j].ModelID
	})
	return ans
}
