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

package pool

import (
	"math/rand"
	"sync"

	"github.com/rs/zerolog/log"
)

// Cluster is the ephemeral reservation of workers for one job, keyed by
// model id. It exists only while an executor owns it.
type Cluster map[string]*Worker

// goodPerformance is the threshold above which a worker counts into the
// preferred draw list during cluster formation.
const goodPerformance = 0.5

// OfferFunc performs the JobConfig/ConfigResponse round trip with one
// candidate worker and reports whether it accepted. The callback runs
// outside the pool lock and must bound its own waiting.
type OfferFunc func(w *Worker) bool

// ReserveCluster atomically reserves exactly size workers, or nothing.
// Every currently active worker not under a health probe is marked
// reserved and offered the job;
// if fewer than size accept, all candidates are released and nil is
// returned, leaving the active counter unchanged. Otherwise the cluster
// is drawn from the accepters, preferring well-performing workers while
// the running average is low, and every unchosen candidate is released.
func (p *Pool) ReserveCluster(size int, offer OfferFunc) Cluster {
	if size < 1 {
		return nil
	}

	p.mu.Lock()
	if int(p.active.Load()) < size {
		p.mu.Unlock()
		return nil
	}
	candidates := make([]*Worker, 0, len(p.workers))
	for _, w := range p.workers {
		if w.alive && !w.inUse && !w.probing {
			w.inUse = true
			p.active.Add(-1)
			candidates = append(candidates, w)
		}
	}
	p.mu.Unlock()

	accepted := p.collectOffers(candidates, offer)

	if len(accepted) < size {
		log.Debug().
			Int("accepted", len(accepted)).
			Int("clusterSize", size).
			Msg("not enough accepting workers, releasing candidates")
		for _, w := range accepted {
			p.Release(w.ModelID)
		}
		return nil
	}

	cluster := p.drawCluster(accepted, size)
	return cluster
}

// collectOffers runs the offer round trip against every candidate in
// parallel; rejecting candidates are released immediately.
func (p *Pool) collectOffers(candidates []*Worker, offer OfferFunc) []*Worker {
	var (
		mu       sync.Mutex
		accepted []*Worker
		wg       sync.WaitGroup
	)
	for _, w := range candidates {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if offer(w) {
				mu.Lock()
				accepted = append(accepted, w)
				mu.Unlock()

			} else {
				p.Release(w.ModelID)
			}
		}(w)
	}
	wg.Wait()
	return accepted
}

// drawCluster picks size members out of the accepters. While the
// cluster's running average performance is zero, already good, or no
// preferred worker remains, the draw is uniform over all accepters;
// otherwise it is uniform over the preferred (performance > 0.5) ones.
// The running average follows the historical (avg+p)/k update.
func (p *Pool) drawCluster(accepted []*Worker, size int) Cluster {
	p.mu.RLock()
	better := make([]*Worker, 0, len(accepted))
	perfs := make(map[string]float64, len(accepted))
	for _, w := range accepted {
		perfs[w.ModelID] = w.performance
		if w.performance > goodPerformance {
			better = append(better, w)
		}
	}
	p.mu.RUnlock()

	cluster := make(Cluster, size)
	var avg float64
	for k := 1; k <= size; k++ {
		var pick *Worker
		if avg == 0 || avg > goodPerformance || len(better) == 0 {
			pick = accepted[rand.Intn(len(accepted))]

		} else {
			pick = better[rand.Intn(len(better))]
		}
		accepted = removeWorker(accepted, pick)
		better = removeWorker(better, pick)
		cluster[pick.ModelID] = pick
		avg = (avg + perfs[pick.ModelID]) / float64(k)
	}

	for _, w := range accepted {
		p.Release(w.ModelID)
	}
	log.Info().
		Int("clusterSize", size).
		Float64("avgPerformance", avg).
		Msg("cluster reserved")
	return cluster
}

func removeWorker(workers []*Worker, target *Worker) []*Worker {
	for i, w := range workers {
		if w == target {
			workers[i] = workers[len(workers)-1]
			return workers[:len(workers)-1]
		}
	}
	return workers
}
