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

// Package settle turns ensemble weights into performance records and
// credit transfers between the project owner and contributing model
// owners.
package settle

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Sybl-ml/dodona-sub000/perfcache"
	"github.com/Sybl-ml/dodona-sub000/pool"
	"github.com/Sybl-ml/dodona-sub000/store"
	"github.com/rs/zerolog/log"
)

// platformFee is the fraction of the job cost retained by the platform;
// the rest is split between contributors by weight.
const platformFee = 0.25

// Signal maps a worker's normalised ensemble weight to a performance
// value in [0,1]. A weight of exactly 1/|cluster| (an average
// contribution) lands on 0.5.
func Signal(weight float64, clusterSize int) float64 {
	return 0.5*math.Tanh(2*(weight*float64(clusterSize)-1)) + 0.5
}

// Credits is the integer payout of one contributor.
func Credits(cost int, weight float64) int {
	return int(math.Floor(float64(cost) * (1 - platformFee) * weight))
}

// JobCost is the admission-time price of a job.
func JobCost(clusterSize, featureDim, trainSize, predictSize int) int {
	totalRows := trainSize + predictSize
	blocks := int(math.Ceil(float64(totalRows) / 1000))
	if blocks < 1 {
		blocks = 1
	}
	return clusterSize * featureDim * blocks
}

// Settler applies per-worker settlement after a completed job.
type Settler struct {
	db    store.Store
	cache *perfcache.Cache
	nodes *pool.Pool
}

func New(db store.Store, cache *perfcache.Cache, nodes *pool.Pool) *Settler {
	return &Settler{db: db, cache: cache, nodes: nodes}
}

// SettleWorker records one contributor's performance signal and pays
// out its share of the job cost.
func (s *Settler) SettleWorker(
	ctx context.Context,
	projectID string,
	w *pool.Worker,
	weight float64,
	clusterSize int,
	cost int,
) error {
	signal := Signal(weight, clusterSize)
	now := time.Now()

	if err := s.db.AddPerformance(ctx, store.PerformanceRecord{
		ProjectID:   projectID,
		ModelID:     w.ModelID,
		Performance: signal,
		CreatedAt:   now,
	}); err != nil {
		return fmt.Errorf("failed to settle worker %s: %w", w.ModelID, err)
	}
	if s.cache != nil {
		if err := s.cache.Append(w.ModelID, signal, now); err != nil {
			// the store copy is authoritative, a stale cache only
			// degrades the next warm start
			log.Warn().Err(err).Str("modelId", w.ModelID).
				Msg("failed to append to local performance cache")
		}
	}
	s.nodes.UpdatePerformance(w.ModelID, signal)

	credits := Credits(cost, weight)
	if err := s.db.AddModelCredits(ctx, w.ModelID, credits); err != nil {
		return fmt.Errorf("failed to settle worker %s: %w", w.ModelID, err)
	}
	if err := s.db.Pay(ctx, w.OwnerID, credits); err != nil {
		return fmt.Errorf("failed to settle worker %s: %w", w.ModelID, err)
	}
	s.nodes.AddCredits(w.ModelID, credits)

	log.Info().
		Str("modelId", w.ModelID).
		Float64("weight", weight).
		Float64("signal", signal).
		Int("credits", credits).
		Msg("worker settled")
	return nil
}
