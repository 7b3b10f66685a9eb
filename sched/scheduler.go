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

package sched

import (
	"context"
	"fmt"
	"time"

	"github.com/Sybl-ml/dodona-sub000/anon"
	"github.com/Sybl-ml/dodona-sub000/pool"
	"github.com/Sybl-ml/dodona-sub000/protocol"
	"github.com/rs/zerolog/log"
)

const dfltOfferTimeout = 20 * time.Second

// DispatchFunc hands a reserved cluster plus the anonymised dataset
// over to an executor task.
type DispatchFunc func(
	ctx context.Context,
	entry *Entry,
	cluster pool.Cluster,
	schema *anon.Schema,
	data *anon.Dataset,
)

// Scheduler pops eligible jobs, anonymises their datasets with a fresh
// per-attempt schema, reserves a cluster and dispatches executor tasks.
// Popping is single-threaded; dispatched jobs run independently.
type Scheduler struct {
	queue        *Queue
	nodes        *pool.Pool
	offerTimeout time.Duration
	dispatch     DispatchFunc
}

func New(queue *Queue, nodes *pool.Pool, dispatch DispatchFunc) *Scheduler {
	return &Scheduler{
		queue:        queue,
		nodes:        nodes,
		offerTimeout: dfltOfferTimeout,
		dispatch:     dispatch,
	}
}

// Run loops until ctx is cancelled or the queue is closed.
func (s *Scheduler) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		s.queue.Close()
	}()

	for {
		entry, idx, ok := s.queue.WaitPopEligible(s.nodes.ActiveCount)
		if !ok {
			log.Info().Msg("job queue closed, scheduler exiting")
			return
		}
		s.tryDispatch(ctx, entry, idx)
	}
}

func (s *Scheduler) tryDispatch(ctx context.Context, entry *Entry, idx int) {
	schema, data, err := anon.Anonymise(
		entry.Train, entry.Predict, entry.Job.Config.PredictionColumn)
	if err != nil {
		// a dataset which cannot be anonymised can never run; drop it
		log.Error().Err(err).
			Str("jobId", entry.Job.ID).
			Str("projectId", entry.ProjectID).
			Msg("failed to anonymise dataset, dropping job")
		return
	}

	jobConfig, err := BuildJobConfig(entry.Job.Config, schema)
	if err != nil {
		log.Error().Err(err).Str("jobId", entry.Job.ID).Msg("dropping job")
		return
	}

	cluster := s.nodes.ReserveCluster(entry.Job.Config.ClusterSize, func(w *pool.Worker) bool {
		return offerJob(w, jobConfig, s.offerTimeout)
	})
	if cluster == nil {
		log.Debug().
			Str("jobId", entry.Job.ID).
			Int("clusterSize", entry.Job.Config.ClusterSize).
			Msg("cluster reservation failed, requeueing job")
		s.queue.Reinsert(entry, idx)
		return
	}

	entry.Job.Processed = true
	log.Info().
		Str("jobId", entry.Job.ID).
		Str("projectId", entry.ProjectID).
		Int("clusterSize", entry.Job.Config.ClusterSize).
		Msg("job dispatched")
	go s.dispatch(ctx, entry, cluster, schema, data)
}

// BuildJobConfig maps the stored job configuration into the wire form,
// with the prediction column already pseudonymised.
func BuildJobConfig(cfg JobConfig, schema *anon.Schema) (protocol.JobConfig, error) {
	pseudonym, ok := schema.Pseudonym(cfg.PredictionColumn)
	if !ok {
		return protocol.JobConfig{}, fmt.Errorf(
			"prediction column %q not present in schema", cfg.PredictionColumn)
	}
	return protocol.JobConfig{
		Timeout:          int32(cfg.NodeComputationTime),
		ClusterSize:      int32(cfg.ClusterSize),
		ColumnTypes:      schema.ColumnTypes(),
		PredictionColumn: pseudonym,
		PredictionType:   cfg.PredictionType,
	}, nil
}

// offerJob performs the JobConfig round trip with one candidate within
// a bounded window.
func offerJob(w *pool.Worker, cfg protocol.JobConfig, timeout time.Duration) bool {
	if err := w.Conn.Send(cfg); err != nil {
		log.Warn().Err(err).Str("modelId", w.ModelID).Msg("failed to offer job")
		return false
	}
	msg, err := w.Conn.RecvTimeout(timeout)
	if err != nil {
		log.Warn().Err(err).Str("modelId", w.ModelID).Msg("no answer to job offer")
		return false
	}
	resp, ok := msg.(protocol.ConfigResponse)
	if !ok {
		log.Warn().Str("modelId", w.ModelID).Msgf("unexpected offer answer %T", msg)
		return false
	}
	return resp.Accept
}
