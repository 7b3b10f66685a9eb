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

// Package intake consumes job descriptors from the "jobs" topic,
// resolves each project's dataset pair from the document store and
// feeds admissible jobs into the scheduler queue. A descriptor which
// cannot be admitted (malformed JSON, missing dataset, non-UTF-8
// payload) is logged and dropped; the consumer never stalls the topic.
package intake

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/Sybl-ml/dodona-sub000/derrors"
	"github.com/Sybl-ml/dodona-sub000/sched"
	"github.com/Sybl-ml/dodona-sub000/settle"
	"github.com/Sybl-ml/dodona-sub000/store"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	jobsTopic     = "jobs"
	consumerGroup = "dcl"
)

type Consumer struct {
	reader *kafka.Reader
	db     store.Store
	queue  *sched.Queue
}

func New(brokerAddr string, db store.Store, queue *sched.Queue) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{brokerAddr},
			GroupID: consumerGroup,
			Topic:   jobsTopic,
		}),
		db:    db,
		queue: queue,
	}
}

// Run consumes until ctx is cancelled. A message is committed whether
// or not it was admitted; replaying a dropped descriptor would fail
// the same way again.
func (c *Consumer) Run(ctx context.Context) {
	log.Info().Str("topic", jobsTopic).Msg("job intake started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				log.Info().Msg("job intake stopped")
				return
			}
			log.Error().Err(err).Msg("failed to fetch intake message")
			continue
		}
		if err := c.admit(ctx, msg.Value); err != nil {
			log.Error().Err(err).Msg("dropping inadmissible job descriptor")
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			log.Error().Err(err).Msg("failed to commit intake message")
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

// admit turns one raw descriptor payload into a queue entry.
func (c *Consumer) admit(ctx context.Context, payload []byte) error {
	var job sched.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("failed to decode job descriptor: %w", err)
	}
	if err := job.Validate(); err != nil {
		return fmt.Errorf("failed to validate job descriptor: %w", err)
	}

	pair, err := c.db.DatasetPair(ctx, job.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to fetch dataset pair for job %s: %w", job.ID, err)
	}
	if !utf8.Valid(pair.Train) || !utf8.Valid(pair.Predict) {
		return derrors.WithCode(
			derrors.Unprocessable,
			http.StatusUnprocessableEntity,
			fmt.Errorf("dataset of project %s is not valid UTF-8", job.ProjectID),
		)
	}

	if job.Config.Cost == 0 {
		job.Config.Cost = settle.JobCost(
			job.Config.ClusterSize,
			job.Config.FeatureDim,
			job.Config.TrainSize,
			job.Config.PredictSize,
		)
	}

	c.queue.Push(&sched.Entry{
		ProjectID: job.ProjectID,
		Train:     string(pair.Train),
		Predict:   string(pair.Predict),
		Job:       job,
	})
	log.Info().
		Str("jobId", job.ID).
		Str("projectId", job.ProjectID).
		Int("clusterSize", job.Config.ClusterSize).
		Int("cost", job.Config.Cost).
		Msg("job admitted")
	return nil
}
