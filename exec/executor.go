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

// Package exec orchestrates one dispatched job against a reserved
// cluster: dataset delivery, prediction collection, error-weighted
// ensembling, de-anonymisation, persistence and settlement. A failing
// worker never fails the job as long as at least one valid contribution
// survives.
package exec

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sybl-ml/dodona-sub000/anon"
	"github.com/Sybl-ml/dodona-sub000/pool"
	"github.com/Sybl-ml/dodona-sub000/protocol"
	"github.com/Sybl-ml/dodona-sub000/sched"
	"github.com/Sybl-ml/dodona-sub000/settle"
	"github.com/Sybl-ml/dodona-sub000/store"
	"github.com/dsnet/compress/bzip2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	// acceptWindow bounds the executor-side ConfigResponse wait
	acceptWindow = 30 * time.Second

	// responseGrace is added on top of the worker's declared
	// computation time before a Predictions read gives up
	responseGrace = 30 * time.Second
)

type Executor struct {
	nodes   *pool.Pool
	db      store.Store
	settler *settle.Settler
}

func New(nodes *pool.Pool, db store.Store, settler *settle.Settler) *Executor {
	return &Executor{nodes: nodes, db: db, settler: settler}
}

// Run processes one dispatched job to completion. It matches the
// sched.DispatchFunc signature.
func (ex *Executor) Run(
	ctx context.Context,
	entry *sched.Entry,
	cluster pool.Cluster,
	schema *anon.Schema,
	data *anon.Dataset,
) {
	// jobs may be attempted more than once; the attempt id correlates
	// log lines of one run
	attemptID := uuid.New().String()
	logger := log.With().
		Str("jobId", entry.Job.ID).
		Str("attemptId", attemptID).
		Logger()

	jobConfig, err := sched.BuildJobConfig(entry.Job.Config, schema)
	if err != nil {
		logger.Error().Err(err).Msg("failed to execute job")
		for id := range cluster {
			ex.nodes.Release(id)
		}
		return
	}

	contribs := ex.collectContributions(entry, cluster, jobConfig, data)
	defer func() {
		for _, c := range contribs {
			ex.nodes.Release(c.worker.ModelID)
		}
	}()

	if len(contribs) == 0 {
		// the project keeps its Processing status; nothing to write
		logger.Warn().
			Str("projectId", entry.ProjectID).
			Msg("no worker contributed, job completes without predictions")
		return
	}

	normaliseWeights(contribs)
	ensembled, err := ensemble(
		entry.Job.Config.PredictionType, contribs, data.PredictionIDs)
	if err != nil {
		logger.Error().Err(err).Msg("failed to execute job")
		return
	}

	output, err := ex.deanonymise(entry, schema, data, ensembled)
	if err != nil {
		logger.Error().Err(err).Msg("failed to execute job")
		return
	}

	if err := ex.persist(ctx, entry, contribs, output); err != nil {
		logger.Error().Err(err).Msg("failed to execute job")
		return
	}

	for _, c := range contribs {
		err := ex.settler.SettleWorker(
			ctx,
			entry.ProjectID,
			c.worker,
			c.weight,
			len(cluster),
			entry.Job.Config.Cost,
		)
		if err != nil {
			logger.Error().Err(err).
				Str("modelId", c.worker.ModelID).
				Msg("failed to settle contribution")
		}
	}
	logger.Info().
		Str("projectId", entry.ProjectID).
		Int("contributors", len(contribs)).
		Msg("job completed")
}

// collectContributions runs one task per cluster member and gathers the
// surviving contributions. Failed workers release themselves on the way
// out, so afterwards only contributors remain reserved.
func (ex *Executor) collectContributions(
	entry *sched.Entry,
	cluster pool.Cluster,
	jobConfig protocol.JobConfig,
	data *anon.Dataset,
) []*contribution {
	var (
		mu       sync.Mutex
		contribs []*contribution
		wg       sync.WaitGroup
	)
	for _, w := range cluster {
		wg.Add(1)
		go func(w *pool.Worker) {
			defer wg.Done()
			c := ex.solicit(entry, w, jobConfig, data)
			if c != nil {
				mu.Lock()
				contribs = append(contribs, c)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return contribs
}

// solicit runs the worker protocol against one cluster member. A nil
// return means the worker produced no contribution and has been
// released (and, for protocol violations, marked dead).
func (ex *Executor) solicit(
	entry *sched.Entry,
	w *pool.Worker,
	jobConfig protocol.JobConfig,
	data *anon.Dataset,
) *contribution {
	if err := w.Conn.Send(jobConfig); err != nil {
		ex.failWorker(w, err)
		return nil
	}
	msg, err := w.Conn.RecvTimeout(acceptWindow)
	if err != nil {
		ex.failWorker(w, err)
		return nil
	}
	resp, ok := msg.(protocol.ConfigResponse)
	if !ok {
		ex.failWorker(w, protocol.ExpectedError("ConfigResponse", msg))
		return nil
	}
	if !resp.Accept {
		// a late decline carries no penalty
		log.Debug().Str("modelId", w.ModelID).Msg("worker declined after reservation")
		ex.nodes.Release(w.ModelID)
		return nil
	}

	if err := w.Conn.Send(protocol.Dataset{
		Train:   data.Train,
		Predict: data.Predict,
	}); err != nil {
		ex.failWorker(w, err)
		return nil
	}

	window := time.Duration(entry.Job.Config.NodeComputationTime)*time.Second + responseGrace
	msg, err = w.Conn.RecvTimeout(window)
	if err != nil {
		ex.failWorker(w, err)
		return nil
	}
	body, ok := msg.(protocol.Predictions)
	if !ok {
		ex.failWorker(w, protocol.ExpectedError("Predictions", msg))
		return nil
	}

	preds, err := parsePredictions(string(body))
	if err != nil {
		ex.failWorker(w, err)
		return nil
	}
	if !coversExactly(preds, data.ValidationIDs, data.PredictionIDs) {
		log.Warn().Str("modelId", w.ModelID).
			Msg("record-id set mismatch, discarding contribution")
		ex.nodes.Release(w.ModelID)
		return nil
	}
	errSum, err := workerError(entry.Job.Config.PredictionType, preds, data.Answers)
	if err != nil {
		log.Warn().Err(err).Str("modelId", w.ModelID).Msg("discarding contribution")
		ex.nodes.Release(w.ModelID)
		return nil
	}
	if entry.Job.Config.PredictionType == protocol.PredictionRegression &&
		!numericPredictions(preds, data.PredictionIDs) {
		log.Warn().Str("modelId", w.ModelID).
			Msg("non-numeric regression predictions, discarding contribution")
		ex.nodes.Release(w.ModelID)
		return nil
	}
	return &contribution{worker: w, preds: preds, errSum: errSum}
}

// failWorker handles a dead or misbehaving connection: the worker is
// released first so the active counter stays consistent when the death
// is recorded right after.
func (ex *Executor) failWorker(w *pool.Worker, err error) {
	log.Warn().Err(err).Str("modelId", w.ModelID).Msg("worker failed during job")
	ex.nodes.Release(w.ModelID)
	ex.nodes.SetAlive(w.ModelID, false)
}

func numericPredictions(preds map[string]string, predictionIDs []string) bool {
	for _, id := range predictionIDs {
		if _, err := strconv.ParseFloat(preds[id], 64); err != nil {
			return false
		}
	}
	return true
}

// deanonymise builds the final prediction CSV: the original predict
// rows with the prediction column filled by the inverted ensembled
// values.
func (ex *Executor) deanonymise(
	entry *sched.Entry,
	schema *anon.Schema,
	data *anon.Dataset,
	ensembled map[string]string,
) (string, error) {
	reader := csv.NewReader(strings.NewReader(entry.Predict))
	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("failed to rebuild prediction rows: %w", err)
	}
	if len(records) == 0 {
		return "", fmt.Errorf("failed to rebuild prediction rows: empty predict data")
	}
	header := records[0]
	predIdx := -1
	for i, name := range header {
		if name == entry.Job.Config.PredictionColumn {
			predIdx = i
			break
		}
	}
	if predIdx == -1 {
		return "", fmt.Errorf(
			"failed to rebuild prediction rows: no column %q",
			entry.Job.Config.PredictionColumn)
	}
	if len(records)-1 != len(data.PredictionIDs) {
		return "", fmt.Errorf(
			"failed to rebuild prediction rows: %d rows vs %d prediction ids",
			len(records)-1, len(data.PredictionIDs))
	}

	for i, rid := range data.PredictionIDs {
		value, err := schema.DeanonymiseValue(
			entry.Job.Config.PredictionColumn, ensembled[rid])
		if err != nil {
			return "", err
		}
		records[i+1][predIdx] = value
	}

	var buf strings.Builder
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(records); err != nil {
		return "", fmt.Errorf("failed to serialise prediction rows: %w", err)
	}
	writer.Flush()
	return buf.String(), writer.Error()
}

// persist compresses and writes the prediction record, bumps each
// contributor's run counter and completes the project.
func (ex *Executor) persist(
	ctx context.Context,
	entry *sched.Entry,
	contribs []*contribution,
	output string,
) error {
	compressed, err := compress(output)
	if err != nil {
		return err
	}
	if err := ex.db.WritePredictions(ctx, entry.ProjectID, compressed); err != nil {
		return err
	}
	for _, c := range contribs {
		if err := ex.db.IncrementTimesRun(ctx, c.worker.ModelID); err != nil {
			log.Error().Err(err).
				Str("modelId", c.worker.ModelID).
				Msg("failed to bump times_run")
		}
	}
	if err := ex.db.SetProjectStatus(
		ctx, entry.ProjectID, store.ProjectStatusComplete); err != nil {
		return err
	}
	return nil
}

func compress(data string) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := bzip2.NewWriter(&buf, &bzip2.WriterConfig{
		Level: bzip2.BestCompression,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to compress predictions: %w", err)
	}
	if _, err := writer.Write([]byte(data)); err != nil {
		return nil, fmt.Errorf("failed to compress predictions: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to compress predictions: %w", err)
	}
	return buf.Bytes(), nil
}
