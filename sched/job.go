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
	"fmt"
	"time"

	"github.com/Sybl-ml/dodona-sub000/protocol"
)

// JobConfig mirrors the job descriptor configuration carried on the
// intake bus.
type JobConfig struct {
	ClusterSize         int                     `json:"cluster_size"`
	NodeComputationTime int                     `json:"node_computation_time"`
	ColumnTypes         []string                `json:"column_types"`
	FeatureDim          int                     `json:"feature_dim"`
	TrainSize           int                     `json:"train_size"`
	PredictSize         int                     `json:"predict_size"`
	PredictionColumn    string                  `json:"prediction_column"`
	PredictionType      protocol.PredictionType `json:"prediction_type"`
	Cost                int                     `json:"cost"`
}

// Job is one unit of work as announced by the management plane.
type Job struct {
	ID        string    `json:"job_id"`
	ProjectID string    `json:"project_id"`
	Config    JobConfig `json:"config"`
	CreatedAt time.Time `json:"created_at"`
	Processed bool      `json:"processed"`
}

func (j Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job without an id")
	}
	if j.ProjectID == "" {
		return fmt.Errorf("job %s without a project reference", j.ID)
	}
	if j.Config.ClusterSize < 1 {
		return fmt.Errorf(
			"job %s with invalid cluster size %d", j.ID, j.Config.ClusterSize)
	}
	switch j.Config.PredictionType {
	case protocol.PredictionClassification, protocol.PredictionRegression:
	default:
		return fmt.Errorf(
			"job %s with unknown prediction type %q", j.ID, j.Config.PredictionType)
	}
	return nil
}

// Entry is a job which passed intake, together with its decoded
// dataset pair.
type Entry struct {
	ProjectID string
	Train     string
	Predict   string
	Job       Job
}
