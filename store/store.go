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

// Package store is the document-store port of the compute layer. The
// interface covers exactly the collections the DCL reads or writes;
// everything else about the store belongs to the management plane.
package store

import (
	"context"
	"time"
)

const (
	ModelStatusRunning = "Running"
	ModelStatusStopped = "Stopped"

	ProjectStatusProcessing = "Processing"
	ProjectStatusComplete   = "Complete"
)

// DatasetPair is the raw CSV blob pair attached to a project. Bytes are
// returned undecoded; UTF-8 validation happens at job intake.
type DatasetPair struct {
	Train   []byte
	Predict []byte
}

// PerformanceRecord is one entry of the append-only per-worker
// performance log.
type PerformanceRecord struct {
	ProjectID   string    `bson:"project_id"`
	ModelID     string    `bson:"model_id"`
	Performance float64   `bson:"performance"`
	CreatedAt   time.Time `bson:"created_at"`
}

// Store abstracts the document store so components can be tested
// against an in-memory fake.
type Store interface {

	// DatasetPair fetches the two CSV blobs referenced by a project.
	DatasetPair(ctx context.Context, projectID string) (DatasetPair, error)

	// ModelOwner resolves the account owning a model, for settlement.
	ModelOwner(ctx context.Context, modelID string) (string, error)

	// SetModelStatus transitions a model between Running and Stopped.
	SetModelStatus(ctx context.Context, modelID, status string) error

	// IncrementTimesRun bumps a model's job participation counter.
	IncrementTimesRun(ctx context.Context, modelID string) error

	// AddModelCredits increments a model's earned credits.
	AddModelCredits(ctx context.Context, modelID string, credits int) error

	// Pay atomically applies a credit delta to a user account.
	Pay(ctx context.Context, userID string, credits int) error

	// WritePredictions appends one compressed prediction record.
	WritePredictions(ctx context.Context, projectID string, compressed []byte) error

	// SetProjectStatus updates a project's processing status.
	SetProjectStatus(ctx context.Context, projectID, status string) error

	// AddPerformance appends to the performance log.
	AddPerformance(ctx context.Context, rec PerformanceRecord) error

	// LastPerformances returns up to n most recent performance values
	// of a model, newest first.
	LastPerformances(ctx context.Context, modelID string, n int) ([]float64, error)
}
