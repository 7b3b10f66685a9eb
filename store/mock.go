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

package store

import (
	"context"
	"fmt"
	"sync"
)

// Mock is an in-memory Store used by component tests.
type Mock struct {
	mu sync.Mutex

	Datasets      map[string]DatasetPair
	ModelOwners   map[string]string
	ModelStatuses map[string]string
	TimesRun      map[string]int
	ModelCredits  map[string]int
	UserCredits   map[string]int
	Predictions   map[string][][]byte
	ProjectStatus map[string]string
	Performances  []PerformanceRecord
	FailStore     bool
}

func NewMock() *Mock {
	return &Mock{
		Datasets:      make(map[string]DatasetPair),
		ModelOwners:   make(map[string]string),
		ModelStatuses: make(map[string]string),
		TimesRun:      make(map[string]int),
		ModelCredits:  make(map[string]int),
		UserCredits:   make(map[string]int),
		Predictions:   make(map[string][][]byte),
		ProjectStatus: make(map[string]string),
	}
}

func (m *Mock) failure() error {
	if m.FailStore {
		return fmt.Errorf("store unavailable")
	}
	return nil
}

func (m *Mock) DatasetPair(ctx context.Context, projectID string) (DatasetPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(); err != nil {
		return DatasetPair{}, err
	}
	pair, ok := m.Datasets[projectID]
	if !ok {
		return DatasetPair{}, fmt.Errorf("no dataset for project %s", projectID)
	}
	return pair, nil
}

func (m *Mock) ModelOwner(ctx context.Context, modelID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(); err != nil {
		return "", err
	}
	return m.ModelOwners[modelID], nil
}

func (m *Mock) SetModelStatus(ctx context.Context, modelID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(); err != nil {
		return err
	}
	m.ModelStatuses[modelID] = status
	return nil
}

func (m *Mock) IncrementTimesRun(ctx context.Context, modelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(); err != nil {
		return err
	}
	m.TimesRun[modelID]++
	return nil
}

func (m *Mock) AddModelCredits(ctx context.Context, modelID string, credits int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(); err != nil {
		return err
	}
	m.ModelCredits[modelID] += credits
	return nil
}

func (m *Mock) Pay(ctx context.Context, userID string, credits int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(); err != nil {
		return err
	}
	m.UserCredits[userID] += credits
	return nil
}

func (m *Mock) WritePredictions(ctx context.Context, projectID string, compressed []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(); err != nil {
		return err
	}
	m.Predictions[projectID] = append(m.Predictions[projectID], compressed)
	return nil
}

func (m *Mock) SetProjectStatus(ctx context.Context, projectID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(); err != nil {
		return err
	}
	m.ProjectStatus[projectID] = status
	return nil
}

func (m *Mock) AddPerformance(ctx context.Context, rec PerformanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(); err != nil {
		return err
	}
	m.Performances = append(m.Performances, rec)
	return nil
}

func (m *Mock) LastPerformances(ctx context.Context, modelID string, n int) ([]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(); err != nil {
		return nil, err
	}
	ans := make([]float64, 0, n)
	for i := len(m.Performances) - 1; i >= 0 && len(ans) < n; i-- {
		if m.Performances[i].ModelID == modelID {
			ans = append(ans, m.Performances[i].Performance)
		}
	}
	return ans, nil
}
