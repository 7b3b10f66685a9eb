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
	"github.com/Sybl-ml/dodona-sub000/protocol"
)

// Worker is one authenticated client model held in the pool. The
// connection handle is exclusively owned by the edge node which accepted
// it. Mutable state is guarded by the owning pool's lock and must only
// be touched through pool methods.
type Worker struct {
	ModelID string
	OwnerID string
	Conn    *protocol.Conn

	alive            bool
	inUse            bool
	probing          bool
	missedHeartbeats int
	performance      float64
	creditsEarned    int
}

// NewWorker creates a pool entry for a freshly authenticated model.
// Initial performance is assigned by Pool.Add from the worker's
// performance history.
func NewWorker(modelID, ownerID string, conn *protocol.Conn) *Worker {
	return &Worker{
		ModelID: modelID,
		OwnerID: ownerID,
		Conn:    conn,
		alive:   true,
	}
}

// WorkerInfo is a point-in-time copy of a worker's state, safe to use
// outside the pool lock.
type WorkerInfo struct {
	ModelID          string  `json:"modelId"`
	OwnerID          string  `json:"ownerId"`
	Alive            bool    `json:"alive"`
	InUse            bool    `json:"inUse"`
	MissedHeartbeats int     `json:"missedHeartbeats"`
	Performance      float64 `json:"performance"`
	CreditsEarned    int     `json:"creditsEarned"`
}

func (w *Worker) info() WorkerInfo {
	return WorkerInfo{
		ModelID:          w.ModelID,
		OwnerID:          w.OwnerID,
		Alive:            w.alive,
		InUse:            w.inUse,
		MissedHeartbeats: w.missedHeartbeats,
		Performance:      w.performance,
		CreditsEarned:    w.creditsEarned,
	}
}
