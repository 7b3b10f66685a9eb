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

// Package sched holds the job queue and the scheduling loop: a FIFO
// admitting the first queued job whose required cluster size is
// currently satisfiable.
package sched

import (
	"sync"
	"time"
)

// Queue is a mutex-protected FIFO with a condition variable signalled
// by new insertions and by the node pool whenever worker availability
// grows. Wakes may be spurious; consumers re-check eligibility.
type Queue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*Entry
	closed bool
}

func NewQueue() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push appends an entry and wakes the scheduler.
func (q *Queue) Push(e *Entry) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Notify implements pool.Notifier; worker availability changed, so
// queued jobs may have become eligible.
func (q *Queue) Notify() {
	q.cond.Broadcast()
}

// WaitPopEligible blocks until the queue holds an entry whose cluster
// size is satisfied by the current active-worker count, then removes
// and returns it together with its queue index. Returns false when the
// queue has been closed. Entries are scanned in insertion order; the
// earliest eligible one wins.
func (q *Queue) WaitPopEligible(active func() int) (*Entry, int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.closed {
			return nil, 0, false
		}
		for i, e := range q.items {
			if e.Job.Config.ClusterSize <= active() {
				q.items = append(q.items[:i], q.items[i+1:]...)
				return e, i, true
			}
		}
		q.cond.Wait()
	}
}

// Reinsert puts a failed entry back at its original index. It
// deliberately does not signal the condition variable: the entry will
// be retried on the next availability wake.
func (q *Queue) Reinsert(e *Entry, idx int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if idx > len(q.items) {
		idx = len(q.items)
	}
	q.items = append(q.items[:idx], append([]*Entry{e}, q.items[idx:]...)...)
}

// Close wakes all waiters and makes further pops return false.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// QueueItem is a diagnostics copy of one queued entry.
type QueueItem struct {
	JobID       string    `json:"jobId"`
	ProjectID   string    `json:"projectId"`
	ClusterSize int       `json:"clusterSize"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Snapshot lists queued jobs in FIFO order.
func (q *Queue) Snapshot() []QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	ans := make([]QueueItem, len(q.items))
	for i, e := range q.items {
		ans[i] = QueueItem{
			JobID:       e.Job.ID,
			ProjectID:   e.ProjectID,
			ClusterSize: e.Job.Config.ClusterSize,
			CreatedAt:   e.Job.CreatedAt,
		}
	}
	return ans
}
