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

package intake

import (
	"context"
	"net/http"
	"strconv"
	"testing"

	"github.com/Sybl-ml/dodona-sub000/derrors"
	"github.com/Sybl-ml/dodona-sub000/sched"
	"github.com/Sybl-ml/dodona-sub000/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptor(cost int) []byte {
	return []byte(`{
		"job_id": "job0",
		"project_id": "proj",
		"config": {
			"cluster_size": 3,
			"feature_dim": 4,
			"train_size": 800,
			"predict_size": 300,
			"prediction_column": "label",
			"prediction_type": "Classification",
			"cost": ` + strconv.Itoa(cost) + `
		}
	}`)
}

func newConsumer(db store.Store, queue *sched.Queue) *Consumer {
	return &Consumer{db: db, queue: queue}
}

func TestAdmitPushesEntry(t *testing.T) {
	db := store.NewMock()
	db.Datasets["proj"] = store.DatasetPair{
		Train:   []byte("a,label\n1,x\n"),
		Predict: []byte("a,label\n2,\n"),
	}
	queue := sched.NewQueue()
	c := newConsumer(db, queue)

	require.NoError(t, c.admit(context.Background(), descriptor(100)))
	require.Equal(t, 1, queue.Len())

	items := queue.Snapshot()
	assert.Equal(t, "job0", items[0].JobID)
	assert.Equal(t, "proj", items[0].ProjectID)
	assert.Equal(t, 3, items[0].ClusterSize)
}

func TestAdmitFillsMissingCost(t *testing.T) {
	db := store.NewMock()
	db.Datasets["proj"] = store.DatasetPair{
		Train:   []byte("a,label\n1,x\n"),
		Predict: []byte("a,label\n2,\n"),
	}
	queue := sched.NewQueue()
	c := newConsumer(db, queue)

	require.NoError(t, c.admit(context.Background(), descriptor(0)))

	entry, _, ok := queue.WaitPopEligible(func() int { return 100 })
	require.True(t, ok)
	// 3 workers, 4 features, 1100 rows = two 1000-row blocks
	assert.Equal(t, 3*4*2, entry.Job.Config.Cost)
}

func TestAdmitKeepsPrefilledCost(t *testing.T) {
	db := store.NewMock()
	db.Datasets["proj"] = store.DatasetPair{
		Train:   []byte("a,label\n1,x\n"),
		Predict: []byte("a,label\n2,\n"),
	}
	queue := sched.NewQueue()
	c := newConsumer(db, queue)

	require.NoError(t, c.admit(context.Background(), descriptor(100)))

	entry, _, ok := queue.WaitPopEligible(func() int { return 100 })
	require.True(t, ok)
	assert.Equal(t, 100, entry.Job.Config.Cost)
}

func TestAdmitRejectsMalformedDescriptor(t *testing.T) {
	c := newConsumer(store.NewMock(), sched.NewQueue())
	assert.Error(t, c.admit(context.Background(), []byte("{not json")))
}

func TestAdmitRejectsInvalidJob(t *testing.T) {
	c := newConsumer(store.NewMock(), sched.NewQueue())
	// cluster_size 0 never passes validation
	err := c.admit(context.Background(), []byte(
		`{"job_id":"job0","project_id":"proj","config":{"cluster_size":0,"prediction_type":"Classification"}}`))
	assert.Error(t, err)
}

func TestAdmitRejectsUnknownProject(t *testing.T) {
	queue := sched.NewQueue()
	c := newConsumer(store.NewMock(), queue)
	assert.Error(t, c.admit(context.Background(), descriptor(100)))
	assert.Equal(t, 0, queue.Len())
}

func TestAdmitRejectsNonUTF8Dataset(t *testing.T) {
	db := store.NewMock()
	db.Datasets["proj"] = store.DatasetPair{
		Train:   []byte{0xff, 0xfe, 0xfd},
		Predict: []byte("a,label\n2,\n"),
	}
	queue := sched.NewQueue()
	c := newConsumer(db, queue)

	err := c.admit(context.Background(), descriptor(100))
	require.Error(t, err)
	assert.True(t, derrors.IsKind(err, derrors.Unprocessable))
	var de *derrors.Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, http.StatusUnprocessableEntity, de.Code)
	assert.Equal(t, 0, queue.Len())
}
