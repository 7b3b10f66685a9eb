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
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/Sybl-ml/dodona-sub000/derrors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collModels          = "models"
	collUsers           = "users"
	collDatasets        = "datasets"
	collFiles           = "files"
	collChunks          = "chunks"
	collPredictions     = "predictions"
	collJobPerformances = "job_performances"
	collProjects        = "projects"

	connectTimeout = 10 * time.Second
)

// MongoDB implements the Store port on top of a MongoDB database with
// GridFS-style chunked file storage for dataset blobs.
type MongoDB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect opens a client and pings the deployment so a bad connection
// string fails at startup rather than on the first job.
func Connect(ctx context.Context, connStr, appName, dbName string) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := mongo.Connect(
		ctx, options.Client().ApplyURI(connStr).SetAppName(appName))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to document store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping document store: %w", err)
	}
	return &MongoDB{client: client, db: client.Database(dbName)}, nil
}

func (m *MongoDB) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

type datasetDoc struct {
	ProjectID string             `bson:"project_id"`
	Dataset   primitive.ObjectID `bson:"dataset"`
	Predict   primitive.ObjectID `bson:"predict"`
}

func (m *MongoDB) DatasetPair(ctx context.Context, projectID string) (DatasetPair, error) {
	var doc datasetDoc
	err := m.db.Collection(collDatasets).FindOne(
		ctx, bson.M{"project_id": projectID}).Decode(&doc)
	if err != nil {
		return DatasetPair{}, derrors.Newf(
			derrors.StoreUnavailable, "failed to fetch dataset record: %w", err)
	}
	train, err := m.readFile(ctx, doc.Dataset)
	if err != nil {
		return DatasetPair{}, err
	}
	predict, err := m.readFile(ctx, doc.Predict)
	if err != nil {
		return DatasetPair{}, err
	}
	return DatasetPair{Train: train, Predict: predict}, nil
}

// readFile reassembles a chunked file: the files collection holds the
// descriptor, the chunks collection holds binary parts ordered by n.
func (m *MongoDB) readFile(ctx context.Context, fileID primitive.ObjectID) ([]byte, error) {
	var fileDoc struct {
		Length int64 `bson:"length"`
	}
	err := m.db.Collection(collFiles).FindOne(ctx, bson.M{"_id": fileID}).Decode(&fileDoc)
	if err != nil {
		return nil, derrors.Newf(
			derrors.StoreUnavailable, "failed to fetch file descriptor: %w", err)
	}

	cursor, err := m.db.Collection(collChunks).Find(
		ctx,
		bson.M{"files_id": fileID},
		options.Find().SetSort(bson.M{"n": 1}),
	)
	if err != nil {
		return nil, derrors.Newf(
			derrors.StoreUnavailable, "failed to fetch file chunks: %w", err)
	}
	defer cursor.Close(ctx)

	var buf bytes.Buffer
	buf.Grow(int(fileDoc.Length))
	for cursor.Next(ctx) {
		var chunk struct {
			Data primitive.Binary `bson:"data"`
		}
		if err := cursor.Decode(&chunk); err != nil {
			return nil, derrors.Newf(
				derrors.StoreUnavailable, "failed to decode file chunk: %w", err)
		}
		buf.Write(chunk.Data.Data)
	}
	if err := cursor.Err(); err != nil {
		return nil, derrors.Newf(
			derrors.StoreUnavailable, "failed to iterate file chunks: %w", err)
	}
	if int64(buf.Len()) != fileDoc.Length {
		return nil, derrors.Newf(
			derrors.StoreUnavailable,
			"chunk reassembly produced %d bytes, descriptor says %d",
			buf.Len(), fileDoc.Length)
	}
	return buf.Bytes(), nil
}

func (m *MongoDB) ModelOwner(ctx context.Context, modelID string) (string, error) {
	var doc struct {
		UserID string `bson:"user_id"`
	}
	err := m.db.Collection(collModels).FindOne(
		ctx, bson.M{"_id": modelID}).Decode(&doc)
	if err != nil {
		return "", derrors.Newf(
			derrors.StoreUnavailable, "failed to resolve model owner: %w", err)
	}
	return doc.UserID, nil
}

func (m *MongoDB) SetModelStatus(ctx context.Context, modelID, status string) error {
	_, err := m.db.Collection(collModels).UpdateOne(
		ctx,
		bson.M{"_id": modelID},
		bson.M{"$set": bson.M{"status": status}},
	)
	if err != nil {
		return derrors.Newf(
			derrors.StoreUnavailable, "failed to set model status: %w", err)
	}
	return nil
}

func (m *MongoDB) IncrementTimesRun(ctx context.Context, modelID string) error {
	_, err := m.db.Collection(collModels).UpdateOne(
		ctx,
		bson.M{"_id": modelID},
		bson.M{"$inc": bson.M{"times_run": 1}},
	)
	if err != nil {
		return derrors.Newf(
			derrors.StoreUnavailable, "failed to increment times_run: %w", err)
	}
	return nil
}

func (m *MongoDB) AddModelCredits(ctx context.Context, modelID string, credits int) error {
	_, err := m.db.Collection(collModels).UpdateOne(
		ctx,
		bson.M{"_id": modelID},
		bson.M{"$inc": bson.M{"credits_earned": credits}},
	)
	if err != nil {
		return derrors.Newf(
			derrors.StoreUnavailable, "failed to add model credits: %w", err)
	}
	return nil
}

func (m *MongoDB) Pay(ctx context.Context, userID string, credits int) error {
	_, err := m.db.Collection(collUsers).UpdateOne(
		ctx,
		bson.M{"_id": userID},
		bson.M{"$inc": bson.M{"credits": credits}},
	)
	if err != nil {
		return derrors.Newf(derrors.StoreUnavailable, "failed to pay user: %w", err)
	}
	return nil
}

func (m *MongoDB) WritePredictions(ctx context.Context, projectID string, compressed []byte) error {
	_, err := m.db.Collection(collPredictions).InsertOne(ctx, bson.M{
		"project_id":  projectID,
		"predictions": primitive.Binary{Data: compressed},
		"created_at":  time.Now(),
	})
	if err != nil {
		return derrors.Newf(
			derrors.StoreUnavailable, "failed to write predictions: %w", err)
	}
	return nil
}

func (m *MongoDB) SetProjectStatus(ctx context.Context, projectID, status string) error {
	_, err := m.db.Collection(collProjects).UpdateOne(
		ctx,
		bson.M{"_id": projectID},
		bson.M{"$set": bson.M{"status": status}},
	)
	if err != nil {
		return derrors.Newf(
			derrors.StoreUnavailable, "failed to set project status: %w", err)
	}
	return nil
}

func (m *MongoDB) AddPerformance(ctx context.Context, rec PerformanceRecord) error {
	_, err := m.db.Collection(collJobPerformances).InsertOne(ctx, rec)
	if err != nil {
		return derrors.Newf(
			derrors.StoreUnavailable, "failed to append performance record: %w", err)
	}
	return nil
}

func (m *MongoDB) LastPerformances(ctx context.Context, modelID string, n int) ([]float64, error) {
	cursor, err := m.db.Collection(collJobPerformances).Find(
		ctx,
		bson.M{"model_id": modelID},
		options.Find().SetSort(bson.M{"created_at": -1}).SetLimit(int64(n)),
	)
	if err != nil {
		return nil, derrors.Newf(
			derrors.StoreUnavailable, "failed to fetch performance records: %w", err)
	}
	defer cursor.Close(ctx)

	ans := make([]float64, 0, n)
	for cursor.Next(ctx) {
		var rec PerformanceRecord
		if err := cursor.Decode(&rec); err != nil {
			return nil, derrors.Newf(
				derrors.StoreUnavailable, "failed to decode performance record: %w", err)
		}
		ans = append(ans, rec.Performance)
	}
	if err := cursor.Err(); err != nil {
		return nil, derrors.Newf(
			derrors.StoreUnavailable, "failed to iterate performance records: %w", err)
	}
	return ans, nil
}
