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

package exec

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sybl-ml/dodona-sub000/protocol"
)

// parsePredictions decodes a worker's Predictions body: one
// `record_id,prediction` pair per row.
func parsePredictions(body string) (map[string]string, error) {
	reader := csv.NewReader(strings.NewReader(body))
	reader.FieldsPerRecord = 2
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse predictions: %w", err)
	}
	preds := make(map[string]string, len(records))
	for _, rec := range records {
		preds[rec[0]] = rec[1]
	}
	return preds, nil
}

// coversExactly tests whether the returned record-id set equals the
// union of the expected validation and prediction ids. Anything else
// voids the whole contribution.
func coversExactly(preds map[string]string, validationIDs, predictionIDs []string) bool {
	if len(preds) != len(validationIDs)+len(predictionIDs) {
		return false
	}
	for _, id := range validationIDs {
		if _, ok := preds[id]; !ok {
			return false
		}
	}
	for _, id := range predictionIDs {
		if _, ok := preds[id]; !ok {
			return false
		}
	}
	return true
}

// workerError scores one worker against the held answers. The result
// is always >= 1 so that inverse-square weighting stays finite.
func workerError(
	predType protocol.PredictionType,
	preds map[string]string,
	answers map[string]string,
) (float64, error) {
	score := 1.0
	for id, answer := range answers {
		predicted := preds[id]
		switch predType {
		case protocol.PredictionClassification:
			if predicted != answer {
				score++
			}
		case protocol.PredictionRegression:
			p, err := strconv.ParseFloat(predicted, 64)
			if err != nil {
				return 0, fmt.Errorf(
					"failed to evaluate: non-numeric prediction for row %s", id)
			}
			a, err := strconv.ParseFloat(answer, 64)
			if err != nil {
				return 0, fmt.Errorf(
					"failed to evaluate: non-numeric answer for row %s", id)
			}
			score += (p - a) * (p - a)
		default:
			return 0, fmt.Errorf("failed to evaluate: unknown prediction type %q", predType)
		}
	}
	return score, nil
}
