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
	"fmt"
	"strconv"

	"github.com/Sybl-ml/dodona-sub000/pool"
	"github.com/Sybl-ml/dodona-sub000/protocol"
)

// contribution is one worker's accepted prediction set together with
// its evaluation error.
type contribution struct {
	worker *pool.Worker
	preds  map[string]string
	errSum float64
	weight float64
}

// normaliseWeights assigns each contribution the inverse-square of its
// error, scaled so the weights sum to one.
func normaliseWeights(contribs []*contribution) {
	var total float64
	for _, c := range contribs {
		c.weight = 1 / (c.errSum * c.errSum)
		total += c.weight
	}
	for _, c := range contribs {
		c.weight /= total
	}
}

// ensemble combines the contributions into one prediction per record
// id, still in anonymised space.
func ensemble(
	predType protocol.PredictionType,
	contribs []*contribution,
	predictionIDs []string,
) (map[string]string, error) {
	ans := make(map[string]string, len(predictionIDs))
	for _, id := range predictionIDs {
		switch predType {
		case protocol.PredictionClassification:
			ans[id] = voteClass(contribs, id)
		case protocol.PredictionRegression:
			v, err := weightedMean(contribs, id)
			if err != nil {
				return nil, err
			}
			ans[id] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			return nil, fmt.Errorf("failed to ensemble: unknown prediction type %q", predType)
		}
	}
	return ans, nil
}

// voteClass picks the class with the largest summed weight; ties go to
// the class seen first.
func voteClass(contribs []*contribution, id string) string {
	votes := make(map[string]float64)
	order := make([]string, 0, len(contribs))
	for _, c := range contribs {
		class := c.preds[id]
		if _, seen := votes[class]; !seen {
			order = append(order, class)
		}
		votes[class] += c.weight
	}
	var best string
	var bestWeight float64
	for _, class := range order {
		if votes[class] > bestWeight {
			best = class
			bestWeight = votes[class]
		}
	}
	return best
}

func weightedMean(contribs []*contribution, id string) (float64, error) {
	var sum float64
	for _, c := range contribs {
		v, err := strconv.ParseFloat(c.preds[id], 64)
		if err != nil {
			return 0, fmt.Errorf(
				"failed to ensemble: non-numeric prediction for row %s", id)
		}
		sum += c.weight * v
	}
	return sum, nil
}
