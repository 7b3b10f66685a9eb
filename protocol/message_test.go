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

package protocol

import (
	"testing"

	"github.com/Sybl-ml/dodona-sub000/derrors"
	"github.com/stretchr/testify/assert"
)

func TestMarshalAlive(t *testing.T) {
	data, err := Marshal(Alive{Timestamp: 42})
	assert.NoError(t, err)
	assert.Equal(t, `{"Alive":{"timestamp":42}}`, string(data))
}

func TestMarshalPredictionsNewtype(t *testing.T) {
	data, err := Marshal(Predictions("r0,a\nr1,b"))
	assert.NoError(t, err)
	assert.Equal(t, `{"Predictions":"r0,a\nr1,b"}`, string(data))
}

func TestMarshalUnitMessage(t *testing.T) {
	data, err := Marshal(PortRequest{})
	assert.NoError(t, err)
	assert.Equal(t, `"PortRequest"`, string(data))
}

func TestRoundTripAllKinds(t *testing.T) {
	port := uint16(9000)
	messages := []Message{
		Alive{Timestamp: 1689339213},
		JobConfig{
			Timeout:          30,
			ClusterSize:      3,
			ColumnTypes:      []string{"Numerical", "Categorical"},
			PredictionColumn: "a1b2",
			PredictionType:   PredictionClassification,
		},
		NewModel{Email: "dev@example.com", Password: "pw", ModelName: "forest"},
		ChallengeResponse{Email: "dev@example.com", ModelName: "forest", Response: "c0ffee"},
		AccessToken{ID: "abc", Token: "tok"},
		Dataset{Train: "a,b\n1,2\n", Predict: "a,b\n3,\n"},
		ConfigResponse{Accept: true},
		Predictions("r0,0.5"),
		PortRequest{},
		PortResponse{Port: &port},
		PortResponse{},
		ChildNodeRequest{Port: 9001},
	}
	for _, msg := range messages {
		data, err := Marshal(msg)
		assert.NoError(t, err)
		parsed, err := Unmarshal(data)
		assert.NoError(t, err)
		assert.Equal(t, msg, parsed)
	}
}

func TestUnmarshalUnknownTag(t *testing.T) {
	_, err := Unmarshal([]byte(`{"Nonsense":{}}`))
	assert.True(t, derrors.IsKind(err, derrors.Protocol))
}

func TestUnmarshalMalformed(t *testing.T) {
	_, err := Unmarshal([]byte(`{{{`))
	assert.True(t, derrors.IsKind(err, derrors.Protocol))
}

func TestUnmarshalMultipleTags(t *testing.T) {
	_, err := Unmarshal([]byte(`{"Alive":{"timestamp":1},"ConfigResponse":{"accept":true}}`))
	assert.True(t, derrors.IsKind(err, derrors.Protocol))
}
