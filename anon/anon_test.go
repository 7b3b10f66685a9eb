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

package anon

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTrain = "feat,label\n1,a\n2,b\n3,a\n"
	testPred  = "feat,label\n4,\n"
)

func TestAnonymiseSplitsByEmptyLastCell(t *testing.T) {
	_, ds, err := Anonymise(testTrain, testPred, "label")
	require.NoError(t, err)
	assert.Equal(t, []string{"r0", "r1", "r2"}, ds.ValidationIDs)
	assert.Equal(t, []string{"r3"}, ds.PredictionIDs)

	trainLines := strings.Split(strings.TrimSpace(ds.Train), "\n")
	predictLines := strings.Split(strings.TrimSpace(ds.Predict), "\n")
	assert.Len(t, trainLines, 4)
	assert.Len(t, predictLines, 2)
	// both parts keep the anonymised header
	assert.Equal(t, trainLines[0], predictLines[0])
	assert.True(t, strings.HasPrefix(trainLines[0], RecordIDColumn+","))
}

func TestAnonymiseColumnInference(t *testing.T) {
	schema, _, err := Anonymise(testTrain, testPred, "label")
	require.NoError(t, err)
	assert.Equal(t, []string{"Numerical", "Categorical"}, schema.ColumnTypes())
	assert.Equal(t, 1.0, schema.Columns[0].Min)
	assert.Equal(t, 4.0, schema.Columns[0].Max)
}

func TestAnonymiseSingleUnparseableCellPromotesColumn(t *testing.T) {
	train := "x,y\n1,1\noops,2\n"
	pred := "x,y\n3,\n"
	schema, _, err := Anonymise(train, pred, "y")
	require.NoError(t, err)
	assert.Equal(t, Categorical, schema.Columns[0].Kind)
	assert.Equal(t, Numerical, schema.Columns[1].Kind)
}

func TestAnonymiseNormalisation(t *testing.T) {
	_, ds, err := Anonymise(testTrain, testPred, "label")
	require.NoError(t, err)
	trainLines := strings.Split(strings.TrimSpace(ds.Train), "\n")
	// feat=1 is the minimum over train+predict (1..4)
	assert.Equal(t, "0", strings.Split(trainLines[1], ",")[1])
	predictLines := strings.Split(strings.TrimSpace(ds.Predict), "\n")
	// feat=4 is the maximum
	assert.Equal(t, "1", strings.Split(predictLines[1], ",")[1])
}

func TestAnonymiseConstantColumnMapsToZero(t *testing.T) {
	train := "x,y\n5,1\n5,2\n"
	pred := "x,y\n5,\n"
	_, ds, err := Anonymise(train, pred, "y")
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(ds.Train), "\n")[1:] {
		assert.Equal(t, "0", strings.Split(line, ",")[1])
	}
}

func TestAnonymisePreservesEmptyCells(t *testing.T) {
	train := "x,y\n1,1\n,2\n"
	pred := "x,y\n3,\n"
	_, ds, err := Anonymise(train, pred, "y")
	require.NoError(t, err)
	trainLines := strings.Split(strings.TrimSpace(ds.Train), "\n")
	assert.Equal(t, "", strings.Split(trainLines[2], ",")[1])
}

func TestDeanonymiseIsLeftInverse(t *testing.T) {
	schema, ds, err := Anonymise(testTrain, testPred, "label")
	require.NoError(t, err)
	for rid, anonAnswer := range ds.Answers {
		orig, err := schema.DeanonymiseValue("label", anonAnswer)
		require.NoError(t, err)
		switch rid {
		case "r0", "r2":
			assert.Equal(t, "a", orig)
		case "r1":
			assert.Equal(t, "b", orig)
		}
	}
}

func TestDeanonymiseNumerical(t *testing.T) {
	schema, _, err := Anonymise(testTrain, testPred, "label")
	require.NoError(t, err)
	// feat range is [1,4]; anonymised 0.5 must invert to 2.5
	v, err := schema.DeanonymiseValue("feat", "0.5")
	require.NoError(t, err)
	assert.Equal(t, "2.5", v)
}

func TestPseudonymsAreFreshPerCall(t *testing.T) {
	s1, _, err := Anonymise(testTrain, testPred, "label")
	require.NoError(t, err)
	s2, _, err := Anonymise(testTrain, testPred, "label")
	require.NoError(t, err)
	p1, _ := s1.Pseudonym("label")
	p2, _ := s2.Pseudonym("label")
	assert.NotEqual(t, p1, p2)
	assert.NotEqual(t, s1.Columns[1].Values["a"], s2.Columns[1].Values["a"])
}

func TestPseudonymLengths(t *testing.T) {
	schema, _, err := Anonymise(testTrain, testPred, "label")
	require.NoError(t, err)
	p, ok := schema.Pseudonym("feat")
	require.True(t, ok)
	assert.Len(t, p, 16)
	assert.Len(t, schema.Columns[1].Values["a"], 64)
}

func TestAnonymiseHeaderMismatch(t *testing.T) {
	_, _, err := Anonymise("a,b\n1,2\n", "a,c\n1,\n", "b")
	assert.Error(t, err)
}

func TestAnonymiseUnknownPredictionColumn(t *testing.T) {
	_, _, err := Anonymise(testTrain, testPred, "nope")
	assert.Error(t, err)
}
