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

// Package anon implements per-job dataset anonymisation: column names and
// categorical values are replaced with fresh pseudonyms, numerical values
// are min-max normalised into [0,1]. The generated schema lives only for
// the duration of one job; pseudonyms are never reused across jobs.
package anon

import (
	"crypto/rand"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

const (
	columnPseudonymLen = 16
	valuePseudonymLen  = 64
)

type Kind int

const (
	Numerical Kind = iota
	Categorical
)

func (k Kind) String() string {
	if k == Numerical {
		return "Numerical"
	}
	return "Categorical"
}

// Column describes one anonymised dataset column together with the
// information required to invert predictions on return.
type Column struct {
	Name      string
	Pseudonym string
	Kind      Kind

	// Values maps original categorical values to their fresh pseudonyms.
	Values  map[string]string
	reverse map[string]string

	Min float64
	Max float64
}

// Schema is the per-job anonymisation mapping. It must not outlive
// the job it was generated for.
type Schema struct {
	Columns []*Column
	byName  map[string]*Column
}

// Dataset is the anonymised CSV pair plus the bookkeeping the executor
// needs to evaluate worker responses.
type Dataset struct {
	Train   string
	Predict string

	// ValidationIDs are record ids of rows the DCL holds answers for.
	ValidationIDs []string

	// PredictionIDs are record ids of rows the job wants predicted.
	PredictionIDs []string

	// Answers maps a validation record id to the anonymised value of
	// the prediction column.
	Answers map[string]string
}

// RecordIDColumn is the header literal of the leading id column added
// to the anonymised CSVs. Workers echo these ids with each prediction.
const RecordIDColumn = "record_id"

// Anonymise concatenates the train data with the body of the predict data
// (the union header is identical), infers column kinds, generates fresh
// pseudonyms and emits the anonymised pair. A row lands in the predict
// part iff its last cell is empty.
func Anonymise(train, predict, predictionColumn string) (*Schema, *Dataset, error) {
	trainHeader, trainRows, err := parseCSV(train)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to anonymise train data: %w", err)
	}
	predictHeader, predictRows, err := parseCSV(predict)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to anonymise predict data: %w", err)
	}
	if len(trainHeader) != len(predictHeader) {
		return nil, nil, fmt.Errorf(
			"failed to anonymise: train and predict headers differ (%d vs %d columns)",
			len(trainHeader), len(predictHeader))
	}
	for i, name := range trainHeader {
		if predictHeader[i] != name {
			return nil, nil, fmt.Errorf(
				"failed to anonymise: train and predict headers differ at column %d", i)
		}
	}

	rows := make([][]string, 0, len(trainRows)+len(predictRows))
	rows = append(rows, trainRows...)
	rows = append(rows, predictRows...)

	schema, err := inferSchema(trainHeader, rows)
	if err != nil {
		return nil, nil, err
	}

	predCol := schema.column(predictionColumn)
	if predCol == nil {
		return nil, nil, fmt.Errorf(
			"failed to anonymise: prediction column %q not present", predictionColumn)
	}

	header := make([]string, 0, len(schema.Columns)+1)
	header = append(header, RecordIDColumn)
	for _, col := range schema.Columns {
		header = append(header, col.Pseudonym)
	}

	ds := &Dataset{Answers: make(map[string]string)}
	trainOut := [][]string{header}
	predictOut := [][]string{header}
	for i, row := range rows {
		rid := fmt.Sprintf("r%d", i)
		anonRow := make([]string, 0, len(row)+1)
		anonRow = append(anonRow, rid)
		for j, cell := range row {
			anonRow = append(anonRow, schema.Columns[j].anonymiseCell(cell))
		}
		if row[len(row)-1] == "" {
			ds.PredictionIDs = append(ds.PredictionIDs, rid)
			predictOut = append(predictOut, anonRow)

		} else {
			ds.ValidationIDs = append(ds.ValidationIDs, rid)
			ds.Answers[rid] = anonRow[predCol.index(schema)+1]
			trainOut = append(trainOut, anonRow)
		}
	}

	ds.Train, err = writeCSV(trainOut)
	if err != nil {
		return nil, nil, err
	}
	ds.Predict, err = writeCSV(predictOut)
	if err != nil {
		return nil, nil, err
	}
	return schema, ds, nil
}

func inferSchema(header []string, rows [][]string) (*Schema, error) {
	schema := &Schema{
		Columns: make([]*Column, len(header)),
		byName:  make(map[string]*Column),
	}
	for j, name := range header {
		col := &Column{
			Name:      name,
			Pseudonym: pseudonym(columnPseudonymLen),
			Kind:      Numerical,
		}
		var seenValue bool
		for _, row := range rows {
			cell := row[j]
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				col.Kind = Categorical
				break
			}
			if !seenValue || v < col.Min {
				col.Min = v
			}
			if !seenValue || v > col.Max {
				col.Max = v
			}
			seenValue = true
		}
		if col.Kind == Categorical {
			col.Values = make(map[string]string)
			col.reverse = make(map[string]string)
			for _, row := range rows {
				cell := row[j]
				if cell == "" {
					continue
				}
				if _, ok := col.Values[cell]; !ok {
					p := pseudonym(valuePseudonymLen)
					col.Values[cell] = p
					col.reverse[p] = cell
				}
			}
		}
		schema.Columns[j] = col
		schema.byName[name] = col
	}
	return schema, nil
}

func (col *Column) anonymiseCell(cell string) string {
	if cell == "" {
		return ""
	}
	if col.Kind == Categorical {
		return col.Values[cell]
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		// unreachable after inference, but keep the cell unreadable
		return ""
	}
	if col.Max == col.Min {
		return "0"
	}
	return strconv.FormatFloat((v-col.Min)/(col.Max-col.Min), 'f', -1, 64)
}

func (col *Column) index(schema *Schema) int {
	for i, c := range schema.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Pseudonym returns the fresh pseudonym of a column, or false when the
// column is not part of the schema.
func (schema *Schema) Pseudonym(name string) (string, bool) {
	col, ok := schema.byName[name]
	if !ok {
		return "", false
	}
	return col.Pseudonym, true
}

// ColumnTypes lists the inferred column kinds in column order; this is
// what travels inside a JobConfig.
func (schema *Schema) ColumnTypes() []string {
	types := make([]string, len(schema.Columns))
	for i, col := range schema.Columns {
		types[i] = col.Kind.String()
	}
	return types
}

func (schema *Schema) column(name string) *Column {
	return schema.byName[name]
}

// DeanonymiseValue inverts an anonymised prediction value of the given
// original column: pseudonym lookup for categorical columns, min-max
// denormalisation for numerical ones.
func (schema *Schema) DeanonymiseValue(columnName, anonValue string) (string, error) {
	col := schema.column(columnName)
	if col == nil {
		return "", fmt.Errorf("failed to deanonymise: unknown column %q", columnName)
	}
	if anonValue == "" {
		return "", nil
	}
	if col.Kind == Categorical {
		orig, ok := col.reverse[anonValue]
		if !ok {
			return "", fmt.Errorf(
				"failed to deanonymise: unknown value pseudonym in column %q", columnName)
		}
		return orig, nil
	}
	v, err := strconv.ParseFloat(anonValue, 64)
	if err != nil {
		return "", fmt.Errorf("failed to deanonymise numerical value: %w", err)
	}
	return strconv.FormatFloat(v*(col.Max-col.Min)+col.Min, 'f', -1, 64), nil
}

// -----

func parseCSV(data string) ([]string, [][]string, error) {
	reader := csv.NewReader(strings.NewReader(data))
	records, err := reader.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, fmt.Errorf("failed to parse CSV: no header row")
	}
	return records[0], records[1:], nil
}

func writeCSV(rows [][]string) (string, error) {
	var buf strings.Builder
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(rows); err != nil {
		return "", fmt.Errorf("failed to serialise CSV: %w", err)
	}
	writer.Flush()
	return buf.String(), writer.Error()
}

func pseudonym(length int) string {
	raw := make([]byte, length/2)
	if _, err := rand.Read(raw); err != nil {
		panic(fmt.Sprintf("failed to generate pseudonym: %s", err))
	}
	return hex.EncodeToString(raw)
}
