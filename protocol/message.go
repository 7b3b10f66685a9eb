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

// Package protocol implements the DCL<->worker wire contract: externally
// tagged JSON messages carried in length-prefixed frames over a persistent
// TCP connection.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/Sybl-ml/dodona-sub000/derrors"
)

type PredictionType string

const (
	PredictionClassification PredictionType = "Classification"
	PredictionRegression     PredictionType = "Regression"
)

// Message is any value which can travel inside a frame. The concrete
// type determines the outer JSON tag.
type Message interface {
	tag() string
}

// Alive is the heartbeat message; the receiver is expected to echo
// the identical payload back.
type Alive struct {
	Timestamp uint64 `json:"timestamp"`
}

// JobConfig is the job offer sent to a worker before any data. Column
// names are already pseudonymised at this point.
type JobConfig struct {
	Timeout          int32          `json:"timeout"`
	ClusterSize      int32          `json:"cluster_size"`
	ColumnTypes      []string       `json:"column_types"`
	PredictionColumn string         `json:"prediction_column"`
	PredictionType   PredictionType `json:"prediction_type"`
}

// NewModel starts the fresh-model registration path.
type NewModel struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	ModelName string `json:"model_name"`
}

// ChallengeResponse answers the nonce issued by the management plane
// during fresh-model registration.
type ChallengeResponse struct {
	Email     string `json:"email"`
	ModelName string `json:"model_name"`
	Response  string `json:"response"`
}

// AccessToken authenticates an already registered model.
type AccessToken struct {
	ID    string `json:"id"`
	Token string `json:"token"`
}

// Dataset carries the anonymised CSV pair.
type Dataset struct {
	Train   string `json:"train"`
	Predict string `json:"predict"`
}

// ConfigResponse is the worker's answer to a JobConfig offer.
type ConfigResponse struct {
	Accept bool `json:"accept"`
}

// Predictions is the untagged CSV body (record_id,prediction per row)
// returned by a worker.
type Predictions string

// PortRequest is sent by a starting worker to the control plane,
// asking for an edge node to register against.
type PortRequest struct{}

// PortResponse carries a randomly chosen edge port, or nothing when
// no edge is registered.
type PortResponse struct {
	Port *uint16 `json:"port"`
}

// ChildNodeRequest is sent by an edge node announcing the port on which
// it accepts worker connections.
type ChildNodeRequest struct {
	Port uint16 `json:"port"`
}

func (Alive) tag() string             { return "Alive" }
func (JobConfig) tag() string         { return "JobConfig" }
func (NewModel) tag() string          { return "NewModel" }
func (ChallengeResponse) tag() string { return "ChallengeResponse" }
func (AccessToken) tag() string       { return "AccessToken" }
func (Dataset) tag() string           { return "Dataset" }
func (ConfigResponse) tag() string    { return "ConfigResponse" }
func (Predictions) tag() string       { return "Predictions" }
func (PortRequest) tag() string       { return "PortRequest" }
func (PortResponse) tag() string      { return "PortResponse" }
func (ChildNodeRequest) tag() string  { return "ChildNodeRequest" }

// Marshal serialises a message into its externally tagged JSON form,
// e.g. {"Alive":{"timestamp":1}}. A unit message (PortRequest) becomes
// a bare JSON string of its tag.
func Marshal(msg Message) ([]byte, error) {
	if _, ok := msg.(PortRequest); ok {
		return json.Marshal(msg.tag())
	}
	return json.Marshal(map[string]Message{msg.tag(): msg})
}

// Unmarshal parses the externally tagged JSON form back into a concrete
// message. Failures are reported as Protocol errors.
func Unmarshal(data []byte) (Message, error) {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		if asString == (PortRequest{}).tag() {
			return PortRequest{}, nil
		}
		return nil, derrors.Newf(derrors.Protocol, "unknown unit message %q", asString)
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, derrors.Newf(derrors.Protocol, "malformed message: %w", err)
	}
	if len(envelope) != 1 {
		return nil, derrors.Newf(derrors.Protocol, "expected a single-tag message, got %d tags", len(envelope))
	}
	for tag, body := range envelope {
		msg, err := decodeBody(tag, body)
		if err != nil {
			return nil, err
		}
		return msg, nil
	}
	return nil, derrors.Newf(derrors.Protocol, "empty message")
}

func decodeBody(tag string, body json.RawMessage) (Message, error) {
	var (
		msg Message
		err error
	)
	switch tag {
	case "Alive":
		var m Alive
		err = json.Unmarshal(body, &m)
		msg = m
	case "JobConfig":
		var m JobConfig
		err = json.Unmarshal(body, &m)
		msg = m
	case "NewModel":
		var m NewModel
		err = json.Unmarshal(body, &m)
		msg = m
	case "ChallengeResponse":
		var m ChallengeResponse
		err = json.Unmarshal(body, &m)
		msg = m
	case "AccessToken":
		var m AccessToken
		err = json.Unmarshal(body, &m)
		msg = m
	case "Dataset":
		var m Dataset
		err = json.Unmarshal(body, &m)
		msg = m
	case "ConfigResponse":
		var m ConfigResponse
		err = json.Unmarshal(body, &m)
		msg = m
	case "Predictions":
		var m Predictions
		err = json.Unmarshal(body, &m)
		msg = m
	case "PortRequest":
		msg = PortRequest{}
	case "PortResponse":
		var m PortResponse
		err = json.Unmarshal(body, &m)
		msg = m
	case "ChildNodeRequest":
		var m ChildNodeRequest
		err = json.Unmarshal(body, &m)
		msg = m
	default:
		return nil, derrors.Newf(derrors.Protocol, "unknown message tag %q", tag)
	}
	if err != nil {
		return nil, derrors.Newf(derrors.Protocol, "failed to decode %s message: %w", tag, err)
	}
	return msg, nil
}

// ExpectedError reports a message of an unexpected type in a fixed
// position of a message sequence.
func ExpectedError(want string, got Message) error {
	return derrors.Newf(derrors.Protocol, "expected %s, got %s", want, fmt.Sprintf("%T", got))
}
