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

package handshake

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Sybl-ml/dodona-sub000/derrors"
	"github.com/Sybl-ml/dodona-sub000/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	challengeBody = `{"challenge":"nonce-123"}`
	tokenBody     = `{"id":"m42","token":"good"}`
	authOKBody    = `{"message":"authenticated"}`
)

// managementPlane is an httptest stand-in for the client API: any token
// other than "good" is rejected with 401.
func managementPlane(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/clients/models/new", func(w http.ResponseWriter, r *http.Request) {
		var msg protocol.NewModel
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &msg); err != nil || msg.Email == "" || msg.Password == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		io.WriteString(w, challengeBody)
	})
	mux.HandleFunc("/api/clients/models/verify", func(w http.ResponseWriter, r *http.Request) {
		var msg protocol.ChallengeResponse
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &msg); err != nil || msg.Response != "nonce-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, tokenBody)
	})
	mux.HandleFunc("/api/clients/models/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/authenticate") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var payload map[string]string
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &payload)
		if payload["token"] != "good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		io.WriteString(w, authOKBody)
	})
	return httptest.NewServer(mux)
}

func sendMsg(conn net.Conn, msg protocol.Message) {
	payload, err := protocol.Marshal(msg)
	if err != nil {
		return
	}
	protocol.WriteFrame(conn, payload)
}

func TestRunRegisteredTokenPath(t *testing.T) {
	srv := managementPlane(t)
	defer srv.Close()

	edge, worker := net.Pipe()
	relayed := make(chan []byte, 1)
	go func() {
		sendMsg(worker, protocol.AccessToken{ID: "m42", Token: "good"})
		frame, err := protocol.ReadFrame(worker)
		if err == nil {
			relayed <- frame
		}
		close(relayed)
	}()

	h := New(NewManagementClient(srv.URL))
	result, err := h.Run(context.Background(), protocol.NewConn(edge))
	require.NoError(t, err)
	assert.Equal(t, &Result{ModelID: "m42", Token: "good"}, result)
	assert.Equal(t, authOKBody, string(<-relayed))
}

func TestRunRejectedToken(t *testing.T) {
	srv := managementPlane(t)
	defer srv.Close()

	edge, worker := net.Pipe()
	envelope := make(chan derrors.Envelope, 1)
	go func() {
		sendMsg(worker, protocol.AccessToken{ID: "m42", Token: "stale"})
		frame, err := protocol.ReadFrame(worker)
		if err == nil {
			var env derrors.Envelope
			if json.Unmarshal(frame, &env) == nil {
				envelope <- env
			}
		}
		close(envelope)
	}()

	h := New(NewManagementClient(srv.URL))
	result, err := h.Run(context.Background(), protocol.NewConn(edge))
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, derrors.IsKind(err, derrors.Rejected))

	env, ok := <-envelope
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, env.Code)
}

func TestRunFreshModelPath(t *testing.T) {
	srv := managementPlane(t)
	defer srv.Close()

	edge, worker := net.Pipe()
	frames := make(chan []byte, 3)
	go func() {
		defer close(frames)
		sendMsg(worker, protocol.NewModel{
			Email:     "dev@example.com",
			Password:  "hunter2",
			ModelName: "tree-v1",
		})
		challenge, err := protocol.ReadFrame(worker)
		if err != nil {
			return
		}
		frames <- challenge

		sendMsg(worker, protocol.ChallengeResponse{
			Email:     "dev@example.com",
			ModelName: "tree-v1",
			Response:  "nonce-123",
		})
		token, err := protocol.ReadFrame(worker)
		if err != nil {
			return
		}
		frames <- token

		sendMsg(worker, protocol.AccessToken{ID: "m42", Token: "good"})
		final, err := protocol.ReadFrame(worker)
		if err != nil {
			return
		}
		frames <- final
	}()

	h := New(NewManagementClient(srv.URL))
	result, err := h.Run(context.Background(), protocol.NewConn(edge))
	require.NoError(t, err)
	assert.Equal(t, &Result{ModelID: "m42", Token: "good"}, result)

	assert.Equal(t, challengeBody, string(<-frames))
	assert.Equal(t, tokenBody, string(<-frames))
	assert.Equal(t, authOKBody, string(<-frames))
}

func TestRunUnexpectedFirstMessage(t *testing.T) {
	srv := managementPlane(t)
	defer srv.Close()

	edge, worker := net.Pipe()
	go func() {
		sendMsg(worker, protocol.Alive{Timestamp: 1})
		protocol.ReadFrame(worker)
	}()

	h := New(NewManagementClient(srv.URL))
	_, err := h.Run(context.Background(), protocol.NewConn(edge))
	require.Error(t, err)
	assert.True(t, derrors.IsKind(err, derrors.Protocol))
}
