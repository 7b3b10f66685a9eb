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

// Package handshake authenticates one fresh worker connection against
// the management plane. Two entry sequences are accepted: a registered
// model presenting an AccessToken, and a fresh model going through the
// NewModel / ChallengeResponse exchange first. Management-plane response
// bodies are relayed to the worker verbatim as raw frames; any failure
// is reported to the worker as an error envelope before the caller
// closes the socket.
package handshake

import (
	"context"
	"time"

	"github.com/Sybl-ml/dodona-sub000/protocol"
	"github.com/rs/zerolog/log"
)

// authStepWindow bounds every read from a not-yet-authenticated
// connection.
const authStepWindow = 30 * time.Second

// Result identifies a successfully authenticated worker.
type Result struct {
	ModelID string
	Token   string
}

type Handler struct {
	mgmt *ManagementClient
}

func New(mgmt *ManagementClient) *Handler {
	return &Handler{mgmt: mgmt}
}

// Run drives one connection through authentication. On error the worker
// has already been sent an envelope (when the connection still worked)
// and the caller must close the socket.
func (h *Handler) Run(ctx context.Context, conn *protocol.Conn) (*Result, error) {
	msg, err := conn.RecvTimeout(authStepWindow)
	if err != nil {
		return nil, err
	}
	switch m := msg.(type) {
	case protocol.AccessToken:
		return h.authenticate(ctx, conn, m)
	case protocol.NewModel:
		return h.register(ctx, conn, m)
	default:
		err := protocol.ExpectedError("AccessToken or NewModel", msg)
		h.reportError(conn, err)
		return nil, err
	}
}

func (h *Handler) authenticate(
	ctx context.Context,
	conn *protocol.Conn,
	msg protocol.AccessToken,
) (*Result, error) {
	body, err := h.mgmt.Authenticate(ctx, msg.ID, msg.Token)
	if err != nil {
		h.reportError(conn, err)
		return nil, err
	}
	if err := conn.SendRaw(body); err != nil {
		return nil, err
	}
	return &Result{ModelID: msg.ID, Token: msg.Token}, nil
}

func (h *Handler) register(
	ctx context.Context,
	conn *protocol.Conn,
	msg protocol.NewModel,
) (*Result, error) {
	challenge, err := h.mgmt.NewModel(ctx, msg)
	if err != nil {
		h.reportError(conn, err)
		return nil, err
	}
	if err := conn.SendRaw(challenge); err != nil {
		return nil, err
	}

	next, err := conn.RecvTimeout(authStepWindow)
	if err != nil {
		return nil, err
	}
	answer, ok := next.(protocol.ChallengeResponse)
	if !ok {
		err := protocol.ExpectedError("ChallengeResponse", next)
		h.reportError(conn, err)
		return nil, err
	}

	token, err := h.mgmt.VerifyModel(ctx, answer)
	if err != nil {
		h.reportError(conn, err)
		return nil, err
	}
	if err := conn.SendRaw(token); err != nil {
		return nil, err
	}

	next, err = conn.RecvTimeout(authStepWindow)
	if err != nil {
		return nil, err
	}
	access, ok := next.(protocol.AccessToken)
	if !ok {
		err := protocol.ExpectedError("AccessToken", next)
		h.reportError(conn, err)
		return nil, err
	}
	return h.authenticate(ctx, conn, access)
}

func (h *Handler) reportError(conn *protocol.Conn, err error) {
	if sErr := conn.SendError(err); sErr != nil {
		log.Warn().Err(sErr).Msg("failed to report authentication error to worker")
	}
}
