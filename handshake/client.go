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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Sybl-ml/dodona-sub000/derrors"
	"github.com/Sybl-ml/dodona-sub000/protocol"
	"github.com/czcorpus/cnc-gokit/httpclient"
)

const (
	idleConnTimeoutSecs = 60
	requestTimeoutSecs  = 30
)

// ManagementClient talks to the management plane's client API. Response
// bodies are returned as raw bytes because the authentication handler
// relays them to the worker verbatim.
type ManagementClient struct {
	baseURL string
	client  *http.Client
}

func NewManagementClient(baseURL string) *ManagementClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = httpclient.TransportMaxIdleConns
	transport.MaxConnsPerHost = httpclient.TransportMaxConnsPerHost
	transport.MaxIdleConnsPerHost = httpclient.TransportMaxIdleConnsPerHost
	transport.IdleConnTimeout = time.Duration(idleConnTimeoutSecs) * time.Second
	return &ManagementClient{
		baseURL: baseURL,
		client: &http.Client{
			Timeout:   time.Duration(requestTimeoutSecs) * time.Second,
			Transport: transport,
		},
	}
}

// NewModel starts the fresh-model registration; the response body is
// the challenge nonce issued by the management plane.
func (mc *ManagementClient) NewModel(
	ctx context.Context,
	msg protocol.NewModel,
) ([]byte, error) {
	return mc.post(ctx, "/api/clients/models/new", msg)
}

// VerifyModel answers the challenge; a successful response carries the
// freshly issued access token.
func (mc *ManagementClient) VerifyModel(
	ctx context.Context,
	msg protocol.ChallengeResponse,
) ([]byte, error) {
	return mc.post(ctx, "/api/clients/models/verify", msg)
}

// Authenticate verifies a model's access token.
func (mc *ManagementClient) Authenticate(
	ctx context.Context,
	modelID, token string,
) ([]byte, error) {
	return mc.post(
		ctx,
		fmt.Sprintf("/api/clients/models/%s/authenticate", modelID),
		map[string]string{"token": token},
	)
}

func (mc *ManagementClient) post(
	ctx context.Context,
	path string,
	payload any,
) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, derrors.Newf(derrors.Upstream, "failed to serialise request: %w", err)
	}
	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, mc.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, derrors.Newf(derrors.Upstream, "failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := mc.client.Do(req)
	if err != nil {
		return nil, derrors.Newf(derrors.Upstream, "failed to contact management plane: %w", err)
	}
	defer resp.Body.Close()
	ans, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, derrors.Newf(derrors.Upstream, "failed to read management plane response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, derrors.WithCode(
			derrors.Rejected,
			resp.StatusCode,
			fmt.Errorf("management plane rejected %s with status %d", path, resp.StatusCode),
		)
	}
	return ans, nil
}
