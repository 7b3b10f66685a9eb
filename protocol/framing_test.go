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
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/Sybl-ml/dodona-sub000/derrors"
	"github.com/stretchr/testify/assert"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"Alive":{"timestamp":7}}`)
	err := WriteFrame(&buf, payload)
	assert.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 25}, buf.Bytes()[:4])
	out, err := ReadFrame(&buf)
	assert.NoError(t, err)
	assert.Equal(t, payload, out)
}

func TestFrameEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFrame(&buf, nil)
	assert.NoError(t, err)
	out, err := ReadFrame(&buf)
	assert.NoError(t, err)
	assert.Len(t, out, 0)
}

func TestReadFrameTornPrefix(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0})
	_, err := ReadFrame(buf)
	assert.True(t, derrors.IsKind(err, derrors.Stream))
}

func TestReadFrameTornPayload(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 10, 'x', 'y'})
	_, err := ReadFrame(buf)
	assert.True(t, derrors.IsKind(err, derrors.Stream))
}

func TestConnSendRecv(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	cc := NewConn(client)
	sc := NewConn(server)

	go func() {
		assert.NoError(t, cc.Send(ConfigResponse{Accept: true}))
	}()
	msg, err := sc.Recv()
	assert.NoError(t, err)
	assert.Equal(t, ConfigResponse{Accept: true}, msg)
}

func TestConnRecvTimeout(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	sc := NewConn(server)

	_, err := sc.RecvTimeout(20 * time.Millisecond)
	assert.True(t, derrors.IsKind(err, derrors.Timeout))
}

func TestConnSendErrorEnvelope(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	cc := NewConn(client)

	go func() {
		assert.NoError(t, cc.SendError(derrors.WithCode(
			derrors.Rejected, 401, assert.AnError)))
	}()
	payload, err := ReadFrame(server)
	assert.NoError(t, err)
	assert.Contains(t, string(payload), `"code":401`)
}
