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
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/Sybl-ml/dodona-sub000/derrors"
)

// Conn wraps one worker TCP connection. Writes are serialised through
// an internal lock because the health monitor and an executor task may
// both hold the write side; reads are exclusive to the current owner
// of the connection, which the pool hands over through reservation or
// a heartbeat probe.
type Conn struct {
	c   net.Conn
	wMu sync.Mutex
}

func NewConn(c net.Conn) *Conn {
	return &Conn{c: c}
}

// Send frames and writes a single message.
func (conn *Conn) Send(msg Message) error {
	payload, err := Marshal(msg)
	if err != nil {
		return derrors.Newf(derrors.Protocol, "failed to serialise message: %w", err)
	}
	return conn.SendRaw(payload)
}

// SendRaw writes one frame carrying an arbitrary payload. Used for
// relaying management-plane response bodies verbatim.
func (conn *Conn) SendRaw(payload []byte) error {
	conn.wMu.Lock()
	defer conn.wMu.Unlock()
	return WriteFrame(conn.c, payload)
}

// SendError reports an error envelope to the worker. The connection is
// expected to be closed right after.
func (conn *Conn) SendError(err error) error {
	var envelope derrors.Envelope
	var de *derrors.Error
	if e, ok := err.(*derrors.Error); ok {
		de = e
	} else {
		de = derrors.New(derrors.Stream, err)
	}
	envelope = de.Envelope()
	payload, mErr := json.Marshal(envelope)
	if mErr != nil {
		return derrors.Newf(derrors.Protocol, "failed to serialise error envelope: %w", mErr)
	}
	return conn.SendRaw(payload)
}

// Recv reads one frame and parses it as a tagged message.
func (conn *Conn) Recv() (Message, error) {
	payload, err := ReadFrame(conn.c)
	if err != nil {
		return nil, err
	}
	return Unmarshal(payload)
}

// RecvTimeout reads one message with a read deadline applied for the
// duration of the call.
func (conn *Conn) RecvTimeout(timeout time.Duration) (Message, error) {
	if err := conn.c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, derrors.Newf(derrors.Stream, "failed to set read deadline: %w", err)
	}
	defer conn.c.SetReadDeadline(time.Time{})
	msg, err := conn.Recv()
	if err != nil {
		if nErr, ok := underlyingNetError(err); ok && nErr.Timeout() {
			return nil, derrors.Newf(derrors.Timeout, "read timed out after %v", timeout)
		}
		return nil, err
	}
	return msg, nil
}

func underlyingNetError(err error) (net.Error, bool) {
	for err != nil {
		if nErr, ok := err.(net.Error); ok {
			return nErr, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

func (conn *Conn) RemoteAddr() net.Addr {
	return conn.c.RemoteAddr()
}

func (conn *Conn) Close() error {
	return conn.c.Close()
}
