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

package control

import (
	"context"
	"net"
	"time"

	"github.com/Sybl-ml/dodona-sub000/protocol"
	"github.com/rs/zerolog/log"
)

const dfltRetryDelay = 10 * time.Second

// Registrar is the edge-node side of the control plane: it announces
// the worker-facing port and echoes heartbeats for the lifetime of the
// session, re-registering after any disconnect.
type Registrar struct {
	controlAddr string
	port        uint16
	retryDelay  time.Duration
}

func NewRegistrar(controlAddr string, port uint16) *Registrar {
	return &Registrar{
		controlAddr: controlAddr,
		port:        port,
		retryDelay:  dfltRetryDelay,
	}
}

// Run keeps the edge registered until ctx is cancelled.
func (r *Registrar) Run(ctx context.Context) {
	for {
		if err := r.session(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).
				Str("controlAddr", r.controlAddr).
				Msg("control plane session ended, re-registering")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("control plane registrar stopped")
			return
		case <-time.After(r.retryDelay):
		}
	}
}

func (r *Registrar) session(ctx context.Context) error {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", r.controlAddr)
	if err != nil {
		return err
	}
	c := protocol.NewConn(raw)
	defer c.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Close()
		case <-done:
		}
	}()

	if err := c.Send(protocol.ChildNodeRequest{Port: r.port}); err != nil {
		return err
	}
	log.Info().
		Uint16("port", r.port).
		Str("controlAddr", r.controlAddr).
		Msg("registered with control plane")

	for {
		msg, err := c.Recv()
		if err != nil {
			return err
		}
		probe, ok := msg.(protocol.Alive)
		if !ok {
			continue
		}
		if err := c.Send(probe); err != nil {
			return err
		}
	}
}
