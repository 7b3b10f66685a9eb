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

package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/Sybl-ml/dodona-sub000/apiserver"
	"github.com/Sybl-ml/dodona-sub000/cnf"
	"github.com/Sybl-ml/dodona-sub000/control"
	"github.com/Sybl-ml/dodona-sub000/derrors"
	"github.com/Sybl-ml/dodona-sub000/exec"
	"github.com/Sybl-ml/dodona-sub000/handshake"
	"github.com/Sybl-ml/dodona-sub000/health"
	"github.com/Sybl-ml/dodona-sub000/intake"
	"github.com/Sybl-ml/dodona-sub000/perfcache"
	"github.com/Sybl-ml/dodona-sub000/pool"
	"github.com/Sybl-ml/dodona-sub000/protocol"
	"github.com/Sybl-ml/dodona-sub000/sched"
	"github.com/Sybl-ml/dodona-sub000/settle"
	"github.com/Sybl-ml/dodona-sub000/store"
	"github.com/rs/zerolog/log"
)

// performanceHistory prefers the local cache and falls back to the
// job_performances log in the store.
type performanceHistory struct {
	cache *perfcache.Cache
	db    store.Store
}

func (h *performanceHistory) Last(modelID string, n int) ([]float64, error) {
	values, err := h.cache.Last(modelID, n)
	if err == nil && len(values) > 0 {
		return values, nil
	}
	if err != nil {
		log.Warn().Err(err).Str("modelId", modelID).
			Msg("local performance cache failed, falling back to store")
	}
	return h.db.LastPerformances(context.Background(), modelID, n)
}

// edgeNode wires all edge-side components together for one run.
type edgeNode struct {
	conf    *cnf.Conf
	version VersionInfo

	db      *store.MongoDB
	cache   *perfcache.Cache
	nodes   *pool.Pool
	queue   *sched.Queue
	handler *handshake.Handler
}

func newEdgeNode(conf *cnf.Conf, version VersionInfo) *edgeNode {
	return &edgeNode{conf: conf, version: version}
}

func (e *edgeNode) run(ctx context.Context) error {
	var err error
	e.db, err = store.Connect(ctx, e.conf.ConnStr, e.conf.AppName, e.conf.DatabaseName)
	if err != nil {
		return fmt.Errorf("failed to start edge node: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.db.Close(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to close store connection")
		}
	}()

	e.cache, err = perfcache.Open(e.conf.PerfCachePath)
	if err != nil {
		return fmt.Errorf("failed to start edge node: %w", err)
	}
	defer e.cache.Close()

	e.nodes = pool.New(&performanceHistory{cache: e.cache, db: e.db})
	e.queue = sched.NewQueue()
	e.nodes.SetNotifier(e.queue)
	e.handler = handshake.New(handshake.NewManagementClient(e.conf.ManagementURL))

	settler := settle.New(e.db, e.cache, e.nodes)
	executor := exec.New(e.nodes, e.db, settler)
	scheduler := sched.New(e.queue, e.nodes, executor.Run)
	consumer := intake.New(e.conf.BrokerAddr, e.db, e.queue)
	defer consumer.Close()
	monitor := health.New(
		e.nodes, e.db, time.Duration(e.conf.HealthSecs)*time.Second)

	ln, err := net.Listen("tcp", e.conf.NodeSocket)
	if err != nil {
		return fmt.Errorf("failed to start edge node: %w", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go scheduler.Run(ctx)
	go consumer.Run(ctx)
	go monitor.Run(ctx)
	go e.acceptWorkers(ctx, ln)

	workerPort := uint16(ln.Addr().(*net.TCPAddr).Port)
	registrar := control.NewRegistrar(e.conf.ControlSocket, workerPort)
	go registrar.Run(ctx)

	var api *apiserver.APIServer
	if e.conf.ListenPort != 0 {
		api = apiserver.New(e.conf, e.version.Version, e.nodes, e.queue)
		api.Start(ctx)
	}

	log.Info().
		Str("nodeSocket", ln.Addr().String()).
		Str("controlSocket", e.conf.ControlSocket).
		Msg("edge node running")
	<-ctx.Done()
	log.Warn().Msg("shutdown signal received")

	if api != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := api.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("failed to shut down diagnostics API")
		}
	}
	return nil
}

// acceptWorkers admits fresh worker connections until the listener is
// closed.
func (e *edgeNode) acceptWorkers(ctx context.Context, ln net.Listener) {
	for {
		raw, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to accept worker connection")
			continue
		}
		go e.admitWorker(ctx, protocol.NewConn(raw))
	}
}

// admitWorker authenticates one connection and inserts the worker into
// the pool.
func (e *edgeNode) admitWorker(ctx context.Context, c *protocol.Conn) {
	result, err := e.handler.Run(ctx, c)
	if err != nil {
		log.Warn().Err(err).
			Str("remoteAddr", c.RemoteAddr().String()).
			Msg("worker authentication failed")
		c.Close()
		return
	}

	owner, err := e.db.ModelOwner(ctx, result.ModelID)
	if err != nil {
		log.Error().Err(err).
			Str("modelId", result.ModelID).
			Msg("failed to resolve model owner")
		c.SendError(derrors.New(derrors.StoreUnavailable, err))
		c.Close()
		return
	}

	if !e.nodes.Add(pool.NewWorker(result.ModelID, owner, c)) {
		c.Close()
		return
	}
	if err := e.db.SetModelStatus(ctx, result.ModelID, store.ModelStatusRunning); err != nil {
		log.Error().Err(err).
			Str("modelId", result.ModelID).
			Msg("failed to record worker start")
	}
}
