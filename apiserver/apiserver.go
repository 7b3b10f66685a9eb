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

// Package apiserver exposes a read-only diagnostics HTTP surface on the
// edge node: overall status, the worker registry and the job queue.
package apiserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/Sybl-ml/dodona-sub000/cnf"
	"github.com/Sybl-ml/dodona-sub000/pool"
	"github.com/Sybl-ml/dodona-sub000/sched"
	"github.com/czcorpus/cnc-gokit/logging"
	"github.com/czcorpus/cnc-gokit/uniresp"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const (
	serverReadTimeoutSecs  = 10
	serverWriteTimeoutSecs = 30
)

type APIServer struct {
	conf    *cnf.Conf
	version string
	nodes   *pool.Pool
	queue   *sched.Queue
	server  *http.Server
}

func New(conf *cnf.Conf, version string, nodes *pool.Pool, queue *sched.Queue) *APIServer {
	return &APIServer{
		conf:    conf,
		version: version,
		nodes:   nodes,
		queue:   queue,
	}
}

func getRequestOrigin(ctx *gin.Context) string {
	currOrigin, ok := ctx.Request.Header["Origin"]
	if ok {
		return currOrigin[0]
	}
	return ""
}

func CORSMiddleware(conf *cnf.Conf) gin.HandlerFunc {
	return func(ctx *gin.Context) {

		var allowedOrigin string
		currOrigin := getRequestOrigin(ctx)
		for _, origin := range conf.CorsAllowedOrigins {
			if currOrigin == origin {
				allowedOrigin = origin
				break
			}
		}
		if allowedOrigin != "" {
			ctx.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			ctx.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			ctx.Writer.Header().Set(
				"Access-Control-Allow-Headers",
				"Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With",
			)
			ctx.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")
		}

		if ctx.Request.Method == "OPTIONS" {
			ctx.AbortWithStatus(204)
			return
		}
		ctx.Next()
	}
}

type nodeStatus struct {
	Version       string `json:"version"`
	ActiveWorkers int    `json:"activeWorkers"`
	TotalWorkers  int    `json:"totalWorkers"`
	QueueDepth    int    `json:"queueDepth"`
}

func (api *APIServer) handleStatus(ctx *gin.Context) {
	uniresp.WriteJSONResponse(ctx.Writer, nodeStatus{
		Version:       api.version,
		ActiveWorkers: api.nodes.ActiveCount(),
		TotalWorkers:  len(api.nodes.Snapshot()),
		QueueDepth:    api.queue.Len(),
	})
}

func (api *APIServer) handleWorkers(ctx *gin.Context) {
	uniresp.WriteJSONResponse(ctx.Writer, api.nodes.Snapshot())
}

func (api *APIServer) handleQueue(ctx *gin.Context) {
	uniresp.WriteJSONResponse(ctx.Writer, api.queue.Snapshot())
}

func (api *APIServer) engine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(logging.GinMiddleware())
	engine.Use(uniresp.AlwaysJSONContentType())
	engine.Use(CORSMiddleware(api.conf))
	engine.NoMethod(uniresp.NoMethodHandler)
	engine.NoRoute(uniresp.NotFoundHandler)

	engine.GET("/status", api.handleStatus)
	engine.GET("/workers", api.handleWorkers)
	engine.GET("/queue", api.handleQueue)
	return engine
}

func (api *APIServer) Start(ctx context.Context) {
	if !api.conf.Logging.Level.IsDebugMode() {
		gin.SetMode(gin.ReleaseMode)
	}

	log.Info().Msgf("starting to listen at %s:%d", api.conf.ListenAddress, api.conf.ListenPort)
	api.server = &http.Server{
		Handler:      api.engine(),
		Addr:         fmt.Sprintf("%s:%d", api.conf.ListenAddress, api.conf.ListenPort),
		WriteTimeout: serverWriteTimeoutSecs * time.Second,
		ReadTimeout:  serverReadTimeoutSecs * time.Second,
	}
	go func() {
		if err := api.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()
}

func (api *APIServer) Stop(ctx context.Context) error {
	log.Warn().Msg("shutting down diagnostics API server")
	return api.server.Shutdown(ctx)
}
