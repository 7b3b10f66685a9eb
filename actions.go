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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sybl-ml/dodona-sub000/cnf"
	"github.com/Sybl-ml/dodona-sub000/control"
	"github.com/fatih/color"
)

const (
	errColor = color.FgHiRed
)

func runActionEdge(conf *cnf.Conf, version VersionInfo) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node := newEdgeNode(conf, version)
	if err := node.run(ctx); err != nil {
		color.New(errColor).Fprintln(os.Stderr, err)
		os.Exit(exitErrorGeneralFailure)
	}
}

func runActionControl(conf *cnf.Conf) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := control.NewServer(
		conf.ControlSocket, time.Duration(conf.HealthSecs)*time.Second)
	if err := srv.Run(ctx); err != nil {
		color.New(errColor).Fprintln(os.Stderr, err)
		os.Exit(exitErrorGeneralFailure)
	}
}
