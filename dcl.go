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
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sybl-ml/dodona-sub000/cnf"
	"github.com/czcorpus/cnc-gokit/logging"
)

const (
	actionEdge    = "edge"
	actionControl = "control"
	actionVersion = "version"
	actionHelp    = "help"

	exitErrorGeneralFailure = 1
)

var (
	version   string
	buildDate string
	gitCommit string
)

// VersionInfo provides a detailed information about the actual build
type VersionInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"buildDate"`
	GitCommit string `json:"gitCommit"`
}

func topLevelUsage() {
	fmt.Fprintf(os.Stderr, "DCL - the Sybl distributed compute layer\n")
	fmt.Fprintf(os.Stderr, "-----------------------------\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	fmt.Fprintf(os.Stderr, "\t%s\t\trun an edge node (default)\n", actionEdge)
	fmt.Fprintf(os.Stderr, "\t%s\t\trun the control node\n", actionControl)
	fmt.Fprintf(os.Stderr, "\t%s\t\tshow version info\n", actionVersion)
	fmt.Fprintf(os.Stderr, "\nUse `dcl help ACTION` for information about a specific action\n\n")
}

func setup(confPath string) *cnf.Conf {
	conf := cnf.LoadConfig(confPath)
	if conf.Logging.Level == "" {
		conf.Logging.Level = "info"
	}
	logging.SetupLogging(conf.Logging)
	cnf.ValidateAndDefaults(conf)
	return conf
}

func cleanVersionInfo(v string) string {
	return strings.TrimLeft(strings.Trim(v, "'"), "v")
}

func runActionVersion(ver VersionInfo) {
	fmt.Fprintln(os.Stderr, "DCL version: ", ver)
}

func main() {
	version := VersionInfo{
		Version:   cleanVersionInfo(version),
		BuildDate: cleanVersionInfo(buildDate),
		GitCommit: cleanVersionInfo(gitCommit),
	}

	cmdEdge := flag.NewFlagSet(actionEdge, flag.ExitOnError)
	cmdEdge.Usage = func() {
		fmt.Fprintf(
			os.Stderr,
			"Usage:\t%s %s [options] config.json\n",
			filepath.Base(os.Args[0]), actionEdge)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		cmdEdge.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nRun an edge node serving worker connections\n")
	}

	cmdControl := flag.NewFlagSet(actionControl, flag.ExitOnError)
	cmdControl.Usage = func() {
		fmt.Fprintf(
			os.Stderr,
			"Usage:\t%s %s [options] config.json\n",
			filepath.Base(os.Args[0]), actionControl)
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		cmdControl.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nRun the control node assigning edges to workers\n")
	}

	cmdVersion := flag.NewFlagSet(actionVersion, flag.ExitOnError)
	cmdVersion.Usage = func() {
		cmdVersion.PrintDefaults()
	}

	cmdHelp := flag.NewFlagSet(actionHelp, flag.ExitOnError)
	cmdHelp.Usage = func() {
		cmdHelp.PrintDefaults()
	}

	action := actionEdge
	if len(os.Args) > 1 {
		action = os.Args[1]
	}

	switch action {
	case actionHelp:
		var subj string
		if len(os.Args) > 2 {
			cmdHelp.Parse(os.Args[2:])
			subj = cmdHelp.Arg(0)
		}
		if subj == "" {
			topLevelUsage()
			return
		}
		switch subj {
		case actionEdge:
			cmdEdge.Usage()
		case actionControl:
			cmdControl.Usage()
		case actionVersion:
			cmdVersion.PrintDefaults()
		}
	case actionVersion:
		cmdVersion.Parse(os.Args[2:])
		runActionVersion(version)
	case actionControl:
		cmdControl.Parse(os.Args[2:])
		conf := setup(cmdControl.Arg(0))
		runActionControl(conf)
	case actionEdge:
		cmdEdge.Parse(os.Args[2:])
		conf := setup(cmdEdge.Arg(0))
		runActionEdge(conf, version)
	default:
		// any other first argument is taken for a config path of an
		// edge node run
		conf := setup(os.Args[1])
		runActionEdge(conf, version)
	}
}
