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

// Package cnf loads the node configuration from a JSON file and applies
// the contractual environment overrides (CONN_STR, APP_NAME,
// BROKER_PORT, NODE_SOCKET, HEALTH, DATABASE_NAME) on top.
package cnf

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/czcorpus/cnc-gokit/logging"
	"github.com/rs/zerolog/log"
)

const (
	dfltConnStr       = "mongodb://127.0.0.1:27017"
	dfltAppName       = "dcl"
	dfltDatabaseName  = "sybl"
	dfltBrokerAddr    = "127.0.0.1:9092"
	dfltNodeSocket    = ":5000"
	dfltControlSocket = ":2254"
	dfltHealthSecs    = 5
	dfltMgmtURL       = "http://127.0.0.1:3001"
	dfltPerfCachePath = "./perfcache"
)

type Conf struct {
	srcPath string
	Logging logging.LoggingConf `json:"logging"`

	// ConnStr is the document-store connection string
	ConnStr      string `json:"connStr"`
	AppName      string `json:"appName"`
	DatabaseName string `json:"databaseName"`

	// BrokerAddr is the intake bus bootstrap address
	BrokerAddr string `json:"brokerAddr"`

	// NodeSocket is the worker-facing TCP listen address of an edge node
	NodeSocket string `json:"nodeSocket"`

	// ControlSocket is the listen address when running as the control
	// node, and the address an edge node registers against otherwise
	ControlSocket string `json:"controlSocket"`

	// HealthSecs is the heartbeat period in seconds
	HealthSecs int `json:"healthSecs"`

	// ManagementURL is the base URL of the management plane's client API
	ManagementURL string `json:"managementUrl"`

	// PerfCachePath is the directory of the local performance cache
	PerfCachePath string `json:"perfCachePath"`

	// ops API; ListenPort 0 disables it
	ListenAddress      string   `json:"listenAddress"`
	ListenPort         int      `json:"listenPort"`
	CorsAllowedOrigins []string `json:"corsAllowedOrigins"`
}

func (conf *Conf) GetSourcePath() string {
	return conf.srcPath
}

func LoadConfig(path string) *Conf {
	if path == "" {
		log.Fatal().Msg("Cannot load config - path not specified")
	}
	rawData, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load config")
	}
	var conf Conf
	conf.srcPath = path
	err = json.Unmarshal(rawData, &conf)
	if err != nil {
		log.Fatal().Err(err).Msg("Cannot load config")
	}
	applyEnv(&conf)
	return &conf
}

// applyEnv overlays the contractual environment variables over the
// file values. BROKER_PORT and NODE_SOCKET carry bare port numbers.
func applyEnv(conf *Conf) {
	if v := os.Getenv("CONN_STR"); v != "" {
		conf.ConnStr = v
	}
	if v := os.Getenv("APP_NAME"); v != "" {
		conf.AppName = v
	}
	if v := os.Getenv("DATABASE_NAME"); v != "" {
		conf.DatabaseName = v
	}
	if v := os.Getenv("BROKER_PORT"); v != "" {
		conf.BrokerAddr = fmt.Sprintf("127.0.0.1:%s", v)
	}
	if v := os.Getenv("NODE_SOCKET"); v != "" {
		conf.NodeSocket = fmt.Sprintf(":%s", v)
	}
	if v := os.Getenv("HEALTH"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid HEALTH value")
		}
		conf.HealthSecs = secs
	}
}

func ValidateAndDefaults(conf *Conf) {
	if conf.ConnStr == "" {
		conf.ConnStr = dfltConnStr
		log.Warn().Str("connStr", dfltConnStr).Msg("connStr not specified, using default")
	}
	if conf.AppName == "" {
		conf.AppName = dfltAppName
	}
	if conf.DatabaseName == "" {
		conf.DatabaseName = dfltDatabaseName
		log.Warn().
			Str("databaseName", dfltDatabaseName).
			Msg("databaseName not specified, using default")
	}
	if conf.BrokerAddr == "" {
		conf.BrokerAddr = dfltBrokerAddr
		log.Warn().
			Str("brokerAddr", dfltBrokerAddr).
			Msg("brokerAddr not specified, using default")
	}
	if conf.NodeSocket == "" {
		conf.NodeSocket = dfltNodeSocket
		log.Warn().
			Str("nodeSocket", dfltNodeSocket).
			Msg("nodeSocket not specified, using default")
	}
	if conf.ControlSocket == "" {
		conf.ControlSocket = dfltControlSocket
	}
	if conf.HealthSecs == 0 {
		conf.HealthSecs = dfltHealthSecs
		log.Warn().Msgf("healthSecs not specified, using default: %d", dfltHealthSecs)
	}
	if conf.ManagementURL == "" {
		conf.ManagementURL = dfltMgmtURL
		log.Warn().
			Str("managementUrl", dfltMgmtURL).
			Msg("managementUrl not specified, using default")
	}
	if conf.PerfCachePath == "" {
		conf.PerfCachePath = dfltPerfCachePath
	}
	if conf.ListenPort == 0 {
		log.Warn().Msg("listenPort not specified, diagnostics API disabled")
	}
}
