// Copyright (c) 2024-2026 the meshswarm authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
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
	"net/http"

	"github.com/andres-erbsen/clock"

	"github.com/meshswarm/meshswarm/metrics"
	"github.com/meshswarm/meshswarm/tracker/trackerserver"
	"github.com/meshswarm/meshswarm/utils/configutil"
	"github.com/meshswarm/meshswarm/utils/log"
)

func main() {
	configFile := flag.String("config", "", "configuration file path")
	port := flag.Int("port", 0, "listen port (overrides config)")

	flag.Parse()

	var config Config
	if err := configutil.Load(*configFile, &config); err != nil {
		panic(err)
	}
	if config.ZapLogging.Encoding != "" {
		log.ConfigureLogger(config.ZapLogging)
	}
	if *port != 0 {
		config.Port = *port
	}
	if config.Port == 0 {
		config.Port = 7070
	}

	stats, closer, err := metrics.New(config.Metrics)
	if err != nil {
		log.Fatalf("Failed to init metrics: %s", err)
	}
	defer closer.Close()

	server := trackerserver.New(config.TrackerServer, stats, clock.New(), log.Default())
	defer server.Close()

	addr := fmt.Sprintf(":%d", config.Port)
	log.Infof("Listening on %s", addr)
	log.Fatalf("Server exited: %s", http.ListenAndServe(addr, server.Handler()))
}
