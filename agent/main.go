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

// The agent is a headless swarm participant. It joins the tracker,
// replicates every artifact announced to it, and can seed a local file into
// the swarm on startup.
package main

import (
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andres-erbsen/clock"

	"github.com/meshswarm/meshswarm/core"
	"github.com/meshswarm/meshswarm/lib/coordinator"
	"github.com/meshswarm/meshswarm/lib/transport"
	"github.com/meshswarm/meshswarm/metrics"
	"github.com/meshswarm/meshswarm/tracker/trackerclient"
	"github.com/meshswarm/meshswarm/utils/configutil"
	"github.com/meshswarm/meshswarm/utils/log"
)

func main() {
	configFile := flag.String("config", "", "configuration file path")
	trackerAddr := flag.String("tracker", "", "tracker host:port (overrides config)")
	file := flag.String("file", "", "path of an artifact to seed on startup")
	prompt := flag.String("prompt", "", "provenance prompt attached to the seeded artifact")

	flag.Parse()

	var config Config
	if err := configutil.Load(*configFile, &config); err != nil {
		panic(err)
	}
	if config.ZapLogging.Encoding != "" {
		log.ConfigureLogger(config.ZapLogging)
	}
	if *trackerAddr != "" {
		config.Tracker.Addr = *trackerAddr
	}
	if config.Tracker.Addr == "" {
		log.Fatalf("No tracker address configured")
	}

	stats, closer, err := metrics.New(config.Metrics)
	if err != nil {
		log.Fatalf("Failed to init metrics: %s", err)
	}
	defer closer.Close()

	c := coordinator.New(
		config.Coordinator,
		stats,
		clock.New(),
		trackerclient.New(config.Tracker, log.Default()),
		transport.NewWebRTCDialer(config.WebRTC),
		&sceneLogger{},
		log.Default())
	defer c.Stop()

	if *file != "" {
		if err := seed(c, *file, *prompt); err != nil {
			log.Fatalf("Failed to seed %s: %s", *file, err)
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	log.Infof("Shutting down")
}

// seed shares one local file into the swarm with an identity transform.
func seed(c *coordinator.Coordinator, path, prompt string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := awaitWelcome(c, 10*time.Second); err != nil {
		return err
	}
	contentID, err := c.ShareModel(data, core.IdentityTransform(), core.Provenance{
		Producer: c.PeerID(),
		Prompt:   prompt,
	})
	if err != nil {
		return err
	}
	log.Infof("Seeding %s as %s, %d bytes", path, contentID, len(data))
	return nil
}

// awaitWelcome blocks until the tracker has assigned a participant id, so
// seeded artifacts carry real producer provenance.
func awaitWelcome(c *coordinator.Coordinator, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for c.PeerID() == "" {
		if time.Now().After(deadline) {
			return errors.New("timed out waiting for tracker welcome")
		}
		time.Sleep(100 * time.Millisecond)
	}
	return nil
}

// sceneLogger is the agent's scene collaborator: it has no renderer, so it
// logs lifecycle events instead.
type sceneLogger struct{}

func (s *sceneLogger) OnPeerConnected(peerID core.PeerID) {
	log.Infof("Peer %s connected", peerID)
}

func (s *sceneLogger) OnPeerDisconnected(peerID core.PeerID) {
	log.Infof("Peer %s disconnected", peerID)
}

func (s *sceneLogger) OnDownloadProgress(contentID core.ContentID, percent float64) {
	log.Debugf("Download of %s at %.1f%%", contentID, percent)
}

func (s *sceneLogger) OnModelReceived(info *core.ModelInfo, data []byte) {
	log.Infof("Received model %s from %s, %d bytes",
		info.ContentID, info.Provenance.Producer, len(data))
}
