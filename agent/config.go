package main

import (
	"go.uber.org/zap"

	"github.com/meshswarm/meshswarm/lib/coordinator"
	"github.com/meshswarm/meshswarm/lib/transport"
	"github.com/meshswarm/meshswarm/metrics"
	"github.com/meshswarm/meshswarm/tracker/trackerclient"
)

// Config defines agent configuration.
type Config struct {
	ZapLogging  zap.Config             `yaml:"zap"`
	Metrics     metrics.Config         `yaml:"metrics"`
	Tracker     trackerclient.Config   `yaml:"tracker"`
	Coordinator coordinator.Config     `yaml:"coordinator"`
	WebRTC      transport.WebRTCConfig `yaml:"webrtc"`
}
