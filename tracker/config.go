package main

import (
	"go.uber.org/zap"

	"github.com/meshswarm/meshswarm/metrics"
	"github.com/meshswarm/meshswarm/tracker/trackerserver"
)

// Config defines tracker configuration.
type Config struct {
	Port          int                  `yaml:"port"`
	ZapLogging    zap.Config           `yaml:"zap"`
	Metrics       metrics.Config       `yaml:"metrics"`
	TrackerServer trackerserver.Config `yaml:"trackerserver"`
}
