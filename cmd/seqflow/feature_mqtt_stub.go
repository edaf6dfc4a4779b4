//go:build no_mqtt

package main

import (
	"log/slog"

	"seqflow/internal/runner"
)

type mqttStopper struct{}

func (m *mqttStopper) Stop() {}

func initMQTT(_ *runner.Service, _ *Config, _ *slog.Logger) *mqttStopper {
	return &mqttStopper{}
}
