package main

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"
)

// StartMessage is published once per boot on environment/<id>/start.
type StartMessage struct {
	ID     string `json:"u"`
	Name   string `json:"n"`
	Reason string `json:"r"`
	UTC    string `json:"utc"`
}

// RemoteConfig is the per-sensor configuration served at ConfigPath/<id>.
// Unknown keys are ignored.
type RemoteConfig struct {
	Name           string `json:"name"`
	SampleCount    int    `json:"sample_count"`
	SampleInterval int    `json:"sample_interval"`
	TVOCWait       int    `json:"tvoc_wait"`
}

func startTopic(id string) string {
	return "environment/" + id + "/start"
}

// report runs one start-up telemetry cycle: attach, fetch the remote
// configuration when a host is configured, publish the start message and
// detach again.
func (r *Runner) report(ctx context.Context, _ []string) error {
	logger := r.Logger.With("sensor", r.Config.SensorID)

	if !r.Modem.Enable(ctx) {
		return fmt.Errorf("report: enable: %w", ErrFailed)
	}
	defer r.Modem.Disable()

	name := r.Config.SensorName
	if remote, ok := r.fetchConfig(ctx); ok && remote.Name != "" {
		logger.Info("remote configuration applied", "name", remote.Name,
			"sample_count", remote.SampleCount, "sample_interval", remote.SampleInterval)
		name = remote.Name
	}

	msg := StartMessage{
		ID:     r.Config.SensorID,
		Name:   name,
		Reason: r.Config.Reason,
		UTC:    time.Now().UTC().Format("2006-01-02T15:04:05"),
	}
	if !r.Modem.SendMQTT(ctx, startTopic(msg.ID), msg) {
		return fmt.Errorf("report: publish: %w", ErrFailed)
	}

	logger.Info("start message published", "reason", msg.Reason)
	fmt.Fprintln(r.Out, "reported")
	return nil
}

func (r *Runner) fetchConfig(ctx context.Context) (RemoteConfig, bool) {
	var remote RemoteConfig
	if r.Config.ConfigHost == "" {
		return remote, false
	}

	content, ok := r.Modem.GetHTTP(ctx, r.Config.ConfigHost, path.Join(r.Config.ConfigPath, r.Config.SensorID))
	if !ok || content == "" {
		return remote, false
	}
	if err := json.Unmarshal([]byte(content), &remote); err != nil {
		r.Logger.Warn("invalid remote configuration", "error", err)
		return remote, false
	}
	return remote, true
}
