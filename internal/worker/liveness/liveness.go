// Package liveness keeps this process marked alive in the membership directory
// and reclaims memberships left behind by processes that died.
package liveness

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindspace/group-meditation/internal/api/metrics"
)

// Heartbeater refreshes a process liveness key.
type Heartbeater interface {
	Heartbeat(ctx context.Context, processID string, ttl time.Duration) error
}

// Reaper removes memberships owned by dead processes.
type Reaper interface {
	ReapStale(ctx context.Context) (int, error)
}

type Config struct {
	ProcessID         string
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	ReapInterval      time.Duration
}

// Job runs the heartbeat and reaper loops.
type Job struct {
	hb     Heartbeater
	reaper Reaper
	cfg    Config
	log    zerolog.Logger
}

func NewJob(hb Heartbeater, reaper Reaper, cfg Config, log zerolog.Logger) *Job {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	if cfg.HeartbeatTTL <= cfg.HeartbeatInterval {
		cfg.HeartbeatTTL = 3 * cfg.HeartbeatInterval
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 30 * time.Second
	}
	return &Job{hb: hb, reaper: reaper, cfg: cfg, log: log}
}

// Beat refreshes the liveness key once. Call it before accepting connections
// so peers never see this process's memberships as stale.
func (j *Job) Beat(ctx context.Context) error {
	return j.hb.Heartbeat(ctx, j.cfg.ProcessID, j.cfg.HeartbeatTTL)
}

// Reap runs one reaper pass.
func (j *Job) Reap(ctx context.Context) {
	n, err := j.reaper.ReapStale(ctx)
	if err != nil {
		j.log.Error().Err(err).Msg("reaper pass failed")
		return
	}
	if n > 0 {
		metrics.DirectoryReapedTotal.Add(float64(n))
	}
}

// Run blocks until ctx is cancelled.
func (j *Job) Run(ctx context.Context) {
	heartbeat := time.NewTicker(j.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	reap := time.NewTicker(j.cfg.ReapInterval)
	defer reap.Stop()

	j.log.Info().
		Dur("heartbeat_interval", j.cfg.HeartbeatInterval).
		Dur("heartbeat_ttl", j.cfg.HeartbeatTTL).
		Dur("reap_interval", j.cfg.ReapInterval).
		Msg("liveness job started")

	for {
		select {
		case <-ctx.Done():
			j.log.Info().Msg("liveness job stopped")
			return
		case <-heartbeat.C:
			if err := j.Beat(ctx); err != nil {
				j.log.Error().Err(err).Msg("heartbeat failed")
			}
		case <-reap.C:
			j.Reap(ctx)
		}
	}
}
