// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

// Package cleanup implements the periodic reaper for ephemeral
// environments, grounded on the original implementation's
// CleanupScheduler: idle, TTL-expired, failed, and forced-old
// environments are all swept on each tick of one interval, independent of
// whatever scoped guard created them.
package cleanup

import (
	"context"
	"sync"
	"time"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/corelog"
	"github.com/gestvenv/gestvenv/internal/ephemeral/models"
)

var logger = corelog.New("ephemeral/cleanup")

// Reaper is anything that can tear down and enumerate ephemeral
// environments; satisfied by *ephemeral.Manager, kept as an interface
// here so this package has no import cycle back to it.
type Reaper interface {
	List() []*models.Environment
	Cleanup(ctx context.Context, id string, force bool) *coreerrors.CoreError
}

// Scheduler runs Reaper.Cleanup on a timer for every environment that
// has gone idle, expired its TTL, or ended up FAILED.
type Scheduler struct {
	reaper            Reaper
	interval          time.Duration
	forceCleanupAfter time.Duration

	mu       sync.Mutex
	counts   map[string]int
	stop     chan struct{}
	stopped  chan struct{}
}

// New builds a Scheduler from the ephemeral config's cleanup cadence.
func New(reaper Reaper, cfg models.Config) *Scheduler {
	return &Scheduler{
		reaper:            reaper,
		interval:          cfg.CleanupInterval,
		forceCleanupAfter: cfg.ForceCleanupAfter,
		counts:            map[string]int{},
	}
}

// Start runs the reap loop on its own goroutine until Stop is called.
func (s *Scheduler) Start() {
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.loop()
}

// Stop halts the reap loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.stopped
	s.stop = nil
}

func (s *Scheduler) loop() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Scheduler) sweep() {
	ctx := context.Background()
	s.CleanupInactive(ctx)
	s.cleanupExpired(ctx)
	s.cleanupFailed(ctx)
	s.forceCleanupOld(ctx)
}

// CleanupInactive reaps every environment that is idle-expired; callers
// (notably the admission check) invoke this directly rather than waiting
// for the next tick.
func (s *Scheduler) CleanupInactive(ctx context.Context) int {
	n := 0
	for _, env := range s.reaper.List() {
		if env.IsIdleExpired() {
			if errC := s.reaper.Cleanup(ctx, env.ID, false); errC == nil {
				s.bump(env.ID, "idle")
				n++
			}
		}
	}
	return n
}

func (s *Scheduler) cleanupExpired(ctx context.Context) {
	for _, env := range s.reaper.List() {
		if env.IsExpired() {
			logger.Info("reaping TTL-expired ephemeral environment", "env_id", env.ID)
			if errC := s.reaper.Cleanup(ctx, env.ID, false); errC == nil {
				s.bump(env.ID, "expired")
			}
		}
	}
}

func (s *Scheduler) cleanupFailed(ctx context.Context) {
	for _, env := range s.reaper.List() {
		if env.Status == models.Failed {
			logger.Info("reaping failed ephemeral environment", "env_id", env.ID)
			if errC := s.reaper.Cleanup(ctx, env.ID, true); errC == nil {
				s.bump(env.ID, "failed")
			}
		}
	}
}

// forceCleanupOld reaps anything older than ForceCleanupAfter regardless
// of status, a last-resort backstop against a leaked environment nobody
// else is going to reap.
func (s *Scheduler) forceCleanupOld(ctx context.Context) {
	for _, env := range s.reaper.List() {
		if env.Age() > s.forceCleanupAfter {
			logger.Warn("force-reaping stale ephemeral environment", "env_id", env.ID, "age", env.Age().String())
			if errC := s.reaper.Cleanup(ctx, env.ID, true); errC == nil {
				s.bump(env.ID, "forced")
			}
		}
	}
}

// EmergencyCleanupAll reaps every active environment immediately,
// ignoring idle/TTL state; used for the hosting process's own shutdown
// path in addition to the atexit hook the manager registers itself.
func (s *Scheduler) EmergencyCleanupAll(ctx context.Context) {
	for _, env := range s.reaper.List() {
		if errC := s.reaper.Cleanup(ctx, env.ID, true); errC == nil {
			s.bump(env.ID, "emergency")
		}
	}
}

func (s *Scheduler) bump(envID, category string) {
	s.mu.Lock()
	s.counts[category]++
	s.mu.Unlock()
}

// Stats returns a snapshot of how many environments were reaped per
// category since the scheduler started.
func (s *Scheduler) Stats() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}
