// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package cleanup

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gestvenv/gestvenv/internal/coreerrors"
	"github.com/gestvenv/gestvenv/internal/ephemeral/models"
)

type fakeReaper struct {
	mu     sync.Mutex
	envs   map[string]*models.Environment
	forced []string
}

func newFakeReaper(envs ...*models.Environment) *fakeReaper {
	r := &fakeReaper{envs: map[string]*models.Environment{}}
	for _, e := range envs {
		r.envs[e.ID] = e
	}
	return r
}

func (r *fakeReaper) List() []*models.Environment {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.Environment, 0, len(r.envs))
	for _, e := range r.envs {
		out = append(out, e)
	}
	return out
}

func (r *fakeReaper) Cleanup(ctx context.Context, id string, force bool) *coreerrors.CoreError {
	r.mu.Lock()
	defer r.mu.Unlock()
	if force {
		r.forced = append(r.forced, id)
	}
	delete(r.envs, id)
	return nil
}

func TestCleanupInactiveReapsIdleExpired(t *testing.T) {
	env := &models.Environment{ID: "idle-env", Status: models.Ready, MaxIdleTime: time.Millisecond, LastActivityAt: time.Now().Add(-time.Second)}
	r := newFakeReaper(env)
	s := New(r, models.DefaultConfig())

	n := s.CleanupInactive(context.Background())
	if n != 1 {
		t.Fatalf("expected 1 reaped environment, got %d", n)
	}
	if len(r.List()) != 0 {
		t.Fatalf("expected environment to be removed from registry")
	}
}

func TestCleanupInactiveLeavesActiveAlone(t *testing.T) {
	env := &models.Environment{ID: "busy-env", Status: models.Running, MaxIdleTime: time.Hour, LastActivityAt: time.Now()}
	r := newFakeReaper(env)
	s := New(r, models.DefaultConfig())

	if n := s.CleanupInactive(context.Background()); n != 0 {
		t.Fatalf("expected no environments reaped, got %d", n)
	}
	if len(r.List()) != 1 {
		t.Fatalf("expected active environment to remain")
	}
}

func TestEmergencyCleanupAllReapsEverythingForced(t *testing.T) {
	r := newFakeReaper(
		&models.Environment{ID: "a", Status: models.Running},
		&models.Environment{ID: "b", Status: models.Ready},
	)
	s := New(r, models.DefaultConfig())

	s.EmergencyCleanupAll(context.Background())
	if len(r.List()) != 0 {
		t.Fatalf("expected all environments reaped")
	}
	if len(r.forced) != 2 {
		t.Fatalf("expected both cleanups to be forced, got %d", len(r.forced))
	}
}
