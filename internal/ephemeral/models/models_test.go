// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package models

import (
	"testing"
	"time"

	"github.com/gestvenv/gestvenv/internal/backend"
)

func TestNewDefaults(t *testing.T) {
	env := New("3.11", backend.UV)
	if env.Status != Pending {
		t.Fatalf("expected status pending, got %s", env.Status)
	}
	if env.ID == "" || env.Name == "" {
		t.Fatalf("expected generated id and name")
	}
	if env.MaxIdleTime != 5*time.Minute {
		t.Fatalf("expected default max idle time of 5m, got %s", env.MaxIdleTime)
	}
	if env.IsActive() {
		t.Fatalf("a pending environment should not be active")
	}
}

func TestIsActive(t *testing.T) {
	env := New("3.11", backend.Pip)
	for _, s := range []Status{Ready, Running} {
		env.Status = s
		if !env.IsActive() {
			t.Fatalf("status %s should be active", s)
		}
	}
	for _, s := range []Status{Pending, Creating, CleaningUp, Destroyed, Failed} {
		env.Status = s
		if env.IsActive() {
			t.Fatalf("status %s should not be active", s)
		}
	}
}

func TestIsExpired(t *testing.T) {
	env := New("3.11", backend.Pip)
	env.TTL = 0
	if env.IsExpired() {
		t.Fatalf("zero TTL should never expire")
	}

	env.TTL = time.Millisecond
	env.CreatedAt = time.Now().UTC().Add(-time.Second)
	if !env.IsExpired() {
		t.Fatalf("expected environment with elapsed TTL to be expired")
	}
}

func TestIsIdleExpired(t *testing.T) {
	env := New("3.11", backend.Pip)
	env.MaxIdleTime = time.Millisecond
	env.LastActivityAt = time.Now().UTC().Add(-time.Second)
	if !env.IsIdleExpired() {
		t.Fatalf("expected idle-expired environment")
	}

	env.Touch()
	if env.IsIdleExpired() {
		t.Fatalf("Touch should reset idle expiry")
	}
}
