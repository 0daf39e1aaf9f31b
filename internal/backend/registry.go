// Copyright 2018-2020 (c) Cognizant Digital Business, Evolutionary AI. All rights reserved. Issued under the Apache 2.0 License.

package backend

import (
	"context"
	"sort"
	"time"

	"github.com/karlmutch/ccache"

	"github.com/gestvenv/gestvenv/internal/corelog"
	"github.com/gestvenv/gestvenv/internal/coreerrors"
)

var logger = corelog.New("backend")

// probeTTL bounds how long a Probe result is trusted before Registry asks
// the binary again; a host's toolchain rarely changes mid-process, but a
// long-lived daemon should still notice an upgrade eventually.
const probeTTL = 10 * time.Minute

// Registry probes every known backend once, caches the result, and scores
// available backends against the preference order and capability weights
// from the core design.
type Registry struct {
	backends map[Name]Backend
	probes   *ccache.Cache
}

// NewRegistry builds a Registry over the four built-in backends. pythonBin
// is passed through to the pip backend, which has no binary of its own to
// probe for version discovery beyond pip itself.
func NewRegistry(pythonBin string) *Registry {
	r := &Registry{
		backends: map[Name]Backend{
			Pip:    NewPip(pythonBin),
			UV:     NewUV(),
			Poetry: NewPoetry(),
			PDM:    NewPDM(),
		},
		probes: ccache.New(ccache.Configure().MaxSize(16).ItemsToPrune(1)),
	}
	return r
}

// NewRegistryWithBackends builds a Registry over a caller-supplied backend
// set, letting tests substitute fakes without shelling out to real
// interpreters.
func NewRegistryWithBackends(backends map[Name]Backend) *Registry {
	return &Registry{
		backends: backends,
		probes:   ccache.New(ccache.Configure().MaxSize(16).ItemsToPrune(1)),
	}
}

// Probe returns the (possibly cached) ProbeResult for name.
func (r *Registry) Probe(ctx context.Context, name Name) ProbeResult {
	b, ok := r.backends[name]
	if !ok {
		return ProbeResult{Available: false, Reason: "unknown backend"}
	}

	item := r.probes.Fetch(string(name), probeTTL, func() (interface{}, error) {
		res := b.Probe(ctx)
		if !res.Available {
			logger.Debug("backend unavailable", "backend", string(name), "reason", res.Reason)
		}
		return res, nil
	})
	if item == nil || item.Expired() {
		res := b.Probe(ctx)
		r.probes.Set(string(name), res, probeTTL)
		return res
	}
	return item.Value().(ProbeResult)
}

// scored pairs a backend name with its ProbeResult and computed score.
type scored struct {
	name  Name
	probe ProbeResult
	score int
}

// tieBreakOrder is the preference applied when two available backends
// score equally, per the core design: uv first, then pdm, then poetry,
// then pip as the universal fallback.
var tieBreakOrder = map[Name]int{UV: 0, PDM: 1, Poetry: 2, Pip: 3}

func scoreOf(p ProbeResult) int {
	if !p.Available {
		return -1
	}
	s := 0
	if p.Capabilities.SupportsLockFiles {
		s += 3
	}
	if p.Capabilities.SupportsDependencyGroups {
		s += 2
	}
	if p.Capabilities.SupportsParallelInstall {
		s += 3
	}
	if p.Capabilities.SupportsPyprojectSync {
		s += 1
	}
	return s
}

// Select probes every registered backend and returns the one with the
// highest score, honoring an explicit preference when given and
// available. If preference is non-empty but unavailable, Select falls
// back to the best remaining backend rather than failing outright.
func (r *Registry) Select(ctx context.Context, preference Name) (Backend, ProbeResult, *coreerrors.CoreError) {
	if preference != "" {
		if b, ok := r.backends[preference]; ok {
			if p := r.Probe(ctx, preference); p.Available {
				return b, p, nil
			}
			logger.Warn("preferred backend unavailable, falling back", "backend", string(preference))
		}
	}

	var candidates []scored
	for name := range r.backends {
		p := r.Probe(ctx, name)
		candidates = append(candidates, scored{name: name, probe: p, score: scoreOf(p)})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return tieBreakOrder[candidates[i].name] < tieBreakOrder[candidates[j].name]
	})

	if len(candidates) == 0 || candidates[0].score < 0 {
		return nil, ProbeResult{}, coreerrors.New(coreerrors.BackendUnavailable, "no python package backend is available on this host")
	}
	best := candidates[0]
	return r.backends[best.name], best.probe, nil
}

// Get returns the Backend implementation for name without probing it.
func (r *Registry) Get(name Name) (Backend, bool) {
	b, ok := r.backends[name]
	return b, ok
}

// Available returns the names of every backend whose most recent probe
// (triggering one if none is cached) reported it as usable.
func (r *Registry) Available(ctx context.Context) []Name {
	var names []Name
	for name := range r.backends {
		if r.Probe(ctx, name).Available {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool { return tieBreakOrder[names[i]] < tieBreakOrder[names[j]] })
	return names
}
