package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/supplier-discovery/internal/store"
)

// RunStore provides an in-memory store.RunRepository for development and
// tests.
type RunStore struct {
	mu    sync.RWMutex
	runs  map[string]store.CrawlRun
	sites map[string]map[string]store.SiteStats
	now   func() time.Time
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:  make(map[string]store.CrawlRun),
		sites: make(map[string]map[string]store.SiteStats),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// CreateRun stores a new run in queued status.
func (s *RunStore) CreateRun(_ context.Context, run store.CrawlRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return errors.New("run already exists")
	}
	if run.Status == "" {
		run.Status = store.RunQueued
	}
	s.runs[run.ID] = run
	return nil
}

// UpdateRun updates the status and counters for a run.
func (s *RunStore) UpdateRun(_ context.Context, runID string, status store.RunStatus, errText string, counters store.RunCounters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.Status = status
	run.Error = errText
	run.Counters = counters
	now := s.now()
	if status == store.RunRunning && run.StartedAt == nil {
		run.StartedAt = pointerTime(now)
	}
	if status.Terminal() {
		run.FinishedAt = pointerTime(now)
	}
	s.runs[runID] = run
	return nil
}

// GetRun fetches a run by ID.
func (s *RunStore) GetRun(_ context.Context, runID string) (store.CrawlRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.CrawlRun{}, store.ErrNotFound
	}
	return run, nil
}

// UpsertSiteStats adds deltas to the (run, site) row.
func (s *RunStore) UpsertSiteStats(_ context.Context, runID, site string, deltaVisits, deltaDiscoveries, deltaErrors int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bySite, ok := s.sites[runID]
	if !ok {
		bySite = make(map[string]store.SiteStats)
		s.sites[runID] = bySite
	}
	st := bySite[site]
	st.RunID = runID
	st.Site = site
	st.Visits += deltaVisits
	st.Discoveries += deltaDiscoveries
	st.Errors += deltaErrors
	if at.After(st.LastUpdate) {
		st.LastUpdate = at
	}
	bySite[site] = st
	return nil
}

// ListRunSites returns a copy of the site rows ordered by site.
func (s *RunStore) ListRunSites(_ context.Context, runID string) ([]store.SiteStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]store.SiteStats, 0, len(s.sites[runID]))
	for _, st := range s.sites[runID] {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Site < out[j].Site })
	return out, nil
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
