package sinks

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/progress"
)

// SiteStatsWriter is the slice of store.RunRepository the sink needs.
type SiteStatsWriter interface {
	UpsertSiteStats(ctx context.Context, runID, site string, deltaVisits, deltaDiscoveries, deltaErrors int64, at time.Time) error
}

// StoreSink persists per-site progress deltas. It collapses a batch into one
// write per (run, site) to reduce write amplification.
type StoreSink struct {
	repo   SiteStatsWriter
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo SiteStatsWriter, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses site deltas and forwards them to the repository. It
// respects ctx deadlines and returns repository errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	stats := make(map[statsKey]*statsDelta)
	var order []statsKey
	for _, evt := range batch {
		if evt.Site == "" {
			continue
		}
		switch evt.Stage {
		case progress.StageSiteStart, progress.StageFetchDone, progress.StageFetchError, progress.StageDiscovery:
		default:
			continue
		}
		key := statsKey{runID: evt.RunUUID().String(), site: evt.Site}
		stat := stats[key]
		if stat == nil {
			stat = &statsDelta{}
			stats[key] = stat
			order = append(order, key)
		}
		stat.visits += evt.Visits
		stat.discoveries += evt.Discoveries
		stat.errors += evt.Errors
		if evt.TS.After(stat.at) {
			stat.at = evt.TS
		}
	}

	for _, key := range order {
		delta := stats[key]
		if err := s.repo.UpsertSiteStats(
			ctx,
			key.runID,
			key.site,
			delta.visits,
			delta.discoveries,
			delta.errors,
			delta.at,
		); err != nil {
			return fmt.Errorf("upsert site stats: %w", err)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	runID string
	site  string
}

type statsDelta struct {
	visits      int64
	discoveries int64
	errors      int64
	at          time.Time
}
