package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/supplier-discovery/internal/store"
)

const (
	createRunSQL = `
INSERT INTO crawl_runs (id, status, params, counters, created_at)
VALUES ($1, $2, $3, $4, $5)`

	updateRunSQL = `
UPDATE crawl_runs SET
	status = $2,
	error = $3,
	counters = $4,
	started_at = CASE WHEN $2 = 'running' THEN COALESCE(started_at, now()) ELSE started_at END,
	finished_at = CASE WHEN $2 IN ('succeeded', 'failed') THEN now() ELSE finished_at END
WHERE id = $1`

	getRunSQL = `
SELECT id, status, params, counters, COALESCE(error, ''), created_at, started_at, finished_at
FROM crawl_runs
WHERE id = $1`

	upsertSiteStatsSQL = `
INSERT INTO run_site_stats (run_id, site, visits, discoveries, errors, last_update)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (run_id, site) DO UPDATE SET
	visits = run_site_stats.visits + EXCLUDED.visits,
	discoveries = run_site_stats.discoveries + EXCLUDED.discoveries,
	errors = run_site_stats.errors + EXCLUDED.errors,
	last_update = GREATEST(run_site_stats.last_update, EXCLUDED.last_update)`

	listRunSitesSQL = `
SELECT run_id, site, visits, discoveries, errors, last_update
FROM run_site_stats
WHERE run_id = $1
ORDER BY site`
)

// CreateRun implements store.RunRepository.
func (s *Store) CreateRun(ctx context.Context, run store.CrawlRun) error {
	params, err := json.Marshal(run.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	status := run.Status
	if status == "" {
		status = store.RunQueued
	}
	if _, err := s.pool.Exec(ctx, createRunSQL, run.ID, string(status), params, counters, run.CreatedAt); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// UpdateRun implements store.RunRepository.
func (s *Store) UpdateRun(ctx context.Context, runID string, status store.RunStatus, errText string, counters store.RunCounters) error {
	payload, err := json.Marshal(counters)
	if err != nil {
		return fmt.Errorf("marshal counters: %w", err)
	}
	tag, err := s.pool.Exec(ctx, updateRunSQL, runID, string(status), nullable(errText), payload)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun implements store.RunRepository.
func (s *Store) GetRun(ctx context.Context, runID string) (store.CrawlRun, error) {
	var (
		run      store.CrawlRun
		status   string
		params   []byte
		counters []byte
	)
	err := s.pool.QueryRow(ctx, getRunSQL, runID).Scan(
		&run.ID,
		&status,
		&params,
		&counters,
		&run.Error,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.CrawlRun{}, store.ErrNotFound
		}
		return store.CrawlRun{}, fmt.Errorf("get run: %w", err)
	}
	run.Status = store.RunStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &run.Params); err != nil {
			return store.CrawlRun{}, fmt.Errorf("decode params: %w", err)
		}
	}
	if len(counters) > 0 {
		if err := json.Unmarshal(counters, &run.Counters); err != nil {
			return store.CrawlRun{}, fmt.Errorf("decode counters: %w", err)
		}
	}
	return run, nil
}

// UpsertSiteStats implements store.RunRepository.
func (s *Store) UpsertSiteStats(ctx context.Context, runID, site string, deltaVisits, deltaDiscoveries, deltaErrors int64, at time.Time) error {
	if _, err := s.pool.Exec(ctx, upsertSiteStatsSQL, runID, site, deltaVisits, deltaDiscoveries, deltaErrors, at); err != nil {
		return fmt.Errorf("upsert site stats: %w", err)
	}
	return nil
}

// ListRunSites implements store.RunRepository.
func (s *Store) ListRunSites(ctx context.Context, runID string) ([]store.SiteStats, error) {
	rows, err := s.pool.Query(ctx, listRunSitesSQL, runID)
	if err != nil {
		return nil, fmt.Errorf("list run sites: %w", err)
	}
	defer rows.Close()

	var stats []store.SiteStats
	for rows.Next() {
		var st store.SiteStats
		if err := rows.Scan(&st.RunID, &st.Site, &st.Visits, &st.Discoveries, &st.Errors, &st.LastUpdate); err != nil {
			return nil, fmt.Errorf("scan site stats row: %w", err)
		}
		stats = append(stats, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list run sites: %w", err)
	}
	return stats, nil
}
