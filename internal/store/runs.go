package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further transitions are expected.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed
}

// RunCounters are the aggregate counters kept on a run record.
type RunCounters struct {
	Visited     int `json:"visited"`
	Discoveries int `json:"discoveries"`
	Products    int `json:"products"`
	Offers      int `json:"offers"`
	NewProducts int `json:"new_products"`
	NewOffers   int `json:"new_offers"`
	Errors      int `json:"errors"`
}

// CrawlRun models the crawl_runs table.
type CrawlRun struct {
	ID         string                `json:"run_id"`
	Status     RunStatus             `json:"status"`
	Params     crawler.RunParameters `json:"params"`
	Counters   RunCounters           `json:"counters"`
	Error      string                `json:"error,omitempty"`
	CreatedAt  time.Time             `json:"created_at"`
	StartedAt  *time.Time            `json:"started_at,omitempty"`
	FinishedAt *time.Time            `json:"finished_at,omitempty"`
}

// SiteStats captures per-site aggregation for a run.
type SiteStats struct {
	RunID       string    `json:"run_id"`
	Site        string    `json:"site"`
	Visits      int64     `json:"visits"`
	Discoveries int64     `json:"discoveries"`
	Errors      int64     `json:"errors"`
	LastUpdate  time.Time `json:"last_update"`
}

// RunRepository persists crawl-run records and their per-site progress.
type RunRepository interface {
	// CreateRun inserts a queued run.
	CreateRun(ctx context.Context, run CrawlRun) error
	// UpdateRun sets status, error text and counters. Moving to running
	// stamps started_at once; terminal statuses stamp finished_at.
	UpdateRun(ctx context.Context, runID string, status RunStatus, errText string, counters RunCounters) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, runID string) (CrawlRun, error)
	// UpsertSiteStats applies deltas to the (run, site) row.
	UpsertSiteStats(ctx context.Context, runID, site string, deltaVisits, deltaDiscoveries, deltaErrors int64, at time.Time) error
	// ListRunSites returns the per-site rows for one run ordered by site.
	ListRunSites(ctx context.Context, runID string) ([]SiteStats, error)
}
