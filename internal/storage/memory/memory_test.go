package memory

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/store"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	blobs := NewBlobStore()
	payload := []byte("content")
	uri, err := blobs.PutObject(context.Background(), "path/page.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://path/page.html", uri)

	payload[0] = 'C'
	stored, ok := blobs.Get("path/page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, 1, blobs.Len())
}

func TestCatalogUpsertsAreIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := NewCatalog([]string{"https://shop.example.com/cb500f"}, []string{"CRF300L"})
	d := crawler.DiscoveredURL{URL: "https://shop.example.com/nc750x", CanonicalURL: "https://shop.example.com/nc750x"}

	for i := 0; i < 2; i++ {
		require.NoError(t, c.UpsertDiscoveries(ctx, "run-1", []crawler.DiscoveredURL{d}))
		require.NoError(t, c.UpsertNewProducts(ctx, "run-1", []crawler.DiscoveredURL{d}))
		require.NoError(t, c.UpsertOffer(ctx, store.Offer{URL: "https://shop.example.com/offers/a"}))
	}
	require.Equal(t, 1, c.Discoveries())
	require.Len(t, c.Products(), 1)
	require.Len(t, c.Offers(), 1)

	pending, err := c.ListPendingProductIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"nc750x"}, pending)

	offers, err := c.ListOfferURLs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"https://shop.example.com/offers/a"}, offers)

	skus, err := c.ListKnownSKUs(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"CRF300L"}, skus)
}

func TestRunStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	runs := NewRunStore()
	run := store.CrawlRun{ID: "run-1", CreatedAt: time.Now().UTC()}

	require.NoError(t, runs.CreateRun(ctx, run))
	require.Error(t, runs.CreateRun(ctx, run))

	got, err := runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, store.RunQueued, got.Status)

	require.NoError(t, runs.UpdateRun(ctx, "run-1", store.RunRunning, "", store.RunCounters{}))
	require.NoError(t, runs.UpdateRun(ctx, "run-1", store.RunSucceeded, "", store.RunCounters{Visited: 3}))
	got, err = runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, store.RunSucceeded, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)
	require.Equal(t, 3, got.Counters.Visited)

	require.ErrorIs(t, runs.UpdateRun(ctx, "missing", store.RunRunning, "", store.RunCounters{}), store.ErrNotFound)
	_, err = runs.GetRun(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunStoreSiteStatsAccumulate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	runs := NewRunStore()
	at := time.Unix(1700000000, 0).UTC()

	require.NoError(t, runs.UpsertSiteStats(ctx, "run-1", "beta", 1, 0, 1, at))
	require.NoError(t, runs.UpsertSiteStats(ctx, "run-1", "alpha", 2, 1, 0, at))
	require.NoError(t, runs.UpsertSiteStats(ctx, "run-1", "alpha", 3, 0, 0, at.Add(time.Second)))

	stats, err := runs.ListRunSites(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, stats, 2)
	require.Equal(t, "alpha", stats[0].Site)
	require.EqualValues(t, 5, stats[0].Visits)
	require.EqualValues(t, 1, stats[0].Discoveries)
	require.Equal(t, at.Add(time.Second), stats[0].LastUpdate)
	require.EqualValues(t, 1, stats[1].Errors)
}
