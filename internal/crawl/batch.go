package crawl

import (
	"context"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/supplier-discovery/internal/classify"
	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/extract"
	"github.com/JakeFAU/supplier-discovery/internal/metrics"
	"github.com/JakeFAU/supplier-discovery/internal/progress"
)

func (t *traversal) discover(ctx context.Context, item crawler.QueueItem, canonical string, kind classify.Kind, doc *goquery.Document, html string) {
	o := t.o
	d := crawler.DiscoveredURL{
		URL:          item.URL,
		CanonicalURL: canonical,
		Domain:       o.domain,
		Title:        extract.TitleFromDocument(doc),
		IsOffer:      kind == classify.KindOffer,
		Depth:        item.Depth,
		DiscoveredAt: o.deps.Clock.Now(),
	}
	if d.IsOffer {
		details := extract.OfferFromDocument(doc)
		d.OfferTitle = details.Title
		d.OfferSummary = details.Summary
		d.OfferStart = details.Start
		d.OfferEnd = details.End
		t.stats.Offers++
	} else {
		if price, ok := extract.PriceFromDocument(doc); ok {
			d.Price = &price
		}
		t.stats.Products++
	}
	if o.deps.Archiver != nil {
		uri, err := o.deps.Archiver.Archive(ctx, o.cfg.RunID, d, html)
		if err != nil {
			o.logger.Warn("snapshot archive failed", zap.String("url", item.URL), zap.Error(err))
		} else {
			d.SnapshotURI = uri
		}
	}

	t.discoveries = append(t.discoveries, d)
	t.stats.Discoveries++
	metrics.ObserveDiscovery(item.URL, string(kind))
	o.emit(progress.Event{
		Stage:       progress.StageDiscovery,
		URL:         item.URL,
		Discoveries: 1,
		Kind:        string(kind),
		Note:        d.Title,
	})
	o.logger.Info("page discovered",
		zap.String("url", item.URL),
		zap.String("kind", string(kind)),
		zap.Int("depth", item.Depth),
	)

	if err := t.flush(ctx, false); err != nil {
		o.logger.Warn("batch flush failed, retaining window", zap.Error(err))
	}
}

// pending returns the discoveries not yet acknowledged by persist.
func (t *traversal) pending() []crawler.DiscoveredURL {
	return t.discoveries[t.batch.flushedUpTo:]
}

// due reports whether the batch trigger fires: enough pending items, or any
// pending items once the interval has elapsed since the last flush.
func (t *traversal) due(now time.Time) bool {
	n := len(t.pending())
	if n == 0 {
		return false
	}
	return n >= t.o.cfg.BatchSize || now.Sub(t.batch.lastFlush) >= t.o.cfg.BatchInterval
}

// flush hands the pending window to persist. With force set the size and
// interval trigger is ignored. A failed flush leaves the window in place so
// the same items are offered again.
func (t *traversal) flush(ctx context.Context, force bool) error {
	if t.persist == nil {
		t.batch.flushedUpTo = len(t.discoveries)
		return nil
	}
	now := t.o.deps.Clock.Now()
	if !force && !t.due(now) {
		return nil
	}
	window := t.pending()
	if len(window) == 0 {
		return nil
	}
	items := append([]crawler.DiscoveredURL(nil), window...)
	stats := t.stats
	stats.Visited = len(t.order)

	start := time.Now()
	err := t.persist(ctx, items, stats)
	metrics.ObserveBatchFlush(t.o.domain, err == nil)
	if err != nil {
		t.stats.FlushFailures++
		t.o.emit(progress.Event{
			Stage:  progress.StageBatchFlush,
			Errors: 1,
			Kind:   string(crawler.KindPersistenceFailure),
			Note:   err.Error(),
			Dur:    time.Since(start),
		})
		return crawler.NewError(crawler.KindPersistenceFailure, "flush", "", err)
	}
	t.batch.flushedUpTo += len(items)
	t.batch.lastFlush = t.o.deps.Clock.Now()
	t.stats.Flushed += len(items)
	t.o.emit(progress.Event{
		Stage:       progress.StageBatchFlush,
		Discoveries: int64(len(items)),
		Dur:         time.Since(start),
	})
	t.o.logger.Debug("batch flushed", zap.Int("items", len(items)), zap.Int("flushed_total", t.stats.Flushed))
	return nil
}
