package matcher

import (
	"github.com/JakeFAU/supplier-discovery/internal/crawler"
	"github.com/JakeFAU/supplier-discovery/internal/metrics"
)

// Detection partitions one batch of discoveries.
type Detection struct {
	New      []crawler.DiscoveredURL
	Existing []crawler.DiscoveredURL
	Offers   []crawler.DiscoveredURL
	// Dropped are provisional-new items that lost to a shorter URL with the
	// same product ID, or repeated a canonical URL already in the batch.
	Dropped []crawler.DiscoveredURL

	TotalAnalyzed int
	MatchedByURL  int
	MatchedByID   int
	// RecordedIDs are the product IDs of New, in order.
	RecordedIDs []string
}

// Detect splits batch into offers, existing and new products against snap.
// It is pure: the same batch and snapshot always give the same partition.
func Detect(batch []crawler.DiscoveredURL, snap Snapshot) Detection {
	return detect(batch, snap, nil)
}

func detect(batch []crawler.DiscoveredURL, snap Snapshot, pending map[string]struct{}) Detection {
	det := Detection{TotalAnalyzed: len(batch)}

	type candidate struct {
		item      crawler.DiscoveredURL
		canonical string
		id        string
	}
	var provisional []candidate

	for _, item := range batch {
		if item.IsOffer {
			det.Offers = append(det.Offers, item)
			continue
		}
		canonical := canonicalOf(item)
		if snap.hasURL(canonical) {
			det.Existing = append(det.Existing, item)
			det.MatchedByURL++
			continue
		}
		id := crawler.ProductID(canonical)
		if snap.hasID(id) || inSet(pending, id) {
			det.Existing = append(det.Existing, item)
			det.MatchedByID++
			continue
		}
		provisional = append(provisional, candidate{item: item, canonical: canonical, id: id})
	}

	// One survivor per product ID and per canonical URL: the shortest URL,
	// lexicographically smallest on ties.
	winners := make(map[string]int)
	seenURL := make(map[string]struct{})
	keep := make([]bool, len(provisional))
	for i, c := range provisional {
		if _, dup := seenURL[c.canonical]; dup {
			continue
		}
		seenURL[c.canonical] = struct{}{}
		if c.id == "" {
			keep[i] = true
			continue
		}
		j, grouped := winners[c.id]
		if !grouped {
			winners[c.id] = i
			keep[i] = true
			continue
		}
		if better(c.canonical, provisional[j].canonical) {
			keep[j] = false
			keep[i] = true
			winners[c.id] = i
		}
	}

	for i, c := range provisional {
		if !keep[i] {
			det.Dropped = append(det.Dropped, c.item)
			continue
		}
		det.New = append(det.New, c.item)
		if c.id != "" {
			det.RecordedIDs = append(det.RecordedIDs, c.id)
		}
	}

	metrics.ObserveDetection("new", len(det.New))
	metrics.ObserveDetection("existing_url", det.MatchedByURL)
	metrics.ObserveDetection("existing_id", det.MatchedByID)
	metrics.ObserveDetection("dropped", len(det.Dropped))
	metrics.ObserveDetection("offer", len(det.Offers))
	return det
}

// better reports whether a should replace b as a group's representative.
func better(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func canonicalOf(item crawler.DiscoveredURL) string {
	if item.CanonicalURL != "" {
		return item.CanonicalURL
	}
	canonical, err := crawler.Canonicalize(item.URL)
	if err != nil {
		return item.URL
	}
	return canonical
}

func inSet(set map[string]struct{}, key string) bool {
	if key == "" || set == nil {
		return false
	}
	_, ok := set[key]
	return ok
}
