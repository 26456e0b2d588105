package crawl

import (
	"container/heap"

	"github.com/JakeFAU/supplier-discovery/internal/crawler"
)

// frontier is the per-crawl priority queue: lowest depth first, FIFO among
// equal depths. queued remembers every canonical URL ever pushed so a page is
// enqueued at most once per crawl.
type frontier struct {
	items  frontierHeap
	queued map[string]struct{}
	seq    uint64
}

type frontierEntry struct {
	item      crawler.QueueItem
	canonical string
	seq       uint64
}

func newFrontier() *frontier {
	return &frontier{queued: make(map[string]struct{})}
}

// push enqueues item under its canonical key. It reports false when the key
// was already queued.
func (f *frontier) push(item crawler.QueueItem, canonical string) bool {
	if _, ok := f.queued[canonical]; ok {
		return false
	}
	f.queued[canonical] = struct{}{}
	f.seq++
	heap.Push(&f.items, frontierEntry{item: item, canonical: canonical, seq: f.seq})
	return true
}

func (f *frontier) pop() (crawler.QueueItem, bool) {
	if f.items.Len() == 0 {
		return crawler.QueueItem{}, false
	}
	entry := heap.Pop(&f.items).(frontierEntry)
	return entry.item, true
}

func (f *frontier) has(canonical string) bool {
	_, ok := f.queued[canonical]
	return ok
}

func (f *frontier) len() int {
	return f.items.Len()
}

type frontierHeap []frontierEntry

func (h frontierHeap) Len() int { return len(h) }

func (h frontierHeap) Less(i, j int) bool {
	if h[i].item.Depth != h[j].item.Depth {
		return h[i].item.Depth < h[j].item.Depth
	}
	return h[i].seq < h[j].seq
}

func (h frontierHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *frontierHeap) Push(x any) {
	*h = append(*h, x.(frontierEntry))
}

func (h *frontierHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}
