// Package store defines interfaces for persistence dependencies: the catalog
// the discovery engine reads and writes, and the crawl-run records. Concrete
// implementations live under internal/storage; this package must not import
// database drivers or concrete clients.
package store
