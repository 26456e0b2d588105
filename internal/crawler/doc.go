// Package crawler holds the vocabulary shared by the discovery engine: the
// URL canonicalizer, product identifier extraction, the categorized error
// type, and the interfaces implemented by renderers, stores and publishers.
package crawler
