// Package events carries archive activity (new posts, skipped items, applied
// ratings, finished scrape cycles) from the pipelines to notification sinks.
// Emitting never blocks the caller; a background goroutine batches events and
// hands them to each Sink in turn.
package events
