package domain

import "time"

// TickStats holds statistics about one synchronization pass over all feeds.
type TickStats struct {
	Feeds     int
	Fetched   int
	Delivered int
	Skipped   int
	Errors    int
	Archived  int
	Duration  time.Duration
}
