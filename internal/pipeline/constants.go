package pipeline

import "time"

// Defaults for batch listing and stale batch recovery.
const (
	// DefaultRecentLimit is the number of batches RecentBatches returns when
	// no limit is given.
	DefaultRecentLimit = 10

	// MaxRecentLimit caps RecentBatches.
	MaxRecentLimit = 100

	// DefaultStaleAfter is how long an eager batch may sit in staging without
	// rows before RecoverStale treats its populate pass as interrupted.
	DefaultStaleAfter = 30 * time.Minute

	// failureTimeout bounds the bookkeeping done after a failed populate pass.
	failureTimeout = 10 * time.Second
)
