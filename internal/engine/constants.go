package engine

import "time"

const (
	// DefaultLookahead is the forward window within which occurrences are
	// materialized ahead of need.
	DefaultLookahead = 72 * time.Hour

	// DefaultGenerationSpec runs generation at the top of every hour.
	DefaultGenerationSpec = "0 0 * * * *"

	// DefaultSweepSpec runs the status sweep every minute.
	DefaultSweepSpec = "0 * * * * *"
)
