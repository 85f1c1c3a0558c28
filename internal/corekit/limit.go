package corekit

const (
	// DefaultListLimit is the standard page size for CLI list operations.
	DefaultListLimit = 50
	// MaxListLimit is the standard maximum page size.
	MaxListLimit = 1000
)

// ClampLimit returns a sane list limit: non-positive values yield the
// default, values above max clamp to max.
func ClampLimit(limit, defaultLimit, max int) int {
	if defaultLimit <= 0 {
		defaultLimit = DefaultListLimit
	}
	if max <= 0 {
		max = defaultLimit
	}
	if limit <= 0 {
		return defaultLimit
	}
	if limit > max {
		return max
	}
	return limit
}
