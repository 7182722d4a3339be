package core

import "time"

// IsStale reports whether the local snapshot must be refreshed. A zero
// time means the corresponding timestamp is absent.
//
// An absent remote timestamp forces a refresh: absence of evidence is
// not evidence of freshness. An absent local timestamp means the table
// was never synchronized. Otherwise the snapshot is stale iff the
// remote timestamp is strictly newer at second precision — the
// granularity source comments provide — so equal timestamps never
// trigger a refresh and repeated calls stay idempotent.
func IsStale(remote, local time.Time) bool {
	if remote.IsZero() || local.IsZero() {
		return true
	}
	return remote.Truncate(time.Second).After(local.Truncate(time.Second))
}
