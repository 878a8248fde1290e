package hoststate

import "time"

// MaxDebugLines bounds the diagnostic ring; the oldest line is dropped first.
const MaxDebugLines = 60

// appendDebugLine returns a new slice holding lines plus one timestamped entry,
// trimmed to the most recent MaxDebugLines. lines itself is left untouched
// because it may be shared with a published snapshot.
func appendDebugLine(lines []string, text string, now time.Time) []string {
	entry := "[" + now.UTC().Format(time.RFC3339) + "] " + text
	keep := lines
	if len(keep) >= MaxDebugLines {
		keep = keep[len(keep)-MaxDebugLines+1:]
	}
	next := make([]string, 0, len(keep)+1)
	next = append(next, keep...)
	return append(next, entry)
}
