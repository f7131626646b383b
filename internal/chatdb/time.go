package chatdb

import "time"

// appleEpoch is 2001-01-01T00:00:00Z, the zero of Core Data timestamps.
const appleEpoch int64 = 978307200

// Older stores keep seconds, newer ones nanoseconds. Any value below this is
// taken as seconds (it is more than three thousand years of seconds).
const secondsCutoff int64 = 100_000_000_000

// fromAppleTime converts a chat.db timestamp. Zero means unset.
func fromAppleTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	if v < secondsCutoff && v > -secondsCutoff {
		return time.Unix(appleEpoch+v, 0).UTC()
	}
	return time.Unix(appleEpoch+v/1e9, v%1e9).UTC()
}

// toAppleNanos converts t to nanoseconds since the Apple epoch.
func toAppleNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano() - appleEpoch*1e9
}

func optionalTime(v int64) *time.Time {
	t := fromAppleTime(v)
	if t.IsZero() {
		return nil
	}
	return &t
}
