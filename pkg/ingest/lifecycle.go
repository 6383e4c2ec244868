package ingest

import "time"

// ExpiresAt computes a GP's expiration per spec §3: the daily reset at
// resetHour on discoveryTS's own day, in its own location, plus 3 days if
// discovery fell before that reset, else plus 4 days.
func ExpiresAt(discoveryTS time.Time, resetHour int) time.Time {
	loc := discoveryTS.Location()
	todayReset := time.Date(discoveryTS.Year(), discoveryTS.Month(), discoveryTS.Day(), resetHour, 0, 0, 0, loc)

	offset := 4 * 24 * time.Hour
	if discoveryTS.Before(todayReset) {
		offset = 3 * 24 * time.Hour
	}
	return todayReset.Add(offset)
}
