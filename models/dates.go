package models

import "time"

// DateLayout is the wire and storage format for all calendar dates.
const DateLayout = "2006-01-02"

// ParseDate normalizes a stored date string. All date parsing goes
// through here so a bad value degrades to "absent" in exactly one place.
func ParseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatDate renders a time as a storage date string.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Today truncates a clock reading to its calendar day in UTC.
func Today(now time.Time) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
