package service

import "time"

var (
	epoch       = time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	epochMonday = time.Date(1970, 1, 5, 0, 0, 0, 0, time.UTC)
)

func dateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func addDays(t time.Time, days int) time.Time {
	return t.AddDate(0, 0, days)
}

const secondsPerDay = 24 * 60 * 60

// daysBetween counts whole days between two dates. Unix seconds keep the
// count exact where time.Duration would saturate.
func daysBetween(from, to time.Time) int {
	return int((dateOf(to).Unix() - dateOf(from).Unix()) / secondsPerDay)
}

// addClampedMonths adds months to t, clamping the day to the last day of
// the resulting month so Jan 31 + 1 month is Feb 28/29.
func addClampedMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + months
	newY := y + floorDiv(total, 12)
	newM := time.Month(total - floorDiv(total, 12)*12 + 1)

	lastDay := time.Date(newY, newM+1, 1, 0, 0, 0, 0, t.Location()).AddDate(0, 0, -1).Day()
	if d > lastDay {
		d = lastDay
	}
	return time.Date(newY, newM, d, 0, 0, 0, 0, t.Location())
}

func monthsBetween(from, to time.Time) int {
	return (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func minDate(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
