package domain

import (
	"time"
)

const endOfDay = 24*time.Hour - time.Second

// Bucket is a billing period of a subscription. Both dates are inclusive UTC
// calendar days.
type Bucket struct {
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
}

// StartDatetime is the first second of the bucket.
func (b Bucket) StartDatetime() time.Time {
	return b.StartDate
}

// EndDatetime is the last second of the bucket.
func (b Bucket) EndDatetime() time.Time {
	return b.EndDate.Add(endOfDay)
}

// Contains reports whether the calendar day of t is within the bucket.
func (b Bucket) Contains(t time.Time) bool {
	y, m, d := t.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return !day.Before(b.StartDate) && !day.After(b.EndDate)
}

// Days is the number of calendar days covered.
func (b Bucket) Days() int {
	return int(b.EndDate.Sub(b.StartDate).Hours()/24) + 1
}

func (b Bucket) Equal(other Bucket) bool {
	return b.StartDate.Equal(other.StartDate) && b.EndDate.Equal(other.EndDate)
}
