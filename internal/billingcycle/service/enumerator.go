package service

import (
	"time"

	billingcycledomain "github.com/smallbiznis/meterbill/internal/billingcycle/domain"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
)

// enumerator walks the buckets of one subscription from its start date. Both
// bucket lookup and the updateable listing are derived from it.
type enumerator struct {
	plan     subscriptiondomain.Plan
	start    time.Time
	trialEnd *time.Time
	// last is the final billable day, from the cancel or end date.
	last *time.Time
}

func newEnumerator(sub subscriptiondomain.Subscription) (enumerator, bool) {
	if sub.StartDate == nil {
		return enumerator{}, false
	}

	e := enumerator{
		plan:  sub.Plan,
		start: dateOf(*sub.StartDate),
	}
	if sub.TrialEnd != nil {
		trialEnd := dateOf(*sub.TrialEnd)
		if !trialEnd.Before(e.start) {
			e.trialEnd = &trialEnd
		}
	}
	for _, candidate := range []*time.Time{sub.CancelDate, sub.EndedAt} {
		if candidate == nil {
			continue
		}
		day := dateOf(*candidate)
		if e.last == nil || day.Before(*e.last) {
			e.last = &day
		}
	}
	return e, true
}

// walk visits buckets in order until one starts after until or visit
// returns false.
func (e enumerator) walk(until time.Time, visit func(billingcycledomain.Bucket) bool) error {
	cur := e.start
	for !cur.After(until) {
		next, ok := e.nextBoundary(cur)
		if !ok || !next.After(cur) {
			return billingcycledomain.ErrNoBoundaries
		}

		end := addDays(next, -1)
		clipped := e.last != nil && !end.Before(*e.last)
		if clipped {
			end = *e.last
		}
		if end.Before(cur) {
			return nil
		}

		if !visit(billingcycledomain.Bucket{StartDate: cur, EndDate: end}) || clipped {
			return nil
		}
		cur = next
	}
	return nil
}

// nextBoundary is the first bucket start strictly after day.
func (e enumerator) nextBoundary(day time.Time) (time.Time, bool) {
	_, next, ok := e.cycle(day)
	if !ok {
		return time.Time{}, false
	}
	if e.trialEnd != nil {
		afterTrial := addDays(*e.trialEnd, 1)
		if afterTrial.After(day) {
			next = minDate(next, afterTrial)
		}
	}
	return next, true
}

// cycle returns the plan cycle [start, next) containing day.
func (e enumerator) cycle(day time.Time) (time.Time, time.Time, bool) {
	count := e.plan.IntervalCount
	if count < 1 {
		return time.Time{}, time.Time{}, false
	}

	switch e.plan.Alignment {
	case subscriptiondomain.AlignmentCalendar:
		return calendarCycle(e.plan.Interval, count, day)
	case subscriptiondomain.AlignmentAnniversary:
		return anniversaryCycle(e.plan.Interval, count, e.anchorFor(day), day)
	default:
		return time.Time{}, time.Time{}, false
	}
}

// anchorFor is the date anniversary cycles are counted from: the start date
// during the trial, the day after the trial afterwards.
func (e enumerator) anchorFor(day time.Time) time.Time {
	if e.trialEnd == nil || !day.After(*e.trialEnd) {
		return e.start
	}
	return addDays(*e.trialEnd, 1)
}

func calendarCycle(interval subscriptiondomain.BillingInterval, count int, day time.Time) (time.Time, time.Time, bool) {
	switch interval {
	case subscriptiondomain.IntervalDay:
		idx := floorDiv(daysBetween(epoch, day), count) * count
		start := addDays(epoch, idx)
		return start, addDays(start, count), true
	case subscriptiondomain.IntervalWeek:
		idx := floorDiv(floorDiv(daysBetween(epochMonday, day), 7), count) * count
		start := addDays(epochMonday, idx*7)
		return start, addDays(start, 7*count), true
	case subscriptiondomain.IntervalMonth:
		idx := floorDiv(monthsBetween(epoch, day), count) * count
		start := addClampedMonths(epoch, idx)
		return start, addClampedMonths(epoch, idx+count), true
	case subscriptiondomain.IntervalYear:
		year := floorDiv(day.Year(), count) * count
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, time.Date(year+count, time.January, 1, 0, 0, 0, 0, time.UTC), true
	default:
		return time.Time{}, time.Time{}, false
	}
}

func anniversaryCycle(interval subscriptiondomain.BillingInterval, count int, anchor, day time.Time) (time.Time, time.Time, bool) {
	switch interval {
	case subscriptiondomain.IntervalDay, subscriptiondomain.IntervalWeek:
		step := count
		if interval == subscriptiondomain.IntervalWeek {
			step = 7 * count
		}
		k := floorDiv(daysBetween(anchor, day), step)
		start := addDays(anchor, k*step)
		return start, addDays(start, step), true
	case subscriptiondomain.IntervalMonth, subscriptiondomain.IntervalYear:
		step := count
		if interval == subscriptiondomain.IntervalYear {
			step = 12 * count
		}
		// Month-end clamping can land a boundary a few days early, so start
		// from the estimate and correct in either direction.
		k := floorDiv(monthsBetween(anchor, day), step)
		for addClampedMonths(anchor, k*step).After(day) {
			k--
		}
		for !addClampedMonths(anchor, (k+1)*step).After(day) {
			k++
		}
		return addClampedMonths(anchor, k*step), addClampedMonths(anchor, (k+1)*step), true
	default:
		return time.Time{}, time.Time{}, false
	}
}
