package service

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingcycledomain "github.com/smallbiznis/meterbill/internal/billingcycle/domain"
	ierr "github.com/smallbiznis/meterbill/internal/errors"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService() billingcycledomain.Service {
	return NewService(ServiceParam{Log: zap.NewNop()})
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptrTime(t time.Time) *time.Time { return &t }

func monthlySub(alignment subscriptiondomain.Alignment, start time.Time) subscriptiondomain.Subscription {
	return subscriptiondomain.Subscription{
		ID:    snowflake.ID(42),
		State: subscriptiondomain.SubscriptionStateActive,
		Plan: subscriptiondomain.Plan{
			Interval:      subscriptiondomain.IntervalMonth,
			IntervalCount: 1,
			Alignment:     alignment,
		},
		StartDate: ptrTime(start),
	}
}

func bucket(start, end time.Time) billingcycledomain.Bucket {
	return billingcycledomain.Bucket{StartDate: start, EndDate: end}
}

func TestBucketForCalendarMonth(t *testing.T) {
	svc := newTestService()
	sub := monthlySub(subscriptiondomain.AlignmentCalendar, day(2024, 1, 1))

	got, err := svc.BucketFor(sub, time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, bucket(day(2024, 1, 1), day(2024, 1, 31)), got)
	assert.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC), got.EndDatetime())

	got, err = svc.BucketFor(sub, time.Date(2024, 2, 29, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, bucket(day(2024, 2, 1), day(2024, 2, 29)), got)
}

func TestBucketForCalendarMidMonthStart(t *testing.T) {
	svc := newTestService()
	sub := monthlySub(subscriptiondomain.AlignmentCalendar, day(2024, 1, 10))

	got, err := svc.BucketFor(sub, day(2024, 1, 20))
	require.NoError(t, err)
	assert.Equal(t, bucket(day(2024, 1, 10), day(2024, 1, 31)), got)
}

func TestBucketForAnniversaryClampsMonthEnd(t *testing.T) {
	svc := newTestService()
	sub := monthlySub(subscriptiondomain.AlignmentAnniversary, day(2024, 1, 31))

	cases := []struct {
		at   time.Time
		want billingcycledomain.Bucket
	}{
		{day(2024, 2, 10), bucket(day(2024, 1, 31), day(2024, 2, 28))},
		{day(2024, 2, 29), bucket(day(2024, 2, 29), day(2024, 3, 30))},
		{day(2024, 3, 31), bucket(day(2024, 3, 31), day(2024, 4, 29))},
	}
	for _, tc := range cases {
		got, err := svc.BucketFor(sub, tc.at)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got, tc.at.Format(time.DateOnly))
	}
}

func TestBucketForTrialSplitsBucket(t *testing.T) {
	svc := newTestService()
	sub := monthlySub(subscriptiondomain.AlignmentCalendar, day(2024, 1, 1))
	sub.TrialEnd = ptrTime(day(2024, 1, 14))

	got, err := svc.BucketFor(sub, day(2024, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, bucket(day(2024, 1, 1), day(2024, 1, 14)), got)

	got, err = svc.BucketFor(sub, day(2024, 1, 20))
	require.NoError(t, err)
	assert.Equal(t, bucket(day(2024, 1, 15), day(2024, 1, 31)), got)

	anniversary := monthlySub(subscriptiondomain.AlignmentAnniversary, day(2024, 1, 1))
	anniversary.TrialEnd = ptrTime(day(2024, 1, 14))
	got, err = svc.BucketFor(anniversary, day(2024, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, bucket(day(2024, 1, 15), day(2024, 2, 14)), got)
}

func TestBucketForWeeklyCalendarUsesISOWeeks(t *testing.T) {
	svc := newTestService()
	sub := monthlySub(subscriptiondomain.AlignmentCalendar, day(2024, 1, 3))
	sub.Plan.Interval = subscriptiondomain.IntervalWeek

	// 2024-01-03 is a Wednesday.
	got, err := svc.BucketFor(sub, day(2024, 1, 5))
	require.NoError(t, err)
	assert.Equal(t, bucket(day(2024, 1, 3), day(2024, 1, 7)), got)

	got, err = svc.BucketFor(sub, day(2024, 1, 8))
	require.NoError(t, err)
	assert.Equal(t, bucket(day(2024, 1, 8), day(2024, 1, 14)), got)
}

func TestBucketForYearlyCount(t *testing.T) {
	svc := newTestService()
	sub := monthlySub(subscriptiondomain.AlignmentAnniversary, day(2023, 6, 1))
	sub.Plan.Interval = subscriptiondomain.IntervalYear
	sub.Plan.IntervalCount = 2

	got, err := svc.BucketFor(sub, day(2025, 5, 31))
	require.NoError(t, err)
	assert.Equal(t, bucket(day(2023, 6, 1), day(2025, 5, 31)), got)
}

func TestBucketForFarFutureDailyAndWeekly(t *testing.T) {
	svc := newTestService()

	daily := monthlySub(subscriptiondomain.AlignmentCalendar, day(2024, 1, 1))
	daily.Plan.Interval = subscriptiondomain.IntervalDay
	got, err := svc.BucketFor(daily, day(2300, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, bucket(day(2300, 1, 1), day(2300, 1, 1)), got)

	weekly := monthlySub(subscriptiondomain.AlignmentAnniversary, day(2024, 1, 3))
	weekly.Plan.Interval = subscriptiondomain.IntervalWeek
	got, err = svc.BucketFor(weekly, day(2300, 1, 1))
	require.NoError(t, err)
	assert.Equal(t, 7, got.Days())
	assert.True(t, got.Contains(day(2300, 1, 1)))
	assert.Equal(t, time.Wednesday, got.StartDate.Weekday())
}

func TestDaysBetweenBeyondDurationRange(t *testing.T) {
	assert.Equal(t, 100_000, daysBetween(epoch, addDays(epoch, 100_000)))
	assert.Equal(t, -3, daysBetween(day(2024, 1, 4), day(2024, 1, 1)))
}

func TestBucketForOutOfBounds(t *testing.T) {
	svc := newTestService()
	sub := monthlySub(subscriptiondomain.AlignmentCalendar, day(2024, 1, 1))

	_, err := svc.BucketFor(sub, day(2023, 12, 31))
	require.ErrorIs(t, err, billingcycledomain.ErrOutOfBounds)
	assert.True(t, ierr.IsValidation(err))

	canceled := sub
	canceled.State = subscriptiondomain.SubscriptionStateCanceled
	canceled.CancelDate = ptrTime(day(2024, 2, 10))
	got, err := svc.BucketFor(canceled, day(2024, 2, 10))
	require.NoError(t, err)
	assert.Equal(t, bucket(day(2024, 2, 1), day(2024, 2, 10)), got)

	_, err = svc.BucketFor(canceled, day(2024, 2, 11))
	require.ErrorIs(t, err, billingcycledomain.ErrOutOfBounds)

	inactive := sub
	inactive.State = subscriptiondomain.SubscriptionStateInactive
	_, err = svc.BucketFor(inactive, day(2024, 1, 10))
	require.ErrorIs(t, err, billingcycledomain.ErrOutOfBounds)
}

func TestBucketForMisconfiguredPlan(t *testing.T) {
	svc := newTestService()
	sub := monthlySub(subscriptiondomain.AlignmentCalendar, day(2024, 1, 1))
	sub.Plan.Interval = "fortnight"

	_, err := svc.BucketFor(sub, day(2024, 1, 10))
	require.ErrorIs(t, err, billingcycledomain.ErrNoBoundaries)
	assert.True(t, ierr.IsInternalComputation(err))
}

func TestUpdateableBuckets(t *testing.T) {
	svc := newTestService()
	sub := monthlySub(subscriptiondomain.AlignmentCalendar, day(2024, 1, 1))

	got := svc.UpdateableBuckets(sub, time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC))
	assert.Equal(t, []billingcycledomain.Bucket{
		bucket(day(2024, 1, 1), day(2024, 1, 31)),
		bucket(day(2024, 2, 1), day(2024, 2, 29)),
		bucket(day(2024, 3, 1), day(2024, 3, 31)),
	}, got)

	sub.LastBilledThrough = ptrTime(day(2024, 1, 31))
	got = svc.UpdateableBuckets(sub, day(2024, 3, 5))
	assert.Equal(t, []billingcycledomain.Bucket{
		bucket(day(2024, 2, 1), day(2024, 2, 29)),
		bucket(day(2024, 3, 1), day(2024, 3, 31)),
	}, got)

	sub.CancelDate = ptrTime(day(2024, 2, 15))
	sub.State = subscriptiondomain.SubscriptionStateCanceled
	got = svc.UpdateableBuckets(sub, day(2024, 3, 5))
	assert.Equal(t, []billingcycledomain.Bucket{
		bucket(day(2024, 2, 1), day(2024, 2, 15)),
	}, got)
}

func TestUpdateableBucketsEmptyForInactiveOrEnded(t *testing.T) {
	svc := newTestService()
	sub := monthlySub(subscriptiondomain.AlignmentCalendar, day(2024, 1, 1))

	sub.State = subscriptiondomain.SubscriptionStateInactive
	assert.Empty(t, svc.UpdateableBuckets(sub, day(2024, 3, 5)))

	sub.State = subscriptiondomain.SubscriptionStateEnded
	assert.Empty(t, svc.UpdateableBuckets(sub, day(2024, 3, 5)))

	future := monthlySub(subscriptiondomain.AlignmentCalendar, day(2024, 6, 1))
	assert.Empty(t, svc.UpdateableBuckets(future, day(2024, 3, 5)))
}

// Every bucket returned for a timestamp up to now is one of the updateable
// buckets, across alignments, intervals, trials and cancellations.
func TestBucketForIsAlwaysAnUpdateableBucket(t *testing.T) {
	svc := newTestService()
	now := day(2025, 3, 17)

	var subs []subscriptiondomain.Subscription
	for _, alignment := range []subscriptiondomain.Alignment{subscriptiondomain.AlignmentCalendar, subscriptiondomain.AlignmentAnniversary} {
		for _, interval := range []subscriptiondomain.BillingInterval{
			subscriptiondomain.IntervalDay,
			subscriptiondomain.IntervalWeek,
			subscriptiondomain.IntervalMonth,
			subscriptiondomain.IntervalYear,
		} {
			for _, count := range []int{1, 3} {
				base := monthlySub(alignment, day(2024, 1, 31))
				base.Plan.Interval = interval
				base.Plan.IntervalCount = count
				subs = append(subs, base)

				trial := base
				trial.TrialEnd = ptrTime(day(2024, 2, 20))
				subs = append(subs, trial)

				canceled := trial
				canceled.State = subscriptiondomain.SubscriptionStateCanceled
				canceled.CancelDate = ptrTime(day(2024, 11, 3))
				subs = append(subs, canceled)
			}
		}
	}

	for _, sub := range subs {
		updateable := svc.UpdateableBuckets(sub, now)
		require.NotEmpty(t, updateable)

		for ts := *sub.StartDate; !ts.After(now); ts = ts.AddDate(0, 0, 5) {
			got, err := svc.BucketFor(sub, ts.Add(13*time.Hour))
			if sub.CancelDate != nil && ts.After(*sub.CancelDate) {
				require.ErrorIs(t, err, billingcycledomain.ErrOutOfBounds)
				continue
			}
			require.NoError(t, err)

			matches := 0
			for _, b := range updateable {
				if b.Equal(got) {
					matches++
				}
			}
			require.Equal(t, 1, matches, "plan %s/%d/%s ts %s bucket %+v",
				sub.Plan.Interval, sub.Plan.IntervalCount, sub.Plan.Alignment, ts.Format(time.DateOnly), got)
		}

		for i := 1; i < len(updateable); i++ {
			require.Equal(t, updateable[i-1].EndDate.AddDate(0, 0, 1), updateable[i].StartDate, "buckets tile")
		}
	}
}

func TestFullCycle(t *testing.T) {
	svc := newTestService()
	sub := monthlySub(subscriptiondomain.AlignmentCalendar, day(2024, 1, 10))

	got, err := svc.FullCycle(sub, day(2024, 1, 12))
	require.NoError(t, err)
	assert.Equal(t, bucket(day(2024, 1, 1), day(2024, 1, 31)), got)
	assert.Equal(t, 31, got.Days())
}
