package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingcycleservice "github.com/smallbiznis/meterbill/internal/billingcycle/service"
	"github.com/smallbiznis/meterbill/internal/clock"
	"github.com/smallbiznis/meterbill/internal/config"
	ierr "github.com/smallbiznis/meterbill/internal/errors"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	"github.com/smallbiznis/meterbill/internal/subscription/repository"
	"github.com/smallbiznis/meterbill/internal/testutil"
	"github.com/smallbiznis/meterbill/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type countingRepo struct {
	subscriptiondomain.Repository
	featureLookups int
}

func (r *countingRepo) FindMeteredFeatureByProductCode(ctx context.Context, db *gorm.DB, code string) (*subscriptiondomain.MeteredFeature, error) {
	r.featureLookups++
	return r.Repository.FindMeteredFeatureByProductCode(ctx, db, code)
}

func newTestService(t *testing.T) (*Service, *clock.FakeClock, *countingRepo) {
	t.Helper()
	repo := &countingRepo{Repository: repository.Provide()}
	fake := clock.NewFakeClock(time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC))
	svc := NewService(ServiceParam{
		DB:           testutil.OpenSQLite(t),
		Log:          zap.NewNop(),
		GenID:        testutil.MustNode(t),
		Clock:        fake,
		Repo:         repo,
		BillingCycle: billingcycleservice.NewService(billingcycleservice.ServiceParam{Log: zap.NewNop()}),
		Validator:    validator.New(),
		Config:       config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
	})
	return svc.(*Service), fake, repo
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func strPtr(s string) *string { return &s }

func seedSubscription(t *testing.T, svc *Service, trialDays int) subscriptiondomain.Subscription {
	t.Helper()
	ctx := context.Background()

	feature, err := svc.CreateMeteredFeature(ctx, subscriptiondomain.MeteredFeature{
		Name:          "API calls",
		Unit:          "call",
		ProductCode:   "calls",
		PricePerUnit:  decimal.RequireFromString("0.01"),
		IncludedUnits: decimal.NewFromInt(100),
	})
	require.NoError(t, err)

	plan, err := svc.CreatePlan(ctx, subscriptiondomain.CreatePlanRequest{
		Name:            "Pro",
		Interval:        subscriptiondomain.IntervalMonth,
		IntervalCount:   1,
		Alignment:       subscriptiondomain.AlignmentCalendar,
		Amount:          "49.00",
		Currency:        "eur",
		ProductCode:     "pro",
		TrialPeriodDays: trialDays,
		FeatureIDs:      []snowflake.ID{feature.ID},
	})
	require.NoError(t, err)
	require.Len(t, plan.MeteredFeatures, 1)
	assert.Equal(t, "EUR", plan.Currency)

	sub, err := svc.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		PlanID:     plan.ID,
		CustomerID: snowflake.ID(1),
		Meta:       map[string]any{"source": "test"},
	})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStateInactive, sub.State)
	return sub
}

func TestCreatePlanRejectsInvalidInput(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := map[string]subscriptiondomain.CreatePlanRequest{
		"amount":    {Interval: subscriptiondomain.IntervalMonth, IntervalCount: 1, Alignment: subscriptiondomain.AlignmentCalendar, Amount: "abc", Currency: "USD"},
		"interval":  {Interval: "fortnight", IntervalCount: 1, Alignment: subscriptiondomain.AlignmentCalendar, Amount: "1", Currency: "USD"},
		"count":     {Interval: subscriptiondomain.IntervalMonth, IntervalCount: 0, Alignment: subscriptiondomain.AlignmentCalendar, Amount: "1", Currency: "USD"},
		"alignment": {Interval: subscriptiondomain.IntervalMonth, IntervalCount: 1, Alignment: "lunar", Amount: "1", Currency: "USD"},
		"currency":  {Interval: subscriptiondomain.IntervalMonth, IntervalCount: 1, Alignment: subscriptiondomain.AlignmentCalendar, Amount: "1"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.CreatePlan(ctx, req)
			require.Error(t, err)
			assert.True(t, ierr.Is(err, subscriptiondomain.ErrInvalidPlan))
			assert.True(t, ierr.IsValidation(err))
		})
	}
}

func TestCreateSubscriptionUnknownPlan(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Create(context.Background(), subscriptiondomain.CreateSubscriptionRequest{PlanID: 12345})
	require.Error(t, err)
	assert.True(t, ierr.Is(err, subscriptiondomain.ErrPlanNotFound))
	assert.True(t, ierr.IsNotFound(err))
}

func TestActivateDefaultsToTodayAndPlanTrial(t *testing.T) {
	svc, _, _ := newTestService(t)
	sub := seedSubscription(t, svc, 14)

	active, err := svc.Activate(context.Background(), subscriptiondomain.ActivateRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStateActive, active.State)
	require.NotNil(t, active.StartDate)
	assert.Equal(t, date(2024, 3, 15), *active.StartDate)
	require.NotNil(t, active.TrialEnd)
	assert.Equal(t, date(2024, 3, 28), *active.TrialEnd)

	stored, err := svc.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, date(2024, 3, 28), *stored.TrialEnd)
	assert.Equal(t, "test", stored.Meta["source"])
}

func TestActivateExplicitDates(t *testing.T) {
	svc, _, _ := newTestService(t)
	sub := seedSubscription(t, svc, 0)

	start := time.Date(2024, 3, 1, 17, 45, 0, 0, time.UTC)
	trial := date(2024, 3, 10)
	active, err := svc.Activate(context.Background(), subscriptiondomain.ActivateRequest{
		SubscriptionID: sub.ID,
		StartDate:      &start,
		TrialEndDate:   &trial,
	})
	require.NoError(t, err)
	assert.Equal(t, date(2024, 3, 1), *active.StartDate)
	assert.Equal(t, trial, *active.TrialEnd)
}

func TestActivateRejectsTrialBeforeStart(t *testing.T) {
	svc, _, _ := newTestService(t)
	sub := seedSubscription(t, svc, 0)

	trial := date(2024, 3, 1)
	_, err := svc.Activate(context.Background(), subscriptiondomain.ActivateRequest{
		SubscriptionID: sub.ID,
		TrialEndDate:   &trial,
	})
	require.Error(t, err)
	assert.True(t, ierr.Is(err, subscriptiondomain.ErrInvalidTrialEnd))

	stored, err := svc.GetByID(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStateInactive, stored.State)
}

func TestInvalidTransitionsReportState(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sub := seedSubscription(t, svc, 0)

	_, err := svc.Cancel(ctx, subscriptiondomain.CancelRequest{SubscriptionID: sub.ID, When: strPtr("now")})
	require.Error(t, err)
	assert.Equal(t, "Cannot cancel subscription from inactive state.", err.Error())
	assert.True(t, ierr.Is(err, subscriptiondomain.ErrInvalidTransition))
	assert.True(t, ierr.IsStateConflict(err))

	_, err = svc.Reactivate(ctx, sub.ID)
	require.Error(t, err)
	assert.Equal(t, "Cannot reactivate subscription from inactive state.", err.Error())

	_, err = svc.End(ctx, sub.ID, nil)
	require.Error(t, err)
	assert.Equal(t, "Cannot end subscription from inactive state.", err.Error())

	_, err = svc.Activate(ctx, subscriptiondomain.ActivateRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	_, err = svc.Activate(ctx, subscriptiondomain.ActivateRequest{SubscriptionID: sub.ID})
	require.Error(t, err)
	assert.Equal(t, "Cannot activate subscription from active state.", err.Error())
}

func TestCancelVariants(t *testing.T) {
	cases := []struct {
		when string
		want time.Time
	}{
		{when: subscriptiondomain.CancelNow, want: date(2024, 3, 15)},
		{when: subscriptiondomain.CancelEndOfBillingCycle, want: date(2024, 3, 31)},
		{when: "2024-04-10", want: date(2024, 4, 10)},
	}
	for _, tc := range cases {
		t.Run(tc.when, func(t *testing.T) {
			svc, _, _ := newTestService(t)
			ctx := context.Background()
			sub := seedSubscription(t, svc, 0)
			start := date(2024, 3, 1)
			_, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{SubscriptionID: sub.ID, StartDate: &start})
			require.NoError(t, err)

			canceled, err := svc.Cancel(ctx, subscriptiondomain.CancelRequest{SubscriptionID: sub.ID, When: strPtr(tc.when)})
			require.NoError(t, err)
			assert.Equal(t, subscriptiondomain.SubscriptionStateCanceled, canceled.State)
			require.NotNil(t, canceled.CancelDate)
			assert.Equal(t, tc.want, *canceled.CancelDate)
		})
	}
}

func TestCancelValidatesWhen(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sub := seedSubscription(t, svc, 0)
	start := date(2024, 3, 1)
	_, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{SubscriptionID: sub.ID, StartDate: &start})
	require.NoError(t, err)

	for when, msg := range map[string]string{
		"":           ierr.MsgFieldBlank,
		"tomorrow":   `"tomorrow" is not a valid choice.`,
		"2024-02-01": "Cancel date must not precede the start date.",
	} {
		_, err := svc.Cancel(ctx, subscriptiondomain.CancelRequest{SubscriptionID: sub.ID, When: strPtr(when)})
		require.Error(t, err, when)
		var fields *ierr.FieldErrors
		require.True(t, ierr.As(err, &fields), when)
		assert.Equal(t, []string{msg}, fields.Messages()["when"], when)
	}

	_, err = svc.Cancel(ctx, subscriptiondomain.CancelRequest{SubscriptionID: sub.ID})
	var fields *ierr.FieldErrors
	require.True(t, ierr.As(err, &fields))
	assert.Equal(t, []string{ierr.MsgFieldRequired}, fields.Messages()["when"])
}

func TestReactivateAndEnd(t *testing.T) {
	svc, fake, _ := newTestService(t)
	ctx := context.Background()
	sub := seedSubscription(t, svc, 0)

	_, err := svc.Activate(ctx, subscriptiondomain.ActivateRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, subscriptiondomain.CancelRequest{SubscriptionID: sub.ID, When: strPtr("now")})
	require.NoError(t, err)

	reactivated, err := svc.Reactivate(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStateActive, reactivated.State)
	assert.Nil(t, reactivated.CancelDate)

	_, err = svc.End(ctx, sub.ID, nil)
	require.Error(t, err)
	assert.True(t, ierr.Is(err, subscriptiondomain.ErrInvalidTransition))

	_, err = svc.Cancel(ctx, subscriptiondomain.CancelRequest{SubscriptionID: sub.ID, When: strPtr("end_of_billing_cycle")})
	require.NoError(t, err)
	fake.Set(time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC))

	ended, err := svc.End(ctx, sub.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.SubscriptionStateEnded, ended.State)
	assert.Equal(t, date(2024, 4, 2), *ended.EndedAt)
}

func TestResolveMeteredFeatureCachesLookups(t *testing.T) {
	svc, _, repo := newTestService(t)
	ctx := context.Background()
	sub := seedSubscription(t, svc, 0)
	sub, err := svc.GetByID(ctx, sub.ID)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		feature, err := svc.ResolveMeteredFeature(ctx, sub, " calls ")
		require.NoError(t, err)
		assert.Equal(t, "calls", feature.ProductCode)
	}
	assert.Equal(t, 1, repo.featureLookups)

	_, err = svc.ResolveMeteredFeature(ctx, sub, "missing")
	require.Error(t, err)
	assert.True(t, ierr.Is(err, subscriptiondomain.ErrMeteredFeatureNotFound))

	_, err = svc.CreateMeteredFeature(ctx, subscriptiondomain.MeteredFeature{Name: "Seats", ProductCode: "seats"})
	require.NoError(t, err)
	_, err = svc.ResolveMeteredFeature(ctx, sub, "seats")
	require.Error(t, err)
	assert.True(t, ierr.Is(err, subscriptiondomain.ErrFeatureNotInPlan))
}

func TestMarkBilledThroughOnlyMovesForward(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	sub := seedSubscription(t, svc, 0)

	require.NoError(t, svc.MarkBilledThrough(ctx, sub.ID, date(2024, 2, 29)))
	require.NoError(t, svc.MarkBilledThrough(ctx, sub.ID, date(2024, 1, 31)))

	stored, err := svc.GetByID(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.LastBilledThrough)
	assert.Equal(t, date(2024, 2, 29), *stored.LastBilledThrough)

	err = svc.MarkBilledThrough(ctx, snowflake.ID(404), date(2024, 1, 1))
	assert.True(t, ierr.Is(err, subscriptiondomain.ErrSubscriptionNotFound))
}
