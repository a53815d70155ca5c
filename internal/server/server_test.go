package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	billingcycleservice "github.com/smallbiznis/meterbill/internal/billingcycle/service"
	"github.com/smallbiznis/meterbill/internal/clock"
	"github.com/smallbiznis/meterbill/internal/config"
	documentdomain "github.com/smallbiznis/meterbill/internal/document/domain"
	documentrepository "github.com/smallbiznis/meterbill/internal/document/repository"
	documentservice "github.com/smallbiznis/meterbill/internal/document/service"
	obsmetrics "github.com/smallbiznis/meterbill/internal/observability/metrics"
	subscriptiondomain "github.com/smallbiznis/meterbill/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/meterbill/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/meterbill/internal/subscription/service"
	"github.com/smallbiznis/meterbill/internal/testutil"
	"github.com/smallbiznis/meterbill/internal/usage/lock"
	usagerepository "github.com/smallbiznis/meterbill/internal/usage/repository"
	usageservice "github.com/smallbiznis/meterbill/internal/usage/service"
	"github.com/smallbiznis/meterbill/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	engine    *gin.Engine
	subs      subscriptiondomain.Service
	documents documentdomain.Service
	active    subscriptiondomain.Subscription
	inactive  subscriptiondomain.Subscription
}

func newTestServer(t *testing.T) testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	db := testutil.OpenSQLite(t)
	node := testutil.MustNode(t)
	log := zap.NewNop()
	fake := clock.NewFakeClock(time.Date(2024, 1, 28, 12, 0, 0, 0, time.UTC))
	holder := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())
	cycles := billingcycleservice.NewService(billingcycleservice.ServiceParam{Log: log})
	v := validator.New()
	metrics := obsmetrics.New()

	subs := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fake,
		Repo:         subscriptionrepository.Provide(),
		BillingCycle: cycles,
		Validator:    v,
		Config:       holder,
		Metrics:      metrics,
	})
	usage := usageservice.NewService(usageservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fake,
		Repo:         usagerepository.Provide(),
		SubSvc:       subs,
		BillingCycle: cycles,
		Locker:       lock.NewMemoryLocker(),
		Validator:    v,
		Config:       holder,
		Metrics:      metrics,
	})
	documents := documentservice.NewService(documentservice.ServiceParam{
		DB: db, Log: log, GenID: node, Clock: fake,
		Repo:         documentrepository.Provide(),
		SubSvc:       subs,
		UsageSvc:     usage,
		BillingCycle: cycles,
		Config:       holder,
		Metrics:      metrics,
	})

	feature, err := subs.CreateMeteredFeature(ctx, subscriptiondomain.MeteredFeature{
		Name: "API calls", Unit: "call", ProductCode: "calls",
	})
	require.NoError(t, err)
	plan, err := subs.CreatePlan(ctx, subscriptiondomain.CreatePlanRequest{
		Name:          "Monthly",
		Interval:      subscriptiondomain.IntervalMonth,
		IntervalCount: 1,
		Alignment:     subscriptiondomain.AlignmentCalendar,
		Amount:        "10",
		Currency:      "USD",
		FeatureIDs:    []snowflake.ID{feature.ID},
	})
	require.NoError(t, err)

	active, err := subs.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{PlanID: plan.ID, CustomerID: 1})
	require.NoError(t, err)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	active, err = subs.Activate(ctx, subscriptiondomain.ActivateRequest{SubscriptionID: active.ID, StartDate: &start})
	require.NoError(t, err)
	inactive, err := subs.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{PlanID: plan.ID, CustomerID: 2})
	require.NoError(t, err)

	engine := NewEngine(config.Config{Environment: "test"}, log, metrics)
	NewServer(ServerParams{
		Engine:          engine,
		Log:             log,
		Validator:       v,
		BillingConfig:   holder,
		SubscriptionSvc: subs,
		UsageSvc:        usage,
		DocumentSvc:     documents,
	})

	return testServer{engine: engine, subs: subs, documents: documents, active: active, inactive: inactive}
}

func (ts testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)

	var payload map[string]any
	if strings.HasPrefix(strings.TrimSpace(rec.Body.String()), "{") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	}
	return rec, payload
}

func usagePath(id snowflake.ID) string {
	return "/subscriptions/" + id.String() + "/metered-features/calls"
}

func TestRecordUsageEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.do(t, http.MethodPatch, usagePath(ts.active.ID),
		`{"date":"2024-01-10T10:00:00Z","consumed_units":"5","update_type":"relative"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "calls", body["metered_feature"])
	assert.Equal(t, ts.active.ID.String(), body["subscription"])
	assert.Equal(t, "2024-01-01T00:00:00Z", body["start_datetime"])
	assert.Equal(t, "2024-01-31T23:59:59Z", body["end_datetime"])
	assert.Equal(t, "5.0000", body["consumed_units"])
	assert.Nil(t, body["annotation"])

	rec, body = ts.do(t, http.MethodPatch, usagePath(ts.active.ID),
		`{"date":"2024-01-12","consumed_units":2.5,"update_type":"relative"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "7.5000", body["consumed_units"])

	req := httptest.NewRequest(http.MethodGet, usagePath(ts.active.ID), nil)
	listRec := httptest.NewRecorder()
	ts.engine.ServeHTTP(listRec, req)
	require.Equal(t, http.StatusOK, listRec.Code)
	var logs []map[string]any
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "7.5000", logs[0]["consumed_units"])
}

func TestRecordUsageEndpointValidation(t *testing.T) {
	ts := newTestServer(t)

	rec, body := ts.do(t, http.MethodPatch, usagePath(ts.active.ID), `{"consumed_units":"","update_type":"x"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	errPayload := body["error"].(map[string]any)
	assert.Equal(t, "validation_error", errPayload["type"])
	errs := errPayload["errors"].([]any)
	got := map[string]string{}
	for _, e := range errs {
		item := e.(map[string]any)
		got[item["field"].(string)] = item["message"].(string)
	}
	assert.Equal(t, map[string]string{
		"consumed_units": "This field may not be blank.",
		"date":           "This field is required.",
		"update_type":    `"x" is not a valid choice.`,
	}, got)

	rec, _ = ts.do(t, http.MethodPatch, usagePath(ts.active.ID), `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = ts.do(t, http.MethodPatch, usagePath(ts.active.ID),
		`{"date":"2023-12-01","consumed_units":"1","update_type":"absolute"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Date is out of bounds", body["error"].(map[string]any)["message"])
}

func TestRecordUsageEndpointStatusCodes(t *testing.T) {
	ts := newTestServer(t)
	payload := `{"date":"2024-01-10","consumed_units":"1","update_type":"absolute"}`

	rec, _ := ts.do(t, http.MethodPatch, usagePath(snowflake.ID(424242)), payload)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, http.MethodPatch, "/subscriptions/abc/metered-features/calls", payload)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, http.MethodPatch, "/subscriptions/"+ts.active.ID.String()+"/metered-features/unknown", payload)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(t, http.MethodPatch, usagePath(ts.inactive.ID), payload)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t)
	base := "/subscriptions/" + ts.inactive.ID.String()

	rec, body := ts.do(t, http.MethodPost, base+"/cancel", `{"when":"now"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Cannot cancel subscription from inactive state.", body["error"].(map[string]any)["message"])

	rec, body = ts.do(t, http.MethodPost, base+"/activate", `{"start_date":"2024-13-01"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	errs := body["error"].(map[string]any)["errors"].([]any)
	require.Len(t, errs, 1)
	assert.Equal(t, "start_date", errs[0].(map[string]any)["field"])

	rec, body = ts.do(t, http.MethodPost, base+"/activate", `{"start_date":"2024-01-05"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "active", body["state"])

	rec, body = ts.do(t, http.MethodPost, base+"/cancel", `{"when":"end_of_billing_cycle"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "canceled", body["state"])

	rec, body = ts.do(t, http.MethodPost, base+"/reactivate", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "active", body["state"])

	sub, err := ts.subs.GetByID(context.Background(), ts.inactive.ID)
	require.NoError(t, err)
	assert.Nil(t, sub.CancelDate)
}

func TestDocumentEntriesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	tax := decimal.NewFromInt(10)
	doc, err := ts.documents.Create(ctx, documentdomain.CreateDocumentRequest{
		Kind:            documentdomain.KindInvoice,
		CustomerID:      1,
		Currency:        "USD",
		SalesTaxPercent: &tax,
	})
	require.NoError(t, err)
	_, err = ts.documents.AddEntry(ctx, doc.ID, documentdomain.DocumentEntry{
		Description: "Consulting",
		Quantity:    decimal.RequireFromString("3.12345"),
		UnitPrice:   decimal.RequireFromString("2.00005"),
	})
	require.NoError(t, err)

	rec, body := ts.do(t, http.MethodGet, "/documents/"+doc.ID.String()+"/entries", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "6.25", body["total_before_tax"])
	assert.Equal(t, "0.63", body["tax_value"])
	assert.Equal(t, "6.88", body["total"])

	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, "2.0001", entry["unit_price"])
	assert.Nil(t, entry["total_in_transaction_currency"])

	rec, _ = ts.do(t, http.MethodGet, "/documents/123/entries", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/health", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "meterbill_http_requests_total")
	assert.Contains(t, rec.Body.String(), "meterbill_subscription_transitions_total")
}
