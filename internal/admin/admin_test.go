package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/nimasrn/loyalty-engine/internal/app"
	"github.com/nimasrn/loyalty-engine/internal/model"
	"github.com/nimasrn/loyalty-engine/internal/services"
	xhttp "github.com/nimasrn/loyalty-engine/pkg/http"
	"github.com/nimasrn/loyalty-engine/pkg/pg"
	"github.com/nimasrn/loyalty-engine/test/fixtures"
	"github.com/nimasrn/loyalty-engine/test/helpers"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type adminTest struct {
	t      *testing.T
	db     *pg.DB
	engine *services.Engine
	router *gin.Engine
}

func newAdmin(t *testing.T, opts Options) *adminTest {
	db := helpers.SetupTestDB(t)
	engine := app.NewEngine(db, decimal.RequireFromString("0.05"))
	helpers.CreateTestPartner(t, db, fixtures.HomePartner, model.PartnerStatusApproved)
	helpers.CreateTestPartner(t, db, fixtures.PendingPartner, model.PartnerStatusPending)
	helpers.CreateTestClient(t, db, fixtures.Client1)
	return &adminTest{t: t, db: db, engine: engine, router: NewRouter(NewHandler(engine), opts)}
}

func (a *adminTest) do(method, path string, body any, header map[string]string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestPartnerApproval(t *testing.T) {
	a := newAdmin(t, Options{})

	w := a.do(http.MethodPut, "/admin/v1/partners/"+fixtures.PendingPartner+"/status", statusRequest{Status: "approved"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	p, err := a.engine.Registry().GetPartner(context.Background(), fixtures.PendingPartner)
	require.NoError(t, err)
	assert.True(t, p.Approved())

	w = a.do(http.MethodPut, "/admin/v1/partners/"+fixtures.PendingPartner+"/status", statusRequest{Status: "sleeping"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodPut, "/admin/v1/partners/424242/status", statusRequest{Status: "approved"}, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decodeBody[map[string]any](t, w)["code"])

	w = a.do(http.MethodPut, "/admin/v1/partners/"+fixtures.PendingPartner+"/status", map[string]any{}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestClientBlockAndAdjust(t *testing.T) {
	a := newAdmin(t, Options{})
	ctx := context.Background()

	w := a.do(http.MethodPut, "/admin/v1/clients/"+fixtures.Client1+"/status", statusRequest{Status: "blocked"}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	_, err := a.engine.Accrue(ctx, fixtures.NewAccrueRequest(fixtures.Client1, fixtures.HomePartner, 1000, "blocked-order"))
	assert.ErrorIs(t, err, services.ErrClientBlocked)

	t.Run("adjustments still apply to a blocked client", func(t *testing.T) {
		body := adjustmentRequest{Delta: 30, Reason: "goodwill", PartnerID: fixtures.HomePartner, IdempotencyKey: "adj-1"}
		w := a.do(http.MethodPost, "/admin/v1/clients/"+fixtures.Client1+"/adjustments", body, nil)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		assert.Equal(t, int64(30), decodeBody[services.LedgerResult](t, w).Transaction.Earned)

		w = a.do(http.MethodPost, "/admin/v1/clients/"+fixtures.Client1+"/adjustments", body, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, decodeBody[services.LedgerResult](t, w).Replayed)
	})

	t.Run("missing key is rejected", func(t *testing.T) {
		body := adjustmentRequest{Delta: -10, Reason: "correction", PartnerID: fixtures.HomePartner}
		w := a.do(http.MethodPost, "/admin/v1/clients/"+fixtures.Client1+"/adjustments", body, nil)
		require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		assert.Equal(t, "invalid_argument", decodeBody[map[string]any](t, w)["code"])
	})

	t.Run("key from header replays", func(t *testing.T) {
		body := adjustmentRequest{Delta: -10, Reason: "correction", PartnerID: fixtures.HomePartner}
		header := map[string]string{xhttp.HeaderIdempotencyKey: "adj-2"}
		w := a.do(http.MethodPost, "/admin/v1/clients/"+fixtures.Client1+"/adjustments", body, header)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
		res := decodeBody[services.LedgerResult](t, w)
		assert.Equal(t, int64(10), res.Transaction.Spent)
		assert.Equal(t, "adj-2", res.Transaction.IdempotencyKey)

		w = a.do(http.MethodPost, "/admin/v1/clients/"+fixtures.Client1+"/adjustments", body, header)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.True(t, decodeBody[services.LedgerResult](t, w).Replayed)
	})

	t.Run("negative adjustment below zero is refused", func(t *testing.T) {
		body := adjustmentRequest{Delta: -1000, Reason: "too much", PartnerID: fixtures.HomePartner, IdempotencyKey: "adj-3"}
		w := a.do(http.MethodPost, "/admin/v1/clients/"+fixtures.Client1+"/adjustments", body, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	balance, err := a.engine.Balance(ctx, fixtures.Client1)
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)
}

func TestReconcileRoute(t *testing.T) {
	a := newAdmin(t, Options{})
	_, err := a.engine.Accrue(context.Background(), fixtures.NewAccrueRequest(fixtures.Client1, fixtures.HomePartner, 1000, "order-1"))
	require.NoError(t, err)
	helpers.ForceBalance(t, a.db, fixtures.Client1, 999)

	w := a.do(http.MethodPost, "/admin/v1/clients/"+fixtures.Client1+"/reconcile", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decodeBody[model.ReconcileResult](t, w)
	assert.Equal(t, int64(999), res.Cached)
	assert.Equal(t, int64(50), res.Computed)
	assert.True(t, res.Repaired)

	w = a.do(http.MethodPost, "/admin/v1/clients/777/reconcile", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDealRoutes(t *testing.T) {
	a := newAdmin(t, Options{})
	helpers.CreateTestPartner(t, a.db, fixtures.ForeignPartner, model.PartnerStatusApproved)

	deal, _, err := a.engine.ProposeDeal(context.Background(), fixtures.NewDealRequest(fixtures.ForeignPartner, fixtures.HomePartner, fixtures.StandardTerms, 0, "deal-1"))
	require.NoError(t, err)

	w := a.do(http.MethodDelete, "/admin/v1/deals/"+deal.ID, nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, model.DealStatusRevoked, decodeBody[model.PartnerDeal](t, w).Status)

	w = a.do(http.MethodPost, "/admin/v1/deals/sweep", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decodeBody[map[string]any](t, w)["expired"])
}

func TestPartnerReports(t *testing.T) {
	a := newAdmin(t, Options{})
	ctx := context.Background()

	_, _, err := a.engine.RegisterClient(ctx, "6001", model.ClientProfile{}, "partner_"+fixtures.HomePartner)
	require.NoError(t, err)
	_, _, err = a.engine.RegisterClient(ctx, "6002", model.ClientProfile{}, "/start partner_"+fixtures.PendingPartner)
	require.NoError(t, err)

	w := a.do(http.MethodGet, "/admin/v1/partners/"+fixtures.HomePartner+"/referrals", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	stats := decodeBody[model.ReferralStats](t, w)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, int64(1), stats.Attributed)

	res, err := a.engine.Accrue(ctx, fixtures.NewAccrueRequest(fixtures.Client1, fixtures.HomePartner, 100, "nps-order"))
	require.NoError(t, err)
	_, err = a.engine.SubmitNPS(ctx, model.SubmitRatingRequest{ClientID: fixtures.Client1, TransactionID: res.Transaction.ID, Rating: 10})
	require.NoError(t, err)

	w = a.do(http.MethodGet, "/admin/v1/partners/"+fixtures.HomePartner+"/nps", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decodeBody[model.NPSReport](t, w)
	assert.Equal(t, 1, report.Promoters)
	assert.Equal(t, float64(100), report.Score)

	w = a.do(http.MethodGet, "/admin/v1/partners/"+fixtures.HomePartner+"/nps?from=garbage", nil, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodGet, "/admin/v1/partners/31337/nps", nil, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBearerToken(t *testing.T) {
	a := newAdmin(t, Options{Token: "s3cret"})
	path := "/admin/v1/partners/" + fixtures.HomePartner + "/referrals"

	w := a.do(http.MethodGet, path, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(http.MethodGet, path, nil, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(http.MethodGet, path, nil, map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))
}
