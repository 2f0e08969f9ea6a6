package webhook

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"payjs-be/internal/metrics"
	"payjs-be/internal/order"
	"payjs-be/internal/payment"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) Name() string { return "payjs" }

func (m *MockGateway) Purchase(ctx context.Context, ownerID uint, amount decimal.Decimal) (*payment.PurchaseResult, error) {
	args := m.Called(ctx, ownerID, amount)
	if r := args.Get(0); r != nil {
		return r.(*payment.PurchaseResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) Query(ctx context.Context, tradeNo string) (*payment.QueryResult, error) {
	args := m.Called(ctx, tradeNo)
	if r := args.Get(0); r != nil {
		return r.(*payment.QueryResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) Refund(ctx context.Context, tradeNo string) ([]byte, error) {
	args := m.Called(ctx, tradeNo)
	if r := args.Get(0); r != nil {
		return r.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) HandleNotify(ctx context.Context, body payment.Fields) string {
	return m.Called(ctx, body).String(0)
}

func (m *MockGateway) HandleReturn(ctx context.Context, tradeNo string, body payment.Fields) (*payment.ReturnResult, error) {
	args := m.Called(ctx, tradeNo, body)
	if r := args.Get(0); r != nil {
		return r.(*payment.ReturnResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) Status(ctx context.Context, tradeNo string) (*payment.StatusResult, error) {
	args := m.Called(ctx, tradeNo)
	if r := args.Get(0); r != nil {
		return r.(*payment.StatusResult), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockPaymentRepository struct {
	mock.Mock
}

func (m *MockPaymentRepository) SaveCallback(ctx context.Context, rec *payment.CallbackRecord) (int64, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockPaymentRepository) ListCallbacks(ctx context.Context, tradeNo string) ([]payment.CallbackRecord, error) {
	args := m.Called(ctx, tradeNo)
	if r := args.Get(0); r != nil {
		return r.([]payment.CallbackRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func newRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.HandleFunc("/payment/notify/{gateway}", h.Notify)
	r.HandleFunc("/user/payment/return/{gateway}", h.Return)
	r.Handle("/admin/payment/metrics", h.Metrics.Handler())
	return r
}

func setup(t *testing.T) (*MockGateway, *MockPaymentRepository, http.Handler) {
	gw := new(MockGateway)
	repo := new(MockPaymentRepository)
	reg := payment.NewRegistry()
	require.NoError(t, reg.Register(gw))
	return gw, repo, newRouter(NewWebhookHandler(reg, repo, nil))
}

func formRequest(target string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestHandler_Notify(t *testing.T) {
	form := url.Values{
		"return_code":  {"1"},
		"out_trade_no": {"abc"},
		"total_fee":    {"1999"},
		"sign":         {"SIG"},
	}

	t.Run("WritesAck", func(t *testing.T) {
		gw, repo, router := setup(t)
		gw.On("HandleNotify", mock.Anything, payment.Fields{
			"return_code": "1", "out_trade_no": "abc", "total_fee": "1999", "sign": "SIG",
		}).Return(payment.AckSuccess)
		repo.On("SaveCallback", mock.Anything, mock.MatchedBy(func(rec *payment.CallbackRecord) bool {
			return rec.Kind == payment.CallbackNotify && rec.TradeNo == "abc" &&
				rec.Outcome == payment.AckSuccess && rec.Gateway == "payjs"
		})).Return(int64(1), nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, formRequest("/payment/notify/payjs", form))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "SUCCESS", w.Body.String())
		assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
		gw.AssertExpectations(t)
		repo.AssertExpectations(t)
	})

	t.Run("AuditFailureDoesNotChangeAck", func(t *testing.T) {
		gw, repo, router := setup(t)
		gw.On("HandleNotify", mock.Anything, mock.Anything).Return(payment.AckBadSignature)
		repo.On("SaveCallback", mock.Anything, mock.Anything).Return(int64(0), errors.New("db down"))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, formRequest("/payment/notify/payjs", form))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "FAIL2", w.Body.String())
	})

	t.Run("GetWithQuery", func(t *testing.T) {
		gw, repo, router := setup(t)
		gw.On("HandleNotify", mock.Anything, payment.Fields{"return_code": "0"}).Return(payment.AckNotSuccessful)
		repo.On("SaveCallback", mock.Anything, mock.Anything).Return(int64(2), nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/payment/notify/payjs?return_code=0", nil))

		assert.Equal(t, "FAIL1", w.Body.String())
	})

	t.Run("UnknownGateway", func(t *testing.T) {
		gw, _, router := setup(t)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, formRequest("/payment/notify/alipay", form))

		assert.Equal(t, http.StatusNotFound, w.Code)
		gw.AssertNotCalled(t, "HandleNotify", mock.Anything, mock.Anything)
	})

	t.Run("NoAudit", func(t *testing.T) {
		gw := new(MockGateway)
		reg := payment.NewRegistry()
		require.NoError(t, reg.Register(gw))
		gw.On("HandleNotify", mock.Anything, mock.Anything).Return(payment.AckError)

		w := httptest.NewRecorder()
		newRouter(NewWebhookHandler(reg, nil, nil)).ServeHTTP(w, formRequest("/payment/notify/payjs", form))

		assert.Equal(t, "ERROR", w.Body.String())
	})
}

func TestHandler_Return(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		gw, repo, router := setup(t)
		gw.On("HandleReturn", mock.Anything, "abc", mock.MatchedBy(func(f payment.Fields) bool {
			return f["sign"] == "SIG" && f[payment.ReturnTradeNoParam] == "abc"
		})).Return(&payment.ReturnResult{Amount: decimal.RequireFromString("19.9"), Success: true}, nil)
		repo.On("SaveCallback", mock.Anything, mock.MatchedBy(func(rec *payment.CallbackRecord) bool {
			return rec.Kind == payment.CallbackReturn && rec.Outcome == "success"
		})).Return(int64(1), nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
			"/user/payment/return/payjs?merchantTradeNo=abc&out_trade_no=abc&sign=SIG", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
		assert.Contains(t, w.Body.String(), "Payment of 19.90 received.")
		repo.AssertExpectations(t)
	})

	t.Run("NotVerified", func(t *testing.T) {
		gw, repo, router := setup(t)
		gw.On("HandleReturn", mock.Anything, "abc", mock.Anything).
			Return(&payment.ReturnResult{Amount: decimal.NewFromInt(5), Success: false}, nil)
		repo.On("SaveCallback", mock.Anything, mock.Anything).Return(int64(1), nil)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/payment/return/payjs?merchantTradeNo=abc", nil))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "could not be confirmed")
	})

	t.Run("MissingTradeNo", func(t *testing.T) {
		_, _, router := setup(t)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/payment/return/payjs", nil))

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("UnknownOrder", func(t *testing.T) {
		gw, _, router := setup(t)
		gw.On("HandleReturn", mock.Anything, "nope", mock.Anything).Return(nil, order.ErrOrderNotFound)

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/payment/return/payjs?merchantTradeNo=nope", nil))

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("StoreError", func(t *testing.T) {
		gw, _, router := setup(t)
		gw.On("HandleReturn", mock.Anything, "abc", mock.Anything).Return(nil, errors.New("db down"))

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/user/payment/return/payjs?merchantTradeNo=abc", nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestHandler_Metrics(t *testing.T) {
	gw := new(MockGateway)
	reg := payment.NewRegistry()
	require.NoError(t, reg.Register(gw))
	m := metrics.NewMetrics()
	router := newRouter(NewWebhookHandler(reg, nil, m))

	gw.On("HandleNotify", mock.Anything, mock.Anything).Return(payment.AckSuccess).Once()
	gw.On("HandleNotify", mock.Anything, mock.Anything).Return(payment.AckError)
	gw.On("HandleReturn", mock.Anything, "abc", mock.Anything).
		Return(&payment.ReturnResult{Amount: decimal.NewFromInt(1), Success: true}, nil)

	for i := 0; i < 3; i++ {
		router.ServeHTTP(httptest.NewRecorder(), formRequest("/payment/notify/payjs", url.Values{"a": {"1"}}))
	}
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/user/payment/return/payjs?merchantTradeNo=abc", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.CallbackCounter.WithLabelValues("payjs", metrics.KindNotify, "SUCCESS")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.CallbackCounter.WithLabelValues("payjs", metrics.KindNotify, "ERROR")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.CallbackCounter.WithLabelValues("payjs", metrics.KindReturn, "success")))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/payment/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `payjs_callback_total{gateway="payjs",kind="notify",outcome="ERROR"} 2`)
	assert.Contains(t, w.Body.String(), `payjs_callback_duration_seconds_count{gateway="payjs",kind="return"} 1`)
}
