package webhook

import (
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"time"

	"payjs-be/internal/logger"
	"payjs-be/internal/metrics"
	"payjs-be/internal/order"
	"payjs-be/internal/payment"
	"payjs-be/internal/utils"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Handler serves the gateway-facing callbacks. Audit is optional.
type Handler struct {
	Gateways *payment.Registry
	Audit    payment.Repository
	Metrics  *metrics.Metrics
}

func NewWebhookHandler(gateways *payment.Registry, audit payment.Repository, m *metrics.Metrics) *Handler {
	if m == nil {
		m = metrics.NewMetrics()
	}
	return &Handler{
		Gateways: gateways,
		Audit:    audit,
		Metrics:  m,
	}
}

// Notify handles the gateway's server-to-server notification. The body is
// always one of the ack strings; the gateway retries on anything but SUCCESS.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	name := chi.URLParam(r, "gateway")
	log := logger.FromCtx(ctx).With(zap.String("gateway", name))

	gw, err := h.Gateways.Get(name)
	if err != nil {
		http.Error(w, "unknown payment gateway", http.StatusNotFound)
		return
	}

	if err := r.ParseForm(); err != nil {
		log.Warn("Failed to parse notification body", zap.Error(err))
		h.Metrics.ObserveCallback(gw.Name(), metrics.KindNotify, payment.AckError, start)
		utils.WriteText(w, http.StatusOK, payment.AckError)
		return
	}
	fields := formFields(r)

	ack := gw.HandleNotify(ctx, fields)
	h.Metrics.ObserveCallback(gw.Name(), metrics.KindNotify, ack, start)
	log.Info("Payment notification handled",
		zap.String("trade_no", fields["out_trade_no"]),
		zap.String("ack", ack),
		zap.Duration("duration", time.Since(start)),
	)

	h.record(r, gw.Name(), payment.CallbackNotify, fields["out_trade_no"], fields, ack)
	utils.WriteText(w, http.StatusOK, ack)
}

// Return renders the page the payer lands on after the cashier.
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	name := chi.URLParam(r, "gateway")
	log := logger.FromCtx(ctx).With(zap.String("gateway", name))

	gw, err := h.Gateways.Get(name)
	if err != nil {
		http.Error(w, "unknown payment gateway", http.StatusNotFound)
		return
	}

	tradeNo := r.URL.Query().Get(payment.ReturnTradeNoParam)
	if tradeNo == "" {
		http.Error(w, "missing "+payment.ReturnTradeNoParam, http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	fields := formFields(r)

	res, err := gw.HandleReturn(ctx, tradeNo, fields)
	if errors.Is(err, order.ErrOrderNotFound) {
		http.Error(w, "order not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Error("Failed to handle payment return", zap.String("trade_no", tradeNo), zap.Error(err))
		http.Error(w, "failed to process payment return", http.StatusInternalServerError)
		return
	}

	outcome := "failed"
	if res.Success {
		outcome = "success"
	}
	h.Metrics.ObserveCallback(gw.Name(), metrics.KindReturn, outcome, start)
	h.record(r, gw.Name(), payment.CallbackReturn, tradeNo, fields, outcome)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := returnPage.Execute(w, returnView{
		Amount:  res.Amount.StringFixed(2),
		Success: res.Success,
	}); err != nil {
		log.Error("Failed to render return page", zap.Error(err))
	}
}

// record stores the callback for later inspection. Failures never change
// the response sent to the gateway.
func (h *Handler) record(r *http.Request, gateway string, kind payment.CallbackKind, tradeNo string, fields payment.Fields, outcome string) {
	if h.Audit == nil {
		return
	}
	log := logger.FromCtx(r.Context())

	payload, err := json.Marshal(fields)
	if err != nil {
		log.Warn("Failed to encode callback payload", zap.Error(err))
		return
	}
	if _, err := h.Audit.SaveCallback(r.Context(), &payment.CallbackRecord{
		Gateway: gateway,
		Kind:    kind,
		TradeNo: tradeNo,
		Payload: payload,
		Outcome: outcome,
	}); err != nil {
		log.Warn("Failed to save payment callback", zap.String("trade_no", tradeNo), zap.Error(err))
	}
}

// formFields flattens query and body parameters, first value wins.
func formFields(r *http.Request) payment.Fields {
	out := make(payment.Fields, len(r.Form))
	for k, v := range r.Form {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

type returnView struct {
	Amount  string
	Success bool
}

var returnPage = template.Must(template.New("return").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Payment</title></head>
<body>
{{if .Success}}<p class="success">Payment of {{.Amount}} received.</p>
{{else}}<p class="failed">Payment of {{.Amount}} could not be confirmed.</p>
{{end}}</body>
</html>
`))
