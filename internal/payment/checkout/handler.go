package checkout

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"payjs-be/internal/logger"
	"payjs-be/internal/payment"
	"payjs-be/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Handler serves the payer-facing purchase and status endpoints and the
// operator query/refund endpoints.
type Handler struct {
	Gateways *payment.Registry
	Audit    payment.Repository
}

func NewCheckoutHandler(gateways *payment.Registry, audit payment.Repository) *Handler {
	return &Handler{
		Gateways: gateways,
		Audit:    audit,
	}
}

type purchaseResponse struct {
	Code   int    `json:"code"`
	URL    string `json:"url,omitempty"`
	PID    string `json:"pid,omitempty"`
	ErrMsg string `json:"errmsg,omitempty"`
}

type statusResponse struct {
	Ret    int    `json:"ret"`
	Result *int   `json:"result,omitempty"`
	ErrMsg string `json:"errmsg,omitempty"`
}

func (h *Handler) gateway(w http.ResponseWriter, r *http.Request) (payment.Gateway, bool) {
	gw, err := h.Gateways.Get(chi.URLParam(r, "gateway"))
	if err != nil {
		utils.WriteJSONError(w, "unknown payment gateway", http.StatusNotFound)
		return nil, false
	}
	return gw, true
}

// Purchase opens an order for the authenticated user and returns the
// cashier URL.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.FromCtx(ctx)

	userID, ok := utils.GetUserIDFromContext(ctx)
	if !ok {
		utils.WriteJSON(w, http.StatusUnauthorized, purchaseResponse{Code: -1, ErrMsg: "unauthorized"})
		return
	}

	gw, ok := h.gateway(w, r)
	if !ok {
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(r.FormValue("price")))
	if err != nil {
		utils.WriteJSON(w, http.StatusOK, purchaseResponse{Code: -1, ErrMsg: "invalid amount"})
		return
	}

	res, err := gw.Purchase(ctx, userID, amount)
	if errors.Is(err, payment.ErrInvalidAmount) {
		utils.WriteJSON(w, http.StatusOK, purchaseResponse{Code: -1, ErrMsg: "invalid amount"})
		return
	}
	if err != nil {
		log.Error("Failed to create purchase", zap.String("gateway", gw.Name()), zap.Error(err))
		utils.WriteJSON(w, http.StatusInternalServerError, purchaseResponse{Code: -1, ErrMsg: "failed to create purchase"})
		return
	}

	log.Info("Purchase created",
		zap.String("trade_no", res.TradeNo),
		zap.String("email", utils.GetUserEmailFromContext(ctx)),
		zap.String("role", utils.GetUserRoleFromContext(ctx)),
	)
	utils.WriteJSON(w, http.StatusOK, purchaseResponse{Code: 0, URL: res.RedirectURL, PID: res.TradeNo})
}

// Status reports the order state polled by the purchase page.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	gw, ok := h.gateway(w, r)
	if !ok {
		return
	}

	pid := r.URL.Query().Get("pid")
	if pid == "" {
		utils.WriteJSON(w, http.StatusBadRequest, statusResponse{Ret: 0, ErrMsg: "missing pid"})
		return
	}

	st, err := gw.Status(r.Context(), pid)
	if err != nil {
		logger.FromCtx(r.Context()).Error("Failed to load payment status", zap.String("trade_no", pid), zap.Error(err))
		utils.WriteJSON(w, http.StatusInternalServerError, statusResponse{Ret: 0, ErrMsg: "failed to load status"})
		return
	}
	if !st.Found {
		utils.WriteJSON(w, http.StatusNotFound, statusResponse{Ret: 0, ErrMsg: "order not found"})
		return
	}

	result := st.Status
	utils.WriteJSON(w, http.StatusOK, statusResponse{Ret: 1, Result: &result})
}

// Query asks the gateway for its view of an order.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	gw, ok := h.gateway(w, r)
	if !ok {
		return
	}

	pid := r.URL.Query().Get("pid")
	if pid == "" {
		utils.WriteJSONError(w, "missing pid", http.StatusBadRequest)
		return
	}

	res, err := gw.Query(r.Context(), pid)
	if err != nil {
		logger.FromCtx(r.Context()).Error("Gateway query failed", zap.String("trade_no", pid), zap.Error(err))
		utils.WriteJSONError(w, "gateway query failed", http.StatusBadGateway)
		return
	}
	utils.WriteJSON(w, http.StatusOK, res)
}

// Refund forwards a refund request and relays the gateway's answer as is.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	gw, ok := h.gateway(w, r)
	if !ok {
		return
	}

	pid := r.FormValue("pid")
	if pid == "" {
		utils.WriteJSONError(w, "missing pid", http.StatusBadRequest)
		return
	}

	admin, _ := utils.AdminFromContext(r.Context())
	log := logger.FromCtx(r.Context()).With(zap.String("trade_no", pid), zap.String("admin", admin))

	body, err := gw.Refund(r.Context(), pid)
	if err != nil {
		log.Error("Gateway refund failed", zap.Error(err))
		if len(body) == 0 {
			utils.WriteJSONError(w, "gateway refund failed", http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write(body)
		return
	}

	log.Info("Refund forwarded to gateway")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type callbackView struct {
	ID        int64          `json:"id"`
	Gateway   string         `json:"gateway"`
	Kind      string         `json:"kind"`
	Outcome   string         `json:"outcome"`
	Payload   map[string]any `json:"payload"`
	CreatedAt string         `json:"created_at"`
}

// Callbacks lists the recorded callbacks for one trade number.
func (h *Handler) Callbacks(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		utils.WriteJSONError(w, "callback audit disabled", http.StatusNotFound)
		return
	}

	pid := r.URL.Query().Get("pid")
	if pid == "" {
		utils.WriteJSONError(w, "missing pid", http.StatusBadRequest)
		return
	}

	records, err := h.Audit.ListCallbacks(r.Context(), pid)
	if err != nil {
		logger.FromCtx(r.Context()).Error("Failed to list callbacks", zap.String("trade_no", pid), zap.Error(err))
		utils.WriteJSONError(w, "failed to list callbacks", http.StatusInternalServerError)
		return
	}

	out := make([]callbackView, 0, len(records))
	for _, rec := range records {
		v := callbackView{
			ID:        rec.ID,
			Gateway:   rec.Gateway,
			Kind:      string(rec.Kind),
			Outcome:   rec.Outcome,
			CreatedAt: rec.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
		if len(rec.Payload) > 0 {
			_ = json.Unmarshal(rec.Payload, &v.Payload)
		}
		out = append(out, v)
	}
	utils.WriteJSON(w, http.StatusOK, out)
}
