package payjs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"payjs-be/internal/logger"
	"payjs-be/internal/order"
	"payjs-be/internal/payment"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Purchase opens a pending order for ownerID and returns the cashier URL
// the payer is redirected to.
func (g *Gateway) Purchase(ctx context.Context, ownerID uint, amount decimal.Decimal) (*payment.PurchaseResult, error) {
	log := logger.FromCtx(ctx).With(zap.Uint("owner_id", ownerID), zap.String("amount", amount.String()))

	if !amount.IsPositive() {
		log.Warn("Rejected non-positive amount")
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(2)) {
		log.Warn("Rejected amount with more than two decimals")
		return nil, fmt.Errorf("%w: at most two decimal places", ErrInvalidAmount)
	}

	o, err := g.orders.CreatePending(ctx, Name, ownerID, amount)
	if errors.Is(err, order.ErrInvalidOrder) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	if err != nil {
		log.Error("Failed to create pending order", zap.Error(err))
		return nil, err
	}

	fields := payment.Fields{
		"mchid":        g.merchantID,
		"out_trade_no": o.TradeNo,
		"total_fee":    strconv.FormatInt(o.MinorUnits(), 10),
		"notify_url":   g.notifyURL(),
		"callback_url": g.returnURL(o.TradeNo),
		"body":         g.orderBody,
	}

	redirect := g.client.Endpoint(OpPay) + "?" + Canonicalize(g.signed(fields))

	log.Info("PayJS purchase created", zap.String("trade_no", o.TradeNo))
	return &payment.PurchaseResult{RedirectURL: redirect, TradeNo: o.TradeNo}, nil
}

// Query asks the gateway for the state of tradeNo. The response signature
// is checked and reported, not enforced.
func (g *Gateway) Query(ctx context.Context, tradeNo string) (*payment.QueryResult, error) {
	log := logger.FromCtx(ctx).With(zap.String("trade_no", tradeNo))

	raw, err := g.client.Post(ctx, g.signed(g.orderFields(tradeNo)), OpQuery)
	if err != nil {
		return nil, err
	}

	fields, err := decodeFields(raw)
	if err != nil {
		log.Error("Failed decoding PayJS query response", zap.Error(err))
		return nil, fmt.Errorf("decode query response: %w", err)
	}

	res := &payment.QueryResult{
		ReturnCode:   atoi(fields["return_code"]),
		ReturnMsg:    fields["return_msg"],
		Status:       atoi(fields["status"]),
		OutTradeNo:   fields["out_trade_no"],
		GatewayNo:    fields["payjs_order_id"],
		PaidTime:     fields["paid_time"],
		SignVerified: g.signer.Verify(fields, fields[SignField]),
		Raw:          raw,
	}
	res.TotalFee, _ = strconv.ParseInt(fields["total_fee"], 10, 64)

	if !res.SignVerified {
		log.Warn("PayJS query response signature did not verify")
	}
	return res, nil
}

// Refund asks the gateway to refund tradeNo and hands back its raw answer.
func (g *Gateway) Refund(ctx context.Context, tradeNo string) ([]byte, error) {
	body, err := g.client.Post(ctx, g.signed(g.orderFields(tradeNo)), OpRefund)
	if err != nil {
		return body, err
	}
	logger.FromCtx(ctx).Info("PayJS refund requested", zap.String("trade_no", tradeNo))
	return body, nil
}

func (g *Gateway) orderFields(tradeNo string) payment.Fields {
	return payment.Fields{
		"mchid":          g.merchantID,
		"payjs_order_id": tradeNo,
	}
}

// decodeFields flattens a JSON object into string fields the way the gateway
// signs them: numbers keep their literal form, booleans become "1" or "",
// nested values are skipped.
func decodeFields(raw []byte) (payment.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}

	out := make(payment.Fields, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			if val {
				out[k] = "1"
			} else {
				out[k] = ""
			}
		case nil:
			out[k] = ""
		}
	}
	return out, nil
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
