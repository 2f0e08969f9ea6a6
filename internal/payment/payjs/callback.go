package payjs

import (
	"context"
	"errors"
	"strconv"

	"payjs-be/internal/logger"
	"payjs-be/internal/order"
	"payjs-be/internal/payment"

	"go.uber.org/zap"
)

const returnCodeSuccess = "1"

// HandleNotify processes the gateway's asynchronous notification and returns
// the acknowledgement to write back. It never returns anything outside the
// ack vocabulary.
func (g *Gateway) HandleNotify(ctx context.Context, body payment.Fields) string {
	tradeNo := body["out_trade_no"]
	log := logger.FromCtx(ctx).With(zap.String("trade_no", tradeNo))

	if body["return_code"] != returnCodeSuccess {
		log.Warn("PayJS reported a non-successful payment", zap.String("return_code", body["return_code"]))
		return payment.AckNotSuccessful
	}

	if err := g.verifyCallback(body); err != nil {
		log.Warn("PayJS notification signature mismatch")
		return payment.AckBadSignature
	}

	o, err := g.orders.FindByTradeNo(ctx, tradeNo)
	if errors.Is(err, order.ErrOrderNotFound) {
		log.Warn("PayJS notification for unknown order")
		return payment.AckError
	}
	if err != nil {
		log.Error("Failed to load order", zap.Error(err))
		return payment.AckError
	}
	if o.IsPaid() {
		log.Info("Duplicate PayJS notification")
		return payment.AckError
	}

	if fee, ok := body["total_fee"]; ok && fee != "" {
		if n, err := strconv.ParseInt(fee, 10, 64); err != nil || n != o.MinorUnits() {
			log.Error("PayJS notification amount mismatch",
				zap.String("total_fee", fee),
				zap.Int64("expected", o.MinorUnits()),
			)
			return payment.AckError
		}
	}

	tr, err := g.orders.MarkPaidIfPending(ctx, tradeNo)
	if err != nil {
		log.Error("Failed to mark order paid", zap.Error(err))
		return payment.AckError
	}
	if tr.AlreadyPaid {
		log.Info("Order paid by a concurrent delivery")
		return payment.AckError
	}

	return payment.AckSuccess
}

// HandleReturn resolves the payer's browser return. A paid order renders as
// success without looking at body; otherwise the signed return parameters
// are verified and applied like a notification.
func (g *Gateway) HandleReturn(ctx context.Context, tradeNo string, body payment.Fields) (*payment.ReturnResult, error) {
	log := logger.FromCtx(ctx).With(zap.String("trade_no", tradeNo))

	o, err := g.orders.FindByTradeNo(ctx, tradeNo)
	if err != nil {
		return nil, err
	}
	if o.IsPaid() {
		return &payment.ReturnResult{Amount: o.Total, Success: true}, nil
	}

	signed := body.Clone()
	delete(signed, payment.ReturnTradeNoParam)
	if err := g.verifyCallback(signed); err != nil || signed["out_trade_no"] != tradeNo {
		log.Warn("PayJS return could not be verified")
		return &payment.ReturnResult{Amount: o.Total, Success: false}, nil
	}

	if _, err := g.orders.MarkPaidIfPending(ctx, tradeNo); err != nil {
		log.Error("Failed to mark order paid", zap.Error(err))
		return nil, err
	}
	return &payment.ReturnResult{Amount: o.Total, Success: true}, nil
}

// Status is the read-only projection polled by the purchase page.
func (g *Gateway) Status(ctx context.Context, tradeNo string) (*payment.StatusResult, error) {
	o, err := g.orders.FindByTradeNo(ctx, tradeNo)
	if errors.Is(err, order.ErrOrderNotFound) {
		return &payment.StatusResult{Found: false}, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment.StatusResult{Found: true, Status: int(o.Status)}, nil
}

func (g *Gateway) verifyCallback(body payment.Fields) error {
	if !g.signer.Verify(body, body[SignField]) {
		return ErrSignatureMismatch
	}
	return nil
}
