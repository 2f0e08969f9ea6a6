// Package payjs integrates the PAYJS cashier: signed purchase redirects,
// order query and refund calls, and the notify/return callbacks.
package payjs

import (
	"errors"

	"payjs-be/internal/config"
	"payjs-be/internal/order"
	"payjs-be/internal/payment"
)

const Name = "payjs"

var (
	ErrInvalidAmount     = payment.ErrInvalidAmount
	ErrSignatureMismatch = errors.New("payjs signature mismatch")
)

// Gateway is the PAYJS implementation of payment.Gateway.
type Gateway struct {
	merchantID string
	orderBody  string
	appBaseURL string

	signer *Signer
	client *Client
	orders order.Store
}

var _ payment.Gateway = (*Gateway)(nil)

func New(cfg config.PayJSConfig, appBaseURL string, orders order.Store) *Gateway {
	return &Gateway{
		merchantID: cfg.MerchantID,
		orderBody:  cfg.OrderBody,
		appBaseURL: appBaseURL,
		signer:     NewSigner(cfg.Key),
		client:     NewClient(cfg),
		orders:     orders,
	}
}

func (g *Gateway) Name() string { return Name }

func (g *Gateway) notifyURL() string {
	return g.appBaseURL + "/payment/notify/" + Name
}

func (g *Gateway) returnURL(tradeNo string) string {
	return g.appBaseURL + "/user/payment/return/" + Name + "?" + payment.ReturnTradeNoParam + "=" + tradeNo
}

// signed returns fields plus their signature.
func (g *Gateway) signed(fields payment.Fields) payment.Fields {
	out := fields.Clone()
	out[SignField] = g.signer.SignFields(fields)
	return out
}
