package payjs

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"payjs-be/internal/config"
	"payjs-be/internal/logger"
	"payjs-be/internal/payment"

	"go.uber.org/zap"
)

var ErrTransport = errors.New("payjs transport failure")

// Operation selects the gateway endpoint a request is posted to.
type Operation int

const (
	OpPay Operation = iota
	OpRefund
	OpQuery
)

func (op Operation) String() string {
	switch op {
	case OpPay:
		return "cashier"
	case OpRefund:
		return "refund"
	case OpQuery:
		return "check"
	default:
		return "unknown"
	}
}

// Client posts signed form requests to the gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(cfg config.PayJSConfig) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		logger.L().Warn("PayJS TLS certificate validation is disabled",
			zap.String("base_url", cfg.BaseURL))
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

func (c *Client) Endpoint(op Operation) string {
	return c.baseURL + "/" + op.String()
}

// Post sends fields form-encoded to the endpoint for op and returns the raw
// response body. Fields are sent as given; callers sign them first.
func (c *Client) Post(ctx context.Context, fields payment.Fields, op Operation) ([]byte, error) {
	endpoint := c.Endpoint(op)
	log := logger.FromCtx(ctx).With(zap.String("endpoint", endpoint))

	form := make(url.Values, len(fields))
	for k, v := range fields {
		form.Set(k, v)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		log.Error("Failed creating request", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error("PayJS request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("Failed to read response body", zap.Error(err))
		return nil, fmt.Errorf("%w: read response: %v", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Error("PayJS returned non-success status",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("response", body),
		)
		return body, fmt.Errorf("%w: status %d", ErrTransport, resp.StatusCode)
	}

	return body, nil
}
