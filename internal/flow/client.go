package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	HTTP      *http.Client
	Log       zerolog.Logger
}

// Client talks to the payment gateway's REST API.
type Client struct {
	BaseURL   string
	APIKey    string
	SecretKey string
	HTTP      *http.Client
	Log       zerolog.Logger
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("flow config incomplete")
	}
	hc := cfg.HTTP
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		BaseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		APIKey:    cfg.APIKey,
		SecretKey: cfg.SecretKey,
		HTTP:      hc,
		Log:       cfg.Log,
	}, nil
}

// GatewayError is returned for any failed gateway call. Message holds the
// gateway's own explanation when one was sent.
type GatewayError struct {
	Op         string
	HTTPStatus int
	Code       int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	var sb strings.Builder
	sb.WriteString("flow ")
	sb.WriteString(e.Op)
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&sb, " (http %d)", e.HTTPStatus)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *GatewayError) Unwrap() error { return e.Err }

type LineItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Amount   int64  `json:"amount"`
}

type CreateOrderRequest struct {
	MerchantOrderID string
	Subject         string
	Currency        string
	Amount          int64
	PayerEmail      string
	ReturnURL       string
	ConfirmationURL string
	PaymentMethod   int
	LineItems       []LineItem
}

type CreateOrderResult struct {
	Token           string
	RedirectURL     string
	GatewayOrderRef string
}

type createResp struct {
	Token     string      `json:"token"`
	URL       string      `json:"url"`
	FlowOrder json.Number `json:"flowOrder"`
	Status    *int        `json:"status"`
	Code      int         `json:"code"`
	Message   string      `json:"message"`
}

func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	const op = "payment/create"
	if err := validateCreate(req); err != nil {
		return nil, &GatewayError{Op: op, Message: err.Error()}
	}

	p := Params{}
	p.Set("apiKey", c.APIKey)
	p.Set("commerceOrder", req.MerchantOrderID)
	p.Set("subject", req.Subject)
	p.Set("currency", req.Currency)
	p.Set("amount", req.Amount)
	p.Set("email", req.PayerEmail)
	p.Set("urlReturn", req.ReturnURL)
	if req.ConfirmationURL != "" {
		p.Set("urlConfirmation", req.ConfirmationURL)
	}
	if req.PaymentMethod != 0 {
		p.Set("paymentMethod", req.PaymentMethod)
	}
	if len(req.LineItems) > 0 {
		raw, err := json.Marshal(map[string]any{"items": req.LineItems})
		if err != nil {
			return nil, &GatewayError{Op: op, Err: err}
		}
		p.Set("optional", string(raw))
	}

	body := p.Values(c.SecretKey, ModeHMAC).Encode()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/payment/create", strings.NewReader(body))
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var out createResp
	if err := c.do(httpReq, op, &out); err != nil {
		return nil, err
	}
	if out.Status != nil && *out.Status == 0 {
		return nil, &GatewayError{Op: op, Code: out.Code, Message: out.Message}
	}
	if strings.TrimSpace(out.Token) == "" || strings.TrimSpace(out.URL) == "" {
		msg := out.Message
		if msg == "" {
			msg = "missing token in response"
		}
		return nil, &GatewayError{Op: op, Code: out.Code, Message: msg}
	}

	c.Log.Debug().Str("commerce_order", req.MerchantOrderID).Str("flow_order", out.FlowOrder.String()).Msg("gateway order created")
	return &CreateOrderResult{
		Token:           out.Token,
		RedirectURL:     out.URL + "?token=" + out.Token,
		GatewayOrderRef: out.FlowOrder.String(),
	}, nil
}

func (c *Client) GetStatus(ctx context.Context, token string) (*PaymentStatus, error) {
	if strings.TrimSpace(token) == "" {
		return nil, &GatewayError{Op: "payment/getStatus", Message: "token required"}
	}
	p := Params{}
	p.Set("apiKey", c.APIKey)
	p.Set("token", token)
	return c.status(ctx, "payment/getStatus", p)
}

func (c *Client) GetStatusByCommerceID(ctx context.Context, merchantOrderID string) (*PaymentStatus, error) {
	if strings.TrimSpace(merchantOrderID) == "" {
		return nil, &GatewayError{Op: "payment/getStatusByCommerceId", Message: "commerce id required"}
	}
	p := Params{}
	p.Set("apiKey", c.APIKey)
	p.Set("commerceId", merchantOrderID)
	return c.status(ctx, "payment/getStatusByCommerceId", p)
}

func (c *Client) status(ctx context.Context, op string, p Params) (*PaymentStatus, error) {
	u := c.BaseURL + "/" + op + "?" + p.Values(c.SecretKey, ModeDigest).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	var out statusResp
	if err := c.do(req, op, &out); err != nil {
		return nil, err
	}
	if out.Code != 0 && out.CommerceOrder == "" {
		return nil, &GatewayError{Op: op, Code: out.Code, Message: out.Message}
	}
	st, err := out.toStatus()
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	return st, nil
}

type errorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *Client) do(req *http.Request, op string, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &GatewayError{Op: op, HTTPStatus: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		_ = json.Unmarshal(body, &eb)
		msg := eb.Message
		if msg == "" {
			msg = strings.TrimSpace(string(body))
		}
		return &GatewayError{Op: op, HTTPStatus: resp.StatusCode, Code: eb.Code, Message: msg}
	}
	dec := json.NewDecoder(strings.NewReader(string(body)))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return &GatewayError{Op: op, HTTPStatus: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func validateCreate(req CreateOrderRequest) error {
	switch {
	case strings.TrimSpace(req.MerchantOrderID) == "":
		return fmt.Errorf("commerce order required")
	case strings.TrimSpace(req.Subject) == "":
		return fmt.Errorf("subject required")
	case req.Amount <= 0:
		return fmt.Errorf("amount must be a positive integer, got %d", req.Amount)
	case req.Currency != "CLP" && req.Currency != "USD":
		return fmt.Errorf("unsupported currency %q", req.Currency)
	case strings.TrimSpace(req.PayerEmail) == "":
		return fmt.Errorf("payer email required")
	case strings.TrimSpace(req.ReturnURL) == "":
		return fmt.Errorf("return url required")
	}
	return nil
}
