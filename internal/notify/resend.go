package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultResendURL = "https://api.resend.com"

// ResendClient sends confirmations through the Resend email API.
type ResendClient struct {
	APIKey  string
	From    string
	BaseURL string
	HTTP    *http.Client
	Render  *Renderer
}

func NewResendClient(apiKey, from string) *ResendClient {
	return &ResendClient{
		APIKey:  apiKey,
		From:    from,
		BaseURL: defaultResendURL,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		Render:  NewRenderer(),
	}
}

type resendEmail struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (c *ResendClient) Send(ctx context.Context, conf OrderConfirmation) error {
	if strings.TrimSpace(conf.CustomerEmail) == "" {
		return fmt.Errorf("order %s has no customer email", conf.OrderID)
	}
	subject, html, err := c.Render.Render(conf)
	if err != nil {
		return err
	}
	body, err := json.Marshal(resendEmail{From: c.From, To: []string{conf.CustomerEmail}, Subject: subject, HTML: html})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+"/emails", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("resend: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &e)
		if e.Message == "" {
			e.Message = strings.TrimSpace(string(raw))
		}
		return fmt.Errorf("resend: http %d: %s", resp.StatusCode, e.Message)
	}
	return nil
}

// LogSender is used when no email provider is configured.
type LogSender struct {
	Log    zerolog.Logger
	Render *Renderer
}

func (s *LogSender) Send(_ context.Context, conf OrderConfirmation) error {
	subject, html, err := s.Render.Render(conf)
	if err != nil {
		return err
	}
	s.Log.Info().
		Str("to", conf.CustomerEmail).
		Str("subject", subject).
		Int("html_bytes", len(html)).
		Str("order_id", conf.OrderID).
		Msg("email provider not configured, confirmation logged only")
	return nil
}
