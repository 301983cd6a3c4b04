// Package delivery sends proactive messages through the Twilio WhatsApp API.
package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"companion/internal/domain"
)

const DefaultAPIBase = "https://api.twilio.com"

var ErrNotConfigured = errors.New("twilio credentials not configured")

// StatusError is a non-2xx answer from the Twilio API.
type StatusError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("twilio API %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("twilio API %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	APIBase    string // default DefaultAPIBase

	MaxRetries int           // additional attempts after the first
	BaseDelay  time.Duration // doubles after each retry, default 1s
	Timeout    time.Duration // per attempt, default 20s

	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Twilio implements domain.Sender.
type Twilio struct {
	sid        string
	token      string
	from       string
	apiBase    string
	maxRetries int
	baseDelay  time.Duration
	timeout    time.Duration
	client     *http.Client
	logger     *slog.Logger
}

func NewTwilio(cfg TwilioConfig) *Twilio {
	if cfg.APIBase == "" {
		cfg.APIBase = DefaultAPIBase
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Twilio{
		sid:        cfg.AccountSID,
		token:      cfg.AuthToken,
		from:       cfg.From,
		apiBase:    strings.TrimRight(cfg.APIBase, "/"),
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		timeout:    cfg.Timeout,
		client:     cfg.HTTPClient,
		logger:     cfg.Logger,
	}
}

func (t *Twilio) Configured() bool {
	return t.sid != "" && t.token != ""
}

// Send posts body to to, retrying 429, 5xx and transport failures with a
// doubling delay. The outcome is always a DeliveryResult.
func (t *Twilio) Send(ctx context.Context, to, body string) domain.DeliveryResult {
	if !t.Configured() {
		return domain.DeliveryResult{Status: domain.DeliveryError, Err: ErrNotConfigured}
	}

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.apiBase, url.PathEscape(t.sid))
	form := url.Values{
		"From": {t.from},
		"To":   {WhatsAppAddress(to)},
		"Body": {body},
	}

	var (
		res     domain.DeliveryResult
		lastErr error
	)
	delay := t.baseDelay

loop:
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			t.logger.Warn("retrying twilio send", "attempt", attempt+1, "backoff", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break loop
			case <-time.After(delay):
			}
			delay *= 2
		}

		res.Attempts++
		msg, err := t.post(ctx, endpoint, form)
		if err == nil {
			res.Status = domain.DeliverySent
			res.StatusCode = msg.statusCode
			res.MessageSID = msg.SID
			res.ProviderStatus = msg.Status
			return res
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) {
			res.StatusCode = se.StatusCode
			if !se.Retryable() {
				res.Status = domain.DeliveryError
				res.Err = err
				return res
			}
		} else {
			res.StatusCode = 0
		}
	}

	res.Status = domain.DeliveryError
	res.Err = fmt.Errorf("twilio send failed after %d attempts: %w", res.Attempts, lastErr)
	return res
}

type messageResponse struct {
	SID     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`

	statusCode int
}

func (t *Twilio) post(ctx context.Context, endpoint string, form url.Values) (*messageResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(t.sid, t.token)

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var msg messageResponse
	_ = json.Unmarshal(raw, &msg)
	msg.statusCode = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := msg.Message
		if text == "" {
			text = truncate(strings.TrimSpace(string(raw)), 200)
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Code: msg.Code, Message: text}
	}
	return &msg, nil
}

// WhatsAppAddress adds the whatsapp: scheme Twilio expects on WhatsApp numbers.
func WhatsAppAddress(to string) string {
	to = strings.TrimSpace(to)
	if to == "" || strings.HasPrefix(to, "whatsapp:") {
		return to
	}
	return "whatsapp:" + to
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
