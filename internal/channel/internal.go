package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"companion/internal/domain"
	"companion/internal/relay"
)

// Checkiner runs a proactive check-in.
type Checkiner interface {
	Run(ctx context.Context, req relay.CheckinRequest) relay.CheckinResult
}

type InternalConfig struct {
	Relay   Relay
	Checkin Checkiner
	// Token is compared against the X-Token header. When empty every call is
	// rejected.
	Token  string
	Logger *slog.Logger
}

// Internal serves the token-guarded /internal/* endpoints.
type Internal struct {
	relay   Relay
	checkin Checkiner
	token   string
	logger  *slog.Logger
}

func NewInternal(cfg InternalConfig) *Internal {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Internal{
		relay:   cfg.Relay,
		checkin: cfg.Checkin,
		token:   cfg.Token,
		logger:  cfg.Logger,
	}
}

type sendRequest struct {
	Text string `json:"text"`
}

type sendResponse struct {
	OK          bool   `json:"ok"`
	RequestText string `json:"request_text"`
	Reply       string `json:"reply"`
	Outcome     string `json:"outcome"`
}

type checkinRequest struct {
	To          string `json:"to"`
	Weather     string `json:"weather"`
	WeatherHint string `json:"weather_hint"`
}

type twilioInfo struct {
	SID        string `json:"sid,omitempty"`
	Status     string `json:"status,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Attempts   int    `json:"attempts"`
}

type checkinResponse struct {
	Status string      `json:"status"`
	Text   string      `json:"text"`
	Twilio *twilioInfo `json:"twilio,omitempty"`
	Error  string      `json:"error,omitempty"`
}

func (h *Internal) authorized(r *http.Request) bool {
	if h.token == "" {
		return false
	}
	provided := r.Header.Get("X-Token")
	return subtle.ConstantTimeCompare([]byte(provided), []byte(h.token)) == 1
}

func (h *Internal) forbid(rw http.ResponseWriter, r *http.Request) {
	h.logger.Warn("internal call rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
	writeJSON(rw, http.StatusForbidden, map[string]string{"error": "forbidden"})
}

// HandleSend runs a text through the relay as the internal user.
func (h *Internal) HandleSend(rw http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.forbid(rw, r)
		return
	}

	var req sendRequest
	body, _ := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.logger.Debug("internal send: ignoring malformed body", "err", err)
		}
	}

	out := h.relay.Direct(r.Context(), req.Text)

	if strings.EqualFold(r.URL.Query().Get("format"), "text") {
		rw.Header().Set("Content-Type", "text/plain; charset=utf-8")
		rw.WriteHeader(http.StatusOK)
		io.WriteString(rw, out.Reply)
		return
	}

	writeJSON(rw, http.StatusOK, sendResponse{
		OK:          true,
		RequestText: out.Text,
		Reply:       out.Reply,
		Outcome:     string(out.Kind),
	})
}

// HandleCheckin triggers a proactive check-in.
func (h *Internal) HandleCheckin(rw http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		h.forbid(rw, r)
		return
	}

	var req checkinRequest
	body, _ := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			h.logger.Debug("internal checkin: ignoring malformed body", "err", err)
		}
	}
	weather := req.Weather
	if weather == "" {
		weather = req.WeatherHint
	}

	res := h.checkin.Run(r.Context(), relay.CheckinRequest{To: req.To, Weather: weather})

	resp := checkinResponse{Status: string(res.Delivery.Status), Text: res.Text}
	status := http.StatusOK
	switch res.Delivery.Status {
	case domain.DeliverySent:
		resp.Twilio = &twilioInfo{
			SID:        res.Delivery.MessageSID,
			Status:     res.Delivery.ProviderStatus,
			StatusCode: res.Delivery.StatusCode,
			Attempts:   res.Delivery.Attempts,
		}
	case domain.DeliveryError:
		status = http.StatusBadGateway
		if res.Delivery.Err != nil {
			resp.Error = truncate(res.Delivery.Err.Error(), 200)
		}
		resp.Twilio = &twilioInfo{StatusCode: res.Delivery.StatusCode, Attempts: res.Delivery.Attempts}
	}
	writeJSON(rw, status, resp)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	json.NewEncoder(rw).Encode(v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
