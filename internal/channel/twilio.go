package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"companion/internal/domain"
	"companion/internal/relay"
)

const (
	maxBodySize = 1 << 20 // 1MB

	twimlHeader = `<?xml version="1.0" encoding="UTF-8"?>`
	twimlEmpty  = twimlHeader + `<Response></Response>`
)

// Relay is the part of relay.Pipeline the HTTP handlers need.
type Relay interface {
	Handle(ctx context.Context, ev domain.InboundEvent) relay.Outcome
	Direct(ctx context.Context, text string) relay.Outcome
}

// TwiML wraps reply in a messaging response. An empty reply yields the empty
// acknowledgment.
func TwiML(reply string) string {
	if reply == "" {
		return twimlEmpty
	}
	return twimlHeader + "<Response><Message>" + html.EscapeString(reply) + "</Message></Response>"
}

// TwilioVerifier checks X-Twilio-Signature headers.
type TwilioVerifier struct {
	authToken string
}

func NewTwilioVerifier(authToken string) *TwilioVerifier {
	return &TwilioVerifier{authToken: authToken}
}

func (v *TwilioVerifier) Verify(rawURL string, params map[string]string, signature string) bool {
	if v.authToken == "" || signature == "" {
		return false
	}
	expected := TwilioSignature(v.authToken, rawURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// TwilioSignature is base64(HMAC-SHA1(token, url + sorted key/value pairs)).
func TwilioSignature(authToken, rawURL string, params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(rawURL)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(params[k])
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(sb.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type WhatsAppWebhookConfig struct {
	Relay Relay
	// PublicBaseURL replaces scheme and host when rebuilding the signed URL
	// behind a proxy.
	PublicBaseURL string
	Logger        *slog.Logger
}

// WhatsAppWebhook receives Twilio WhatsApp deliveries and answers in TwiML.
type WhatsAppWebhook struct {
	relay   Relay
	baseURL string
	logger  *slog.Logger
}

func NewWhatsAppWebhook(cfg WhatsAppWebhookConfig) *WhatsAppWebhook {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WhatsAppWebhook{
		relay:   cfg.Relay,
		baseURL: strings.TrimRight(cfg.PublicBaseURL, "/"),
		logger:  cfg.Logger,
	}
}

func (w *WhatsAppWebhook) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	params, err := parseParams(r.Header.Get("Content-Type"), body)
	if err != nil {
		w.logger.Warn("whatsapp bad payload", "err", err)
		params = map[string]string{}
	}

	text := params["Body"]
	if text == "" {
		text = params["text"]
	}
	deliveryID := params["MessageSid"]
	if deliveryID == "" {
		deliveryID = params["SmsMessageSid"]
	}

	out := w.relay.Handle(r.Context(), domain.InboundEvent{
		Channel:    domain.ChannelWhatsApp,
		Sender:     params["From"],
		Text:       text,
		DeliveryID: deliveryID,
		Signature:  r.Header.Get("X-Twilio-Signature"),
		URL:        w.requestURL(r),
		Params:     params,
	})

	rw.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if out.Kind == relay.OutcomeRejected {
		rw.WriteHeader(http.StatusForbidden)
		fmt.Fprint(rw, twimlEmpty)
		return
	}
	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, TwiML(out.Reply))
}

// requestURL rebuilds the URL Twilio signed.
func (w *WhatsAppWebhook) requestURL(r *http.Request) string {
	if w.baseURL != "" {
		return w.baseURL + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p != "" {
		scheme = strings.TrimSpace(strings.Split(p, ",")[0])
	}
	host := r.Host
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		host = strings.TrimSpace(strings.Split(h, ",")[0])
	}
	return scheme + "://" + host + r.URL.RequestURI()
}

// parseParams accepts Twilio's form encoding and a flat JSON object.
func parseParams(contentType string, body []byte) (map[string]string, error) {
	params := make(map[string]string)
	if len(body) == 0 {
		return params, nil
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/json" {
		var raw map[string]any
		if err := json.Unmarshal(body, &raw); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		for k, v := range raw {
			switch val := v.(type) {
			case string:
				params[k] = val
			case nil:
			default:
				params[k] = fmt.Sprint(val)
			}
		}
		return params, nil
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("decode form: %w", err)
	}
	for k := range values {
		params[k] = values.Get(k)
	}
	return params, nil
}
