package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"companion/internal/domain"
	"companion/internal/metrics"
	"companion/internal/profile"
)

// CheckinConfig configures the proactive morning message.
type CheckinConfig struct {
	Replier  Replier
	Profiles domain.ProfileProvider
	Sender   domain.Sender        // nil means always dry-run
	Store    domain.MessageStore // optional; sent check-ins are recorded as OUT

	DefaultTo      string
	WeatherSummary string

	Now    func() time.Time
	Logger *slog.Logger
}

type CheckinRequest struct {
	To      string `json:"to,omitempty"`
	Weather string `json:"weather,omitempty"`
}

type CheckinResult struct {
	To         string
	Text       string
	Delivery   domain.DeliveryResult
	Generation domain.GenerationResult
}

// Checkin composes a short check-in and sends it when a destination and
// channel credentials are available, otherwise it reports a dry-run.
type Checkin struct {
	cfg CheckinConfig
}

func NewCheckin(cfg CheckinConfig) *Checkin {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Profiles == nil {
		cfg.Profiles = profile.DefaultFallback{}
	}
	return &Checkin{cfg: cfg}
}

// CheckinPrompt is the instruction sent to generation for a check-in.
func CheckinPrompt(weather string, now time.Time) string {
	var sb strings.Builder
	sb.WriteString("Fais un check-in du matin (bref). Format: bonjour bref + météo (si fournie) + 1–2 priorités + 1 conseil.")
	if weather = strings.TrimSpace(weather); weather != "" {
		fmt.Fprintf(&sb, " Météo: %s.", weather)
	}
	fmt.Fprintf(&sb, " Date/heure: %s. Utilise mes intérêts si utile.", now.Format("Monday 02 January, 15:04"))
	return sb.String()
}

// CheckinFallbackText is sent when generation yields nothing.
const CheckinFallbackText = "Bonjour ! Voici un petit check-in. (fallback)"

func (c *Checkin) Run(ctx context.Context, req CheckinRequest) CheckinResult {
	to := strings.TrimSpace(req.To)
	if to == "" {
		to = c.cfg.DefaultTo
	}
	weather := req.Weather
	if weather == "" {
		weather = c.cfg.WeatherSummary
	}

	prof := c.cfg.Profiles.Current()
	gen := domain.GenerationResult{}
	if c.cfg.Replier != nil {
		gen = c.cfg.Replier.Reply(ctx, domain.GenerateRequest{
			Text:    CheckinPrompt(weather, c.cfg.Now()),
			Profile: prof,
		})
	}
	if strings.TrimSpace(gen.Text) == "" {
		gen.Text = CheckinFallbackText
		gen.Source = domain.SourceFallback
	}
	res := CheckinResult{To: to, Text: gen.Text, Generation: gen}

	if c.cfg.Sender == nil || !c.cfg.Sender.Configured() || to == "" {
		c.cfg.Logger.Info("check-in dry-run", "to_set", to != "", "sender_configured", c.cfg.Sender != nil && c.cfg.Sender.Configured())
		res.Delivery = domain.DeliveryResult{Status: domain.DeliveryDryRun}
		metrics.Delivery(string(domain.DeliveryDryRun)).Inc()
		return res
	}

	res.Delivery = c.cfg.Sender.Send(ctx, to, gen.Text)
	metrics.Delivery(string(res.Delivery.Status)).Inc()

	if res.Delivery.Status != domain.DeliverySent {
		c.cfg.Logger.Warn("check-in delivery failed",
			"to", to,
			"attempts", res.Delivery.Attempts,
			"status_code", res.Delivery.StatusCode,
			"error", res.Delivery.Err,
		)
		return res
	}

	c.cfg.Logger.Info("check-in sent", "to", to, "sid", res.Delivery.MessageSID, "attempts", res.Delivery.Attempts)
	if c.cfg.Store != nil {
		_, err := c.cfg.Store.Append(ctx, domain.Message{
			UserID:    domain.NormalizeUserID(to),
			Channel:   domain.ChannelWhatsApp,
			Direction: domain.DirectionOut,
			Text:      gen.Text,
		})
		if err != nil {
			metrics.StorageFaults.Inc()
			c.cfg.Logger.Error("message store failure", "op", "append_checkin", "err", err)
		}
	}
	return res
}
