// Package relay turns inbound chat events into deduplicated, rate-limited,
// context-aware replies.
package relay

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"companion/internal/domain"
	"companion/internal/memory"
	"companion/internal/metrics"
	"companion/internal/profile"
	"companion/internal/provider"
)

// OutcomeKind is how a pipeline run ended.
type OutcomeKind string

const (
	OutcomeReplied   OutcomeKind = "replied"
	OutcomeDuplicate OutcomeKind = "duplicate"
	OutcomeThrottled OutcomeKind = "throttled"
	OutcomeRejected  OutcomeKind = "rejected"
)

const (
	DefaultFallbackGreeting = "Salut"
	DefaultPlaceholder      = "Je m'occupe de ton message, un instant… ⏳"
	DefaultInternalUserID   = "internal"
)

// Outcome is the result of one pipeline run. Reply is empty for duplicate
// and rejected outcomes.
type Outcome struct {
	Kind       OutcomeKind
	TurnID     string
	UserID     string
	Text       string // inbound text after defaulting
	Reply      string
	Generation domain.GenerationResult // set only for OutcomeReplied
}

// Replier produces a reply and never fails. provider.Resilient implements it.
type Replier interface {
	Reply(ctx context.Context, req domain.GenerateRequest) domain.GenerationResult
}

type PipelineConfig struct {
	Store    domain.MessageStore
	Replier  Replier
	Profiles domain.ProfileProvider   // nil means the built-in default profile
	Verifier domain.SignatureVerifier // nil disables signature checks

	Limiter  *RateLimiter // shared limiter; built from Cooldown when nil
	Cooldown time.Duration

	HistoryTurns     int
	FallbackGreeting string
	Placeholder      string
	InternalUserID   string

	Now    func() time.Time
	Logger *slog.Logger
}

// Pipeline is the per-process reply orchestrator. It is safe for concurrent use.
type Pipeline struct {
	store    domain.MessageStore
	replier  Replier
	profiles domain.ProfileProvider
	verifier domain.SignatureVerifier
	dedup    *DedupGuard
	history  *memory.History
	limiter  *RateLimiter

	greeting       string
	placeholder    string
	internalUserID string

	now    func() time.Time
	logger *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Profiles == nil {
		cfg.Profiles = profile.DefaultFallback{}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewRateLimiter(cfg.Cooldown)
	}
	if cfg.FallbackGreeting == "" {
		cfg.FallbackGreeting = DefaultFallbackGreeting
	}
	if cfg.Placeholder == "" {
		cfg.Placeholder = DefaultPlaceholder
	}
	if cfg.InternalUserID == "" {
		cfg.InternalUserID = DefaultInternalUserID
	}
	return &Pipeline{
		store:          cfg.Store,
		replier:        cfg.Replier,
		profiles:       cfg.Profiles,
		verifier:       cfg.Verifier,
		dedup:          NewDedupGuard(cfg.Store),
		history:        memory.NewHistory(cfg.Store, cfg.HistoryTurns),
		limiter:        cfg.Limiter,
		greeting:       cfg.FallbackGreeting,
		placeholder:    cfg.Placeholder,
		internalUserID: cfg.InternalUserID,
		now:            cfg.Now,
		logger:         cfg.Logger,
	}
}

func (p *Pipeline) Limiter() *RateLimiter { return p.limiter }

// Direct runs text through the pipeline as the fixed internal user. There is
// no delivery id, so dedup never applies.
func (p *Pipeline) Direct(ctx context.Context, text string) Outcome {
	return p.Handle(ctx, domain.InboundEvent{
		Channel: domain.ChannelInternal,
		Sender:  p.internalUserID,
		Text:    text,
	})
}

// Handle runs one inbound event through verify, dedup, record, rate check,
// history, generation and record. Only verification can reject; every other
// failure degrades the turn instead of aborting it.
func (p *Pipeline) Handle(ctx context.Context, ev domain.InboundEvent) Outcome {
	turnID := uuid.NewString()
	channel := ev.Channel
	if channel == "" {
		channel = domain.ChannelWhatsApp
	}
	log := p.logger.With("turn", turnID, "channel", channel)
	metrics.InboundTotal.Inc()

	if channel != domain.ChannelInternal && p.verifier != nil {
		if !p.verifier.Verify(ev.URL, ev.Params, ev.Signature) {
			log.Warn("inbound signature rejected", "url", ev.URL)
			metrics.RejectedTotal.Inc()
			return Outcome{Kind: OutcomeRejected, TurnID: turnID}
		}
	}

	// Once accepted, the turn runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	userID := domain.NormalizeUserID(ev.Sender)
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		text = p.greeting
	}
	out := Outcome{TurnID: turnID, UserID: userID, Text: text}
	log = log.With("user", userID)

	if ev.DeliveryID != "" {
		seen, err := p.dedup.Seen(ctx, ev.DeliveryID)
		switch {
		case err != nil:
			// The unique index still rejects the second insert below.
			p.storageFault(log, "has_delivery", err)
		case seen:
			return p.duplicate(log, out, ev.DeliveryID)
		}
	}

	inserted, err := p.store.Append(ctx, domain.Message{
		UserID:     userID,
		Channel:    channel,
		Direction:  domain.DirectionIn,
		DeliveryID: ev.DeliveryID,
		Text:       text,
	})
	switch {
	case err != nil:
		p.storageFault(log, "append_in", err)
	case !inserted && ev.DeliveryID != "":
		// A concurrent redelivery stored the same id first.
		return p.duplicate(log, out, ev.DeliveryID)
	}

	if !p.limiter.Admit(userID, p.now()) {
		log.Info("user in cooldown, sending placeholder")
		metrics.ThrottledTotal.Inc()
		p.recordOut(ctx, log, userID, channel, p.placeholder)
		out.Kind = OutcomeThrottled
		out.Reply = p.placeholder
		return out
	}
	metrics.RateEntries.Set(int64(p.limiter.Len()))

	history, err := p.history.Window(ctx, userID)
	if err != nil {
		p.storageFault(log, "recent", err)
	}
	history = dropCurrent(history, text)

	prof := p.profiles.Current()
	res := p.generate(ctx, domain.GenerateRequest{Text: text, History: history, Profile: prof})
	metrics.RepliesTotal.Inc()
	metrics.GenerationLatency.Observe(res.Latency.Seconds())
	if res.Fallback() {
		metrics.FallbacksTotal.Inc()
		log.Warn("reply generation fell back", "attempts", res.Attempts, "error", res.Err)
	} else {
		log.Info("reply generated", "attempts", res.Attempts, "latency", res.Latency, "history", len(history))
	}

	p.recordOut(ctx, log, userID, channel, res.Text)

	out.Kind = OutcomeReplied
	out.Reply = res.Text
	out.Generation = res
	return out
}

func (p *Pipeline) generate(ctx context.Context, req domain.GenerateRequest) domain.GenerationResult {
	var res domain.GenerationResult
	if p.replier != nil {
		res = p.replier.Reply(ctx, req)
	}
	if strings.TrimSpace(res.Text) == "" {
		res.Text = provider.FallbackReply(req.Profile)
		res.Source = domain.SourceFallback
	}
	return res
}

func (p *Pipeline) duplicate(log *slog.Logger, out Outcome, deliveryID string) Outcome {
	log.Info("duplicate delivery acknowledged", "delivery_id", deliveryID)
	metrics.DuplicatesTotal.Inc()
	out.Kind = OutcomeDuplicate
	return out
}

func (p *Pipeline) recordOut(ctx context.Context, log *slog.Logger, userID, channel, text string) {
	_, err := p.store.Append(ctx, domain.Message{
		UserID:    userID,
		Channel:   channel,
		Direction: domain.DirectionOut,
		Text:      text,
	})
	if err != nil {
		p.storageFault(log, "append_out", err)
	}
}

func (p *Pipeline) storageFault(log *slog.Logger, op string, err error) {
	metrics.StorageFaults.Inc()
	log.Error("message store failure", "op", op, "err", err)
}

// dropCurrent removes the inbound turn just recorded so the user text is not
// sent to generation twice.
func dropCurrent(history []domain.Turn, text string) []domain.Turn {
	if n := len(history); n > 0 {
		last := history[n-1]
		if last.Direction == domain.DirectionIn && last.Text == text {
			return history[:n-1]
		}
	}
	return history
}
