package main

import (
	"fmt"
	"time"

	"companion/internal/channel"
	"companion/internal/config"
	"companion/internal/delivery"
	"companion/internal/domain"
	"companion/internal/memory"
	"companion/internal/profile"
	"companion/internal/provider"
	"companion/internal/relay"
)

// app holds the components shared by serve and the one-shot commands.
type app struct {
	cfg      *config.Config
	store    *memory.SQLiteStore
	profiles domain.ProfileProvider
	replier  *provider.Resilient
	sender   *delivery.Twilio
	pipeline *relay.Pipeline
	checkin  *relay.Checkin
}

func buildApp(cfg *config.Config) (*app, error) {
	store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}

	profiles := profile.Select(cfg.Profile.Path, logger)

	gen := provider.NewFactory(cfg, logger).Generator()
	logger.Info("generation provider", "name", gen.Name())

	replier := provider.NewResilient(provider.ResilientConfig{
		Generator:     gen,
		Timeout:       cfg.Generation.Timeout(),
		MaxRetries:    cfg.Generation.MaxRetries,
		RetryDelay:    time.Duration(cfg.Generation.RetryDelayMillis) * time.Millisecond,
		RatePerSecond: cfg.Generation.RatePerSecond,
		Burst:         cfg.Generation.Burst,
		Logger:        logger,
	})

	tw := cfg.Twilio
	sender := delivery.NewTwilio(delivery.TwilioConfig{
		AccountSID: tw.AccountSID,
		AuthToken:  tw.AuthToken,
		From:       tw.From,
		APIBase:    tw.APIBase,
		MaxRetries: tw.MaxRetries,
		BaseDelay:  time.Duration(tw.BaseDelayMillis) * time.Millisecond,
		Timeout:    time.Duration(tw.TimeoutSeconds) * time.Second,
		HTTPClient: provider.SharedHTTPClient(time.Duration(tw.TimeoutSeconds) * time.Second),
		Logger:     logger,
	})

	var verifier domain.SignatureVerifier
	switch {
	case tw.VerifySignature && tw.AuthToken != "":
		verifier = channel.NewTwilioVerifier(tw.AuthToken)
	case tw.VerifySignature:
		logger.Warn("twilio signature verification requested but no auth token is set, webhook is unauthenticated")
	default:
		logger.Warn("twilio signature verification disabled")
	}

	pipeline := relay.NewPipeline(relay.PipelineConfig{
		Store:            store,
		Replier:          replier,
		Profiles:         profiles,
		Verifier:         verifier,
		Cooldown:         cfg.Relay.Cooldown(),
		HistoryTurns:     cfg.Memory.HistoryTurns,
		FallbackGreeting: cfg.Relay.FallbackGreeting,
		InternalUserID:   cfg.Relay.InternalUserID,
		Logger:           logger,
	})

	checkin := relay.NewCheckin(relay.CheckinConfig{
		Replier:        replier,
		Profiles:       profiles,
		Sender:         sender,
		Store:          store,
		DefaultTo:      tw.DefaultTo,
		WeatherSummary: cfg.Checkin.WeatherSummary,
		Logger:         logger,
	})

	return &app{
		cfg:      cfg,
		store:    store,
		profiles: profiles,
		replier:  replier,
		sender:   sender,
		pipeline: pipeline,
		checkin:  checkin,
	}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
