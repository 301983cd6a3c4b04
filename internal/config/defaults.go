package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Memory: MemoryConfig{
			DBPath:       "local.db",
			HistoryTurns: 16,
		},
		Relay: RelayConfig{
			CooldownSeconds:  1.5,
			FallbackGreeting: "Salut",
			InternalUserID:   "internal",
			PruneAfterHours:  24,
		},
		Generation: GenerationConfig{
			DefaultProvider:  "openai",
			TimeoutSeconds:   10,
			MaxRetries:       1,
			RetryDelayMillis: 500,
			RatePerSecond:    5,
			Burst:            10,
			Temperature:      0.7,
		},
		Providers: map[string]ProviderConfig{
			"openai": {
				Enabled:      true,
				APIBase:      "https://api.openai.com/v1",
				DefaultModel: "gpt-4o-mini",
			},
		},
		Twilio: TwilioConfig{
			From:            "whatsapp:+14155238886",
			VerifySignature: true,
			WebhookPath:     "/whatsapp/webhook",
			MaxRetries:      2,
			BaseDelayMillis: 1000,
			TimeoutSeconds:  20,
		},
		Profile: ProfileConfig{
			Path: "profile.json",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
