package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"companion/internal/channel"
	"companion/internal/metrics"
	"companion/internal/profile"
	"companion/internal/relay"
)

const pruneInterval = time.Hour

func serveCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook and internal HTTP endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if !a.sender.Configured() {
				logger.Warn("twilio credentials missing, check-ins will be dry-runs")
			}
			if cfg.Internal.Token == "" {
				logger.Warn("internal token not set, /internal endpoints reject every call")
			}

			srv := newServer(a)
			sched, err := newScheduler(a)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Start(gctx)
			})
			g.Go(func() error {
				pruneLoop(gctx, a.pipeline.Limiter(), time.Duration(cfg.Relay.PruneAfterHours)*time.Hour)
				return nil
			})
			if sched != nil {
				g.Go(func() error {
					sched.Start(gctx)
					return nil
				})
			}
			if fb, ok := a.profiles.(*profile.FileBacked); ok {
				g.Go(func() error {
					if err := fb.Watch(gctx); err != nil {
						logger.Warn("profile watch stopped, reading the file on each use", "error", err)
					}
					return nil
				})
			}

			if err := g.Wait(); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

// newServer mounts the webhook, the internal endpoints and, when enabled, the
// metrics endpoint.
func newServer(a *app) *channel.Server {
	cfg := a.cfg
	srvCfg := channel.ServerConfig{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		WebhookPath: cfg.Twilio.WebhookPath,
		WhatsApp: channel.NewWhatsAppWebhook(channel.WhatsAppWebhookConfig{
			Relay:         a.pipeline,
			PublicBaseURL: cfg.Server.PublicBaseURL,
			Logger:        logger,
		}),
		Internal: channel.NewInternal(channel.InternalConfig{
			Relay:   a.pipeline,
			Checkin: a.checkin,
			Token:   cfg.Internal.Token,
			Logger:  logger,
		}),
		Logger: logger,
	}
	if cfg.Metrics.Enabled {
		srvCfg.MetricsPath = cfg.Metrics.Endpoint
		srvCfg.Metrics = metrics.Default.Handler()
	}
	return channel.NewServer(srvCfg)
}

// newScheduler returns nil when no check-in schedule is configured.
func newScheduler(a *app) (*relay.Scheduler, error) {
	if a.cfg.Checkin.Schedule == "" {
		return nil, nil
	}
	return relay.NewScheduler(relay.SchedulerConfig{
		Checkin:  a.checkin,
		Profiles: a.profiles,
		Expr:     a.cfg.Checkin.Schedule,
		Logger:   logger,
	})
}

// pruneLoop drops cooldown entries idle for longer than maxIdle until ctx is
// done. A non-positive maxIdle disables pruning.
func pruneLoop(ctx context.Context, limiter *relay.RateLimiter, maxIdle time.Duration) {
	if maxIdle <= 0 {
		return
	}
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := limiter.Prune(now.Add(-maxIdle)); n > 0 {
				logger.Debug("pruned idle users", "count", n)
			}
			metrics.RateEntries.Set(int64(limiter.Len()))
		}
	}
}
