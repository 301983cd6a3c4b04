package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"companion/internal/domain"
	"companion/internal/relay"
)

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send [text...]",
		Short: "Run a message through the relay as the internal user and print the reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := a.pipeline.Direct(ctx, strings.Join(args, " "))
			if out.Kind == relay.OutcomeThrottled {
				logger.Info("cooldown active, placeholder returned")
			}
			if out.Generation.Fallback() {
				logger.Warn("generation failed, fallback reply used", "err", out.Generation.Err)
			}
			fmt.Println(out.Reply)
			return nil
		},
	}
}

func checkinCmd() *cobra.Command {
	var req relay.CheckinRequest
	cmd := &cobra.Command{
		Use:   "checkin",
		Short: "Compose a morning check-in and send it over WhatsApp",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res := a.checkin.Run(ctx, req)
			fmt.Printf("status: %s\n", res.Delivery.Status)
			if res.Delivery.MessageSID != "" {
				fmt.Printf("sid:    %s\n", res.Delivery.MessageSID)
			}
			fmt.Println()
			fmt.Println(res.Text)

			if res.Delivery.Status == domain.DeliveryError {
				return fmt.Errorf("delivery to %s failed after %d attempt(s): %w", res.To, res.Delivery.Attempts, res.Delivery.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.To, "to", "", "destination number (default: twilio.defaultTo)")
	cmd.Flags().StringVar(&req.Weather, "weather", "", "weather summary to mention (default: checkin.weatherSummary)")
	return cmd
}

func historyCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <user_id>",
		Short: "Print the stored conversation of a user, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			userID := domain.NormalizeUserID(args[0])
			msgs, err := a.store.Recent(cmd.Context(), userID, limit)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}
			if len(msgs) == 0 {
				fmt.Printf("no messages for %s\n", userID)
				return nil
			}
			for _, m := range msgs {
				fmt.Printf("%s  %-3s  %s\n", m.Timestamp.Format("2006-01-02 15:04:05"), m.Direction, m.Text)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 16, "number of messages to show")
	return cmd
}
