package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"companion/internal/config"
	"companion/internal/memory"
	"companion/internal/profile"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the companion setup",
		Long: `Verifies that configuration, database, generation provider, Twilio
credentials and profile are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("companion doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file
			cfg, found, err := config.LoadOrDefaults(cfgPath)
			switch {
			case err != nil:
				printFail("Config", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("config invalid")
			case found:
				printPass("Config", cfgPath)
				passed++
			default:
				printWarn("Config", fmt.Sprintf("no file at %s, using defaults and environment", cfgPath))
				warned++
			}

			// 2. Database writable and migrated
			if err := checkDatabase(cfg.Memory.DBPath); err != nil {
				printFail("Database", err.Error())
				failed++
			} else {
				printPass("Database", cfg.Memory.DBPath)
				passed++
			}

			// 3. Generation providers
			providerCount := 0
			for name, p := range cfg.Providers {
				if !p.Enabled {
					continue
				}
				providerCount++
				if p.APIKey == "" {
					printWarn("Provider: "+name, "enabled but no API key, replies will use the fallback text")
					warned++
				} else {
					printPass("Provider: "+name, "configured")
					passed++
				}
			}
			if providerCount == 0 {
				printWarn("Providers", "none enabled, replies will use the fallback text")
				warned++
			}

			// 4. Twilio
			tw := cfg.Twilio
			switch {
			case tw.AccountSID == "" || tw.AuthToken == "":
				printWarn("Twilio", "credentials missing, check-ins are dry-runs")
				warned++
			case tw.DefaultTo == "":
				printWarn("Twilio", "no default destination, check-ins need --to")
				warned++
			default:
				printPass("Twilio", "configured, from "+tw.From)
				passed++
			}
			if !tw.VerifySignature || tw.AuthToken == "" {
				printWarn("Webhook signature", "not verified, anyone can post to "+tw.WebhookPath)
				warned++
			} else {
				printPass("Webhook signature", "verified")
				passed++
			}

			// 5. Internal token
			if cfg.Internal.Token == "" {
				printWarn("Internal token", "not set, /internal endpoints are closed")
				warned++
			} else {
				printPass("Internal token", "set")
				passed++
			}

			// 6. Profile
			if _, err := os.Stat(cfg.Profile.Path); err != nil {
				printWarn("Profile", fmt.Sprintf("%s not found, built-in profile used", cfg.Profile.Path))
				warned++
			} else if p, err := profile.Read(cfg.Profile.Path); err != nil {
				printFail("Profile", err.Error())
				failed++
			} else {
				printPass("Profile", fmt.Sprintf("%s (%s)", cfg.Profile.Path, p.DisplayName))
				passed++
			}

			// 7. Listen port
			if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
				printWarn("Port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
				warned++
			} else {
				printPass("Port", fmt.Sprintf(":%d available", cfg.Server.Port))
				passed++
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running the relay.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nThe relay will run but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed.\n")
			}
			return nil
		},
	}
}

// checkDatabase opens the store, which runs migrations, and counts rows.
func checkDatabase(dbPath string) error {
	store, err := memory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := store.Count(ctx, ""); err != nil {
		return fmt.Errorf("cannot query: %w", err)
	}
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
