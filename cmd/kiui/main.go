// Package main provides the kiui binary: the plan generation HTTP service and
// its operator commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/maxibaudrix/Kiui/internal/app"
	"github.com/maxibaudrix/Kiui/internal/config"
	"github.com/maxibaudrix/Kiui/internal/logger"
	"github.com/maxibaudrix/Kiui/internal/metrics"
	"github.com/maxibaudrix/Kiui/internal/onboarding"
	"github.com/maxibaudrix/Kiui/internal/planner"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "kiui",
		Short:         "AI training and nutrition plan generation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(serveCmd(), generateCmd(), logsCmd())
	return cmd
}

// setup loads configuration and builds the application. The returned cleanup
// closes the application and flushes the logger.
func setup(ctx context.Context) (*app.App, *config.Config, *logger.Logger, func(), error) {
	cfg, err := config.NewFromEnv()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Sync()
		return nil, nil, nil, nil, err
	}
	return a, cfg, log, func() {
		a.Close()
		log.Sync()
	}, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, cfg, log, cleanup, err := setup(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			srv := &http.Server{
				Addr:              ":" + cfg.Port,
				Handler:           a.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				log.Info("http server listening", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return fmt.Errorf("http server failed: %w", err)
			case <-ctx.Done():
			}

			log.Info("shutting down")
			// In-flight generations may run up to the request timeout.
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout+5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

func generateCmd() *cobra.Command {
	var userID, file string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a plan for one user from an onboarding payload file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}
			var payload onboarding.Payload
			if err := json.Unmarshal(data, &payload); err != nil {
				return fmt.Errorf("failed to parse payload %s: %w", file, err)
			}

			a, _, _, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := a.Planner.GeneratePlan(cmd.Context(), planner.Request{
				UserID:      userID,
				RequestID:   uuid.NewString(),
				Payload:     payload,
				RequestType: metrics.RequestTrainingPlan,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Plan %s created\n", res.PlanID)
			fmt.Fprintf(out, "  %d weeks, %s to %s\n", res.TotalWeeks, res.StartDate, res.EndDate)
			fmt.Fprintf(out, "  %d training days, %d rest days\n", res.Stats.TotalTrainingDays, res.Stats.TotalRestDays)
			fmt.Fprintf(out, "  %d model call(s), %d prompt / %d completion tokens\n",
				res.Attempts, res.Usage.PromptTokens, res.Usage.CompletionTokens)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id the plan belongs to")
	cmd.Flags().StringVar(&file, "file", "", "Onboarding payload (JSON)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func logsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect or prune the generation log",
	}

	var userID string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List a user's most recent generation attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, cleanup, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := a.Logs.ListByUser(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, e := range entries {
				status, detail := "ok", e.PlanID
				if !e.Success {
					status, detail = "FAILED", e.Error
				}
				fmt.Fprintf(out, "%s  %-18s %-6s attempts=%d %dms tokens=%d/%d %s\n",
					e.CreatedAt.Format(time.RFC3339), e.RequestType, status, e.Attempts, e.DurationMS,
					e.PromptTokens, e.CompletionTokens, detail)
			}
			return nil
		},
	}
	list.Flags().StringVar(&userID, "user", "", "User id")
	list.Flags().IntVar(&limit, "limit", 20, "Maximum number of entries")
	_ = list.MarkFlagRequired("user")

	var days int
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove generation log entries older than N days",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, _, closeApp, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer closeApp()

			affected, err := a.Logs.Cleanup(cmd.Context(), days)
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Successfully removed %d old generation log records.\n", affected)
			return nil
		},
	}
	cleanup.Flags().IntVar(&days, "days", 30, "Keep records for the last N days")

	cmd.AddCommand(list, cleanup)
	return cmd
}
