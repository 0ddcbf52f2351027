package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/esimpay/internal/app"
	"github.com/example/esimpay/internal/config"
	"github.com/example/esimpay/internal/database"
	"github.com/example/esimpay/internal/utils"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "reconcile",
		Short:   "Reconcile stored payments against their gateways",
		Version: Version,
	}

	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(checkCmd())
	rootCmd.AddCommand(hashPasswordCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads configuration, opens the database and runs fn with the wired services.
func withApp(cmd *cobra.Command, tune func(*config.Config), fn func(ctx context.Context, svc *app.App) error) error {
	cfg := config.Load()
	if tune != nil {
		tune(cfg)
	}

	db := database.Connect(cfg.DatabaseURL, cfg.DBPool)
	defer database.Close()

	svc, err := app.New(cfg, db)
	if err != nil {
		return err
	}
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, svc)
}

func sweepCmd() *cobra.Command {
	var (
		window  time.Duration
		workers int
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Check every recent PENDING payment against its gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tune := func(cfg *config.Config) {
				if window > 0 {
					cfg.Reconcile.Window = window
				}
				if workers > 0 {
					cfg.Reconcile.Workers = workers
				}
			}
			return withApp(cmd, tune, func(ctx context.Context, svc *app.App) error {
				report, err := svc.Reconciler.SweepPending(ctx)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, report)
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Pending since %s: checked=%d updated=%d errors=%d\n",
					report.Since.Format(time.RFC3339), report.Checked, report.Updated, report.Errors)
				for _, item := range report.Items {
					line := fmt.Sprintf("  %-36s %-24s %-9s %s %s", item.RefID, item.Gateway, item.Status,
						item.Amount.StringFixed(2), item.Currency)
					if item.Error != "" {
						line += "  (" + item.Error + ")"
					}
					fmt.Fprintln(out, line)
				}
				return nil
			})
		},
	}

	cmd.Flags().DurationVarP(&window, "window", "w", 0, "How far back to look for pending payments (default from RECONCILE_WINDOW_HOURS)")
	cmd.Flags().IntVarP(&workers, "workers", "n", 0, "Payments checked in parallel (default from RECONCILE_WORKERS)")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")

	return cmd
}

func checkCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "check [ref_id]",
		Short: "Fetch and apply the live status of one payment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, nil, func(ctx context.Context, svc *app.App) error {
				outcome, err := svc.Reconciler.CheckPayment(ctx, args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, outcome.Payment)
				}

				p := outcome.Payment
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Payment:  %s\n", p.RefID)
				fmt.Fprintf(out, "Gateway:  %s\n", p.PaymentGateway)
				fmt.Fprintf(out, "Status:   %s (gateway said %s: %q)\n", p.Status, outcome.Result.Status, outcome.Result.RawStatus)
				fmt.Fprintf(out, "Amount:   %s %s\n", p.Amount.StringFixed(2), p.Currency)
				if p.DatePaid != nil {
					fmt.Fprintf(out, "Paid at:  %s\n", p.DatePaid.Format(time.RFC3339))
				}
				if outcome.Result.Message != "" {
					fmt.Fprintf(out, "Message:  %s\n", outcome.Result.Message)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "Output as JSON")

	return cmd
}

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Read a password from stdin and print a bcrypt hash for OPERATOR_PASSWORD_HASH",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			hash, err := utils.HashPassword(strings.TrimRight(line, "\r\n"))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
