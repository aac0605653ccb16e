package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/1homsi/secreview/cmd/secreview/explain"
	"github.com/1homsi/secreview/cmd/secreview/history"
	"github.com/1homsi/secreview/cmd/secreview/rules"
	"github.com/1homsi/secreview/cmd/secreview/scan"
	"github.com/1homsi/secreview/internal/logging"
	"github.com/1homsi/secreview/internal/rule"
)

// Set via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCommand(v *viper.Viper) *cobra.Command {
	root := &cobra.Command{
		Use:           "secreview",
		Short:         "Pattern-based security review for source code",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Long: `secreview scans source files against a catalog of regex rules covering the
OWASP Top 10 (injection, XSS, hardcoded secrets, weak crypto, SSRF and more)
and writes a prioritized security review as text, JSON, SARIF or Markdown.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := cmd.Flags().GetString("logLevel")
			if err != nil {
				return err
			}
			logging.Init(level)
			return nil
		},
	}
	root.PersistentFlags().StringP("logLevel", "l", "info", "Set the log level. Options: debug, info, warn, error")
	root.PersistentFlags().String("config", "", "config file (default: .secreview.yaml in the working directory or $HOME)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "secreview\n")
			fmt.Fprintf(w, "Version:    %s\n", version)
			fmt.Fprintf(w, "Commit:     %s\n", commit)
			fmt.Fprintf(w, "Built:      %s\n", date)
			fmt.Fprintf(w, "Rules:      %s (%d rules)\n", rule.Default().Version(), rule.Default().Len())
		},
	}

	root.AddCommand(
		versionCmd,
		scan.NewCommand(v, version),
		rules.NewCommand(),
		explain.NewCommand(),
		history.NewCommand(v, version),
	)
	return root
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "load .env:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCommand(viper.New()).ExecuteContext(ctx)
	stop()
	if err != nil {
		if errors.Is(err, scan.ErrGateFailed) {
			slog.Warn("gate failed", "reason", err)
		} else {
			slog.Error("secreview failed", "err", err)
		}
		os.Exit(1)
	}
}
