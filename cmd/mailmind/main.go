// Command mailmind is a terminal client for the MailMind analysis backend.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kiranshivaraju/mailmind/internal/config"
	"github.com/kiranshivaraju/mailmind/internal/mailmind"
	"github.com/kiranshivaraju/mailmind/internal/session"
	"github.com/spf13/cobra"
)

// app carries what every command needs. Built in PersistentPreRunE.
type app struct {
	backend  mailmind.Client
	sessions session.Store
	logger   *slog.Logger
	interval time.Duration
	now      func() time.Time
}

type rootFlags struct {
	apiURL     string
	sessionDir string
	verbose    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var flags rootFlags
	a := &app{now: time.Now}

	rootCmd := &cobra.Command{
		Use:   "mailmind",
		Short: "MailMind - analyze your mailbox from the terminal",
		Long: `mailmind talks to a MailMind backend: connect mail accounts, run
analyses over date ranges and follow their progress, browse run history,
and see which parts of the mailbox have been analyzed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.ErrOrStderr(), flags)
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.apiURL, "api-url", "", "backend URL (default $MAILMIND_API_URL or http://localhost:8000)")
	rootCmd.PersistentFlags().StringVar(&flags.sessionDir, "session-dir", "", "where the login is kept (default is the user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "log requests and poll activity")

	rootCmd.AddCommand(loginCmd(a))
	rootCmd.AddCommand(logoutCmd(a))
	rootCmd.AddCommand(whoamiCmd(a))
	rootCmd.AddCommand(accountsCmd(a))
	rootCmd.AddCommand(analyzeCmd(a))
	rootCmd.AddCommand(retryCmd(a))
	rootCmd.AddCommand(stopCmd(a))
	rootCmd.AddCommand(runsCmd(a))
	rootCmd.AddCommand(coverageCmd(a))

	return rootCmd
}

func (a *app) init(stderr io.Writer, flags rootFlags) error {
	level := slog.LevelWarn
	if flags.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.LoadClient()
	if err != nil {
		return err
	}
	if flags.apiURL != "" {
		cfg.Backend.BaseURL = strings.TrimRight(flags.apiURL, "/")
	}
	a.backend = mailmind.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout, cfg.Backend.MaxRPS)
	a.interval = cfg.Dashboard.PollInterval

	if flags.sessionDir != "" {
		a.sessions = session.NewFileStore(flags.sessionDir)
		return nil
	}
	fs, err := session.DefaultFileStore()
	if err != nil {
		return err
	}
	a.sessions = fs
	return nil
}
