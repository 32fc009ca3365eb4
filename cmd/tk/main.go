package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/codewiresh/trakit/internal/auth"
	"github.com/codewiresh/trakit/internal/client"
	"github.com/codewiresh/trakit/internal/config"
	"github.com/codewiresh/trakit/internal/store"
)

var (
	addressFlag string
	dirFlag     string
	verboseFlag bool
	metricsFlag string
	loginFlag   bool

	cfg *config.Config
)

func main() {
	// A .env file in the working directory is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[tk] WARNING: reading .env: %v\n", err)
	}

	rootCmd := &cobra.Command{
		Use:               "tk",
		Short:             "Client for the trakit streaming socket",
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
	rootCmd.PersistentFlags().StringVarP(&addressFlag, "address", "a", "", "Socket address (default from config environment)")
	rootCmd.PersistentFlags().StringVar(&dirFlag, "dir", "", "Data directory (default $TRAKIT_DIR or ~/.trakit)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Debug logging")
	rootCmd.PersistentFlags().StringVar(&metricsFlag, "metrics-listen", "", "Serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().BoolVar(&loginFlag, "login", false, "Ignore the saved session and log in again")

	rootCmd.AddCommand(
		connectCmd(),
		sendCmd(),
		listenCmd(),
		journalCmd(),
		signCmd(),
		configCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// setup loads the configuration, installs the logger and starts the
// metrics endpoint when asked for.
func setup(cmd *cobra.Command, args []string) error {
	dir := dataDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	var err error
	cfg, err = config.LoadConfig(dir)
	if err != nil {
		return err
	}

	level, _ := cfg.Level()
	if verboseFlag {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	listen := metricsFlag
	if listen == "" && cfg.Metrics.Listen != nil {
		listen = *cfg.Metrics.Listen
	}
	if listen != "" {
		serveMetrics(listen)
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server", "err", err)
		}
	}()
}

func dataDir() string {
	if dirFlag != "" {
		return dirFlag
	}
	return config.DefaultDataDir()
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// resolveTarget builds the connection target from flags and config. With
// journal set, or journal.enabled in config, frames are recorded; the
// returned cleanup closes the journal.
func resolveTarget(journal bool) (*client.Target, func(), error) {
	dir := dataDir()
	address := addressFlag
	if address == "" {
		address = cfg.ResolvedAddress()
	}

	if loginFlag {
		if err := auth.ClearSession(dir); err != nil {
			return nil, nil, fmt.Errorf("clearing session: %w", err)
		}
	}

	cred, ok := cfg.Credential()
	if !ok {
		if _, saved := auth.LoadSession(dir); !saved && isatty.IsTerminal(os.Stdin.Fd()) {
			var err error
			if cred, err = promptLogin(); err != nil {
				return nil, nil, err
			}
		}
	} else if p, isPw := cred.(auth.Password); isPw && p.Password == "" && isatty.IsTerminal(os.Stdin.Fd()) {
		pw, err := promptPassword(fmt.Sprintf("Password for %s: ", p.Username))
		if err != nil {
			return nil, nil, err
		}
		p.Password = pw
		cred = p
	}

	target := &client.Target{
		Address:    address,
		DataDir:    dir,
		Credential: cred,
		Logger:     slog.Default(),
	}
	cleanup := func() {}

	if journal || cfg.Journal.Enabled {
		retention, _ := cfg.Retention()
		j, err := store.NewSQLiteJournal(dir, retention)
		if err != nil {
			return nil, nil, fmt.Errorf("opening journal: %w", err)
		}
		target.Journal = j
		cleanup = func() { j.Close() }
	}
	return target, cleanup, nil
}

// prettyOutput reports whether stdout is a terminal.
func prettyOutput() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ---------------------------------------------------------------------------
// connectCmd
// ---------------------------------------------------------------------------

func connectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Connect, print the session identity and disconnect",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, cleanup, err := resolveTarget(false)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signalContext()
			defer cancel()
			return client.Connect(ctx, target, os.Stdout)
		},
	}
}

// ---------------------------------------------------------------------------
// sendCmd
// ---------------------------------------------------------------------------

func sendCmd() *cobra.Command {
	var (
		timeout time.Duration
		raw     bool
	)

	cmd := &cobra.Command{
		Use:   "send <command> [json]",
		Short: "Run one command and print its reply",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := "{}"
			if len(args) == 2 {
				body = args[1]
			}
			if body == "-" {
				data, err := readStdin()
				if err != nil {
					return err
				}
				body = data
			}

			target, cleanup, err := resolveTarget(false)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signalContext()
			defer cancel()
			if timeout > 0 {
				var tcancel context.CancelFunc
				ctx, tcancel = context.WithTimeout(ctx, timeout)
				defer tcancel()
			}
			return client.Send(ctx, target, args[0], body, os.Stdout, !raw && prettyOutput())
		},
	}
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 30*time.Second, "Give up waiting for the reply after this long (0 waits forever)")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print the reply body exactly as received")
	return cmd
}

// ---------------------------------------------------------------------------
// listenCmd
// ---------------------------------------------------------------------------

func listenCmd() *cobra.Command {
	var (
		journal bool
		raw     bool
	)

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print every inbound frame until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, cleanup, err := resolveTarget(journal)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel := signalContext()
			defer cancel()
			return client.Listen(ctx, target, os.Stdout, !raw && prettyOutput())
		},
	}
	cmd.Flags().BoolVar(&journal, "journal", false, "Record frames to the journal")
	cmd.Flags().BoolVar(&raw, "raw", false, "Print bodies exactly as received")
	return cmd
}

// ---------------------------------------------------------------------------
// journalCmd
// ---------------------------------------------------------------------------

func journalCmd() *cobra.Command {
	var (
		n      int
		format string
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Print recorded frames",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			retention, _ := cfg.Retention()
			j, err := store.NewSQLiteJournal(dataDir(), retention)
			if err != nil {
				return fmt.Errorf("opening journal: %w", err)
			}
			defer j.Close()
			return client.Journal(cmd.Context(), j, n, strings.ToLower(format), os.Stdout)
		},
	}
	cmd.Flags().IntVarP(&n, "lines", "n", 20, "Number of frames to show")
	cmd.Flags().StringVarP(&format, "format", "f", client.FormatText, "Output format: text, json or yaml")
	return cmd
}

// ---------------------------------------------------------------------------
// signCmd
// ---------------------------------------------------------------------------

func signCmd() *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "sign <uri>",
		Short: "Sign a URI with the configured API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("parsing --at: %w", err)
				}
				now = t
			}
			return client.Sign(cfg.Auth.APIKey, cfg.Auth.APISecret, args[0], now, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Signing time (RFC 3339, default now)")
	return cmd
}
