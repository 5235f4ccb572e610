package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"pilot/internal/config"
	"pilot/internal/contextdoc"
	"pilot/internal/logging"
	"pilot/internal/server"
	"pilot/internal/tmux"
	"pilot/internal/translate"
)

const version = "0.3.0"

var (
	// Global flags
	homeDir string
	port    int
	verbose bool

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command. Running pilot with no subcommand
// starts the server.
var rootCmd = &cobra.Command{
	Use:   "pilot",
	Short: "pilot - drive tmux sessions from your phone",
	Long: `pilot is a small server that lets a remote client steer tmux sessions
with natural language. Voice, text, or image input is translated into tmux
commands by Gemini; the client gets back a terminal-style status display and
a live view of session state.

State lives under ~/.pilot: the shared-secret token, the rolling context
document, and an optional prompt.md with operator instructions.

Run without arguments to start the server.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pilot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print the shared-secret pairing token, generating one if needed",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.EnsureHome(); err != nil {
			return err
		}
		token, err := config.EnsureToken(cfg.TokenPath())
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

var contextCmd = &cobra.Command{
	Use:   "context",
	Short: "Print the rolling context document",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store := contextdoc.NewStore(cfg.ContextPath(), cfg.Context.MaxLines)
		doc, err := store.Load()
		if err != nil {
			return err
		}
		if doc == "" {
			fmt.Println("(no context document yet)")
			return nil
		}
		fmt.Print(doc)
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage tmux sessions",
}

var sessionNewCmd = &cobra.Command{
	Use:   "new [name] [command]",
	Short: "Create a detached tmux session, optionally running a command",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		runner := tmux.NewRunner(cfg.TmuxTimeout())
		command := ""
		if len(args) > 1 {
			command = args[1]
		}
		if err := runner.NewSession(cmd.Context(), args[0], command); err != nil {
			return err
		}
		fmt.Printf("created session %s\n", args[0])
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pilot version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pilot %s\n", version)
	},
}

func loadConfig() (*config.Config, error) {
	home := homeDir
	if home == "" {
		home = config.DefaultHome()
	}
	cfg, err := config.Load(filepath.Join(home, "config.yaml"))
	if err != nil {
		return nil, err
	}
	cfg.Home = home
	if port != 0 {
		cfg.Server.Port = port
	}
	if verbose {
		cfg.Logging.DebugMode = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.EnsureHome(); err != nil {
		return err
	}
	if err := logging.Initialize(cfg.LogsDir(), logging.Settings{
		DebugMode:  cfg.Logging.DebugMode,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
		JSONFormat: cfg.Logging.JSONFormat,
	}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Close()

	token, err := config.EnsureToken(cfg.TokenPath())
	if err != nil {
		return fmt.Errorf("failed to load token: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner := tmux.NewRunner(cfg.TmuxTimeout())
	store := contextdoc.NewStore(cfg.ContextPath(), cfg.Context.MaxLines)

	translator, err := translate.NewGemini(ctx, translate.Options{
		APIKey:          cfg.Gemini.APIKey,
		Model:           cfg.Gemini.Model,
		Temperature:     cfg.Gemini.Temperature,
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
		PromptPath:      cfg.PromptPath(),
		ContextBudget:   cfg.Context.PromptBudget,
	})
	if err != nil {
		return fmt.Errorf("failed to build translator: %w", err)
	}
	if err := translator.Instructions().Start(ctx); err != nil {
		logger.Warn("prompt override hot reload unavailable", zap.Error(err))
	} else {
		defer translator.Instructions().Close()
	}
	if config.LoadUserInstructions(cfg.PromptPath()) != "" {
		logger.Info("operator prompt override active", zap.String("path", cfg.PromptPath()))
	}

	srv := server.New(cfg, token, store, runner, translator)
	httpSrv := &http.Server{
		Addr:    cfg.Addr(),
		Handler: srv.Routes(),
	}

	logger.Info("pilot server starting",
		zap.String("addr", cfg.Addr()),
		zap.String("model", cfg.Gemini.Model),
		zap.String("home", cfg.Home))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "pilot state directory (default ~/.pilot)")
	rootCmd.PersistentFlags().IntVar(&port, "port", 0, "listen port (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	sessionCmd.AddCommand(sessionNewCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
