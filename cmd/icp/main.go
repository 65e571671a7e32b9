// Command icp runs the ICP filter assistant as an HTTP API, a Telegram bot
// or an interactive terminal chat.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xaenox/icp-bot/internal/api"
	"github.com/xaenox/icp-bot/internal/assistant"
	"github.com/xaenox/icp-bot/internal/bot"
	"github.com/xaenox/icp-bot/internal/cli"
	"github.com/xaenox/icp-bot/internal/conversation"
	"github.com/xaenox/icp-bot/internal/search"
	"github.com/xaenox/icp-bot/internal/storage"
	"github.com/xaenox/icp-bot/pkg/config"
)

var (
	configPath string
	envFile    string
	version    = "0.1.0" // set at build time
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:          "icp",
	Short:        "Conversational ideal customer profile builder",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	RunE:  runServe,
}

var telegramCmd = &cobra.Command{
	Use:   "telegram",
	Short: "Run the Telegram bot",
	RunE:  runTelegram,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat in the terminal",
	RunE:  runChat,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Printf("icp v%s\n", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a config file (yaml, json or toml)")
	flags.StringVar(&envFile, "env-file", ".env", "Path to a .env file; missing files are ignored")
	flags.String("log-level", "", "Set log level (debug|info|warn|error) [default: info]")
	flags.String("storage", "", "Storage driver (memory|postgres|redis|supabase)")
	serveCmd.Flags().String("addr", "", "HTTP listen address [default: :8080]")

	bind := func(key string, fs *pflag.FlagSet, name string) {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Error binding %s flag: %v\n", name, err)
			os.Exit(1)
		}
	}
	bind("log.level", flags, "log-level")
	bind("storage.driver", flags, "storage")
	bind("http.addr", serveCmd.Flags(), "addr")

	rootCmd.AddCommand(serveCmd, telegramCmd, chatCmd, versionCmd)
}

// app holds what every subcommand needs.
type app struct {
	cfg           *config.Config
	logger        *zap.Logger
	store         storage.Storage
	conversations *conversation.Service
	searcher      search.Searcher
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(v, configPath, envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(ctx, storage.Config{
		Driver:           storage.Driver(cfg.Storage.Driver),
		MaxConversations: cfg.Storage.MaxConversations,
		Database: storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		},
		RedisURL: cfg.Redis.URL,
		RedisTTL: cfg.Redis.TTL,
		Supabase: storage.SupabaseConfig{URL: cfg.Supabase.URL, APIKey: cfg.Supabase.APIKey},
	}, logger)
	if err != nil {
		logger.Sync()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	logger.Info("Storage ready", zap.String("driver", cfg.Storage.Driver))

	proposer, err := assistant.New(assistant.Config{
		Provider:    cfg.Assistant.Provider,
		APIKey:      cfg.Assistant.APIKey,
		Model:       cfg.Assistant.Model,
		BaseURL:     cfg.Assistant.BaseURL,
		MaxTokens:   cfg.Assistant.MaxTokens,
		Temperature: &cfg.Assistant.Temperature,
	}, logger)
	if err != nil {
		store.Close()
		logger.Sync()
		return nil, fmt.Errorf("failed to initialize assistant: %w", err)
	}

	a := &app{
		cfg:           cfg,
		logger:        logger,
		store:         store,
		conversations: conversation.NewService(store, proposer, logger),
	}

	if cfg.Apollo.APIKey == "" {
		logger.Warn("APOLLO_API_KEY is not set, search is disabled")
	} else {
		apollo, err := search.NewApolloSearcher(search.ApolloConfig{
			APIKey:  cfg.Apollo.APIKey,
			BaseURL: cfg.Apollo.BaseURL,
			Timeout: cfg.Apollo.Timeout,
		}, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to initialize search: %w", err)
		}
		a.searcher = apollo
	}
	return a, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close storage", zap.Error(err))
	}
	a.logger.Sync()
}

// startCleanup evicts idle conversations in the background until ctx ends.
func (a *app) startCleanup(ctx context.Context) {
	go a.conversations.RunCleanup(ctx, a.cfg.Conversation.CleanupInterval, a.cfg.Conversation.IdleTimeout)
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	a.startCleanup(ctx)

	srv := &http.Server{
		Addr: a.cfg.HTTP.Addr,
		Handler: api.NewRouter(&api.Handler{
			Conversations: a.conversations,
			Searcher:      a.searcher,
			Logger:        a.logger,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP API", zap.String("addr", srv.Addr), zap.String("version", version))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down HTTP API")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runTelegram(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	a.startCleanup(ctx)

	b, err := bot.New(a.cfg.Telegram.Token, a.conversations, a.searcher, a.logger)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}
	return b.Start(ctx)
}

func runChat(_ *cobra.Command, _ []string) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	userID := os.Getenv("USER")
	if userID == "" {
		userID = "local"
	}
	chat := cli.NewChat(a.conversations, a.searcher, userID, a.logger)
	return chat.Run(ctx, os.Stdin, os.Stdout)
}
