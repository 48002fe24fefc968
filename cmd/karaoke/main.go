// Package main provides the karaoke party server CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"karaoke/internal/catalog"
	"karaoke/internal/core"
	"karaoke/internal/flood"
	httpserver "karaoke/internal/http"
	"karaoke/internal/i18n"
	"karaoke/internal/party"
	"karaoke/internal/store"
)

const (
	envPrefix = "KARAOKE"
	version   = "1.0.0"
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "karaoke",
	Short: "Karaoke - party queue and play history server",
	Long: `Karaoke runs karaoke parties: singers queue songs over an HTTP API, the host
advances the queue, and every play is aggregated into the party history and its
top played leaderboard. Clients receive live snapshots over WebSocket.`,
	RunE: runKaraoke,
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute-top-played",
	Short: "Rebuild a party's top played list from its history",
	Long: `Rebuild a party's top played list from its history.

With the sqlite store the server must be stopped first; the command refuses
to run while another process holds the database.`,
	RunE: runRecompute,
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Migrate legacy queue keys and repair queue order for a party",
	Long: `Migrate legacy queue keys and repair queue order for a party.

With the sqlite store the server must be stopped first; the command refuses
to run while another process holds the database.`,
	RunE: runReconcile,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (json, console)")
	rootCmd.PersistentFlags().String("server-host", core.DefaultServerHost, "HTTP server host")
	rootCmd.PersistentFlags().Int("server-port", core.DefaultServerPort, "HTTP server port")
	rootCmd.PersistentFlags().String("store-driver", core.StoreDriverMemory,
		fmt.Sprintf("Store driver (%s, %s)", core.StoreDriverMemory, core.StoreDriverSQLite))
	rootCmd.PersistentFlags().String("store-path", "./karaoke.db", "SQLite database path")
	rootCmd.PersistentFlags().Int("history-limit", core.DefaultHistoryLimit, "Maximum history entries kept per party")
	rootCmd.PersistentFlags().Int("top-played-limit", core.DefaultTopPlayedLimit, "Maximum top played entries per party")
	rootCmd.PersistentFlags().Int("disabled-write-timeout-secs", core.DefaultDisabledWriteTimeoutSecs,
		"Timeout for disabling or enabling a song in seconds")
	rootCmd.PersistentFlags().Int("request-limit-per-minute", core.DefaultRequestLimitPerMinute,
		"Maximum mutating requests per client and party per minute (0 disables)")
	rootCmd.PersistentFlags().Int("max-active-parties", core.DefaultMaxActiveParties, "Maximum parties kept open at once")
	supportedLangs := strings.Join(i18n.GetSupportedLanguages(), ", ")
	rootCmd.PersistentFlags().String("language", i18n.DefaultLanguage, fmt.Sprintf("Message language (%s)", supportedLangs))
	rootCmd.PersistentFlags().String("catalog-dir", "", "Directory of karaoke media files to publish as the song catalog")
	rootCmd.PersistentFlags().Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	for _, cmd := range []*cobra.Command{recomputeCmd, reconcileCmd} {
		cmd.Flags().String("party", "", "party id")
		if err := cmd.MarkFlagRequired("party"); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to mark flag required: %v\n", err)
			os.Exit(1)
		}
		rootCmd.AddCommand(cmd)
	}
}

func initConfig() {
	// Load .env file explicitly using gotenv
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		// Don't exit if .env file doesn't exist, just warn
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level, config.Log.Format)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureServer(cfg)
	configureStore(cfg)
	configureApp(cfg)

	return cfg
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = core.DefaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
}

func configureStore(cfg *core.Config) {
	cfg.Store.Driver = strings.ToLower(viper.GetString("store-driver"))
	cfg.Store.Path = viper.GetString("store-path")
}

func configureApp(cfg *core.Config) {
	cfg.App.HistoryLimit = viper.GetInt("history-limit")
	cfg.App.TopPlayedLimit = viper.GetInt("top-played-limit")
	cfg.App.DisabledWriteTimeoutSecs = viper.GetInt("disabled-write-timeout-secs")
	cfg.App.RequestLimitPerMinute = viper.GetInt("request-limit-per-minute")
	cfg.App.MaxActiveParties = viper.GetInt("max-active-parties")
	cfg.App.Language = viper.GetString("language")
	cfg.App.CatalogDir = viper.GetString("catalog-dir")
}

func buildLogger(level, format string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	if strings.EqualFold(format, "console") {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func validateConfig() error {
	switch config.Store.Driver {
	case core.StoreDriverMemory:
	case core.StoreDriverSQLite:
		if config.Store.Path == "" {
			return errors.New("store path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", config.Store.Driver)
	}

	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", config.Server.Port)
	}

	if !slices.Contains(i18n.GetSupportedLanguages(), config.App.Language) {
		return fmt.Errorf("unsupported language %q (supported: %s)",
			config.App.Language, strings.Join(i18n.GetSupportedLanguages(), ", "))
	}

	if config.App.HistoryLimit < 1 {
		return fmt.Errorf("history limit must be positive, got %d", config.App.HistoryLimit)
	}
	if config.App.TopPlayedLimit < 1 {
		return fmt.Errorf("top played limit must be positive, got %d", config.App.TopPlayedLimit)
	}
	if config.App.DisabledWriteTimeoutSecs < 1 {
		return fmt.Errorf("disabled write timeout must be positive, got %d", config.App.DisabledWriteTimeoutSecs)
	}

	if config.App.CatalogDir != "" {
		info, err := os.Stat(config.App.CatalogDir)
		if err != nil {
			return fmt.Errorf("catalog dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("catalog dir %s is not a directory", config.App.CatalogDir)
		}
	}
	return nil
}

// openStore opens the configured store driver.
// openStore opens the configured store. A SQLite file is claimed for role
// first; only one process may hold it.
func openStore(ctx context.Context, role string) (*store.Document, error) {
	storeLogger := logger.Named("store")

	if config.Store.Driver != core.StoreDriverSQLite {
		return store.New(storeLogger), nil
	}

	backend, err := store.OpenSQLite(config.Store.Path, storeLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite store: %w", err)
	}
	if err := backend.Acquire(ctx, role); err != nil {
		backend.Close()
		if errors.Is(err, store.ErrHeld) {
			return nil, fmt.Errorf("%w (stop the running server before %s)", err, role)
		}
		return nil, err
	}
	doc, err := store.Open(ctx, backend, storeLogger)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to load sqlite store: %w", err)
	}
	return doc, nil
}

func runKaraoke(cmd *cobra.Command, _ []string) error {
	// Handle generate-env-example flag
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting karaoke",
		zap.String("version", version),
		zap.String("store_driver", config.Store.Driver),
		zap.String("catalog_dir", config.App.CatalogDir),
		zap.String("language", config.App.Language))

	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	svcs, err := initializeServices(ctx)
	if err != nil {
		return err
	}
	defer svcs.close()

	return runServices(ctx, svcs)
}

type services struct {
	store      *store.Document
	parties    *party.Registry
	gate       *flood.Gate
	catalog    *catalog.Catalog
	httpServer *httpserver.Server
}

func initializeServices(ctx context.Context) (*services, error) {
	doc, err := openStore(ctx, "server")
	if err != nil {
		return nil, err
	}

	metrics := httpserver.NewMetrics()

	var songs *catalog.Catalog
	if config.App.CatalogDir != "" {
		songs = catalog.New(config.App.CatalogDir, doc, logger.Named("catalog"))
		if err := songs.Refresh(); err != nil {
			doc.Close()
			return nil, fmt.Errorf("failed to scan catalog: %w", err)
		}
	}

	open := party.NewControllerOpener(doc, config.App, logger.Named("party"), metrics)
	if songs != nil {
		open = publishOnOpen(open, songs)
	}

	parties, err := party.NewRegistry(config.App.MaxActiveParties, open, logger.Named("registry"), metrics)
	if err != nil {
		doc.Close()
		return nil, err
	}

	gate := flood.New(config.App.RequestLimitPerMinute)
	api := httpserver.NewAPI(parties, gate, config.App.Language, metrics, logger.Named("api"))

	return &services{
		store:      doc,
		parties:    parties,
		gate:       gate,
		catalog:    songs,
		httpServer: httpserver.NewServer(&config.Server, api, metrics, logger.Named("http")),
	}, nil
}

// publishOnOpen publishes the catalog to each party as it is opened.
func publishOnOpen(open party.Opener, songs *catalog.Catalog) party.Opener {
	return func(ctx context.Context, id string) (*party.Controller, error) {
		c, err := open(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := songs.Publish(ctx, id); err != nil {
			logger.Warn("Failed to publish catalog", zap.String("party", id), zap.Error(err))
		}
		return c, nil
	}
}

func (s *services) close() {
	s.parties.Close()
	s.gate.Stop()
	if err := s.store.Close(); err != nil {
		logger.Warn("Failed to close store", zap.Error(err))
	}
	if err := logger.Sync(); err != nil {
		logger.Debug("Failed to sync logger", zap.Error(err))
	}
}

func runServices(ctx context.Context, svcs *services) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svcs.httpServer.Start(gCtx)
	})

	if svcs.catalog != nil {
		g.Go(func() error {
			return svcs.catalog.Watch(gCtx, svcs.parties.Parties, catalog.DefaultDebounce)
		})
	}

	logger.Info("Karaoke started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("Karaoke stopped with error", zap.Error(err))
		return err
	}

	logger.Info("Karaoke stopped gracefully")
	return nil
}

// withParty opens the store and one party controller for a maintenance
// command.
func withParty(cmd *cobra.Command, run func(ctx context.Context, c *party.Controller) error) error {
	partyID, err := cmd.Flags().GetString("party")
	if err != nil {
		return err
	}
	if err := validateConfig(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	if config.Store.Driver == core.StoreDriverMemory {
		logger.Warn("Running a maintenance command against the memory store has no lasting effect")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, time.Minute)
	defer cancelTimeout()

	doc, err := openStore(ctx, cmd.Name())
	if err != nil {
		return err
	}
	defer doc.Close()

	c, err := party.NewController(ctx, doc, partyID, config.App, logger.Named("party"), nil)
	if err != nil {
		return fmt.Errorf("failed to open party %s: %w", partyID, err)
	}
	defer c.Close()

	return run(ctx, c)
}

func runRecompute(cmd *cobra.Command, _ []string) error {
	return withParty(cmd, func(ctx context.Context, c *party.Controller) error {
		entries, err := c.RecomputeTopPlayed(ctx)
		if err != nil {
			return fmt.Errorf("recompute top played: %w", err)
		}
		logger.Info("Top played recomputed",
			zap.String("party", c.Party()),
			zap.Int("entries", len(entries)))
		for i, entry := range entries {
			fmt.Printf("%3d. %s - %s (%d)\n", i+1, entry.Artist, entry.Title, entry.Count)
		}
		return nil
	})
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	return withParty(cmd, func(ctx context.Context, c *party.Controller) error {
		if err := c.Reconcile(ctx); err != nil {
			return fmt.Errorf("reconcile queue: %w", err)
		}
		items, err := c.Queue(ctx)
		if err != nil {
			return err
		}
		logger.Info("Queue reconciled",
			zap.String("party", c.Party()),
			zap.Int("items", len(items)))
		return nil
	})
}
