package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/leadflow/leadflow/internal/api"
	"github.com/leadflow/leadflow/internal/flow"
	"github.com/leadflow/leadflow/internal/genai"
	"github.com/leadflow/leadflow/internal/lockfile"
	"github.com/leadflow/leadflow/internal/messaging"
	"github.com/leadflow/leadflow/internal/store"
	"github.com/leadflow/leadflow/internal/twiliowhatsapp"
	"github.com/leadflow/leadflow/internal/vector"
	"github.com/leadflow/leadflow/internal/whatsapp"
	"github.com/philippgille/chromem-go"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadFlow state data
	DefaultStateDir = "/var/lib/leadflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadflow.db"
	// DefaultPollInterval is how often the job runner polls for due jobs
	DefaultPollInterval = 2 * time.Second
	// DefaultWorkers is the number of concurrent job workers
	DefaultWorkers = 4
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("LeadFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL string
	StateDir    string
	OpenAIKey   string
	APIAddr     string
	Provider    string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput  *string
	numeric   *bool
	stateDir  *string
	dbDSN     *string
	openaiKey *string
	apiAddr   *string
	provider  *string
	workers   *int
}

// initializeLogger sets up structured logging
func initializeLogger() {
	level := slog.LevelInfo
	if os.Getenv("LEADFLOW_DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		StateDir:    os.Getenv("LEADFLOW_STATE_DIR"),
		OpenAIKey:   os.Getenv("OPENAI_API_KEY"),
		APIAddr:     os.Getenv("API_ADDR"),
		Provider:    os.Getenv("MESSAGING_PROVIDER"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEADFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.Provider == "" {
		config.Provider = "whatsmeow"
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"LEADFLOW_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"MESSAGING_PROVIDER", config.Provider)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:  flag.String("qr-output", "", "path to write login QR code"),
		numeric:   flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:  flag.String("state-dir", config.StateDir, "state directory for LeadFlow data (overrides $LEADFLOW_STATE_DIR)"),
		dbDSN:     flag.String("db-dsn", config.DatabaseURL, "database DSN for the repository and job queue (overrides $DATABASE_URL)"),
		openaiKey: flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:   flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		provider:  flag.String("provider", config.Provider, "messaging provider: whatsmeow or twilio (overrides $MESSAGING_PROVIDER)"),
		workers:   flag.Int("workers", DefaultWorkers, "number of concurrent job workers"),
	}

	flag.Parse()

	// A custom state directory moves the default SQLite database with it.
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"provider", *flags.provider,
		"workers", *flags.workers)

	return flags
}

// newRepository opens the store matching the DSN type.
func newRepository(dsn string) (store.Repository, store.JobRepo, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		st, err := store.NewPostgresStore(store.WithDSN(dsn))
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	st, err := store.NewSQLiteStore(store.WithDSN(dsn))
	if err != nil {
		return nil, nil, err
	}
	return st, st, nil
}

// newMessagingService builds the configured transport.
func newMessagingService(flags Flags) (messaging.Service, error) {
	if *flags.provider == "twilio" {
		client, err := twiliowhatsapp.NewClient()
		if err != nil {
			return nil, err
		}
		return messaging.NewTwilioService(client), nil
	}

	var waOpts []whatsapp.Option
	waOpts = append(waOpts, whatsapp.WithDBDSN(filepath.Join(*flags.stateDir, "whatsmeow.db")))
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	client, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, err
	}
	return messaging.NewWhatsAppService(client), nil
}

// run wires every module together and blocks until shutdown.
func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		return err
	}
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, jobs, err := newRepository(*flags.dbDSN)
	if err != nil {
		return err
	}

	index, err := vector.New(*flags.stateDir, chromem.NewEmbeddingFuncOpenAI(*flags.openaiKey, chromem.EmbeddingModelOpenAI3Small))
	if err != nil {
		return err
	}

	genaiClient, err := genai.NewClient(
		genai.WithAPIKey(*flags.openaiKey),
		genai.WithUsageRecorder(st),
	)
	if err != nil {
		return err
	}

	svc, err := newMessagingService(flags)
	if err != nil {
		return err
	}
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer svc.Stop()

	orchestrator := flow.NewOrchestrator(st, index, genaiClient, svc)

	respHandler := messaging.NewResponseHandler(jobs, svc)
	respHandler.Start(ctx)

	runner := store.NewJobRunner(jobs, DefaultPollInterval, *flags.workers)
	if err := runner.RecoverStaleJobs(); err != nil {
		slog.Warn("Failed to recover stale jobs", "error", err)
	}
	runner.RegisterHandler(store.JobKindInboundMessage, orchestrator.HandleInboundJob)
	go runner.Run(ctx)

	apiOpts := []api.Option{}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if twilioSvc, ok := svc.(*messaging.TwilioService); ok {
		apiOpts = append(apiOpts, api.WithRoute("/webhook/twilio", http.HandlerFunc(twilioSvc.TwilioWebhookHandler)))
	}
	server := api.NewServer(st, jobs, apiOpts...)

	slog.Info("LeadFlow running", "provider", *flags.provider, "api_addr", *flags.apiAddr)
	return server.Run(ctx)
}
