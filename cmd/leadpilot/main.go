package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/leadpilot/leadpilot/internal/api"
	"github.com/leadpilot/leadpilot/internal/broadcast"
	"github.com/leadpilot/leadpilot/internal/dispatcher"
	"github.com/leadpilot/leadpilot/internal/events"
	"github.com/leadpilot/leadpilot/internal/flow"
	"github.com/leadpilot/leadpilot/internal/genai"
	"github.com/leadpilot/leadpilot/internal/lockfile"
	"github.com/leadpilot/leadpilot/internal/messaging"
	"github.com/leadpilot/leadpilot/internal/models"
	"github.com/leadpilot/leadpilot/internal/registry"
	"github.com/leadpilot/leadpilot/internal/retrieval"
	"github.com/leadpilot/leadpilot/internal/scheduler"
	"github.com/leadpilot/leadpilot/internal/sheets"
	"github.com/leadpilot/leadpilot/internal/store"
	"github.com/leadpilot/leadpilot/internal/twilio"
	"github.com/leadpilot/leadpilot/internal/util"
	"github.com/leadpilot/leadpilot/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadPilot state data
	DefaultStateDir = "/var/lib/leadpilot"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "leadpilot.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("LeadPilot failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("LeadPilot exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL     string
	StateDir        string
	OpenAIKey       string
	OpenAIBaseURL   string
	OpenAIModel     string
	APIAddr         string
	RabbitURL       string
	CredentialsFile string
	ExportCron      string
	WhatsAppDSN     string
	UseWebhook      bool
}

// Flags holds command line flag values
type Flags struct {
	qrOutput   *string
	numeric    *bool
	stateDir   *string
	dbDSN      *string
	openaiKey  *string
	apiAddr    *string
	exportCron *string
	useWebhook bool
	config     Config
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
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
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		StateDir:        os.Getenv("LEADPILOT_STATE_DIR"),
		OpenAIKey:       os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:   os.Getenv("OPENAI_BASE_URL"),
		OpenAIModel:     os.Getenv("OPENAI_MODEL"),
		APIAddr:         os.Getenv("API_ADDR"),
		RabbitURL:       os.Getenv("RABBITMQ_URL"),
		CredentialsFile: os.Getenv("GOOGLE_CREDENTIALS_FILE"),
		ExportCron:      os.Getenv("EXPORT_SCHEDULE"),
		WhatsAppDSN:     os.Getenv("WHATSAPP_DB_DSN"),
		UseWebhook:      util.ParseBoolEnv("TELEGRAM_USE_WEBHOOK", false),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No LEADPILOT_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"LEADPILOT_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"RABBITMQ_URL_SET", config.RabbitURL != "",
		"GOOGLE_CREDENTIALS_FILE_SET", config.CredentialsFile != "",
		"EXPORT_SCHEDULE", config.ExportCron,
		"TELEGRAM_USE_WEBHOOK", config.UseWebhook)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:   flag.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:    flag.Bool("numeric-code", false, "use a numeric WhatsApp login code instead of a QR code"),
		stateDir:   flag.String("state-dir", config.StateDir, "state directory for LeadPilot data (overrides $LEADPILOT_STATE_DIR)"),
		dbDSN:      flag.String("db-dsn", config.DatabaseURL, "database DSN for the platform store (overrides $DATABASE_URL)"),
		openaiKey:  flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		apiAddr:    flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		exportCron: flag.String("export-cron", config.ExportCron, "cron schedule for automatic lead exports (overrides $EXPORT_SCHEDULE)"),
		useWebhook: config.UseWebhook,
		config:     config,
	}

	flag.Parse()

	// Keep the SQLite default in step with an overridden state directory.
	if *flags.dbDSN == config.DatabaseURL &&
		config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) &&
		*flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated db DSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// openStore selects the store backend from the DSN shape.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

func run(flags Flags) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Hold the state directory so a second instance cannot long-poll the
	// same bot tokens.
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return fmt.Errorf("failed to lock state directory: %w", err)
	}
	defer lock.Release()

	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	reg, err := registry.New(st)
	if err != nil {
		return fmt.Errorf("failed to load tenant registry: %w", err)
	}
	tenants := reg.All()
	if len(tenants) == 0 {
		slog.Warn("No tenants configured, the service will only answer health checks")
	}

	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if flags.config.OpenAIBaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(flags.config.OpenAIBaseURL))
	}
	if flags.config.OpenAIModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(flags.config.OpenAIModel))
	}
	gaClient, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return fmt.Errorf("failed to create GenAI client: %w", err)
	}

	var publisher events.Publisher
	if flags.config.RabbitURL != "" {
		rabbit, err := events.NewRabbitPublisher(flags.config.RabbitURL, events.DefaultExchange)
		if err != nil {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		defer rabbit.Close()
		publisher = rabbit
	}

	var exporter sheets.LeadExporter
	if flags.config.CredentialsFile != "" {
		credentials, err := os.ReadFile(flags.config.CredentialsFile)
		if err != nil {
			return fmt.Errorf("failed to read Google credentials: %w", err)
		}
		sheetExporter, err := sheets.NewExporter(ctx, credentials)
		if err != nil {
			return fmt.Errorf("failed to create sheets exporter: %w", err)
		}
		exporter = sheetExporter
	}

	broadcaster := broadcast.NewExecutor(st, publisher)

	d := dispatcher.New(dispatcher.Deps{
		Registry:  reg,
		Store:     st,
		States:    flow.NewStoreBasedStateManager(st),
		Retriever: retrieval.NewRetriever(gaClient, st),
		GenAI:     gaClient,
		Broadcast: broadcaster,
		Events:    publisher,
		Sheets:    exporter,
	})

	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	server := api.NewServer(d, reg, apiOpts...)

	transports, err := startTransports(ctx, flags, tenants, d, server)
	if err != nil {
		return err
	}
	defer func() {
		for _, transport := range transports {
			if err := transport.Stop(); err != nil {
				slog.Error("Transport shutdown failed", "error", err)
			}
		}
	}()

	if *flags.exportCron != "" && exporter != nil {
		sched := scheduler.NewScheduler()
		defer sched.Stop()
		if err := sched.AddJob(*flags.exportCron, func() {
			runScheduledExport(st, reg, exporter)
		}); err != nil {
			return fmt.Errorf("invalid export schedule %q: %w", *flags.exportCron, err)
		}
		slog.Info("Scheduled lead export enabled", "cron", *flags.exportCron)
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	slog.Info("LeadPilot running", "tenants", len(tenants), "webhook_mode", flags.useWebhook)

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}
	return server.Stop()
}

// startTransports connects every tenant's messaging channel. Telegram tenants
// either long-poll or register with the webhook server; WhatsApp tenants
// share one linked device client; Twilio tenants mount a status callback.
func startTransports(ctx context.Context, flags Flags, tenants []models.Tenant, d *dispatcher.Dispatcher, server *api.Server) ([]messaging.Service, error) {
	var transports []messaging.Service
	var waClient *whatsapp.Client

	for _, tenant := range tenants {
		switch tenant.Transport {
		case models.TransportTelegram:
			svc, err := messaging.NewTelegramService(tenant.BotToken)
			if err != nil {
				return transports, fmt.Errorf("failed to start Telegram for tenant %d: %w", tenant.ID, err)
			}
			transports = append(transports, svc)
			if flags.useWebhook {
				server.RegisterTransport(tenant.BotToken, svc)
				continue
			}
			if err := svc.Start(ctx); err != nil {
				return transports, fmt.Errorf("failed to start Telegram polling for tenant %d: %w", tenant.ID, err)
			}
			go d.Serve(ctx, tenant.BotToken, svc)

		case models.TransportWhatsApp:
			if waClient == nil {
				var waOpts []whatsapp.Option
				if *flags.qrOutput != "" {
					waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
				}
				if *flags.numeric {
					waOpts = append(waOpts, whatsapp.WithNumericCode())
				}
				if flags.config.WhatsAppDSN != "" {
					waOpts = append(waOpts, whatsapp.WithDBDSN(flags.config.WhatsAppDSN))
				}
				client, err := whatsapp.NewClient(waOpts...)
				if err != nil {
					return transports, fmt.Errorf("failed to create WhatsApp client: %w", err)
				}
				waClient = client
			}
			svc := messaging.NewWhatsAppService(waClient)
			if err := svc.Start(ctx); err != nil {
				return transports, fmt.Errorf("failed to start WhatsApp for tenant %d: %w", tenant.ID, err)
			}
			transports = append(transports, svc)
			go d.Serve(ctx, tenant.BotToken, svc)

		case models.TransportTwilio:
			client, err := twilio.NewClient()
			if err != nil {
				return transports, fmt.Errorf("failed to create Twilio client for tenant %d: %w", tenant.ID, err)
			}
			svc := messaging.NewTwilioService(client)
			if err := svc.Start(ctx); err != nil {
				return transports, fmt.Errorf("failed to start Twilio for tenant %d: %w", tenant.ID, err)
			}
			transports = append(transports, svc)
			server.Handle("/twilio/"+tenant.BotToken, http.HandlerFunc(svc.WebhookHandler))
			go d.Serve(ctx, tenant.BotToken, svc)

		default:
			slog.Warn("Tenant has unknown transport, skipping", "tenant_id", tenant.ID, "transport", tenant.Transport)
		}
	}
	return transports, nil
}

// runScheduledExport pushes the previous week's leads to every tenant sheet.
func runScheduledExport(st store.Store, reg *registry.Registry, exporter sheets.LeadExporter) {
	ctx, cancel := context.WithTimeout(context.Background(), broadcast.DefaultRunTimeout)
	defer cancel()

	for _, tenant := range reg.All() {
		if tenant.SheetID == "" {
			continue
		}
		start, end, title, err := sheets.ResolvePeriod(time.Now(), "", "")
		if err != nil {
			slog.Error("Scheduled export period resolution failed", "tenant_id", tenant.ID, "error", err)
			continue
		}
		leads, err := st.ListLeads(tenant.ID, &start, &end)
		if err != nil {
			slog.Error("Scheduled export query failed", "tenant_id", tenant.ID, "error", err)
			continue
		}
		count, err := exporter.ExportLeads(ctx, tenant.SheetID, title, leads)
		if err != nil {
			slog.Error("Scheduled export failed", "tenant_id", tenant.ID, "error", err)
			continue
		}
		slog.Info("Scheduled export completed", "tenant_id", tenant.ID, "worksheet", title, "leads", count)
	}
}
