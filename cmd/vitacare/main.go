package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/vita-care/vitacare/internal/agent"
	"github.com/vita-care/vitacare/internal/api"
	"github.com/vita-care/vitacare/internal/flow"
	"github.com/vita-care/vitacare/internal/genai"
	"github.com/vita-care/vitacare/internal/messaging"
	"github.com/vita-care/vitacare/internal/models"
	"github.com/vita-care/vitacare/internal/reminder"
	"github.com/vita-care/vitacare/internal/scheduler"
	"github.com/vita-care/vitacare/internal/store"
	"github.com/vita-care/vitacare/internal/twiliowhatsapp"
	"github.com/vita-care/vitacare/internal/whatsapp"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for VITA-Care state data
	DefaultStateDir = "/var/lib/vitacare"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "vitacare.db"
	// DefaultReminderCron runs the appointment reminder cycle hourly
	DefaultReminderCron = "0 * * * *"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping VITA-Care with configured modules")
	if err := runService(ctx, config, flags); err != nil {
		slog.Error("VITA-Care failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("VITA-Care exited successfully")
}

// Config holds environment configuration
type Config struct {
	WhatsAppDSN  string
	DatabaseURL  string
	StateDir     string
	AgentURL     string
	AgentToken   string
	OpenAIKey    string
	APIAddr      string
	ReminderCron string
	TwilioSID    string
	TwilioToken  string
	TwilioFrom   string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput     *string
	numeric      *bool
	stateDir     *string
	dbDSN        *string
	agentURL     *string
	openaiKey    *string
	apiAddr      *string
	reminderCron *string
	useTwilio    *bool
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
		WhatsAppDSN:  os.Getenv("WHATSAPP_DB_DSN"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("VITACARE_STATE_DIR"),
		AgentURL:     os.Getenv("AGENT_API_URL"),
		AgentToken:   os.Getenv("AGENT_API_TOKEN"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		APIAddr:      os.Getenv("API_ADDR"),
		ReminderCron: os.Getenv("REMINDER_CRON"),
		TwilioSID:    os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:  os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:   os.Getenv("TWILIO_FROM_NUMBER"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No VITACARE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("VITACARE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// Default to the shared database URL if no WhatsApp-specific DSN is set
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = config.DatabaseURL
		if config.DatabaseURL != "" {
			slog.Debug("Using DATABASE_URL as WHATSAPP_DB_DSN", "dsn_set", true)
		}
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.WhatsAppDSN)
	}

	if config.ReminderCron == "" {
		config.ReminderCron = DefaultReminderCron
	}

	slog.Debug("environment variables loaded",
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"VITACARE_STATE_DIR", config.StateDir,
		"AGENT_API_URL", config.AgentURL,
		"AGENT_API_TOKEN_SET", config.AgentToken != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"API_ADDR", config.APIAddr,
		"REMINDER_CRON", config.ReminderCron,
		"TWILIO_CONFIGURED", config.TwilioSID != "" && config.TwilioToken != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		qrOutput:     flag.String("qr-output", "", "path to write login QR code"),
		numeric:      flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for VITA-Care data (overrides $VITACARE_STATE_DIR)"),
		dbDSN:        flag.String("db-dsn", config.WhatsAppDSN, "database DSN for WhatsApp and the store (overrides $WHATSAPP_DB_DSN or $DATABASE_URL)"),
		agentURL:     flag.String("agent-url", config.AgentURL, "scheduling agent base URL (overrides $AGENT_API_URL)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key for intent classification (overrides $OPENAI_API_KEY)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		reminderCron: flag.String("reminder-cron", config.ReminderCron, "cron schedule for the appointment reminder cycle (overrides $REMINDER_CRON)"),
		useTwilio:    flag.Bool("use-twilio", config.TwilioSID != "" && config.TwilioToken != "", "send notifications over Twilio instead of whatsmeow"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"agentURL", *flags.agentURL,
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"reminderCron", *flags.reminderCron,
		"useTwilio", *flags.useTwilio)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.WhatsAppDSN && config.WhatsAppDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	// Ensure state directory exists if we're using a file-based DSN
	if !strings.Contains(*flags.dbDSN, "postgres://") && !strings.Contains(*flags.dbDSN, "host=") {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildStore opens the persistence backend matching the configured DSN.
func buildStore(flags Flags) (store.Store, error) {
	if *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return store.NewPostgresStore(store.WithPostgresDSN(*flags.dbDSN))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", *flags.dbDSN)
	return store.NewSQLiteStore(store.WithSQLiteDSN(*flags.dbDSN))
}

// buildMessagingService selects the notification transport: whatsmeow by
// default, Twilio when credentials are configured. The returned reporter is
// nil for transports without a link-status signal.
func buildMessagingService(config Config, flags Flags) (messaging.Service, api.ConnectionReporter, error) {
	if *flags.useTwilio {
		slog.Info("Using Twilio WhatsApp transport")
		client, err := twiliowhatsapp.NewClient(
			twiliowhatsapp.WithAccountSID(config.TwilioSID),
			twiliowhatsapp.WithAuthToken(config.TwilioToken),
			twiliowhatsapp.WithFromWhats(config.TwilioFrom),
		)
		if err != nil {
			return nil, nil, err
		}
		return messaging.NewTwilioService(client), nil, nil
	}

	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.dbDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.dbDSN))
	}
	waClient, err := whatsapp.NewClient(waOpts...)
	if err != nil {
		return nil, nil, err
	}
	svc := messaging.NewWhatsAppService(waClient)
	return svc, svc, nil
}

// buildClassifier wires the GenAI intent classifier when an OpenAI key is
// configured; conversations otherwise fall back to keyword matching.
func buildClassifier(flags Flags) (flow.IntentClassifier, error) {
	if *flags.openaiKey == "" {
		return nil, nil
	}
	gaClient, err := genai.NewClient(genai.WithAPIKey(*flags.openaiKey))
	if err != nil {
		return nil, err
	}
	slog.Debug("GenAI intent classifier configured")
	return flow.NewGenAIClassifier(gaClient), nil
}

// runService wires every module together and blocks until shutdown.
func runService(ctx context.Context, config Config, flags Flags) error {
	st, err := buildStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	var agentOpts []agent.Option
	if *flags.agentURL != "" {
		agentOpts = append(agentOpts, agent.WithBaseURL(*flags.agentURL))
	}
	agentClient, err := agent.NewClient(agentOpts...)
	if err != nil {
		return err
	}

	msgService, relayStatus, err := buildMessagingService(config, flags)
	if err != nil {
		return err
	}
	if err := msgService.Start(ctx); err != nil {
		return err
	}
	defer msgService.Stop()

	classifier, err := buildClassifier(flags)
	if err != nil {
		return err
	}

	// Relay conversations are keyed by the sender's phone number; confirmed
	// bookings keep that contact so the reminder cycle can reach them. The
	// conversation ID is derived from the contact so the persisted transcript
	// is picked up again after a restart.
	router := flow.NewRouter(func(contact string) (*flow.Conversation, error) {
		opts := []flow.ConversationOption{
			flow.WithStateManager(flow.NewStoreBasedStateManager(st)),
			flow.WithBookingObserver(func(rec models.BookingRecord) {
				rec.Contact = contact
				if err := st.SaveBooking(rec); err != nil {
					slog.Error("Failed to store confirmed booking", "error", err, "scheduleID", rec.ScheduleID)
				}
			}),
		}
		if classifier != nil {
			opts = append(opts, flow.WithClassifier(classifier))
		}
		conv := flow.NewConversation("wa_"+contact, contact, config.AgentToken, agentClient, opts...)
		if err := conv.Restore(context.Background()); err != nil {
			slog.Warn("Failed to restore conversation state", "error", err, "contact", contact)
		}
		return conv, nil
	})

	relay := messaging.NewConversationRelay(router, msgService)
	respHandler := messaging.NewResponseHandler(msgService, messaging.WithResponseStore(st))
	respHandler.SetFallbackAction(relay.Action())
	respHandler.Start(ctx)

	// Reminder cycle
	sched := scheduler.NewScheduler()
	defer sched.Stop()
	rem := reminder.NewReminder(st, msgService)
	if err := sched.AddJob(*flags.reminderCron, func() {
		if err := rem.Run(context.Background()); err != nil {
			slog.Error("Reminder cycle failed", "error", err)
		}
	}); err != nil {
		return err
	}

	apiOpts := []api.Option{}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if classifier != nil {
		apiOpts = append(apiOpts, api.WithIntentClassifier(classifier))
	}
	if relayStatus != nil {
		apiOpts = append(apiOpts, api.WithRelayStatus(relayStatus))
	}
	server := api.NewServer(msgService, respHandler, st, agentClient, apiOpts...)
	return server.Run(ctx)
}
