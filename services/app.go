package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"gent/config"
)

// ModelsWithLimits returns the default registry with daily limits overridden by
// limits. Unknown keys are ignored.
func ModelsWithLimits(limits map[string]int) []ModelSpec {
	specs := DefaultModels()
	for i := range specs {
		if l, ok := limits[specs[i].Key]; ok && l >= 0 {
			specs[i].DailyLimit = l
		}
	}
	return specs
}

// App holds the wired services shared by the HTTP server and the CLI.
type App struct {
	Config      *config.Config
	State       *StateStore
	Chat        *ChatService
	Cleaner     *TextCleaner
	Finder      *AvailabilityFinder
	Dispatcher  *ToolDispatcher
	Notifier    *TeamsNotifier
	Transcripts *TranscriptStore
	Submissions *SubmissionStore

	log zerolog.Logger
}

// AppOption customizes NewApp.
type AppOption func(*appOptions)

type appOptions struct {
	clients ClientFactory
}

// WithClientFactory replaces the Gemini client factory.
func WithClientFactory(f ClientFactory) AppOption {
	return func(o *appOptions) { o.clients = f }
}

// NewApp builds every service from cfg. Optional integrations stay nil when
// their settings are empty.
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...AppOption) (*App, error) {
	o := appOptions{clients: NewGeminiClientFactory(cfg.GeminiBaseURL)}
	for _, opt := range opts {
		opt(&o)
	}
	loc := cfg.Location()

	app := &App{
		Config:  cfg,
		Cleaner: NewTextCleaner(),
		log:     log,
	}
	app.State = NewStateStore(StateOptions{
		Models:           ModelsWithLimits(cfg.ModelLimits),
		APIKeys:          cfg.APIKeys(),
		DefaultModel:     cfg.DefaultModel,
		MaxHistory:       cfg.MaxHistory,
		MaxConversations: cfg.MaxConversations,
		Location:         loc,
	})
	if !app.State.IsKnownModel(cfg.DefaultModel) {
		return nil, fmt.Errorf("DEFAULT_MODEL %q is not a known model", cfg.DefaultModel)
	}

	backends := ToolBackends{Location: loc}
	if cfg.AzureClientID != "" {
		graph := NewGraphClient(ctx, GraphConfig{
			TenantID:     cfg.AzureTenantID,
			ClientID:     cfg.AzureClientID,
			ClientSecret: cfg.AzureClientSecret,
			BaseURL:      cfg.GraphBaseURL,
			Location:     loc,
		}, log)
		app.Finder = NewAvailabilityFinder(graph, AvailabilityOptions{
			Location:  loc,
			StartHour: cfg.WorkdayStartHour,
			EndHour:   cfg.WorkdayEndHour,
			MaxSlots:  cfg.MaxSlots,
		}, log)
		backends.Calendar = NewCalendarService(graph, loc, log)
		backends.Slots = app.Finder
	} else {
		log.Warn().Msg("AZURE_CLIENT_ID is not set, calendar tools are disabled")
	}
	if cfg.CEMAPIURL != "" {
		backends.Records = NewCEMClient(CEMConfig{
			BaseURL:  cfg.CEMAPIURL,
			Username: cfg.CEMUsername,
			Password: cfg.CEMPassword,
		}, log)
	}
	if cfg.DocumentBaseURL != "" {
		backends.Documents = NewDocumentClient(cfg.DocumentBaseURL, cfg.DocumentMaxBytes, log)
	}
	app.Dispatcher = NewToolDispatcher(backends, log)

	if cfg.TeamsWebhookURL != "" {
		app.Notifier = NewTeamsNotifier(cfg.TeamsWebhookURL, log)
	}

	var archive Archiver
	if cfg.TranscriptTable != "" {
		db, err := NewDynamoDBClient(ctx, cfg.DynamoDBEndpoint, cfg.DynamoDBRegion)
		if err != nil {
			return nil, err
		}
		app.Transcripts = NewTranscriptStore(db, cfg.TranscriptTable, log)
		if err := app.Transcripts.EnsureTable(ctx); err != nil {
			// アーカイブは必須ではないので起動は続ける
			log.Warn().Err(err).Msg("transcript table is not available")
		}
		archive = app.Transcripts
	}

	if cfg.PostgresURL != "" {
		subs, err := NewSubmissionStore(ctx, cfg.PostgresURL, log)
		if err != nil {
			return nil, err
		}
		if err := subs.EnsureSchema(ctx); err != nil {
			subs.Close()
			return nil, err
		}
		app.Submissions = subs
	}

	invoker := NewModelInvoker(app.State, o.clients, cfg.ModelTimeout, loc, log)
	orchestrator := NewOrchestrator(invoker, app.Dispatcher, Registry(), cfg.MaxToolRounds, log)
	app.Chat = NewChatService(app.State, orchestrator, archive, log)
	return app, nil
}

// Close releases the database connections.
func (a *App) Close() error {
	var errs []error
	if a.Submissions != nil {
		errs = append(errs, a.Submissions.Close())
	}
	return errors.Join(errs...)
}
