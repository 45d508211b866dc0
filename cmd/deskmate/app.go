package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/user/deskmate/internal/adapters"
	"github.com/user/deskmate/internal/adapters/google"
	mediaopenai "github.com/user/deskmate/internal/adapters/openai"
	"github.com/user/deskmate/internal/classify"
	"github.com/user/deskmate/internal/compose"
	"github.com/user/deskmate/internal/config"
	ctxengine "github.com/user/deskmate/internal/context"
	"github.com/user/deskmate/internal/delivery"
	"github.com/user/deskmate/internal/dispatch"
	"github.com/user/deskmate/internal/metrics"
	"github.com/user/deskmate/internal/runtime"
	"github.com/user/deskmate/internal/runtime/tools"
	"github.com/user/deskmate/internal/scheduler"
	"github.com/user/deskmate/internal/session"
	"github.com/user/deskmate/internal/slots"
	"github.com/user/deskmate/internal/state"
	"github.com/user/deskmate/pkg/llm"
	"github.com/user/deskmate/pkg/llm/openai"
)

// app holds everything a turn needs. serve and chat both build one.
type app struct {
	cfg          *config.Config
	sessions     *session.Store
	events       *state.EventStore
	artifacts    *state.ArtifactStore
	reminders    *state.ReminderStore
	scheduler    *scheduler.Scheduler
	delivery     *delivery.Registry
	metrics      *metrics.Metrics
	runtime      *runtime.Runtime
	capabilities []string

	closers []func() error
}

func remindersPath(cfg *config.Config) string {
	return filepath.Join(cfg.DataDir, "reminders.json")
}

// openBackend selects the session backend named by session.backend.
func openBackend(ctx context.Context, cfg *config.Config) (session.Backend, func() error, error) {
	switch cfg.Session.Backend {
	case config.BackendMemory:
		return session.NewMemoryBackend(), nil, nil
	case config.BackendSQLite:
		b, err := session.NewSQLiteBackend(filepath.Join(cfg.DataDir, "sessions.db"))
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	case config.BackendRedis:
		b, err := session.NewRedisBackend(ctx, session.RedisConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.IdleTimeout(),
		})
		if err != nil {
			return nil, nil, err
		}
		return b, b.Close, nil
	default:
		return session.NewFileBackend(cfg.DataDir), nil, nil
	}
}

func newSessionStore(ctx context.Context, cfg *config.Config) (*session.Store, func() error, error) {
	backend, closeFn, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s session backend: %w", cfg.Session.Backend, err)
	}
	return session.NewStore(backend, session.Options{
		Window:      cfg.Session.Window,
		IdleTimeout: cfg.IdleTimeout(),
		TimeZone:    cfg.TimeZone,
	}), closeFn, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		cfg:       cfg,
		events:    state.NewEventStore(cfg.DataDir),
		artifacts: state.NewArtifactStore(cfg.DataDir),
		reminders: state.NewReminderStore(remindersPath(cfg)),
		delivery:  delivery.NewRegistry(),
		metrics:   metrics.New(),
	}

	sessions, closeFn, err := newSessionStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.sessions = sessions
	if closeFn != nil {
		a.closers = append(a.closers, closeFn)
	}

	policy, err := slots.LoadPolicy(cfg.Policy.File)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("load slot policy: %w", err)
	}

	a.scheduler = scheduler.New(a.reminders, a.delivery)
	set := adapters.Set{Reminders: a.scheduler}

	if cfg.Google.AccessToken != "" {
		gcfg := google.Config{
			AccessToken: cfg.Google.AccessToken,
			CalendarID:  cfg.Google.CalendarID,
			TimeZone:    cfg.TimeZone,
		}
		set.Calendar = google.NewCalendar(gcfg)
		set.Email = google.NewGmail(gcfg)
	} else {
		slog.Warn("calendar and email disabled (no google access token)")
	}

	var (
		classifier classify.Classifier = classify.NewRules()
		chat       compose.Chatter
	)
	if cfg.LLM.APIKey != "" {
		client := openai.New(&llm.Config{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			MaxTokens:   cfg.LLM.MaxTokens,
			Temperature: cfg.LLM.Temperature,
		})
		media := mediaopenai.New(client, mediaopenai.Options{
			ImageModel:      cfg.Media.ImageModel,
			ImageSize:       cfg.Media.ImageSize,
			TranscribeModel: cfg.Media.TranscribeModel,
			SpeechModel:     cfg.Media.SpeechModel,
			Voice:           cfg.Media.Voice,
			SpeechFormat:    cfg.Media.SpeechFormat,
		})
		set.Image = media
		set.Speech = media

		engine, err := ctxengine.New(cfg.LLM.Model, cfg.LLM.MaxContextTokens, cfg.LLM.OutputReserve)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("create context engine: %w", err)
		}
		chat = compose.NewLLMChat(client, engine)
		if cfg.LLM.Classify {
			jsonClient := openai.New(&llm.Config{
				BaseURL:     cfg.LLM.BaseURL,
				APIKey:      cfg.LLM.APIKey,
				Model:       cfg.LLM.Model,
				MaxTokens:   cfg.LLM.MaxTokens,
				Temperature: 0,
				JSONMode:    true,
			})
			classifier = classify.NewLLM(jsonClient, engine, classifier, 0)
		}
	} else {
		slog.Warn("images, speech and model classification disabled (no LLM api key)")
	}

	registry := tools.NewRegistry()
	tools.RegisterAdapters(registry, set, a.artifacts)
	a.capabilities = registry.Names()

	a.runtime = runtime.New(runtime.Deps{
		Sessions:     a.sessions,
		Classifier:   classifier,
		Slots:        slots.NewEngine(policy),
		Dispatcher:   dispatch.New(registry, cfg.StepTimeout(), runtime.ToolObserver(a.metrics)),
		Composer:     compose.New(set.Speech, chat),
		Speech:       set.Speech,
		Events:       a.events,
		Artifacts:    a.artifacts,
		Metrics:      a.metrics,
		HistoryTurns: cfg.Session.HistoryTurns,
	})
	return a, nil
}

func (a *app) Close() {
	for _, fn := range a.closers {
		if err := fn(); err != nil {
			slog.Warn("close", "error", err)
		}
	}
}
