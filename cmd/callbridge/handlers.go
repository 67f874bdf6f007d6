// handlers.go contains the implementations behind the cobra commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/aimhi-ai/callbridge/internal/bridge"
	"github.com/aimhi-ai/callbridge/internal/callcontext"
	"github.com/aimhi-ai/callbridge/internal/config"
	"github.com/aimhi-ai/callbridge/internal/observability"
	"github.com/aimhi-ai/callbridge/internal/schedule"
	"github.com/aimhi-ai/callbridge/internal/transcript"
	"github.com/aimhi-ai/callbridge/internal/voice"
)

// loadConfig reads the config file when it exists; otherwise it falls back
// to defaults plus environment variables so the bridge runs without a file.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

func newLogger(cfg *config.Config, debug bool) *observability.Logger {
	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
}

// runServe starts the bridge and blocks until SIGINT/SIGTERM.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg, debug)
	metrics := observability.NewMetrics()

	tracer, stopTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName:    "callbridge",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		Endpoint:       cfg.Tracing.Endpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		EnableInsecure: cfg.Tracing.Insecure,
	})
	defer func() {
		if err := stopTracer(context.Background()); err != nil {
			logger.Warn(ctx, "trace exporter shutdown failed", "error", err)
		}
	}()

	backend, err := callcontext.NewFileBackend(cfg.Contexts.Dir)
	if err != nil {
		return fmt.Errorf("context storage: %w", err)
	}
	contexts := callcontext.NewStore(backend, logger, metrics)
	recorder := transcript.NewRecorder(cfg.Transcripts.Dir, logger, metrics)

	var provider *voice.TwilioProvider
	if cfg.Twilio.AccountSID != "" && cfg.Twilio.AuthToken != "" {
		provider, err = voice.NewTwilioProvider(voice.TwilioConfig{
			AccountSID: cfg.Twilio.AccountSID,
			AuthToken:  cfg.Twilio.AuthToken,
			FromNumber: cfg.Twilio.FromNumber,
			PublicURL:  cfg.Server.PublicURL,
			StreamPath: cfg.Server.StreamPath,
		})
		if err != nil {
			return err
		}
	} else {
		logger.Warn(ctx, "twilio credentials not configured, outbound dialing disabled")
	}

	var llm *schedule.LLMExtractor
	if cfg.OpenAI.APIKey != "" {
		llm = schedule.NewLLMExtractor(cfg.OpenAI.APIKey, cfg.OpenAI.ExtractionModel)
	}
	sweeper := schedule.NewSweeper(cfg.Transcripts.Dir, llm, logger)

	supervisor := bridge.NewSupervisor(cfg, contexts, recorder, provider, sweeper, logger, metrics, tracer)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return supervisor.Start(runCtx)
}

// runExtract sweeps transcripts for confirmed interview slots and prints
// what it finds.
func runExtract(ctx context.Context, configPath, file string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg, false)

	var llm *schedule.LLMExtractor
	if cfg.OpenAI.APIKey != "" {
		llm = schedule.NewLLMExtractor(cfg.OpenAI.APIKey, cfg.OpenAI.ExtractionModel)
	}
	sweeper := schedule.NewSweeper(cfg.Transcripts.Dir, llm, logger)

	var results []schedule.Result
	if file != "" {
		result, err := sweeper.ProcessFile(ctx, file)
		if err != nil {
			return err
		}
		results = []schedule.Result{result}
	} else {
		results, err = sweeper.ProcessAll(ctx)
		if err != nil {
			return err
		}
	}

	found := 0
	for _, r := range results {
		if r.Found {
			found++
			fmt.Printf("%s: %s at %s (%s)\n", r.File, r.Slot.FormattedDate, r.Slot.FormattedTime, r.Slot.Method)
		} else {
			fmt.Printf("%s: no interview slot found\n", r.File)
		}
	}
	fmt.Printf("%d of %d transcripts had a confirmed slot\n", found, len(results))
	return nil
}

// runContextsShow prints the durable call-context state as JSON.
func runContextsShow(configPath string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}

	staged, batch, attached := store.Snapshot()
	out := map[string]any{
		"staged":   staged,
		"batch":    batch,
		"attached": attached,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// runContextsClear removes context for one call or wipes everything.
func runContextsClear(configPath, callSID string, all bool) error {
	if !all && callSID == "" {
		return errors.New("pass a call SID or --all")
	}

	store, err := openStore(configPath)
	if err != nil {
		return err
	}

	if all {
		store.ClearAll()
		fmt.Println("cleared all call context")
		return nil
	}
	store.Clear(callSID)
	fmt.Printf("cleared context for %s\n", callSID)
	return nil
}

func openStore(configPath string) (*callcontext.Store, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, false)

	backend, err := callcontext.NewFileBackend(cfg.Contexts.Dir)
	if err != nil {
		return nil, fmt.Errorf("context storage: %w", err)
	}
	return callcontext.NewStore(backend, logger, observability.NewMetrics()), nil
}
