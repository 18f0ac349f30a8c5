package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lexcodex/codeengine/caching"
	"github.com/lexcodex/codeengine/cmd/internal/enginecfg"
	"github.com/lexcodex/codeengine/endpoint"
	"github.com/lexcodex/codeengine/handlers"
	"github.com/lexcodex/codeengine/persistence"
	"github.com/lexcodex/codeengine/server"
)

const journalBuffer = 1024

func newServeCmd() *cobra.Command {
	var editorAddr string
	var editorKey string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine: command and event ports, editor link and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if editorAddr != "" {
				cfg.Endpoints.Editor = editorAddr
			}
			if editorKey != "" {
				cfg.EditorKey = editorKey
			}
			if flagAPI != "" {
				cfg.Endpoints.API = flagAPI
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&editorAddr, "editor", "", "Editor JSON-RPC address to connect to")
	cmd.Flags().StringVar(&editorKey, "key", "", "Editor key written to the instance file")
	return cmd
}

func runServe(ctx context.Context, cfg *enginecfg.Config, out io.Writer) error {
	logger, logCloser, err := openLogger(cfg.Logging.File)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	telemetry, telemetryCloser, err := buildTelemetry(logger, cfg.Logging.Events)
	if err != nil {
		return err
	}
	defer telemetryCloser.Close()

	cache := caching.NewTypeCache()
	events := endpoint.NewEventEndpoint(cfg.Endpoints.Events, logger)
	ep := endpoint.NewCommandEndpoint(endpoint.Config{
		EditorKey:   cfg.EditorKey,
		CommandAddr: cfg.Endpoints.Command,
		EditorAddr:  cfg.Endpoints.Editor,
		Workers:     cfg.Dispatch.Workers,
		QueueSize:   cfg.Dispatch.QueueSize,
		Logger:      logger,
		Telemetry:   telemetry,
	}, cache, events)

	symbols := server.NewSymbolServer(cache, cfg.Search.SymbolLimit, logger)
	ep.Editor().SetRequestHandler(symbols.Handle)
	handlers.New(ep, cache, handlers.Options{
		FindLimit: cfg.Search.DefaultLimit,
		Logger:    logger,
		Telemetry: telemetry,
	}).Register(ep)

	if cfg.Journal.Path != "" {
		journal, err := persistence.OpenEventJournal(cfg.Journal.Path)
		if err != nil {
			return err
		}
		defer journal.Close()
		if removed, err := journal.Prune(ctx, cfg.Journal.Keep); err != nil {
			logger.Printf("journal prune failed: %v", err)
		} else if removed > 0 {
			logger.Printf("journal pruned %d events", removed)
		}
		recorder := newJournalRecorder(journal, logger)
		unsubscribe := events.Subscribe(recorder.record)
		defer recorder.close()
		defer unsubscribe()
	}

	if err := events.Start(); err != nil {
		return fmt.Errorf("event endpoint: %w", err)
	}
	defer events.Stop()
	if err := ep.Start(ctx); err != nil {
		return fmt.Errorf("command endpoint: %w", err)
	}
	defer ep.Stop()

	fmt.Fprintf(out, "codeengine command=%s events=%s instance=%s\n", ep.Addr(), events.Addr(), ep.InstanceFile())

	if cfg.Endpoints.API == "" {
		<-ctx.Done()
		return nil
	}
	api, err := server.NewAPIServer(cache, ep, events, server.APIOptions{
		DefaultLimit: cfg.Search.DefaultLimit,
		CacheSize:    cfg.Search.ResultCache,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "codeengine api=%s\n", cfg.Endpoints.API)
	if err := api.ServeContext(ctx, cfg.Endpoints.API); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// journalRecorder appends events off the publishing goroutine.
type journalRecorder struct {
	journal *persistence.EventJournal
	logger  *log.Logger
	queue   chan string
	done    chan struct{}
}

func newJournalRecorder(journal *persistence.EventJournal, logger *log.Logger) *journalRecorder {
	r := &journalRecorder{
		journal: journal,
		logger:  logger,
		queue:   make(chan string, journalBuffer),
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *journalRecorder) record(body string) {
	select {
	case r.queue <- body:
	default:
		r.logger.Printf("journal backlog full, dropped %q", body)
	}
}

func (r *journalRecorder) loop() {
	defer close(r.done)
	for body := range r.queue {
		if err := r.journal.Append(context.Background(), body); err != nil {
			r.logger.Printf("journal append failed: %v", err)
		}
	}
}

// close flushes queued events. Call only after unsubscribing.
func (r *journalRecorder) close() {
	close(r.queue)
	<-r.done
}
