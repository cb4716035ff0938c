package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nevindra/bigcontext"
	"github.com/nevindra/bigcontext/internal/config"
	"github.com/nevindra/bigcontext/internal/server"
	"github.com/nevindra/bigcontext/observer"
	"github.com/nevindra/bigcontext/provider/resolve"
	"github.com/nevindra/bigcontext/store/postgres"
	"github.com/nevindra/bigcontext/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to bigcontext.toml")
	flag.Parse()

	cfg := config.Load(*configPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		log.Fatalf("init store: %v", err)
	}
	defer store.Close()

	catalog := bigcontext.NewCatalog(staticCatalogSource{models: cfg.Models})

	client, err := resolve.RemoteClient(resolve.Config{
		Name:        cfg.Provider.Name,
		APIKey:      cfg.Provider.APIKey,
		BaseURL:     cfg.Provider.BaseURL,
		Temperature: cfg.Provider.Temperature,
		TopP:        cfg.Provider.TopP,
	})
	if err != nil {
		log.Fatalf("resolve provider: %v", err)
	}

	if cfg.Scheduler.RPM > 0 || cfg.Scheduler.TPM > 0 {
		var opts []bigcontext.RateLimitOption
		if cfg.Scheduler.RPM > 0 {
			opts = append(opts, bigcontext.RPM(cfg.Scheduler.RPM))
		}
		if cfg.Scheduler.TPM > 0 {
			opts = append(opts, bigcontext.TPM(cfg.Scheduler.TPM))
		}
		client = bigcontext.WithRateLimit(client, opts...)
	}

	maxRetries := cfg.Scheduler.MaxRetries
	if maxRetries <= 0 {
		maxRetries = bigcontext.MaxRetries
	}
	client = bigcontext.WithRetry(client,
		bigcontext.RetryMaxAttempts(maxRetries),
		bigcontext.RetryBaseDelay(time.Second))

	hooks := bigcontext.NewHookChain()
	if cfg.Guardrails.InjectionDetection {
		hooks.Add(bigcontext.NewInjectionHook(bigcontext.InjectionPatterns(cfg.Guardrails.InjectionPatterns...)))
	}

	var tracer bigcontext.Tracer
	scheduler := bigcontext.NewScheduler(store, client, tracer, hooks,
		bigcontext.WithMaxConcurrency(cfg.Scheduler.MaxConcurrency))
	stitcher := bigcontext.NewStitcher(client, tracer)
	runner := bigcontext.NewJobRunner(store, scheduler, stitcher, catalog)

	var jobRunner server.Runner = runner
	var shutdownObserver func(context.Context) error

	if cfg.Observability.OTELEnabled {
		pricing := observerPricing(cfg.Observability.Pricing)
		inst, shutdown, err := observer.Init(ctx, pricing)
		if err != nil {
			log.Fatalf("init observability: %v", err)
		}
		shutdownObserver = shutdown
		tracer = observer.NewTracer()

		observedClient := observer.WrapRemoteClient(client, inst)
		scheduler = bigcontext.NewScheduler(store, observedClient, tracer, hooks,
			bigcontext.WithMaxConcurrency(cfg.Scheduler.MaxConcurrency))
		stitcher = bigcontext.NewStitcher(observedClient, tracer)
		runner = bigcontext.NewJobRunner(store, scheduler, stitcher, catalog)
		jobRunner = observer.WrapJobRunner(runner, inst)
	}

	publisher := bigcontext.NewPublisher(store)

	mux := server.New(server.Deps{
		Store:     store,
		Runner:    jobRunner,
		Publisher: publisher,
		Models:    catalog,
	})

	httpServer := server.NewHTTPServer(cfg.Server.ListenAddr, mux)

	go func() {
		log.Printf("bigcontext listening on %s", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	if shutdownObserver != nil {
		if err := shutdownObserver(shutCtx); err != nil {
			log.Printf("observability shutdown: %v", err)
		}
	}
}

func openStore(ctx context.Context, cfg config.Config) (bigcontext.Store, error) {
	switch cfg.Database.Backend {
	case "postgres":
		return postgres.New(ctx, cfg.Database.PostgresDSN)
	default:
		return sqlite.New(cfg.Database.SQLitePath), nil
	}
}

// staticCatalogSource implements bigcontext.CatalogSource over the
// operator-supplied [[models]] config section. Fetching a live catalog from
// a provider's model-listing endpoint is an external collaborator's
// concern; the engine only ever needs a handful of per-model fields, which
// an operator can hand-maintain here instead.
type staticCatalogSource struct {
	models []config.ModelConfig
}

func (s staticCatalogSource) ListModels(ctx context.Context) ([]bigcontext.ModelInfo, error) {
	out := make([]bigcontext.ModelInfo, len(s.models))
	for i, m := range s.models {
		out[i] = bigcontext.ModelInfo{
			ID:                    m.ID,
			Name:                  m.Name,
			ContextLength:         m.ContextLength,
			MaxOutput:             m.MaxOutput,
			InputPricePerMillion:  m.InputPricePerMillion,
			OutputPricePerMillion: m.OutputPricePerMillion,
		}
	}
	return out, nil
}

func observerPricing(cfg map[string]config.ObserverPricing) map[string]observer.ModelPricing {
	out := make(map[string]observer.ModelPricing, len(cfg))
	for id, p := range cfg {
		out[id] = observer.ModelPricing{InputPerMillion: p.InputPerMillion, OutputPerMillion: p.OutputPerMillion}
	}
	return out
}
