package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/personacore/core/internal/adapter/httpclient"
	"github.com/personacore/core/internal/adapter/keyring"
	"github.com/personacore/core/internal/adapter/nats"
	"github.com/personacore/core/internal/adapter/notify"
	"github.com/personacore/core/internal/adapter/otel"
	"github.com/personacore/core/internal/adapter/postgres"
	"github.com/personacore/core/internal/adapter/ristretto"
	"github.com/personacore/core/internal/adapter/vault"
	"github.com/personacore/core/internal/adapter/webhook"
	"github.com/personacore/core/internal/adapter/ws"
	"github.com/personacore/core/internal/config"
	"github.com/personacore/core/internal/engine/chain"
	"github.com/personacore/core/internal/engine/concurrency"
	"github.com/personacore/core/internal/engine/dispatcher"
	"github.com/personacore/core/internal/engine/eventbus"
	"github.com/personacore/core/internal/engine/executor"
	"github.com/personacore/core/internal/engine/healthcheck"
	"github.com/personacore/core/internal/engine/knowledge"
	"github.com/personacore/core/internal/engine/polling"
	"github.com/personacore/core/internal/engine/ratelimit"
	"github.com/personacore/core/internal/engine/strategy"
	"github.com/personacore/core/internal/engine/subscription"
	"github.com/personacore/core/internal/engine/triggersched"
	"github.com/personacore/core/internal/logger"
	"github.com/personacore/core/internal/port/clock"
	portbus "github.com/personacore/core/internal/port/eventbus"
	"github.com/personacore/core/internal/port/store"
	"github.com/personacore/core/internal/resilience"
)

func newID() string { return uuid.New().String() }

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) > 1 && os.Args[1] == "vault-init" {
		if err := runVaultInit(os.Args[2:]); err != nil {
			slog.Error("fatal", "error", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer closer.Close()

	slog.Info("config loaded",
		"pg_max_conns", cfg.Postgres.MaxConns,
		"webhook_addr", cfg.Webhook.Host+":"+cfg.Webhook.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Persistence ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	st := postgres.NewStore(pool)

	// --- Tracing (ambient, no-op unless configured) ---

	shutdownTracing, err := otel.InitTracer(otel.OTELConfig{
		Enabled:     cfg.OTEL.Enabled,
		Endpoint:    cfg.OTEL.Endpoint,
		ServiceName: cfg.OTEL.ServiceName,
		Insecure:    cfg.OTEL.Insecure,
		SampleRate:  cfg.OTEL.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Error("otel shutdown error", "error", err)
		}
	}()

	// --- Secrets and credentials ---

	keyringPath, err := resolveKeyringPath(cfg.Vault.MasterKeyPath)
	if err != nil {
		return fmt.Errorf("keyring path: %w", err)
	}
	kr := keyring.New(keyringPath)

	vlt, err := vault.Open(ctx, kr, st)
	if err != nil {
		return fmt.Errorf("vault: %w", err)
	}
	slog.Info("vault opened", "master_key_path", keyringPath)

	// --- Outbound HTTP (shared breaker across connector calls) ---

	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	httpClient := httpclient.New(30 * time.Second)
	httpClient.SetBreaker(breaker)

	strategyRegistry := strategy.NewRegistry(httpClient)

	l1Cache, err := ristretto.New(cfg.Cache.MaxCostMB * 1024 * 1024)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1Cache.Close()

	prober := &healthcheck.Prober{HTTP: httpClient, Strategy: strategyRegistry, Audit: st, Cache: l1Cache}

	// --- Desktop notifications ---

	desktopNotifier := notify.NewLogNotifier(slog.Default())

	// --- Optional lossy UI event mirrors: websocket hub + NATS ---

	wsHub := ws.NewHub(cfg.Websocket.AllowOrigin)

	// publisher fans out to the websocket hub unconditionally (it has no
	// external dependency to fail) plus NATS when configured. It stays a
	// true nil portbus.Publisher only if neither sink is available, which
	// cannot happen here since the hub is always present — but the pattern
	// mirrors the executor/eventbus nil-interface guard regardless: a nil
	// *nats.Queue is never assigned directly to an interface-typed field.
	var publisher portbus.Publisher = wsHub
	if cfg.NATS.URL != "" {
		queue, err := nats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			slog.Warn("nats: connect failed, falling back to websocket-only UI mirror", "error", err)
		} else {
			queue.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
			defer queue.Close()
			publisher = fanoutPublisher{wsHub, queue}
		}
	}

	// --- Execution pipeline ---

	realClock := clock.System{}
	tracker := concurrency.New()

	disp := &dispatcher.Dispatcher{
		Store:    st,
		Notifier: desktopNotifier,
		Clock:    realClock,
		NewID:    newID,
		Logger:   slog.Default(),
	}

	chainEval := &chain.Evaluator{
		Store:    st,
		Clock:    realClock,
		NewID:    newID,
		MaxDepth: cfg.Chain.MaxDepth,
	}

	know := &knowledge.Extractor{
		Store: st,
		Clock: realClock,
		NewID: newID,
	}

	execEngine := &executor.Engine{
		Store:      st,
		Tracker:    tracker,
		Vault:      vlt,
		Strategy:   strategyRegistry,
		Dispatcher: disp,
		Chain:      chainEval,
		Knowledge:  know,
		Publisher:  publisher,
		Clock:      realClock,
		NewID:      newID,
		Logger:     slog.Default(),
	}

	bus := &eventbus.Bus{
		Store:     st,
		Tracker:   tracker,
		Launcher:  execEngine,
		Clock:     realClock,
		NewID:     newID,
		Logger:    slog.Default(),
		Publisher: publisher,
	}

	schedSched := &triggersched.Scheduler{
		Store:  st,
		Clock:  realClock,
		NewID:  newID,
		Logger: slog.Default(),
	}

	pollEngine := &polling.Engine{
		Store:  st,
		HTTP:   httpClient,
		Clock:  realClock,
		NewID:  newID,
		Logger: slog.Default(),
	}

	// --- Reactive scheduler: one tick() per source, on its own interval ---

	scheduler := subscription.New(slog.Default(),
		subscription.Subscription{
			Name:     "event_bus",
			Interval: cfg.Scheduler.EventBusInterval,
			Tick:     bus.Tick,
		},
		subscription.Subscription{
			Name:     "trigger_schedule",
			Interval: cfg.Scheduler.TriggerInterval,
			Tick:     schedSched.Tick,
		},
		subscription.Subscription{
			Name:         "trigger_polling",
			Interval:     cfg.Scheduler.PollingInterval,
			InitialDelay: cfg.Scheduler.PollingInitialDelay,
			Tick:         pollEngine.Tick,
		},
		subscription.Subscription{
			Name:     "event_cleanup",
			Interval: cfg.Scheduler.EventCleanupInterval,
			Tick:     eventCleanupTick(st, realClock),
		},
		subscription.Subscription{
			Name:         "credential_rotation",
			Interval:     cfg.Scheduler.CredentialRotationInterval,
			InitialDelay: cfg.Scheduler.CredentialRotationInitialDelay,
			Tick:         credentialRotationTick(vlt),
		},
	)
	scheduler.Start(ctx)
	slog.Info("subscription scheduler started")

	// --- Webhook receiver: its own server, separate from any public API ---

	webhookReceiver := &webhook.Receiver{
		Store:   st,
		Limiter: ratelimit.New(),
		Clock:   realClock,
		NewID:   newID,
		Logger:  slog.Default(),
	}

	router := chi.NewRouter()
	router.Mount("/", webhookReceiver.Router())
	router.Post("/connectors/{credential_id}/healthcheck", connectorHealthcheckHandler(st, vlt, prober, wsHub))
	router.Get("/ws", wsHub.HandleWS)

	webhookSrv := &http.Server{
		Addr:              cfg.Webhook.Host + ":" + cfg.Webhook.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.Info("starting webhook receiver", "addr", webhookSrv.Addr)
		if err := webhookSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("webhook server failed", "error", err)
		}
	}()

	<-ctx.Done()

	slog.Info("shutdown: stopping webhook receiver")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := webhookSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("webhook shutdown error", "error", err)
	}

	slog.Info("shutdown: stopping subscription scheduler")
	scheduler.Stop()
	scheduler.Wait()

	slog.Info("shutdown complete")
	return nil
}

// fanoutPublisher publishes to every underlying publisher, logging but
// never surfacing a single sink's failure — both sinks here are already
// lossy/optional UI mirrors, so one dropping a message must never affect
// the other or the caller.
type fanoutPublisher []portbus.Publisher

func (f fanoutPublisher) Publish(ctx context.Context, subject string, payload []byte) error {
	for _, p := range f {
		if err := p.Publish(ctx, subject, payload); err != nil {
			slog.Debug("fanout publish failed for one sink", "subject", subject, "error", err)
		}
	}
	return nil
}

// resolveKeyringPath expands any $VAR references in configured (e.g.
// $XDG_STATE_HOME/personacore/master.key) and uses the result when the
// expansion changed it. A configured value with nothing to expand is used
// only if a file already exists at that path; otherwise, and for an empty
// value, it falls back to keyring.DefaultPath.
func resolveKeyringPath(configured string) (string, error) {
	expanded := os.ExpandEnv(configured)
	if expanded != "" && expanded != configured {
		return expanded, nil
	}
	if expanded != "" {
		if _, err := os.Stat(expanded); err == nil {
			return expanded, nil
		}
	}
	return keyring.DefaultPath()
}

// eventCleanupTick deletes event rows older than 30 days, keeping the
// events table from growing unbounded once triggers and the event bus
// have long since finished with them.
func eventCleanupTick(st store.Store, clk clock.Clock) func(context.Context) error {
	const retention = 30 * 24 * time.Hour
	return func(ctx context.Context) error {
		cutoff := clk.Now().Add(-retention)
		n, err := st.DeleteEventsOlderThan(ctx, cutoff)
		if err != nil {
			return err
		}
		if n > 0 {
			slog.Debug("event_cleanup: deleted old events", "count", n)
		}
		return nil
	}
}

// credentialRotationTick re-encrypts any credential rows still carrying the
// plaintext sentinel nonce, a backlog that can only exist right after the
// vault is enabled on a store that predates it.
func credentialRotationTick(vlt *vault.Vault) func(context.Context) error {
	return func(ctx context.Context) error {
		migrated, failed, err := vlt.MigratePlaintext(ctx)
		if err != nil {
			return err
		}
		if migrated > 0 || failed > 0 {
			slog.Info("credential_rotation: pass complete", "migrated", migrated, "failed", failed)
		}
		return nil
	}
}

// connectorHealthcheckHandler lets the desktop UI ask, on demand, whether a
// stored credential's connector is currently reachable, without waiting for
// the credential to be exercised by a real execution.
func connectorHealthcheckHandler(st store.Store, vlt *vault.Vault, prober *healthcheck.Prober, wsHub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credentialID := chi.URLParam(r, "credential_id")

		cred, err := st.GetCredential(r.Context(), credentialID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		conn, err := st.GetConnector(r.Context(), cred.ServiceType)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		fields, err := vlt.Open(cred)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}

		result := prober.Check(r.Context(), cred, conn, fields)

		wsHub.BroadcastEvent(r.Context(), ws.EventConnectorHealth, ws.ConnectorHealthEvent{
			CredentialID: credentialID,
			Success:      result.Success,
			StatusCode:   result.StatusCode,
			Error:        result.Error,
		})

		w.Header().Set("Content-Type", "application/json")
		if !result.Success {
			w.WriteHeader(http.StatusBadGateway)
		}
		_ = json.NewEncoder(w).Encode(result)
	}
}
