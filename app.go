// Package orchestrator is the public entry point for embedding the
// orchestration core described in SPEC_FULL.md. It owns construction and
// lifecycle of every subsystem — Session Supervisor, Session Store, Health
// Monitor, Stream Publisher, Provider Registry, Model Catalog Client, Task
// Router, and the optional audit sink and MCP surface — the same shape as
// the teacher's akashi.go: New(opts...) wires everything without starting
// the subsystems' loops, Run(ctx) starts them and blocks, Shutdown cascades in the
// order spec.md §5 specifies.
//
// The import graph enforces a strict no-cycle rule: orchestrator (root)
// imports internal/*, but internal/* never imports orchestrator.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/agentloom/orchestrator/internal/audit"
	"github.com/agentloom/orchestrator/internal/catalog"
	"github.com/agentloom/orchestrator/internal/config"
	"github.com/agentloom/orchestrator/internal/domain"
	"github.com/agentloom/orchestrator/internal/health"
	"github.com/agentloom/orchestrator/internal/mcp"
	"github.com/agentloom/orchestrator/internal/provider"
	"github.com/agentloom/orchestrator/internal/publisher"
	"github.com/agentloom/orchestrator/internal/registry"
	"github.com/agentloom/orchestrator/internal/router"
	"github.com/agentloom/orchestrator/internal/store"
	"github.com/agentloom/orchestrator/internal/supervisor"
	"github.com/agentloom/orchestrator/internal/telemetry"

	"github.com/redis/go-redis/v9"
)

// App is the orchestration core's lifecycle. Construct with New(), run with
// Run(). App has no public fields — use New() options or the Config env
// vars to configure it.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	rdb        *redis.Client
	store      *store.Store
	supervisor *supervisor.Supervisor
	publisher  *publisher.Publisher
	monitor    *health.Monitor
	registry   *registry.Registry
	catalog    *catalog.Client
	router     *router.Router
	audit      *audit.Sink
	mcpServer  *mcp.Server

	auditPool    *pgxpool.Pool
	otelShutdown telemetry.Shutdown
}

// New wires every subsystem described in SPEC_FULL.md but starts none of
// their loops (the only goroutine it starts is the catalog cache's expiry
// sweep) and accepts no child processes — call Run to start the
// Supervisor's event pump, the Health Monitor's sweep loop, and (if
// configured) the MCP server.
func New(opts ...Option) (*App, error) {
	var o resolvedOptions
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production deploys won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, "dev", true)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	rdb := store.NewClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword, cfg.RedisDB)
	st := store.New(rdb, logger)

	sup := supervisor.New(st, logger, supervisor.Config{
		MaxConcurrentSessions: cfg.MaxConcurrentSessions,
		HeartbeatInterval:     cfg.HeartbeatInterval,
		GraceWindow:           5 * time.Second,
	})

	pub := publisher.New(st, logger, publisher.Config{})

	mon := health.New(st, sup, logger, health.Config{
		Interval:       cfg.HealthCheckInterval,
		StaleThreshold: cfg.StaleThreshold,
	})

	httpClient := &http.Client{Timeout: cfg.ProviderTimeout}
	basePolicy := provider.NewBasePolicy(cfg.ProviderTimeout, 3, time.Second)

	reg := registry.New()
	reg.Register(domain.ProviderAnthropic, provider.NewAnthropic(httpClient, cfg.AnthropicBaseURL, basePolicy), o.anthropicAPIKey)
	reg.Register(domain.ProviderOpenAI, provider.NewOpenAI(httpClient, cfg.OpenAIBaseURL, basePolicy), o.openAIAPIKey)
	reg.Register(domain.ProviderGoogle, provider.NewGoogle(httpClient, cfg.GoogleAIBaseURL, basePolicy), o.googleAPIKey)
	reg.Register(domain.ProviderDeepSeek, provider.NewDeepSeek(httpClient, cfg.DeepSeekBaseURL, basePolicy), o.deepSeekAPIKey)

	cat := catalog.New(httpClient, logger, catalog.Config{
		BaseURL:   cfg.ModelRegistryAPIURL,
		AuthToken: cfg.ModelRegistryToken,
	})

	rt := router.New(cat, reg, logger)

	var auditPool *pgxpool.Pool
	var auditSink *audit.Sink
	if cfg.AuditDatabaseURL != "" {
		auditPool, err = pgxpool.New(context.Background(), cfg.AuditDatabaseURL)
		if err != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("audit: connect: %w", err)
		}
		auditSink = audit.New(auditPool, logger)
		if err := auditSink.EnsureSchema(context.Background()); err != nil {
			auditPool.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("audit: ensure schema: %w", err)
		}
		logger.Info("audit sink: enabled")
	} else {
		auditSink = audit.NewNoop(logger)
		logger.Info("audit sink: disabled (no AUDIT_DATABASE_URL)")
	}

	app := &App{
		cfg:          cfg,
		logger:       logger,
		rdb:          rdb,
		store:        st,
		supervisor:   sup,
		publisher:    pub,
		monitor:      mon,
		registry:     reg,
		catalog:      cat,
		router:       rt,
		audit:        auditSink,
		auditPool:    auditPool,
		otelShutdown: otelShutdown,
	}

	if cfg.MCPEnabled {
		// app itself satisfies mcp.SessionManager/mcp.TaskRouter, wrapping the
		// Supervisor/Router with audit recording (see CreateSession, Route
		// below) — the MCP surface goes through the same audit path as any
		// other caller.
		app.mcpServer = mcp.New(app, app, logger)
		logger.Info("mcp surface: enabled")
	} else {
		logger.Info("mcp surface: disabled (set MCP_ENABLED=true)")
	}

	return app, nil
}

// Supervisor exposes the Session Supervisor for callers embedding this
// module (e.g. the MCP surface, or a bespoke RPC layer).
func (a *App) Supervisor() *supervisor.Supervisor { return a.supervisor }

// Router exposes the Task Router.
func (a *App) Router() *router.Router { return a.router }

// Registry exposes the Provider Registry.
func (a *App) Registry() *registry.Registry { return a.registry }

// Catalog exposes the Model Catalog Client.
func (a *App) Catalog() *catalog.Client { return a.catalog }

// CreateSession spawns a session via the Supervisor and records the
// admission outcome (created or rejected) to the audit sink. This is the
// entry point the MCP surface and any other caller-facing transport should
// use instead of calling Supervisor() directly, so every admission decision
// is observable in the audit trail (spec §7: "user-visible failures are
// limited to admission errors from session creation and routing errors").
func (a *App) CreateSession(ctx context.Context, req supervisor.CreateSessionRequest) (domain.Session, error) {
	sess, err := a.supervisor.CreateSession(ctx, req)
	if err != nil {
		a.audit.Record(ctx, audit.Entry{
			EventType:   audit.EventSessionRejected,
			WorkspaceID: req.WorkspaceID,
			ProjectID:   req.ProjectID,
			AgentID:     req.AgentID,
			Detail:      map[string]string{"error": err.Error()},
		})
		return domain.Session{}, err
	}
	a.audit.Record(ctx, audit.Entry{
		EventType:   audit.EventSessionCreated,
		WorkspaceID: sess.WorkspaceID,
		ProjectID:   sess.ProjectID,
		AgentID:     sess.AgentID,
		SessionID:   sess.SessionID,
	})
	return sess, nil
}

// TerminateSession delegates to the Supervisor; the resulting termination
// is recorded by pumpTerminations via the Supervisor's own notification
// channel, not here, since terminations can also originate from the
// process exiting on its own.
func (a *App) TerminateSession(ctx context.Context, sessionID string) error {
	return a.supervisor.TerminateSession(ctx, sessionID)
}

// SendCommand delegates to the Supervisor.
func (a *App) SendCommand(ctx context.Context, sessionID, line string) error {
	return a.supervisor.SendCommand(ctx, sessionID, line)
}

// Route selects a model via the Task Router and records the decision (or
// failure) to the audit sink.
func (a *App) Route(ctx context.Context, req domain.TaskRoutingRequest, cfg domain.WorkspaceRoutingConfig) (domain.RoutingDecision, error) {
	decision, err := a.router.Route(ctx, req, cfg)
	if err != nil {
		a.audit.Record(ctx, audit.Entry{
			EventType:   audit.EventRoutingFailed,
			WorkspaceID: req.WorkspaceID,
			ProjectID:   req.ProjectID,
			Detail:      map[string]string{"taskType": string(req.TaskType), "error": err.Error()},
		})
		return domain.RoutingDecision{}, err
	}
	a.audit.Record(ctx, audit.Entry{
		EventType:   audit.EventRoutingDecision,
		WorkspaceID: req.WorkspaceID,
		ProjectID:   req.ProjectID,
		Detail:      decision,
	})
	return decision, nil
}

// Run starts the Supervisor's output pump (fanning OutputEvents into the
// Stream Publisher), the pumps that record termination and stale-session
// notifications to the audit sink, the Health Monitor's sweep loop,
// and — if configured — serves the MCP surface over stdio. It blocks until
// ctx is cancelled, then runs the shutdown cascade from spec.md §5: stop
// Health Monitor, drain Publisher, terminate all sessions, close the
// shared-store connection.
func (a *App) Run(ctx context.Context) error {
	pumpCtx, cancelPump := context.WithCancel(ctx)
	defer cancelPump()

	go a.pumpOutputEvents(pumpCtx)
	go a.pumpTerminations(pumpCtx)
	go a.pumpStaleness(pumpCtx)
	go a.monitor.Run(pumpCtx)

	if a.mcpServer != nil {
		go func() {
			if err := mcpserver.ServeStdio(a.mcpServer.MCPServer()); err != nil {
				a.logger.Warn("mcp server stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	return a.Shutdown(context.Background())
}

// pumpOutputEvents wires the Supervisor's OutputEvent fan-out to the Stream
// Publisher, looking up each event's workspace/project tenancy from the
// Supervisor's in-memory session map (OutputEvents themselves don't carry
// tenancy — only StreamEvents do, per spec §4.4/§4.5).
func (a *App) pumpOutputEvents(ctx context.Context) {
	for ev := range a.supervisor.Subscribe(ctx) {
		sess, ok := a.supervisor.GetSession(ev.SessionID)
		if !ok {
			// Session already torn down between emission and delivery; the
			// event is stale and has nowhere tenant-scoped to go.
			continue
		}
		a.publisher.Enqueue(ctx, sess.WorkspaceID, sess.ProjectID, ev)
	}
}

func (a *App) pumpTerminations(ctx context.Context) {
	for n := range a.supervisor.SubscribeTerminated(ctx) {
		a.audit.Record(ctx, audit.Entry{
			EventType: audit.EventSessionTerminated,
			SessionID: n.SessionID,
			Detail:    n,
		})
	}
}

func (a *App) pumpStaleness(ctx context.Context) {
	for s := range a.monitor.StaleSessions() {
		a.audit.Record(ctx, audit.Entry{
			EventType: audit.EventSessionReclaimedStale,
			AgentID:   s.AgentID,
			SessionID: s.SessionID,
			Detail:    s,
		})
	}
}

// Shutdown performs the cascade from spec.md §5: stop Health Monitor, drain
// Publisher, terminate all sessions, close the shared-store connection.
// Run calls this automatically on ctx cancellation — callers embedding App
// directly (without Run) call it themselves.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("orchestrator shutting down")

	a.publisher.Shutdown(ctx)

	if err := a.supervisor.TerminateAllSessions(ctx); err != nil {
		a.logger.Error("terminate all sessions", "error", err)
	}
	a.supervisor.Close()

	if a.auditPool != nil {
		a.auditPool.Close()
	}
	if err := a.rdb.Close(); err != nil {
		a.logger.Error("redis close", "error", err)
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}

	a.logger.Info("orchestrator stopped")
	return nil
}
