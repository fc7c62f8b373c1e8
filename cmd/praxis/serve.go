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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/praxisworks/praxis/pkg/agent"
	"github.com/praxisworks/praxis/pkg/config"
	"github.com/praxisworks/praxis/pkg/dispatch"
	"github.com/praxisworks/praxis/pkg/fastpath"
	"github.com/praxisworks/praxis/pkg/llms"
	"github.com/praxisworks/praxis/pkg/mcp"
	"github.com/praxisworks/praxis/pkg/memory"
	"github.com/praxisworks/praxis/pkg/observability"
	"github.com/praxisworks/praxis/pkg/protocol"
	"github.com/praxisworks/praxis/pkg/skills"
	"github.com/praxisworks/praxis/pkg/store"
	"github.com/praxisworks/praxis/pkg/tools"
)

// ServeCmd starts the SSE server.
type ServeCmd struct {
	Host string `help:"Bind host (overrides config)."`
	Port int    `help:"Bind port (overrides config)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	cleanup, err := initLogger(cli, cfg.Logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, loader, err := buildRuntime(ctx, cfg)
	if err != nil {
		return err
	}
	defer rt.Shutdown()
	if loader != nil {
		defer loader.Stop()
	}

	tp, err := observability.InitGlobalTracer(ctx, cfg.Observability)
	if err != nil {
		return err
	}
	if shutdown, ok := tp.(interface{ Shutdown(context.Context) error }); ok {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown.Shutdown(shutdownCtx)
		}()
	}

	dispatcher := dispatch.NewDispatcher(rt)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	router.Post("/v1/stream", streamHandler(dispatcher))

	if cfg.Observability.Metrics {
		registry, err := observability.InitGlobalMetrics()
		if err != nil {
			return err
		}
		router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	host := cfg.Server.Host
	if c.Host != "" {
		host = c.Host
	}
	port := cfg.Server.Port
	if c.Port != 0 {
		port = c.Port
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Serving", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case err := <-errCh:
		return err
	}

	// Stop accepting, drain in-flight requests with a deadline, then let the
	// deferred teardown cancel background tasks and close clients.
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(drainCtx)
}

type streamRequest struct {
	SessionID  string         `json:"session_id"`
	Message    string         `json:"message"`
	Platform   string         `json:"platform"`
	PlatformID string         `json:"platform_id"`
	Metadata   map[string]any `json:"metadata"`
}

// streamHandler maps dispatcher events onto text/event-stream.
func streamHandler(dispatcher *dispatch.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req streamRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.Message == "" {
			http.Error(w, "message is required", http.StatusBadRequest)
			return
		}
		if req.Platform == "" {
			req.Platform = "http"
		}
		if req.PlatformID == "" {
			req.PlatformID = req.SessionID
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		events := dispatcher.Stream(r.Context(), dispatch.StreamInput{
			SessionID:  req.SessionID,
			Message:    req.Message,
			Platform:   req.Platform,
			PlatformID: req.PlatformID,
			Metadata:   req.Metadata,
		})
		for ev := range events {
			payload, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, payload)
			flusher.Flush()
		}
	}
}

// buildRuntime constructs the process singletons in dependency order.
func buildRuntime(ctx context.Context, cfg *config.Config) (*dispatch.Runtime, *skills.Loader, error) {
	var crypto *store.Crypto
	if cfg.Security.EncryptionKey != "" {
		var err error
		crypto, err = store.NewCrypto(cfg.Security.EncryptionKey)
		if err != nil {
			return nil, nil, err
		}
	}

	st, err := store.Open(ctx, cfg.Database, crypto)
	if err != nil {
		return nil, nil, err
	}

	llm, err := llms.NewProviderRegistry().Create(cfg.LLM)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	var vectorDB memory.VectorDB
	var embedder memory.Embedder
	switch cfg.Vector.Backend {
	case "qdrant":
		vectorDB, err = memory.NewQdrantDB(cfg.Vector)
	case "chromem":
		vectorDB, err = memory.NewChromemDB(cfg.Vector)
	}
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	embedder = memory.NewOpenAIEmbedder(cfg.LLM, cfg.Vector.Dim)

	pool := mcp.NewPool(cfg.MCP)

	template := tools.NewToolRegistry()
	local, err := tools.NewLocalToolSource(cfg.Tools, tools.LocalDeps{
		Prices: st,
		Memory: sharedMemoryWriter{db: vectorDB, embedder: embedder},
	})
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	if err := template.RegisterSource(ctx, local); err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	skillReg := skills.NewRegistry()
	router := fastpath.NewRouter()
	router.RegisterDefaults()

	loader := skills.NewLoader(cfg.Skills.Dir, func(name string) bool {
		_, ok := template.Get(name)
		return ok
	})
	if err := loader.Load(ctx, skillReg); err != nil {
		_ = st.Close()
		return nil, nil, err
	}
	for _, skill := range skillReg.List() {
		if err := router.RegisterSkillTriggers(skill); err != nil {
			_ = st.Close()
			return nil, nil, err
		}
	}

	var watchLoader *skills.Loader
	if cfg.Skills.Watch {
		if err := loader.Watch(ctx, skillReg); err != nil {
			slog.Warn("Skill hot-reload unavailable", "error", err)
		} else {
			watchLoader = loader
		}
	}

	return &dispatch.Runtime{
		Config:   cfg,
		LLM:      llm,
		Store:    st,
		VectorDB: vectorDB,
		Embedder: embedder,
		Tools:    template,
		MCP:      pool,
		Skills:   skillReg,
		FastPath: router,
		Tasks:    agent.NewTaskSet(),
	}, watchLoader, nil
}

// sharedMemoryWriter adapts the process-wide vector client for the remember
// tool template. The writer itself is context-free: each call opens a store
// bound to the context id that the remember tool puts in the metadata from
// the ambient context, and calls without a context id are refused.
type sharedMemoryWriter struct {
	db       memory.VectorDB
	embedder memory.Embedder
}

func (w sharedMemoryWriter) Remember(ctx context.Context, text string, metadata map[string]any) error {
	contextID, _ := metadata[protocol.MetaContextID].(string)
	if contextID == "" {
		return fmt.Errorf("remember requires a context id")
	}
	s, err := memory.NewStore(w.db, w.embedder, contextID)
	if err != nil {
		return err
	}
	return s.Remember(ctx, text, metadata)
}
