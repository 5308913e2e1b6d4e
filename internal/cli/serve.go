package cli

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/pablof7z/tenex-sub009/internal/config"
	"github.com/pablof7z/tenex-sub009/internal/conversation"
	"github.com/pablof7z/tenex-sub009/internal/engine"
	"github.com/pablof7z/tenex-sub009/internal/httpapi"
	"github.com/pablof7z/tenex-sub009/internal/journal"
	"github.com/pablof7z/tenex-sub009/internal/llm"
	"github.com/pablof7z/tenex-sub009/internal/otel"
	"github.com/pablof7z/tenex-sub009/internal/reflection"
	"github.com/pablof7z/tenex-sub009/internal/store"
	"github.com/pablof7z/tenex-sub009/internal/store/postgres"
	"github.com/pablof7z/tenex-sub009/internal/tools"
	"github.com/pablof7z/tenex-sub009/internal/transport"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the conversation daemon (HTTP API, SSE stream, metrics)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			home := homeFrom(ctx)
			cfg, err := config.Load(home)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			return serve(ctx, home, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, 127.0.0.1:8741)")
	return cmd
}

func serve(ctx context.Context, home string, cfg *config.Config) error {
	metricsHandler, err := otel.InitMeterProvider(ctx, "tenexd")
	if err != nil {
		return err
	}
	if err := otel.InitMetrics(ctx); err != nil {
		return err
	}

	var st store.Store
	if cfg.Store.Driver == "postgres" {
		st, err = postgres.Open(ctx, cfg.Store.DSN)
	} else {
		st, err = store.Open(home)
	}
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	hub := transport.NewHub()
	mgr := conversation.NewManager(st, hub)

	agentIDs := make([]string, 0, len(cfg.Agents))
	agents := make([]reflection.Agent, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agentIDs = append(agentIDs, a.ID)
		agents = append(agents, reflection.Agent{ID: a.ID, Name: a.Name})
	}
	mgr.SetKnownAgents(agentIDs)

	toolMgr := tools.NewExecutionManager(
		&tools.ShellExecutor{Root: cfg.Project.Root, Timeout: cfg.ShellTimeout(), DisplayCap: cfg.Shell.DisplayCap},
		&tools.FileExecutor{Root: cfg.Project.Root},
	)

	var completer llm.Client
	if cfg.LLM.APIKey != "" {
		completer, err = llm.NewHTTPClient(llm.Opts{BaseURL: cfg.LLM.BaseURL, APIKey: cfg.LLM.APIKey, Model: cfg.LLM.Model})
		if err != nil {
			return err
		}
	} else {
		slog.Warn("no LLM API key configured; completions and reflection run against the stub")
		completer = &llm.Stub{}
	}

	pub := &transport.HubPublisher{Hub: hub}
	refl := reflection.NewSystem(
		mgr,
		&reflection.Detector{Classifier: &reflection.LLMClassifier{Client: completer}, Threshold: cfg.Reflection.CorrectionThreshold},
		&reflection.LLMGenerator{Client: completer},
		reflection.NewEventPublisher(pub, &journal.Journal{Home: home}, "tenex"),
	)

	eng := engine.New(mgr, toolMgr, completer, refl, pub)
	eng.Agents = agents
	defer eng.Close()

	app := httpapi.NewApp(httpapi.Options{
		Addr:           cfg.HTTP.Addr,
		MetricsHandler: metricsHandler,
		UseOtelHTTP:    true,
	}, mgr, eng, hub)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("tenexd listening", "addr", cfg.HTTP.Addr, "project_root", cfg.Project.Root)
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return app.Server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
