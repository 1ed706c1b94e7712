package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/nodeflow-ai/nodeflow/internal/domain/repositories"
	"github.com/nodeflow-ai/nodeflow/internal/domain/services"
	"github.com/nodeflow-ai/nodeflow/internal/engine/approval"
	"github.com/nodeflow-ai/nodeflow/internal/engine/events"
	"github.com/nodeflow-ai/nodeflow/internal/engine/form"
	"github.com/nodeflow-ai/nodeflow/internal/gateway/handlers"
	"github.com/nodeflow-ai/nodeflow/internal/gateway/websocket"
	"github.com/nodeflow-ai/nodeflow/internal/pkg/config"
)

// Server is the HTTP surface: REST control plane, public form endpoints and
// the websocket event stream.
type Server struct {
	cfg        *config.Config
	router     *chi.Mux
	httpServer *http.Server
	wsHub      *websocket.Hub
}

type Deps struct {
	Flows       *services.FlowService
	Executions  *services.ExecutionService
	Credentials *services.CredentialService
	Approvals   *approval.Coordinator
	Forms       *form.Coordinator
	Bus         *events.Bus

	ExecutionRepo *repositories.ExecutionRepository
	DB            *gorm.DB
	Redis         *redis.Client
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	router := chi.NewRouter()

	wsHub := websocket.NewHub()
	go wsHub.Run()
	deps.Bus.AddSink(wsHub)

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(chimiddleware.Timeout(60 * time.Second))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	router.Use(corsHandler.Handler)

	flowHandler := handlers.NewFlowHandler(deps.Flows)
	executionHandler := handlers.NewExecutionHandler(deps.Executions)
	credentialHandler := handlers.NewCredentialHandler(deps.Credentials)
	approvalHandler := handlers.NewApprovalHandler(deps.Approvals)
	formHandler := handlers.NewFormHandler(deps.Forms, deps.ExecutionRepo)
	nodeTypeHandler := handlers.NewNodeTypeHandler()
	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Redis)
	wsHandler := handlers.NewWebSocketHandler(wsHub)

	router.Route("/api/v1", func(r chi.Router) {
		// Health
		r.Get("/health/live", healthHandler.Live)
		r.Get("/health/ready", healthHandler.Ready)

		// Node types (flow editor)
		r.Get("/node-types", nodeTypeHandler.List)
		r.Get("/node-types/{nodeType}", nodeTypeHandler.Get)

		// Flows and versions
		r.Post("/flows", flowHandler.Create)
		r.Get("/flows", flowHandler.List)
		r.Get("/flows/{flowID}", flowHandler.Get)
		r.Delete("/flows/{flowID}", flowHandler.Delete)
		r.Post("/flows/{flowID}/versions", flowHandler.CreateVersion)
		r.Get("/flows/{flowID}/versions", flowHandler.ListVersions)
		r.Post("/flows/{flowID}/versions/{versionID}/publish", flowHandler.Publish)

		// Executions
		r.Post("/executions", executionHandler.Create)
		r.Get("/executions", executionHandler.List)
		r.Post("/executions/preview", executionHandler.Preview)
		r.Get("/executions/{executionID}", executionHandler.Get)
		r.Get("/executions/{executionID}/nodes", executionHandler.GetNodeExecutions)
		r.Get("/executions/{executionID}/output", executionHandler.GetOutput)
		r.Post("/executions/{executionID}/cancel", executionHandler.Cancel)
		r.Post("/executions/{executionID}/pause", executionHandler.Pause)
		r.Post("/executions/{executionID}/resume", executionHandler.Resume)
		r.Post("/executions/{executionID}/retry", executionHandler.Retry)

		// Credentials
		r.Post("/credentials", credentialHandler.Create)
		r.Get("/credentials", credentialHandler.List)
		r.Put("/credentials/{credentialID}", credentialHandler.Update)
		r.Delete("/credentials/{credentialID}", credentialHandler.Delete)

		// Approvals
		r.Get("/approvals/{approvalID}", approvalHandler.Get)
		r.Post("/approvals/{approvalID}/actions", approvalHandler.SubmitAction)

		// Event stream
		r.Get("/ws", wsHandler.Serve)
	})

	// Public form endpoints, token is the only credential
	router.Get("/forms/{token}", formHandler.Get)
	router.Post("/forms/{token}", formHandler.Submit)

	router.Handle("/metrics", promhttp.Handler())

	return &Server{
		cfg:    cfg,
		router: router,
		wsHub:  wsHub,
	}
}

func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.Gateway.ReadTimeout,
		WriteTimeout: s.cfg.Gateway.WriteTimeout,
	}

	log.Info().Str("addr", addr).Msg("Starting gateway")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	log.Info().Msg("Shutting down gateway")
	return s.httpServer.Shutdown(ctx)
}
