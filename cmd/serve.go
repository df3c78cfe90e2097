package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the catalog HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		runner, st, err := initRunner(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		api := &apiServer{
			store:   st,
			runner:  runner,
			intake:  rate.NewLimiter(rate.Limit(cfg.Server.IntakeRPS), int(cfg.Server.IntakeRPS)+1),
			workers: cfg.Pipeline.Concurrency,
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           api.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/summary", s.handleSummary)

		r.Post("/projects", s.handleCreateProject)
		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Get("/sources", s.handleListSources)
			r.Post("/sources", s.handleCreateSource)
			r.Get("/priorities", s.handleListPriorities)
			r.Put("/priorities/rank", s.handleRankPriorities)
			r.Put("/priorities/{sourceID}", s.handleUpdatePriority)
			r.Get("/metrics", s.handleSourceMetrics)
		})
		r.Put("/sources/{sourceID}/status", s.handleSourceStatus)

		r.With(s.rateLimitIntake).Post("/observations", s.handleObservations)

		r.Post("/pipeline/run", s.handlePipelineRun)
		r.Post("/pipeline/batch", s.handlePipelineBatch)

		r.Get("/rules", s.handleListRules)
		r.Post("/rules", s.handleCreateRule)

		r.Get("/products", s.handleListProducts)
		r.Route("/products/{productID}", func(r chi.Router) {
			r.Get("/attributes", s.handleListAttributes)
			r.Get("/standardized", s.handleListStandardized)
			r.Get("/issues", s.handleListIssues)
			r.Get("/validations", s.handleListValidations)
			r.Get("/audit", s.handleListAudit)
			r.Get("/golden", s.handleGetGolden)
			r.Post("/publish", s.handlePublish)

			r.Get("/review", s.handleReviewPending)
			r.Post("/review/resolve", s.handleReviewResolve)
			r.Post("/review/approve", s.handleReviewApprove)
			r.Post("/review/reject", s.handleReviewReject)
			r.Post("/review/override", s.handleReviewOverride)
		})

		r.Put("/issues/{issueID}/resolve", s.handleResolveIssue)

		r.Get("/golden-records", s.handleListGolden)
	})

	return r
}

func (s *apiServer) rateLimitIntake(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.intake.Allow() {
			http.Error(w, `{"error":"intake rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
