package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AnTengye/contractrisk/config"
	"github.com/AnTengye/contractrisk/handler"
	"github.com/AnTengye/contractrisk/middleware"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	gin.SetMode(gin.ReleaseMode)
	analysisHandler := handler.NewAnalysisHandler(a.pipeline, a.store, cfg.Store.ListLimit, cfg.Server.MaxUploadMB)
	router := newRouter(cfg, analysisHandler, a.registry)

	// analyses wait on the LLM for up to the resilience timeout
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: cfg.Resilience.Timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	slog.Info("server exited gracefully")
	return nil
}

func newRouter(cfg *config.Config, h *handler.AnalysisHandler, registry *prometheus.Registry) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(middleware.AccessLog(middleware.NewHTTPMetrics(registry)))
	router.Use(middleware.CORS(cfg.Server.CORSOrigins))
	router.Use(middleware.NoCache())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))

	api := router.Group("/api")
	{
		api.GET("/", h.Root)
		api.POST("/analyze-document", h.Analyze)
		api.GET("/analyses", h.List)
		api.GET("/analysis/:id", h.Get)
		api.DELETE("/analysis/:id", h.Delete)
	}

	return router
}
