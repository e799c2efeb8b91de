// Package main is the edit API. On Lambda it sits behind API Gateway via
// the HTTP adapter; anywhere else it serves plain HTTP on HTTP_ADDR.
//
// Endpoints:
//
//	GET    /api/health                    health check
//	POST   /api/edits                     upload an image, create an edit
//	GET    /api/edits/{id}                poll edit status
//	DELETE /api/edits/{id}                delete the edit, its caches and images
//	POST   /api/edits/{id}/adjust         request a parametric edit
//	POST   /api/edits/{id}/generate       request a generative edit
//	GET    /api/edits/{id}/history        list the edit-history ledger
//	GET    /api/edits/{id}/suggestions    analysis of the current image
//	POST   /api/edits/{id}/revert         make a ledger entry current again
//	GET    /api/edits/{id}/export         ZIP bundle of the edit
//	GET    /api/images/{imageId}          image bytes (or a presigned redirect)
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/ai-photo-editor/internal/config"
	"github.com/fpang/ai-photo-editor/internal/lambdaboot"
	"github.com/fpang/ai-photo-editor/internal/logging"
)

func main() {
	logging.Init()
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	rt, err := lambdaboot.Build(ctx, "edit-api-lambda", cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise edit pipeline")
	}
	defer rt.Close()

	originSecret := os.Getenv("ORIGIN_VERIFY_SECRET")
	if originSecret == "" {
		log.Warn().Msg("ORIGIN_VERIFY_SECRET not set, origin verification disabled")
	}
	rt.Startup.
		CommitHash(commitHash).
		Config("buildTime", buildTime).
		Feature("originVerify", originSecret != "").
		Log()

	srv := &server{orch: rt.Orchestrator, blobs: rt.Blobs}
	handler := withMetrics(withOriginVerify(originSecret, srv.routes()))

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		adapter := httpadapter.NewV2(handler)
		lambda.Start(adapter.ProxyWithContext)
		return
	}
	serveLocal(cfg.HTTPAddr, handler, rt.Orchestrator.Wait)
}

// serveLocal runs a plain HTTP server until SIGINT/SIGTERM, then waits for
// in-process attempts to finish.
func serveLocal(addr string, handler http.Handler, drain func()) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("Edit API listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	drain()
}
