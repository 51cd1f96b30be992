package main

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/fintrack/bank-sync/internal/bootstrap"
	"github.com/fintrack/bank-sync/internal/config"
	"github.com/fintrack/bank-sync/internal/crypto"
	"github.com/fintrack/bank-sync/internal/handlers"
	"github.com/fintrack/bank-sync/internal/middleware"
	"github.com/fintrack/bank-sync/internal/observability"
	"github.com/fintrack/bank-sync/internal/queue"
	"github.com/fintrack/bank-sync/internal/response"
	"github.com/fintrack/bank-sync/internal/router"
	"github.com/fintrack/bank-sync/internal/services"
	"github.com/fintrack/bank-sync/internal/store"
)

func exitOnError(message string, err error, log *slog.Logger) {
	if err != nil {
		log.Error(message, "error", err)
		os.Exit(1)
	}
}

func main() {
	// bootstrap
	cfg := config.New()
	bs, err := bootstrap.Run(cfg)
	exitOnError("bootstrap failed", err, bs.Log)
	defer bs.Close()

	// helpers
	kmsHelper := crypto.NewKMS(bs.KMS, cfg.KMSKeyName)
	metrics := observability.NewMetrics()

	// stores
	cstore := store.NewConnectionStore(bs.Firestore)
	tkstore := store.NewTokenStore(bs.Secrets, cfg.ProjectID, kmsHelper)
	jstore := store.NewJobStore(bs.Firestore)

	// queue producer
	jobs := queue.NewClient(jstore)

	// services
	lserv := services.NewLinkService(bs.PlaidAdapter, cstore, tkstore, jobs)

	// response handler
	rh := response.New(bs.Log)

	// dependancies
	deps := new(handlers.Deps)
	deps.Log = bs.Log
	deps.ResponseHandler = rh
	deps.Metrics = metrics
	deps.Allowlist = middleware.NewSourceAllowlist(cfg.WebhookAllowedCIDRs)
	deps.Connections = cstore
	deps.Queue = jobs
	deps.LinkSvc = lserv

	// router
	r := router.NewRouter(deps)
	err = http.ListenAndServe(":8080", r)
	exitOnError("server start failed", err, bs.Log)
}
