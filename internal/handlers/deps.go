package handlers

import (
	"log/slog"

	"github.com/fintrack/bank-sync/internal/middleware"
	"github.com/fintrack/bank-sync/internal/observability"
	"github.com/fintrack/bank-sync/internal/response"
)

type Deps struct {
	Log             *slog.Logger
	ResponseHandler response.ResponseHandler
	Metrics         *observability.Metrics
	Allowlist       *middleware.SourceAllowlist
	Connections     ConnectionResolver
	Queue           Enqueuer
	LinkSvc         LinkService
}
