package observability

import (
	"io"
	"log/slog"

	"github.com/datatalk/datatalk/internal/config"
)

// NewLogger builds the process logger. Every record carries the service,
// profile and language model provider so logs from mixed deployments can be
// told apart.
func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler = slog.NewTextHandler(writer, opts)
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
		slog.String("ai_provider", cfg.AI.Provider),
	)
}
