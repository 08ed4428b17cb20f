package observability

import (
	"log/slog"
	"os"

	"github.com/modelarena/llm-evaluator/internal/config"
)

// SetupLogger builds the process-wide JSON logger. Every line carries
// the service name and environment so logs from the gateway, the
// workers, and the archive service can be told apart in one aggregated
// stream. Development runs log at debug, everything else at info.
func SetupLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.IsDev() {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
