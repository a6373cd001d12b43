package logger

import (
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	httpmiddleware "github.com/wolfeidau/tenantd/internal/http"
)

func Setup(dev bool) zerolog.Logger {
	var logger zerolog.Logger
	level := zerolog.InfoLevel
	if dev {
		level = zerolog.DebugLevel
	}

	logger = zerolog.New(os.Stderr).Level(level).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(level).With().Stack().Logger()
	}

	return logger
}

// Requests wraps an http.Handler, attaches a request-scoped logger to the
// context and logs one line per request with status and duration.
func Requests(logger zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		logCtx := logger.With().
			Str("method", r.Method).
			Str("path", r.URL.Path)
		if ip := httpmiddleware.ClientIPFromContext(r.Context()); ip != "" {
			logCtx = logCtx.Str("client_ip", ip)
		} else {
			logCtx = logCtx.Str("addr", r.RemoteAddr)
		}
		ctx := logCtx.Logger().WithContext(r.Context())

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r.WithContext(ctx))

		evt := zerolog.Ctx(ctx).Info()
		if sw.status >= http.StatusInternalServerError {
			evt = zerolog.Ctx(ctx).Error()
		}

		evt.Int("status", sw.status).
			Dur("duration", time.Since(started)).
			Msg("http request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
