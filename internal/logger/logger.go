package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	appCtx "github.com/Pragya1904/HTTP-Inventory/internal/pkg/context"
)

var Logger zerolog.Logger

func Init() {
	InitWithWriter(os.Stdout)
}

func InitWithWriter(w io.Writer) {
	// ---- level ----
	logLevel := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevel == "" {
		logLevel = "info"
	}
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	// ---- format ----
	format := strings.TrimSpace(os.Getenv("LOG_FORMAT")) // "json" or "console"
	if format == "" {
		format = "json"
	}

	var base zerolog.Logger
	if format == "console" {
		cw := zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
		if strings.TrimSpace(os.Getenv("LOG_COLOR")) == "0" {
			cw.NoColor = true
		}
		base = zerolog.New(cw)
	} else {
		base = zerolog.New(w)
	}

	Logger = base.With().Timestamp().Logger().Level(level)
	zlog.Logger = Logger
}

// WithCtx returns the global logger enriched with the request id from ctx.
func WithCtx(ctx context.Context) zerolog.Logger {
	if rid := appCtx.GetRequestID(ctx); rid != "" {
		return Logger.With().Str("request_id", rid).Logger()
	}
	return Logger
}
