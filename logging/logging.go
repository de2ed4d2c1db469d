package logging

import (
	"io"
	"log/slog"
	"strings"

	"scanner-bridge/domain"
)

// New builds the process logger. format is "json" or "text"; level is
// debug, info, warn or error. Unknown values fall back to text and info.
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func ClientID(id string) slog.Attr {
	return slog.String("clientId", id)
}

func Role(r domain.Role) slog.Attr {
	return slog.String("role", string(r))
}

func Code(code string) slog.Attr {
	return slog.String("code", code)
}

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
