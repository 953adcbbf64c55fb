package sl

import (
	"log/slog"
	"strings"
)

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}

func Module(mod string) slog.Attr {
	return slog.String("mod", mod)
}

// Secret logs only the first few characters of a credential.
func Secret(key, value string) slog.Attr {
	if value == "" {
		return slog.String(key, "")
	}
	visible := 4
	if len(value) <= 2*visible {
		return slog.String(key, strings.Repeat("*", len(value)))
	}
	return slog.String(key, value[:visible]+strings.Repeat("*", 6))
}
