package config

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelTrace sits one step below [slog.LevelDebug] and is reserved for
// raw protocol traffic: full IMAP fetch responses and the SMTP
// dialogue. Enable it only when chasing a server-specific protocol
// quirk; at any other time it drowns the log.
const LevelTrace = slog.Level(-8)

// ParseLogLevel maps the config file's log_level string to an
// [slog.Level]. Matching is case-insensitive and ignores surrounding
// whitespace; the empty string means info. "warning" is accepted as an
// alias for "warn". Anything else is an error listing the valid names.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (valid: trace, debug, info, warn, error)", s)
	}
}

// ReplaceLogLevelNames is a ReplaceAttr function for
// [slog.HandlerOptions] that prints [LevelTrace] as "TRACE". slog only
// knows its four built-in levels and would otherwise render the custom
// one as "DEBUG-4".
func ReplaceLogLevelNames(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		level, ok := a.Value.Any().(slog.Level)
		if ok && level == LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}
