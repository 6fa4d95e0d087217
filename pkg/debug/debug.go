// Package debug adds category-scoped debug logging on top of slog.
//
// Two knobs, set independently:
//
//   - COMFYPOD_DEBUG picks WHICH subsystems emit debug output, as a
//     comma-separated list: engine, comfy, storage, transport, auth,
//     upload, config, or all.
//   - COMFYPOD_LOG_LEVEL picks HOW MUCH: ERROR, WARN, INFO, DEBUG, or
//     TRACE. TRACE sits below slog's DEBUG and unlocks raw payload
//     dumps (full spliced graphs, engine responses).
//
// Typical session while chasing a workflow problem:
//
//	COMFYPOD_DEBUG=comfy COMFYPOD_LOG_LEVEL=TRACE ./server
package debug

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// LevelTrace is one notch below slog.LevelDebug. Payload-sized output
// only appears at this level.
const LevelTrace = slog.LevelDebug - 4

// categories is the enabled set. Written by Init before any workers
// start, read-only afterwards.
var categories map[string]bool

func init() {
	// Pick up the environment immediately so logging before Init (flag
	// parsing, config loading) already honors COMFYPOD_DEBUG.
	categories = parseCategories(os.Getenv("COMFYPOD_DEBUG"))
}

// Init applies debug settings at startup. Config values fill in where
// the environment is silent; the environment always wins.
func Init(configCategories, configLevel string) {
	cats := os.Getenv("COMFYPOD_DEBUG")
	if cats == "" {
		cats = configCategories
	}
	categories = parseCategories(cats)

	level := os.Getenv("COMFYPOD_LOG_LEVEL")
	if level == "" {
		level = configLevel
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})))
}

// Enabled reports whether the category emits debug output.
func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a DEBUG message tagged with its category. Disabled
// categories cost one map lookup.
func Log(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// Trace emits a TRACE message tagged with its category.
func Trace(category, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Log(nil, LevelTrace, msg, append([]any{"debug", category}, args...)...)
}

// TraceIsEnabled reports whether TRACE output for the category would
// actually be emitted, for guarding expensive formatting.
func TraceIsEnabled(category string) bool {
	return Enabled(category) && slog.Default().Enabled(nil, LevelTrace)
}

// Raw writes text straight to stderr with no slog framing, so payloads
// can be copied into curl or a JSON tool as-is. Requires both the
// category and TRACE level.
func Raw(category, text string) {
	if !TraceIsEnabled(category) {
		return
	}
	fmt.Fprintln(os.Stderr, text)
}

// ParseLevel converts a level name to a slog.Level. Unknown names and
// the empty string mean INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Truncate shortens s to maxLen characters, marking the cut with "...".
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}
