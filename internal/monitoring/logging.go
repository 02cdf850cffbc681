package monitoring

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogging configures the global zerolog logger from KIRO_LOG
// ("error"|"warn"|"info"|"debug"|"trace", default "info") and attaches a
// console writer when stderr is a terminal, a plain JSON writer otherwise.
// KIRO_SENSITIVE_LOGS=1 is read by callers that decide whether to log raw
// request/response bodies; this function only sets the verbosity level.
func SetupLogging() {
	level := strings.ToLower(strings.TrimSpace(os.Getenv("KIRO_LOG")))
	zlevel, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		zlevel = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(zlevel)
	zerolog.TimeFieldFormat = time.RFC3339

	if isTerminal(os.Stderr) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

// SensitiveLogsEnabled reports whether KIRO_SENSITIVE_LOGS is set, gating
// whether handlers may log raw request/response bodies at debug level.
func SensitiveLogsEnabled() bool {
	return os.Getenv("KIRO_SENSITIVE_LOGS") == "1"
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

// InitEvent is the single structured log line emitted once at startup,
// summarizing the resolved configuration without leaking secrets.
type InitEvent struct {
	Addr               string `json:"addr"`
	Region             string `json:"region"`
	AdminEnabled       bool   `json:"adminEnabled"`
	CredentialCount    int    `json:"credentialCount"`
	LoadBalancingMode  string `json:"loadBalancingMode"`
	CompressionThinking string `json:"compressionThinkingStrategy"`
	CredentialRPM      int    `json:"credentialRpm,omitempty"`
}

// LogInit logs ev once at info level as the gateway's startup event.
func LogInit(ev InitEvent) {
	log.Info().
		Str("addr", ev.Addr).
		Str("region", ev.Region).
		Bool("admin_enabled", ev.AdminEnabled).
		Int("credential_count", ev.CredentialCount).
		Str("load_balancing_mode", ev.LoadBalancingMode).
		Str("compression_thinking_strategy", ev.CompressionThinking).
		Int("credential_rpm", ev.CredentialRPM).
		Msg("kiro-gateway starting")
}
