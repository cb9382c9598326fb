package oplog

import (
	"strings"

	"github.com/aspects-ai/agent-backend/pkg/logger"
)

const excerptLimit = 200

// ConsoleLogger writes operation entries through the structured logger.
type ConsoleLogger struct {
	mode Mode
	log  logger.Logger
}

// NewConsoleLogger builds a console sink. A nil log falls back to the
// default stderr logger.
func NewConsoleLogger(mode Mode, log logger.Logger) *ConsoleLogger {
	if mode == "" {
		mode = ModeStandard
	}
	if log == nil {
		log = logger.NewLogger(logger.DefaultConfig())
	}
	return &ConsoleLogger{mode: mode, log: log}
}

func (c *ConsoleLogger) Mode() Mode {
	return c.mode
}

func (c *ConsoleLogger) Log(entry Entry) {
	keyvals := []any{
		"op", string(entry.Operation),
		"command", entry.Command,
		"duration_ms", entry.Duration.Milliseconds(),
	}
	if entry.UserID != "" || entry.WorkspaceName != "" {
		keyvals = append(keyvals, "scope", entry.UserID+"/"+entry.WorkspaceName)
	}
	if entry.Operation == OpExec {
		if entry.Stdout != "" {
			keyvals = append(keyvals, "stdout", truncateExcerpt(entry.Stdout))
		}
		if entry.Stderr != "" {
			keyvals = append(keyvals, "stderr", truncateExcerpt(entry.Stderr))
		}
		keyvals = append(keyvals, "exit_code", entry.ExitCode)
	}
	if entry.Success {
		c.log.Info("workspace operation", keyvals...)
		return
	}
	if entry.Error != "" {
		keyvals = append(keyvals, "error", entry.Error)
	}
	c.log.Warn("workspace operation failed", keyvals...)
}

func truncateExcerpt(s string) string {
	singleLine := strings.ReplaceAll(s, "\n", "\\n")
	if len(singleLine) <= excerptLimit {
		return singleLine
	}
	return singleLine[:excerptLimit] + "..."
}
