// Package observability provides the standard-library-backed implementation
// of port.Logger shared by every component handler.
package observability

import (
	"fmt"
	"log"
	"strings"

	"github.com/bkyoung/review-orchestrator/internal/port"
)

// StdLogger writes structured-ish lines to the standard log package.
// Setup (destination, level filtering, rotation) is out of scope; only the
// port.Logger interface shape is carried forward.
type StdLogger struct{}

// NewStdLogger returns the default Logger.
func NewStdLogger() port.Logger {
	return &StdLogger{}
}

func formatKV(kv []any) string {
	if len(kv) == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i+1 < len(kv); i += 2 {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
	}
	return b.String()
}

func (l *StdLogger) LogInfo(msg string, kv ...any) {
	log.Printf("[INFO] %s %s", msg, formatKV(kv))
}

func (l *StdLogger) LogWarning(msg string, kv ...any) {
	log.Printf("[WARN] %s %s", msg, formatKV(kv))
}

func (l *StdLogger) LogError(msg string, err error, kv ...any) {
	log.Printf("[ERROR] %s: %v %s", msg, err, formatKV(kv))
}
