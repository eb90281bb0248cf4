// Package logging sets up the application's slog logger and its outputs.
package logging

import (
	"fmt"
	"path/filepath"
	"time"
)

// LogFilePath names the log file of a session started at sessionStart.
func LogFilePath(logsDir, appName string, sessionStart time.Time) string {
	return filepath.Join(
		logsDir,
		fmt.Sprintf("%s.%s.log", appName, sessionStart.Format("20060102_150405")),
	)
}
