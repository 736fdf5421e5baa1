package app

import (
	"strings"

	"github.com/classline/classline/pkg/logger"
)

// ConfigureLogging initialises the global logger from the configured level.
// An empty level means info.
func ConfigureLogging(level string) error {
	if level = strings.TrimSpace(level); level == "" {
		level = "info"
	}
	return logger.Init(level)
}
