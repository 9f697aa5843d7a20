package logging

import (
	"log"

	"nodecoord/internal/coordinator/applog"
)

type LogLogger struct {
}

func NewLogLogger() applog.Logger {
	return &LogLogger{}
}

func (l LogLogger) Printf(format string, v ...any) {
	log.Printf(format, v...)
}
