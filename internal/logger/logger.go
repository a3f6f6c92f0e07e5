package logger

import (
	"io"
	"os"
	"strings"

	"marketmesh/internal/config"

	"github.com/sirupsen/logrus"
)

// Logger оборачивает logrus и хранит настройки сервиса
type Logger struct {
	*logrus.Logger
}

// New создает логгер по конфигурации: уровень, формат (json|text) и необязательный файл
func New(cfg *config.LoggerConfig) *Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	log.SetOutput(os.Stdout)
	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			log.WithError(err).Warn("Failed to open log file, falling back to stdout")
		} else {
			log.SetOutput(io.MultiWriter(os.Stdout, file))
		}
	}

	return &Logger{Logger: log}
}
