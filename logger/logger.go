package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const serviceName = "kadima-order-bot"

// Init настраивает глобальный zerolog: в production пишет JSON,
// в остальных окружениях пишет читаемый вывод в консоль.
func Init(level, env string) {
	InitWithWriter(os.Stdout, level, env)
}

func InitWithWriter(out io.Writer, level, env string) {
	zerolog.TimeFieldFormat = time.RFC3339

	if env == "" {
		env = "development"
	}

	w := out
	if env != "production" {
		w = zerolog.ConsoleWriter{Out: out, TimeFormat: "2006-01-02 15:04:05"}
	}

	log.Logger = zerolog.New(w).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("environment", env).
		Str("hostname", hostname()).
		Logger()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// Get возвращает логгер конкретного модуля.
func Get(module string) zerolog.Logger {
	return log.With().Str("module", module).Logger()
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
