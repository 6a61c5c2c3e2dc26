package main

import (
	"os"

	"github.com/rs/zerolog"

	"audiodesk/internal/bootstrap"
	"audiodesk/internal/logging"
)

func main() {
	logger, closer, err := logging.New(logging.Options{Level: os.Getenv("AUDIODESK_LOG_LEVEL"), Pretty: true})
	if err != nil {
		logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		logger.Warn().Err(err).Msg("falling back to stderr logging")
	} else {
		defer closer.Close()
	}

	svc, err := bootstrap.NewServices(bootstrap.Options{Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap app")
	}

	if err := bootstrap.NewApp(svc, nil).Run(); err != nil {
		logger.Fatal().Err(err).Msg("run app")
	}
}
