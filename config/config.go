// Package config reads the process configuration from environment variables.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/telebroad/cloudstorage/browse"
	"github.com/telebroad/cloudstorage/transfer"
)

// Defaults used when a variable is unset or empty
const (
	DefaultServerRoot = "server"
	DefaultClientRoot = "client"
	DefaultUploadAddr = "localhost:8190"
)

// Environment is the environment of the server and the upload command
type Environment struct {
	CloudAddr          string         // CLOUD_SERVER_ADDR
	TransferAddr       string         // TRANSFER_SERVER_ADDR
	ServerRoot         string         // SERVER_ROOT
	HelpFile           string         // HELP_FILE
	Framing            browse.Framing // FRAMING
	Sandbox            bool           // SANDBOX
	TransferMaxWorkers int            // TRANSFER_MAX_WORKERS
	MetricsAddr        string         // METRICS_ADDR, empty disables the metrics endpoint
	UploadAddr         string         // UPLOAD_SERVER_ADDR
	ClientRoot         string         // CLIENT_ROOT
}

// GetEnv returns a new Environment with the environment variables.
// An invalid value is an error, unset variables take their defaults.
func GetEnv(logger *slog.Logger) (env *Environment, err error) {
	env = &Environment{
		CloudAddr:    getenv("CLOUD_SERVER_ADDR", browse.DefaultAddr),
		TransferAddr: getenv("TRANSFER_SERVER_ADDR", transfer.DefaultAddr),
		ServerRoot:   getenv("SERVER_ROOT", DefaultServerRoot),
		HelpFile:     os.Getenv("HELP_FILE"),
		MetricsAddr:  os.Getenv("METRICS_ADDR"),
		UploadAddr:   getenv("UPLOAD_SERVER_ADDR", DefaultUploadAddr),
		ClientRoot:   getenv("CLIENT_ROOT", DefaultClientRoot),
	}

	logger.Debug("CLOUD_SERVER_ADDR is", "ADDR", env.CloudAddr)
	logger.Debug("TRANSFER_SERVER_ADDR is", "ADDR", env.TransferAddr)
	logger.Debug("SERVER_ROOT is", "ROOT", env.ServerRoot)
	logger.Debug("HELP_FILE is", "file", env.HelpFile)
	logger.Debug("METRICS_ADDR is", "ADDR", env.MetricsAddr)

	env.Framing, err = browse.ParseFraming(os.Getenv("FRAMING"))
	if err != nil {
		return nil, fmt.Errorf("error parsing FRAMING: %w", err)
	}
	logger.Debug("FRAMING is", "framing", env.Framing.String())

	if v := os.Getenv("SANDBOX"); v != "" {
		env.Sandbox, err = strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("error parsing SANDBOX: %w", err)
		}
	}
	logger.Debug("SANDBOX is", "enabled", env.Sandbox)

	env.TransferMaxWorkers = transfer.DefaultMaxWorkers
	if v := os.Getenv("TRANSFER_MAX_WORKERS"); v != "" {
		env.TransferMaxWorkers, err = strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("error parsing TRANSFER_MAX_WORKERS: %w", err)
		}
		if env.TransferMaxWorkers <= 0 {
			return nil, fmt.Errorf("error parsing TRANSFER_MAX_WORKERS: %d is not positive", env.TransferMaxWorkers)
		}
	}
	logger.Debug("TRANSFER_MAX_WORKERS is", "workers", env.TransferMaxWorkers)

	logger.Debug("UPLOAD_SERVER_ADDR is", "ADDR", env.UploadAddr)
	logger.Debug("CLIENT_ROOT is", "ROOT", env.ClientRoot)
	return env, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
