// Description: This is the main file of the cloud storage server
// The main function starts the browse server and the transfer server on the same storage root
// The browse server listens on CLOUD_SERVER_ADDR (default :8189) and serves ls, cat, cd, mkdir, help and exit
// The transfer server listens on TRANSFER_SERVER_ADDR (default :8190) and receives uploaded files
// When METRICS_ADDR is set the Prometheus metrics are served on it at /metrics
// All servers are started with the TryListenAndServe function and stopped on SIGINT or SIGTERM

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/telebroad/cloudstorage/browse"
	"github.com/telebroad/cloudstorage/config"
	"github.com/telebroad/cloudstorage/filesystem"
	"github.com/telebroad/cloudstorage/httphandler"
	"github.com/telebroad/cloudstorage/transfer"
)

func main() {
	// setting up the slog logger
	logger := config.SetupLogger("cloud-storage-server")
	slog.SetDefault(logger)

	env, err := config.GetEnv(logger)
	if err != nil {
		logger.Error("Error getting environment", "error", err)
		os.Exit(1)
	}

	// file system
	localFS := filesystem.NewLocalFS(env.ServerRoot)
	localFS.SetSandbox(env.Sandbox)
	if err := localFS.MakeRoot(); err != nil {
		logger.Error("Error creating storage root", "root", env.ServerRoot, "error", err)
		os.Exit(1)
	}
	logger.Info("Storage root ready", "root", localFS.RootDir(), "sandbox", localFS.Sandboxed())

	// browse server
	browseServer := browse.NewServer(env.CloudAddr, localFS)
	browseServer.HelpFile = env.HelpFile
	browseServer.Framing = env.Framing
	browseServer.SetLogger(logger.With("module", "browse-server"))
	err = browseServer.TryListenAndServe(time.Second)
	if err != nil {
		logger.Error("Error starting browse server", "error", err)
		os.Exit(1)
	}

	// transfer server
	transferServer := transfer.NewServer(env.TransferAddr, localFS)
	transferServer.MaxWorkers = env.TransferMaxWorkers
	transferServer.SetLogger(logger.With("module", "transfer-server"))
	err = transferServer.TryListenAndServe(time.Second)
	if err != nil {
		logger.Error("Error starting transfer server", "error", err)
		browseServer.Close()
		os.Exit(1)
	}

	// metrics server
	var metricsServer *httphandler.Server
	if env.MetricsAddr != "" {
		metricsServer = httphandler.NewMetricsServer(env.MetricsAddr)
		metricsServer.SetLogger(logger.With("module", "http-server"))
		err = metricsServer.TryListenAndServe(time.Second)
		if err != nil {
			logger.Error("Error starting metrics server", "error", err)
			transferServer.Close()
			browseServer.Close()
			os.Exit(1)
		}
	}

	// graceful shutdown all servers
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt, syscall.SIGTERM)

	sig := <-stopChan
	logger.Info("Shutting down", "signal", sig.String())
	if err := transferServer.Close(); err != nil {
		logger.Error("Error closing transfer server", "error", err)
	}
	if err := browseServer.Close(); err != nil {
		logger.Error("Error closing browse server", "error", err)
	}
	if metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Error("Error closing metrics server", "error", err)
		}
	}
}
