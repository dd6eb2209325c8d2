// Command upload sends files from CLIENT_ROOT to the transfer server at UPLOAD_SERVER_ADDR.
//
//	upload notes.txt photo.jpg
//
// Each argument names a file below CLIENT_ROOT and is sent on its own connection.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/telebroad/cloudstorage/config"
	"github.com/telebroad/cloudstorage/transfer"
)

func main() {
	logger := config.SetupLogger("cloud-storage-upload")
	slog.SetDefault(logger)

	env, err := config.GetEnv(logger)
	if err != nil {
		logger.Error("Error getting environment", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(env.ClientRoot, 0777); err != nil {
		logger.Error("Error creating client root", "root", env.ClientRoot, "error", err)
		os.Exit(1)
	}

	if len(os.Args) < 2 {
		logger.Error("No files to upload", "usage", "upload <file>...")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	failed := false
	for _, name := range os.Args[1:] {
		path := filepath.Join(env.ClientRoot, name)
		ack, err := transfer.SendFile(ctx, env.UploadAddr, path)
		if err != nil {
			logger.Error("Error uploading file", "file", path, "error", err)
			failed = true
			continue
		}
		logger.Info(ack, "file", path, "server", env.UploadAddr)
	}
	if failed {
		os.Exit(1)
	}
}
