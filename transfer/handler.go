package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/telebroad/cloudstorage/filesystem"
	"github.com/telebroad/cloudstorage/metrics"
)

// ErrInsufficientStorage is returned when a declared size exceeds the free space of the storage root
var ErrInsufficientStorage = errors.New("transfer: insufficient storage")

// Handler receives the files of one connection
type Handler struct {
	Name   string // User#<n>, assigned by the server
	fs     filesystem.FS
	logger *slog.Logger
}

// NewHandler returns a handler that stores files below the root of fs
func NewHandler(name string, fs filesystem.FS, logger *slog.Logger) *Handler {
	return &Handler{
		Name:   name,
		fs:     fs,
		logger: logger.With("user", name),
	}
}

// Serve reads headers and bodies from r until the stream ends, ctx is cancelled or a read fails.
// Every stored file is acknowledged on w. A file that cannot be stored is logged and skipped
// without an acknowledgement. A clean end of stream between files returns nil.
func (h *Handler) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	for ctx.Err() == nil {
		header, err := ReadHeader(r)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error reading header: %w", err)
		}

		s := newSession(header, h.logger)
		s.logger.Debug("Receiving file", "size", header.Size)

		start := time.Now()
		err = h.receive(ctx, s, r)
		metrics.RecordUpload(s.Written, err == nil, time.Since(start))
		if errors.Is(err, errFileFailed) {
			s.logger.Error("File not stored", "error", err)
			continue
		}
		if err != nil {
			return err
		}

		if err := WriteString(w, Ack(s.Name)); err != nil {
			return err
		}
		s.logger.Info("File received", "size", s.Written)
	}
	return ctx.Err()
}

func (h *Handler) receive(ctx context.Context, s *Session, r io.Reader) error {
	if err := h.checkStorage(s.Size); err != nil {
		return h.discard(ctx, s, r, err)
	}

	file, err := h.fs.Create(s.Name)
	if err != nil {
		return h.discard(ctx, s, r, err)
	}

	err = s.Receive(ctx, r, file)
	if closeErr := file.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("%w: error closing file: %w", errFileFailed, closeErr)
	}
	return err
}

// discard drains the body of a file that cannot be stored and returns cause marked as a file failure
func (h *Handler) discard(ctx context.Context, s *Session, r io.Reader, cause error) error {
	if err := s.Discard(ctx, r); err != nil {
		return err
	}
	return fmt.Errorf("%w: %w", errFileFailed, cause)
}

// checkStorage compares size with the free space of the root.
// Platforms without a capacity query accept every size.
func (h *Handler) checkStorage(size int64) error {
	if size <= 0 {
		return nil
	}
	stat, err := h.fs.StatFS(h.fs.RootDir())
	if errors.Is(err, filesystem.ErrStatFSUnsupported) {
		return nil
	}
	if err != nil {
		h.logger.Warn("Error reading free space", "error", err)
		return nil
	}
	if free := stat.FreeSpace(); uint64(size) > free {
		return fmt.Errorf("%w: %d bytes declared, %d bytes free", ErrInsufficientStorage, size, free)
	}
	return nil
}
