package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
)

// errFileFailed marks a failure of the destination file.
// The body has been drained when it is returned, so the connection can read the next header.
var errFileFailed = errors.New("file not stored")

// Session is one file being received
type Session struct {
	ID      uuid.UUID // correlates the log lines of one upload
	Name    string
	Size    int64
	Written int64

	logger *slog.Logger
}

func newSession(h Header, logger *slog.Logger) *Session {
	id := uuid.New()
	return &Session{
		ID:     id,
		Name:   h.Name,
		Size:   h.Size,
		logger: logger.With("upload", id.String(), "file", h.Name),
	}
}

// Receive copies the declared body from r to w chunk by chunk.
// Each chunk is read in full before it is written. When a write fails the rest of the body
// is still read and discarded, and the write error is returned wrapped with errFileFailed.
// Read errors and cancellation of ctx are returned as they are.
func (s *Session) Receive(ctx context.Context, r io.Reader, w io.Writer) error {
	header := Header{Name: s.Name, Size: s.Size}
	buf := make([]byte, ChunkSize)
	remaining := s.Size

	var writeErr error
	for i := int64(0); i < header.Chunks(); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		n := int64(ChunkSize)
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return fmt.Errorf("error reading body of %s: %w", s.Name, noEOF(err))
		}
		remaining -= n

		if writeErr != nil {
			continue
		}
		written, err := w.Write(buf[:n])
		s.Written += int64(written)
		if err != nil {
			writeErr = err
			s.logger.Error("Error writing file, discarding the rest of the body", "written", s.Written, "error", err)
		}
	}

	if writeErr != nil {
		return fmt.Errorf("%w: %w", errFileFailed, writeErr)
	}
	return nil
}

// Discard reads and drops the declared body, Written stays zero
func (s *Session) Discard(ctx context.Context, r io.Reader) error {
	err := s.Receive(ctx, r, io.Discard)
	s.Written = 0
	return err
}
