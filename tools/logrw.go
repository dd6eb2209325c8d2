package tools

import (
	"io"
	"log/slog"
)

// LogWriter is an io.Writer that logs every write at debug level before passing it on.
type LogWriter struct {
	Writer io.Writer
	logger *slog.Logger
}

func (rw *LogWriter) Write(b []byte) (int, error) {
	if rw.logger != nil && len(b) > 0 {
		rw.logger.Debug("Respond", "body", IsPrintable(b))
	}
	return rw.Writer.Write(b)
}

// NewLogWriter wraps w, a nil logger disables logging
func NewLogWriter(w io.Writer, logger *slog.Logger) *LogWriter {
	return &LogWriter{Writer: w, logger: logger}
}

// LogReader is an io.Reader that logs how many bytes every read returned.
// Payloads are not logged because they are usually binary.
type LogReader struct {
	Reader io.Reader
	logger *slog.Logger
}

func (rw *LogReader) Read(b []byte) (int, error) {
	n, err := rw.Reader.Read(b)
	if rw.logger != nil && n > 0 { // Log only if n > 0 to avoid logging empty reads
		rw.logger.Debug("Request", "bytes", n)
	}
	return n, err
}

// NewLogReader wraps r, a nil logger disables logging
func NewLogReader(r io.Reader, logger *slog.Logger) *LogReader {
	return &LogReader{Reader: r, logger: logger}
}
