package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnexpectedAck is returned by Send when the receiver answers with something other than an acknowledgement
var ErrUnexpectedAck = errors.New("transfer: unexpected acknowledgement")

// Send writes the header and size bytes of r in ChunkSize chunks to rw, then waits for the acknowledgement.
// ctx is checked between chunks.
func Send(ctx context.Context, rw io.ReadWriter, name string, r io.Reader, size int64) (string, error) {
	header := Header{Name: name, Size: size}
	if err := WriteHeader(rw, header); err != nil {
		return "", err
	}

	buf := make([]byte, ChunkSize)
	remaining := size
	for i := int64(0); i < header.Chunks(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n := int64(ChunkSize)
		if remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(r, buf[:n]); err != nil {
			return "", fmt.Errorf("error reading %s: %w", name, noEOF(err))
		}
		if _, err := rw.Write(buf[:n]); err != nil {
			return "", fmt.Errorf("error sending %s: %w", name, err)
		}
		remaining -= n
	}

	ack, err := ReadString(rw)
	if err != nil {
		return "", fmt.Errorf("error reading acknowledgement: %w", noEOF(err))
	}
	if !strings.HasPrefix(ack, AckPrefix) {
		return ack, fmt.Errorf("%w: %q", ErrUnexpectedAck, ack)
	}
	return ack, nil
}

// SendFile uploads the file at path to the transfer server at addr under its base name
// and returns the acknowledgement. Cancelling ctx closes the connection.
func SendFile(ctx context.Context, addr, path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", fmt.Errorf("error getting file info: %w", err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("error sending %s: is a directory", path)
	}

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("error connecting to %s: %w", addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	ack, err := Send(ctx, conn, filepath.Base(path), file, info.Size())
	if err != nil && ctx.Err() != nil {
		return "", ctx.Err()
	}
	return ack, err
}
