package tools

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsPrintable(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "ls", "ls"},
		{"keeps spaces", "cd docs", "cd docs"},
		{"drops controls", "ls\n\rcat", "lscat"},
		{"drops invalid utf8", "a\xffb", "ab"},
		{"keeps unicode letters", "файл.txt", "файл.txt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPrintable(tt.in))
			assert.Equal(t, tt.want, IsPrintable([]byte(tt.in)))
		})
	}
}

func TestLogWriter(t *testing.T) {
	var logs, out bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	w := NewLogWriter(&out, logger)
	n, err := w.Write([]byte("server/\n\r"))
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "server/\n\r", out.String())
	assert.Contains(t, logs.String(), "Respond")
	assert.Contains(t, logs.String(), "server/")
}

func TestLogReader(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	got, err := io.ReadAll(NewLogReader(strings.NewReader("abc"), logger))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	assert.Contains(t, logs.String(), "bytes=3")

	got, err = io.ReadAll(NewLogReader(strings.NewReader("abc"), nil))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}
