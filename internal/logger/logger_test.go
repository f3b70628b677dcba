package logger

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func capture(t *testing.T, fn func()) (stdout string, stderr string) {
	origOut, origErr := os.Stdout, os.Stderr
	defer func() { os.Stdout, os.Stderr = origOut, origErr }()

	rOut, wOut, err := os.Pipe()
	require.NoError(t, err, "failed to create stdout pipe")
	rErr, wErr, err := os.Pipe()
	require.NoError(t, err, "failed to create stderr pipe")

	os.Stdout, os.Stderr = wOut, wErr

	fn()

	require.NoError(t, wOut.Close(), "failed to close stdout pipe")
	require.NoError(t, wErr.Close(), "failed to close stderr pipe")

	outBytes, err := io.ReadAll(rOut)
	require.NoError(t, err, "failed to read stdout pipe")
	errBytes, err := io.ReadAll(rErr)
	require.NoError(t, err, "failed to read stderr pipe")

	return string(outBytes), string(errBytes)
}

// Decode JSON log entries, one per line
func entries(t *testing.T, out string) []map[string]any {
	t.Helper()

	var result []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoErrorf(t, json.Unmarshal([]byte(line), &entry), "not a json line: %s", line)
		result = append(result, entry)
	}
	return result
}

func TestLogger_parseLevel(t *testing.T) {
	for input, expected := range map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"debug": slog.LevelDebug,
		"Info":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"ERROR": slog.LevelError,
	} {
		got, err := parseLevel(input)

		require.NoError(t, err, input)
		require.Equal(t, expected, got, input)
	}

	for _, input := range []string{"", "verbose", "warning"} {
		_, err := parseLevel(input)
		require.Errorf(t, err, "level %q should be rejected", input)
	}
}

func TestLogger_New(t *testing.T) {
	t.Run("production writes json", func(t *testing.T) {
		stdout, stderr := capture(t, func() {
			logger, err := New(EnvProduction, LevelInfo)
			require.NoError(t, err)

			logger.With("component", "auth").Info("account registered", "account_id", "0197e5a4")
		})

		require.Empty(t, stdout, "logs go to stderr only")
		got := entries(t, stderr)
		require.Len(t, got, 1)
		require.Equal(t, "account registered", got[0]["msg"])
		require.Equal(t, "INFO", got[0]["level"])
		require.Equal(t, "auth", got[0]["component"])
		require.Equal(t, "0197e5a4", got[0]["account_id"])

		source, ok := got[0]["source"].(map[string]any)
		require.True(t, ok, "source should be added")
		require.Equal(t, "logger_test.go", source["file"], "source should point to the caller without directory")
	})

	t.Run("development writes text", func(t *testing.T) {
		_, stderr := capture(t, func() {
			logger, err := New(EnvDevelopment, LevelDebug)
			require.NoError(t, err)

			logger.Debug("code issued", "purpose", "email_verification")
		})

		require.Contains(t, stderr, "level=DEBUG")
		require.Contains(t, stderr, "purpose=email_verification")
		require.Contains(t, stderr, "source=logger_test.go:")
	})

	t.Run("unknown level", func(t *testing.T) {
		_, err := New(EnvProduction, "verbose")
		require.Error(t, err)
	})
}

func TestLogger_Redacts(t *testing.T) {
	_, stderr := capture(t, func() {
		logger, err := NewJSONLogger(LevelDebug)
		require.NoError(t, err)

		logger.Info("sensitive",
			"password", "StrongEnough",
			"code", "123456",
			"refresh_token", "eyJhbGciOi",
			"API_KEY", "xkeysib-123",
			"email", "gopher@example.com",
		)
		logger.WithGroup("brevo").Warn("request failed", "token", "abc")
	})

	got := entries(t, stderr)
	require.Len(t, got, 2)

	require.Equal(t, "[REDACTED]", got[0]["password"])
	require.Equal(t, "[REDACTED]", got[0]["code"])
	require.Equal(t, "[REDACTED]", got[0]["refresh_token"])
	require.Equal(t, "[REDACTED]", got[0]["API_KEY"])
	require.Equal(t, "gopher@example.com", got[0]["email"], "not sensitive attributes are kept")

	require.Equal(t, map[string]any{"token": "[REDACTED]"}, got[1]["brevo"], "grouped attributes are redacted too")

	for _, secret := range []string{"StrongEnough", "123456", "eyJhbGciOi", "xkeysib-123"} {
		require.NotContains(t, stderr, secret)
	}
}

func TestLogger_NewNoOpLogger(t *testing.T) {
	stdout, stderr := capture(t, func() {
		logger := NewNoOpLogger()
		logger.Debug("debug message")
		logger.Info("info message")
		logger.Warn("warn message")
		logger.Error("error message")
		logger.With("component", "sweeper").WithGroup("purge").Error("error message")
	})

	require.Empty(t, stdout, "NoOp logger should not write to stdout")
	require.Empty(t, stderr, "NoOp logger should not write to stderr")
}

func TestLogger_Levels(t *testing.T) {
	logAll := func(l Logger) {
		l.Debug("debug")
		l.Info("info")
		l.Warn("warn")
		l.Error("error")
	}

	tests := []struct {
		level    string
		expected []string
	}{
		{LevelDebug, []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{LevelInfo, []string{"INFO", "WARN", "ERROR"}},
		{LevelWarn, []string{"WARN", "ERROR"}},
		{LevelError, []string{"ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			_, stderr := capture(t, func() {
				logger, err := NewJSONLogger(tt.level)
				require.NoError(t, err)

				logAll(logger)
			})

			var levels []string
			for _, e := range entries(t, stderr) {
				levels = append(levels, e["level"].(string))
			}
			require.Equal(t, tt.expected, levels)
		})
	}
}

func TestLogger_With(t *testing.T) {
	_, stderr := capture(t, func() {
		logger, err := NewTextLogger(LevelInfo)
		require.NoError(t, err)

		logger.With("component", "notify").WithGroup("mail").Info("message sent", "subject", "Verify")
	})

	require.Contains(t, stderr, "component=notify")
	require.Contains(t, stderr, "mail.subject=Verify")
	require.Contains(t, stderr, "message sent")
}
