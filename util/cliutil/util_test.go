package cliutil

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
)

func TestSetupDatabaseSqlite(t *testing.T) {
	dir := t.TempDir()

	db, err := SetupDatabase("sqlite://"+filepath.Join(dir, "sub", "arbor.sqlite"), 4)
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	defer sqldb.Close()

	assert.Equal(t, 1, sqldb.Stats().MaxOpenConnections)
	_, err = os.Stat(filepath.Join(dir, "sub"))
	assert.NoError(t, err)
}

func TestSetupDatabaseRejectsUnknown(t *testing.T) {
	_, err := SetupDatabase("mysql://root@localhost/arbor", 4)
	assert.ErrorContains(t, err, `"mysql"`)
}

func TestSetupSlog(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	path := filepath.Join(t.TempDir(), "arbor.log")
	logger, err := SetupSlog(LogOptions{LogPath: path, LogFormat: "json", LogLevel: "debug"})
	require.NoError(t, err)
	logger.Debug("hello", "k", 1)

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"msg":"hello"`)

	_, err = SetupSlog(LogOptions{LogLevel: "loud"})
	assert.Error(t, err)
	_, err = SetupSlog(LogOptions{LogFormat: "xml"})
	assert.Error(t, err)
}

func TestSetupTracing(t *testing.T) {
	ctx := context.Background()
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	shutdown, err := SetupTracing(ctx, "arbor", "")
	require.NoError(t, err)
	assert.NoError(t, shutdown(ctx))
	assert.Equal(t, prev, otel.GetTracerProvider())

	shutdown, err = SetupTracing(ctx, "arbor", "http://localhost:4318")
	require.NoError(t, err)
	_, ok := otel.GetTracerProvider().(*tracesdk.TracerProvider)
	assert.True(t, ok)
	// nothing was recorded, so shutdown has nothing to send
	assert.NoError(t, shutdown(ctx))
}
